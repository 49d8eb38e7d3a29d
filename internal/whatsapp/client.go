package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/device"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/state"
)

// Common errors
var (
	ErrNotConnected     = errors.New("not connected to WhatsApp")
	ErrInvalidRecipient = errors.New("invalid recipient")
	ErrClosed           = errors.New("session closed")
)

// Session is one connected whatsmeow client. It implements device.Handle.
type Session struct {
	id        device.Identity
	client    *whatsmeow.Client
	container *sqlstore.Container
	sink      device.Sink
	log       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

var _ device.Handle = (*Session)(nil)

func newSession(id device.Identity, client *whatsmeow.Client, container *sqlstore.Container, sink device.Sink, log *slog.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:        id,
		client:    client,
		container: container,
		sink:      sink,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *Session) emit(evt device.Event) {
	if s.closed.Load() {
		return
	}
	s.sink.Emit(evt)
}

// handleEvent processes events from whatsmeow.
func (s *Session) handleEvent(raw interface{}) {
	s.log.Debug("WhatsApp event", "type", fmt.Sprintf("%T", raw))

	if msg, ok := raw.(*events.Message); ok {
		if p, ok := messagePayload(msg); ok {
			s.emit(device.NewEvent(device.EventMessage, p))
		}
		return
	}
	if evt, ok := mapEvent(raw); ok {
		s.emit(evt)
	}
}

// watchQR forwards pairing codes until the QR channel closes. Only the
// current code of each rotation is sent.
func (s *Session) watchQR(qrChan <-chan whatsmeow.QRChannelItem, render func(string) (string, error)) {
	defer s.wg.Done()

	s.emit(statusEvent(state.RawNotLogged))
	attempt := 0
	for item := range qrChan {
		if item.Event != qrEventCode {
			if item.Error != nil {
				s.log.Warn("QR pairing failed", "event", item.Event, "error", item.Error)
			}
			s.emit(mapQREvent(item.Event))
			continue
		}

		attempt++
		data, err := render(item.Code)
		if err != nil {
			s.log.Error("failed to render QR code", "error", err)
			continue
		}
		s.emit(device.NewEvent(device.EventQRCode, device.QRCodePayload{Data: data, Attempt: attempt}))
	}
}

// IsConnected reports whether the client is connected and logged in.
func (s *Session) IsConnected() bool {
	return !s.closed.Load() && s.client.IsConnected() && s.client.IsLoggedIn()
}

// Phone returns the number of the linked account.
func (s *Session) Phone() string {
	if s.client.Store == nil || s.client.Store.ID == nil {
		return ""
	}
	return s.client.Store.ID.User
}

// Close disconnects and releases the device store. Stored credentials are
// kept.
func (s *Session) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.client.Disconnect()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("QR watcher still running at close")
	}

	if err := s.container.Close(); err != nil {
		return fmt.Errorf("failed to close device store: %w", err)
	}
	return nil
}

// release tears down a session that never finished connecting.
func (s *Session) release() {
	s.closed.Store(true)
	s.cancel()
	s.client.Disconnect()
	s.container.Close()
}

func (s *Session) ready() error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !s.client.IsConnected() || !s.client.IsLoggedIn() {
		return ErrNotConnected
	}
	return nil
}

// SendText sends a text message.
func (s *Session) SendText(ctx context.Context, to, text string) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	recipient, err := parseRecipient(to)
	if err != nil {
		return "", err
	}

	resp, err := s.client.SendMessage(ctx, recipient, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	return resp.ID, nil
}

// SendMedia uploads a local file and sends it with an optional caption.
func (s *Session) SendMedia(ctx context.Context, to string, media device.Media) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	recipient, err := parseRecipient(to)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(media.Path)
	if err != nil {
		return "", fmt.Errorf("failed to read media file: %w", err)
	}
	mimeType := http.DetectContentType(data)

	uploaded, err := s.client.Upload(ctx, data, mediaKind(media.Type))
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", media.Type, err)
	}

	msg := buildMediaMessage(media, uploaded, mimeType, uint64(len(data)))
	resp, err := s.client.SendMessage(ctx, recipient, msg)
	if err != nil {
		return "", fmt.Errorf("failed to send %s: %w", media.Type, err)
	}
	return resp.ID, nil
}

// SendTyping sets or clears the composing indicator.
func (s *Session) SendTyping(ctx context.Context, to string, typing bool) error {
	if err := s.ready(); err != nil {
		return err
	}
	chat, err := parseRecipient(to)
	if err != nil {
		return err
	}

	presence := types.ChatPresencePaused
	if typing {
		presence = types.ChatPresenceComposing
	}
	return s.client.SendChatPresence(ctx, chat, presence, types.ChatPresenceMediaText)
}

// MarkSeen sends a read receipt for one message.
func (s *Session) MarkSeen(ctx context.Context, chat, messageID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	chatJID, err := parseRecipient(chat)
	if err != nil {
		return err
	}
	return s.client.MarkRead(ctx, []types.MessageID{messageID}, time.Now(), chatJID, types.EmptyJID)
}

// parseRecipient converts a chat address to a JID. User addresses may use
// the @c.us suffix, a full JID or a bare phone number.
func parseRecipient(addr string) (types.JID, error) {
	addr = strings.TrimSpace(addr)
	if strings.HasSuffix(addr, "@"+types.GroupServer) {
		jid, err := types.ParseJID(addr)
		if err != nil {
			return types.EmptyJID, fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
		}
		return jid, nil
	}
	if i := strings.IndexByte(addr, '@'); i >= 0 {
		addr = addr[:i]
	}

	var b strings.Builder
	for _, r := range addr {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return types.EmptyJID, fmt.Errorf("%w: %q", ErrInvalidRecipient, addr)
	}
	return types.NewJID(b.String(), types.DefaultUserServer), nil
}

func mediaKind(t device.MessageType) whatsmeow.MediaType {
	switch t {
	case device.MessageImage, device.MessageSticker:
		return whatsmeow.MediaImage
	case device.MessageVideo:
		return whatsmeow.MediaVideo
	case device.MessageAudio:
		return whatsmeow.MediaAudio
	default:
		return whatsmeow.MediaDocument
	}
}

func buildMediaMessage(media device.Media, up whatsmeow.UploadResponse, mimeType string, size uint64) *waE2E.Message {
	switch media.Type {
	case device.MessageImage:
		if !strings.HasPrefix(mimeType, "image/") {
			mimeType = "image/jpeg"
		}
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(media.Caption),
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(size),
		}}
	case device.MessageVideo:
		if !strings.HasPrefix(mimeType, "video/") {
			mimeType = "video/mp4"
		}
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       proto.String(media.Caption),
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(size),
		}}
	case device.MessageAudio:
		if !strings.HasPrefix(mimeType, "audio/") {
			mimeType = "audio/ogg; codecs=opus"
		}
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(size),
		}}
	case device.MessageSticker:
		return &waE2E.Message{StickerMessage: &waE2E.StickerMessage{
			Mimetype:      proto.String("image/webp"),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(size),
		}}
	default:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			FileName:      proto.String(filepath.Base(media.Path)),
			Title:         proto.String(media.Caption),
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(size),
		}}
	}
}

// slogAdapter adapts slog.Logger to whatsmeow's log interface.
type slogAdapter struct {
	log *slog.Logger
}

func (s *slogAdapter) Debugf(msg string, args ...interface{}) {
	s.log.Debug(fmt.Sprintf(msg, args...))
}

func (s *slogAdapter) Infof(msg string, args ...interface{}) {
	s.log.Info(fmt.Sprintf(msg, args...))
}

func (s *slogAdapter) Warnf(msg string, args ...interface{}) {
	s.log.Warn(fmt.Sprintf(msg, args...))
}

func (s *slogAdapter) Errorf(msg string, args ...interface{}) {
	s.log.Error(fmt.Sprintf(msg, args...))
}

func (s *slogAdapter) Sub(module string) waLog.Logger {
	return &slogAdapter{log: s.log.With("module", module)}
}

var _ waLog.Logger = (*slogAdapter)(nil)
