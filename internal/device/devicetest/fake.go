// Package devicetest provides an in-memory device provider for tests.
package devicetest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/device"
)

// SentMessage records one outbound send on a FakeHandle.
type SentMessage struct {
	To      string
	Content string
	Media   *device.Media
}

// FakeHandle implements device.Handle in memory.
type FakeHandle struct {
	mu         sync.Mutex
	id         device.Identity
	connected  bool
	phone      string
	sent       []SentMessage
	typing     []string
	seen       []string
	closed     bool
	closeCount int
	sendErr    error
}

var _ device.Handle = (*FakeHandle)(nil)

func (h *FakeHandle) SendText(_ context.Context, to, text string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sendErr != nil {
		return "", h.sendErr
	}
	h.sent = append(h.sent, SentMessage{To: to, Content: text})
	return fmt.Sprintf("msg-%d", len(h.sent)), nil
}

func (h *FakeHandle) SendMedia(_ context.Context, to string, media device.Media) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sendErr != nil {
		return "", h.sendErr
	}
	m := media
	h.sent = append(h.sent, SentMessage{To: to, Content: media.Caption, Media: &m})
	return fmt.Sprintf("msg-%d", len(h.sent)), nil
}

func (h *FakeHandle) SendTyping(_ context.Context, to string, typing bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if typing {
		h.typing = append(h.typing, to)
	}
	return nil
}

func (h *FakeHandle) MarkSeen(_ context.Context, chat, messageID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, chat+"/"+messageID)
	return nil
}

func (h *FakeHandle) IsConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected && !h.closed
}

func (h *FakeHandle) Phone() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.phone
}

func (h *FakeHandle) Close(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.connected = false
	h.closeCount++
	return nil
}

// ID returns the identity the handle was created for.
func (h *FakeHandle) ID() device.Identity {
	return h.id
}

// SetConnected sets what IsConnected reports.
func (h *FakeHandle) SetConnected(v bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = v
}

// SetPhone sets the phone number reported by Phone.
func (h *FakeHandle) SetPhone(p string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.phone = p
}

// FailSends makes every subsequent send return err.
func (h *FakeHandle) FailSends(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sendErr = err
}

// Sent returns a copy of all recorded sends.
func (h *FakeHandle) Sent() []SentMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]SentMessage, len(h.sent))
	copy(out, h.sent)
	return out
}

// Typing returns the destinations that received a typing indicator.
func (h *FakeHandle) Typing() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.typing...)
}

// Seen returns "chat/messageID" entries marked as seen.
func (h *FakeHandle) Seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.seen...)
}

// Closed reports whether Close has been called.
func (h *FakeHandle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// CloseCount returns how many times Close was called.
func (h *FakeHandle) CloseCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closeCount
}

// Provider implements device.Provider in memory. Every Create returns a new
// FakeHandle and remembers the sink so tests can push events.
type Provider struct {
	mu        sync.Mutex
	createErr error
	handles   map[device.Identity][]*FakeHandle
	sinks     map[device.Identity]device.Sink
	purged    []device.Identity
	creates   int
}

var _ device.Provider = (*Provider)(nil)

// NewProvider creates an empty fake provider.
func NewProvider() *Provider {
	return &Provider{
		handles: make(map[device.Identity][]*FakeHandle),
		sinks:   make(map[device.Identity]device.Sink),
	}
}

func (p *Provider) Create(ctx context.Context, id device.Identity, sink device.Sink) (device.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.creates++
	if p.createErr != nil {
		return nil, p.createErr
	}
	h := &FakeHandle{id: id}
	p.handles[id] = append(p.handles[id], h)
	p.sinks[id] = sink
	return h, nil
}

func (p *Provider) Purge(id device.Identity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.purged = append(p.purged, id)
	return nil
}

// FailCreates makes every subsequent Create return err. Pass nil to recover.
func (p *Provider) FailCreates(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createErr = err
}

// Creates returns the number of Create calls, failed ones included.
func (p *Provider) Creates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creates
}

// Handles returns every handle created for id, oldest first.
func (p *Provider) Handles(id device.Identity) []*FakeHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*FakeHandle(nil), p.handles[id]...)
}

// Last returns the most recent handle for id, or nil.
func (p *Provider) Last(id device.Identity) *FakeHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	hs := p.handles[id]
	if len(hs) == 0 {
		return nil
	}
	return hs[len(hs)-1]
}

// Purged returns the identities passed to Purge.
func (p *Provider) Purged() []device.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]device.Identity(nil), p.purged...)
}

// Emit pushes evt to the latest sink registered for id.
func (p *Provider) Emit(id device.Identity, evt device.Event) error {
	p.mu.Lock()
	sink := p.sinks[id]
	p.mu.Unlock()
	if sink == nil {
		return errors.New("no session created for " + id.String())
	}
	sink.Emit(evt)
	return nil
}

// Status is shorthand for emitting a raw status code.
func (p *Provider) Status(id device.Identity, raw string) error {
	return p.Emit(id, device.NewEvent(device.EventStatus, device.StatusPayload{Status: raw}))
}

// StateChange is shorthand for emitting a raw state-change code.
func (p *Provider) StateChange(id device.Identity, raw string) error {
	return p.Emit(id, device.NewEvent(device.EventStateChange, device.StateChangePayload{State: raw}))
}

// QR is shorthand for emitting a QR code.
func (p *Provider) QR(id device.Identity, data string, attempt int) error {
	return p.Emit(id, device.NewEvent(device.EventQRCode, device.QRCodePayload{Data: data, Attempt: attempt}))
}

// Message is shorthand for emitting an inbound message.
func (p *Provider) Message(id device.Identity, msg device.MessagePayload) error {
	return p.Emit(id, device.NewEvent(device.EventMessage, msg))
}
