package whatsapp

import (
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/device"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/state"
)

// QR channel events.
const (
	qrEventCode    = "code"
	qrEventSuccess = "success"
	qrEventTimeout = "timeout"
)

// mapEvent translates a whatsmeow connection event into the raw status
// vocabulary. Message events are handled by messagePayload.
func mapEvent(evt interface{}) (device.Event, bool) {
	switch evt.(type) {
	case *events.Connected:
		return statusEvent(state.RawIsLogged), true
	case *events.PairError:
		return statusEvent(state.RawQRReadError), true
	case *events.LoggedOut:
		return statusEvent(state.RawDesconnectedMobile), true
	case *events.ConnectFailure, *events.ClientOutdated, *events.TemporaryBan:
		return statusEvent(state.RawServerClose), true
	case *events.StreamReplaced:
		return stateEvent(state.RawStateConflict), true
	case *events.Disconnected:
		return stateEvent(state.RawStateUnlaunched), true
	}
	return device.Event{}, false
}

// mapQREvent translates a QR channel event other than a new code.
func mapQREvent(event string) device.Event {
	switch event {
	case qrEventSuccess:
		return statusEvent(state.RawQRReadSuccess)
	case qrEventTimeout:
		return statusEvent(state.RawAutocloseCalled)
	default:
		return statusEvent(state.RawQRReadFail)
	}
}

func statusEvent(raw string) device.Event {
	return device.NewEvent(device.EventStatus, device.StatusPayload{Status: raw})
}

func stateEvent(raw string) device.Event {
	return device.NewEvent(device.EventStateChange, device.StateChangePayload{State: raw})
}

// messagePayload converts an inbound message. Messages sent by the account
// itself are skipped.
func messagePayload(evt *events.Message) (device.MessagePayload, bool) {
	if evt == nil || evt.Info.IsFromMe {
		return device.MessagePayload{}, false
	}
	msgType, hasMedia := messageType(evt.Message)

	ts := evt.Info.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return device.MessagePayload{
		ID:        evt.Info.ID,
		From:      chatAddress(evt.Info.Chat),
		PushName:  evt.Info.PushName,
		Body:      messageText(evt.Message),
		Type:      msgType,
		IsGroup:   evt.Info.IsGroup,
		HasMedia:  hasMedia,
		Timestamp: ts,
	}, true
}

// chatAddress renders a JID in the address form used by conversations.
func chatAddress(jid types.JID) string {
	if jid.Server == types.GroupServer {
		return jid.String()
	}
	return jid.User + "@c.us"
}

func messageType(msg *waE2E.Message) (device.MessageType, bool) {
	switch {
	case msg == nil:
		return device.MessageText, false
	case msg.GetImageMessage() != nil:
		return device.MessageImage, true
	case msg.GetVideoMessage() != nil:
		return device.MessageVideo, true
	case msg.GetAudioMessage() != nil:
		return device.MessageAudio, true
	case msg.GetDocumentMessage() != nil:
		return device.MessageDocument, true
	case msg.GetStickerMessage() != nil:
		return device.MessageSticker, true
	}
	return device.MessageText, false
}

// messageText pulls the plain-text content out of a message.
func messageText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if msg.Conversation != nil {
		return msg.GetConversation()
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		if t := doc.GetTitle(); t != "" {
			return t
		}
		return doc.GetFileName()
	}
	if msg.GetAudioMessage() != nil {
		return "[audio]"
	}
	if msg.GetStickerMessage() != nil {
		return "[sticker]"
	}
	if msg.GetLocationMessage() != nil {
		return "[location]"
	}
	if contact := msg.GetContactMessage(); contact != nil {
		return "[contact: " + contact.GetDisplayName() + "]"
	}
	return ""
}
