package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/device"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/state"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/store"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "5511999990000", want: "5511999990000@c.us"},
		{in: "+55 (11) 99999-0000", want: "5511999990000@c.us"},
		{in: "5511999990000@c.us", want: "5511999990000@c.us"},
		{in: "5511999990000@s.whatsapp.net", want: "5511999990000@c.us"},
		{in: "120363025@g.us", want: "120363025@g.us"},
		{in: "  ", wantErr: true},
		{in: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Normalize(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSend_RequiresConnectedSession(t *testing.T) {
	h := newHarness(t)

	_, err := h.c.Send(context.Background(), testID, SendRequest{To: "5511", Content: "hi"})
	assert.ErrorIs(t, err, ErrSessionNotConnected)

	// Live handle but not yet logged in.
	h.ensure(t, testID)
	require.NoError(t, h.c.CreateSession(context.Background(), testID, CreateOptions{}))
	_, err = h.c.Send(context.Background(), testID, SendRequest{To: "5511", Content: "hi"})
	assert.ErrorIs(t, err, ErrSessionNotConnected)
	assert.Empty(t, h.provider.Last(testID).Sent())
}

func TestSend_AfterDestroyFails(t *testing.T) {
	h := newHarness(t)
	fh := h.connect(t, testID)
	require.NoError(t, h.c.DestroySession(context.Background(), testID))

	_, err := h.c.Send(context.Background(), testID, SendRequest{To: "5511", Content: "hi"})
	assert.ErrorIs(t, err, ErrSessionNotConnected)
	assert.Empty(t, fh.Sent())
}

func TestSend_Text(t *testing.T) {
	h := newHarness(t)
	fh := h.connect(t, testID)

	receipt, err := h.c.Send(context.Background(), testID, SendRequest{To: "+55 11 98888-0000", Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", receipt.MessageID)
	assert.Equal(t, "5511988880000@c.us", receipt.To)
	require.NotEmpty(t, receipt.ConversationID)

	sent := fh.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "5511988880000@c.us", sent[0].To)
	assert.Equal(t, "hello", sent[0].Content)

	msgs, err := h.store.Messages.ListByConversation(context.Background(), receipt.ConversationID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, store.DirectionOutbound, msgs[0].Direction)
	assert.Equal(t, "msg-1", msgs[0].ExternalID)
	assert.False(t, msgs[0].FromBot)
}

func TestSend_Media(t *testing.T) {
	h := newHarness(t)
	fh := h.connect(t, testID)

	path := filepath.Join(t.TempDir(), "photo.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg"), 0o600))

	_, err := h.c.Send(context.Background(), testID, SendRequest{
		To: "5511988880000", Type: device.MessageImage, MediaRef: path, Content: "look",
	})
	require.NoError(t, err)

	sent := fh.Sent()
	require.Len(t, sent, 1)
	require.NotNil(t, sent[0].Media)
	assert.Equal(t, path, sent[0].Media.Path)
	assert.Equal(t, "look", sent[0].Media.Caption)
}

func TestSend_Validation(t *testing.T) {
	h := newHarness(t)
	fh := h.connect(t, testID)

	tests := []struct {
		name string
		req  SendRequest
	}{
		{"empty text", SendRequest{To: "5511", Content: "  "}},
		{"bad address", SendRequest{To: "nobody", Content: "hi"}},
		{"unknown type", SendRequest{To: "5511", Content: "hi", Type: "hologram"}},
		{"media without ref", SendRequest{To: "5511", Type: device.MessageImage}},
		{"missing media file", SendRequest{To: "5511", Type: device.MessageDocument, MediaRef: "/does/not/exist.pdf"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.c.Send(context.Background(), testID, tt.req)
			assert.ErrorIs(t, err, ErrValidationFailure)
		})
	}
	assert.Empty(t, fh.Sent())
}

func TestSend_ProviderError(t *testing.T) {
	h := newHarness(t)
	fh := h.connect(t, testID)
	fh.FailSends(errors.New("socket closed"))

	_, err := h.c.Send(context.Background(), testID, SendRequest{To: "5511", Content: "hi"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionNotConnected)
}

func TestSendTypingAndMarkSeen(t *testing.T) {
	h := newHarness(t)
	fh := h.connect(t, testID)

	require.NoError(t, h.c.SendTyping(context.Background(), testID, "5511", true))
	require.NoError(t, h.c.MarkSeen(context.Background(), testID, "5511", "ABC"))
	assert.Equal(t, []string{"5511@c.us"}, fh.Typing())
	assert.Equal(t, []string{"5511@c.us/ABC"}, fh.Seen())

	err := h.c.MarkSeen(context.Background(), testID, "5511", "")
	assert.ErrorIs(t, err, ErrValidationFailure)

	other := device.Identity{TenantID: "t1", SessionName: "other"}
	err = h.c.SendTyping(context.Background(), other, "5511", true)
	assert.ErrorIs(t, err, ErrSessionNotConnected)
}

func TestReceive_PersistsAndNotifies(t *testing.T) {
	h := newHarness(t)
	h.connect(t, testID)

	msg := device.MessagePayload{
		ID: "in-1", From: "5511977770000@s.whatsapp.net", PushName: "Ana",
		Body: "oi", Timestamp: time.Now(),
	}
	require.NoError(t, h.provider.Message(testID, msg))

	require.Eventually(t, func() bool { return len(h.notes.messages()) == 1 }, time.Second, 5*time.Millisecond)
	note := h.notes.messages()[0]
	assert.Equal(t, "s1", note.SessionName)
	assert.Equal(t, "5511977770000@c.us", note.From)
	assert.Equal(t, "oi", note.Message.Content)
	assert.Equal(t, store.DirectionInbound, note.Message.Direction)

	conv, err := h.store.Conversations.GetByID(context.Background(), note.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", conv.ContactName)

	// No active chatbot: the evaluator is never consulted.
	assert.Empty(t, h.evaluator.Calls())
}

func TestReceive_ChatbotRepliesThroughSender(t *testing.T) {
	h := newHarness(t)
	h.evaluator.reply = "welcome!"
	fh := h.connect(t, testID)
	require.NoError(t, h.store.Chatbots.Create(context.Background(), &store.Chatbot{
		TenantID: "t1", Name: "greeter", IsActive: true, TriggerType: store.TriggerWelcome, WelcomeMessage: "welcome!",
	}))

	in := device.MessagePayload{ID: "in-1", From: "5511977770000", Body: "hello"}
	require.NoError(t, h.c.Receive(context.Background(), testID, in))
	in.ID = "in-2"
	require.NoError(t, h.c.Receive(context.Background(), testID, in))

	calls := h.evaluator.Calls()
	require.Len(t, calls, 2)
	assert.True(t, calls[0].Conv.IsNew)
	assert.False(t, calls[1].Conv.IsNew)
	assert.Equal(t, calls[0].Conv.ConversationID, calls[1].Conv.ConversationID)
	assert.Equal(t, device.MessageText, calls[0].In.Type)

	sent := fh.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "5511977770000@c.us", sent[0].To)

	msgs, err := h.store.Messages.ListByConversation(context.Background(), calls[0].Conv.ConversationID, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)

	var fromBot int
	for _, m := range msgs {
		if m.FromBot {
			fromBot++
		}
	}
	assert.Equal(t, 2, fromBot)
}

func TestReceive_HumanHandledSkipsChatbot(t *testing.T) {
	h := newHarness(t)
	h.connect(t, testID)
	require.NoError(t, h.store.Chatbots.Create(context.Background(), &store.Chatbot{
		TenantID: "t1", Name: "kw", IsActive: true, TriggerType: store.TriggerKeyword, TriggerValue: "price",
	}))

	inst := h.instance(t, testID)
	conv, _, err := h.store.FindOrCreateConversation(context.Background(), inst.ID, "5511977770000@c.us", "")
	require.NoError(t, err)
	require.NoError(t, h.store.Conversations.SetHumanHandled(context.Background(), conv.ID, true))

	require.NoError(t, h.c.Receive(context.Background(), testID, device.MessagePayload{From: "5511977770000", Body: "price?"}))
	assert.Empty(t, h.evaluator.Calls())
}

func TestReceive_UnknownInstance(t *testing.T) {
	h := newHarness(t)

	err := h.c.Receive(context.Background(), testID, device.MessagePayload{From: "5511", Body: "hi"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReceive_StillConnectedStateUnaffected(t *testing.T) {
	h := newHarness(t)
	h.connect(t, testID)

	require.NoError(t, h.c.Receive(context.Background(), testID, device.MessagePayload{From: "5511", Body: "hi"}))
	assert.Equal(t, state.StateConnected, h.instance(t, testID).Status)
}
