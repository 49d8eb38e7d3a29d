package store

import (
	"context"
	"testing"
	"time"

	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *SQLiteStore {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func ensureInstance(t *testing.T, store *SQLiteStore, tenant, session string) *Instance {
	inst, err := store.Instances.Ensure(context.Background(), tenant, session)
	require.NoError(t, err)
	return inst
}

// Instance Repository Tests

func TestSQLiteInstanceRepo_EnsureIsIdempotent(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	first, err := store.Instances.Ensure(ctx, "t1", "s1")
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, state.StateInitializing, first.Status)

	second, err := store.Instances.Ensure(ctx, "t1", "s1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// Same session name under another tenant is a different instance
	other, err := store.Instances.Ensure(ctx, "t2", "s1")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestSQLiteInstanceRepo_GetNotFound(t *testing.T) {
	store := setupTestDB(t)

	_, err := store.GetInstance(context.Background(), "t1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteInstanceRepo_UpdateStatusQRLifecycle(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	inst := ensureInstance(t, store, "t1", "s1")

	issued := time.Now()
	err := store.UpdateInstanceStatus(ctx, inst.ID, InstanceUpdate{
		Status: state.StateAwaitingQRScan,
		QR:     &QRPayload{Data: "qr-1", IssuedAt: issued, Attempt: 1},
	})
	require.NoError(t, err)

	got, err := store.Instances.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StateAwaitingQRScan, got.Status)
	assert.Equal(t, "qr-1", got.QRCode)
	assert.Equal(t, 1, got.QRAttempt)
	require.NotNil(t, got.QRIssuedAt)

	// A status-only update keeps the QR
	err = store.UpdateInstanceStatus(ctx, inst.ID, InstanceUpdate{Status: state.StateAwaitingQRScan})
	require.NoError(t, err)
	got, _ = store.Instances.GetByID(ctx, inst.ID)
	assert.Equal(t, "qr-1", got.QRCode)

	err = store.UpdateInstanceStatus(ctx, inst.ID, InstanceUpdate{
		Status:  state.StateConnected,
		ClearQR: true,
		Phone:   "5215549681111",
	})
	require.NoError(t, err)

	got, _ = store.Instances.GetByID(ctx, inst.ID)
	assert.Equal(t, state.StateConnected, got.Status)
	assert.Empty(t, got.QRCode)
	assert.Nil(t, got.QRIssuedAt)
	assert.Equal(t, "5215549681111", got.Phone)
}

func TestSQLiteInstanceRepo_UpdateStatusMissing(t *testing.T) {
	store := setupTestDB(t)

	err := store.UpdateInstanceStatus(context.Background(), "nope", InstanceUpdate{Status: state.StateError})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteInstanceRepo_ClearExpiredQR(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	old := ensureInstance(t, store, "t1", "old")
	fresh := ensureInstance(t, store, "t1", "fresh")

	require.NoError(t, store.UpdateInstanceStatus(ctx, old.ID, InstanceUpdate{
		Status: state.StateAwaitingQRScan,
		QR:     &QRPayload{Data: "old", IssuedAt: time.Now().Add(-10 * time.Minute), Attempt: 1},
	}))
	require.NoError(t, store.UpdateInstanceStatus(ctx, fresh.ID, InstanceUpdate{
		Status: state.StateAwaitingQRScan,
		QR:     &QRPayload{Data: "fresh", IssuedAt: time.Now(), Attempt: 1},
	}))

	n, err := store.ClearExpiredQR(ctx, time.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, _ := store.Instances.GetByID(ctx, old.ID)
	assert.Empty(t, got.QRCode)
	got, _ = store.Instances.GetByID(ctx, fresh.ID)
	assert.Equal(t, "fresh", got.QRCode)
}

func TestSQLiteInstanceRepo_ListAndDeleteCascade(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	a := ensureInstance(t, store, "t1", "a")
	ensureInstance(t, store, "t1", "b")
	ensureInstance(t, store, "t2", "c")

	all, err := store.ListInstances(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	t1, err := store.Instances.List(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, t1, 2)

	conv, _, err := store.FindOrCreateConversation(ctx, a.ID, "123@c.us", "")
	require.NoError(t, err)
	require.NoError(t, store.SaveMessage(ctx, &Message{ConversationID: conv.ID, Content: "hi", Direction: DirectionInbound}))
	require.NoError(t, store.LogTransition(ctx, a.ID, state.StateInitializing, state.StateConnecting, "create"))

	require.NoError(t, store.DeleteInstance(ctx, a.ID))
	_, err = store.Conversations.GetByID(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	history, err := store.Transitions.History(ctx, a.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, history)

	assert.ErrorIs(t, store.DeleteInstance(ctx, a.ID), ErrNotFound)
}

// Conversation Repository Tests

func TestSQLiteConversationRepo_FindOrCreate(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	inst := ensureInstance(t, store, "t1", "s1")

	conv, created, err := store.FindOrCreateConversation(ctx, inst.ID, "5215549681111@c.us", "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, ConversationActive, conv.Status)
	assert.False(t, conv.HumanHandled)

	again, created, err := store.FindOrCreateConversation(ctx, inst.ID, "5215549681111@c.us", "Ana")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv.ID, again.ID)
	assert.Equal(t, "Ana", again.ContactName)

	// Empty name never overwrites a known one
	again, _, err = store.FindOrCreateConversation(ctx, inst.ID, "5215549681111@c.us", "")
	require.NoError(t, err)
	assert.Equal(t, "Ana", again.ContactName)
}

func TestSQLiteConversationRepo_HumanHandled(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	inst := ensureInstance(t, store, "t1", "s1")
	conv, _, err := store.FindOrCreateConversation(ctx, inst.ID, "1@c.us", "")
	require.NoError(t, err)

	require.NoError(t, store.Conversations.SetHumanHandled(ctx, conv.ID, true))
	got, err := store.Conversations.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, got.HumanHandled)

	assert.ErrorIs(t, store.Conversations.SetHumanHandled(ctx, "missing", true), ErrNotFound)

	list, err := store.Conversations.ListByInstance(ctx, inst.ID, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

// Message Repository Tests

func TestSQLiteMessageRepo_SaveAndList(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	inst := ensureInstance(t, store, "t1", "s1")
	conv, _, err := store.FindOrCreateConversation(ctx, inst.ID, "1@c.us", "")
	require.NoError(t, err)

	base := time.Now()
	for i, content := range []string{"one", "two", "three"} {
		msg := &Message{
			ConversationID: conv.ID,
			Content:        content,
			Direction:      DirectionInbound,
			Timestamp:      base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, store.SaveMessage(ctx, msg))
		assert.NotEmpty(t, msg.ID)
		assert.Equal(t, "text", msg.Type)
	}

	msgs, err := store.Messages.ListByConversation(ctx, conv.ID, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "three", msgs[0].Content)
	assert.Equal(t, "two", msgs[1].Content)

	count, err := store.Messages.Count(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestSQLiteMessageRepo_RequiresConversation(t *testing.T) {
	store := setupTestDB(t)

	err := store.SaveMessage(context.Background(), &Message{ConversationID: "ghost", Content: "x", Direction: DirectionOutbound})
	assert.Error(t, err)
}

// Chatbot Repository Tests

func TestSQLiteChatbotRepo_ActiveCount(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	inst := ensureInstance(t, store, "t1", "s1")

	count, err := store.ActiveChatbotCount(ctx, "t1")
	require.NoError(t, err)
	assert.Zero(t, count)

	bot := &Chatbot{TenantID: "t1", InstanceID: inst.ID, Name: "greeter", IsActive: true,
		TriggerType: TriggerWelcome, WelcomeMessage: "hello"}
	require.NoError(t, store.Chatbots.Create(ctx, bot))
	require.NoError(t, store.Chatbots.Create(ctx, &Chatbot{TenantID: "t1", InstanceID: inst.ID, Name: "off",
		IsActive: false, TriggerType: TriggerKeyword, TriggerValue: "price"}))

	count, err = store.ActiveChatbotCount(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	active, err := store.ActiveChatbots(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, bot.ID, active[0].ID)

	all, err := store.Chatbots.List(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, store.Chatbots.SetActive(ctx, bot.ID, false))
	count, _ = store.ActiveChatbotCount(ctx, "t1")
	assert.Zero(t, count)

	// Other tenants see nothing
	count, _ = store.ActiveChatbotCount(ctx, "t2")
	assert.Zero(t, count)
}

// Transition Repository Tests

func TestSQLiteTransitionRepo_LogHistoryPrune(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	inst := ensureInstance(t, store, "t1", "s1")

	require.NoError(t, store.LogTransition(ctx, inst.ID, state.StateInitializing, state.StateConnecting, "create"))
	require.NoError(t, store.LogTransition(ctx, inst.ID, state.StateConnecting, state.StateConnected, "logged_in"))

	history, err := store.Transitions.History(ctx, inst.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	// Most recent first
	assert.Equal(t, state.StateConnected, history[0].ToState)
	assert.Equal(t, "logged_in", history[0].Trigger)

	last, err := store.LastTransition(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, history[0].ID, last.ID)

	n, err := store.PruneTransitions(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = store.PruneTransitions(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = store.LastTransition(ctx, inst.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
