// Package bot evaluates tenant chatbots against inbound messages and sends
// their automated replies.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/session"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/store"
)

// Store is the chatbot data the evaluator needs.
type Store interface {
	ActiveChatbots(ctx context.Context, tenantID string) ([]store.Chatbot, error)
	AssignChatbot(ctx context.Context, conversationID, chatbotID string) error
}

// Evaluator picks the first active chatbot whose trigger matches an inbound
// message and replies with its welcome message.
type Evaluator struct {
	store Store
	log   *slog.Logger
}

var _ session.Evaluator = (*Evaluator)(nil)

// NewEvaluator creates a chatbot evaluator.
func NewEvaluator(s Store, log *slog.Logger) *Evaluator {
	if log == nil {
		log = slog.Default()
	}
	return &Evaluator{store: s, log: log.With("component", "bot")}
}

// Evaluate implements session.Evaluator. Group messages are ignored.
func (e *Evaluator) Evaluate(ctx context.Context, in session.Inbound, conv session.ConversationContext, sender session.Sender) error {
	if in.IsGroup {
		return nil
	}

	bots, err := e.store.ActiveChatbots(ctx, conv.TenantID)
	if err != nil {
		return fmt.Errorf("failed to load chatbots: %w", err)
	}

	bot := Match(bots, conv.InstanceID, in.Body, conv.IsNew)
	if bot == nil {
		return nil
	}
	log := e.log.With("session", in.Identity.String(), "chatbot", bot.ID, "trigger", bot.TriggerType)

	if err := e.store.AssignChatbot(ctx, conv.ConversationID, bot.ID); err != nil {
		log.Warn("failed to assign chatbot to conversation", "error", err)
	}
	if bot.WelcomeMessage == "" {
		log.Debug("chatbot matched without a reply")
		return nil
	}

	req := session.SendRequest{To: conv.ContactAddress, Content: bot.WelcomeMessage, FromBot: true}
	if _, err := sender.Send(ctx, in.Identity, req); err != nil {
		return fmt.Errorf("failed to send chatbot reply: %w", err)
	}
	log.Info("chatbot replied")
	return nil
}

// Match returns the first bot, in the given order, whose trigger fires for
// body. Bots bound to another instance are skipped. Welcome bots only fire
// on the first message of a conversation; time-based bots never match here.
func Match(bots []store.Chatbot, instanceID, body string, isNew bool) *store.Chatbot {
	content := strings.ToLower(strings.TrimSpace(body))

	for i := range bots {
		b := &bots[i]
		if !b.IsActive {
			continue
		}
		if b.InstanceID != "" && b.InstanceID != instanceID {
			continue
		}

		value := strings.ToLower(strings.TrimSpace(b.TriggerValue))
		switch b.TriggerType {
		case store.TriggerKeyword:
			if value != "" && strings.Contains(content, value) {
				return b
			}
		case store.TriggerExactMessage:
			if content == value {
				return b
			}
		case store.TriggerWelcome:
			if isNew {
				return b
			}
		}
	}
	return nil
}
