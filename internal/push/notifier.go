package push

import (
	"context"
	"errors"
	"log/slog"

	"github.com/codergangganesh/eduspace-sub001/internal/database"
	"github.com/codergangganesh/eduspace-sub001/internal/database/models"
)

// Notifier fans a wake-up push out to every device the callee has
// registered. It satisfies the orchestrator's notifier hook.
type Notifier struct {
	tokens database.PushTokenRepository
	sender Sender
	links  *LinkBuilder
	logger *slog.Logger
}

// NewNotifier wires a Notifier over the token store and a sender.
func NewNotifier(tokens database.PushTokenRepository, sender Sender, links *LinkBuilder, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		tokens: tokens,
		sender: sender,
		links:  links,
		logger: logger.With("subsystem", "push"),
	}
}

// NotifyIncomingCall pushes a data-only wake-up to each of the receiver's
// devices. Delivery is best-effort: failures are logged, invalid tokens
// are dropped from the store, and nothing is reported back to the caller.
func (n *Notifier) NotifyIncomingCall(ctx context.Context, sess *models.CallSession, callerName string) {
	tokens, err := n.tokens.GetByUserID(ctx, sess.ReceiverID)
	if err != nil {
		n.logger.Warn("loading push tokens failed",
			"call_id", sess.ID, "receiver_id", sess.ReceiverID, "error", err)
		return
	}
	if len(tokens) == 0 {
		n.logger.Debug("receiver has no registered devices",
			"call_id", sess.ID, "receiver_id", sess.ReceiverID)
		return
	}

	payload := Payload{
		Type:       "incoming_call",
		CallID:     sess.ID,
		CallerID:   sess.CallerID,
		CallerName: callerName,
		CallType:   sess.CallType,
		DeepLink:   n.links.IncomingCall(sess.ID, false),
	}

	sent := 0
	for _, tok := range tokens {
		if err := n.sender.Send(ctx, tok.Platform, tok.Token, payload); err != nil {
			if errors.Is(err, ErrTokenInvalid) {
				if derr := n.tokens.DeleteByToken(ctx, tok.Token); derr != nil {
					n.logger.Warn("dropping invalid push token failed", "error", derr)
				} else {
					n.logger.Info("invalid push token dropped",
						"receiver_id", sess.ReceiverID, "platform", tok.Platform)
				}
				continue
			}
			n.logger.Warn("push delivery failed",
				"call_id", sess.ID, "platform", tok.Platform, "error", err)
			continue
		}
		sent++
	}
	n.logger.Debug("wake-up pushes sent",
		"call_id", sess.ID, "receiver_id", sess.ReceiverID, "sent", sent, "devices", len(tokens))
}
