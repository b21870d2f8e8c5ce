package call

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/codergangganesh/eduspace-sub001/internal/database/models"
)

// Deep-link query parameters carried by wake-up push notifications.
const (
	paramSession = "session"
	paramAction  = "action"
	actionAccept = "accept"
)

// staleAfter bounds how old an unanswered session may be and still be
// worth resurrecting. Tapping a five-minute-old notification should not
// ring a long-gone call.
const staleAfter = 5 * time.Minute

// autoAcceptDelay gives the UI a beat to render the incoming-call surface
// before an action=accept link answers it.
const autoAcceptDelay = 300 * time.Millisecond

// Navigator abstracts the entry-point location so recovery can read and
// strip deep-link parameters without knowing the surface it runs in.
type Navigator interface {
	Location() *url.URL
	// Replace swaps the current location without adding a history entry,
	// so reload or back cannot re-trigger the deep link.
	Replace(*url.URL)
}

// RecoveryStore is the durable lookup recovery reads from.
type RecoveryStore interface {
	GetWithCaller(ctx context.Context, id string) (*models.CallSession, *models.Profile, error)
}

// Recovery rebuilds an incoming call from a deep link after a cold start.
// The push notification that woke the app carries ?session=ID; by the time
// the user tapped it the transient offer is long gone, so the durable
// record is the only source of truth.
type Recovery struct {
	manager *Manager
	store   RecoveryStore
	nav     Navigator
	logger  *slog.Logger
	now     func() time.Time

	// sleep is swapped in tests.
	sleep func(time.Duration)
}

// NewRecovery wires deep-link recovery to a manager. The manager must be
// started before Run is called.
func NewRecovery(m *Manager, store RecoveryStore, nav Navigator, logger *slog.Logger) *Recovery {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recovery{
		manager: m,
		store:   store,
		nav:     nav,
		logger:  logger.With("subsystem", "call_recovery"),
		now:     m.now,
		sleep:   time.Sleep,
	}
}

// Run checks the entry location for deep-link parameters and, when they
// name a live session addressed to this user, rebuilds the incoming call.
// Once the manager is started the parameters are stripped before anything
// else, consumed exactly once; before that they are left in place so a
// later Run can retry. Run returns nil when there is nothing to recover;
// errors mean the lookup itself failed.
func (r *Recovery) Run(ctx context.Context) error {
	loc := r.nav.Location()
	q := loc.Query()
	sessionID := q.Get(paramSession)
	if sessionID == "" {
		return nil
	}
	autoAccept := q.Get(paramAction) == actionAccept

	// Not ready yet: leave the link intact so a later Run can retry.
	if !r.manager.isStarted() {
		r.logger.Warn("deep link ignored, signaling not started", "call_id", sessionID)
		return ErrNotStarted
	}

	// Strip before acting: whatever happens below, this link fires once.
	r.stripParams(loc)

	sess, caller, err := r.store.GetWithCaller(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("loading call session %q: %w", sessionID, err)
	}
	if sess == nil {
		r.logger.Info("deep link names unknown session", "call_id", sessionID)
		return nil
	}
	if sess.ReceiverID != r.manager.selfID {
		r.logger.Warn("deep link session addressed to another user",
			"call_id", sessionID, "receiver_id", sess.ReceiverID)
		return nil
	}
	if !models.OpenSessionStatus(sess.Status) {
		r.logger.Info("deep link session already settled",
			"call_id", sessionID, "status", sess.Status)
		return nil
	}
	// An unanswered ring goes stale; an established call is worth
	// re-attaching to regardless of age.
	established := sess.Status == models.SessionAccepted || sess.Status == models.SessionActive
	if age := r.now().Sub(sess.CreatedAt); !established && age > staleAfter {
		r.logger.Info("deep link session too old to ring",
			"call_id", sessionID, "age", age)
		return nil
	}

	ac := ActiveCall{
		ID:          sess.ID,
		Type:        Type(sess.CallType),
		Category:    CategoryPrivate,
		PeerID:      sess.CallerID,
		IsInitiator: false,
		Status:      StatusIncoming,
	}
	if established {
		ac.Status = StatusActive
		ac.StartTime = sess.CreatedAt
		if sess.StartedAt != nil {
			ac.StartTime = *sess.StartedAt
		}
	}
	if caller != nil {
		ac.PeerName = caller.DisplayName
		ac.PeerAvatar = caller.AvatarURL
	}
	if !r.manager.adopt(ac) {
		r.logger.Info("deep link dropped, another call is in progress", "call_id", sessionID)
		return nil
	}
	r.logger.Info("call recovered from deep link",
		"call_id", sessionID, "caller_id", sess.CallerID,
		"status", ac.Status, "auto_accept", autoAccept)

	if autoAccept && ac.Status == StatusIncoming {
		r.sleep(autoAcceptDelay)
		if err := r.manager.AcceptCall(ctx); err != nil {
			r.logger.Warn("auto-accept failed", "call_id", sessionID, "error", err)
		}
	}
	return nil
}

// stripParams removes the deep-link parameters from the location.
func (r *Recovery) stripParams(loc *url.URL) {
	clean := *loc
	q := clean.Query()
	q.Del(paramSession)
	q.Del(paramAction)
	clean.RawQuery = q.Encode()
	r.nav.Replace(&clean)
}
