// Package session creates and validates durable call sessions. The
// validator is the single write path for new session rows: every call, no
// matter which device or transport initiated it, goes through the same
// checks before a row exists.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/codergangganesh/eduspace-sub001/internal/call"
	"github.com/codergangganesh/eduspace-sub001/internal/database"
	"github.com/codergangganesh/eduspace-sub001/internal/database/models"
)

// Validation failures, distinguished so the API layer can map them to
// status codes.
var (
	ErrInvalidCallType = errors.New("invalid call type")
	ErrSelfCall        = errors.New("caller and receiver are the same user")
	ErrUnknownReceiver = errors.New("receiver does not exist")
	ErrCallInProgress  = errors.New("a call between these users is already in progress")
)

// unansweredTTL bounds how long an unanswered session blocks a new call
// between the same pair. Matches the deep-link staleness window: past it,
// nobody is going to answer the old ring.
const unansweredTTL = 5 * time.Minute

// Validator creates call sessions against the durable store.
type Validator struct {
	sessions database.CallSessionRepository
	profiles database.ProfileRepository
	logger   *slog.Logger
	now      func() time.Time
}

// NewValidator builds a Validator over the given repositories.
func NewValidator(sessions database.CallSessionRepository, profiles database.ProfileRepository, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		sessions: sessions,
		profiles: profiles,
		logger:   logger.With("subsystem", "session"),
		now:      time.Now,
	}
}

// CreateSession validates the request and inserts a new session row in the
// initiated state. An open session between the pair blocks creation,
// except that a stale unanswered one is swept to completed first rather
// than holding the pair hostage forever.
func (v *Validator) CreateSession(ctx context.Context, callerID, receiverID string, callType call.Type) (*models.CallSession, error) {
	if !call.ValidType(callType) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCallType, callType)
	}
	if callerID == "" || receiverID == "" {
		return nil, errors.New("caller and receiver ids are required")
	}
	if callerID == receiverID {
		return nil, ErrSelfCall
	}

	receiver, err := v.profiles.GetByID(ctx, receiverID)
	if err != nil {
		return nil, fmt.Errorf("looking up receiver: %w", err)
	}
	if receiver == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownReceiver, receiverID)
	}

	open, err := v.sessions.FindOpenBetween(ctx, callerID, receiverID)
	if err != nil {
		return nil, fmt.Errorf("checking for open session: %w", err)
	}
	if open != nil {
		if v.retryOf(open, callerID, callType) {
			// A retried initiation (double tap, request replay) gets the
			// in-flight row back instead of a twin.
			v.logger.Debug("returning in-flight session for retried initiation",
				"call_id", open.ID, "caller_id", callerID)
			return open, nil
		}
		if !v.sweepable(open) {
			return nil, fmt.Errorf("%w: session %s", ErrCallInProgress, open.ID)
		}
		if err := v.sessions.MarkCompleted(ctx, open.ID, v.now(), 0); err != nil {
			return nil, fmt.Errorf("sweeping stale session %s: %w", open.ID, err)
		}
		v.logger.Info("stale unanswered session swept", "call_id", open.ID)
	}

	sess := &models.CallSession{
		ID:         uuid.NewString(),
		CallType:   string(callType),
		CallerID:   callerID,
		ReceiverID: receiverID,
		Status:     models.SessionInitiated,
		CreatedAt:  v.now(),
	}
	if err := v.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	v.logger.Info("call session created",
		"call_id", sess.ID, "caller_id", callerID, "receiver_id", receiverID, "type", callType)
	return sess, nil
}

// retryOf reports whether creating (callerID, callType) is a retry of the
// open session: same caller, same type, still ringing, still fresh.
func (v *Validator) retryOf(open *models.CallSession, callerID string, callType call.Type) bool {
	if open.CallerID != callerID || open.CallType != string(callType) {
		return false
	}
	if open.Status != models.SessionInitiated && open.Status != models.SessionRinging {
		return false
	}
	return v.now().Sub(open.CreatedAt) <= unansweredTTL
}

// sweepable reports whether an open session no longer blocks a new call.
// Established calls (accepted, active) always block; an unanswered ring
// only blocks inside its TTL.
func (v *Validator) sweepable(sess *models.CallSession) bool {
	switch sess.Status {
	case models.SessionInitiated, models.SessionRinging:
		return v.now().Sub(sess.CreatedAt) > unansweredTTL
	}
	return false
}
