package database

import (
	"context"
	"time"

	"github.com/codergangganesh/eduspace-sub001/internal/database/models"
)

// CallSessionRepository manages durable call session records. Get methods
// return (nil, nil) when no row matches. Status writes are unconditional
// last-write-wins updates; there is no optimistic-concurrency token, and a
// caller and callee racing to finalize a session may overwrite each other.
type CallSessionRepository interface {
	Create(ctx context.Context, sess *models.CallSession) error
	GetByID(ctx context.Context, id string) (*models.CallSession, error)
	// GetWithCaller returns the session joined with the caller's profile,
	// for rebuilding an incoming-call surface from a deep link. The profile
	// is nil when the caller has none.
	GetWithCaller(ctx context.Context, id string) (*models.CallSession, *models.Profile, error)
	// FindOpenBetween returns the most recent non-terminal session between
	// the two users, in either direction.
	FindOpenBetween(ctx context.Context, userA, userB string) (*models.CallSession, error)
	MarkRinging(ctx context.Context, id string) error
	MarkAccepted(ctx context.Context, id string, startedAt time.Time) error
	MarkRejected(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string, endedAt time.Time, durationSec int64) error
	UpdateStatus(ctx context.Context, id, status string) error
}

// ProfileRepository manages user display profiles.
type ProfileRepository interface {
	Upsert(ctx context.Context, p *models.Profile) error
	GetByID(ctx context.Context, id string) (*models.Profile, error)
}

// PushTokenRepository manages device registrations for wake-up pushes.
type PushTokenRepository interface {
	Upsert(ctx context.Context, token *models.PushToken) error
	GetByUserID(ctx context.Context, userID string) ([]models.PushToken, error)
	DeleteByToken(ctx context.Context, token string) error
}
