package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/codergangganesh/eduspace-sub001/internal/database/models"
)

// callSessionRepo implements CallSessionRepository.
type callSessionRepo struct {
	db *DB
}

// NewCallSessionRepository creates a new CallSessionRepository.
func NewCallSessionRepository(db *DB) CallSessionRepository {
	return &callSessionRepo{db: db}
}

const callSessionColumns = `id, call_type, caller_id, receiver_id, status, created_at, started_at, ended_at, duration`

// Create inserts a new call session row.
func (r *callSessionRepo) Create(ctx context.Context, sess *models.CallSession) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO call_sessions (`+callSessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.CallType, sess.CallerID, sess.ReceiverID, sess.Status,
		sess.CreatedAt, sess.StartedAt, sess.EndedAt, sess.Duration,
	)
	if err != nil {
		return fmt.Errorf("inserting call session: %w", err)
	}
	return nil
}

// GetByID returns a call session by id, or (nil, nil) if absent.
func (r *callSessionRepo) GetByID(ctx context.Context, id string) (*models.CallSession, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+callSessionColumns+` FROM call_sessions WHERE id = ?`, id,
	))
}

// GetWithCaller returns the session joined with the caller's profile.
func (r *callSessionRepo) GetWithCaller(ctx context.Context, id string) (*models.CallSession, *models.Profile, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT s.id, s.call_type, s.caller_id, s.receiver_id, s.status,
		        s.created_at, s.started_at, s.ended_at, s.duration,
		        p.id, p.display_name, p.avatar_url
		 FROM call_sessions s
		 LEFT JOIN profiles p ON p.id = s.caller_id
		 WHERE s.id = ?`, id,
	)

	var s models.CallSession
	var profileID, displayName, avatarURL sql.NullString
	err := row.Scan(&s.ID, &s.CallType, &s.CallerID, &s.ReceiverID, &s.Status,
		&s.CreatedAt, &s.StartedAt, &s.EndedAt, &s.Duration,
		&profileID, &displayName, &avatarURL)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("scanning call session with caller: %w", err)
	}

	if !profileID.Valid {
		return &s, nil, nil
	}
	return &s, &models.Profile{
		ID:          profileID.String,
		DisplayName: displayName.String,
		AvatarURL:   avatarURL.String,
	}, nil
}

// FindOpenBetween returns the most recent non-terminal session between the
// two users, in either direction, or (nil, nil) if none exists.
func (r *callSessionRepo) FindOpenBetween(ctx context.Context, userA, userB string) (*models.CallSession, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+callSessionColumns+` FROM call_sessions
		 WHERE status IN ('initiated', 'ringing', 'accepted', 'active')
		   AND ((caller_id = ? AND receiver_id = ?) OR (caller_id = ? AND receiver_id = ?))
		 ORDER BY created_at DESC LIMIT 1`,
		userA, userB, userB, userA,
	))
}

// MarkRinging records that the offer reached the callee's device.
func (r *callSessionRepo) MarkRinging(ctx context.Context, id string) error {
	return r.UpdateStatus(ctx, id, models.SessionRinging)
}

// MarkAccepted records acceptance and the answer time.
func (r *callSessionRepo) MarkAccepted(ctx context.Context, id string, startedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE call_sessions SET status = ?, started_at = ? WHERE id = ?`,
		models.SessionAccepted, startedAt.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("marking call session accepted: %w", err)
	}
	return nil
}

// MarkRejected records that the callee declined the call.
func (r *callSessionRepo) MarkRejected(ctx context.Context, id string) error {
	return r.UpdateStatus(ctx, id, models.SessionRejected)
}

// MarkCompleted finalizes the session with its end time and duration.
// Duration is written exactly once, at this transition.
func (r *callSessionRepo) MarkCompleted(ctx context.Context, id string, endedAt time.Time, durationSec int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE call_sessions SET status = ?, ended_at = ?, duration = ? WHERE id = ?`,
		models.SessionCompleted, endedAt.UTC(), durationSec, id,
	)
	if err != nil {
		return fmt.Errorf("marking call session completed: %w", err)
	}
	return nil
}

// UpdateStatus sets the durable status unconditionally (last write wins).
func (r *callSessionRepo) UpdateStatus(ctx context.Context, id, status string) error {
	if !models.ValidSessionStatus(status) {
		return fmt.Errorf("invalid call session status %q", status)
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE call_sessions SET status = ? WHERE id = ?`, status, id,
	)
	if err != nil {
		return fmt.Errorf("updating call session status: %w", err)
	}
	return nil
}

func (r *callSessionRepo) scanOne(row *sql.Row) (*models.CallSession, error) {
	var s models.CallSession
	err := row.Scan(&s.ID, &s.CallType, &s.CallerID, &s.ReceiverID, &s.Status,
		&s.CreatedAt, &s.StartedAt, &s.EndedAt, &s.Duration)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning call session: %w", err)
	}
	return &s, nil
}
