// Package pgstore provides a PostgreSQL implementation of the database
// repositories for multi-node deployments where SQLite's single-writer
// model is not enough.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/codergangganesh/eduspace-sub001/internal/database/models"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements the database repository interfaces using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL connection and runs pending migrations.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgresql: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgresql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	slog.Info("postgresql store opened")
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate runs all pending SQL migration files in order.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version := strings.TrimSuffix(entry.Name(), ".sql")

		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = $1", version).Scan(&count)
		if err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", version, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %s: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", version, err)
		}

		slog.Info("applied migration", "version", version)
	}

	return nil
}

const callSessionColumns = `id, call_type, caller_id, receiver_id, status, created_at, started_at, ended_at, duration`

// Create inserts a new call session row.
func (s *Store) Create(ctx context.Context, sess *models.CallSession) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO call_sessions (`+callSessionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sess.ID, sess.CallType, sess.CallerID, sess.ReceiverID, sess.Status,
		sess.CreatedAt, sess.StartedAt, sess.EndedAt, sess.Duration,
	)
	if err != nil {
		return fmt.Errorf("inserting call session: %w", err)
	}
	return nil
}

// GetByID returns a call session by id, or (nil, nil) if absent.
func (s *Store) GetByID(ctx context.Context, id string) (*models.CallSession, error) {
	return scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+callSessionColumns+` FROM call_sessions WHERE id = $1`, id,
	))
}

// GetWithCaller returns the session joined with the caller's profile.
func (s *Store) GetWithCaller(ctx context.Context, id string) (*models.CallSession, *models.Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT s.id, s.call_type, s.caller_id, s.receiver_id, s.status,
		        s.created_at, s.started_at, s.ended_at, s.duration,
		        p.id, p.display_name, p.avatar_url
		 FROM call_sessions s
		 LEFT JOIN profiles p ON p.id = s.caller_id
		 WHERE s.id = $1`, id,
	)

	var sess models.CallSession
	var profileID, displayName, avatarURL sql.NullString
	err := row.Scan(&sess.ID, &sess.CallType, &sess.CallerID, &sess.ReceiverID, &sess.Status,
		&sess.CreatedAt, &sess.StartedAt, &sess.EndedAt, &sess.Duration,
		&profileID, &displayName, &avatarURL)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("scanning call session with caller: %w", err)
	}

	if !profileID.Valid {
		return &sess, nil, nil
	}
	return &sess, &models.Profile{
		ID:          profileID.String,
		DisplayName: displayName.String,
		AvatarURL:   avatarURL.String,
	}, nil
}

// FindOpenBetween returns the most recent non-terminal session between the
// two users, in either direction, or (nil, nil) if none exists.
func (s *Store) FindOpenBetween(ctx context.Context, userA, userB string) (*models.CallSession, error) {
	return scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+callSessionColumns+` FROM call_sessions
		 WHERE status IN ('initiated', 'ringing', 'accepted', 'active')
		   AND ((caller_id = $1 AND receiver_id = $2) OR (caller_id = $2 AND receiver_id = $1))
		 ORDER BY created_at DESC LIMIT 1`,
		userA, userB,
	))
}

// MarkRinging records that the offer reached the callee's device.
func (s *Store) MarkRinging(ctx context.Context, id string) error {
	return s.UpdateStatus(ctx, id, models.SessionRinging)
}

// MarkAccepted records acceptance and the answer time.
func (s *Store) MarkAccepted(ctx context.Context, id string, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE call_sessions SET status = $1, started_at = $2 WHERE id = $3`,
		models.SessionAccepted, startedAt.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("marking call session accepted: %w", err)
	}
	return nil
}

// MarkRejected records that the callee declined the call.
func (s *Store) MarkRejected(ctx context.Context, id string) error {
	return s.UpdateStatus(ctx, id, models.SessionRejected)
}

// MarkCompleted finalizes the session with its end time and duration.
func (s *Store) MarkCompleted(ctx context.Context, id string, endedAt time.Time, durationSec int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE call_sessions SET status = $1, ended_at = $2, duration = $3 WHERE id = $4`,
		models.SessionCompleted, endedAt.UTC(), durationSec, id,
	)
	if err != nil {
		return fmt.Errorf("marking call session completed: %w", err)
	}
	return nil
}

// UpdateStatus sets the durable status unconditionally (last write wins).
func (s *Store) UpdateStatus(ctx context.Context, id, status string) error {
	if !models.ValidSessionStatus(status) {
		return fmt.Errorf("invalid call session status %q", status)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE call_sessions SET status = $1 WHERE id = $2`, status, id,
	)
	if err != nil {
		return fmt.Errorf("updating call session status: %w", err)
	}
	return nil
}

// UpsertProfile inserts or updates a user profile.
func (s *Store) UpsertProfile(ctx context.Context, p *models.Profile) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (id, display_name, avatar_url, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (id) DO UPDATE SET
		   display_name = EXCLUDED.display_name,
		   avatar_url = EXCLUDED.avatar_url,
		   updated_at = NOW()`,
		p.ID, p.DisplayName, p.AvatarURL,
	)
	if err != nil {
		return fmt.Errorf("upserting profile: %w", err)
	}
	return nil
}

// GetProfile returns a profile by user id, or (nil, nil) if absent.
func (s *Store) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	var p models.Profile
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, avatar_url, updated_at FROM profiles WHERE id = $1`, id,
	).Scan(&p.ID, &p.DisplayName, &p.AvatarURL, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning profile: %w", err)
	}
	return &p, nil
}

// UpsertPushToken inserts or updates a push token keyed by (user, device).
func (s *Store) UpsertPushToken(ctx context.Context, token *models.PushToken) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO push_tokens (user_id, token, platform, device_id, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (user_id, device_id) DO UPDATE SET
		   token = EXCLUDED.token,
		   platform = EXCLUDED.platform,
		   updated_at = NOW()
		 RETURNING id`,
		token.UserID, token.Token, token.Platform, token.DeviceID,
	).Scan(&token.ID)
	if err != nil {
		return fmt.Errorf("upserting push token: %w", err)
	}
	return nil
}

// GetPushTokens returns all push tokens registered for a user.
func (s *Store) GetPushTokens(ctx context.Context, userID string) ([]models.PushToken, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, token, platform, device_id, created_at, updated_at
		 FROM push_tokens WHERE user_id = $1 ORDER BY updated_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying push tokens by user: %w", err)
	}
	defer rows.Close()

	var tokens []models.PushToken
	for rows.Next() {
		var t models.PushToken
		if err := rows.Scan(&t.ID, &t.UserID, &t.Token, &t.Platform,
			&t.DeviceID, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning push token row: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating push token rows: %w", err)
	}

	return tokens, nil
}

// DeletePushToken removes a token reported as no longer valid.
func (s *Store) DeletePushToken(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM push_tokens WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("deleting push token: %w", err)
	}
	return nil
}

func scanSession(row *sql.Row) (*models.CallSession, error) {
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
