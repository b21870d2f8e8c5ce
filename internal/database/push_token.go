package database

import (
	"context"
	"fmt"

	"github.com/codergangganesh/eduspace-sub001/internal/database/models"
)

// pushTokenRepo implements PushTokenRepository.
type pushTokenRepo struct {
	db *DB
}

// NewPushTokenRepository creates a new PushTokenRepository.
func NewPushTokenRepository(db *DB) PushTokenRepository {
	return &pushTokenRepo{db: db}
}

// Upsert inserts or updates a push token for a given user and device.
// If a token already exists for the same (user_id, device_id), it is updated.
func (r *pushTokenRepo) Upsert(ctx context.Context, token *models.PushToken) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO push_tokens (user_id, token, platform, device_id, updated_at)
		 VALUES (?, ?, ?, ?, datetime('now'))
		 ON CONFLICT(user_id, device_id) DO UPDATE SET
		   token = excluded.token,
		   platform = excluded.platform,
		   updated_at = datetime('now')`,
		token.UserID, token.Token, token.Platform, token.DeviceID,
	)
	if err != nil {
		return fmt.Errorf("upserting push token: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	token.ID = id
	return nil
}

// GetByUserID returns all push tokens registered for a user.
func (r *pushTokenRepo) GetByUserID(ctx context.Context, userID string) ([]models.PushToken, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, token, platform, device_id, created_at, updated_at
		 FROM push_tokens WHERE user_id = ? ORDER BY updated_at DESC`, userID,
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

// DeleteByToken removes a token that a push provider reported as no longer
// valid.
func (r *pushTokenRepo) DeleteByToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM push_tokens WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("deleting push token: %w", err)
	}
	return nil
}
