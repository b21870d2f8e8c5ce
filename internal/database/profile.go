package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/codergangganesh/eduspace-sub001/internal/database/models"
)

// profileRepo implements ProfileRepository.
type profileRepo struct {
	db *DB
}

// NewProfileRepository creates a new ProfileRepository.
func NewProfileRepository(db *DB) ProfileRepository {
	return &profileRepo{db: db}
}

// Upsert inserts or updates a user profile.
func (r *profileRepo) Upsert(ctx context.Context, p *models.Profile) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (id, display_name, avatar_url, updated_at)
		 VALUES (?, ?, ?, datetime('now'))
		 ON CONFLICT(id) DO UPDATE SET
		   display_name = excluded.display_name,
		   avatar_url = excluded.avatar_url,
		   updated_at = datetime('now')`,
		p.ID, p.DisplayName, p.AvatarURL,
	)
	if err != nil {
		return fmt.Errorf("upserting profile: %w", err)
	}
	return nil
}

// GetByID returns a profile by user id, or (nil, nil) if absent.
func (r *profileRepo) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	var p models.Profile
	err := r.db.QueryRowContext(ctx,
		`SELECT id, display_name, avatar_url, updated_at FROM profiles WHERE id = ?`, id,
	).Scan(&p.ID, &p.DisplayName, &p.AvatarURL, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning profile: %w", err)
	}
	return &p, nil
}
