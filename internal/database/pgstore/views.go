package pgstore

import (
	"context"

	"github.com/codergangganesh/eduspace-sub001/internal/database"
	"github.com/codergangganesh/eduspace-sub001/internal/database/models"
)

// Sessions returns the store as a CallSessionRepository.
func (s *Store) Sessions() database.CallSessionRepository {
	return s
}

// Profiles returns a ProfileRepository view over the store.
func (s *Store) Profiles() database.ProfileRepository {
	return profileView{s}
}

// PushTokens returns a PushTokenRepository view over the store.
func (s *Store) PushTokens() database.PushTokenRepository {
	return pushTokenView{s}
}

type profileView struct {
	s *Store
}

func (v profileView) Upsert(ctx context.Context, p *models.Profile) error {
	return v.s.UpsertProfile(ctx, p)
}

func (v profileView) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	return v.s.GetProfile(ctx, id)
}

type pushTokenView struct {
	s *Store
}

func (v pushTokenView) Upsert(ctx context.Context, token *models.PushToken) error {
	return v.s.UpsertPushToken(ctx, token)
}

func (v pushTokenView) GetByUserID(ctx context.Context, userID string) ([]models.PushToken, error) {
	return v.s.GetPushTokens(ctx, userID)
}

func (v pushTokenView) DeleteByToken(ctx context.Context, token string) error {
	return v.s.DeletePushToken(ctx, token)
}
