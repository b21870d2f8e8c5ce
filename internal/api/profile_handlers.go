package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"unicode/utf8"

	"github.com/codergangganesh/eduspace-sub001/internal/api/middleware"
	"github.com/codergangganesh/eduspace-sub001/internal/database/models"
)

// maxDisplayNameLen bounds display names.
const maxDisplayNameLen = 200

// maxAvatarURLLen bounds avatar URLs.
const maxAvatarURLLen = 2048

// profileRequest is the JSON request body for updating the caller's
// display profile.
type profileRequest struct {
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

// handleUpsertProfile stores the authenticated user's display profile,
// the name and avatar shown on the peer's incoming-call surface.
func (s *Server) handleUpsertProfile(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.DisplayName == "" || utf8.RuneCountInString(req.DisplayName) > maxDisplayNameLen {
		writeError(w, http.StatusBadRequest, "displayName is required")
		return
	}
	if len(req.AvatarURL) > maxAvatarURLLen {
		writeError(w, http.StatusBadRequest, "avatarUrl too long")
		return
	}

	err := s.profiles.Upsert(r.Context(), &models.Profile{
		ID:          userID,
		DisplayName: req.DisplayName,
		AvatarURL:   req.AvatarURL,
	})
	if err != nil {
		slog.Error("upsert profile: write failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}
