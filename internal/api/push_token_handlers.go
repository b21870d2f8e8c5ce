package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/codergangganesh/eduspace-sub001/internal/api/middleware"
	"github.com/codergangganesh/eduspace-sub001/internal/database/models"
)

// maxTokenLen bounds push registration tokens. FCM tokens run a few
// hundred bytes; anything past this is garbage.
const maxTokenLen = 4096

// pushTokenRequest is the JSON request body for registering a device.
type pushTokenRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
	DeviceID string `json:"deviceId"`
}

// deletePushTokenRequest is the JSON request body for dropping a device.
type deletePushTokenRequest struct {
	Token string `json:"token"`
}

// handleUpsertPushToken registers or refreshes a device token for the
// authenticated user. Clients call this on every app start.
func (s *Server) handleUpsertPushToken(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	var req pushTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Token == "" || len(req.Token) > maxTokenLen {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	if req.Platform != "fcm" && req.Platform != "apns" {
		writeError(w, http.StatusBadRequest, "platform must be fcm or apns")
		return
	}
	if req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "deviceId is required")
		return
	}

	err := s.pushTokens.Upsert(r.Context(), &models.PushToken{
		UserID:   userID,
		Token:    req.Token,
		Platform: req.Platform,
		DeviceID: req.DeviceID,
	})
	if err != nil {
		slog.Error("upsert push token: write failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "registered"})
}

// handleDeletePushToken removes a device token, typically on logout.
func (s *Server) handleDeletePushToken(w http.ResponseWriter, r *http.Request) {
	var req deletePushTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	if err := s.pushTokens.DeleteByToken(r.Context(), req.Token); err != nil {
		slog.Error("delete push token: write failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
