package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/codergangganesh/eduspace-sub001/internal/api/middleware"
	"github.com/codergangganesh/eduspace-sub001/internal/call"
	"github.com/codergangganesh/eduspace-sub001/internal/database/models"
	"github.com/codergangganesh/eduspace-sub001/internal/session"
)

// createCallRequest is the JSON request body for starting a call.
type createCallRequest struct {
	ReceiverID string `json:"receiverId"`
	Type       string `json:"type"`
}

// updateCallStatusRequest is the JSON request body for a status update.
type updateCallStatusRequest struct {
	Status      string `json:"status"`
	DurationSec *int64 `json:"durationSec,omitempty"`
}

// callSessionResponse is the JSON shape of a durable call session.
type callSessionResponse struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	CallerID    string  `json:"callerId"`
	ReceiverID  string  `json:"receiverId"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"createdAt"`
	StartedAt   *string `json:"startedAt,omitempty"`
	EndedAt     *string `json:"endedAt,omitempty"`
	DurationSec *int64  `json:"durationSec,omitempty"`
}

// callerResponse is the caller's display profile, joined for recovery.
type callerResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// getCallResponse is the session plus the caller's profile when one exists.
type getCallResponse struct {
	callSessionResponse
	Caller *callerResponse `json:"caller,omitempty"`
}

// toCallSessionResponse converts a models.CallSession to the API response.
func toCallSessionResponse(sess *models.CallSession) callSessionResponse {
	resp := callSessionResponse{
		ID:          sess.ID,
		Type:        sess.CallType,
		CallerID:    sess.CallerID,
		ReceiverID:  sess.ReceiverID,
		Status:      sess.Status,
		CreatedAt:   sess.CreatedAt.UTC().Format(time.RFC3339),
		DurationSec: sess.Duration,
	}
	if sess.StartedAt != nil {
		v := sess.StartedAt.UTC().Format(time.RFC3339)
		resp.StartedAt = &v
	}
	if sess.EndedAt != nil {
		v := sess.EndedAt.UTC().Format(time.RFC3339)
		resp.EndedAt = &v
	}
	return resp
}

// handleCreateCall validates and creates a call session. The caller is the
// authenticated user; the receiver's devices get a wake-up push.
func (s *Server) handleCreateCall(w http.ResponseWriter, r *http.Request) {
	callerID := middleware.UserIDFromContext(r.Context())

	var req createCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.ReceiverID == "" {
		writeError(w, http.StatusBadRequest, "receiverId is required")
		return
	}

	sess, err := s.validator.CreateSession(r.Context(), callerID, req.ReceiverID, call.Type(req.Type))
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidCallType), errors.Is(err, session.ErrSelfCall):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, session.ErrUnknownReceiver):
			writeError(w, http.StatusNotFound, "receiver not found")
		case errors.Is(err, session.ErrCallInProgress):
			writeError(w, http.StatusConflict, "a call between these users is already in progress")
		default:
			slog.Error("create call: session validation failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	callerName := callerID
	callerAvatar := ""
	if p, err := s.profiles.GetByID(r.Context(), callerID); err == nil && p != nil {
		callerName = p.DisplayName
		callerAvatar = p.AvatarURL
	}

	if s.bus != nil {
		err := s.bus.Publish(r.Context(), sess.ReceiverID, call.EventOffer, call.OfferPayload{
			CallID:       sess.ID,
			CallerID:     callerID,
			CallerName:   callerName,
			CallerAvatar: callerAvatar,
			CallType:     sess.CallType,
		})
		if err != nil {
			// Best-effort: the durable record and the push are the
			// recovery paths.
			slog.Warn("create call: offer publish failed", "call_id", sess.ID, "error", err)
		}
	}

	if s.notifier != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			s.notifier.NotifyIncomingCall(ctx, sess, callerName)
		}()
	}

	writeJSON(w, http.StatusCreated, toCallSessionResponse(sess))
}

// handleGetCall returns a session with the caller's profile joined.
// Only the two participants may read it.
func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	sess, caller, err := s.sessions.GetWithCaller(r.Context(), id)
	if err != nil {
		slog.Error("get call: query failed", "call_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "call session not found")
		return
	}
	if userID != sess.CallerID && userID != sess.ReceiverID {
		writeError(w, http.StatusForbidden, "not a participant in this call")
		return
	}

	resp := getCallResponse{callSessionResponse: toCallSessionResponse(sess)}
	if caller != nil {
		resp.Caller = &callerResponse{
			ID:          caller.ID,
			DisplayName: caller.DisplayName,
			AvatarURL:   caller.AvatarURL,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleUpdateCallStatus moves a session through its lifecycle. Updates
// are last-write-wins: participants racing to finalize a call both
// succeed, and the record keeps whichever landed last.
func (s *Server) handleUpdateCallStatus(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req updateCallStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	sess, err := s.sessions.GetByID(r.Context(), id)
	if err != nil {
		slog.Error("update call status: query failed", "call_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "call session not found")
		return
	}
	if userID != sess.CallerID && userID != sess.ReceiverID {
		writeError(w, http.StatusForbidden, "not a participant in this call")
		return
	}

	now := time.Now()
	switch req.Status {
	case models.SessionRinging:
		err = s.sessions.MarkRinging(r.Context(), id)
	case models.SessionAccepted, models.SessionActive:
		err = s.sessions.MarkAccepted(r.Context(), id, now)
	case models.SessionRejected:
		err = s.sessions.MarkRejected(r.Context(), id)
	case models.SessionCompleted:
		var duration int64
		if req.DurationSec != nil && *req.DurationSec > 0 {
			duration = *req.DurationSec
		}
		err = s.sessions.MarkCompleted(r.Context(), id, now, duration)
	default:
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	if err != nil {
		slog.Error("update call status: write failed", "call_id", id, "status", req.Status, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	sess, err = s.sessions.GetByID(r.Context(), id)
	if err != nil || sess == nil {
		slog.Error("update call status: reload failed", "call_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toCallSessionResponse(sess))
}
