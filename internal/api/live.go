package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/nerrad567/devicelive/internal/audit"
	"github.com/nerrad567/devicelive/internal/auth"
	"github.com/nerrad567/devicelive/internal/livechannel"
)

// setLiveRequest is the body of PUT /api/v1/live.
type setLiveRequest struct {
	DeviceID string `json:"device_id"`
	Token    string `json:"token"`
}

// handleGetLive returns the current channel state.
func (s *Server) handleGetLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.channel.State())
}

// handleLiveStats returns channel counters.
func (s *Server) handleLiveStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.channel.Stats())
}

// handleSetLive applies new inputs. Both fields are required; use DELETE
// to clear them.
func (s *Server) handleSetLive(w http.ResponseWriter, r *http.Request) {
	var req setLiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	if req.DeviceID == "" || req.Token == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "device_id and token are required")
		return
	}

	if err := s.channel.SetInputs(req.DeviceID, req.Token); err != nil {
		s.writeChannelError(w, err)
		return
	}

	s.logger.Info("live inputs set via API",
		"device_id", req.DeviceID,
		"token_fp", auth.Fingerprint(req.Token),
		"request_id", r.Context().Value(ctxKeyRequestID),
	)
	writeJSON(w, http.StatusAccepted, s.channel.State())
}

// handleClearLive tears the session down and leaves the channel idle.
func (s *Server) handleClearLive(w http.ResponseWriter, r *http.Request) {
	if err := s.channel.SetInputs("", ""); err != nil {
		s.writeChannelError(w, err)
		return
	}

	s.logger.Info("live inputs cleared via API", "request_id", r.Context().Value(ctxKeyRequestID))
	w.WriteHeader(http.StatusNoContent)
}

// handleRetryLive restarts a session that ended in error or disconnect.
func (s *Server) handleRetryLive(w http.ResponseWriter, _ *http.Request) {
	if err := s.channel.Retry(); err != nil {
		s.writeChannelError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.channel.State())
}

// handleListEvents returns the session event trail.
//
// Query parameters:
//   - device_id: filter by device
//   - phase: filter by phase (connecting, subscribed, error, ...)
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeNotFound(w, "session event trail is disabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		DeviceID: q.Get("device_id"),
		Phase:    q.Get("phase"),
	}
	if v := q.Get("phase"); v != "" {
		var p livechannel.Phase
		if err := p.UnmarshalText([]byte(v)); err != nil {
			writeBadRequest(w, "unknown phase")
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list session events", "error", err)
		writeInternalError(w, "failed to list session events")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// writeChannelError maps channel usage errors onto HTTP statuses.
func (s *Server) writeChannelError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, livechannel.ErrNoInputs), errors.Is(err, livechannel.ErrNotRetryable):
		writeConflict(w, err.Error())
	case errors.Is(err, livechannel.ErrClosed):
		writeUnavailable(w, "live channel is shut down")
	default:
		s.logger.Error("live channel call failed", "error", err)
		writeInternalError(w, "live channel call failed")
	}
}
