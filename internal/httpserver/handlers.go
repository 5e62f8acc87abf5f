package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/backofficehq/meli-sync-worker/internal/service"
)

var validate = validator.New()

// UnifiedRequest is the body of the unified orders/claims endpoints.
type UnifiedRequest struct {
	IntegrationAccountIDs []string `json:"integration_account_ids" validate:"required,min=1,dive,required"`
	DateFrom              *string  `json:"date_from" validate:"omitempty"`
	DateTo                *string  `json:"date_to" validate:"omitempty"`
	ForceRefresh          bool     `json:"force_refresh"`
}

func (s *Server) handleUnifiedOrders(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeUnified(w, r)
	if !ok {
		return
	}

	result, err := s.cache.FetchOrders(r.Context(), req)
	if err != nil {
		s.logger.Error("unified orders failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, unifiedResponse(result, "orders"))
}

func (s *Server) handleUnifiedClaims(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeUnified(w, r)
	if !ok {
		return
	}

	result, err := s.cache.FetchClaims(r.Context(), req)
	if err != nil {
		s.logger.Error("unified claims failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, unifiedResponse(result, "claims"))
}

func (s *Server) handleSyncOrders(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	summary, err := s.sync.RunOrders(r.Context())
	if err != nil {
		s.logger.Error("orders sync failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.noteActivity()
	writeJSON(w, http.StatusOK, syncResponse(summary))
}

func (s *Server) handleSyncClaims(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	summary, err := s.sync.RunClaims(r.Context())
	if err != nil {
		s.logger.Error("claims sync failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.noteActivity()
	writeJSON(w, http.StatusOK, syncResponse(summary))
}

func (s *Server) handleQueueDrain(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	summary, err := s.drain.Run(r.Context())
	if err != nil {
		s.logger.Error("queue drain failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.noteActivity()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"processed":   summary.Processed,
		"failed":      summary.Failed,
		"duration_ms": summary.DurationMs,
	})
}

func (s *Server) handleResetFailed(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	reset, err := s.drain.ResetFailed(r.Context())
	if err != nil {
		s.logger.Error("reset failed claims failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"reset":   reset,
	})
}

// noteActivity tells the background scheduler a manual pass just ran.
func (s *Server) noteActivity() {
	if s.activity != nil {
		s.activity.NoteInteraction()
	}
}

// decodeUnified parses and validates the unified request body, answering the
// client directly on any problem.
func (s *Server) decodeUnified(w http.ResponseWriter, r *http.Request) (service.FetchRequest, bool) {
	if !requirePost(w, r) {
		return service.FetchRequest{}, false
	}

	var body UnifiedRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return service.FetchRequest{}, false
	}

	if err := validate.Struct(body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return service.FetchRequest{}, false
	}

	req := service.FetchRequest{
		AccountIDs:   body.IntegrationAccountIDs,
		ForceRefresh: body.ForceRefresh,
	}

	if body.DateFrom != nil {
		t, err := parseDate(*body.DateFrom)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid date_from: %w", err))
			return service.FetchRequest{}, false
		}
		req.DateFrom = &t
	}
	if body.DateTo != nil {
		t, err := parseDate(*body.DateTo)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid date_to: %w", err))
			return service.FetchRequest{}, false
		}
		req.DateTo = &t
	}

	return req, true
}

// parseDate accepts both RFC3339 timestamps and bare dates.
func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

func unifiedResponse(result *service.FetchResult, key string) map[string]interface{} {
	resp := map[string]interface{}{
		"success":    true,
		key:          result.Records,
		"total":      result.Total,
		"source":     result.Source,
		"cached_at":  result.CachedAt,
		"expires_at": result.ExpiresAt,
		"partial":    result.Partial,
		"errors":     errorsOrEmpty(result.Errors),
	}
	return resp
}

func syncResponse(summary *service.SyncSummary) map[string]interface{} {
	return map[string]interface{}{
		"success":         true,
		"accounts_synced": summary.AccountsSynced,
		"accounts_failed": summary.AccountsFailed,
		"records_fetched": summary.RecordsFetched,
		"duration_ms":     summary.DurationMs,
		"errors":          errorsOrEmpty(summary.Errors),
	}
}

// errorsOrEmpty keeps the errors array present (not null) in responses, since
// callers detect degraded runs by inspecting it.
func errorsOrEmpty(errs []service.AccountError) []service.AccountError {
	if errs == nil {
		return []service.AccountError{}
	}
	return errs
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   err.Error(),
	})
}
