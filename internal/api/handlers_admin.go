package api

import (
	"net/http"
	"strconv"

	apperrors "github.com/weather-collector/internal/errors"
	"github.com/weather-collector/internal/logging"
	"github.com/weather-collector/internal/models"
	"github.com/weather-collector/internal/types"
)

// updateRequest is the body of POST /admin/update.
type updateRequest struct {
	Type string `json:"type"`
}

// handleTriggerUpdate kicks off a collection tick or a backfill run outside
// the schedule. The work happens asynchronously; the response only confirms
// acceptance.
func (s *Server) handleTriggerUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondServiceError(w, apperrors.NewValidationError("body", "expected JSON object with a 'type' field"))
		return
	}

	kind := types.UpdateKind(req.Type)
	if kind != types.UpdateKindCurrent && kind != types.UpdateKindBackfill {
		respondServiceError(w, apperrors.NewValidationError("type", "must be 'current' or 'backfill'"))
		return
	}

	if err := s.sched.TriggerUpdate(kind); err != nil {
		respondServiceError(w, err)
		return
	}

	logging.FromContext(r.Context()).WithField("type", req.Type).Info("Manual update triggered")

	respondJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"type":   req.Type,
	})
}

// handleStatus reports scheduler state plus provider usage and store totals.
// The optional sections degrade to absent rather than failing the route.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	payload := map[string]interface{}{
		"scheduler": s.sched.Status(),
	}

	if s.usage != nil {
		payload["provider"] = s.usage()
	}

	if s.stats != nil {
		stats, err := s.stats.Stats(r.Context())
		if err != nil {
			logging.FromContext(r.Context()).WithError(err).Warn("Failed to load store stats for status route")
		} else {
			payload["store"] = stats
		}
	}

	respondJSON(w, http.StatusOK, payload)
}

// handleBackfillStatus combines the runner's live progress with the
// store-derived completeness report.
func (s *Server) handleBackfillStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.tracker.StatusReport(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	payload := map[string]interface{}{
		"coverage": report,
	}
	if backfill := s.sched.Status().Backfill; backfill != nil {
		payload["run"] = backfill
	}

	respondJSON(w, http.StatusOK, payload)
}

// handleJobs lists job states and recent run history.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respondServiceError(w, apperrors.NewValidationError("limit", "must be a positive integer"))
			return
		}
		limit = parsed
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":    s.sched.Status().Jobs,
		"history": s.sched.History(limit),
	})
}

// handleCancelBackfill cancels the active backfill run, if any.
func (s *Server) handleCancelBackfill(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.CancelBackfill(); err != nil {
		respondServiceError(w, err)
		return
	}

	logging.FromContext(r.Context()).Info("Backfill cancellation requested")

	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// locationRequest is the body of PUT /admin/locations.
type locationRequest struct {
	ProviderID  uint32 `json:"providerId"`
	Name        string `json:"name"`
	CountryCode string `json:"countryCode"`
	Region      string `json:"region"`
	Monitored   bool   `json:"monitored"`
	Priority    int    `json:"priority"`
}

// handleUpsertLocation inserts or updates one catalog entry and drops the
// stale cached observation for it. The next collection tick picks the entry
// up; no restart is needed.
func (s *Server) handleUpsertLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondServiceError(w, apperrors.NewValidationError("body", "expected a JSON catalog entry"))
		return
	}

	switch {
	case req.ProviderID == 0:
		respondServiceError(w, apperrors.NewValidationError("providerId", "must be a positive provider city id"))
		return
	case req.Name == "":
		respondServiceError(w, apperrors.NewValidationError("name", "must not be empty"))
		return
	case len(req.CountryCode) != 2:
		respondServiceError(w, apperrors.NewValidationError("countryCode", "must be a two-letter ISO code"))
		return
	}

	loc := &models.Location{
		ProviderID:  req.ProviderID,
		Name:        req.Name,
		CountryCode: req.CountryCode,
		Region:      req.Region,
		Monitored:   req.Monitored,
		Priority:    req.Priority,
	}

	if err := s.catalog.Upsert(r.Context(), loc); err != nil {
		respondServiceError(w, err)
		return
	}

	if s.cacheInv != nil {
		// A rename or re-pointing makes the cached observation lie about
		// its identity; the TTL covers anything this misses.
		if err := s.cacheInv.Invalidate(r.Context(), loc.Name); err != nil {
			logging.FromContext(r.Context()).WithError(err).Warn("Failed to invalidate cached observation")
		}
	}

	logging.FromContext(r.Context()).WithFields(map[string]interface{}{
		"providerId": loc.ProviderID,
		"name":       loc.Name,
	}).Info("Catalog entry upserted")

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "updated",
		"location": loc,
	})
}
