package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	apperrors "github.com/weather-collector/internal/errors"
)

// daysParam parses the optional ?days query parameter, defaulting when
// absent. Out-of-range values are rejected rather than clamped so callers
// learn about their mistake.
func daysParam(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return def, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.NewValidationError("days", "must be an integer")
	}
	if days < 1 || days > 365 {
		return 0, apperrors.NewValidationError("days", "must be between 1 and 365")
	}
	return days, nil
}

// handleCurrentWeather serves the freshest observation for a city, from
// cache, store, or a live provider fetch.
func (s *Server) handleCurrentWeather(w http.ResponseWriter, r *http.Request) {
	city := mux.Vars(r)["city"]

	result, err := s.queries.Current(r.Context(), city)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"city":        city,
		"source":      result.Source,
		"observation": result.Observation,
	})
}

// handleWeatherHistory serves stored observations for the trailing N days.
func (s *Server) handleWeatherHistory(w http.ResponseWriter, r *http.Request) {
	city := mux.Vars(r)["city"]

	days, err := daysParam(r, 7)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	observations, err := s.queries.History(r.Context(), city, days)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"city":         city,
		"days":         days,
		"count":        len(observations),
		"observations": observations,
	})
}

// handleWeatherSummary serves the aggregate view for the trailing N days.
func (s *Server) handleWeatherSummary(w http.ResponseWriter, r *http.Request) {
	city := mux.Vars(r)["city"]

	days, err := daysParam(r, 7)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	summary, err := s.queries.Summary(r.Context(), city, days)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, summary)
}

// handleWeatherExport streams the trailing N days as a CSV download.
func (s *Server) handleWeatherExport(w http.ResponseWriter, r *http.Request) {
	city := mux.Vars(r)["city"]

	days, err := daysParam(r, 30)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	data, err := s.queries.ExportCSV(r.Context(), city, days)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	filename := fmt.Sprintf("weather_%s_%s.csv", city, time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleCities lists the monitored location catalog, flat when a limit is
// given and grouped by region otherwise.
func (s *Server) handleCities(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respondServiceError(w, apperrors.NewValidationError("limit", "must be a positive integer"))
			return
		}
		limit = parsed
	}

	result, err := s.queries.Cities(r.Context(), limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}
