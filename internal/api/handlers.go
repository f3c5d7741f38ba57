package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// HandleHealth reports liveness
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"device": s.config.DeviceID(),
	})
}

// HandleStats returns the durable queue snapshot
func (s *RESTServer) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("stats query failed")
		s.respondError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

// HandleState returns the link state
func (s *RESTServer) HandleState(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"device": s.config.DeviceID(),
		"state":  s.link.State(),
	})
}

// HandleExportReadings returns readings in a time range. Defaults to
// the last 24 hours.
func (s *RESTServer) HandleExportReadings(w http.ResponseWriter, r *http.Request) {
	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)

	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid start time, want RFC3339")
			return
		}
		start = t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid end time, want RFC3339")
			return
		}
		end = t
	}
	if end.Before(start) {
		s.respondError(w, http.StatusBadRequest, "end before start")
		return
	}

	readings, err := s.queue.Export(r.Context(), start, end)
	if err != nil {
		log.Error().Err(err).Msg("export query failed")
		s.respondError(w, http.StatusInternalServerError, "export unavailable")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"start":    start,
		"end":      end,
		"count":    len(readings),
		"readings": readings,
	})
}

// HandleListTransmissions pages the transmission log, newest first
func (s *RESTServer) HandleListTransmissions(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 50)
	offset := parseIntParam(r, "offset", 0)
	if limit <= 0 || limit > 1000 {
		limit = 50
	}

	entries, total, err := s.queue.Transmissions(r.Context(), limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("transmission log query failed")
		s.respondError(w, http.StatusInternalServerError, "transmission log unavailable")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"total":   total,
		"entries": entries,
	})
}

func parseIntParam(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError responds with error
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}
