// Package handlers provides HTTP handlers for resampled frontier operations.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aristath/frontier/internal/modules/frontier"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler handles frontier HTTP requests
type Handler struct {
	service *frontier.Service
	log     zerolog.Logger
}

// NewHandler creates a new frontier handler
func NewHandler(service *frontier.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "frontier").Logger(),
	}
}

// HandleResample handles POST /api/frontier/resample
func (h *Handler) HandleResample(w http.ResponseWriter, r *http.Request) {
	var in frontier.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.log.Error().Err(err).Msg("Failed to decode request body")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.service.Resample(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(result))
}

// HandleGetResult handles GET /api/frontier/results/{key}
func (h *Handler) HandleGetResult(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		http.Error(w, "Missing result key", http.StatusBadRequest)
		return
	}

	result, err := h.service.Get(key)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(result))
}

// HandleGlobalMinimumVariance handles POST /api/frontier/gmv
func (h *Handler) HandleGlobalMinimumVariance(w http.ResponseWriter, r *http.Request) {
	var in frontier.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.log.Error().Err(err).Msg("Failed to decode request body")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sol, degraded, err := h.service.GlobalMinimumVariance(in)
	if err != nil {
		h.writeError(w, err)
		return
	}

	weights := make(map[string]float64, len(in.Assets))
	for i, a := range in.Assets {
		weights[a.ID] = sol.Weights[i]
	}

	h.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"weights":    sol.Weights,
		"by_asset":   weights,
		"return":     sol.Return,
		"risk":       sol.Risk,
		"residuals":  sol.Residuals,
		"degraded":   degraded,
		"num_assets": len(in.Assets),
	}))
}

func envelope(data interface{}) map[string]interface{} {
	return map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, frontier.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, frontier.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Frontier request failed")
	} else {
		h.log.Debug().Err(err).Int("status", status).Msg("Frontier request rejected")
	}
	http.Error(w, err.Error(), status)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
