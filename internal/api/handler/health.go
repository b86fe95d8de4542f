// Package handler provides HTTP handlers for the REST API.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/remiblancher/sehal/internal/api/dto"
	apierrors "github.com/remiblancher/sehal/internal/api/errors"
	"github.com/remiblancher/sehal/internal/api/service"
)

// HealthHandler handles health and readiness endpoints.
type HealthHandler struct {
	version string
	svc     *service.DeviceService
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(version string, svc *service.DeviceService) *HealthHandler {
	return &HealthHandler{
		version: version,
		svc:     svc,
	}
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := dto.HealthResponse{
		Status:  "ok",
		Version: h.version,
		Backend: h.svc.Backend(),
	}
	if err := h.svc.Ready(r.Context()); err != nil {
		resp.Status = "degraded"
	}
	respondJSON(w, http.StatusOK, resp)
}

// Ready handles GET /ready.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]bool{
		"server":  true,
		"element": h.svc.Ready(r.Context()) == nil,
	}

	allReady := true
	for _, ready := range checks {
		if !ready {
			allReady = false
			break
		}
	}

	resp := dto.ReadyResponse{
		Ready:  allReady,
		Checks: checks,
	}

	status := http.StatusOK
	if !allReady {
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, status, resp)
}

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

// respondError writes an error response.
func respondError(w http.ResponseWriter, status int, apiErr *dto.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiErr)
}

// respondServiceError maps err and writes it.
func respondServiceError(w http.ResponseWriter, err error) {
	status, apiErr := apierrors.MapError(err)
	respondError(w, status, apiErr)
}

// decodeJSON reads the request body into v. On failure it writes the error
// response and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, apierrors.NewBadRequest("Invalid JSON request body"))
		return false
	}
	return true
}

// decodeField decodes one BinaryData field.
func decodeField(w http.ResponseWriter, name string, b *dto.BinaryData) ([]byte, bool) {
	data, err := b.Decode()
	if err != nil {
		respondError(w, http.StatusBadRequest, apierrors.NewBadRequest(name+": "+err.Error()))
		return nil, false
	}
	return data, true
}
