package handler

import (
	"net/http"

	"github.com/remiblancher/sehal/internal/api/dto"
	"github.com/remiblancher/sehal/internal/api/service"
)

// DeviceHandler handles the stateless element operations.
type DeviceHandler struct {
	svc *service.DeviceService
}

// NewDeviceHandler creates a new DeviceHandler.
func NewDeviceHandler(svc *service.DeviceService) *DeviceHandler {
	return &DeviceHandler{svc: svc}
}

// Random handles POST /api/v1/random
func (h *DeviceHandler) Random(w http.ResponseWriter, r *http.Request) {
	var req dto.RandomRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := h.svc.Random(r.Context(), req.Size)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.RandomResponse{Random: dto.Base64(out)})
}

// Hash handles POST /api/v1/hash
func (h *DeviceHandler) Hash(w http.ResponseWriter, r *http.Request) {
	var req dto.HashRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	data, ok := decodeField(w, "data", &req.Data)
	if !ok {
		return
	}
	digest, err := h.svc.Hash(r.Context(), req.Algorithm, data)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.HashResponse{Algorithm: req.Algorithm, Digest: dto.Base64(digest)})
}

func signParams(req *dto.SignRequest) service.SignParams {
	return service.SignParams{Slot: req.Slot, KeyType: req.KeyType, Hash: req.Hash, Padding: req.Padding}
}

// Sign handles POST /api/v1/sign
func (h *DeviceHandler) Sign(w http.ResponseWriter, r *http.Request) {
	var req dto.SignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	digest, ok := decodeField(w, "digest", &req.Digest)
	if !ok {
		return
	}
	sig, err := h.svc.Sign(r.Context(), signParams(&req), digest)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.SignResponse{Signature: dto.Base64(sig)})
}

// Verify handles POST /api/v1/verify
func (h *DeviceHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req dto.VerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	digest, ok := decodeField(w, "digest", &req.Digest)
	if !ok {
		return
	}
	sig, ok := decodeField(w, "signature", &req.Signature)
	if !ok {
		return
	}
	valid, err := h.svc.Verify(r.Context(), signParams(&req.SignRequest), digest, sig)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.VerifyResponse{Valid: valid})
}
