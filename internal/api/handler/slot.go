package handler

import (
	"crypto/x509"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/remiblancher/sehal/internal/api/dto"
	apierrors "github.com/remiblancher/sehal/internal/api/errors"
	"github.com/remiblancher/sehal/internal/api/service"
)

// SlotHandler handles per-slot keys, certificates and storage.
type SlotHandler struct {
	svc *service.DeviceService
}

// NewSlotHandler creates a new SlotHandler.
func NewSlotHandler(svc *service.DeviceService) *SlotHandler {
	return &SlotHandler{svc: svc}
}

// slotParam parses {slot}, decimal or 0x-prefixed hex.
func slotParam(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	raw := chi.URLParam(r, "slot")
	n, err := strconv.ParseUint(raw, 0, 32)
	if err != nil {
		respondError(w, http.StatusBadRequest, apierrors.NewBadRequest("invalid slot: "+raw))
		return 0, false
	}
	return uint32(n), true
}

// Key handles GET /api/v1/keys/{slot}?type=ecc-p256
func (h *SlotHandler) Key(w http.ResponseWriter, r *http.Request) {
	slot, ok := slotParam(w, r)
	if !ok {
		return
	}
	keyType := r.URL.Query().Get("type")
	if keyType == "" {
		respondError(w, http.StatusBadRequest, apierrors.NewBadRequest("type query parameter is required"))
		return
	}
	pub, err := h.svc.PublicKeyPEM(r.Context(), slot, keyType)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.KeyResponse{Slot: slot, KeyType: keyType, PublicKey: pub})
}

// GetCert handles GET /api/v1/certs/{slot}
func (h *SlotHandler) GetCert(w http.ResponseWriter, r *http.Request) {
	slot, ok := slotParam(w, r)
	if !ok {
		return
	}
	der, err := h.svc.Certificate(r.Context(), slot)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	resp := dto.CertResponse{Slot: slot, Certificate: dto.Base64(der)}
	if cert, err := x509.ParseCertificate(der); err == nil {
		resp.Subject = cert.Subject.String()
	}
	respondJSON(w, http.StatusOK, resp)
}

// PutCert handles PUT /api/v1/certs/{slot}
func (h *SlotHandler) PutCert(w http.ResponseWriter, r *http.Request) {
	slot, ok := slotParam(w, r)
	if !ok {
		return
	}
	var req dto.CertRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	der, ok := decodeField(w, "certificate", &req.Certificate)
	if !ok {
		return
	}
	if err := h.svc.PutCertificate(r.Context(), slot, der); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetStorage handles GET /api/v1/storage/{slot}
func (h *SlotHandler) GetStorage(w http.ResponseWriter, r *http.Request) {
	slot, ok := slotParam(w, r)
	if !ok {
		return
	}
	data, err := h.svc.ReadStorage(r.Context(), slot)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.StorageResponse{Slot: slot, Data: dto.Base64(data)})
}

// PutStorage handles PUT /api/v1/storage/{slot}
func (h *SlotHandler) PutStorage(w http.ResponseWriter, r *http.Request) {
	slot, ok := slotParam(w, r)
	if !ok {
		return
	}
	var req dto.StorageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	data, ok := decodeField(w, "data", &req.Data)
	if !ok {
		return
	}
	if err := h.svc.WriteStorage(r.Context(), slot, data); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
