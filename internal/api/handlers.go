// Sawyer's RPG - Cloud Save Gateway
// Copyright 2026 cplax14
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cplax14/sawyers-rpg-game-sub008

package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/cplax14/sawyers-rpg-game-sub008/internal/gateway"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/identity"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/saves"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/slotsync"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/validation"
)

// maxRequestBody bounds request bodies well above the largest legal
// save so oversized payloads are cut off at the transport.
const maxRequestBody = 32 << 20

// Handler serves the save endpoints.
type Handler struct {
	svc *gateway.Service
}

// NewHandler creates the handler around the gateway service.
func NewHandler(svc *gateway.Service) *Handler {
	return &Handler{svc: svc}
}

// saveBody is the JSON body of a save request. The slot comes from the
// URL; everything else from the body.
type saveBody struct {
	SaveName    string           `json:"saveName" validate:"required,savename,max=100"`
	State       saves.GameState  `json:"state" validate:"required"`
	GameVersion string           `json:"gameVersion,omitempty"`
	Playtime    int64            `json:"playtime,omitempty" validate:"min=0"`
	CurrentArea string           `json:"currentArea,omitempty" validate:"max=200"`
	DeviceInfo  saves.DeviceInfo `json:"deviceInfo,omitempty"`

	// Attachment is a base64-encoded screenshot, optional.
	Attachment     []byte `json:"attachment,omitempty"`
	AttachmentType string `json:"attachmentType,omitempty" validate:"max=100"`
}

// batchBody is the JSON body of a batch save request.
type batchBody struct {
	Saves []batchItem `json:"saves" validate:"required,min=1,max=10,dive"`
}

type batchItem struct {
	SlotNumber int `json:"slotNumber" validate:"min=0"`
	saveBody
}

// syncBody describes the device-local copy of a slot for sync
// resolution. An empty body means the device has no local copy.
type syncBody struct {
	LastModified time.Time `json:"lastModified"`
	Checksum     string    `json:"checksum" validate:"max=128"`
}

// Save handles PUT /api/v1/saves/{slot}.
func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	id, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	slot, ok := slotParam(w, r)
	if !ok {
		return
	}

	var body saveBody
	if !decodeBody(w, r, &body) {
		return
	}

	writeResult(w, r, h.svc.SaveToCloud(r.Context(), id, saveRequest(slot, body)))
}

// Load handles GET /api/v1/saves/{slot}.
func (h *Handler) Load(w http.ResponseWriter, r *http.Request) {
	id, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	slot, ok := slotParam(w, r)
	if !ok {
		return
	}

	writeResult(w, r, h.svc.LoadFromCloud(r.Context(), id, slot))
}

// List handles GET /api/v1/saves.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	writeResult(w, r, h.svc.ListCloudSaves(r.Context(), id))
}

// Delete handles DELETE /api/v1/saves/{slot}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	slot, ok := slotParam(w, r)
	if !ok {
		return
	}

	writeResult(w, r, h.svc.DeleteCloudSave(r.Context(), id, slot))
}

// BatchSave handles POST /api/v1/saves/batch.
func (h *Handler) BatchSave(w http.ResponseWriter, r *http.Request) {
	id, ok := callerIdentity(w, r)
	if !ok {
		return
	}

	var body batchBody
	if !decodeBody(w, r, &body) {
		return
	}

	reqs := make([]gateway.SaveRequest, 0, len(body.Saves))
	for _, item := range body.Saves {
		reqs = append(reqs, saveRequest(item.SlotNumber, item.saveBody))
	}

	batch := h.svc.BatchSaveToCloud(r.Context(), id, reqs)

	rw := NewResponseWriter(w, r)
	meta := rw.meta()
	meta.OperationID = batch.OperationID
	status := http.StatusOK
	if !batch.Success {
		// Partial failure: the caller inspects per-item results.
		status = http.StatusMultiStatus
	}
	rw.write(status, APIResponse{Success: batch.Success, Data: batch.Items, Meta: meta})
}

// Sync handles POST /api/v1/saves/{slot}/sync.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	id, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	slot, ok := slotParam(w, r)
	if !ok {
		return
	}

	var local *slotsync.LocalSave
	var body syncBody
	switch err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&body); {
	case err == nil:
		if verr := validation.ValidateStruct(&body); verr != nil {
			NewResponseWriter(w, r).ValidationError("invalid sync request", verr.Errors())
			return
		}
		local = &slotsync.LocalSave{
			SlotNumber:   slot,
			LastModified: body.LastModified,
			Checksum:     body.Checksum,
		}
	case errors.Is(err, io.EOF):
		// No body: the device has no local copy of this slot.
	default:
		NewResponseWriter(w, r).BadRequest("request body is not valid JSON")
		return
	}

	writeResult(w, r, h.svc.SyncSlot(r.Context(), id, local))
}

// StorageStats handles GET /api/v1/saves/stats/storage.
func (h *Handler) StorageStats(w http.ResponseWriter, r *http.Request) {
	id, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	writeResult(w, r, h.svc.StorageStats(r.Context(), id))
}

// CompressionStats handles GET /api/v1/saves/stats/compression.
func (h *Handler) CompressionStats(w http.ResponseWriter, r *http.Request) {
	id, ok := callerIdentity(w, r)
	if !ok {
		return
	}
	writeResult(w, r, h.svc.CompressionStats(r.Context(), id))
}

// HealthLive handles GET /api/v1/health/live.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "alive"})
}

// HealthReady handles GET /api/v1/health/ready.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil {
		NewResponseWriter(w, r).Error(http.StatusServiceUnavailable,
			ErrCodeInternalError, "gateway not ready")
		return
	}
	NewResponseWriter(w, r).Success(map[string]string{"status": "ready"})
}

// saveRequest maps a decoded body onto the gateway's input.
func saveRequest(slot int, body saveBody) gateway.SaveRequest {
	return gateway.SaveRequest{
		SlotNumber:     slot,
		SaveName:       body.SaveName,
		State:          body.State,
		GameVersion:    body.GameVersion,
		Playtime:       body.Playtime,
		CurrentArea:    body.CurrentArea,
		Device:         body.DeviceInfo,
		Attachment:     body.Attachment,
		AttachmentType: body.AttachmentType,
	}
}

// callerIdentity pulls the authenticated identity from the context. The
// Authenticator middleware guarantees it; a miss means a wiring bug.
func callerIdentity(w http.ResponseWriter, r *http.Request) (identity.Identity, bool) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		NewResponseWriter(w, r).Unauthorized("no authenticated identity")
		return identity.Identity{}, false
	}
	return id, true
}

// slotParam parses the {slot} URL parameter. Range checking belongs to
// the gateway; here only the syntax is judged.
func slotParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := chi.URLParam(r, "slot")
	slot, err := strconv.Atoi(raw)
	if err != nil {
		NewResponseWriter(w, r).BadRequest("slot must be an integer")
		return 0, false
	}
	return slot, true
}

// decodeBody parses and validates a JSON request body.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(dst); err != nil {
		NewResponseWriter(w, r).BadRequest("request body is not valid JSON")
		return false
	}
	if verr := validation.ValidateStruct(dst); verr != nil {
		NewResponseWriter(w, r).ValidationError("invalid request", verr.Errors())
		return false
	}
	return true
}
