package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"dsm-storage-node/internal/errs"
	"dsm-storage-node/internal/model"
)

type addContactRequest struct {
	DeviceID string        `json:"device_id"`
	Contact  model.Contact `json:"contact"`
}

// addContact handles POST /api/v1/contacts: registers a bilateral
// counterparty on the requesting device's chain manager (spec §6, §4.3).
func (h *handlers) addContact(w http.ResponseWriter, r *http.Request) {
	var req addContactRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.DeviceID == "" {
		writeError(w, errs.New(errs.InvalidInput, "device_id is required"))
		return
	}
	cm := h.n.ChainManager(req.DeviceID)
	if err := cm.AddContact(&req.Contact); err != nil {
		writeError(w, err)
		return
	}
	writeCreated(w, req.Contact)
}

type updateChainTipRequest struct {
	DeviceID        string `json:"device_id"`
	ContactDeviceID string `json:"contact_device_id"`
	NewTip          string `json:"new_tip"`
}

func (h *handlers) updateChainTip(w http.ResponseWriter, r *http.Request) {
	var req updateChainTipRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cm := h.n.ChainManager(req.DeviceID)
	if err := cm.UpdateChainTip(req.ContactDeviceID, req.NewTip); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

type createBilateralStateRequest struct {
	DeviceID   string           `json:"device_id"`
	PrevHash   string           `json:"prev_hash"`
	Operation  string           `json:"operation"`
	Randomness []byte           `json:"randomness"`
	Deltas     map[string]int64 `json:"balance_deltas"`
}

// createBilateralState handles POST /api/v1/bilateral-state (spec §6,
// §4.3): computes the next forward-only state hash for the device.
func (h *handlers) createBilateralState(w http.ResponseWriter, r *http.Request) {
	var req createBilateralStateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cm := h.n.ChainManager(req.DeviceID)
	state, err := cm.CreateNextState(req.PrevHash, req.Operation, req.Randomness, req.Deltas)
	if err != nil {
		writeError(w, err)
		return
	}
	writeCreated(w, state)
}

func (h *handlers) getDeviceIdentity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, ok := h.n.Store.Retrieve("device_identity:" + id)
	if !ok {
		writeError(w, errs.New(errs.NotFound, "device identity not found"))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type verifyChainRequest struct {
	DeviceID string `json:"device_id"`
	From     string `json:"from"`
	To       string `json:"to"`
}

// verifyChain handles POST /api/v1/verify-chain (spec §6, §4.3).
func (h *handlers) verifyChain(w http.ResponseWriter, r *http.Request) {
	var req verifyChainRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cm := h.n.ChainManager(req.DeviceID)
	ok, err := cm.VerifyChain(req.From, req.To)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]bool{"verified": ok})
}
