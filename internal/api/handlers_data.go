package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"dsm-storage-node/internal/model"
	"dsm-storage-node/internal/store"
)

// putData handles POST /api/v1/data/{key}: stores an arbitrary JSON blob
// as a BlindedEntry and replicates it per the distribution coordinator's
// placement policy (spec §6, §4.7). The request body is a BlindedEntry;
// encrypted_payload is standard base64-in-JSON for a []byte field, so
// peer-to-peer forwarding and direct client calls share one wire shape.
func (h *handlers) putData(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	be := new(model.BlindedEntry)
	if !decodeJSON(w, r, be) {
		return
	}
	be.BlindedID = key
	be.Timestamp = time.Now().Unix()
	be.ProofHash = store.VerificationHash(be)

	if err := h.n.Distribution.StoreDistributed(r.Context(), be); err != nil {
		writeError(w, err)
		return
	}
	writeCreated(w, be)
}

// getData handles GET /api/v1/data/{key}: every key, device_identity:*
// included, is looked up in the local store first and then through the
// distribution coordinator; no key prefix is treated specially. It
// returns the bare entry (spec §6/§7: "encrypted payloads verbatim plus
// metadata").
func (h *handlers) getData(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	if entry, ok := h.n.Store.Retrieve(key); ok {
		writeJSON(w, http.StatusOK, entry)
		return
	}
	entry, err := h.n.Distribution.RetrieveDistributed(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *handlers) deleteData(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	h.n.Distribution.DeleteDistributed(r.Context(), key)
	writeOK(w, nil)
}
