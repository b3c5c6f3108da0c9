package api

import (
	"encoding/json"
	"net/http"

	"dsm-storage-node/internal/cluster"
)

type entriesPayload struct {
	Entries []cluster.GossipEntry `json:"entries"`
}

// receiveEntries handles POST /api/v1/entries: the server side of a
// peer's send_entries RPC (spec §4.6). Merge is idempotent, so a retried
// or duplicate batch is harmless.
func (h *handlers) receiveEntries(w http.ResponseWriter, r *http.Request) {
	var body entriesPayload
	if !decodeJSON(w, r, &body) {
		return
	}
	h.n.Epidemic.MergeGossipEntries(body.Entries)
	writeOK(w, nil)
}

type requestEntriesBody struct {
	Since map[string]uint64 `json:"since"`
}

// requestEntries handles POST /api/v1/entries/request and GET
// /api/v1/entries: the server
// side of a peer's request_entries RPC. The digest/diff strategy is left
// to the transport (spec §4.6), so this returns the node's full local
// entry set; the caller's MergeGossipEntries call is already idempotent.
func (h *handlers) requestEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost && r.ContentLength > 0 {
		var body requestEntriesBody
		_ = json.NewDecoder(r.Body).Decode(&body) // absent/malformed body means "everything"
	}

	ids := h.n.Store.List(0, 0)
	out := make([]cluster.GossipEntry, 0, len(ids))
	for _, id := range ids {
		entry, ok := h.n.Store.Retrieve(id)
		if !ok {
			continue
		}
		out = append(out, cluster.GossipEntry{
			Key:        id,
			Value:      entry,
			Timestamp:  entry.Timestamp,
			OriginNode: h.n.ID,
		})
	}
	writeJSON(w, http.StatusOK, entriesPayload{Entries: out})
}
