package api

import (
	"net/http"

	"dsm-storage-node/internal/errs"
)

// stream handles GET /api/v1/stream: upgrades to a websocket connection
// and subscribes the caller to live gossip broadcasts (spec §9's
// optional low-latency peer streaming path) alongside the default
// poll-based entries/request RPC.
func (h *handlers) stream(w http.ResponseWriter, r *http.Request) {
	if h.n.Stream == nil {
		writeError(w, errs.New(errs.InvalidState, "streaming is not enabled on this node"))
		return
	}
	if err := h.n.Stream.Subscribe(w, r); err != nil {
		writeError(w, errs.Wrap(errs.Network, err, "upgrade stream connection"))
		return
	}
}
