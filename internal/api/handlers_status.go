package api

import (
	"net/http"
	"time"

	"dsm-storage-node/internal/config"
	"dsm-storage-node/internal/errs"
	"dsm-storage-node/internal/model"
)

type statusResponse struct {
	NodeID       string  `json:"node_id"`
	Status       string  `json:"status"`
	Version      string  `json:"version"`
	UptimeSec    float64 `json:"uptime"`
	Peers        int     `json:"peers"`
	StorageUsed  int64   `json:"storage_used"`
	StorageTotal int64   `json:"storage_total"`
	StakedAmount uint64  `json:"staked_amount"`
}

// status serves GET /api/v1/status with a typed body, not the standard
// envelope (spec §6).
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		NodeID:       h.n.ID,
		Status:       "running",
		Version:      config.Version,
		UptimeSec:    h.n.Uptime().Seconds(),
		Peers:        len(h.n.Cluster.Nodes("")),
		StorageUsed:  h.n.Store.MemoryBytes(),
		StorageTotal: h.n.Config.Store.MaxMemoryBytes,
		StakedAmount: h.n.Config.Node.StakedAmount,
	}
	writeJSON(w, http.StatusOK, resp)
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Timestamp: time.Now().Unix()})
}

func (h *handlers) listPeers(w http.ResponseWriter, r *http.Request) {
	writeOK(w, h.n.Cluster.Nodes(""))
}

func (h *handlers) joinPeer(w http.ResponseWriter, r *http.Request) {
	h.registerNode(w, r)
}

func (h *handlers) registerPeer(w http.ResponseWriter, r *http.Request) {
	h.registerNode(w, r)
}

// registerNode backs the node self-registration/join protocol (spec §12
// supplemented feature #1): a joining node posts its NodeRecord and is
// added to both the cluster manager's node table and the partition ring.
func (h *handlers) registerNode(w http.ResponseWriter, r *http.Request) {
	var rec model.NodeRecord
	if !decodeJSON(w, r, &rec) {
		return
	}
	if rec.ID == "" || rec.Endpoint == "" {
		writeError(w, errs.New(errs.InvalidInput, "node id and endpoint are required"))
		return
	}
	h.n.Cluster.AddNode(&rec)
	h.n.Ring.AddNode(&rec)
	writeCreated(w, rec)
}
