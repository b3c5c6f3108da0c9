package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"dsm-storage-node/internal/errs"
	"dsm-storage-node/internal/model"
)

type initiateGenesisRequest struct {
	Threshold          int      `json:"threshold"`
	AnchorToMaster     string   `json:"anchor_to_master,omitempty"`
	ParticipatingNodes []string `json:"participating_nodes,omitempty"`
}

// initiateGenesis backs both POST /api/v1/mpc/genesis and
// /api/v1/genesis/create (spec §6): the DSM-protocol genesis path
// requires the same MPC session underneath, so both routes share one
// handler.
func (h *handlers) initiateGenesis(w http.ResponseWriter, r *http.Request) {
	var req initiateGenesisRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	participating := req.ParticipatingNodes
	if participating == nil {
		for _, n := range h.n.Cluster.Nodes("") {
			participating = append(participating, n.ID)
		}
	}
	session, err := h.n.MPC.CreateGenesisMPCSession(req.Threshold, req.AnchorToMaster, participating)
	if err != nil {
		writeError(w, err)
		return
	}
	writeCreated(w, session)
}

type contributeGenesisRequest struct {
	SessionID    string             `json:"session_id"`
	Contribution model.Contribution `json:"contribution"`
}

// contributeGenesis backs both POST /api/v1/mpc/contribute and
// /api/v1/genesis/contribute.
func (h *handlers) contributeGenesis(w http.ResponseWriter, r *http.Request) {
	var req contributeGenesisRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		writeError(w, errs.New(errs.InvalidInput, "session_id is required"))
		return
	}
	session, err := h.n.MPC.AddContribution(req.SessionID, req.Contribution)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, session)
}

func (h *handlers) genesisSessionStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session, ok := h.n.MPC.GetMPCSession(id)
	if !ok {
		writeError(w, errs.New(errs.NotFound, "genesis session not found"))
		return
	}
	writeOK(w, session)
}
