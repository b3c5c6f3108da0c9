package api

import (
	"encoding/json"
	"net/http"

	"dsm-storage-node/internal/errs"
)

// envelope is the standard {success, message} wrapper used by every
// endpoint that doesn't return a typed status body (spec §6/§7).
type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func writeCreated(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusCreated, envelope{Success: true, Data: data})
}

// writeError maps the node's typed error taxonomy (§7) onto standard HTTP
// status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if kind, ok := errs.KindOf(err); ok {
		switch kind {
		case errs.InvalidInput, errs.Validation, errs.InvalidKey, errs.InvalidCiphertext, errs.InvalidOperation, errs.InvalidConfiguration:
			status = http.StatusBadRequest
		case errs.NotFound:
			status = http.StatusNotFound
		case errs.Distribution, errs.Network, errs.Timeout, errs.QueueFull:
			status = http.StatusServiceUnavailable
		case errs.CryptoFailure, errs.Storage, errs.Serialization, errs.TaskCancelled, errs.TaskFailed, errs.InvalidState:
			status = http.StatusInternalServerError
		}
	}
	writeJSON(w, status, envelope{Success: false, Message: err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "malformed request body: " + err.Error()})
		return false
	}
	return true
}
