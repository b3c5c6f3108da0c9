package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"dsm-storage-node/internal/blinded"
	"dsm-storage-node/internal/model"
)

type inboxSubmitRequest struct {
	Entry            model.InboxEntry `json:"entry"`
	MailboxID        string           `json:"mailbox_id"`
	StateNumber      uint64           `json:"state_number"`
	CurrentStateHash [32]byte         `json:"current_state_hash"`
}

// inboxSubmit handles POST /api/v1/inbox/submit: blinds the submitted
// unilateral transaction and stores it under the inbox keyspace
// convention (spec §6, §4.9).
func (h *handlers) inboxSubmit(w http.ResponseWriter, r *http.Request) {
	var req inboxSubmitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	projection := blinded.CreateStateProjection(req.CurrentStateHash, req.StateNumber, req.Entry.Transaction, req.Entry.RecipientDeviceID, 0)
	entry, err := blinded.CreateBlindedPayload(req.Entry, req.MailboxID, projection)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.n.Distribution.StoreDistributed(r.Context(), entry); err != nil {
		writeError(w, err)
		return
	}
	writeCreated(w, entry)
}

type inboxRetrieveRequest struct {
	MailboxID string `json:"mailbox_id"`
}

// inboxRetrieve handles POST /api/v1/inbox/retrieve: lists every entry
// under "inbox:<mailbox_id>:*" (spec §6 keyspace convention).
func (h *handlers) inboxRetrieve(w http.ResponseWriter, r *http.Request) {
	var req inboxRetrieveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, _, err := blinded.ParseMailboxID(req.MailboxID); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, h.mailboxEntries(req.MailboxID))
}

type inboxAcknowledgeRequest struct {
	TxIDs     []string `json:"tx_ids"`
	MailboxID string   `json:"mailbox_id"`
}

// inboxAcknowledge handles POST /api/v1/inbox/acknowledge: deletes
// acknowledged transactions from the local store (spec §6).
func (h *handlers) inboxAcknowledge(w http.ResponseWriter, r *http.Request) {
	var req inboxAcknowledgeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	deleted := 0
	for _, txID := range req.TxIDs {
		key := "inbox:" + req.MailboxID + ":" + txID
		if h.n.Store.Delete(key) {
			deleted++
		}
	}
	writeOK(w, map[string]int{"deleted": deleted})
}

type mailboxStatusResponse struct {
	MailboxID       string `json:"mailbox_id"`
	EntryCount      int    `json:"entry_count"`
	OldestTimestamp int64  `json:"oldest_timestamp"`
	NewestTimestamp int64  `json:"newest_timestamp"`
	TotalBytes      int64  `json:"total_bytes"`
}

// inboxStatus handles GET /api/v1/inbox/{mailbox_id}/status (spec §12
// supplemented feature #3): scans inbox:<mailbox_id>:* and summarizes.
func (h *handlers) inboxStatus(w http.ResponseWriter, r *http.Request) {
	mailboxID := chi.URLParam(r, "mailbox_id")
	entries := h.mailboxEntries(mailboxID)

	resp := mailboxStatusResponse{MailboxID: mailboxID, EntryCount: len(entries)}
	for i, e := range entries {
		resp.TotalBytes += int64(e.Size())
		if i == 0 || e.Timestamp < resp.OldestTimestamp {
			resp.OldestTimestamp = e.Timestamp
		}
		if i == 0 || e.Timestamp > resp.NewestTimestamp {
			resp.NewestTimestamp = e.Timestamp
		}
	}
	writeOK(w, resp)
}

func (h *handlers) mailboxEntries(mailboxID string) []*model.BlindedEntry {
	prefix := "inbox:" + mailboxID + ":"
	ids := h.n.Store.List(0, 0)
	out := make([]*model.BlindedEntry, 0)
	for _, id := range ids {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		if entry, ok := h.n.Store.Retrieve(id); ok {
			out = append(out, entry)
		}
	}
	return out
}
