package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"dsm-storage-node/internal/errs"
	"dsm-storage-node/internal/model"
)

// HTTPPeer is the real network variant of Peer (spec §9 design note): it
// speaks the same §6 JSON wire format the node's own internal/api server
// exposes, so any two nodes running this binary can address each other.
type HTTPPeer struct {
	client *http.Client
}

// NewHTTPPeer builds a Peer that dispatches over plain HTTP with the
// given per-call timeout.
func NewHTTPPeer(timeout time.Duration) *HTTPPeer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPPeer{client: &http.Client{Timeout: timeout}}
}

func (p *HTTPPeer) do(ctx context.Context, method, url string, body interface{}, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return errs.Wrap(errs.Serialization, err, "encode peer request")
		}
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return errs.Wrap(errs.Network, err, "build peer request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return errs.Wrap(errs.Network, err, "peer request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errs.New(errs.NotFound, "peer returned not found")
	}
	if resp.StatusCode >= 500 {
		return errs.Newf(errs.Network, "peer returned status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return errs.Newf(errs.InvalidInput, "peer rejected request: status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Wrap(errs.Serialization, err, "decode peer response")
	}
	return nil
}

func (p *HTTPPeer) HealthCheck(ctx context.Context, endpoint string) error {
	return p.do(ctx, http.MethodGet, endpoint+"/api/v1/health", nil, nil)
}

func (p *HTTPPeer) ForwardGet(ctx context.Context, endpoint, key string) (*model.BlindedEntry, error) {
	var entry model.BlindedEntry
	if err := p.do(ctx, http.MethodGet, endpoint+"/api/v1/data/"+key, nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (p *HTTPPeer) ForwardPut(ctx context.Context, endpoint string, entry *model.BlindedEntry) error {
	return p.do(ctx, http.MethodPost, endpoint+"/api/v1/data/"+entry.BlindedID, entry, nil)
}

func (p *HTTPPeer) ForwardDelete(ctx context.Context, endpoint, key string) error {
	return p.do(ctx, http.MethodDelete, endpoint+"/api/v1/data/"+key, nil, nil)
}

func (p *HTTPPeer) SendEntries(ctx context.Context, endpoint string, entries []GossipEntry) error {
	return p.do(ctx, http.MethodPost, endpoint+"/api/v1/entries", struct {
		Entries []GossipEntry `json:"entries"`
	}{entries}, nil)
}

func (p *HTTPPeer) RequestEntries(ctx context.Context, endpoint string, since map[string]uint64) ([]GossipEntry, error) {
	var resp struct {
		Entries []GossipEntry `json:"entries"`
	}
	if err := p.do(ctx, http.MethodPost, endpoint+"/api/v1/entries/request", struct {
		Since map[string]uint64 `json:"since"`
	}{since}, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (p *HTTPPeer) Status(ctx context.Context, endpoint string) (*model.NodeMetrics, error) {
	var resp struct {
		StorageUsed  uint64 `json:"storage_used"`
		StorageTotal uint64 `json:"storage_total"`
	}
	if err := p.do(ctx, http.MethodGet, endpoint+"/api/v1/status", nil, &resp); err != nil {
		return nil, err
	}
	return &model.NodeMetrics{
		Capacity:    resp.StorageTotal,
		Used:        resp.StorageUsed,
		Healthy:     true,
		LastUpdated: time.Now(),
	}, nil
}

func (p *HTTPPeer) Join(ctx context.Context, endpoint string, self *model.NodeRecord) error {
	return p.do(ctx, http.MethodPost, endpoint+"/api/v1/peers/join", self, nil)
}

func (p *HTTPPeer) Register(ctx context.Context, endpoint string, self *model.NodeRecord) error {
	return p.do(ctx, http.MethodPost, endpoint+"/api/v1/peers/register", self, nil)
}
