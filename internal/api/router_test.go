package api

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"dsm-storage-node/internal/cluster"
	"dsm-storage-node/internal/config"
	"dsm-storage-node/internal/model"
	"dsm-storage-node/internal/node"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Node.ID = "test-node"
	n := node.New(cfg, nil, cluster.NewMockPeer())
	self := &model.NodeRecord{ID: n.ID, Endpoint: "http://self.local"}
	n.Ring.AddNode(self)
	n.Cluster.AddNode(self)
	if err := n.Start(); err != nil {
		t.Fatalf("node.Start: %v", err)
	}
	t.Cleanup(n.Stop)
	return NewServer(n)
}

func TestStatusEndpointReportsNodeID(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.NodeID != "test-node" {
		t.Fatalf("expected node_id test-node, got %q", resp.NodeID)
	}
}

func TestHealthEndpointOK(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPutThenGetDataRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	putBody := []byte(`{"blinded_id":"k1","encrypted_payload":"AQID","timestamp":1,"ttl":3600}`)
	req := httptest.NewRequest("POST", "/api/v1/data/k1", bytes.NewReader(putBody))
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)
	if rec.Code != 201 {
		t.Fatalf("put: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest("GET", "/api/v1/data/k1", nil)
	rec = httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("get: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetMissingDataReturns404(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/v1/data/does-not-exist", nil)
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)
	if rec.Code != 404 {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}
