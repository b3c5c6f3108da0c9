package cluster

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dsm-storage-node/internal/model"
)

var exampleEntry = model.BlindedEntry{
	BlindedID:        "inbox:b0xabcdefghijk:tx1",
	EncryptedPayload: []byte{1, 2, 3},
	Timestamp:        1000,
	TTL:              3600,
}

func TestHTTPPeerHealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/health" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewHTTPPeer(time.Second)
	if err := p.HealthCheck(context.Background(), srv.URL); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestHTTPPeerForwardGetNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewHTTPPeer(time.Second)
	if _, err := p.ForwardGet(context.Background(), srv.URL, "missing"); err == nil {
		t.Fatalf("expected not-found error")
	}
}

func TestHTTPPeerForwardPutRoundTrip(t *testing.T) {
	var received model.BlindedEntry
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewHTTPPeer(time.Second)
	err := p.ForwardPut(context.Background(), srv.URL, &exampleEntry)
	if err != nil {
		t.Fatalf("ForwardPut: %v", err)
	}
	if received.BlindedID != exampleEntry.BlindedID {
		t.Fatalf("expected blinded id to round-trip, got %q", received.BlindedID)
	}
}
