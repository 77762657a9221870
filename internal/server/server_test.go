package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alanyoungcy/triarb/internal/domain"
)

func testServer(t *testing.T, decisions DecisionsFunc) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	status := func() Status {
		return Status{Mode: "monitor", Symbols: []string{"BTCUSDT"}, BooksReady: true, Decisions: 7}
	}
	srv := NewServer(Config{Port: 0}, status, decisions, nil, logger)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthEndpoint(t *testing.T) {
	ts := testServer(t, func(int) []domain.Decision { return nil })

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	ts := testServer(t, func(int) []domain.Decision { return nil })

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	defer resp.Body.Close()

	var got Status
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Mode != "monitor" || !got.BooksReady || got.Decisions != 7 {
		t.Fatalf("status = %+v", got)
	}
}

func TestDecisionsEndpointLimit(t *testing.T) {
	var gotLimit int
	ts := testServer(t, func(limit int) []domain.Decision {
		gotLimit = limit
		return []domain.Decision{{ID: "d1"}}
	})

	resp, err := http.Get(ts.URL + "/api/decisions?limit=5")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if gotLimit != 5 {
		t.Fatalf("limit=%d want 5", gotLimit)
	}

	var out []domain.Decision
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].ID != "d1" {
		t.Fatalf("decisions = %+v", out)
	}
}

func TestDecisionsEndpointRejectsBadLimit(t *testing.T) {
	ts := testServer(t, func(int) []domain.Decision { return nil })

	for _, q := range []string{"limit=0", "limit=1001", "limit=abc"} {
		resp, err := http.Get(ts.URL + "/api/decisions?" + q)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status=%d want 400", q, resp.StatusCode)
		}
	}
}

func TestDecisionsEndpointNeverReturnsNull(t *testing.T) {
	ts := testServer(t, func(int) []domain.Decision { return nil })

	resp, err := http.Get(ts.URL + "/api/decisions")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) == "null\n" {
		t.Fatalf("empty history serialized as null")
	}
}
