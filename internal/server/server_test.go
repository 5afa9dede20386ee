package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"crossjoin/internal/ledger"
)

func newTestServer(t *testing.T) (*Server, *ledger.Ledger) {
	t.Helper()
	l, err := ledger.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening ledger: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return New(":0", l, "local"), l
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q, want ok", rec.Body.String())
	}
}

func TestStatusReportsProgress(t *testing.T) {
	s, l := newTestServer(t)
	ctx := context.Background()

	item := ledger.VideoItem{ID: "l1", Side: ledger.SideLeft, SourcePath: "/in/a.mp4", Status: ledger.ItemPending}
	if err := l.UpsertItem(ctx, item); err != nil {
		t.Fatalf("UpsertItem failed: %v", err)
	}
	if _, err := l.ClaimItem(ctx, "l1", ledger.SideLeft); err != nil {
		t.Fatalf("ClaimItem failed: %v", err)
	}
	if err := l.MarkItemReady(ctx, "l1", ledger.SideLeft, "/work/left/l1.mkv", "abc"); err != nil {
		t.Fatalf("MarkItemReady failed: %v", err)
	}
	if _, err := l.InsertPair(ctx, "l1", "r1", "/out/l1__r1.mp4", false); err != nil {
		t.Fatalf("InsertPair failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Mode != "local" {
		t.Errorf("mode = %q, want local", resp.Mode)
	}
	if resp.ReadyLeft != 1 {
		t.Errorf("readyLeft = %d, want 1", resp.ReadyLeft)
	}
	if resp.PairsQueued != 1 {
		t.Errorf("pairsQueued = %d, want 1", resp.PairsQueued)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("metrics body is empty")
	}
}
