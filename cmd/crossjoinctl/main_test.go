package main

import (
	"context"
	"path/filepath"
	"testing"

	"crossjoin/internal/ledger"
)

func setupTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	led, err := ledger.Open(context.Background(), filepath.Join(t.TempDir(), "crossjoin.db"))
	if err != nil {
		t.Fatalf("opening ledger: %v", err)
	}
	t.Cleanup(func() { _ = led.Close() })
	return led
}

func TestPrintUsage(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("printUsage panicked: %v", r)
		}
	}()
	printUsage()
}

func TestShowStatusEmptyLedger(t *testing.T) {
	led := setupTestLedger(t)
	if !showStatus(context.Background(), led) {
		t.Error("showStatus failed on an empty ledger")
	}
}

func TestShowDeadEmptyLedger(t *testing.T) {
	led := setupTestLedger(t)
	if !showDead(context.Background(), led) {
		t.Error("showDead failed on an empty ledger")
	}
}

func TestRetryDeadItem(t *testing.T) {
	led := setupTestLedger(t)
	ctx := context.Background()

	item := ledger.VideoItem{ID: "v1", Side: ledger.SideLeft, SourcePath: "/in/v1.mp4", Status: ledger.ItemPending}
	if err := led.UpsertItem(ctx, item); err != nil {
		t.Fatalf("UpsertItem failed: %v", err)
	}
	if err := led.DeadLetterItem(ctx, "v1", ledger.SideLeft, "decoder kept crashing"); err != nil {
		t.Fatalf("DeadLetterItem failed: %v", err)
	}

	if !retry(ctx, led, []string{"item", "left", "v1"}) {
		t.Fatal("retry rejected a dead-lettered item")
	}

	got, err := led.Item(ctx, "v1", ledger.SideLeft)
	if err != nil {
		t.Fatalf("Item failed: %v", err)
	}
	if got.Status != ledger.ItemPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
}

func TestRetryRejectsLiveItem(t *testing.T) {
	led := setupTestLedger(t)
	ctx := context.Background()

	item := ledger.VideoItem{ID: "v1", Side: ledger.SideLeft, SourcePath: "/in/v1.mp4", Status: ledger.ItemPending}
	if err := led.UpsertItem(ctx, item); err != nil {
		t.Fatalf("UpsertItem failed: %v", err)
	}

	if retry(ctx, led, []string{"item", "left", "v1"}) {
		t.Error("retry accepted an item that is not dead-lettered")
	}
}

func TestRetryDeadPair(t *testing.T) {
	led := setupTestLedger(t)
	ctx := context.Background()

	if _, err := led.InsertPair(ctx, "l1", "r1", "/out/l1__r1.mp4", false); err != nil {
		t.Fatalf("InsertPair failed: %v", err)
	}
	if err := led.DeadLetterPair(ctx, "l1", "r1", "encoder kept crashing"); err != nil {
		t.Fatalf("DeadLetterPair failed: %v", err)
	}

	if !retry(ctx, led, []string{"pair", "l1", "r1"}) {
		t.Fatal("retry rejected a dead-lettered pair")
	}

	queued, err := led.PairsByState(ctx, ledger.PairQueued)
	if err != nil {
		t.Fatalf("PairsByState failed: %v", err)
	}
	if len(queued) != 1 || queued[0].Key() != "l1__r1" {
		t.Errorf("queued pairs = %v, want just l1__r1", queued)
	}
}

func TestRetryBadArgs(t *testing.T) {
	led := setupTestLedger(t)
	ctx := context.Background()

	for _, args := range [][]string{
		nil,
		{"item", "left"},
		{"item", "sideways", "v1"},
		{"widget", "a", "b"},
	} {
		if retry(ctx, led, args) {
			t.Errorf("retry(%v) succeeded, want rejection", args)
		}
	}
}
