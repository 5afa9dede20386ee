package tracker

import (
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"crossjoin/internal/ledger"
	"crossjoin/internal/metrics"
)

func TestMarkReadyIdempotent(t *testing.T) {
	tr := New(nil)
	e := Event{Side: ledger.SideLeft, ID: "v1", Path: "/work/left/v1.mkv", Checksum: "abc"}

	newly, err := tr.MarkReady(e)
	if err != nil {
		t.Fatalf("first MarkReady failed: %v", err)
	}
	if !newly {
		t.Error("first MarkReady should report newly ready")
	}

	// Same event again: no-op when checksums match.
	newly, err = tr.MarkReady(e)
	if err != nil {
		t.Fatalf("duplicate MarkReady failed: %v", err)
	}
	if newly {
		t.Error("duplicate MarkReady should not report newly ready")
	}

	if got := tr.ReadyCount(ledger.SideLeft); got != 1 {
		t.Errorf("ReadyCount = %d, want 1", got)
	}
}

func TestMarkReadyChecksumConflict(t *testing.T) {
	tr := New(nil)

	if _, err := tr.MarkReady(Event{Side: ledger.SideRight, ID: "v1", Checksum: "aaa"}); err != nil {
		t.Fatalf("MarkReady failed: %v", err)
	}

	_, err := tr.MarkReady(Event{Side: ledger.SideRight, ID: "v1", Checksum: "bbb"})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestOnReadyCalledOncePerItem(t *testing.T) {
	var mu sync.Mutex
	calls := make(map[string]int)

	tr := New(func(e Event) {
		mu.Lock()
		calls[e.ID]++
		mu.Unlock()
	})

	e := Event{Side: ledger.SideLeft, ID: "v1", Checksum: "abc"}
	for i := 0; i < 3; i++ {
		if _, err := tr.MarkReady(e); err != nil {
			t.Fatalf("MarkReady failed: %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if calls["v1"] != 1 {
		t.Errorf("onReady calls = %d, want 1", calls["v1"])
	}
}

func TestConcurrentDuplicateDelivery(t *testing.T) {
	var mu sync.Mutex
	callbacks := 0

	tr := New(func(Event) {
		mu.Lock()
		callbacks++
		mu.Unlock()
	})

	const deliveries = 32
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tr.MarkReady(Event{Side: ledger.SideLeft, ID: "dup", Checksum: "s"}); err != nil {
				t.Errorf("MarkReady failed: %v", err)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if callbacks != 1 {
		t.Errorf("callbacks = %d, want 1", callbacks)
	}
	if got := tr.ReadyCount(ledger.SideLeft); got != 1 {
		t.Errorf("ReadyCount = %d, want 1", got)
	}
}

func TestReadySnapshotOrdered(t *testing.T) {
	tr := New(nil)
	for _, id := range []string{"c", "a", "b"} {
		if _, err := tr.MarkReady(Event{Side: ledger.SideRight, ID: id, Checksum: "s"}); err != nil {
			t.Fatalf("MarkReady failed: %v", err)
		}
	}

	ready := tr.Ready(ledger.SideRight)
	if len(ready) != 3 {
		t.Fatalf("ready = %d, want 3", len(ready))
	}
	for i, want := range []string{"a", "b", "c"} {
		if ready[i].ID != want {
			t.Errorf("ready[%d] = %s, want %s", i, ready[i].ID, want)
		}
	}
}

func TestForget(t *testing.T) {
	tr := New(nil)
	if _, err := tr.MarkReady(Event{Side: ledger.SideLeft, ID: "v1", Checksum: "old"}); err != nil {
		t.Fatalf("MarkReady failed: %v", err)
	}

	tr.Forget(ledger.SideLeft, "v1")

	if tr.IsReady(ledger.SideLeft, "v1") {
		t.Error("item should not be ready after Forget")
	}

	// Re-publication with a new checksum is accepted as new.
	newly, err := tr.MarkReady(Event{Side: ledger.SideLeft, ID: "v1", Checksum: "new"})
	if err != nil {
		t.Fatalf("MarkReady after Forget failed: %v", err)
	}
	if !newly {
		t.Error("re-published item should be newly ready")
	}
}

// The ready-items gauge tracks the map size exactly: MarkReady and
// Forget are its only writers, so it can never drift from the tracker.
func TestReadyItemsGaugeFollowsTracker(t *testing.T) {
	tr := New(nil)
	gauge := metrics.ReadyItems.WithLabelValues(string(ledger.SideLeft))

	for _, id := range []string{"v1", "v2"} {
		if _, err := tr.MarkReady(Event{Side: ledger.SideLeft, ID: id, Checksum: "c-" + id}); err != nil {
			t.Fatalf("MarkReady failed: %v", err)
		}
	}
	if got := testutil.ToFloat64(gauge); got != 2 {
		t.Errorf("gauge after two marks = %v, want 2", got)
	}

	// Duplicates do not move the gauge.
	if _, err := tr.MarkReady(Event{Side: ledger.SideLeft, ID: "v1", Checksum: "c-v1"}); err != nil {
		t.Fatalf("duplicate MarkReady failed: %v", err)
	}
	if got := testutil.ToFloat64(gauge); got != 2 {
		t.Errorf("gauge after duplicate = %v, want 2", got)
	}

	tr.Forget(ledger.SideLeft, "v2")
	if got := testutil.ToFloat64(gauge); got != 1 {
		t.Errorf("gauge after Forget = %v, want 1", got)
	}
}
