package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()

	l, err := Open(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		if err := l.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return l
}

func TestSideOpposite(t *testing.T) {
	if SideLeft.Opposite() != SideRight {
		t.Error("left opposite should be right")
	}
	if SideRight.Opposite() != SideLeft {
		t.Error("right opposite should be left")
	}
}

func TestUpsertItemIdempotent(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	item := VideoItem{ID: "abc123", Side: SideLeft, SourcePath: "/videos/a.mp4"}
	if err := l.UpsertItem(ctx, item); err != nil {
		t.Fatalf("UpsertItem failed: %v", err)
	}

	// Move it to Ready, then upsert again; status must survive.
	if won, err := l.ClaimItem(ctx, "abc123", SideLeft); err != nil || !won {
		t.Fatalf("ClaimItem = %v, %v; want true, nil", won, err)
	}
	if err := l.MarkItemReady(ctx, "abc123", SideLeft, "/work/left/abc123.png.mkv", "deadbeef"); err != nil {
		t.Fatalf("MarkItemReady failed: %v", err)
	}

	if err := l.UpsertItem(ctx, item); err != nil {
		t.Fatalf("second UpsertItem failed: %v", err)
	}

	got, err := l.Item(ctx, "abc123", SideLeft)
	if err != nil {
		t.Fatalf("Item failed: %v", err)
	}
	if got.Status != ItemReady {
		t.Errorf("Status after re-upsert = %q, want %q", got.Status, ItemReady)
	}
	if got.Checksum != "deadbeef" {
		t.Errorf("Checksum after re-upsert = %q, want deadbeef", got.Checksum)
	}
	if got.ReadyAt.IsZero() {
		t.Error("ReadyAt should be set")
	}
}

func TestClaimItemSingleWinner(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	if err := l.UpsertItem(ctx, VideoItem{ID: "v1", Side: SideRight, SourcePath: "/videos/v1.mp4"}); err != nil {
		t.Fatalf("UpsertItem failed: %v", err)
	}

	const claimers = 8
	var wg sync.WaitGroup
	wins := make(chan bool, claimers)

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := l.ClaimItem(ctx, "v1", SideRight)
			if err != nil {
				t.Errorf("ClaimItem error: %v", err)
				return
			}
			if won {
				wins <- true
			}
		}()
	}
	wg.Wait()
	close(wins)

	if got := len(wins); got != 1 {
		t.Errorf("winners = %d, want exactly 1", got)
	}
}

func TestInsertPairExactlyOnce(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	const racers = 16
	var wg sync.WaitGroup
	created := make(chan bool, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.InsertPair(ctx, "l1", "r1", "/out/l1__r1.mp4", false)
			if err != nil {
				t.Errorf("InsertPair error: %v", err)
				return
			}
			if ok {
				created <- true
			}
		}()
	}
	wg.Wait()
	close(created)

	if got := len(created); got != 1 {
		t.Errorf("created = %d, want exactly 1", got)
	}

	pairs, err := l.PairsByState(ctx, PairQueued)
	if err != nil {
		t.Fatalf("PairsByState failed: %v", err)
	}
	if len(pairs) != 1 {
		t.Fatalf("queued pairs = %d, want 1", len(pairs))
	}
	if pairs[0].Key() != "l1__r1" {
		t.Errorf("pair key = %q, want l1__r1", pairs[0].Key())
	}
}

func TestPairLifecycle(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	if _, err := l.InsertPair(ctx, "a", "b", "/out/a__b.mp4", false); err != nil {
		t.Fatalf("InsertPair failed: %v", err)
	}

	won, err := l.ClaimPair(ctx, "a", "b")
	if err != nil || !won {
		t.Fatalf("ClaimPair = %v, %v; want true, nil", won, err)
	}

	// Second claim must lose.
	won, err = l.ClaimPair(ctx, "a", "b")
	if err != nil {
		t.Fatalf("second ClaimPair error: %v", err)
	}
	if won {
		t.Error("second ClaimPair should lose the compare-and-set")
	}

	if err := l.MarkPairDone(ctx, "a", "b"); err != nil {
		t.Fatalf("MarkPairDone failed: %v", err)
	}

	counts, err := l.CountPairs(ctx)
	if err != nil {
		t.Fatalf("CountPairs failed: %v", err)
	}
	if counts[PairDone] != 1 {
		t.Errorf("done pairs = %d, want 1", counts[PairDone])
	}
}

// Between combine attempts a pair parks in the Failed state with its
// reason on record, and the next attempt reclaims it from there.
func TestMarkPairFailedKeepsPairClaimable(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	if _, err := l.InsertPair(ctx, "a", "b", "/out/a__b.mp4", false); err != nil {
		t.Fatalf("InsertPair failed: %v", err)
	}
	if _, err := l.ClaimPair(ctx, "a", "b"); err != nil {
		t.Fatalf("ClaimPair failed: %v", err)
	}
	if err := l.MarkPairFailed(ctx, "a", "b", "encoder crashed"); err != nil {
		t.Fatalf("MarkPairFailed failed: %v", err)
	}

	failed, err := l.PairsByState(ctx, PairFailed)
	if err != nil {
		t.Fatalf("PairsByState failed: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("failed pairs = %d, want 1", len(failed))
	}
	if failed[0].Reason != "encoder crashed" {
		t.Errorf("reason = %q", failed[0].Reason)
	}
	if failed[0].Attempts != 1 {
		t.Errorf("attempts = %d, want 1", failed[0].Attempts)
	}

	won, err := l.ClaimPair(ctx, "a", "b")
	if err != nil {
		t.Fatalf("reclaim error: %v", err)
	}
	if !won {
		t.Error("a failed pair must be claimable for the next attempt")
	}
}

func TestDeadLetterPair(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	if _, err := l.InsertPair(ctx, "x", "y", "/out/x__y.mp4", false); err != nil {
		t.Fatalf("InsertPair failed: %v", err)
	}
	if err := l.DeadLetterPair(ctx, "x", "y", "combine failed permanently"); err != nil {
		t.Fatalf("DeadLetterPair failed: %v", err)
	}

	dead, err := l.DeadLetteredPairs(ctx)
	if err != nil {
		t.Fatalf("DeadLetteredPairs failed: %v", err)
	}
	if len(dead) != 1 {
		t.Fatalf("dead pairs = %d, want 1", len(dead))
	}
	if dead[0].Reason != "combine failed permanently" {
		t.Errorf("reason = %q", dead[0].Reason)
	}

	// Dead pairs are excluded from recovery requeueing.
	unfinished, err := l.UnfinishedPairs(ctx)
	if err != nil {
		t.Fatalf("UnfinishedPairs failed: %v", err)
	}
	if len(unfinished) != 0 {
		t.Errorf("unfinished pairs = %d, want 0", len(unfinished))
	}
}

func TestPairOrderingUrgentFirst(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	if _, err := l.InsertPair(ctx, "l1", "r1", "/out/l1__r1.mp4", false); err != nil {
		t.Fatalf("InsertPair failed: %v", err)
	}
	if _, err := l.InsertPair(ctx, "l2", "r2", "/out/l2__r2.mp4", true); err != nil {
		t.Fatalf("InsertPair failed: %v", err)
	}

	pairs, err := l.PairsByState(ctx, PairQueued)
	if err != nil {
		t.Fatalf("PairsByState failed: %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("queued pairs = %d, want 2", len(pairs))
	}
	if !pairs[0].Urgent {
		t.Error("urgent pair should order first")
	}
}

func TestReadyItems(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	for _, id := range []string{"i1", "i2", "i3"} {
		if err := l.UpsertItem(ctx, VideoItem{ID: id, Side: SideLeft, SourcePath: "/v/" + id}); err != nil {
			t.Fatalf("UpsertItem failed: %v", err)
		}
	}
	for _, id := range []string{"i1", "i3"} {
		if _, err := l.ClaimItem(ctx, id, SideLeft); err != nil {
			t.Fatalf("ClaimItem failed: %v", err)
		}
		if err := l.MarkItemReady(ctx, id, SideLeft, "/work/left/"+id, "sum-"+id); err != nil {
			t.Fatalf("MarkItemReady failed: %v", err)
		}
	}

	ready, err := l.ReadyItems(ctx, SideLeft)
	if err != nil {
		t.Fatalf("ReadyItems failed: %v", err)
	}
	if len(ready) != 2 {
		t.Errorf("ready items = %d, want 2", len(ready))
	}
}
