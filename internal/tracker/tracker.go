package tracker

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"crossjoin/internal/ledger"
	"crossjoin/internal/logging"
	"crossjoin/internal/metrics"
)

// ErrConflict indicates two readiness signals for the same id disagree
// on the artifact checksum. This is fatal for the item and requires
// operator resolution; the tracker never silently picks a side.
var ErrConflict = errors.New("readiness conflict")

// Event signals that an item's intermediate artifact is fully
// published.
type Event struct {
	Side     ledger.Side
	ID       string
	Path     string
	Checksum string
	Urgent   bool
}

// Tracker is the per-side id -> readiness map. All methods are safe for
// concurrent use.
type Tracker struct {
	mu    sync.Mutex
	sides map[ledger.Side]map[string]Event

	// onReady is invoked once per newly-ready item, after the tracker
	// state is updated. The entry is inserted before the callback runs,
	// so concurrent arrivals on opposite sides each observe the other;
	// downstream deduplication is the ledger's job.
	onReady func(Event)
}

// New creates a Tracker. onReady may be nil.
func New(onReady func(Event)) *Tracker {
	return &Tracker{
		sides: map[ledger.Side]map[string]Event{
			ledger.SideLeft:  make(map[string]Event),
			ledger.SideRight: make(map[string]Event),
		},
		onReady: onReady,
	}
}

// MarkReady performs the idempotent readiness upsert. It returns true
// if the item is newly ready, false for a matching duplicate, and
// ErrConflict if a duplicate disagrees on the checksum.
func (t *Tracker) MarkReady(e Event) (bool, error) {
	t.mu.Lock()
	existing, dup := t.sides[e.Side][e.ID]
	if dup {
		t.mu.Unlock()
		if existing.Checksum != e.Checksum {
			return false, fmt.Errorf("%w: item %s/%s checksum %s != %s",
				ErrConflict, e.Side, e.ID, existing.Checksum, e.Checksum)
		}
		logging.Debug("Duplicate readiness for %s/%s ignored", e.Side, e.ID)
		return false, nil
	}

	t.sides[e.Side][e.ID] = e
	count := len(t.sides[e.Side])
	t.mu.Unlock()

	metrics.ReadyItems.WithLabelValues(string(e.Side)).Set(float64(count))
	logging.Debug("Item %s/%s ready (%s)", e.Side, e.ID, e.Path)

	if t.onReady != nil {
		t.onReady(e)
	}
	return true, nil
}

// IsReady reports whether an id is ready on a side.
func (t *Tracker) IsReady(side ledger.Side, id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sides[side][id]
	return ok
}

// Ready returns a snapshot of the ready events on one side, ordered by
// id for determinism.
func (t *Tracker) Ready(side ledger.Side) []Event {
	t.mu.Lock()
	events := make([]Event, 0, len(t.sides[side]))
	for _, e := range t.sides[side] {
		events = append(events, e)
	}
	t.mu.Unlock()

	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })
	return events
}

// ReadyCount returns the number of ready items on one side.
func (t *Tracker) ReadyCount(side ledger.Side) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sides[side])
}

// Forget removes an id from the tracker, e.g. when a corrupt artifact
// forces a re-transform. The next readiness signal for the id is
// treated as new.
func (t *Tracker) Forget(side ledger.Side, id string) {
	t.mu.Lock()
	delete(t.sides[side], id)
	count := len(t.sides[side])
	t.mu.Unlock()

	metrics.ReadyItems.WithLabelValues(string(side)).Set(float64(count))
}
