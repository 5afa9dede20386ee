package pairing

import (
	"context"
	"fmt"

	"crossjoin/internal/ledger"
	"crossjoin/internal/logging"
	"crossjoin/internal/metrics"
	"crossjoin/internal/tracker"
)

// OutputPather maps a pair of item ids to the path its combined output
// will be published at.
type OutputPather interface {
	OutputPath(leftID, rightID string) string
}

// Dispatch hands a freshly created pair task to the join stage. It is
// only invoked for pairs this scheduler won the creation race for.
type Dispatch func(ctx context.Context, pair ledger.PairTask) error

// Scheduler creates pair tasks from readiness events.
type Scheduler struct {
	ledger   *ledger.Ledger
	tracker  *tracker.Tracker
	paths    OutputPather
	dispatch Dispatch
}

func New(l *ledger.Ledger, tr *tracker.Tracker, paths OutputPather, dispatch Dispatch) *Scheduler {
	return &Scheduler{
		ledger:   l,
		tracker:  tr,
		paths:    paths,
		dispatch: dispatch,
	}
}

// OnReady pairs the newly ready item against every ready item on the
// opposite side. Candidates that arrive after the snapshot is taken are
// not missed: their own OnReady sees this item, because the tracker
// records readiness before it invokes its callback.
func (s *Scheduler) OnReady(ctx context.Context, e tracker.Event) error {
	candidates := s.tracker.Ready(e.Side.Opposite())
	if len(candidates) == 0 {
		return nil
	}

	logging.Debug("Pairing %s item %s against %d %s candidates",
		e.Side, e.ID, len(candidates), e.Side.Opposite())

	var firstErr error
	for _, c := range candidates {
		leftID, rightID := orient(e, c)
		urgent := e.Urgent || c.Urgent
		if err := s.create(ctx, leftID, rightID, urgent); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SchedulePending dispatches every pair the ledger holds in the queued
// state. Called at startup so tasks requeued by recovery get picked up
// again, and periodically in scan mode to adopt pairs created by other
// hosts.
func (s *Scheduler) SchedulePending(ctx context.Context) (int, error) {
	pairs, err := s.ledger.PairsByState(ctx, ledger.PairQueued)
	if err != nil {
		return 0, fmt.Errorf("listing queued pairs: %w", err)
	}
	dispatched := 0
	for _, p := range pairs {
		if err := s.dispatch(ctx, p); err != nil {
			return dispatched, err
		}
		dispatched++
	}
	return dispatched, nil
}

func (s *Scheduler) create(ctx context.Context, leftID, rightID string, urgent bool) error {
	outputPath := s.paths.OutputPath(leftID, rightID)
	created, err := s.ledger.InsertPair(ctx, leftID, rightID, outputPath, urgent)
	if err != nil {
		return fmt.Errorf("recording pair %s/%s: %w", leftID, rightID, err)
	}
	if !created {
		metrics.PairsDuplicateRace.Inc()
		return nil
	}
	metrics.PairsCreated.Inc()

	pair := ledger.PairTask{
		LeftID:     leftID,
		RightID:    rightID,
		State:      ledger.PairQueued,
		OutputPath: outputPath,
		Urgent:     urgent,
	}
	return s.dispatch(ctx, pair)
}

// orient places the event and candidate ids on their ledger sides.
func orient(e tracker.Event, c tracker.Event) (leftID, rightID string) {
	if e.Side == ledger.SideLeft {
		return e.ID, c.ID
	}
	return c.ID, e.ID
}
