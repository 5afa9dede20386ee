package pipeline

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"crossjoin/internal/artifact"
	"crossjoin/internal/codec"
	"crossjoin/internal/ledger"
	"crossjoin/internal/logging"
	"crossjoin/internal/metrics"
	"crossjoin/internal/pairing"
	"crossjoin/internal/pool"
	"crossjoin/internal/tracker"
)

// Mode selects which stages this process runs.
type Mode string

const (
	// ModeLocal runs both stages in one process with push-driven
	// readiness.
	ModeLocal Mode = "local"
	// ModeTransform runs stage one only, publishing intermediates for
	// a join host to discover.
	ModeTransform Mode = "transform"
	// ModeJoin runs stage two only, polling the shared work directory
	// for readiness. There is no direct channel to the transform host.
	ModeJoin Mode = "join"
)

// Options configures a Coordinator.
type Options struct {
	Mode     Mode
	LeftDir  string
	RightDir string

	TransformWorkers int
	JoinWorkers      int
	QueueDepth       int

	// MaxRetries is the number of additional attempts after the first
	// failure before an item or pair is dead-lettered.
	MaxRetries int
	// TaskTimeout bounds a single transform or combine invocation.
	// Zero means no deadline.
	TaskTimeout time.Duration
	// PollInterval is the shared-directory scan cadence in join mode.
	PollInterval time.Duration
	// MaxWallTime bounds the whole run. Zero means unbounded.
	MaxWallTime time.Duration
	// InterTaskPause inserts a throttle after each successful task so
	// a saturated box stays responsive. Zero disables it.
	InterTaskPause time.Duration

	// RetryInitialBackoff and RetryMaxBackoff shape the delay between
	// attempts of a failing task.
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
}

func (o *Options) normalize() {
	if o.Mode == "" {
		o.Mode = ModeLocal
	}
	if o.TransformWorkers < 1 {
		o.TransformWorkers = 1
	}
	if o.JoinWorkers < 1 {
		o.JoinWorkers = 1
	}
	if o.QueueDepth < 1 {
		o.QueueDepth = 16
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 10 * time.Second
	}
	if o.RetryInitialBackoff <= 0 {
		o.RetryInitialBackoff = time.Second
	}
	if o.RetryMaxBackoff <= 0 {
		o.RetryMaxBackoff = 30 * time.Second
	}
}

func (o Options) transformsEnabled() bool { return o.Mode != ModeJoin }
func (o Options) joinsEnabled() bool      { return o.Mode != ModeTransform }

// Coordinator wires catalog, pools, tracker, scheduler and ledger into
// a running pipeline.
type Coordinator struct {
	opts  Options
	led   *ledger.Ledger
	store *artifact.Store
	codec codec.Codec

	tracker    *tracker.Tracker
	sched      *pairing.Scheduler
	transforms *pool.Pool
	joins      *pool.Pool

	// handoffs tracks goroutines resubmitting reset items to the
	// transform pool on behalf of join workers.
	handoffs sync.WaitGroup

	// runCtx carries the run's lifetime into tasks; set once in Run
	// before any task is submitted.
	runCtx context.Context
	runID  string
}

// New builds a coordinator. The pools start immediately but stay idle
// until Run submits work.
func New(opts Options, led *ledger.Ledger, store *artifact.Store, c codec.Codec) *Coordinator {
	opts.normalize()

	co := &Coordinator{
		opts:   opts,
		led:    led,
		store:  store,
		codec:  c,
		runCtx: context.Background(),
	}
	co.tracker = tracker.New(co.onReady)

	if opts.transformsEnabled() {
		co.transforms = pool.New(pool.Config{
			Name:       "transform",
			Workers:    opts.TransformWorkers,
			QueueDepth: opts.QueueDepth,
		})
	}
	if opts.joinsEnabled() {
		co.joins = pool.New(pool.Config{
			Name:       "join",
			Workers:    opts.JoinWorkers,
			QueueDepth: opts.QueueDepth,
		})
		co.sched = pairing.New(led, co.tracker, store, co.dispatchPair)
	}
	return co
}

// Run executes the pipeline until the work is done (local and transform
// modes) or the context ends (join mode). It always drains in-flight
// tasks before returning so no half-claimed entity is abandoned without
// a ledger checkpoint.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.opts.MaxWallTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.MaxWallTime)
		defer cancel()
	}
	c.runCtx = ctx

	c.runID = uuid.NewString()
	hostname, _ := os.Hostname()
	logging.Info("Run %s starting on %s in %s mode", c.runID, hostname, c.opts.Mode)

	if err := c.store.EnsureDirs(); err != nil {
		return fmt.Errorf("preparing directories: %w", err)
	}
	if err := c.led.RegisterRun(ctx, c.runID, hostname, string(c.opts.Mode)); err != nil {
		return fmt.Errorf("registering run: %w", err)
	}

	if _, err := c.led.Recover(ctx, c.itemPublished, c.pairPublished); err != nil {
		return err
	}
	if c.opts.joinsEnabled() {
		if err := c.seedReadiness(ctx); err != nil {
			return err
		}
		if _, err := c.sched.SchedulePending(ctx); err != nil {
			return err
		}
	}

	var err error
	switch c.opts.Mode {
	case ModeLocal:
		err = c.runTransformStage(ctx)
		c.transforms.Stop()
		c.joins.Stop()
	case ModeTransform:
		err = c.runTransformStage(ctx)
		c.transforms.Stop()
	case ModeJoin:
		err = c.runJoinStage(ctx)
		c.joins.Stop()
	default:
		return fmt.Errorf("unknown mode %q", c.opts.Mode)
	}
	c.handoffs.Wait()

	c.logSummary(context.WithoutCancel(ctx))
	return err
}

// runTransformStage catalogs both sides and submits every item. Submit
// blocks when the pool queue fills, so enumeration is naturally paced
// by transform throughput.
func (c *Coordinator) runTransformStage(ctx context.Context) error {
	sides := []struct {
		side ledger.Side
		dir  string
	}{
		{ledger.SideLeft, c.opts.LeftDir},
		{ledger.SideRight, c.opts.RightDir},
	}

	for _, s := range sides {
		items, err := c.enumerate(ctx, s.dir, s.side)
		if err != nil {
			return err
		}
		logging.Info("Catalogued %d %s items from %s", len(items), s.side, s.dir)

		for _, item := range items {
			if err := c.led.UpsertItem(ctx, item); err != nil {
				return fmt.Errorf("recording %s item %s: %w", s.side, item.ID, err)
			}
			if err := c.transforms.Submit(ctx, c.transformTask(item)); err != nil {
				return fmt.Errorf("submitting %s item %s: %w", s.side, item.ID, err)
			}
		}
	}
	return nil
}

// runJoinStage polls the shared work directory for readiness and
// periodically re-dispatches queued pairs, until the context ends.
func (c *Coordinator) runJoinStage(ctx context.Context) error {
	scanner := tracker.NewScanner(c.store, c.tracker, c.resolveChecksum, c.readinessConflict, c.opts.PollInterval)

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// Pairs waiting on a not-yet-visible artifact, and
				// pairs created by other hosts, get picked up here.
				if _, err := c.sched.SchedulePending(ctx); err != nil && ctx.Err() == nil {
					logging.Warn("Dispatching queued pairs: %v", err)
				}
			}
		}
	}()

	err := scanner.Run(ctx)
	if err == context.Canceled || err == context.DeadlineExceeded {
		return nil
	}
	return err
}

// onReady is the tracker callback: every newly ready item is paired
// against the opposite side, and queued pairs that were waiting on this
// item's re-publication are re-dispatched.
func (c *Coordinator) onReady(e tracker.Event) {
	if !c.opts.joinsEnabled() {
		return
	}
	ctx := c.runCtx
	if err := c.sched.OnReady(ctx, e); err != nil && ctx.Err() == nil {
		logging.Error("Pairing %s item %s: %v", e.Side, e.ID, err)
	}
	c.redispatchWaiting(ctx, e)
}

// readinessConflict handles two readiness signals disagreeing on an
// artifact's checksum: the item's provenance is in doubt, so it goes to
// the dead-letter set for an operator. One bad item never stops the
// run.
func (c *Coordinator) readinessConflict(ctx context.Context, e tracker.Event, cause error) {
	logging.Error("Readiness conflict for %s item %s: %v", e.Side, e.ID, cause)
	if err := c.led.DeadLetterItem(ctx, e.ID, e.Side, "checksum conflict: "+cause.Error()); err != nil {
		if ctx.Err() == nil {
			logging.Error("Dead-lettering %s item %s: %v", e.Side, e.ID, err)
		}
		return
	}
	metrics.DeadLetters.WithLabelValues("item").Inc()
}

// redispatchWaiting re-enqueues queued pairs that reference the newly
// ready item and have already been attempted. Fresh pairs were just
// dispatched by the scheduler; a duplicate dispatch is harmless either
// way because the claim is the arbiter, this only avoids the noise.
func (c *Coordinator) redispatchWaiting(ctx context.Context, e tracker.Event) {
	queued, err := c.led.PairsByState(ctx, ledger.PairQueued)
	if err != nil {
		if ctx.Err() == nil {
			logging.Warn("Listing queued pairs: %v", err)
		}
		return
	}
	for _, p := range queued {
		if p.Attempts == 0 {
			continue
		}
		involved := (e.Side == ledger.SideLeft && p.LeftID == e.ID) ||
			(e.Side == ledger.SideRight && p.RightID == e.ID)
		if !involved {
			continue
		}
		if err := c.joins.SubmitUrgent(ctx, c.joinTask(p)); err != nil {
			if ctx.Err() == nil && err != pool.ErrStopped {
				logging.Warn("Re-dispatching pair %s: %v", p.Key(), err)
			}
			return
		}
	}
}

// dispatchPair hands a pair task to the join pool; urgent pairs jump
// the queue.
func (c *Coordinator) dispatchPair(ctx context.Context, p ledger.PairTask) error {
	if p.Urgent {
		return c.joins.SubmitUrgent(ctx, c.joinTask(p))
	}
	return c.joins.Submit(ctx, c.joinTask(p))
}

// seedReadiness replays ledger-ready items into the tracker so pairs
// missing after a crash get created. Inserts are deduplicated, so
// replaying already-paired items is a no-op.
func (c *Coordinator) seedReadiness(ctx context.Context) error {
	for _, side := range []ledger.Side{ledger.SideLeft, ledger.SideRight} {
		items, err := c.led.ReadyItems(ctx, side)
		if err != nil {
			return fmt.Errorf("listing ready %s items: %w", side, err)
		}
		for _, item := range items {
			e := tracker.Event{
				Side:     item.Side,
				ID:       item.ID,
				Path:     item.ArtifactPath,
				Checksum: item.Checksum,
			}
			if _, err := c.tracker.MarkReady(e); err != nil {
				c.readinessConflict(ctx, e, err)
			}
		}
	}
	return nil
}

// itemPublished reports whether an item's intermediate survived a crash
// fully published, and returns its path and checksum for adoption.
func (c *Coordinator) itemPublished(item ledger.VideoItem) (string, string, bool) {
	path := c.store.IntermediatePath(item.Side, item.ID)
	if !c.store.IsPublished(path) {
		return "", "", false
	}
	sum, err := c.store.Checksum(path)
	if err != nil {
		return "", "", false
	}
	return path, sum, true
}

func (c *Coordinator) pairPublished(p ledger.PairTask) bool {
	out := p.OutputPath
	if out == "" {
		out = c.store.OutputPath(p.LeftID, p.RightID)
	}
	return c.store.IsPublished(out)
}

// resolveChecksum serves the join-mode scanner. The transform host
// records each artifact's checksum in the shared ledger; hashing the
// file again is the fallback when that record is missing.
func (c *Coordinator) resolveChecksum(ctx context.Context, side ledger.Side, id, path string) (string, error) {
	item, err := c.led.Item(ctx, id, side)
	if err == nil && item != nil && item.Checksum != "" {
		return item.Checksum, nil
	}
	return c.store.Checksum(path)
}

func (c *Coordinator) logSummary(ctx context.Context) {
	counts, err := c.led.CountPairs(ctx)
	if err != nil {
		logging.Warn("Run %s: summarizing pairs: %v", c.runID, err)
		return
	}
	deadItems, _ := c.led.DeadLetteredItems(ctx)
	deadPairs, _ := c.led.DeadLetteredPairs(ctx)

	logging.Info("Run %s finished: %d pairs done, %d queued, %d running, %d failed; dead-lettered: %d items, %d pairs",
		c.runID, counts[ledger.PairDone], counts[ledger.PairQueued],
		counts[ledger.PairRunning], counts[ledger.PairFailed],
		len(deadItems), len(deadPairs))

	for _, item := range deadItems {
		logging.Warn("Dead-lettered %s item %s (%s): %s", item.Side, item.ID, item.SourcePath, item.Reason)
	}
	for _, p := range deadPairs {
		logging.Warn("Dead-lettered pair %s: %s", p.Key(), p.Reason)
	}
}

// pause throttles between tasks when configured.
func (c *Coordinator) pause(ctx context.Context) {
	if c.opts.InterTaskPause <= 0 {
		return
	}
	select {
	case <-time.After(c.opts.InterTaskPause):
	case <-ctx.Done():
	}
}
