package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"

	"crossjoin/internal/artifact"
	"crossjoin/internal/codec"
	"crossjoin/internal/ledger"
	"crossjoin/internal/logging"
	"crossjoin/internal/metrics"
	"crossjoin/internal/pool"
)

// joinTask combines one pair: claim it, verify both intermediates,
// combine and publish, mark done. A pair whose output is already
// published (crash after publish, or another host) is closed out
// without re-combining.
func (c *Coordinator) joinTask(p ledger.PairTask) func(context.Context) {
	return func(context.Context) {
		ctx := c.runCtx
		won, err := c.led.ClaimPair(ctx, p.LeftID, p.RightID)
		if err != nil {
			if ctx.Err() == nil {
				logging.Error("Claiming pair %s: %v", p.Key(), err)
			}
			return
		}
		if !won {
			logging.Debug("Pair %s already claimed elsewhere", p.Key())
			return
		}

		out := p.OutputPath
		if out == "" {
			out = c.store.OutputPath(p.LeftID, p.RightID)
		}
		if c.store.IsPublished(out) {
			if err := c.led.MarkPairDone(ctx, p.LeftID, p.RightID); err != nil {
				logging.Error("Closing out published pair %s: %v", p.Key(), err)
				return
			}
			metrics.JoinsTotal.WithLabelValues("ok").Inc()
			return
		}

		left := c.store.IntermediatePath(ledger.SideLeft, p.LeftID)
		right := c.store.IntermediatePath(ledger.SideRight, p.RightID)
		if !c.verifyArtifact(ctx, p, ledger.SideLeft, p.LeftID, left) ||
			!c.verifyArtifact(ctx, p, ledger.SideRight, p.RightID, right) {
			return
		}

		if err := c.combineWithRetry(ctx, p, left, right, out); err != nil {
			if errors.Is(err, errLostClaim) || ctx.Err() != nil {
				return
			}
			if derr := c.led.DeadLetterPair(ctx, p.LeftID, p.RightID, err.Error()); derr != nil {
				logging.Error("Dead-lettering pair %s: %v", p.Key(), derr)
				return
			}
			metrics.DeadLetters.WithLabelValues("pair").Inc()
			logging.Error("Pair %s exhausted retries: %v", p.Key(), err)
			return
		}

		if err := c.led.MarkPairDone(ctx, p.LeftID, p.RightID); err != nil {
			logging.Error("Marking pair %s done: %v", p.Key(), err)
			return
		}
		c.pause(ctx)
	}
}

// verifyArtifact checks that one side's intermediate is published and
// matches the checksum the ledger recorded at publish time. A missing
// artifact requeues the pair to wait for it; a checksum mismatch means
// the artifact is corrupt, so the item is reset for re-transformation
// and the pair waits for the fresh publication.
func (c *Coordinator) verifyArtifact(ctx context.Context, p ledger.PairTask, side ledger.Side, id, path string) bool {
	if !c.store.IsPublished(path) {
		c.requeue(ctx, p, fmt.Sprintf("%s artifact %s not yet visible", side, id))
		return false
	}

	item, err := c.led.Item(ctx, id, side)
	if err != nil || item == nil || item.Checksum == "" {
		return true
	}
	sum, err := c.store.Checksum(path)
	if err != nil {
		c.requeue(ctx, p, fmt.Sprintf("reading %s artifact %s: %v", side, id, err))
		return false
	}
	if sum == item.Checksum {
		return true
	}

	logging.Error("Corrupt %s artifact %s: checksum %s, ledger has %s; forcing re-transform",
		side, id, sum, item.Checksum)
	c.retransform(ctx, *item, path)
	c.requeue(ctx, p, fmt.Sprintf("%s artifact %s corrupt, awaiting re-publication", side, id))
	return false
}

// retransform discards a corrupt artifact and sends its item back
// through stage one. Removing the marker first keeps recovery from
// re-adopting the bad file. The resubmission runs on its own goroutine:
// a join worker must never block on the transform queue, or full queues
// on both pools could leave every worker waiting on the other pool.
func (c *Coordinator) retransform(ctx context.Context, item ledger.VideoItem, path string) {
	_ = os.Remove(path + artifact.MarkerSuffix)
	_ = os.Remove(path)
	c.tracker.Forget(item.Side, item.ID)

	if err := c.led.ResetItem(ctx, item.ID, item.Side, "artifact corrupt, re-transforming"); err != nil {
		logging.Error("Resetting %s item %s: %v", item.Side, item.ID, err)
		return
	}
	if c.transforms == nil {
		// Join-only process: the transform host sees the reset item
		// in the shared ledger on its next pass.
		return
	}
	c.handoffs.Add(1)
	go func() {
		defer c.handoffs.Done()
		err := c.transforms.Submit(c.runCtx, c.transformTask(item))
		switch {
		case err == nil:
		case errors.Is(err, pool.ErrStopped):
			// Reset in the ledger already; the next run transforms it.
			logging.Warn("Transform pool stopped; %s item %s re-transforms on the next run", item.Side, item.ID)
		case c.runCtx.Err() == nil:
			logging.Error("Resubmitting %s item %s for re-transform: %v", item.Side, item.ID, err)
		}
	}()
}

func (c *Coordinator) requeue(ctx context.Context, p ledger.PairTask, reason string) {
	if err := c.led.RequeuePair(ctx, p.LeftID, p.RightID, reason); err != nil {
		logging.Error("Requeueing pair %s: %v", p.Key(), err)
	}
}

// combineWithRetry runs combine attempts until one publishes, an input
// error makes retrying pointless, or the budget is spent. Between
// attempts the pair cycles through the ledger's failed state so the
// reason is durable.
func (c *Coordinator) combineWithRetry(ctx context.Context, p ledger.PairTask, left, right, out string) error {
	op := func() (struct{}, error) {
		err := c.combineOnce(ctx, left, right, out)
		if err == nil {
			return struct{}{}, nil
		}

		if errors.Is(err, codec.ErrInput) {
			return struct{}{}, backoff.Permanent(err)
		}
		if ferr := c.led.MarkPairFailed(ctx, p.LeftID, p.RightID, err.Error()); ferr != nil {
			return struct{}{}, backoff.Permanent(ferr)
		}
		won, cerr := c.led.ClaimPair(ctx, p.LeftID, p.RightID)
		if cerr != nil {
			return struct{}{}, backoff.Permanent(cerr)
		}
		if !won {
			return struct{}{}, backoff.Permanent(errLostClaim)
		}
		logging.Warn("Retrying pair %s: %v", p.Key(), err)
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(uint(c.opts.MaxRetries)+1))
	return err
}

func (c *Coordinator) combineOnce(ctx context.Context, left, right, out string) error {
	if c.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.TaskTimeout)
		defer cancel()
	}

	tmp := c.store.TempPath(out)
	start := time.Now()
	err := c.codec.Combine(ctx, left, right, tmp)
	metrics.JoinDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.store.Discard(tmp)
		metrics.JoinsTotal.WithLabelValues("error").Inc()
		return err
	}

	if _, err := c.store.Publish(tmp, out); err != nil {
		c.store.Discard(tmp)
		metrics.JoinsTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.JoinsTotal.WithLabelValues("ok").Inc()
	return nil
}
