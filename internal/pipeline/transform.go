package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"crossjoin/internal/catalog"
	"crossjoin/internal/codec"
	"crossjoin/internal/ledger"
	"crossjoin/internal/logging"
	"crossjoin/internal/metrics"
	"crossjoin/internal/tracker"
)

// errLostClaim means another worker took over the entity between
// attempts. The loser walks away; the new owner carries the work.
var errLostClaim = errors.New("claim lost to another worker")

// enumerate lists one side's sources, retrying transient listing errors.
func (c *Coordinator) enumerate(ctx context.Context, dir string, side ledger.Side) ([]ledger.VideoItem, error) {
	op := func() ([]ledger.VideoItem, error) {
		items, err := catalog.Enumerate(dir, side)
		if err != nil {
			if errors.Is(err, catalog.ErrPartialScan) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return items, nil
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(3))
}

// transformTask processes one source item: claim it in the ledger,
// produce and publish its intermediate, record readiness. An item whose
// artifact is already published (another host, or an earlier run) is
// adopted without re-transforming.
func (c *Coordinator) transformTask(item ledger.VideoItem) func(context.Context) {
	return func(context.Context) {
		ctx := c.runCtx
		won, err := c.led.ClaimItem(ctx, item.ID, item.Side)
		if err != nil {
			if ctx.Err() == nil {
				logging.Error("Claiming %s item %s: %v", item.Side, item.ID, err)
			}
			return
		}
		if !won {
			logging.Debug("%s item %s already claimed elsewhere", item.Side, item.ID)
			return
		}

		dst := c.store.IntermediatePath(item.Side, item.ID)
		if c.store.IsPublished(dst) {
			if sum, err := c.store.Checksum(dst); err == nil {
				logging.Info("Adopting published artifact for %s item %s", item.Side, item.ID)
				c.finishTransform(ctx, item, dst, sum)
				return
			}
		}

		checksum, err := c.transformWithRetry(ctx, item, dst)
		if err != nil {
			if errors.Is(err, errLostClaim) || ctx.Err() != nil {
				return
			}
			if derr := c.led.DeadLetterItem(ctx, item.ID, item.Side, err.Error()); derr != nil {
				logging.Error("Dead-lettering %s item %s: %v", item.Side, item.ID, derr)
				return
			}
			metrics.DeadLetters.WithLabelValues("item").Inc()
			logging.Error("%s item %s exhausted retries: %v", item.Side, item.ID, err)
			return
		}

		c.finishTransform(ctx, item, dst, checksum)
		c.pause(ctx)
	}
}

// transformWithRetry runs transform attempts until one publishes, the
// input proves unusable, or the retry budget is spent. Each failure is
// recorded in the ledger with its reason before the next attempt
// reclaims the item.
func (c *Coordinator) transformWithRetry(ctx context.Context, item ledger.VideoItem, dst string) (string, error) {
	op := func() (string, error) {
		checksum, err := c.transformOnce(ctx, item, dst)
		if err == nil {
			return checksum, nil
		}

		if ferr := c.led.MarkItemFailed(ctx, item.ID, item.Side, err.Error()); ferr != nil {
			return "", backoff.Permanent(ferr)
		}
		if errors.Is(err, codec.ErrInput) {
			return "", backoff.Permanent(err)
		}

		won, cerr := c.led.ClaimItem(ctx, item.ID, item.Side)
		if cerr != nil {
			return "", backoff.Permanent(cerr)
		}
		if !won {
			return "", backoff.Permanent(errLostClaim)
		}
		logging.Warn("Retrying %s item %s: %v", item.Side, item.ID, err)
		return "", err
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(uint(c.opts.MaxRetries)+1))
}

// transformOnce performs a single attempt: write to a temp path, then
// atomically publish. A failed attempt leaves nothing visible.
func (c *Coordinator) transformOnce(ctx context.Context, item ledger.VideoItem, dst string) (string, error) {
	if c.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.TaskTimeout)
		defer cancel()
	}

	tmp := c.store.TempPath(dst)
	start := time.Now()
	err := c.codec.Transform(ctx, item.SourcePath, tmp, item.Side)
	metrics.TransformDuration.WithLabelValues(string(item.Side)).Observe(time.Since(start).Seconds())
	if err != nil {
		c.store.Discard(tmp)
		metrics.TransformsTotal.WithLabelValues(string(item.Side), "error").Inc()
		return "", err
	}

	checksum, err := c.store.Publish(tmp, dst)
	if err != nil {
		c.store.Discard(tmp)
		metrics.TransformsTotal.WithLabelValues(string(item.Side), "error").Inc()
		return "", err
	}
	metrics.TransformsTotal.WithLabelValues(string(item.Side), "ok").Inc()
	return checksum, nil
}

// finishTransform records readiness in the ledger and the tracker. The
// ledger write comes first: a crash between the two is healed at next
// startup by replaying ledger-ready items into the tracker.
func (c *Coordinator) finishTransform(ctx context.Context, item ledger.VideoItem, dst, checksum string) {
	if err := c.led.MarkItemReady(ctx, item.ID, item.Side, dst, checksum); err != nil {
		if ctx.Err() == nil {
			logging.Error("Marking %s item %s ready: %v", item.Side, item.ID, err)
		}
		return
	}

	e := tracker.Event{
		Side:     item.Side,
		ID:       item.ID,
		Path:     dst,
		Checksum: checksum,
	}
	if _, err := c.tracker.MarkReady(e); err != nil {
		c.readinessConflict(ctx, e, err)
	}
}

func (c *Coordinator) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.RetryInitialBackoff
	b.MaxInterval = c.opts.RetryMaxBackoff
	return b
}
