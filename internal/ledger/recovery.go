package ledger

import (
	"context"
	"fmt"
	"time"

	"crossjoin/internal/logging"
	"crossjoin/internal/metrics"
)

// RecoveryStats summarizes what startup reconciliation found.
type RecoveryStats struct {
	ItemsRequeued  int
	ItemsRecovered int // ready on disk, ledger lagged behind
	PairsRequeued  int
	PairsRecovered int // output published, ledger lagged behind
}

// Recover reconciles ledger state with reality after a crash. Any
// entity left in an in-progress state is requeued from scratch unless
// its published output already exists on disk, in which case the ledger
// is brought forward to match (at-least-once work, at-most-once
// observable output).
//
// itemPublished and pairPublished report whether the entity's artifact
// and completion marker are both visible on disk.
func (l *Ledger) Recover(
	ctx context.Context,
	itemPublished func(VideoItem) (path, checksum string, ok bool),
	pairPublished func(PairTask) bool,
) (RecoveryStats, error) {
	var stats RecoveryStats

	// Items stuck in Transforming: either the artifact made it out
	// before the crash (marker visible) or the work restarts.
	stuck, err := l.queryItems(ctx, "recover_items",
		"WHERE status = ? ORDER BY side, id", ItemTransforming)
	if err != nil {
		return stats, fmt.Errorf("recovery: listing in-progress items: %w", err)
	}

	for _, item := range stuck {
		if path, checksum, ok := itemPublished(item); ok {
			if err := l.MarkItemReady(ctx, item.ID, item.Side, path, checksum); err != nil {
				return stats, fmt.Errorf("recovery: marking item %s/%s ready: %w", item.Side, item.ID, err)
			}
			stats.ItemsRecovered++
			continue
		}
		if _, err := l.itemCAS(ctx, "recover_item_requeue", item.ID, item.Side,
			ItemTransforming, ItemPending, "requeued after crash"); err != nil {
			return stats, fmt.Errorf("recovery: requeueing item %s/%s: %w", item.Side, item.ID, err)
		}
		stats.ItemsRequeued++
	}

	// Failed items restart as well; their retry budget lives in-process.
	requeuedFailed, err := l.requeueItems(ctx, ItemFailed)
	if err != nil {
		return stats, err
	}
	stats.ItemsRequeued += requeuedFailed

	// Pairs left Queued/Running/Failed: the publish either completed
	// (marker visible, idempotent output) or the join restarts.
	unfinished, err := l.UnfinishedPairs(ctx)
	if err != nil {
		return stats, fmt.Errorf("recovery: listing unfinished pairs: %w", err)
	}

	for _, pair := range unfinished {
		if pairPublished(pair) {
			if err := l.forcePairDone(ctx, pair.LeftID, pair.RightID); err != nil {
				return stats, fmt.Errorf("recovery: marking pair %s done: %w", pair.Key(), err)
			}
			stats.PairsRecovered++
			continue
		}
		if pair.State != PairQueued {
			if err := l.RequeuePair(ctx, pair.LeftID, pair.RightID, "requeued after crash"); err != nil {
				return stats, fmt.Errorf("recovery: requeueing pair %s: %w", pair.Key(), err)
			}
			stats.PairsRequeued++
		}
	}

	metrics.LedgerRecoveredEntities.WithLabelValues("item").Add(float64(stats.ItemsRequeued + stats.ItemsRecovered))
	metrics.LedgerRecoveredEntities.WithLabelValues("pair").Add(float64(stats.PairsRequeued + stats.PairsRecovered))

	if stats.ItemsRequeued+stats.ItemsRecovered+stats.PairsRequeued+stats.PairsRecovered > 0 {
		logging.Info("Recovery: %d items requeued, %d items already published, %d pairs requeued, %d pairs already published",
			stats.ItemsRequeued, stats.ItemsRecovered, stats.PairsRequeued, stats.PairsRecovered)
	}

	return stats, nil
}

// requeueItems moves every item in the given status back to Pending.
func (l *Ledger) requeueItems(ctx context.Context, from ItemStatus) (int, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("requeue_items", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var n int64
	err = l.withWriteLock(func() error {
		result, execErr := l.db.ExecContext(ctx, `
		UPDATE items SET
			status = ?,
			updated_at = strftime('%s', 'now')
		WHERE status = ?
		`, ItemPending, from)
		if execErr != nil {
			return execErr
		}
		n, execErr = result.RowsAffected()
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("recovery: requeueing %s items: %w", from, err)
	}
	return int(n), nil
}

// forcePairDone marks a pair Done regardless of its current state. Only
// recovery uses this, after verifying the published output exists.
func (l *Ledger) forcePairDone(ctx context.Context, leftID, rightID string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("force_pair_done", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err = l.withWriteLock(func() error {
		_, execErr := l.db.ExecContext(ctx, `
		UPDATE pairs SET
			state = ?,
			reason = '',
			updated_at = strftime('%s', 'now')
		WHERE left_id = ? AND right_id = ?
		`, PairDone, leftID, rightID)
		return execErr
	})
	return err
}
