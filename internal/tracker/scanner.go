package tracker

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"crossjoin/internal/artifact"
	"crossjoin/internal/filesystem"
	"crossjoin/internal/ledger"
	"crossjoin/internal/logging"
	"crossjoin/internal/metrics"
)

// ChecksumResolver returns the expected checksum for a discovered
// artifact, typically from the shared ledger.
type ChecksumResolver func(ctx context.Context, side ledger.Side, id, path string) (string, error)

// ConflictHandler is invoked when a discovered artifact's checksum
// disagrees with what the tracker already recorded for the same id.
// The scan continues; quarantining the item is the handler's job.
type ConflictHandler func(ctx context.Context, e Event, cause error)

// Scanner discovers readiness by polling the shared artifact
// directories. It is the join side's only readiness source in
// distributed mode, where no push channel exists between hosts. An item
// counts as ready only once both the artifact file and its completion
// marker are visible, which guards against eventual-consistency windows
// on network filesystems.
type Scanner struct {
	store      *artifact.Store
	tracker    *Tracker
	resolve    ChecksumResolver
	onConflict ConflictHandler
	interval   time.Duration
}

// NewScanner creates a Scanner polling at the given interval.
// onConflict may be nil, in which case conflicts are only logged.
func NewScanner(store *artifact.Store, tr *Tracker, resolve ChecksumResolver, onConflict ConflictHandler, interval time.Duration) *Scanner {
	return &Scanner{
		store:      store,
		tracker:    tr,
		resolve:    resolve,
		onConflict: onConflict,
		interval:   interval,
	}
}

// Run polls until the context is cancelled. An initial scan happens
// immediately so restart recovery does not wait a full interval.
func (s *Scanner) Run(ctx context.Context) error {
	logging.Info("Starting artifact readiness scanning (interval: %v)", s.interval)

	if err := s.ScanOnce(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.ScanOnce(ctx); err != nil {
				return err
			}
		case <-ctx.Done():
			logging.Info("Artifact readiness scanning stopped")
			return nil
		}
	}
}

// ScanOnce scans both side directories and marks every fully-published
// artifact ready. A checksum conflict quarantines that one item via the
// conflict handler; the scan carries on.
func (s *Scanner) ScanOnce(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.ScannerPollsTotal.Inc()
		metrics.ScannerPollDuration.Observe(time.Since(start).Seconds())
	}()

	for _, side := range []ledger.Side{ledger.SideLeft, ledger.SideRight} {
		if err := s.scanSide(ctx, side); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) scanSide(ctx context.Context, side ledger.Side) error {
	dir := s.store.SideDir(side)

	entries, err := filesystem.ReadDirWithRetry(dir, filesystem.DefaultRetryConfig())
	if err != nil {
		// The transform side may not have created the directory yet.
		logging.Debug("Scan of %s skipped: %v", dir, err)
		return nil
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, artifact.MarkerSuffix) {
			continue
		}

		id := strings.TrimSuffix(name, filepath.Ext(name))
		path := filepath.Join(dir, name)

		if s.tracker.IsReady(side, id) {
			continue
		}
		if !s.store.IsPublished(path) {
			// Artifact visible but marker not yet; publication is still
			// in flight on the producing host.
			continue
		}

		checksum, err := s.resolve(ctx, side, id, path)
		if err != nil {
			logging.Warn("Cannot resolve checksum for %s/%s: %v", side, id, err)
			continue
		}

		e := Event{Side: side, ID: id, Path: path, Checksum: checksum}
		newlyReady, err := s.tracker.MarkReady(e)
		if err != nil {
			logging.Error("Conflicting checksum for %s/%s: %v", side, id, err)
			if s.onConflict != nil {
				s.onConflict(ctx, e, err)
			}
			continue
		}
		if newlyReady {
			metrics.ScannerDiscoveries.WithLabelValues(string(side)).Inc()
			logging.Info("Discovered ready artifact %s/%s", side, id)
		}
	}

	return nil
}
