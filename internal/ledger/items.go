package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertItem records a catalog item. Idempotent: an existing item keeps
// its current status, checksum, and attempt count; only the source path
// is refreshed. New items start Pending.
func (l *Ledger) UpsertItem(ctx context.Context, item VideoItem) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("upsert_item", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err = l.withWriteLock(func() error {
		_, execErr := l.db.ExecContext(ctx, `
		INSERT INTO items (id, side, source_path, status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id, side) DO UPDATE SET
			source_path = excluded.source_path,
			updated_at = strftime('%s', 'now')
		`, item.ID, item.Side, item.SourcePath, ItemPending)
		return execErr
	})
	return err
}

// ClaimItem attempts the Pending/Failed -> Transforming transition. It
// returns true only for the caller that won the compare-and-set;
// everyone else observes a lost race and must not run the transform.
func (l *Ledger) ClaimItem(ctx context.Context, id string, side Side) (bool, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("claim_item", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var won bool
	err = l.withWriteLock(func() error {
		result, execErr := l.db.ExecContext(ctx, `
		UPDATE items SET
			status = ?,
			updated_at = strftime('%s', 'now')
		WHERE id = ? AND side = ? AND status IN (?, ?)
		`, ItemTransforming, id, side, ItemPending, ItemFailed)
		if execErr != nil {
			return execErr
		}
		rows, raErr := result.RowsAffected()
		if raErr != nil {
			return raErr
		}
		won = rows > 0
		return nil
	})
	return won, err
}

// MarkItemFailed records a failed transform attempt with its reason.
// The item remains claimable for the next retry.
func (l *Ledger) MarkItemFailed(ctx context.Context, id string, side Side, reason string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("mark_item_failed", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err = l.withWriteLock(func() error {
		_, execErr := l.db.ExecContext(ctx, `
		UPDATE items SET
			status = ?,
			reason = ?,
			attempts = attempts + 1,
			updated_at = strftime('%s', 'now')
		WHERE id = ? AND side = ?
		`, ItemFailed, reason, id, side)
		return execErr
	})
	return err
}

// MarkItemReady records a successful transform: artifact path, content
// checksum, and the ready timestamp.
func (l *Ledger) MarkItemReady(ctx context.Context, id string, side Side, artifactPath, checksum string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("mark_item_ready", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err = l.withWriteLock(func() error {
		_, execErr := l.db.ExecContext(ctx, `
		UPDATE items SET
			status = ?,
			artifact_path = ?,
			checksum = ?,
			reason = '',
			ready_at = strftime('%s', 'now'),
			updated_at = strftime('%s', 'now')
		WHERE id = ? AND side = ?
		`, ItemReady, artifactPath, checksum, id, side)
		return execErr
	})
	return err
}

// ResetItem forces an item back to Pending, clearing its artifact
// record. Used when a join discovers a corrupt artifact and the item
// must be re-transformed.
func (l *Ledger) ResetItem(ctx context.Context, id string, side Side, reason string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("reset_item", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err = l.withWriteLock(func() error {
		_, execErr := l.db.ExecContext(ctx, `
		UPDATE items SET
			status = ?,
			artifact_path = '',
			checksum = '',
			reason = ?,
			attempts = attempts + 1,
			updated_at = strftime('%s', 'now')
		WHERE id = ? AND side = ?
		`, ItemPending, reason, id, side)
		return execErr
	})
	return err
}

// DeadLetterItem routes an item to the dead-letter set after retry
// exhaustion. The item is never silently dropped; it stays queryable
// via DeadLetteredItems.
func (l *Ledger) DeadLetterItem(ctx context.Context, id string, side Side, reason string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("dead_letter_item", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err = l.withWriteLock(func() error {
		_, execErr := l.db.ExecContext(ctx, `
		UPDATE items SET
			status = ?,
			reason = ?,
			attempts = attempts + 1,
			updated_at = strftime('%s', 'now')
		WHERE id = ? AND side = ?
		`, ItemDead, reason, id, side)
		return execErr
	})
	return err
}

// itemCAS performs a compare-and-set status transition on one item.
func (l *Ledger) itemCAS(ctx context.Context, op, id string, side Side, from, to ItemStatus, reason string) (bool, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery(op, start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var won bool
	err = l.withWriteLock(func() error {
		result, execErr := l.db.ExecContext(ctx, `
		UPDATE items SET
			status = ?,
			reason = ?,
			updated_at = strftime('%s', 'now')
		WHERE id = ? AND side = ? AND status = ?
		`, to, reason, id, side, from)
		if execErr != nil {
			return execErr
		}
		rows, raErr := result.RowsAffected()
		if raErr != nil {
			return raErr
		}
		won = rows > 0
		return nil
	})
	return won, err
}

// Item retrieves a single item.
func (l *Ledger) Item(ctx context.Context, id string, side Side) (*VideoItem, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_item", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	row := l.db.QueryRowContext(ctx, `
	SELECT id, side, source_path, status, artifact_path, checksum, reason, attempts, ready_at, updated_at
	FROM items WHERE id = ? AND side = ?
	`, id, side)

	item, scanErr := scanItem(row)
	if scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			err = scanErr
			return nil, fmt.Errorf("item %s/%s not found", side, id)
		}
		err = scanErr
		return nil, scanErr
	}
	return item, nil
}

// ItemsBySide returns all items on one side, ordered by id.
func (l *Ledger) ItemsBySide(ctx context.Context, side Side) ([]VideoItem, error) {
	return l.queryItems(ctx, "items_by_side",
		"WHERE side = ? ORDER BY id", side)
}

// ReadyItems returns all Ready items on one side, ordered by readiness
// time.
func (l *Ledger) ReadyItems(ctx context.Context, side Side) ([]VideoItem, error) {
	return l.queryItems(ctx, "ready_items",
		"WHERE side = ? AND status = ? ORDER BY ready_at, id", side, ItemReady)
}

// DeadLetteredItems returns the item dead-letter set.
func (l *Ledger) DeadLetteredItems(ctx context.Context) ([]VideoItem, error) {
	return l.queryItems(ctx, "dead_items",
		"WHERE status = ? ORDER BY updated_at, id", ItemDead)
}

func (l *Ledger) queryItems(ctx context.Context, op, where string, args ...any) ([]VideoItem, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery(op, start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, queryErr := l.db.QueryContext(ctx, `
	SELECT id, side, source_path, status, artifact_path, checksum, reason, attempts, ready_at, updated_at
	FROM items `+where, args...)
	if queryErr != nil {
		err = queryErr
		return nil, queryErr
	}
	defer rows.Close()

	var items []VideoItem
	for rows.Next() {
		item, scanErr := scanItem(rows)
		if scanErr != nil {
			err = scanErr
			return nil, scanErr
		}
		items = append(items, *item)
	}
	err = rows.Err()
	return items, err
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanItem(s scanner) (*VideoItem, error) {
	var item VideoItem
	var readyAt, updatedAt int64

	if err := s.Scan(
		&item.ID, &item.Side, &item.SourcePath, &item.Status,
		&item.ArtifactPath, &item.Checksum, &item.Reason, &item.Attempts,
		&readyAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	if readyAt > 0 {
		item.ReadyAt = time.Unix(readyAt, 0)
	}
	item.UpdatedAt = time.Unix(updatedAt, 0)
	return &item, nil
}
