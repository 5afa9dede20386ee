package ledger

import (
	"context"
	"time"
)

// InsertPair atomically check-and-inserts a pair task. It returns true
// if this call created the pair, false if the pair already existed.
// This is the sole arbiter of the exactly-once pairing invariant: under
// concurrent left/right readiness arrivals racing to create the same
// pair, exactly one caller sees created=true.
func (l *Ledger) InsertPair(ctx context.Context, leftID, rightID, outputPath string, urgent bool) (bool, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("insert_pair", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var created bool
	err = l.withWriteLock(func() error {
		result, execErr := l.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO pairs (left_id, right_id, state, output_path, urgent)
		VALUES (?, ?, ?, ?, ?)
		`, leftID, rightID, PairQueued, outputPath, boolToInt(urgent))
		if execErr != nil {
			return execErr
		}
		rows, raErr := result.RowsAffected()
		if raErr != nil {
			return raErr
		}
		created = rows > 0
		return nil
	})
	return created, err
}

// ClaimPair attempts the Queued/Failed -> Running transition. Only the
// winner of the compare-and-set may execute the join.
func (l *Ledger) ClaimPair(ctx context.Context, leftID, rightID string) (bool, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("claim_pair", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var won bool
	err = l.withWriteLock(func() error {
		result, execErr := l.db.ExecContext(ctx, `
		UPDATE pairs SET
			state = ?,
			updated_at = strftime('%s', 'now')
		WHERE left_id = ? AND right_id = ? AND state IN (?, ?)
		`, PairRunning, leftID, rightID, PairQueued, PairFailed)
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

// MarkPairFailed records a failed combine attempt with its reason. The
// pair remains claimable for the next retry.
func (l *Ledger) MarkPairFailed(ctx context.Context, leftID, rightID string, reason string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("mark_pair_failed", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err = l.withWriteLock(func() error {
		_, execErr := l.db.ExecContext(ctx, `
		UPDATE pairs SET
			state = ?,
			reason = ?,
			attempts = attempts + 1,
			updated_at = strftime('%s', 'now')
		WHERE left_id = ? AND right_id = ? AND state = ?
		`, PairFailed, reason, leftID, rightID, PairRunning)
		return execErr
	})
	return err
}

// MarkPairDone records a successful join publish.
func (l *Ledger) MarkPairDone(ctx context.Context, leftID, rightID string) error {
	_, err := l.pairCAS(ctx, "mark_pair_done", leftID, rightID, PairRunning, PairDone, "")
	return err
}

// RequeuePair returns a pair to the Queued state so it can be picked up
// again, e.g. after its source artifact has been re-published.
func (l *Ledger) RequeuePair(ctx context.Context, leftID, rightID string, reason string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("requeue_pair", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err = l.withWriteLock(func() error {
		_, execErr := l.db.ExecContext(ctx, `
		UPDATE pairs SET
			state = ?,
			reason = ?,
			attempts = attempts + 1,
			updated_at = strftime('%s', 'now')
		WHERE left_id = ? AND right_id = ? AND state != ?
		`, PairQueued, reason, leftID, rightID, PairDone)
		return execErr
	})
	return err
}

// DeadLetterPair routes a pair to the dead-letter set after retry
// exhaustion. Dead pairs are never retried again and never dropped;
// they stay queryable via DeadLetteredPairs.
func (l *Ledger) DeadLetterPair(ctx context.Context, leftID, rightID string, reason string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("dead_letter_pair", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err = l.withWriteLock(func() error {
		_, execErr := l.db.ExecContext(ctx, `
		UPDATE pairs SET
			state = ?,
			reason = ?,
			attempts = attempts + 1,
			updated_at = strftime('%s', 'now')
		WHERE left_id = ? AND right_id = ?
		`, PairDead, reason, leftID, rightID)
		return execErr
	})
	return err
}

// pairCAS performs a compare-and-set state transition on one pair.
func (l *Ledger) pairCAS(ctx context.Context, op, leftID, rightID string, from, to PairState, reason string) (bool, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery(op, start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var won bool
	err = l.withWriteLock(func() error {
		result, execErr := l.db.ExecContext(ctx, `
		UPDATE pairs SET
			state = ?,
			reason = ?,
			updated_at = strftime('%s', 'now')
		WHERE left_id = ? AND right_id = ? AND state = ?
		`, to, reason, leftID, rightID, from)
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

// PairsByState returns pairs in a given state, FIFO by creation time
// with urgent pairs first.
func (l *Ledger) PairsByState(ctx context.Context, state PairState) ([]PairTask, error) {
	return l.queryPairs(ctx, "pairs_by_state",
		"WHERE state = ? ORDER BY urgent DESC, created_at, left_id, right_id", state)
}

// UnfinishedPairs returns all pairs that are neither Done nor dead,
// FIFO by creation time with urgent pairs first. Used during recovery.
func (l *Ledger) UnfinishedPairs(ctx context.Context) ([]PairTask, error) {
	return l.queryPairs(ctx, "unfinished_pairs",
		"WHERE state NOT IN (?, ?) ORDER BY urgent DESC, created_at, left_id, right_id",
		PairDone, PairDead)
}

// DeadLetteredPairs returns the pair dead-letter set.
func (l *Ledger) DeadLetteredPairs(ctx context.Context) ([]PairTask, error) {
	return l.queryPairs(ctx, "dead_pairs",
		"WHERE state = ? ORDER BY updated_at, left_id, right_id", PairDead)
}

// CountPairs returns the number of pairs per state.
func (l *Ledger) CountPairs(ctx context.Context) (map[PairState]int, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("count_pairs", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, queryErr := l.db.QueryContext(ctx,
		"SELECT state, COUNT(*) FROM pairs GROUP BY state")
	if queryErr != nil {
		err = queryErr
		return nil, queryErr
	}
	defer rows.Close()

	counts := make(map[PairState]int)
	for rows.Next() {
		var state PairState
		var n int
		if scanErr := rows.Scan(&state, &n); scanErr != nil {
			err = scanErr
			return nil, scanErr
		}
		counts[state] = n
	}
	err = rows.Err()
	return counts, err
}

func (l *Ledger) queryPairs(ctx context.Context, op, where string, args ...any) ([]PairTask, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery(op, start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, queryErr := l.db.QueryContext(ctx, `
	SELECT left_id, right_id, state, output_path, reason, attempts, urgent, created_at, updated_at
	FROM pairs `+where, args...)
	if queryErr != nil {
		err = queryErr
		return nil, queryErr
	}
	defer rows.Close()

	var pairs []PairTask
	for rows.Next() {
		var p PairTask
		var urgent int
		var createdAt, updatedAt int64
		if scanErr := rows.Scan(
			&p.LeftID, &p.RightID, &p.State, &p.OutputPath,
			&p.Reason, &p.Attempts, &urgent, &createdAt, &updatedAt,
		); scanErr != nil {
			err = scanErr
			return nil, scanErr
		}
		p.Urgent = urgent != 0
		p.CreatedAt = time.Unix(createdAt, 0)
		p.UpdatedAt = time.Unix(updatedAt, 0)
		pairs = append(pairs, p)
	}
	err = rows.Err()
	return pairs, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
