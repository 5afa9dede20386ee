package ledger

import "time"

// Side identifies which input collection an item belongs to.
type Side string

// Input collection sides.
const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLeft {
		return SideRight
	}
	return SideLeft
}

// ItemStatus is the lifecycle state of a source video item.
type ItemStatus string

// Item lifecycle states.
const (
	ItemPending      ItemStatus = "pending"
	ItemTransforming ItemStatus = "transforming"
	ItemReady        ItemStatus = "ready"
	ItemFailed       ItemStatus = "failed"
	ItemDead         ItemStatus = "dead"
)

// VideoItem is a source video on one side of the cross product. The id
// is content-derived and immutable once assigned; status is mutated
// only by the transform worker that claimed the item.
type VideoItem struct {
	ID           string
	Side         Side
	SourcePath   string
	Status       ItemStatus
	ArtifactPath string
	Checksum     string
	Reason       string
	Attempts     int
	ReadyAt      time.Time
	UpdatedAt    time.Time
}

// PairState is the lifecycle state of a join task.
type PairState string

// Pair lifecycle states. Dead pairs form the dead-letter set.
const (
	PairQueued  PairState = "queued"
	PairRunning PairState = "running"
	PairDone    PairState = "done"
	PairFailed  PairState = "failed"
	PairDead    PairState = "dead"
)

// PairTask is one unit of join work, unique per (left id, right id).
type PairTask struct {
	LeftID     string
	RightID    string
	State      PairState
	OutputPath string
	Reason     string
	Attempts   int
	Urgent     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Key returns the pair's unique key.
func (p PairTask) Key() string {
	return p.LeftID + "__" + p.RightID
}
