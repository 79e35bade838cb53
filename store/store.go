// Package store implements the event log: the single authoritative state
// from which every derived structure (causal frontier, cell summaries,
// beliefs) is computed. Admission is linearized through a single writer
// path. Reads take a shared lock on the same state: a read in progress
// delays admission, and an admission in progress delays reads.
package store

import (
	"context"

	"github.com/rng-ops/gossip/causal"
	"github.com/rng-ops/gossip/cell"
	"github.com/rng-ops/gossip/crypto"
	"github.com/rng-ops/gossip/event"
)

// AdmitOutcome is the result of a single admission attempt.
type AdmitOutcome int

const (
	// Accepted means the event was new and has been added to the store.
	Accepted AdmitOutcome = iota
	// Duplicate means an event with this id was already present; admission
	// is idempotent and the store is unchanged.
	Duplicate
	// Rejected means the event failed validation; see the accompanying
	// reason.
	Rejected
)

func (o AdmitOutcome) String() string {
	switch o {
	case Accepted:
		return "Accepted"
	case Duplicate:
		return "Duplicate"
	case Rejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// Validator is implemented by the validation pipeline. The store calls it
// once per candidate event, after its own structural and sequence checks.
// Keeping this as a narrow interface rather than a concrete dependency lets
// the validation package depend on store for its own purposes (e.g. the
// overflow buffer's retry admitter) without entangling the two.
type Validator interface {
	Validate(ctx context.Context, candidate *event.Event, priorSeq uint64, haveSeq bool) error
}

// EventStore is the public contract of the event log, per the admit/get/
// cell_scan/frontier operations every node exposes.
type EventStore interface {
	// Admit attempts to add an event to the log. Admitting the same event
	// twice, or admitting any permutation of the same event set, leaves the
	// store in an identical final state (it is a grow-only, idempotent,
	// commutative merge over event sets).
	Admit(ctx context.Context, e *event.Event) (AdmitOutcome, error)

	// Get looks up a single event by content address.
	Get(id crypto.Hash) (*event.Event, bool)

	// CellScan yields events in a (world, terrain) cell whose
	// (replica_id, sequence) exceed the caller's supplied per-replica
	// frontier, in (replica_id, sequence) ascending order.
	CellScan(world crypto.Hash, terrain event.TerrainAddress, since *causal.VersionVector) ([]*event.Event, error)

	// RangeScan yields events for the given replicas whose sequence falls
	// in the exclusive-low/inclusive-high range (lo, hi], in
	// (replica_id, sequence) ascending order, capped at limit events
	// (0 means unlimited). Used to serve a gossip delta fetch.
	RangeScan(world crypto.Hash, ranges []Range, limit int) ([]*event.Event, error)

	// Frontier returns the current causal frontier for a world.
	Frontier(world crypto.Hash) *causal.VersionVector

	// Cells returns the cell index backing this store's summaries.
	Cells() *cell.Index
}

// Range is one replica's requested sequence window within a delta fetch:
// every sequence greater than Lo and at most Hi.
type Range struct {
	Replica crypto.Hash
	Lo, Hi  uint64
}

// replicaKey identifies one emitter's event stream within a world.
type replicaKey struct {
	World   crypto.Hash
	Replica crypto.Hash
}

// sequenceGap records that a hole was observed in a replica's sequence.
// Gossip fill-in may eventually supply it; it never blocks progress.
type sequenceGap struct {
	missingFrom uint64
	missingTo   uint64 // inclusive
}
