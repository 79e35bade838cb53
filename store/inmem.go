package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rng-ops/gossip/causal"
	"github.com/rng-ops/gossip/cell"
	"github.com/rng-ops/gossip/crypto"
	"github.com/rng-ops/gossip/event"
)

// ErrSequenceViolation is returned when an incoming event claims a
// (replica, sequence) slot already occupied by a different event: the
// emitter is equivocating within its own stream.
var ErrSequenceViolation = errors.New("store: sequence slot occupied by conflicting event")

// ErrEpochRegression is returned when an emitter's epoch_id goes backward
// relative to the highest epoch previously observed from it in this world.
var ErrEpochRegression = errors.New("store: epoch_id regressed for emitter")

type emitterKey string

func emitterMapKey(world crypto.Hash, emitter []byte) emitterKey {
	b := make([]byte, 0, 32+len(emitter))
	b = append(b, world.Bytes()...)
	b = append(b, emitter...)
	return emitterKey(b)
}

// InmemStore implements EventStore entirely in memory. It is the store's
// reference implementation: every invariant the package promises is
// enforced here directly against plain Go maps, with BadgerStore layering
// durability underneath the same logic.
type InmemStore struct {
	mu sync.RWMutex

	byID         map[crypto.Hash]*event.Event
	byReplicaSeq map[replicaKey]map[uint64]*event.Event
	byCell       map[cell.Key]map[crypto.Hash]struct{}
	frontier     map[crypto.Hash]*causal.VersionVector // world -> vector
	maxEpoch     map[emitterKey]uint64

	cells     *cell.Index
	validator Validator
}

// NewInmemStore returns an empty store. validator may be nil, in which case
// Admit performs only its own structural checks (duplicate detection,
// identifier recomputation, signature verification, and the sequence and
// epoch monotonicity rules); a non-nil validator additionally gates on rate
// limiting and reputation.
func NewInmemStore(validator Validator) *InmemStore {
	return &InmemStore{
		byID:         make(map[crypto.Hash]*event.Event),
		byReplicaSeq: make(map[replicaKey]map[uint64]*event.Event),
		byCell:       make(map[cell.Key]map[crypto.Hash]struct{}),
		frontier:     make(map[crypto.Hash]*causal.VersionVector),
		maxEpoch:     make(map[emitterKey]uint64),
		cells:        cell.NewIndex(),
		validator:    validator,
	}
}

// Cells implements EventStore.
func (s *InmemStore) Cells() *cell.Index { return s.cells }

// Admit implements EventStore.
func (s *InmemStore) Admit(ctx context.Context, e *event.Event) (AdmitOutcome, error) {
	id := e.ID()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[id]; exists {
		return Duplicate, nil
	}

	if ok, err := e.Verify(); err != nil || !ok {
		if err == nil {
			err = errors.New("store: signature verification failed")
		}
		return Rejected, err
	}
	if e.ExpectedReplicaID() != e.ReplicaID {
		return Rejected, errors.New("store: replica_id does not match emitter/world/epoch binding")
	}

	ek := emitterMapKey(e.World, e.Emitter)
	if prevEpoch, ok := s.maxEpoch[ek]; ok && e.EpochID < prevEpoch {
		return Rejected, ErrEpochRegression
	}

	rk := replicaKey{World: e.World, Replica: e.ReplicaID}
	seqs, ok := s.byReplicaSeq[rk]
	if !ok {
		seqs = make(map[uint64]*event.Event)
		s.byReplicaSeq[rk] = seqs
	}
	if existing, occupied := seqs[e.Sequence]; occupied && existing.ID() != id {
		return Rejected, ErrSequenceViolation
	}

	if s.validator != nil {
		priorSeq, haveSeq := s.latestSequenceLocked(rk)
		if err := s.validator.Validate(ctx, e, priorSeq, haveSeq); err != nil {
			return Rejected, err
		}
	}

	s.commitLocked(e, id, rk, seqs, ek)

	return Accepted, nil
}

func (s *InmemStore) latestSequenceLocked(rk replicaKey) (uint64, bool) {
	seqs := s.byReplicaSeq[rk]
	if len(seqs) == 0 {
		return 0, false
	}
	var max uint64
	first := true
	for seq := range seqs {
		if first || seq > max {
			max = seq
			first = false
		}
	}
	return max, true
}

func (s *InmemStore) commitLocked(e *event.Event, id crypto.Hash, rk replicaKey, seqs map[uint64]*event.Event, ek emitterKey) {
	s.byID[id] = e
	seqs[e.Sequence] = e

	if e.EpochID > s.maxEpoch[ek] {
		s.maxEpoch[ek] = e.EpochID
	}

	vv, ok := s.frontier[e.World]
	if !ok {
		vv = causal.NewVersionVector()
		s.frontier[e.World] = vv
	}
	next := uint64(0)
	if vv.Has(e.ReplicaID) {
		next = vv.Get(e.ReplicaID) + 1
	}
	if e.Sequence == next {
		cur := e.Sequence
		vv.Set(e.ReplicaID, cur)
		for {
			nextSeq := cur + 1
			if _, present := seqs[nextSeq]; !present {
				break
			}
			cur = nextSeq
			vv.Set(e.ReplicaID, cur)
		}
	}

	ck := cell.Key{World: e.World, Terrain: e.Terrain}
	members, ok := s.byCell[ck]
	if !ok {
		members = make(map[crypto.Hash]struct{})
		s.byCell[ck] = members
	}
	members[id] = struct{}{}

	s.cells.OnAdmit(e.World, e.Terrain, id, e.EpochID)
}

// Get implements EventStore.
func (s *InmemStore) Get(id crypto.Hash) (*event.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	return e, ok
}

// CellScan implements EventStore.
func (s *InmemStore) CellScan(world crypto.Hash, terrain event.TerrainAddress, since *causal.VersionVector) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ck := cell.Key{World: world, Terrain: terrain}
	members := s.byCell[ck]

	out := make([]*event.Event, 0, len(members))
	for id := range members {
		e := s.byID[id]
		if since != nil && since.Has(e.ReplicaID) && e.Sequence <= since.Get(e.ReplicaID) {
			continue
		}
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ReplicaID != out[j].ReplicaID {
			return lessHashBytes(out[i].ReplicaID.Bytes(), out[j].ReplicaID.Bytes())
		}
		return out[i].Sequence < out[j].Sequence
	})

	return out, nil
}

// RangeScan implements EventStore.
func (s *InmemStore) RangeScan(world crypto.Hash, ranges []Range, limit int) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*event.Event, 0)
	for _, rg := range ranges {
		seqs := s.byReplicaSeq[replicaKey{World: world, Replica: rg.Replica}]
		for seq, e := range seqs {
			if seq <= rg.Lo || seq > rg.Hi {
				continue
			}
			out = append(out, e)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ReplicaID != out[j].ReplicaID {
			return lessHashBytes(out[i].ReplicaID.Bytes(), out[j].ReplicaID.Bytes())
		}
		return out[i].Sequence < out[j].Sequence
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

// Frontier implements EventStore.
func (s *InmemStore) Frontier(world crypto.Hash) *causal.VersionVector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vv, ok := s.frontier[world]
	if !ok {
		return causal.NewVersionVector()
	}
	return vv.Clone()
}

// EvictCell removes every event recorded in a (world, terrain) cell from
// the store and its cell index, after the caller has ensured the cell's
// summary information is no longer needed (or has already been folded into
// longer-lived accounting). It returns the number of events removed.
// Sequence holes for affected replicas are preserved implicitly: an evicted
// slot simply becomes available again, and a later re-admission of the same
// event is treated as fresh rather than a duplicate.
func (s *InmemStore) EvictCell(world crypto.Hash, terrain event.TerrainAddress) int {
	ck := cell.Key{World: world, Terrain: terrain}

	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.byCell[ck]
	if !ok {
		return 0
	}

	for id := range members {
		e, ok := s.byID[id]
		if !ok {
			continue
		}
		delete(s.byID, id)
		rk := replicaKey{World: e.World, Replica: e.ReplicaID}
		if seqs, ok := s.byReplicaSeq[rk]; ok {
			delete(seqs, e.Sequence)
		}
	}
	n := len(members)
	delete(s.byCell, ck)
	s.cells.Evict(world, terrain)
	return n
}

func lessHashBytes(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
