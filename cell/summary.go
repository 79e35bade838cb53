// Package cell maintains, for each (world, TerrainAddress) pair, a summary
// of the events admitted into that cell: a count, a bloom-filter membership
// sketch, and the epoch of the most recent admission. Summaries are pure
// functions of the event set in a cell and are always recomputable from the
// event store.
package cell

import (
	"sync"

	"github.com/AndreasBriese/bbloom"

	"github.com/rng-ops/gossip/crypto"
	"github.com/rng-ops/gossip/event"
)

// DefaultCapacity is the initial sketch capacity before the first rebuild.
const DefaultCapacity = 1024

// DefaultFalsePositiveRate is the target false-positive ceiling used to size
// every sketch; all nodes must agree on this constant for sketches of
// equivalent cells to converge to comparable shapes.
const DefaultFalsePositiveRate = 0.01

// Summary is the current sketch state of one cell.
type Summary struct {
	EventCount  uint64
	LastUpdated uint64 // epoch of most recent admit
	capacity    uint64
	sketch      *bbloom.Bloom
}

// NewSummary allocates an empty summary at the default capacity.
func NewSummary() *Summary {
	sketch := bbloom.New(float64(DefaultCapacity), DefaultFalsePositiveRate)
	return &Summary{
		capacity: DefaultCapacity,
		sketch:   &sketch,
	}
}

// Has reports whether id is (probably) a member of this cell's sketch.
// False positives are possible; false negatives are not.
func (s *Summary) Has(id crypto.Hash) bool {
	return s.sketch.Has(id.Bytes())
}

// add inserts id into the sketch, rebuilding at double capacity first if the
// cell has outgrown its current allocation. members returns the ids of the
// events already admitted to this cell, used to repopulate the sketch after
// a capacity-doubling rebuild.
func (s *Summary) add(id crypto.Hash, epoch uint64, members func() []crypto.Hash) {
	if s.EventCount >= s.capacity {
		s.capacity *= 2
		sketch := bbloom.New(float64(s.capacity), DefaultFalsePositiveRate)
		s.sketch = &sketch
		for _, m := range members() {
			s.sketch.Add(m.Bytes())
		}
	}
	s.sketch.Add(id.Bytes())
	s.EventCount++
	if epoch > s.LastUpdated {
		s.LastUpdated = epoch
	}
}

// Key identifies a cell within a world.
type Key struct {
	World   crypto.Hash
	Terrain event.TerrainAddress
}

// Index maintains summaries for every cell a node has admitted events into.
// It is safe for concurrent use. Every update, whatever its key, is
// serialized under one index-wide lock; updates to distinct keys do not
// proceed in parallel.
type Index struct {
	mu        sync.RWMutex
	summaries map[Key]*Summary
	members   map[Key]map[crypto.Hash]uint64 // event id -> epoch, for rebuilds
}

// NewIndex returns an empty cell index.
func NewIndex() *Index {
	return &Index{
		summaries: make(map[Key]*Summary),
		members:   make(map[Key]map[crypto.Hash]uint64),
	}
}

// OnAdmit updates the summary for the event's cell: bumps event_count,
// inserts event_id into the membership sketch, and advances last_updated.
func (idx *Index) OnAdmit(world crypto.Hash, terrain event.TerrainAddress, id crypto.Hash, epoch uint64) {
	key := Key{World: world, Terrain: terrain}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	s, ok := idx.summaries[key]
	if !ok {
		s = NewSummary()
		idx.summaries[key] = s
	}
	mset, ok := idx.members[key]
	if !ok {
		mset = make(map[crypto.Hash]uint64)
		idx.members[key] = mset
	}
	if _, dup := mset[id]; dup {
		return
	}
	mset[id] = epoch

	s.add(id, epoch, func() []crypto.Hash {
		ids := make([]crypto.Hash, 0, len(mset))
		for m := range mset {
			ids = append(ids, m)
		}
		return ids
	})
}

// Summary returns the current summary snapshot for a cell, or nil if the
// cell has never been admitted into.
func (idx *Index) Summary(world crypto.Hash, terrain event.TerrainAddress) *Summary {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	s, ok := idx.summaries[Key{World: world, Terrain: terrain}]
	if !ok {
		return nil
	}
	snapshot := *s
	return &snapshot
}

// Rebuild deterministically reconstructs a cell's summary from a caller
// supplied event enumeration, discarding whatever incremental state existed
// before. Used on cold start or after detecting sketch corruption.
func (idx *Index) Rebuild(world crypto.Hash, terrain event.TerrainAddress, events []*EventRef) {
	key := Key{World: world, Terrain: terrain}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	s := NewSummary()
	mset := make(map[crypto.Hash]uint64, len(events))
	for _, e := range events {
		mset[e.ID] = e.Epoch
	}
	idx.members[key] = mset
	for _, e := range events {
		s.add(e.ID, e.Epoch, func() []crypto.Hash {
			ids := make([]crypto.Hash, 0, len(mset))
			for m := range mset {
				ids = append(ids, m)
			}
			return ids
		})
	}
	idx.summaries[key] = s
}

// EventRef is the minimal per-event data Rebuild needs: enough to
// repopulate a sketch without cell depending on the store package, avoiding
// an import cycle (store depends on cell for on-admit updates).
type EventRef struct {
	ID    crypto.Hash
	Epoch uint64
}

// NewEventRef builds an EventRef.
func NewEventRef(id crypto.Hash, epoch uint64) *EventRef {
	return &EventRef{ID: id, Epoch: epoch}
}

// Evict removes a cell's summary entirely, used by the store's retention
// sweep when it evicts the cell; the summary is discarded, not folded into
// any other state.
func (idx *Index) Evict(world crypto.Hash, terrain event.TerrainAddress) {
	key := Key{World: world, Terrain: terrain}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.summaries, key)
	delete(idx.members, key)
}

// LeastRecentlyUpdated returns the cell key with the oldest LastUpdated
// epoch across every cell currently tracked, for the retention sweep's
// eviction policy. Returns false if the index is empty.
func (idx *Index) LeastRecentlyUpdated() (Key, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var (
		oldestKey   Key
		oldestEpoch uint64
		found       bool
	)
	for k, s := range idx.summaries {
		if !found || s.LastUpdated < oldestEpoch {
			oldestKey = k
			oldestEpoch = s.LastUpdated
			found = true
		}
	}
	return oldestKey, found
}
