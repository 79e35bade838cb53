package store

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger"
	lru "github.com/hashicorp/golang-lru"

	"github.com/rng-ops/gossip/causal"
	"github.com/rng-ops/gossip/cell"
	"github.com/rng-ops/gossip/codec"
	"github.com/rng-ops/gossip/crypto"
	"github.com/rng-ops/gossip/event"
)

// BadgerStore layers durability on top of an InmemStore, which continues to
// own every admission invariant (dedup, signature/identifier checks,
// sequence bookkeeping, frontier and cell index maintenance). Only the
// event log itself is written through to disk; derived state (frontier,
// cell summaries) is rebuilt from it on load, per the persisted state
// layout's durability boundary.
type BadgerStore struct {
	mem *InmemStore
	db  *badger.DB

	decodeCache *lru.Cache // event_id -> *event.Event, mirrors what mem already holds; kept for parity with cold Get before a full load completes
}

const (
	eventKeyPrefix = "ev/" // ev/<world(32)><replica(32)><seq(8 BE)> -> canonical event bytes
	idIndexPrefix  = "id/" // id/<event_id(32)> -> ev/ key
)

// OpenBadgerStore opens or creates a badger-backed event log at path and
// replays its contents into a fresh InmemStore.
func OpenBadgerStore(path string, validator Validator) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger at %q: %w", path, err)
	}

	cache, err := lru.New(4096)
	if err != nil {
		return nil, err
	}

	// Replay without the validator: these events were validated when first
	// admitted, and re-running rate limiting over a whole log would reject
	// them. The validator applies to every admission after replay.
	s := &BadgerStore{
		mem:         NewInmemStore(nil),
		db:          db,
		decodeCache: cache,
	}

	if err := s.replay(); err != nil {
		db.Close()
		return nil, err
	}
	s.mem.validator = validator

	return s, nil
}

// Close releases the underlying database handle.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) replay() error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(eventKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			e, err := event.Decode(codec.NewReader(raw))
			if err != nil {
				return fmt.Errorf("store: corrupt event record: %w", err)
			}
			if _, err := s.mem.Admit(context.Background(), e); err != nil {
				return fmt.Errorf("store: replay rejected a previously durable event: %w", err)
			}
		}
		return nil
	})
}

func eventKey(world, replica crypto.Hash, seq uint64) []byte {
	k := make([]byte, 0, len(eventKeyPrefix)+32+32+8)
	k = append(k, []byte(eventKeyPrefix)...)
	k = append(k, world.Bytes()...)
	k = append(k, replica.Bytes()...)
	for i := 7; i >= 0; i-- {
		k = append(k, byte(seq>>(8*uint(i))))
	}
	return k
}

func idIndexKey(id crypto.Hash) []byte {
	return append([]byte(idIndexPrefix), id.Bytes()...)
}

// Admit implements EventStore. It first runs the full admission path
// against the in-memory reference store, then persists newly accepted
// events to disk.
func (s *BadgerStore) Admit(ctx context.Context, e *event.Event) (AdmitOutcome, error) {
	outcome, err := s.mem.Admit(ctx, e)
	if outcome != Accepted {
		return outcome, err
	}

	id := e.ID()
	w := codec.NewWriter()
	e.Encode(w)
	raw := w.Bytes()

	ek := eventKey(e.World, e.ReplicaID, e.Sequence)

	werr := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(ek, raw); err != nil {
			return err
		}
		return txn.Set(idIndexKey(id), ek)
	})
	if werr != nil {
		return Accepted, fmt.Errorf("store: durable write failed after acceptance: %w", werr)
	}

	s.decodeCache.Add(id, e)

	return Accepted, nil
}

// Get implements EventStore.
func (s *BadgerStore) Get(id crypto.Hash) (*event.Event, bool) {
	if e, ok := s.mem.Get(id); ok {
		return e, true
	}
	if cached, ok := s.decodeCache.Get(id); ok {
		return cached.(*event.Event), true
	}
	return nil, false
}

// CellScan implements EventStore.
func (s *BadgerStore) CellScan(world crypto.Hash, terrain event.TerrainAddress, since *causal.VersionVector) ([]*event.Event, error) {
	return s.mem.CellScan(world, terrain, since)
}

// RangeScan implements EventStore.
func (s *BadgerStore) RangeScan(world crypto.Hash, ranges []Range, limit int) ([]*event.Event, error) {
	return s.mem.RangeScan(world, ranges, limit)
}

// Frontier implements EventStore.
func (s *BadgerStore) Frontier(world crypto.Hash) *causal.VersionVector {
	return s.mem.Frontier(world)
}

// Cells implements EventStore.
func (s *BadgerStore) Cells() *cell.Index {
	return s.mem.Cells()
}
