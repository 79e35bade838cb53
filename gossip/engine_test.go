package gossip

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/rng-ops/gossip/belief"
	"github.com/rng-ops/gossip/crypto"
	"github.com/rng-ops/gossip/crypto/keys"
	"github.com/rng-ops/gossip/event"
	"github.com/rng-ops/gossip/store"
)

func newTestEmitter(t *testing.T) (*btcec.PrivateKey, []byte) {
	t.Helper()
	priv, err := keys.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return priv, keys.FromPublicKey(priv.PubKey())
}

func makeTestEvent(t *testing.T, priv *btcec.PrivateKey, pub []byte, world crypto.Hash, seq uint64, terrain event.TerrainAddress) *event.Event {
	t.Helper()
	epoch := uint64(1)
	e := &event.Event{
		World:     world,
		EpochID:   epoch,
		Emitter:   pub,
		ReplicaID: crypto.ReplicaID(pub, world, epoch),
		Sequence:  seq,
		Terrain:   terrain,
		Body:      event.ProbeReceipt{Success: true},
	}
	if err := e.Sign(priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return e
}

func newTestEngine(t *testing.T, world crypto.Hash, s store.EventStore, cells []event.TerrainAddress) (*Engine, string) {
	t.Helper()
	stream, err := NewTCPStreamLayer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewTCPStreamLayer: %v", err)
	}
	table := NewPeerTable()
	cfg := DefaultConfig()
	cfg.StageTimeout = 2 * time.Second
	cfg.AntiEntropyFanout = 16
	transport := NewTransport(stream, cfg.StageTimeout, 2)
	e := New(world, s, table, transport, cells, nil, nil, cfg)

	listener := NewListener(stream, e, nil)
	go listener.Serve()
	t.Cleanup(func() { listener.Close() })

	return e, stream.Addr().String()
}

func TestSyncFetchesMissingEvents(t *testing.T) {
	world := crypto.H("world", []byte("gossip-fetch"))
	terrain := event.TerrainAddress{Region: 1}

	storeA := store.NewInmemStore(nil)
	storeB := store.NewInmemStore(nil)

	engineA, _ := newTestEngine(t, world, storeA, []event.TerrainAddress{terrain})
	_, addrB := newTestEngine(t, world, storeB, []event.TerrainAddress{terrain})

	priv, pub := newTestEmitter(t)
	e := makeTestEvent(t, priv, pub, world, 0, terrain)
	if outcome, err := storeB.Admit(context.Background(), e); outcome != store.Accepted {
		t.Fatalf("seed admit into B: outcome=%v err=%v", outcome, err)
	}

	if err := engineA.syncWith(addrB); err != nil {
		t.Fatalf("syncWith: %v", err)
	}

	if _, ok := storeA.Get(e.ID()); !ok {
		t.Fatal("A did not fetch the event B had")
	}
}

func TestAntiEntropyPushesOwnedEvents(t *testing.T) {
	world := crypto.H("world", []byte("gossip-antientropy"))
	terrain := event.TerrainAddress{Region: 2}

	storeA := store.NewInmemStore(nil)
	storeB := store.NewInmemStore(nil)

	engineA, _ := newTestEngine(t, world, storeA, []event.TerrainAddress{terrain})
	_, addrB := newTestEngine(t, world, storeB, []event.TerrainAddress{terrain})

	priv, pub := newTestEmitter(t)
	e := makeTestEvent(t, priv, pub, world, 0, terrain)
	if outcome, err := storeA.Admit(context.Background(), e); outcome != store.Accepted {
		t.Fatalf("seed admit into A: outcome=%v err=%v", outcome, err)
	}

	if err := engineA.antiEntropySweep(addrB); err != nil {
		t.Fatalf("antiEntropySweep: %v", err)
	}

	if _, ok := storeB.Get(e.ID()); !ok {
		t.Fatal("B did not receive the event A pushed")
	}
}

func TestGossipAdmittedEventsFoldIntoBeliefs(t *testing.T) {
	world := crypto.H("world", []byte("gossip-belief-fold"))
	terrain := event.TerrainAddress{Region: 3}
	target := crypto.H("target", []byte("gossip-belief-fold"))

	storeA := store.NewInmemStore(nil)
	storeB := store.NewInmemStore(nil)
	beliefsA := belief.NewAggregator(nil)

	streamA, err := NewTCPStreamLayer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewTCPStreamLayer: %v", err)
	}
	cfg := DefaultConfig()
	cfg.StageTimeout = 2 * time.Second
	transportA := NewTransport(streamA, cfg.StageTimeout, 2)
	engineA := New(world, storeA, NewPeerTable(), transportA, []event.TerrainAddress{terrain}, beliefsA, nil, cfg)
	listenerA := NewListener(streamA, engineA, nil)
	go listenerA.Serve()
	t.Cleanup(func() { listenerA.Close() })

	_, addrB := newTestEngine(t, world, storeB, []event.TerrainAddress{terrain})

	priv, pub := newTestEmitter(t)
	epoch := uint64(1)
	e := &event.Event{
		World:     world,
		EpochID:   epoch,
		Emitter:   pub,
		ReplicaID: crypto.ReplicaID(pub, world, epoch),
		Sequence:  0,
		Terrain:   terrain,
		Body:      event.BehaviorAttestation{Target: target, MuPPM: 700_000},
	}
	if err := e.Sign(priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if outcome, err := storeB.Admit(context.Background(), e); outcome != store.Accepted {
		t.Fatalf("seed admit into B: outcome=%v err=%v", outcome, err)
	}

	if err := engineA.syncWith(addrB); err != nil {
		t.Fatalf("syncWith: %v", err)
	}

	got := beliefsA.Belief(world, target)
	if got.MuPPM == 0 {
		t.Fatalf("gossip-fetched attestation never folded into belief aggregator: %+v", got)
	}
}

func TestAntiEntropySweepSkipsUnchangedCell(t *testing.T) {
	world := crypto.H("world", []byte("gossip-antientropy-skip"))
	terrain := event.TerrainAddress{Region: 4}

	storeA := store.NewInmemStore(nil)
	storeB := store.NewInmemStore(nil)

	engineA, _ := newTestEngine(t, world, storeA, []event.TerrainAddress{terrain})
	_, addrB := newTestEngine(t, world, storeB, []event.TerrainAddress{terrain})

	priv, pub := newTestEmitter(t)
	e := makeTestEvent(t, priv, pub, world, 0, terrain)
	if outcome, err := storeA.Admit(context.Background(), e); outcome != store.Accepted {
		t.Fatalf("seed admit into A: outcome=%v err=%v", outcome, err)
	}

	if err := engineA.antiEntropySweep(addrB); err != nil {
		t.Fatalf("first antiEntropySweep: %v", err)
	}
	if _, ok := storeB.Get(e.ID()); !ok {
		t.Fatal("B did not receive the event A pushed on the first sweep")
	}

	key := cellSyncKey{addr: addrB, terrain: terrain}
	state, recorded := engineA.cellSync[key]
	if !recorded {
		t.Fatal("sweep did not record the cell's summary state against this peer")
	}
	summary := storeA.Cells().Summary(world, terrain)
	if summary == nil || state.eventCount != summary.EventCount || state.lastUpdated != summary.LastUpdated {
		t.Fatalf("recorded cell sync state %+v does not match the local summary %+v", state, summary)
	}

	// Nothing changed in the cell since; a second sweep must short-circuit
	// before scanning or contacting the peer at all.
	if err := engineA.antiEntropySweep(addrB); err != nil {
		t.Fatalf("second antiEntropySweep: %v", err)
	}
	if got := engineA.cellSync[key]; got != state {
		t.Fatalf("cell sync state changed on a no-op sweep: before=%+v after=%+v", state, got)
	}
}

func TestSyncRecordsCellOverlapOnPeerTable(t *testing.T) {
	world := crypto.H("world", []byte("gossip-overlap"))
	shared := event.TerrainAddress{Region: 5}
	onlyA := event.TerrainAddress{Region: 6}
	onlyB := event.TerrainAddress{Region: 7}

	storeA := store.NewInmemStore(nil)
	storeB := store.NewInmemStore(nil)

	engineA, _ := newTestEngine(t, world, storeA, []event.TerrainAddress{shared, onlyA})
	_, addrB := newTestEngine(t, world, storeB, []event.TerrainAddress{shared, onlyB})

	if err := engineA.syncWith(addrB); err != nil {
		t.Fatalf("syncWith: %v", err)
	}

	p, ok := engineA.table.Get(addrB)
	if !ok {
		t.Fatal("peer not recorded on table after sync")
	}
	if p.InterestOverlap != 1.0 {
		t.Fatalf("InterestOverlap = %f, want 1.0", p.InterestOverlap)
	}
	// A advertises {shared, onlyA}; B echoes back {shared, onlyB}. Exactly
	// one of A's two cells (shared) appears in B's set.
	if want := 0.5; p.CellOverlap != want {
		t.Fatalf("CellOverlap = %f, want %f", p.CellOverlap, want)
	}
}

func TestSyncBusyMarksPeerOnTable(t *testing.T) {
	world := crypto.H("world", []byte("gossip-busy"))

	engineA, _ := newTestEngine(t, world, store.NewInmemStore(nil), nil)
	engineB, addrB := newTestEngine(t, world, store.NewInmemStore(nil), nil)

	for i := int32(0); i < int32(MaxConcurrentSyncs); i++ {
		engineB.SessionStart()
	}
	defer func() {
		for i := int32(0); i < int32(MaxConcurrentSyncs); i++ {
			engineB.SessionEnd()
		}
	}()

	err := engineA.syncWith(addrB)
	if _, busy := err.(errBusy); !busy {
		t.Fatalf("expected errBusy, got %v", err)
	}

	if p, ok := engineA.table.Get(addrB); !ok || p.RetryAfter.IsZero() {
		t.Fatal("expected busy peer to be marked with a retry window")
	}
}
