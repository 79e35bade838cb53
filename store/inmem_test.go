package store

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/rng-ops/gossip/causal"
	"github.com/rng-ops/gossip/crypto"
	"github.com/rng-ops/gossip/crypto/keys"
	"github.com/rng-ops/gossip/event"
)

func testWorld() crypto.Hash {
	return crypto.H("world", []byte("seed"), make([]byte, 32))
}

func newEmitter(t *testing.T) (*btcec.PrivateKey, []byte) {
	t.Helper()
	priv, err := keys.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pub := keys.FromPublicKey(priv.PubKey())
	return priv, pub
}

func makeEvent(t *testing.T, priv *btcec.PrivateKey, pub []byte, world crypto.Hash, epoch, seq uint64) *event.Event {
	t.Helper()
	return makeEventTerrain(t, priv, pub, world, epoch, seq, event.TerrainAddress{Region: 1, Chunk: 2, Cell: 3})
}

func makeEventTerrain(t *testing.T, priv *btcec.PrivateKey, pub []byte, world crypto.Hash, epoch, seq uint64, terrain event.TerrainAddress) *event.Event {
	t.Helper()
	replica := crypto.ReplicaID(pub, world, epoch)
	e := &event.Event{
		World:     world,
		EpochID:   epoch,
		Emitter:   pub,
		ReplicaID: replica,
		Sequence:  seq,
		Terrain:   terrain,
		Body:      event.ProbeReceipt{Target: crypto.H("target", []byte("x")), LatencyMs: 10, Success: true},
	}
	if err := e.Sign(priv); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return e
}

func TestAdmitDuplicate(t *testing.T) {
	priv, pub := newEmitter(t)
	world := testWorld()
	s := NewInmemStore(nil)

	e := makeEvent(t, priv, pub, world, 100, 0)

	outcome, err := s.Admit(context.Background(), e)
	if err != nil || outcome != Accepted {
		t.Fatalf("first admit: outcome=%v err=%v", outcome, err)
	}

	outcome, err = s.Admit(context.Background(), e)
	if err != nil || outcome != Duplicate {
		t.Fatalf("second admit: outcome=%v err=%v", outcome, err)
	}

	summary := s.Cells().Summary(world, e.Terrain)
	if summary == nil || summary.EventCount != 1 {
		t.Fatalf("expected cell event_count 1, got %+v", summary)
	}

	vv := s.Frontier(world)
	if got := vv.Get(e.ReplicaID); got != 0 {
		t.Fatalf("expected frontier component 0, got %d", got)
	}
}

func TestAdmitReorderConverges(t *testing.T) {
	priv, pub := newEmitter(t)
	world := testWorld()
	s := NewInmemStore(nil)

	e0 := makeEvent(t, priv, pub, world, 100, 0)
	e1 := makeEvent(t, priv, pub, world, 100, 1)
	e2 := makeEvent(t, priv, pub, world, 100, 2)

	for _, e := range []*event.Event{e2, e0, e1} {
		outcome, err := s.Admit(context.Background(), e)
		if err != nil || outcome != Accepted {
			t.Fatalf("admit %d: outcome=%v err=%v", e.Sequence, outcome, err)
		}
	}

	vv := s.Frontier(world)
	if got := vv.Get(e0.ReplicaID); got != 2 {
		t.Fatalf("expected frontier component 2, got %d", got)
	}

	scanned, err := s.CellScan(world, e0.Terrain, nil)
	if err != nil {
		t.Fatalf("cell scan: %v", err)
	}
	if len(scanned) != 3 {
		t.Fatalf("expected 3 events, got %d", len(scanned))
	}
	for i, e := range scanned {
		if e.Sequence != uint64(i) {
			t.Fatalf("expected ascending sequence order, got %v at position %d", e.Sequence, i)
		}
	}
}

func TestAdmitRejectsBadSignature(t *testing.T) {
	priv, pub := newEmitter(t)
	world := testWorld()
	s := NewInmemStore(nil)

	e := makeEvent(t, priv, pub, world, 100, 0)
	e.Signature[0] ^= 0xFF

	outcome, err := s.Admit(context.Background(), e)
	if outcome != Rejected || err == nil {
		t.Fatalf("expected rejection for tampered signature, got outcome=%v err=%v", outcome, err)
	}
}

func TestAdmitRejectsEquivocation(t *testing.T) {
	priv, pub := newEmitter(t)
	world := testWorld()
	s := NewInmemStore(nil)

	e0 := makeEvent(t, priv, pub, world, 100, 0)
	if outcome, err := s.Admit(context.Background(), e0); outcome != Accepted || err != nil {
		t.Fatalf("first admit: outcome=%v err=%v", outcome, err)
	}

	conflicting := makeEventTerrain(t, priv, pub, world, 100, 0, event.TerrainAddress{Region: 9, Chunk: 9, Cell: 9})

	outcome, err := s.Admit(context.Background(), conflicting)
	if outcome != Rejected || err != ErrSequenceViolation {
		t.Fatalf("expected ErrSequenceViolation, got outcome=%v err=%v", outcome, err)
	}
}

func TestRangeScanBoundsByReplicaAndSequence(t *testing.T) {
	privA, pubA := newEmitter(t)
	privB, pubB := newEmitter(t)
	world := testWorld()
	s := NewInmemStore(nil)

	var replicaA, replicaB crypto.Hash
	for seq := uint64(0); seq < 3; seq++ {
		e := makeEvent(t, privA, pubA, world, 100, seq)
		replicaA = e.ReplicaID
		if outcome, err := s.Admit(context.Background(), e); outcome != Accepted || err != nil {
			t.Fatalf("admit A/%d: outcome=%v err=%v", seq, outcome, err)
		}
	}
	for seq := uint64(0); seq < 2; seq++ {
		e := makeEvent(t, privB, pubB, world, 100, seq)
		replicaB = e.ReplicaID
		if outcome, err := s.Admit(context.Background(), e); outcome != Accepted || err != nil {
			t.Fatalf("admit B/%d: outcome=%v err=%v", seq, outcome, err)
		}
	}

	scanned, err := s.RangeScan(world, []Range{
		{Replica: replicaA, Lo: 0, Hi: 1},
		{Replica: replicaB, Lo: 0, Hi: 1},
	}, 0)
	if err != nil {
		t.Fatalf("range scan: %v", err)
	}
	if len(scanned) != 2 {
		t.Fatalf("expected 2 events (A seq 1, B seq 1), got %d", len(scanned))
	}

	limited, err := s.RangeScan(world, []Range{{Replica: replicaA, Lo: 0, Hi: 2}}, 1)
	if err != nil {
		t.Fatalf("limited range scan: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit to cap results at 1, got %d", len(limited))
	}
}

func TestFrontierDominance(t *testing.T) {
	_, pubA := newEmitter(t)
	world := testWorld()

	a := crypto.ReplicaID(pubA, world, 1)

	vv1 := causal.NewVersionVector()
	vv1.Set(a, 5)
	vv2 := causal.NewVersionVector()
	vv2.Set(a, 3)

	if !vv1.Dominates(vv2) {
		t.Fatalf("expected vv1 to dominate vv2")
	}
	if vv2.Dominates(vv1) {
		t.Fatalf("did not expect vv2 to dominate vv1")
	}
}
