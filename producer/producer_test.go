package producer

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

func newEmitter(t *testing.T) (*btcec.PrivateKey, []byte) {
	t.Helper()
	priv, err := keys.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return priv, keys.FromPublicKey(priv.PubKey())
}

func makeEvent(t *testing.T, priv *btcec.PrivateKey, pub []byte, world crypto.Hash, seq uint64, body event.Body) *event.Event {
	t.Helper()
	epoch := uint64(1)
	e := &event.Event{
		World:     world,
		EpochID:   epoch,
		Emitter:   pub,
		ReplicaID: crypto.ReplicaID(pub, world, epoch),
		Sequence:  seq,
		Terrain:   event.TerrainAddress{Region: 1, Chunk: 1, Cell: 1},
		Body:      body,
	}
	if err := e.Sign(priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return e
}

func TestSubmitDeliversToMatchingSubscriber(t *testing.T) {
	s := store.NewInmemStore(nil)
	p := New(s, belief.NewAggregator(nil), nil)
	priv, pub := newEmitter(t)
	world := crypto.H("world", []byte("producer-test"))

	ch, cancel := p.Subscribe(world, Filter{})
	defer cancel()

	e := makeEvent(t, priv, pub, world, 0, event.ProbeReceipt{Success: true})
	admission := p.Submit(context.Background(), e)
	if admission.Outcome != store.Accepted {
		t.Fatalf("outcome = %v, err = %v", admission.Outcome, admission.Err)
	}

	select {
	case d := <-ch:
		if d.Event == nil || d.Event.ID() != e.ID() {
			t.Fatalf("delivered wrong event")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestSubmitFoldsAttestationIntoBelief(t *testing.T) {
	s := store.NewInmemStore(nil)
	agg := belief.NewAggregator(nil)
	p := New(s, agg, nil)
	priv, pub := newEmitter(t)
	world := crypto.H("world", []byte("producer-test-2"))
	target := crypto.H("target", []byte("svc"))

	e := makeEvent(t, priv, pub, world, 0, event.BehaviorAttestation{Target: target, MuPPM: 800_000, ClusterKey: []byte("c")})
	admission := p.Submit(context.Background(), e)
	if admission.Outcome != store.Accepted {
		t.Fatalf("outcome = %v, err = %v", admission.Outcome, admission.Err)
	}

	belief := p.Belief(world, target)
	if belief.MuPPM != 800_000 {
		t.Fatalf("belief.MuPPM = %d, want 800000", belief.MuPPM)
	}
}

func TestFilterMatchesTerrain(t *testing.T) {
	terrainA := event.TerrainAddress{Region: 1}
	terrainB := event.TerrainAddress{Region: 2}
	f := Filter{Terrain: &terrainA}

	e := &event.Event{Terrain: terrainA, Body: event.ProbeReceipt{}}
	if !f.Matches(e) {
		t.Fatal("expected match on terrain A")
	}
	e.Terrain = terrainB
	if f.Matches(e) {
		t.Fatal("expected no match on terrain B")
	}
}
