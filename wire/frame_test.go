package wire

import (
	"bytes"
	"testing"

	"github.com/rng-ops/gossip/causal"
	"github.com/rng-ops/gossip/crypto"
)

func testWorld() crypto.Hash { return crypto.H("world", []byte("test")) }

func TestSyncHelloRoundTrip(t *testing.T) {
	fv := causal.NewVersionVector()
	fv.Set(crypto.H("replica", []byte("r1")), 4)

	msg := &SyncHello{
		World:    testWorld(),
		Frontier: fv,
	}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, msg); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	hello, ok := got.(*SyncHello)
	if !ok {
		t.Fatalf("decoded wrong type: %T", got)
	}
	if hello.World != msg.World {
		t.Fatalf("world mismatch")
	}
	r1 := crypto.H("replica", []byte("r1"))
	if hello.Frontier.Get(r1) != 4 {
		t.Fatalf("frontier component = %d, want 4", hello.Frontier.Get(r1))
	}
}

func TestEventWantBitmap(t *testing.T) {
	w := &EventWant{World: testWorld()}
	w.SetWant(0)
	w.SetWant(9)

	if !w.Want(0) || !w.Want(9) {
		t.Fatalf("expected bits 0 and 9 set")
	}
	if w.Want(1) || w.Want(8) {
		t.Fatalf("unexpected bit set")
	}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, w); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	back := got.(*EventWant)
	if !back.Want(0) || !back.Want(9) || back.Want(1) {
		t.Fatalf("bitmap did not survive round trip")
	}
}

func TestSyncBusyRoundTrip(t *testing.T) {
	msg := &SyncBusy{RetryAfterMs: 1500}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, msg); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	busy := got.(*SyncBusy)
	if busy.RetryAfterMs != 1500 {
		t.Fatalf("RetryAfterMs = %d, want 1500", busy.RetryAfterMs)
	}
}
