package peers

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/rng-ops/gossip/gossip"
)

func TestSeedFileMissingIsNotAnError(t *testing.T) {
	dir, err := ioutil.TempDir("", "gossip-seed")
	if err != nil {
		t.Fatalf("TempDir: %v", err)
	}
	defer os.RemoveAll(dir)

	f := NewSeedFile(dir)
	seeds, err := f.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(seeds) != 0 {
		t.Fatalf("expected no seeds, got %v", seeds)
	}
}

func TestSeedFileRoundTrip(t *testing.T) {
	dir, err := ioutil.TempDir("", "gossip-seed")
	if err != nil {
		t.Fatalf("TempDir: %v", err)
	}
	defer os.RemoveAll(dir)

	f := NewSeedFile(dir)
	want := []SeedPeer{{Addr: "10.0.0.1:7946"}, {Addr: "10.0.0.2:7946"}}
	if err := f.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := f.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d seeds, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].Addr != want[i].Addr {
			t.Fatalf("seed %d: expected %q, got %q", i, want[i].Addr, got[i].Addr)
		}
	}
}

func TestSeedFileLoadIntoPeerTable(t *testing.T) {
	dir, err := ioutil.TempDir("", "gossip-seed")
	if err != nil {
		t.Fatalf("TempDir: %v", err)
	}
	defer os.RemoveAll(dir)

	f := NewSeedFile(dir)
	if err := f.Save([]SeedPeer{{Addr: "10.0.0.1:7946"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	table := gossip.NewPeerTable()
	if err := f.LoadInto(table); err != nil {
		t.Fatalf("LoadInto: %v", err)
	}

	if _, ok := table.Get("10.0.0.1:7946"); !ok {
		t.Fatal("expected seed peer to be present in the table")
	}
}
