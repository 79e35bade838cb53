package engine

import (
	"bytes"
	"io/ioutil"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rng-ops/gossip/config"
	"github.com/rng-ops/gossip/crypto"
)

func newTestNode(t *testing.T) *Node {
	t.Helper()

	dir, err := ioutil.TempDir("", "engine-node")
	if err != nil {
		t.Fatalf("TempDir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	cfg := config.NewTestConfig(t, logrus.ErrorLevel)
	cfg.SetWorldDir(dir)
	cfg.BindAddr = "127.0.0.1:0"
	cfg.WorldPhrase = "test-world"

	n := NewNode(cfg)
	if err := n.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() {
		if n.Listener != nil {
			n.Listener.Close()
		}
	})
	return n
}

func TestInitWiresEveryComponent(t *testing.T) {
	n := newTestNode(t)

	if n.Config.Key == nil {
		t.Error("Key not set after Init")
	}
	if n.World.IsZero() {
		t.Error("World not derived after Init")
	}
	if n.Store == nil {
		t.Error("Store not set after Init")
	}
	if n.Retention == nil {
		t.Error("Retention not set for in-mem store path")
	}
	if n.Overflow == nil {
		t.Error("Overflow not set after Init")
	}
	if n.Gossip == nil || n.Listener == nil {
		t.Error("gossip engine/listener not set after Init")
	}
	if n.Producer == nil {
		t.Error("Producer not set after Init")
	}
}

func TestNormalizePhraseIgnoresCasingAndWhitespace(t *testing.T) {
	variants := []string{
		"My World",
		"my world",
		"  my   world  ",
		"MY\tWORLD",
	}
	want := string(NormalizePhrase(variants[0]))
	for _, v := range variants[1:] {
		if got := string(NormalizePhrase(v)); got != want {
			t.Fatalf("NormalizePhrase(%q) = %q, want %q (same as %q)", v, got, want, variants[0])
		}
	}
	if want != "my-world" {
		t.Fatalf("NormalizePhrase(%q) = %q, want %q", variants[0], want, "my-world")
	}
}

func TestWorldIDDerivationInsensitiveToOperatorInput(t *testing.T) {
	a := crypto.WorldID(NormalizePhrase("Terrain Demo"), crypto.Hash{})
	b := crypto.WorldID(NormalizePhrase("terrain   demo"), crypto.Hash{})
	if a != b {
		t.Fatalf("WorldID diverged for differently-cased/spaced input: %x vs %x", a, b)
	}
}

func TestInitGeneratesAndPersistsKeyOnce(t *testing.T) {
	dir, err := ioutil.TempDir("", "engine-node-key")
	if err != nil {
		t.Fatalf("TempDir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	cfg := config.NewTestConfig(t, logrus.ErrorLevel)
	cfg.SetWorldDir(dir)
	cfg.BindAddr = "127.0.0.1:0"
	cfg.WorldPhrase = "test-world"

	n1 := NewNode(cfg)
	if err := n1.Init(); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	n1.Listener.Close()
	firstKey := n1.Config.Key

	cfg2 := config.NewTestConfig(t, logrus.ErrorLevel)
	cfg2.SetWorldDir(dir)
	cfg2.BindAddr = "127.0.0.1:0"
	cfg2.WorldPhrase = "test-world"

	n2 := NewNode(cfg2)
	if err := n2.Init(); err != nil {
		t.Fatalf("second Init: %v", err)
	}
	defer n2.Listener.Close()

	if !bytes.Equal(firstKey.Serialize(), n2.Config.Key.Serialize()) {
		t.Error("second Init generated a new key instead of reloading the persisted one")
	}
}

func TestRunAndStop(t *testing.T) {
	n := newTestNode(t)

	done := make(chan struct{})
	go func() {
		n.Run()
		close(done)
	}()

	// Give Run a moment to reach the blocking <-n.stop so Stop below
	// actually exercises a live Run, not a Run that hasn't started yet.
	time.Sleep(10 * time.Millisecond)

	n.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
