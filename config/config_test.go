package config

import (
	"path/filepath"
	"testing"
)

func TestSetWorldDirUpdatesDefaultDatabaseDir(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SetWorldDir("/tmp/example")

	want := filepath.Join("/tmp/example", DefaultBadgerDir)
	if cfg.DatabaseDir != want {
		t.Fatalf("database dir = %q, want %q", cfg.DatabaseDir, want)
	}
	if cfg.WorldDir != "/tmp/example" {
		t.Fatalf("world dir = %q, want /tmp/example", cfg.WorldDir)
	}
}

func TestSetWorldDirLeavesExplicitDatabaseDirAlone(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.DatabaseDir = "/custom/db"
	cfg.SetWorldDir("/tmp/example")

	if cfg.DatabaseDir != "/custom/db" {
		t.Fatalf("database dir = %q, want unchanged /custom/db", cfg.DatabaseDir)
	}
}

func TestGossipConfigMapsFields(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.GossipInterval = 7
	cfg.ActivePeers = 3
	cfg.RandomSlots = 1
	cfg.AntiEntropyEvery = 4
	cfg.AntiEntropyFanout = 10

	gc := cfg.GossipConfig()
	if gc.Period != 7 {
		t.Errorf("Period = %v, want 7", gc.Period)
	}
	if gc.ActivePeers != 3 || gc.RandomSlots != 1 {
		t.Errorf("ActivePeers/RandomSlots = %d/%d, want 3/1", gc.ActivePeers, gc.RandomSlots)
	}
	if gc.AntiEntropyEvery != 4 || gc.AntiEntropyFanout != 10 {
		t.Errorf("AntiEntropyEvery/Fanout = %d/%d, want 4/10", gc.AntiEntropyEvery, gc.AntiEntropyFanout)
	}
}

func TestLogLevelDefaultsToDebug(t *testing.T) {
	if got := LogLevel("not-a-level"); got.String() != "debug" {
		t.Fatalf("LogLevel(unknown) = %v, want debug", got)
	}
}

func TestKeyfilePath(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.WorldDir = "/tmp/example"

	want := filepath.Join("/tmp/example", DefaultKeyfile)
	if got := cfg.Keyfile(); got != want {
		t.Fatalf("Keyfile() = %q, want %q", got, want)
	}
}
