// Package engine wires every other package into a runnable node: key
// management, the event store, the validation pipeline, the belief
// aggregator, the gossip engine and listener, and the producer surface.
// Node exposes one Init/Run pair that a CLI command or an in-process
// embedder calls.
package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rng-ops/gossip/belief"
	"github.com/rng-ops/gossip/config"
	"github.com/rng-ops/gossip/crypto"
	"github.com/rng-ops/gossip/crypto/keys"
	"github.com/rng-ops/gossip/event"
	"github.com/rng-ops/gossip/gossip"
	"github.com/rng-ops/gossip/peers"
	"github.com/rng-ops/gossip/producer"
	"github.com/rng-ops/gossip/store"
	"github.com/rng-ops/gossip/validate"
)

// Node is a fully wired gossipd node, ready to Init then Run.
type Node struct {
	Config *config.Config
	World  crypto.Hash

	Store     store.EventStore
	Trust     *belief.TrustTable
	Beliefs   *belief.Aggregator
	Pipeline  *validate.Pipeline
	Overflow  *validate.Overflow
	Retention *store.Retention

	Table    *gossip.PeerTable
	Gossip   *gossip.Engine
	Listener *gossip.Listener

	Producer *producer.Producer

	cellsOfInterest []event.TerrainAddress
	validateCfg     validate.Config

	logger *logrus.Entry
	stop   chan struct{}
}

// NewNode constructs a Node from cfg. Call Init before Run.
func NewNode(cfg *config.Config) *Node {
	return &Node{Config: cfg, stop: make(chan struct{})}
}

// SetCellsOfInterest sets which terrain cells this node advertises in its
// SyncHello and anti-entropy-sweeps against. Call before Init; the gossip
// engine reads it once at construction.
func (n *Node) SetCellsOfInterest(cells []event.TerrainAddress) {
	n.cellsOfInterest = cells
}

func (n *Node) initKey() error {
	if n.Config.Key != nil {
		return nil
	}

	keyfile := keys.NewSimpleKeyfile(n.Config.Keyfile())
	priv, err := keyfile.ReadKey()
	if err != nil {
		n.logger.WithField("error", err).Warn("no existing key, generating one")
		priv, err = keys.GenerateKey()
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}
		if err := keyfile.WriteKey(priv); err != nil {
			return fmt.Errorf("write key: %w", err)
		}
	}
	n.Config.Key = priv
	return nil
}

func (n *Node) initWorld() error {
	var ruleBundleHash crypto.Hash
	if n.Config.RuleBundleHashHex != "" {
		raw, err := hex.DecodeString(n.Config.RuleBundleHashHex)
		if err != nil {
			return fmt.Errorf("rule bundle hash: %w", err)
		}
		if len(raw) != len(ruleBundleHash) {
			return fmt.Errorf("rule bundle hash: want %d bytes, got %d", len(ruleBundleHash), len(raw))
		}
		copy(ruleBundleHash[:], raw)
	}

	n.World = crypto.WorldID(NormalizePhrase(n.Config.WorldPhrase), ruleBundleHash)
	return nil
}

// NormalizePhrase mirrors the canonical-input discipline the codec package
// applies elsewhere: a phrase's WorldId must not depend on incidental
// casing or surrounding whitespace a human operator might introduce. It
// trims, lowercases, and collapses internal whitespace runs to single
// hyphens, so "My World" and "my   world" normalize to the same text and
// therefore the same WorldId. The normalized text itself, not a digest of
// it, is what crypto.WorldID hashes; cmd/gossipd's inspect command calls
// this same function so a running node and its inspector agree on WorldId
// for the same phrase.
func NormalizePhrase(phrase string) []byte {
	return []byte(strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(phrase))), "-"))
}

func (n *Node) initTrust() error {
	n.Trust = belief.NewTrustTable()
	n.Beliefs = belief.NewAggregator(n.Trust)
	return nil
}

func (n *Node) initPipeline() error {
	n.validateCfg = validate.Config{
		RateBucketCapacity: n.Config.RateBucketCapacity,
		RateRefillPerSec:   n.Config.RateRefillPerSec,
		RateBufferSize:     n.Config.RateBufferSize,
		ReputationFloor:    n.Config.ReputationFloor,
	}
	n.Pipeline = validate.NewPipeline(n.validateCfg, n.Trust)
	return nil
}

func (n *Node) initStore() error {
	var underlying store.EventStore
	if !n.Config.Store {
		mem := store.NewInmemStore(n.Pipeline)
		underlying = mem
		n.Retention = store.NewRetention(mem, n.Config.StoreBudget)
		n.logger.Debug("created new in-mem store")
	} else {
		db, err := store.OpenBadgerStore(n.Config.DatabaseDir, n.Pipeline)
		if err != nil {
			return fmt.Errorf("open badger store: %w", err)
		}
		underlying = db
		n.logger.WithField("path", n.Config.DatabaseDir).Debug("opened badger store")
	}

	// Events rejected only for exhausting their emitter's rate bucket are
	// held here instead of dropped outright, and retried as the bucket
	// refills (see runOverflowDrain).
	n.Overflow = validate.NewOverflow(n.validateCfg, underlying)
	n.Store = newOverflowStore(underlying, n.Overflow)
	return nil
}

func (n *Node) initGossip() error {
	stream, err := gossip.NewAdvertisedTCPStreamLayer(n.Config.BindAddr, n.Config.AdvertiseAddr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", n.Config.BindAddr, err)
	}

	n.Table = gossip.NewPeerTable()
	if err := peers.NewSeedFile(n.Config.WorldDir).LoadInto(n.Table); err != nil {
		n.logger.WithField("error", err).Debug("no seed peers loaded")
	}

	transport := gossip.NewTransport(stream, n.Config.StageTimeout, n.Config.MaxPool)

	n.Gossip = gossip.New(n.World, n.Store, n.Table, transport, n.cellsOfInterest, n.Beliefs, n.logger.Logger, n.Config.GossipConfig())
	n.Listener = gossip.NewListener(stream, n.Gossip, n.logger.Logger)

	n.logger.WithField("advertise", stream.AdvertiseAddr()).Info("gossip bound")
	return nil
}

func (n *Node) initProducer() error {
	n.Producer = producer.New(n.Store, n.Beliefs, n.logger.Logger)
	return nil
}

// Init brings up every component in dependency order: key, world id, trust
// table, validation pipeline (which the store needs as its Validator),
// store, gossip, producer.
func (n *Node) Init() error {
	n.logger = n.Config.Logger()

	if err := n.initKey(); err != nil {
		return err
	}
	if err := n.initWorld(); err != nil {
		return err
	}
	if err := n.initTrust(); err != nil {
		return err
	}
	if err := n.initPipeline(); err != nil {
		return err
	}
	if err := n.initStore(); err != nil {
		return err
	}
	if err := n.initGossip(); err != nil {
		return err
	}
	if err := n.initProducer(); err != nil {
		return err
	}
	return nil
}

// retentionSweepInterval is how often Run checks the in-mem store against
// its budget. It runs far more often than StoreBudget is expected to be
// approached, since a sweep over an under-budget store is cheap (a single
// length comparison) and missing a sweep window just delays eviction.
const retentionSweepInterval = 10 * time.Second

// overflowDrainInterval is how often Run retries held-back events against
// the rate limiter, frequent enough that a burst drains within a few token
// refill cycles rather than sitting at the back of its per-emitter buffer.
const overflowDrainInterval = 2 * time.Second

// trustDecayInterval is how often Run pulls idle emitters' trust weight
// toward the exploration floor. Trust decay is meant to track epochs of
// silence, not wall-clock seconds, so this only needs to run often enough
// that the decay keeps pace with the aggregator's own epoch clock.
const trustDecayInterval = 30 * time.Second

// Run starts the listener, the gossip cycle, the overflow drain loop, the
// trust idle-decay loop, and (for the in-mem store) the retention sweep,
// and blocks until Stop is called.
func (n *Node) Run() {
	go n.Listener.Serve()
	go n.Gossip.Run(n.stop)
	if n.Retention != nil {
		go n.runRetention()
	}
	go n.runOverflowDrain()
	go n.runTrustDecay()
	<-n.stop
}

func (n *Node) runRetention() {
	ticker := time.NewTicker(retentionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.stop:
			return
		case <-ticker.C:
			if evicted := n.Retention.Sweep(); evicted > 0 {
				n.logger.WithField("evicted", evicted).Debug("retention sweep evicted cells")
			}
		}
	}
}

func (n *Node) runOverflowDrain() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-n.stop
		cancel()
	}()
	n.Overflow.RunDrainLoop(ctx, overflowDrainInterval)
}

// runTrustDecay periodically pulls idle emitters' trust weight toward the
// exploration floor, using the belief aggregator's own latest-observed
// epoch as "now" since this node has no independent epoch clock of its
// own.
func (n *Node) runTrustDecay() {
	ticker := time.NewTicker(trustDecayInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.stop:
			return
		case <-ticker.C:
			n.Trust.DecayIdle(n.Beliefs.LatestEpoch())
		}
	}
}

// Stop signals Run to return. It does not close the listener; callers that
// want a clean shutdown should close n.Listener themselves afterward.
func (n *Node) Stop() {
	close(n.stop)
	<-n.Gossip.Stopped()
}
