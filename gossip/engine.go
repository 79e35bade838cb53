package gossip

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rng-ops/gossip/belief"
	"github.com/rng-ops/gossip/causal"
	"github.com/rng-ops/gossip/crypto"
	"github.com/rng-ops/gossip/event"
	"github.com/rng-ops/gossip/store"
	"github.com/rng-ops/gossip/wire"
)

// Config bounds the engine's periodic cycle and per-stage behavior.
type Config struct {
	// Period is T_gossip: how often the engine initiates a sync.
	Period time.Duration
	// StageTimeout bounds each of the three sync stages.
	StageTimeout time.Duration
	// MaxEventsPerDelta caps a single DeltaRequest/DeltaBatch exchange.
	MaxEventsPerDelta uint32
	// ActivePeers and RandomSlots size the working set (N_active, N_random).
	ActivePeers int
	RandomSlots int
	// EvictAfter idles a peer out of the table after this much inactivity;
	// a common choice is 3x the gossip period.
	EvictAfter time.Duration
	// AntiEntropyEvery runs the cell-scan sweep once every this many cycles
	// (the sweep is "periodic, not every cycle").
	AntiEntropyEvery int
	// AntiEntropyFanout bounds how many event ids a single EventOffer
	// carries.
	AntiEntropyFanout int
}

// DefaultConfig returns reasonable defaults for the gossip cycle.
func DefaultConfig() Config {
	return Config{
		Period:            30 * time.Second,
		StageTimeout:      10 * time.Second,
		MaxEventsPerDelta: 256,
		ActivePeers:       DefaultActivePeers,
		RandomSlots:       DefaultRandomSlots,
		EvictAfter:        90 * time.Second,
		AntiEntropyEvery:  5,
		AntiEntropyFanout: 64,
	}
}

// Engine drives convergence of a single world's event store against its
// peer set: periodic peer selection, the three-stage sync protocol, and
// eviction of peers that have gone quiet. It also serves the responder side
// of every stage for peers that dial in.
type Engine struct {
	world     crypto.Hash
	store     store.EventStore
	table     *PeerTable
	selector  *Selector
	transport *Transport
	beliefs   *belief.Aggregator
	logger    *logrus.Logger
	cfg       Config

	cellsOfInterest []event.TerrainAddress

	timer    *cycleTimer
	stopped  chan struct{}
	cycles   int
	inFlight int32

	cellSyncMu sync.Mutex
	cellSync   map[cellSyncKey]cellSyncState
}

// cellSyncKey identifies one (peer, cell) pair for the anti-entropy sweep's
// per-peer "did this cell change since I last swept it against them" check.
type cellSyncKey struct {
	addr    string
	terrain event.TerrainAddress
}

// cellSyncState is the cell summary snapshot recorded the last time a sweep
// against a given peer ran to completion.
type cellSyncState struct {
	eventCount  uint64
	lastUpdated uint64
}

// New constructs an Engine for world. cellsOfInterest is advertised in
// every SyncHello this node sends. beliefs, if non-nil, is folded with
// every event this node admits via gossip, the same way a locally submitted
// event folds into it through producer.Submit — otherwise a node's beliefs
// would only ever reflect what was submitted through its own producer,
// never what it learned about from peers. logger may be nil, matching
// producer's convention of constructing a debug-level logger when none is
// supplied.
func New(world crypto.Hash, s store.EventStore, table *PeerTable, transport *Transport, cellsOfInterest []event.TerrainAddress, beliefs *belief.Aggregator, logger *logrus.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = logrus.New()
		logger.Level = logrus.DebugLevel
	}
	return &Engine{
		world:           world,
		store:           s,
		table:           table,
		selector:        NewSelector(table, cfg.ActivePeers, cfg.RandomSlots),
		transport:       transport,
		beliefs:         beliefs,
		logger:          logger,
		cfg:             cfg,
		cellsOfInterest: cellsOfInterest,
		timer:           newCycleTimer(cfg.Period),
		stopped:         make(chan struct{}),
		cellSync:        make(map[cellSyncKey]cellSyncState),
	}
}

// Run drives the periodic cycle until stop is closed. It blocks; callers
// run it in its own goroutine.
func (e *Engine) Run(stop <-chan struct{}) {
	go e.timer.run(e.cfg.Period)

	for {
		select {
		case <-e.timer.tickCh:
			e.cycles++
			e.runCycle()
		case <-stop:
			e.timer.shutdown()
			close(e.stopped)
			return
		}
	}
}

// Stopped is closed once Run has fully exited.
func (e *Engine) Stopped() <-chan struct{} { return e.stopped }

func (e *Engine) runCycle() {
	now := time.Now()

	for _, addr := range e.table.EvictStale(now, e.cfg.EvictAfter) {
		e.logger.WithField("peer", addr).Debug("gossip: evicted idle peer")
	}

	peer, ok := e.selector.Next(now)
	if !ok {
		e.logger.Debug("gossip: no peer available this cycle")
		return
	}

	start := time.Now()
	err := e.syncWith(peer.Addr)
	rtt := time.Since(start)

	e.table.RecordAttempt(peer.Addr, err == nil, rtt, time.Now())

	fields := logrus.Fields{"peer": peer.Addr, "rtt": rtt, "cycle": e.cycles}
	if err != nil {
		fields["error"] = err
		e.logger.WithFields(fields).Debug("gossip: sync failed")
		return
	}
	e.logger.WithFields(fields).Debug("gossip: sync complete")

	if e.cfg.AntiEntropyEvery > 0 && e.cycles%e.cfg.AntiEntropyEvery == 0 {
		if err := e.antiEntropySweep(peer.Addr); err != nil {
			e.logger.WithFields(logrus.Fields{"peer": peer.Addr, "error": err}).Debug("gossip: anti-entropy sweep failed")
		}
	}
}

// errBusy signals that the responder declined this cycle and supplied a
// retry window.
type errBusy struct{ retryAfter time.Duration }

func (e errBusy) Error() string { return fmt.Sprintf("peer busy, retry after %s", e.retryAfter) }

// syncWith performs the frontier exchange and delta fetch stages against
// addr.
func (e *Engine) syncWith(addr string) error {
	// Ensure addr has a table entry for the busy backoff and overlap scores
	// recorded below; Add is a no-op for a peer already known.
	e.table.Add(addr)
	localFrontier := e.store.Frontier(e.world)

	resp, err := e.transport.call(addr, &wire.SyncHello{
		World:           e.world,
		Frontier:        localFrontier,
		CellsOfInterest: e.cellsOfInterest,
	})
	if err != nil {
		return err
	}

	switch m := resp.(type) {
	case *wire.SyncBusy:
		e.table.MarkBusy(addr, time.Duration(m.RetryAfterMs)*time.Millisecond, time.Now())
		return errBusy{retryAfter: time.Duration(m.RetryAfterMs) * time.Millisecond}
	case *wire.SyncAbort:
		return fmt.Errorf("gossip: peer aborted sync: %s", reasonString(m.Reason))
	case *wire.SyncHello:
		// A successful exchange already required req.World == resp.World, so
		// there is no cross-world interest fraction to compute here; the two
		// only ever diverge in which cells they care about.
		e.table.SetOverlap(addr, 1.0, cellOverlapFraction(e.cellsOfInterest, m.CellsOfInterest))
		return e.fetchDelta(addr, localFrontier, m.Frontier)
	default:
		return fmt.Errorf("gossip: unexpected response to SyncHello: %T", resp)
	}
}

// cellOverlapFraction returns the fraction of mine, in [0,1], that also
// appears in theirs. An empty mine reports no overlap rather than dividing
// by zero, since a node advertising no cells of interest has nothing to
// overlap.
func cellOverlapFraction(mine, theirs []event.TerrainAddress) float64 {
	if len(mine) == 0 {
		return 0
	}
	set := make(map[event.TerrainAddress]struct{}, len(theirs))
	for _, t := range theirs {
		set[t] = struct{}{}
	}
	shared := 0
	for _, m := range mine {
		if _, ok := set[m]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(mine))
}

// fetchDelta requests from addr everything peerFrontier has that
// localFrontier lacks and admits what it receives. The store tracks its own
// frontier; this method only decides what to ask for.
func (e *Engine) fetchDelta(addr string, localFrontier, peerFrontier *causal.VersionVector) error {
	ranges := diffRanges(localFrontier, peerFrontier)
	if len(ranges) == 0 {
		return nil
	}
	wireRanges := make([]wire.ReplicaRange, len(ranges))
	for i, r := range ranges {
		wireRanges[i] = wire.ReplicaRange{Replica: r.Replica, Lo: r.Lo, Hi: r.Hi}
	}

	resp, err := e.transport.call(addr, &wire.DeltaRequest{
		World:     e.world,
		Ranges:    wireRanges,
		MaxEvents: e.cfg.MaxEventsPerDelta,
	})
	if err != nil {
		return err
	}

	batch, ok := resp.(*wire.DeltaBatch)
	if !ok {
		return fmt.Errorf("gossip: unexpected response to DeltaRequest: %T", resp)
	}
	return e.admitBatch(batch)
}

func (e *Engine) admitBatch(batch *wire.DeltaBatch) error {
	for _, ev := range batch.Events {
		outcome, err := e.store.Admit(context.Background(), ev)
		if err != nil {
			e.logger.WithFields(logrus.Fields{"event": ev.ID(), "error": err}).Debug("gossip: rejected delta event")
			continue
		}
		if outcome == store.Accepted {
			e.fold(ev)
		}
	}
	return nil
}

// fold admits ev's contribution into the belief aggregator, the gossip
// path's equivalent of producer.Producer.fold: a node's beliefs must
// incorporate what it learns about from peers, not only what was submitted
// through its own producer.
func (e *Engine) fold(ev *event.Event) {
	if e.beliefs == nil {
		return
	}
	switch body := ev.Body.(type) {
	case event.BehaviorAttestation:
		e.beliefs.OnAttestation(ev.World, ev.Emitter, ev.EpochID, body)
	case event.Dispute:
		for _, disputedID := range body.DisputedEventIDs {
			disputed, ok := e.store.Get(disputedID)
			if !ok {
				continue
			}
			target, ok := targetOf(disputed.Body)
			if !ok {
				continue
			}
			e.beliefs.OnDispute(ev.World, target, disputed.Emitter, ev.EpochID)
		}
	}
}

// targetOf extracts the TargetRef a body contributes evidence about, if
// any. Mirrors producer.targetOf; kept local rather than imported since
// producer sits above gossip in the wiring order (engine constructs gossip
// before producer) and this is the only piece either side needs from the
// other.
func targetOf(b event.Body) (crypto.Hash, bool) {
	switch v := b.(type) {
	case event.ProbeReceipt:
		return v.Target, true
	case event.BehaviorAttestation:
		return v.Target, true
	case event.LinkHint:
		return v.Target, true
	default:
		return crypto.Hash{}, false
	}
}

// diffRanges computes, per replica known to peerFrontier, the half-open
// range of sequences local is missing: every sequence greater than the
// local component and at most the peer's.
func diffRanges(local, peer *causal.VersionVector) []store.Range {
	var ranges []store.Range
	for _, r := range peer.Replicas() {
		lo := local.Get(r)
		hi := peer.Get(r)
		if hi > lo {
			ranges = append(ranges, store.Range{Replica: r, Lo: lo, Hi: hi})
		}
	}
	return ranges
}

func reasonString(reason wire.AbortReason) string {
	switch reason {
	case wire.AbortShuttingDown:
		return "shutting down"
	case wire.AbortProtocolError:
		return "protocol error"
	case wire.AbortPeerUntrusted:
		return "peer untrusted"
	default:
		return "unspecified"
	}
}
