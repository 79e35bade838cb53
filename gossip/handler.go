package gossip

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/rng-ops/gossip/crypto"
	"github.com/rng-ops/gossip/event"
	"github.com/rng-ops/gossip/store"
	"github.com/rng-ops/gossip/wire"
)

// DefaultRetryAfter is the backoff window handed to an initiator turned
// away by SyncBusy.
const DefaultRetryAfter = 2000 // ms

// Handler is the responder side of the sync protocol: one method per
// request message, returning the response message to send back.
type Handler interface {
	HandleSyncHello(from string, req *wire.SyncHello) wire.Message
	HandleDeltaRequest(from string, req *wire.DeltaRequest) wire.Message
	HandleEventOffer(from string, req *wire.EventOffer) wire.Message
	HandlePush(from string, req *wire.DeltaBatch) wire.Message
}

// SessionTracker is implemented by handlers that want to bound concurrent
// inbound sessions; the listener calls SessionStart when a connection is
// accepted and SessionEnd when it closes.
type SessionTracker interface {
	SessionStart()
	SessionEnd()
}

var (
	_ Handler        = (*Engine)(nil)
	_ SessionTracker = (*Engine)(nil)
)

// SessionStart implements SessionTracker.
func (e *Engine) SessionStart() { atomic.AddInt32(&e.inFlight, 1) }

// SessionEnd implements SessionTracker.
func (e *Engine) SessionEnd() { atomic.AddInt32(&e.inFlight, -1) }

// MaxConcurrentSyncs caps simultaneous inbound sync sessions before the
// engine starts replying SyncBusy.
const MaxConcurrentSyncs = 16

// HandleSyncHello implements Handler: it replies with the local frontier
// and this node's own cells of interest, per the protocol's step 1 ("B
// replies with SyncHello{world, frontier_B, cells_of_interest_B}") — the
// initiator uses the latter to score cell overlap for peer selection (see
// Engine.syncWith). It does not add the caller to the peer table: from is
// the TCP connection's remote address, an ephemeral outbound port on the
// initiator's side, not anything this node could dial back. Nothing in the
// wire messages carries a dialable return address, so discovering new
// peers to dial is the seed file's job (see peers.SeedFile), not a side
// effect of being dialed.
func (e *Engine) HandleSyncHello(from string, req *wire.SyncHello) wire.Message {
	if req.World != e.world {
		return &wire.SyncAbort{Reason: wire.AbortProtocolError}
	}

	if atomic.LoadInt32(&e.inFlight) >= int32(MaxConcurrentSyncs) {
		return &wire.SyncBusy{RetryAfterMs: DefaultRetryAfter}
	}

	return &wire.SyncHello{
		World:           e.world,
		Frontier:        e.store.Frontier(e.world),
		CellsOfInterest: e.cellsOfInterest,
	}
}

// HandleDeltaRequest implements Handler: it serves exactly the ranges
// asked for, in (replica_id, sequence) order, capped at max_events, and
// always eob=true since a single RangeScan call already returns the full
// bounded result in one pass.
func (e *Engine) HandleDeltaRequest(from string, req *wire.DeltaRequest) wire.Message {
	if req.World != e.world {
		return &wire.SyncAbort{Reason: wire.AbortProtocolError}
	}

	ranges := make([]store.Range, len(req.Ranges))
	for i, rr := range req.Ranges {
		ranges[i] = store.Range{Replica: rr.Replica, Lo: rr.Lo, Hi: rr.Hi}
	}

	limit := int(req.MaxEvents)
	if limit <= 0 || limit > int(e.cfg.MaxEventsPerDelta) {
		limit = int(e.cfg.MaxEventsPerDelta)
	}

	events, err := e.store.RangeScan(e.world, ranges, limit)
	if err != nil {
		e.logger.WithFields(logrus.Fields{"peer": from, "error": err}).Debug("gossip: range scan failed")
		return &wire.DeltaBatch{World: e.world, Eob: true}
	}

	return &wire.DeltaBatch{World: e.world, Events: events, Eob: true}
}

// HandleEventOffer implements Handler: it checks each offered id against
// the local store and wants exactly the ones not already held, per the
// anti-entropy sweep's bitmap-reply step.
func (e *Engine) HandleEventOffer(from string, req *wire.EventOffer) wire.Message {
	want := &wire.EventWant{World: e.world, Bitmap: make([]byte, (len(req.EventIDs)+7)/8)}
	for i, id := range req.EventIDs {
		if _, have := e.store.Get(id); !have {
			want.SetWant(i)
		}
	}
	return want
}

// HandlePush implements Handler: it admits the events a prior EventOffer's
// wanted bitmap asked for, folds each one into the belief aggregator the
// same way admitBatch does, and acknowledges with an empty batch.
func (e *Engine) HandlePush(from string, req *wire.DeltaBatch) wire.Message {
	if req.World != e.world {
		return &wire.SyncAbort{Reason: wire.AbortProtocolError}
	}
	if err := e.admitBatch(req); err != nil {
		e.logger.WithFields(logrus.Fields{"peer": from, "error": err}).Debug("gossip: push admission failed")
	}
	return &wire.DeltaBatch{World: e.world, Eob: true}
}

// antiEntropySweep offers event ids from a local cell scan to addr for each
// cell of interest, then pushes back only the ones the peer actually
// wants.
func (e *Engine) antiEntropySweep(addr string) error {
	for _, terrain := range e.cellsOfInterest {
		if err := e.sweepCell(addr, terrain); err != nil {
			return err
		}
	}
	return nil
}

// sweepCell offers this cell's events to addr, but only when the cell's own
// summary disagrees with what it looked like the last time this cell was
// swept against addr: an unchanged event_count and last_updated means
// nothing new has landed in the cell since, so there is nothing worth
// offering and the round trip is skipped outright. This is what bounds how
// often the fanout-capped raw-id offer actually needs to go out, rather
// than repeating it every AntiEntropyEvery cycles regardless of whether
// anything changed.
func (e *Engine) sweepCell(addr string, terrain event.TerrainAddress) error {
	summary := e.store.Cells().Summary(e.world, terrain)
	if summary == nil {
		return nil
	}

	key := cellSyncKey{addr: addr, terrain: terrain}
	current := cellSyncState{eventCount: summary.EventCount, lastUpdated: summary.LastUpdated}

	e.cellSyncMu.Lock()
	last, seen := e.cellSync[key]
	e.cellSyncMu.Unlock()
	if seen && last == current {
		return nil
	}

	events, err := e.store.CellScan(e.world, terrain, nil)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	if len(events) > e.cfg.AntiEntropyFanout {
		events = events[len(events)-e.cfg.AntiEntropyFanout:]
	}

	ids := make([]crypto.Hash, 0, len(events))
	filtered := make([]*event.Event, 0, len(events))
	for _, ev := range events {
		if !summary.Has(ev.ID()) {
			// The cell index and the event store have drifted; don't offer
			// an id the cell's own sketch doesn't recognize as a member.
			continue
		}
		ids = append(ids, ev.ID())
		filtered = append(filtered, ev)
	}
	events = filtered
	if len(ids) == 0 {
		return nil
	}

	resp, err := e.transport.call(addr, &wire.EventOffer{World: e.world, EventIDs: ids})
	if err != nil {
		return err
	}
	want, ok := resp.(*wire.EventWant)
	if !ok {
		return nil
	}

	wanted := make([]*event.Event, 0)
	for i, ev := range events {
		if want.Want(i) {
			wanted = append(wanted, ev)
		}
	}
	if len(wanted) > 0 {
		if _, err := e.transport.call(addr, &wire.DeltaBatch{World: e.world, Events: wanted, Eob: true}); err != nil {
			return err
		}
	}

	e.cellSyncMu.Lock()
	e.cellSync[key] = current
	e.cellSyncMu.Unlock()
	return nil
}
