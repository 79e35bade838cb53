// Package gossip implements the peer-to-peer sync engine: peer selection,
// the three-stage sync protocol (frontier exchange, delta fetch, and
// anti-entropy sweep), and the periodic cycle that drives convergence of
// event stores across peers at bounded per-peer bandwidth.
package gossip

import (
	"sync"
	"time"
)

// PeerInfo is everything the engine tracks about one peer, used by
// selection scoring and the eviction sweep. It intentionally carries no
// pubkey-derived participant id or consensus voting weight: gossip peers
// are addressed by network address, not by consensus membership.
type PeerInfo struct {
	Addr string

	// LastContacted is the last time a sync with this peer completed,
	// successfully or not. The zero value means never.
	LastContacted time.Time

	// LastSuccess is the last time a sync with this peer admitted at least
	// one new event or confirmed frontiers already matched.
	LastSuccess time.Time

	// LatencyEstimate is an exponentially smoothed round-trip estimate for
	// this peer's sync handshake, used by the selection score.
	LatencyEstimate time.Duration

	// RetryAfter holds off selection of a busy peer until this time.
	RetryAfter time.Time

	// InterestOverlap is the fraction, in [0,1], of worlds this node
	// subscribes to that the peer is also known to serve.
	InterestOverlap float64

	// CellOverlap is the fraction, in [0,1], of terrain cells this node is
	// active in that the peer is also known to be active in.
	CellOverlap float64
}

// PeerTable is the shared, reader-writer-disciplined set of known peers:
// the write lock is taken for membership changes (Add/Remove/EvictStale)
// and for per-peer bookkeeping updates (RecordAttempt/MarkBusy/SetOverlap);
// the read lock for lookups and snapshots used in selection and scoring.
type PeerTable struct {
	mu    sync.RWMutex
	peers map[string]*PeerInfo
}

// NewPeerTable returns an empty table.
func NewPeerTable() *PeerTable {
	return &PeerTable{peers: make(map[string]*PeerInfo)}
}

// Add registers a peer by address if not already known. It is a no-op if
// the address is already present.
func (t *PeerTable) Add(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.peers[addr]; ok {
		return
	}
	t.peers[addr] = &PeerInfo{Addr: addr}
}

// Remove evicts a peer entirely, e.g. after it exceeds the sync inactivity
// threshold.
func (t *PeerTable) Remove(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, addr)
}

// Get returns a copy of a peer's current info.
func (t *PeerTable) Get(addr string) (PeerInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[addr]
	if !ok {
		return PeerInfo{}, false
	}
	return *p, true
}

// Snapshot returns a copy of every known peer, in no particular order.
func (t *PeerTable) Snapshot() []PeerInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]PeerInfo, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, *p)
	}
	return out
}

// RecordAttempt updates bookkeeping after a sync attempt with addr. success
// marks whether the whole sync (frontier exchange and delta fetch) completed
// without error; rtt is the measured duration of that whole sync.
func (t *PeerTable) RecordAttempt(addr string, success bool, rtt time.Duration, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[addr]
	if !ok {
		p = &PeerInfo{Addr: addr}
		t.peers[addr] = p
	}
	p.LastContacted = now
	if success {
		p.LastSuccess = now
	}
	if rtt > 0 {
		if p.LatencyEstimate == 0 {
			p.LatencyEstimate = rtt
		} else {
			// Exponential smoothing, alpha = 0.2, matching the recency
			// weighting style used throughout the aggregator.
			p.LatencyEstimate = p.LatencyEstimate + (rtt-p.LatencyEstimate)/5
		}
	}
}

// MarkBusy records a SyncBusy backoff: the peer must not be contacted again
// before now+retryAfter.
func (t *PeerTable) MarkBusy(addr string, retryAfter time.Duration, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[addr]; ok {
		p.RetryAfter = now.Add(retryAfter)
	}
}

// SetOverlap updates a peer's interest and cell overlap scores, as reported
// or inferred from a completed SyncHello exchange.
func (t *PeerTable) SetOverlap(addr string, interest, cell float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[addr]; ok {
		p.InterestOverlap = interest
		p.CellOverlap = cell
	}
}

// EvictStale removes every peer whose LastContacted is older than
// threshold. Peers never yet contacted are not evicted by this sweep, since
// LastContacted being zero means "never tried", not "long overdue".
func (t *PeerTable) EvictStale(now time.Time, threshold time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var evicted []string
	for addr, p := range t.peers {
		if p.LastContacted.IsZero() {
			continue
		}
		if now.Sub(p.LastContacted) > threshold {
			delete(t.peers, addr)
			evicted = append(evicted, addr)
		}
	}
	return evicted
}
