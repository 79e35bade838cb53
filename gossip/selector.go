package gossip

import (
	"math/rand"
	"sort"
	"time"
)

// DefaultActivePeers is N_active: the working set size the selector draws
// the periodic cycle's target from.
const DefaultActivePeers = 8

// DefaultRandomSlots is N_random: the number of working-set slots filled
// uniformly at random from the full peer set, regardless of score, so the
// working set never fully converges onto a clustered subset.
const DefaultRandomSlots = 2

// Selector picks the working set and, each cycle, one peer from it to sync
// with. It mirrors a Next()/UpdateLast() peer-selector shape, but draws its
// working set by score from a larger table instead of a single flat peer
// set.
type Selector struct {
	table *PeerTable
	rng   *rand.Rand

	active       int
	randomSlots  int
	lastSelected string
}

// NewSelector constructs a Selector over table. active and randomSlots fall
// back to DefaultActivePeers/DefaultRandomSlots when zero.
func NewSelector(table *PeerTable, active, randomSlots int) *Selector {
	if active <= 0 {
		active = DefaultActivePeers
	}
	if randomSlots <= 0 {
		randomSlots = DefaultRandomSlots
	}
	return &Selector{
		table:       table,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		active:      active,
		randomSlots: randomSlots,
	}
}

// score combines measured latency, cell and interest overlap, and a random
// jitter component into a single ascending-is-better figure: lower latency
// and higher overlap score better, and the jitter keeps ties (and cold-start
// all-zero peers) from resolving in map iteration order.
func (s *Selector) score(p PeerInfo) float64 {
	latencyPenalty := float64(p.LatencyEstimate) / float64(time.Second)
	overlap := p.InterestOverlap + p.CellOverlap
	jitter := s.rng.Float64() * 0.1
	return latencyPenalty - overlap + jitter
}

// WorkingSet returns up to s.active peers: the best-scoring candidates plus
// s.randomSlots peers drawn uniformly at random from whatever remains,
// excluding peers still under a SyncBusy retry hold.
func (s *Selector) WorkingSet(now time.Time) []PeerInfo {
	candidates := make([]PeerInfo, 0)
	for _, p := range s.table.Snapshot() {
		if !p.RetryAfter.IsZero() && now.Before(p.RetryAfter) {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) <= s.active {
		return candidates
	}

	sort.Slice(candidates, func(i, j int) bool {
		return s.score(candidates[i]) < s.score(candidates[j])
	})

	randomSlots := s.randomSlots
	if randomSlots > s.active {
		randomSlots = s.active
	}
	scoredSlots := s.active - randomSlots

	working := make([]PeerInfo, 0, s.active)
	working = append(working, candidates[:scoredSlots]...)

	rest := candidates[scoredSlots:]
	s.rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
	for i := 0; i < randomSlots && i < len(rest); i++ {
		working = append(working, rest[i])
	}
	return working
}

// Next draws one peer from the working set by weighted random choice,
// weights proportional to freshness deficit (time since last successful
// sync; a peer never yet synced gets the largest deficit of all). It never
// returns the immediately preceding selection unless the working set has
// only one member.
func (s *Selector) Next(now time.Time) (PeerInfo, bool) {
	working := s.WorkingSet(now)
	if len(working) == 0 {
		return PeerInfo{}, false
	}

	if len(working) > 1 {
		filtered := working[:0:0]
		for _, p := range working {
			if p.Addr != s.lastSelected {
				filtered = append(filtered, p)
			}
		}
		if len(filtered) > 0 {
			working = filtered
		}
	}

	deficits := make([]float64, len(working))
	var total float64
	for i, p := range working {
		deficits[i] = freshnessDeficit(p, now)
		total += deficits[i]
	}

	if total <= 0 {
		chosen := working[s.rng.Intn(len(working))]
		s.lastSelected = chosen.Addr
		return chosen, true
	}

	draw := s.rng.Float64() * total
	var cumulative float64
	for i, d := range deficits {
		cumulative += d
		if draw <= cumulative {
			s.lastSelected = working[i].Addr
			return working[i], true
		}
	}
	chosen := working[len(working)-1]
	s.lastSelected = chosen.Addr
	return chosen, true
}

// freshnessDeficit grows the longer a peer has gone without a successful
// sync. A peer never yet synced gets a deficit of one day, a large but
// finite weight so it competes fairly with long-neglected known peers
// rather than dominating every draw outright.
func freshnessDeficit(p PeerInfo, now time.Time) float64 {
	if p.LastSuccess.IsZero() {
		return 24 * time.Hour.Seconds()
	}
	age := now.Sub(p.LastSuccess).Seconds()
	if age < 0 {
		return 0
	}
	return age
}
