// Package belief implements the per-(world, TargetRef) robust aggregator:
// trimmed-mean central estimates, correlation-cluster sybil dampening,
// recency decay, and trust weighting, recomputed as BehaviorAttestation
// events are admitted. All weights and the resulting Belief fields are
// Scale-denominated fixed-point integers so that two nodes given the same
// accepted events compute bit-identical results.
package belief

import (
	"sort"
	"sync"

	"github.com/rng-ops/gossip/crypto"
	"github.com/rng-ops/gossip/event"
)

// TrimFraction is the fraction of total post-weight share discarded from
// each tail before computing the central estimate.
const TrimFraction = 0.20

// trimFractionFixed is TrimFraction as a Scale-denominated fixed-point
// value, so the trim boundary can be computed in the same integer
// arithmetic as everything else this package touches.
const trimFractionFixed int64 = int64(TrimFraction * float64(Scale))

// HalfLifeEpochs is the default recency half-life: an attestation's weight
// halves every this many epochs of age.
const HalfLifeEpochs uint64 = 16

// Belief is the derived per-target estimate; authoritative state remains
// the event log, this is always recomputable from it.
type Belief struct {
	MuPPM           uint32 // central estimate, Scale-denominated (parts per million)
	SigmaPPM        uint32 // dispersion estimate, same scale
	TrendPPM        int32  // signed change rate since the previous recomputation
	DisagreementPPM uint32 // cross-cluster spread
	LastInputEpoch  uint64
}

type sample struct {
	emitter    emitterKey
	muPPM      int64
	clusterKey string
	epoch      uint64
}

type targetKey struct {
	World     crypto.Hash
	TargetRef crypto.Hash
}

// Aggregator maintains one Belief per (world, TargetRef), recomputed
// incrementally as attestations are admitted.
type Aggregator struct {
	mu          sync.RWMutex
	samples     map[targetKey][]sample
	beliefs     map[targetKey]Belief
	disputed    map[targetKey]map[emitterKey]struct{}
	trust       *TrustTable
	latestEpoch uint64
}

// disputedWeightPenalty scales down a disputed emitter's contribution
// without silencing it: the dispute is evidence, not proof, and may itself
// be resolved by further corroboration.
const disputedWeightPenalty int64 = Scale / 4 // down-weighted to 25%

// disputedSigmaInflation adds this much to a target's reported sigma per
// outstanding disputed contributor, reflecting the aggregator's reduced
// confidence while the dispute is unresolved.
const disputedSigmaInflation int64 = Scale / 20 // +5% per disputed emitter

// NewAggregator returns an aggregator backed by trust, which also satisfies
// validate.ReputationSource for the validation pipeline's reputation gate.
func NewAggregator(trust *TrustTable) *Aggregator {
	return &Aggregator{
		samples:  make(map[targetKey][]sample),
		beliefs:  make(map[targetKey]Belief),
		disputed: make(map[targetKey]map[emitterKey]struct{}),
		trust:    trust,
	}
}

// OnDispute records that emitter's contributions to (world, targetRef) are
// disputed, and recomputes the belief so the down-weighting and sigma
// inflation take effect immediately. The dispute event itself is never
// deleted or mutated elsewhere; this only affects aggregation.
func (a *Aggregator) OnDispute(world, targetRef crypto.Hash, emitter []byte, nowEpoch uint64) Belief {
	tk := targetKey{World: world, TargetRef: targetRef}

	a.mu.Lock()
	defer a.mu.Unlock()

	set, ok := a.disputed[tk]
	if !ok {
		set = make(map[emitterKey]struct{})
		a.disputed[tk] = set
	}
	set[keyOf(emitter)] = struct{}{}

	return a.recomputeLocked(tk, nowEpoch)
}

// ResolveDispute clears a standing dispute against emitter for
// (world, targetRef), e.g. once a majority of independent emitters has
// corroborated one side.
func (a *Aggregator) ResolveDispute(world, targetRef crypto.Hash, emitter []byte, nowEpoch uint64) Belief {
	tk := targetKey{World: world, TargetRef: targetRef}

	a.mu.Lock()
	defer a.mu.Unlock()

	if set, ok := a.disputed[tk]; ok {
		delete(set, keyOf(emitter))
	}
	return a.recomputeLocked(tk, nowEpoch)
}

// OnAttestation folds a newly admitted BehaviorAttestation into the target's
// running sample set and recomputes its belief. world and emitter are
// supplied by the caller (the event's own fields), since Body itself does
// not carry them.
func (a *Aggregator) OnAttestation(world crypto.Hash, emitter []byte, epoch uint64, att event.BehaviorAttestation) Belief {
	tk := targetKey{World: world, TargetRef: att.Target}
	s := sample{
		emitter:    keyOf(emitter),
		muPPM:      int64(att.MuPPM),
		clusterKey: string(att.ClusterKey),
		epoch:      epoch,
	}

	a.mu.Lock()
	a.samples[tk] = append(a.samples[tk], s)
	belief := a.recomputeLocked(tk, epoch)
	a.mu.Unlock()

	return belief
}

// Belief returns the current belief for (world, targetRef), the zero value
// if nothing has been observed yet.
func (a *Aggregator) Belief(world crypto.Hash, targetRef crypto.Hash) Belief {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.beliefs[targetKey{World: world, TargetRef: targetRef}]
}

// Recompute rebuilds the belief for (world, targetRef) from scratch against
// its current sample set, for the idempotence guarantee: a full
// recomputation from the event log must always agree with the incremental
// path.
func (a *Aggregator) Recompute(world, targetRef crypto.Hash, nowEpoch uint64) Belief {
	tk := targetKey{World: world, TargetRef: targetRef}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.recomputeLocked(tk, nowEpoch)
}

// LatestEpoch returns the highest epoch seen across every attestation or
// dispute folded so far, the aggregator's own notion of "now" for callers
// (such as the trust table's idle decay) that have no other epoch clock of
// their own.
func (a *Aggregator) LatestEpoch() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latestEpoch
}

func (a *Aggregator) recomputeLocked(tk targetKey, nowEpoch uint64) Belief {
	if nowEpoch > a.latestEpoch {
		a.latestEpoch = nowEpoch
	}

	samples := a.samples[tk]
	prev := a.beliefs[tk]

	weighted := a.weightSamplesLocked(tk, samples, nowEpoch)
	mu, sigma := trimmedWeightedMeanStdev(weighted)
	disagreement := clusterDisagreement(weighted)

	if disputedSet := a.disputed[tk]; len(disputedSet) > 0 {
		sigma = clampFixed(sigma+int64(len(disputedSet))*disputedSigmaInflation, 0, Scale)
	}

	belief := Belief{
		MuPPM:           uint32(clampFixed(mu, 0, Scale)),
		SigmaPPM:        uint32(clampFixed(sigma, 0, Scale)),
		TrendPPM:        int32(clampFixed(mu-int64(prev.MuPPM), -Scale, Scale)),
		DisagreementPPM: uint32(clampFixed(disagreement, 0, Scale)),
		LastInputEpoch:  nowEpoch,
	}
	a.beliefs[tk] = belief

	if a.trust != nil {
		a.updateTrustLocked(weighted, mu, nowEpoch)
	}

	return belief
}

type weightedSample struct {
	emitter    emitterKey
	muPPM      int64
	weight     int64
	clusterKey string
}

// weightSamplesLocked applies recency decay, correlation-cluster sqrt
// saturation, and trust weighting to every raw sample, in that order.
func (a *Aggregator) weightSamplesLocked(tk targetKey, samples []sample, nowEpoch uint64) []weightedSample {
	clusterSize := make(map[string]int64)
	for _, s := range samples {
		clusterSize[s.clusterKey]++
	}
	disputedSet := a.disputed[tk]

	out := make([]weightedSample, 0, len(samples))
	for _, s := range samples {
		w := Scale

		age := int64(0)
		if nowEpoch > s.epoch {
			age = int64(nowEpoch - s.epoch)
		}
		w = mulFixed(w, recencyDecay(age))

		n := clusterSize[s.clusterKey]
		if n > 1 {
			w = mulFixed(w, divFixed(sqrtScaled(n), n*Scale))
		}

		if a.trust != nil {
			w = mulFixed(w, a.trust.Weight([]byte(s.emitter)))
		}

		if _, disputed := disputedSet[s.emitter]; disputed {
			w = mulFixed(w, disputedWeightPenalty)
		}

		out = append(out, weightedSample{
			emitter:    s.emitter,
			muPPM:      s.muPPM,
			weight:     w,
			clusterKey: s.clusterKey,
		})
	}
	return out
}

// recencyDecay returns the Scale-denominated weight multiplier for a sample
// ageEpochs old: one halving per HalfLifeEpochs, with no interpolation
// between halvings, so the computation stays exact integer arithmetic.
func recencyDecay(ageEpochs int64) int64 {
	if ageEpochs <= 0 {
		return Scale
	}
	halvings := uint64(ageEpochs) / HalfLifeEpochs
	if halvings >= 63 {
		return 0
	}
	return Scale >> halvings
}

// updateTrustLocked computes each contributing emitter's leave-one-out
// predictive accuracy against the belief the rest of the evidence would
// have produced without it, and folds that into the trust table.
func (a *Aggregator) updateTrustLocked(weighted []weightedSample, fullMu int64, nowEpoch uint64) {
	if len(weighted) < 2 {
		return
	}
	byEmitter := make(map[emitterKey][]int)
	for i, w := range weighted {
		byEmitter[w.emitter] = append(byEmitter[w.emitter], i)
	}
	for emitter, idxs := range byEmitter {
		leaveOut := make([]weightedSample, 0, len(weighted)-len(idxs))
		excluded := make(map[int]struct{}, len(idxs))
		for _, i := range idxs {
			excluded[i] = struct{}{}
		}
		for i, w := range weighted {
			if _, skip := excluded[i]; skip {
				continue
			}
			leaveOut = append(leaveOut, w)
		}
		if len(leaveOut) == 0 {
			continue
		}
		looMu, _ := trimmedWeightedMeanStdev(leaveOut)
		diff := fullMu - looMu
		if diff < 0 {
			diff = -diff
		}
		// Accuracy is 1 minus the normalized disagreement this emitter's
		// contribution introduced; a perfectly agreeing emitter scores Scale.
		accuracy := Scale - clampFixed(diff, 0, Scale)
		a.trust.RecordAccuracy([]byte(emitter), accuracy, nowEpoch)
	}
}

// trimmedWeightedMeanStdev sorts by value and discards TrimFraction of the
// total post-weight share from each tail, not a fixed fraction of the raw
// sample count: a cluster whose weight is already capped by saturation (see
// weightSamplesLocked) cannot evict a minority of differently-weighted
// samples from consideration just by being numerically large. A sample
// straddling a trim boundary contributes only its unterimmed remainder.
// Returns the weighted mean and population standard deviation of what
// remains.
func trimmedWeightedMeanStdev(samples []weightedSample) (mu, sigma int64) {
	if len(samples) == 0 {
		return 0, 0
	}
	sorted := make([]weightedSample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].muPPM < sorted[j].muPPM })

	var totalWeight int64
	for _, s := range sorted {
		totalWeight += s.weight
	}
	if totalWeight <= 0 {
		return 0, 0
	}

	trimAmount := mulFixed(totalWeight, trimFractionFixed)
	if 2*trimAmount >= totalWeight {
		// Trimming both tails this hard would discard every sample; fall
		// back to the untrimmed weighted mean instead.
		trimAmount = 0
	}

	n := len(sorted)

	lo, loBudget := 0, trimAmount
	for lo < n && loBudget > 0 {
		w := sorted[lo].weight
		if w > loBudget {
			break
		}
		loBudget -= w
		lo++
	}
	loClip := loBudget // weight still to strip from sorted[lo], if any

	hi, hiBudget := n-1, trimAmount
	for hi >= 0 && hiBudget > 0 {
		w := sorted[hi].weight
		if w > hiBudget {
			break
		}
		hiBudget -= w
		hi--
	}
	hiClip := hiBudget // weight still to strip from sorted[hi], if any

	if lo > hi {
		// Rounding pushed the two trims past each other; keep everything
		// rather than return an empty set.
		lo, hi, loClip, hiClip = 0, n-1, 0, 0
	}

	var totalKeptWeight, weightedSum int64
	for idx := lo; idx <= hi; idx++ {
		w := sorted[idx].weight
		if idx == lo {
			w -= loClip
		}
		if idx == hi {
			w -= hiClip
		}
		if w <= 0 {
			continue
		}
		totalKeptWeight += w
		weightedSum += mulFixed(w, sorted[idx].muPPM)
	}
	if totalKeptWeight == 0 {
		return 0, 0
	}
	mu = divFixed(weightedSum, totalKeptWeight)

	var variance int64
	for idx := lo; idx <= hi; idx++ {
		w := sorted[idx].weight
		if idx == lo {
			w -= loClip
		}
		if idx == hi {
			w -= hiClip
		}
		if w <= 0 {
			continue
		}
		d := sorted[idx].muPPM - mu
		variance += mulFixed(w, mulFixed(d, d))
	}
	variance = divFixed(variance, totalKeptWeight)
	// variance is Scale-denominated, so sigma*Scale is sqrt(variance*Scale),
	// which is sqrtScaled(variance) divided by sqrt(Scale) = 1000.
	sigma = sqrtScaled(variance) / 1_000
	return mu, sigma
}

// clusterDisagreement returns the standard deviation of the per-cluster
// means around their weight-averaged grand mean, each cluster counting once,
// measuring how much distinct correlation clusters disagree with
// each other (as opposed to sigma, which measures spread within the full
// trimmed set).
func clusterDisagreement(weighted []weightedSample) int64 {
	sums := make(map[string]int64)
	weights := make(map[string]int64)
	for _, w := range weighted {
		sums[w.clusterKey] += mulFixed(w.weight, w.muPPM)
		weights[w.clusterKey] += w.weight
	}
	if len(sums) < 2 {
		return 0
	}
	means := make([]int64, 0, len(sums))
	var totalWeight int64
	var weightedMeanSum int64
	for k, sum := range sums {
		wt := weights[k]
		if wt == 0 {
			continue
		}
		m := divFixed(sum, wt)
		means = append(means, m)
		totalWeight += wt
		weightedMeanSum += mulFixed(wt, m)
	}
	if totalWeight == 0 || len(means) < 2 {
		return 0
	}
	grandMean := divFixed(weightedMeanSum, totalWeight)
	var variance int64
	for _, m := range means {
		d := m - grandMean
		variance += mulFixed(d, d)
	}
	variance /= int64(len(means))
	return sqrtScaled(variance) / 1_000
}
