package belief

import (
	"testing"

	"github.com/rng-ops/gossip/crypto"
	"github.com/rng-ops/gossip/event"
)

func testWorld() crypto.Hash  { return crypto.H("world", []byte("t")) }
func testTarget() crypto.Hash { return crypto.H("target", []byte("t")) }

func attestation(muPPM uint32, cluster string) event.BehaviorAttestation {
	return event.BehaviorAttestation{
		Target:     testTarget(),
		MuPPM:      muPPM,
		ClusterKey: []byte(cluster),
	}
}

func TestTrimmedMeanResistsOutliers(t *testing.T) {
	a := NewAggregator(nil)
	world := testWorld()

	honest := []uint32{700_000, 710_000, 690_000, 705_000, 695_000}
	for i, mu := range honest {
		emitter := []byte{byte(i)}
		a.OnAttestation(world, emitter, 1, attestation(mu, "cluster-a"))
	}
	// A single extreme outlier, below the 20% trim fraction of 6 samples.
	belief := a.OnAttestation(world, []byte{99}, 1, attestation(0, "cluster-b"))

	if belief.MuPPM < 600_000 {
		t.Fatalf("mu = %d, outlier pulled the trimmed mean too far", belief.MuPPM)
	}
}

func TestClusterSaturationDampensSybils(t *testing.T) {
	a := NewAggregator(nil)
	world := testWorld()

	// Four sybils sharing one correlation cluster, all claiming a high
	// score, against four honest emitters in distinct clusters claiming a
	// low score. Equal counts keep the trim fraction from discarding either
	// side, isolating the sqrt(cluster_size) saturation's effect.
	for i := 0; i < 4; i++ {
		a.OnAttestation(world, []byte{byte(i)}, 1, attestation(900_000, "sybil-cluster"))
	}
	belief := a.Belief(world, testTarget())
	for i := 0; i < 4; i++ {
		belief = a.OnAttestation(world, []byte{byte(10 + i)}, 1, attestation(100_000, "honest-cluster-"+string(rune('a'+i))))
	}

	// Without cluster dampening, four-against-four at 100k/900k would
	// average to the midpoint (500k). Saturation discounts the sybil
	// cluster's combined weight, so the true mean sits below the midpoint.
	if belief.MuPPM >= 500_000 {
		t.Fatalf("cluster saturation did not dampen the sybil cluster: mu=%d", belief.MuPPM)
	}
}

func TestWeightedTrimSurvivesSybilFlood(t *testing.T) {
	a := NewAggregator(nil)
	world := testWorld()

	// 20 sybils sharing one correlation cluster at mu=0.20, against 2
	// honest emitters in distinct clusters at mu=0.80. A count-based trim
	// of 20% per tail (4 of 22 samples) would discard exactly the 2 honest
	// samples outright, since they sort above every sybil: mu would
	// collapse to 0.20 with sigma=0. Weighted trimming instead caps the
	// sybil cluster's combined weight via sqrt(n) saturation before the
	// trim boundary is drawn by weight share, so the honest minority still
	// contributes.
	var belief Belief
	for i := 0; i < 20; i++ {
		belief = a.OnAttestation(world, []byte{byte(i)}, 1, attestation(200_000, "sybil-cluster"))
	}
	for i := 0; i < 2; i++ {
		belief = a.OnAttestation(world, []byte{byte(100 + i)}, 1, attestation(800_000, "honest-cluster-"+string(rune('a'+i))))
	}

	if belief.MuPPM <= 200_000 {
		t.Fatalf("weighted trim collapsed to the sybil cluster's value: mu=%d", belief.MuPPM)
	}
	if belief.SigmaPPM == 0 {
		t.Fatalf("weighted trim discarded the honest minority entirely: sigma=0")
	}
}

func TestRecencyDecay(t *testing.T) {
	if recencyDecay(0) != Scale {
		t.Fatalf("age 0 should not decay")
	}
	if got := recencyDecay(int64(HalfLifeEpochs)); got != Scale/2 {
		t.Fatalf("one half-life should halve weight, got %d", got)
	}
	if got := recencyDecay(int64(HalfLifeEpochs) * 2); got != Scale/4 {
		t.Fatalf("two half-lives should quarter weight, got %d", got)
	}
}

func TestDisputeInflatesSigma(t *testing.T) {
	trust := NewTrustTable()
	a := NewAggregator(trust)
	world := testWorld()

	for i, mu := range []uint32{500_000, 520_000, 480_000, 510_000} {
		a.OnAttestation(world, []byte{byte(i)}, 1, attestation(mu, "c"))
	}
	before := a.Belief(world, testTarget())

	after := a.OnDispute(world, testTarget(), []byte{0}, 2)

	if after.SigmaPPM <= before.SigmaPPM {
		t.Fatalf("dispute should inflate sigma: before=%d after=%d", before.SigmaPPM, after.SigmaPPM)
	}
}

func TestRecomputeIsIdempotent(t *testing.T) {
	a := NewAggregator(nil)
	world := testWorld()
	for i, mu := range []uint32{600_000, 620_000, 610_000} {
		a.OnAttestation(world, []byte{byte(i)}, 3, attestation(mu, "c"))
	}
	live := a.Belief(world, testTarget())
	recomputed := a.Recompute(world, testTarget(), 3)
	if live.MuPPM != recomputed.MuPPM || live.SigmaPPM != recomputed.SigmaPPM {
		t.Fatalf("recompute diverged from incremental result: %+v vs %+v", live, recomputed)
	}
}

func TestLatestEpochTracksHighestSeen(t *testing.T) {
	a := NewAggregator(nil)
	world := testWorld()

	a.OnAttestation(world, []byte{1}, 5, attestation(500_000, "c"))
	a.OnAttestation(world, []byte{2}, 3, attestation(500_000, "c"))
	a.OnAttestation(world, []byte{3}, 9, attestation(500_000, "c"))

	if got := a.LatestEpoch(); got != 9 {
		t.Fatalf("LatestEpoch = %d, want 9 (the highest epoch folded)", got)
	}
}

func TestTrustWeightInRange(t *testing.T) {
	trust := NewTrustTable()
	if w := trust.TrustWeight([]byte("unseen")); w != 1.0 {
		t.Fatalf("unseen emitter should start at full trust, got %f", w)
	}
	trust.RecordAccuracy([]byte("e1"), 0, 1)
	w := trust.TrustWeight([]byte("e1"))
	if w < float64(ExplorationFloor)/float64(Scale) || w > 1.0 {
		t.Fatalf("trust weight out of range: %f", w)
	}
}
