package event

import (
	"fmt"

	"github.com/rng-ops/gossip/codec"
	"github.com/rng-ops/gossip/crypto"
)

// BodyKind is the discriminant of the body tagged union. The set of
// variants is extensible; new kinds are added at the end to preserve the
// meaning of already-deployed discriminants.
type BodyKind uint64

const (
	KindProbeReceipt BodyKind = iota
	KindBehaviorAttestation
	KindDispute
	KindLinkHint
	KindRuleEndorsement
)

// Body is implemented by every event payload variant.
type Body interface {
	Kind() BodyKind
	Encode(w *codec.Writer)
}

// DecodeBody reads a tagged-union body: a varint discriminant followed by
// the payload for that variant.
func DecodeBody(r *codec.Reader) (Body, error) {
	tag, err := r.Tag()
	if err != nil {
		return nil, err
	}
	switch BodyKind(tag) {
	case KindProbeReceipt:
		return decodeProbeReceipt(r)
	case KindBehaviorAttestation:
		return decodeBehaviorAttestation(r)
	case KindDispute:
		return decodeDispute(r)
	case KindLinkHint:
		return decodeLinkHint(r)
	case KindRuleEndorsement:
		return decodeRuleEndorsement(r)
	default:
		return nil, fmt.Errorf("event: unknown body kind %d", tag)
	}
}

func encodeTagged(w *codec.Writer, b Body) {
	w.Tag(uint64(b.Kind()))
	b.Encode(w)
}

// ProbeReceipt records the outcome of a single probe challenge against a
// target provider. The probe scheduler itself is out of scope; this is only
// the receipt it emits once the challenge resolves.
type ProbeReceipt struct {
	Target    crypto.Hash
	LatencyMs uint32
	Success   bool
	Detail    []byte
}

func (ProbeReceipt) Kind() BodyKind { return KindProbeReceipt }

func (p ProbeReceipt) Encode(w *codec.Writer) {
	w.Fixed(p.Target.Bytes())
	w.Varint(uint64(p.LatencyMs))
	w.Varint(boolToVarint(p.Success))
	w.VarBytes(p.Detail)
}

func decodeProbeReceipt(r *codec.Reader) (Body, error) {
	target, err := fixedHash(r)
	if err != nil {
		return nil, err
	}
	latency, err := r.Varint()
	if err != nil {
		return nil, err
	}
	success, err := r.Varint()
	if err != nil {
		return nil, err
	}
	detail, err := r.VarBytes()
	if err != nil {
		return nil, err
	}
	return ProbeReceipt{Target: target, LatencyMs: uint32(latency), Success: success != 0, Detail: detail}, nil
}

// BehaviorAttestation carries a signed quality observation about a target
// provider. Metrics are fixed-point parts-per-million integers; canonicalized
// fields never carry floating point.
type BehaviorAttestation struct {
	Target       crypto.Hash
	MuPPM        uint32 // central quality estimate, 0..1_000_000
	SigmaPPM     uint32 // dispersion estimate, same scale
	ClusterKey   []byte // correlation-cluster metadata: network prefix, terrain, timing bucket
	TimingBucket uint32
}

func (BehaviorAttestation) Kind() BodyKind { return KindBehaviorAttestation }

func (a BehaviorAttestation) Encode(w *codec.Writer) {
	w.Fixed(a.Target.Bytes())
	w.Varint(uint64(a.MuPPM))
	w.Varint(uint64(a.SigmaPPM))
	w.VarBytes(a.ClusterKey)
	w.Varint(uint64(a.TimingBucket))
}

func decodeBehaviorAttestation(r *codec.Reader) (Body, error) {
	target, err := fixedHash(r)
	if err != nil {
		return nil, err
	}
	mu, err := r.Varint()
	if err != nil {
		return nil, err
	}
	sigma, err := r.Varint()
	if err != nil {
		return nil, err
	}
	cluster, err := r.VarBytes()
	if err != nil {
		return nil, err
	}
	timing, err := r.Varint()
	if err != nil {
		return nil, err
	}
	return BehaviorAttestation{
		Target:       target,
		MuPPM:        uint32(mu),
		SigmaPPM:     uint32(sigma),
		ClusterKey:   cluster,
		TimingBucket: uint32(timing),
	}, nil
}

// Dispute names a set of conflicting event ids. It never deletes the
// disputed events; it is itself an event, consumed by the belief aggregator
// to inflate sigma and down-weight the disputed emitters.
type Dispute struct {
	DisputedEventIDs []crypto.Hash
	Reason           []byte
}

func (Dispute) Kind() BodyKind { return KindDispute }

func (d Dispute) Encode(w *codec.Writer) {
	w.Seq(len(d.DisputedEventIDs))
	for _, id := range d.DisputedEventIDs {
		w.Fixed(id.Bytes())
	}
	w.VarBytes(d.Reason)
}

func decodeDispute(r *codec.Reader) (Body, error) {
	n, err := r.Seq()
	if err != nil {
		return nil, err
	}
	ids := make([]crypto.Hash, 0, n)
	for i := 0; i < n; i++ {
		id, err := fixedHash(r)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	reason, err := r.VarBytes()
	if err != nil {
		return nil, err
	}
	return Dispute{DisputedEventIDs: ids, Reason: reason}, nil
}

// LinkHint suggests a provider-blind association between a target and an
// external routing hint. Consumed only by the router policy (out of scope).
type LinkHint struct {
	Target   crypto.Hash
	PeerHint []byte
}

func (LinkHint) Kind() BodyKind { return KindLinkHint }

func (l LinkHint) Encode(w *codec.Writer) {
	w.Fixed(l.Target.Bytes())
	w.VarBytes(l.PeerHint)
}

func decodeLinkHint(r *codec.Reader) (Body, error) {
	target, err := fixedHash(r)
	if err != nil {
		return nil, err
	}
	hint, err := r.VarBytes()
	if err != nil {
		return nil, err
	}
	return LinkHint{Target: target, PeerHint: hint}, nil
}

// RuleEndorsement is a vote by an emitter in favor of, or against, a
// candidate rule bundle. It carries no authority on its own; the world-fork
// mechanics that would consume it are out of scope.
type RuleEndorsement struct {
	RuleBundleHash crypto.Hash
	InFavor        bool
}

func (RuleEndorsement) Kind() BodyKind { return KindRuleEndorsement }

func (e RuleEndorsement) Encode(w *codec.Writer) {
	w.Fixed(e.RuleBundleHash.Bytes())
	w.Varint(boolToVarint(e.InFavor))
}

func decodeRuleEndorsement(r *codec.Reader) (Body, error) {
	hash, err := fixedHash(r)
	if err != nil {
		return nil, err
	}
	vote, err := r.Varint()
	if err != nil {
		return nil, err
	}
	return RuleEndorsement{RuleBundleHash: hash, InFavor: vote != 0}, nil
}

func boolToVarint(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func fixedHash(r *codec.Reader) (crypto.Hash, error) {
	b, err := r.Fixed(32)
	if err != nil {
		return crypto.Hash{}, err
	}
	var h crypto.Hash
	copy(h[:], b)
	return h, nil
}
