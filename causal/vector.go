// Package causal implements the per-world causal clock: a version vector
// mapping each replica to the highest contiguous sequence number observed
// from it.
package causal

import (
	"sort"

	"github.com/rng-ops/gossip/codec"
	"github.com/rng-ops/gossip/crypto"
)

// VersionVector is a node's causal frontier for one world. The zero value is
// the empty vector, dominated by every other vector.
type VersionVector struct {
	m map[crypto.Hash]uint64
}

// NewVersionVector returns an empty vector.
func NewVersionVector() *VersionVector {
	return &VersionVector{m: make(map[crypto.Hash]uint64)}
}

// Get returns the highest contiguous sequence observed for replica, or 0 if
// none has been observed (sequences start at 0, so 0 observed components and
// "replica seen up through sequence 0" must be distinguished by the caller
// via Has).
func (v *VersionVector) Get(replica crypto.Hash) uint64 {
	if v == nil {
		return 0
	}
	return v.m[replica]
}

// Has reports whether replica has any recorded component.
func (v *VersionVector) Has(replica crypto.Hash) bool {
	if v == nil {
		return false
	}
	_, ok := v.m[replica]
	return ok
}

// Set forces the component for replica to exactly n: the highest sequence
// number contiguously observed from it. Callers are responsible for only
// advancing a component when the contiguous run it represents has actually
// grown; the store package owns that bookkeeping since it alone knows which
// sequences have been admitted.
func (v *VersionVector) Set(replica crypto.Hash, n uint64) {
	if v.m == nil {
		v.m = make(map[crypto.Hash]uint64)
	}
	v.m[replica] = n
}

// Dominates reports whether v dominates other: every component of other is
// ≤ the corresponding component of v.
func (v *VersionVector) Dominates(other *VersionVector) bool {
	if other == nil {
		return true
	}
	for r, n := range other.m {
		if v.Get(r) < n {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (v *VersionVector) Clone() *VersionVector {
	out := NewVersionVector()
	for r, n := range v.m {
		out.m[r] = n
	}
	return out
}

// Replicas returns every replica with a recorded component, in no
// particular order.
func (v *VersionVector) Replicas() []crypto.Hash {
	out := make([]crypto.Hash, 0, len(v.m))
	for r := range v.m {
		out = append(out, r)
	}
	return out
}

// Seal collapses a replica's component into a terminal counter and removes
// it from the live map, bounding the vector's growth once a replica is known
// to have rotated out of its epoch for good: callers invoke Seal once they
// are certain no further events will arrive under this replica id. The
// returned value is the replica's component (its highest contiguous
// sequence number), for the caller to fold into a per-emitter sealed total
// kept outside the vector.
func (v *VersionVector) Seal(replica crypto.Hash) uint64 {
	n := v.Get(replica)
	delete(v.m, replica)
	return n
}

// Encode writes the canonical encoding of v: a length-prefixed sequence of
// (replica_id, sequence) pairs ordered by ascending replica id, matching the
// codec's canonical map ordering rule.
func (v *VersionVector) Encode(w *codec.Writer) {
	replicas := v.Replicas()
	sort.Slice(replicas, func(i, j int) bool {
		return lessHash(replicas[i], replicas[j])
	})
	w.Seq(len(replicas))
	for _, r := range replicas {
		w.Fixed(r.Bytes())
		w.Varint(v.m[r])
	}
}

// DecodeVersionVector reads a vector written by Encode.
func DecodeVersionVector(r *codec.Reader) (*VersionVector, error) {
	n, err := r.Seq()
	if err != nil {
		return nil, err
	}
	out := NewVersionVector()
	for i := 0; i < n; i++ {
		rb, err := r.Fixed(32)
		if err != nil {
			return nil, err
		}
		seq, err := r.Varint()
		if err != nil {
			return nil, err
		}
		var replica crypto.Hash
		copy(replica[:], rb)
		out.m[replica] = seq
	}
	return out, nil
}

func lessHash(a, b crypto.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
