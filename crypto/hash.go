// Package crypto implements the hashing and signing primitives used to
// derive and verify every identifier and signature in TerrainGossip.
//
// Every hash is domain-separated: each derivation is labeled so that two
// different identifier kinds can never collide even if their raw inputs
// happen to coincide.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
)

// Hash is a 256-bit digest, used as the concrete type for every identifier
// derived below (WorldId, EventId, ReplicaId, ...).
type Hash [32]byte

// Bytes returns the digest as a slice, useful for canonical encoding.
func (h Hash) Bytes() []byte { return h[:] }

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool { return h == Hash{} }

// H computes the keyless, domain-separated 256-bit hash of label followed by
// every part, concatenated in order. Each derivation below uses a distinct
// label so that, e.g., H("world", x) can never collide with H("fah", x).
func H(label string, parts ...[]byte) Hash {
	hasher := sha256.New()
	hasher.Write([]byte(label))
	for _, p := range parts {
		hasher.Write(p)
	}
	var out Hash
	copy(out[:], hasher.Sum(nil))
	return out
}

// HKeyed computes the keyed variant of H, used for TargetRef and Handle
// derivations that must remain unforgeable without the control-plane key or
// observer secret.
func HKeyed(key []byte, label string, parts ...[]byte) Hash {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(label))
	for _, p := range parts {
		mac.Write(p)
	}
	var out Hash
	copy(out[:], mac.Sum(nil))
	return out
}
