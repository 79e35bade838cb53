// Package keys implements the public key cryptography used throughout
// TerrainGossip.
//
// An emitter (prober, router, or any other event producer) owns a
// cryptographic key-pair that it uses to sign events. The private key is
// secret; the public key is published inside every event as the `emitter`
// field and used by every other node to verify its signature.
//
// TerrainGossip uses elliptic curve cryptography (ECDSA) with the secp256k1
// curve. It is widely implemented and its compact signature form serializes
// to exactly 64 bytes, the fixed signature width every event carries.
package keys

import (
	"github.com/btcsuite/btcd/btcec/v2"
)

// Curve returns the elliptic curve used for emitter keys.
func Curve() *btcec.KoblitzCurve {
	return btcec.S256()
}
