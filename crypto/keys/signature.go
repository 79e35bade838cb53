package keys

import (
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// Verify checks a 64-byte compact signature (R||S) produced by Sign against
// hash, under pub.
func Verify(pub *btcec.PublicKey, hash []byte, sig []byte) (bool, error) {
	if len(sig) != 64 {
		return false, errors.New("invalid signature length, want 64 bytes")
	}

	var r, s btcec.ModNScalar
	if r.SetByteSlice(sig[0:32]) {
		return false, errors.New("invalid signature: r overflows curve order")
	}
	if s.SetByteSlice(sig[32:64]) {
		return false, errors.New("invalid signature: s overflows curve order")
	}

	ecSig := ecdsa.NewSignature(&r, &s)

	return ecSig.Verify(hash, pub), nil
}
