package keys

import (
	"encoding/hex"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// GenerateKey creates a new emitter key-pair.
func GenerateKey() (*btcec.PrivateKey, error) {
	return btcec.NewPrivateKey()
}

// DumpPrivateKey exports a private key as its raw 32-byte scalar.
func DumpPrivateKey(priv *btcec.PrivateKey) []byte {
	if priv == nil {
		return nil
	}
	b := priv.Serialize()
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// ParsePrivateKey reconstructs a private key from its raw 32-byte scalar, as
// produced by DumpPrivateKey.
func ParsePrivateKey(d []byte) (*btcec.PrivateKey, error) {
	if len(d) != 32 {
		return nil, errors.New("invalid private key length, want 32 bytes")
	}
	priv, pub := btcec.PrivKeyFromBytes(d)
	if pub == nil {
		return nil, errors.New("invalid private key")
	}
	return priv, nil
}

// PrivateKeyHex returns the hexadecimal representation of a raw private key.
func PrivateKeyHex(priv *btcec.PrivateKey) string {
	return hex.EncodeToString(DumpPrivateKey(priv))
}

// Sign produces a 64-byte compact signature (R||S, each fixed at 32 bytes)
// over hash.
func Sign(priv *btcec.PrivateKey, hash []byte) ([]byte, error) {
	compact, err := ecdsa.SignCompact(priv, hash, true)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 64)
	copy(out, compact[1:65])
	return out, nil
}
