package keys

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
)

// ToPublicKey parses the compressed (33-byte) form of a secp256k1 public
// key, as produced by FromPublicKey.
func ToPublicKey(pub []byte) (*btcec.PublicKey, error) {
	return btcec.ParsePubKey(pub)
}

// FromPublicKey returns the compressed form of pub, used as the `emitter`
// field of every event.
func FromPublicKey(pub *btcec.PublicKey) []byte {
	if pub == nil {
		return nil
	}
	return pub.SerializeCompressed()
}

// PublicKeyHex returns the hexadecimal representation of the compressed form
// of the public key.
func PublicKeyHex(pub *btcec.PublicKey) string {
	return hex.EncodeToString(FromPublicKey(pub))
}
