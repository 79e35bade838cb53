package event

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/rng-ops/gossip/codec"
	"github.com/rng-ops/gossip/crypto"
	"github.com/rng-ops/gossip/crypto/keys"
)

// Event is the fundamental replicated record of the gossip log. Once
// persisted it is never mutated; retraction is expressed by emitting a
// Dispute event rather than touching an existing one.
type Event struct {
	World     crypto.Hash
	EpochID   uint64
	Emitter   []byte // compressed secp256k1 public key of the signer
	ReplicaID crypto.Hash
	Sequence  uint64
	Terrain   TerrainAddress
	Body      Body
	Signature []byte // 64 bytes, absent until Sign is called

	id     crypto.Hash
	haveID bool
}

// encodeSignedFields writes every field up to but excluding Signature, in
// fixed field order. This is exactly what the signature covers.
func (e *Event) encodeSignedFields(w *codec.Writer) {
	w.Fixed(e.World.Bytes())
	w.Varint(e.EpochID)
	w.VarBytes(e.Emitter)
	w.Fixed(e.ReplicaID.Bytes())
	w.Varint(e.Sequence)
	e.Terrain.Encode(w)
	encodeTagged(w, e.Body)
}

// canonicalSignedFields returns the bytes the signature is computed over.
func (e *Event) canonicalSignedFields() []byte {
	w := codec.NewWriter()
	e.encodeSignedFields(w)
	return w.Bytes()
}

// CanonicalFull returns the canonical encoding of every field including the
// signature. This is the preimage EventID hashes.
func (e *Event) CanonicalFull() []byte {
	w := codec.NewWriter()
	e.encodeSignedFields(w)
	w.Fixed(e.Signature)
	return w.Bytes()
}

// Sign computes the signature over the signed fields and clears any cached
// event id, since the id covers the signature; ID derives it afresh.
func (e *Event) Sign(priv *btcec.PrivateKey) error {
	hash := crypto.H("event-sig", e.canonicalSignedFields())
	sig, err := keys.Sign(priv, hash.Bytes())
	if err != nil {
		return err
	}
	e.Signature = sig
	e.haveID = false
	return nil
}

// Verify checks the signature against the emitter's public key.
func (e *Event) Verify() (bool, error) {
	pub, err := keys.ToPublicKey(e.Emitter)
	if err != nil {
		return false, err
	}
	hash := crypto.H("event-sig", e.canonicalSignedFields())
	return keys.Verify(pub, hash.Bytes(), e.Signature)
}

// ID returns the content address of the event, deriving it on first use and
// caching it thereafter. This must be recomputed whenever Signature changes.
func (e *Event) ID() crypto.Hash {
	if !e.haveID {
		e.id = crypto.EventID(e.CanonicalFull())
		e.haveID = true
	}
	return e.id
}

// ExpectedReplicaID recomputes the replica/emitter binding check applied
// during validation.
func (e *Event) ExpectedReplicaID() crypto.Hash {
	return crypto.ReplicaID(e.Emitter, e.World, e.EpochID)
}

// Encode writes the full canonical encoding (signed fields + signature).
func (e *Event) Encode(w *codec.Writer) {
	e.encodeSignedFields(w)
	w.Fixed(e.Signature)
}

// Decode reads an Event written by Encode.
func Decode(r *codec.Reader) (*Event, error) {
	world, err := r.Fixed(32)
	if err != nil {
		return nil, err
	}
	epoch, err := r.Varint()
	if err != nil {
		return nil, err
	}
	emitter, err := r.VarBytes()
	if err != nil {
		return nil, err
	}
	replica, err := r.Fixed(32)
	if err != nil {
		return nil, err
	}
	seq, err := r.Varint()
	if err != nil {
		return nil, err
	}
	terrain, err := DecodeTerrainAddress(r)
	if err != nil {
		return nil, err
	}
	body, err := DecodeBody(r)
	if err != nil {
		return nil, err
	}
	sig, err := r.Fixed(64)
	if err != nil {
		return nil, err
	}

	var worldHash, replicaHash crypto.Hash
	copy(worldHash[:], world)
	copy(replicaHash[:], replica)

	return &Event{
		World:     worldHash,
		EpochID:   epoch,
		Emitter:   emitter,
		ReplicaID: replicaHash,
		Sequence:  seq,
		Terrain:   terrain,
		Body:      body,
		Signature: sig,
	}, nil
}

// DecodeVerifyRoundTrip re-encodes a freshly decoded event and compares it
// to the original bytes, implementing the well-formedness check that
// canonical decoding must succeed and re-encode to the received bytes.
func DecodeVerifyRoundTrip(raw []byte) (*Event, error) {
	ev, err := Decode(codec.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("malformed encoding: %w", err)
	}
	w := codec.NewWriter()
	ev.Encode(w)
	if string(w.Bytes()) != string(raw) {
		return nil, fmt.Errorf("malformed encoding: re-encoding does not match received bytes")
	}
	return ev, nil
}
