package crypto

// Identifier derivations. Each derivation uses a distinct label so that
// identifiers of different kinds can never collide, even over identical raw
// inputs.

// WorldID derives the WorldId from a normalized seed phrase and the hash of
// the rule bundle governing the overlay instance.
func WorldID(phraseNorm []byte, ruleBundleHash Hash) Hash {
	return H("world", phraseNorm, ruleBundleHash.Bytes())
}

// FAH derives the Functional Address Hash from the canonical encoding of a
// capability manifest.
func FAH(canonicalManifest []byte) Hash {
	return H("fah", canonicalManifest)
}

// DescriptorID derives a DescriptorId from the canonical encoding of an
// unsigned provider descriptor.
func DescriptorID(canonicalDescriptor []byte) Hash {
	return H("descriptor", canonicalDescriptor)
}

// TargetRef derives a provider-blind reference from a world and descriptor,
// keyed under the control-plane key so it cannot be recomputed without it.
func TargetRef(controlPlaneKey []byte, world Hash, descriptor Hash) Hash {
	return HKeyed(controlPlaneKey, "targetref", world.Bytes(), descriptor.Bytes())
}

// ObserverHandle derives an observer-local pseudonym. It is never
// transmitted on the wire.
func ObserverHandle(observerSecret []byte, observedFingerprint []byte) Hash {
	return H("handle", observerSecret, observedFingerprint)
}

// EventID derives the content address of an event from the canonical
// encoding of every other field, signature included.
func EventID(canonicalEvent []byte) Hash {
	return H("event", canonicalEvent)
}

// ReplicaID derives an emitter's per-epoch gossip identity.
func ReplicaID(emitter []byte, world Hash, epochID uint64) Hash {
	return H("replica", emitter, world.Bytes(), encodeEpoch(epochID))
}

func encodeEpoch(epochID uint64) []byte {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(epochID >> (8 * i))
	}
	return buf[:]
}
