package event

import "github.com/rng-ops/gossip/codec"

// TerrainAddress locates a summary bucket. It is the finest-grained
// partition of a world's event space; cell summaries and anti-entropy
// sweeps operate at this granularity.
type TerrainAddress struct {
	Region uint32
	Chunk  uint32
	Cell   uint32
}

// Encode writes the canonical form of a TerrainAddress: three varints in
// field order.
func (a TerrainAddress) Encode(w *codec.Writer) {
	w.Varint(uint64(a.Region))
	w.Varint(uint64(a.Chunk))
	w.Varint(uint64(a.Cell))
}

// DecodeTerrainAddress reads a TerrainAddress written by Encode.
func DecodeTerrainAddress(r *codec.Reader) (TerrainAddress, error) {
	region, err := r.Varint()
	if err != nil {
		return TerrainAddress{}, err
	}
	chunk, err := r.Varint()
	if err != nil {
		return TerrainAddress{}, err
	}
	cell, err := r.Varint()
	if err != nil {
		return TerrainAddress{}, err
	}
	return TerrainAddress{Region: uint32(region), Chunk: uint32(chunk), Cell: uint32(cell)}, nil
}
