// Package wire implements the messages exchanged between gossip peers and
// their canonical encoding, built on top of the codec package. Every message
// is self-contained: a peer decoding a message never needs context from a
// prior one to interpret its fields.
package wire

import (
	"fmt"
	"sort"

	"github.com/rng-ops/gossip/causal"
	"github.com/rng-ops/gossip/codec"
	"github.com/rng-ops/gossip/crypto"
	"github.com/rng-ops/gossip/event"
)

// Type is the one-byte discriminant every frame is tagged with.
type Type uint8

const (
	TypeSyncHello Type = iota
	TypeDeltaRequest
	TypeDeltaBatch
	TypeEventOffer
	TypeEventWant
	TypeSyncBusy
	TypeSyncAbort
)

func (t Type) String() string {
	switch t {
	case TypeSyncHello:
		return "SyncHello"
	case TypeDeltaRequest:
		return "DeltaRequest"
	case TypeDeltaBatch:
		return "DeltaBatch"
	case TypeEventOffer:
		return "EventOffer"
	case TypeEventWant:
		return "EventWant"
	case TypeSyncBusy:
		return "SyncBusy"
	case TypeSyncAbort:
		return "SyncAbort"
	default:
		return "Unknown"
	}
}

// Message is implemented by every wire message.
type Message interface {
	Type() Type
	Encode(w *codec.Writer)
}

// SyncHello opens a sync exchange: the initiator sends its frontier and
// optionally the cells it cares about; the responder replies with a
// SyncHello carrying its own frontier and its own cells of interest.
type SyncHello struct {
	World           crypto.Hash
	Frontier        *causal.VersionVector
	CellsOfInterest []event.TerrainAddress
}

func (m *SyncHello) Type() Type { return TypeSyncHello }

func (m *SyncHello) Encode(w *codec.Writer) {
	w.Fixed(m.World.Bytes())
	m.Frontier.Encode(w)
	w.Seq(len(m.CellsOfInterest))
	for _, t := range m.CellsOfInterest {
		t.Encode(w)
	}
}

func decodeSyncHello(r *codec.Reader) (*SyncHello, error) {
	world, err := r.Fixed(32)
	if err != nil {
		return nil, err
	}
	fv, err := causal.DecodeVersionVector(r)
	if err != nil {
		return nil, err
	}
	n, err := r.Seq()
	if err != nil {
		return nil, err
	}
	cells := make([]event.TerrainAddress, 0, n)
	for i := 0; i < n; i++ {
		t, err := event.DecodeTerrainAddress(r)
		if err != nil {
			return nil, err
		}
		cells = append(cells, t)
	}
	return &SyncHello{World: toHash(world), Frontier: fv, CellsOfInterest: cells}, nil
}

// ReplicaRange is a half-open range (Lo, Hi] of missing sequences for one
// replica, as computed from a frontier difference.
type ReplicaRange struct {
	Replica crypto.Hash
	Lo, Hi  uint64
}

// DeltaRequest asks a peer for every event in (Lo, Hi] for each listed
// replica, capped overall at MaxEvents.
type DeltaRequest struct {
	World     crypto.Hash
	Ranges    []ReplicaRange
	MaxEvents uint32
}

func (m *DeltaRequest) Type() Type { return TypeDeltaRequest }

func (m *DeltaRequest) Encode(w *codec.Writer) {
	w.Fixed(m.World.Bytes())
	sorted := make([]ReplicaRange, len(m.Ranges))
	copy(sorted, m.Ranges)
	sort.Slice(sorted, func(i, j int) bool { return lessHash(sorted[i].Replica, sorted[j].Replica) })
	w.Seq(len(sorted))
	for _, rr := range sorted {
		w.Fixed(rr.Replica.Bytes())
		w.Varint(rr.Lo)
		w.Varint(rr.Hi)
	}
	w.Varint(uint64(m.MaxEvents))
}

func decodeDeltaRequest(r *codec.Reader) (*DeltaRequest, error) {
	world, err := r.Fixed(32)
	if err != nil {
		return nil, err
	}
	n, err := r.Seq()
	if err != nil {
		return nil, err
	}
	ranges := make([]ReplicaRange, 0, n)
	for i := 0; i < n; i++ {
		rb, err := r.Fixed(32)
		if err != nil {
			return nil, err
		}
		lo, err := r.Varint()
		if err != nil {
			return nil, err
		}
		hi, err := r.Varint()
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, ReplicaRange{Replica: toHash(rb), Lo: lo, Hi: hi})
	}
	maxEvents, err := r.Varint()
	if err != nil {
		return nil, err
	}
	return &DeltaRequest{World: toHash(world), Ranges: ranges, MaxEvents: uint32(maxEvents)}, nil
}

// DeltaBatch streams the events satisfying a DeltaRequest, in
// (replica_id, sequence) ascending order; Eob marks the final batch of the
// response (a responder may split a large delta across several batches).
type DeltaBatch struct {
	World  crypto.Hash
	Events []*event.Event
	Eob    bool
}

func (m *DeltaBatch) Type() Type { return TypeDeltaBatch }

func (m *DeltaBatch) Encode(w *codec.Writer) {
	w.Fixed(m.World.Bytes())
	w.Seq(len(m.Events))
	for _, e := range m.Events {
		e.Encode(w)
	}
	if m.Eob {
		w.Varint(1)
	} else {
		w.Varint(0)
	}
}

func decodeDeltaBatch(r *codec.Reader) (*DeltaBatch, error) {
	world, err := r.Fixed(32)
	if err != nil {
		return nil, err
	}
	n, err := r.Seq()
	if err != nil {
		return nil, err
	}
	events := make([]*event.Event, 0, n)
	for i := 0; i < n; i++ {
		e, err := event.Decode(r)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	eob, err := r.Varint()
	if err != nil {
		return nil, err
	}
	return &DeltaBatch{World: toHash(world), Events: events, Eob: eob != 0}, nil
}

// EventOffer advertises event ids a peer believes the receiver may be
// missing, drawn from a cell scan during an anti-entropy sweep.
type EventOffer struct {
	World    crypto.Hash
	EventIDs []crypto.Hash
}

func (m *EventOffer) Type() Type { return TypeEventOffer }

func (m *EventOffer) Encode(w *codec.Writer) {
	w.Fixed(m.World.Bytes())
	w.Seq(len(m.EventIDs))
	for _, id := range m.EventIDs {
		w.Fixed(id.Bytes())
	}
}

func decodeEventOffer(r *codec.Reader) (*EventOffer, error) {
	world, err := r.Fixed(32)
	if err != nil {
		return nil, err
	}
	n, err := r.Seq()
	if err != nil {
		return nil, err
	}
	ids := make([]crypto.Hash, 0, n)
	for i := 0; i < n; i++ {
		b, err := r.Fixed(32)
		if err != nil {
			return nil, err
		}
		ids = append(ids, toHash(b))
	}
	return &EventOffer{World: toHash(world), EventIDs: ids}, nil
}

// EventWant answers an EventOffer with a bitmap indexed positionally into
// that offer's EventIDs: bit i set means the responder wants EventIDs[i].
type EventWant struct {
	World  crypto.Hash
	Bitmap []byte
}

func (m *EventWant) Type() Type { return TypeEventWant }

func (m *EventWant) Encode(w *codec.Writer) {
	w.Fixed(m.World.Bytes())
	w.VarBytes(m.Bitmap)
}

func decodeEventWant(r *codec.Reader) (*EventWant, error) {
	world, err := r.Fixed(32)
	if err != nil {
		return nil, err
	}
	bitmap, err := r.VarBytes()
	if err != nil {
		return nil, err
	}
	return &EventWant{World: toHash(world), Bitmap: bitmap}, nil
}

// Want reports whether index i is set in the bitmap.
func (m *EventWant) Want(i int) bool {
	byteIdx, bitIdx := i/8, uint(i%8)
	if byteIdx >= len(m.Bitmap) {
		return false
	}
	return m.Bitmap[byteIdx]&(1<<bitIdx) != 0
}

// SetWant sets bit i in the bitmap, growing it if necessary.
func (m *EventWant) SetWant(i int) {
	byteIdx, bitIdx := i/8, uint(i%8)
	for len(m.Bitmap) <= byteIdx {
		m.Bitmap = append(m.Bitmap, 0)
	}
	m.Bitmap[byteIdx] |= 1 << bitIdx
}

// SyncBusy tells an initiator the responder is saturated and to back off.
type SyncBusy struct {
	RetryAfterMs uint32
}

func (m *SyncBusy) Type() Type { return TypeSyncBusy }

func (m *SyncBusy) Encode(w *codec.Writer) { w.Varint(uint64(m.RetryAfterMs)) }

func decodeSyncBusy(r *codec.Reader) (*SyncBusy, error) {
	ms, err := r.Varint()
	if err != nil {
		return nil, err
	}
	return &SyncBusy{RetryAfterMs: uint32(ms)}, nil
}

// AbortReason enumerates why a peer closed a sync stream.
type AbortReason uint8

const (
	AbortUnspecified AbortReason = iota
	AbortShuttingDown
	AbortProtocolError
	AbortPeerUntrusted
)

// SyncAbort is sent (best-effort) before a peer closes a sync stream.
type SyncAbort struct {
	Reason AbortReason
}

func (m *SyncAbort) Type() Type { return TypeSyncAbort }

func (m *SyncAbort) Encode(w *codec.Writer) { w.Varint(uint64(m.Reason)) }

func decodeSyncAbort(r *codec.Reader) (*SyncAbort, error) {
	reason, err := r.Varint()
	if err != nil {
		return nil, err
	}
	return &SyncAbort{Reason: AbortReason(reason)}, nil
}

// Decode dispatches to the message-specific decoder for t.
func Decode(t Type, r *codec.Reader) (Message, error) {
	switch t {
	case TypeSyncHello:
		return decodeSyncHello(r)
	case TypeDeltaRequest:
		return decodeDeltaRequest(r)
	case TypeDeltaBatch:
		return decodeDeltaBatch(r)
	case TypeEventOffer:
		return decodeEventOffer(r)
	case TypeEventWant:
		return decodeEventWant(r)
	case TypeSyncBusy:
		return decodeSyncBusy(r)
	case TypeSyncAbort:
		return decodeSyncAbort(r)
	default:
		return nil, fmt.Errorf("wire: unknown message type %d", t)
	}
}

func toHash(b []byte) crypto.Hash {
	var h crypto.Hash
	copy(h[:], b)
	return h
}

func lessHash(a, b crypto.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
