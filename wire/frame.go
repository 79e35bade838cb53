package wire

import (
	"bufio"
	"fmt"
	"io"

	"github.com/rng-ops/gossip/codec"
)

// WriteFrame writes msg to w as a one-byte type tag, a varint payload
// length, and the canonical payload, matching the framing every sync
// connection uses. It flushes if w is a *bufio.Writer.
func WriteFrame(w io.Writer, msg Message) error {
	cw := codec.NewWriter()
	msg.Encode(cw)
	payload := cw.Bytes()

	if _, err := w.Write([]byte{byte(msg.Type())}); err != nil {
		return fmt.Errorf("wire: write type tag: %w", err)
	}
	if err := writeVarint(w, uint64(len(payload))); err != nil {
		return fmt.Errorf("wire: write length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write payload: %w", err)
	}
	if bw, ok := w.(*bufio.Writer); ok {
		return bw.Flush()
	}
	return nil
}

// ReadFrame reads one frame from r: a type tag, a varint length, and that
// many payload bytes, then decodes the message.
func ReadFrame(r io.Reader) (Message, error) {
	var tagBuf [1]byte
	if _, err := io.ReadFull(r, tagBuf[:]); err != nil {
		return nil, err
	}
	n, err := readVarint(r)
	if err != nil {
		return nil, fmt.Errorf("wire: read length: %w", err)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: read payload: %w", err)
	}
	return Decode(Type(tagBuf[0]), codec.NewReader(payload))
}

// writeVarint and readVarint implement the same unsigned LEB128 grouping the
// codec package's Writer/Reader use over in-memory buffers (via protowire),
// but operate directly on a stream: protowire's varint functions consume a
// byte slice of known length, which the frame length itself is not yet known
// to have when reading off the wire.
func writeVarint(w io.Writer, v uint64) error {
	var buf [10]byte
	i := 0
	for v >= 0x80 {
		buf[i] = byte(v) | 0x80
		v >>= 7
		i++
	}
	buf[i] = byte(v)
	_, err := w.Write(buf[:i+1])
	return err
}

func readVarint(r io.Reader) (uint64, error) {
	var v uint64
	var shift uint
	var b [1]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		if shift >= 64 {
			return 0, fmt.Errorf("wire: varint too long")
		}
		v |= uint64(b[0]&0x7f) << shift
		if b[0]&0x80 == 0 {
			return v, nil
		}
		shift += 7
	}
}
