package codec

import (
	"bytes"
	"testing"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewWriter()
	w.Varint(0)
	w.Varint(300)
	w.Fixed([]byte{1, 2, 3, 4})
	w.VarBytes([]byte("hello world"))
	w.Seq(2)
	w.Varint(7)
	w.Varint(8)

	r := NewReader(w.Bytes())

	v0, err := r.Varint()
	if err != nil || v0 != 0 {
		t.Fatalf("v0 = %d, %v", v0, err)
	}
	v1, err := r.Varint()
	if err != nil || v1 != 300 {
		t.Fatalf("v1 = %d, %v", v1, err)
	}
	fixed, err := r.Fixed(4)
	if err != nil || !bytes.Equal(fixed, []byte{1, 2, 3, 4}) {
		t.Fatalf("fixed = %v, %v", fixed, err)
	}
	vb, err := r.VarBytes()
	if err != nil || string(vb) != "hello world" {
		t.Fatalf("vb = %q, %v", vb, err)
	}
	n, err := r.Seq()
	if err != nil || n != 2 {
		t.Fatalf("seq = %d, %v", n, err)
	}
	for i, want := range []uint64{7, 8} {
		got, err := r.Varint()
		if err != nil || got != want {
			t.Fatalf("elem %d = %d, %v", i, got, err)
		}
	}
	if r.Remaining() != 0 {
		t.Fatalf("expected buffer exhausted, %d bytes remaining", r.Remaining())
	}
}

func TestMapOrdering(t *testing.T) {
	w := NewWriter()
	w.Map([]MapEntry{
		{Key: []byte{0x02}, Value: []byte("b")},
		{Key: []byte{0x01}, Value: []byte("a")},
	})

	r := NewReader(w.Bytes())
	n, err := r.Seq()
	if err != nil || n != 2 {
		t.Fatalf("seq = %d, %v", n, err)
	}
	first, err := r.Fixed(1)
	if err != nil || first[0] != 0x01 {
		t.Fatalf("expected smallest key first, got %v", first)
	}
}
