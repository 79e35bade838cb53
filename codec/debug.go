package codec

import (
	"bytes"

	ucodec "github.com/ugorji/go/codec"
)

// DebugJSON renders v as canonical JSON, map keys sorted, for log lines and
// the gossipd inspect command. It is never used for wire records: those go
// through Writer/Reader above, not through reflection-based encoding.
func DebugJSON(v interface{}) ([]byte, error) {
	var b bytes.Buffer
	jh := new(ucodec.JsonHandle)
	jh.Canonical = true
	enc := ucodec.NewEncoder(&b, jh)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}
