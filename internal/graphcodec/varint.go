package graphcodec

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

func writeVarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeZigzag(buf *bytes.Buffer, v int64) {
	writeVarint(buf, zigzagEncode(v))
}

func zigzagEncode(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

func zigzagDecode(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}

func writeString(buf *bytes.Buffer, s string) {
	writeVarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

// reader is a cursor over a decode payload that turns truncation into the
// spec's TruncatedPayload decode error instead of a panic.
type reader struct {
	data []byte
	pos  int
}

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, newDecodeError(TruncatedPayload, "unexpected end of payload reading a byte")
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) varint() (uint64, error) {
	v, n := binary.Uvarint(r.data[r.pos:])
	if n <= 0 {
		return 0, newDecodeError(TruncatedPayload, "unexpected end of payload reading a varint")
	}
	r.pos += n
	return v, nil
}

func (r *reader) zigzag() (int64, error) {
	v, err := r.varint()
	if err != nil {
		return 0, err
	}
	return zigzagDecode(v), nil
}

func (r *reader) string() (string, error) {
	n, err := r.varint()
	if err != nil {
		return "", err
	}
	if uint64(r.pos)+n > uint64(len(r.data)) {
		return "", newDecodeError(TruncatedPayload, fmt.Sprintf("string of length %d exceeds remaining payload", n))
	}
	s := string(r.data[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}
