package tensorcodec

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/splitup/compute-service/internal/dtype"
)

// Encode produces the wire representation of a realized tensor:
//
//	"<s0,s1,...,sn>\n<dtype_name>\n<raw_bytes>"
//
// The caller is expected to have already realized any lazy computation
// backing t; Encode itself never touches an accelerator, it only ever
// reads t.Data.
func Encode(t *Tensor) ([]byte, error) {
	want := int(t.Elements()) * t.DType.Width()
	if len(t.Data) != want {
		return nil, &WrongPayloadSizeError{Want: want, Got: len(t.Data)}
	}

	dims := make([]string, len(t.Shape))
	for i, d := range t.Shape {
		dims[i] = strconv.FormatUint(d, 10)
	}

	var buf bytes.Buffer
	buf.WriteString(strings.Join(dims, ","))
	buf.WriteByte('\n')
	buf.WriteString(t.DType.String())
	buf.WriteByte('\n')
	buf.Write(t.Data)
	return buf.Bytes(), nil
}

// Decode parses the wire representation produced by Encode. It splits on
// the first two newline bytes, parses the shape and dtype, and wraps the
// remaining bytes as a Tensor of the parsed type and shape.
func Decode(b []byte) (*Tensor, error) {
	firstNL := bytes.IndexByte(b, '\n')
	if firstNL < 0 {
		return nil, &MalformedHeaderError{Reason: "missing shape/dtype newline"}
	}
	rest := b[firstNL+1:]
	secondNL := bytes.IndexByte(rest, '\n')
	if secondNL < 0 {
		return nil, &MalformedHeaderError{Reason: "missing dtype/payload newline"}
	}

	shapeField := string(b[:firstNL])
	dtypeField := string(rest[:secondNL])
	payload := rest[secondNL+1:]

	shape, err := parseShape(shapeField)
	if err != nil {
		return nil, err
	}
	dt, err := dtype.Parse(dtypeField)
	if err != nil {
		return nil, &MalformedHeaderError{Reason: err.Error()}
	}

	t := &Tensor{Shape: shape, DType: dt, Data: payload}
	want := int(t.Elements()) * dt.Width()
	if len(payload) != want {
		return nil, &WrongPayloadSizeError{Want: want, Got: len(payload)}
	}
	// Copy the payload so the returned Tensor doesn't alias the caller's
	// buffer beyond the lifetime of this call.
	t.Data = append([]byte(nil), payload...)
	return t, nil
}

func parseShape(field string) ([]uint64, error) {
	if field == "" {
		// A zero-rank (scalar) tensor has an empty shape tuple.
		return []uint64{}, nil
	}
	parts := strings.Split(field, ",")
	shape := make([]uint64, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, &MalformedHeaderError{Reason: fmt.Sprintf("non-numeric shape dimension %q", p)}
		}
		shape[i] = n
	}
	return shape, nil
}
