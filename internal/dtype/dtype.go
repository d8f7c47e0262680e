// Package dtype defines the closed set of scalar element types recognized
// by the tensor and graph codecs.
package dtype

import "fmt"

// DType is a tagged enumeration of the scalar element types a Tensor or
// Buffer can carry. The set is closed for this build but each variant
// carries its own byte width and wire name so that adding one later is a
// single-file change.
type DType uint8

const (
	// Invalid is the zero value; no valid Tensor or Buffer ever carries it.
	Invalid DType = iota
	Float16
	Float32
	Int32
	Uint8
)

// Width returns the byte width of one element of d.
func (d DType) Width() int {
	switch d {
	case Float16:
		return 2
	case Float32:
		return 4
	case Int32:
		return 4
	case Uint8:
		return 1
	default:
		return 0
	}
}

// String returns the canonical wire name used by both the tensor codec
// header and the graph codec's dtype code table.
func (d DType) String() string {
	switch d {
	case Float16:
		return "float16"
	case Float32:
		return "float32"
	case Int32:
		return "int32"
	case Uint8:
		return "uint8"
	default:
		return "invalid"
	}
}

// Code returns the single-byte tag used by GraphCodec to identify d on the
// wire. Values are stable across versions of this package; never
// renumber an existing entry.
func (d DType) Code() uint8 {
	return uint8(d)
}

// FromCode recovers a DType from its wire byte tag.
func FromCode(code uint8) (DType, error) {
	d := DType(code)
	switch d {
	case Float16, Float32, Int32, Uint8:
		return d, nil
	default:
		return Invalid, fmt.Errorf("dtype: unknown dtype code %d", code)
	}
}

// Parse recovers a DType from its canonical wire name, as used by the
// tensor codec's text header.
func Parse(name string) (DType, error) {
	switch name {
	case "float16":
		return Float16, nil
	case "float32":
		return Float32, nil
	case "int32":
		return Int32, nil
	case "uint8":
		return Uint8, nil
	default:
		return Invalid, fmt.Errorf("dtype: unknown dtype name %q", name)
	}
}

// Valid reports whether d is one of the recognized, non-zero variants.
func (d DType) Valid() bool {
	switch d {
	case Float16, Float32, Int32, Uint8:
		return true
	default:
		return false
	}
}
