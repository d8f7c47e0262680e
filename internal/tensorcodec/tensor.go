// Package tensorcodec implements the binary, self-describing encoding for
// realized tensors described in spec.md §4.1: a text header of shape and
// dtype followed by the raw little-endian element buffer.
package tensorcodec

import (
	"github.com/splitup/compute-service/internal/dtype"
)

// Tensor is a realized, in-memory numeric buffer together with the shape
// and dtype that give its raw bytes meaning.
type Tensor struct {
	Shape []uint64
	DType dtype.DType
	// Data is the element buffer in little-endian, row-major (C) order
	// with no padding. len(Data) must equal Elements()*DType.Width().
	Data []byte
}

// Elements returns the product of Shape, i.e. the element count.
func (t *Tensor) Elements() uint64 {
	n := uint64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// SameShape reports whether t and shape describe identical dimensions.
func (t *Tensor) SameShape(shape []uint64) bool {
	if len(t.Shape) != len(shape) {
		return false
	}
	for i := range shape {
		if t.Shape[i] != shape[i] {
			return false
		}
	}
	return true
}
