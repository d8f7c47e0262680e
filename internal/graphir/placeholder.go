package graphir

import (
	"fmt"
	"unicode"

	"github.com/splitup/compute-service/internal/dtype"
)

// PlaceholderInfo is an immutable descriptor of one symbolic input: a
// named, shaped, typed hole that GraphRewriter must fill before the
// program can be executed.
type PlaceholderInfo struct {
	Name  string
	Shape []uint64
	DType dtype.DType
}

// Validate checks the invariants the spec places on a PlaceholderInfo in
// isolation: non-empty, control-character-free name, non-negative shape
// (guaranteed by the uint64 representation), and a recognized dtype.
func (p PlaceholderInfo) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("graphir: placeholder name must not be empty")
	}
	for _, r := range p.Name {
		if unicode.IsControl(r) {
			return fmt.Errorf("graphir: placeholder name %q contains a control character", p.Name)
		}
	}
	if !p.DType.Valid() {
		return fmt.Errorf("graphir: placeholder %q has unrecognized dtype code %d", p.Name, p.DType.Code())
	}
	return nil
}

// SameShape reports whether p.Shape and shape describe identical shapes.
func (p PlaceholderInfo) SameShape(shape []uint64) bool {
	if len(p.Shape) != len(shape) {
		return false
	}
	for i := range shape {
		if p.Shape[i] != shape[i] {
			return false
		}
	}
	return true
}
