// Package graphir is the in-memory representation of a placeholder-aware
// tensor computation DAG: the GraphIR of the spec. Nodes are plain Go
// pointers rather than explicit reference-counted handles -- the garbage
// collector plays the role the spec's Arc<GraphNode> plays in a systems
// language, and structural sharing falls out naturally from two parents
// holding the same *Node value.
package graphir

import (
	"github.com/splitup/compute-service/internal/dtype"
	"github.com/splitup/compute-service/internal/tensorcodec"
)

// Node is a variant over the operation set of the computation DAG. It is
// a sealed interface: Buffer, View, and Op are its only implementations,
// and the rewriter's switches over Node are expected to be exhaustive.
type Node interface {
	// NodeID returns the stable identifier assigned to this node when it
	// was constructed. Two distinct *Node values never share an id.
	NodeID() uint64
	// NodeDType returns the element type the node produces.
	NodeDType() dtype.DType
	sealed()
}

// Buffer is a leaf storage node: a concrete allocation on some device, or
// -- when Placeholder is non-nil -- a symbolic input awaiting
// substitution.
type Buffer struct {
	ID     uint64
	Device string
	Size   uint64
	DType  dtype.DType
	// Placeholder marks this Buffer as symbolic; it is nil for any Buffer
	// that already carries realized data.
	Placeholder *PlaceholderInfo
	// Data holds the realized tensor for a concrete (non-placeholder)
	// leaf -- both compile-time constants baked into the program and
	// substituted placeholder bindings use this field. It is always nil
	// on a symbolic Buffer.
	Data *tensorcodec.Tensor
}

func (b *Buffer) NodeID() uint64         { return b.ID }
func (b *Buffer) NodeDType() dtype.DType { return b.DType }
func (b *Buffer) sealed()                {}
func (b *Buffer) IsPlaceholder() bool    { return b.Placeholder != nil }

// View is a reshape/broadcast view over another node; it shares the
// source node's underlying data and only changes how it's addressed.
type View struct {
	ID           uint64
	Source       Node
	ShapeTracker ShapeTracker
	DType        dtype.DType
}

func (v *View) NodeID() uint64         { return v.ID }
func (v *View) NodeDType() dtype.DType { return v.DType }
func (v *View) sealed()                {}

// OpKind enumerates the arithmetic and reduction operations the graph can
// express. The accelerator contract (internal/accelerator) interprets
// these; GraphIR and GraphCodec only need to carry the tag.
type OpKind uint8

const (
	_ OpKind = iota // the zero value is not a valid op kind
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMax
	OpSum
	OpNeg
)

// String returns the wire/debug name for an OpKind.
func (k OpKind) String() string {
	switch k {
	case OpAdd:
		return "add"
	case OpSub:
		return "sub"
	case OpMul:
		return "mul"
	case OpDiv:
		return "div"
	case OpMax:
		return "max"
	case OpSum:
		return "sum"
	case OpNeg:
		return "neg"
	default:
		return "invalid"
	}
}

// OpKindFromCode and Code let GraphCodec round-trip OpKind through a
// single byte without depending on iota ordering staying stable forever.
func (k OpKind) Code() uint8 { return uint8(k) }

func OpKindFromCode(code uint8) (OpKind, bool) {
	k := OpKind(code)
	switch k {
	case OpAdd, OpSub, OpMul, OpDiv, OpMax, OpSum, OpNeg:
		return k, true
	default:
		return 0, false
	}
}

// Op is an arithmetic or reduction operation over one or more source
// nodes.
type Op struct {
	ID      uint64
	Kind    OpKind
	Sources []Node
	DType   dtype.DType
}

func (o *Op) NodeID() uint64         { return o.ID }
func (o *Op) NodeDType() dtype.DType { return o.DType }
func (o *Op) sealed()                {}
