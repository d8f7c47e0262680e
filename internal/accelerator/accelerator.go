// Package accelerator defines the execute(graph, bindings) -> tensor
// contract spec.md §1 treats as an external collaborator, plus an
// in-process reference Executor used by tests and local (non-GPU) runs.
// The reference Executor interprets a fully-substituted GraphIR tree
// (every placeholder already bound to a concrete Buffer carrying real
// tensor data, the postcondition of graphrewriter.Substitute) directly
// in Go, the way a CPU fallback backend would.
package accelerator

import (
	"context"
	"fmt"
	"math"

	"github.com/splitup/compute-service/internal/dtype"
	"github.com/splitup/compute-service/internal/graphir"
	"github.com/splitup/compute-service/internal/tensorcodec"
)

// UnboundPlaceholderError is returned when the executor reaches a Buffer
// that still carries placeholder metadata: substitution should have
// eliminated every one of these before execution is attempted.
type UnboundPlaceholderError struct {
	Name string
}

func (e *UnboundPlaceholderError) Error() string {
	return fmt.Sprintf("accelerator: placeholder %q was not substituted before execution", e.Name)
}

// UnsupportedOpError reports an OpKind the reference executor doesn't
// interpret.
type UnsupportedOpError struct {
	Kind graphir.OpKind
}

func (e *UnsupportedOpError) Error() string {
	return fmt.Sprintf("accelerator: unsupported op kind %q", e.Kind)
}

// Executor materializes a fully-substituted GraphIR node into a concrete
// tensor. Production deployments swap this for a real GPU/accelerator
// kernel dispatcher; ReferenceExecutor below is the in-process fallback.
type Executor interface {
	Execute(ctx context.Context, root graphir.Node) (*tensorcodec.Tensor, error)
}

// ReferenceExecutor evaluates arithmetic directly in Go. It's correct
// but not fast; it exists so this module's pipeline is exercisable
// without a real accelerator present.
type ReferenceExecutor struct{}

func (ReferenceExecutor) Execute(ctx context.Context, root graphir.Node) (*tensorcodec.Tensor, error) {
	return evalNode(ctx, root)
}

func evalNode(ctx context.Context, n graphir.Node) (*tensorcodec.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch node := n.(type) {
	case *graphir.Buffer:
		if node.Placeholder != nil {
			return nil, &UnboundPlaceholderError{Name: node.Placeholder.Name}
		}
		if node.Data == nil {
			return nil, fmt.Errorf("accelerator: buffer %d has no concrete data", node.ID)
		}
		return node.Data, nil

	case *graphir.View:
		source, err := evalNode(ctx, node.Source)
		if err != nil {
			return nil, err
		}
		shape := node.ShapeTracker.Shape()
		if source.Elements() != productU64(shape) {
			return nil, fmt.Errorf("accelerator: view shape %v incompatible with %d source elements", shape, source.Elements())
		}
		return &tensorcodec.Tensor{Shape: shape, DType: node.DType, Data: source.Data}, nil

	case *graphir.Op:
		return evalOp(ctx, node)

	default:
		return nil, fmt.Errorf("accelerator: unrecognized node type %T", n)
	}
}

func evalOp(ctx context.Context, op *graphir.Op) (*tensorcodec.Tensor, error) {
	operands := make([]*tensorcodec.Tensor, len(op.Sources))
	for i, src := range op.Sources {
		tensor, err := evalNode(ctx, src)
		if err != nil {
			return nil, err
		}
		operands[i] = tensor
	}

	switch op.Kind {
	case graphir.OpAdd, graphir.OpSub, graphir.OpMul, graphir.OpDiv, graphir.OpMax:
		return elementwise(op, operands)
	case graphir.OpSum:
		return reduceSum(op, operands)
	case graphir.OpNeg:
		return unaryNeg(op, operands)
	default:
		return nil, &UnsupportedOpError{Kind: op.Kind}
	}
}

func elementwise(op *graphir.Op, operands []*tensorcodec.Tensor) (*tensorcodec.Tensor, error) {
	if len(operands) < 2 {
		return nil, fmt.Errorf("accelerator: %s requires at least 2 operands, got %d", op.Kind, len(operands))
	}
	values, err := decodeAll(operands)
	if err != nil {
		return nil, err
	}
	n := len(values[0])
	for _, v := range values {
		if len(v) != n {
			return nil, fmt.Errorf("accelerator: %s operand element count mismatch", op.Kind)
		}
	}

	result := make([]float64, n)
	copy(result, values[0])
	for _, v := range values[1:] {
		for i := range result {
			result[i] = applyBinary(op.Kind, result[i], v[i])
		}
	}
	return encodeFloats(operands[0].Shape, op.DType, result)
}

func applyBinary(kind graphir.OpKind, a, b float64) float64 {
	switch kind {
	case graphir.OpAdd:
		return a + b
	case graphir.OpSub:
		return a - b
	case graphir.OpMul:
		return a * b
	case graphir.OpDiv:
		return a / b
	case graphir.OpMax:
		return math.Max(a, b)
	default:
		return a
	}
}

func reduceSum(op *graphir.Op, operands []*tensorcodec.Tensor) (*tensorcodec.Tensor, error) {
	if len(operands) != 1 {
		return nil, fmt.Errorf("accelerator: sum requires exactly 1 operand, got %d", len(operands))
	}
	values, err := decodeAll(operands)
	if err != nil {
		return nil, err
	}
	var total float64
	for _, v := range values[0] {
		total += v
	}
	return encodeFloats(nil, op.DType, []float64{total})
}

func unaryNeg(op *graphir.Op, operands []*tensorcodec.Tensor) (*tensorcodec.Tensor, error) {
	if len(operands) != 1 {
		return nil, fmt.Errorf("accelerator: neg requires exactly 1 operand, got %d", len(operands))
	}
	values, err := decodeAll(operands)
	if err != nil {
		return nil, err
	}
	negated := make([]float64, len(values[0]))
	for i, v := range values[0] {
		negated[i] = -v
	}
	return encodeFloats(operands[0].Shape, op.DType, negated)
}

func decodeAll(operands []*tensorcodec.Tensor) ([][]float64, error) {
	out := make([][]float64, len(operands))
	for i, t := range operands {
		values, err := decodeFloats(t)
		if err != nil {
			return nil, err
		}
		out[i] = values
	}
	return out, nil
}

func decodeFloats(t *tensorcodec.Tensor) ([]float64, error) {
	n := int(t.Elements())
	width := t.DType.Width()
	if len(t.Data) != n*width {
		return nil, fmt.Errorf("accelerator: tensor data length %d does not match %d elements of width %d", len(t.Data), n, width)
	}

	values := make([]float64, n)
	for i := 0; i < n; i++ {
		chunk := t.Data[i*width : (i+1)*width]
		v, err := dtype.DecodeScalar(t.DType, chunk)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

func encodeFloats(shape []uint64, dt dtype.DType, values []float64) (*tensorcodec.Tensor, error) {
	width := dt.Width()
	data := make([]byte, len(values)*width)
	for i, v := range values {
		encoded, err := dtype.EncodeScalar(dt, v)
		if err != nil {
			return nil, err
		}
		copy(data[i*width:(i+1)*width], encoded)
	}
	if shape == nil {
		shape = []uint64{}
	}
	return &tensorcodec.Tensor{Shape: shape, DType: dt, Data: data}, nil
}

func productU64(shape []uint64) uint64 {
	var total uint64 = 1
	for _, d := range shape {
		total *= d
	}
	return total
}
