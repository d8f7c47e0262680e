package accelerator

import (
	"context"
	"errors"
	"testing"

	"github.com/splitup/compute-service/internal/dtype"
	"github.com/splitup/compute-service/internal/graphir"
)

func concreteBuffer(id uint64, shape []uint64, dt dtype.DType, values []float64) graphir.Node {
	tensor, _ := encodeFloats(shape, dt, values)
	buf := &graphir.Buffer{ID: id, Device: "cpu", Size: uint64(len(tensor.Data)), DType: dt, Data: tensor}
	return &graphir.View{ID: id + 1, Source: buf, ShapeTracker: graphir.NewShapeTrackerFromShape(shape), DType: dt}
}

func TestExecuteAdd(t *testing.T) {
	a := concreteBuffer(1, []uint64{2}, dtype.Float32, []float64{1, 2})
	b := concreteBuffer(3, []uint64{2}, dtype.Float32, []float64{10, 20})
	op := &graphir.Op{ID: 5, Kind: graphir.OpAdd, Sources: []graphir.Node{a, b}, DType: dtype.Float32}

	result, err := ReferenceExecutor{}.Execute(context.Background(), op)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	values, err := decodeFloats(result)
	if err != nil {
		t.Fatalf("decodeFloats: %v", err)
	}
	if len(values) != 2 || values[0] != 11 || values[1] != 22 {
		t.Fatalf("values = %v, want [11 22]", values)
	}
}

func TestExecuteSum(t *testing.T) {
	a := concreteBuffer(1, []uint64{3}, dtype.Float32, []float64{1, 2, 3})
	op := &graphir.Op{ID: 2, Kind: graphir.OpSum, Sources: []graphir.Node{a}, DType: dtype.Float32}

	result, err := ReferenceExecutor{}.Execute(context.Background(), op)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	values, err := decodeFloats(result)
	if err != nil {
		t.Fatalf("decodeFloats: %v", err)
	}
	if len(values) != 1 || values[0] != 6 {
		t.Fatalf("values = %v, want [6]", values)
	}
}

func TestExecuteUnboundPlaceholderFails(t *testing.T) {
	ph := graphir.PlaceholderInfo{Name: "P0", Shape: []uint64{2}, DType: dtype.Float32}
	buf := &graphir.Buffer{ID: 1, Device: "gpu", Size: 8, DType: dtype.Float32, Placeholder: &ph}
	view := &graphir.View{ID: 2, Source: buf, ShapeTracker: graphir.NewShapeTrackerFromShape(ph.Shape), DType: dtype.Float32}

	_, err := ReferenceExecutor{}.Execute(context.Background(), view)
	var unbound *UnboundPlaceholderError
	if !errors.As(err, &unbound) {
		t.Fatalf("err = %v (%T), want *UnboundPlaceholderError", err, err)
	}
	if unbound.Name != "P0" {
		t.Fatalf("unbound.Name = %q, want P0", unbound.Name)
	}
}

func TestExecuteNeg(t *testing.T) {
	a := concreteBuffer(1, []uint64{2}, dtype.Float32, []float64{1, -2})
	op := &graphir.Op{ID: 2, Kind: graphir.OpNeg, Sources: []graphir.Node{a}, DType: dtype.Float32}

	result, err := ReferenceExecutor{}.Execute(context.Background(), op)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	values, err := decodeFloats(result)
	if err != nil {
		t.Fatalf("decodeFloats: %v", err)
	}
	if values[0] != -1 || values[1] != 2 {
		t.Fatalf("values = %v, want [-1 2]", values)
	}
}
