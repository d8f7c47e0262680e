package graphir

// ShapeTracker is an ordered sequence of views that together define a
// memory layout for a View node. It is opaque to the rewriter except via
// NewShapeTrackerFromShape: the rewriter never inspects the views, it
// only ever carries a ShapeTracker through to the substituted node.
type ShapeTracker struct {
	Views []ShapeView
}

// ShapeView describes one layer of the layout stack: a shape paired with
// the strides used to walk it, a base offset, and an optional mask that
// clips the view to a sub-region.
type ShapeView struct {
	Shape   []uint64
	Strides []int64
	Offset  int64
	// Mask holds an inclusive [min,max) pair per dimension when the view
	// has been clipped (e.g. by padding); nil when unclipped.
	Mask [][2]int64
}

// NewShapeTrackerFromShape builds the trivial single-view ShapeTracker
// for a freshly allocated, densely packed buffer of the given shape: the
// constructor the spec names as the only non-opaque entry point.
func NewShapeTrackerFromShape(shape []uint64) ShapeTracker {
	strides := contiguousStrides(shape)
	view := ShapeView{
		Shape:   append([]uint64(nil), shape...),
		Strides: strides,
		Offset:  0,
		Mask:    nil,
	}
	return ShapeTracker{Views: []ShapeView{view}}
}

func contiguousStrides(shape []uint64) []int64 {
	strides := make([]int64, len(shape))
	stride := int64(1)
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= int64(shape[i])
	}
	return strides
}

// Shape returns the outermost (final) shape described by the tracker, or
// nil if the tracker has no views.
func (st ShapeTracker) Shape() []uint64 {
	if len(st.Views) == 0 {
		return nil
	}
	return st.Views[len(st.Views)-1].Shape
}
