// Package graphrewriter implements the two GraphIR passes described in
// spec.md §4.4: collecting every declared placeholder name reachable from
// a graph's root, and substituting each placeholder leaf by the lazy
// graph of its bound tensor.
package graphrewriter

import (
	"github.com/splitup/compute-service/internal/collections"
	"github.com/splitup/compute-service/internal/graphir"
	"github.com/splitup/compute-service/internal/tensorcodec"
)

// FindAllPlaceholders walks the DAG rooted at root bottom-up, memoized
// over node id so that a node reachable through multiple parents is
// visited exactly once, and returns the set of placeholder names
// encountered. A node matches iff it is a View whose Source is a Buffer
// with a non-nil Placeholder -- a bare placeholder Buffer with no
// enclosing View is not itself a match, matching the tie-break rule in
// spec.md §4.4.
func FindAllPlaceholders(root graphir.Node) collections.Set[string] {
	names := collections.NewSet[string]()
	visited := collections.NewSet[uint64]()
	walk(root, visited, names)
	return names
}

func walk(n graphir.Node, visited collections.Set[uint64], names collections.Set[string]) {
	if n == nil {
		return
	}
	if !visited.Add(n.NodeID()) {
		return
	}
	switch node := n.(type) {
	case *graphir.Buffer:
		// A bare Buffer, even a placeholder one, is not itself a match;
		// it only contributes a name when reached through an enclosing
		// View (the case below).
	case *graphir.View:
		if buf, ok := node.Source.(*graphir.Buffer); ok && buf.Placeholder != nil {
			names.Add(buf.Placeholder.Name)
		}
		walk(node.Source, visited, names)
	case *graphir.Op:
		for _, src := range node.Sources {
			walk(src, visited, names)
		}
	}
}

// ActualTensors maps a placeholder name to the realized tensor bound to
// it.
type ActualTensors map[string]*tensorcodec.Tensor

// Substitute rewrites every View(Buffer-placeholder) node reachable from
// root by the lazy graph of bindings[p.name], bottom-up, preserving node
// identity for any node that did not change so that shared subtrees stay
// shared. All preconditions are validated up front, against the full set
// of placeholders declared for the program, before any rewriting begins:
// a failure here mutates nothing.
func Substitute(root graphir.Node, placeholders []graphir.PlaceholderInfo, bindings ActualTensors) (graphir.Node, error) {
	for _, p := range placeholders {
		tensor, ok := bindings[p.Name]
		if !ok {
			return nil, &MissingBindingError{Name: p.Name}
		}
		if !tensor.SameShape(p.Shape) || tensor.DType != p.DType {
			return nil, &BindingTypeMismatchError{
				Name:          p.Name,
				ExpectedShape: p.Shape,
				ExpectedDType: p.DType.String(),
				GotShape:      tensor.Shape,
				GotDType:      tensor.DType.String(),
			}
		}
	}

	memo := make(map[uint64]graphir.Node)
	return substituteNode(root, bindings, memo)
}

func substituteNode(n graphir.Node, bindings ActualTensors, memo map[uint64]graphir.Node) (graphir.Node, error) {
	if n == nil {
		return nil, nil
	}
	if existing, ok := memo[n.NodeID()]; ok {
		return existing, nil
	}

	switch node := n.(type) {
	case *graphir.Buffer:
		if node.Placeholder == nil {
			memo[n.NodeID()] = node
			return node, nil
		}
		// A bare placeholder Buffer reached without an enclosing View
		// cannot be a valid substitution target in this IR (spec.md
		// §4.4's tie-break rule). graphir.Program.Validate does not
		// reject such a Buffer, so it is reported here as an error.
		return nil, &UnknownPlaceholderError{Name: node.Placeholder.Name}

	case *graphir.View:
		if buf, ok := node.Source.(*graphir.Buffer); ok && buf.Placeholder != nil {
			tensor, ok := bindings[buf.Placeholder.Name]
			if !ok {
				return nil, &MissingBindingError{Name: buf.Placeholder.Name}
			}
			replacement := constantGraph(tensor)
			memo[n.NodeID()] = replacement
			return replacement, nil
		}
		newSource, err := substituteNode(node.Source, bindings, memo)
		if err != nil {
			return nil, err
		}
		var result graphir.Node = node
		if newSource != node.Source {
			result = &graphir.View{
				ID:           node.ID,
				Source:       newSource,
				ShapeTracker: node.ShapeTracker,
				DType:        node.DType,
			}
		}
		memo[n.NodeID()] = result
		return result, nil

	case *graphir.Op:
		changed := false
		newSources := make([]graphir.Node, len(node.Sources))
		for i, src := range node.Sources {
			newSrc, err := substituteNode(src, bindings, memo)
			if err != nil {
				return nil, err
			}
			newSources[i] = newSrc
			if newSrc != src {
				changed = true
			}
		}
		var result graphir.Node = node
		if changed {
			result = &graphir.Op{
				ID:      node.ID,
				Kind:    node.Kind,
				Sources: newSources,
				DType:   node.DType,
			}
		}
		memo[n.NodeID()] = result
		return result, nil

	default:
		return nil, &UnknownPlaceholderError{Name: "<unrecognized node type>"}
	}
}

// constantGraph wraps a realized tensor as the trivial one-node lazy
// graph that substitution plugs in for a bound placeholder: a concrete
// (non-symbolic) Buffer carrying the tensor's data, viewed through the
// shape tracker that matches its own shape.
func constantGraph(tensor *tensorcodec.Tensor) graphir.Node {
	buf := &graphir.Buffer{
		ID:     syntheticID(),
		Device: "host",
		Size:   tensor.Elements() * uint64(tensor.DType.Width()),
		DType:  tensor.DType,
		Data:   tensor,
	}
	return &graphir.View{
		ID:           syntheticID(),
		Source:       buf,
		ShapeTracker: graphir.NewShapeTrackerFromShape(tensor.Shape),
		DType:        tensor.DType,
	}
}
