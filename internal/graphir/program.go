package graphir

import (
	"fmt"

	"github.com/splitup/compute-service/internal/collections"
)

// Program is the unit of serialization and execution: a root tensor
// expression plus the manifest of placeholders it's allowed to reference.
// Program exclusively owns its Placeholders slice; the nodes reachable
// from Root may be shared by pointer with other programs (DAG, not tree).
type Program struct {
	Root         Node
	Placeholders []PlaceholderInfo
}

// Validate enforces the three invariants spec.md places on GraphProgram:
//
//  1. every placeholder Buffer reachable from Root has a matching entry
//     in Placeholders (by name);
//  2. every entry in Placeholders is reachable from Root;
//  3. no two placeholders share a name.
func (p *Program) Validate() error {
	byName := make(map[string]PlaceholderInfo, len(p.Placeholders))
	for _, info := range p.Placeholders {
		if err := info.Validate(); err != nil {
			return err
		}
		if _, dup := byName[info.Name]; dup {
			return fmt.Errorf("graphir: duplicate placeholder name %q", info.Name)
		}
		byName[info.Name] = info
	}

	reached := collections.NewSet[string]()
	visited := collections.NewSet[uint64]()
	var walk func(n Node) error
	walk = func(n Node) error {
		if n == nil {
			return nil
		}
		if !visited.Add(n.NodeID()) {
			return nil
		}
		switch node := n.(type) {
		case *Buffer:
			if node.Placeholder != nil {
				name := node.Placeholder.Name
				info, ok := byName[name]
				if !ok {
					return fmt.Errorf("graphir: buffer references placeholder %q which is not declared in the program manifest", name)
				}
				if !info.SameShape(node.Placeholder.Shape) || info.DType != node.Placeholder.DType {
					return fmt.Errorf("graphir: placeholder %q buffer descriptor disagrees with the manifest entry", name)
				}
				reached.Add(name)
			}
		case *View:
			return walk(node.Source)
		case *Op:
			for _, src := range node.Sources {
				if err := walk(src); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("graphir: unrecognized node type %T", n)
		}
		return nil
	}
	if err := walk(p.Root); err != nil {
		return err
	}

	for _, info := range p.Placeholders {
		if !reached.Has(info.Name) {
			return fmt.Errorf("graphir: placeholder %q is declared but not reachable from the program root", info.Name)
		}
	}
	return nil
}
