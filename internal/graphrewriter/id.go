package graphrewriter

import "sync/atomic"

// syntheticIDBase is far above any id a decoded GraphProgram is expected
// to use (the codec assigns ids sequentially from the node table, so
// real programs stay well under this for any graph the spec's size
// budget anticipates). Starting synthetic ids here keeps them from ever
// colliding with an id carried over from the original program during
// substitution's memoization.
const syntheticIDBase = uint64(1) << 48

var syntheticCounter uint64

// syntheticID returns a process-unique id for a node fabricated during
// substitution (the constant Buffer/View pair that replaces a bound
// placeholder).
func syntheticID() uint64 {
	return syntheticIDBase + atomic.AddUint64(&syntheticCounter, 1)
}
