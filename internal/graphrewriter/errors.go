package graphrewriter

import "fmt"

// MissingBindingError reports that bindings did not cover a declared
// placeholder. It matches spec.md's SubstError::MissingBinding(name).
type MissingBindingError struct {
	Name string
}

func (e *MissingBindingError) Error() string {
	return fmt.Sprintf("graphrewriter: missing binding for placeholder %q", e.Name)
}

// BindingTypeMismatchError reports that a bound tensor's shape or dtype
// disagreed with the placeholder it's meant to fill.
type BindingTypeMismatchError struct {
	Name                   string
	ExpectedShape          []uint64
	ExpectedDType          string
	GotShape               []uint64
	GotDType               string
}

func (e *BindingTypeMismatchError) Error() string {
	return fmt.Sprintf(
		"graphrewriter: binding for placeholder %q has shape %v dtype %s, want shape %v dtype %s",
		e.Name, e.GotShape, e.GotDType, e.ExpectedShape, e.ExpectedDType,
	)
}

// UnknownPlaceholderError reports a placeholder Buffer that Substitute
// reached directly rather than as the Source of a View, so it has no
// valid substitution target (Name is the placeholder's name). Substitute
// also returns it, with Name "<unrecognized node type>", for a node that
// is not a Buffer, View, or Op. A placeholder absent from the manifest
// is reported as *MissingBindingError unless bindings happens to cover it.
type UnknownPlaceholderError struct {
	Name string
}

func (e *UnknownPlaceholderError) Error() string {
	return fmt.Sprintf("graphrewriter: buffer references undeclared placeholder %q", e.Name)
}
