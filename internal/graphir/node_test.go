package graphir

import "testing"

func TestOpKindCodeRoundTrip(t *testing.T) {
	kinds := []OpKind{OpAdd, OpSub, OpMul, OpDiv, OpMax, OpSum, OpNeg}
	for _, k := range kinds {
		got, ok := OpKindFromCode(k.Code())
		if !ok {
			t.Fatalf("OpKindFromCode(%d) ok = false, want true", k.Code())
		}
		if got != k {
			t.Fatalf("OpKindFromCode(%d) = %v, want %v", k.Code(), got, k)
		}
	}
}

func TestOpKindFromCodeRejectsZero(t *testing.T) {
	if _, ok := OpKindFromCode(0); ok {
		t.Fatal("OpKindFromCode(0) ok = true, want false")
	}
}

func TestOpKindString(t *testing.T) {
	if got, want := OpAdd.String(), "add"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got, want := OpKind(0).String(), "invalid"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestBufferIsPlaceholder(t *testing.T) {
	b := &Buffer{ID: 1}
	if b.IsPlaceholder() {
		t.Error("IsPlaceholder() = true for Buffer with no Placeholder, want false")
	}
	b.Placeholder = &PlaceholderInfo{Name: "x"}
	if !b.IsPlaceholder() {
		t.Error("IsPlaceholder() = false after setting Placeholder, want true")
	}
}
