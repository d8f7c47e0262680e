package graphcodec

import "fmt"

// DecodeError is the sealed family of failures Decode can return; each
// variant matches one of the cases named in spec.md §4.3/§7.
type DecodeError struct {
	Kind   DecodeErrorKind
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("graphcodec: %s", e.Kind)
	}
	return fmt.Sprintf("graphcodec: %s: %s", e.Kind, e.Detail)
}

// DecodeErrorKind enumerates the decode failure variants named in
// spec.md.
type DecodeErrorKind string

const (
	BadMagic            DecodeErrorKind = "bad magic"
	UnsupportedVersion  DecodeErrorKind = "unsupported version"
	TruncatedPayload    DecodeErrorKind = "truncated payload"
	UnknownDType        DecodeErrorKind = "unknown dtype"
	CycleDetected       DecodeErrorKind = "cycle detected"
	PlaceholderMismatch DecodeErrorKind = "placeholder mismatch"
	ChecksumMismatch    DecodeErrorKind = "checksum mismatch"
)

func (k DecodeErrorKind) String() string { return string(k) }

func newDecodeError(kind DecodeErrorKind, detail string) *DecodeError {
	return &DecodeError{Kind: kind, Detail: detail}
}
