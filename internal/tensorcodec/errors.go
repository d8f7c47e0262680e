package tensorcodec

import "fmt"

// MalformedHeaderError reports that the two-newline-delimited text header
// could not be parsed: a missing newline, a non-numeric shape dimension,
// or an unrecognized dtype name.
type MalformedHeaderError struct {
	Reason string
}

func (e *MalformedHeaderError) Error() string {
	return fmt.Sprintf("tensorcodec: malformed header: %s", e.Reason)
}

// WrongPayloadSizeError reports that the raw byte payload following the
// header did not match product(shape) * dtype.Width().
type WrongPayloadSizeError struct {
	Want int
	Got  int
}

func (e *WrongPayloadSizeError) Error() string {
	return fmt.Sprintf("tensorcodec: payload size mismatch: want %d bytes, got %d", e.Want, e.Got)
}
