package decoder

import (
	"errors"
	"fmt"
)

var (
	ErrEncoding           = errors.New("line is not valid utf-8")
	ErrMalformedTimestamp = errors.New("malformed timestamp")
	ErrMalformedValue     = errors.New("malformed value field")
	ErrUnknownSensorType  = errors.New("unknown sensor type")
)

// ValueError describes a single rejected value field.
// Index is the 1-based position of the field among the four value fields.
type ValueError struct {
	Index int
	Field string
	Err   error
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("value field %d (%q): %v", e.Index, e.Field, e.Err)
}

func (e *ValueError) Unwrap() []error {
	return []error{ErrMalformedValue, e.Err}
}
