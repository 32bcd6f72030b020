package decoder

import (
	"time"

	"github.com/dotpulse/ambient_client/pkg/types"
)

const (
	// Marker opens every data line sent by the device.
	Marker = "LY"

	fieldCount         = 6
	reservedFieldCount = 7
	valueFieldCount    = 4
)

// Decoder turns raw serial lines into readings.
// Timestamps are interpreted in Location, the device clock's zone.
type Decoder struct {
	Location *time.Location
	Known    map[types.SensorType]bool
}

// Line is the result of decoding one raw line.
type Line struct {
	// Partial is set for lines that fail the marker or field count check.
	// They carry nothing and are skipped silently.
	Partial bool

	Timestamp   int64
	Readings    []types.Reading
	FieldErrors []*ValueError

	// Fields is the decoded field string: timestamp followed by the
	// type/value pairs, comma separated.
	Fields string
}

// HasFieldErrors reports whether any value field was rejected.
func (l Line) HasFieldErrors() bool {
	return len(l.FieldErrors) > 0
}
