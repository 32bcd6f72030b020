package decoder

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dotpulse/ambient_client/pkg/types"
)

// New creates a decoder for a device whose clock runs in loc.
// A nil loc means time.Local. Only the given sensor types are accepted;
// with none given all known types are.
func New(loc *time.Location, sensorTypes ...types.SensorType) *Decoder {
	if loc == nil {
		loc = time.Local
	}
	if len(sensorTypes) == 0 {
		sensorTypes = types.AllSensorTypes
	}
	known := make(map[types.SensorType]bool, len(sensorTypes))
	for _, t := range sensorTypes {
		known[t] = true
	}
	return &Decoder{Location: loc, Known: known}
}

// Decode parses one raw line. Lines with a foreign marker or a wrong
// field count come back as Partial with a nil error. Encoding and
// timestamp problems reject the whole line. A bad value field only
// rejects that field and is reported in Line.FieldErrors.
func (d *Decoder) Decode(raw []byte) (Line, error) {
	if !utf8.Valid(raw) {
		return Line{}, ErrEncoding
	}

	parts := strings.Split(strings.TrimSpace(string(raw)), ",")
	if parts[0] != Marker {
		return Line{Partial: true}, nil
	}

	var tsField string
	var valueFields []string
	switch len(parts) {
	case fieldCount:
		tsField, valueFields = parts[1], parts[2:]
	case reservedFieldCount:
		// Firmware variant with a placeholder column after the timestamp
		tsField, valueFields = parts[1], parts[3:]
	default:
		return Line{Partial: true}, nil
	}

	ts, err := d.parseTimestamp(tsField)
	if err != nil {
		return Line{}, err
	}

	line := Line{
		Timestamp: ts,
		Readings:  make([]types.Reading, 0, valueFieldCount),
		Fields:    tsField + "," + strings.Join(valueFields, ","),
	}
	for i, field := range valueFields {
		sensorType, value, err := d.parseValue(field)
		if err != nil {
			line.FieldErrors = append(line.FieldErrors, &ValueError{Index: i + 1, Field: field, Err: err})
			continue
		}
		line.Readings = append(line.Readings, types.Reading{
			Timestamp:  ts,
			SensorType: sensorType,
			Value:      value,
		})
	}

	return line, nil
}

// parseTimestamp reads year_month_day_hour_minute_second. The fields are
// checked in UTC, where time.Date only normalizes out of range values, so
// dates like February 30th are rejected. Wall clock times in a DST gap of
// the device location are valid and shift forward like mktime does.
func (d *Decoder) parseTimestamp(field string) (int64, error) {
	parts := strings.Split(field, "_")
	if len(parts) != 6 {
		return 0, fmt.Errorf("%w: %q has %d parts, want 6", ErrMalformedTimestamp, field, len(parts))
	}

	var n [6]int
	for i, p := range parts {
		if p == "" || strings.TrimLeft(p, "0123456789") != "" {
			return 0, fmt.Errorf("%w: %q: part %q is not a number", ErrMalformedTimestamp, field, p)
		}
		v, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %v", ErrMalformedTimestamp, field, err)
		}
		n[i] = v
	}

	t := time.Date(n[0], time.Month(n[1]), n[2], n[3], n[4], n[5], 0, time.UTC)
	if t.Year() != n[0] || int(t.Month()) != n[1] || t.Day() != n[2] ||
		t.Hour() != n[3] || t.Minute() != n[4] || t.Second() != n[5] {
		return 0, fmt.Errorf("%w: %q is not a valid date-time", ErrMalformedTimestamp, field)
	}

	return time.Date(n[0], time.Month(n[1]), n[2], n[3], n[4], n[5], 0, d.Location).Unix(), nil
}

func (d *Decoder) parseValue(field string) (types.SensorType, float64, error) {
	code, rawValue, ok := strings.Cut(field, "_")
	if !ok || code == "" || strings.Contains(rawValue, "_") {
		return "", 0, fmt.Errorf("want TYPE_VALUE")
	}

	sensorType := types.SensorType(code)
	if !d.Known[sensorType] {
		return "", 0, fmt.Errorf("%w: %s", ErrUnknownSensorType, code)
	}

	value, err := strconv.ParseFloat(rawValue, 64)
	if err != nil {
		return "", 0, err
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return "", 0, fmt.Errorf("non-finite value %s", rawValue)
	}

	return sensorType, value, nil
}
