package types

import "time"

// Reading is one decoded (type, timestamp, value) tuple.
type Reading struct {
	Timestamp  int64      `json:"timestamp" db:"unixtime"`
	SensorType SensorType `json:"type" db:"type"`
	Value      float64    `json:"value" db:"value"`
}

// Time returns the reading timestamp as a time.Time in UTC.
func (r Reading) Time() time.Time {
	return time.Unix(r.Timestamp, 0).UTC()
}
