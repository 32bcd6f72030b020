package ambientdb

import (
	"database/sql"
	"errors"

	"github.com/dotpulse/ambient_client/pkg/types"
)

var ErrNoReading = errors.New("no reading found")

type Store struct {
	db   *sql.DB
	path string
}

// InsertResult counts what happened to the readings of one line.
type InsertResult struct {
	Inserted   int
	Duplicates int
}

// TypeStatus summarizes one sensor type for status reports.
type TypeStatus struct {
	SensorType types.SensorType `json:"type"`
	Watermark  int64            `json:"watermark"`
	Latest     *types.Reading   `json:"latest,omitempty"`
	Pending    int64            `json:"pending"`
}
