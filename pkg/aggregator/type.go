package aggregator

import (
	"database/sql"
	"errors"
	"time"

	"github.com/dotpulse/ambient_client/pkg/types"
	"github.com/sirupsen/logrus"
)

var ErrUnknownTimeframe = errors.New("unknown timeframe")

type Timeframe string

const (
	Hourly Timeframe = "hourly"
	Daily  Timeframe = "daily"
)

// Rollup summarizes the readings of one type inside one UTC bucket.
type Rollup struct {
	BucketStart        int64            `json:"bucket_start"`
	SensorType         types.SensorType `json:"type"`
	Min                float64          `json:"min"`
	Avg                float64          `json:"avg"`
	Max                float64          `json:"max"`
	Count              int64            `json:"count"`
	IsCurrentTimeframe bool             `json:"is_current"`
}

type Aggregator struct {
	db  *sql.DB
	log logrus.FieldLogger
	now func() time.Time
}

func (tf Timeframe) table() (string, error) {
	switch tf {
	case Hourly:
		return "aggregate_hourly", nil
	case Daily:
		return "aggregate_daily", nil
	}
	return "", ErrUnknownTimeframe
}

func (tf Timeframe) seconds() int64 {
	if tf == Daily {
		return 24 * 3600
	}
	return 3600
}

// bucketStart returns the start of the bucket containing t.
func (tf Timeframe) bucketStart(t time.Time) int64 {
	if tf == Daily {
		return roundToDayStart(t)
	}
	return roundToHourStart(t)
}

func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if _, err := tf.table(); err != nil {
		return "", err
	}
	return tf, nil
}
