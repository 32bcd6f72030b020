package aggregator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dotpulse/ambient_client/pkg/ambientdb"
	"github.com/dotpulse/ambient_client/pkg/types"
	"github.com/sirupsen/logrus"
)

// How far back completed buckets are recomputed on every run, so readings
// that arrive late still end up in their rollup.
const (
	hourlyLookback = 24 * time.Hour
	dailyLookback  = 7 * 24 * time.Hour
)

func New(store *ambientdb.Store, logger logrus.FieldLogger) *Aggregator {
	return &Aggregator{
		db:  store.DB(),
		log: logger.WithField("component", "aggregator"),
		now: time.Now,
	}
}

// roundToHourStart returns the Unix timestamp of the start of the hour for the given time
func roundToHourStart(t time.Time) int64 {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC).Unix()
}

// roundToDayStart returns the Unix timestamp of the start of the day for the given time
func roundToDayStart(t time.Time) int64 {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Unix()
}

// Run aggregates once immediately and then every interval until ctx is done.
func (a *Aggregator) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := a.Aggregate(ctx); err != nil && ctx.Err() == nil {
			a.log.WithError(err).Error("Aggregation failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Aggregate stores rollups for the completed buckets of both timeframes.
// The current bucket is left alone because it is still filling up.
func (a *Aggregator) Aggregate(ctx context.Context) error {
	now := a.now().UTC()

	if err := a.aggregate(ctx, Hourly, now, hourlyLookback); err != nil {
		return fmt.Errorf("hourly: %w", err)
	}
	if err := a.aggregate(ctx, Daily, now, dailyLookback); err != nil {
		return fmt.Errorf("daily: %w", err)
	}
	return nil
}

func (a *Aggregator) aggregate(ctx context.Context, tf Timeframe, now time.Time, lookback time.Duration) error {
	table, err := tf.table()
	if err != nil {
		return err
	}
	end := tf.bucketStart(now)

	// Start from the oldest raw reading until the first rollup exists
	var last sql.NullInt64
	if err := a.db.QueryRowContext(ctx, "SELECT MAX(bucket_start) FROM "+table).Scan(&last); err != nil {
		return err
	}
	start := tf.bucketStart(now.Add(-lookback))
	if !last.Valid {
		start = 0
	} else if last.Int64 < start {
		start = last.Int64
	}

	res, err := a.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO `+table+`
		(bucket_start, type, min_value, avg_value, max_value, sample_count)
		SELECT
			(unixtime / ?) * ? AS bucket,
			type,
			MIN(value),
			AVG(value),
			MAX(value),
			COUNT(*)
		FROM ambient_data
		WHERE unixtime >= ? AND unixtime < ?
		GROUP BY type, bucket
	`, tf.seconds(), tf.seconds(), start, end)
	if err != nil {
		return err
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		a.log.WithFields(logrus.Fields{
			"timeframe": tf,
			"from":      time.Unix(start, 0).UTC().Format(time.RFC3339),
			"to":        time.Unix(end, 0).UTC().Format(time.RFC3339),
			"rows":      n,
		}).Debug("Stored rollups")
	}
	return nil
}

// Rollups returns the buckets of one type overlapping [from, to], oldest first.
// Completed buckets come from the stored rollups; the bucket that is still
// running is computed from raw readings.
func (a *Aggregator) Rollups(ctx context.Context, tf Timeframe, sensorType types.SensorType, from, to int64) ([]Rollup, error) {
	table, err := tf.table()
	if err != nil {
		return nil, err
	}
	from = tf.bucketStart(time.Unix(from, 0))
	current := tf.bucketStart(a.now())

	rows, err := a.db.QueryContext(ctx, `
		SELECT bucket_start, type, min_value, avg_value, max_value, sample_count
		FROM `+table+`
		WHERE type = ? AND bucket_start >= ? AND bucket_start <= ? AND bucket_start < ?
		ORDER BY bucket_start ASC
	`, string(sensorType), from, to, current)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Rollup{}
	for rows.Next() {
		r, err := scanRollup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if current < from || current > to {
		return out, nil
	}
	live, err := a.liveRollup(ctx, tf, sensorType, current)
	if errors.Is(err, sql.ErrNoRows) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	return append(out, live), nil
}

func (a *Aggregator) liveRollup(ctx context.Context, tf Timeframe, sensorType types.SensorType, bucketStart int64) (Rollup, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT ?, type, MIN(value), AVG(value), MAX(value), COUNT(*)
		FROM ambient_data
		WHERE type = ? AND unixtime >= ? AND unixtime < ?
		GROUP BY type
	`, bucketStart, string(sensorType), bucketStart, bucketStart+tf.seconds())

	r, err := scanRollup(row)
	if err != nil {
		return Rollup{}, err
	}
	r.IsCurrentTimeframe = true
	return r, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRollup(row rowScanner) (Rollup, error) {
	var r Rollup
	var t string
	if err := row.Scan(&r.BucketStart, &t, &r.Min, &r.Avg, &r.Max, &r.Count); err != nil {
		return Rollup{}, err
	}
	r.SensorType = types.SensorType(t)
	return r, nil
}
