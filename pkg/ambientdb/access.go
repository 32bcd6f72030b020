package ambientdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dotpulse/ambient_client/pkg/types"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// InsertLine stores the readings of one decoded line in a single transaction.
// Readings already present for the same (type, timestamp) are skipped and
// counted as duplicates. Any other error rolls back the whole line.
func (s *Store) InsertLine(ctx context.Context, readings []types.Reading) (InsertResult, error) {
	var res InsertResult
	if len(readings) == 0 {
		return res, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, r := range readings {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO ambient_data (unixtime, type, value) VALUES (?, ?, ?)",
			r.Timestamp,
			string(r.SensorType),
			r.Value,
		)
		if isUniqueViolation(err) {
			res.Duplicates++
			continue
		}
		if err != nil {
			return InsertResult{}, fmt.Errorf("failed to insert %s@%d: %w", r.SensorType, r.Timestamp, err)
		}
		res.Inserted++
	}

	if err := tx.Commit(); err != nil {
		return InsertResult{}, fmt.Errorf("failed to commit line: %w", err)
	}
	return res, nil
}

// Readings returns the readings of one type with from <= timestamp <= to, oldest first.
func (s *Store) Readings(ctx context.Context, sensorType types.SensorType, from, to int64) ([]types.Reading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT unixtime, type, value
		FROM ambient_data
		WHERE type = ? AND unixtime >= ? AND unixtime <= ?
		ORDER BY unixtime ASC
	`, string(sensorType), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	readings := []types.Reading{}
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return readings, nil
}

// NextUnsent returns the oldest reading of a type newer than after.
func (s *Store) NextUnsent(ctx context.Context, sensorType types.SensorType, after int64) (types.Reading, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT unixtime, type, value
		FROM ambient_data
		WHERE type = ? AND unixtime > ?
		ORDER BY unixtime ASC
		LIMIT 1
	`, string(sensorType), after)

	r, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Reading{}, ErrNoReading
	}
	return r, err
}

// Latest returns the newest reading of a type.
func (s *Store) Latest(ctx context.Context, sensorType types.SensorType) (types.Reading, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT unixtime, type, value
		FROM ambient_data
		WHERE type = ?
		ORDER BY unixtime DESC
		LIMIT 1
	`, string(sensorType))

	r, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Reading{}, ErrNoReading
	}
	return r, err
}

// Pending counts readings of a type newer than after.
func (s *Store) Pending(ctx context.Context, sensorType types.SensorType, after int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ambient_data WHERE type = ? AND unixtime > ?",
		string(sensorType), after,
	).Scan(&n)
	return n, err
}

// Types lists the sensor types present in the store.
func (s *Store) Types(ctx context.Context) ([]types.SensorType, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT type FROM ambient_data ORDER BY type")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.SensorType
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, types.SensorType(t))
	}
	return out, rows.Err()
}

// Watermark returns the last acknowledged timestamp for a type, 0 if nothing was sent yet.
func (s *Store) Watermark(ctx context.Context, sensorType types.SensorType) (int64, error) {
	var ts int64
	err := s.db.QueryRowContext(ctx,
		"SELECT unixtime FROM send_status WHERE type = ?",
		string(sensorType),
	).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read watermark for %s: %w", sensorType, err)
	}
	return ts, nil
}

// SetWatermark creates or moves the watermark of a type in one statement.
func (s *Store) SetWatermark(ctx context.Context, sensorType types.SensorType, ts int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO send_status (unixtime, type) VALUES (?, ?)
		ON CONFLICT(type) DO UPDATE SET unixtime = excluded.unixtime
	`, ts, string(sensorType))
	if err != nil {
		return fmt.Errorf("failed to set watermark for %s: %w", sensorType, err)
	}
	return nil
}

// Status collects watermark, latest reading and backlog for each type.
func (s *Store) Status(ctx context.Context, sensorTypes []types.SensorType) ([]TypeStatus, error) {
	out := make([]TypeStatus, 0, len(sensorTypes))
	for _, t := range sensorTypes {
		st := TypeStatus{SensorType: t}

		wm, err := s.Watermark(ctx, t)
		if err != nil {
			return nil, err
		}
		st.Watermark = wm

		latest, err := s.Latest(ctx, t)
		switch {
		case err == nil:
			st.Latest = &latest
		case !errors.Is(err, ErrNoReading):
			return nil, err
		}

		if st.Pending, err = s.Pending(ctx, t, wm); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(row rowScanner) (types.Reading, error) {
	var r types.Reading
	var t string
	if err := row.Scan(&r.Timestamp, &t, &r.Value); err != nil {
		return types.Reading{}, err
	}
	r.SensorType = types.SensorType(t)
	return r, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
