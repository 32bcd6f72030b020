package aggregator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dotpulse/ambient_client/pkg/ambientdb"
	"github.com/dotpulse/ambient_client/pkg/types"
	"github.com/sirupsen/logrus/hooks/test"
)

func newTestAggregator(t *testing.T, now time.Time) (*Aggregator, *ambientdb.Store) {
	t.Helper()
	store, err := ambientdb.Open(context.Background(), filepath.Join(t.TempDir(), "ambient.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger, _ := test.NewNullLogger()
	a := New(store, logger)
	a.now = func() time.Time { return now }
	return a, store
}

func insert(t *testing.T, store *ambientdb.Store, at time.Time, sensorType types.SensorType, value float64) {
	t.Helper()
	r := types.Reading{Timestamp: at.Unix(), SensorType: sensorType, Value: value}
	if _, err := store.InsertLine(context.Background(), []types.Reading{r}); err != nil {
		t.Fatalf("InsertLine: %v", err)
	}
}

func TestRoundToBucketStart(t *testing.T) {
	ts := time.Date(2023, 5, 1, 10, 42, 17, 0, time.FixedZone("UTC+2", 2*3600))
	if got, want := roundToHourStart(ts), time.Date(2023, 5, 1, 8, 0, 0, 0, time.UTC).Unix(); got != want {
		t.Fatalf("roundToHourStart = %d; want %d", got, want)
	}
	if got, want := roundToDayStart(ts), time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC).Unix(); got != want {
		t.Fatalf("roundToDayStart = %d; want %d", got, want)
	}
}

func TestAggregateHourly(t *testing.T) {
	now := time.Date(2023, 5, 1, 12, 30, 0, 0, time.UTC)
	a, store := newTestAggregator(t, now)
	ctx := context.Background()

	hour10 := time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC)
	insert(t, store, hour10.Add(5*time.Minute), types.Temperature, 20)
	insert(t, store, hour10.Add(35*time.Minute), types.Temperature, 22)
	insert(t, store, hour10.Add(59*time.Minute), types.Temperature, 24)
	insert(t, store, hour10.Add(time.Hour+time.Minute), types.Temperature, 30)
	insert(t, store, hour10.Add(10*time.Minute), types.Humidity, 40)
	// Current hour
	insert(t, store, now.Add(-time.Minute), types.Temperature, 10)

	if err := a.Aggregate(ctx); err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	rollups, err := a.Rollups(ctx, Hourly, types.Temperature, hour10.Unix(), now.Unix())
	if err != nil {
		t.Fatalf("Rollups: %v", err)
	}
	if len(rollups) != 3 {
		t.Fatalf("got %d rollups; want 3: %+v", len(rollups), rollups)
	}

	first := rollups[0]
	if first.BucketStart != hour10.Unix() || first.Min != 20 || first.Avg != 22 || first.Max != 24 || first.Count != 3 {
		t.Fatalf("hour 10 rollup = %+v", first)
	}
	if first.IsCurrentTimeframe {
		t.Fatalf("completed hour marked current")
	}
	if rollups[1].Count != 1 || rollups[1].Avg != 30 {
		t.Fatalf("hour 11 rollup = %+v", rollups[1])
	}
	if !rollups[2].IsCurrentTimeframe || rollups[2].Avg != 10 {
		t.Fatalf("current hour rollup = %+v", rollups[2])
	}

	var stored int
	if err := store.DB().QueryRow("SELECT COUNT(*) FROM aggregate_hourly WHERE bucket_start >= ?", roundToHourStart(now)).Scan(&stored); err != nil {
		t.Fatal(err)
	}
	if stored != 0 {
		t.Fatalf("running hour was stored as a rollup")
	}
}

func TestAggregateIsIdempotentAndPicksUpLateReadings(t *testing.T) {
	now := time.Date(2023, 5, 3, 1, 0, 0, 0, time.UTC)
	a, store := newTestAggregator(t, now)
	ctx := context.Background()

	day1 := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	insert(t, store, day1.Add(3*time.Hour), types.CO2, 400)

	if err := a.Aggregate(ctx); err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	insert(t, store, day1.Add(20*time.Hour), types.CO2, 600)
	if err := a.Aggregate(ctx); err != nil {
		t.Fatalf("second Aggregate: %v", err)
	}

	rollups, err := a.Rollups(ctx, Daily, types.CO2, day1.Unix(), now.Unix())
	if err != nil {
		t.Fatalf("Rollups: %v", err)
	}
	if len(rollups) != 1 {
		t.Fatalf("got %d daily rollups; want 1: %+v", len(rollups), rollups)
	}
	if rollups[0].Count != 2 || rollups[0].Avg != 500 || rollups[0].Min != 400 || rollups[0].Max != 600 {
		t.Fatalf("daily rollup = %+v", rollups[0])
	}
}

func TestParseTimeframe(t *testing.T) {
	if tf, err := ParseTimeframe("daily"); err != nil || tf != Daily {
		t.Fatalf("ParseTimeframe(daily) = %q, %v", tf, err)
	}
	if _, err := ParseTimeframe("weekly"); err == nil {
		t.Fatalf("ParseTimeframe accepted weekly")
	}
}
