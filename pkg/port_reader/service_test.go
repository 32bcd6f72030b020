package port_reader

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dotpulse/ambient_client/pkg/ambientdb"
	"github.com/dotpulse/ambient_client/pkg/decoder"
	"github.com/dotpulse/ambient_client/pkg/events"
	"github.com/dotpulse/ambient_client/pkg/types"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type fakePort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu      sync.Mutex
	flushed bool
	closed  bool
}

func newFakePort() *fakePort {
	r, w := io.Pipe()
	return &fakePort{r: r, w: w}
}

func (f *fakePort) Read(b []byte) (int, error)  { return f.r.Read(b) }
func (f *fakePort) Write(b []byte) (int, error) { return len(b), nil }

func (f *fakePort) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return f.r.Close()
}

func (f *fakePort) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushed = true
	return nil
}

func (f *fakePort) isFlushed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushed
}

func (f *fakePort) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeOpener struct {
	port *fakePort
	err  error
}

func (o *fakeOpener) Open(string) (io.ReadWriteCloser, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.port, nil
}

type fakeStore struct {
	mu    sync.Mutex
	lines [][]types.Reading
	errs  []error
}

func (s *fakeStore) InsertLine(_ context.Context, readings []types.Reading) (ambientdb.InsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return ambientdb.InsertResult{}, err
		}
	}
	s.lines = append(s.lines, readings)
	return ambientdb.InsertResult{Inserted: len(readings)}, nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines)
}

type eventChan chan events.Event

func (c eventChan) Notify(e events.Event) { c <- e }

func (c eventChan) next(t *testing.T) events.Event {
	t.Helper()
	select {
	case e := <-c:
		return e
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return events.Event{}
}

func (c eventChan) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case e := <-c:
		t.Fatalf("unexpected event %+v", e)
	case <-time.After(wait):
	}
}

func newTestReader(opener Opener, store LineStore, observer events.Observer) *Reader {
	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return NewReader(opener, decoder.New(time.UTC), store, observer, logger)
}

func TestReaderStreamsLines(t *testing.T) {
	port := newFakePort()
	store := &fakeStore{}
	evs := make(eventChan, 10)
	r := newTestReader(&fakeOpener{port: port}, store, evs)

	if err := r.Start(context.Background(), "/dev/ttyFAKE"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		r.Stop()
		r.Wait()
	}()

	go func() {
		io.WriteString(port.w, "garbage from a reboot\n")
		io.WriteString(port.w, "LY,2023_05_01_10_00_00,_,T_21.5,R_40.0,P_1010.3,CO2_410\r\n")
		io.WriteString(port.w, "LY,2023_05_01_10_00_05,T_21.6,R_bad,P_1010.2,CO2_411\n")
	}()

	first := evs.next(t)
	if first.Kind != events.LineProcessed {
		t.Fatalf("event kind = %s; want line_processed", first.Kind)
	}
	if first.Fields != "2023_05_01_10_00_00,T_21.5,R_40.0,P_1010.3,CO2_410" {
		t.Fatalf("event fields = %q", first.Fields)
	}
	if first.Inserted != 4 {
		t.Fatalf("event inserted = %d; want 4", first.Inserted)
	}

	second := evs.next(t)
	if len(second.Readings) != 3 {
		t.Fatalf("second line readings = %d; want 3", len(second.Readings))
	}

	if r.State() != Streaming {
		t.Fatalf("state = %s; want streaming", r.State())
	}
	if !port.isFlushed() {
		t.Fatalf("port was not flushed before reading")
	}
	if store.count() != 2 {
		t.Fatalf("store received %d lines; want 2", store.count())
	}
	if latest := r.Latest(); latest == nil || latest.Fields != second.Fields {
		t.Fatalf("Latest = %+v; want second line", latest)
	}
}

func TestReaderSkipsOverlongLine(t *testing.T) {
	port := newFakePort()
	store := &fakeStore{}
	evs := make(eventChan, 10)
	r := newTestReader(&fakeOpener{port: port}, store, evs)

	if err := r.Start(context.Background(), "/dev/ttyFAKE"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		r.Stop()
		r.Wait()
	}()

	go func() {
		io.WriteString(port.w, "LY,2023_05_01_10_00_00,T_1,R_2,P_3,CO2_4"+strings.Repeat(",T_1", 3*maxLineLength)+"\n")
		io.WriteString(port.w, "LY,2023_05_01_10_00_05,T_21.6,R_40.0,P_1010.2,CO2_411\n")
	}()

	e := evs.next(t)
	if e.Fields != "2023_05_01_10_00_05,T_21.6,R_40.0,P_1010.2,CO2_411" {
		t.Fatalf("event fields = %q; want the line after the long one", e.Fields)
	}
	evs.none(t, 50*time.Millisecond)
	if r.State() != Streaming {
		t.Fatalf("state = %s; want streaming", r.State())
	}
	if store.count() != 1 {
		t.Fatalf("store received %d lines; want 1", store.count())
	}
}

func TestReaderOpenFailureFaults(t *testing.T) {
	evs := make(eventChan, 10)
	r := newTestReader(&fakeOpener{err: errors.New("no such device")}, &fakeStore{}, evs)

	if err := r.Start(context.Background(), "/dev/ttyNONE"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.Wait()

	e := evs.next(t)
	if e.Kind != events.TransportBroken {
		t.Fatalf("event kind = %s; want transport_broken", e.Kind)
	}
	if r.State() != Faulted {
		t.Fatalf("state = %s; want faulted", r.State())
	}
	if !errors.Is(r.Err(), ErrTransportBroken) {
		t.Fatalf("Err = %v; want ErrTransportBroken", r.Err())
	}
}

func TestReaderTransportBroken(t *testing.T) {
	port := newFakePort()
	evs := make(eventChan, 10)
	r := newTestReader(&fakeOpener{port: port}, &fakeStore{}, evs)

	if err := r.Start(context.Background(), "/dev/ttyFAKE"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	io.WriteString(port.w, "LY,2023_05_01_10_00_00,T_21.5,R_40.0,P_1010.3,CO2_410\n")
	if e := evs.next(t); e.Kind != events.LineProcessed {
		t.Fatalf("event kind = %s; want line_processed", e.Kind)
	}

	port.w.CloseWithError(errors.New("device unplugged"))
	r.Wait()

	e := evs.next(t)
	if e.Kind != events.TransportBroken {
		t.Fatalf("event kind = %s; want transport_broken", e.Kind)
	}
	if e.Cause != "device unplugged" {
		t.Fatalf("cause = %q; want %q", e.Cause, "device unplugged")
	}
	if r.State() != Faulted {
		t.Fatalf("state = %s; want faulted", r.State())
	}
	if !port.isClosed() {
		t.Fatalf("port not released after fault")
	}

	if err := r.Start(context.Background(), "/dev/ttyFAKE"); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("restart error = %v; want ErrAlreadyStarted", err)
	}
}

func TestReaderStopIsNotReportedAsBroken(t *testing.T) {
	port := newFakePort()
	store := &fakeStore{}
	evs := make(eventChan, 10)
	r := newTestReader(&fakeOpener{port: port}, store, evs)

	if err := r.Start(context.Background(), "/dev/ttyFAKE"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	io.WriteString(port.w, "LY,2023_05_01_10_00_00,T_21.5,R_40.0,P_1010.3,CO2_410\n")
	evs.next(t)

	r.Stop()
	r.Wait()

	if r.State() != Stopped {
		t.Fatalf("state = %s; want stopped", r.State())
	}
	if !port.isClosed() {
		t.Fatalf("port not released after stop")
	}
	evs.none(t, 50*time.Millisecond)
	if store.count() != 1 {
		t.Fatalf("store received %d lines after stop; want 1", store.count())
	}
}

func TestReaderContextCancelStops(t *testing.T) {
	port := newFakePort()
	r := newTestReader(&fakeOpener{port: port}, &fakeStore{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	if err := r.Start(ctx, "/dev/ttyFAKE"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		r.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("reader did not stop after context cancellation")
	}
	if r.State() != Stopped {
		t.Fatalf("state = %s; want stopped", r.State())
	}
}

func TestReaderStoreErrorDropsLineOnly(t *testing.T) {
	port := newFakePort()
	store := &fakeStore{errs: []error{errors.New("disk full")}}
	evs := make(eventChan, 10)
	r := newTestReader(&fakeOpener{port: port}, store, evs)

	if err := r.Start(context.Background(), "/dev/ttyFAKE"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		r.Stop()
		r.Wait()
	}()

	go func() {
		io.WriteString(port.w, "LY,2023_05_01_10_00_00,T_21.5,R_40.0,P_1010.3,CO2_410\n")
		io.WriteString(port.w, "LY,2023_05_01_10_00_05,T_21.6,R_40.1,P_1010.2,CO2_411\n")
	}()

	e := evs.next(t)
	if e.Fields != "2023_05_01_10_00_05,T_21.6,R_40.1,P_1010.2,CO2_411" {
		t.Fatalf("event fields = %q; want the second line", e.Fields)
	}
	if r.State() != Streaming {
		t.Fatalf("state = %s; want streaming", r.State())
	}
}

func TestReaderSkipsDuplicatesWithRealStore(t *testing.T) {
	store, err := ambientdb.Open(context.Background(), filepath.Join(t.TempDir(), "ambient.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	port := newFakePort()
	evs := make(eventChan, 10)
	r := newTestReader(&fakeOpener{port: port}, store, evs)
	if err := r.Start(context.Background(), "/dev/ttyFAKE"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		r.Stop()
		r.Wait()
	}()

	line := "LY,2023_05_01_10_00_00,T_21.5,R_40.0,P_1010.3,CO2_410\n"
	go func() {
		io.WriteString(port.w, line)
		io.WriteString(port.w, line)
	}()

	if e := evs.next(t); e.Inserted != 4 || e.Duplicates != 0 {
		t.Fatalf("first event = %+v; want 4 inserted", e)
	}
	if e := evs.next(t); e.Inserted != 0 || e.Duplicates != 4 {
		t.Fatalf("second event = %+v; want 4 duplicates", e)
	}

	ts := time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC).Unix()
	got, err := store.Readings(context.Background(), types.CO2, ts, ts)
	if err != nil {
		t.Fatalf("Readings: %v", err)
	}
	if len(got) != 1 || got[0].Value != 410 {
		t.Fatalf("stored CO2 = %+v; want one reading of 410", got)
	}
}

func TestGlobPorts(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"ttyUSB1", "ttyUSB0", "ttyACM0"} {
		f := filepath.Join(dir, name)
		if err := writeEmpty(f); err != nil {
			t.Fatalf("create %s: %v", f, err)
		}
	}

	got := globPorts([]string{filepath.Join(dir, "ttyUSB*"), filepath.Join(dir, "tty*")})
	want := []string{filepath.Join(dir, "ttyACM0"), filepath.Join(dir, "ttyUSB0"), filepath.Join(dir, "ttyUSB1")}
	if len(got) != len(want) {
		t.Fatalf("globPorts = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("globPorts = %v; want %v", got, want)
		}
	}
}

func writeEmpty(path string) error {
	return os.WriteFile(path, nil, 0o644)
}
