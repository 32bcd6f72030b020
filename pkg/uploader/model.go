package uploader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dotpulse/ambient_client/pkg/events"
	"github.com/dotpulse/ambient_client/pkg/types"
	"github.com/sirupsen/logrus"
)

var ErrRemoteSend = errors.New("remote send failed")

// SendError is a recoverable failure to deliver one reading.
// StatusCode is 0 when the request never got a response.
type SendError struct {
	StatusCode int
	Err        error
}

func (e *SendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%v: status %d: %v", ErrRemoteSend, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%v: %v", ErrRemoteSend, e.Err)
}

func (e *SendError) Unwrap() []error {
	return []error{ErrRemoteSend, e.Err}
}

// Sink delivers one reading to the remote backend.
type Sink interface {
	Send(ctx context.Context, reading types.Reading) error
}

// Store is the part of the ingestion store the uploader needs.
type Store interface {
	Watermark(ctx context.Context, sensorType types.SensorType) (int64, error)
	NextUnsent(ctx context.Context, sensorType types.SensorType, after int64) (types.Reading, error)
	SetWatermark(ctx context.Context, sensorType types.SensorType, ts int64) error
}

// Prober checks whether the remote host answers at all.
// It only enriches the unreachable alert.
type Prober interface {
	Probe(ctx context.Context) error
}

type Config struct {
	// Types are visited in this order on every pass.
	Types []types.SensorType
	// IdleInterval is slept after a pass that delivered nothing.
	IdleInterval time.Duration
	// RequestTimeout bounds a single send.
	RequestTimeout time.Duration
	// AlertAfter consecutive failures of one type raise remote_unreachable.
	// Zero disables the alert.
	AlertAfter int
}

func DefaultConfig() Config {
	return Config{
		Types:          types.AllSensorTypes,
		IdleInterval:   5 * time.Second,
		RequestTimeout: 10 * time.Second,
		AlertAfter:     10,
	}
}

// Uploader is the reconciliation loop. It forwards stored readings one at a
// time per type, oldest first, and only moves a type's watermark after the
// remote acknowledged the reading.
type Uploader struct {
	store    Store
	sink     Sink
	cfg      Config
	observer events.Observer
	prober   Prober
	log      logrus.FieldLogger

	stopSignal atomic.Bool
	stopCh     chan struct{}
	stopOnce   sync.Once

	failures map[types.SensorType]int
}
