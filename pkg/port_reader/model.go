package port_reader

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/dotpulse/ambient_client/pkg/ambientdb"
	"github.com/dotpulse/ambient_client/pkg/decoder"
	"github.com/dotpulse/ambient_client/pkg/events"
	"github.com/dotpulse/ambient_client/pkg/types"
	"github.com/sirupsen/logrus"
)

var (
	ErrAlreadyStarted  = errors.New("reader already started")
	ErrTransportBroken = errors.New("serial transport broken")
)

// Longer lines are skipped. A valid line is well under 100 bytes.
const maxLineLength = 4096

type State int32

const (
	Idle State = iota
	Connecting
	Streaming
	Faulted
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case Faulted:
		return "faulted"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Terminal states cannot be left; a new Reader is needed to reconnect.
func (s State) Terminal() bool {
	return s == Faulted || s == Stopped
}

// Opener opens the serial device. The returned port is owned by the Reader.
type Opener interface {
	Open(port string) (io.ReadWriteCloser, error)
}

// LineStore persists the readings of one line atomically.
type LineStore interface {
	InsertLine(ctx context.Context, readings []types.Reading) (ambientdb.InsertResult, error)
}

// Reader is the acquisition loop: it owns the serial port for its lifetime,
// decodes every line and stores the readings.
type Reader struct {
	opener   Opener
	decoder  *decoder.Decoder
	store    LineStore
	observer events.Observer
	log      logrus.FieldLogger

	mu         sync.Mutex
	state      State
	portName   string
	serialPort io.ReadWriteCloser
	closeOnce  sync.Once
	lastError  error
	done       chan struct{}
	stopSignal atomic.Bool

	latestMutex sync.RWMutex
	latestLine  *events.Event
}
