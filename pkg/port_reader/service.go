package port_reader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dotpulse/ambient_client/pkg/decoder"
	"github.com/dotpulse/ambient_client/pkg/events"
	"github.com/sirupsen/logrus"
)

// Initialize a new acquisition loop. A nil observer discards events.
func NewReader(
	opener Opener,
	dec *decoder.Decoder,
	store LineStore,
	observer events.Observer,
	logger logrus.FieldLogger,
) *Reader {
	if observer == nil {
		observer = events.Discard
	}
	return &Reader{
		opener:   opener,
		decoder:  dec,
		store:    store,
		observer: observer,
		log:      logger.WithField("component", "port_reader"),
		state:    Idle,
	}
}

// Start connects to the port and streams lines in a goroutine.
// Cancelling ctx has the same effect as Stop.
func (p *Reader) Start(ctx context.Context, port string) error {
	p.mu.Lock()
	if p.state != Idle {
		state := p.state
		p.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrAlreadyStarted, state)
	}
	p.state = Connecting
	p.portName = port
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			p.Stop()
		case <-done:
		}
	}()

	go p.run(ctx, port, done)
	return nil
}

// Stop releases the port. Lines that are already buffered are not processed.
// A read that is blocked in the driver may still complete before the loop exits.
func (p *Reader) Stop() {
	p.stopSignal.Store(true)

	p.mu.Lock()
	if !p.state.Terminal() {
		p.state = Stopped
	}
	p.mu.Unlock()

	p.disconnect()
}

// Wait blocks until the loop goroutine has exited.
func (p *Reader) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (p *Reader) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err returns the cause of a fault, nil otherwise.
func (p *Reader) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastError
}

// Latest returns the last line_processed event, nil before the first line.
func (p *Reader) Latest() *events.Event {
	p.latestMutex.RLock()
	defer p.latestMutex.RUnlock()
	return p.latestLine
}

func (p *Reader) run(ctx context.Context, port string, done chan struct{}) {
	defer close(done)

	if err := p.connect(port); err != nil {
		p.fault(err)
		return
	}
	if p.stopSignal.Load() {
		return
	}

	reader := bufio.NewReaderSize(p.serialPort, maxLineLength)
	overflow := false
	for {
		raw, err := reader.ReadSlice('\n')

		// Check for Stop command
		if p.stopSignal.Load() {
			p.log.Info("Stop signal received, disconnecting")
			return
		}

		if errors.Is(err, bufio.ErrBufferFull) {
			if !overflow {
				p.log.WithField("limit", maxLineLength).Debug("Line too long, skipping as partial data")
			}
			overflow = true
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = fmt.Errorf("device closed the connection: %w", err)
			}
			p.fault(err)
			return
		}
		if overflow {
			// Tail of the line that did not fit
			overflow = false
			continue
		}

		p.handleLine(ctx, raw)
	}
}

// Open the connection to the serial port and flush stale buffers.
func (p *Reader) connect(port string) error {
	serialPort, err := p.opener.Open(port)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", port, err)
	}

	if err := flush(serialPort); err != nil {
		serialPort.Close()
		return fmt.Errorf("failed to flush serial port %s: %w", port, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Connecting {
		// Stopped while the port was opening
		serialPort.Close()
		return nil
	}
	p.serialPort = serialPort
	p.state = Streaming
	p.log.WithField("port", port).Info("Connected to serial port")
	return nil
}

func (p *Reader) disconnect() {
	p.mu.Lock()
	serialPort := p.serialPort
	p.mu.Unlock()

	if serialPort == nil {
		return
	}
	p.closeOnce.Do(func() {
		if err := serialPort.Close(); err != nil {
			p.log.WithError(err).Warn("Error closing serial port")
			return
		}
		p.log.Info("Disconnected from serial port")
	})
}

// fault moves the loop to Faulted and tells observers the transport is gone.
// A fault racing with Stop loses: stopping is not reported as broken.
func (p *Reader) fault(cause error) {
	p.mu.Lock()
	if p.state.Terminal() {
		p.mu.Unlock()
		return
	}
	p.state = Faulted
	p.lastError = fmt.Errorf("%w: %v", ErrTransportBroken, cause)
	p.mu.Unlock()

	p.disconnect()
	p.log.WithError(cause).Error("Serial transport broken")
	p.observer.Notify(events.Event{
		Kind:  events.TransportBroken,
		Time:  time.Now(),
		Cause: cause.Error(),
	})
}

// handleLine decodes and stores one raw line. Nothing here ends the loop.
func (p *Reader) handleLine(ctx context.Context, raw []byte) {
	line, err := p.decoder.Decode(raw)
	if err != nil {
		p.log.WithError(err).WithField("line", fmt.Sprintf("%q", raw)).Warn("Rejected line")
		return
	}
	if line.Partial {
		p.log.WithField("line", fmt.Sprintf("%q", raw)).Debug("Partial data, skipping")
		return
	}
	for _, fe := range line.FieldErrors {
		p.log.WithError(fe).WithField("timestamp", line.Timestamp).Warn("Rejected value field")
	}
	if len(line.Readings) == 0 {
		return
	}

	res, err := p.store.InsertLine(ctx, line.Readings)
	if err != nil {
		p.log.WithError(err).WithField("fields", line.Fields).Error("Failed to store line, dropping it")
		return
	}
	if res.Duplicates > 0 {
		p.log.WithFields(logrus.Fields{
			"timestamp":  line.Timestamp,
			"duplicates": res.Duplicates,
		}).Debug("Skipped already stored readings")
	}

	event := events.Event{
		Kind:       events.LineProcessed,
		Time:       time.Now(),
		Fields:     line.Fields,
		Readings:   line.Readings,
		Inserted:   res.Inserted,
		Duplicates: res.Duplicates,
	}

	p.latestMutex.Lock()
	p.latestLine = &event
	p.latestMutex.Unlock()

	p.observer.Notify(event)
}
