package uploader

import (
	"context"
	"errors"
	"time"

	"github.com/dotpulse/ambient_client/pkg/ambientdb"
	"github.com/dotpulse/ambient_client/pkg/events"
	"github.com/dotpulse/ambient_client/pkg/types"
	"github.com/sirupsen/logrus"
)

// New creates the upload loop. observer and prober may be nil.
func New(store Store, sink Sink, cfg Config, observer events.Observer, prober Prober, logger logrus.FieldLogger) *Uploader {
	defaults := DefaultConfig()
	if len(cfg.Types) == 0 {
		cfg.Types = defaults.Types
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = defaults.IdleInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if observer == nil {
		observer = events.Discard
	}
	return &Uploader{
		store:    store,
		sink:     sink,
		cfg:      cfg,
		observer: observer,
		prober:   prober,
		log:      logger.WithField("component", "uploader"),
		stopCh:   make(chan struct{}),
		failures: make(map[types.SensorType]int),
	}
}

// Run loops until Stop is called or ctx is done. A send that is in flight
// when either happens is allowed to finish and its watermark is recorded.
func (u *Uploader) Run(ctx context.Context) error {
	u.log.Info("Upload loop started")
	defer u.log.Info("Upload loop stopped")

	for {
		if u.stopSignal.Load() || ctx.Err() != nil {
			return nil
		}

		if progressed := u.Pass(ctx); progressed {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-u.stopCh:
			return nil
		case <-time.After(u.cfg.IdleInterval):
		}
	}
}

func (u *Uploader) Stop() {
	u.stopSignal.Store(true)
	u.stopOnce.Do(func() { close(u.stopCh) })
}

// Pass visits every type once and reports whether any reading was delivered.
// A pass where every send failed counts as idle so a dead endpoint is
// retried every IdleInterval instead of in a tight loop.
func (u *Uploader) Pass(ctx context.Context) bool {
	progressed := false
	for _, sensorType := range u.cfg.Types {
		if u.stopSignal.Load() || ctx.Err() != nil {
			break
		}
		if u.sendNext(ctx, sensorType) {
			progressed = true
		}
	}
	return progressed
}

// sendNext delivers the oldest unsent reading of one type, if any.
func (u *Uploader) sendNext(ctx context.Context, sensorType types.SensorType) bool {
	log := u.log.WithField("type", sensorType)

	watermark, err := u.store.Watermark(ctx, sensorType)
	if err != nil {
		log.WithError(err).Error("Failed to read watermark")
		return false
	}

	reading, err := u.store.NextUnsent(ctx, sensorType, watermark)
	if errors.Is(err, ambientdb.ErrNoReading) {
		return false
	}
	if err != nil {
		log.WithError(err).Error("Failed to query next unsent reading")
		return false
	}

	// Past this point the send and the watermark write ignore cancellation
	detached := context.WithoutCancel(ctx)
	sendCtx, cancel := context.WithTimeout(detached, u.cfg.RequestTimeout)
	err = u.sink.Send(sendCtx, reading)
	cancel()
	if err != nil {
		u.sendFailed(ctx, reading, err)
		return false
	}

	if err := u.store.SetWatermark(detached, sensorType, reading.Timestamp); err != nil {
		// The reading will be sent again on the next pass
		log.WithError(err).Error("Failed to record watermark after successful send")
		return false
	}

	u.sendSucceeded(reading)
	return true
}

func (u *Uploader) sendFailed(ctx context.Context, reading types.Reading, err error) {
	u.failures[reading.SensorType]++
	failures := u.failures[reading.SensorType]

	u.log.WithError(err).WithFields(logrus.Fields{
		"type":      reading.SensorType,
		"timestamp": reading.Timestamp,
		"failures":  failures,
	}).Error("Failed to send reading, will retry")

	u.observer.Notify(events.Event{
		Kind:       events.SendFailed,
		Time:       time.Now(),
		SensorType: reading.SensorType,
		Timestamp:  reading.Timestamp,
		Value:      reading.Value,
		Failures:   failures,
		Cause:      err.Error(),
	})

	if u.cfg.AlertAfter <= 0 || failures != u.cfg.AlertAfter {
		return
	}

	cause := err.Error()
	if u.prober != nil {
		if probeErr := u.prober.Probe(ctx); probeErr != nil {
			cause += "; host unreachable: " + probeErr.Error()
		} else {
			cause += "; host answers ping"
		}
	}
	u.log.WithFields(logrus.Fields{
		"type":     reading.SensorType,
		"failures": failures,
	}).Warn("Remote endpoint unreachable: " + cause)

	u.observer.Notify(events.Event{
		Kind:       events.RemoteUnreachable,
		Time:       time.Now(),
		SensorType: reading.SensorType,
		Timestamp:  reading.Timestamp,
		Failures:   failures,
		Cause:      cause,
	})
}

func (u *Uploader) sendSucceeded(reading types.Reading) {
	previous := u.failures[reading.SensorType]
	delete(u.failures, reading.SensorType)

	u.log.WithFields(logrus.Fields{
		"type":      reading.SensorType,
		"timestamp": reading.Timestamp,
	}).Debug("Reading sent")

	if u.cfg.AlertAfter > 0 && previous >= u.cfg.AlertAfter {
		u.log.WithField("type", reading.SensorType).Info("Remote endpoint recovered")
		u.observer.Notify(events.Event{
			Kind:       events.RemoteRecovered,
			Time:       time.Now(),
			SensorType: reading.SensorType,
			Failures:   previous,
		})
	}

	u.observer.Notify(events.Event{
		Kind:       events.ReadingSent,
		Time:       time.Now(),
		SensorType: reading.SensorType,
		Timestamp:  reading.Timestamp,
		Value:      reading.Value,
	})
}
