// Ambient client reads the sensor device on the serial port, stores every
// reading and forwards them to the ambient-data backend.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/dotpulse/ambient_client/pkg/aggregator"
	"github.com/dotpulse/ambient_client/pkg/ambientdb"
	"github.com/dotpulse/ambient_client/pkg/api"
	"github.com/dotpulse/ambient_client/pkg/config"
	"github.com/dotpulse/ambient_client/pkg/decoder"
	"github.com/dotpulse/ambient_client/pkg/events"
	"github.com/dotpulse/ambient_client/pkg/logging"
	"github.com/dotpulse/ambient_client/pkg/mqttout"
	"github.com/dotpulse/ambient_client/pkg/pathing"
	"github.com/dotpulse/ambient_client/pkg/port_reader"
	"github.com/dotpulse/ambient_client/pkg/reachability"
	"github.com/dotpulse/ambient_client/pkg/uploader"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const aggregateInterval = 10 * time.Minute

func main() {
	if err := pathing.EnsureDirs(); err != nil {
		logrus.Fatalf("Failed to create directories: %v", err)
	}

	// Load config
	cfg, err := config.Load("")
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger, logFile, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		logrus.Fatalf("Failed to set up logging: %v", err)
	}
	defer logFile.Close()

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Ambient client stopped")
		logFile.Close()
		os.Exit(1)
	}
	logger.Info("Ambient client stopped")
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := ambientdb.Open(ctx, cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer store.Close()
	logger.WithField("path", store.Path()).Info("Database ready")

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	sensorTypes, err := cfg.SensorTypes()
	if err != nil {
		return err
	}

	hub := api.NewHub(logger)
	fanout := events.NewFanout(hub)

	if cfg.Mqtt.Enabled {
		client, err := mqttout.Connect(cfg.Mqtt)
		if err != nil {
			// Readings are still stored and uploaded without the mirror
			logger.WithError(err).Error("MQTT disabled")
		} else {
			publisher := mqttout.NewPublisher(client, cfg.Mqtt.Topic, logger)
			defer publisher.Close()
			fanout.Subscribe(publisher)
		}
	}

	reader := port_reader.NewReader(
		port_reader.SerialOpener{Baudrate: cfg.Baudrate},
		decoder.New(loc),
		store,
		fanout,
		logger,
	)
	agg := aggregator.New(store, logger)
	server := api.NewServer(store, agg, reader.Latest, hub, sensorTypes, logger)

	g, gctx := errgroup.WithContext(ctx)

	if err := reader.Start(gctx, cfg.SerialDevice); err != nil {
		return err
	}
	g.Go(func() error {
		reader.Wait()
		return reader.Err()
	})

	if cfg.Upload.Enabled {
		sink, err := uploader.NewHTTPSink(
			cfg.Upload.Endpoint,
			cfg.DeviceID(),
			cfg.Upload.ValueFormat,
			&http.Client{},
		)
		if err != nil {
			reader.Stop()
			return err
		}
		up := uploader.New(store, sink, uploader.Config{
			Types:          sensorTypes,
			IdleInterval:   cfg.Upload.IdleInterval.Duration,
			RequestTimeout: cfg.Upload.RequestTimeout.Duration,
			AlertAfter:     cfg.Upload.AlertAfter,
		}, fanout, reachability.Pinger{Host: sink.Host()}, logger)

		g.Go(func() error {
			return up.Run(gctx)
		})
	} else {
		logger.Warn("Upload disabled, readings are only stored locally")
	}

	g.Go(func() error {
		return agg.Run(gctx, aggregateInterval)
	})

	g.Go(func() error {
		err := server.ListenAndServe(gctx, cfg.ListenAddr())
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Stop the reader on shutdown or when another part fails
	g.Go(func() error {
		<-gctx.Done()
		reader.Stop()
		return nil
	})

	return g.Wait()
}
