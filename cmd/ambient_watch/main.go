// Prints the live events of a running ambient_client, one JSON object per line.
// Depends on the ambient_client API being online.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dotpulse/ambient_client/pkg/events"
	"github.com/dotpulse/ambient_client/pkg/watcher"
	"github.com/sirupsen/logrus"
)

func main() {
	// Set the host:port from env var AMBIENT_CLIENT_HOST
	defaultHost := os.Getenv("AMBIENT_CLIENT_HOST")
	if defaultHost == "" {
		defaultHost = "localhost:9040"
	}

	host := flag.String("host", defaultHost, "host:port of the ambient_client API")
	useTLS := flag.Bool("tls", false, "connect with wss://")
	kind := flag.String("kind", "", "only print events of this kind")
	flag.Parse()

	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Subscribe to websocket with revive
	err := watcher.StartListener(ctx, watcher.Options{
		Host:   *host,
		TLS:    *useTLS,
		Logger: logger,
	}, func(event *events.Event) {
		if *kind != "" && string(event.Kind) != *kind {
			return
		}
		fmt.Println(string(event.ToJsonBytes()))
	})
	if err != nil {
		logger.Fatal(err)
	}
}
