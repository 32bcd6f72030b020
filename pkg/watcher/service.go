// Package watcher follows the event stream of a running ambient_client.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/dotpulse/ambient_client/pkg/events"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var ErrGaveUp = errors.New("max connection retries reached")

const (
	maxRetries     = 10
	baseRetryDelay = 2 * time.Second
	maxRetryDelay  = 60 * time.Second

	pingInterval = 30 * time.Second
	// Events can be minutes apart, so pongs also keep the connection alive
	readWait = 2 * pingInterval
)

type Options struct {
	Host      string
	TLS       bool
	Logger    logrus.FieldLogger
	BaseDelay time.Duration // defaults to 2s, tests shorten it
}

// StartListener connects to the /ws endpoint of host and calls fn for every
// event. It reconnects with exponential backoff and returns nil when ctx is
// done, or ErrGaveUp after maxRetries failed attempts in a row.
func StartListener(ctx context.Context, opts Options, fn func(*events.Event)) error {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = baseRetryDelay
	}

	u := url.URL{Scheme: "ws", Host: opts.Host, Path: "/ws"}
	if opts.TLS {
		u.Scheme = "wss"
	}

	retryCount := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		if retryCount > 0 {
			// Calculate retry delay with exponential backoff
			retryDelay := time.Duration(1<<retryCount) * baseDelay
			if retryDelay > maxRetryDelay {
				retryDelay = maxRetryDelay
			}
			log.Infof("Retrying connection in %v... (attempt %d/%d)", retryDelay, retryCount+1, maxRetries)
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return nil
			}
		}

		log.Infof("Connecting to %s", u.String())

		dialer := *websocket.DefaultDialer
		dialer.HandshakeTimeout = 10 * time.Second
		c, _, err := dialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.WithError(err).Warn("Connection failed")
			retryCount++
			if retryCount >= maxRetries {
				return fmt.Errorf("%w (%d): %v", ErrGaveUp, maxRetries, err)
			}
			continue
		}

		log.Info("Connected! Accepting events.")
		retryCount = 0

		connectionBroken := handleConnection(ctx, c, log, fn)
		c.Close()

		if !connectionBroken {
			return nil
		}
		log.Warn("Connection lost, will retry...")
		retryCount = 1
	}
}

func handleConnection(ctx context.Context, c *websocket.Conn, log logrus.FieldLogger, fn func(*events.Event)) bool {
	done := make(chan struct{})

	c.SetReadDeadline(time.Now().Add(readWait))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(readWait))
	})

	go func() {
		defer close(done)
		for {
			messageType, message, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.WithError(err).Warn("WebSocket error")
				} else {
					log.WithError(err).Info("Connection closed")
				}
				return
			}

			// Reset read deadline on successful message
			c.SetReadDeadline(time.Now().Add(readWait))

			if messageType != websocket.TextMessage {
				log.Debugf("Received unexpected message type: %d", messageType)
				continue
			}
			if event := events.EventFromJsonBytes(message); event != nil {
				fn(event)
			} else {
				log.Warnf("Failed to parse event: %s", string(message))
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return true
		case <-ticker.C:
			if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				log.WithError(err).Warn("Failed to send ping")
			}
		case <-ctx.Done():
			log.Info("Shutting down, closing connection...")
			err := c.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			if err != nil {
				log.WithError(err).Debug("Error sending close message")
			}

			// Wait for close confirmation or timeout
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return false
		}
	}
}
