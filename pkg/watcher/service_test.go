package watcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dotpulse/ambient_client/pkg/events"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
)

// eventServer sends one event per connection, tagged with the connection number.
// The first connection is dropped right after its event.
func eventServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	var connections atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		n := connections.Add(1)
		conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		e := events.Event{Kind: events.LineProcessed, Inserted: int(n)}
		conn.WriteMessage(websocket.TextMessage, e.ToJsonBytes())
		if n == 1 {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &connections
}

func TestListenerReconnectsAndStops(t *testing.T) {
	srv, connections := eventServer(t)
	logger, _ := test.NewNullLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *events.Event, 4)
	done := make(chan error)
	go func() {
		done <- StartListener(ctx, Options{
			Host:      strings.TrimPrefix(srv.URL, "http://"),
			Logger:    logger,
			BaseDelay: time.Millisecond,
		}, func(e *events.Event) { received <- e })
	}()

	for want := 1; want <= 2; want++ {
		select {
		case e := <-received:
			if e.Inserted != want {
				t.Fatalf("event from connection %d; want %d", e.Inserted, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no event from connection %d", want)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("StartListener returned %v after cancel", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("StartListener did not return after cancel")
	}
	if connections.Load() != 2 {
		t.Fatalf("connections = %d; want 2", connections.Load())
	}
}

func TestListenerGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	host := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	logger, _ := test.NewNullLogger()
	err := StartListener(context.Background(), Options{
		Host:      host,
		Logger:    logger,
		BaseDelay: time.Millisecond,
	}, func(*events.Event) {})
	if !errors.Is(err, ErrGaveUp) {
		t.Fatalf("StartListener error = %v; want ErrGaveUp", err)
	}
}
