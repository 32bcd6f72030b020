// Package api serves the live event stream and the stored history over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dotpulse/ambient_client/pkg/aggregator"
	"github.com/dotpulse/ambient_client/pkg/ambientdb"
	"github.com/dotpulse/ambient_client/pkg/events"
	"github.com/dotpulse/ambient_client/pkg/types"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// History is the read side of the ingestion store.
type History interface {
	Readings(ctx context.Context, sensorType types.SensorType, from, to int64) ([]types.Reading, error)
	Status(ctx context.Context, sensorTypes []types.SensorType) ([]ambientdb.TypeStatus, error)
}

type Rollups interface {
	Rollups(ctx context.Context, tf aggregator.Timeframe, sensorType types.SensorType, from, to int64) ([]aggregator.Rollup, error)
}

type Server struct {
	history     History
	rollups     Rollups
	latest      func() *events.Event
	hub         *Hub
	sensorTypes []types.SensorType
	log         logrus.FieldLogger
	now         func() time.Time
}

// NewServer wires the handlers. latest returns the most recent line event
// or nil; sensorTypes are reported by /status.
func NewServer(
	history History,
	rollups Rollups,
	latest func() *events.Event,
	hub *Hub,
	sensorTypes []types.SensorType,
	logger logrus.FieldLogger,
) *Server {
	return &Server{
		history:     history,
		rollups:     rollups,
		latest:      latest,
		hub:         hub,
		sensorTypes: sensorTypes,
		log:         logger.WithField("component", "api"),
		now:         time.Now,
	}
}

func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	router.HandleFunc("/latest", s.handleLatest).Methods(http.MethodGet)
	router.HandleFunc("/ws", s.handleWebSocket)
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	router.HandleFunc("/history/{timeframe:hourly|daily}", s.handleRollups).Methods(http.MethodGet)
	return router
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("address", addr).Info("Starting ambient client API")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Ambient Client API",
		"status":  "running",
	})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	event := s.latest()
	if event == nil {
		writeError(w, http.StatusNotFound, "No readings available yet")
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var greeting []byte
	if event := s.latest(); event != nil {
		greeting = event.ToJsonBytes()
	}
	s.hub.serve(w, r, greeting)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.history.Status(r.Context(), s.sensorTypes)
	if err != nil {
		s.log.WithError(err).Error("Failed to build status")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := struct {
		Types     []ambientdb.TypeStatus `json:"types"`
		Clients   int                    `json:"ws_clients"`
		LastEvent *events.Event          `json:"last_line,omitempty"`
	}{status, s.hub.Clients(), s.latest()}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sensorType, from, to, err := s.parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	readings, err := s.history.Readings(r.Context(), sensorType, from, to)
	if err != nil {
		s.log.WithError(err).Error("Failed to query history")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, readings)
}

func (s *Server) handleRollups(w http.ResponseWriter, r *http.Request) {
	tf, err := aggregator.ParseTimeframe(mux.Vars(r)["timeframe"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	sensorType, from, to, err := s.parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rollups, err := s.rollups.Rollups(r.Context(), tf, sensorType, from, to)
	if err != nil {
		s.log.WithError(err).Error("Failed to query rollups")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rollups)
}

// parseWindow reads type, from and to. from defaults to 24 hours before to,
// to defaults to now. Both accept Unix seconds or RFC 3339.
func (s *Server) parseWindow(r *http.Request) (types.SensorType, int64, int64, error) {
	q := r.URL.Query()

	sensorType, err := types.ParseSensorType(q.Get("type"))
	if err != nil {
		return "", 0, 0, err
	}

	to := s.now().Unix()
	if v := q.Get("to"); v != "" {
		if to, err = parseTime(v); err != nil {
			return "", 0, 0, fmt.Errorf("invalid to: %w", err)
		}
	}
	from := to - 24*3600
	if v := q.Get("from"); v != "" {
		if from, err = parseTime(v); err != nil {
			return "", 0, 0, fmt.Errorf("invalid from: %w", err)
		}
	}
	if from > to {
		return "", 0, 0, errors.New("from is after to")
	}
	return sensorType, from, to, nil
}

func parseTime(v string) (int64, error) {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
