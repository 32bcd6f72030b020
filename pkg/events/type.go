package events

import (
	"encoding/json"
	"time"

	"github.com/dotpulse/ambient_client/pkg/types"
)

type Kind string

const (
	LineProcessed     Kind = "line_processed"
	TransportBroken   Kind = "transport_broken"
	ReadingSent       Kind = "reading_sent"
	SendFailed        Kind = "send_failed"
	RemoteUnreachable Kind = "remote_unreachable"
	RemoteRecovered   Kind = "remote_recovered"
)

// Event is what the acquisition and upload loops tell their observers.
type Event struct {
	Kind Kind      `json:"kind"`
	Time time.Time `json:"time"`

	// line_processed
	Fields     string          `json:"fields,omitempty"`
	Readings   []types.Reading `json:"readings,omitempty"`
	Inserted   int             `json:"inserted,omitempty"`
	Duplicates int             `json:"duplicates,omitempty"`

	// upload events
	SensorType types.SensorType `json:"type,omitempty"`
	Timestamp  int64            `json:"timestamp,omitempty"`
	Value      float64          `json:"value,omitempty"`
	Failures   int              `json:"failures,omitempty"`

	// Human readable cause for transport_broken, send_failed and remote_unreachable
	Cause string `json:"cause,omitempty"`
}

func (e Event) ToJsonBytes() []byte {
	b, _ := json.Marshal(e)
	return b
}

// EventFromJsonBytes returns nil when the payload is not an event.
func EventFromJsonBytes(b []byte) *Event {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil || e.Kind == "" {
		return nil
	}
	return &e
}

// Observer receives events. Notify is called from the loop goroutines
// and must not block.
type Observer interface {
	Notify(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) Notify(e Event) { f(e) }

// Discard drops every event.
var Discard Observer = ObserverFunc(func(Event) {})
