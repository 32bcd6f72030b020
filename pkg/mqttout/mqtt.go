// Package mqttout mirrors processed readings to an MQTT broker.
package mqttout

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dotpulse/ambient_client/pkg/config"
	"github.com/dotpulse/ambient_client/pkg/events"
	"github.com/dotpulse/ambient_client/pkg/types"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

const (
	queueSize      = 256
	publishTimeout = 5 * time.Second
)

// Client is the part of a broker connection the publisher uses.
type Client interface {
	Publish(topic string, payload []byte) error
	Close()
}

type pahoClient struct {
	client mqtt.Client
}

func (c *pahoClient) Publish(topic string, payload []byte) error {
	token := c.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish to %s timed out", topic)
	}
	return token.Error()
}

func (c *pahoClient) Close() {
	c.client.Disconnect(250)
}

// Connect opens a broker connection that reconnects on its own.
func Connect(cfg config.MqttConfig) (Client, error) {
	opts := mqtt.NewClientOptions().AddBroker(cfg.Server).SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return &pahoClient{client: client}, nil
}

type readingPayload struct {
	Type      types.SensorType `json:"type"`
	Timestamp int64            `json:"timestamp"`
	Value     float64          `json:"value"`
}

// Publisher is an events.Observer. Events are queued and published from
// one goroutine; when the queue is full new events are dropped.
type Publisher struct {
	client Client
	topic  string
	log    logrus.FieldLogger

	mu     sync.RWMutex
	closed bool
	queue  chan events.Event
	done   chan struct{}
}

func NewPublisher(client Client, topic string, logger logrus.FieldLogger) *Publisher {
	p := &Publisher{
		client: client,
		topic:  strings.TrimSuffix(topic, "/"),
		log:    logger.WithField("component", "mqtt"),
		queue:  make(chan events.Event, queueSize),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Publisher) Notify(e events.Event) {
	if e.Kind != events.LineProcessed {
		return
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- e:
	default:
		p.log.Warn("MQTT queue full, dropping line")
	}
}

// Close publishes what is still queued and disconnects.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	p.client.Close()
}

// Topic returns the topic readings of one type are published to.
func (p *Publisher) Topic(sensorType types.SensorType) string {
	return p.topic + "/" + sensorType.RemoteName()
}

func (p *Publisher) run() {
	defer close(p.done)
	for e := range p.queue {
		for _, r := range e.Readings {
			b, err := json.Marshal(readingPayload{Type: r.SensorType, Timestamp: r.Timestamp, Value: r.Value})
			if err != nil {
				continue
			}
			if err := p.client.Publish(p.Topic(r.SensorType), b); err != nil {
				p.log.WithError(err).WithField("type", r.SensorType).Warn("MQTT publish failed")
			}
		}
	}
}
