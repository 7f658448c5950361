// Package mqtt fans accepted readings out to an MQTT broker. Delivery is
// best effort: the tail engine never waits on the network, and readings are
// dropped when the broker is away or the queue is full.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"windmon/internal/wind/snapshot"
	"windmon/internal/wind/types"
)

const (
	DefaultQueueSize = 256
	publishQoS       = 0
	publishTimeout   = 5 * time.Second
)

type Options struct {
	Broker      string
	Port        int
	ClientID    string
	TopicPrefix string
	QueueSize   int
}

// Payload is the JSON body published for each reading.
type Payload struct {
	AnemometerID string  `json:"anemometer_id"`
	Port         string  `json:"port"`
	Channel      int     `json:"channel"`
	Timestamp    string  `json:"timestamp"`
	U            float64 `json:"u"`
	V            float64 `json:"v"`
	W            float64 `json:"w"`
	Speed        float64 `json:"speed"`
	Direction    float64 `json:"direction"`
	Temperature  int     `json:"temperature"`
}

type Stats struct {
	Published int64 `json:"published"`
	Dropped   int64 `json:"dropped"`
	Failed    int64 `json:"failed"`
}

type message struct {
	topic   string
	payload []byte
}

type Publisher struct {
	client mqtt.Client
	opts   Options
	logger *slog.Logger

	mu        sync.RWMutex
	connected bool
	stopped   bool

	queue    chan message
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	published, dropped, failed atomic.Int64
}

// NewPublisher configures an auto-reconnecting paho client and starts the
// publish worker. Call Connect to dial and Disconnect to stop.
func NewPublisher(opts Options, logger *slog.Logger) *Publisher {
	var p *Publisher

	co := mqtt.NewClientOptions()
	co.AddBroker(fmt.Sprintf("tcp://%s:%d", opts.Broker, opts.Port))
	co.SetClientID(opts.ClientID)
	co.SetCleanSession(true)

	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	co.SetConnectRetryInterval(5 * time.Second)
	co.SetMaxReconnectInterval(60 * time.Second)

	co.SetKeepAlive(30 * time.Second)
	co.SetPingTimeout(10 * time.Second)
	co.SetOrderMatters(false)

	co.SetOnConnectHandler(func(_ mqtt.Client) {
		p.setConnected(true)
		p.logger.Info("mqtt connected", "broker", opts.Broker, "port", opts.Port)
	})
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.setConnected(false)
		p.logger.Warn("mqtt connection lost", "error", err)
	})

	// The handlers only run after Connect, by which time p is set.
	p = newPublisher(mqtt.NewClient(co), opts, logger)
	return p
}

func newPublisher(client mqtt.Client, opts Options, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	p := &Publisher{
		client: client,
		opts:   opts,
		logger: logger,
		queue:  make(chan message, opts.QueueSize),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go p.worker()
	return p
}

// Connect waits for the first connection to the broker. It respects ctx and
// Disconnect; paho keeps retrying in the background either way.
func (p *Publisher) Connect(ctx context.Context) error {
	select {
	case <-p.stopCh:
		return fmt.Errorf("publisher stopped")
	default:
	}
	if p.IsConnected() {
		return nil
	}

	token := p.client.Connect()
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return fmt.Errorf("publisher stopped")
		default:
		}
	}
}

// Topic returns the topic readings for key are published on.
func (p *Publisher) Topic(key types.SensorKey) string {
	return p.opts.TopicPrefix + "/" + key.String() + "/reading"
}

// Publish queues r for the broker. It never blocks.
func (p *Publisher) Publish(key types.SensorKey, r types.Reading) {
	if !p.IsConnected() {
		p.dropped.Add(1)
		return
	}
	body, err := json.Marshal(NewPayload(r))
	if err != nil {
		p.failed.Add(1)
		p.logger.Error("marshal reading", "sensor", key.String(), "error", err)
		return
	}

	// stopped is read under mu so nothing can be queued once Disconnect has
	// begun; the worker accounts for whatever was queued before that.
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		p.dropped.Add(1)
		return
	}
	select {
	case p.queue <- message{topic: p.Topic(key), payload: body}:
	default:
		if p.dropped.Add(1)%100 == 1 {
			p.logger.Warn("mqtt queue full, dropping readings", "queue_size", cap(p.queue), "dropped_total", p.dropped.Load())
		}
	}
}

func NewPayload(r types.Reading) Payload {
	return Payload{
		AnemometerID: r.SensorID,
		Port:         r.Port,
		Channel:      r.Channel,
		Timestamp:    r.Timestamp.Format(snapshot.TimestampLayout),
		U:            r.U,
		V:            r.V,
		W:            r.W,
		Speed:        r.Speed,
		Direction:    r.Direction,
		Temperature:  r.TemperatureRaw,
	}
}

func (p *Publisher) worker() {
	defer close(p.done)
	for {
		select {
		case <-p.stopCh:
			if n := len(p.queue); n > 0 {
				p.dropped.Add(int64(n))
				p.logger.Info("mqtt publisher stopped with queued readings", "discarded", n)
			}
			return
		case m := <-p.queue:
			p.send(m)
		}
	}
}

func (p *Publisher) send(m message) {
	token := p.client.Publish(m.topic, publishQoS, false, m.payload)
	if !token.WaitTimeout(publishTimeout) {
		p.failed.Add(1)
		p.logger.Warn("mqtt publish timeout", "topic", m.topic)
		return
	}
	if err := token.Error(); err != nil {
		p.failed.Add(1)
		p.logger.Warn("mqtt publish failed", "topic", m.topic, "error", err)
		return
	}
	p.published.Add(1)
}

func (p *Publisher) Stats() Stats {
	return Stats{
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		Failed:    p.failed.Load(),
	}
}

func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	connected := p.connected
	p.mu.RUnlock()
	return connected && p.client.IsConnected()
}

// Disconnect stops the worker and closes the broker connection. It is
// idempotent; afterwards Connect fails and Publish drops.
func (p *Publisher) Disconnect() {
	first := false
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		p.mu.Unlock()
		close(p.stopCh)
		first = true
	})
	if !first {
		return
	}
	<-p.done

	if p.client != nil {
		p.client.Disconnect(250)
	}
	p.setConnected(false)
	s := p.Stats()
	p.logger.Info("mqtt disconnected", "published", s.Published, "dropped", s.Dropped, "failed", s.Failed)
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}
