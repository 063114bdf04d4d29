// Package mqttbridge connects the playback engine to an MQTT broker.
//
// Session lifecycle events are published as JSON to
// <prefix>/events/started and <prefix>/events/finished. Show requests
// arriving on <prefix>/show are handed to the playback control loop.
// Publishing never blocks the caller: events are queued and sent by a
// background goroutine through a circuit breaker.
package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/framecast/internal/observe"
	"github.com/MrWong99/framecast/internal/playback"
	"github.com/MrWong99/framecast/internal/resilience"
	"github.com/MrWong99/framecast/pkg/anim"
)

// Topic suffixes below the configured prefix.
const (
	TopicStarted  = "events/started"
	TopicFinished = "events/finished"
	TopicShow     = "show"
)

var (
	// ErrQueueFull is returned by [Bridge.Publish] when the outbound queue is full.
	ErrQueueFull = errors.New("mqttbridge: publish queue full")

	// ErrClosed is returned by [Bridge.Publish] after Close.
	ErrClosed = errors.New("mqttbridge: closed")
)

// Client is the subset of [mqtt.Client] the bridge uses.
type Client interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// Submitter hands work to the playback control goroutine without blocking.
// [*playback.Runner] implements it.
type Submitter interface {
	Go(fn func(*playback.Scheduler)) error
}

// Config describes the broker connection.
type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte

	// Buffer is the outbound queue size. Default: 256.
	Buffer int

	// PublishTimeout bounds one publish. Default: 5s.
	PublishTimeout time.Duration
}

func (c *Config) defaults() {
	if c.ClientID == "" {
		c.ClientID = "framecast"
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "framecast"
	}
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
}

// ClientOptions returns paho options for cfg. onConnect runs after every
// (re)connect.
func ClientOptions(cfg Config, onConnect mqtt.OnConnectHandler) *mqtt.ClientOptions {
	cfg.defaults()
	return mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(5 * time.Second).
		SetAutoReconnect(true).
		SetOnConnectHandler(onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			slog.Warn("mqttbridge: connection lost", "broker", cfg.Broker, "err", err)
		})
}

type message struct {
	topic   string
	payload []byte
}

// Bridge publishes lifecycle events and accepts remote show requests.
type Bridge struct {
	cfg     Config
	client  Client
	runner  Submitter
	breaker *resilience.Breaker
	metrics *observe.Metrics

	queue chan message
	done  chan struct{}

	mu      sync.RWMutex
	started bool
	closed  bool
}

// Option configures a [Bridge].
type Option func(*Bridge)

// WithBreaker guards publishes with b.
func WithBreaker(b *resilience.Breaker) Option {
	return func(br *Bridge) { br.breaker = b }
}

// WithMetrics records publishes in m.
func WithMetrics(m *observe.Metrics) Option {
	return func(br *Bridge) { br.metrics = m }
}

// WithClient replaces the paho client built from the config.
func WithClient(c Client) Option {
	return func(br *Bridge) { br.client = c }
}

// New builds a bridge. Call [Bridge.Start] to connect.
func New(cfg Config, runner Submitter, opts ...Option) *Bridge {
	cfg.defaults()
	b := &Bridge{
		cfg:    cfg,
		runner: runner,
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	if b.breaker == nil {
		b.breaker = resilience.New(resilience.Config{Name: "mqtt"})
	}
	if b.client == nil {
		b.client = mqtt.NewClient(ClientOptions(cfg, func(mqtt.Client) { b.subscribe() }))
	}
	b.queue = make(chan message, cfg.Buffer)
	return b
}

// Topic joins the configured prefix and suffix.
func (b *Bridge) Topic(suffix string) string { return b.cfg.TopicPrefix + "/" + suffix }

// Start connects to the broker and starts the publisher goroutine. The paho
// client keeps reconnecting in the background after the first connect.
func (b *Bridge) Start(ctx context.Context) error {
	tok := b.client.Connect()
	select {
	case <-tok.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqttbridge: connect %s: %w", b.cfg.Broker, err)
	}
	slog.Info("mqttbridge: connected", "broker", b.cfg.Broker, "prefix", b.cfg.TopicPrefix)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if !b.started {
		b.started = true
		go b.loop()
	}
	return nil
}

func (b *Bridge) subscribe() {
	topic := b.Topic(TopicShow)
	tok := b.client.Subscribe(topic, b.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		b.HandleShow(msg.Payload())
	})
	if !tok.WaitTimeout(b.cfg.PublishTimeout) {
		slog.Warn("mqttbridge: subscribe timed out", "topic", topic)
		return
	}
	if err := tok.Error(); err != nil {
		slog.Error("mqttbridge: subscribe failed", "topic", topic, "err", err)
		return
	}
	slog.Debug("mqttbridge: subscribed", "topic", topic)
}

// ── inbound ─────────────────────────────────────────────────────────────────

// ShowMessage is the payload of <prefix>/show.
type ShowMessage struct {
	Animation  string           `json:"animation"`
	Definition *anim.Definition `json:"definition,omitempty"`
	Target     anim.Target      `json:"target"`
	Channel    anim.Channel     `json:"channel,omitempty"`
	Condition  *anim.Condition  `json:"condition,omitempty"`
}

// HandleShow decodes a show payload and submits it to the control loop.
// Malformed payloads are logged and dropped.
func (b *Bridge) HandleShow(payload []byte) {
	msg := ShowMessage{Target: anim.ToServer()}
	if err := json.Unmarshal(payload, &msg); err != nil {
		slog.Warn("mqttbridge: malformed show request", "err", err)
		return
	}
	req := playback.Request{
		Name:       msg.Animation,
		Definition: msg.Definition,
		Target:     msg.Target,
		Channel:    msg.Channel,
		Condition:  msg.Condition,
	}
	ctx, span := observe.StartSpan(context.Background(), "mqtt "+b.Topic(TopicShow),
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(observe.AttrAnimation.String(req.Name)),
	)
	// The span covers the show itself, so it ends on the control goroutine.
	err := b.runner.Go(func(s *playback.Scheduler) {
		defer span.End()
		res, err := s.ShowContext(ctx, req)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			slog.Warn("mqttbridge: show rejected", "animation", req.Name, "err", err)
			return
		}
		slog.Debug("mqttbridge: show", "animation", req.Name, "shown", res.Shown, "recipients", len(res.Recipients))
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.End()
		slog.Warn("mqttbridge: show dropped", "animation", req.Name, "err", err)
	}
}

// ── outbound ────────────────────────────────────────────────────────────────

type startedPayload struct {
	Session    string           `json:"session"`
	Animation  string           `json:"animation"`
	Kind       anim.Kind        `json:"kind"`
	Channel    anim.Channel     `json:"channel"`
	Recipients []anim.Recipient `json:"recipients"`
	StartedAt  time.Time        `json:"started_at"`
}

type finishedPayload struct {
	Session    string           `json:"session"`
	Animation  string           `json:"animation"`
	Kind       anim.Kind        `json:"kind"`
	Channel    anim.Channel     `json:"channel"`
	Outcome    string           `json:"outcome"`
	Witnesses  []anim.Recipient `json:"witnesses"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// OnStarted is a [playback.StartedListener].
func (b *Bridge) OnStarted(ev playback.StartedEvent) {
	b.publishJSON(TopicStarted, startedPayload{
		Session:    ev.Handle.String(),
		Animation:  ev.Animation,
		Kind:       ev.Kind,
		Channel:    ev.Channel,
		Recipients: nonNil(ev.Recipients),
		StartedAt:  ev.StartedAt,
	})
}

// OnFinish is a [playback.FinishListener].
func (b *Bridge) OnFinish(ev playback.FinishEvent) {
	b.publishJSON(TopicFinished, finishedPayload{
		Session:    ev.Handle.String(),
		Animation:  ev.Animation,
		Kind:       ev.Kind,
		Channel:    ev.Channel,
		Outcome:    string(ev.Outcome),
		Witnesses:  nonNil(ev.Recipients),
		StartedAt:  ev.StartedAt,
		FinishedAt: ev.FinishedAt,
	})
}

func (b *Bridge) publishJSON(suffix string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("mqttbridge: marshal event", "topic", suffix, "err", err)
		return
	}
	if err := b.Publish(b.Topic(suffix), payload); err != nil {
		slog.Warn("mqttbridge: event dropped", "topic", suffix, "err", err)
	}
}

// Publish queues payload for topic. It never blocks.
func (b *Bridge) Publish(topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	select {
	case b.queue <- message{topic: topic, payload: payload}:
		return nil
	default:
		b.record(topic, "dropped")
		return ErrQueueFull
	}
}

func (b *Bridge) loop() {
	defer close(b.done)
	for m := range b.queue {
		err := b.breaker.Execute(func() error {
			tok := b.client.Publish(m.topic, b.cfg.QoS, false, m.payload)
			if !tok.WaitTimeout(b.cfg.PublishTimeout) {
				return fmt.Errorf("mqttbridge: publish %s timed out", m.topic)
			}
			return tok.Error()
		})
		switch {
		case err == nil:
			b.record(m.topic, "ok")
		case errors.Is(err, resilience.ErrCircuitOpen):
			b.record(m.topic, "rejected")
		default:
			b.record(m.topic, "error")
			slog.Warn("mqttbridge: publish failed", "topic", m.topic, "err", err)
		}
	}
}

func (b *Bridge) record(topic, status string) {
	if b.metrics != nil {
		b.metrics.RecordMQTTPublish(context.Background(), topic, status)
	}
}

// Check reports broker connectivity and breaker state for readiness.
func (b *Bridge) Check(ctx context.Context) error {
	if !b.client.IsConnected() {
		return errors.New("mqttbridge: not connected")
	}
	return b.breaker.Check(ctx)
}

// Close drains the queue, waiting at most until ctx ends, and disconnects.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.queue)
	started := b.started
	b.mu.Unlock()

	var err error
	if started {
		select {
		case <-b.done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	b.client.Disconnect(250)
	return err
}

func nonNil(rs []anim.Recipient) []anim.Recipient {
	if rs == nil {
		return []anim.Recipient{}
	}
	return rs
}
