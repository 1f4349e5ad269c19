package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig holds broker connection settings.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// publisher is the subset of mqtt.Client the sink needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// PublishObserver is notified of each publish attempt.
type PublishObserver interface {
	EventPublished(ok bool)
}

// MQTTSink publishes session events to <prefix>/<type>. Publishing happens
// on a background goroutine; events are dropped when the queue is full so
// the caller never blocks on the broker.
type MQTTSink struct {
	*Emitter

	client   publisher
	prefix   string
	logger   *slog.Logger
	observer PublishObserver
	timeout  time.Duration

	mu         sync.Mutex
	closed     bool
	queue      chan Event
	done       chan struct{}
	disconnect func()
}

// ConnectMQTT connects to the broker and returns a running sink.
func ConnectMQTT(cfg MQTTConfig, logger *slog.Logger, observer PublishObserver) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("mqtt connection established", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "broker", cfg.Broker, "error", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	sink := NewMQTTSink(client, cfg.TopicPrefix, logger, observer)
	sink.disconnect = func() { client.Disconnect(250) }
	return sink, nil
}

func NewMQTTSink(client publisher, prefix string, logger *slog.Logger, observer PublishObserver) *MQTTSink {
	if logger == nil {
		logger = slog.Default()
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = "rehabstage"
	}

	s := &MQTTSink{
		client:   client,
		prefix:   prefix,
		logger:   logger,
		observer: observer,
		timeout:  2 * time.Second,
		queue:    make(chan Event, 64),
		done:     make(chan struct{}),
	}
	s.Emitter = NewEmitter(s.enqueue)
	go s.run()
	return s
}

// Close flushes queued events and disconnects an owned client.
func (s *MQTTSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	if s.disconnect != nil {
		s.disconnect()
	}
}

func (s *MQTTSink) enqueue(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.observe(false)
		return
	}

	select {
	case s.queue <- event:
	default:
		s.logger.Warn("mqtt queue full, dropping event", "type", event.Type)
		s.observe(false)
	}
}

func (s *MQTTSink) run() {
	defer close(s.done)
	for event := range s.queue {
		if err := s.publish(event); err != nil {
			s.logger.Warn("mqtt publish failed", "type", event.Type, "error", err)
			s.observe(false)
			continue
		}
		s.observe(true)
	}
}

func (s *MQTTSink) publish(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.Type, err)
	}

	token := s.client.Publish(s.Topic(event.Type), 1, false, payload)
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("publish timed out after %s", s.timeout)
	}
	return token.Error()
}

// Topic returns the topic an event type is published to.
func (s *MQTTSink) Topic(eventType string) string {
	return s.prefix + "/" + eventType
}

func (s *MQTTSink) observe(ok bool) {
	if s.observer != nil {
		s.observer.EventPublished(ok)
	}
}
