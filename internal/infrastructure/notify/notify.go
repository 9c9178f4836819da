// Package notify publishes change events so views can refresh what they show.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/doeshing/flowcard/internal/domain"
	"github.com/doeshing/flowcard/internal/pkg/logger"
	"github.com/doeshing/flowcard/internal/ports"
)

const publishTimeout = 5 * time.Second

// MQTT publishes each event as JSON to {prefix}{event type} at QoS 1.
type MQTT struct {
	client  mqtt.Client
	prefix  string
	timeout time.Duration
	log     ports.Logger
}

// DialMQTT connects to the configured broker.
func DialMQTT(settings domain.NotifySettings, log ports.Logger) (*MQTT, error) {
	if settings.MQTTBroker == "" {
		return nil, errors.New("notify: no mqtt broker configured")
	}
	clientID := settings.ClientID
	if clientID == "" {
		clientID = "flowcard-" + uuid.New().String()
	}
	opts := mqtt.NewClientOptions().AddBroker(settings.MQTTBroker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(publishTimeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		return nil, fmt.Errorf("notify: connect %s: timed out", settings.MQTTBroker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("notify: connect %s: %w", settings.MQTTBroker, err)
	}
	return NewMQTT(client, settings.TopicPrefix, log), nil
}

// NewMQTT wraps an already connected client.
func NewMQTT(client mqtt.Client, prefix string, log ports.Logger) *MQTT {
	if prefix == "" {
		prefix = domain.DefaultTopicPrefix
	}
	if log == nil {
		log = logger.Nop()
	}
	return &MQTT{client: client, prefix: prefix, timeout: publishTimeout, log: log}
}

// Topic returns the topic an event type is published to.
func (m *MQTT) Topic(t domain.EventType) string {
	return m.prefix + string(t)
}

// Publish implements ports.Notifier.
func (m *MQTT) Publish(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: encode %s: %w", event.Type, err)
	}
	token := m.client.Publish(m.Topic(event.Type), 1, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.timeout):
		return fmt.Errorf("notify: publish %s: timed out", event.Type)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("notify: publish %s: %w", event.Type, err)
	}
	m.log.Debug("event published", map[string]interface{}{"topic": m.Topic(event.Type)})
	return nil
}

// Close disconnects from the broker.
func (m *MQTT) Close() {
	m.client.Disconnect(250)
}

// Log writes events to the logger at debug level. It is the notifier used
// when no broker is configured.
type Log struct {
	Logger ports.Logger
}

func (l Log) Publish(_ context.Context, event domain.Event) error {
	if l.Logger == nil {
		return nil
	}
	l.Logger.Debug("event", map[string]interface{}{
		"type":        string(event.Type),
		"key":         event.Key,
		"cardId":      event.CardID,
		"historyId":   event.HistoryID,
		"executionId": event.ExecutionID,
		"status":      string(event.Status),
	})
	return nil
}

// Fanout delivers every event to each notifier and joins their errors.
type Fanout []ports.Notifier

func (f Fanout) Publish(ctx context.Context, event domain.Event) error {
	var errs []error
	for _, n := range f {
		if err := n.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ ports.Notifier = (*MQTT)(nil)
	_ ports.Notifier = Log{}
	_ ports.Notifier = Fanout(nil)
)
