package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gregjohnson/lektrico-bridge/internal/log"
	"github.com/gregjohnson/lektrico-bridge/internal/property"
)

// Broker is the part of Client the bridge needs
type Broker interface {
	Publish(topic string, payload []byte, retained bool) error
	Subscribe(topic string, handler MessageHandler) error
}

// Store is the property store as seen by the bridge
type Store interface {
	Entries() []property.Entry
	Entry(name string) (property.Entry, bool)
	Subscribe(o property.Observer) func()
	Write(ctx context.Context, name string, value float64) (bool, error)
}

// StateMessage is the retained payload on <prefix>/N/<property>
type StateMessage struct {
	Value    interface{} `json:"value"`
	Text     string      `json:"text"`
	Writable bool        `json:"writable"`
}

// writeMessage is accepted on <prefix>/W/<property>; a bare number works too
type writeMessage struct {
	Value *float64 `json:"value"`
}

// StatusTopic is where the bridge announces online/offline
func StatusTopic(prefix string) string {
	return prefix + "/status"
}

// StateTopic is the retained state topic of a property
func StateTopic(prefix, name string) string {
	return prefix + "/N/" + name
}

// WriteTopic is the topic external writers publish to
func WriteTopic(prefix, name string) string {
	return prefix + "/W/" + name
}

// Bridge mirrors the property store onto MQTT and forwards writes back
type Bridge struct {
	broker Broker
	store  Store
	prefix string
	logger *log.Logger
	ctx    context.Context

	unsubscribe func()
}

// NewBridge creates a Bridge
func NewBridge(broker Broker, store Store, prefix string, logger *log.Logger) *Bridge {
	if logger == nil {
		logger = log.Component("mqtt")
	}
	return &Bridge{
		broker: broker,
		store:  store,
		prefix: strings.TrimSuffix(prefix, "/"),
		logger: logger,
		ctx:    context.Background(),
	}
}

// Start publishes every property, then follows changes and consumes writes.
// ctx is handed to the write handler for each incoming write.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx = ctx
	for _, e := range b.store.Entries() {
		b.publishEntry(e)
	}
	b.unsubscribe = b.store.Subscribe(func(c property.Change) {
		if e, ok := b.store.Entry(c.Name); ok {
			b.publishEntry(e)
		}
	})
	return b.broker.Subscribe(WriteTopic(b.prefix, "#"), b.HandleWrite)
}

// Stop detaches from the store
func (b *Bridge) Stop() {
	if b.unsubscribe != nil {
		b.unsubscribe()
		b.unsubscribe = nil
	}
}

// HandleWrite applies one message from the write namespace. The current
// state is republished afterwards so a rejected write is visibly undone.
func (b *Bridge) HandleWrite(topic string, payload []byte) error {
	name, err := b.propertyFromTopic(topic)
	if err != nil {
		return err
	}
	value, err := ParseWritePayload(payload)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	accepted, err := b.store.Write(b.ctx, name, value)
	if err != nil {
		return err
	}
	b.logger.Debug("MQTT write %s=%v accepted=%t", name, value, accepted)

	if e, ok := b.store.Entry(name); ok {
		b.publishEntry(e)
	}
	return nil
}

func (b *Bridge) propertyFromTopic(topic string) (string, error) {
	prefix := WriteTopic(b.prefix, "")
	if !strings.HasPrefix(topic, prefix) || len(topic) == len(prefix) {
		return "", fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}
	return strings.TrimPrefix(topic, prefix), nil
}

// ParseWritePayload accepts a JSON number, {"value": n} or a plain numeric string
func ParseWritePayload(payload []byte) (float64, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return 0, ErrInvalidPayload
	}
	if v, err := strconv.ParseFloat(text, 64); err == nil {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidPayload, text)
		}
		return v, nil
	}
	var msg writeMessage
	if err := json.Unmarshal([]byte(text), &msg); err != nil || msg.Value == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPayload, text)
	}
	return *msg.Value, nil
}

func (b *Bridge) publishEntry(e property.Entry) {
	data, err := json.Marshal(StateMessage{Value: e.Value, Text: e.Text, Writable: e.Writable})
	if err != nil {
		b.logger.Error("Failed to encode %s: %v", e.Name, err)
		return
	}
	if err := b.broker.Publish(StateTopic(b.prefix, e.Name), data, true); err != nil {
		b.logger.Debug("Publish %s failed: %v", e.Name, err)
	}
}
