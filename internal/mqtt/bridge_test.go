package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/gregjohnson/lektrico-bridge/internal/config"
	"github.com/gregjohnson/lektrico-bridge/internal/property"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const prefix = "lektrico/evcharger"

type fakeBroker struct {
	mu        sync.Mutex
	published map[string][]byte
	retained  map[string]bool
	handlers  map[string]MessageHandler
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		published: make(map[string][]byte),
		retained:  make(map[string]bool),
		handlers:  make(map[string]MessageHandler),
	}
}

func (f *fakeBroker) Publish(topic string, payload []byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[topic] = payload
	f.retained[topic] = retained
	return nil
}

func (f *fakeBroker) Subscribe(topic string, handler MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeBroker) state(t *testing.T, name string) StateMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.published[StateTopic(prefix, name)]
	require.True(t, ok, "nothing published for %s", name)
	var msg StateMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func newBridge(t *testing.T, accept bool) (*Bridge, *fakeBroker, *property.Store, *[]float64) {
	t.Helper()
	store := property.NewStore()
	require.NoError(t, store.RegisterAll(property.ChargerDefinitions()))
	require.NoError(t, store.RegisterText(property.Serial, "500006"))

	var writes []float64
	store.OnWrite(func(ctx context.Context, name string, v float64) bool {
		writes = append(writes, v)
		return accept
	})

	broker := newFakeBroker()
	b := NewBridge(broker, store, prefix+"/", nil)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(b.Stop)
	return b, broker, store, &writes
}

func TestStartPublishesRetainedState(t *testing.T) {
	_, broker, store, _ := newBridge(t, true)

	assert.Len(t, broker.published, len(store.Entries()))
	assert.True(t, broker.retained[StateTopic(prefix, property.Mode)])
	assert.Contains(t, broker.handlers, prefix+"/W/#")

	serial := broker.state(t, property.Serial)
	assert.Equal(t, "500006", serial.Value)
	assert.False(t, serial.Writable)
}

func TestStoreChangesArePublished(t *testing.T) {
	_, broker, store, _ := newBridge(t, true)

	require.NoError(t, store.Publish(property.Power, 3650))
	msg := broker.state(t, property.Power)
	assert.Equal(t, 3650.0, msg.Value)
	assert.Equal(t, "3650.0W", msg.Text)
}

func TestHandleWriteForwardsToStore(t *testing.T) {
	b, broker, store, writes := newBridge(t, true)

	require.NoError(t, b.HandleWrite(WriteTopic(prefix, property.SetCurrent), []byte(`{"value": 20}`)))
	assert.Equal(t, []float64{20}, *writes)

	v, _ := store.Get(property.SetCurrent)
	assert.Equal(t, 20.0, v)
	assert.Equal(t, 20.0, broker.state(t, property.SetCurrent).Value)
}

func TestRejectedWriteRepublishesCurrentValue(t *testing.T) {
	b, broker, store, writes := newBridge(t, false)
	require.NoError(t, store.Publish(property.Mode, 1))

	require.NoError(t, b.HandleWrite(WriteTopic(prefix, property.Mode), []byte("2")))
	assert.Equal(t, []float64{2}, *writes)
	assert.Equal(t, 1.0, broker.state(t, property.Mode).Value)
}

func TestHandleWriteErrors(t *testing.T) {
	b, _, _, writes := newBridge(t, true)

	err := b.HandleWrite("other/W/Mode", []byte("1"))
	assert.True(t, errors.Is(err, ErrInvalidTopic))

	err = b.HandleWrite(WriteTopic(prefix, ""), []byte("1"))
	assert.True(t, errors.Is(err, ErrInvalidTopic))

	err = b.HandleWrite(WriteTopic(prefix, property.Mode), []byte(`{"mode": 1}`))
	assert.True(t, errors.Is(err, ErrInvalidPayload))

	err = b.HandleWrite(WriteTopic(prefix, "Bogus"), []byte("1"))
	assert.True(t, errors.Is(err, property.ErrUnknownProperty))

	err = b.HandleWrite(WriteTopic(prefix, property.UpdateIndex), []byte("1"))
	assert.True(t, errors.Is(err, property.ErrReadOnly))

	assert.Empty(t, *writes)
}

func TestParseWritePayload(t *testing.T) {
	tests := []struct {
		payload string
		want    float64
		wantErr bool
	}{
		{"16", 16, false},
		{" 1.5 ", 1.5, false},
		{`{"value": 0}`, 0, false},
		{`{"value": null}`, 0, true},
		{"", 0, true},
		{"on", 0, true},
		{"Inf", 0, true},
		{"NaN", 0, true},
		{"1e400", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			got, err := ParseWritePayload([]byte(tt.payload))
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidPayload))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildClientOptions(t *testing.T) {
	opts := buildClientOptions(config.MQTTConfig{
		Host:     "broker.local",
		Port:     8883,
		TLS:      true,
		ClientID: "lektrico-bridge",
		Username: "user",
		Password: "secret",
	})

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "ssl://broker.local:8883", opts.Servers[0].String())
	assert.Equal(t, "lektrico-bridge", opts.ClientID)
	assert.Equal(t, "user", opts.Username)
	assert.True(t, opts.AutoReconnect)
	assert.NotNil(t, opts.TLSConfig)
}

func TestNilClientIsDisconnected(t *testing.T) {
	var c *Client
	assert.False(t, c.IsConnected())
	assert.NoError(t, c.Close())
}
