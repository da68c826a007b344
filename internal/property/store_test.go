package property

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChargerStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	require.NoError(t, s.RegisterAll(ChargerDefinitions()))
	require.NoError(t, s.RegisterText(Serial, "LK-0001"))
	return s
}

func TestPublishNeverCallsWriteHandler(t *testing.T) {
	s := newChargerStore(t)
	calls := 0
	s.OnWrite(func(ctx context.Context, name string, v float64) bool {
		calls++
		return true
	})

	var changes []Change
	s.Subscribe(func(c Change) { changes = append(changes, c) })

	require.NoError(t, s.Publish(SetCurrent, 16))
	require.NoError(t, s.Publish(SetCurrent, 16))

	assert.Zero(t, calls)
	require.Len(t, changes, 1)
	assert.Equal(t, OriginInternal, changes[0].Origin)
	assert.Equal(t, "16.0A", changes[0].Text)

	v, ok := s.Get(SetCurrent)
	assert.True(t, ok)
	assert.Equal(t, 16.0, v)
}

func TestWriteCommitsOnlyWhenAccepted(t *testing.T) {
	s := newChargerStore(t)
	accept := false
	var seen []float64
	s.OnWrite(func(ctx context.Context, name string, v float64) bool {
		seen = append(seen, v)
		return accept
	})

	ok, err := s.Write(context.Background(), SetCurrent, 20)
	require.NoError(t, err)
	assert.False(t, ok)
	v, _ := s.Get(SetCurrent)
	assert.Zero(t, v)

	accept = true
	var changes []Change
	s.Subscribe(func(c Change) { changes = append(changes, c) })
	ok, err = s.Write(context.Background(), SetCurrent, 20)
	require.NoError(t, err)
	assert.True(t, ok)
	v, _ = s.Get(SetCurrent)
	assert.Equal(t, 20.0, v)
	assert.Equal(t, []float64{20, 20}, seen)
	require.Len(t, changes, 1)
	assert.Equal(t, OriginExternal, changes[0].Origin)
}

func TestWriteHandlerMayPublish(t *testing.T) {
	s := newChargerStore(t)
	s.OnWrite(func(ctx context.Context, name string, v float64) bool {
		// handlers run without the store lock held
		require.NoError(t, s.Publish(Status, 2))
		return true
	})

	ok, err := s.Write(context.Background(), StartStop, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	status, _ := s.Get(Status)
	assert.Equal(t, 2.0, status)
}

func TestHeldPropertyIgnoresAcceptedWrites(t *testing.T) {
	s := newChargerStore(t)
	s.OnWrite(func(ctx context.Context, name string, v float64) bool { return true })
	require.NoError(t, s.Publish(StartStop, 1))

	var changes []Change
	s.Subscribe(func(c Change) { changes = append(changes, c) })

	s.Hold(StartStop)
	ok, err := s.Write(context.Background(), StartStop, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	v, _ := s.Get(StartStop)
	assert.Equal(t, 1.0, v)
	assert.Empty(t, changes)

	// other properties are unaffected
	ok, err = s.Write(context.Background(), SetCurrent, 10)
	require.NoError(t, err)
	assert.True(t, ok)
	v, _ = s.Get(SetCurrent)
	assert.Equal(t, 10.0, v)

	s.Release(StartStop)
	ok, err = s.Write(context.Background(), StartStop, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	v, _ = s.Get(StartStop)
	assert.Zero(t, v)
}

func TestWriteErrors(t *testing.T) {
	s := newChargerStore(t)
	s.OnWrite(func(ctx context.Context, name string, v float64) bool { return true })

	_, err := s.Write(context.Background(), "Nope", 1)
	assert.True(t, errors.Is(err, ErrUnknownProperty))

	_, err = s.Write(context.Background(), UpdateIndex, 1)
	assert.True(t, errors.Is(err, ErrReadOnly))

	_, err = s.Write(context.Background(), Serial, 1)
	assert.True(t, errors.Is(err, ErrReadOnly))

	assert.True(t, errors.Is(s.Register(Mode, 0, Plain, true), ErrDuplicate))
	assert.True(t, errors.Is(s.Publish("Nope", 1), ErrUnknownProperty))
}

func TestWriteWithoutHandlerIsRejected(t *testing.T) {
	s := newChargerStore(t)
	ok, err := s.Write(context.Background(), Mode, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnsubscribe(t *testing.T) {
	s := newChargerStore(t)
	count := 0
	cancel := s.Subscribe(func(Change) { count++ })
	require.NoError(t, s.Publish(Power, 100))
	cancel()
	require.NoError(t, s.Publish(Power, 200))
	assert.Equal(t, 1, count)
}

func TestEntriesAndFormatting(t *testing.T) {
	s := newChargerStore(t)
	require.NoError(t, s.Publish(EnergyForward, 4.256))
	require.NoError(t, s.Publish(Temperature, 41))
	require.NoError(t, s.PublishText(Serial, "LK-0002"))

	e, ok := s.Entry(EnergyForward)
	require.True(t, ok)
	assert.Equal(t, "4.26kWh", e.Text)
	assert.True(t, e.Writable)

	text, _ := s.Text(Temperature)
	assert.Equal(t, "41°C", text)

	serial, ok := s.Entry(Serial)
	require.True(t, ok)
	assert.Equal(t, "LK-0002", serial.Value)
	assert.False(t, serial.Writable)

	entries := s.Entries()
	assert.Len(t, entries, len(ChargerDefinitions())+1)
	for i := 1; i < len(entries); i++ {
		assert.Less(t, entries[i-1].Name, entries[i].Name)
	}
}

func TestFormatters(t *testing.T) {
	assert.Equal(t, "3650.0W", Watts(3650))
	assert.Equal(t, "231.5V", Volts(231.5))
	assert.Equal(t, "120s", Seconds(120))
	assert.Equal(t, "1", Plain(1))
}
