package charger

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/gregjohnson/lektrico-bridge/internal/lektrico"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeInfo(t *testing.T, body string) *lektrico.ChargerInfo {
	t.Helper()
	var info lektrico.ChargerInfo
	require.NoError(t, json.Unmarshal([]byte(body), &info))
	return &info
}

func decodeEM(t *testing.T, body string) *lektrico.EnergyManagerConfig {
	t.Helper()
	var em lektrico.EnergyManagerConfig
	require.NoError(t, json.Unmarshal([]byte(body), &em))
	return &em
}

func TestStatusFromCode(t *testing.T) {
	tests := map[string]Status{
		"A": StatusIdle,
		"B": StatusConnected,
		"C": StatusCharging,
		"D": StatusFault,
		"E": StatusIdle,
		"":  StatusIdle,
		"c": StatusCharging,
	}
	for code, want := range tests {
		assert.Equal(t, want, StatusFromCode(code), "code %q", code)
	}
}

func TestStartStopOnlyWhenCharging(t *testing.T) {
	for _, st := range []Status{StatusIdle, StatusConnected, StatusCharging, StatusFault} {
		s := Snapshot{Status: st}
		if st == StatusCharging {
			assert.Equal(t, 1.0, s.StartStop())
		} else {
			assert.Equal(t, 0.0, s.StartStop(), "status %s", st)
		}
	}
}

func TestValidCurrent(t *testing.T) {
	for _, v := range []float64{0, 6, 16, MaxCurrentAmps} {
		assert.True(t, ValidCurrent(v), "%v", v)
	}
	for _, v := range []float64{-1, MaxCurrentAmps + 0.5, 1e300, math.Inf(1), math.Inf(-1), math.NaN()} {
		assert.False(t, ValidCurrent(v), "%v", v)
	}
}

func TestModeMappingRoundTrips(t *testing.T) {
	assert.Equal(t, ModeManual, ModeFromNative("1"))
	assert.Equal(t, ModeScheduled, ModeFromNative("2"))
	assert.Equal(t, ModeAuto, ModeFromNative("3"))
	assert.Equal(t, ModeManual, ModeFromNative("9"))
	assert.Equal(t, ModeManual, ModeFromNative(""))

	for _, m := range []Mode{ModeManual, ModeAuto, ModeScheduled} {
		native, err := NativeFromMode(m)
		require.NoError(t, err)
		assert.Equal(t, m, ModeFromNative(native))
	}

	_, err := NativeFromMode(Mode(7))
	assert.Error(t, err)
	assert.False(t, Mode(7).Valid())
}

func TestNormalizeChargingSnapshot(t *testing.T) {
	info := decodeInfo(t, `{"charger_state":"C","dynamic_current":16,"charging_time":120}`)
	em := decodeEM(t, `{"load_balancing_mode":"3"}`)

	snap, err := Normalize(info, em)
	require.NoError(t, err)
	assert.Equal(t, StatusCharging, snap.Status)
	assert.Equal(t, 1.0, snap.StartStop())
	assert.Equal(t, 16.0, snap.DynamicCurrent)
	assert.Equal(t, 120.0, snap.ChargingTimeSeconds)
	assert.Equal(t, ModeAuto, snap.Mode())
	assert.Zero(t, snap.InstantPower)
}

func TestNormalizeEnergyInKWh(t *testing.T) {
	info := decodeInfo(t, `{"charger_state":"B","session_energy":"4250"}`)
	snap, err := Normalize(info, decodeEM(t, `{"load_balancing_mode":1}`))
	require.NoError(t, err)
	assert.InDelta(t, 4.25, snap.EnergyKWh(), 1e-9)
	assert.Equal(t, ModeManual, snap.Mode())
}

func TestNormalizeMissingPayloads(t *testing.T) {
	info := decodeInfo(t, `{"charger_state":"A"}`)
	em := decodeEM(t, `{"load_balancing_mode":"2"}`)

	_, err := Normalize(nil, em)
	assert.True(t, errors.Is(err, ErrNoSnapshot))

	_, err = Normalize(info, nil)
	assert.True(t, errors.Is(err, ErrNoSnapshot))

	_, err = Normalize(decodeInfo(t, `{"voltage":230}`), em)
	assert.True(t, errors.Is(err, ErrMalformedPayload))
}
