package lektrico

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, charger, em http.Handler) *Client {
	t.Helper()
	cs := httptest.NewServer(charger)
	t.Cleanup(cs.Close)
	es := httptest.NewServer(em)
	t.Cleanup(es.Close)

	c, err := NewClient(Options{ChargerHost: cs.URL, EnergyManagerHost: es.URL, Source: "test"})
	require.NoError(t, err)
	return c
}

func TestChargerInfoDecodesMixedNumbers(t *testing.T) {
	charger := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rpc/charger_info.get", r.URL.Path)
		w.Write([]byte(`{"charger_state":"C","instant_power":3650,"voltage":"231.5","current":15.8,
			"session_energy":4200,"dynamic_current":16,"charging_time":120,"temperature":41,"fw_version":"1.44"}`))
	})
	c := newTestClient(t, charger, http.NotFoundHandler())

	info, err := c.ChargerInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Token("C"), info.ChargerState)
	require.NotNil(t, info.Voltage)
	assert.Equal(t, 231.5, info.Voltage.Float())
	assert.Equal(t, 16.0, info.DynamicCurrent.Float())
	assert.Equal(t, 144, FirmwareNumber(info.FirmwareVer))
}

func TestEnergyManagerConfigAcceptsNumericMode(t *testing.T) {
	em := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rpc/app_config.get", r.URL.Path)
		w.Write([]byte(`{"load_balancing_mode":3}`))
	})
	c := newTestClient(t, http.NotFoundHandler(), em)

	cfg, err := c.EnergyManagerConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Token("3"), cfg.LoadBalancingMode)
}

func TestGetErrorsAreClassified(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			want: ErrUnavailable,
		},
		{
			name: "empty body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("  "))
			},
			want: ErrMalformedResponse,
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("<html>"))
			},
			want: ErrMalformedResponse,
		},
		{
			name: "bad number",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"charger_state":"A","voltage":"n/a"}`))
			},
			want: ErrMalformedResponse,
		},
		{
			name: "nan current",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"charger_state":"C","dynamic_current":"NaN"}`))
			},
			want: ErrMalformedResponse,
		},
		{
			name: "infinite power",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"charger_state":"C","instant_power":"+Inf"}`))
			},
			want: ErrMalformedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler, http.NotFoundHandler())
			_, err := c.ChargerInfo(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestUnreachableDevice(t *testing.T) {
	c, err := NewClient(Options{ChargerHost: "127.0.0.1:1", EnergyManagerHost: "127.0.0.1:1"})
	require.NoError(t, err)

	_, err = c.ChargerInfo(context.Background())
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestCallRoutesByTargetAndBuildsEnvelope(t *testing.T) {
	var got RPCRequest
	em := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rpc", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"id":1,"result":true}`))
	})
	c := newTestClient(t, http.NotFoundHandler(), em)

	resp, err := c.Call(context.Background(), TargetEnergyManager, MethodAppConfigSet, map[string]interface{}{
		ParamConfigKey:   ConfigKeyLoadBalancing,
		ParamConfigValue: "2",
	})
	require.NoError(t, err)
	assert.True(t, resp.Succeeded())

	assert.Equal(t, "test", got.Src)
	assert.Equal(t, MethodAppConfigSet, got.Method)
	assert.GreaterOrEqual(t, got.ID, minRequestID)
	assert.LessOrEqual(t, got.ID, maxRequestID)
	assert.Equal(t, "2", got.Params[ParamConfigValue])
}

func TestRPCResponseSucceeded(t *testing.T) {
	var missing RPCResponse
	require.NoError(t, json.Unmarshal([]byte(`{"id":1}`), &missing))
	assert.False(t, missing.Succeeded())

	var rejected RPCResponse
	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"result":false}`), &rejected))
	assert.False(t, rejected.Succeeded())

	var nilResp *RPCResponse
	assert.False(t, nilResp.Succeeded())
}

func TestFirmwareNumber(t *testing.T) {
	assert.Equal(t, 123, FirmwareNumber("1.2.3"))
	assert.Equal(t, 0, FirmwareNumber("beta"))
}
