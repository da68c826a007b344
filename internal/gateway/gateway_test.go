package gateway

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/gregjohnson/lektrico-bridge/internal/lektrico"
	"github.com/gregjohnson/lektrico-bridge/internal/log"
	"github.com/gregjohnson/lektrico-bridge/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	target lektrico.Target
	method string
	params map[string]interface{}
}

type fakeTransport struct {
	mu    sync.Mutex
	calls []call
	resp  *lektrico.RPCResponse
	err   error
	panic bool
}

func (f *fakeTransport) Call(ctx context.Context, target lektrico.Target, method string, params map[string]interface{}) (*lektrico.RPCResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{target: target, method: method, params: params})
	if f.panic {
		panic("connection reset")
	}
	return f.resp, f.err
}

type fakeJournal struct {
	records []*storage.CommandRecord
}

func (j *fakeJournal) RecordCommand(rec *storage.CommandRecord) error {
	j.records = append(j.records, rec)
	return nil
}

func okResponse() *lektrico.RPCResponse {
	t := true
	return &lektrico.RPCResponse{ID: 1, Result: &t}
}

func newTestGateway(tr Transport) (*Gateway, *fakeJournal, *bytes.Buffer) {
	var buf bytes.Buffer
	j := &fakeJournal{}
	g := New(tr, Options{SessionTag: "Victron", Journal: j, Logger: log.NewWithOutput(&buf)})
	return g, j, &buf
}

func TestSendBuildsRequests(t *testing.T) {
	tests := []struct {
		name   string
		cmd    Command
		target lektrico.Target
		method string
		params map[string]interface{}
	}{
		{"start", Command{Kind: KindStart, Value: 1}, lektrico.TargetCharger, "charge.start", map[string]interface{}{"tag": "Victron"}},
		{"stop", Command{Kind: KindStop}, lektrico.TargetCharger, "charge.stop", map[string]interface{}{"tag": "Victron"}},
		{"current", Command{Kind: KindSetCurrent, Value: 20}, lektrico.TargetCharger, "dynamic_current.set", map[string]interface{}{"dynamic_current": 20}},
		{"current param", Command{Kind: KindSetCurrent, Value: 12.6, Param: "limit"}, lektrico.TargetCharger, "dynamic_current.set", map[string]interface{}{"limit": 13}},
		{"mode scheduled", Command{Kind: KindSetMode, Value: 2}, lektrico.TargetEnergyManager, "app_config.set",
			map[string]interface{}{"config_key": "load_balancing_mode", "config_value": "2"}},
		{"mode auto", Command{Kind: KindSetMode, Value: 1}, lektrico.TargetEnergyManager, "app_config.set",
			map[string]interface{}{"config_key": "load_balancing_mode", "config_value": "3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &fakeTransport{resp: okResponse()}
			g, j, _ := newTestGateway(tr)

			assert.True(t, g.Send(context.Background(), tt.cmd))
			require.Len(t, tr.calls, 1)
			assert.Equal(t, tt.target, tr.calls[0].target)
			assert.Equal(t, tt.method, tr.calls[0].method)
			assert.Equal(t, tt.params, tr.calls[0].params)

			require.Len(t, j.records, 1)
			assert.True(t, j.records[0].Success)
			assert.Equal(t, tt.cmd.Kind.String(), j.records[0].Kind)
		})
	}
}

func TestSendFailuresResolveToFalse(t *testing.T) {
	f := false
	tests := []struct {
		name string
		tr   *fakeTransport
		want error
	}{
		{"transport error", &fakeTransport{err: errors.New("timeout")}, ErrTransport},
		{"explicit false", &fakeTransport{resp: &lektrico.RPCResponse{Result: &f}}, ErrCommandRejected},
		{"missing result", &fakeTransport{resp: &lektrico.RPCResponse{}}, ErrCommandRejected},
		{"nil response", &fakeTransport{}, ErrCommandRejected},
		{"panic", &fakeTransport{panic: true}, ErrTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, j, buf := newTestGateway(tt.tr)

			assert.False(t, g.Send(context.Background(), Command{Kind: KindStart, Value: 1}))
			require.Len(t, j.records, 1)
			assert.False(t, j.records[0].Success)
			assert.NotEmpty(t, j.records[0].Error)
			assert.Contains(t, buf.String(), "start failed")
		})
	}
}

func TestInvalidCommandsNeverReachTheDevice(t *testing.T) {
	tr := &fakeTransport{resp: okResponse()}
	g, j, _ := newTestGateway(tr)

	assert.False(t, g.Send(context.Background(), Command{Kind: KindSetMode, Value: 7}))
	assert.False(t, g.Send(context.Background(), Command{Kind: KindSetMode, Value: 1.5}))
	assert.False(t, g.Send(context.Background(), Command{Kind: KindSetCurrent, Value: -1}))
	assert.False(t, g.Send(context.Background(), Command{Kind: Kind(42)}))
	assert.False(t, g.Send(context.Background(), Command{Kind: KindSetCurrent, Value: math.Inf(1)}))
	assert.False(t, g.Send(context.Background(), Command{Kind: KindSetCurrent, Value: 1e300}))
	assert.False(t, g.Send(context.Background(), Command{Kind: KindSetCurrent, Value: math.NaN()}))
	assert.False(t, g.Send(context.Background(), Command{Kind: KindSetMode, Value: math.Inf(1)}))

	assert.Empty(t, tr.calls)
	assert.Len(t, j.records, 8)
}

func TestSequenceIDIsJournaled(t *testing.T) {
	tr := &fakeTransport{resp: okResponse()}
	g, j, _ := newTestGateway(tr)

	g.Send(context.Background(), Command{Kind: KindSetCurrent, Value: 16, SequenceID: "abc"})
	require.Len(t, j.records, 1)
	assert.Equal(t, "abc", j.records[0].SequenceID)
	assert.Equal(t, "charger", j.records[0].Target)
	assert.Equal(t, "dynamic_current.set", j.records[0].Method)
}
