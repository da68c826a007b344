package telemetry

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregjohnson/lektrico-bridge/internal/charger"
	"github.com/gregjohnson/lektrico-bridge/internal/config"
)

func TestConnectDisabled(t *testing.T) {
	w, err := Connect(config.InfluxDBConfig{Enabled: false}, nil, nil)
	assert.Nil(t, w)
	assert.True(t, errors.Is(err, ErrDisabled))
}

func TestNilWriterIsSafe(t *testing.T) {
	var w *Writer
	assert.False(t, w.IsConnected())
	w.Close()
}

func TestSnapshotPoint(t *testing.T) {
	snap := charger.Snapshot{
		Status:              charger.StatusCharging,
		InstantPower:        3650,
		DynamicCurrent:      16,
		SessionEnergy:       4200,
		ChargingTimeSeconds: 120,
		LoadBalancingMode:   "3",
	}
	at := time.Unix(1700000000, 0)
	tags := map[string]string{"serial": "LK-0001"}

	line := write.PointToLineProtocol(SnapshotPoint(snap, tags, at), time.Second)
	require.True(t, strings.HasPrefix(line, "ev_charger,serial=LK-0001,status=charging "), line)
	assert.Contains(t, line, "power_watts=3650")
	assert.Contains(t, line, "session_energy_kwh=4.2")
	assert.Contains(t, line, "start_stop=1i")
	assert.Contains(t, line, "mode=1i")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(line), " 1700000000"), line)

	// caller tags are not modified
	assert.Len(t, tags, 1)
}
