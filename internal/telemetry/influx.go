// Package telemetry exports charger snapshots to InfluxDB.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/gregjohnson/lektrico-bridge/internal/charger"
	"github.com/gregjohnson/lektrico-bridge/internal/config"
	"github.com/gregjohnson/lektrico-bridge/internal/log"
)

const (
	measurement = "ev_charger"

	defaultConnectTimeout = 10 * time.Second
	millisecondsPerSecond = 1000
)

// Writer batches snapshot points through the non-blocking write API.
// All methods are safe for concurrent use.
type Writer struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	tags     map[string]string
	logger   *log.Logger

	mu        sync.RWMutex
	connected bool
}

// Connect pings the server and prepares the write API. tags are added to
// every point.
func Connect(cfg config.InfluxDBConfig, tags map[string]string, logger *log.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if logger == nil {
		logger = log.Component("telemetry")
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 10
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*millisecondsPerSecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %v", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	w := &Writer{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Org, cfg.Bucket),
		tags:      tags,
		logger:    logger,
		connected: true,
	}
	go w.handleWriteErrors(w.writeAPI.Errors())

	logger.Info("Connected to InfluxDB at %s (bucket %s)", cfg.URL, cfg.Bucket)
	return w, nil
}

func (w *Writer) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		w.logger.Warn("InfluxDB write failed: %v", err)
	}
}

// WriteSnapshot queues one point for snap
func (w *Writer) WriteSnapshot(snap charger.Snapshot, at time.Time) {
	if !w.IsConnected() {
		return
	}
	w.writeAPI.WritePoint(SnapshotPoint(snap, w.tags, at))
}

// IsConnected reports whether the writer accepts points
func (w *Writer) IsConnected() bool {
	if w == nil {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

// Close flushes pending points and closes the client
func (w *Writer) Close() {
	if w == nil || w.client == nil {
		return
	}
	w.mu.Lock()
	w.connected = false
	w.mu.Unlock()

	w.writeAPI.Flush()
	w.client.Close()
}

// SnapshotPoint converts a snapshot into an InfluxDB point
func SnapshotPoint(snap charger.Snapshot, tags map[string]string, at time.Time) *write.Point {
	pointTags := make(map[string]string, len(tags)+1)
	for k, v := range tags {
		pointTags[k] = v
	}
	pointTags["status"] = snap.Status.String()

	return write.NewPoint(
		measurement,
		pointTags,
		map[string]interface{}{
			"power_watts":        snap.InstantPower,
			"voltage":            snap.Voltage,
			"current_amps":       snap.Current,
			"dynamic_current":    snap.DynamicCurrent,
			"session_energy_kwh": snap.EnergyKWh(),
			"charging_seconds":   snap.ChargingTimeSeconds,
			"temperature_c":      snap.Temperature,
			"start_stop":         int(snap.StartStop()),
			"mode":               int(snap.Mode()),
		},
		at,
	)
}
