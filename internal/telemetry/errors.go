package telemetry

import "errors"

var (
	// ErrDisabled is returned by Connect when InfluxDB export is off
	ErrDisabled = errors.New("telemetry: influxdb disabled")

	// ErrConnectionFailed is returned when the server cannot be reached
	ErrConnectionFailed = errors.New("telemetry: influxdb connection failed")
)
