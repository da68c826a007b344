// Package metrics exposes bridge counters and gauges to Prometheus.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricPrefix = "lektrico_bridge_"

	ResultSuccess     = "success"
	ResultUnavailable = "unavailable"
	ResultMalformed   = "malformed"
	ResultPanic       = "panic"
	ResultFailed      = "failed"
)

// External write outcomes
const (
	WriteSuppressedEcho     = "suppressed_echo"
	WriteSuppressedDelayed  = "suppressed_delayed_echo"
	WriteSuppressedSequence = "suppressed_sequence"
	WriteCommanded          = "commanded"
	WriteRejected           = "rejected"
	WriteUnmapped           = "unmapped"
)

var (
	registerOnce sync.Once

	pollsTotal  *prometheus.CounterVec
	pollLatency prometheus.Histogram
	deviceUp    prometheus.Gauge

	commandsTotal  *prometheus.CounterVec
	commandLatency *prometheus.HistogramVec

	externalWrites *prometheus.CounterVec
	transitions    *prometheus.CounterVec

	sequencesTotal   *prometheus.CounterVec
	sequenceInFlight prometheus.Gauge

	mqttMessages *prometheus.CounterVec
)

// Init registers the bridge metrics with the default registry
func Init() {
	registerOnce.Do(func() {
		pollsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "polls_total",
				Help: "Total poll cycles by result",
			},
			[]string{"result"},
		)
		pollLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "poll_latency_seconds",
				Help:    "Poll cycle latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)
		deviceUp = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "device_up",
				Help: "1 when the last poll produced a snapshot",
			},
		)

		commandsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "commands_total",
				Help: "Total device commands by kind and result",
			},
			[]string{"kind", "result"},
		)
		commandLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "command_latency_seconds",
				Help:    "Device command latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		)

		externalWrites = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "external_writes_total",
				Help: "External property writes by property and outcome",
			},
			[]string{"property", "outcome"},
		)
		transitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "transitions_total",
				Help: "Device-derived value transitions by property",
			},
			[]string{"property"},
		)

		sequencesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sequences_total",
				Help: "Command sequences by kind and result",
			},
			[]string{"kind", "result"},
		)
		sequenceInFlight = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "sequence_in_flight",
				Help: "1 while a command sequence is pending",
			},
		)

		mqttMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "mqtt_messages_total",
				Help: "MQTT messages by direction",
			},
			[]string{"direction"},
		)

		prometheus.MustRegister(
			pollsTotal,
			pollLatency,
			deviceUp,
			commandsTotal,
			commandLatency,
			externalWrites,
			transitions,
			sequencesTotal,
			sequenceInFlight,
			mqttMessages,
		)
	})
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePoll records a poll cycle result and duration.
func ObservePoll(result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if pollsTotal != nil {
		pollsTotal.WithLabelValues(result).Inc()
	}
	if pollLatency != nil {
		pollLatency.Observe(duration.Seconds())
	}
	if deviceUp != nil {
		if result == ResultSuccess {
			deviceUp.Set(1)
		} else {
			deviceUp.Set(0)
		}
	}
}

// ObserveCommand records a device command outcome.
func ObserveCommand(kind string, success bool, duration time.Duration) {
	if kind == "" {
		kind = "unknown"
	}
	result := ResultSuccess
	if !success {
		result = ResultFailed
	}
	if commandsTotal != nil {
		commandsTotal.WithLabelValues(kind, result).Inc()
	}
	if commandLatency != nil {
		commandLatency.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// IncExternalWrite counts an external write by outcome.
func IncExternalWrite(property, outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if externalWrites != nil {
		externalWrites.WithLabelValues(property, outcome).Inc()
	}
}

// IncTransition counts a device-derived value change.
func IncTransition(property string) {
	if transitions != nil {
		transitions.WithLabelValues(property).Inc()
	}
}

// SequenceStarted marks a command sequence as pending.
func SequenceStarted() {
	if sequenceInFlight != nil {
		sequenceInFlight.Set(1)
	}
}

// SequenceFinished clears the pending gauge and counts the result.
func SequenceFinished(kind string, success bool) {
	result := ResultSuccess
	if !success {
		result = ResultFailed
	}
	if sequencesTotal != nil {
		sequencesTotal.WithLabelValues(kind, result).Inc()
	}
	if sequenceInFlight != nil {
		sequenceInFlight.Set(0)
	}
}

// IncMQTTMessage counts an MQTT message; direction is "in" or "out".
func IncMQTTMessage(direction string) {
	if mqttMessages != nil {
		mqttMessages.WithLabelValues(direction).Inc()
	}
}
