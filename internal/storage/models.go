package storage

import (
	"encoding/json"
	"time"
)

// ChargerSnapshot is one row of charger telemetry history. Rows are written
// for observability only and are never read back into the reconciler.
type ChargerSnapshot struct {
	ID                int       `json:"id"`
	Status            int       `json:"status"`
	StartStop         int       `json:"start_stop"`
	Mode              int       `json:"mode"`
	InstantPower      float64   `json:"instant_power"`
	Voltage           float64   `json:"voltage"`
	Current           float64   `json:"current"`
	DynamicCurrent    float64   `json:"dynamic_current"`
	SessionEnergy     float64   `json:"session_energy"`
	ChargingTime      float64   `json:"charging_time"`
	Temperature       float64   `json:"temperature"`
	LoadBalancingMode string    `json:"load_balancing_mode"`
	RecordedAt        time.Time `json:"recorded_at"`
}

// EventSource represents the source of an event
type EventSource string

const (
	EventSourceCharger    EventSource = "charger"
	EventSourceReconciler EventSource = "reconciler"
	EventSourceMQTT       EventSource = "mqtt"
	EventSourceAPI        EventSource = "api"
	EventSourceSystem     EventSource = "system"
)

// EventType represents the type of event
type EventType string

const (
	EventTypeTransition  EventType = "transition"
	EventTypeCommand     EventType = "command"
	EventTypeSuppressed  EventType = "suppressed"
	EventTypeSequence    EventType = "sequence"
	EventTypeConnection  EventType = "connection"
	EventTypeUnmapped    EventType = "unmapped"
	EventTypeError       EventType = "error"
	EventTypeInfo        EventType = "info"
	EventTypeStateChange EventType = "state_change"
)

// EventLog represents a log entry
type EventLog struct {
	ID        int             `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Source    EventSource     `json:"source"`
	EventType EventType       `json:"event_type"`
	Message   string          `json:"message"`
	Details   json.RawMessage `json:"details,omitempty"`
}

// EventLogFilter for querying events
type EventLogFilter struct {
	Source    *EventSource
	EventType *EventType
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}

// CommandRecord is one outbound device command and its outcome
type CommandRecord struct {
	ID             int       `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	SequenceID     string    `json:"sequence_id,omitempty"`
	Kind           string    `json:"kind"`
	Method         string    `json:"method"`
	Target         string    `json:"target"`
	Value          float64   `json:"value"`
	Success        bool      `json:"success"`
	Error          string    `json:"error,omitempty"`
	DurationMillis int64     `json:"duration_ms"`
}

// CommandFilter for querying the command journal
type CommandFilter struct {
	Kind       string
	SequenceID string
	Since      *time.Time
	Limit      int
}
