// Package charger turns raw charger and energy manager payloads into a
// typed Snapshot.
package charger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gregjohnson/lektrico-bridge/internal/lektrico"
)

var (
	// ErrNoSnapshot means one of the two payloads was absent this cycle
	ErrNoSnapshot = errors.New("charger: no snapshot available")

	// ErrMalformedPayload means a payload was present but unusable
	ErrMalformedPayload = errors.New("charger: malformed payload")
)

// Status is the charger state published as /Status
type Status int

const (
	StatusIdle Status = iota
	StatusConnected
	StatusCharging
	StatusFault
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnected:
		return "connected"
	case StatusCharging:
		return "charging"
	case StatusFault:
		return "fault"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// StatusFromCode maps the charger_state letter. Unknown codes are Idle.
func StatusFromCode(code string) Status {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "A":
		return StatusIdle
	case "B":
		return StatusConnected
	case "C":
		return StatusCharging
	case "D":
		return StatusFault
	default:
		return StatusIdle
	}
}

// Mode is the charging mode as published on /Mode
type Mode int

const (
	ModeManual Mode = iota
	ModeAuto
	ModeScheduled
)

func (m Mode) String() string {
	switch m {
	case ModeManual:
		return "manual"
	case ModeAuto:
		return "auto"
	case ModeScheduled:
		return "scheduled"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Valid reports whether m is one of the known modes
func (m Mode) Valid() bool {
	return m >= ModeManual && m <= ModeScheduled
}

// ModeFromNative maps the energy manager's load_balancing_mode.
// 1 is green/manual, 2 is power/scheduled, 3 is hybrid/auto; anything else
// falls back to Manual.
func ModeFromNative(native string) Mode {
	switch strings.TrimSpace(native) {
	case "1":
		return ModeManual
	case "2":
		return ModeScheduled
	case "3":
		return ModeAuto
	default:
		return ModeManual
	}
}

// MaxCurrentAmps is the highest dynamic current a Lektrico charger accepts
const MaxCurrentAmps = 32

// ValidCurrent reports whether amps can be sent as a dynamic current.
// NaN and infinities are never valid.
func ValidCurrent(amps float64) bool {
	return amps >= 0 && amps <= MaxCurrentAmps
}

// NativeFromMode is the inverse of ModeFromNative
func NativeFromMode(m Mode) (string, error) {
	switch m {
	case ModeManual:
		return "1", nil
	case ModeScheduled:
		return "2", nil
	case ModeAuto:
		return "3", nil
	default:
		return "", fmt.Errorf("unknown mode %d", int(m))
	}
}

// Snapshot is one poll cycle's normalized telemetry. It is never mutated
// after Normalize returns it.
type Snapshot struct {
	Status              Status
	InstantPower        float64
	Voltage             float64
	Current             float64
	DynamicCurrent      float64
	SessionEnergy       float64
	ChargingTimeSeconds float64
	Temperature         float64
	LoadBalancingMode   string
}

// StartStop is 1 only while the charger is delivering energy
func (s Snapshot) StartStop() float64 {
	if s.Status == StatusCharging {
		return 1
	}
	return 0
}

// Mode returns the engine mode for the snapshot's native mode id
func (s Snapshot) Mode() Mode {
	return ModeFromNative(s.LoadBalancingMode)
}

// EnergyKWh returns the session energy in kWh
func (s Snapshot) EnergyKWh() float64 {
	return s.SessionEnergy / 1000
}

// Normalize builds a Snapshot from the charger_info and energy manager
// app_config payloads. Missing numeric fields read as zero.
func Normalize(info *lektrico.ChargerInfo, em *lektrico.EnergyManagerConfig) (Snapshot, error) {
	if info == nil || em == nil {
		return Snapshot{}, ErrNoSnapshot
	}
	if strings.TrimSpace(string(info.ChargerState)) == "" {
		return Snapshot{}, fmt.Errorf("%w: charger_state missing", ErrMalformedPayload)
	}

	return Snapshot{
		Status:              StatusFromCode(string(info.ChargerState)),
		InstantPower:        value(info.InstantPower),
		Voltage:             value(info.Voltage),
		Current:             value(info.Current),
		DynamicCurrent:      value(info.DynamicCurrent),
		SessionEnergy:       value(info.SessionEnergy),
		ChargingTimeSeconds: value(info.ChargingTime),
		Temperature:         value(info.Temperature),
		LoadBalancingMode:   strings.TrimSpace(string(em.LoadBalancingMode)),
	}, nil
}

func value(n *lektrico.Number) float64 {
	if n == nil {
		return 0
	}
	return n.Float()
}
