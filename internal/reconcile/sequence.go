package reconcile

import "time"

// SequenceKind identifies the setting a sequence changes before resuming
type SequenceKind int

const (
	SequenceSetCurrent SequenceKind = iota
	SequenceSetMode
)

func (k SequenceKind) String() string {
	switch k {
	case SequenceSetCurrent:
		return "set_current"
	case SequenceSetMode:
		return "set_mode"
	default:
		return "unknown"
	}
}

// Sequence is a pending multi-step command. The reconciler holds a nil
// *Sequence while idle.
type Sequence struct {
	Kind         SequenceKind `json:"kind"`
	ResumeNeeded bool         `json:"resume_needed"`
	ID           string       `json:"id"`
	StartedAt    time.Time    `json:"started_at"`
}

// Echo is the reconciler's record for one tracked property. Command fields
// are only used for StartStop.
type Echo struct {
	Device     float64   `json:"device"`
	Known      bool      `json:"known"`
	Command    float64   `json:"command"`
	CommandAt  time.Time `json:"command_at"`
	HasCommand bool      `json:"has_command"`
	Confirmed  bool      `json:"confirmed"`
}
