// Package reconcile keeps published charger properties and the device in
// agreement. Polls flow in through ApplyPolledSnapshot and external writes
// through HandleExternalWrite; both run under one lock.
package reconcile

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gregjohnson/lektrico-bridge/internal/charger"
	"github.com/gregjohnson/lektrico-bridge/internal/config"
	"github.com/gregjohnson/lektrico-bridge/internal/gateway"
	"github.com/gregjohnson/lektrico-bridge/internal/log"
	"github.com/gregjohnson/lektrico-bridge/internal/metrics"
	"github.com/gregjohnson/lektrico-bridge/internal/property"
	"github.com/gregjohnson/lektrico-bridge/internal/storage"
)

// tracked properties, in the order polls evaluate them
var tracked = []string{property.StartStop, property.SetCurrent, property.Mode}

// Publisher is the internal entry point of the property store. Hold and
// Release bracket a sequence so writes cannot replace the held StartStop.
type Publisher interface {
	Publish(name string, value float64) error
	Hold(name string)
	Release(name string)
}

// Commander sends device commands
type Commander interface {
	Send(ctx context.Context, cmd gateway.Command) bool
}

// EventJournal records reconciler events
type EventJournal interface {
	LogEvent(source storage.EventSource, eventType storage.EventType, message string, details interface{}) error
}

// Options configures a Reconciler. Zero durations use the config defaults.
type Options struct {
	EchoWindow         time.Duration
	CurrentSettleDelay time.Duration
	ModeSettleDelay    time.Duration
	Journal            EventJournal
	Logger             *log.Logger

	// Now and Sleep replace the clock in tests
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Status is a point-in-time view for the status API
type Status struct {
	Available bool            `json:"available"`
	LastPoll  time.Time       `json:"last_poll"`
	Sequence  *Sequence       `json:"sequence"`
	Echoes    map[string]Echo `json:"echoes"`
}

// Reconciler owns the reconciled state, the per-property echo records and
// the command sequence.
type Reconciler struct {
	mu sync.Mutex

	store   Publisher
	gateway Commander
	journal EventJournal
	logger  *log.Logger

	echoWindow    time.Duration
	currentSettle time.Duration
	modeSettle    time.Duration
	now           func() time.Time
	sleep         func(ctx context.Context, d time.Duration) error

	echoes       map[string]*Echo
	sequence     *Sequence
	available    bool
	outageLogged bool
	lastPoll     time.Time

	// sequences outlive the write that started them
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Reconciler publishing to store and commanding through gw
func New(store Publisher, gw Commander, opts Options) *Reconciler {
	if opts.EchoWindow <= 0 {
		opts.EchoWindow = config.DefaultEchoWindow
	}
	if opts.CurrentSettleDelay <= 0 {
		opts.CurrentSettleDelay = config.DefaultCurrentSettleDelay
	}
	if opts.ModeSettleDelay <= 0 {
		opts.ModeSettleDelay = config.DefaultModeSettleDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Component("reconciler")
	}

	echoes := make(map[string]*Echo, len(tracked))
	for _, name := range tracked {
		echoes[name] = &Echo{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		store:         store,
		gateway:       gw,
		journal:       opts.Journal,
		logger:        logger,
		echoWindow:    opts.EchoWindow,
		currentSettle: opts.CurrentSettleDelay,
		modeSettle:    opts.ModeSettleDelay,
		now:           opts.Now,
		sleep:         opts.Sleep,
		echoes:        echoes,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Close aborts a sequence waiting on its settle delay
func (r *Reconciler) Close() {
	r.cancel()
}

// ApplyPolledSnapshot records the device-derived values of snap and
// publishes them. StartStop is held while a sequence is pending.
func (r *Reconciler) ApplyPolledSnapshot(snap charger.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.lastPoll = now
	r.outageLogged = false
	if !r.available {
		r.available = true
		r.logger.Info("Charger available")
		r.event(storage.EventSourceCharger, storage.EventTypeConnection, "charger available", nil)
	}

	derived := map[string]float64{
		property.StartStop:  snap.StartStop(),
		property.SetCurrent: snap.DynamicCurrent,
		property.Mode:       float64(snap.Mode()),
	}

	for _, name := range tracked {
		if name == property.StartStop && r.sequence != nil {
			continue
		}
		r.observe(name, derived[name], now)
	}

	type published struct {
		name  string
		value float64
	}
	values := []published{
		{property.SetCurrent, snap.DynamicCurrent},
		{property.MaxCurrent, snap.DynamicCurrent},
		{property.Mode, float64(snap.Mode())},
		{property.ChargingTime, snap.ChargingTimeSeconds},
		{property.Power, snap.InstantPower},
		{property.L1Power, snap.InstantPower},
		{property.EnergyForward, snap.EnergyKWh()},
		{property.Voltage, snap.Voltage},
		{property.Current, snap.Current},
		{property.Temperature, snap.Temperature},
		{property.Status, float64(snap.Status)},
		{property.Connected, 1},
	}
	if r.sequence == nil {
		values = append(values, published{property.StartStop, snap.StartStop()})
	}

	for _, v := range values {
		if err := r.store.Publish(v.name, v.value); err != nil {
			r.logger.Debug("Publish %s failed: %v", v.name, err)
		}
	}
}

// observe updates the echo record for a tracked property when the derived
// value changed. Caller holds r.mu.
func (r *Reconciler) observe(name string, value float64, now time.Time) {
	e := r.echoes[name]
	if e.Known && e.Device == value {
		return
	}

	if e.Known {
		r.logger.Info("%s: %v -> %v", name, e.Device, value)
	} else {
		r.logger.Info("%s: initial %v", name, value)
	}
	metrics.IncTransition(name)
	r.event(storage.EventSourceReconciler, storage.EventTypeTransition, fmt.Sprintf("%s changed", name),
		map[string]interface{}{"property": name, "from": e.Device, "to": value, "initial": !e.Known})

	e.Device = value
	e.Known = true

	if name != property.StartStop || !r.commandLive(e, now) {
		return
	}
	if value == e.Command {
		e.Confirmed = true
		return
	}
	// the device moved away from the commanded value
	r.logger.Debug("StartStop poll contradicts command %v", e.Command)
	e.HasCommand = false
	e.Confirmed = false
}

// MarkUnavailable records a poll cycle that produced no snapshot. The
// reconciled values keep their last known state.
func (r *Reconciler) MarkUnavailable(reason error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.outageLogged {
		r.outageLogged = true
		r.logger.Warn("Charger unavailable: %v", reason)
		r.event(storage.EventSourceCharger, storage.EventTypeConnection, "charger unavailable",
			map[string]interface{}{"reason": fmt.Sprint(reason)})
	} else {
		r.logger.Debug("Charger still unavailable: %v", reason)
	}
	r.available = false

	if err := r.store.Publish(property.Connected, 0); err != nil {
		r.logger.Debug("Publish %s failed: %v", property.Connected, err)
	}
}

// HandleExternalWrite decides what an external write to name means and
// issues the resulting commands. It reports whether the write is accepted.
func (r *Reconciler) HandleExternalWrite(ctx context.Context, name string, value float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Info("Someone updated %s to %v", name, value)

	// Unmapped writes are rejected even while a sequence is pending so the
	// store never commits a value nothing will act on.
	e, ok := r.echoes[name]
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnmappedProperty, name)
		r.logger.Warn("Rejected write: %v", err)
		metrics.IncExternalWrite(name, metrics.WriteUnmapped)
		r.event(storage.EventSourceReconciler, storage.EventTypeUnmapped, err.Error(),
			map[string]interface{}{"property": name, "value": value})
		return false
	}

	if r.sequence != nil {
		r.suppress(name, value, metrics.WriteSuppressedSequence,
			fmt.Sprintf("%s sequence %s pending", r.sequence.Kind, r.sequence.ID))
		return true
	}

	if e.Known && e.Device == value {
		r.suppress(name, value, metrics.WriteSuppressedEcho, "matches device state")
		return true
	}

	now := r.now()
	if name == property.StartStop && r.commandLive(e, now) && e.Command == value {
		e.Confirmed = true
		r.suppress(name, value, metrics.WriteSuppressedDelayed, "matches recent command")
		return true
	}

	switch name {
	case property.StartStop:
		return r.startStop(ctx, e, value, now)
	case property.SetCurrent:
		if !charger.ValidCurrent(value) {
			return r.reject(name, value)
		}
		cmd := gateway.Command{Kind: gateway.KindSetCurrent, Value: value}
		return r.change(ctx, SequenceSetCurrent, cmd, r.currentSettle)
	case property.Mode:
		if math.IsInf(value, 0) || value != math.Trunc(value) || !charger.Mode(int(value)).Valid() {
			return r.reject(name, value)
		}
		cmd := gateway.Command{Kind: gateway.KindSetMode, Value: value}
		return r.change(ctx, SequenceSetMode, cmd, r.modeSettle)
	}
	return false
}

func (r *Reconciler) startStop(ctx context.Context, e *Echo, value float64, now time.Time) bool {
	var cmd gateway.Command
	switch value {
	case 1:
		cmd = gateway.Command{Kind: gateway.KindStart, Value: 1}
	case 0:
		cmd = gateway.Command{Kind: gateway.KindStop, Value: 0}
	default:
		return r.reject(property.StartStop, value)
	}

	ok := r.gateway.Send(ctx, cmd)
	metrics.IncExternalWrite(property.StartStop, outcome(ok))

	e.Command = value
	e.CommandAt = now
	e.HasCommand = true
	e.Confirmed = false
	return ok
}

// change sends a setting change. While charging it runs as a sequence that
// resumes the session after settle. Caller holds r.mu.
func (r *Reconciler) change(ctx context.Context, kind SequenceKind, cmd gateway.Command, settle time.Duration) bool {
	charging := r.echoes[property.StartStop]
	if !charging.Known || charging.Device != 1 {
		ok := r.gateway.Send(ctx, cmd)
		metrics.IncExternalWrite(propertyFor(kind), outcome(ok))
		return ok
	}

	seq := &Sequence{Kind: kind, ResumeNeeded: true, ID: uuid.NewString(), StartedAt: r.now()}
	r.sequence = seq
	r.store.Hold(property.StartStop)
	metrics.SequenceStarted()
	r.logger.Info("Sequence %s started: %s to %v, resume after %v", seq.ID, kind, cmd.Value, settle)
	r.event(storage.EventSourceReconciler, storage.EventTypeSequence, fmt.Sprintf("%s sequence started", kind),
		map[string]interface{}{"sequence_id": seq.ID, "value": cmd.Value})

	cmd.SequenceID = seq.ID
	ok := r.gateway.Send(r.ctx, cmd)
	metrics.IncExternalWrite(propertyFor(kind), outcome(ok))
	if !ok {
		r.finish(seq, false, "command failed, not resuming")
		return false
	}

	// Polls keep running while the setting propagates
	r.mu.Unlock()
	err := r.sleep(r.ctx, settle)
	r.mu.Lock()
	if err != nil {
		r.finish(seq, false, fmt.Sprintf("settle interrupted: %v", err))
		return false
	}

	resumed := r.gateway.Send(r.ctx, gateway.Command{Kind: gateway.KindStart, Value: 1, SequenceID: seq.ID})
	if !resumed {
		r.finish(seq, false, "resume failed")
		return false
	}
	r.finish(seq, true, "resumed")
	return true
}

// finish returns the sequence to idle. Caller holds r.mu.
func (r *Reconciler) finish(seq *Sequence, ok bool, detail string) {
	if r.sequence == seq {
		r.sequence = nil
		r.store.Release(property.StartStop)
	}
	metrics.SequenceFinished(seq.Kind.String(), ok)

	elapsed := r.now().Sub(seq.StartedAt)
	if ok {
		r.logger.Info("Sequence %s finished in %v: %s", seq.ID, elapsed, detail)
	} else {
		r.logger.Warn("Sequence %s aborted after %v: %s", seq.ID, elapsed, detail)
	}
	r.event(storage.EventSourceReconciler, storage.EventTypeSequence, fmt.Sprintf("%s sequence finished", seq.Kind),
		map[string]interface{}{"sequence_id": seq.ID, "success": ok, "detail": detail})
}

func (r *Reconciler) suppress(name string, value float64, outcome, reason string) {
	r.logger.Debug("Suppressed write %s=%v: %s", name, value, reason)
	metrics.IncExternalWrite(name, outcome)
	r.event(storage.EventSourceReconciler, storage.EventTypeSuppressed, fmt.Sprintf("%s write suppressed", name),
		map[string]interface{}{"property": name, "value": value, "reason": reason})
}

func (r *Reconciler) reject(name string, value float64) bool {
	r.logger.Warn("Rejected write %s=%v: %v", name, value, ErrInvalidValue)
	metrics.IncExternalWrite(name, metrics.WriteRejected)
	return false
}

// commandLive reports whether the StartStop command is still inside the
// echo window. Expired commands are cleared.
func (r *Reconciler) commandLive(e *Echo, now time.Time) bool {
	if !e.HasCommand {
		return false
	}
	if now.Sub(e.CommandAt) > r.echoWindow {
		e.HasCommand = false
		e.Confirmed = false
		return false
	}
	return true
}

func (r *Reconciler) event(source storage.EventSource, eventType storage.EventType, msg string, details interface{}) {
	if r.journal == nil {
		return
	}
	if err := r.journal.LogEvent(source, eventType, msg, details); err != nil {
		r.logger.Debug("Failed to journal event: %v", err)
	}
}

// PendingEcho returns the echo record for a tracked property
func (r *Reconciler) PendingEcho(name string) (Echo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.echoes[name]
	if !ok {
		return Echo{}, false
	}
	return *e, true
}

// Sequence returns the pending sequence, if any
func (r *Reconciler) Sequence() (Sequence, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sequence == nil {
		return Sequence{}, false
	}
	return *r.sequence, true
}

// Status returns a snapshot of the reconciler state
func (r *Reconciler) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{
		Available: r.available,
		LastPoll:  r.lastPoll,
		Echoes:    make(map[string]Echo, len(r.echoes)),
	}
	if r.sequence != nil {
		seq := *r.sequence
		st.Sequence = &seq
	}
	for name, e := range r.echoes {
		st.Echoes[name] = *e
	}
	return st
}

func propertyFor(kind SequenceKind) string {
	if kind == SequenceSetMode {
		return property.Mode
	}
	return property.SetCurrent
}

func outcome(ok bool) string {
	if ok {
		return metrics.WriteCommanded
	}
	return metrics.WriteRejected
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
