// Package poller queries the charger at a fixed cadence and feeds the
// reconciler.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gregjohnson/lektrico-bridge/internal/charger"
	"github.com/gregjohnson/lektrico-bridge/internal/lektrico"
	"github.com/gregjohnson/lektrico-bridge/internal/log"
	"github.com/gregjohnson/lektrico-bridge/internal/metrics"
	"github.com/gregjohnson/lektrico-bridge/internal/property"
	"github.com/gregjohnson/lektrico-bridge/internal/storage"
)

const (
	// maxUpdateIndex is where UpdateIndex wraps back to 0
	maxUpdateIndex = 255

	defaultHistoryInterval = time.Minute
)

// Source is the device telemetry source
type Source interface {
	ChargerInfo(ctx context.Context) (*lektrico.ChargerInfo, error)
	EnergyManagerConfig(ctx context.Context) (*lektrico.EnergyManagerConfig, error)
	ChargerConfig(ctx context.Context) (*lektrico.ChargerConfig, error)
}

// Sink receives each cycle's outcome
type Sink interface {
	ApplyPolledSnapshot(snap charger.Snapshot)
	MarkUnavailable(reason error)
}

// Publisher is the internal side of the property store
type Publisher interface {
	Publish(name string, value float64) error
	PublishText(name, text string) error
	Get(name string) (float64, bool)
}

// History stores snapshot rows
type History interface {
	SaveChargerSnapshot(s *storage.ChargerSnapshot) error
}

// Telemetry exports snapshots
type Telemetry interface {
	WriteSnapshot(snap charger.Snapshot, at time.Time)
}

// Options configures a Poller
type Options struct {
	Interval        time.Duration
	SignOfLife      time.Duration
	HistoryInterval time.Duration
	History         History
	Telemetry       Telemetry
	Logger          *log.Logger
	Now             func() time.Time
}

// Poller runs the poll loop
type Poller struct {
	source    Source
	sink      Sink
	store     Publisher
	history   History
	telemetry Telemetry
	logger    *log.Logger
	now       func() time.Time

	interval        time.Duration
	signOfLife      time.Duration
	historyInterval time.Duration

	mu          sync.Mutex
	lastUpdate  time.Time
	identified  bool
	lastSaved   *charger.Snapshot
	lastSavedAt time.Time
}

// New creates a Poller
func New(source Source, sink Sink, store Publisher, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 250 * time.Millisecond
	}
	if opts.HistoryInterval <= 0 {
		opts.HistoryInterval = defaultHistoryInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Component("poller")
	}
	return &Poller{
		source:          source,
		sink:            sink,
		store:           store,
		history:         opts.History,
		telemetry:       opts.Telemetry,
		logger:          logger,
		now:             opts.Now,
		interval:        opts.Interval,
		signOfLife:      opts.SignOfLife,
		historyInterval: opts.HistoryInterval,
	}
}

// Run polls until ctx is cancelled
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("Starting charger polling loop (interval: %v)", p.interval)

	// Initial poll
	p.PollOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var heartbeat <-chan time.Time
	if p.signOfLife > 0 {
		hb := time.NewTicker(p.signOfLife)
		defer hb.Stop()
		heartbeat = hb.C
	}

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Polling loop stopped")
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		case <-heartbeat:
			p.SignOfLife()
		}
	}
}

// PollOnce runs one cycle. Errors and panics are logged and never escape.
func (p *Poller) PollOnce(ctx context.Context) {
	start := p.now()
	result := metrics.ResultSuccess

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Poll cycle panicked: %v", r)
			result = metrics.ResultPanic
		}
		metrics.ObservePoll(result, p.now().Sub(start))
	}()

	snap, info, err := p.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		result = metrics.ResultUnavailable
		if errors.Is(err, lektrico.ErrMalformedResponse) || errors.Is(err, charger.ErrMalformedPayload) {
			result = metrics.ResultMalformed
		}
		p.sink.MarkUnavailable(err)
		return
	}

	p.sink.ApplyPolledSnapshot(snap)
	p.afterApply(ctx, snap, info)
}

func (p *Poller) fetch(ctx context.Context) (charger.Snapshot, *lektrico.ChargerInfo, error) {
	info, err := p.source.ChargerInfo(ctx)
	if err != nil {
		return charger.Snapshot{}, nil, fmt.Errorf("charger info: %w", err)
	}
	em, err := p.source.EnergyManagerConfig(ctx)
	if err != nil {
		return charger.Snapshot{}, nil, fmt.Errorf("energy manager config: %w", err)
	}
	snap, err := charger.Normalize(info, em)
	if err != nil {
		return charger.Snapshot{}, nil, err
	}
	return snap, info, nil
}

func (p *Poller) afterApply(ctx context.Context, snap charger.Snapshot, info *lektrico.ChargerInfo) {
	now := p.now()

	index, _ := p.store.Get(property.UpdateIndex)
	index++
	if index > maxUpdateIndex {
		index = 0
	}
	p.publish(property.UpdateIndex, index)

	if info.FirmwareVer != "" {
		p.publish(property.FirmwareVersion, float64(lektrico.FirmwareNumber(info.FirmwareVer)))
	}

	p.mu.Lock()
	p.lastUpdate = now
	identified := p.identified
	p.mu.Unlock()

	if !identified {
		p.identify(ctx)
	}

	if p.telemetry != nil {
		p.telemetry.WriteSnapshot(snap, now)
	}
	p.saveHistory(snap, now)

	p.logger.Debug("Charger %s: %vW, %vA set, mode %s", snap.Status, snap.InstantPower, snap.DynamicCurrent, snap.Mode())
}

// identify publishes the serial number once the charger answers
func (p *Poller) identify(ctx context.Context) {
	cfg, err := p.source.ChargerConfig(ctx)
	if err != nil {
		p.logger.Debug("Charger config not available yet: %v", err)
		return
	}
	serial := string(cfg.SerialNumber)
	if err := p.store.PublishText(property.Serial, serial); err != nil {
		p.logger.Debug("Publish %s failed: %v", property.Serial, err)
	}

	p.mu.Lock()
	p.identified = true
	p.mu.Unlock()
	p.logger.Info("Charger serial number: %s", serial)
}

// saveHistory stores a row when the charging state changed or the history
// interval elapsed.
func (p *Poller) saveHistory(snap charger.Snapshot, now time.Time) {
	if p.history == nil {
		return
	}

	p.mu.Lock()
	due := p.lastSaved == nil ||
		p.lastSaved.Status != snap.Status ||
		p.lastSaved.LoadBalancingMode != snap.LoadBalancingMode ||
		p.lastSaved.DynamicCurrent != snap.DynamicCurrent ||
		now.Sub(p.lastSavedAt) >= p.historyInterval
	if due {
		saved := snap
		p.lastSaved = &saved
		p.lastSavedAt = now
	}
	p.mu.Unlock()

	if !due {
		return
	}

	row := &storage.ChargerSnapshot{
		Status:            int(snap.Status),
		StartStop:         int(snap.StartStop()),
		Mode:              int(snap.Mode()),
		InstantPower:      snap.InstantPower,
		Voltage:           snap.Voltage,
		Current:           snap.Current,
		DynamicCurrent:    snap.DynamicCurrent,
		SessionEnergy:     snap.SessionEnergy,
		ChargingTime:      snap.ChargingTimeSeconds,
		Temperature:       snap.Temperature,
		LoadBalancingMode: snap.LoadBalancingMode,
		RecordedAt:        now,
	}
	if err := p.history.SaveChargerSnapshot(row); err != nil {
		p.logger.Error("Failed to save charger snapshot: %v", err)
	}
}

// SignOfLife logs the last successful poll and the last power reading
func (p *Poller) SignOfLife() {
	power, _ := p.store.Get(property.Power)
	p.logger.Info("--- Start: sign of life ---")
	p.logger.Info("Last poll: %s", formatTime(p.LastUpdate()))
	p.logger.Info("Last '%s': %v", property.Power, power)
	p.logger.Info("--- End: sign of life ---")
}

// LastUpdate returns the time of the last successful poll
func (p *Poller) LastUpdate() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastUpdate
}

func (p *Poller) publish(name string, v float64) {
	if err := p.store.Publish(name, v); err != nil {
		p.logger.Debug("Publish %s failed: %v", name, err)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(time.RFC3339)
}
