// Package gateway translates property changes into charger RPC commands.
package gateway

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/gregjohnson/lektrico-bridge/internal/charger"
	"github.com/gregjohnson/lektrico-bridge/internal/lektrico"
	"github.com/gregjohnson/lektrico-bridge/internal/log"
	"github.com/gregjohnson/lektrico-bridge/internal/metrics"
	"github.com/gregjohnson/lektrico-bridge/internal/storage"
)

// Kind is the type of device command
type Kind int

const (
	KindStart Kind = iota
	KindStop
	KindSetCurrent
	KindSetMode
)

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindStop:
		return "stop"
	case KindSetCurrent:
		return "set_current"
	case KindSetMode:
		return "set_mode"
	default:
		return "unknown"
	}
}

// Command is a single outbound device command. Param overrides the RPC
// parameter name for KindSetCurrent. SequenceID ties the command to a
// multi-step sequence in the journal.
type Command struct {
	Kind       Kind
	Value      float64
	Param      string
	SequenceID string
}

// Transport performs the RPC round trip
type Transport interface {
	Call(ctx context.Context, target lektrico.Target, method string, params map[string]interface{}) (*lektrico.RPCResponse, error)
}

// Journal records command attempts
type Journal interface {
	RecordCommand(rec *storage.CommandRecord) error
}

// Options configures a Gateway
type Options struct {
	SessionTag string
	Journal    Journal
	Logger     *log.Logger
}

// Gateway issues device commands and reduces every outcome to a bool
type Gateway struct {
	transport  Transport
	sessionTag string
	journal    Journal
	logger     *log.Logger
	now        func() time.Time
}

// New creates a Gateway over transport
func New(transport Transport, opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = log.Component("gateway")
	}
	tag := opts.SessionTag
	if tag == "" {
		tag = "Victron"
	}
	return &Gateway{
		transport:  transport,
		sessionTag: tag,
		journal:    opts.Journal,
		logger:     logger,
		now:        time.Now,
	}
}

// Send issues cmd and reports whether the device acknowledged it. It never
// returns an error or panics; failures are logged and journaled.
func (g *Gateway) Send(ctx context.Context, cmd Command) (ok bool) {
	start := g.now()
	var method string
	var target lektrico.Target
	var sendErr error

	defer func() {
		if r := recover(); r != nil {
			sendErr = fmt.Errorf("%w: panic: %v", ErrTransport, r)
			ok = false
		}
		g.finish(cmd, target, method, start, ok, sendErr)
	}()

	target, method, params, err := g.build(cmd)
	if err != nil {
		sendErr = err
		return false
	}

	g.logger.Info("Sending %s (%s) value=%v", cmd.Kind, method, cmd.Value)

	resp, err := g.transport.Call(ctx, target, method, params)
	if err != nil {
		sendErr = fmt.Errorf("%w: %v", ErrTransport, err)
		return false
	}
	if !resp.Succeeded() {
		sendErr = rejection(resp)
		return false
	}
	return true
}

func (g *Gateway) build(cmd Command) (lektrico.Target, string, map[string]interface{}, error) {
	switch cmd.Kind {
	case KindStart:
		return lektrico.TargetCharger, lektrico.MethodChargeStart,
			map[string]interface{}{lektrico.ParamTag: g.sessionTag}, nil

	case KindStop:
		return lektrico.TargetCharger, lektrico.MethodChargeStop,
			map[string]interface{}{lektrico.ParamTag: g.sessionTag}, nil

	case KindSetCurrent:
		if !charger.ValidCurrent(cmd.Value) {
			return 0, lektrico.MethodDynamicCurrentSet, nil, fmt.Errorf("%w: current %v", ErrInvalidCommand, cmd.Value)
		}
		param := cmd.Param
		if param == "" {
			param = lektrico.ParamDynamicCurrent
		}
		return lektrico.TargetCharger, lektrico.MethodDynamicCurrentSet,
			map[string]interface{}{param: int(math.Round(cmd.Value))}, nil

	case KindSetMode:
		if math.IsInf(cmd.Value, 0) || cmd.Value != math.Trunc(cmd.Value) {
			return lektrico.TargetEnergyManager, lektrico.MethodAppConfigSet, nil, fmt.Errorf("%w: mode %v", ErrInvalidCommand, cmd.Value)
		}
		native, err := charger.NativeFromMode(charger.Mode(int(cmd.Value)))
		if err != nil {
			return lektrico.TargetEnergyManager, lektrico.MethodAppConfigSet, nil, fmt.Errorf("%w: mode %v", ErrInvalidCommand, cmd.Value)
		}
		return lektrico.TargetEnergyManager, lektrico.MethodAppConfigSet, map[string]interface{}{
			lektrico.ParamConfigKey:   lektrico.ConfigKeyLoadBalancing,
			lektrico.ParamConfigValue: native,
		}, nil

	default:
		return 0, "", nil, fmt.Errorf("%w: kind %d", ErrInvalidCommand, int(cmd.Kind))
	}
}

func (g *Gateway) finish(cmd Command, target lektrico.Target, method string, start time.Time, ok bool, err error) {
	elapsed := g.now().Sub(start)
	metrics.ObserveCommand(cmd.Kind.String(), ok, elapsed)

	if ok {
		g.logger.Info("%s succeeded in %v", cmd.Kind, elapsed.Round(time.Millisecond))
	} else {
		g.logger.Warn("%s failed: %v", cmd.Kind, err)
	}

	if g.journal == nil {
		return
	}
	rec := &storage.CommandRecord{
		SequenceID:     cmd.SequenceID,
		Kind:           cmd.Kind.String(),
		Method:         method,
		Target:         target.String(),
		Value:          cmd.Value,
		Success:        ok,
		DurationMillis: elapsed.Milliseconds(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if jerr := g.journal.RecordCommand(rec); jerr != nil {
		g.logger.Debug("Failed to journal command: %v", jerr)
	}
}

func rejection(resp *lektrico.RPCResponse) error {
	if resp == nil {
		return fmt.Errorf("%w: empty response", ErrCommandRejected)
	}
	if len(resp.Error) > 0 {
		return fmt.Errorf("%w: %s", ErrCommandRejected, resp.Error)
	}
	if resp.Result == nil {
		return fmt.Errorf("%w: no result in response", ErrCommandRejected)
	}
	return ErrCommandRejected
}
