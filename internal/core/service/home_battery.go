package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/homebattery2mqtt/internal/core/channel"
	"github.com/berfenger/homebattery2mqtt/internal/core/port"
	"github.com/berfenger/homebattery2mqtt/internal/core/protection"
	"github.com/berfenger/homebattery2mqtt/internal/core/regmap"
	"github.com/berfenger/homebattery2mqtt/internal/core/statemachine"
	"go.uber.org/zap"
)

var ErrInvalidTarget = errors.New("invalid start/stop target")

type Config struct {
	// StartStop is START, STOP or AUTO. AUTO follows the target set with SetStartStop.
	StartStop        statemachine.Target
	MaxStartAttempts int
	MaxStopAttempts  int
	// CriticalMinCellVoltage in mV
	CriticalMinCellVoltage    int
	CriticalMinVoltageTimeout time.Duration
	StartUpRelayHold          time.Duration
	// zero disables the watchdog write
	WatchdogRegister uint16
	// zero means there is no start-up relay
	StartUpRelayRegister uint16
	Protection           protection.Definition
}

func DefaultConfig() Config {
	return Config{
		StartStop:                 statemachine.TargetStart,
		MaxStartAttempts:          120,
		MaxStopAttempts:           30,
		CriticalMinCellVoltage:    2800,
		CriticalMinVoltageTimeout: 10 * time.Minute,
		StartUpRelayHold:          10 * time.Second,
		Protection:                protection.DefaultDefinition(),
	}
}

// HomeBattery is a modular tower/module/cell battery behind a Modbus BMS.
// All methods must be called from the cycle owner, only the channel table may be read concurrently.
type HomeBattery struct {
	cfg    Config
	logger *zap.Logger

	tbl        *channel.Table
	proto      *regmap.Protocol
	protection *protection.BatteryProtection
	sm         *statemachine.StateMachine
	minVoltage *minVoltageSupervisor
	ch         channelIDs
	topo       topology

	internalTarget statemachine.Target
	commFailed     bool
	heartbeat      uint16

	step      goRunningStep
	stepSince time.Time

	reconnect func()
}

func NewHomeBattery(cfg Config, logger *zap.Logger) (*HomeBattery, error) {
	switch cfg.StartStop {
	case statemachine.TargetStart, statemachine.TargetStop, statemachine.TargetAuto:
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidTarget, cfg.StartStop)
	}
	if cfg.MaxStartAttempts <= 0 || cfg.MaxStopAttempts <= 0 {
		return nil, errors.New("max start/stop attempts must be positive")
	}
	prot, err := protection.New(cfg.Protection)
	if err != nil {
		return nil, err
	}

	tbl := channel.NewTable()
	b := &HomeBattery{
		cfg:        cfg,
		logger:     logger,
		tbl:        tbl,
		protection: prot,
		ch:         registerStaticChannels(tbl),
		topo:       newTopology(),
		minVoltage: newMinVoltageSupervisor(int64(cfg.CriticalMinCellVoltage), cfg.CriticalMinVoltageTimeout, logger),
	}
	b.sm = statemachine.New(b, cfg.MaxStartAttempts, cfg.MaxStopAttempts, logger)

	tasks, err := b.staticTasks()
	if err != nil {
		return nil, fmt.Errorf("register map: %w", err)
	}
	b.proto = regmap.NewProtocol(tbl, tasks...)
	return b, nil
}

func (b *HomeBattery) Channels() *channel.Table {
	return b.tbl
}

func (b *HomeBattery) Protocol() *regmap.Protocol {
	return b.proto
}

func (b *HomeBattery) State() statemachine.State {
	return b.sm.State()
}

// SetReconnectHook registers the function that re-establishes the Modbus connection during start-up.
func (b *HomeBattery) SetReconnectHook(fn func()) {
	b.reconnect = fn
}

// SetStartStop sets the target followed when the configured mode is AUTO.
func (b *HomeBattery) SetStartStop(target statemachine.Target) error {
	if target != statemachine.TargetStart && target != statemachine.TargetStop {
		return fmt.Errorf("%w: %s", ErrInvalidTarget, target)
	}
	if target != b.internalTarget {
		b.logger.Info("battery: start/stop target set",
			zap.Stringer("from", b.internalTarget), zap.Stringer("to", target))
		b.internalTarget = target
	}
	return nil
}

func (b *HomeBattery) StartStopTarget() statemachine.Target {
	if b.tbl.Get(b.ch.lowMinVoltageFault).BoolOr(false) {
		return statemachine.TargetStop
	}
	return statemachine.Resolve(b.cfg.StartStop, b.internalTarget)
}

func floatOf(v channel.Value) *float64 {
	f, ok := v.Float()
	if !ok {
		return nil
	}
	return &f
}

func intOf(v channel.Value) *int64 {
	i, ok := v.Int()
	if !ok {
		return nil
	}
	return &i
}

// OnBeforePoll computes the current limits from the values of the previous poll.
func (b *HomeBattery) OnBeforePoll(now time.Time) {
	get := b.tbl.Get
	out := b.protection.Apply(protection.Input{
		MinCellVoltage:         floatOf(get(b.ch.minCellVoltage)),
		MaxCellVoltage:         floatOf(get(b.ch.maxCellVoltage)),
		MinCellTemperature:     floatOf(get(b.ch.minCellTemperature)),
		MaxCellTemperature:     floatOf(get(b.ch.maxCellTemperature)),
		Soc:                    floatOf(get(b.ch.soc)),
		BmsMaxChargeCurrent:    floatOf(get(b.ch.bpChargeBms)),
		BmsMaxDischargeCurrent: floatOf(get(b.ch.bpDischargeBms)),
		Started:                get(b.ch.started).BoolOr(false),
	}, now)

	b.tbl.Set(b.ch.chargeMaxCurrent, channel.FloatValue(out.ChargeLimit))
	b.tbl.Set(b.ch.dischargeMaxCurrent, channel.FloatValue(out.DischargeLimit))
	b.tbl.Set(b.ch.allowedCharge, channel.FloatValue(out.AllowedCharge))
	b.tbl.Set(b.ch.allowedDischarge, channel.FloatValue(out.AllowedDischarge))
	b.tbl.Set(b.ch.maxEverCharge, channel.FloatValue(out.MaxEverCharge))
	b.tbl.Set(b.ch.maxEverDischarge, channel.FloatValue(out.MaxEverDischarge))
	b.tbl.Set(b.ch.forceChargeState, channel.EnumValue(int(out.ForceChargeState)))
	b.tbl.Set(b.ch.forceDischargeState, channel.EnumValue(int(out.ForceDischargeState)))
	b.tbl.Set(b.ch.protectionHeld, channel.BoolValue(out.Held))
}

// OnAfterPoll runs the supervision and the state machine on the freshly decoded values and grows the register
// map when the topology became known.
func (b *HomeBattery) OnAfterPoll(now time.Time, report regmap.Report) {
	// a single failing block is isolated to its channels, only a cycle without any answer is a link failure
	b.commFailed = report.Failed > 0 && report.Succeeded == 0
	b.tbl.Set(b.ch.commFailed, channel.BoolValue(b.commFailed))

	b.checkCriticalMinVoltage(now)
	b.handleStateMachine(now)

	if err := b.refreshTopology(); err != nil {
		b.logger.Error("battery@topology: cannot expand register map", zap.Error(err))
	}
}

func (b *HomeBattery) checkCriticalMinVoltage(now time.Time) {
	flags := b.minVoltage.check(minVoltageInput{
		MinCellVoltage: intOf(b.tbl.Get(b.ch.minCellVoltage)),
		Current:        floatOf(b.tbl.Get(b.ch.current)),
		Stopped:        b.sm.State() == statemachine.Stopped,
	}, now)
	b.tbl.Set(b.ch.lowMinVoltageWarning, channel.BoolValue(flags.Warning))
	b.tbl.Set(b.ch.lowMinVoltageFault, channel.BoolValue(flags.Fault))
	b.tbl.Set(b.ch.lowMinVoltageStop, channel.BoolValue(flags.FaultNoRestart))
}

func (b *HomeBattery) handleStateMachine(now time.Time) {
	target := b.StartStopTarget()
	b.tbl.Set(b.ch.startStopTarget, channel.EnumValue(int(target)))

	err := b.sm.Run(statemachine.Context{Target: target, Now: now})
	b.tbl.Set(b.ch.runFailed, channel.BoolValue(err != nil))
	if err != nil {
		b.logger.Error(fmt.Sprintf("battery@%s: state machine failed", b.sm.State()), zap.Error(err))
	}

	state := b.sm.State()
	b.tbl.Set(b.ch.stateMachine, channel.EnumValue(int(state)))
	b.tbl.Set(b.ch.maxStartAttempts, channel.BoolValue(b.sm.MaxStartAttemptsFailed()))
	b.tbl.Set(b.ch.maxStopAttempts, channel.BoolValue(b.sm.MaxStopAttemptsFailed()))
	b.tbl.Set(b.ch.started, channel.BoolValue(state == statemachine.Running))
	switch state {
	case statemachine.Running:
		b.tbl.Set(b.ch.startStop, channel.EnumValue(int(statemachine.TargetStart)))
	case statemachine.Stopped:
		b.tbl.Set(b.ch.startStop, channel.EnumValue(int(statemachine.TargetStop)))
	default:
		b.tbl.Set(b.ch.startStop, channel.EnumValue(int(statemachine.TargetUndefined)))
	}
}

func (b *HomeBattery) relayEnabled() bool {
	return b.cfg.StartUpRelayRegister != 0
}

// switchRelay requests the relay position, it is written on the following polls until confirmed.
func (b *HomeBattery) switchRelay(on bool) error {
	if !b.relayEnabled() {
		return nil
	}
	if cur, ok := b.tbl.Get(b.ch.startUpRelay).Bool(); ok && cur == on {
		return nil
	}
	if next, ok := b.tbl.PendingWrite(b.ch.startUpRelay); ok && next.BoolOr(!on) == on {
		return nil
	}
	pos := "OFF"
	if on {
		pos = "ON"
	}
	b.logger.Info("battery: switching start-up relay " + pos)
	return b.tbl.ProposeWrite(b.ch.startUpRelay, channel.BoolValue(on))
}

func (b *HomeBattery) relayIs(on bool) bool {
	cur, ok := b.tbl.Get(b.ch.startUpRelay).Bool()
	return ok && cur == on
}

func (b *HomeBattery) bmsControl() bool {
	return b.tbl.Get(b.ch.bmsControl).BoolOr(false)
}

func (b *HomeBattery) IsRunning() bool {
	return b.bmsControl() && !b.commFailed
}

func (b *HomeBattery) IsStopped() bool {
	return !b.relayEnabled() || b.relayIs(false)
}

// Heartbeat writes an increasing counter to the watchdog register.
func (b *HomeBattery) Heartbeat(_ *statemachine.Context) error {
	if b.cfg.WatchdogRegister == 0 {
		return nil
	}
	b.heartbeat++
	return b.tbl.ProposeWrite(b.ch.watchdog, channel.IntValue(int32(b.heartbeat)))
}

func (b *HomeBattery) GoRunning(ctx *statemachine.Context) (bool, error) {
	if err := b.Heartbeat(ctx); err != nil {
		return false, err
	}
	next, err := b.nextGoRunningStep(ctx.Now)
	if err != nil {
		return false, err
	}
	if next != b.step {
		b.logger.Info(fmt.Sprintf("battery@go_running: %s -> %s", b.step, next))
		b.step = next
		b.stepSince = ctx.Now
		b.tbl.Set(b.ch.goRunningStep, channel.EnumValue(int(next)))
	}
	return b.step == stepFinished, nil
}

func (b *HomeBattery) GoStopped(_ *statemachine.Context) (bool, error) {
	if err := b.switchRelay(false); err != nil {
		return false, err
	}
	return b.IsStopped(), nil
}

func (b *HomeBattery) OnEnter(ctx *statemachine.Context, state statemachine.State) {
	b.tbl.Set(b.ch.stateMachine, channel.EnumValue(int(state)))
	if state == statemachine.GoRunning {
		b.step = stepUndefined
		b.stepSince = ctx.Now
		b.tbl.Set(b.ch.goRunningStep, channel.EnumValue(int(stepUndefined)))
	}
}

// ensure interface compliance
var (
	_ port.CycleDevice    = (*HomeBattery)(nil)
	_ statemachine.Device = (*HomeBattery)(nil)
)
