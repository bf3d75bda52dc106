package statemachine

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

type State int

const (
	Undefined State = iota
	GoRunning
	Running
	GoStopped
	Stopped
	Error
)

var stateNames = []string{"UNDEFINED", "GO_RUNNING", "RUNNING", "GO_STOPPED", "STOPPED", "ERROR"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("STATE_%d", int(s))
}

func States() []State {
	return []State{Undefined, GoRunning, Running, GoStopped, Stopped, Error}
}

type Target int

const (
	TargetUndefined Target = iota
	TargetStart
	TargetStop
	TargetAuto
)

func (t Target) String() string {
	switch t {
	case TargetStart:
		return "START"
	case TargetStop:
		return "STOP"
	case TargetAuto:
		return "AUTO"
	}
	return "UNDEFINED"
}

func ParseTarget(s string) (Target, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "START":
		return TargetStart, nil
	case "STOP":
		return TargetStop, nil
	case "AUTO":
		return TargetAuto, nil
	}
	return TargetUndefined, fmt.Errorf("invalid start/stop target %q", s)
}

// Resolve returns the effective target: AUTO defers to the internal one, START and STOP force.
func Resolve(configured, internal Target) Target {
	if configured == TargetAuto {
		return internal
	}
	return configured
}

// Device is the hardware specific part of the machine.
type Device interface {
	// IsRunning is the hardware running indicator.
	IsRunning() bool
	IsStopped() bool
	// Heartbeat refreshes the device watchdog.
	Heartbeat(ctx *Context) error
	// GoRunning advances the start-up handshake, done reports that the device runs.
	GoRunning(ctx *Context) (done bool, err error)
	// GoStopped advances the shutdown handshake.
	GoStopped(ctx *Context) (done bool, err error)
	// OnEnter is called on every state change.
	OnEnter(ctx *Context, state State)
}

// Context is the per-cycle input of the machine.
type Context struct {
	Target Target
	Now    time.Time

	enteredAt time.Time
}

// InStateFor returns how long the machine has been in its current state.
func (c *Context) InStateFor() time.Duration {
	if c.enteredAt.IsZero() {
		return 0
	}
	return c.Now.Sub(c.enteredAt)
}

type StateMachine struct {
	device   Device
	maxStart int
	maxStop  int
	logger   *zap.Logger

	state     State
	forced    *State
	target    Target
	enteredAt time.Time

	startAttempts int
	stopAttempts  int
	startFailed   bool
	stopFailed    bool
}

func New(device Device, maxStartAttempts, maxStopAttempts int, logger *zap.Logger) *StateMachine {
	return &StateMachine{
		device:   device,
		maxStart: maxStartAttempts,
		maxStop:  maxStopAttempts,
		logger:   logger,
	}
}

func (m *StateMachine) State() State {
	return m.state
}

func (m *StateMachine) StartAttempts() int {
	return m.startAttempts
}

func (m *StateMachine) StopAttempts() int {
	return m.stopAttempts
}

// MaxStartAttemptsFailed is set when start-up exhausted its attempts.
func (m *StateMachine) MaxStartAttemptsFailed() bool {
	return m.startFailed
}

func (m *StateMachine) MaxStopAttemptsFailed() bool {
	return m.stopFailed
}

// ForceNextState makes the next Run start from state s.
func (m *StateMachine) ForceNextState(s State) {
	m.forced = &s
}

func (m *StateMachine) reset() {
	m.startAttempts = 0
	m.stopAttempts = 0
	m.startFailed = false
	m.stopFailed = false
}

// Run executes one cycle. A handler error keeps the current state, it is returned to be reported.
func (m *StateMachine) Run(ctx Context) error {
	if ctx.Target != m.target {
		m.logger.Info("statemachine: target changed",
			zap.Stringer("from", m.target), zap.Stringer("to", ctx.Target))
		m.target = ctx.Target
		m.reset()
		m.ForceNextState(Undefined)
	}
	if m.forced != nil {
		forced := *m.forced
		m.forced = nil
		m.transition(&ctx, forced)
	}
	ctx.enteredAt = m.enteredAt

	next, err := m.handle(&ctx)
	m.transition(&ctx, next)
	return err
}

func (m *StateMachine) transition(ctx *Context, next State) {
	if next == m.state {
		return
	}
	m.logger.Info(fmt.Sprintf("statemachine: %s -> %s", m.state, next))
	m.state = next
	m.enteredAt = ctx.Now
	ctx.enteredAt = ctx.Now
	m.device.OnEnter(ctx, next)
}

func (m *StateMachine) handle(ctx *Context) (State, error) {
	switch m.state {
	case Undefined:
		switch ctx.Target {
		case TargetStart:
			if m.device.IsRunning() {
				return Running, nil
			}
			return GoRunning, nil
		case TargetStop:
			if m.device.IsStopped() {
				return Stopped, nil
			}
			return GoStopped, nil
		}
		return Undefined, nil

	case GoRunning:
		done, err := m.device.GoRunning(ctx)
		if err == nil && done {
			m.startAttempts = 0
			return Running, nil
		}
		m.startAttempts++
		if m.startAttempts >= m.maxStart {
			m.startFailed = true
			m.logger.Warn("statemachine: max start attempts reached", zap.Int("attempts", m.startAttempts))
			return Error, err
		}
		return GoRunning, err

	case Running:
		if ctx.Target == TargetStop {
			return GoStopped, nil
		}
		if !m.device.IsRunning() {
			return Undefined, nil
		}
		return Running, m.device.Heartbeat(ctx)

	case GoStopped:
		done, err := m.device.GoStopped(ctx)
		if err == nil && done {
			m.stopAttempts = 0
			return Stopped, nil
		}
		m.stopAttempts++
		if m.stopAttempts >= m.maxStop {
			m.stopFailed = true
			m.logger.Warn("statemachine: max stop attempts reached", zap.Int("attempts", m.stopAttempts))
			return Error, err
		}
		return GoStopped, err

	case Stopped:
		if ctx.Target == TargetStart {
			return GoRunning, nil
		}
		if !m.device.IsStopped() {
			return Undefined, nil
		}
		return Stopped, nil

	case Error:
		// wait for a target change
		return Error, nil
	}
	return Undefined, fmt.Errorf("unknown state %d", m.state)
}
