package statemachine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testDevice struct {
	running    bool
	stopped    bool
	startAfter int
	startCalls int
	stopCalls  int
	heartbeats int
	failStart  error
	entered    []State
}

func (d *testDevice) IsRunning() bool { return d.running }
func (d *testDevice) IsStopped() bool { return d.stopped }

func (d *testDevice) Heartbeat(_ *Context) error {
	d.heartbeats++
	return nil
}

func (d *testDevice) GoRunning(_ *Context) (bool, error) {
	d.startCalls++
	if d.failStart != nil {
		return false, d.failStart
	}
	if d.startAfter > 0 && d.startCalls >= d.startAfter {
		d.running = true
		d.stopped = false
		return true, nil
	}
	return false, nil
}

func (d *testDevice) GoStopped(_ *Context) (bool, error) {
	d.stopCalls++
	d.running = false
	d.stopped = true
	return true, nil
}

func (d *testDevice) OnEnter(_ *Context, s State) {
	d.entered = append(d.entered, s)
}

func run(m *StateMachine, target Target, now *time.Time) error {
	*now = now.Add(time.Second)
	return m.Run(Context{Target: target, Now: *now})
}

func TestStartAndStop(t *testing.T) {

	require := require.New(t)

	dev := &testDevice{stopped: true, startAfter: 2}
	m := New(dev, 5, 5, zap.NewNop())
	now := time.Now()

	require.NoError(run(m, TargetStart, &now))
	require.Equal(GoRunning, m.State())
	require.NoError(run(m, TargetStart, &now))
	require.Equal(GoRunning, m.State())
	require.Equal(1, m.StartAttempts())
	require.NoError(run(m, TargetStart, &now))
	require.Equal(Running, m.State())
	require.Equal(0, m.StartAttempts())

	require.NoError(run(m, TargetStart, &now))
	require.Equal(1, dev.heartbeats, "heartbeat every running cycle")

	require.NoError(run(m, TargetStop, &now))
	require.Equal(GoStopped, m.State())
	require.NoError(run(m, TargetStop, &now))
	require.Equal(Stopped, m.State())
	require.Equal([]State{GoRunning, Running, Undefined, GoStopped, Stopped}, dev.entered)
}

func TestRetryBound(t *testing.T) {

	require := require.New(t)

	const maxAttempts = 4
	dev := &testDevice{stopped: true}
	m := New(dev, maxAttempts, maxAttempts, zap.NewNop())
	now := time.Now()

	require.NoError(run(m, TargetStart, &now))
	require.Equal(GoRunning, m.State())
	for i := 1; i < maxAttempts; i++ {
		require.NoError(run(m, TargetStart, &now))
		require.Equal(GoRunning, m.State(), "attempt %d", i)
		require.False(m.MaxStartAttemptsFailed())
	}
	require.NoError(run(m, TargetStart, &now))
	require.Equal(Error, m.State())
	require.True(m.MaxStartAttemptsFailed())
	require.Equal(maxAttempts, dev.startCalls)

	// terminal until the target changes
	require.NoError(run(m, TargetStart, &now))
	require.Equal(Error, m.State())

	require.NoError(run(m, TargetStop, &now))
	require.False(m.MaxStartAttemptsFailed())
	require.Equal(0, m.StartAttempts())
	require.Equal(0, m.StopAttempts())
	require.Equal(Stopped, m.State())
}

func TestTargetChangeResetsAttempts(t *testing.T) {

	require := require.New(t)

	dev := &testDevice{stopped: true}
	m := New(dev, 10, 10, zap.NewNop())
	now := time.Now()

	for i := 0; i < 4; i++ {
		require.NoError(run(m, TargetStart, &now))
	}
	require.Equal(3, m.StartAttempts())

	require.NoError(run(m, TargetStop, &now))
	require.Equal(0, m.StartAttempts())
	require.NoError(run(m, TargetStart, &now))
	require.Equal(0, m.StartAttempts())
	require.Equal(GoRunning, m.State())
}

func TestHandlerErrorKeepsState(t *testing.T) {

	require := require.New(t)

	dev := &testDevice{stopped: true, failStart: errors.New("write failed")}
	m := New(dev, 10, 10, zap.NewNop())
	now := time.Now()

	require.NoError(run(m, TargetStart, &now))
	err := run(m, TargetStart, &now)
	require.Error(err)
	require.Equal(GoRunning, m.State())

	dev.failStart = nil
	dev.startAfter = 1
	require.NoError(run(m, TargetStart, &now))
	require.Equal(Running, m.State())
}

func TestForceNextState(t *testing.T) {

	require := require.New(t)

	dev := &testDevice{running: true}
	m := New(dev, 3, 3, zap.NewNop())
	now := time.Now()

	require.NoError(run(m, TargetStart, &now))
	require.Equal(Running, m.State())

	m.ForceNextState(Undefined)
	dev.running = false
	require.NoError(run(m, TargetStart, &now))
	require.Equal(GoRunning, m.State())
}

func TestResolveTarget(t *testing.T) {

	require := require.New(t)

	require.Equal(TargetStop, Resolve(TargetAuto, TargetStop))
	require.Equal(TargetStart, Resolve(TargetStart, TargetStop))
	require.Equal(TargetStop, Resolve(TargetStop, TargetStart))

	tg, err := ParseTarget(" auto ")
	require.NoError(err)
	require.Equal(TargetAuto, tg)
	_, err = ParseTarget("maybe")
	require.Error(err)
}
