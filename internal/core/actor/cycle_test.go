package actor

import (
	"errors"
	"sync"
	"testing"
	"time"

	adactor "github.com/berfenger/homebattery2mqtt/internal/adapter/actor"
	"github.com/berfenger/homebattery2mqtt/internal/config"
	"github.com/berfenger/homebattery2mqtt/internal/core/channel"
	"github.com/berfenger/homebattery2mqtt/internal/core/domain"
	"github.com/berfenger/homebattery2mqtt/internal/core/regmap"
	"github.com/berfenger/homebattery2mqtt/internal/core/statemachine"
	"github.com/berfenger/homebattery2mqtt/internal/metrics"
	"github.com/berfenger/homebattery2mqtt/internal/util/actorutil"
	"github.com/berfenger/homebattery2mqtt/pkg/battery_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDevice struct {
	tbl   *channel.Table
	proto *regmap.Protocol

	mu         sync.Mutex
	polls      int
	lastReport regmap.Report
	target     statemachine.Target
	reconnect  func()
}

func newFakeDevice(t *testing.T) *fakeDevice {
	tbl := channel.NewTable()
	soc := tbl.Add(channel.Descriptor{Name: "SOC", Kind: channel.KindInt, Unit: "%"})
	power := tbl.Add(channel.Descriptor{Name: "SET_ACTIVE_POWER", Kind: channel.KindInt, Unit: "W", Access: channel.ReadWrite})

	var l regmap.TaskList
	l.Read(regmap.ReadHoldingRegisters, regmap.High, regmap.UnsignedWord(10, soc)).
		Write(regmap.WriteSingleRegister, regmap.SignedWord(20, power))
	tasks, err := l.Tasks()
	require.NoError(t, err)
	return &fakeDevice{tbl: tbl, proto: regmap.NewProtocol(tbl, tasks...), target: statemachine.TargetStop}
}

func (d *fakeDevice) Channels() *channel.Table   { return d.tbl }
func (d *fakeDevice) Protocol() *regmap.Protocol { return d.proto }
func (d *fakeDevice) OnBeforePoll(now time.Time) {}
func (d *fakeDevice) State() statemachine.State  { return statemachine.Undefined }
func (d *fakeDevice) SetReconnectHook(fn func()) { d.reconnect = fn }

func (d *fakeDevice) OnAfterPoll(now time.Time, report regmap.Report) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.polls++
	d.lastReport = report
}

func (d *fakeDevice) SetStartStop(target statemachine.Target) error {
	if target != statemachine.TargetStart && target != statemachine.TargetStop {
		return errors.New("invalid target")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.target = target
	return nil
}

func (d *fakeDevice) StartStopTarget() statemachine.Target {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.target
}

func (d *fakeDevice) Info() domain.BatteryInfo {
	return domain.BatteryInfo{Towers: 1, Known: true}
}

func (d *fakeDevice) report() (int, regmap.Report) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.polls, d.lastReport
}

type cycleFixture struct {
	as      *actor.ActorSystem
	pid     *actor.PID
	bank    *battery_modbus.RegisterBank
	device  *fakeDevice
	metrics *metrics.AppMetrics

	mu     sync.Mutex
	events []any
}

func (f *cycleFixture) received() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.events...)
}

func startCycle(t *testing.T, bank *battery_modbus.RegisterBank) *cycleFixture {
	logger := zap.Must(zap.NewDevelopment())
	cfg := &config.Config{Cycle: config.CycleConfig{IntervalMillis: 50, TimeoutMillis: 1000}}
	f := &cycleFixture{
		as:      actorutil.NewActorSystemWithZapLogger(logger),
		bank:    bank,
		device:  newFakeDevice(t),
		metrics: metrics.NewAppMetrics(metrics.NewRegistry()),
	}
	es := &eventstream.EventStream{}
	sub := es.Subscribe(func(ev any) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, ev)
	})

	modbusPID := f.as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewModbusActor(bank, time.Second, f.metrics, logger)
	}))
	f.pid = f.as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewCycleActor(cfg, f.device, modbusPID, es, f.metrics, logger)
	}))
	t.Cleanup(func() {
		es.Unsubscribe(sub)
		f.as.Root.Stop(f.pid)
		f.as.Root.Stop(modbusPID)
		f.as.Shutdown()
	})
	return f
}

func TestCyclePublishesChannelUpdates(t *testing.T) {

	require := require.New(t)

	bank := battery_modbus.NewRegisterBank()
	bank.Set(10, 64)
	f := startCycle(t, bank)

	require.Eventually(func() bool {
		for _, ev := range f.received() {
			if fev, ok := ev.(domain.FloatSensorUpdateEvent); ok && fev.SensorId() == "soc" && fev.Value == 64 {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)

	require.Eventually(func() bool {
		for _, ev := range f.received() {
			if sev, ok := ev.(domain.SwitchSensorUpdateEvent); ok && sev.SensorId() == domain.SWITCH_ID_BATTERY_RUN {
				return !sev.Value
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond, "battery_run switch follows the stop target")

	require.GreaterOrEqual(testutil.ToFloat64(f.metrics.CycleTotal.WithLabelValues("ok")), 1.0)
	require.Equal(2.0, testutil.ToFloat64(f.metrics.Channels))

	result, err := f.as.Root.RequestFuture(f.pid, domain.ActorHealthRequest{}, time.Second).Result()
	require.NoError(err)
	require.True(result.(domain.ActorHealthResponse).Healthy)
}

func TestCycleSetChannel(t *testing.T) {

	require := require.New(t)

	bank := battery_modbus.NewRegisterBank()
	f := startCycle(t, bank)

	result, err := f.as.Root.RequestFuture(f.pid, domain.SetChannelRequest{Name: "SET_ACTIVE_POWER", Value: "-1200"}, time.Second).Result()
	require.NoError(err)
	resp := result.(domain.SetChannelResponse)
	require.NoError(resp.GetResponseError())
	require.Equal("SET_ACTIVE_POWER", resp.Channel.Name)
	require.Equal(int64(-1200), resp.Channel.NextWrite)

	require.Eventually(func() bool {
		return bank.Get(20) == uint16(0xFFFF-1200+1)
	}, 3*time.Second, 20*time.Millisecond)

	result, err = f.as.Root.RequestFuture(f.pid, domain.SetChannelRequest{Name: "SOC", Value: 10}, time.Second).Result()
	require.NoError(err)
	require.ErrorIs(result.(domain.SetChannelResponse).GetResponseError(), channel.ErrReadOnly)

	result, err = f.as.Root.RequestFuture(f.pid, domain.GetChannelRequest{Name: "MISSING"}, time.Second).Result()
	require.NoError(err)
	require.ErrorIs(result.(domain.GetChannelResponse).GetResponseError(), channel.ErrUnknownChannel)

	result, err = f.as.Root.RequestFuture(f.pid, domain.GetChannelsRequest{}, time.Second).Result()
	require.NoError(err)
	require.Len(result.(domain.GetChannelsResponse).Channels, 2)
}

func TestCycleStartStop(t *testing.T) {

	require := require.New(t)

	f := startCycle(t, battery_modbus.NewRegisterBank())

	result, err := f.as.Root.RequestFuture(f.pid, domain.SetStartStopRequest{Target: statemachine.TargetAuto}, time.Second).Result()
	require.NoError(err)
	require.Error(result.(domain.SetStartStopResponse).GetResponseError())

	result, err = f.as.Root.RequestFuture(f.pid, domain.SetStartStopRequest{Target: statemachine.TargetStart}, time.Second).Result()
	require.NoError(err)
	resp := result.(domain.SetStartStopResponse)
	require.NoError(resp.GetResponseError())
	require.Equal(statemachine.TargetStart, resp.Target)

	require.Eventually(func() bool {
		for _, ev := range f.received() {
			if sev, ok := ev.(domain.SwitchSensorUpdateEvent); ok && sev.Value {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)

	result, err = f.as.Root.RequestFuture(f.pid, domain.GetBatteryInfoRequest{}, time.Second).Result()
	require.NoError(err)
	require.True(result.(domain.GetBatteryInfoResponse).Info.Known)
}

func TestCycleKeepsRunningWhenModbusFails(t *testing.T) {

	require := require.New(t)

	bank := battery_modbus.NewRegisterBank()
	bank.FailOpen(errors.New("connection refused"))
	f := startCycle(t, bank)

	require.Eventually(func() bool {
		polls, report := f.device.report()
		return polls >= 2 && report.Failed > 0 && report.Succeeded == 0
	}, 3*time.Second, 20*time.Millisecond)

	require.GreaterOrEqual(testutil.ToFloat64(f.metrics.CycleTotal.WithLabelValues("error")), 2.0)
	require.False(f.device.tbl.Get(f.device.tbl.MustLookup("SOC")).Defined())

	bank.FailOpen(nil)
	require.Eventually(func() bool {
		_, report := f.device.report()
		return report.Failed == 0 && report.Succeeded > 0
	}, 3*time.Second, 20*time.Millisecond)
}
