package actor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/berfenger/homebattery2mqtt/internal/core/channel"
	"github.com/berfenger/homebattery2mqtt/internal/core/domain"
	"github.com/berfenger/homebattery2mqtt/internal/core/regmap"
	"github.com/berfenger/homebattery2mqtt/internal/util/actorutil"
	"github.com/berfenger/homebattery2mqtt/pkg/battery_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testProtocol(t *testing.T) (*regmap.Protocol, *channel.Table, channel.ID, channel.ID) {
	tbl := channel.NewTable()
	soc := tbl.Add(channel.Descriptor{Name: "SOC", Kind: channel.KindInt})
	cmd := tbl.Add(channel.Descriptor{Name: "START_STOP", Kind: channel.KindInt, Access: channel.ReadWrite})

	var l regmap.TaskList
	l.Read(regmap.ReadHoldingRegisters, regmap.High, regmap.UnsignedWord(10, soc)).
		Write(regmap.WriteSingleRegister, regmap.UnsignedWord(20, cmd))
	tasks, err := l.Tasks()
	require.NoError(t, err)
	return regmap.NewProtocol(tbl, tasks...), tbl, soc, cmd
}

func spawnModbusActor(t *testing.T, bank *battery_modbus.RegisterBank, timeout time.Duration) (*actor.ActorSystem, *actor.PID) {
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	props := actor.PropsFromProducer(func() actor.Actor { return NewModbusActor(bank, timeout, nil, logger) })
	pid := as.Root.Spawn(props)
	t.Cleanup(func() {
		as.Root.Stop(pid)
		as.Shutdown()
	})
	return as, pid
}

func executePlan(t *testing.T, as *actor.ActorSystem, pid *actor.PID, plan regmap.Plan) domain.ExecutePlanResponse {
	result, err := as.Root.RequestFuture(pid, domain.ExecutePlanRequest{Plan: plan}, 5*time.Second).Result()
	require.NoError(t, err)
	resp, ok := result.(domain.ExecutePlanResponse)
	require.True(t, ok)
	return resp
}

func TestRegisterTransport(t *testing.T) {

	assert := assert.New(t)

	bank := battery_modbus.NewRegisterBank()
	bank.Set(100, 1, 2, 3)
	assert.NoError(bank.Open())
	tr := NewRegisterTransport(bank)

	values, err := tr.ReadRegisters(context.Background(), regmap.ReadInputRegisters, 100, 3)
	assert.NoError(err)
	assert.Equal([]uint16{1, 2, 3}, values)

	assert.NoError(tr.WriteRegisters(context.Background(), regmap.WriteMultipleRegisters, 200, []uint16{7, 8}))
	assert.Equal(uint16(8), bank.Get(201))

	err = tr.WriteRegisters(context.Background(), regmap.WriteSingleRegister, 300, []uint16{1, 2})
	assert.ErrorIs(err, ErrUnsupportedFunction)

	_, err = tr.ReadRegisters(context.Background(), regmap.WriteSingleRegister, 100, 1)
	assert.ErrorIs(err, ErrUnsupportedFunction)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tr.ReadRegisters(ctx, regmap.ReadHoldingRegisters, 100, 1)
	assert.ErrorIs(err, context.Canceled)
}

func TestExecutePlanModbusActor(t *testing.T) {

	require := require.New(t)

	bank := battery_modbus.NewRegisterBank()
	bank.Set(10, 87)
	as, pid := spawnModbusActor(t, bank, 5*time.Second)

	proto, tbl, soc, cmd := testProtocol(t)
	require.NoError(tbl.ProposeWrite(cmd, channel.IntValue(1)))

	plan := proto.Plan()
	resp := executePlan(t, as, pid, plan)
	require.NoError(resp.GetResponseError())

	report := proto.Apply(plan, resp.Results)
	require.Zero(report.Failed)
	require.Equal(int64(87), tbl.Get(soc).IntOr(-1))
	require.Equal(uint16(1), bank.Get(20))
	require.True(bank.IsOpen())
}

func TestReconnectAfterFailedPlanModbusActor(t *testing.T) {

	require := require.New(t)

	bank := battery_modbus.NewRegisterBank()
	bank.FailOpen(errors.New("connection refused"))
	as, pid := spawnModbusActor(t, bank, 5*time.Second)

	proto, _, _, _ := testProtocol(t)
	resp := executePlan(t, as, pid, proto.Plan())
	require.Error(resp.GetResponseError())
	require.Len(resp.Results.Reads, 1)
	require.Error(resp.Results.Reads[0].Err)
	require.Zero(bank.Opens())

	// the gateway is back
	bank.FailOpen(nil)
	resp = executePlan(t, as, pid, proto.Plan())
	require.NoError(resp.GetResponseError())
	require.Equal(1, bank.Opens())

	// every request fails, the connection is dropped and reopened on the next plan
	bank.FailReads(10, errors.New("timeout"))
	resp = executePlan(t, as, pid, proto.Plan())
	require.Error(resp.GetResponseError())
	require.False(bank.IsOpen())

	bank.FailReads(10, nil)
	resp = executePlan(t, as, pid, proto.Plan())
	require.NoError(resp.GetResponseError())
	require.Equal(2, bank.Opens())
}

func TestReconnectRequestModbusActor(t *testing.T) {

	require := require.New(t)

	bank := battery_modbus.NewRegisterBank()
	as, pid := spawnModbusActor(t, bank, 5*time.Second)

	result, err := as.Root.RequestFuture(pid, domain.ReconnectRequest{}, 5*time.Second).Result()
	require.NoError(err)
	require.NoError(result.(domain.ReconnectResponse).GetResponseError())
	require.Equal(2, bank.Opens())
	require.True(bank.IsOpen())

	result, err = as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, 5*time.Second).Result()
	require.NoError(err)
	health := result.(domain.ActorHealthResponse)
	require.True(health.Healthy)
	require.Equal(domain.ACTOR_ID_MODBUS, health.Id)
}

func TestTimedOutPlanKeepsSessionExclusive(t *testing.T) {

	require := require.New(t)

	bank := battery_modbus.NewRegisterBank()
	bank.Set(10, 87)
	release := make(chan struct{})
	bank.BlockReads(10, release)
	as, pid := spawnModbusActor(t, bank, 200*time.Millisecond)

	proto, tbl, soc, _ := testProtocol(t)

	// the first read hangs past the timeout, the second plan must not run next to it
	resp := executePlan(t, as, pid, proto.Plan())
	require.Error(resp.GetResponseError())
	require.Error(resp.Results.Reads[0].Err)
	resp = executePlan(t, as, pid, proto.Plan())
	require.Error(resp.GetResponseError())

	bank.BlockReads(10, nil)
	close(release)

	require.Eventually(func() bool {
		plan := proto.Plan()
		result, err := as.Root.RequestFuture(pid, domain.ExecutePlanRequest{Plan: plan}, time.Second).Result()
		if err != nil {
			return false
		}
		resp, ok := result.(domain.ExecutePlanResponse)
		if !ok || resp.HasResponseError() {
			return false
		}
		return proto.Apply(plan, resp.Results).Failed == 0
	}, 3*time.Second, 50*time.Millisecond)
	require.Equal(int64(87), tbl.Get(soc).IntOr(-1))
	require.Equal(1, bank.MaxConcurrentReads())
}
