package actor

import (
	"strings"
	"sync"
	"testing"
	"time"

	adactor "github.com/berfenger/homebattery2mqtt/internal/adapter/actor"
	"github.com/berfenger/homebattery2mqtt/internal/core/domain"
	"github.com/berfenger/homebattery2mqtt/internal/core/statemachine"
	"github.com/berfenger/homebattery2mqtt/internal/metrics"
	"github.com/berfenger/homebattery2mqtt/internal/mqtt"
	"github.com/berfenger/homebattery2mqtt/internal/util"
	"github.com/berfenger/homebattery2mqtt/internal/util/actorutil"
	"github.com/berfenger/homebattery2mqtt/pkg/battery_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type publishedTopics struct {
	mu     sync.Mutex
	topics map[string]string
}

func (p *publishedTopics) record(topic, payload string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics[topic] = payload
}

func (p *publishedTopics) withPrefix(prefix string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for topic := range p.topics {
		if strings.HasPrefix(topic, prefix) {
			n++
		}
	}
	return n
}

func TestMasterActor(t *testing.T) {

	require := require.New(t)

	cfg := util.LoadTestConfig()
	cfg.MQTT.HADiscoveryEnable = true
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	bank := battery_modbus.NewRegisterBank()
	bank.Set(10, 42)
	device := newFakeDevice(t)
	m := metrics.NewAppMetrics(metrics.NewRegistry())
	published := &publishedTopics{topics: map[string]string{}}

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfPuppetsActor(cfg, device, func() *adactor.ModbusActor {
			return adactor.NewModbusActor(bank, time.Second, m, logger)
		}, func(es *eventstream.EventStream) *adactor.MQTTActor {
			return adactor.NewTestMQTTActor(&cfg, es, published.record, logger)
		}, m, logger)
	})
	pid, err := context.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	require.NoError(err)
	defer func() {
		context.Stop(pid)
		as.Shutdown()
	}()

	require.Eventually(func() bool {
		res, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
		if err != nil {
			return false
		}
		healthResp, ok := res.(domain.ActorHealthResponse)
		return ok && healthResp.Healthy
	}, 5*time.Second, 100*time.Millisecond, "master becomes healthy")

	// requests are answered by the cycle actor
	res, err := context.RequestFuture(pid, domain.GetChannelRequest{Name: "SOC"}, time.Second).Result()
	require.NoError(err)
	require.Equal(int64(42), res.(domain.GetChannelResponse).Channel.Value)

	// MQTT switch command
	context.Send(pid, adactor.ParsedCommand{Command: &mqtt.ParsedMQTTCommand{
		DeviceId: domain.SWITCH_ID_BATTERY_RUN,
		Command:  mqtt.COMMAND_SWITCH,
		Payload:  mqtt.MQTT_PAYLOAD_ON,
	}})
	require.Eventually(func() bool {
		return device.StartStopTarget() == statemachine.TargetStart
	}, 2*time.Second, 20*time.Millisecond)

	require.Eventually(func() bool {
		return published.withPrefix("homeassistant/") > 0 &&
			published.withPrefix("homebattery/sensor/soc/state") == 1 &&
			published.withPrefix("homebattery/switch/battery_run/state") == 1
	}, 5*time.Second, 50*time.Millisecond, "discovery and states are published")
}
