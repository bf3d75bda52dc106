package actor

import (
	"sync"
	"testing"
	"time"

	"github.com/berfenger/homebattery2mqtt/internal/config"
	"github.com/berfenger/homebattery2mqtt/internal/core/domain"
	"github.com/berfenger/homebattery2mqtt/internal/mqtt"
	"github.com/berfenger/homebattery2mqtt/internal/util"
	"github.com/berfenger/homebattery2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEvent2MQTTMessage(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	client := mqtt.CreateMQTTClient(&cfg, mqtt.OptsFromConfig(&cfg), nil, nil)

	msg := event2MQTTMessage(client, domain.FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: "soc"},
		Value:                  55.26,
		Decimals:               1,
	})
	assert.Equal("homebattery/sensor/soc/state", msg.topic)
	assert.Equal("55.3", msg.message)
	assert.False(msg.retain)

	msg = event2MQTTMessage(client, domain.SwitchSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: domain.SWITCH_ID_BATTERY_RUN},
		Value:                  true,
	})
	assert.Equal("homebattery/switch/battery_run/state", msg.topic)
	assert.Equal(mqtt.MQTT_PAYLOAD_ON, msg.message)
	assert.True(msg.retain)

	msg = event2MQTTMessage(client, domain.TextSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: "state_machine"},
		Value:                  "RUNNING",
	})
	assert.Equal("homebattery/sensor/state_machine/state", msg.topic)
	assert.Equal("RUNNING", msg.message)

	msg = event2MQTTMessage(client, domain.BridgeStateUpdateEvent{Value: false})
	assert.Equal("homebattery/bridge/state", msg.topic)
	assert.Equal(mqtt.MQTT_PAYLOAD_OFFLINE, msg.message)

	assert.Nil(event2MQTTMessage(client, "not an event"))
}

func TestMQTTActor(t *testing.T) {

	require := require.New(t)

	cfg := util.LoadTestConfig()
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	es := &eventstream.EventStream{}
	var mu sync.Mutex
	published := map[string]string{}
	onPublish := func(topic, payload string) {
		mu.Lock()
		defer mu.Unlock()
		published[topic] = payload
	}

	props := actor.PropsFromProducer(func() actor.Actor { return NewTestMQTTActor(&cfg, es, onPublish, logger) })
	pid := context.Spawn(props)
	defer func() {
		context.Stop(pid)
		as.Shutdown()
	}()

	result, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	require.NoError(err)
	require.True(result.(domain.ActorHealthResponse).Healthy)

	es.Publish(domain.FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: "soc"},
		Value:                  64,
	})
	es.Publish(domain.BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: "started"},
		Value:                  true,
	})

	require.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return published["homebattery/sensor/soc/state"] == "64" &&
			published["homebattery/binary_sensor/started/state"] == mqtt.MQTT_PAYLOAD_ON
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOptsFromConfig(t *testing.T) {

	assert := assert.New(t)

	cfg := config.Config{MQTT: config.MQTTConfig{Host: "broker", Port: 1884, BaseTopic: "homebattery", Username: "u", Password: "p"}}
	opts := mqtt.OptsFromConfig(&cfg)
	assert.Equal("homebattery/bridge/state", opts.WillTopic)
	assert.Equal("broker:1884", opts.Servers[0].Host)
	assert.Equal("u", opts.Username)
	assert.Contains(opts.ClientID, "homebattery_")

	other := mqtt.OptsFromConfig(&cfg)
	assert.NotEqual(opts.ClientID, other.ClientID)
}
