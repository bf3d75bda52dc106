package mqtt

import (
	"testing"

	"github.com/berfenger/homebattery2mqtt/internal/config"
	"github.com/berfenger/homebattery2mqtt/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSwitchCommandParse(t *testing.T) {

	assert := assert.New(t)

	baseTopic := "loremTopic"
	topic := "loremTopic/switch/my_device/command"
	r := switchCommandExtractor(baseTopic)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(matches[0][1], "my_device", "device extract")
}

func TestSwitchCommandParseFail(t *testing.T) {

	assert := assert.New(t)

	baseTopic := "loremTopic"
	topic := "loremTopic/switch/my_device/state"
	r := switchCommandExtractor(baseTopic)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(len(matches), 0, "no matches")
}

func TestParseCommand(t *testing.T) {

	require := require.New(t)

	sw := switchCommandExtractor("homebattery")
	ch := channelSetExtractor("homebattery")

	cmd, err := parseCommand(sw, ch, "homebattery/switch/battery_run/command", []byte("off"))
	require.NoError(err)
	require.Equal(ParsedMQTTCommand{DeviceId: "battery_run", Command: COMMAND_SWITCH, Payload: "off"}, *cmd)

	cmd, err = parseCommand(sw, ch, "homebattery/channel/SET_ACTIVE_POWER/set", []byte("-1200"))
	require.NoError(err)
	require.Equal(ParsedMQTTCommand{DeviceId: "SET_ACTIVE_POWER", Command: COMMAND_SET_CHANNEL, Payload: "-1200"}, *cmd)

	_, err = parseCommand(sw, ch, "homebattery/channel/SET_ACTIVE_POWER/set", nil)
	require.ErrorIs(err, ErrInvalidCommand)

	_, err = parseCommand(sw, ch, "homebattery/sensor/soc/state", []byte("50"))
	require.ErrorIs(err, ErrInvalidCommand)

	_, err = parseCommand(sw, ch, "other/homebattery/switch/battery_run/command", []byte("on"))
	require.ErrorIs(err, ErrInvalidCommand)
}

func TestHADiscoveryMessages(t *testing.T) {

	assert := assert.New(t)

	cfg := &config.Config{MQTT: config.MQTTConfig{Host: "localhost", Port: 1883, BaseTopic: "homebattery", HADiscoveryTopic: "homeassistant"}}
	client := CreateMQTTClient(cfg, OptsFromConfig(cfg), nil, nil)

	dev := domain.Device{Id: "homebattery_dev", Name: "Home Battery"}
	binary := domain.GenericSensor{Device: dev, Id: "started", SensorType: domain.SENSOR_TYPE_BINARY, Name: "Started"}
	msg := GenericSensorToHADiscoveryMessage(client, binary)
	assert.Equal("homebattery/binary_sensor/started/state", msg.StateTopic)
	assert.Equal(MQTT_PAYLOAD_ON, msg.PayloadOn)
	assert.Equal("homebattery/bridge/state", msg.AvTopic)
	assert.Equal("homeassistant/binary_sensor/homebattery_dev/started/config", HADiscoverySensorTopic(client.DiscoveryTopic(), binary))

	sw := domain.GenericSwitch{Device: dev, Id: domain.SWITCH_ID_BATTERY_RUN, Name: "Run"}
	swMsg := GenericSwitchToHADiscoveryMessage(client, sw)
	assert.Equal("homebattery/switch/battery_run/command", swMsg.CommandTopic)
	assert.Equal("homeassistant/switch/homebattery_dev/battery_run/config", HADiscoverySwitchTopic(client.DiscoveryTopic(), sw))

	assert.Equal("homebattery/channel/SET_ACTIVE_POWER/set", client.ChannelSetTopic("SET_ACTIVE_POWER"))
	assert.Equal(map[string]byte{
		"homebattery/switch/+/command": 1,
		"homebattery/channel/+/set":    1,
	}, client.commandTopics())
}
