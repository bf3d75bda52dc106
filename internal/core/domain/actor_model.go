package domain

import (
	"time"

	"github.com/berfenger/homebattery2mqtt/internal/core/regmap"
)

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_MODBUS       = "modbus"
	ACTOR_ID_CYCLE        = "cycle"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
)

// ExecutePlanRequest asks the modbus actor to run the register requests of one cycle.
type ExecutePlanRequest struct {
	ActorRequestMixIn
	Plan regmap.Plan
}

type ExecutePlanResponse struct {
	ActorResponseMixIn
	Results  regmap.Results
	Duration time.Duration
}

type ReconnectRequest struct {
	ActorRequestMixIn
}

type ReconnectResponse struct {
	ActorResponseMixIn
}

type GetChannelsRequest struct {
	ActorRequestMixIn
}

type GetChannelsResponse struct {
	ActorResponseMixIn
	Channels []ChannelState
}

type GetChannelRequest struct {
	ActorRequestMixIn
	Name string
}

type GetChannelResponse struct {
	ActorResponseMixIn
	Channel ChannelState
}

type GetBatteryInfoRequest struct {
	ActorRequestMixIn
}

type GetBatteryInfoResponse struct {
	ActorResponseMixIn
	Info BatteryInfo
}

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors  []GenericSensor
	Switches []GenericSwitch
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
