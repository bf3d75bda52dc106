package domain

import "github.com/berfenger/homebattery2mqtt/internal/core/statemachine"

// ControlRequest is a request that changes the battery. Control requests come from MQTT or the HTTP API
// and are always routed to the cycle actor.
type ControlRequest interface {
	ActorRequest
	ControlCommand() string
}

type SetStartStopRequest struct {
	ActorRequestMixIn
	Target statemachine.Target
}

func (SetStartStopRequest) ControlCommand() string {
	return "start_stop"
}

type SetStartStopResponse struct {
	ActorResponseMixIn
	Target statemachine.Target
}

// SetChannelRequest schedules a write to a read-write channel. Value is decoded with the channel kind.
type SetChannelRequest struct {
	ActorRequestMixIn
	Name  string
	Value any
}

func (SetChannelRequest) ControlCommand() string {
	return "set_channel"
}

type SetChannelResponse struct {
	ActorResponseMixIn
	Channel ChannelState
}

// ensure interface compliance
var (
	_ ControlRequest = SetStartStopRequest{}
	_ ControlRequest = SetChannelRequest{}
)
