package port

import (
	"time"

	"github.com/berfenger/homebattery2mqtt/internal/core/channel"
	"github.com/berfenger/homebattery2mqtt/internal/core/domain"
	"github.com/berfenger/homebattery2mqtt/internal/core/regmap"
	"github.com/berfenger/homebattery2mqtt/internal/core/statemachine"
)

// CycleDevice is a device driven by the poll cycle.
type CycleDevice interface {
	Channels() *channel.Table
	Protocol() *regmap.Protocol
	// OnBeforePoll runs before the register requests of a cycle are planned.
	OnBeforePoll(now time.Time)
	// OnAfterPoll runs after the results of the cycle were applied to the channels.
	OnAfterPoll(now time.Time, report regmap.Report)
	SetStartStop(target statemachine.Target) error
	StartStopTarget() statemachine.Target
	State() statemachine.State
	SetReconnectHook(fn func())
	Info() domain.BatteryInfo
}
