package events

import (
	"github.com/berfenger/homebattery2mqtt/internal/core/channel"
	. "github.com/berfenger/homebattery2mqtt/internal/core/domain"
	"github.com/berfenger/homebattery2mqtt/internal/core/statemachine"
)

// ChannelView builds the external view of a channel.
func ChannelView(tbl *channel.Table, id channel.ID) (ChannelState, bool) {
	desc, ok := tbl.Descriptor(id)
	if !ok {
		return ChannelState{}, false
	}
	snap := tbl.Snapshot(id)
	return ChannelState{
		Name:      desc.Name,
		Kind:      desc.Kind.String(),
		Access:    desc.Access.String(),
		Unit:      desc.Unit,
		Value:     snap.Current.Any(),
		Text:      valueText(desc, snap.Current),
		NextWrite: snap.NextWrite.Any(),
	}, true
}

func ChannelViews(tbl *channel.Table) []ChannelState {
	states := make([]ChannelState, 0, tbl.Len())
	for id := channel.ID(0); int(id) < tbl.Len(); id++ {
		if st, ok := ChannelView(tbl, id); ok {
			states = append(states, st)
		}
	}
	return states
}

func valueText(desc channel.Descriptor, v channel.Value) string {
	if desc.Kind == channel.KindEnum {
		if code, ok := v.Int(); ok {
			if name, ok := desc.OptionName(code); ok {
				return name
			}
		}
	}
	return v.String()
}

func decimals(unit string) uint {
	switch unit {
	case "V", "A", "%", "°C":
		return 1
	}
	return 2
}

// ChannelUpdateEvent maps a defined channel value to the sensor event published for it.
func ChannelUpdateEvent(desc channel.Descriptor, v channel.Value) (any, bool) {
	if !v.Defined() {
		return nil, false
	}
	mixIn := SensorUpdateEventMixIn{Id: SensorId(desc.Name)}
	switch desc.Kind {
	case channel.KindBool:
		b, _ := v.Bool()
		return BinarySensorUpdateEvent{SensorUpdateEventMixIn: mixIn, Value: b}, true
	case channel.KindEnum, channel.KindString:
		return TextSensorUpdateEvent{SensorUpdateEventMixIn: mixIn, Value: valueText(desc, v)}, true
	case channel.KindInt, channel.KindLong:
		i, _ := v.Int()
		return FloatSensorUpdateEvent{SensorUpdateEventMixIn: mixIn, Value: float64(i), Decimals: 0}, true
	case channel.KindFloat:
		f, _ := v.Float()
		return FloatSensorUpdateEvent{SensorUpdateEventMixIn: mixIn, Value: f, Decimals: decimals(desc.Unit)}, true
	}
	return nil, false
}

func BatteryRunSwitchUpdateEvent(target statemachine.Target) any {
	return SwitchSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SWITCH_ID_BATTERY_RUN,
		},
		Value: target == statemachine.TargetStart,
	}
}

// ChangeTracker emits update events for channels whose value changed since the last publication.
// Every refreshEvery collections all defined channels are emitted again.
type ChangeTracker struct {
	last         map[channel.ID]channel.Value
	refreshEvery int
	collections  int
}

func NewChangeTracker(refreshEvery int) *ChangeTracker {
	return &ChangeTracker{
		last:         map[channel.ID]channel.Value{},
		refreshEvery: refreshEvery,
	}
}

func (c *ChangeTracker) Collect(tbl *channel.Table) []any {
	refresh := c.refreshEvery > 0 && c.collections%c.refreshEvery == 0
	c.collections++

	var events []any
	for id := channel.ID(0); int(id) < tbl.Len(); id++ {
		desc, ok := tbl.Descriptor(id)
		if !ok {
			continue
		}
		v := tbl.Get(id)
		if last, seen := c.last[id]; seen && !refresh && last.Equal(v) {
			continue
		}
		c.last[id] = v
		if ev, ok := ChannelUpdateEvent(desc, v); ok {
			events = append(events, ev)
		}
	}
	return events
}
