package events

import (
	"testing"

	"github.com/berfenger/homebattery2mqtt/internal/core/channel"
	"github.com/berfenger/homebattery2mqtt/internal/core/domain"
	"github.com/berfenger/homebattery2mqtt/internal/core/service"
	"github.com/berfenger/homebattery2mqtt/internal/core/statemachine"
	"github.com/stretchr/testify/require"
)

func testTable() (*channel.Table, channel.ID, channel.ID, channel.ID) {
	tbl := channel.NewTable()
	soc := tbl.Add(channel.Descriptor{Name: "SOC", Kind: channel.KindFloat, Unit: "%"})
	started := tbl.Add(channel.Descriptor{Name: "STARTED", Kind: channel.KindBool})
	state := tbl.Add(channel.Descriptor{Name: "STATE_MACHINE", Kind: channel.KindEnum, Options: []channel.EnumOption{
		{Code: 0, Name: "UNDEFINED"}, {Code: 1, Name: "GO_RUNNING"},
	}})
	return tbl, soc, started, state
}

func TestChannelUpdateEvent(t *testing.T) {

	require := require.New(t)

	tbl, soc, started, state := testTable()
	tbl.Set(soc, channel.FloatValue(55.25))
	tbl.Set(started, channel.BoolValue(true))
	tbl.Set(state, channel.EnumValue(1))

	desc, _ := tbl.Descriptor(soc)
	ev, ok := ChannelUpdateEvent(desc, tbl.Get(soc))
	require.True(ok)
	require.Equal(domain.FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: "soc"},
		Value:                  55.25,
		Decimals:               1,
	}, ev)

	desc, _ = tbl.Descriptor(state)
	ev, ok = ChannelUpdateEvent(desc, tbl.Get(state))
	require.True(ok)
	require.Equal("GO_RUNNING", ev.(domain.TextSensorUpdateEvent).Value)

	desc, _ = tbl.Descriptor(started)
	ev, ok = ChannelUpdateEvent(desc, tbl.Get(started))
	require.True(ok)
	require.True(ev.(domain.BinarySensorUpdateEvent).Value)

	_, ok = ChannelUpdateEvent(desc, channel.Undefined(channel.KindBool))
	require.False(ok, "undefined values are not published")
}

func TestChangeTracker(t *testing.T) {

	require := require.New(t)

	tbl, soc, started, _ := testTable()
	tracker := NewChangeTracker(3)
	tbl.Set(soc, channel.FloatValue(10))
	tbl.Set(started, channel.BoolValue(false))

	require.Len(tracker.Collect(tbl), 2, "first collection publishes every defined channel")
	require.Empty(tracker.Collect(tbl))

	tbl.Set(soc, channel.FloatValue(11))
	evs := tracker.Collect(tbl)
	require.Len(evs, 1)
	require.Equal("soc", evs[0].(domain.FloatSensorUpdateEvent).SensorId())

	require.Len(tracker.Collect(tbl), 2, "periodic refresh")
}

func TestChannelViews(t *testing.T) {

	require := require.New(t)

	tbl, _, _, state := testTable()
	tbl.Set(state, channel.EnumValue(0))

	views := ChannelViews(tbl)
	require.Len(views, 3)
	require.Equal("STATE_MACHINE", views[2].Name)
	require.Equal("UNDEFINED", views[2].Text)
	require.Nil(views[0].Value)
}

func TestBatteryDiscovery(t *testing.T) {

	require := require.New(t)

	dev := BatteryDevice(domain.BatteryInfo{HardwareType: "BATTERY_52", Towers: 1, ModulesPerTower: 5}, "homebattery")
	sensors := BatterySensors(dev)
	require.Equal(len(batterySensors)+len(batteryBinarySensors), len(sensors))
	require.Equal(dev, sensors[0].Device)
	require.Equal(domain.IdDevice(dev), sensors[1].Device)
	require.Equal(domain.SensorId(service.ChSoc), sensors[0].Id)

	switches := BatterySwitches(dev)
	require.Len(switches, 1)
	require.Equal(domain.SWITCH_ID_BATTERY_RUN, switches[0].Id)

	ev := BatteryRunSwitchUpdateEvent(statemachine.TargetStart)
	require.True(ev.(domain.SwitchSensorUpdateEvent).Value)
}
