package events

import (
	"fmt"

	. "github.com/berfenger/homebattery2mqtt/internal/core/domain"
	"github.com/berfenger/homebattery2mqtt/internal/core/service"
)

func BatteryDevice(info BatteryInfo, baseTopic string) Device {
	model := BATTERY_DEVICE_MODEL_DEFAULT
	if info.HardwareType != "" {
		model = fmt.Sprintf("%s %s", BATTERY_DEVICE_MODEL_DEFAULT, info.HardwareType)
	}
	return Device{
		Id:           fmt.Sprintf("homebattery_%s", baseTopic),
		Manufacturer: BATTERY_DEVICE_MANUFACTURER,
		Model:        model,
		Name:         fmt.Sprintf("Home Battery %dx%d", info.Towers, info.ModulesPerTower),
	}
}

type batterySensor struct {
	channel     string
	name        string
	unit        string
	deviceClass string
	stateClass  string
	diagnostic  bool
	disabled    bool
}

var batterySensors = []batterySensor{
	{channel: service.ChSoc, name: "State of charge", unit: "%", deviceClass: DEVICE_CLASS_BATTERY, stateClass: STATE_CLASS_MEASUREMENT},
	{channel: service.ChSoh, name: "State of health", unit: "%", stateClass: STATE_CLASS_MEASUREMENT, diagnostic: true},
	{channel: service.ChVoltage, name: "Voltage", unit: "V", deviceClass: DEVICE_CLASS_VOLTAGE, stateClass: STATE_CLASS_MEASUREMENT},
	{channel: service.ChCurrent, name: "Current", unit: "A", deviceClass: DEVICE_CLASS_CURRENT, stateClass: STATE_CLASS_MEASUREMENT},
	{channel: service.ChMinCellVoltage, name: "Min cell voltage", unit: "mV", deviceClass: DEVICE_CLASS_VOLTAGE, stateClass: STATE_CLASS_MEASUREMENT},
	{channel: service.ChMaxCellVoltage, name: "Max cell voltage", unit: "mV", deviceClass: DEVICE_CLASS_VOLTAGE, stateClass: STATE_CLASS_MEASUREMENT},
	{channel: service.ChMinCellTemperature, name: "Min cell temperature", unit: "°C", deviceClass: DEVICE_CLASS_TEMPERATURE, stateClass: STATE_CLASS_MEASUREMENT},
	{channel: service.ChMaxCellTemperature, name: "Max cell temperature", unit: "°C", deviceClass: DEVICE_CLASS_TEMPERATURE, stateClass: STATE_CLASS_MEASUREMENT},
	{channel: service.ChChargeMaxCurrent, name: "Charge max current", unit: "A", deviceClass: DEVICE_CLASS_CURRENT, stateClass: STATE_CLASS_MEASUREMENT},
	{channel: service.ChDischargeMaxCurrent, name: "Discharge max current", unit: "A", deviceClass: DEVICE_CLASS_CURRENT, stateClass: STATE_CLASS_MEASUREMENT},
	{channel: service.ChChargeMaxVoltage, name: "Charge max voltage", unit: "V", deviceClass: DEVICE_CLASS_VOLTAGE, diagnostic: true},
	{channel: service.ChDischargeMinVoltage, name: "Discharge min voltage", unit: "V", deviceClass: DEVICE_CLASS_VOLTAGE, diagnostic: true},
	{channel: service.ChCapacity, name: "Capacity", unit: "Wh", deviceClass: DEVICE_CLASS_ENERGY_STORAGE, diagnostic: true},
	{channel: service.ChNumberOfTowers, name: "Towers", diagnostic: true},
	{channel: service.ChModulesPerTower, name: "Modules per tower", diagnostic: true},
	{channel: service.ChHardwareType, name: "Hardware type", deviceClass: DEVICE_CLASS_ENUM, diagnostic: true},
	{channel: service.ChStateMachine, name: "State", deviceClass: DEVICE_CLASS_ENUM, diagnostic: true},
	{channel: service.ChGoRunningStep, name: "Start-up step", deviceClass: DEVICE_CLASS_ENUM, diagnostic: true, disabled: true},
	{channel: service.ChForceChargeState, name: "Force charge", deviceClass: DEVICE_CLASS_ENUM, diagnostic: true, disabled: true},
	{channel: service.ChForceDischargeState, name: "Force discharge", deviceClass: DEVICE_CLASS_ENUM, diagnostic: true, disabled: true},
}

var batteryBinarySensors = []batterySensor{
	{channel: service.ChStarted, name: "Started", deviceClass: DEVICE_CLASS_RUNNING},
	{channel: service.ChRunFailed, name: "Run failed", deviceClass: DEVICE_CLASS_PROBLEM, diagnostic: true},
	{channel: service.ChMaxStartAttempts, name: "Max start attempts", deviceClass: DEVICE_CLASS_PROBLEM, diagnostic: true},
	{channel: service.ChMaxStopAttempts, name: "Max stop attempts", deviceClass: DEVICE_CLASS_PROBLEM, diagnostic: true},
	{channel: service.ChModbusCommunicationFailed, name: "Modbus communication failed", deviceClass: DEVICE_CLASS_PROBLEM, diagnostic: true},
	{channel: service.ChLowMinVoltageWarning, name: "Low min voltage warning", deviceClass: DEVICE_CLASS_PROBLEM, diagnostic: true},
	{channel: service.ChLowMinVoltageFault, name: "Low min voltage fault", deviceClass: DEVICE_CLASS_PROBLEM, diagnostic: true},
	{channel: service.ChLowMinVoltageFaultStopped, name: "Low min voltage fault, battery stopped", deviceClass: DEVICE_CLASS_PROBLEM, diagnostic: true},
}

func (s batterySensor) toGeneric(dev Device, sensorType string) GenericSensor {
	id := SensorId(s.channel)
	sensor := GenericSensor{
		Device:            dev,
		Id:                id,
		SensorType:        sensorType,
		Name:              s.name,
		UnitOfMeasurement: s.unit,
		StateClass:        s.stateClass,
		DeviceClass:       s.deviceClass,
		UniqueId:          UniqueId(dev.Id, id),
	}
	if s.diagnostic {
		sensor.EntityCategory = ENTITY_CLASS_DIAGNOSTIC
	}
	if s.disabled {
		sensor.EnabledByDefault = OptionalBool(false)
	}
	return sensor
}

// BatterySensors lists the discovery sensors of the battery. Only the first one carries the full device.
func BatterySensors(batteryDevice Device) []GenericSensor {

	var sensors []GenericSensor

	for _, s := range batterySensors {
		dev := IdDevice(batteryDevice)
		if len(sensors) == 0 {
			dev = batteryDevice
		}
		sensors = append(sensors, s.toGeneric(dev, SENSOR_TYPE_SENSOR))
	}
	for _, s := range batteryBinarySensors {
		sensors = append(sensors, s.toGeneric(IdDevice(batteryDevice), SENSOR_TYPE_BINARY))
	}

	return sensors
}

func BatterySwitches(batteryDevice Device) []GenericSwitch {

	var switches []GenericSwitch

	// Battery run (internal start/stop target)
	switches = append(switches, GenericSwitch{
		Device:   IdDevice(batteryDevice),
		Id:       SWITCH_ID_BATTERY_RUN,
		Name:     "Battery run",
		UniqueId: UniqueId(batteryDevice.Id, SWITCH_ID_BATTERY_RUN),
		Icon:     "mdi:battery-sync",
	})

	return switches
}
