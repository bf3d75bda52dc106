package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE       = "bridge"
	SWITCH_ID_BATTERY_RUN        = "battery_run"
	STATE_CLASS_MEASUREMENT      = "measurement"
	STATE_CLASS_TOTAL            = "total"
	DEVICE_CLASS_BATTERY         = "battery"
	DEVICE_CLASS_CURRENT         = "current"
	DEVICE_CLASS_ENERGY_STORAGE  = "energy_storage"
	DEVICE_CLASS_TEMPERATURE     = "temperature"
	DEVICE_CLASS_VOLTAGE         = "voltage"
	DEVICE_CLASS_CONNECTIVITY    = "connectivity"
	DEVICE_CLASS_PROBLEM         = "problem"
	DEVICE_CLASS_RUNNING         = "running"
	DEVICE_CLASS_ENUM            = "enum"
	ENTITY_CLASS_DIAGNOSTIC      = "diagnostic"
	ENTITY_CLASS_CONFIG          = "config"
	SENSOR_TYPE_SENSOR           = "sensor"
	SENSOR_TYPE_BINARY           = "binary_sensor"
	BATTERY_DEVICE_MANUFACTURER  = "FENECON"
	BATTERY_DEVICE_MODEL_DEFAULT = "Home Battery"
)

// SensorId is the MQTT id of a channel.
func SensorId(channelName string) string {
	return strings.ToLower(channelName)
}

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("homebattery_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "ACasal",
		Model:        "homebattery2mqtt",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("Home Battery Bridge %s", md5HashShort(baseTopic)),
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {

	var sensors []GenericSensor

	// Bridge connection
	sensors = append(sensors, GenericSensor{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       UniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	})

	return sensors
}

func UniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	return md5Hash(text)[0:8]
}

func OptionalBool(value bool) *bool {
	return &value
}
