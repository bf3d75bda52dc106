package domain

type Device struct {
	Id           string
	Name         string
	Version      string
	Model        string
	Manufacturer string
	ViaDevice    string
}

type GenericSensor struct {
	Device            Device
	Id                string
	SensorType        string
	Name              string
	UniqueId          string
	UnitOfMeasurement string
	StateClass        string // measurement, total
	DeviceClass       string // voltage, current, battery, energy_storage
	EntityCategory    string // diagnostic, config, nil
	EnabledByDefault  *bool
	Icon              string
}

type GenericSwitch struct {
	Device   Device
	Id       string
	Name     string
	UniqueId string
	Icon     string
}

// ChannelState is the externally visible view of one channel.
type ChannelState struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Access    string `json:"access"`
	Unit      string `json:"unit,omitempty"`
	Value     any    `json:"value"`
	Text      string `json:"text"`
	NextWrite any    `json:"next_write,omitempty"`
}

// BatteryInfo summarizes the detected battery for discovery and the API.
type BatteryInfo struct {
	HardwareType    string `json:"hardware_type"`
	Towers          int    `json:"towers"`
	ModulesPerTower int    `json:"modules_per_tower"`
	Capacity        int64  `json:"capacity"`
	Known           bool   `json:"known"`
	State           string `json:"state"`
	StartStop       string `json:"start_stop"`
}
