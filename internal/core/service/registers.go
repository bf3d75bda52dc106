package service

import (
	"fmt"

	"github.com/berfenger/homebattery2mqtt/internal/core/channel"
	"github.com/berfenger/homebattery2mqtt/internal/core/regmap"
)

const (
	maxTowers             = 5
	towerAddressStride    = 2000
	towerAddressBase      = 10000
	moduleAddressStride   = 100
	balancingTemperatures = 2
	bmsControlRegister    = 44000
)

func towerChannel(tower int, suffix string) string {
	return fmt.Sprintf("TOWER_%d_%s", tower, suffix)
}

func moduleChannel(tower, module int, suffix string) string {
	return fmt.Sprintf("TOWER_%d_MODULE_%d_%s", tower, module, suffix)
}

func cellVoltageChannel(tower, module, cell int) string {
	return moduleChannel(tower, module, fmt.Sprintf("CELL_%03d_VOLTAGE", cell))
}

func towerOffset(tower int) uint16 {
	return uint16(tower*towerAddressStride + towerAddressBase)
}

func bitsOf(ids []channel.ID) []regmap.Bit {
	bits := make([]regmap.Bit, len(ids))
	for i, id := range ids {
		bits[i] = regmap.BitAt(uint8(i), id)
	}
	return bits
}

func positionSuffixes() []string {
	s := make([]string, 10)
	for i := range s {
		s[i] = fmt.Sprintf("BCU_%d", i+1)
	}
	return s
}

// staticTasks builds the register map known before the topology is.
func (b *HomeBattery) staticTasks() ([]*regmap.Task, error) {
	tbl := b.tbl
	id := tbl.MustLookup
	started := regmap.IgnoreZeroBeforeStarted(regmap.StartedIndicator(tbl, b.ch.started))
	scaled := regmap.ScaleFactor(-1)

	l := &regmap.TaskList{}
	l.Read(regmap.ReadHoldingRegisters, regmap.High,
		regmap.BitsWord(500, bitsOf(bitChannels(tbl, "RACK_PRE_ALARM_", rackAlarmSuffixes))...),
		regmap.BitsWord(501, bitsOf(bitChannels(tbl, "RACK_LEVEL_1_", rackAlarmSuffixes))...),
		regmap.BitsWord(502, bitsOf(bitChannels(tbl, "RACK_LEVEL_2_", rackLevel2Suffixes))...),
		regmap.BitsWord(503, bitsOf(bitChannels(tbl, "ALARM_POSITION_", positionSuffixes()))...),
		regmap.BitsWord(504, bitsOf(bitChannels(tbl, "WARNING_POSITION_", positionSuffixes()))...),
		regmap.BitsWord(505, bitsOf(bitChannels(tbl, "FAULT_POSITION_", positionSuffixes()))...),
		regmap.UnsignedWord(506, b.ch.voltage, scaled),
		regmap.SignedWord(507, b.ch.current, scaled),
		regmap.UnsignedWord(508, b.ch.soc, started, scaled),
		regmap.UnsignedWord(509, b.ch.soh, scaled),
		regmap.UnsignedWord(510, b.ch.minCellVoltage, started),
		regmap.UnsignedWord(511, id(ChIDOfCellVoltageMin)),
		regmap.UnsignedWord(512, b.ch.maxCellVoltage, started),
		regmap.UnsignedWord(513, id(ChIDOfCellVoltageMax)),
		regmap.SignedWord(514, b.ch.minCellTemperature, scaled),
		regmap.UnsignedWord(515, id(ChIDOfMinTemperature)),
		regmap.SignedWord(516, b.ch.maxCellTemperature, scaled),
		regmap.UnsignedWord(517, id(ChIDOfMaxTemperature)),
		regmap.UnsignedWord(518, b.ch.bpChargeBms, scaled),
		regmap.UnsignedWord(519, b.ch.bpDischargeBms, scaled),
		regmap.UnsignedWord(520, id(ChMaxDcChargeCurrentBcu), scaled),
		regmap.UnsignedWord(521, id(ChMaxDcDischargeCurrentBcu), scaled),
		regmap.UnsignedWord(522, id(ChRackNumberOfBcu)),
		regmap.UnsignedWord(523, id(ChRackCellsInSeriesPerMod)),
		regmap.UnsignedWord(524, id(ChRackMaxCellVoltageLimit)),
		regmap.UnsignedWord(525, id(ChRackMinCellVoltageLimit)),
		regmap.BitsWord(526, bitsOf(bitChannels(tbl, "RACK_HW_", hardwareFaultSuffixes))...),
		regmap.BitsWord(527, bitsOf(bitChannels(tbl, "RACK_SYSTEM_", systemFaultSuffixes))...),
		regmap.UnsignedWord(528, id(ChUpperVoltage)),
	)
	l.Read(regmap.ReadHoldingRegisters, regmap.High,
		regmap.BitsWord(bmsControlRegister, regmap.BitAt(0, b.ch.bmsControl).Inverted()),
	)

	for tower := maxTowers - 1; tower >= 1; tower-- {
		l.Read(regmap.ReadHoldingRegisters, regmap.Low,
			regmap.UnsignedWord(towerOffset(tower), b.ch.towerVersions[tower]),
		)
	}
	l.Read(regmap.ReadHoldingRegisters, regmap.Low,
		regmap.UnsignedWord(towerAddressBase, b.ch.towerVersions[0]),
		regmap.Dummy(towerAddressBase+1, 18),
		regmap.UnsignedWord(towerAddressBase+19, b.ch.hardwareType, hardwareTypeConverter),
		regmap.Dummy(towerAddressBase+20, 4),
		regmap.UnsignedWord(towerAddressBase+24, b.ch.modulesPerTower),
	)

	if addr := b.cfg.WatchdogRegister; addr != 0 {
		l.Write(regmap.WriteSingleRegister, regmap.UnsignedWord(addr, b.ch.watchdog))
	}
	if addr := b.cfg.StartUpRelayRegister; addr != 0 {
		l.Write(regmap.WriteSingleRegister, regmap.BitsWord(addr, regmap.BitAt(0, b.ch.startUpRelay)))
		l.Read(regmap.ReadHoldingRegisters, regmap.High, regmap.BitsWord(addr, regmap.BitAt(0, b.ch.startUpRelay)))
	}
	return l.Tasks()
}

// serialChannel registers the raw packed serial number and the formatted text channel fed from it.
func (b *HomeBattery) serialChannel(name, prefix string) channel.ID {
	textID := readOnly(b.tbl, name, channel.KindString, "")
	return b.tbl.Add(channel.Descriptor{
		Name:   name + "_RAW",
		Kind:   channel.KindLong,
		Access: channel.ReadOnly,
		OnChange: func(_, v channel.Value) {
			raw, ok := v.Int()
			if !ok {
				b.tbl.Set(textID, channel.Undefined(channel.KindString))
				return
			}
			if s, ok := SerialNumber(prefix, uint32(raw)); ok {
				b.tbl.Set(textID, channel.StringValue(s))
			} else {
				b.tbl.Set(textID, channel.Undefined(channel.KindString))
			}
		},
	})
}

// towerTask maps the tower status block at towerOffset+1.
func (b *HomeBattery) towerTask(tower int, hw HardwareType) (*regmap.Task, error) {
	tbl := b.tbl
	o := towerOffset(tower)
	scaled := regmap.ScaleFactor(-1)
	name := func(suffix string) string { return towerChannel(tower, suffix) }
	ro := func(suffix string, kind channel.Kind, unit string) channel.ID {
		return readOnly(tbl, name(suffix), kind, unit)
	}

	return regmap.NewReadTask(regmap.ReadHoldingRegisters, regmap.High,
		regmap.UnsignedWord(o+1, ro("BMS_HARDWARE_VERSION", channel.KindInt, "")),
		regmap.BitsWord(o+2, bitsOf(bitChannels(tbl, name(""), towerStatusSuffixes))...),
		regmap.BitsWord(o+3, bitsOf(bitChannels(tbl, name("PRE_ALARM_"), towerAlarmSuffixes))...),
		regmap.BitsWord(o+4, bitsOf(bitChannels(tbl, name("LEVEL_1_"), towerAlarmSuffixes))...),
		regmap.BitsWord(o+5, bitsOf(bitChannels(tbl, name("LEVEL_2_"), rackLevel2Suffixes))...),
		regmap.BitsWord(o+6, bitsOf(bitChannels(tbl, name("HW_"), hardwareFaultSuffixes))...),
		regmap.BitsWord(o+7, bitsOf(bitChannels(tbl, name("SYSTEM_"), systemFaultSuffixes))...),
		regmap.UnsignedWord(o+8, ro("SOC", channel.KindFloat, "%"), scaled),
		regmap.UnsignedWord(o+9, ro("SOH", channel.KindFloat, "%"), scaled),
		regmap.UnsignedWord(o+10, ro("VOLTAGE", channel.KindFloat, "V"), scaled),
		regmap.SignedWord(o+11, ro("CURRENT", channel.KindFloat, "A"), scaled),
		regmap.UnsignedWord(o+12, ro("MIN_CELL_VOLTAGE", channel.KindInt, "mV")),
		regmap.UnsignedWord(o+13, ro("MAX_CELL_VOLTAGE", channel.KindInt, "mV")),
		regmap.UnsignedWord(o+14, ro("AVERAGE_CELL_VOLTAGE", channel.KindInt, "mV")),
		regmap.UnsignedWord(o+15, ro("MAX_CHARGE_CURRENT", channel.KindInt, "A")),
		regmap.UnsignedWord(o+16, ro("MIN_CHARGE_CURRENT", channel.KindInt, "A")),
		regmap.Dummy(o+17, 1),
		regmap.UnsignedWord(o+18, ro("NO_OF_CYCLES", channel.KindInt, "")),
		regmap.UnsignedWord(o+19, ro("DESIGN_CAPACITY", channel.KindFloat, "Ah"), scaled),
		regmap.UnsignedWord(o+20, ro("USABLE_CAPACITY", channel.KindFloat, "Ah"), scaled),
		regmap.UnsignedWord(o+21, ro("REMAINING_CAPACITY", channel.KindFloat, "Ah"), scaled),
		regmap.UnsignedWord(o+22, ro("MAX_CELL_VOLTAGE_LIMIT", channel.KindInt, "mV")),
		regmap.UnsignedWord(o+23, ro("MIN_CELL_VOLTAGE_LIMIT", channel.KindInt, "mV")),
		regmap.UnsignedWord(o+24, ro("BMU_NUMBER", channel.KindInt, "")),
		regmap.Dummy(o+25, 3),
		regmap.BitsWord(o+28, regmap.BitAt(0, ro("BCU_SYSTEM_FAULT_DETAIL_EXPAND_ASSIGN_FAIL", channel.KindBool, ""))),
		regmap.Dummy(o+29, 5),
		regmap.UnsignedWord(o+34, ro("PACK_VOLTAGE", channel.KindInt, "V")),
		regmap.SignedWord(o+35, ro("MAX_TEMPERATURE", channel.KindInt, "°C")),
		regmap.SignedWord(o+36, ro("MIN_TEMPERATURE", channel.KindInt, "°C")),
		regmap.Dummy(o+37, 6),
		regmap.SignedWord(o+43, ro("TEMPERATURE_PRE_MOS", channel.KindInt, "°C")),
		regmap.Dummy(o+44, 3),
		regmap.UnsignedDoubleWord(o+47, ro("ACC_CHARGE_ENERGY", channel.KindLong, "Wh"), regmap.MSWFirst),
		regmap.UnsignedDoubleWord(o+49, ro("ACC_DISCHARGE_ENERGY", channel.KindLong, "Wh"), regmap.MSWFirst),
		regmap.UnsignedDoubleWord(o+51, b.serialChannel(name("BMS_SERIAL_NUMBER"), hw.SerialPrefixBms), regmap.MSWFirst),
	)
}

// moduleTask maps the cell voltages, temperatures and serial number of one module.
func (b *HomeBattery) moduleTask(tower, module int, hw HardwareType) (*regmap.Task, error) {
	tbl := b.tbl
	base := towerOffset(tower) + moduleAddressStride + uint16(module*moduleAddressStride)
	const (
		cellOffset        = 2
		temperatureOffset = 18
		serialOffset      = 83
	)

	var elements []regmap.Element
	for cell := 0; cell < hw.CellsPerModule; cell++ {
		id := readOnly(tbl, cellVoltageChannel(tower, module, cell), channel.KindInt, "mV")
		elements = append(elements, regmap.UnsignedWord(base+cellOffset+uint16(cell), id))
	}
	if gap := temperatureOffset - cellOffset - hw.CellsPerModule; gap > 0 {
		elements = append(elements, regmap.Dummy(base+cellOffset+uint16(hw.CellsPerModule), uint16(gap)))
	}
	addr := base + temperatureOffset
	for sensor := 1; sensor <= hw.TemperatureSensorsPerModule; sensor++ {
		id := readOnly(tbl, moduleChannel(tower, module, fmt.Sprintf("TEMPERATURE_SENSOR_%d", sensor)), channel.KindInt, "°C")
		elements = append(elements, regmap.SignedWord(addr, id))
		addr++
	}
	for j := 1; j <= balancingTemperatures; j++ {
		id := readOnly(tbl, moduleChannel(tower, module, fmt.Sprintf("TEMPERATURE_BALANCING_%d", j)), channel.KindInt, "°C")
		elements = append(elements, regmap.SignedWord(addr, id))
		addr++
	}
	if serial := base + serialOffset; serial > addr {
		elements = append(elements, regmap.Dummy(addr, serial-addr))
	}
	serialID := b.serialChannel(moduleChannel(tower, module, "SERIAL_NUMBER"), hw.SerialPrefixModule)
	elements = append(elements, regmap.UnsignedDoubleWord(base+serialOffset, serialID, regmap.MSWFirst))

	return regmap.NewReadTask(regmap.ReadHoldingRegisters, regmap.Low, elements...)
}
