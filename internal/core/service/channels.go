package service

import (
	"github.com/berfenger/homebattery2mqtt/internal/core/channel"
	"github.com/berfenger/homebattery2mqtt/internal/core/protection"
	"github.com/berfenger/homebattery2mqtt/internal/core/statemachine"
)

const (
	ChVoltage                   = "VOLTAGE"
	ChCurrent                   = "CURRENT"
	ChSoc                       = "SOC"
	ChSoh                       = "SOH"
	ChMinCellVoltage            = "MIN_CELL_VOLTAGE"
	ChMaxCellVoltage            = "MAX_CELL_VOLTAGE"
	ChIDOfCellVoltageMin        = "ID_OF_CELL_VOLTAGE_MIN"
	ChIDOfCellVoltageMax        = "ID_OF_CELL_VOLTAGE_MAX"
	ChMinCellTemperature        = "MIN_CELL_TEMPERATURE"
	ChMaxCellTemperature        = "MAX_CELL_TEMPERATURE"
	ChIDOfMinTemperature        = "ID_OF_MIN_TEMPERATURE"
	ChIDOfMaxTemperature        = "ID_OF_MAX_TEMPERATURE"
	ChBpChargeBms               = "BP_CHARGE_BMS"
	ChBpDischargeBms            = "BP_DISCHARGE_BMS"
	ChMaxDcChargeCurrentBcu     = "MAX_DC_CHARGE_CURRENT_LIMIT_PER_BCU"
	ChMaxDcDischargeCurrentBcu  = "MAX_DC_DISCHARGE_CURRENT_LIMIT_PER_BCU"
	ChRackNumberOfBcu           = "RACK_NUMBER_OF_BATTERY_BCU"
	ChRackCellsInSeriesPerMod   = "RACK_NUMBER_OF_CELLS_IN_SERIES_PER_MODULE"
	ChRackMaxCellVoltageLimit   = "RACK_MAX_CELL_VOLTAGE_LIMIT"
	ChRackMinCellVoltageLimit   = "RACK_MIN_CELL_VOLTAGE_LIMIT"
	ChUpperVoltage              = "UPPER_VOLTAGE"
	ChBmsControl                = "BMS_CONTROL"
	ChHardwareType              = "BATTERY_HARDWARE_TYPE"
	ChModulesPerTower           = "NUMBER_OF_MODULES_PER_TOWER"
	ChNumberOfTowers            = "NUMBER_OF_TOWERS"
	ChChargeMaxVoltage          = "CHARGE_MAX_VOLTAGE"
	ChDischargeMinVoltage       = "DISCHARGE_MIN_VOLTAGE"
	ChCapacity                  = "CAPACITY"
	ChChargeMaxCurrent          = "CHARGE_MAX_CURRENT"
	ChDischargeMaxCurrent       = "DISCHARGE_MAX_CURRENT"
	ChAllowedChargeCurrent      = "ALLOWED_CHARGE_CURRENT"
	ChAllowedDischargeCurrent   = "ALLOWED_DISCHARGE_CURRENT"
	ChMaxEverChargeCurrent      = "MAX_EVER_CHARGE_CURRENT"
	ChMaxEverDischargeCurrent   = "MAX_EVER_DISCHARGE_CURRENT"
	ChForceChargeState          = "FORCE_CHARGE_STATE"
	ChForceDischargeState       = "FORCE_DISCHARGE_STATE"
	ChProtectionHeld            = "PROTECTION_INPUTS_MISSING"
	ChLowMinVoltageWarning      = "LOW_MIN_VOLTAGE_WARNING"
	ChLowMinVoltageFault        = "LOW_MIN_VOLTAGE_FAULT"
	ChLowMinVoltageFaultStopped = "LOW_MIN_VOLTAGE_FAULT_BATTERY_STOPPED"
	ChStateMachine              = "STATE_MACHINE"
	ChGoRunningStep             = "GO_RUNNING_STATE_MACHINE"
	ChStartStop                 = "START_STOP"
	ChStartStopTarget           = "START_STOP_TARGET"
	ChStarted                   = "STARTED"
	ChRunFailed                 = "RUN_FAILED"
	ChMaxStartAttempts          = "MAX_START_ATTEMPTS"
	ChMaxStopAttempts           = "MAX_STOP_ATTEMPTS"
	ChModbusCommunicationFailed = "MODBUS_COMMUNICATION_FAILED"
	ChWatchdog                  = "WATCHDOG"
	ChStartUpRelay              = "START_UP_RELAY"
)

// Bit channel groups, indexed by bit position.
var (
	rackAlarmSuffixes = []string{
		"CELL_OVER_VOLTAGE", "CELL_UNDER_VOLTAGE", "OVER_CHARGING_CURRENT", "OVER_DISCHARGING_CURRENT",
		"OVER_TEMPERATURE", "UNDER_TEMPERATURE", "CELL_VOLTAGE_DIFFERENCE", "BCU_TEMP_DIFFERENCE",
		"UNDER_SOC", "UNDER_SOH", "OVER_CHARGING_POWER", "OVER_DISCHARGING_POWER",
	}
	rackLevel2Suffixes = []string{
		"CELL_OVER_VOLTAGE", "CELL_UNDER_VOLTAGE", "OVER_CHARGING_CURRENT", "OVER_DISCHARGING_CURRENT",
		"OVER_TEMPERATURE", "UNDER_TEMPERATURE", "CELL_VOLTAGE_DIFFERENCE", "BCU_TEMP_DIFFERENCE",
		"CELL_TEMPERATURE_DIFFERENCE", "INTERNAL_COMMUNICATION", "EXTERNAL_COMMUNICATION", "PRE_CHARGE_FAIL",
		"PARALLEL_FAIL", "SYSTEM_FAIL", "HARDWARE_FAIL",
	}
	hardwareFaultSuffixes = []string{
		"AFE_COMMUNICATION_FAULT", "ACTOR_DRIVER_FAULT", "EEPROM_COMMUNICATION_FAULT", "VOLTAGE_DETECT_FAULT",
		"TEMPERATURE_DETECT_FAULT", "CURRENT_DETECT_FAULT", "ACTOR_NOT_CLOSE", "ACTOR_NOT_OPEN", "FUSE_BROKEN",
	}
	systemFaultSuffixes = []string{
		"AFE_OVER_TEMPERATURE", "AFE_UNDER_TEMPERATURE", "AFE_OVER_VOLTAGE", "AFE_UNDER_VOLTAGE",
		"HIGH_TEMPERATURE_PERMANENT_FAILURE", "LOW_TEMPERATURE_PERMANENT_FAILURE",
		"HIGH_CELL_VOLTAGE_PERMANENT_FAILURE", "LOW_CELL_VOLTAGE_PERMANENT_FAILURE", "SHORT_CIRCUIT",
	}
	towerStatusSuffixes = []string{
		"STATUS_ALARM", "STATUS_WARNING", "STATUS_FAULT", "STATUS_PFET", "STATUS_CFET", "STATUS_DFET",
		"STATUS_BATTERY_IDLE", "STATUS_BATTERY_CHARGING", "STATUS_BATTERY_DISCHARGING",
	}
	towerAlarmSuffixes = append(append([]string{}, rackAlarmSuffixes...), "BAT_OVER_VOLTAGE", "BAT_UNDER_VOLTAGE")
)

func forceStateOptions() []channel.EnumOption {
	states := []protection.ForceState{
		protection.ForceUndefined, protection.ForceWait, protection.ForceActive, protection.ForceBlock,
	}
	opts := make([]channel.EnumOption, 0, len(states))
	for _, s := range states {
		opts = append(opts, channel.EnumOption{Code: int(s), Name: s.String()})
	}
	return opts
}

func stateOptions() []channel.EnumOption {
	opts := []channel.EnumOption{}
	for _, s := range statemachine.States() {
		opts = append(opts, channel.EnumOption{Code: int(s), Name: s.String()})
	}
	return opts
}

func targetOptions() []channel.EnumOption {
	return []channel.EnumOption{
		{Code: int(statemachine.TargetUndefined), Name: statemachine.TargetUndefined.String()},
		{Code: int(statemachine.TargetStart), Name: statemachine.TargetStart.String()},
		{Code: int(statemachine.TargetStop), Name: statemachine.TargetStop.String()},
		{Code: int(statemachine.TargetAuto), Name: statemachine.TargetAuto.String()},
	}
}

func goRunningStepOptions() []channel.EnumOption {
	opts := []channel.EnumOption{}
	for s := stepUndefined; s <= stepFinished; s++ {
		opts = append(opts, channel.EnumOption{Code: int(s), Name: s.String()})
	}
	return opts
}

func readOnly(tbl *channel.Table, name string, kind channel.Kind, unit string) channel.ID {
	return tbl.Add(channel.Descriptor{Name: name, Kind: kind, Access: channel.ReadOnly, Unit: unit})
}

func enumChannel(tbl *channel.Table, name string, access channel.AccessMode, opts []channel.EnumOption) channel.ID {
	return tbl.Add(channel.Descriptor{Name: name, Kind: channel.KindEnum, Access: access, Options: opts})
}

// bitChannels registers prefix+suffix for every suffix and returns their IDs in bit order.
func bitChannels(tbl *channel.Table, prefix string, suffixes []string) []channel.ID {
	ids := make([]channel.ID, len(suffixes))
	for i, s := range suffixes {
		ids[i] = readOnly(tbl, prefix+s, channel.KindBool, "")
	}
	return ids
}

type channelIDs struct {
	voltage, current, soc, soh                                  channel.ID
	minCellVoltage, maxCellVoltage                              channel.ID
	minCellTemperature, maxCellTemperature                      channel.ID
	bpChargeBms, bpDischargeBms                                 channel.ID
	bmsControl, hardwareType, modulesPerTower, numberOfTowers   channel.ID
	towerVersions                                               []channel.ID
	chargeMaxVoltage, dischargeMinVoltage, capacity             channel.ID
	chargeMaxCurrent, dischargeMaxCurrent                       channel.ID
	allowedCharge, allowedDischarge                             channel.ID
	maxEverCharge, maxEverDischarge                             channel.ID
	forceChargeState, forceDischargeState, protectionHeld       channel.ID
	lowMinVoltageWarning, lowMinVoltageFault, lowMinVoltageStop channel.ID
	stateMachine, goRunningStep, startStop, startStopTarget     channel.ID
	started, runFailed, maxStartAttempts, maxStopAttempts       channel.ID
	commFailed, watchdog, startUpRelay                          channel.ID
}

func registerStaticChannels(tbl *channel.Table) channelIDs {
	var ids channelIDs

	ids.voltage = readOnly(tbl, ChVoltage, channel.KindFloat, "V")
	ids.current = readOnly(tbl, ChCurrent, channel.KindFloat, "A")
	ids.soc = readOnly(tbl, ChSoc, channel.KindFloat, "%")
	ids.soh = readOnly(tbl, ChSoh, channel.KindFloat, "%")
	ids.minCellVoltage = readOnly(tbl, ChMinCellVoltage, channel.KindInt, "mV")
	ids.maxCellVoltage = readOnly(tbl, ChMaxCellVoltage, channel.KindInt, "mV")
	readOnly(tbl, ChIDOfCellVoltageMin, channel.KindInt, "")
	readOnly(tbl, ChIDOfCellVoltageMax, channel.KindInt, "")
	ids.minCellTemperature = readOnly(tbl, ChMinCellTemperature, channel.KindFloat, "°C")
	ids.maxCellTemperature = readOnly(tbl, ChMaxCellTemperature, channel.KindFloat, "°C")
	readOnly(tbl, ChIDOfMinTemperature, channel.KindInt, "")
	readOnly(tbl, ChIDOfMaxTemperature, channel.KindInt, "")
	ids.bpChargeBms = readOnly(tbl, ChBpChargeBms, channel.KindFloat, "A")
	ids.bpDischargeBms = readOnly(tbl, ChBpDischargeBms, channel.KindFloat, "A")
	readOnly(tbl, ChMaxDcChargeCurrentBcu, channel.KindFloat, "A")
	readOnly(tbl, ChMaxDcDischargeCurrentBcu, channel.KindFloat, "A")
	readOnly(tbl, ChRackNumberOfBcu, channel.KindInt, "")
	readOnly(tbl, ChRackCellsInSeriesPerMod, channel.KindInt, "")
	readOnly(tbl, ChRackMaxCellVoltageLimit, channel.KindInt, "mV")
	readOnly(tbl, ChRackMinCellVoltageLimit, channel.KindInt, "mV")
	readOnly(tbl, ChUpperVoltage, channel.KindInt, "V")

	ids.bmsControl = readOnly(tbl, ChBmsControl, channel.KindBool, "")
	ids.hardwareType = enumChannel(tbl, ChHardwareType, channel.ReadOnly, hardwareTypeOptions())
	ids.modulesPerTower = readOnly(tbl, ChModulesPerTower, channel.KindInt, "")
	ids.numberOfTowers = readOnly(tbl, ChNumberOfTowers, channel.KindInt, "")
	for tower := 0; tower < maxTowers; tower++ {
		ids.towerVersions = append(ids.towerVersions,
			readOnly(tbl, towerChannel(tower, "BMS_SOFTWARE_VERSION"), channel.KindInt, ""))
	}
	ids.chargeMaxVoltage = readOnly(tbl, ChChargeMaxVoltage, channel.KindInt, "V")
	ids.dischargeMinVoltage = readOnly(tbl, ChDischargeMinVoltage, channel.KindInt, "V")
	ids.capacity = readOnly(tbl, ChCapacity, channel.KindInt, "Wh")

	ids.chargeMaxCurrent = readOnly(tbl, ChChargeMaxCurrent, channel.KindFloat, "A")
	ids.dischargeMaxCurrent = readOnly(tbl, ChDischargeMaxCurrent, channel.KindFloat, "A")
	ids.allowedCharge = readOnly(tbl, ChAllowedChargeCurrent, channel.KindFloat, "A")
	ids.allowedDischarge = readOnly(tbl, ChAllowedDischargeCurrent, channel.KindFloat, "A")
	ids.maxEverCharge = readOnly(tbl, ChMaxEverChargeCurrent, channel.KindFloat, "A")
	ids.maxEverDischarge = readOnly(tbl, ChMaxEverDischargeCurrent, channel.KindFloat, "A")
	ids.forceChargeState = enumChannel(tbl, ChForceChargeState, channel.ReadOnly, forceStateOptions())
	ids.forceDischargeState = enumChannel(tbl, ChForceDischargeState, channel.ReadOnly, forceStateOptions())
	ids.protectionHeld = readOnly(tbl, ChProtectionHeld, channel.KindBool, "")

	ids.lowMinVoltageWarning = readOnly(tbl, ChLowMinVoltageWarning, channel.KindBool, "")
	ids.lowMinVoltageFault = readOnly(tbl, ChLowMinVoltageFault, channel.KindBool, "")
	ids.lowMinVoltageStop = readOnly(tbl, ChLowMinVoltageFaultStopped, channel.KindBool, "")

	ids.stateMachine = enumChannel(tbl, ChStateMachine, channel.ReadOnly, stateOptions())
	ids.goRunningStep = enumChannel(tbl, ChGoRunningStep, channel.ReadOnly, goRunningStepOptions())
	ids.startStop = enumChannel(tbl, ChStartStop, channel.ReadOnly, targetOptions())
	ids.startStopTarget = enumChannel(tbl, ChStartStopTarget, channel.ReadOnly, targetOptions())
	ids.started = readOnly(tbl, ChStarted, channel.KindBool, "")
	ids.runFailed = readOnly(tbl, ChRunFailed, channel.KindBool, "")
	ids.maxStartAttempts = readOnly(tbl, ChMaxStartAttempts, channel.KindBool, "")
	ids.maxStopAttempts = readOnly(tbl, ChMaxStopAttempts, channel.KindBool, "")
	ids.commFailed = readOnly(tbl, ChModbusCommunicationFailed, channel.KindBool, "")

	ids.watchdog = tbl.Add(channel.Descriptor{Name: ChWatchdog, Kind: channel.KindInt, Access: channel.ReadWrite})
	ids.startUpRelay = tbl.Add(channel.Descriptor{Name: ChStartUpRelay, Kind: channel.KindBool, Access: channel.ReadWrite})
	return ids
}
