package service

import (
	"fmt"
	"time"
)

// goRunningStep is the start-up handshake position inside the GO_RUNNING state.
type goRunningStep int

const (
	stepUndefined goRunningStep = iota
	stepRelayOn
	stepRelayHold
	stepRelayOff
	stepRetryModbusCommunication
	stepWaitForBmsControl
	stepWaitForModbusCommunication
	stepFinished
)

var goRunningStepNames = []string{
	"UNDEFINED",
	"START_UP_RELAY_ON",
	"START_UP_RELAY_HOLD",
	"START_UP_RELAY_OFF",
	"RETRY_MODBUS_COMMUNICATION",
	"WAIT_FOR_BMS_CONTROL",
	"WAIT_FOR_MODBUS_COMMUNICATION",
	"FINISHED",
}

func (s goRunningStep) String() string {
	if int(s) < len(goRunningStepNames) {
		return goRunningStepNames[s]
	}
	return fmt.Sprintf("STEP_%d", int(s))
}

// nextGoRunningStep runs one cycle of the start-up handshake. A battery whose BMS is already on skips the relay.
func (b *HomeBattery) nextGoRunningStep(now time.Time) (goRunningStep, error) {
	switch b.step {
	case stepUndefined:
		switch {
		case b.bmsControl():
			return stepRetryModbusCommunication, nil
		case !b.relayEnabled():
			b.logger.Warn("battery@go_running: no start-up relay, waiting for the BMS to be switched on")
			return stepWaitForBmsControl, nil
		}
		return stepRelayOn, nil

	case stepRelayOn:
		if err := b.switchRelay(true); err != nil {
			return b.step, err
		}
		if b.relayIs(true) {
			return stepRelayHold, nil
		}
		return stepRelayOn, nil

	case stepRelayHold:
		if now.Sub(b.stepSince) >= b.cfg.StartUpRelayHold {
			return stepRelayOff, nil
		}
		return stepRelayHold, nil

	case stepRelayOff:
		if err := b.switchRelay(false); err != nil {
			return b.step, err
		}
		if b.relayIs(false) {
			return stepRetryModbusCommunication, nil
		}
		return stepRelayOff, nil

	case stepRetryModbusCommunication:
		if b.reconnect != nil {
			b.reconnect()
		}
		return stepWaitForBmsControl, nil

	case stepWaitForBmsControl:
		if b.bmsControl() {
			return stepWaitForModbusCommunication, nil
		}
		return stepWaitForBmsControl, nil

	case stepWaitForModbusCommunication:
		if !b.commFailed {
			return stepFinished, nil
		}
		return stepWaitForModbusCommunication, nil

	case stepFinished:
		return stepFinished, nil
	}
	return stepUndefined, fmt.Errorf("unknown start-up step %d", b.step)
}
