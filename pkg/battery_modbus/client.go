package battery_modbus

import (
	"fmt"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

// RegisterClient is the raw register access to one Modbus unit.
type RegisterClient interface {
	Open() error
	Close() error
	ReadRegisters(addr uint16, quantity uint16, regType modbus.RegType) ([]uint16, error)
	WriteRegister(addr uint16, value uint16) error
	WriteRegisters(addr uint16, values []uint16) error
}

type ModbusClient struct {
	client     *modbus.ModbusClient
	instrument []ModbusInstrument
}

type ModbusInstrument struct {
	RecordTime func(fnName string, opTime time.Duration)
}

func traceLoggerInstrumentation(logger *zap.Logger) *ModbusInstrument {
	return &ModbusInstrument{
		RecordTime: func(fnName string, opTime time.Duration) {
			logger.Debug(fmt.Sprintf("modbus [%s]: %d millis", fnName, opTime.Milliseconds()))
		},
	}
}

func CreateModbusClient(ip string, port uint, unitID uint8, timeout time.Duration,
	logger *zap.Logger, instrumentation *ModbusInstrument) (*ModbusClient, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", ip, port),
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}

	// instrumentation
	var inst []ModbusInstrument
	logInst := traceLoggerInstrumentation(logger.With(zap.String("target", "battery"), zap.Uint8("unit", unitID)))
	if logInst != nil {
		inst = append(inst, *logInst)
	}
	if instrumentation != nil {
		inst = append(inst, *instrumentation)
	}

	if unitID > 0 {
		if err := client.SetUnitId(unitID); err != nil {
			return nil, err
		}
	}
	return &ModbusClient{
		client:     client,
		instrument: inst,
	}, nil
}

func (c *ModbusClient) Open() error {
	defer RecordTimer("Open", c.instrument)()
	return c.client.Open()
}

func (c *ModbusClient) Close() error {
	return c.client.Close()
}

func (c *ModbusClient) ReadRegisters(addr uint16, quantity uint16, regType modbus.RegType) ([]uint16, error) {
	defer RecordTimer("ReadRegisters", c.instrument)()
	return c.client.ReadRegisters(addr, quantity, regType)
}

func (c *ModbusClient) WriteRegister(addr uint16, value uint16) error {
	defer RecordTimer("WriteRegister", c.instrument)()
	return c.client.WriteRegister(addr, value)
}

func (c *ModbusClient) WriteRegisters(addr uint16, values []uint16) error {
	defer RecordTimer("WriteRegisters", c.instrument)()
	return c.client.WriteRegisters(addr, values)
}

func RecordTimer(name string, instrument []ModbusInstrument) func() {
	if instrument == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		duration := time.Since(start)
		for i := range instrument {
			instrument[i].RecordTime(name, duration)
		}
	}
}

// ensure interface compliance
var _ RegisterClient = (*ModbusClient)(nil)
