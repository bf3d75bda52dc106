package actor

import (
	"context"
	"errors"
	"fmt"

	"github.com/berfenger/homebattery2mqtt/internal/core/regmap"
	"github.com/berfenger/homebattery2mqtt/pkg/battery_modbus"

	"github.com/simonvetter/modbus"
)

var ErrUnsupportedFunction = errors.New("unsupported function code")

// RegisterTransport runs register requests on a Modbus client.
type RegisterTransport struct {
	client battery_modbus.RegisterClient
}

func NewRegisterTransport(client battery_modbus.RegisterClient) RegisterTransport {
	return RegisterTransport{client: client}
}

func (t RegisterTransport) ReadRegisters(ctx context.Context, fc regmap.FunctionCode, addr uint16, quantity uint16) ([]uint16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch fc {
	case regmap.ReadHoldingRegisters:
		return t.client.ReadRegisters(addr, quantity, modbus.HOLDING_REGISTER)
	case regmap.ReadInputRegisters:
		return t.client.ReadRegisters(addr, quantity, modbus.INPUT_REGISTER)
	}
	return nil, fmt.Errorf("%w: read with %d", ErrUnsupportedFunction, fc)
}

func (t RegisterTransport) WriteRegisters(ctx context.Context, fc regmap.FunctionCode, addr uint16, values []uint16) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch fc {
	case regmap.WriteSingleRegister:
		if len(values) != 1 {
			return fmt.Errorf("%w: single register write of %d values", ErrUnsupportedFunction, len(values))
		}
		return t.client.WriteRegister(addr, values[0])
	case regmap.WriteMultipleRegisters:
		return t.client.WriteRegisters(addr, values)
	}
	return fmt.Errorf("%w: write with %d", ErrUnsupportedFunction, fc)
}

// ensure interface compliance
var _ regmap.Transport = RegisterTransport{}
