package battery_modbus

import (
	"errors"
	"testing"
	"time"

	"github.com/simonvetter/modbus"
	"github.com/stretchr/testify/require"
)

func TestRegisterBank(t *testing.T) {

	require := require.New(t)

	bank := NewRegisterBank()
	_, err := bank.ReadRegisters(500, 2, modbus.HOLDING_REGISTER)
	require.ErrorIs(err, ErrNotOpen)

	require.NoError(bank.Open())
	bank.Set(500, 1, 2, 3)
	values, err := bank.ReadRegisters(500, 4, modbus.HOLDING_REGISTER)
	require.NoError(err)
	require.Equal([]uint16{1, 2, 3, 0}, values)

	var written []uint16
	bank.OnWrite = func(_ uint16, v []uint16) { written = v }
	require.NoError(bank.WriteRegister(44000, 7))
	require.Equal(uint16(7), bank.Get(44000))
	require.Equal([]uint16{7}, written)
	require.Equal(1, bank.Writes())

	boom := errors.New("timeout")
	bank.FailReads(500, boom)
	_, err = bank.ReadRegisters(500, 1, modbus.INPUT_REGISTER)
	require.ErrorIs(err, boom)
	bank.FailReads(500, nil)
	_, err = bank.ReadRegisters(500, 1, modbus.INPUT_REGISTER)
	require.NoError(err)

	bank.FailWrites(44000, boom)
	require.ErrorIs(bank.WriteRegisters(44000, []uint16{1}), boom)
	require.Equal(uint16(7), bank.Get(44000))
}

func TestRecordTimer(t *testing.T) {

	require := require.New(t)

	var names []string
	inst := []ModbusInstrument{{RecordTime: func(name string, _ time.Duration) { names = append(names, name) }}}
	RecordTimer("ReadRegisters", inst)()
	RecordTimer("WriteRegister", nil)()
	require.Equal([]string{"ReadRegisters"}, names)
}
