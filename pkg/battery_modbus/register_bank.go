package battery_modbus

import (
	"errors"
	"sync"

	"github.com/simonvetter/modbus"
)

var ErrNotOpen = errors.New("register bank is not open")

// RegisterBank is an in-memory Modbus unit. Holding and input registers share one address space.
type RegisterBank struct {
	mu        sync.Mutex
	open      bool
	regs      map[uint16]uint16
	failRead  map[uint16]error
	failWrite map[uint16]error
	failOpen  error
	blockRead map[uint16]<-chan struct{}
	writes    int
	opens     int

	readsInFlight    int
	maxReadsInFlight int

	// OnWrite is called after every successful write, with the lock released.
	OnWrite func(addr uint16, values []uint16)
}

func NewRegisterBank() *RegisterBank {
	return &RegisterBank{
		regs:      map[uint16]uint16{},
		failRead:  map[uint16]error{},
		failWrite: map[uint16]error{},
		blockRead: map[uint16]<-chan struct{}{},
	}
}

func (b *RegisterBank) Open() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failOpen != nil {
		return b.failOpen
	}
	b.open = true
	b.opens++
	return nil
}

func (b *RegisterBank) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = false
	return nil
}

// FailOpen makes Open fail with err, nil clears it.
func (b *RegisterBank) FailOpen(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failOpen = err
}

func (b *RegisterBank) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

func (b *RegisterBank) Opens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens
}

func (b *RegisterBank) Set(addr uint16, values ...uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, v := range values {
		b.regs[addr+uint16(i)] = v
	}
}

func (b *RegisterBank) Get(addr uint16) uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.regs[addr]
}

func (b *RegisterBank) Writes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}

// FailReads makes reads starting at addr fail with err, nil clears it.
func (b *RegisterBank) FailReads(addr uint16, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failRead, addr)
		return
	}
	b.failRead[addr] = err
}

func (b *RegisterBank) FailWrites(addr uint16, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failWrite, addr)
		return
	}
	b.failWrite[addr] = err
}

// BlockReads makes reads starting at addr wait until release is closed, nil clears it.
func (b *RegisterBank) BlockReads(addr uint16, release <-chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if release == nil {
		delete(b.blockRead, addr)
		return
	}
	b.blockRead[addr] = release
}

// MaxConcurrentReads is the highest number of reads seen in progress at the same time.
func (b *RegisterBank) MaxConcurrentReads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxReadsInFlight
}

func (b *RegisterBank) ReadRegisters(addr uint16, quantity uint16, _ modbus.RegType) ([]uint16, error) {
	b.mu.Lock()
	b.readsInFlight++
	b.maxReadsInFlight = max(b.maxReadsInFlight, b.readsInFlight)
	release := b.blockRead[addr]
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.readsInFlight--
		b.mu.Unlock()
	}()
	if release != nil {
		<-release
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return nil, ErrNotOpen
	}
	if err := b.failRead[addr]; err != nil {
		return nil, err
	}
	out := make([]uint16, quantity)
	for i := range out {
		out[i] = b.regs[addr+uint16(i)]
	}
	return out, nil
}

func (b *RegisterBank) WriteRegister(addr uint16, value uint16) error {
	return b.WriteRegisters(addr, []uint16{value})
}

func (b *RegisterBank) WriteRegisters(addr uint16, values []uint16) error {
	b.mu.Lock()
	if !b.open {
		b.mu.Unlock()
		return ErrNotOpen
	}
	if err := b.failWrite[addr]; err != nil {
		b.mu.Unlock()
		return err
	}
	for i, v := range values {
		b.regs[addr+uint16(i)] = v
	}
	b.writes++
	hook := b.OnWrite
	b.mu.Unlock()

	if hook != nil {
		hook(addr, values)
	}
	return nil
}

// ensure interface compliance
var _ RegisterClient = (*RegisterBank)(nil)
