package regmap

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/berfenger/homebattery2mqtt/internal/core/channel"
)

var (
	ErrMalformedResponse = errors.New("malformed register response")
	ErrValueRange        = errors.New("value does not fit register")
	ErrMissingValue      = errors.New("no value to write")
)

type WordOrder int

const (
	MSWFirst WordOrder = iota
	LSWFirst
)

type update struct {
	id    channel.ID
	value channel.Value
}

// Element maps a contiguous span of registers to one or more channels.
type Element interface {
	Address() uint16
	Length() uint16
	// decode returns the channel updates for the span, words has exactly Length() entries.
	decode(tbl *channel.Table, words []uint16) ([]update, error)
	// encode returns the register words to write and whether any bound channel has a pending value.
	encode(tbl *channel.Table) ([]uint16, []update, bool, error)
}

func valueToWrite(tbl *channel.Table, id channel.ID) (channel.Value, bool, error) {
	if v, ok := tbl.PendingWrite(id); ok {
		return v, true, nil
	}
	if v := tbl.Get(id); v.Defined() {
		return v, false, nil
	}
	desc, _ := tbl.Descriptor(id)
	return channel.Value{}, false, fmt.Errorf("%w: %s", ErrMissingValue, desc.Name)
}

type numberElement struct {
	addr   uint16
	words  uint16
	signed bool
	order  WordOrder
	ch     channel.ID
	conv   Converter
}

func UnsignedWord(addr uint16, ch channel.ID, conv ...Converter) Element {
	return &numberElement{addr: addr, words: 1, ch: ch, conv: chainOf(conv)}
}

func SignedWord(addr uint16, ch channel.ID, conv ...Converter) Element {
	return &numberElement{addr: addr, words: 1, signed: true, ch: ch, conv: chainOf(conv)}
}

func UnsignedDoubleWord(addr uint16, ch channel.ID, order WordOrder, conv ...Converter) Element {
	return &numberElement{addr: addr, words: 2, order: order, ch: ch, conv: chainOf(conv)}
}

func SignedDoubleWord(addr uint16, ch channel.ID, order WordOrder, conv ...Converter) Element {
	return &numberElement{addr: addr, words: 2, signed: true, order: order, ch: ch, conv: chainOf(conv)}
}

func (e *numberElement) Address() uint16 { return e.addr }
func (e *numberElement) Length() uint16  { return e.words }

func (e *numberElement) raw(words []uint16) float64 {
	if e.words == 1 {
		if e.signed {
			return float64(int16(words[0]))
		}
		return float64(words[0])
	}
	hi, lo := words[0], words[1]
	if e.order == LSWFirst {
		hi, lo = lo, hi
	}
	u := uint32(hi)<<16 | uint32(lo)
	if e.signed {
		return float64(int32(u))
	}
	return float64(u)
}

func (e *numberElement) decode(tbl *channel.Table, words []uint16) ([]update, error) {
	if len(words) != int(e.words) {
		return nil, fmt.Errorf("%w: %d words at %d, want %d", ErrMalformedResponse, len(words), e.addr, e.words)
	}
	f, ok := e.conv.Decode(e.raw(words))
	if !ok {
		return nil, nil
	}
	desc, _ := tbl.Descriptor(e.ch)
	v, err := channel.FromFloat(desc.Kind, f)
	if err != nil {
		return nil, fmt.Errorf("register %d (%s): %w", e.addr, desc.Name, err)
	}
	return []update{{id: e.ch, value: v}}, nil
}

func (e *numberElement) bounds() (float64, float64) {
	switch {
	case e.words == 1 && e.signed:
		return math.MinInt16, math.MaxInt16
	case e.words == 1:
		return 0, math.MaxUint16
	case e.signed:
		return math.MinInt32, math.MaxInt32
	default:
		return 0, math.MaxUint32
	}
}

func (e *numberElement) encode(tbl *channel.Table) ([]uint16, []update, bool, error) {
	v, pending, err := valueToWrite(tbl, e.ch)
	if err != nil {
		return nil, nil, false, err
	}
	f, _ := v.Float()
	r, err := e.conv.Encode(f)
	if err != nil {
		return nil, nil, false, err
	}
	r = math.Round(r)
	lower, upper := e.bounds()
	if r < lower || r > upper {
		return nil, nil, false, fmt.Errorf("%w: %v at %d", ErrValueRange, r, e.addr)
	}
	var u uint32
	if e.signed {
		u = uint32(int32(r))
	} else {
		u = uint32(r)
	}
	if e.words == 1 {
		return []uint16{uint16(u)}, []update{{id: e.ch, value: v}}, pending, nil
	}
	hi, lo := uint16(u>>16), uint16(u)
	if e.order == LSWFirst {
		hi, lo = lo, hi
	}
	return []uint16{hi, lo}, []update{{id: e.ch, value: v}}, pending, nil
}

type stringElement struct {
	addr  uint16
	words uint16
	ch    channel.ID
}

// StringWord maps length registers of ASCII text, two characters per register.
func StringWord(addr uint16, length uint16, ch channel.ID) Element {
	return &stringElement{addr: addr, words: length, ch: ch}
}

func (e *stringElement) Address() uint16 { return e.addr }
func (e *stringElement) Length() uint16  { return e.words }

func (e *stringElement) decode(tbl *channel.Table, words []uint16) ([]update, error) {
	if len(words) != int(e.words) {
		return nil, fmt.Errorf("%w: %d words at %d, want %d", ErrMalformedResponse, len(words), e.addr, e.words)
	}
	b := make([]byte, 0, len(words)*2)
	for _, w := range words {
		b = append(b, byte(w>>8), byte(w))
	}
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return []update{{id: e.ch, value: channel.StringValue(string(bytes.TrimSpace(b)))}}, nil
}

func (e *stringElement) encode(tbl *channel.Table) ([]uint16, []update, bool, error) {
	v, pending, err := valueToWrite(tbl, e.ch)
	if err != nil {
		return nil, nil, false, err
	}
	s, _ := v.Text()
	if len(s) > int(e.words)*2 {
		return nil, nil, false, fmt.Errorf("%w: %d chars at %d", ErrValueRange, len(s), e.addr)
	}
	b := make([]byte, int(e.words)*2)
	copy(b, s)
	words := make([]uint16, e.words)
	for i := range words {
		words[i] = uint16(b[2*i])<<8 | uint16(b[2*i+1])
	}
	return words, []update{{id: e.ch, value: v}}, pending, nil
}

type dummyElement struct {
	addr  uint16
	words uint16
}

// Dummy keeps address continuity over registers that are not mapped.
func Dummy(addr uint16, length uint16) Element {
	return &dummyElement{addr: addr, words: length}
}

func (e *dummyElement) Address() uint16 { return e.addr }
func (e *dummyElement) Length() uint16  { return e.words }

func (e *dummyElement) decode(_ *channel.Table, words []uint16) ([]update, error) {
	if len(words) != int(e.words) {
		return nil, fmt.Errorf("%w: %d words at %d, want %d", ErrMalformedResponse, len(words), e.addr, e.words)
	}
	return nil, nil
}

func (e *dummyElement) encode(_ *channel.Table) ([]uint16, []update, bool, error) {
	return make([]uint16, e.words), nil, false, nil
}

type Bit struct {
	Index   uint8
	Channel channel.ID
	Invert  bool
}

func BitAt(index uint8, ch channel.ID) Bit {
	return Bit{Index: index, Channel: ch}
}

func (b Bit) Inverted() Bit {
	b.Invert = true
	return b
}

type bitsElement struct {
	addr uint16
	bits []Bit
}

// BitsWord splits one register into boolean channels by bit index.
func BitsWord(addr uint16, bits ...Bit) Element {
	return &bitsElement{addr: addr, bits: bits}
}

func (e *bitsElement) Address() uint16 { return e.addr }
func (e *bitsElement) Length() uint16  { return 1 }

func (e *bitsElement) validate() error {
	seen := map[uint8]bool{}
	for _, b := range e.bits {
		if b.Index > 15 {
			return fmt.Errorf("bit %d out of range at %d", b.Index, e.addr)
		}
		if seen[b.Index] {
			return fmt.Errorf("bit %d mapped twice at %d", b.Index, e.addr)
		}
		seen[b.Index] = true
	}
	return nil
}

func (e *bitsElement) decode(_ *channel.Table, words []uint16) ([]update, error) {
	if len(words) != 1 {
		return nil, fmt.Errorf("%w: %d words at %d, want 1", ErrMalformedResponse, len(words), e.addr)
	}
	updates := make([]update, 0, len(e.bits))
	for _, b := range e.bits {
		set := words[0]&(1<<b.Index) != 0
		updates = append(updates, update{id: b.Channel, value: channel.BoolValue(set != b.Invert)})
	}
	return updates, nil
}

func (e *bitsElement) encode(tbl *channel.Table) ([]uint16, []update, bool, error) {
	var word uint16
	anyPending := false
	updates := make([]update, 0, len(e.bits))
	for _, b := range e.bits {
		v, pending, err := valueToWrite(tbl, b.Channel)
		if err != nil {
			// undefined bits are written as zero
			continue
		}
		anyPending = anyPending || pending
		if v.BoolOr(false) != b.Invert {
			word |= 1 << b.Index
		}
		updates = append(updates, update{id: b.Channel, value: v})
	}
	return []uint16{word}, updates, anyPending, nil
}
