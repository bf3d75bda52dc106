package channel

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
)

type AccessMode int

const (
	ReadOnly AccessMode = iota
	ReadWrite
)

func (a AccessMode) String() string {
	if a == ReadWrite {
		return "RW"
	}
	return "RO"
}

var (
	ErrUnknownChannel = errors.New("unknown channel")
	ErrReadOnly       = errors.New("channel is read-only")
	ErrKindMismatch   = errors.New("channel kind mismatch")
)

// ID is the stable slot index of a channel. It is never reused while the table lives.
type ID int

const NoID ID = -1

type EnumOption struct {
	Code int
	Name string
}

type Descriptor struct {
	Name     string
	Kind     Kind
	Access   AccessMode
	Unit     string
	Options  []EnumOption
	OnChange func(old, new Value)
}

func (d Descriptor) OptionName(code int64) (string, bool) {
	for _, o := range d.Options {
		if int64(o.Code) == code {
			return o.Name, true
		}
	}
	return "", false
}

// Snapshot is the state of one channel at a single point in time.
type Snapshot struct {
	Current   Value
	Next      Value
	NextWrite Value
}

type slot struct {
	desc  Descriptor
	state atomic.Pointer[Snapshot]
}

type registry struct {
	slots []*slot
	index map[string]ID
}

// Table is the arena of channels of one device.
// All mutations must happen on a single goroutine; reads are safe from any goroutine.
type Table struct {
	reg atomic.Pointer[registry]
}

func NewTable() *Table {
	t := &Table{}
	t.reg.Store(&registry{index: map[string]ID{}})
	return t
}

// Add registers a channel and returns its ID. Adding an existing name returns the existing ID.
func (t *Table) Add(desc Descriptor) ID {
	reg := t.reg.Load()
	if id, ok := reg.index[desc.Name]; ok {
		return id
	}
	s := &slot{desc: desc}
	s.state.Store(&Snapshot{
		Current:   Undefined(desc.Kind),
		Next:      Undefined(desc.Kind),
		NextWrite: Undefined(desc.Kind),
	})
	slots := make([]*slot, len(reg.slots), len(reg.slots)+1)
	copy(slots, reg.slots)
	slots = append(slots, s)
	index := make(map[string]ID, len(reg.index)+1)
	for k, v := range reg.index {
		index[k] = v
	}
	id := ID(len(slots) - 1)
	index[desc.Name] = id
	t.reg.Store(&registry{slots: slots, index: index})
	return id
}

// MustLookup returns the ID of a channel known to exist.
func (t *Table) MustLookup(name string) ID {
	id, ok := t.Lookup(name)
	if !ok {
		panic(fmt.Sprintf("channel %s not registered", name))
	}
	return id
}

func (t *Table) Lookup(name string) (ID, bool) {
	id, ok := t.reg.Load().index[name]
	return id, ok
}

func (t *Table) Len() int {
	return len(t.reg.Load().slots)
}

// Names returns the sorted channel names.
func (t *Table) Names() []string {
	reg := t.reg.Load()
	names := make([]string, 0, len(reg.slots))
	for _, s := range reg.slots {
		names = append(names, s.desc.Name)
	}
	sort.Strings(names)
	return names
}

func (t *Table) slot(id ID) *slot {
	reg := t.reg.Load()
	if id < 0 || int(id) >= len(reg.slots) {
		return nil
	}
	return reg.slots[id]
}

func (t *Table) Descriptor(id ID) (Descriptor, bool) {
	s := t.slot(id)
	if s == nil {
		return Descriptor{}, false
	}
	return s.desc, true
}

func (t *Table) Snapshot(id ID) Snapshot {
	s := t.slot(id)
	if s == nil {
		return Snapshot{}
	}
	return *s.state.Load()
}

// Get returns the current value of the channel.
func (t *Table) Get(id ID) Value {
	return t.Snapshot(id).Current
}

func (t *Table) GetByName(name string) (Value, error) {
	id, ok := t.Lookup(name)
	if !ok {
		return Value{}, fmt.Errorf("%w: %s", ErrUnknownChannel, name)
	}
	return t.Get(id), nil
}

func checkKind(desc Descriptor, v Value) error {
	if !v.Defined() {
		return nil
	}
	if v.Kind() != desc.Kind {
		return fmt.Errorf("%w: %s is %s, got %s", ErrKindMismatch, desc.Name, desc.Kind, v.Kind())
	}
	return nil
}

// ProposeWrite sets the next-write value of a read-write channel. The value is pushed to hardware by the
// protocol on the following cycles until confirmed.
func (t *Table) ProposeWrite(id ID, v Value) error {
	s := t.slot(id)
	if s == nil {
		return fmt.Errorf("%w: id %d", ErrUnknownChannel, id)
	}
	if s.desc.Access != ReadWrite {
		return fmt.Errorf("%w: %s", ErrReadOnly, s.desc.Name)
	}
	if err := checkKind(s.desc, v); err != nil {
		return err
	}
	old := s.state.Load()
	s.state.Store(&Snapshot{Current: old.Current, Next: old.Next, NextWrite: v})
	return nil
}

func (t *Table) SetNextWrite(name string, v Value) error {
	id, ok := t.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, name)
	}
	return t.ProposeWrite(id, v)
}

// SetNext stores a value that becomes current on the next Commit.
func (t *Table) SetNext(id ID, v Value) {
	s := t.slot(id)
	if s == nil {
		return
	}
	if err := checkKind(s.desc, v); err != nil {
		return
	}
	old := s.state.Load()
	s.state.Store(&Snapshot{Current: old.Current, Next: v, NextWrite: old.NextWrite})
}

// Commit promotes the next value to current and fires OnChange if it differs.
func (t *Table) Commit(id ID) {
	s := t.slot(id)
	if s == nil {
		return
	}
	old := s.state.Load()
	s.state.Store(&Snapshot{Current: old.Next, Next: old.Next, NextWrite: old.NextWrite})
	if s.desc.OnChange != nil && !old.Current.Equal(old.Next) {
		s.desc.OnChange(old.Current, old.Next)
	}
}

// Set is SetNext followed by Commit.
func (t *Table) Set(id ID, v Value) {
	t.SetNext(id, v)
	t.Commit(id)
}

// PendingWrite returns the next-write value when it differs from the last confirmed value.
func (t *Table) PendingWrite(id ID) (Value, bool) {
	s := t.slot(id)
	if s == nil {
		return Value{}, false
	}
	snap := s.state.Load()
	if !snap.NextWrite.Defined() || snap.NextWrite.Equal(snap.Current) {
		return Value{}, false
	}
	return snap.NextWrite, true
}

// ConfirmWrite records v as written to hardware.
func (t *Table) ConfirmWrite(id ID, v Value) {
	s := t.slot(id)
	if s == nil {
		return
	}
	old := s.state.Load()
	next := old.NextWrite
	if next.Equal(v) {
		next = Undefined(s.desc.Kind)
	}
	s.state.Store(&Snapshot{Current: v, Next: v, NextWrite: next})
	if s.desc.OnChange != nil && !old.Current.Equal(v) {
		s.desc.OnChange(old.Current, v)
	}
}
