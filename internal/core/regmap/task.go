package regmap

import (
	"errors"
	"fmt"
)

type FunctionCode uint8

const (
	ReadHoldingRegisters   FunctionCode = 3
	ReadInputRegisters     FunctionCode = 4
	WriteSingleRegister    FunctionCode = 6
	WriteMultipleRegisters FunctionCode = 16
)

type Direction int

const (
	Read Direction = iota
	Write
)

type Priority int

const (
	High Priority = iota
	Low
	Once
)

func (p Priority) String() string {
	switch p {
	case High:
		return "high"
	case Low:
		return "low"
	case Once:
		return "once"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

const (
	maxReadQuantity  = 125
	maxWriteQuantity = 123
)

var ErrInvalidTask = errors.New("invalid register task")

type Task struct {
	direction Direction
	fc        FunctionCode
	start     uint16
	length    uint16
	priority  Priority
	elements  []Element

	// set after the first successful read of a Once task
	done bool
}

func (t *Task) Direction() Direction       { return t.direction }
func (t *Task) FunctionCode() FunctionCode { return t.fc }
func (t *Task) Start() uint16              { return t.start }
func (t *Task) Length() uint16             { return t.length }
func (t *Task) Priority() Priority         { return t.priority }
func (t *Task) Elements() []Element        { return t.elements }

func (t *Task) String() string {
	if t.direction == Write {
		return fmt.Sprintf("write fc%d %d+%d", t.fc, t.start, t.length)
	}
	return fmt.Sprintf("read fc%d %d+%d %s", t.fc, t.start, t.length, t.priority)
}

func newTask(direction Direction, fc FunctionCode, priority Priority, elements []Element) (*Task, error) {
	if len(elements) == 0 {
		return nil, fmt.Errorf("%w: no elements", ErrInvalidTask)
	}
	start := elements[0].Address()
	next := uint32(start)
	for _, e := range elements {
		if e.Length() == 0 {
			return nil, fmt.Errorf("%w: zero length element at %d", ErrInvalidTask, e.Address())
		}
		if uint32(e.Address()) != next {
			return nil, fmt.Errorf("%w: element at %d, expected %d (use Dummy to fill gaps)", ErrInvalidTask, e.Address(), next)
		}
		if b, ok := e.(*bitsElement); ok {
			if err := b.validate(); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidTask, err)
			}
		}
		next += uint32(e.Length())
	}
	if next > 0x10000 {
		return nil, fmt.Errorf("%w: task at %d exceeds address space", ErrInvalidTask, start)
	}
	length := uint16(next - uint32(start))
	return &Task{
		direction: direction,
		fc:        fc,
		start:     start,
		length:    length,
		priority:  priority,
		elements:  elements,
	}, nil
}

// NewReadTask builds a read task over contiguous, increasing elements.
func NewReadTask(fc FunctionCode, priority Priority, elements ...Element) (*Task, error) {
	if fc != ReadHoldingRegisters && fc != ReadInputRegisters {
		return nil, fmt.Errorf("%w: fc%d cannot read", ErrInvalidTask, fc)
	}
	t, err := newTask(Read, fc, priority, elements)
	if err != nil {
		return nil, err
	}
	if t.length > maxReadQuantity {
		return nil, fmt.Errorf("%w: %s reads more than %d registers", ErrInvalidTask, t, maxReadQuantity)
	}
	return t, nil
}

// NewWriteTask builds a write task. FC6 tasks must span exactly one register.
func NewWriteTask(fc FunctionCode, elements ...Element) (*Task, error) {
	if fc != WriteSingleRegister && fc != WriteMultipleRegisters {
		return nil, fmt.Errorf("%w: fc%d cannot write", ErrInvalidTask, fc)
	}
	t, err := newTask(Write, fc, High, elements)
	if err != nil {
		return nil, err
	}
	if fc == WriteSingleRegister && t.length != 1 {
		return nil, fmt.Errorf("%w: %s spans %d registers", ErrInvalidTask, t, t.length)
	}
	if t.length > maxWriteQuantity {
		return nil, fmt.Errorf("%w: %s writes more than %d registers", ErrInvalidTask, t, maxWriteQuantity)
	}
	return t, nil
}

// TaskList collects tasks and construction errors of a register map.
type TaskList struct {
	tasks []*Task
	errs  []error
}

func (l *TaskList) Read(fc FunctionCode, priority Priority, elements ...Element) *TaskList {
	t, err := NewReadTask(fc, priority, elements...)
	l.add(t, err)
	return l
}

func (l *TaskList) Write(fc FunctionCode, elements ...Element) *TaskList {
	t, err := NewWriteTask(fc, elements...)
	l.add(t, err)
	return l
}

func (l *TaskList) add(t *Task, err error) {
	if err != nil {
		l.errs = append(l.errs, err)
		return
	}
	l.tasks = append(l.tasks, t)
}

func (l *TaskList) Tasks() ([]*Task, error) {
	if len(l.errs) > 0 {
		return nil, errors.Join(l.errs...)
	}
	return l.tasks, nil
}
