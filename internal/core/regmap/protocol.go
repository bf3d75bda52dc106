package regmap

import (
	"context"
	"errors"
	"fmt"

	"github.com/berfenger/homebattery2mqtt/internal/core/channel"
)

// Transport performs raw register I/O against the device.
type Transport interface {
	ReadRegisters(ctx context.Context, fc FunctionCode, addr uint16, quantity uint16) ([]uint16, error)
	WriteRegisters(ctx context.Context, fc FunctionCode, addr uint16, values []uint16) error
}

type ReadRequest struct {
	FC       FunctionCode
	Start    uint16
	Quantity uint16
	task     *Task
}

type WriteRequest struct {
	FC     FunctionCode
	Start  uint16
	Values []uint16
	task   *Task
	writes []update
}

// Plan holds the register requests of one cycle. Its exported fields are immutable once built.
type Plan struct {
	Writes []WriteRequest
	Reads  []ReadRequest
}

func (p Plan) Empty() bool {
	return len(p.Writes) == 0 && len(p.Reads) == 0
}

type ReadResult struct {
	Values []uint16
	Err    error
}

// Results are positionally aligned with the requests of a Plan.
type Results struct {
	Writes []error
	Reads  []ReadResult
}

type TaskError struct {
	Task string
	Err  error
}

func (e TaskError) Error() string {
	return fmt.Sprintf("%s: %v", e.Task, e.Err)
}

func (e TaskError) Unwrap() error {
	return e.Err
}

type Report struct {
	Succeeded int
	Failed    int
	Errors    []TaskError
}

func (r Report) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i := range r.Errors {
		errs[i] = r.Errors[i]
	}
	return errors.Join(errs...)
}

func (r *Report) fail(t *Task, err error) {
	r.Failed++
	r.Errors = append(r.Errors, TaskError{Task: t.String(), Err: err})
}

// Protocol owns the register tasks of a device and maps their results to channels.
// It is not safe for concurrent use; the cycle owner is its only caller.
type Protocol struct {
	tbl       *channel.Table
	tasks     []*Task
	lowCursor int
}

func NewProtocol(tbl *channel.Table, tasks ...*Task) *Protocol {
	p := &Protocol{tbl: tbl}
	p.AddTasks(tasks...)
	return p
}

// AddTasks appends tasks. Tasks are never removed.
func (p *Protocol) AddTasks(tasks ...*Task) {
	p.tasks = append(p.tasks, tasks...)
}

func (p *Protocol) Tasks() []*Task {
	return p.tasks
}

// Plan selects the requests of the next cycle: pending writes, all high priority reads, one low priority
// read in round robin and every Once read that has not succeeded yet.
func (p *Protocol) Plan() Plan {
	var plan Plan
	var lows []*Task
	for _, t := range p.tasks {
		if t.direction == Write {
			if req, ok := p.planWrite(t); ok {
				plan.Writes = append(plan.Writes, req)
			}
			continue
		}
		switch t.priority {
		case High:
			plan.Reads = append(plan.Reads, readRequest(t))
		case Once:
			if !t.done {
				plan.Reads = append(plan.Reads, readRequest(t))
			}
		case Low:
			lows = append(lows, t)
		}
	}
	if len(lows) > 0 {
		t := lows[p.lowCursor%len(lows)]
		p.lowCursor = (p.lowCursor + 1) % len(lows)
		plan.Reads = append(plan.Reads, readRequest(t))
	}
	return plan
}

func readRequest(t *Task) ReadRequest {
	return ReadRequest{FC: t.fc, Start: t.start, Quantity: t.length, task: t}
}

func (p *Protocol) planWrite(t *Task) (WriteRequest, bool) {
	values := make([]uint16, 0, t.length)
	var writes []update
	pending := false
	for _, e := range t.elements {
		words, ups, pend, err := e.encode(p.tbl)
		if err != nil {
			// nothing sensible to write yet
			return WriteRequest{}, false
		}
		values = append(values, words...)
		writes = append(writes, ups...)
		pending = pending || pend
	}
	if !pending {
		return WriteRequest{}, false
	}
	return WriteRequest{FC: t.fc, Start: t.start, Values: values, task: t, writes: writes}, true
}

// Apply maps results back to channels. A failed task leaves all of its channels untouched.
func (p *Protocol) Apply(plan Plan, results Results) Report {
	var report Report
	for i, req := range plan.Writes {
		var err error
		if i < len(results.Writes) {
			err = results.Writes[i]
		} else {
			err = errors.New("no result")
		}
		if err != nil {
			report.fail(req.task, err)
			continue
		}
		for _, w := range req.writes {
			p.tbl.ConfirmWrite(w.id, w.value)
		}
		report.Succeeded++
	}
	for i, req := range plan.Reads {
		if i >= len(results.Reads) {
			report.fail(req.task, errors.New("no result"))
			continue
		}
		res := results.Reads[i]
		if res.Err != nil {
			report.fail(req.task, res.Err)
			continue
		}
		updates, err := p.decode(req.task, res.Values)
		if err != nil {
			report.fail(req.task, err)
			continue
		}
		for _, u := range updates {
			p.tbl.SetNext(u.id, u.value)
		}
		for _, u := range updates {
			p.tbl.Commit(u.id)
		}
		req.task.done = true
		report.Succeeded++
	}
	return report
}

func (p *Protocol) decode(t *Task, values []uint16) ([]update, error) {
	if len(values) != int(t.length) {
		return nil, fmt.Errorf("%w: got %d registers, want %d", ErrMalformedResponse, len(values), t.length)
	}
	var updates []update
	offset := 0
	for _, e := range t.elements {
		n := int(e.Length())
		ups, err := e.decode(p.tbl, values[offset:offset+n])
		if err != nil {
			return nil, err
		}
		updates = append(updates, ups...)
		offset += n
	}
	return updates, nil
}

// Execute runs a plan against the transport, writes first. Requests left when ctx ends fail with its error.
func Execute(ctx context.Context, transport Transport, plan Plan) Results {
	res := Results{
		Writes: make([]error, len(plan.Writes)),
		Reads:  make([]ReadResult, len(plan.Reads)),
	}
	for i, w := range plan.Writes {
		if err := ctx.Err(); err != nil {
			res.Writes[i] = err
			continue
		}
		res.Writes[i] = transport.WriteRegisters(ctx, w.FC, w.Start, w.Values)
	}
	for i, r := range plan.Reads {
		if err := ctx.Err(); err != nil {
			res.Reads[i] = ReadResult{Err: err}
			continue
		}
		values, err := transport.ReadRegisters(ctx, r.FC, r.Start, r.Quantity)
		res.Reads[i] = ReadResult{Values: values, Err: err}
	}
	return res
}

// FailedResults marks every request of the plan as failed with err.
func FailedResults(plan Plan, err error) Results {
	res := Results{
		Writes: make([]error, len(plan.Writes)),
		Reads:  make([]ReadResult, len(plan.Reads)),
	}
	for i := range res.Writes {
		res.Writes[i] = err
	}
	for i := range res.Reads {
		res.Reads[i] = ReadResult{Err: err}
	}
	return res
}
