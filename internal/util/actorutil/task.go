package actorutil

import (
	"context"
	"errors"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/primetalk/goio/io"
)

var ErrNilResult = errors.New("result is nil")

// SafeBackgroundTask runs a blocking function outside of the actor and delivers its outcome as a message.
// Panics and timeouts are turned into errors.
type SafeBackgroundTask[T any] struct {
	ctx     actor.Context
	fn      func(context.Context) (*T, error)
	timeout *time.Duration
	recover func(error) T
}

// NewBackgroundTaskCtx runs fn with a context that is cancelled when the task times out.
func NewBackgroundTaskCtx[T any](ctx actor.Context, fn func(context.Context) (*T, error)) *SafeBackgroundTask[T] {
	return &SafeBackgroundTask[T]{
		ctx: ctx,
		fn:  fn,
	}
}

func (t *SafeBackgroundTask[T]) WithTimeout(timeout time.Duration) *SafeBackgroundTask[T] {
	t.timeout = &timeout
	return t
}

func (t *SafeBackgroundTask[T]) Recover(fn func(error) T) *SafeBackgroundTask[T] {
	t.recover = fn
	return t
}

// PipeTo runs the task in a goroutine and sends the value, or the recovered value, to pid.
func (t *SafeBackgroundTask[T]) PipeTo(pid *actor.PID) {
	system := t.ctx.ActorSystem()
	go func() {
		value, err := t.RunSync()
		if err != nil {
			if t.recover != nil {
				system.Root.Send(pid, t.recover(err))
			}
			return
		}
		system.Root.Send(pid, value)
	}()
}

// RunSync runs the task on the calling goroutine.
func (t *SafeBackgroundTask[T]) RunSync() (T, error) {
	runCtx := context.Background()
	var cancel context.CancelFunc = func() {}
	if t.timeout != nil {
		runCtx, cancel = context.WithTimeout(runCtx, *t.timeout)
	}
	defer cancel()

	bg := io.Eval(func() (T, error) {
		var zero T
		a, err := t.fn(runCtx)
		if err != nil {
			return zero, err
		}
		if a == nil {
			return zero, ErrNilResult
		}
		return *a, nil
	})
	if t.timeout != nil {
		bg = io.WithTimeout[T](*t.timeout)(bg)
	}
	result := io.RunSync(bg)
	return result.Value, result.Error
}
