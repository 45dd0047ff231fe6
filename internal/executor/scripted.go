package executor

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Step is one scripted backend reply.
type Step struct {
	Payload  string
	Consumed int64
	Err      error
	// Delay is waited before replying; the call's context can cut it short.
	Delay time.Duration
}

// ScriptedBackend replays a fixed sequence of steps, then echoes.
// It is used by tests and by dry runs that must not reach a real engine.
type ScriptedBackend struct {
	mu    sync.Mutex
	steps []Step
	calls []Call
	// Echo builds the reply once the script is exhausted. Nil uses DefaultEcho.
	Echo func(Call) Step
}

var _ Backend = (*ScriptedBackend)(nil)

// NewScriptedBackend creates a backend that replays steps in order.
func NewScriptedBackend(steps ...Step) *ScriptedBackend {
	return &ScriptedBackend{steps: steps}
}

// Invoke pops the next step, waits its delay and replies.
func (b *ScriptedBackend) Invoke(ctx context.Context, call Call) (Response, error) {
	b.mu.Lock()
	b.calls = append(b.calls, call)
	var step Step
	if len(b.steps) > 0 {
		step = b.steps[0]
		b.steps = b.steps[1:]
	} else if b.Echo != nil {
		step = b.Echo(call)
	} else {
		step = DefaultEcho(call)
	}
	b.mu.Unlock()

	if step.Delay > 0 {
		t := time.NewTimer(step.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-t.C:
		}
	}

	resp := Response{Payload: step.Payload, Consumed: step.Consumed}
	return resp, step.Err
}

// Calls returns how many times Invoke ran.
func (b *ScriptedBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

// Requests returns a copy of every call received.
func (b *ScriptedBackend) Requests() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

// Push appends steps to the script.
func (b *ScriptedBackend) Push(steps ...Step) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.steps = append(b.steps, steps...)
}

// DefaultEcho replies with a tagged copy of the payload and charges one unit
// per four bytes.
func DefaultEcho(call Call) Step {
	return Step{
		Payload:  fmt.Sprintf("[%s] %s", call.Executor, call.Payload),
		Consumed: int64(len(call.Payload)/4 + 1),
	}
}
