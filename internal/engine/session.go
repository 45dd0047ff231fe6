package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/delegate/internal/contextstate"
	"github.com/ShayCichocki/delegate/pkg/models"
)

// Session scopes context consumption. Closing a session cancels every task
// still running in it and resets its counters.
type Session struct {
	ID       string
	State    *contextstate.State
	OpenedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// OpenSession starts a session bound to ctx.
func (e *Engine) OpenSession(ctx context.Context) *Session {
	id := uuid.New().String()[:8]
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		ID:       id,
		State:    contextstate.New(id, e.cfg),
		OpenedAt: time.Now(),
		ctx:      sctx,
		cancel:   cancel,
	}

	e.mu.Lock()
	e.sessions[id] = s
	e.mu.Unlock()

	e.logger.Debug("session opened", "session", id)
	return s
}

// Session looks up an open session.
func (e *Engine) Session(id string) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[id]
	return s, ok
}

// CloseSession cancels in-flight work for the session and resets its
// counters. It returns false if the session is not open.
func (e *Engine) CloseSession(id string) bool {
	e.mu.Lock()
	s, ok := e.sessions[id]
	delete(e.sessions, id)
	e.mu.Unlock()
	if !ok {
		return false
	}

	s.cancel()
	snap := s.State.Snapshot()
	s.State.Reset()

	e.logger.Info("session closed",
		"session", id,
		"primary_consumed", snap.Consumed[models.ExecutorPrimary],
		"secondary_consumed", snap.Consumed[models.ExecutorSecondary],
	)
	e.emitter.Emit(EngineEvent{Type: EventSessionClosed, SessionID: id})
	return true
}

// bind returns a context cancelled when either ctx or the session ends, with
// the session's context state attached for the gateways.
func (s *Session) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	ctx = contextstate.NewContext(ctx, s.State)
	return ctx, func() {
		stop()
		cancel()
	}
}
