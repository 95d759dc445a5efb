// Package memory provides an in-memory observability sink. It records every
// session with its initial state and dispatched actions, which makes it
// useful in tests and for inspecting a store from within the process.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/pankerit/vetamin"
)

// Record is one dispatched action and the state it produced.
type Record struct {
	Action    string
	State     vetamin.State
	Timestamp time.Time
}

// Sink is a vetamin.Connector keeping sessions in memory.
// It is safe for concurrent access.
type Sink struct {
	mu         sync.RWMutex
	sessions   []*Session
	connectErr error
	sendErr    error
	now        func() time.Time
}

var _ vetamin.Connector = (*Sink)(nil)

// Option configures a Sink.
type Option func(*Sink)

// WithConnectError makes every Connect fail with err.
func WithConnectError(err error) Option {
	return func(s *Sink) {
		s.connectErr = err
	}
}

// WithSendError makes every Send fail with err. Nothing is recorded.
func WithSendError(err error) Option {
	return func(s *Sink) {
		s.sendErr = err
	}
}

// WithClock sets the time source for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an empty Sink.
func New(opts ...Option) *Sink {
	s := &Sink{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect opens a new session.
func (s *Sink) Connect(ctx context.Context, cfg vetamin.SessionConfig) (vetamin.Session, error) {
	if s.connectErr != nil {
		return nil, s.connectErr
	}

	session := &Session{name: cfg.Name, now: s.now, sendErr: s.sendErr}
	s.mu.Lock()
	s.sessions = append(s.sessions, session)
	s.mu.Unlock()
	return session, nil
}

// Sessions returns the sessions opened so far, oldest first.
func (s *Sink) Sessions() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Session, len(s.sessions))
	copy(result, s.sessions)
	return result
}

// Session returns the most recent session with the given name.
func (s *Sink) Session(name string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.sessions) - 1; i >= 0; i-- {
		if s.sessions[i].name == name {
			return s.sessions[i], true
		}
	}
	return nil, false
}

// Session records what one store sent.
type Session struct {
	name    string
	now     func() time.Time
	sendErr error

	mu      sync.RWMutex
	initial vetamin.State
	inited  bool
	records []Record
	closed  bool
}

// Name returns the session name.
func (s *Session) Name() string {
	return s.name
}

// Init records the initial state.
func (s *Session) Init(ctx context.Context, state vetamin.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initial = state
	s.inited = true
	return nil
}

// Send records a dispatched action.
func (s *Session) Send(ctx context.Context, action string, state vetamin.State) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, Record{
		Action:    action,
		State:     state,
		Timestamp: s.now(),
	})
	return nil
}

// Close marks the session closed. Recorded data stays readable.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Initial returns the state passed to Init and whether Init was called.
func (s *Session) Initial() (vetamin.State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initial, s.inited
}

// Records returns a copy of the recorded actions, oldest first.
func (s *Session) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Record, len(s.records))
	copy(result, s.records)
	return result
}

// Closed reports whether the store closed the session.
func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
