package vetamin

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// PatchFunc computes a patch from the current state. Returning an error
// aborts the update and leaves the state unchanged.
type PatchFunc func(state State) (State, error)

// snapshot is one committed state together with its version.
type snapshot struct {
	state   State
	version uint64
}

// Store owns the current State and notifies subscribers after every update.
// All methods are safe for concurrent use.
type Store struct {
	name   string
	cfg    *config
	logger Logger
	obs    Observability

	current atomic.Pointer[snapshot]
	mu      sync.Mutex // serializes commits

	subsMu sync.RWMutex
	subs   []*subscriber
	nextID uint64

	actions *Actions
	session Session
	closed  atomic.Bool
}

// New creates a Store holding a shallow copy of initial.
//
// When WithActions is given, New opens a session on the connector set with
// WithSink and sends it the initial state. A table without a sink fails with
// ErrNoSink, a connector that cannot connect with ErrSinkUnavailable.
func New(initial State, opts ...Option) (*Store, error) {
	return NewWithContext(context.Background(), initial, opts...)
}

// NewWithContext is New with a context for opening the sink session.
func NewWithContext(ctx context.Context, initial State, opts ...Option) (*Store, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	s := &Store{
		name:   cfg.name,
		cfg:    cfg,
		logger: cfg.logger,
		obs:    cfg.observability,
	}
	s.current.Store(&snapshot{state: initial.Clone()})

	if cfg.actions != nil {
		if err := s.bindActions(ctx, cfg.actions); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Name returns the name set with WithName.
func (s *Store) Name() string {
	return s.name
}

// GetState returns the current state. The returned map must not be
// modified.
func (s *Store) GetState() State {
	return s.current.Load().state
}

// Version returns the number of updates committed so far.
func (s *Store) Version() uint64 {
	return s.current.Load().version
}

// Set shallow-merges patch into the state and notifies subscribers before
// returning. Set on a closed store does nothing.
func (s *Store) Set(patch State) {
	s.SetContext(context.Background(), patch)
}

// SetContext is Set with a context passed to the observability hooks.
func (s *Store) SetContext(ctx context.Context, patch State) {
	if s.closed.Load() {
		return
	}
	// A constant patch cannot fail.
	_, _ = s.apply(ctx, "", func(State) (State, error) { return patch, nil }, nil)
}

// Update computes a patch from the current state with fn and merges it like
// Set. If fn returns an error or panics the state is left unchanged; the
// error is returned and the panic propagates.
//
// fn runs while updates are serialized and must not update the store itself.
func (s *Store) Update(fn PatchFunc) error {
	return s.UpdateContext(context.Background(), fn)
}

// UpdateContext is Update with a context passed to the observability hooks.
func (s *Store) UpdateContext(ctx context.Context, fn PatchFunc) error {
	if s.closed.Load() {
		return ErrClosed
	}
	_, err := s.apply(ctx, "", fn, nil)
	return err
}

// apply commits the patch computed by fn, runs the notification sweep and
// then calls after, all inside the update hooks.
func (s *Store) apply(ctx context.Context, action string, fn PatchFunc, after func(context.Context, State)) (State, error) {
	start := time.Now()
	if s.obs != nil {
		ctx = s.obs.OnUpdateStart(ctx, s.name, action)
		defer func() {
			if r := recover(); r != nil {
				s.obs.OnUpdateComplete(ctx, time.Since(start), fmt.Errorf("vetamin: patch panicked: %v", r))
				panic(r)
			}
		}()
	}

	snap, err := s.commit(fn)
	if err != nil {
		if s.obs != nil {
			s.obs.OnUpdateComplete(ctx, time.Since(start), err)
		}
		return nil, err
	}

	s.notify(ctx, snap)
	if after != nil {
		after(ctx, snap.state)
	}

	if s.obs != nil {
		s.obs.OnUpdateComplete(ctx, time.Since(start), nil)
	}
	return snap.state, nil
}

// commit replaces the state with the merge of the current state and the
// patch computed by fn. Nothing is stored if fn fails.
func (s *Store) commit(fn PatchFunc) (*snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	patch, err := fn(cur.state)
	if err != nil {
		return nil, err
	}

	next := &snapshot{
		state:   merge(cur.state, patch),
		version: cur.version + 1,
	}
	s.current.Store(next)
	return next, nil
}

// Close removes every subscriber and closes the sink session when it
// implements io.Closer. Further Set calls are ignored, Update and actions
// return ErrClosed.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.subsMu.Lock()
	for _, sub := range s.subs {
		sub.removed.Store(true)
	}
	s.subs = nil
	s.subsMu.Unlock()

	if s.obs != nil {
		s.obs.OnSubscriptionChange(context.Background(), s.name, 0)
	}

	if c, ok := s.session.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("vetamin: close sink session: %w", err)
		}
	}

	s.logger.Debug("store closed", "store", s.name)
	return nil
}

func (s *Store) reportSubscriberError(ctx context.Context, err *SubscriberError) {
	s.logger.Error("subscriber failed",
		"store", s.name,
		"subscription", err.ID,
		"name", err.Name,
		"stage", string(err.Stage),
		"panic", err.Value,
	)
	if s.cfg.errorHandler != nil {
		s.cfg.errorHandler(err)
	}
	if s.obs != nil {
		s.obs.OnSubscriberError(ctx, s.name, err)
	}
}

func (s *Store) reportSinkError(ctx context.Context, action string, err error) {
	if action == "" {
		err = fmt.Errorf("vetamin: sink init: %w", err)
	} else {
		err = fmt.Errorf("vetamin: sink send %q: %w", action, err)
	}
	s.logger.Error("sink failed", "store", s.name, "action", action, "error", err)
	if s.cfg.errorHandler != nil {
		s.cfg.errorHandler(err)
	}
	if s.obs != nil {
		s.obs.OnSinkError(ctx, s.name, action, err)
	}
}
