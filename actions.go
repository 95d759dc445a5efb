package vetamin

import (
	"context"
	"fmt"
	"reflect"
	"slices"
)

// Reducer computes a merge patch from the current state and an action
// payload. It must not modify state.
type Reducer func(state State, payload any) (State, error)

// ActionTable maps action names to reducers.
type ActionTable map[string]Reducer

// ActionFunc is an action bound to a Store.
type ActionFunc func(ctx context.Context, payload any) error

// Action builds a Reducer from a function taking a typed payload. A nil
// payload is passed as the zero value of P; a payload of another type fails
// with ErrPayloadType.
func Action[P any](fn func(state State, payload P) State) Reducer {
	return ActionE(func(state State, payload P) (State, error) {
		return fn(state, payload), nil
	})
}

// ActionE is Action for reducers that can fail.
func ActionE[P any](fn func(state State, payload P) (State, error)) Reducer {
	return func(state State, payload any) (State, error) {
		p, ok := payload.(P)
		if !ok && payload != nil {
			return nil, fmt.Errorf("%w: want %v, got %T", ErrPayloadType, reflect.TypeFor[P](), payload)
		}
		return fn(state, p)
	}
}

// Actions holds the actions bound from an ActionTable at construction.
type Actions struct {
	bound map[string]ActionFunc
	names []string
}

// bindActions opens the sink session and binds every table entry. Nothing
// is bound if the session cannot be opened.
func (s *Store) bindActions(ctx context.Context, table ActionTable) error {
	if s.cfg.connector == nil {
		return ErrNoSink
	}
	for name, reducer := range table {
		if reducer == nil {
			return fmt.Errorf("vetamin: action %q has no reducer", name)
		}
	}

	session, err := s.cfg.connector.Connect(ctx, SessionConfig{Name: s.name})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
	}
	if session == nil {
		return fmt.Errorf("%w: connector returned no session", ErrSinkUnavailable)
	}
	s.session = session

	a := &Actions{
		bound: make(map[string]ActionFunc, len(table)),
		names: make([]string, 0, len(table)),
	}
	for name, reducer := range table {
		a.bound[name] = s.bind(name, reducer)
		a.names = append(a.names, name)
	}
	slices.Sort(a.names)
	s.actions = a

	if err := session.Init(ctx, s.GetState()); err != nil {
		s.reportSinkError(ctx, "", err)
	}

	s.logger.Debug("sink session opened", "store", s.name, "actions", len(a.names))
	return nil
}

// bind returns the action that applies reducer and forwards the resulting
// state to the session.
func (s *Store) bind(name string, reducer Reducer) ActionFunc {
	return func(ctx context.Context, payload any) error {
		if s.closed.Load() {
			return ErrClosed
		}

		patch := func(state State) (State, error) {
			return reducer(state, payload)
		}
		forward := func(ctx context.Context, state State) {
			if err := s.session.Send(ctx, name, state); err != nil {
				s.reportSinkError(ctx, name, err)
			}
		}

		if _, err := s.apply(ctx, name, patch, forward); err != nil {
			return fmt.Errorf("vetamin: action %q: %w", name, err)
		}
		return nil
	}
}

// Actions returns the bound actions, or nil if the store was created
// without an action table.
func (s *Store) Actions() *Actions {
	return s.actions
}

// Dispatch runs the named action with payload.
func (a *Actions) Dispatch(ctx context.Context, name string, payload any) error {
	fn, ok := a.Get(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	return fn(ctx, payload)
}

// Get returns the named action.
func (a *Actions) Get(name string) (ActionFunc, bool) {
	if a == nil {
		return nil, false
	}
	fn, ok := a.bound[name]
	return fn, ok
}

// Names returns the action names in sorted order.
func (a *Actions) Names() []string {
	if a == nil {
		return nil
	}
	return slices.Clone(a.names)
}
