package vetamin

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
)

// Selector derives the slice of state a subscriber is interested in.
type Selector[U any] func(State) U

// Callback receives the new slice whenever it changes.
type Callback[U any] func(U)

// Unsubscribe removes a subscription. Calling it more than once is a no-op.
type Unsubscribe func()

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	name string
	once bool
}

// Once removes the subscription after its callback fired once.
func Once() SubscribeOption {
	return func(c *subscribeConfig) {
		c.once = true
	}
}

// Named labels the subscription in logs and SubscriberError values.
func Named(name string) SubscribeOption {
	return func(c *subscribeConfig) {
		c.name = name
	}
}

// subscriber is the registry record of one subscription. Records are
// addressed by id; the typed selector, equality check, callback and last
// delivered slice live in slice.
type subscriber struct {
	id   uint64
	name string
	once bool

	removed atomic.Bool

	mu      sync.Mutex
	version uint64 // version of the last state evaluated
	slice   memo
}

// memo is the typed part of a subscriber.
type memo interface {
	// advance selects from state. If the slice changed it is remembered and
	// the callback invocation is returned, otherwise advance returns nil.
	// stage tracks which user function is running in case it panics.
	advance(state State, stage *Stage) func()
}

type typedMemo[U any] struct {
	selector Selector[U]
	equal    EqualityFunc[U]
	callback Callback[U]
	current  U
}

func (m *typedMemo[U]) advance(state State, stage *Stage) func() {
	*stage = StageSelector
	next := m.selector(state)

	*stage = StageEquality
	if m.equal(m.current, next) {
		return nil
	}

	m.current = next
	callback := m.callback
	return func() { callback(next) }
}

// Subscribe registers callback to be called with selector(state) whenever
// an update changes that slice according to equal.
//
// A nil selector selects the whole state and is only valid when U is State.
// A nil equal uses Is. The slice is computed immediately so that the first
// callback only happens after a change.
func Subscribe[U any](s *Store, callback Callback[U], selector Selector[U], equal EqualityFunc[U], opts ...SubscribeOption) Unsubscribe {
	if callback == nil {
		panic("vetamin: Subscribe with nil callback")
	}
	if selector == nil {
		identity, ok := any(Selector[State](Identity)).(Selector[U])
		if !ok {
			panic("vetamin: Subscribe with nil selector requires a State callback")
		}
		selector = identity
	}
	if equal == nil {
		equal = Is[U]
	}

	cfg := subscribeConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	if s.closed.Load() {
		return func() {}
	}

	sub := &subscriber{
		name: cfg.name,
		once: cfg.once,
		slice: &typedMemo[U]{
			selector: selector,
			equal:    equal,
			callback: callback,
		},
	}
	return s.register(sub, func(state State) {
		sub.slice.(*typedMemo[U]).current = selector(state)
	})
}

// Subscribe registers callback for every change of the whole state.
func (s *Store) Subscribe(callback Callback[State], opts ...SubscribeOption) Unsubscribe {
	return Subscribe(s, callback, nil, nil, opts...)
}

// register seeds the subscriber from the current state and adds it to the
// registry. Seeding happens under the registry lock so that an update
// committed concurrently is either reflected in the seed or delivered by its
// sweep.
func (s *Store) register(sub *subscriber, seed func(State)) Unsubscribe {
	active := func() int {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()

		snap := s.current.Load()
		seed(snap.state)
		sub.version = snap.version

		s.nextID++
		sub.id = s.nextID
		s.subs = append(s.subs, sub)
		return len(s.subs)
	}()

	if s.obs != nil {
		s.obs.OnSubscriptionChange(context.Background(), s.name, active)
	}
	s.logger.Debug("subscribed", "store", s.name, "subscription", sub.id, "name", sub.name)

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(sub) })
	}
}

// remove takes sub out of the registry. It reports false if sub was already
// removed.
func (s *Store) remove(sub *subscriber) bool {
	if !sub.removed.CompareAndSwap(false, true) {
		return false
	}

	s.subsMu.Lock()
	s.subs = slices.DeleteFunc(s.subs, func(x *subscriber) bool { return x == sub })
	active := len(s.subs)
	s.subsMu.Unlock()

	if s.obs != nil {
		s.obs.OnSubscriptionChange(context.Background(), s.name, active)
	}
	s.logger.Debug("unsubscribed", "store", s.name, "subscription", sub.id, "name", sub.name)
	return true
}

// HasSubscribers reports whether any subscription is registered.
func (s *Store) HasSubscribers() bool {
	return s.SubscriberCount() > 0
}

// SubscriberCount returns the number of registered subscriptions.
func (s *Store) SubscriberCount() int {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	return len(s.subs)
}

// notify runs the notification sweep for snap over a copy of the registry.
// Subscribers added during the sweep are not visited; subscribers that
// already evaluated a newer version are skipped.
func (s *Store) notify(ctx context.Context, snap *snapshot) {
	s.subsMu.RLock()
	subs := slices.Clone(s.subs)
	s.subsMu.RUnlock()

	fired := 0
	for _, sub := range subs {
		deliver, err := s.evaluate(sub, snap)
		if err != nil {
			s.reportSubscriberError(ctx, err)
			continue
		}
		if deliver == nil {
			continue
		}
		if sub.once && !s.remove(sub) {
			continue
		}
		fired++
		s.deliver(ctx, sub, deliver)
	}

	if s.obs != nil {
		s.obs.OnNotify(ctx, s.name, len(subs), fired)
	}
}

// evaluate runs the selector and equality check of sub against snap,
// recovering a panic from either.
func (s *Store) evaluate(sub *subscriber, snap *snapshot) (deliver func(), serr *SubscriberError) {
	var stage Stage
	defer func() {
		if r := recover(); r != nil {
			deliver = nil
			serr = &SubscriberError{ID: sub.id, Name: sub.name, Stage: stage, Value: r}
		}
	}()

	sub.mu.Lock()
	defer sub.mu.Unlock()

	if sub.removed.Load() || sub.version >= snap.version {
		return nil, nil
	}
	sub.version = snap.version
	return sub.slice.advance(snap.state, &stage), nil
}

// deliver invokes a callback outside of any lock so that it may update the
// store again.
func (s *Store) deliver(ctx context.Context, sub *subscriber, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.reportSubscriberError(ctx, &SubscriberError{ID: sub.id, Name: sub.name, Stage: StageCallback, Value: r})
		}
	}()
	fn()
}
