package vetamin

import "maps"

// State is the single object of application data held by a Store.
// Values handed out by a Store must be treated as read-only.
type State map[string]any

// Clone returns a shallow copy of the state. A nil state clones to an
// empty, non-nil State.
func (s State) Clone() State {
	if s == nil {
		return State{}
	}
	return maps.Clone(s)
}

// merge returns {...current, ...patch} as a new map.
func merge(current, patch State) State {
	next := make(State, len(current)+len(patch))
	for k, v := range current {
		next[k] = v
	}
	for k, v := range patch {
		next[k] = v
	}
	return next
}

// Get returns the value stored under key converted to U.
// The second result is false if the key is missing or holds another type.
func Get[U any](s State, key string) (U, bool) {
	v, ok := s[key]
	if !ok {
		var zero U
		return zero, false
	}
	u, ok := v.(U)
	return u, ok
}

// Key returns a selector reading a single top-level key. Missing keys and
// values of another type select the zero value of U.
func Key[U any](key string) Selector[U] {
	return func(s State) U {
		u, _ := Get[U](s, key)
		return u
	}
}

// Identity is the selector of the whole state.
func Identity(s State) State {
	return s
}
