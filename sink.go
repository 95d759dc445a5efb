package vetamin

import "context"

// SessionConfig is passed to a Connector when a Store opens its
// observability session.
type SessionConfig struct {
	Name string
}

// Connector opens observability sessions. It is the injected replacement
// for looking up a devtools extension from global state.
type Connector interface {
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)
}

// ConnectorFunc adapts a function to a Connector.
type ConnectorFunc func(ctx context.Context, cfg SessionConfig) (Session, error)

func (f ConnectorFunc) Connect(ctx context.Context, cfg SessionConfig) (Session, error) {
	return f(ctx, cfg)
}

// Session receives the initial state once and every dispatched action with
// the state it produced. Sessions that also implement io.Closer are closed
// by Store.Close.
type Session interface {
	Init(ctx context.Context, state State) error
	Send(ctx context.Context, action string, state State) error
}
