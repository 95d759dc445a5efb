package vetamin

import "log/slog"

// Logger is the logging interface used by the store and its sinks.
// *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// ErrorHandler receives faults that are contained by the store instead of
// being returned: subscriber panics and sink errors.
type ErrorHandler func(err error)

// Option configures a Store.
type Option func(*config)

type config struct {
	name          string
	actions       ActionTable
	connector     Connector
	logger        Logger
	errorHandler  ErrorHandler
	observability Observability
}

func defaultConfig() *config {
	return &config{
		name:   "store",
		logger: slog.Default(),
	}
}

// WithName names the store. The name labels the sink session, log lines and
// telemetry. Default is "store".
func WithName(name string) Option {
	return func(c *config) {
		if name != "" {
			c.name = name
		}
	}
}

// WithActions binds an action table. Each entry becomes an action reachable
// through Store.Actions. A table requires WithSink.
func WithActions(table ActionTable) Option {
	return func(c *config) {
		c.actions = table
	}
}

// WithSink sets the connector used to open the observability session that
// receives dispatched actions.
func WithSink(connector Connector) Option {
	return func(c *config) {
		c.connector = connector
	}
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(logger Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithErrorHandler sets a function called for every contained fault, in
// addition to logging it.
func WithErrorHandler(handler ErrorHandler) Option {
	return func(c *config) {
		c.errorHandler = handler
	}
}

// WithObservability installs lifecycle hooks, see the otel and metrics
// packages.
func WithObservability(obs Observability) Option {
	return func(c *config) {
		c.observability = obs
	}
}
