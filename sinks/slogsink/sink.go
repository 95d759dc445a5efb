// Package slogsink logs store sessions with log/slog. Every state is
// flattened into top-level attributes, one per state key.
package slogsink

import (
	"context"
	"log/slog"
	"slices"

	"github.com/pankerit/vetamin"
)

// Sink is a vetamin.Connector writing to a slog.Logger.
type Sink struct {
	logger *slog.Logger
	level  slog.Level
}

var _ vetamin.Connector = (*Sink)(nil)

// Option configures a Sink.
type Option func(*Sink)

// WithLevel sets the level actions are logged at. Default is slog.LevelDebug.
func WithLevel(level slog.Level) Option {
	return func(s *Sink) {
		s.level = level
	}
}

// New creates a Sink. A nil logger uses slog.Default().
func New(logger *slog.Logger, opts ...Option) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sink{logger: logger, level: slog.LevelDebug}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect returns a session logging under the store name.
func (s *Sink) Connect(ctx context.Context, cfg vetamin.SessionConfig) (vetamin.Session, error) {
	return &session{
		logger: s.logger.With(slog.String("store", cfg.Name)),
		level:  s.level,
	}, nil
}

type session struct {
	logger *slog.Logger
	level  slog.Level
}

func (s *session) Init(ctx context.Context, state vetamin.State) error {
	s.logger.LogAttrs(ctx, s.level, "store.init", stateAttr(state))
	return nil
}

func (s *session) Send(ctx context.Context, action string, state vetamin.State) error {
	s.logger.LogAttrs(ctx, s.level, "store.action",
		slog.String("action", action),
		stateAttr(state),
	)
	return nil
}

// stateAttr groups the state keys in sorted order so output is stable.
func stateAttr(state vetamin.State) slog.Attr {
	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	attrs := make([]any, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, state[k]))
	}
	return slog.Group("state", attrs...)
}
