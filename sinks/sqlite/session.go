package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/pankerit/vetamin"
)

// Session is one store's recording in the database.
type Session struct {
	sink *Sink
	id   string
	name string
}

var _ vetamin.Session = (*Session)(nil)

// ID returns the generated session id.
func (s *Session) ID() string {
	return s.id
}

// Init stores the initial state of the session.
func (s *Session) Init(ctx context.Context, state vetamin.State) error {
	start := time.Now()
	err := s.init(ctx, state)
	if s.sink.metricsHook != nil {
		s.sink.metricsHook.OnInit(time.Since(start), err)
	}
	return err
}

func (s *Session) init(ctx context.Context, state vetamin.State) error {
	data, err := encodeState(state)
	if err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	if _, err := s.sink.initSessionStmt.ExecContext(ctx, data, s.id); err != nil {
		return fmt.Errorf("sqlite: init session: %w", err)
	}
	return nil
}

// Send appends an action with the state it produced.
func (s *Session) Send(ctx context.Context, action string, state vetamin.State) error {
	start := time.Now()
	position, err := s.send(ctx, action, state)
	if s.sink.metricsHook != nil {
		s.sink.metricsHook.OnSend(time.Since(start), err)
	}
	if err != nil {
		return err
	}

	if s.sink.logger != nil {
		s.sink.logger.Debug("recorded action", "session_id", s.id, "action", action, "position", position)
	}
	return nil
}

func (s *Session) send(ctx context.Context, action string, state vetamin.State) (int64, error) {
	data, err := encodeState(state)
	if err != nil {
		return 0, fmt.Errorf("sqlite: %w", err)
	}

	result, err := s.sink.appendActionStmt.ExecContext(ctx, s.id, action, data, s.sink.cfg.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("sqlite: append action: %w", err)
	}

	// LastInsertId is always supported by SQLite driver
	position, _ := result.LastInsertId()
	return position, nil
}

// Close marks the session closed. The database stays open; close it with
// Sink.Close.
func (s *Session) Close() error {
	if _, err := s.sink.closeSessionStmt.Exec(s.sink.cfg.now().UTC(), s.id); err != nil {
		return fmt.Errorf("sqlite: close session: %w", err)
	}
	return nil
}
