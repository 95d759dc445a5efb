// Package durablestream records store sessions on a durable-streams server
// (https://github.com/durable-streams/durable-streams).
//
// Every store gets its own JSON stream named after the store. A session
// starts with a reset control message followed by an insert carrying the
// initial state; each action appends an update carrying the new state, the
// previous state and the action name.
package durablestream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pankerit/vetamin"
)

// Sink connects stores to streams below a base URL.
type Sink struct {
	baseURL string
	cfg     *config
}

var _ vetamin.Connector = (*Sink)(nil)

// New creates a Sink for streams below baseURL, e.g.
// "https://server.example.com/v1/stream". No request is made until a store
// connects.
func New(baseURL string, opts ...Option) (*Sink, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("durablestream: baseURL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("durablestream: parse baseURL: %w", err)
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return &Sink{
		baseURL: strings.TrimRight(baseURL, "/"),
		cfg:     cfg,
	}, nil
}

// StreamURL returns the stream URL used for the named store.
func (s *Sink) StreamURL(name string) string {
	return s.baseURL + "/" + url.PathEscape(name)
}

// Connect creates the store's stream if needed and returns a session writing
// to it.
func (s *Sink) Connect(ctx context.Context, cfg vetamin.SessionConfig) (vetamin.Session, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("durablestream: store name is required")
	}

	client := newClient(s.StreamURL(cfg.Name), s.cfg)
	if err := client.Create(ctx); err != nil {
		return nil, fmt.Errorf("durablestream: create stream: %w", err)
	}

	return &Session{
		client: client,
		cfg:    s.cfg,
		name:   cfg.Name,
		txID:   uuid.NewString(),
	}, nil
}

// History returns the change messages of the latest session recorded for
// the named store, oldest first.
func (s *Sink) History(ctx context.Context, name string) ([]*ChangeMessage, error) {
	client := newClient(s.StreamURL(name), s.cfg)

	var messages []*ChangeMessage
	offset := "-1"
	for {
		resp, err := client.Read(ctx, offset)
		if err != nil {
			return nil, fmt.Errorf("durablestream: read: %w", err)
		}

		// Empty response means we're at the tail
		if len(resp.Body) == 0 || string(resp.Body) == "[]" {
			break
		}

		var raw []json.RawMessage
		if err := json.Unmarshal(resp.Body, &raw); err != nil {
			return nil, fmt.Errorf("durablestream: unmarshal response: %w", err)
		}

		for i, r := range raw {
			var env envelope
			if err := json.Unmarshal(r, &env); err != nil {
				// Log and skip malformed messages
				if s.cfg.logger != nil {
					s.cfg.logger.Printf("durablestream: skipping malformed message at index %d: %v", i, err)
				}
				continue
			}
			if env.Headers.Control == ControlReset {
				messages = messages[:0]
				continue
			}
			if env.Type != MessageType {
				continue
			}
			messages = append(messages, env.change())
		}

		if resp.UpToDate || resp.NextOffset == "" || resp.NextOffset == offset {
			break
		}
		offset = resp.NextOffset
	}

	return messages, nil
}

// Session appends one store's transitions to its stream.
type Session struct {
	client *client
	cfg    *config
	name   string
	txID   string

	mu   sync.Mutex
	last json.RawMessage
}

var _ vetamin.Session = (*Session)(nil)

// TxID returns the id stamped on every message of the session.
func (s *Session) TxID() string {
	return s.txID
}

// Init starts a new session on the stream with the initial state.
func (s *Session) Init(ctx context.Context, state vetamin.State) error {
	value, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("durablestream: marshal state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := []any{
		ControlMessage{Headers: ControlHeaders{Control: ControlReset}},
		s.change(OperationInsert, "", value, nil),
	}
	if err := s.append(ctx, batch); err != nil {
		return err
	}
	s.last = value
	return nil
}

// Send appends an update carrying the action and the state it produced.
func (s *Session) Send(ctx context.Context, action string, state vetamin.State) error {
	value, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("durablestream: marshal state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.append(ctx, []any{s.change(OperationUpdate, action, value, s.last)}); err != nil {
		return err
	}
	s.last = value
	return nil
}

func (s *Session) change(op Operation, action string, value, old json.RawMessage) ChangeMessage {
	return ChangeMessage{
		Type:     MessageType,
		Key:      s.name,
		Value:    value,
		OldValue: old,
		Headers: Headers{
			Operation: op,
			Action:    action,
			TxID:      s.txID,
			Timestamp: s.cfg.now().UTC().Format(time.RFC3339Nano),
		},
	}
}

func (s *Session) append(ctx context.Context, batch []any) error {
	// For JSON mode, messages are wrapped in an array for batch semantics
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("durablestream: marshal messages: %w", err)
	}
	if _, err := s.client.Append(ctx, data); err != nil {
		return fmt.Errorf("durablestream: append: %w", err)
	}
	return nil
}

// State decodes the message value. Numbers decode as float64.
func (m *ChangeMessage) State() (vetamin.State, error) {
	return decodeState(m.Value)
}

// PreviousState decodes the message old value. It returns nil for inserts.
func (m *ChangeMessage) PreviousState() (vetamin.State, error) {
	if len(m.OldValue) == 0 {
		return nil, nil
	}
	return decodeState(m.OldValue)
}

// Time parses the message timestamp. It returns the zero time when the
// timestamp is missing or malformed.
func (m *ChangeMessage) Time() time.Time {
	if m.Headers.Timestamp == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, m.Headers.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

func decodeState(data json.RawMessage) (vetamin.State, error) {
	state := vetamin.State{}
	if len(data) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("durablestream: unmarshal state: %w", err)
	}
	return state, nil
}
