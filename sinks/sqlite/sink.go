// Package sqlite records store sessions and dispatched actions in a SQLite
// database, giving a persistent action log that can be inspected after the
// process exits.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pankerit/vetamin"
	_ "modernc.org/sqlite"
)

// Sink implements vetamin.Connector using SQLite.
// Every Connect creates a session row; the session then appends one row per
// dispatched action.
type Sink struct {
	db          *sql.DB
	cfg         *config
	logger      Logger
	metricsHook MetricsHook

	// Prepared statements
	insertSessionStmt *sql.Stmt
	initSessionStmt   *sql.Stmt
	closeSessionStmt  *sql.Stmt
	appendActionStmt  *sql.Stmt
	listSessionsStmt  *sql.Stmt
	readStmt          *sql.Stmt
	readAllStmt       *sql.Stmt
}

// Ensure Sink implements the connector interface
var _ vetamin.Connector = (*Sink)(nil)

// dbOpener is used to open database connections, injectable for testing
var dbOpener = sql.Open

func newSessionID() string {
	return uuid.NewString()
}

// SessionInfo describes a recorded session.
type SessionInfo struct {
	ID        string
	Name      string
	Initial   vetamin.State
	CreatedAt time.Time
	ClosedAt  time.Time // zero while the session is open
}

// Record is one recorded action. States are decoded from JSON, so numbers
// come back as float64.
type Record struct {
	Position  int64
	SessionID string
	Action    string
	State     vetamin.State
	Timestamp time.Time
}

// New creates a new Sink with the given path and options. Use ":memory:"
// for a private in-memory database.
//
// Note: When WithAutoMigrate is enabled (the default), migrations run with
// context.Background() and are not cancellable.
func New(path string, opts ...Option) (*Sink, error) {
	if path == "" {
		return nil, errors.New("sqlite: path is required")
	}

	// Validate path to prevent URI parameter injection
	if path != ":memory:" && (strings.Contains(path, "?") || strings.Contains(path, "#")) {
		return nil, errors.New("sqlite: path cannot contain '?' or '#' characters")
	}

	cfg := defaultConfig()
	cfg.path = path
	for _, opt := range opts {
		opt(cfg)
	}

	var dsn string
	if cfg.path == ":memory:" {
		dsn = ":memory:"
	} else {
		dsn = fmt.Sprintf("file:%s?_busy_timeout=%d", cfg.path, cfg.busyTimeout.Milliseconds())
	}

	db, err := dbOpener("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}
	if cfg.path == ":memory:" {
		// Each connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := applyPragmas(db, cfg); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply pragmas: %w", err)
	}

	if cfg.autoMigrate {
		if err := migrate(context.Background(), db); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: migrate: %w", err)
		}
	}

	return newFromDB(db, cfg)
}

// newFromDB creates a Sink from an existing database connection
func newFromDB(db *sql.DB, cfg *config) (*Sink, error) {
	sink := &Sink{
		db:          db,
		cfg:         cfg,
		logger:      cfg.logger,
		metricsHook: cfg.metricsHook,
	}

	if err := sink.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: prepare statements: %w", err)
	}

	return sink, nil
}

// applyPragmas configures SQLite for an append-heavy workload
func applyPragmas(db *sql.DB, cfg *config) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout.Milliseconds()),
		"PRAGMA temp_store = MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("exec %q: %w", pragma, err)
		}
	}

	return nil
}

// prepareStatements prepares all SQL statements
func (s *Sink) prepareStatements() error {
	type stmtDef struct {
		dest **sql.Stmt
		sql  string
	}

	stmts := []stmtDef{
		{&s.insertSessionStmt, "INSERT INTO sessions (id, name, created_at) VALUES (?, ?, ?)"},
		{&s.initSessionStmt, "UPDATE sessions SET initial_state = ? WHERE id = ?"},
		{&s.closeSessionStmt, "UPDATE sessions SET closed_at = ? WHERE id = ? AND closed_at IS NULL"},
		{&s.appendActionStmt, "INSERT INTO actions (session_id, action, state, timestamp) VALUES (?, ?, ?, ?)"},
		{&s.listSessionsStmt, "SELECT id, name, initial_state, created_at, closed_at FROM sessions ORDER BY created_at, rowid"},
		{&s.readStmt, "SELECT position, session_id, action, state, timestamp FROM actions WHERE session_id = ? AND position > ? ORDER BY position LIMIT ?"},
		{&s.readAllStmt, "SELECT position, session_id, action, state, timestamp FROM actions WHERE session_id = ? AND position > ? ORDER BY position"},
	}

	for _, def := range stmts {
		stmt, err := s.db.Prepare(def.sql)
		if err != nil {
			return fmt.Errorf("prepare statement: %w", err)
		}
		*def.dest = stmt
	}

	return nil
}

// Connect creates a new session row named after the store.
func (s *Sink) Connect(ctx context.Context, cfg vetamin.SessionConfig) (vetamin.Session, error) {
	start := time.Now()
	id := s.cfg.newID()

	_, err := s.insertSessionStmt.ExecContext(ctx, id, cfg.Name, s.cfg.now().UTC())
	if s.metricsHook != nil {
		s.metricsHook.OnConnect(time.Since(start), err)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: create session: %w", err)
	}

	if s.logger != nil {
		s.logger.Debug("opened session", "session_id", id, "name", cfg.Name)
	}

	return &Session{sink: s, id: id, name: cfg.Name}, nil
}

// Sessions returns every recorded session, oldest first.
func (s *Sink) Sessions(ctx context.Context) ([]*SessionInfo, error) {
	start := time.Now()
	var sessions []*SessionInfo
	var err error

	defer func() {
		if s.metricsHook != nil {
			s.metricsHook.OnRead(time.Since(start), len(sessions), err)
		}
	}()

	rows, err := s.listSessionsStmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list sessions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			info     SessionInfo
			initial  []byte
			closedAt sql.NullTime
		)
		if err = rows.Scan(&info.ID, &info.Name, &initial, &info.CreatedAt, &closedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan session: %w", err)
		}
		if info.Initial, err = decodeState(initial); err != nil {
			return nil, fmt.Errorf("sqlite: session %s: %w", info.ID, err)
		}
		if closedAt.Valid {
			info.ClosedAt = closedAt.Time
		}
		sessions = append(sessions, &info)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate sessions: %w", err)
	}

	return sessions, nil
}

// rowScanner abstracts sql.Rows for testing
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Records returns the actions of a session recorded after position after.
// A limit of zero or less returns all of them.
func (s *Sink) Records(ctx context.Context, sessionID string, after int64, limit int) ([]*Record, error) {
	start := time.Now()
	var records []*Record
	var err error

	defer func() {
		if s.metricsHook != nil {
			s.metricsHook.OnRead(time.Since(start), len(records), err)
		}
	}()

	var rows *sql.Rows
	if limit <= 0 {
		rows, err = s.readAllStmt.QueryContext(ctx, sessionID, after)
	} else {
		rows, err = s.readStmt.QueryContext(ctx, sessionID, after, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: read actions: %w", err)
	}

	records, err = s.scanRecords(rows)
	if err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Debug("read actions", "session_id", sessionID, "after", after, "limit", limit, "count", len(records))
	}

	return records, nil
}

// scanRecords scans rows into records - extracted for testability
func (s *Sink) scanRecords(rows rowScanner) ([]*Record, error) {
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var data []byte
		record := &Record{}
		if err := rows.Scan(&record.Position, &record.SessionID, &record.Action, &data, &record.Timestamp); err != nil {
			return nil, fmt.Errorf("sqlite: scan action: %w", err)
		}
		state, err := decodeState(data)
		if err != nil {
			return nil, fmt.Errorf("sqlite: action %d: %w", record.Position, err)
		}
		record.State = state
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate actions: %w", err)
	}

	return records, nil
}

// Close closes the database connection
func (s *Sink) Close() error {
	stmts := []*sql.Stmt{
		s.insertSessionStmt,
		s.initSessionStmt,
		s.closeSessionStmt,
		s.appendActionStmt,
		s.listSessionsStmt,
		s.readStmt,
		s.readAllStmt,
	}

	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}

	return s.db.Close()
}

func encodeState(state vetamin.State) ([]byte, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return data, nil
}

func decodeState(data []byte) (vetamin.State, error) {
	if data == nil {
		return nil, nil
	}
	var state vetamin.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return state, nil
}
