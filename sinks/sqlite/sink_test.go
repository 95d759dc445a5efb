package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pankerit/vetamin"
	_ "modernc.org/sqlite"
)

// testLogger implements Logger for testing
type testLogger struct {
	t *testing.T
}

func (l *testLogger) Debug(msg string, args ...any) {
	l.t.Logf("DEBUG: %s %v", msg, args)
}

func (l *testLogger) Info(msg string, args ...any) {
	l.t.Logf("INFO: %s %v", msg, args)
}

func (l *testLogger) Error(msg string, args ...any) {
	l.t.Logf("ERROR: %s %v", msg, args)
}

// testMetricsHook implements MetricsHook for testing
type testMetricsHook struct {
	mu           sync.Mutex
	connectCount int
	initCount    int
	sendCount    int
	readCount    int
	lastSendErr  error
}

func (h *testMetricsHook) OnConnect(duration time.Duration, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connectCount++
}

func (h *testMetricsHook) OnInit(duration time.Duration, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.initCount++
}

func (h *testMetricsHook) OnSend(duration time.Duration, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sendCount++
	h.lastSendErr = err
}

func (h *testMetricsHook) OnRead(duration time.Duration, count int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readCount++
}

var fixedTime = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func newTestSink(t *testing.T, opts ...Option) *Sink {
	t.Helper()
	path := filepath.Join(t.TempDir(), "actions.db")
	opts = append([]Option{
		WithLogger(&testLogger{t: t}),
		WithClock(func() time.Time { return fixedTime }),
	}, opts...)
	sink, err := New(path, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { sink.Close() })
	return sink
}

func counterStore(t *testing.T, sink *Sink, name string, opts ...vetamin.Option) *vetamin.Store {
	t.Helper()
	opts = append([]vetamin.Option{
		vetamin.WithName(name),
		vetamin.WithLogger(slog.New(slog.DiscardHandler)),
		vetamin.WithSink(sink),
		vetamin.WithActions(vetamin.ActionTable{
			"increment": vetamin.Action(func(s vetamin.State, n int) vetamin.State {
				c, _ := vetamin.Get[int](s, "count")
				return vetamin.State{"count": c + n}
			}),
			"store": vetamin.Action(func(s vetamin.State, v any) vetamin.State {
				return vetamin.State{"value": v}
			}),
		}),
	}, opts...)
	store, err := vetamin.New(vetamin.State{"count": 10}, opts...)
	if err != nil {
		t.Fatalf("vetamin.New() error = %v", err)
	}
	return store
}

func TestNew(t *testing.T) {
	t.Run("requires a path", func(t *testing.T) {
		_, err := New("")
		if err == nil || !strings.Contains(err.Error(), "path is required") {
			t.Errorf("New(\"\") error = %v", err)
		}
	})

	t.Run("rejects URI parameters", func(t *testing.T) {
		_, err := New("actions.db?mode=ro")
		if err == nil {
			t.Error("expected error for path with '?'")
		}
	})

	t.Run("in-memory databases are private", func(t *testing.T) {
		a, err := New(":memory:", WithIDs("a"))
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		defer a.Close()
		b, err := New(":memory:")
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		defer b.Close()

		ctx := context.Background()
		if _, err := a.Connect(ctx, vetamin.SessionConfig{Name: "only-in-a"}); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		sessions, err := b.Sessions(ctx)
		if err != nil {
			t.Fatalf("Sessions() error = %v", err)
		}
		if len(sessions) != 0 {
			t.Errorf("second in-memory sink sees %d sessions, want 0", len(sessions))
		}
	})

	t.Run("open error", func(t *testing.T) {
		orig := dbOpener
		defer func() { dbOpener = orig }()
		dbOpener = func(driver, dsn string) (*sql.DB, error) {
			return nil, errors.New("open failed")
		}

		_, err := New(filepath.Join(t.TempDir(), "x.db"))
		if err == nil || !strings.Contains(err.Error(), "open database") {
			t.Errorf("New() error = %v", err)
		}
	})
}

func TestSinkRecordsStore(t *testing.T) {
	hook := &testMetricsHook{}
	sink := newTestSink(t, WithMetricsHook(hook), WithIDs("session-1"))
	store := counterStore(t, sink, "counter")
	ctx := context.Background()

	for _, n := range []int{5, 2} {
		if err := store.Actions().Dispatch(ctx, "increment", n); err != nil {
			t.Fatalf("Dispatch(increment, %d) error = %v", n, err)
		}
	}

	sessions, err := sink.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	wantSessions := []*SessionInfo{{
		ID:        "session-1",
		Name:      "counter",
		Initial:   vetamin.State{"count": float64(10)},
		CreatedAt: fixedTime,
	}}
	if diff := cmp.Diff(wantSessions, sessions); diff != "" {
		t.Errorf("sessions mismatch (-want +got):\n%s", diff)
	}

	records, err := sink.Records(ctx, "session-1", 0, 0)
	if err != nil {
		t.Fatalf("Records() error = %v", err)
	}
	wantRecords := []*Record{
		{Position: 1, SessionID: "session-1", Action: "increment", State: vetamin.State{"count": float64(15)}, Timestamp: fixedTime},
		{Position: 2, SessionID: "session-1", Action: "increment", State: vetamin.State{"count": float64(17)}, Timestamp: fixedTime},
	}
	if diff := cmp.Diff(wantRecords, records); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}

	hook.mu.Lock()
	defer hook.mu.Unlock()
	if hook.connectCount != 1 || hook.initCount != 1 || hook.sendCount != 2 || hook.readCount != 2 {
		t.Errorf("hook counts connect=%d init=%d send=%d read=%d, want 1 1 2 2",
			hook.connectCount, hook.initCount, hook.sendCount, hook.readCount)
	}
}

func TestRecordsPaging(t *testing.T) {
	sink := newTestSink(t, WithIDs("s"))
	store := counterStore(t, sink, "counter")
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if err := store.Actions().Dispatch(ctx, "increment", i); err != nil {
			t.Fatalf("Dispatch() error = %v", err)
		}
	}

	page, err := sink.Records(ctx, "s", 2, 2)
	if err != nil {
		t.Fatalf("Records() error = %v", err)
	}
	if len(page) != 2 || page[0].Position != 3 || page[1].Position != 4 {
		t.Fatalf("page = %+v, want positions 3 and 4", page)
	}

	rest, err := sink.Records(ctx, "s", page[1].Position, 0)
	if err != nil {
		t.Fatalf("Records() error = %v", err)
	}
	if len(rest) != 1 || rest[0].Position != 5 {
		t.Errorf("rest = %+v, want position 5", rest)
	}

	none, err := sink.Records(ctx, "other", 0, 0)
	if err != nil {
		t.Fatalf("Records() error = %v", err)
	}
	if len(none) != 0 {
		t.Errorf("unknown session returned %d records", len(none))
	}
}

func TestSessionsAreSeparated(t *testing.T) {
	sink := newTestSink(t, WithIDs("first", "second"))
	a := counterStore(t, sink, "a")
	b := counterStore(t, sink, "b")
	ctx := context.Background()

	if err := a.Actions().Dispatch(ctx, "increment", 1); err != nil {
		t.Fatal(err)
	}
	if err := b.Actions().Dispatch(ctx, "increment", 2); err != nil {
		t.Fatal(err)
	}

	for id, want := range map[string]float64{"first": 11, "second": 12} {
		records, err := sink.Records(ctx, id, 0, 0)
		if err != nil {
			t.Fatalf("Records(%s) error = %v", id, err)
		}
		if len(records) != 1 || records[0].State["count"] != want {
			t.Errorf("Records(%s) = %+v, want one record with count %v", id, records, want)
		}
	}
}

func TestStoreCloseMarksSessionClosed(t *testing.T) {
	sink := newTestSink(t, WithIDs("s"))
	store := counterStore(t, sink, "counter")

	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	sessions, err := sink.Sessions(context.Background())
	if err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	if len(sessions) != 1 || !sessions[0].ClosedAt.Equal(fixedTime) {
		t.Errorf("sessions = %+v, want one closed at %v", sessions, fixedTime)
	}
}

func TestSendErrorIsReportedByStore(t *testing.T) {
	hook := &testMetricsHook{}
	sink := newTestSink(t, WithMetricsHook(hook))

	var reported []error
	store := counterStore(t, sink, "counter", vetamin.WithErrorHandler(func(err error) {
		reported = append(reported, err)
	}))

	// Channels cannot be encoded as JSON.
	if err := store.Actions().Dispatch(context.Background(), "store", make(chan int)); err != nil {
		t.Fatalf("Dispatch() error = %v, sink failures must not fail the action", err)
	}

	if len(reported) != 1 || !strings.Contains(reported[0].Error(), "marshal state") {
		t.Errorf("reported = %v, want one marshal error", reported)
	}
	hook.mu.Lock()
	defer hook.mu.Unlock()
	if hook.lastSendErr == nil {
		t.Error("metrics hook did not see the send error")
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "actions.db")
	ctx := context.Background()

	sink, err := New(path, WithIDs("s"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	store := counterStore(t, sink, "counter")
	if err := store.Actions().Dispatch(ctx, "increment", 1); err != nil {
		t.Fatal(err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := New(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	records, err := reopened.Records(ctx, "s", 0, 0)
	if err != nil {
		t.Fatalf("Records() error = %v", err)
	}
	if len(records) != 1 {
		t.Errorf("got %d records after reopen, want 1", len(records))
	}
}

func TestNewFromDBWithoutSchema(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)

	if _, err := NewFromDB(db); err == nil {
		t.Fatal("expected prepare error without schema")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	defer db.Close()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := RunMigrate(ctx, db); err != nil {
			t.Fatalf("migrate #%d error = %v", i+1, err)
		}
	}

	var version int
	if err := db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		t.Fatal(err)
	}
	if version != currentSchemaVersion {
		t.Errorf("schema version = %d, want %d", version, currentSchemaVersion)
	}

	sink, err := NewFromDB(db)
	if err != nil {
		t.Fatalf("NewFromDB() error = %v", err)
	}
	if _, err := sink.Sessions(ctx); err != nil {
		t.Errorf("Sessions() error = %v", err)
	}
}

// failingRows is a rowScanner whose Scan always fails
type failingRows struct {
	next bool
}

func (r *failingRows) Next() bool {
	n := !r.next
	r.next = true
	return n
}
func (r *failingRows) Scan(dest ...any) error { return errors.New("scan failed") }
func (r *failingRows) Err() error             { return nil }
func (r *failingRows) Close() error           { return nil }

func TestScanRecordsError(t *testing.T) {
	sink := newTestSink(t)
	_, err := sink.scanRecords(&failingRows{})
	if err == nil || !strings.Contains(err.Error(), "scan action") {
		t.Errorf("scanRecords() error = %v", err)
	}
}
