package durablestream_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ahimsalabs/durable-streams-go/durablestream"
	"github.com/ahimsalabs/durable-streams-go/durablestream/memorystorage"
	"github.com/google/go-cmp/cmp"

	"github.com/pankerit/vetamin"
	ds "github.com/pankerit/vetamin/sinks/durablestream"
)

// newTestServer creates a test durable-streams server using the ahimsalabs handler.
func newTestServer() *httptest.Server {
	storage := memorystorage.New()
	handler := durablestream.NewHandler(storage, nil)
	mux := http.NewServeMux()
	mux.Handle("/v1/stream/", http.StripPrefix("/v1/stream/", handler))
	return httptest.NewServer(mux)
}

type testLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *testLogger) Printf(format string, v ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, v...))
}

func counterStore(t *testing.T, sink vetamin.Connector, name string, opts ...vetamin.Option) *vetamin.Store {
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
		}),
	}, opts...)
	store, err := vetamin.New(vetamin.State{"count": 10}, opts...)
	if err != nil {
		t.Fatalf("vetamin.New() error = %v", err)
	}
	return store
}

func TestNew(t *testing.T) {
	t.Run("errors on empty baseURL", func(t *testing.T) {
		_, err := ds.New("")
		if err == nil {
			t.Fatal("expected error for empty baseURL")
		}
		if !strings.Contains(err.Error(), "baseURL is required") {
			t.Errorf("expected 'baseURL is required' error, got: %v", err)
		}
	})

	t.Run("does not contact the server", func(t *testing.T) {
		if _, err := ds.New("http://127.0.0.1:1/v1/stream"); err != nil {
			t.Fatalf("New() error = %v", err)
		}
	})

	t.Run("escapes store names", func(t *testing.T) {
		sink, err := ds.New("http://example.com/v1/stream/")
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		if got, want := sink.StreamURL("my store"), "http://example.com/v1/stream/my%20store"; got != want {
			t.Errorf("StreamURL() = %q, want %q", got, want)
		}
	})
}

func TestSinkRecordsStore(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	sink, err := ds.New(srv.URL+"/v1/stream", ds.WithClock(func() time.Time { return at }))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	store := counterStore(t, sink, "counter")
	ctx := context.Background()
	for _, n := range []int{5, 3} {
		if err := store.Actions().Dispatch(ctx, "increment", n); err != nil {
			t.Fatalf("Dispatch() error = %v", err)
		}
	}

	history, err := sink.History(ctx, "counter")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(history))
	}

	ops := []ds.Operation{ds.OperationInsert, ds.OperationUpdate, ds.OperationUpdate}
	actions := []string{"", "increment", "increment"}
	counts := []float64{10, 15, 18}
	for i, msg := range history {
		if msg.Type != ds.MessageType || msg.Key != "counter" {
			t.Errorf("message %d: type/key = %s/%s", i, msg.Type, msg.Key)
		}
		if msg.Headers.Operation != ops[i] {
			t.Errorf("message %d: operation = %s, want %s", i, msg.Headers.Operation, ops[i])
		}
		if msg.Headers.Action != actions[i] {
			t.Errorf("message %d: action = %q, want %q", i, msg.Headers.Action, actions[i])
		}
		if msg.Headers.TxID == "" || msg.Headers.TxID != history[0].Headers.TxID {
			t.Errorf("message %d: txid = %q, want the session id", i, msg.Headers.TxID)
		}
		if !msg.Time().Equal(at) {
			t.Errorf("message %d: time = %v, want %v", i, msg.Time(), at)
		}

		state, err := msg.State()
		if err != nil {
			t.Fatalf("State() error = %v", err)
		}
		// JSON numbers decode as float64
		if diff := cmp.Diff(vetamin.State{"count": counts[i]}, state); diff != "" {
			t.Errorf("message %d: state mismatch (-want +got):\n%s", i, diff)
		}
	}

	prev, err := history[0].PreviousState()
	if err != nil || prev != nil {
		t.Errorf("insert PreviousState() = %v, %v; want nil, nil", prev, err)
	}
	prev, err = history[2].PreviousState()
	if err != nil {
		t.Fatalf("PreviousState() error = %v", err)
	}
	if diff := cmp.Diff(vetamin.State{"count": float64(15)}, prev); diff != "" {
		t.Errorf("previous state mismatch (-want +got):\n%s", diff)
	}
}

func TestHistoryKeepsLatestSession(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	sink, err := ds.New(srv.URL + "/v1/stream")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	first := counterStore(t, sink, "counter")
	if err := first.Actions().Dispatch(ctx, "increment", 1); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	first.Close()

	second := counterStore(t, sink, "counter")
	if err := second.Actions().Dispatch(ctx, "increment", 7); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	history, err := sink.History(ctx, "counter")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	state, err := history[1].State()
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if diff := cmp.Diff(vetamin.State{"count": float64(17)}, state); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
}

func TestSinkUnavailable(t *testing.T) {
	sink, err := ds.New("http://127.0.0.1:1/v1/stream",
		ds.WithTimeout(100*time.Millisecond),
		ds.WithRetry(0, time.Millisecond),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = vetamin.New(vetamin.State{},
		vetamin.WithLogger(slog.New(slog.DiscardHandler)),
		vetamin.WithSink(sink),
		vetamin.WithActions(vetamin.ActionTable{
			"noop": func(s vetamin.State, _ any) (vetamin.State, error) { return s, nil },
		}),
	)
	if !errors.Is(err, vetamin.ErrSinkUnavailable) {
		t.Fatalf("vetamin.New() error = %v, want ErrSinkUnavailable", err)
	}
}

func TestAppendErrorsAreReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			w.WriteHeader(http.StatusCreated)
			return
		}
		http.Error(w, "read only", http.StatusForbidden)
	}))
	defer srv.Close()

	sink, err := ds.New(srv.URL)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var reported []error
	store := counterStore(t, sink, "counter", vetamin.WithErrorHandler(func(err error) {
		reported = append(reported, err)
	}))

	if err := store.Actions().Dispatch(context.Background(), "increment", 1); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if got, _ := vetamin.Get[int](store.GetState(), "count"); got != 11 {
		t.Errorf("count = %d, want 11", got)
	}

	if len(reported) != 2 {
		t.Fatalf("expected init and send errors, got %v", reported)
	}
	for _, err := range reported {
		if !strings.Contains(err.Error(), "status 403") {
			t.Errorf("expected status 403 in error, got: %v", err)
		}
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var puts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if puts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sink, err := ds.New(srv.URL, ds.WithRetry(2, time.Millisecond))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := sink.Connect(context.Background(), vetamin.SessionConfig{Name: "counter"}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := puts.Load(); got != 2 {
		t.Errorf("expected 2 requests, got %d", got)
	}
}

func TestConnectRequiresName(t *testing.T) {
	sink, err := ds.New("http://127.0.0.1:1/v1/stream")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := sink.Connect(context.Background(), vetamin.SessionConfig{}); err == nil {
		t.Fatal("expected error for empty store name")
	}
}

func TestHistorySkipsMalformedMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Stream-Up-To-Date", "true")
		w.Write([]byte(`[
			{"type":"store","key":"old","value":{},"headers":{"operation":"insert"}},
			{"headers":{"control":"reset"}},
			"garbage",
			{"type":"other","key":"x","headers":{"operation":"insert"}},
			{"type":"store","key":"counter","value":{"count":1},"headers":{"operation":"insert","timestamp":"bad"}}
		]`))
	}))
	defer srv.Close()

	logger := &testLogger{}
	sink, err := ds.New(srv.URL, ds.WithLogger(logger))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	history, err := sink.History(context.Background(), "counter")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 || history[0].Key != "counter" {
		t.Fatalf("expected only the message after the reset, got %+v", history)
	}
	if !history[0].Time().IsZero() {
		t.Errorf("expected zero time for malformed timestamp, got %v", history[0].Time())
	}
	if len(logger.lines) != 1 || !strings.Contains(logger.lines[0], "index 2") {
		t.Errorf("expected one log line about index 2, got %v", logger.lines)
	}
}

func TestHistoryOfMissingStream(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	sink, err := ds.New(srv.URL + "/v1/stream")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := sink.History(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for missing stream")
	}
}
