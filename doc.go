// Package vetamin is a small reactive state container.
//
// A Store holds one State value. The state is replaced, never modified, by
// shallow-merging a patch into it:
//
//	store, _ := vetamin.New(vetamin.State{"count": 0, "name": "a"})
//
//	store.Set(vetamin.State{"count": 1})
//	store.Update(func(s vetamin.State) (vetamin.State, error) {
//	    n, _ := vetamin.Get[int](s, "count")
//	    return vetamin.State{"count": n + 1}, nil
//	})
//
// # Subscriptions
//
// Subscribers watch a slice of the state selected by a Selector and are
// called only when that slice changes according to an equality function
// (Is by default, which compares identity and never structure):
//
//	unsubscribe := vetamin.Subscribe(store, func(n int) {
//	    fmt.Println("count is", n)
//	}, vetamin.Key[int]("count"), nil)
//	defer unsubscribe()
//
// Every update runs one synchronous notification sweep before returning.
// A panic in a selector, equality function or callback is recovered,
// reported as a *SubscriberError and does not stop the sweep.
//
// # Actions
//
// Named actions are reducers bound at construction. Every dispatched action
// is forwarded with the state it produced to an observability session:
//
//	store, err := vetamin.New(vetamin.State{"count": 10},
//	    vetamin.WithName("counter"),
//	    vetamin.WithActions(vetamin.ActionTable{
//	        "increment": vetamin.Action(func(s vetamin.State, n int) vetamin.State {
//	            c, _ := vetamin.Get[int](s, "count")
//	            return vetamin.State{"count": c + n}
//	        }),
//	    }),
//	    vetamin.WithSink(memory.New()),
//	)
//
//	err = store.Actions().Dispatch(ctx, "increment", 5)
//
// Sinks are found under sinks/: memory, slogsink, sqlite and durablestream.
// An action table without a sink is rejected with ErrNoSink.
//
// # Observability
//
// WithObservability installs hooks for updates, sweeps, subscriber faults
// and sink errors. The otel package implements them with OpenTelemetry, the
// metrics package with Prometheus.
package vetamin
