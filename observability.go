package vetamin

import (
	"context"
	"time"
)

// Observability receives lifecycle hooks from a Store. Implementations live
// in the otel and metrics packages.
type Observability interface {
	// OnUpdateStart is called before a patch is computed. action is empty
	// for direct Set/Update calls.
	OnUpdateStart(ctx context.Context, store, action string) context.Context

	// OnUpdateComplete is called once the update and its sweep finished,
	// with the error returned to the caller (if any).
	OnUpdateComplete(ctx context.Context, duration time.Duration, err error)

	// OnNotify reports how many subscribers a sweep evaluated and how many
	// callbacks it fired.
	OnNotify(ctx context.Context, store string, evaluated, fired int)

	// OnSubscriberError is called for every contained subscriber fault.
	OnSubscriberError(ctx context.Context, store string, err error)

	// OnSubscriptionChange reports the number of active subscribers after a
	// subscribe or unsubscribe.
	OnSubscriptionChange(ctx context.Context, store string, active int)

	// OnSinkError is called when the sink session rejects Init or Send.
	// action is empty for Init.
	OnSinkError(ctx context.Context, store, action string, err error)
}

type multiObservability []Observability

// MultiObservability fans hooks out to every non-nil observability.
func MultiObservability(observers ...Observability) Observability {
	filtered := make(multiObservability, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	return filtered
}

func (m multiObservability) OnUpdateStart(ctx context.Context, store, action string) context.Context {
	for _, o := range m {
		ctx = o.OnUpdateStart(ctx, store, action)
	}
	return ctx
}

func (m multiObservability) OnUpdateComplete(ctx context.Context, duration time.Duration, err error) {
	for _, o := range m {
		o.OnUpdateComplete(ctx, duration, err)
	}
}

func (m multiObservability) OnNotify(ctx context.Context, store string, evaluated, fired int) {
	for _, o := range m {
		o.OnNotify(ctx, store, evaluated, fired)
	}
}

func (m multiObservability) OnSubscriberError(ctx context.Context, store string, err error) {
	for _, o := range m {
		o.OnSubscriberError(ctx, store, err)
	}
}

func (m multiObservability) OnSubscriptionChange(ctx context.Context, store string, active int) {
	for _, o := range m {
		o.OnSubscriptionChange(ctx, store, active)
	}
}

func (m multiObservability) OnSinkError(ctx context.Context, store, action string, err error) {
	for _, o := range m {
		o.OnSinkError(ctx, store, action, err)
	}
}
