// Package metrics exposes store activity as Prometheus metrics.
//
// A Collector is both a vetamin.Observability and a prometheus.Collector:
//
//	c := metrics.NewCollector("myapp")
//	prometheus.MustRegister(c)
//	store, err := vetamin.New(initial, vetamin.WithObservability(c))
//
// Plain Set and Update calls are recorded with the action label "none".
package metrics

import (
	"context"
	"errors"
	"time"

	gometrics "github.com/docker/go-metrics"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pankerit/vetamin"
)

// Subsystem is the metric subsystem of every Collector.
const Subsystem = "store"

// NoAction is the action label of updates that are not actions.
const NoAction = "none"

func actionLabel(action string) string {
	if action == "" {
		return NoAction
	}
	return action
}

// Collector records store hooks into labeled Prometheus metrics.
type Collector struct {
	ns *gometrics.Namespace

	updates          gometrics.LabeledCounter
	updateErrors     gometrics.LabeledCounter
	updateDuration   gometrics.LabeledTimer
	evaluated        gometrics.LabeledCounter
	fired            gometrics.LabeledCounter
	subscriberErrors gometrics.LabeledCounter
	subscribers      gometrics.LabeledGauge
	sinkErrors       gometrics.LabeledCounter
}

var (
	_ vetamin.Observability = (*Collector)(nil)
	_ prometheus.Collector  = (*Collector)(nil)
)

// NewCollector creates a Collector whose metrics are named
// <namespace>_store_<metric>.
func NewCollector(namespace string) *Collector {
	ns := gometrics.NewNamespace(namespace, Subsystem, nil)
	return &Collector{
		ns:               ns,
		updates:          ns.NewLabeledCounter("updates", "The number of store updates", "store", "action"),
		updateErrors:     ns.NewLabeledCounter("update_errors", "The number of failed store updates", "store", "action"),
		updateDuration:   ns.NewLabeledTimer("update", "The number of seconds an update takes including its notification sweep", "store", "action"),
		evaluated:        ns.NewLabeledCounter("subscribers_evaluated", "The number of subscriber evaluations", "store"),
		fired:            ns.NewLabeledCounter("callbacks_fired", "The number of subscriber callbacks fired", "store"),
		subscriberErrors: ns.NewLabeledCounter("subscriber_errors", "The number of contained subscriber faults", "store", "stage"),
		subscribers:      ns.NewLabeledGauge("subscribers", "The number of active subscribers", gometrics.Unit("active"), "store"),
		sinkErrors:       ns.NewLabeledCounter("sink_errors", "The number of sink session errors", "store", "action"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.ns.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.ns.Collect(ch)
}

type updateKey struct{}

type updateLabels struct {
	store, action string
}

// OnUpdateStart counts the update and remembers its labels.
func (c *Collector) OnUpdateStart(ctx context.Context, store, action string) context.Context {
	action = actionLabel(action)
	c.updates.WithValues(store, action).Inc()
	return context.WithValue(ctx, updateKey{}, updateLabels{store: store, action: action})
}

// OnUpdateComplete records the update duration and failure.
func (c *Collector) OnUpdateComplete(ctx context.Context, duration time.Duration, err error) {
	l, _ := ctx.Value(updateKey{}).(updateLabels)
	c.updateDuration.WithValues(l.store, l.action).Update(duration)
	if err != nil {
		c.updateErrors.WithValues(l.store, l.action).Inc()
	}
}

func (c *Collector) OnNotify(ctx context.Context, store string, evaluated, fired int) {
	c.evaluated.WithValues(store).Inc(float64(evaluated))
	c.fired.WithValues(store).Inc(float64(fired))
}

func (c *Collector) OnSubscriberError(ctx context.Context, store string, err error) {
	stage := "unknown"
	var serr *vetamin.SubscriberError
	if errors.As(err, &serr) {
		stage = string(serr.Stage)
	}
	c.subscriberErrors.WithValues(store, stage).Inc()
}

func (c *Collector) OnSubscriptionChange(ctx context.Context, store string, active int) {
	c.subscribers.WithValues(store).Set(float64(active))
}

func (c *Collector) OnSinkError(ctx context.Context, store, action string, err error) {
	c.sinkErrors.WithValues(store, actionLabel(action)).Inc()
}
