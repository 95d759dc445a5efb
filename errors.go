package vetamin

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSink is returned by New when an action table is configured
	// without a Connector to report dispatched actions to.
	ErrNoSink = errors.New("vetamin: actions require a sink (use WithSink)")

	// ErrSinkUnavailable is returned by New when the configured Connector
	// cannot open a session.
	ErrSinkUnavailable = errors.New("vetamin: sink unavailable")

	// ErrUnknownAction is returned when dispatching a name that is not in
	// the action table.
	ErrUnknownAction = errors.New("vetamin: unknown action")

	// ErrPayloadType is returned when a typed reducer receives a payload of
	// the wrong type.
	ErrPayloadType = errors.New("vetamin: payload type mismatch")

	// ErrClosed is returned by operations on a closed Store.
	ErrClosed = errors.New("vetamin: store closed")
)

// Stage identifies the part of a subscriber that failed during a sweep.
type Stage string

const (
	StageSelector Stage = "selector"
	StageEquality Stage = "equality"
	StageCallback Stage = "callback"
)

// SubscriberError describes a panic recovered while notifying a single
// subscriber. The sweep that produced it continues with the other
// subscribers.
type SubscriberError struct {
	ID    uint64
	Name  string
	Stage Stage
	Value any
}

func (e *SubscriberError) Error() string {
	name := e.Name
	if name == "" {
		name = fmt.Sprintf("#%d", e.ID)
	}
	return fmt.Sprintf("vetamin: subscriber %s: %s panicked: %v", name, e.Stage, e.Value)
}

// Unwrap exposes the panic value when it was an error.
func (e *SubscriberError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
