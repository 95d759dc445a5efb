package durablestream

import "encoding/json"

// Operation is the kind of change carried by a ChangeMessage.
type Operation string

const (
	// OperationInsert carries the initial state of a session.
	OperationInsert Operation = "insert"
	// OperationUpdate carries the state produced by an action.
	OperationUpdate Operation = "update"
)

// Control is the kind of a ControlMessage.
type Control string

// ControlReset starts a new session on the stream. Readers drop everything
// before it.
const ControlReset Control = "reset"

// MessageType is the entity type of every change message this sink writes.
const MessageType = "store"

// Headers contains change message metadata.
type Headers struct {
	Operation Operation `json:"operation"`
	// Action is the action name of an update. Empty for inserts.
	Action    string `json:"action,omitempty"`
	TxID      string `json:"txid,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// ControlHeaders contains control message metadata.
type ControlHeaders struct {
	Control Control `json:"control"`
}

// ChangeMessage is one state transition of a store. Key is the store name,
// Value the full state after the transition and OldValue the state before
// it.
type ChangeMessage struct {
	Type     string          `json:"type"`
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value,omitempty"`
	OldValue json.RawMessage `json:"old_value,omitempty"`
	Headers  Headers         `json:"headers"`
}

// ControlMessage manages the lifecycle of a stream.
type ControlMessage struct {
	Headers ControlHeaders `json:"headers"`
}

// envelope decodes either message kind.
type envelope struct {
	Type     string          `json:"type"`
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value,omitempty"`
	OldValue json.RawMessage `json:"old_value,omitempty"`
	Headers  struct {
		Operation Operation `json:"operation"`
		Action    string    `json:"action"`
		TxID      string    `json:"txid"`
		Timestamp string    `json:"timestamp"`
		Control   Control   `json:"control"`
	} `json:"headers"`
}

func (e *envelope) change() *ChangeMessage {
	return &ChangeMessage{
		Type:     e.Type,
		Key:      e.Key,
		Value:    e.Value,
		OldValue: e.OldValue,
		Headers: Headers{
			Operation: e.Headers.Operation,
			Action:    e.Headers.Action,
			TxID:      e.Headers.TxID,
			Timestamp: e.Headers.Timestamp,
		},
	}
}
