package agent

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope is the typed container for a message travelling through the
// dispatch layer. The type identifier selects the handlers; the payload is
// opaque to the runtime and must be treated as immutable once submitted.
type Envelope struct {
	// ID is a unique identifier for this envelope, automatically generated.
	// Transports use it for idempotency: resubmitting an ID that was already
	// dispatched can be answered from the recorded result.
	ID string `json:"id"`

	// Type identifies the message type (e.g. "greet", "order.created").
	// It is required, and stable for the lifetime of the envelope.
	Type string `json:"type"`

	// Payload contains the message data as raw JSON.
	// Use UnmarshalPayload to deserialize into a specific type.
	Payload json.RawMessage `json:"payload,omitempty"`

	// CorrelationID optionally ties this envelope to a conversation or an
	// earlier request. The runtime propagates it into responses untouched.
	CorrelationID string `json:"correlation_id,omitempty"`

	// Sender optionally names the party that submitted the envelope.
	// Per-sender rate limiting keys on it when configured.
	Sender string `json:"sender,omitempty"`

	// Timestamp is the ISO 8601 timestamp when the envelope was created.
	Timestamp string `json:"timestamp,omitempty"`

	// Metadata contains optional key-value pairs for routing and tracing.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewEnvelope creates an envelope with the given type and payload.
// The payload is serialized to JSON; a unique ID and a timestamp are
// generated. A nil payload produces an envelope with an empty payload.
func NewEnvelope(msgType string, payload interface{}) (*Envelope, error) {
	env := &Envelope{
		ID:        uuid.New().String(),
		Type:      msgType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		env.Payload = data
	}
	return env, nil
}

// MustEnvelope is NewEnvelope for payloads known to marshal, such as
// literals in tests and examples. It panics on marshal failure.
func MustEnvelope(msgType string, payload interface{}) *Envelope {
	env, err := NewEnvelope(msgType, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// WithCorrelation sets the correlation ID and returns the envelope for chaining.
func (e *Envelope) WithCorrelation(id string) *Envelope {
	e.CorrelationID = id
	return e
}

// WithSender sets the sender identity and returns the envelope for chaining.
func (e *Envelope) WithSender(sender string) *Envelope {
	e.Sender = sender
	return e
}

// WithMetadata adds a metadata entry and returns the envelope for chaining:
//
//	env := agent.MustEnvelope("greet", nil).
//	    WithSender("web").
//	    WithMetadata("priority", "high")
func (e *Envelope) WithMetadata(key string, value interface{}) *Envelope {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// UnmarshalPayload deserializes the payload into the provided value.
// The value should be a pointer to the desired type.
func (e *Envelope) UnmarshalPayload(v interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("envelope payload is empty")
	}
	return json.Unmarshal(e.Payload, v)
}

// Validate checks the invariants every submitted envelope must hold.
func (e *Envelope) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: envelope is nil", ErrInvalidEnvelope)
	}
	if e.Type == "" {
		return fmt.Errorf("%w: type identifier is empty", ErrInvalidEnvelope)
	}
	return nil
}

// Reply builds a response envelope for this one: same type with a ".response"
// suffix, the caller's payload, and the correlation chain preserved.
// Handlers that produce a result use it so callers can match responses.
func (e *Envelope) Reply(payload interface{}) (*Envelope, error) {
	resp, err := NewEnvelope(e.Type+".response", payload)
	if err != nil {
		return nil, err
	}
	resp.CorrelationID = e.CorrelationID
	if resp.CorrelationID == "" {
		resp.CorrelationID = e.ID
	}
	return resp, nil
}

// Clone creates a deep copy of the envelope. Interceptors that rewrite an
// envelope clone it first so the original stays immutable.
func (e *Envelope) Clone() *Envelope {
	clone := &Envelope{
		ID:            e.ID,
		Type:          e.Type,
		CorrelationID: e.CorrelationID,
		Sender:        e.Sender,
		Timestamp:     e.Timestamp,
	}
	if e.Payload != nil {
		clone.Payload = make(json.RawMessage, len(e.Payload))
		copy(clone.Payload, e.Payload)
	}
	if e.Metadata != nil {
		clone.Metadata = make(map[string]interface{}, len(e.Metadata))
		for k, v := range e.Metadata {
			clone.Metadata[k] = v
		}
	}
	return clone
}

// String returns a human-readable representation for debugging.
func (e *Envelope) String() string {
	return fmt.Sprintf("Envelope{ID:%s, Type:%s, Sender:%s}", e.ID, e.Type, e.Sender)
}
