package agent

import (
	"context"
	"fmt"
)

// Handler is the type-erased invocation entry point stored in a binding.
// The dispatcher invokes handlers through this interface without static
// knowledge of the concrete agent type.
//
// Implementations must be safe to invoke concurrently for different
// envelopes, and should return promptly once ctx is cancelled; invocations
// that outlive their context are abandoned and reported as cancelled.
type Handler interface {
	HandleEnvelope(ctx context.Context, env *Envelope) (*Envelope, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, env *Envelope) (*Envelope, error)

// HandleEnvelope implements Handler.
func (f HandlerFunc) HandleEnvelope(ctx context.Context, env *Envelope) (*Envelope, error) {
	return f(ctx, env)
}

// Typed adapts a strongly typed handler function into a type-erased Handler.
// The envelope payload is unmarshalled into T before the function runs; a
// payload that does not decode into T is a handler failure.
//
//	reg.Register("greeter", "greet", agent.Typed(func(ctx context.Context, req GreetRequest) (*agent.Envelope, error) {
//	    return agent.NewEnvelope("greet.response", "hello "+req.Name)
//	}))
func Typed[T any](fn func(ctx context.Context, msg T) (*Envelope, error)) Handler {
	return HandlerFunc(func(ctx context.Context, env *Envelope) (*Envelope, error) {
		var msg T
		if len(env.Payload) > 0 {
			if err := env.UnmarshalPayload(&msg); err != nil {
				return nil, fmt.Errorf("decode payload into %T: %w", msg, err)
			}
		}
		return fn(ctx, msg)
	})
}

// Capability is the contract an agent implements to be hosted by the
// runtime: a stable identity, the set of message types it accepts, and the
// type-erased entry point the dispatcher calls.
//
// HandleEnvelope must fail with ErrUnsupportedType when the envelope's type
// is not in the declared set, so a capability routed a stray envelope never
// processes it silently.
type Capability interface {
	// ID returns the agent identity bindings are registered under.
	ID() string

	// Types returns the message type identifiers this agent accepts.
	Types() []string

	// HandleEnvelope accepts any envelope, narrows it by type, and forwards
	// to the matching typed entry point.
	HandleEnvelope(ctx context.Context, env *Envelope) (*Envelope, error)
}

// CapabilitySet assembles a Capability from per-type handlers. It is the
// declared, explicit form of "does this agent handle this message": the set
// is built once at construction time and consulted on every invocation.
type CapabilitySet struct {
	id       string
	handlers map[string]Handler
	types    []string
}

// NewCapabilitySet creates an empty capability set for the given agent identity.
func NewCapabilitySet(id string) *CapabilitySet {
	return &CapabilitySet{
		id:       id,
		handlers: make(map[string]Handler),
	}
}

// On binds a handler for one message type and returns the set for chaining.
// Re-binding a type replaces the previous handler.
func (c *CapabilitySet) On(msgType string, h Handler) *CapabilitySet {
	if _, exists := c.handlers[msgType]; !exists {
		c.types = append(c.types, msgType)
	}
	c.handlers[msgType] = h
	return c
}

// OnFunc is On for plain functions.
func (c *CapabilitySet) OnFunc(msgType string, fn func(ctx context.Context, env *Envelope) (*Envelope, error)) *CapabilitySet {
	return c.On(msgType, HandlerFunc(fn))
}

// OnTyped binds a strongly typed handler for one message type.
// It is a free function because methods cannot introduce type parameters.
func OnTyped[T any](c *CapabilitySet, msgType string, fn func(ctx context.Context, msg T) (*Envelope, error)) *CapabilitySet {
	return c.On(msgType, Typed(fn))
}

// ID implements Capability.
func (c *CapabilitySet) ID() string { return c.id }

// Types implements Capability, in the order the bindings were declared.
func (c *CapabilitySet) Types() []string {
	out := make([]string, len(c.types))
	copy(out, c.types)
	return out
}

// HandleEnvelope implements Capability. Envelopes of an undeclared type fail
// with ErrUnsupportedType.
func (c *CapabilitySet) HandleEnvelope(ctx context.Context, env *Envelope) (*Envelope, error) {
	h, ok := c.handlers[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: agent %s has no handler for %q", ErrUnsupportedType, c.id, env.Type)
	}
	return h.HandleEnvelope(ctx, env)
}
