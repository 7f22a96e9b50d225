package agent

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidBinding is returned by Register when the type identifier,
	// the agent identity, or the entry point is missing.
	ErrInvalidBinding = errors.New("invalid binding")

	// ErrUnsupportedType is returned when no handler is bound for an
	// envelope's type identifier.
	ErrUnsupportedType = errors.New("unsupported message type")

	// ErrInvalidEnvelope is returned when an envelope fails validation
	// before dispatch.
	ErrInvalidEnvelope = errors.New("invalid envelope")

	// ErrCancelled is the cause reported for an invocation that was
	// abandoned because its context was cancelled or its deadline passed.
	ErrCancelled = errors.New("dispatch cancelled")
)

// HandlerError wraps a failure produced by one agent's handler, keeping the
// owning agent's identity attached to the cause.
type HandlerError struct {
	Agent string
	Err   error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s: %v", e.Agent, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// asCancellation maps context termination to the ErrCancelled cause so that
// every abandoned invocation reports the same way regardless of whether the
// handler returned ctx.Err() or the dispatcher gave up waiting.
func asCancellation(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCancelled) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	return err
}
