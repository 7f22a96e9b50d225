package agent

import (
	"errors"
	"fmt"
	"strings"
)

// Status classifies the outcome of dispatching one envelope.
type Status string

const (
	// StatusSuccess means every matched handler completed without error.
	StatusSuccess Status = "success"

	// StatusNotFound means no handler is registered for the envelope's type.
	StatusNotFound Status = "handler_not_found"

	// StatusError means the single matched handler failed, or every handler
	// in a fan-out failed.
	StatusError Status = "handler_error"

	// StatusPartial means some, but not all, fan-out handlers failed.
	StatusPartial Status = "partial"
)

// Failure records one failed invocation: the owning agent and the cause.
type Failure struct {
	Agent string
	Err   error
}

// DispatchResult aggregates the outcome of one dispatch. For fan-out,
// Responses holds each succeeding agent's response and Failures lists the
// failed (agent, cause) pairs in registration order.
type DispatchResult struct {
	Status    Status
	Responses map[string]*Envelope
	Failures  []Failure

	// agents preserves registration order across Responses and Failures.
	agents []string
}

// Agents returns the matched agents in registration order.
func (r *DispatchResult) Agents() []string {
	out := make([]string, len(r.agents))
	copy(out, r.agents)
	return out
}

// Response returns the first response produced in registration order, or nil.
// For the common single-handler case this is the handler's response.
func (r *DispatchResult) Response() *Envelope {
	for _, agent := range r.agents {
		if resp, ok := r.Responses[agent]; ok && resp != nil {
			return resp
		}
	}
	return nil
}

// Cancelled reports whether the dispatch failed and every recorded cause was
// a cancellation.
func (r *DispatchResult) Cancelled() bool {
	if len(r.Failures) == 0 {
		return false
	}
	for _, f := range r.Failures {
		if !errors.Is(f.Err, ErrCancelled) {
			return false
		}
	}
	return true
}

// Err summarizes the outcome as a single error, or nil when it succeeded.
func (r *DispatchResult) Err() error {
	switch {
	case r.Status == StatusNotFound:
		return ErrUnsupportedType
	case len(r.Failures) == 0:
		return nil
	case len(r.Failures) == 1:
		return &HandlerError{Agent: r.Failures[0].Agent, Err: r.Failures[0].Err}
	}
	causes := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		causes = append(causes, fmt.Sprintf("%s: %v", f.Agent, f.Err))
	}
	return fmt.Errorf("dispatch: %d handler error(s): %s", len(r.Failures), strings.Join(causes, "; "))
}

func newResult(status Status) *DispatchResult {
	return &DispatchResult{
		Status:    status,
		Responses: make(map[string]*Envelope),
	}
}

// RebuildResult reconstructs a DispatchResult from recorded data, preserving
// the original agent order. Hosts use this to replay deduplicated
// submissions without re-invoking handlers.
func RebuildResult(status Status, agents []string, responses map[string]*Envelope, failures []Failure) *DispatchResult {
	r := newResult(status)
	r.agents = append(r.agents, agents...)
	for id, resp := range responses {
		r.Responses[id] = resp
	}
	r.Failures = append(r.Failures, failures...)
	return r
}
