package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/courier-dev/courier/internal/observability"
	obsmetrics "github.com/courier-dev/courier/pkg/observability"
)

// Dispatcher routes envelopes to the handlers resolved from a Registry and
// aggregates their outcomes. Fan-out invocations for one envelope run
// concurrently; one handler's failure never prevents a sibling from being
// invoked or from completing.
type Dispatcher struct {
	registry *Registry
	sem      chan struct{}
	metrics  bool
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMaxConcurrent bounds the number of handler invocations running at
// once across all dispatches. Zero or negative means unbounded.
func WithMaxConcurrent(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.sem = make(chan struct{}, n)
		}
	}
}

// WithMetrics enables Prometheus instrumentation of dispatches and handler
// invocations.
func WithMetrics(enabled bool) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = enabled
	}
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{registry: registry}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch resolves the envelope's type and invokes every matched handler.
//
// No binding yields StatusNotFound, never an error; callers decide whether
// that is fatal. A single binding is invoked directly on the caller's
// goroutine. Multiple bindings are launched in registration order and run
// concurrently; completion order is unspecified. The result is aggregated
// after all invocations have returned or been abandoned: StatusSuccess when
// every handler succeeded, StatusError when every one failed, and otherwise
// StatusPartial with the failed (agent, cause) pairs in registration order.
//
// Cancellation of ctx abandons outstanding invocations; each abandoned one
// is reported with the ErrCancelled cause rather than awaited.
func (d *Dispatcher) Dispatch(ctx context.Context, env *Envelope) *DispatchResult {
	ctx, span := observability.StartSpan(ctx, "courier.dispatch",
		trace.WithAttributes(
			attribute.String("envelope.id", env.ID),
			attribute.String("envelope.type", env.Type),
		))
	defer span.End()

	start := time.Now()
	bindings := d.registry.Resolve(env.Type)

	var result *DispatchResult
	switch len(bindings) {
	case 0:
		result = newResult(StatusNotFound)
	case 1:
		resp, err := d.invoke(ctx, bindings[0], env)
		result = aggregate(bindings, []*Envelope{resp}, []error{err})
	default:
		responses := make([]*Envelope, len(bindings))
		errs := make([]error, len(bindings))
		var wg sync.WaitGroup
		for i, b := range bindings {
			wg.Add(1)
			go func(i int, b Binding) {
				defer wg.Done()
				responses[i], errs[i] = d.invoke(ctx, b, env)
			}(i, b)
		}
		wg.Wait()
		result = aggregate(bindings, responses, errs)
	}

	span.SetAttributes(
		attribute.String("dispatch.status", string(result.Status)),
		attribute.Int("dispatch.handlers", len(bindings)),
		attribute.Int("dispatch.failures", len(result.Failures)),
	)
	if d.metrics {
		obsmetrics.RecordDispatch(env.Type, string(result.Status), time.Since(start))
	}
	return result
}

// invoke runs one handler under its own span, bounded by the concurrency
// semaphore. The handler runs on its own goroutine so a call that ignores
// cancellation can be abandoned: once ctx is done, invoke returns the
// ErrCancelled cause without waiting for the straggler.
func (d *Dispatcher) invoke(ctx context.Context, b Binding, env *Envelope) (*Envelope, error) {
	ctx, span := observability.StartSpan(ctx, "courier.handler",
		trace.WithAttributes(
			attribute.String("agent.id", b.Agent),
			attribute.String("envelope.type", env.Type),
		))
	defer span.End()

	if d.sem != nil {
		select {
		case d.sem <- struct{}{}:
			defer func() { <-d.sem }()
		case <-ctx.Done():
			span.RecordError(ctx.Err())
			return nil, asCancellation(ctx.Err())
		}
	}

	start := time.Now()

	type outcome struct {
		resp *Envelope
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		resp, err := b.Handler.HandleEnvelope(ctx, env)
		done <- outcome{resp: resp, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
		// A handler that observed cancellation reports the same cause as
		// one that was abandoned.
		if out.err != nil && ctx.Err() != nil {
			out.err = asCancellation(out.err)
		}
	case <-ctx.Done():
		out = outcome{err: asCancellation(ctx.Err())}
	}

	if out.err != nil {
		span.RecordError(out.err)
	}
	if d.metrics {
		obsmetrics.RecordHandlerInvocation(b.Agent, env.Type, time.Since(start), out.err != nil)
	}
	return out.resp, out.err
}

// aggregate folds per-binding outcomes, slot-indexed in registration order,
// into a DispatchResult.
func aggregate(bindings []Binding, responses []*Envelope, errs []error) *DispatchResult {
	result := newResult(StatusSuccess)
	result.agents = make([]string, len(bindings))

	for i, b := range bindings {
		result.agents[i] = b.Agent
		if errs[i] != nil {
			result.Failures = append(result.Failures, Failure{Agent: b.Agent, Err: errs[i]})
			continue
		}
		if responses[i] != nil {
			result.Responses[b.Agent] = responses[i]
		}
	}

	switch {
	case len(result.Failures) == 0:
		result.Status = StatusSuccess
	case len(result.Failures) == len(bindings):
		result.Status = StatusError
	default:
		result.Status = StatusPartial
	}
	return result
}
