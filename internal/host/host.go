// Package host runs the dispatch service: it owns the registry and
// dispatcher, accepts envelopes over HTTP, gRPC and NATS, and manages the
// Stopped -> Starting -> Running -> Draining -> Stopped lifecycle.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/courier-dev/courier/agent"
	"github.com/courier-dev/courier/pkg/dedupe"
	obsmetrics "github.com/courier-dev/courier/pkg/observability"
	"github.com/courier-dev/courier/pkg/ratelimit"
)

// State is the host's lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateDraining State = "draining"
)

var (
	// ErrNotRunning is returned when submitting to a host that is not running.
	ErrNotRunning = errors.New("host not running")

	// ErrDraining is returned when submitting to a host that is shutting down.
	ErrDraining = errors.New("host draining")

	// ErrAlreadyStarted is returned when starting a host that is not stopped.
	ErrAlreadyStarted = errors.New("host already started")

	// ErrRateLimited is returned when a submission exceeds the configured rate.
	ErrRateLimited = errors.New("rate limited")

	// ErrDropped is returned by interceptors to acknowledge an envelope
	// without dispatching it.
	ErrDropped = errors.New("envelope dropped")
)

// Interceptor inspects or rewrites an envelope before dispatch. Returning
// ErrDropped acknowledges the envelope without dispatching; any other error
// rejects the submission.
type Interceptor func(ctx context.Context, env *agent.Envelope) (*agent.Envelope, error)

// Service accepts envelopes from transports and in-process callers and
// routes them through the dispatcher.
type Service struct {
	cfg        *Config
	registry   *agent.Registry
	dispatcher *agent.Dispatcher

	mu    sync.RWMutex
	state State

	// drainCtx is cancelled to abandon in-flight work during shutdown.
	drainCtx    context.Context
	drainCancel context.CancelFunc

	inflight      sync.WaitGroup
	inflightCount atomic.Int64

	limiter      *ratelimit.Limiter
	typeLimiter  *ratelimit.TypeLimiter
	interceptors []Interceptor
	dedupe       dedupe.Store

	httpServer   *http.Server
	httpListener net.Listener
	grpcServer   *grpc.Server
	grpcListener net.Listener
	natsConn     *nats.Conn
	natsSub      *nats.Subscription
}

// New creates a host service around a registry.
func New(registry *agent.Registry, opts ...Option) *Service {
	s := &Service{
		cfg:      DefaultConfig(),
		registry: registry,
		state:    StateStopped,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.dispatcher = agent.NewDispatcher(registry,
		agent.WithMaxConcurrent(s.cfg.MaxConcurrent),
		agent.WithMetrics(s.cfg.EnableMetrics),
	)

	return s
}

// Registry returns the registry this host dispatches against.
func (s *Service) Registry() *agent.Registry {
	return s.registry
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// InFlight returns the number of dispatches currently in flight.
func (s *Service) InFlight() int {
	return int(s.inflightCount.Load())
}

// DrainGrace returns the configured shutdown grace period.
func (s *Service) DrainGrace() time.Duration {
	return s.cfg.DrainGrace
}

// HTTPAddr returns the bound HTTP address, or empty before Start.
func (s *Service) HTTPAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.httpListener != nil {
		return s.httpListener.Addr().String()
	}
	return ""
}

// GRPCAddr returns the bound gRPC address, or empty when disabled.
func (s *Service) GRPCAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.grpcListener != nil {
		return s.grpcListener.Addr().String()
	}
	return ""
}

// Start binds every configured transport and moves the host to Running.
// Any bind failure is fatal: the host falls back to Stopped and returns
// the error without serving.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: state is %s", ErrAlreadyStarted, state)
	}
	s.state = StateStarting
	s.drainCtx, s.drainCancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	g.Go(s.bindHTTP)
	if s.cfg.GRPCAddr != "" {
		g.Go(s.bindGRPC)
	}
	if s.cfg.NATSURL != "" {
		g.Go(s.bindNATS)
	}

	if err := g.Wait(); err != nil {
		s.closeTransports()
		s.mu.Lock()
		s.state = StateStopped
		s.drainCancel()
		s.mu.Unlock()
		return err
	}

	s.serveHTTP()
	s.serveGRPC()

	s.mu.Lock()
	s.state = StateRunning
	s.mu.Unlock()

	if s.cfg.EnableMetrics {
		obsmetrics.SetRegistryBindings(s.registry.Size())
	}
	log.Printf("[Host] Running (http=%s grpc=%s nats=%s)",
		s.HTTPAddr(), s.GRPCAddr(), s.cfg.NATSURL)
	return nil
}

// Submit runs one envelope through the submission pipeline: state gate,
// validation, rate limit, interceptors, dedupe, then dispatch under the
// joined request and drain contexts.
func (s *Service) Submit(ctx context.Context, env *agent.Envelope) (*agent.DispatchResult, error) {
	s.mu.RLock()
	state := s.state
	drainCtx := s.drainCtx
	s.mu.RUnlock()

	switch state {
	case StateRunning:
	case StateDraining:
		return nil, ErrDraining
	default:
		return nil, ErrNotRunning
	}

	if err := env.Validate(); err != nil {
		return nil, err
	}

	if s.limiter != nil && !s.limiter.Allow(env.Sender) {
		if s.cfg.EnableMetrics {
			obsmetrics.RecordRateLimited()
		}
		return nil, fmt.Errorf("%w: sender %q over budget", ErrRateLimited, env.Sender)
	}
	if s.typeLimiter != nil && !s.typeLimiter.Allow(env.Type) {
		if s.cfg.EnableMetrics {
			obsmetrics.RecordRateLimited()
		}
		return nil, fmt.Errorf("%w: type %q over budget", ErrRateLimited, env.Type)
	}

	for _, ic := range s.interceptors {
		next, err := ic(ctx, env)
		if err != nil {
			return nil, err
		}
		if next != nil {
			env = next
		}
	}

	if s.dedupe != nil && env.ID != "" {
		rec, err := s.dedupe.Check(ctx, env.ID)
		switch {
		case err == nil:
			if s.cfg.EnableMetrics {
				obsmetrics.RecordDedupeHit()
			}
			return replayRecord(rec), nil
		case !errors.Is(err, dedupe.ErrNotSeen):
			log.Printf("[Host] Dedupe check for %s failed: %v", env.ID, err)
		}
	}

	s.inflight.Add(1)
	s.inflightCount.Add(1)
	if s.cfg.EnableMetrics {
		obsmetrics.AddInflight(1)
	}
	defer func() {
		if s.cfg.EnableMetrics {
			obsmetrics.AddInflight(-1)
		}
		s.inflightCount.Add(-1)
		s.inflight.Done()
	}()

	// Join the caller's context with the drain context so shutdown can
	// abandon work whose caller is still waiting.
	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	unjoin := context.AfterFunc(drainCtx, cancel)
	defer unjoin()

	if s.cfg.RequestTimeout > 0 {
		var tcancel context.CancelFunc
		dctx, tcancel = context.WithTimeout(dctx, s.cfg.RequestTimeout)
		defer tcancel()
	}

	result := s.dispatcher.Dispatch(dctx, env)

	if s.dedupe != nil && env.ID != "" && result.Status != agent.StatusNotFound {
		s.recordOutcome(ctx, env.ID, result)
	}

	return result, nil
}

// recordOutcome persists the dispatch result for replay on duplicates.
// Recording runs on its own deadline so a cancelled request still leaves
// a record behind.
func (s *Service) recordOutcome(ctx context.Context, envelopeID string, result *agent.DispatchResult) {
	reply := replyFromResult(result)
	data, err := json.Marshal(reply)
	if err != nil {
		log.Printf("[Host] Dedupe encode for %s failed: %v", envelopeID, err)
		return
	}

	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	rec := &dedupe.Record{
		EnvelopeID: envelopeID,
		Status:     string(result.Status),
		Result:     data,
		FirstSeen:  time.Now().UTC(),
	}
	if err := s.dedupe.Mark(mctx, rec); err != nil {
		log.Printf("[Host] Dedupe record for %s failed: %v", envelopeID, err)
	}
}

// replayRecord rebuilds a dispatch result from a dedupe record.
func replayRecord(rec *dedupe.Record) *agent.DispatchResult {
	var reply wireReply
	if len(rec.Result) > 0 {
		if err := json.Unmarshal(rec.Result, &reply); err == nil {
			return resultFromReply(&reply)
		}
	}
	return agent.RebuildResult(agent.Status(rec.Status), nil, nil, nil)
}

// Shutdown drains the host: transports stop accepting, in-flight dispatches
// get up to grace to finish, then remaining work is abandoned and reported
// as cancelled. The registry is cleared once the host reaches Stopped.
func (s *Service) Shutdown(grace time.Duration) error {
	s.mu.Lock()
	switch s.state {
	case StateStopped:
		s.mu.Unlock()
		return nil
	case StateDraining:
		s.mu.Unlock()
		return ErrDraining
	}
	s.state = StateDraining
	s.mu.Unlock()

	log.Printf("[Host] Draining (grace %s, %d in flight)", grace, s.InFlight())
	s.stopAccepting(grace)

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	if grace > 0 {
		select {
		case <-done:
		case <-time.After(grace):
			log.Printf("[Host] Drain grace expired, abandoning %d in-flight dispatches", s.InFlight())
		}
	}

	s.drainCancel()
	<-done

	s.closeTransports()
	s.registry.Clear()
	if s.dedupe != nil {
		if err := s.dedupe.Close(); err != nil {
			log.Printf("[Host] Dedupe close failed: %v", err)
		}
	}

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()

	log.Printf("[Host] Stopped")
	return nil
}

// WaitIdle blocks until no dispatch is in flight or the context ends.
func (s *Service) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if s.inflightCount.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// stopAccepting closes the ingress paths without touching in-flight work.
func (s *Service) stopAccepting(grace time.Duration) {
	s.mu.RLock()
	httpServer := s.httpServer
	grpcServer := s.grpcServer
	natsSub := s.natsSub
	s.mu.RUnlock()

	if httpServer != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), grace+time.Second)
			defer cancel()
			_ = httpServer.Shutdown(ctx)
		}()
	}
	if grpcServer != nil {
		go grpcServer.GracefulStop()
	}
	if natsSub != nil {
		_ = natsSub.Unsubscribe()
	}
}

// closeTransports force-closes whatever is still open. Safe to call after
// stopAccepting or on a failed start.
func (s *Service) closeTransports() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.grpcServer != nil {
		s.grpcServer.Stop()
		s.grpcServer = nil
	}
	if s.grpcListener != nil {
		_ = s.grpcListener.Close()
		s.grpcListener = nil
	}
	if s.httpServer != nil {
		_ = s.httpServer.Close()
		s.httpServer = nil
	}
	if s.httpListener != nil {
		_ = s.httpListener.Close()
		s.httpListener = nil
	}
	if s.natsConn != nil {
		if err := s.natsConn.Drain(); err != nil {
			s.natsConn.Close()
		}
		s.natsConn = nil
		s.natsSub = nil
	}
}
