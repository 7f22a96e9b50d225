package host

import (
	"time"

	"github.com/courier-dev/courier/pkg/dedupe"
	"github.com/courier-dev/courier/pkg/ratelimit"
)

// Unmatched-envelope policies.
const (
	// OnUnmatchedError surfaces a missing binding as an error to the caller.
	OnUnmatchedError = "error"
	// OnUnmatchedIgnore acknowledges unmatched envelopes without error.
	OnUnmatchedIgnore = "ignore"
)

// Config contains configuration options for the host service.
type Config struct {
	// HTTPAddr is the address for the envelope HTTP endpoint.
	// Default: ":8080"
	HTTPAddr string

	// GRPCAddr is the address for the gRPC dispatch service (off when empty).
	GRPCAddr string

	// NATSURL is the NATS server URL (off when empty).
	NATSURL string

	// NATSSubject is the subject the host subscribes on.
	// Default: "courier.dispatch"
	NATSSubject string

	// RequestTimeout bounds each dispatch (0 = unbounded).
	// Default: 30s
	RequestTimeout time.Duration

	// DrainGrace is how long Shutdown waits for in-flight dispatches
	// before abandoning them.
	// Default: 10s
	DrainGrace time.Duration

	// OnUnmatched selects how unmatched envelope types surface to callers.
	// Default: OnUnmatchedError
	OnUnmatched string

	// MaxConcurrent limits parallel handler invocations (0 = unlimited).
	MaxConcurrent int

	// EnableMetrics enables Prometheus metrics collection.
	// Default: true
	EnableMetrics bool
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:       ":8080",
		NATSSubject:    "courier.dispatch",
		RequestTimeout: 30 * time.Second,
		DrainGrace:     10 * time.Second,
		OnUnmatched:    OnUnmatchedError,
		EnableMetrics:  true,
	}
}

// Option is a functional option for configuring the host service.
type Option func(*Service)

// WithHTTPAddr sets the HTTP listen address.
func WithHTTPAddr(addr string) Option {
	return func(s *Service) {
		s.cfg.HTTPAddr = addr
	}
}

// WithGRPCAddr enables the gRPC dispatch service on the given address.
func WithGRPCAddr(addr string) Option {
	return func(s *Service) {
		s.cfg.GRPCAddr = addr
	}
}

// WithNATS enables the NATS transport on the given URL and subject.
func WithNATS(url, subject string) Option {
	return func(s *Service) {
		s.cfg.NATSURL = url
		if subject != "" {
			s.cfg.NATSSubject = subject
		}
	}
}

// WithRequestTimeout bounds each dispatch.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.cfg.RequestTimeout = d
	}
}

// WithDrainGrace sets the shutdown grace period.
func WithDrainGrace(d time.Duration) Option {
	return func(s *Service) {
		s.cfg.DrainGrace = d
	}
}

// WithOnUnmatched sets the unmatched-envelope policy.
func WithOnUnmatched(policy string) Option {
	return func(s *Service) {
		s.cfg.OnUnmatched = policy
	}
}

// WithMaxConcurrent limits parallel handler invocations.
func WithMaxConcurrent(n int) Option {
	return func(s *Service) {
		s.cfg.MaxConcurrent = n
	}
}

// WithMetrics enables or disables metrics collection.
func WithMetrics(enabled bool) Option {
	return func(s *Service) {
		s.cfg.EnableMetrics = enabled
	}
}

// WithRateLimiter throttles submissions before dispatch.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(s *Service) {
		s.limiter = l
	}
}

// WithTypeLimiter throttles submissions per message type.
func WithTypeLimiter(tl *ratelimit.TypeLimiter) Option {
	return func(s *Service) {
		s.typeLimiter = tl
	}
}

// WithDedupe enables idempotent submission using the given store.
func WithDedupe(store dedupe.Store) Option {
	return func(s *Service) {
		s.dedupe = store
	}
}

// WithInterceptor appends an interceptor to the submission pipeline.
// Interceptors run in registration order before dispatch.
func WithInterceptor(ic Interceptor) Option {
	return func(s *Service) {
		s.interceptors = append(s.interceptors, ic)
	}
}
