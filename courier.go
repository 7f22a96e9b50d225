// Package courier assembles a dispatch host from declarative configuration.
// Agents, transports, rate limits and schedules come from a YAML file;
// COURIER_* environment variables apply operator overrides on top.
package courier

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/courier-dev/courier/agent"
	"github.com/courier-dev/courier/internal/host"
	"github.com/courier-dev/courier/internal/observability"
	"github.com/courier-dev/courier/internal/schedule"
	"github.com/courier-dev/courier/pkg/config"
	"github.com/courier-dev/courier/pkg/dedupe"
	obs "github.com/courier-dev/courier/pkg/observability"
	"github.com/courier-dev/courier/pkg/ratelimit"
)

// Config represents the top-level configuration
type Config struct {
	Host      HostDef         `yaml:"host,omitempty"`
	RateLimit RateLimitDef    `yaml:"rate_limit,omitempty"`
	Dedupe    DedupeDef       `yaml:"dedupe,omitempty"`
	Agents    []CapabilityDef `yaml:"agents"`
	Schedules []ScheduleDef   `yaml:"schedules,omitempty"`
	Health    HealthDef       `yaml:"health,omitempty"`
}

// Duration is a time.Duration that unmarshals from strings like "30s".
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// HostDef configures the host service and its transports. Zero values fall
// back to the host defaults.
type HostDef struct {
	// HTTPAddr is the dispatch HTTP listen address.
	// Default: ":8080"
	HTTPAddr string `yaml:"http_addr,omitempty"`

	// GRPCAddr enables the gRPC dispatch service when set.
	GRPCAddr string `yaml:"grpc_addr,omitempty"`

	// NATSURL enables the NATS transport when set.
	NATSURL string `yaml:"nats_url,omitempty"`

	// NATSSubject is the subject the host subscribes on.
	// Default: "courier.dispatch"
	NATSSubject string `yaml:"nats_subject,omitempty"`

	// RequestTimeout bounds each dispatch (e.g. "30s").
	RequestTimeout Duration `yaml:"request_timeout,omitempty"`

	// DrainGrace is how long shutdown waits for in-flight dispatches.
	DrainGrace Duration `yaml:"drain_grace,omitempty"`

	// OnUnmatched selects the unmatched-envelope policy: "error" or "ignore".
	OnUnmatched string `yaml:"on_unmatched,omitempty"`

	// MaxConcurrent limits parallel handler invocations (0 = unlimited).
	MaxConcurrent int `yaml:"max_concurrent,omitempty"`

	// Metrics toggles Prometheus metrics. Unset means enabled.
	Metrics *bool `yaml:"metrics,omitempty"`
}

// RateLimitDef configures submission throttling.
type RateLimitDef struct {
	GlobalRPS   float64        `yaml:"global_rps,omitempty"`
	GlobalBurst int            `yaml:"global_burst,omitempty"`
	SenderRPS   float64        `yaml:"sender_rps,omitempty"`
	SenderBurst int            `yaml:"sender_burst,omitempty"`
	Types       []TypeLimitDef `yaml:"types,omitempty"`
}

// TypeLimitDef throttles one envelope type.
type TypeLimitDef struct {
	Type  string  `yaml:"type"`
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// DedupeDef configures idempotent submission.
type DedupeDef struct {
	// Enabled turns duplicate detection on.
	Enabled bool `yaml:"enabled"`

	// Store selects the backend: "memory" (default) or "redis".
	Store string `yaml:"store,omitempty"`

	// TTL is how long recorded outcomes are kept.
	// Default: 1h
	TTL Duration `yaml:"ttl,omitempty"`

	Redis RedisDef `yaml:"redis,omitempty"`
}

// RedisDef holds Redis connection settings for the dedupe store.
type RedisDef struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

// HealthDef configures the standalone health and metrics endpoint.
type HealthDef struct {
	Enabled bool `yaml:"enabled"`

	// Port for /health, /health/live, /health/ready and /metrics.
	// Default: 9090
	Port int `yaml:"port,omitempty"`
}

// CapabilityDef declares one agent: its kind selects the factory, and
// kind-specific settings ride along inline.
type CapabilityDef struct {
	Name  string         `yaml:"name"`
	Kind  string         `yaml:"kind"`
	Types []string       `yaml:"types,omitempty"`
	Extra map[string]any `yaml:",inline"`
}

// GetString reads an inline string setting, falling back to def.
func (d *CapabilityDef) GetString(key, def string) string {
	if v, ok := d.Extra[key].(string); ok {
		return v
	}
	return def
}

// UnmarshalKey decodes an inline setting into v. Missing keys are a no-op.
func (d *CapabilityDef) UnmarshalKey(key string, v any) error {
	raw, exists := d.Extra[key]
	if !exists {
		return nil
	}

	// Marshal the raw value to JSON, then unmarshal into the target
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal key %q: %w", key, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal key %q: %w", key, err)
	}
	return nil
}

// ScheduleDef declares one recurring submission.
type ScheduleDef struct {
	Spec    string         `yaml:"spec"`
	Type    string         `yaml:"type"`
	Sender  string         `yaml:"sender,omitempty"`
	Payload map[string]any `yaml:"payload,omitempty"`
}

// MetricsEnabled reports whether metrics collection is on (default true).
func (c *Config) MetricsEnabled() bool {
	return c.Host.Metrics == nil || *c.Host.Metrics
}

// FileReader interface for reading files (testable)
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}

// OSFileReader implements FileReader using os.ReadFile
type OSFileReader struct{}

func (r *OSFileReader) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path) // #nosec G304 - path is from trusted config file input
}

// ConfigLoader loads configuration from a file
type ConfigLoader struct {
	fileReader FileReader
	parser     *config.YAMLParser
}

// NewConfigLoader creates a new config loader with default parse limits
func NewConfigLoader(fr FileReader) *ConfigLoader {
	return &ConfigLoader{
		fileReader: fr,
		parser:     config.NewYAMLParser(config.DefaultLimits()),
	}
}

// NewConfigLoaderWithLimits creates a new config loader with custom parse limits
func NewConfigLoaderWithLimits(fr FileReader, limits config.Limits) *ConfigLoader {
	return &ConfigLoader{
		fileReader: fr,
		parser:     config.NewYAMLParser(limits),
	}
}

// LoadConfig loads a config file and applies COURIER_* environment
// overrides on top of it.
func (cl *ConfigLoader) LoadConfig(configPath string) (*Config, error) {
	data, err := cl.fileReader.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := cl.parser.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envOverrides are the operator overrides applied on top of a config file.
type envOverrides struct {
	HTTPAddr       string        `envconfig:"HTTP_ADDR"`
	GRPCAddr       string        `envconfig:"GRPC_ADDR"`
	NATSURL        string        `envconfig:"NATS_URL"`
	NATSSubject    string        `envconfig:"NATS_SUBJECT"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT"`
	DrainGrace     time.Duration `envconfig:"DRAIN_GRACE"`
	OnUnmatched    string        `envconfig:"ON_UNMATCHED"`
	HealthPort     int           `envconfig:"HEALTH_PORT"`
}

func applyEnvOverrides(cfg *Config) error {
	var o envOverrides
	if err := envconfig.Process("courier", &o); err != nil {
		return fmt.Errorf("failed to read environment overrides: %w", err)
	}

	if o.HTTPAddr != "" {
		cfg.Host.HTTPAddr = o.HTTPAddr
	}
	if o.GRPCAddr != "" {
		cfg.Host.GRPCAddr = o.GRPCAddr
	}
	if o.NATSURL != "" {
		cfg.Host.NATSURL = o.NATSURL
	}
	if o.NATSSubject != "" {
		cfg.Host.NATSSubject = o.NATSSubject
	}
	if o.RequestTimeout > 0 {
		cfg.Host.RequestTimeout = Duration{o.RequestTimeout}
	}
	if o.DrainGrace > 0 {
		cfg.Host.DrainGrace = Duration{o.DrainGrace}
	}
	if o.OnUnmatched != "" {
		cfg.Host.OnUnmatched = o.OnUnmatched
	}
	if o.HealthPort > 0 {
		cfg.Health.Port = o.HealthPort
	}
	return nil
}

// FactoryFunc builds a capability from its config definition.
type FactoryFunc func(def CapabilityDef) (agent.Capability, error)

// KindRegistry interface allows for testable registry implementations
type KindRegistry interface {
	Register(kind string, factory FactoryFunc)
	GetFactory(kind string) (FactoryFunc, bool)
}

// DefaultKindRegistry is the global registry implementation
type DefaultKindRegistry struct {
	factories map[string]FactoryFunc
	mu        sync.RWMutex
}

var defaultKinds = &DefaultKindRegistry{
	factories: make(map[string]FactoryFunc),
}

// NewKindRegistry creates a new registry instance (useful for testing)
func NewKindRegistry() *DefaultKindRegistry {
	return &DefaultKindRegistry{
		factories: make(map[string]FactoryFunc),
	}
}

func (r *DefaultKindRegistry) Register(kind string, factory FactoryFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

func (r *DefaultKindRegistry) GetFactory(kind string) (FactoryFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[kind]
	return f, ok
}

// RegisterKind registers a capability factory under a kind name. Agent
// packages call this from init so config files can reference them.
func RegisterKind(kind string, factory FactoryFunc) {
	defaultKinds.Register(kind, factory)
}

// GetKindFactory looks up a factory in the default kind registry.
func GetKindFactory(kind string) (FactoryFunc, bool) {
	return defaultKinds.GetFactory(kind)
}

// CreateCapability creates a capability using the default kind registry
func CreateCapability(def CapabilityDef) (agent.Capability, error) {
	return CreateCapabilityWithKinds(def, defaultKinds)
}

// CreateCapabilityWithKinds creates a capability using a custom registry (useful for testing)
func CreateCapabilityWithKinds(def CapabilityDef, kinds KindRegistry) (agent.Capability, error) {
	if factory, ok := kinds.GetFactory(def.Kind); ok {
		return factory(def)
	}
	return nil, fmt.Errorf("unknown kind: %s", def.Kind)
}

// RegisterAgents creates each configured agent and binds it in the registry.
func RegisterAgents(cfg *Config, registry *agent.Registry) error {
	return RegisterAgentsWithKinds(cfg, registry, defaultKinds)
}

// RegisterAgentsWithKinds is RegisterAgents with an injectable kind registry.
func RegisterAgentsWithKinds(cfg *Config, registry *agent.Registry, kinds KindRegistry) error {
	for _, def := range cfg.Agents {
		c, err := CreateCapabilityWithKinds(def, kinds)
		if err != nil {
			return fmt.Errorf("failed to create agent %s: %w", def.Name, err)
		}
		if err := registry.RegisterCapability(c); err != nil {
			return fmt.Errorf("failed to register agent %s: %w", def.Name, err)
		}
		log.Printf("Registered agent: %s (kind: %s, types: %v)", def.Name, def.Kind, c.Types())
	}
	return nil
}

// HostOptions converts a config into host options. When dedupe is enabled
// the built store is also returned so callers can health-check it.
func HostOptions(cfg *Config) ([]host.Option, dedupe.Store, error) {
	var opts []host.Option

	h := cfg.Host
	if h.HTTPAddr != "" {
		opts = append(opts, host.WithHTTPAddr(h.HTTPAddr))
	}
	if h.GRPCAddr != "" {
		opts = append(opts, host.WithGRPCAddr(h.GRPCAddr))
	}
	if h.NATSURL != "" {
		opts = append(opts, host.WithNATS(h.NATSURL, h.NATSSubject))
	}
	if h.RequestTimeout.Duration > 0 {
		opts = append(opts, host.WithRequestTimeout(h.RequestTimeout.Duration))
	}
	if h.DrainGrace.Duration > 0 {
		opts = append(opts, host.WithDrainGrace(h.DrainGrace.Duration))
	}
	if h.OnUnmatched != "" {
		switch h.OnUnmatched {
		case host.OnUnmatchedError, host.OnUnmatchedIgnore:
			opts = append(opts, host.WithOnUnmatched(h.OnUnmatched))
		default:
			return nil, nil, fmt.Errorf("invalid on_unmatched policy %q", h.OnUnmatched)
		}
	}
	if h.MaxConcurrent > 0 {
		opts = append(opts, host.WithMaxConcurrent(h.MaxConcurrent))
	}
	if h.Metrics != nil {
		opts = append(opts, host.WithMetrics(*h.Metrics))
	}

	rl := cfg.RateLimit
	if rl.GlobalRPS > 0 || rl.SenderRPS > 0 {
		opts = append(opts, host.WithRateLimiter(
			ratelimit.NewLimiter(rl.GlobalRPS, rl.GlobalBurst, rl.SenderRPS, rl.SenderBurst)))
	}
	if len(rl.Types) > 0 {
		tl := ratelimit.NewTypeLimiter()
		for _, t := range rl.Types {
			tl.SetTypeLimit(t.Type, t.RPS, t.Burst)
		}
		opts = append(opts, host.WithTypeLimiter(tl))
	}

	var store dedupe.Store
	if cfg.Dedupe.Enabled {
		ttl := cfg.Dedupe.TTL.Duration
		if ttl <= 0 {
			ttl = time.Hour
		}
		switch cfg.Dedupe.Store {
		case "", "memory":
			store = dedupe.NewMemoryStore(ttl)
		case "redis":
			rs, err := dedupe.NewRedisStore(dedupe.RedisConfig{
				Addr:     cfg.Dedupe.Redis.Addr,
				Password: cfg.Dedupe.Redis.Password,
				DB:       cfg.Dedupe.Redis.DB,
				Prefix:   cfg.Dedupe.Redis.Prefix,
				TTL:      ttl,
			})
			if err != nil {
				return nil, nil, fmt.Errorf("failed to create dedupe store: %w", err)
			}
			store = rs
		default:
			return nil, nil, fmt.Errorf("unknown dedupe store %q", cfg.Dedupe.Store)
		}
		opts = append(opts, host.WithDedupe(store))
	}

	return opts, store, nil
}

// Run starts the courier host from a config file and blocks until SIGINT
// or SIGTERM.
func Run(configPath string) error {
	// Initialize tracing from environment variables
	if err := observability.InitFromEnv(); err != nil {
		log.Printf("Warning: Failed to initialize observability: %v", err)
		// Continue even if observability fails
	}

	loader := NewConfigLoader(&OSFileReader{})
	cfg, err := loader.LoadConfig(configPath)
	if err != nil {
		return err
	}

	return RunWithConfig(cfg)
}

// RunWithConfig starts the courier host with the provided config
func RunWithConfig(cfg *Config) error {
	registry := agent.NewRegistry()
	if err := RegisterAgents(cfg, registry); err != nil {
		return err
	}

	opts, store, err := HostOptions(cfg)
	if err != nil {
		return err
	}
	svc := host.New(registry, opts...)

	if cfg.MetricsEnabled() {
		obs.InitMetrics()
	}

	if err := svc.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start host: %w", err)
	}

	sched, err := startSchedules(cfg, svc)
	if err != nil {
		_ = svc.Shutdown(0)
		return err
	}

	obsServer := startHealthServer(cfg, svc, store)

	log.Println("Courier host running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	if sched != nil {
		sched.Stop()
	}
	if err := svc.Shutdown(svc.DrainGrace()); err != nil {
		log.Printf("Warning: Shutdown error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if obsServer != nil {
		if err := obsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Warning: Failed to shutdown health server: %v", err)
		}
	}
	if err := observability.Shutdown(shutdownCtx); err != nil {
		log.Printf("Warning: Failed to shutdown observability: %v", err)
	}

	return nil
}

// startSchedules builds and starts the scheduler when the config declares
// recurring submissions.
func startSchedules(cfg *Config, svc *host.Service) (*schedule.Scheduler, error) {
	if len(cfg.Schedules) == 0 {
		return nil, nil
	}

	sched := schedule.New(svc)
	for _, def := range cfg.Schedules {
		entry := schedule.Entry{Spec: def.Spec, Type: def.Type, Sender: def.Sender}
		if def.Payload != nil {
			payload := def.Payload
			entry.Payload = func() interface{} { return payload }
		}
		if _, err := sched.Add(entry); err != nil {
			return nil, fmt.Errorf("failed to add schedule for %s: %w", def.Type, err)
		}
	}
	sched.Start()
	return sched, nil
}

// startHealthServer serves health and metrics when enabled.
func startHealthServer(cfg *Config, svc *host.Service, store dedupe.Store) *obs.Server {
	if !cfg.Health.Enabled {
		return nil
	}

	checker := obs.InitHealthChecker()
	checker.RegisterCheck(obs.HostStateCheck(func() string { return string(svc.State()) }))
	if store != nil {
		checker.RegisterCheck(obs.TransportCheck("dedupe", store.Ping))
	}

	port := cfg.Health.Port
	if port == 0 {
		port = 9090
	}
	server := obs.NewServer(port)
	go func() {
		if err := server.Start(); err != nil {
			log.Printf("Warning: Health server error: %v", err)
		}
	}()
	return server
}
