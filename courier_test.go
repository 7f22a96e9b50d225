package courier

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/courier-dev/courier/agent"
	"github.com/courier-dev/courier/pkg/config"
)

func TestRun_ConfigFileNotFound(t *testing.T) {
	err := Run("/nonexistent/config.yaml")

	if err == nil {
		t.Error("expected error for nonexistent config file, got nil")
	}

	if !os.IsNotExist(err) && !containsString(err.Error(), "failed to read config") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRun_InvalidYAML(t *testing.T) {
	// Create temporary invalid YAML file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
this is not valid YAML: [[[
agents:
  - name: test
`
	err := os.WriteFile(configPath, []byte(invalidYAML), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	err = Run(configPath)

	if err == nil {
		t.Error("expected error for invalid YAML, got nil")
	}

	if !containsString(err.Error(), "failed to parse config") {
		t.Errorf("error = %v, want error containing 'failed to parse config'", err)
	}
}

func TestRun_UnknownAgentKind(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "unknown-kind.yaml")

	configContent := `
host:
  http_addr: "127.0.0.1:0"
agents:
  - name: test-agent
    kind: no-such-kind
    types: [test.message]
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	err = Run(configPath)

	if err == nil {
		t.Error("expected error for unknown kind, got nil")
	}

	if !containsString(err.Error(), "failed to create agent") {
		t.Errorf("error = %v, want error containing 'failed to create agent'", err)
	}
}

func TestRun_InvalidPolicy(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad-policy.yaml")

	configContent := `
host:
  http_addr: "127.0.0.1:0"
  on_unmatched: sometimes
agents: []
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	err = Run(configPath)

	if err == nil {
		t.Error("expected error for invalid policy, got nil")
	}

	if !containsString(err.Error(), "invalid on_unmatched policy") {
		t.Errorf("error = %v, want error containing 'invalid on_unmatched policy'", err)
	}
}

func TestRun_InvalidSchedule(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad-schedule.yaml")

	configContent := `
host:
  http_addr: "127.0.0.1:0"
agents: []
schedules:
  - spec: "not a cron spec"
    type: cleanup.sweep
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	err = Run(configPath)

	if err == nil {
		t.Error("expected error for invalid schedule, got nil")
	}

	if !containsString(err.Error(), "failed to add schedule") {
		t.Errorf("error = %v, want error containing 'failed to add schedule'", err)
	}
}

func TestRun_EmptyConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "empty.yaml")

	configContent := `
host:
  http_addr: "127.0.0.1:0"
agents: []
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	// Run in goroutine and send interrupt after short delay
	done := make(chan error, 1)
	go func() {
		done <- Run(configPath)
	}()

	// Give it time to start
	time.Sleep(100 * time.Millisecond)

	// Send interrupt
	proc, _ := os.FindProcess(os.Getpid())
	_ = proc.Signal(syscall.SIGINT)

	// Wait for completion
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for Run to complete")
	}
}

func TestRun_ValidConfig(t *testing.T) {
	// Register test kind
	created := 0
	RegisterKind("run-test-kind", func(def CapabilityDef) (agent.Capability, error) {
		created++
		return newTestCapability(def.Name, def.Types...), nil
	})

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "valid.yaml")

	configContent := `
host:
  http_addr: "127.0.0.1:0"
  drain_grace: 1s
agents:
  - name: test-agent-1
    kind: run-test-kind
    types: [test.ping]
  - name: test-agent-2
    kind: run-test-kind
    types: [test.ping, test.pong]
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	// Run in goroutine
	done := make(chan error, 1)
	go func() {
		done <- Run(configPath)
	}()

	// Give the host time to start
	time.Sleep(200 * time.Millisecond)

	// Send interrupt
	proc, _ := os.FindProcess(os.Getpid())
	_ = proc.Signal(syscall.SIGINT)

	// Wait for completion
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Error("timeout waiting for Run to complete")
	}

	if created != 2 {
		t.Errorf("factory called %d times, want 2", created)
	}
}

func TestRun_SIGTERM(t *testing.T) {
	RegisterKind("sigterm-test-kind", func(def CapabilityDef) (agent.Capability, error) {
		return newTestCapability(def.Name, def.Types...), nil
	})

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "sigterm.yaml")

	configContent := `
host:
  http_addr: "127.0.0.1:0"
agents:
  - name: sigterm-agent
    kind: sigterm-test-kind
    types: [test.ping]
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	// Run in goroutine
	done := make(chan error, 1)
	go func() {
		done <- Run(configPath)
	}()

	// Give it time to start
	time.Sleep(100 * time.Millisecond)

	// Send SIGTERM
	proc, _ := os.FindProcess(os.Getpid())
	_ = proc.Signal(syscall.SIGTERM)

	// Wait for completion
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for Run to complete after SIGTERM")
	}
}

func TestLoadConfig_Fields(t *testing.T) {
	fr := NewMockFileReader()
	fr.AddFile("courier.yaml", []byte(`
host:
  http_addr: ":8080"
  grpc_addr: ":9000"
  nats_url: nats://localhost:4222
  nats_subject: jobs.dispatch
  request_timeout: 45s
  drain_grace: 15s
  on_unmatched: ignore
  max_concurrent: 8
rate_limit:
  global_rps: 100
  global_burst: 200
  sender_rps: 10
  sender_burst: 20
  types:
    - type: bulk.import
      rps: 1
      burst: 1
dedupe:
  enabled: true
  store: memory
  ttl: 30m
agents:
  - name: greeter
    kind: echo
    types: [greet.request]
    prefix: "hello, "
schedules:
  - spec: "@every 1m"
    type: cleanup.sweep
    payload:
      scope: expired
health:
  enabled: true
  port: 9191
`))

	loader := NewConfigLoader(fr)
	cfg, err := loader.LoadConfig("courier.yaml")
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.Host.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.Host.HTTPAddr)
	}
	if cfg.Host.GRPCAddr != ":9000" {
		t.Errorf("GRPCAddr = %q, want :9000", cfg.Host.GRPCAddr)
	}
	if cfg.Host.NATSSubject != "jobs.dispatch" {
		t.Errorf("NATSSubject = %q, want jobs.dispatch", cfg.Host.NATSSubject)
	}
	if cfg.Host.RequestTimeout.Duration != 45*time.Second {
		t.Errorf("RequestTimeout = %v, want 45s", cfg.Host.RequestTimeout.Duration)
	}
	if cfg.Host.DrainGrace.Duration != 15*time.Second {
		t.Errorf("DrainGrace = %v, want 15s", cfg.Host.DrainGrace.Duration)
	}
	if cfg.Host.OnUnmatched != "ignore" {
		t.Errorf("OnUnmatched = %q, want ignore", cfg.Host.OnUnmatched)
	}
	if cfg.Host.MaxConcurrent != 8 {
		t.Errorf("MaxConcurrent = %v, want 8", cfg.Host.MaxConcurrent)
	}
	if cfg.RateLimit.GlobalRPS != 100 || cfg.RateLimit.SenderRPS != 10 {
		t.Errorf("rate limit = %+v, want global 100 sender 10", cfg.RateLimit)
	}
	if len(cfg.RateLimit.Types) != 1 || cfg.RateLimit.Types[0].Type != "bulk.import" {
		t.Errorf("type limits = %+v, want one for bulk.import", cfg.RateLimit.Types)
	}
	if !cfg.Dedupe.Enabled || cfg.Dedupe.TTL.Duration != 30*time.Minute {
		t.Errorf("dedupe = %+v, want enabled with 30m ttl", cfg.Dedupe)
	}
	if len(cfg.Agents) != 1 {
		t.Fatalf("len(Agents) = %v, want 1", len(cfg.Agents))
	}
	if got := cfg.Agents[0].GetString("prefix", ""); got != "hello, " {
		t.Errorf("inline prefix = %q, want 'hello, '", got)
	}
	if len(cfg.Schedules) != 1 || cfg.Schedules[0].Spec != "@every 1m" {
		t.Errorf("schedules = %+v, want one @every 1m entry", cfg.Schedules)
	}
	if !cfg.Health.Enabled || cfg.Health.Port != 9191 {
		t.Errorf("health = %+v, want enabled on 9191", cfg.Health)
	}
}

func TestLoadConfig_ReadError(t *testing.T) {
	fr := NewMockFileReader()
	fr.SetError(errors.New("disk on fire"))

	loader := NewConfigLoader(fr)
	_, err := loader.LoadConfig("courier.yaml")

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !containsString(err.Error(), "failed to read config") {
		t.Errorf("error = %v, want error containing 'failed to read config'", err)
	}
}

func TestLoadConfig_SizeLimit(t *testing.T) {
	fr := NewMockFileReader()
	fr.AddFile("big.yaml", []byte(`agents: [{name: a, kind: b}]`))

	limits := config.DefaultLimits()
	limits.MaxFileSize = 8

	loader := NewConfigLoaderWithLimits(fr, limits)
	_, err := loader.LoadConfig("big.yaml")

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !containsString(err.Error(), "failed to parse config") {
		t.Errorf("error = %v, want error containing 'failed to parse config'", err)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("COURIER_HTTP_ADDR", "127.0.0.1:18099")
	t.Setenv("COURIER_DRAIN_GRACE", "2s")
	t.Setenv("COURIER_ON_UNMATCHED", "ignore")

	fr := NewMockFileReader()
	fr.AddFile("courier.yaml", []byte(`
host:
  http_addr: ":8080"
  grpc_addr: ":9000"
  on_unmatched: error
agents: []
`))

	loader := NewConfigLoader(fr)
	cfg, err := loader.LoadConfig("courier.yaml")
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.Host.HTTPAddr != "127.0.0.1:18099" {
		t.Errorf("HTTPAddr = %q, want env override 127.0.0.1:18099", cfg.Host.HTTPAddr)
	}
	if cfg.Host.DrainGrace.Duration != 2*time.Second {
		t.Errorf("DrainGrace = %v, want env override 2s", cfg.Host.DrainGrace.Duration)
	}
	if cfg.Host.OnUnmatched != "ignore" {
		t.Errorf("OnUnmatched = %q, want env override ignore", cfg.Host.OnUnmatched)
	}
	// Values without overrides keep the file setting
	if cfg.Host.GRPCAddr != ":9000" {
		t.Errorf("GRPCAddr = %q, want file value :9000", cfg.Host.GRPCAddr)
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration

	if err := d.UnmarshalText([]byte("90s")); err != nil {
		t.Fatalf("UnmarshalText(90s) returned error: %v", err)
	}
	if d.Duration != 90*time.Second {
		t.Errorf("Duration = %v, want 90s", d.Duration)
	}

	if err := d.UnmarshalText([]byte("not a duration")); err == nil {
		t.Error("expected error for invalid duration, got nil")
	}
}

func TestCapabilityDef_GetString(t *testing.T) {
	def := CapabilityDef{
		Name: "greeter",
		Kind: "echo",
		Extra: map[string]any{
			"prefix": "hello, ",
			"count":  3,
		},
	}

	if got := def.GetString("prefix", ""); got != "hello, " {
		t.Errorf("GetString(prefix) = %q, want 'hello, '", got)
	}
	if got := def.GetString("missing", "fallback"); got != "fallback" {
		t.Errorf("GetString(missing) = %q, want fallback", got)
	}
	// Non-string values fall back to the default
	if got := def.GetString("count", "zero"); got != "zero" {
		t.Errorf("GetString(count) = %q, want zero", got)
	}
}

func TestCapabilityDef_UnmarshalKey(t *testing.T) {
	def := CapabilityDef{
		Name: "forwarder",
		Kind: "relay",
		Extra: map[string]any{
			"target": map[string]any{
				"url":     "http://localhost:8081",
				"retries": 3,
			},
		},
	}

	var target struct {
		URL     string `json:"url"`
		Retries int    `json:"retries"`
	}
	if err := def.UnmarshalKey("target", &target); err != nil {
		t.Fatalf("UnmarshalKey returned error: %v", err)
	}
	if target.URL != "http://localhost:8081" || target.Retries != 3 {
		t.Errorf("target = %+v, want url and retries decoded", target)
	}

	// Missing key leaves the target untouched
	var untouched struct {
		URL string `json:"url"`
	}
	if err := def.UnmarshalKey("absent", &untouched); err != nil {
		t.Fatalf("UnmarshalKey(absent) returned error: %v", err)
	}
	if untouched.URL != "" {
		t.Errorf("untouched.URL = %q, want empty", untouched.URL)
	}
}

func TestHostOptions_Dedupe(t *testing.T) {
	cfg := &Config{}
	cfg.Dedupe.Enabled = true

	opts, store, err := HostOptions(cfg)
	if err != nil {
		t.Fatalf("HostOptions returned error: %v", err)
	}
	if store == nil {
		t.Fatal("expected memory dedupe store, got nil")
	}
	defer store.Close()
	if len(opts) == 0 {
		t.Error("expected at least the dedupe option")
	}

	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("store.Ping returned error: %v", err)
	}
}

func TestHostOptions_UnknownDedupeStore(t *testing.T) {
	cfg := &Config{}
	cfg.Dedupe.Enabled = true
	cfg.Dedupe.Store = "etcd"

	_, _, err := HostOptions(cfg)
	if err == nil {
		t.Fatal("expected error for unknown store, got nil")
	}
	if !containsString(err.Error(), "unknown dedupe store") {
		t.Errorf("error = %v, want error containing 'unknown dedupe store'", err)
	}
}

func TestHostOptions_RedisWithoutAddr(t *testing.T) {
	cfg := &Config{}
	cfg.Dedupe.Enabled = true
	cfg.Dedupe.Store = "redis"

	_, _, err := HostOptions(cfg)
	if err == nil {
		t.Fatal("expected error for redis store without addr, got nil")
	}
	if !containsString(err.Error(), "failed to create dedupe store") {
		t.Errorf("error = %v, want error containing 'failed to create dedupe store'", err)
	}
}

func TestHostOptions_InvalidPolicy(t *testing.T) {
	cfg := &Config{}
	cfg.Host.OnUnmatched = "shrug"

	_, _, err := HostOptions(cfg)
	if err == nil {
		t.Fatal("expected error for invalid policy, got nil")
	}
}

func TestMetricsEnabled(t *testing.T) {
	var cfg Config
	if !cfg.MetricsEnabled() {
		t.Error("MetricsEnabled() = false for unset, want true")
	}

	off := false
	cfg.Host.Metrics = &off
	if cfg.MetricsEnabled() {
		t.Error("MetricsEnabled() = true with metrics: false, want false")
	}
}

func TestRegisterAgentsWithKinds(t *testing.T) {
	kinds := NewKindRegistry()
	kinds.Register("stub", func(def CapabilityDef) (agent.Capability, error) {
		return newTestCapability(def.Name, def.Types...), nil
	})

	cfg := &Config{
		Agents: []CapabilityDef{
			{Name: "a", Kind: "stub", Types: []string{"t.one"}},
			{Name: "b", Kind: "stub", Types: []string{"t.one", "t.two"}},
		},
	}

	registry := agent.NewRegistry()
	if err := RegisterAgentsWithKinds(cfg, registry, kinds); err != nil {
		t.Fatalf("RegisterAgentsWithKinds returned error: %v", err)
	}

	if got := len(registry.Resolve("t.one")); got != 2 {
		t.Errorf("bindings for t.one = %v, want 2", got)
	}
	if got := len(registry.Resolve("t.two")); got != 1 {
		t.Errorf("bindings for t.two = %v, want 1", got)
	}
}

func TestRegisterAgentsWithKinds_UnknownKind(t *testing.T) {
	cfg := &Config{
		Agents: []CapabilityDef{{Name: "mystery", Kind: "nope"}},
	}

	err := RegisterAgentsWithKinds(cfg, agent.NewRegistry(), NewKindRegistry())
	if err == nil {
		t.Fatal("expected error for unknown kind, got nil")
	}
	if !containsString(err.Error(), "failed to create agent") {
		t.Errorf("error = %v, want error containing 'failed to create agent'", err)
	}
}

func TestRegisterAgentsWithKinds_BindFailure(t *testing.T) {
	kinds := NewKindRegistry()
	kinds.Register("anon", func(def CapabilityDef) (agent.Capability, error) {
		// Empty ID cannot be bound
		return newTestCapability("", "t.one"), nil
	})

	cfg := &Config{
		Agents: []CapabilityDef{{Name: "anon-agent", Kind: "anon"}},
	}

	err := RegisterAgentsWithKinds(cfg, agent.NewRegistry(), kinds)
	if err == nil {
		t.Fatal("expected error for unbindable capability, got nil")
	}
	if !containsString(err.Error(), "failed to register agent") {
		t.Errorf("error = %v, want error containing 'failed to register agent'", err)
	}
}

// Test helpers

type testCapability struct {
	id    string
	types []string
}

func newTestCapability(id string, types ...string) *testCapability {
	return &testCapability{id: id, types: types}
}

func (c *testCapability) ID() string      { return c.id }
func (c *testCapability) Types() []string { return c.types }

func (c *testCapability) HandleEnvelope(ctx context.Context, env *agent.Envelope) (*agent.Envelope, error) {
	return env.Reply(json.RawMessage(`"ok"`))
}

func containsString(s, substr string) bool {
	return len(s) >= len(substr) && findSubstr(s, substr)
}

func findSubstr(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
