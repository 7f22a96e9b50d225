// Package e2e boots real hosts on loopback ports and exercises them the way
// external clients would. Scenario suites build on the helpers here.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/courier-dev/courier/agent"
	"github.com/courier-dev/courier/internal/host"
)

// TestEnvironment provides a running host plus the plumbing tests need to
// poke at it from the outside.
type TestEnvironment struct {
	t        *testing.T
	registry *agent.Registry
	svc      *host.Service
	client   *http.Client
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewTestEnvironment starts a host on loopback ports. Extra options are
// applied on top of the test defaults.
func NewTestEnvironment(t *testing.T, opts ...host.Option) *TestEnvironment {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	registry := agent.NewRegistry()
	base := []host.Option{
		host.WithHTTPAddr("127.0.0.1:0"),
		host.WithMetrics(false),
		host.WithDrainGrace(2 * time.Second),
	}
	svc := host.New(registry, append(base, opts...)...)

	if err := svc.Start(ctx); err != nil {
		cancel()
		t.Fatalf("failed to start host: %v", err)
	}

	return &TestEnvironment{
		t:        t,
		registry: registry,
		svc:      svc,
		client:   &http.Client{Timeout: 10 * time.Second},
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Cleanup stops the host and releases the environment.
func (e *TestEnvironment) Cleanup() {
	_ = e.svc.Shutdown(0)
	e.cancel()
}

// Context returns the test context.
func (e *TestEnvironment) Context() context.Context {
	return e.ctx
}

// Registry returns the host's registry.
func (e *TestEnvironment) Registry() *agent.Registry {
	return e.registry
}

// Host returns the running host service.
func (e *TestEnvironment) Host() *host.Service {
	return e.svc
}

// BaseURL returns the host's HTTP base URL.
func (e *TestEnvironment) BaseURL() string {
	return "http://" + e.svc.HTTPAddr()
}

// DispatchReply mirrors the host's HTTP dispatch response body.
type DispatchReply struct {
	Status    string                     `json:"status"`
	Agents    []string                   `json:"agents,omitempty"`
	Responses map[string]*agent.Envelope `json:"responses,omitempty"`
	Failures  []DispatchFailure          `json:"failures,omitempty"`
	Error     string                     `json:"error,omitempty"`
}

// DispatchFailure is one failed agent in a DispatchReply.
type DispatchFailure struct {
	Agent string `json:"agent"`
	Cause string `json:"cause"`
}

// DispatchHTTP submits an envelope over HTTP and decodes the reply.
func (e *TestEnvironment) DispatchHTTP(env *agent.Envelope) (int, *DispatchReply) {
	e.t.Helper()

	body, err := json.Marshal(env)
	AssertNoError(e.t, err, "marshal envelope")

	resp, err := e.client.Post(e.BaseURL()+"/api/v1/dispatch", "application/json", bytes.NewReader(body))
	AssertNoError(e.t, err, "post dispatch")
	defer resp.Body.Close()

	var reply DispatchReply
	AssertNoError(e.t, json.NewDecoder(resp.Body).Decode(&reply), "decode reply")
	return resp.StatusCode, &reply
}

// RecordingAgent is a capability that remembers every envelope it handles.
// The default behavior replies "ok"; SetExec overrides it.
type RecordingAgent struct {
	id    string
	types []string

	mu        sync.Mutex
	envelopes []*agent.Envelope
	exec      func(ctx context.Context, env *agent.Envelope) (*agent.Envelope, error)
}

// RegisterRecorder creates a RecordingAgent and binds it for the given types.
func (e *TestEnvironment) RegisterRecorder(id string, types ...string) *RecordingAgent {
	e.t.Helper()

	r := &RecordingAgent{id: id, types: types}
	AssertNoError(e.t, e.registry.RegisterCapability(r), "register recorder")
	return r
}

func (r *RecordingAgent) ID() string      { return r.id }
func (r *RecordingAgent) Types() []string { return r.types }

func (r *RecordingAgent) HandleEnvelope(ctx context.Context, env *agent.Envelope) (*agent.Envelope, error) {
	r.mu.Lock()
	r.envelopes = append(r.envelopes, env.Clone())
	exec := r.exec
	r.mu.Unlock()

	if exec != nil {
		return exec(ctx, env)
	}
	return env.Reply("ok")
}

// SetExec replaces the default reply behavior.
func (r *RecordingAgent) SetExec(fn func(ctx context.Context, env *agent.Envelope) (*agent.Envelope, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exec = fn
}

// Count reports how many envelopes the agent has handled.
func (r *RecordingAgent) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.envelopes)
}

// Envelopes returns a copy of the handled envelopes in arrival order.
func (r *RecordingAgent) Envelopes() []*agent.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*agent.Envelope, len(r.envelopes))
	copy(out, r.envelopes)
	return out
}

// WaitForCount polls until the agent has handled at least n envelopes.
func (r *RecordingAgent) WaitForCount(t *testing.T, n int, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if r.Count() >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d envelopes, have %d", n, r.Count())
}

// AssertNoError fails the test immediately if err is non-nil
func AssertNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

// AssertEqual fails if expected != actual
func AssertEqual(t *testing.T, expected, actual any, msg string) {
	t.Helper()
	if expected != actual {
		t.Errorf("%s: expected %v, got %v", msg, expected, actual)
	}
}

// AssertContains fails if substr is not in s
func AssertContains(t *testing.T, s, substr, msg string) {
	t.Helper()
	if !containsString(s, substr) {
		t.Errorf("%s: %q does not contain %q", msg, s, substr)
	}
}

func containsString(s, substr string) bool {
	if len(substr) == 0 {
		return true
	}
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
