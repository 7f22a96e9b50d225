package e2e

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/courier-dev/courier/agent"
	"github.com/courier-dev/courier/internal/host"
	"github.com/courier-dev/courier/internal/schedule"
	"github.com/courier-dev/courier/pkg/dedupe"
	"github.com/courier-dev/courier/pkg/ratelimit"
)

// TestE2E_RequestResponse tests a basic request-response cycle over HTTP
func TestE2E_RequestResponse(t *testing.T) {
	env := NewTestEnvironment(t)
	defer env.Cleanup()

	greeter := env.RegisterRecorder("greeter", "greet.request")

	sub := agent.MustEnvelope("greet.request", map[string]string{"name": "ada"})
	code, reply := env.DispatchHTTP(sub)

	AssertEqual(t, http.StatusOK, code, "status code")
	AssertEqual(t, "success", reply.Status, "reply status")
	AssertEqual(t, 1, greeter.Count(), "handler invocations")

	resp, ok := reply.Responses["greeter"]
	if !ok || resp == nil {
		t.Fatal("expected a response from greeter")
	}
	AssertEqual(t, sub.ID, resp.CorrelationID, "correlation ID")

	var text string
	AssertNoError(t, resp.UnmarshalPayload(&text), "decode response payload")
	AssertEqual(t, "ok", text, "response payload")
}

// TestE2E_FanOutIsolation tests that one failing agent does not block the rest
func TestE2E_FanOutIsolation(t *testing.T) {
	env := NewTestEnvironment(t)
	defer env.Cleanup()

	mailer := env.RegisterRecorder("mailer", "order.created")
	audit := env.RegisterRecorder("audit", "order.created")
	billing := env.RegisterRecorder("billing", "order.created")
	billing.SetExec(func(ctx context.Context, e *agent.Envelope) (*agent.Envelope, error) {
		return nil, errors.New("ledger unavailable")
	})

	code, reply := env.DispatchHTTP(agent.MustEnvelope("order.created", map[string]string{"order": "A-17"}))

	AssertEqual(t, http.StatusMultiStatus, code, "status code")
	AssertEqual(t, "partial", reply.Status, "reply status")
	AssertEqual(t, 1, mailer.Count(), "mailer invocations")
	AssertEqual(t, 1, audit.Count(), "audit invocations")

	if len(reply.Agents) != 3 {
		t.Fatalf("agents = %v, want all three in registration order", reply.Agents)
	}
	AssertEqual(t, "mailer", reply.Agents[0], "first agent")
	AssertEqual(t, "billing", reply.Agents[2], "last agent")

	if len(reply.Failures) != 1 {
		t.Fatalf("failures = %v, want exactly billing", reply.Failures)
	}
	AssertEqual(t, "billing", reply.Failures[0].Agent, "failed agent")
	AssertContains(t, reply.Failures[0].Cause, "ledger unavailable", "failure cause")
}

// TestE2E_UnmatchedType tests the error policy for types with no bindings
func TestE2E_UnmatchedType(t *testing.T) {
	env := NewTestEnvironment(t)
	defer env.Cleanup()

	code, reply := env.DispatchHTTP(agent.MustEnvelope("nobody.home", nil))

	AssertEqual(t, http.StatusNotFound, code, "status code")
	AssertEqual(t, "handler_not_found", reply.Status, "reply status")
	AssertContains(t, reply.Error, "unsupported message type", "error text")
}

// TestE2E_RateLimit tests global submission throttling
func TestE2E_RateLimit(t *testing.T) {
	env := NewTestEnvironment(t,
		host.WithRateLimiter(ratelimit.NewLimiter(1, 1, 0, 0)))
	defer env.Cleanup()

	env.RegisterRecorder("worker", "job.run")

	code, _ := env.DispatchHTTP(agent.MustEnvelope("job.run", nil))
	AssertEqual(t, http.StatusOK, code, "first request")

	code, _ = env.DispatchHTTP(agent.MustEnvelope("job.run", nil))
	AssertEqual(t, http.StatusTooManyRequests, code, "second request throttled")
}

// TestE2E_DedupeReplay tests that duplicate envelope IDs replay the outcome
func TestE2E_DedupeReplay(t *testing.T) {
	store := dedupe.NewMemoryStore(time.Minute)
	env := NewTestEnvironment(t, host.WithDedupe(store))
	defer env.Cleanup()

	worker := env.RegisterRecorder("worker", "job.run")

	sub := agent.MustEnvelope("job.run", map[string]string{"job": "backfill"})

	code, first := env.DispatchHTTP(sub)
	AssertEqual(t, http.StatusOK, code, "first submission")

	code, second := env.DispatchHTTP(sub)
	AssertEqual(t, http.StatusOK, code, "replayed submission")

	AssertEqual(t, 1, worker.Count(), "handler runs once")
	AssertEqual(t, first.Status, second.Status, "replay preserves status")
}

// TestE2E_GracefulDrain tests that the shutdown endpoint drains in-flight work
func TestE2E_GracefulDrain(t *testing.T) {
	env := NewTestEnvironment(t)
	defer env.Cleanup()

	slow := env.RegisterRecorder("slow", "job.run")
	slow.SetExec(func(ctx context.Context, e *agent.Envelope) (*agent.Envelope, error) {
		time.Sleep(200 * time.Millisecond)
		return e.Reply("done")
	})

	type outcome struct {
		code  int
		reply *DispatchReply
	}
	done := make(chan outcome, 1)
	go func() {
		code, reply := env.DispatchHTTP(agent.MustEnvelope("job.run", nil))
		done <- outcome{code, reply}
	}()

	slow.WaitForCount(t, 1, 2*time.Second)

	resp, err := env.client.Post(env.BaseURL()+"/api/v1/shutdown", "application/json", nil)
	AssertNoError(t, err, "post shutdown")
	AssertEqual(t, http.StatusAccepted, resp.StatusCode, "shutdown accepted")
	resp.Body.Close()

	select {
	case out := <-done:
		AssertEqual(t, http.StatusOK, out.code, "in-flight dispatch completes")
		AssertEqual(t, "success", out.reply.Status, "in-flight dispatch succeeds")
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for in-flight dispatch")
	}

	deadline := time.Now().Add(3 * time.Second)
	for env.Host().State() != host.StateStopped {
		if time.Now().After(deadline) {
			t.Fatalf("host state = %s, want stopped", env.Host().State())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestE2E_ScheduledSubmissions tests cron entries feeding the dispatch path
func TestE2E_ScheduledSubmissions(t *testing.T) {
	env := NewTestEnvironment(t)
	defer env.Cleanup()

	janitor := env.RegisterRecorder("janitor", "cleanup.sweep")

	sched := schedule.New(env.Host())
	_, err := sched.Add(schedule.Entry{
		Spec: "@every 1s",
		Type: "cleanup.sweep",
		Payload: func() interface{} {
			return map[string]string{"scope": "expired"}
		},
	})
	AssertNoError(t, err, "add schedule")
	sched.Start()
	defer sched.Stop()

	janitor.WaitForCount(t, 1, 3*time.Second)

	envs := janitor.Envelopes()
	AssertEqual(t, "cleanup.sweep", envs[0].Type, "scheduled envelope type")
	AssertEqual(t, "scheduler", envs[0].Sender, "scheduled envelope sender")
}
