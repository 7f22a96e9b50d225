package scenarios

import (
	"context"
	"net/http"
	"testing"

	"github.com/courier-dev/courier/agent"
	"github.com/courier-dev/courier/tests/e2e"
)

// TestPipeline_TwoStageCorrelation runs a client-driven pipeline: a
// classification stage replies, and its output is submitted as the next
// stage's input with the correlation carried through both hops.
func TestPipeline_TwoStageCorrelation(t *testing.T) {
	env := e2e.NewTestEnvironment(t)
	defer env.Cleanup()

	classifier := env.RegisterRecorder("classifier", "doc.submitted")
	classifier.SetExec(func(ctx context.Context, in *agent.Envelope) (*agent.Envelope, error) {
		return in.Reply(map[string]string{"class": "invoice"})
	})

	indexer := env.RegisterRecorder("indexer", "doc.classified")
	notifier := env.RegisterRecorder("notifier", "doc.classified")

	// Stage one: classify
	doc := agent.MustEnvelope("doc.submitted", map[string]string{"path": "inbox/a.pdf"})
	code, reply := env.DispatchHTTP(doc)
	e2e.AssertEqual(t, http.StatusOK, code, "classification status")

	classified := reply.Responses["classifier"]
	if classified == nil {
		t.Fatal("expected classifier response")
	}
	e2e.AssertEqual(t, doc.ID, classified.CorrelationID, "stage one correlation")

	var result struct {
		Class string `json:"class"`
	}
	e2e.AssertNoError(t, classified.UnmarshalPayload(&result), "decode classification")
	e2e.AssertEqual(t, "invoice", result.Class, "classification result")

	// Stage two: fan the classification out, carrying the correlation
	next := agent.MustEnvelope("doc.classified", result).
		WithCorrelation(classified.CorrelationID)
	code, reply = env.DispatchHTTP(next)
	e2e.AssertEqual(t, http.StatusOK, code, "fan-out status")
	e2e.AssertEqual(t, 2, len(reply.Agents), "fan-out width")

	e2e.AssertEqual(t, 1, indexer.Count(), "indexer invocations")
	e2e.AssertEqual(t, 1, notifier.Count(), "notifier invocations")

	for _, got := range []*agent.Envelope{indexer.Envelopes()[0], notifier.Envelopes()[0]} {
		e2e.AssertEqual(t, doc.ID, got.CorrelationID, "stage two correlation")
	}
}

// TestPipeline_ReRegistrationReplacesStage swaps a stage's handler in place
// and verifies fan-out order is preserved across the swap.
func TestPipeline_ReRegistrationReplacesStage(t *testing.T) {
	env := e2e.NewTestEnvironment(t)
	defer env.Cleanup()

	env.RegisterRecorder("stage-a", "work.item")
	env.RegisterRecorder("stage-b", "work.item")

	code, reply := env.DispatchHTTP(agent.MustEnvelope("work.item", nil))
	e2e.AssertEqual(t, http.StatusOK, code, "initial dispatch")
	e2e.AssertEqual(t, "stage-a", reply.Agents[0], "initial order")

	// Replace stage-a's handler; its slot in the order must not move
	swapped := 0
	err := env.Registry().Register("stage-a", "work.item", agent.HandlerFunc(
		func(ctx context.Context, in *agent.Envelope) (*agent.Envelope, error) {
			swapped++
			return in.Reply("v2")
		}))
	e2e.AssertNoError(t, err, "re-register stage-a")

	code, reply = env.DispatchHTTP(agent.MustEnvelope("work.item", nil))
	e2e.AssertEqual(t, http.StatusOK, code, "post-swap dispatch")
	e2e.AssertEqual(t, 2, len(reply.Agents), "no duplicate binding")
	e2e.AssertEqual(t, "stage-a", reply.Agents[0], "order preserved")
	e2e.AssertEqual(t, 1, swapped, "replacement handler ran")
}
