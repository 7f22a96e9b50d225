package agent_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/courier-dev/courier/agent"
)

// GreeterCapability is an example custom capability that answers greetings.
type GreeterCapability struct {
	id string
}

func NewGreeterCapability(id string) *GreeterCapability {
	return &GreeterCapability{id: id}
}

func (g *GreeterCapability) ID() string      { return g.id }
func (g *GreeterCapability) Types() []string { return []string{"greet"} }

func (g *GreeterCapability) HandleEnvelope(ctx context.Context, env *agent.Envelope) (*agent.Envelope, error) {
	type GreetRequest struct {
		Name string `json:"name"`
	}

	var req GreetRequest
	if err := env.UnmarshalPayload(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	return env.Reply(map[string]string{
		"greeting": "hello, " + req.Name,
	})
}

// Example demonstrates how to use the agent package
func Example() {
	// Register a capability against the message types it handles
	registry := agent.NewRegistry()
	registry.RegisterCapability(NewGreeterCapability("greeter"))

	dispatcher := agent.NewDispatcher(registry)

	// Build an envelope and dispatch it
	type Request struct {
		Name string `json:"name"`
	}

	env := agent.MustEnvelope("greet", Request{Name: "ada"}).
		WithSender("example")

	result := dispatcher.Dispatch(context.Background(), env)
	if result.Err() != nil {
		fmt.Printf("Error: %v\n", result.Err())
		return
	}

	// Process the response
	type Result struct {
		Greeting string `json:"greeting"`
	}

	var out Result
	if err := result.Response().UnmarshalPayload(&out); err != nil {
		fmt.Printf("Error unmarshaling: %v\n", err)
		return
	}

	fmt.Printf("Dispatch %s: %s\n", result.Status, out.Greeting)

	// Output:
	// Dispatch success: hello, ada
}

// Example_fanOut demonstrates dispatching one envelope to several agents
func Example_fanOut() {
	registry := agent.NewRegistry()

	// Two subscribers on the same message type
	logSink := agent.NewCapabilitySet("log-sink").
		OnFunc("order.created", func(ctx context.Context, env *agent.Envelope) (*agent.Envelope, error) {
			return nil, nil // records and acknowledges
		})
	billing := agent.NewCapabilitySet("billing").
		OnFunc("order.created", func(ctx context.Context, env *agent.Envelope) (*agent.Envelope, error) {
			return nil, errors.New("ledger unavailable")
		})
	registry.RegisterCapability(logSink)
	registry.RegisterCapability(billing)

	dispatcher := agent.NewDispatcher(registry)
	result := dispatcher.Dispatch(context.Background(), agent.MustEnvelope("order.created", map[string]int{"order_id": 42}))

	fmt.Printf("Status: %s\n", result.Status)
	for _, f := range result.Failures {
		fmt.Printf("Failed: %s (%v)\n", f.Agent, f.Err)
	}

	// Output:
	// Status: partial
	// Failed: billing (ledger unavailable)
}

// Example_envelopeMetadata demonstrates correlation and metadata usage
func Example_envelopeMetadata() {
	// Envelopes carry correlation and routing context across agents
	env := agent.MustEnvelope("audit.request", map[string]string{"action": "review"}).
		WithCorrelation("req-123").
		WithSender("api").
		WithMetadata("priority", "high")

	fmt.Printf("Processing %s from %s (correlation %s)\n", env.Type, env.Sender, env.CorrelationID)

	// Output:
	// Processing audit.request from api (correlation req-123)
}

// Example_typedHandlers demonstrates registering typed handlers on a capability set
func Example_typedHandlers() {
	type TranslateRequest struct {
		Text string `json:"text"`
		Lang string `json:"lang"`
	}

	translator := agent.NewCapabilitySet("translator")
	agent.OnTyped(translator, "translate", func(ctx context.Context, req TranslateRequest) (*agent.Envelope, error) {
		// A real handler would call out to a translation backend
		return agent.NewEnvelope("translate.response", map[string]string{
			"text": req.Text,
			"lang": req.Lang,
		})
	})

	registry := agent.NewRegistry()
	registry.RegisterCapability(translator)

	result := agent.NewDispatcher(registry).Dispatch(context.Background(),
		agent.MustEnvelope("translate", TranslateRequest{Text: "hola", Lang: "es"}))

	var out map[string]string
	result.Response().UnmarshalPayload(&out)
	fmt.Printf("Translated %q (%s)\n", out["text"], out["lang"])

	// Output:
	// Translated "hola" (es)
}
