// Package agent provides the public dispatch core of Courier: capabilities,
// envelopes, the handler registry, and the dispatcher.
//
// This package exports everything an external project needs to declare what
// message types an agent handles and to route envelopes to it at runtime,
// without the caller knowing the agent's concrete type.
//
// # Declaring a capability
//
// A capability is an identity plus a set of typed entry points. Assemble one
// with CapabilitySet, using Typed to keep handlers strongly typed:
//
//	type GreetRequest struct {
//	    Name string `json:"name"`
//	}
//
//	greeter := agent.NewCapabilitySet("greeter")
//	agent.OnTyped(greeter, "greet", func(ctx context.Context, req GreetRequest) (*agent.Envelope, error) {
//	    return agent.NewEnvelope("greet.response", "hello "+req.Name)
//	})
//
// Any type with an ID, a declared type set, and a HandleEnvelope method
// satisfies Capability directly; CapabilitySet is a convenience, not a
// requirement.
//
// # Registering and dispatching
//
// The registry maps type identifiers to ordered bindings; the dispatcher
// resolves and invokes them:
//
//	reg := agent.NewRegistry()
//	reg.RegisterCapability(greeter)
//
//	d := agent.NewDispatcher(reg)
//	result := d.Dispatch(ctx, agent.MustEnvelope("greet", GreetRequest{Name: "ada"}))
//	if result.Status == agent.StatusSuccess {
//	    fmt.Println(result.Response())
//	}
//
// When several agents register for one type, dispatch fans out to all of
// them concurrently and the result reports per-agent failures without one
// agent's error aborting the others.
//
// Most deployments do not use the dispatcher directly: the host service
// (started via the root courier package) wraps it with transports,
// lifecycle, and observability.
package agent
