// Package agents provides built-in capability kinds that config files can
// reference by name. Each kind registers its factory in init, so importing
// this package (cmd/courier does it for its side effects) makes every
// built-in available to RegisterAgents.
package agents

import (
	"context"

	"github.com/courier-dev/courier"
	"github.com/courier-dev/courier/agent"
)

// Echo replies to every envelope with its own payload. With a prefix
// configured, string payloads come back prefixed, which makes fan-out
// ordering visible in examples and tests.
type Echo struct {
	name   string
	types  []string
	prefix string
}

func init() {
	courier.RegisterKind("echo", func(def courier.CapabilityDef) (agent.Capability, error) {
		return NewEcho(def), nil
	})
}

// NewEcho builds an Echo from its config definition.
func NewEcho(def courier.CapabilityDef) *Echo {
	return &Echo{
		name:   def.Name,
		types:  def.Types,
		prefix: def.GetString("prefix", ""),
	}
}

func (e *Echo) ID() string      { return e.name }
func (e *Echo) Types() []string { return e.types }

func (e *Echo) HandleEnvelope(ctx context.Context, env *agent.Envelope) (*agent.Envelope, error) {
	if e.prefix != "" {
		var s string
		if err := env.UnmarshalPayload(&s); err == nil {
			return env.Reply(e.prefix + s)
		}
	}
	return env.Reply(env.Payload)
}
