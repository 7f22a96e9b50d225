package agents

import (
	"context"
	"log"
	"sync"

	"github.com/courier-dev/courier"
	"github.com/courier-dev/courier/agent"
)

const defaultSinkCapacity = 100

// Sink accepts envelopes, logs them, and keeps the most recent ones in
// memory. It is the standard fan-out target for audit-style bindings where
// the reply does not matter but delivery should be observable.
type Sink struct {
	name  string
	types []string
	quiet bool
	limit int

	mu   sync.Mutex
	seen []*agent.Envelope
}

func init() {
	courier.RegisterKind("sink", func(def courier.CapabilityDef) (agent.Capability, error) {
		return NewSink(def)
	})
}

// NewSink builds a Sink from its config definition. The optional capacity
// setting bounds retention; quiet suppresses per-envelope logging.
func NewSink(def courier.CapabilityDef) (*Sink, error) {
	s := &Sink{
		name:  def.Name,
		types: def.Types,
		limit: defaultSinkCapacity,
	}

	var capacity int
	if err := def.UnmarshalKey("capacity", &capacity); err != nil {
		return nil, err
	}
	if capacity > 0 {
		s.limit = capacity
	}

	var quiet bool
	if err := def.UnmarshalKey("quiet", &quiet); err != nil {
		return nil, err
	}
	s.quiet = quiet

	return s, nil
}

func (s *Sink) ID() string      { return s.name }
func (s *Sink) Types() []string { return s.types }

func (s *Sink) HandleEnvelope(ctx context.Context, env *agent.Envelope) (*agent.Envelope, error) {
	s.mu.Lock()
	s.seen = append(s.seen, env.Clone())
	if len(s.seen) > s.limit {
		s.seen = s.seen[len(s.seen)-s.limit:]
	}
	count := len(s.seen)
	s.mu.Unlock()

	if !s.quiet {
		log.Printf("[Sink %s] %s from %s", s.name, env.Type, env.Sender)
	}

	return env.Reply(map[string]any{"accepted": true, "seen": count})
}

// Count reports how many envelopes the sink currently retains.
func (s *Sink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Seen returns a copy of the retained envelopes, oldest first.
func (s *Sink) Seen() []*agent.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*agent.Envelope, len(s.seen))
	copy(out, s.seen)
	return out
}
