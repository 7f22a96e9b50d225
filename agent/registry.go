package agent

import (
	"fmt"
	"sync"
)

// Binding is the registered association between a message type, the owning
// agent, and its invocation entry point.
type Binding struct {
	Type    string
	Agent   string
	Handler Handler
}

// Registry maintains the mapping from message-type identifier to the ordered
// bindings registered for it. It is the only mutable shared state in the
// dispatch path: mutations are atomic with respect to Resolve, and Resolve
// hands out immutable snapshots so dispatch itself needs no locking.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string][]Binding
	byAgent  map[string][]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		bindings: make(map[string][]Binding),
		byAgent:  make(map[string][]string),
	}
}

// Register binds a handler for (agentID, msgType). Registering the same pair
// again replaces the prior binding in place, keeping its position in the
// fan-out order, rather than duplicating it.
func (r *Registry) Register(agentID, msgType string, h Handler) error {
	if agentID == "" {
		return fmt.Errorf("%w: agent identity is empty", ErrInvalidBinding)
	}
	if msgType == "" {
		return fmt.Errorf("%w: type identifier is empty", ErrInvalidBinding)
	}
	if h == nil {
		return fmt.Errorf("%w: entry point is nil for agent %s type %q", ErrInvalidBinding, agentID, msgType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.bindings[msgType]
	for i := range list {
		if list[i].Agent == agentID {
			list[i].Handler = h
			return nil
		}
	}

	r.bindings[msgType] = append(list, Binding{Type: msgType, Agent: agentID, Handler: h})
	r.byAgent[agentID] = append(r.byAgent[agentID], msgType)
	return nil
}

// RegisterCapability registers one binding per type the capability declares.
// On the first failing type it stops and returns the error; bindings already
// made stay in place, so callers can treat the error as fatal and Deregister.
func (r *Registry) RegisterCapability(c Capability) error {
	if c == nil {
		return fmt.Errorf("%w: capability is nil", ErrInvalidBinding)
	}
	for _, msgType := range c.Types() {
		if err := r.Register(c.ID(), msgType, c); err != nil {
			return err
		}
	}
	return nil
}

// Deregister removes every binding owned by the agent. It is a no-op for an
// agent that was never registered. In-flight dispatches holding an earlier
// Resolve snapshot may still complete; no new Resolve returns the agent.
func (r *Registry) Deregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	types, ok := r.byAgent[agentID]
	if !ok {
		return
	}

	for _, msgType := range types {
		list := r.bindings[msgType]
		kept := list[:0]
		for _, b := range list {
			if b.Agent != agentID {
				kept = append(kept, b)
			}
		}
		if len(kept) == 0 {
			delete(r.bindings, msgType)
		} else {
			r.bindings[msgType] = kept
		}
	}
	delete(r.byAgent, agentID)
}

// Resolve returns the bindings for a type in registration order. The returned
// slice is a snapshot owned by the caller; an unknown type yields an empty
// sequence, never an error. Callers decide whether that is fatal.
func (r *Registry) Resolve(msgType string) []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list, ok := r.bindings[msgType]
	if !ok {
		return nil
	}
	out := make([]Binding, len(list))
	copy(out, list)
	return out
}

// Types returns every type identifier with at least one binding.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.bindings))
	for msgType := range r.bindings {
		out = append(out, msgType)
	}
	return out
}

// Agents returns every agent identity with at least one binding.
func (r *Registry) Agents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byAgent))
	for agentID := range r.byAgent {
		out = append(out, agentID)
	}
	return out
}

// Size returns the total number of live bindings.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, list := range r.bindings {
		n += len(list)
	}
	return n
}

// Clear drops every binding. The host calls this when the service reaches
// its stopped state.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bindings = make(map[string][]Binding)
	r.byAgent = make(map[string][]string)
}
