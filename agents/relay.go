package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/courier-dev/courier"
	"github.com/courier-dev/courier/agent"
)

// relayBodyLimit caps how much of a target response is read back.
const relayBodyLimit = 1 << 20

// Relay forwards envelopes to an HTTP endpoint and replies with whatever
// the endpoint returns. It bridges dispatch to webhook-style consumers
// that cannot register in process.
type Relay struct {
	name   string
	types  []string
	target string
	client *http.Client
}

func init() {
	courier.RegisterKind("relay", func(def courier.CapabilityDef) (agent.Capability, error) {
		return NewRelay(def)
	})
}

// NewRelay builds a Relay from its config definition. The target setting is
// required; timeout defaults to 10s.
func NewRelay(def courier.CapabilityDef) (*Relay, error) {
	target := def.GetString("target", "")
	if target == "" {
		return nil, fmt.Errorf("relay %s: target is required", def.Name)
	}

	timeout := 10 * time.Second
	if raw := def.GetString("timeout", ""); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("relay %s: invalid timeout %q: %w", def.Name, raw, err)
		}
		timeout = d
	}

	return &Relay{
		name:   def.Name,
		types:  def.Types,
		target: target,
		client: &http.Client{Timeout: timeout},
	}, nil
}

func (r *Relay) ID() string      { return r.name }
func (r *Relay) Types() []string { return r.types }

func (r *Relay) HandleEnvelope(ctx context.Context, env *agent.Envelope) (*agent.Envelope, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("relay %s: encode envelope: %w", r.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("relay %s: build request: %w", r.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay %s: deliver to %s: %w", r.name, r.target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, relayBodyLimit))
	if err != nil {
		return nil, fmt.Errorf("relay %s: read response: %w", r.name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("relay %s: target returned %s", r.name, resp.Status)
	}

	if len(data) > 0 && json.Valid(data) {
		return env.Reply(json.RawMessage(data))
	}
	return env.Reply(map[string]any{"delivered": true})
}
