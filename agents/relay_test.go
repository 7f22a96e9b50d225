package agents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courier-dev/courier"
	"github.com/courier-dev/courier/agent"
)

func TestRelay_Registration(t *testing.T) {
	factory, ok := courier.GetKindFactory("relay")
	require.True(t, ok, "relay factory not registered")

	c, err := factory(courier.CapabilityDef{
		Name:  "webhook",
		Kind:  "relay",
		Types: []string{"order.created"},
		Extra: map[string]any{"target": "http://localhost:9999/hook", "timeout": "2s"},
	})
	require.NoError(t, err)

	_, ok = c.(*Relay)
	require.True(t, ok, "factory did not return *Relay")
}

func TestRelay_RequiresTarget(t *testing.T) {
	_, err := NewRelay(courier.CapabilityDef{Name: "w", Types: []string{"t"}})
	assert.Error(t, err)
}

func TestRelay_InvalidTimeout(t *testing.T) {
	_, err := NewRelay(courier.CapabilityDef{
		Name:  "w",
		Types: []string{"t"},
		Extra: map[string]any{"target": "http://localhost:1/hook", "timeout": "soon"},
	})
	assert.Error(t, err)
}

func TestRelay_HandleEnvelope(t *testing.T) {
	var received atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)

		var env agent.Envelope
		require.NoError(t, json.NewDecoder(r.Body).Decode(&env))
		assert.Equal(t, "order.created", env.Type)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"queued"}`))
	}))
	defer srv.Close()

	relay, err := NewRelay(courier.CapabilityDef{
		Name:  "webhook",
		Types: []string{"order.created"},
		Extra: map[string]any{"target": srv.URL},
	})
	require.NoError(t, err)

	env, err := agent.NewEnvelope("order.created", map[string]any{"order": "A-17"})
	require.NoError(t, err)

	reply, err := relay.HandleEnvelope(context.Background(), env)
	require.NoError(t, err)

	var got struct {
		Status string `json:"status"`
	}
	require.NoError(t, reply.UnmarshalPayload(&got))
	assert.Equal(t, "queued", got.Status)
	assert.Equal(t, int64(1), received.Load())
}

func TestRelay_EmptyResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	relay, err := NewRelay(courier.CapabilityDef{
		Name:  "webhook",
		Types: []string{"t"},
		Extra: map[string]any{"target": srv.URL},
	})
	require.NoError(t, err)

	env, err := agent.NewEnvelope("t", nil)
	require.NoError(t, err)

	reply, err := relay.HandleEnvelope(context.Background(), env)
	require.NoError(t, err)

	var ack struct {
		Delivered bool `json:"delivered"`
	}
	require.NoError(t, reply.UnmarshalPayload(&ack))
	assert.True(t, ack.Delivered)
}

func TestRelay_TargetError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	relay, err := NewRelay(courier.CapabilityDef{
		Name:  "webhook",
		Types: []string{"t"},
		Extra: map[string]any{"target": srv.URL},
	})
	require.NoError(t, err)

	env, err := agent.NewEnvelope("t", "x")
	require.NoError(t, err)

	_, err = relay.HandleEnvelope(context.Background(), env)
	assert.ErrorContains(t, err, "target returned")
}

func TestRelay_TargetUnreachable(t *testing.T) {
	relay, err := NewRelay(courier.CapabilityDef{
		Name:  "webhook",
		Types: []string{"t"},
		Extra: map[string]any{"target": "http://127.0.0.1:1/hook", "timeout": "500ms"},
	})
	require.NoError(t, err)

	env, err := agent.NewEnvelope("t", "x")
	require.NoError(t, err)

	_, err = relay.HandleEnvelope(context.Background(), env)
	assert.Error(t, err)
}
