package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courier-dev/courier"
	"github.com/courier-dev/courier/agent"
)

func TestEcho_Registration(t *testing.T) {
	factory, ok := courier.GetKindFactory("echo")
	require.True(t, ok, "echo factory not registered")

	def := courier.CapabilityDef{
		Name:  "test-echo",
		Kind:  "echo",
		Types: []string{"greet.request"},
		Extra: map[string]any{"prefix": "hello, "},
	}

	c, err := factory(def)
	require.NoError(t, err)

	echo, ok := c.(*Echo)
	require.True(t, ok, "factory did not return *Echo")

	assert.Equal(t, "test-echo", echo.ID())
	assert.Equal(t, []string{"greet.request"}, echo.Types())
	assert.Equal(t, "hello, ", echo.prefix)
}

func TestEcho_HandleEnvelope(t *testing.T) {
	echo := NewEcho(courier.CapabilityDef{Name: "e", Types: []string{"test.msg"}})

	env, err := agent.NewEnvelope("test.msg", map[string]any{"n": 1})
	require.NoError(t, err)

	reply, err := echo.HandleEnvelope(context.Background(), env)
	require.NoError(t, err)

	assert.Equal(t, "test.msg.response", reply.Type)
	assert.Equal(t, env.ID, reply.CorrelationID)

	var got map[string]any
	require.NoError(t, reply.UnmarshalPayload(&got))
	assert.Equal(t, float64(1), got["n"])
}

func TestEcho_Prefix(t *testing.T) {
	echo := NewEcho(courier.CapabilityDef{
		Name:  "e",
		Types: []string{"greet.request"},
		Extra: map[string]any{"prefix": "hello, "},
	})

	env, err := agent.NewEnvelope("greet.request", "world")
	require.NoError(t, err)

	reply, err := echo.HandleEnvelope(context.Background(), env)
	require.NoError(t, err)

	var got string
	require.NoError(t, reply.UnmarshalPayload(&got))
	assert.Equal(t, "hello, world", got)
}

func TestEcho_PrefixIgnoredForNonString(t *testing.T) {
	echo := NewEcho(courier.CapabilityDef{
		Name:  "e",
		Types: []string{"test.msg"},
		Extra: map[string]any{"prefix": "x"},
	})

	env, err := agent.NewEnvelope("test.msg", map[string]any{"k": "v"})
	require.NoError(t, err)

	reply, err := echo.HandleEnvelope(context.Background(), env)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, reply.UnmarshalPayload(&got))
	assert.Equal(t, "v", got["k"], "object payload should pass through untouched")
}
