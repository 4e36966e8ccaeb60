package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoke-ai/convoke/core"
)

const sampleConfig = `
server:
  addr: ":9090"
logging:
  level: debug
  format: json
models:
  - name: fast
    provider: mock
agents:
  - id: helper
    name: Helper
    description: General assistant
    model: fast
    system_prompt: Be helpful.
    tools:
      - name: weather
        description: Current weather
        type: http
        url: https://api.example.com/weather
        method: GET
        parameters:
          type: object
          properties:
            city:
              type: string
      - name: shout
        description: Uppercases text
        type: script
        code: |
          def handler(args):
              return args["text"].upper()
    servers:
      - name: docs
        transport: stdio
        command: python3
        args: ["-m", "docs_server"]
  - id: writer
    name: Writer
    model: fast
teams:
  - id: panel
    name: Panel
    mode: route
    members: [helper, writer]
`

func TestParseAndBuild(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "memory", cfg.Storage.Sessions)

	reg, err := cfg.BuildRegistry()
	require.NoError(t, err)

	agent, err := reg.ResolveAgent(context.Background(), "helper")
	require.NoError(t, err)
	assert.Equal(t, "Helper", agent.Spec.Name)
	assert.Equal(t, "Be helpful.", agent.Spec.SystemPrompt)
	require.Len(t, agent.Tools, 2)
	assert.Equal(t, "weather", agent.Tools[0].Name)
	assert.NotNil(t, agent.Tools[0].Handler)
	assert.Equal(t, "object", agent.Tools[0].Parameters["type"])
	require.Len(t, agent.Servers, 1)
	assert.Equal(t, "docs", agent.Servers[0].Name)
	assert.Equal(t, "stdio", agent.Servers[0].Transport)

	team, err := reg.ResolveTeam(context.Background(), "panel")
	require.NoError(t, err)
	assert.Equal(t, core.TeamRoute, team.Spec.Mode)
	require.Len(t, team.Members, 2)
	assert.Equal(t, "helper", team.Members[0].Spec.ID)

	_, err = reg.ResolveAgent(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestDefaults(t *testing.T) {
	cfg, err := Parse([]byte("models: []"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "memory", cfg.Storage.Sessions)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown provider", `
models:
  - name: m
    provider: acme
`},
		{"agent unknown model", `
agents:
  - id: a
    name: A
    model: missing
`},
		{"http tool without url", `
models:
  - name: m
    provider: mock
agents:
  - id: a
    name: A
    model: m
    tools:
      - name: t
        type: http
`},
		{"script tool without code", `
models:
  - name: m
    provider: mock
agents:
  - id: a
    name: A
    model: m
    tools:
      - name: t
        type: script
`},
		{"team unknown mode", `
models:
  - name: m
    provider: mock
agents:
  - id: a
    name: A
    model: m
teams:
  - id: t
    mode: broadcast
    members: [a]
`},
		{"team unknown member", `
models:
  - name: m
    provider: mock
agents:
  - id: a
    name: A
    model: m
teams:
  - id: t
    mode: route
    members: [ghost]
`},
		{"duplicate agent", `
models:
  - name: m
    provider: mock
agents:
  - id: a
    name: A
    model: m
  - id: a
    name: B
    model: m
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestBuildLoggerAndStore(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)
	assert.NotNil(t, cfg.BuildLogger())

	store, err := cfg.BuildSessionStore()
	require.NoError(t, err)
	assert.NotNil(t, store)
}
