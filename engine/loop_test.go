package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoke-ai/convoke/core"
	"github.com/convoke-ai/convoke/model"
	"github.com/convoke-ai/convoke/tool"
)

func echoTool() tool.Definition {
	return tool.Definition{
		Name:        "echo",
		Description: "Echoes the text argument back.",
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"text": map[string]interface{}{"type": "string"}},
		},
		Handler: tool.HandlerFunc(func(_ context.Context, args map[string]interface{}) (interface{}, error) {
			return args["text"], nil
		}),
	}
}

func userRequest(content string) model.Request {
	return model.Request{Messages: []model.Message{{Role: core.RoleUser, Content: content}}}
}

func collectEvents(fn func(emit func(core.StreamEvent))) []core.StreamEvent {
	var events []core.StreamEvent
	fn(func(ev core.StreamEvent) { events = append(events, ev) })
	return events
}

func eventTypes(events []core.StreamEvent) []core.EventType {
	types := make([]core.EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestLoopPlainAnswer(t *testing.T) {
	m := model.NewMockModel("test-model")
	m.Enqueue(&model.Response{Content: "hello there"})
	loop := NewLoop(m, tool.NewRouter(nil))

	var msg *core.Message
	var err error
	events := collectEvents(func(emit func(core.StreamEvent)) {
		msg, err = loop.Run(context.Background(), userRequest("hi"), "s1", "a1", emit)
	})

	require.NoError(t, err)
	assert.Equal(t, "hello there", msg.Content)
	assert.Equal(t, "a1", msg.AgentID)
	assert.Empty(t, msg.ToolCalls)
	assert.Len(t, m.Calls(), 1)
	for _, ev := range events {
		assert.Equal(t, core.EventContentDelta, ev.Type)
	}
}

func TestLoopToolRound(t *testing.T) {
	m := model.NewMockModel("test-model")
	m.Enqueue(
		&model.Response{ToolCalls: []model.ToolCall{{ID: "c1", Name: "echo", Arguments: `{"text":"ping"}`}}},
		&model.Response{Content: "final answer"},
	)
	router := tool.NewRouter([]tool.Definition{echoTool()})
	loop := NewLoop(m, router)

	var msg *core.Message
	var err error
	events := collectEvents(func(emit func(core.StreamEvent)) {
		msg, err = loop.Run(context.Background(), userRequest("hi"), "s1", "a1", emit)
	})

	require.NoError(t, err)
	assert.Equal(t, "final answer", msg.Content)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, core.ToolCallCompleted, msg.ToolCalls[0].Status)
	assert.Equal(t, "ping", msg.ToolCalls[0].Result)

	// tool_round, then a running/completed pair for the call.
	var toolEvents []core.StreamEvent
	for _, ev := range events {
		if ev.Type == core.EventToolRound || ev.Type == core.EventToolCall {
			toolEvents = append(toolEvents, ev)
		}
	}
	require.Len(t, toolEvents, 3)
	round := toolEvents[0].Data.(core.ToolRound)
	assert.Equal(t, 1, round.Round)
	assert.Equal(t, DefaultMaxToolRounds, round.MaxRounds)
	assert.Equal(t, core.ToolCallRunning, toolEvents[1].Data.(core.ToolCall).Status)
	assert.Equal(t, core.ToolCallCompleted, toolEvents[2].Data.(core.ToolCall).Status)

	// The second round sees an empty assistant turn plus the tool result.
	calls := m.Calls()
	require.Len(t, calls, 2)
	second := calls[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, core.RoleAssistant, second[1].Role)
	assert.Empty(t, second[1].Content)
	assert.Equal(t, core.RoleUser, second[2].Role)
	assert.Contains(t, second[2].Content, "[Tool 'echo' returned: ping]")
	assert.Contains(t, second[2].Content, "Use this information to answer the user's question.")
}

func TestLoopRoundBound(t *testing.T) {
	m := model.NewMockModel("test-model")
	// The model insists on calling tools every round.
	for i := 0; i < 2; i++ {
		m.Enqueue(&model.Response{ToolCalls: []model.ToolCall{{ID: "c", Name: "echo", Arguments: `{"text":"x"}`}}})
	}
	m.Enqueue(&model.Response{Content: "done after two rounds"})
	router := tool.NewRouter([]tool.Definition{echoTool()})
	loop := NewLoop(m, router, func(o *LoopOptions) { o.MaxRounds = 2 })

	msg, err := loop.Run(context.Background(), model.Request{
		Messages: []model.Message{{Role: core.RoleUser, Content: "hi"}},
		Tools:    tool.ModelDefinitions(router.Definitions()),
	}, "s1", "a1", nil)

	require.NoError(t, err)
	// Two tool rounds plus one forced call without tools.
	calls := m.Calls()
	require.Len(t, calls, 3)
	assert.NotEmpty(t, calls[0].Tools)
	assert.NotEmpty(t, calls[1].Tools)
	assert.Nil(t, calls[2].Tools)
	assert.Len(t, msg.ToolCalls, 2)
	assert.Equal(t, "done after two rounds", msg.Content)
}

func TestLoopModelError(t *testing.T) {
	m := model.NewMockModel("test-model")
	m.FailWith(errors.New("backend unavailable"))
	loop := NewLoop(m, tool.NewRouter(nil))

	msg, err := loop.Run(context.Background(), userRequest("hi"), "s1", "a1", nil)

	require.Error(t, err)
	require.NotNil(t, msg)
	assert.Empty(t, msg.Content)
}

func TestLoopUnknownToolFedBack(t *testing.T) {
	m := model.NewMockModel("test-model")
	m.Enqueue(
		&model.Response{ToolCalls: []model.ToolCall{{ID: "c1", Name: "missing", Arguments: `{}`}}},
		&model.Response{Content: "recovered"},
	)
	loop := NewLoop(m, tool.NewRouter(nil))

	msg, err := loop.Run(context.Background(), userRequest("hi"), "s1", "a1", nil)

	require.NoError(t, err)
	assert.Equal(t, "recovered", msg.Content)
	require.Len(t, msg.ToolCalls, 1)
	assert.Contains(t, msg.ToolCalls[0].Result, "unknown tool")
}

func TestRunQuiet(t *testing.T) {
	m := model.NewMockModel("test-model")
	m.Enqueue(
		&model.Response{ToolCalls: []model.ToolCall{{ID: "c1", Name: "echo", Arguments: `{"text":"pong"}`}}},
		&model.Response{Content: "quiet answer"},
	)
	router := tool.NewRouter([]tool.Definition{echoTool()})
	loop := NewLoop(m, router)

	content, err := loop.RunQuiet(context.Background(), userRequest("hi"))

	require.NoError(t, err)
	assert.Equal(t, "quiet answer", content)
	calls := m.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[1].Messages[len(calls[1].Messages)-1].Content, "[Tool 'echo' returned: pong]")
}

func TestRunQuietForcedFinalCall(t *testing.T) {
	m := model.NewMockModel("test-model")
	for i := 0; i < 2; i++ {
		m.Enqueue(&model.Response{ToolCalls: []model.ToolCall{{ID: "c", Name: "echo", Arguments: `{"text":"x"}`}}})
	}
	m.Enqueue(&model.Response{Content: "forced"})
	router := tool.NewRouter([]tool.Definition{echoTool()})
	loop := NewLoop(m, router, func(o *LoopOptions) { o.MaxRounds = 2 })

	content, err := loop.RunQuiet(context.Background(), model.Request{
		Messages: []model.Message{{Role: core.RoleUser, Content: "hi"}},
		Tools:    tool.ModelDefinitions(router.Definitions()),
	})

	require.NoError(t, err)
	assert.Equal(t, "forced", content)
	calls := m.Calls()
	require.Len(t, calls, 3)
	assert.Nil(t, calls[2].Tools)
}
