package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoke-ai/convoke/core"
	"github.com/convoke-ai/convoke/mcptool"
	"github.com/convoke-ai/convoke/model"
	"github.com/convoke-ai/convoke/session"
)

func drain(ch <-chan core.StreamEvent) []core.StreamEvent {
	var events []core.StreamEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestChatSingleAgent(t *testing.T) {
	m := model.NewMockModel("test-model")
	m.Enqueue(&model.Response{Content: "hello back", Usage: core.TokenUsage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}})
	eng := New()

	events := drain(eng.Chat(context.Background(), ChatRequest{
		SessionID: "s1",
		Message:   "hello",
		Agent: &AgentRuntime{
			Spec:  core.AgentSpec{ID: "a1", Name: "Helper", SystemPrompt: "Be helpful."},
			Model: m,
		},
	}))

	require.NotEmpty(t, events)
	types := eventTypes(events)
	assert.Equal(t, core.EventMessageComplete, types[len(types)-2])
	assert.Equal(t, core.EventDone, types[len(types)-1])

	final := events[len(events)-2].Data.(core.Message)
	assert.Equal(t, "hello back", final.Content)
	assert.Equal(t, "a1", final.AgentID)
	require.NotNil(t, final.Metadata)
	assert.Equal(t, "test-model", final.Metadata.Model)
	assert.Equal(t, "mock", final.Metadata.Provider)
	require.NotNil(t, final.Metadata.Usage)
	assert.Equal(t, 5, final.Metadata.Usage.TotalTokens)

	// Both the user and the assistant message are persisted.
	msgs, err := eng.Sessions().Messages(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, core.RoleUser, msgs[0].Role)
	assert.Equal(t, core.RoleAssistant, msgs[1].Role)

	// The agent's system prompt reached the model.
	require.NotEmpty(t, m.Calls())
	assert.Equal(t, "Be helpful.", m.Calls()[0].System)
}

func TestChatHistoryCarriesAcrossTurns(t *testing.T) {
	m := model.NewMockModel("test-model")
	m.Enqueue(&model.Response{Content: "first"}, &model.Response{Content: "second"})
	eng := New()
	agent := &AgentRuntime{Spec: core.AgentSpec{ID: "a1", Name: "Helper"}, Model: m}

	drain(eng.Chat(context.Background(), ChatRequest{SessionID: "s1", Message: "one", Agent: agent}))
	drain(eng.Chat(context.Background(), ChatRequest{SessionID: "s1", Message: "two", Agent: agent}))

	calls := m.Calls()
	require.Len(t, calls, 2)
	second := calls[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, "one", second[0].Content)
	assert.Equal(t, "first", second[1].Content)
	assert.Equal(t, "two", second[2].Content)
}

func TestChatModelFailureEmitsTerminalError(t *testing.T) {
	m := model.NewMockModel("test-model")
	m.FailWith(errors.New("backend unavailable"))
	eng := New()

	events := drain(eng.Chat(context.Background(), ChatRequest{
		SessionID: "s1",
		Message:   "hello",
		Agent:     &AgentRuntime{Spec: core.AgentSpec{ID: "a1"}, Model: m},
	}))

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, core.EventError, last.Type)
	assert.Contains(t, last.Data.(core.ErrorPayload).Error, "backend unavailable")
	for _, ev := range events {
		assert.NotEqual(t, core.EventMessageComplete, ev.Type)
		assert.NotEqual(t, core.EventDone, ev.Type)
	}

	// No assistant message was produced, only the user turn persists.
	msgs, err := eng.Sessions().Messages(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, core.RoleUser, msgs[0].Role)
}

func TestChatMidStreamFailurePersistsPartial(t *testing.T) {
	m := model.NewMockModel("test-model")
	m.EnqueueStreamError("partial answer before the", errors.New("stream interrupted"))
	eng := New()

	events := drain(eng.Chat(context.Background(), ChatRequest{
		SessionID: "s1",
		Message:   "hello",
		Agent:     &AgentRuntime{Spec: core.AgentSpec{ID: "a1"}, Model: m},
	}))

	require.NotEmpty(t, events)
	types := eventTypes(events)
	assert.Contains(t, types, core.EventContentDelta)
	assert.Equal(t, core.EventError, types[len(types)-1])
	assert.NotContains(t, types, core.EventMessageComplete)
	assert.NotContains(t, types, core.EventDone)

	// The content streamed before the failure is kept, tagged with the error.
	msgs, err := eng.Sessions().Messages(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, core.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "partial answer before the", msgs[1].Content)
	require.NotNil(t, msgs[1].Metadata)
	assert.Contains(t, msgs[1].Metadata.Error, "stream interrupted")
}

// stallingModel streams one delta and then blocks until the request context
// is canceled, failing the stream with the context error.
type stallingModel struct {
	delta string
}

func (s *stallingModel) Chat(ctx context.Context, req model.Request) (*model.Response, error) {
	ch, err := s.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return model.Collect(ch)
}

func (s *stallingModel) ChatStream(ctx context.Context, req model.Request) (<-chan model.Chunk, error) {
	ch := make(chan model.Chunk, 2)
	go func() {
		defer close(ch)
		ch <- model.Chunk{Type: model.ChunkContent, Delta: s.delta}
		<-ctx.Done()
		ch <- model.Chunk{Type: model.ChunkError, Err: ctx.Err()}
	}()
	return ch, nil
}

func (s *stallingModel) Info() model.Info {
	return model.Info{Name: "stalling", Provider: "mock"}
}

func TestChatCanceledTurnPersistsPartialToSQLite(t *testing.T) {
	store, err := session.OpenSQLite(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	defer store.Close()
	eng := New(func(o *Options) { o.Sessions = store })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := eng.Chat(ctx, ChatRequest{
		SessionID: "s1",
		Message:   "hello",
		Agent:     &AgentRuntime{Spec: core.AgentSpec{ID: "a1"}, Model: &stallingModel{delta: "partial answer"}},
	})
	for ev := range events {
		if ev.Type == core.EventContentDelta {
			cancel()
		}
	}

	// The partial answer reaches the store even though the request context
	// is already canceled when the turn fails.
	msgs, err := store.Messages(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "partial answer", msgs[1].Content)
	require.NotNil(t, msgs[1].Metadata)
	assert.Contains(t, msgs[1].Metadata.Error, "context canceled")
}

func TestChatRequiresAgentOrTeam(t *testing.T) {
	eng := New()

	events := drain(eng.Chat(context.Background(), ChatRequest{SessionID: "s1", Message: "hi"}))

	require.Len(t, events, 1)
	assert.Equal(t, core.EventError, events[0].Type)
}

func TestChatDocumentAttachmentFeedsRetrieval(t *testing.T) {
	m := model.NewMockModel("test-model")
	m.Enqueue(&model.Response{Content: "noted"})
	eng := New()

	events := drain(eng.Chat(context.Background(), ChatRequest{
		SessionID: "s1",
		Message:   "what does the roadmap say about pricing",
		Attachments: []Upload{{
			Filename:  "roadmap.txt",
			MediaType: "text/plain",
			Data:      []byte("Pricing changes ship next quarter. The roadmap also covers onboarding."),
		}},
		Agent: &AgentRuntime{Spec: core.AgentSpec{ID: "a1"}, Model: m},
	}))

	assert.Equal(t, core.EventDone, events[len(events)-1].Type)

	// The indexed document is injected into the same turn's prompt.
	calls := m.Calls()
	require.Len(t, calls, 1)
	prompt := calls[0].Messages[len(calls[0].Messages)-1].Content
	assert.Contains(t, prompt, "Relevant context from uploaded documents:")
	assert.Contains(t, prompt, "[From roadmap.txt]:")

	// The attachment record rides on the persisted user message.
	msgs, err := eng.Sessions().Messages(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, msgs[0].Attachments, 1)
	assert.Equal(t, core.AttachmentDocument, msgs[0].Attachments[0].Kind)
}

func TestChatImageAttachmentInlined(t *testing.T) {
	m := model.NewMockModel("test-model")
	m.Enqueue(&model.Response{Content: "a red square"})
	eng := New()

	events := drain(eng.Chat(context.Background(), ChatRequest{
		SessionID: "s1",
		Message:   "describe this",
		Attachments: []Upload{{
			Filename:  "square.png",
			MediaType: "image/png",
			Data:      []byte{0x89, 0x50, 0x4e, 0x47},
		}},
		Agent: &AgentRuntime{Spec: core.AgentSpec{ID: "a1"}, Model: m},
	}))

	assert.Equal(t, core.EventDone, events[len(events)-1].Type)
	calls := m.Calls()
	require.Len(t, calls, 1)
	last := calls[0].Messages[len(calls[0].Messages)-1]
	require.Len(t, last.Images, 1)
	assert.Equal(t, "image/png", last.Images[0].MediaType)
}

func TestChatUnreachableToolServerIsNotFatal(t *testing.T) {
	m := model.NewMockModel("test-model")
	m.Enqueue(&model.Response{Content: "answered anyway"})
	eng := New(func(o *Options) {
		o.MCPOptions = []func(o *mcptool.OpenOptions){func(o *mcptool.OpenOptions) {
			o.Dialer = func(cfg mcptool.ServerConfig) (mcptool.Client, error) {
				return nil, errors.New("connection refused")
			}
		}}
	})

	events := drain(eng.Chat(context.Background(), ChatRequest{
		SessionID: "s1",
		Message:   "hello",
		Agent: &AgentRuntime{
			Spec:    core.AgentSpec{ID: "a1"},
			Model:   m,
			Servers: []mcptool.ServerConfig{{Name: "docs", Transport: mcptool.TransportStreamable, ServerURL: "http://localhost:1"}},
		},
	}))

	assert.Equal(t, core.EventDone, events[len(events)-1].Type)
	final := events[len(events)-2].Data.(core.Message)
	assert.Equal(t, "answered anyway", final.Content)
}

func TestChatTeamEndToEnd(t *testing.T) {
	ma := model.NewMockModel("model-a")
	mb := model.NewMockModel("model-b")
	ma.Enqueue(
		&model.Response{Content: "draft"},
		&model.Response{Content: "merged answer"},
	)
	mb.Enqueue(&model.Response{Content: "other draft"})
	eng := New()

	events := drain(eng.Chat(context.Background(), ChatRequest{
		SessionID: "s1",
		Message:   "question",
		Team: &TeamRuntime{
			Spec: core.TeamSpec{ID: "t1", Name: "panel", Mode: core.TeamRoute},
			Members: []AgentRuntime{
				{Spec: core.AgentSpec{ID: "a1", Name: "Alpha"}, Model: ma},
				{Spec: core.AgentSpec{ID: "a2", Name: "Beta"}, Model: mb},
			},
		},
	}))

	assert.Equal(t, core.EventDone, events[len(events)-1].Type)
	final := events[len(events)-2].Data.(core.Message)
	assert.Equal(t, "merged answer", final.Content)
	require.NotNil(t, final.Metadata)
	assert.Equal(t, core.TeamRoute, final.Metadata.TeamMode)
	assert.Len(t, final.Metadata.ContributingAgents, 2)
}
