package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/convoke-ai/convoke/core"
	"github.com/convoke-ai/convoke/logging"
	"github.com/convoke-ai/convoke/model"
	"github.com/convoke-ai/convoke/tool"
)

// DefaultMaxToolRounds bounds how many tool-calling rounds a turn may run
// before the loop forces a tool-free final call.
const DefaultMaxToolRounds = 10

// toolResultPrompt is appended to every tool result fed back to the model.
const toolResultPrompt = "Use this information to answer the user's question."

// Loop drives one agent's bounded tool-calling conversation. Each round
// streams a model call; collected tool calls are executed sequentially and
// their results fed back as user-role messages for the next round. After
// maxRounds the loop makes exactly one final call with tools disabled, so a
// turn performs at most maxRounds+1 model calls.
type Loop struct {
	model     model.Model
	router    *tool.Router
	maxRounds int
	logger    logging.Logger
}

// LoopOptions configure a Loop.
type LoopOptions struct {
	MaxRounds int
	Logger    logging.Logger
}

// NewLoop constructs a Loop over a model and tool router.
func NewLoop(m model.Model, router *tool.Router, optFns ...func(o *LoopOptions)) *Loop {
	opts := LoopOptions{MaxRounds: DefaultMaxToolRounds, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = DefaultMaxToolRounds
	}
	return &Loop{model: m, router: router, maxRounds: opts.MaxRounds, logger: opts.Logger}
}

// Run executes the streaming loop. emit receives content/reasoning deltas and
// tool events in order; pass nil to suppress emission. On success the
// returned message carries the final text, the executed tool calls and any
// reasoning trace. On failure the message holds whatever partial content
// accumulated before the error, for persistence with error metadata.
func (l *Loop) Run(ctx context.Context, req model.Request, sessionID, agentID string, emit func(core.StreamEvent)) (*core.Message, error) {
	if emit == nil {
		emit = func(core.StreamEvent) {}
	}

	msg := core.NewMessage(sessionID, core.RoleAssistant, "")
	msg.AgentID = agentID

	messages := append([]model.Message(nil), req.Messages...)
	var (
		fullContent strings.Builder
		reasoning   strings.Builder
		usage       core.TokenUsage
	)

	finish := func() *core.Message {
		msg.Content = fullContent.String()
		if reasoning.Len() > 0 {
			msg.Reasoning = []core.ReasoningBlock{{Type: "thinking", Content: reasoning.String()}}
		}
		msg.Metadata = &core.Metadata{}
		if usage.TotalTokens > 0 {
			u := usage
			msg.Metadata.Usage = &u
		}
		return &msg
	}

	for round := 1; round <= l.maxRounds+1; round++ {
		final := round > l.maxRounds
		roundReq := req
		roundReq.Messages = messages
		if final {
			// Forced final call: no tools, the model must answer in text.
			roundReq.Tools = nil
		}

		resp, err := l.streamRound(ctx, roundReq, emit, &fullContent, &reasoning)
		if err != nil {
			return finish(), err
		}
		if resp.Usage.TotalTokens > 0 {
			usage = resp.Usage
		}

		if len(resp.ToolCalls) == 0 || final {
			return finish(), nil
		}

		emit(core.NewToolRound(round, l.maxRounds))

		// Placeholder assistant turn so providers see a well-formed
		// alternation before the injected tool results.
		messages = append(messages, model.Message{Role: core.RoleAssistant, Content: ""})

		for _, tc := range resp.ToolCalls {
			call := core.ToolCall{
				ID:        tc.ID,
				Name:      tc.Name,
				Arguments: tc.Arguments,
				Status:    core.ToolCallRunning,
			}
			emit(core.NewToolCallEvent(call))

			result := l.router.Execute(ctx, tc.Name, tc.Arguments)

			call.Status = core.ToolCallCompleted
			call.Result = result
			emit(core.NewToolCallEvent(call))
			msg.ToolCalls = append(msg.ToolCalls, call)

			messages = append(messages, model.Message{
				Role:    core.RoleUser,
				Content: fmt.Sprintf("[Tool '%s' returned: %s]\n\n%s", tc.Name, result, toolResultPrompt),
			})
		}

		// The next round produces the reply that follows from the tool
		// results; text from this round is not part of the final answer.
		fullContent.Reset()
	}

	return finish(), nil
}

// streamRound drains one model stream, forwarding deltas and accumulating
// text and reasoning.
func (l *Loop) streamRound(ctx context.Context, req model.Request, emit func(core.StreamEvent), content, reasoning *strings.Builder) (*model.Response, error) {
	start := time.Now()
	ch, err := l.model.ChatStream(ctx, req)
	if err != nil {
		l.recordModelCall(0, time.Since(start), err)
		return nil, err
	}
	for chunk := range ch {
		switch chunk.Type {
		case model.ChunkContent:
			content.WriteString(chunk.Delta)
			emit(core.NewContentDelta(chunk.Delta))
		case model.ChunkReasoning:
			reasoning.WriteString(chunk.Delta)
			emit(core.NewReasoningDelta(chunk.Delta))
		case model.ChunkDone:
			l.recordModelCall(chunk.Response.Usage.TotalTokens, time.Since(start), nil)
			return chunk.Response, nil
		case model.ChunkError:
			l.recordModelCall(0, time.Since(start), chunk.Err)
			return nil, chunk.Err
		}
	}
	return nil, fmt.Errorf("model stream closed without terminal chunk")
}

// modelCallRecorder is the optional model-call metrics surface a logger may
// provide beyond the basic Logger interface.
type modelCallRecorder interface {
	LogModelCall(model string, tokens int, dur time.Duration, success bool, err error)
}

func (l *Loop) recordModelCall(tokens int, dur time.Duration, err error) {
	if rec, ok := l.logger.(modelCallRecorder); ok {
		rec.LogModelCall(l.model.Info().Name, tokens, dur, err == nil, err)
	}
}

// RunQuiet executes the loop without event emission or streaming, returning
// only the final text. Team modes use it for members whose output is an
// intermediate contribution rather than the streamed answer.
func (l *Loop) RunQuiet(ctx context.Context, req model.Request) (string, error) {
	messages := append([]model.Message(nil), req.Messages...)

	for round := 1; round <= l.maxRounds; round++ {
		roundReq := req
		roundReq.Messages = messages

		resp, err := l.model.Chat(ctx, roundReq)
		if err != nil {
			return "", err
		}
		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		messages = append(messages, model.Message{Role: core.RoleAssistant, Content: resp.Content})
		for _, tc := range resp.ToolCalls {
			result := l.router.Execute(ctx, tc.Name, tc.Arguments)
			messages = append(messages, model.Message{
				Role:    core.RoleUser,
				Content: fmt.Sprintf("[Tool '%s' returned: %s]\n\n%s", tc.Name, result, toolResultPrompt),
			})
		}
	}

	// Final call without tools to force a text response.
	finalReq := req
	finalReq.Messages = messages
	finalReq.Tools = nil
	resp, err := l.model.Chat(ctx, finalReq)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
