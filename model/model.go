package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/convoke-ai/convoke/core"
)

// ToolCall represents a function call request surfaced by a model provider.
// Unified across vendors so downstream logic does not need per-provider branching.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON text of arguments
}

// ToolDefinition declaratively exposes a callable function to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"` // JSON Schema
}

// Image is an inline image passed alongside a message. Adapters encode the
// bytes in their provider's wire shape (data URI or base64 block).
type Image struct {
	MediaType string `json:"media_type"`
	Data      []byte `json:"data"`
}

// Message is a single normalized conversation entry sent to a provider.
type Message struct {
	Role    core.Role `json:"role"`
	Content string    `json:"content"`
	Images  []Image   `json:"images,omitempty"`
}

// Request captures the normalized model input produced by the engine.
type Request struct {
	System      string           `json:"system,omitempty"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
}

// Response is the final aggregated result of one model invocation.
type Response struct {
	Content   string          `json:"content"`
	Reasoning string          `json:"reasoning,omitempty"`
	ToolCalls []ToolCall      `json:"tool_calls,omitempty"`
	Usage     core.TokenUsage `json:"usage"`
}

// ChunkType discriminates streamed chunk payloads.
type ChunkType string

const (
	// ChunkContent carries an incremental answer text fragment.
	ChunkContent ChunkType = "content"
	// ChunkReasoning carries an incremental thinking fragment.
	ChunkReasoning ChunkType = "reasoning"
	// ChunkDone terminates a successful stream and carries the full Response.
	ChunkDone ChunkType = "done"
	// ChunkError terminates a failed stream and carries the error.
	ChunkError ChunkType = "error"
)

// Chunk is one entry of a model stream. The channel is finite: the provider
// closes it immediately after emitting a ChunkDone or ChunkError.
type Chunk struct {
	Type     ChunkType
	Delta    string
	Response *Response
	Err      error
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface the engine requires to drive generation.
type Model interface {
	// Chat performs a blocking invocation and returns the aggregated response.
	Chat(ctx context.Context, req Request) (*Response, error)

	// ChatStream performs a streaming invocation. The returned channel emits
	// content/reasoning deltas followed by exactly one terminal chunk (done
	// with the full response, or error), then closes.
	ChatStream(ctx context.Context, req Request) (<-chan Chunk, error)

	// Info returns information about the model implementation.
	Info() Info
}

// Collect drains a chunk stream and returns the terminal response or error.
// Providers use it to derive Chat from ChatStream.
func Collect(ch <-chan Chunk) (*Response, error) {
	for chunk := range ch {
		switch chunk.Type {
		case ChunkDone:
			return chunk.Response, nil
		case ChunkError:
			return nil, chunk.Err
		}
	}
	return nil, fmt.Errorf("model stream closed without terminal chunk")
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
// Scripted responses are consumed in FIFO order across invocations; when the
// script is exhausted it echoes the last user message.
type MockModel struct {
	info       Info
	script     []*Response
	scriptErrs []error
	canned     map[string]string
	failWith   error
	calls      []Request
}

// NewMockModel constructs a MockModel with basic tool support enabled.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info: Info{
			Name:          name,
			Provider:      "mock",
			SupportsTools: true,
		},
		canned: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) { m.canned[prompt] = response }

// Enqueue appends scripted responses consumed one per invocation, ahead of
// any canned prompt matches.
func (m *MockModel) Enqueue(responses ...*Response) {
	m.script = append(m.script, responses...)
	for range responses {
		m.scriptErrs = append(m.scriptErrs, nil)
	}
}

// EnqueueStreamError appends a scripted invocation that streams content and
// then fails mid-stream instead of completing.
func (m *MockModel) EnqueueStreamError(content string, err error) {
	m.script = append(m.script, &Response{Content: content})
	m.scriptErrs = append(m.scriptErrs, err)
}

// FailWith makes every subsequent invocation return err.
func (m *MockModel) FailWith(err error) { m.failWith = err }

// Calls returns the requests received so far, in order.
func (m *MockModel) Calls() []Request { return m.calls }

func (m *MockModel) next(req Request) (*Response, error) {
	if len(m.script) > 0 {
		resp, serr := m.script[0], m.scriptErrs[0]
		m.script, m.scriptErrs = m.script[1:], m.scriptErrs[1:]
		return resp, serr
	}
	var input string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == core.RoleUser {
			input = req.Messages[i].Content
			break
		}
	}
	if full, ok := m.canned[input]; ok {
		return &Response{Content: full}, nil
	}
	return &Response{Content: fmt.Sprintf("Mock response to: %s", input)}, nil
}

// Chat implements Model.
func (m *MockModel) Chat(ctx context.Context, req Request) (*Response, error) {
	ch, err := m.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return Collect(ch)
}

// ChatStream implements Model; emits word-level chunks then the terminal chunk.
func (m *MockModel) ChatStream(ctx context.Context, req Request) (<-chan Chunk, error) {
	m.calls = append(m.calls, req)
	ch := make(chan Chunk, 16)
	if m.failWith != nil {
		err := m.failWith
		go func() {
			defer close(ch)
			ch <- Chunk{Type: ChunkError, Err: err}
		}()
		return ch, nil
	}
	resp, serr := m.next(req)
	go func() {
		defer close(ch)
		for _, word := range strings.SplitAfter(resp.Content, " ") {
			if word == "" {
				continue
			}
			select {
			case <-ctx.Done():
				ch <- Chunk{Type: ChunkError, Err: ctx.Err()}
				return
			case ch <- Chunk{Type: ChunkContent, Delta: word}:
			}
		}
		if serr != nil {
			ch <- Chunk{Type: ChunkError, Err: serr}
			return
		}
		ch <- Chunk{Type: ChunkDone, Response: resp}
	}()
	return ch, nil
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
