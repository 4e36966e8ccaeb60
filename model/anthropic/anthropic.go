// Package anthropic provides a model wrapper for the Anthropic Claude API.
package anthropic

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/convoke-ai/convoke/core"
	"github.com/convoke-ai/convoke/model"
)

// Options configures the Anthropic model adapter (temperature, model id,
// max tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

// New creates a new Anthropic model using the official client
func New(optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Model{
		client: &client,
		opts:   opts,
	}
}

// NewFromClient creates a new Anthropic model from an existing client
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Model{
		client: client,
		opts:   opts,
	}
}

// Chat performs a blocking invocation, draining the streamed chunks.
func (m *Model) Chat(ctx context.Context, req model.Request) (*model.Response, error) {
	ch, err := m.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return model.Collect(ch)
}

// ChatStream implements streaming generation over the Messages API, emitting
// text and thinking deltas and aggregating the final message (including tool
// use blocks) through the SDK accumulator.
func (m *Model) ChatStream(ctx context.Context, req model.Request) (<-chan model.Chunk, error) {
	params := m.buildParams(req)
	out := make(chan model.Chunk, 32)
	go func() {
		defer close(out)

		stream := m.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		acc := anthropic.Message{}
		for stream.Next() {
			chunk := stream.Current()
			if err := acc.Accumulate(chunk); err != nil {
				out <- model.Chunk{Type: model.ChunkError, Err: fmt.Errorf("anthropic stream accumulate: %w", err)}
				return
			}
			switch event := chunk.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				switch delta := event.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if delta.Text != "" {
						out <- model.Chunk{Type: model.ChunkContent, Delta: delta.Text}
					}
				case anthropic.ThinkingDelta:
					if delta.Thinking != "" {
						out <- model.Chunk{Type: model.ChunkReasoning, Delta: delta.Thinking}
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- model.Chunk{Type: model.ChunkError, Err: fmt.Errorf("anthropic streaming error: %w", err)}
			return
		}

		out <- model.Chunk{Type: model.ChunkDone, Response: finalResponse(acc)}
	}()
	return out, nil
}

// finalResponse aggregates accumulated content blocks into a model.Response.
func finalResponse(acc anthropic.Message) *model.Response {
	resp := &model.Response{
		Usage: core.TokenUsage{
			PromptTokens:     int(acc.Usage.InputTokens),
			CompletionTokens: int(acc.Usage.OutputTokens),
			TotalTokens:      int(acc.Usage.InputTokens + acc.Usage.OutputTokens),
		},
	}
	for _, content := range acc.Content {
		switch block := content.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += block.Text
		case anthropic.ThinkingBlock:
			resp.Reasoning += block.Thinking
		case anthropic.ToolUseBlock:
			resp.ToolCalls = append(resp.ToolCalls, model.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(block.Input),
			})
		}
	}
	return resp
}

// buildParams assembles the Messages API request.
func (m *Model) buildParams(req model.Request) anthropic.MessageNewParams {
	temperature := m.opts.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := m.opts.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}
	params := anthropic.MessageNewParams{
		Model:       m.opts.Model,
		Messages:    buildMessages(req.Messages),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}
	return params
}

// buildMessages converts normalized messages to Anthropic message format.
// System entries are handled separately by the caller.
func buildMessages(messages []model.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, msg := range messages {
		switch msg.Role {
		case core.RoleSystem:
			continue
		case core.RoleAssistant:
			if msg.Content != "" {
				out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
			}
		default:
			content := buildUserContent(msg)
			if len(content) > 0 {
				out = append(out, anthropic.NewUserMessage(content...))
			}
		}
	}
	return out
}

// buildUserContent builds content blocks for a user message, inlining images
// as base64 blocks.
func buildUserContent(msg model.Message) []anthropic.ContentBlockParamUnion {
	var content []anthropic.ContentBlockParamUnion
	if msg.Content != "" {
		content = append(content, anthropic.NewTextBlock(msg.Content))
	}
	for _, img := range msg.Images {
		encoded := base64.StdEncoding.EncodeToString(img.Data)
		content = append(content, anthropic.NewImageBlockBase64(img.MediaType, encoded))
	}
	return content
}

// buildTools converts normalized tool definitions to Anthropic tool format
func buildTools(tools []model.ToolDefinition) []anthropic.ToolUnionParam {
	anthropicTools := make([]anthropic.ToolUnionParam, len(tools))

	for i, tool := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}

		if tool.Parameters != nil {
			if properties, exists := tool.Parameters["properties"]; exists {
				inputSchema.Properties = properties
			}
			if required, exists := tool.Parameters["required"]; exists {
				if reqSlice, ok := required.([]string); ok {
					inputSchema.Required = reqSlice
				} else if reqInterface, ok := required.([]interface{}); ok {
					var reqStrings []string
					for _, r := range reqInterface {
						if s, ok := r.(string); ok {
							reqStrings = append(reqStrings, s)
						}
					}
					inputSchema.Required = reqStrings
				}
			}
		}

		anthropicTools[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: inputSchema,
			},
		}
	}

	return anthropicTools
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          string(m.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
	}
}
