package core

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleUser marks a message authored by the end user.
	RoleUser Role = "user"
	// RoleAssistant marks a message authored by an agent.
	RoleAssistant Role = "assistant"
	// RoleSystem marks an instruction message.
	RoleSystem Role = "system"
	// RoleTool marks a tool result message.
	RoleTool Role = "tool"
)

// ToolCallStatus tracks the lifecycle of a single tool invocation.
type ToolCallStatus string

const (
	// ToolCallRunning means the tool is currently executing. Only ephemeral
	// round state ever holds running calls; persisted messages never do.
	ToolCallRunning ToolCallStatus = "running"
	// ToolCallCompleted means the tool finished and Result is populated.
	ToolCallCompleted ToolCallStatus = "completed"
)

// ToolCall records one tool invocation requested by the model. Name may be
// namespaced as "<server>::<tool>" when the tool lives on an external tool
// server.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments string         `json:"arguments"` // serialized JSON payload
	Status    ToolCallStatus `json:"status"`
	Result    string         `json:"result,omitempty"`
}

// AttachmentKind classifies an uploaded file.
type AttachmentKind string

const (
	// AttachmentImage is inlined into the model prompt as media.
	AttachmentImage AttachmentKind = "image"
	// AttachmentDocument is extracted and indexed for retrieval.
	AttachmentDocument AttachmentKind = "document"
)

// ClassifyAttachment derives the attachment kind from its MIME type.
func ClassifyAttachment(mediaType string) AttachmentKind {
	if len(mediaType) >= 6 && mediaType[:6] == "image/" {
		return AttachmentImage
	}
	return AttachmentDocument
}

// Attachment is the persisted record of an uploaded file. The raw bytes live
// in the file store; messages only carry this reference.
type Attachment struct {
	ID        string         `json:"id"`
	Filename  string         `json:"filename"`
	MediaType string         `json:"media_type"`
	Kind      AttachmentKind `json:"kind"`
	Size      int64          `json:"size,omitempty"`
}

// ReasoningBlock is one fragment of model thinking captured during a turn.
type ReasoningBlock struct {
	Type    string `json:"type"` // "thinking"
	Content string `json:"content"`
}

// AgentRef identifies an agent that contributed to a team answer.
type AgentRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TokenUsage captures token accounting reported by a model backend.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Metadata annotates a persisted assistant message with provenance and
// timing details.
type Metadata struct {
	Model              string      `json:"model,omitempty"`
	Provider           string      `json:"provider,omitempty"`
	LatencyMS          int64       `json:"latency_ms,omitempty"`
	Usage              *TokenUsage `json:"tokens_used,omitempty"`
	TeamMode           TeamMode    `json:"team_mode,omitempty"`
	ContributingAgents []AgentRef  `json:"contributing_agents,omitempty"`
	Error              string      `json:"error,omitempty"`
}

// Message is one persisted conversation turn. Immutable once handed to the
// session store. A message's ToolCalls, if any, are always completed.
type Message struct {
	ID          string           `json:"id"`
	SessionID   string           `json:"session_id"`
	Role        Role             `json:"role"`
	Content     string           `json:"content"`
	AgentID     string           `json:"agent_id,omitempty"`
	ToolCalls   []ToolCall       `json:"tool_calls,omitempty"`
	Reasoning   []ReasoningBlock `json:"reasoning,omitempty"`
	Attachments []Attachment     `json:"attachments,omitempty"`
	Metadata    *Metadata        `json:"metadata,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// NewMessage constructs a message with a fresh ID and UTC timestamp.
func NewMessage(sessionID string, role Role, content string) Message {
	return Message{
		ID:        NewID(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// NewID generates a unique identifier for messages, tool calls and events.
func NewID() string { return uuid.NewString() }
