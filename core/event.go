package core

import (
	"encoding/json"
	"fmt"
	"io"
)

// EventType names one kind of stream event. The set matches the wire
// contract consumed by chat clients; every event of a turn is delivered in
// emission order to exactly one subscriber.
type EventType string

const (
	// EventContentDelta carries an incremental fragment of answer text.
	EventContentDelta EventType = "content_delta"
	// EventReasoningDelta carries an incremental fragment of model thinking.
	EventReasoningDelta EventType = "reasoning_delta"
	// EventToolRound announces the start of a tool execution round.
	EventToolRound EventType = "tool_round"
	// EventToolCall reports a single tool invocation (running, then completed).
	EventToolCall EventType = "tool_call"
	// EventAgentStep reports team-mode progress (routing, responding, ...).
	EventAgentStep EventType = "agent_step"
	// EventMessageComplete carries the full persisted assistant message.
	EventMessageComplete EventType = "message_complete"
	// EventDone terminates a successful turn. Always preceded by
	// EventMessageComplete.
	EventDone EventType = "done"
	// EventError terminates a failed turn. Never followed by further events.
	EventError EventType = "error"
)

// ContentDelta is the payload of EventContentDelta and EventReasoningDelta.
type ContentDelta struct {
	Content string `json:"content"`
}

// ToolRound is the payload of EventToolRound.
type ToolRound struct {
	Round     int `json:"round"`
	MaxRounds int `json:"max_rounds"`
}

// AgentStep is the payload of EventAgentStep.
type AgentStep struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	Step      string `json:"step"`
}

// ErrorPayload is the payload of EventError.
type ErrorPayload struct {
	Error string `json:"error"`
}

// StreamEvent is one entry in a turn's ordered event sequence. Data holds
// the type-specific payload: ContentDelta, ToolRound, ToolCall, AgentStep,
// Message, ErrorPayload, or nil for done.
type StreamEvent struct {
	Type EventType
	Data any
}

// NewContentDelta builds a content_delta event.
func NewContentDelta(content string) StreamEvent {
	return StreamEvent{Type: EventContentDelta, Data: ContentDelta{Content: content}}
}

// NewReasoningDelta builds a reasoning_delta event.
func NewReasoningDelta(content string) StreamEvent {
	return StreamEvent{Type: EventReasoningDelta, Data: ContentDelta{Content: content}}
}

// NewToolRound builds a tool_round event for the given 1-based round index.
func NewToolRound(round, maxRounds int) StreamEvent {
	return StreamEvent{Type: EventToolRound, Data: ToolRound{Round: round, MaxRounds: maxRounds}}
}

// NewToolCallEvent builds a tool_call event snapshotting the call state.
func NewToolCallEvent(tc ToolCall) StreamEvent {
	return StreamEvent{Type: EventToolCall, Data: tc}
}

// NewAgentStep builds an agent_step event.
func NewAgentStep(agentID, agentName, step string) StreamEvent {
	return StreamEvent{Type: EventAgentStep, Data: AgentStep{AgentID: agentID, AgentName: agentName, Step: step}}
}

// NewMessageComplete builds a message_complete event wrapping the persisted
// message.
func NewMessageComplete(msg Message) StreamEvent {
	return StreamEvent{Type: EventMessageComplete, Data: msg}
}

// NewDone builds the terminal done event.
func NewDone() StreamEvent { return StreamEvent{Type: EventDone} }

// NewErrorEvent builds the terminal error event.
func NewErrorEvent(err error) StreamEvent {
	return StreamEvent{Type: EventError, Data: ErrorPayload{Error: err.Error()}}
}

// EncodeData serializes the event payload as JSON. Events without a payload
// encode as an empty object so every frame carries valid JSON.
func (e StreamEvent) EncodeData() ([]byte, error) {
	if e.Data == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(e.Data)
}

// WriteSSE frames the event as a server-sent event (event + data lines).
func (e StreamEvent) WriteSSE(w io.Writer) error {
	data, err := e.EncodeData()
	if err != nil {
		return fmt.Errorf("encode %s event: %w", e.Type, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
	return err
}

// Terminal reports whether the event ends the turn's stream.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}
