// Package core provides the foundational domain types shared across Convoke.
// It defines the core abstractions for:
//
//   - Messages (persisted conversation records with tool calls, reasoning
//     traces and attachment references)
//   - Agent and team specifications (the configured units of conversation)
//   - Stream events (the ordered wire contract a chat turn emits)
//
// The package intentionally keeps implementation concerns (model providers,
// tool execution, persistence, orchestration) out of scope so higher layers
// can depend on it without cycles.
package core
