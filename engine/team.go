package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/convoke-ai/convoke/core"
	"github.com/convoke-ai/convoke/logging"
	"github.com/convoke-ai/convoke/model"
)

// runner binds an agent spec to its model, tool surface and loop for the
// duration of one turn.
type runner struct {
	spec  core.AgentSpec
	model model.Model
	tools []model.ToolDefinition
	loop  *Loop
}

func (r *runner) request(messages []model.Message) model.Request {
	return model.Request{
		System:   r.spec.SystemPrompt,
		Messages: messages,
		Tools:    r.tools,
	}
}

// annotate stamps the producing model's identity on the message metadata.
func (r *runner) annotate(msg *core.Message) {
	if msg == nil {
		return
	}
	if msg.Metadata == nil {
		msg.Metadata = &core.Metadata{}
	}
	info := r.model.Info()
	msg.Metadata.Model = info.Name
	msg.Metadata.Provider = info.Provider
}

const synthesisPrompt = "You are a synthesis assistant. Multiple agents have responded to a user query. " +
	"Review all responses and produce the single best, comprehensive answer. " +
	"You may combine insights from multiple agents or choose the best response.\n\n" +
	"Do NOT mention that multiple agents responded. Just provide the best answer directly."

// Team orchestrates a turn across multiple agents according to the team's
// mode. Members are already bound to their per-turn tool routers.
type Team struct {
	spec    core.TeamSpec
	members []*runner
	logger  logging.Logger
}

func newTeam(spec core.TeamSpec, members []*runner, logger logging.Logger) *Team {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Team{spec: spec, members: members, logger: logger}
}

// Run dispatches the turn to the mode-specific strategy. base is the
// assembled conversation (history plus the augmented user message);
// userMessage is the raw user text, used where a sub-call needs the query
// without retrieval context.
func (t *Team) Run(ctx context.Context, base []model.Message, userMessage, sessionID string, emit func(core.StreamEvent)) (*core.Message, error) {
	if len(t.members) == 0 {
		return nil, errors.New("team has no members")
	}
	if emit == nil {
		emit = func(core.StreamEvent) {}
	}
	switch t.spec.Mode {
	case core.TeamCoordinate:
		return t.coordinate(ctx, base, userMessage, sessionID, emit)
	case core.TeamRoute:
		return t.route(ctx, base, userMessage, sessionID, emit)
	case core.TeamCollaborate:
		return t.collaborate(ctx, base, sessionID, emit)
	default:
		return nil, fmt.Errorf("unknown team mode %q", t.spec.Mode)
	}
}

// coordinate asks a routing model to pick the best member, then lets that
// member answer. The first member's model doubles as the router.
func (t *Team) coordinate(ctx context.Context, base []model.Message, userMessage, sessionID string, emit func(core.StreamEvent)) (*core.Message, error) {
	router := t.members[0]

	var lines []string
	for _, m := range t.members {
		desc := m.spec.Description
		if desc == "" {
			desc = "No description"
		}
		lines = append(lines, fmt.Sprintf("- **%s** (id=%s): %s", m.spec.Name, m.spec.ID, desc))
	}
	routerPrompt := "You are a routing assistant. Your job is to select the single best agent to handle the user's query.\n\n" +
		fmt.Sprintf("Available agents:\n%s\n\n", strings.Join(lines, "\n")) +
		"Reply with ONLY the agent name (exactly as shown) that should handle this query. Nothing else."

	emit(core.NewAgentStep(router.spec.ID, "Router", "routing"))

	resp, err := router.model.Chat(ctx, model.Request{
		System:   routerPrompt,
		Messages: []model.Message{{Role: core.RoleUser, Content: userMessage}},
	})
	if err != nil {
		return nil, fmt.Errorf("routing failed: %w", err)
	}

	selected := t.members[0]
	answer := strings.ToLower(strings.TrimSpace(resp.Content))
	for _, m := range t.members {
		name := strings.ToLower(m.spec.Name)
		if strings.Contains(answer, name) || strings.Contains(name, answer) {
			selected = m
			break
		}
	}

	t.logger.Debug("Routed query", "team", t.spec.Name, "agent", selected.spec.Name)
	emit(core.NewAgentStep(selected.spec.ID, selected.spec.Name, "responding"))

	msg, err := selected.loop.Run(ctx, selected.request(base), sessionID, selected.spec.ID, emit)
	selected.annotate(msg)
	return msg, err
}

// route fans the turn out to every member in parallel, then streams a
// synthesized answer over the successful responses. A member failure drops
// that member's contribution; the turn fails only when every member fails.
func (t *Team) route(ctx context.Context, base []model.Message, userMessage, sessionID string, emit func(core.StreamEvent)) (*core.Message, error) {
	emit(core.NewAgentStep("", "Router", "routing"))

	type outcome struct {
		content string
		err     error
	}
	outcomes := make([]outcome, len(t.members))

	var wg sync.WaitGroup
	for i, m := range t.members {
		wg.Add(1)
		go func(i int, m *runner) {
			defer wg.Done()
			content, err := m.loop.RunQuiet(ctx, m.request(base))
			outcomes[i] = outcome{content: content, err: err}
		}(i, m)
	}
	wg.Wait()

	var (
		refs      []core.AgentRef
		responses []string
	)
	for i, m := range t.members {
		if outcomes[i].err != nil {
			t.logger.Warn("Team member failed", "agent", m.spec.Name, "error", outcomes[i].err)
			continue
		}
		refs = append(refs, core.AgentRef{ID: m.spec.ID, Name: m.spec.Name})
		responses = append(responses, fmt.Sprintf("**%s:**\n%s", m.spec.Name, outcomes[i].content))
		emit(core.NewAgentStep(m.spec.ID, m.spec.Name, "completed"))
	}
	if len(refs) == 0 {
		return nil, errors.New("All agents failed to respond")
	}

	synth := t.members[0]
	emit(core.NewAgentStep("", "Synthesizer", "synthesizing"))

	msg, err := synth.loop.Run(ctx, model.Request{
		System: synthesisPrompt,
		Messages: []model.Message{
			{Role: core.RoleUser, Content: userMessage},
			{Role: core.RoleUser, Content: "Here are the responses from different specialists:\n\n" + strings.Join(responses, "\n\n")},
		},
	}, sessionID, synth.spec.ID, emit)
	synth.annotate(msg)
	if msg != nil && msg.Metadata != nil {
		msg.Metadata.TeamMode = core.TeamRoute
		msg.Metadata.ContributingAgents = refs
	}
	return msg, err
}

// collaborate chains members in declared order. Each non-final member runs
// quietly and its output is handed to the next as additional context; the
// final member streams the answer.
func (t *Team) collaborate(ctx context.Context, base []model.Message, sessionID string, emit func(core.StreamEvent)) (*core.Message, error) {
	var contributions []string

	for i, m := range t.members {
		emit(core.NewAgentStep(m.spec.ID, m.spec.Name, "responding"))

		messages := append([]model.Message(nil), base...)
		if len(contributions) > 0 {
			messages = append(messages, model.Message{
				Role: core.RoleUser,
				Content: "Previous team members have provided these inputs:\n\n" +
					strings.Join(contributions, "\n\n") +
					"\n\nPlease build on their work to provide your contribution.",
			})
		}

		if i == len(t.members)-1 {
			msg, err := m.loop.Run(ctx, m.request(messages), sessionID, m.spec.ID, emit)
			m.annotate(msg)
			return msg, err
		}

		content, err := m.loop.RunQuiet(ctx, m.request(messages))
		if err != nil {
			return nil, fmt.Errorf("agent %s failed: %w", m.spec.Name, err)
		}
		contributions = append(contributions, fmt.Sprintf("[%s said]: %s", m.spec.Name, content))
	}
	return nil, errors.New("team has no members")
}
