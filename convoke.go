// Package convoke provides a high-level façade over the chat engine for
// embedding applications. Most programs interact with it by:
//  1. Creating a Convoke via New() (optionally overriding the in-memory
//     session, file and retrieval stores)
//  2. Registering agents and teams with their models, tools and tool servers
//  3. Running turns with Chat/TeamChat (streaming) or ChatSync (blocking)
//
// The façade delegates orchestration to engine.Engine while keeping setup
// ergonomics concise. The defaults are safe for local development and tests;
// production deployments typically supply the SQLite session store and a
// structured logger. It also satisfies the server package's Resolver, so a
// populated Convoke can back the HTTP API directly.
package convoke

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/convoke-ai/convoke/core"
	"github.com/convoke-ai/convoke/engine"
	"github.com/convoke-ai/convoke/filestore"
	"github.com/convoke-ai/convoke/logging"
	"github.com/convoke-ai/convoke/retrieval"
	"github.com/convoke-ai/convoke/session"
)

// Options configures the Convoke instance.
type Options struct {
	// Stores (default to in-memory implementations if not provided)
	Sessions  session.Store
	Files     filestore.Store
	Retrieval retrieval.Service

	// MaxToolRounds bounds tool-calling rounds per turn.
	MaxToolRounds int

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Convoke aggregates the engine and the registered agent/team catalogue.
type Convoke struct {
	engine *engine.Engine

	mu     sync.RWMutex
	agents map[string]*engine.AgentRuntime
	teams  map[string]*engine.TeamRuntime
}

// New creates a Convoke instance with optional overrides. Any unset store is
// initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) *Convoke {
	opts := Options{
		Sessions:  session.NewInMemoryStore(),
		Files:     filestore.NewInMemoryStore(),
		Retrieval: retrieval.NewMemoryIndex(),
		Logger:    logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	eng := engine.New(func(o *engine.Options) {
		o.Sessions = opts.Sessions
		o.Files = opts.Files
		o.Retrieval = opts.Retrieval
		o.Logger = opts.Logger
		o.MaxToolRounds = opts.MaxToolRounds
	})
	return &Convoke{
		engine: eng,
		agents: make(map[string]*engine.AgentRuntime),
		teams:  make(map[string]*engine.TeamRuntime),
	}
}

// Engine exposes the underlying engine.
func (c *Convoke) Engine() *engine.Engine { return c.engine }

// RegisterAgent adds or replaces an agent runtime.
func (c *Convoke) RegisterAgent(rt engine.AgentRuntime) error {
	if rt.Spec.ID == "" {
		return errors.New("agent requires an id")
	}
	if rt.Model == nil {
		return fmt.Errorf("agent %q requires a model", rt.Spec.ID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agents[rt.Spec.ID] = &rt
	return nil
}

// RegisterTeam adds or replaces a team runtime.
func (c *Convoke) RegisterTeam(rt engine.TeamRuntime) error {
	if rt.Spec.ID == "" {
		return errors.New("team requires an id")
	}
	if !rt.Spec.Mode.Valid() {
		return fmt.Errorf("team %q: unknown mode %q", rt.Spec.ID, rt.Spec.Mode)
	}
	if len(rt.Members) == 0 {
		return fmt.Errorf("team %q requires members", rt.Spec.ID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teams[rt.Spec.ID] = &rt
	return nil
}

// ResolveAgent returns a registered agent runtime.
func (c *Convoke) ResolveAgent(_ context.Context, id string) (*engine.AgentRuntime, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if a, ok := c.agents[id]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("unknown agent %q", id)
}

// ResolveTeam returns a registered team runtime.
func (c *Convoke) ResolveTeam(_ context.Context, id string) (*engine.TeamRuntime, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if t, ok := c.teams[id]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("unknown team %q", id)
}

// Chat runs a streaming turn against a registered agent.
func (c *Convoke) Chat(ctx context.Context, sessionID, agentID, message string, uploads ...engine.Upload) (<-chan core.StreamEvent, error) {
	agent, err := c.ResolveAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return c.engine.Chat(ctx, engine.ChatRequest{
		SessionID:   sessionID,
		Message:     message,
		Attachments: uploads,
		Agent:       agent,
	}), nil
}

// TeamChat runs a streaming turn against a registered team.
func (c *Convoke) TeamChat(ctx context.Context, sessionID, teamID, message string, uploads ...engine.Upload) (<-chan core.StreamEvent, error) {
	team, err := c.ResolveTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	return c.engine.Chat(ctx, engine.ChatRequest{
		SessionID:   sessionID,
		Message:     message,
		Attachments: uploads,
		Team:        team,
	}), nil
}

// ChatSync runs a turn against a registered agent and blocks until the final
// message or an error.
func (c *Convoke) ChatSync(ctx context.Context, sessionID, agentID, message string, uploads ...engine.Upload) (*core.Message, error) {
	events, err := c.Chat(ctx, sessionID, agentID, message, uploads...)
	if err != nil {
		return nil, err
	}
	return Wait(events)
}

// Wait drains an event stream and returns the completed message, or the
// stream's error.
func Wait(events <-chan core.StreamEvent) (*core.Message, error) {
	var final *core.Message
	for ev := range events {
		switch ev.Type {
		case core.EventMessageComplete:
			msg := ev.Data.(core.Message)
			final = &msg
		case core.EventError:
			return nil, errors.New(ev.Data.(core.ErrorPayload).Error)
		}
	}
	if final == nil {
		return nil, errors.New("stream ended without a completed message")
	}
	return final, nil
}

// History returns the persisted messages of a session.
func (c *Convoke) History(ctx context.Context, sessionID string) ([]core.Message, error) {
	return c.engine.Sessions().Messages(ctx, sessionID)
}
