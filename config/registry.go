package config

import (
	"context"
	"fmt"

	"github.com/convoke-ai/convoke/core"
	"github.com/convoke-ai/convoke/engine"
	"github.com/convoke-ai/convoke/model"
	"github.com/convoke-ai/convoke/tool"
)

// Registry is the resolved catalogue the server dispatches against. It
// satisfies the server's Resolver interface.
type Registry struct {
	agents map[string]*engine.AgentRuntime
	teams  map[string]*engine.TeamRuntime
}

// BuildRegistry resolves the declared models, agents and teams into bound
// runtimes.
func (c *Config) BuildRegistry() (*Registry, error) {
	backends := make(map[string]model.Model, len(c.Models))
	for _, m := range c.Models {
		backends[m.Name] = m.build()
	}

	reg := &Registry{
		agents: make(map[string]*engine.AgentRuntime, len(c.Agents)),
		teams:  make(map[string]*engine.TeamRuntime, len(c.Teams)),
	}

	for _, a := range c.Agents {
		backend, ok := backends[a.Model]
		if !ok {
			return nil, fmt.Errorf("agent %q references unknown model %q", a.ID, a.Model)
		}
		tools := make([]tool.Definition, 0, len(a.Tools))
		for _, t := range a.Tools {
			tools = append(tools, t.build())
		}
		reg.agents[a.ID] = &engine.AgentRuntime{
			Spec: core.AgentSpec{
				ID:           a.ID,
				Name:         a.Name,
				Description:  a.Description,
				SystemPrompt: a.SystemPrompt,
			},
			Model:   backend,
			Tools:   tools,
			Servers: a.Servers,
		}
	}

	for _, t := range c.Teams {
		members := make([]engine.AgentRuntime, 0, len(t.Members))
		for _, id := range t.Members {
			member, ok := reg.agents[id]
			if !ok {
				return nil, fmt.Errorf("team %q references unknown agent %q", t.ID, id)
			}
			members = append(members, *member)
		}
		reg.teams[t.ID] = &engine.TeamRuntime{
			Spec: core.TeamSpec{
				ID:   t.ID,
				Name: t.Name,
				Mode: core.TeamMode(t.Mode),
			},
			Members: members,
		}
	}
	return reg, nil
}

// ResolveAgent returns the runtime for an agent id.
func (r *Registry) ResolveAgent(_ context.Context, id string) (*engine.AgentRuntime, error) {
	if a, ok := r.agents[id]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("unknown agent %q", id)
}

// ResolveTeam returns the runtime for a team id.
func (r *Registry) ResolveTeam(_ context.Context, id string) (*engine.TeamRuntime, error) {
	if t, ok := r.teams[id]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("unknown team %q", id)
}

// Agents lists the registered agent ids.
func (r *Registry) Agents() []string {
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	return ids
}
