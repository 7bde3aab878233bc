// Package agents holds the concrete workflow implementations and the
// registry the façade resolves them from.
package agents

import (
	"sort"

	"github.com/lumenclass/agentrun/internal/engine"
	"github.com/lumenclass/agentrun/pkg/schema"
)

// Registry is an immutable agent-type → implementation map, built once
// at startup and injected into the façade. Unknown and duplicate tags
// are rejected at build time, not at call time.
type Registry struct {
	agents map[schema.AgentType]engine.Agent
}

// NewRegistry builds a Registry from the given agents.
func NewRegistry(agents ...engine.Agent) (*Registry, error) {
	m := make(map[schema.AgentType]engine.Agent, len(agents))
	for _, a := range agents {
		t := a.Type()
		if _, known := schema.KnownAgentTypes[t]; !known {
			return nil, schema.NewErrorf(schema.ErrCodeAgentNotRegistered,
				"agent type %q is not a known tag", t)
		}
		if _, dup := m[t]; dup {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"duplicate agent registration for type %q", t)
		}
		m[t] = a
	}
	return &Registry{agents: m}, nil
}

// Resolve returns the agent for the given type.
func (r *Registry) Resolve(t schema.AgentType) (engine.Agent, error) {
	a, ok := r.agents[t]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeAgentNotRegistered,
			"no agent registered for type %q", t)
	}
	return a, nil
}

// All returns every registered agent, sorted by type for stable output.
func (r *Registry) All() []engine.Agent {
	out := make([]engine.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type() < out[j].Type() })
	return out
}
