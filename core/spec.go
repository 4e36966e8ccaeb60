package core

// AgentSpec is the read-only description of a single configured agent.
// Ownership of the record (creation, update, deletion) belongs to the
// embedding application; the engine only consumes it.
type AgentSpec struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// TeamMode selects one of the three team execution strategies. The set is
// closed; orchestration branches on it rather than on subtypes.
type TeamMode string

const (
	// TeamCoordinate routes the turn to the single best-suited member.
	TeamCoordinate TeamMode = "coordinate"
	// TeamRoute fans the turn out to every member and synthesizes one answer.
	TeamRoute TeamMode = "route"
	// TeamCollaborate chains members in declared order, each building on
	// the previous outputs.
	TeamCollaborate TeamMode = "collaborate"
)

// Valid reports whether the mode is one of the three known strategies.
func (m TeamMode) Valid() bool {
	switch m {
	case TeamCoordinate, TeamRoute, TeamCollaborate:
		return true
	}
	return false
}

// TeamSpec is the read-only description of a team. Member wiring (models,
// tools, servers) is supplied at run time by the caller.
type TeamSpec struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Mode TeamMode `json:"mode"`
}
