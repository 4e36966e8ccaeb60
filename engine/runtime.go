// Package engine orchestrates chat turns: it assembles model context from
// session history, retrieval and attachments, drives the bounded tool-calling
// conversation loop, coordinates multi-agent teams and owns the ordered
// event stream a turn emits.
package engine

import (
	"github.com/convoke-ai/convoke/core"
	"github.com/convoke-ai/convoke/mcptool"
	"github.com/convoke-ai/convoke/model"
	"github.com/convoke-ai/convoke/tool"
)

// AgentRuntime binds a configured agent to its resolved collaborators for a
// turn: the model backend, the native tool catalogue and the external tool
// servers to connect.
type AgentRuntime struct {
	Spec    core.AgentSpec
	Model   model.Model
	Tools   []tool.Definition
	Servers []mcptool.ServerConfig
}

// TeamRuntime binds a configured team to its resolved members. Member order
// is the declared order and is semantically meaningful in collaborate mode.
type TeamRuntime struct {
	Spec    core.TeamSpec
	Members []AgentRuntime
}
