package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/convoke-ai/convoke/logging"
)

// NameSeparator namespaces tools discovered on remote servers as
// "server::tool". Native tool names never contain it.
const NameSeparator = "::"

// JoinName builds the namespaced name advertised for a remote server tool.
func JoinName(server, tool string) string {
	return server + NameSeparator + tool
}

// ParseName splits a namespaced name into server and tool. ok is false for
// plain (native) names.
func ParseName(name string) (server, tool string, ok bool) {
	server, tool, ok = strings.Cut(name, NameSeparator)
	if !ok || server == "" || tool == "" {
		return "", "", false
	}
	return server, tool, true
}

// Router resolves tool names to handlers and executes them. It holds the
// native catalogue for an agent plus the remote tools bound for the current
// turn. Execute never returns a Go error: every failure is folded into a
// JSON error payload handed back to the model as the tool result.
type Router struct {
	logger   logging.Logger
	native   map[string]Definition
	external map[string]Definition
}

// RouterOptions configure a Router.
type RouterOptions struct {
	Logger logging.Logger
}

// NewRouter constructs a Router over the agent's native catalogue.
func NewRouter(native []Definition, optFns ...func(o *RouterOptions)) *Router {
	opts := RouterOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	r := &Router{
		logger:   opts.Logger,
		native:   make(map[string]Definition, len(native)),
		external: make(map[string]Definition),
	}
	for _, def := range native {
		r.native[def.Name] = def
	}
	return r
}

// BindExternal registers remote server tools (namespaced names) for the
// current turn. Later bindings replace earlier ones with the same name.
func (r *Router) BindExternal(defs []Definition) {
	for _, def := range defs {
		r.external[def.Name] = def
	}
}

// Definitions returns the combined catalogue in stable name order, native
// tools first.
func (r *Router) Definitions() []Definition {
	out := make([]Definition, 0, len(r.native)+len(r.external))
	for _, m := range []map[string]Definition{r.native, r.external} {
		names := make([]string, 0, len(m))
		for name := range m {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			out = append(out, m[name])
		}
	}
	return out
}

// Execute runs the named tool with the JSON arguments text produced by the
// model and returns the textual result. Failures never propagate as errors;
// they are returned as {"error": ...} payloads so the conversation loop can
// keep going.
func (r *Router) Execute(ctx context.Context, name, argumentsText string) string {
	args := map[string]interface{}{}
	if strings.TrimSpace(argumentsText) != "" {
		if err := json.Unmarshal([]byte(argumentsText), &args); err != nil {
			// Models occasionally emit malformed argument JSON; run the
			// tool with empty arguments rather than aborting the call.
			r.logger.Warn("Malformed tool arguments, proceeding with none", "tool", name, "error", err)
			args = map[string]interface{}{}
		}
	}

	def, ok := r.external[name]
	if !ok {
		def, ok = r.native[name]
	}
	if !ok {
		if server, _, namespaced := ParseName(name); namespaced {
			return errorPayload(fmt.Sprintf("tool server '%s' is not connected", server))
		}
		return errorPayload(fmt.Sprintf("unknown tool '%s'", name))
	}

	start := time.Now()
	result, err := def.Handler.Execute(ctx, args)
	r.recordCall(name, time.Since(start), err)
	if err != nil {
		return errorPayload(err.Error())
	}
	return normalizeResult(result)
}

// toolCallRecorder is the optional per-call metrics surface a logger may
// provide beyond the basic Logger interface.
type toolCallRecorder interface {
	LogToolCall(tool string, dur time.Duration, success bool, err error)
}

func (r *Router) recordCall(name string, dur time.Duration, err error) {
	if rec, ok := r.logger.(toolCallRecorder); ok {
		rec.LogToolCall(name, dur, err == nil, err)
		return
	}
	if err != nil {
		r.logger.Error("Tool execution failed", "tool", name, "duration", dur, "error", err)
		return
	}
	r.logger.Debug("Tool execution completed", "tool", name, "duration", dur)
}

// normalizeResult folds an arbitrary handler result into the text fed back
// to the model.
func normalizeResult(result interface{}) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func errorPayload(msg string) string {
	data, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return `{"error": "internal error"}`
	}
	return string(data)
}
