package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// defaultScriptTimeout bounds a single script execution.
const defaultScriptTimeout = 30 * time.Second

// scriptRunner is appended to user code before execution. It reads the JSON
// arguments from stdin, calls handler(arguments) and prints the result to
// stdout (dicts and lists JSON-encoded, everything else stringified).
const scriptRunner = `
if __name__ == "__main__":
    import json as _json
    import sys as _sys
    _arguments = _json.load(_sys.stdin)
    _result = handler(_arguments)
    if isinstance(_result, (dict, list)):
        _sys.stdout.write(_json.dumps(_result))
    else:
        _sys.stdout.write(str(_result))
`

// ScriptHandler executes user-supplied code out of process. The code must
// define a handler(arguments) function; it is written to a temporary file
// together with a runner footer and executed under the configured interpreter
// with a hard timeout and a stripped environment. Arguments are piped to the
// subprocess as JSON on stdin.
type ScriptHandler struct {
	Code        string
	Interpreter string
	Timeout     time.Duration
}

// NewScriptHandler constructs a ScriptHandler with python3 and the default
// timeout unless overridden.
func NewScriptHandler(code string, optFns ...func(h *ScriptHandler)) *ScriptHandler {
	h := &ScriptHandler{
		Code:        code,
		Interpreter: "python3",
		Timeout:     defaultScriptTimeout,
	}
	for _, fn := range optFns {
		fn(h)
	}
	return h
}

// WithInterpreter overrides the interpreter binary.
func WithInterpreter(interpreter string) func(h *ScriptHandler) {
	return func(h *ScriptHandler) { h.Interpreter = interpreter }
}

// WithScriptTimeout overrides the execution timeout.
func WithScriptTimeout(timeout time.Duration) func(h *ScriptHandler) {
	return func(h *ScriptHandler) { h.Timeout = timeout }
}

// Execute implements Handler.
func (h *ScriptHandler) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if !strings.Contains(h.Code, "def handler") {
		return nil, fmt.Errorf("code must define a handler(arguments) function")
	}

	tempDir, err := os.MkdirTemp("", "convoke_script_")
	if err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	scriptPath := filepath.Join(tempDir, "handler.py")
	if err := os.WriteFile(scriptPath, []byte(h.Code+"\n"+scriptRunner), 0o644); err != nil {
		return nil, fmt.Errorf("write script file: %w", err)
	}

	input, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode arguments: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()
	// #nosec G204 -- interpreter and path are controlled by us
	cmd := exec.CommandContext(timeoutCtx, h.Interpreter, scriptPath)
	cmd.Dir = tempDir
	cmd.Stdin = strings.NewReader(string(input))
	// Stripped environment: no ambient credentials leak into user code.
	cmd.Env = []string{"PATH=" + os.Getenv("PATH")}

	output, err := cmd.CombinedOutput()
	if timeoutCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("script timed out after %s", h.Timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("script failed: %s: %w", strings.TrimSpace(string(output)), err)
	}
	return string(output), nil
}
