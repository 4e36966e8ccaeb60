// Package mcptool connects agents to external MCP tool servers. Connections
// are scoped to a single chat turn: the engine opens a ConnectionSet before
// dispatching and closes it on every exit path. Tools discovered on a server
// are advertised under namespaced "server::tool" names so native and remote
// catalogues never collide.
package mcptool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	mcp "trpc.group/trpc-go/trpc-mcp-go"

	"github.com/convoke-ai/convoke/tool"
)

// Transport kinds supported for server connections.
const (
	TransportStdio      = "stdio"
	TransportStreamable = "streamable"
)

const defaultTimeout = 30 * time.Second

var clientInfo = mcp.Implementation{
	Name:    "convoke",
	Version: "1.0.0",
}

// ServerConfig describes one external tool server.
type ServerConfig struct {
	Name      string            `json:"name" yaml:"name"`
	Transport string            `json:"transport" yaml:"transport"` // stdio | streamable
	Command   string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args      []string          `json:"args,omitempty" yaml:"args,omitempty"`
	ServerURL string            `json:"server_url,omitempty" yaml:"server_url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Timeout   time.Duration     `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Client is the narrow MCP client surface the package depends on. The
// trpc-mcp-go stdio and streamable clients both satisfy it.
type Client interface {
	Initialize(ctx context.Context, req *mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req *mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Dialer creates a Client for a server config. Replaceable in tests.
type Dialer func(cfg ServerConfig) (Client, error)

// dial creates the transport-appropriate trpc-mcp-go client.
func dial(cfg ServerConfig) (Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	switch cfg.Transport {
	case TransportStdio:
		transportCfg := mcp.StdioTransportConfig{
			ServerParams: mcp.StdioServerParameters{
				Command: cfg.Command,
				Args:    cfg.Args,
			},
			Timeout: timeout,
		}
		return mcp.NewStdioClient(transportCfg, clientInfo)
	case TransportStreamable:
		var options []mcp.ClientOption
		if len(cfg.Headers) > 0 {
			headers := http.Header{}
			for k, v := range cfg.Headers {
				headers.Set(k, v)
			}
			options = append(options, mcp.WithHTTPHeaders(headers))
		}
		return mcp.NewClient(cfg.ServerURL, clientInfo, options...)
	default:
		return nil, fmt.Errorf("unsupported transport: %q", cfg.Transport)
	}
}

// Connection is one initialized server session with its discovered tools.
type Connection struct {
	Server string
	client Client
	defs   []tool.Definition
}

// Definitions returns the namespaced tool definitions discovered on connect.
func (c *Connection) Definitions() []tool.Definition { return c.defs }

// connect initializes the session and discovers the server's tools.
func connect(ctx context.Context, cfg ServerConfig, client Client) (*Connection, error) {
	if _, err := client.Initialize(ctx, &mcp.InitializeRequest{}); err != nil {
		return nil, fmt.Errorf("initialize session: %w", err)
	}

	listResp, err := client.ListTools(ctx, &mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	conn := &Connection{Server: cfg.Name, client: client}
	for _, t := range listResp.Tools {
		name := t.Name
		conn.defs = append(conn.defs, tool.Definition{
			Name:        tool.JoinName(cfg.Name, name),
			Description: t.Description,
			Parameters:  schemaToMap(t.InputSchema),
			Handler: tool.HandlerFunc(func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				return conn.call(ctx, name, args)
			}),
		})
	}
	return conn, nil
}

// call invokes a tool on the remote server and folds its content into text.
func (c *Connection) call(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	callReq := &mcp.CallToolRequest{}
	callReq.Params.Name = name
	callReq.Params.Arguments = args

	callResp, err := c.client.CallTool(ctx, callReq)
	if err != nil {
		return nil, fmt.Errorf("call tool %s on server %s: %w", name, c.Server, err)
	}
	text := contentText(callResp.Content)
	if callResp.IsError {
		if text == "" {
			text = "unknown error"
		}
		return nil, fmt.Errorf("tool %s returned error: %s", name, text)
	}
	return text, nil
}

// contentText joins the textual content blocks of a tool result.
func contentText(contents []mcp.Content) string {
	var parts []string
	for _, content := range contents {
		switch c := content.(type) {
		case mcp.TextContent:
			parts = append(parts, c.Text)
		case mcp.ImageContent:
			parts = append(parts, fmt.Sprintf("[image %s, %d bytes base64]", c.MimeType, len(c.Data)))
		}
	}
	return strings.Join(parts, "\n")
}

// schemaToMap converts a server-reported input schema to the generic map
// shape via a JSON round trip.
func schemaToMap(schema interface{}) map[string]interface{} {
	fallback := map[string]interface{}{"type": "object"}
	if schema == nil {
		return fallback
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return fallback
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil || out == nil {
		return fallback
	}
	return out
}

// close releases the underlying client.
func (c *Connection) close() error { return c.client.Close() }
