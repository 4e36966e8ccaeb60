package mcptool

import (
	"context"

	"github.com/convoke-ai/convoke/logging"
	"github.com/convoke-ai/convoke/tool"
)

// ConnectionSet holds the server connections opened for one chat turn.
type ConnectionSet struct {
	logger logging.Logger
	conns  map[string]*Connection
	order  []string
}

// OpenOptions configure Open.
type OpenOptions struct {
	Logger logging.Logger
	Dialer Dialer
}

// Open acquires connections for every configured server. A server that fails
// to connect or discover its tools is logged and skipped; the turn proceeds
// with the servers that did come up. Callers must Close the returned set on
// every exit path.
func Open(ctx context.Context, configs []ServerConfig, optFns ...func(o *OpenOptions)) *ConnectionSet {
	opts := OpenOptions{Logger: logging.NoOpLogger{}, Dialer: dial}
	for _, fn := range optFns {
		fn(&opts)
	}

	set := &ConnectionSet{logger: opts.Logger, conns: make(map[string]*Connection)}
	for _, cfg := range configs {
		client, err := opts.Dialer(cfg)
		if err != nil {
			opts.Logger.Warn("Skipping tool server", "server", cfg.Name, "error", err)
			continue
		}
		conn, err := connect(ctx, cfg, client)
		if err != nil {
			opts.Logger.Warn("Skipping tool server", "server", cfg.Name, "error", err)
			if closeErr := client.Close(); closeErr != nil {
				opts.Logger.Warn("Failed to close tool server client", "server", cfg.Name, "error", closeErr)
			}
			continue
		}
		set.conns[cfg.Name] = conn
		set.order = append(set.order, cfg.Name)
		opts.Logger.Info("Connected to tool server", "server", cfg.Name, "tools", len(conn.defs))
	}
	return set
}

// Definitions returns the namespaced tool definitions of every connected
// server, in connection order.
func (s *ConnectionSet) Definitions() []tool.Definition {
	var out []tool.Definition
	for _, name := range s.order {
		out = append(out, s.conns[name].defs...)
	}
	return out
}

// Connected reports whether the named server came up for this turn.
func (s *ConnectionSet) Connected(server string) bool {
	_, ok := s.conns[server]
	return ok
}

// Len returns the number of live connections.
func (s *ConnectionSet) Len() int { return len(s.conns) }

// Close releases every opened connection. Close errors are logged, not
// propagated; the turn outcome never depends on teardown.
func (s *ConnectionSet) Close() {
	for _, name := range s.order {
		if err := s.conns[name].close(); err != nil {
			s.logger.Warn("Failed to close tool server connection", "server", name, "error", err)
		}
	}
	s.conns = map[string]*Connection{}
	s.order = nil
}
