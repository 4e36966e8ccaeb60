// Package config loads the YAML deployment file and resolves it into the
// runtime catalogue of models, agents and teams the server dispatches to.
package config

import (
	"fmt"
	"os"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"gopkg.in/yaml.v3"

	"github.com/convoke-ai/convoke/core"
	"github.com/convoke-ai/convoke/logging"
	"github.com/convoke-ai/convoke/mcptool"
	"github.com/convoke-ai/convoke/model"
	modelanthropic "github.com/convoke-ai/convoke/model/anthropic"
	modelopenai "github.com/convoke-ai/convoke/model/openai"
	"github.com/convoke-ai/convoke/session"
	"github.com/convoke-ai/convoke/tool"
)

// Config is the root of the deployment file.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Storage StorageConfig `yaml:"storage"`
	Models  []ModelConfig `yaml:"models"`
	Agents  []AgentConfig `yaml:"agents"`
	Teams   []TeamConfig  `yaml:"teams"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// StorageConfig selects where session history lives.
type StorageConfig struct {
	Sessions   string `yaml:"sessions"` // memory | sqlite
	SQLitePath string `yaml:"sqlite_path"`
}

// ModelConfig declares one model backend under a referenceable name.
type ModelConfig struct {
	Name        string   `yaml:"name"`
	Provider    string   `yaml:"provider"` // openai | anthropic | mock
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int64    `yaml:"max_tokens"`
	APIKey      string   `yaml:"api_key"`
}

// ToolConfig declares one native tool of an agent.
type ToolConfig struct {
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description"`
	Type        string                 `yaml:"type"` // http | script
	Parameters  map[string]interface{} `yaml:"parameters"`

	// http
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method"`
	Headers map[string]string `yaml:"headers"`

	// script
	Code           string `yaml:"code"`
	Interpreter    string `yaml:"interpreter"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// AgentConfig declares one agent and its tool surface.
type AgentConfig struct {
	ID           string                 `yaml:"id"`
	Name         string                 `yaml:"name"`
	Description  string                 `yaml:"description"`
	Model        string                 `yaml:"model"`
	SystemPrompt string                 `yaml:"system_prompt"`
	Tools        []ToolConfig           `yaml:"tools"`
	Servers      []mcptool.ServerConfig `yaml:"servers"`
}

// TeamConfig declares one team over previously declared agents.
type TeamConfig struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Mode    string   `yaml:"mode"`
	Members []string `yaml:"members"`
}

// Load reads and parses the deployment file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses a deployment file from memory.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Storage.Sessions == "" {
		c.Storage.Sessions = "memory"
	}
	if c.Storage.Sessions == "sqlite" && c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "convoke.db"
	}
}

func (c *Config) validate() error {
	models := make(map[string]bool, len(c.Models))
	for _, m := range c.Models {
		if m.Name == "" {
			return fmt.Errorf("model without a name")
		}
		if models[m.Name] {
			return fmt.Errorf("duplicate model %q", m.Name)
		}
		switch m.Provider {
		case "openai", "anthropic", "mock":
		default:
			return fmt.Errorf("model %q: unknown provider %q", m.Name, m.Provider)
		}
		models[m.Name] = true
	}

	agents := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if a.ID == "" || a.Name == "" {
			return fmt.Errorf("agent must have id and name")
		}
		if agents[a.ID] {
			return fmt.Errorf("duplicate agent %q", a.ID)
		}
		if !models[a.Model] {
			return fmt.Errorf("agent %q references unknown model %q", a.ID, a.Model)
		}
		for _, t := range a.Tools {
			switch t.Type {
			case "http":
				if t.URL == "" {
					return fmt.Errorf("agent %q: http tool %q needs a url", a.ID, t.Name)
				}
			case "script":
				if t.Code == "" {
					return fmt.Errorf("agent %q: script tool %q needs code", a.ID, t.Name)
				}
			default:
				return fmt.Errorf("agent %q: tool %q has unknown type %q", a.ID, t.Name, t.Type)
			}
		}
		agents[a.ID] = true
	}

	teams := make(map[string]bool, len(c.Teams))
	for _, t := range c.Teams {
		if t.ID == "" {
			return fmt.Errorf("team without an id")
		}
		if teams[t.ID] {
			return fmt.Errorf("duplicate team %q", t.ID)
		}
		if !core.TeamMode(t.Mode).Valid() {
			return fmt.Errorf("team %q: unknown mode %q", t.ID, t.Mode)
		}
		if len(t.Members) == 0 {
			return fmt.Errorf("team %q has no members", t.ID)
		}
		for _, m := range t.Members {
			if !agents[m] {
				return fmt.Errorf("team %q references unknown agent %q", t.ID, m)
			}
		}
		teams[t.ID] = true
	}
	return nil
}

// BuildLogger constructs the configured logger.
func (c *Config) BuildLogger() *logging.ConvokeLogger {
	level := logging.LogLevelInfo
	switch c.Logging.Level {
	case "debug":
		level = logging.LogLevelDebug
	case "warn":
		level = logging.LogLevelWarn
	case "error":
		level = logging.LogLevelError
	}
	return logging.NewSlogLogger(level, c.Logging.Format, false)
}

// BuildSessionStore constructs the configured session store.
func (c *Config) BuildSessionStore() (session.Store, error) {
	switch c.Storage.Sessions {
	case "sqlite":
		return session.OpenSQLite(c.Storage.SQLitePath)
	case "memory":
		return session.NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown session storage %q", c.Storage.Sessions)
	}
}

func (m ModelConfig) build() model.Model {
	switch m.Provider {
	case "anthropic":
		return modelanthropic.New(func(o *modelanthropic.Options) {
			if m.Model != "" {
				o.Model = anthropicsdk.Model(m.Model)
			}
			if m.Temperature != nil {
				o.Temperature = *m.Temperature
			}
			if m.MaxTokens > 0 {
				o.MaxTokens = m.MaxTokens
			}
			o.APIKey = m.APIKey
		})
	case "mock":
		return model.NewMockModel(m.Name)
	default:
		return modelopenai.New(func(o *modelopenai.Options) {
			if m.Model != "" {
				o.Model = m.Model
			}
			if m.Temperature != nil {
				o.Temperature = *m.Temperature
			}
			if m.MaxTokens > 0 {
				o.MaxCompletionTokens = m.MaxTokens
			}
		})
	}
}

func (t ToolConfig) build() tool.Definition {
	def := tool.Definition{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  t.Parameters,
	}
	switch t.Type {
	case "http":
		def.Handler = tool.NewHTTPHandler(t.URL, t.Method, t.Headers)
	case "script":
		var optFns []func(h *tool.ScriptHandler)
		if t.Interpreter != "" {
			optFns = append(optFns, tool.WithInterpreter(t.Interpreter))
		}
		if t.TimeoutSeconds > 0 {
			optFns = append(optFns, tool.WithScriptTimeout(time.Duration(t.TimeoutSeconds)*time.Second))
		}
		def.Handler = tool.NewScriptHandler(t.Code, optFns...)
	}
	return def
}
