// Package server exposes the chat engine over HTTP. POST /v1/chat streams a
// turn as server-sent events; session history is readable as JSON.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/convoke-ai/convoke/core"
	"github.com/convoke-ai/convoke/engine"
	"github.com/convoke-ai/convoke/logging"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = ":8080"
	// maxRequestBody caps the chat request body, attachments included.
	maxRequestBody = 32 * 1024 * 1024
)

// Resolver maps the agent or team identifier of an incoming request to its
// bound runtime. The embedding application owns the catalogue.
type Resolver interface {
	ResolveAgent(ctx context.Context, id string) (*engine.AgentRuntime, error)
	ResolveTeam(ctx context.Context, id string) (*engine.TeamRuntime, error)
}

// Options configure a Server.
type Options struct {
	Addr           string
	Logger         logging.Logger
	AllowedOrigins []string
}

// Server is the HTTP front end over an Engine.
type Server struct {
	engine   *engine.Engine
	resolver Resolver
	logger   logging.Logger
	router   *mux.Router
	httpSrv  *http.Server
}

// New constructs a Server around an engine and a resolver.
func New(eng *engine.Engine, resolver Resolver, optFns ...func(o *Options)) *Server {
	opts := Options{
		Addr:           DefaultAddr,
		Logger:         logging.NoOpLogger{},
		AllowedOrigins: []string{"*"},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	s := &Server{
		engine:   eng,
		resolver: resolver,
		logger:   opts.Logger,
		router:   mux.NewRouter(),
	}

	c := cors.New(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	s.router.Use(c.Handler)
	s.registerRoutes()

	s.httpSrv = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/v1/chat", s.handleChat).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/sessions/{id}/messages", s.handleMessages).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
}

// Handler returns the routing handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe blocks serving HTTP until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP server listening", "addr", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

type attachmentPayload struct {
	Filename  string `json:"filename"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"` // base64
}

type chatPayload struct {
	SessionID   string              `json:"session_id"`
	Message     string              `json:"message"`
	AgentID     string              `json:"agent_id,omitempty"`
	TeamID      string              `json:"team_id,omitempty"`
	Attachments []attachmentPayload `json:"attachments,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var payload chatPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if payload.Message == "" {
		writeError(w, http.StatusBadRequest, errors.New("message is required"))
		return
	}
	if (payload.AgentID == "") == (payload.TeamID == "") {
		writeError(w, http.StatusBadRequest, errors.New("exactly one of agent_id or team_id is required"))
		return
	}

	req := engine.ChatRequest{
		SessionID: payload.SessionID,
		Message:   payload.Message,
	}
	for _, att := range payload.Attachments {
		data, err := base64.StdEncoding.DecodeString(att.Data)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("attachment %q is not valid base64: %w", att.Filename, err))
			return
		}
		req.Attachments = append(req.Attachments, engine.Upload{
			Filename:  att.Filename,
			MediaType: att.MediaType,
			Data:      data,
		})
	}

	ctx := r.Context()
	if payload.AgentID != "" {
		agent, err := s.resolver.ResolveAgent(ctx, payload.AgentID)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		req.Agent = agent
	} else {
		team, err := s.resolver.ResolveTeam(ctx, payload.TeamID)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		req.Team = team
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range s.engine.Chat(ctx, req) {
		if err := ev.WriteSSE(w); err != nil {
			s.logger.Warn("Client disconnected mid-stream", "session_id", payload.SessionID, "error", err)
			return
		}
		flusher.Flush()
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	msgs, err := s.engine.Sessions().Messages(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if msgs == nil {
		msgs = []core.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
