package engine

import (
	"context"
	"errors"
	"time"

	"github.com/convoke-ai/convoke/core"
	"github.com/convoke-ai/convoke/filestore"
	"github.com/convoke-ai/convoke/logging"
	"github.com/convoke-ai/convoke/mcptool"
	"github.com/convoke-ai/convoke/model"
	"github.com/convoke-ai/convoke/retrieval"
	"github.com/convoke-ai/convoke/session"
	"github.com/convoke-ai/convoke/tool"
)

// Options configure an Engine.
type Options struct {
	Sessions      session.Store
	Files         filestore.Store
	Retrieval     retrieval.Service
	Logger        logging.Logger
	MaxToolRounds int

	// MCPOptions are applied when opening tool server connections, mainly
	// so tests can inject a dialer.
	MCPOptions []func(o *mcptool.OpenOptions)
}

// Engine runs chat turns end to end: it ingests uploads, assembles model
// context, drives the conversation loop or team orchestration, persists the
// resulting messages and emits the ordered event stream.
type Engine struct {
	sessions   session.Store
	files      filestore.Store
	retrieval  retrieval.Service
	assembler  *Assembler
	logger     logging.Logger
	maxRounds  int
	mcpOptions []func(o *mcptool.OpenOptions)
}

// New creates an Engine. Without options it keeps sessions, files and the
// retrieval index in memory.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		Sessions:      session.NewInMemoryStore(),
		Files:         filestore.NewInMemoryStore(),
		Retrieval:     retrieval.NewMemoryIndex(),
		Logger:        logging.NoOpLogger{},
		MaxToolRounds: DefaultMaxToolRounds,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = DefaultMaxToolRounds
	}
	return &Engine{
		sessions:   opts.Sessions,
		files:      opts.Files,
		retrieval:  opts.Retrieval,
		assembler:  NewAssembler(opts.Retrieval, opts.Files, opts.Logger),
		logger:     opts.Logger,
		maxRounds:  opts.MaxToolRounds,
		mcpOptions: opts.MCPOptions,
	}
}

// Sessions exposes the session store for read endpoints.
func (e *Engine) Sessions() session.Store { return e.sessions }

// Upload is one file attached to the incoming turn.
type Upload struct {
	Filename  string
	MediaType string
	Data      []byte
}

// ChatRequest describes one turn. Exactly one of Agent or Team must be set.
type ChatRequest struct {
	SessionID   string
	Message     string
	Attachments []Upload
	Agent       *AgentRuntime
	Team        *TeamRuntime
}

// Chat runs a turn and returns its event stream. The channel is closed after
// the terminal event: done on success (preceded by message_complete), error
// on failure. Partial assistant content produced before a failure is
// persisted with error metadata but not announced as message_complete.
func (e *Engine) Chat(ctx context.Context, req ChatRequest) <-chan core.StreamEvent {
	events := make(chan core.StreamEvent, 64)
	go func() {
		defer close(events)
		emit := func(ev core.StreamEvent) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		}
		e.run(ctx, req, emit)
	}()
	return events
}

func (e *Engine) run(ctx context.Context, req ChatRequest, emit func(core.StreamEvent)) {
	if (req.Agent == nil) == (req.Team == nil) {
		emit(core.NewErrorEvent(errors.New("exactly one of agent or team must be set")))
		return
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = core.NewID()
	}

	// Count tool rounds as they stream past, for the turn summary log.
	toolRounds := 0
	forward := emit
	emit = func(ev core.StreamEvent) {
		if ev.Type == core.EventToolRound {
			toolRounds++
		}
		forward(ev)
	}

	history, err := e.sessions.Messages(ctx, sessionID)
	if err != nil {
		emit(core.NewErrorEvent(err))
		return
	}

	userMsg := e.ingest(sessionID, req)
	if err := e.sessions.AppendMessage(ctx, userMsg); err != nil {
		emit(core.NewErrorEvent(err))
		return
	}

	base := e.assembler.Assemble(history, userMsg)
	start := time.Now()

	var msg *core.Message
	if req.Agent != nil {
		msg, err = e.runAgent(ctx, *req.Agent, base, sessionID, emit)
	} else {
		msg, err = e.runTeam(ctx, *req.Team, base, req.Message, sessionID, emit)
	}
	latency := time.Since(start).Milliseconds()

	mode := "agent"
	if req.Team != nil {
		mode = string(req.Team.Spec.Mode)
	}
	if rec, ok := e.logger.(turnRecorder); ok {
		rec.LogTurn(mode, toolRounds, time.Since(start), err == nil, err)
	}

	if err != nil {
		e.logger.Error("Turn failed", "session_id", sessionID, "error", err)
		// Keep whatever the model produced before the failure.
		if msg != nil && msg.Content != "" {
			if msg.Metadata == nil {
				msg.Metadata = &core.Metadata{}
			}
			msg.Metadata.Error = err.Error()
			msg.Metadata.LatencyMS = latency
			// The request context may already be canceled when we get
			// here; the partial message must still reach the store.
			if serr := e.sessions.AppendMessage(context.WithoutCancel(ctx), *msg); serr != nil {
				e.logger.Error("Failed to persist partial message", "session_id", sessionID, "error", serr)
			}
		}
		emit(core.NewErrorEvent(err))
		return
	}

	if msg.Metadata == nil {
		msg.Metadata = &core.Metadata{}
	}
	msg.Metadata.LatencyMS = latency
	if req.Team != nil {
		msg.Metadata.TeamMode = req.Team.Spec.Mode
	}

	if err := e.sessions.AppendMessage(ctx, *msg); err != nil {
		emit(core.NewErrorEvent(err))
		return
	}
	emit(core.NewMessageComplete(*msg))
	emit(core.NewDone())
}

// ingest records the turn's uploads: every file is stored, images are kept
// for prompt inlining, documents are extracted and indexed for retrieval.
// A file that cannot be processed is logged and skipped, never fatal.
// turnRecorder is the optional turn metrics surface a logger may provide
// beyond the basic Logger interface.
type turnRecorder interface {
	LogTurn(mode string, rounds int, dur time.Duration, success bool, err error)
}

func (e *Engine) ingest(sessionID string, req ChatRequest) core.Message {
	userMsg := core.NewMessage(sessionID, core.RoleUser, req.Message)
	if tm, ok := e.logger.(interface{ StartTimer(op string) func() }); ok && len(req.Attachments) > 0 {
		defer tm.StartTimer("ingest_attachments")()
	}
	for _, up := range req.Attachments {
		att := core.Attachment{
			ID:        core.NewID(),
			Filename:  up.Filename,
			MediaType: up.MediaType,
			Kind:      core.ClassifyAttachment(up.MediaType),
			Size:      int64(len(up.Data)),
		}
		if e.files != nil {
			if err := e.files.Save(sessionID, att.ID, up.Data); err != nil {
				e.logger.Warn("Skipping attachment", "filename", up.Filename, "error", err)
				continue
			}
		}
		if att.Kind == core.AttachmentDocument && e.retrieval != nil {
			text, err := retrieval.ExtractText(up.MediaType, up.Data)
			if err != nil {
				e.logger.Warn("Could not extract document text", "filename", up.Filename, "error", err)
			} else if err := e.retrieval.IndexDocument(sessionID, up.Filename, text); err != nil {
				e.logger.Warn("Could not index document", "filename", up.Filename, "error", err)
			}
		}
		userMsg.Attachments = append(userMsg.Attachments, att)
	}
	return userMsg
}

// prepare opens the agent's tool server connections and binds its router and
// loop for the turn. The returned closer tears the connections down.
func (e *Engine) prepare(ctx context.Context, rt AgentRuntime) (*runner, func()) {
	set := mcptool.Open(ctx, rt.Servers, e.mcpOpenOptions()...)
	router := tool.NewRouter(rt.Tools, func(o *tool.RouterOptions) {
		o.Logger = e.logger
	})
	router.BindExternal(set.Definitions())
	return &runner{
		spec:  rt.Spec,
		model: rt.Model,
		tools: tool.ModelDefinitions(router.Definitions()),
		loop:  e.newLoop(rt, router),
	}, set.Close
}

func (e *Engine) newLoop(rt AgentRuntime, router *tool.Router) *Loop {
	return NewLoop(rt.Model, router, func(o *LoopOptions) {
		o.MaxRounds = e.maxRounds
		o.Logger = e.logger
	})
}

func (e *Engine) mcpOpenOptions() []func(o *mcptool.OpenOptions) {
	opts := []func(o *mcptool.OpenOptions){func(o *mcptool.OpenOptions) {
		o.Logger = e.logger
	}}
	return append(opts, e.mcpOptions...)
}

func (e *Engine) runAgent(ctx context.Context, rt AgentRuntime, base []model.Message, sessionID string, emit func(core.StreamEvent)) (*core.Message, error) {
	r, closeServers := e.prepare(ctx, rt)
	defer closeServers()

	msg, err := r.loop.Run(ctx, r.request(base), sessionID, r.spec.ID, emit)
	r.annotate(msg)
	return msg, err
}

func (e *Engine) runTeam(ctx context.Context, rt TeamRuntime, base []model.Message, userMessage, sessionID string, emit func(core.StreamEvent)) (*core.Message, error) {
	members := make([]*runner, 0, len(rt.Members))
	for _, m := range rt.Members {
		r, closeServers := e.prepare(ctx, m)
		defer closeServers()
		members = append(members, r)
	}
	team := newTeam(rt.Spec, members, e.logger)
	return team.Run(ctx, base, userMessage, sessionID, emit)
}
