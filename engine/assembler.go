package engine

import (
	"fmt"
	"strings"

	"github.com/convoke-ai/convoke/core"
	"github.com/convoke-ai/convoke/filestore"
	"github.com/convoke-ai/convoke/logging"
	"github.com/convoke-ai/convoke/model"
	"github.com/convoke-ai/convoke/retrieval"
)

// Assembler turns persisted session history plus the incoming user turn into
// the normalized message list sent to a model. Prior turns contribute their
// text only; the current turn is enriched with retrieval context and inline
// images.
type Assembler struct {
	retrieval retrieval.Service
	files     filestore.Store
	logger    logging.Logger
	topK      int
}

// NewAssembler wires the assembler's collaborators. retrieval and files may
// be nil when the deployment has no uploads.
func NewAssembler(retrievalSvc retrieval.Service, files filestore.Store, logger logging.Logger) *Assembler {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Assembler{retrieval: retrievalSvc, files: files, logger: logger, topK: retrieval.DefaultTopK}
}

// Assemble builds the model messages for a turn. history is the persisted
// session history excluding the current user message; userMsg is the current
// turn with its attachment records.
func (a *Assembler) Assemble(history []core.Message, userMsg core.Message) []model.Message {
	messages := make([]model.Message, 0, len(history)+1)
	for _, msg := range history {
		if msg.Role != core.RoleUser && msg.Role != core.RoleAssistant {
			continue
		}
		if msg.Content == "" {
			continue
		}
		messages = append(messages, model.Message{Role: msg.Role, Content: msg.Content})
	}

	current := model.Message{
		Role:    core.RoleUser,
		Content: userMsg.Content + a.retrievalContext(userMsg.SessionID, userMsg.Content),
		Images:  a.loadImages(userMsg),
	}
	return append(messages, current)
}

// retrievalContext returns the labeled top-K chunk block for the query, or
// the empty string when the session has no indexed documents.
func (a *Assembler) retrievalContext(sessionID, query string) string {
	if a.retrieval == nil || !a.retrieval.HasIndex(sessionID) {
		return ""
	}
	chunks, err := a.retrieval.Search(sessionID, query, a.topK)
	if err != nil {
		a.logger.Warn("Retrieval search failed", "session_id", sessionID, "error", err)
		return ""
	}
	if len(chunks) == 0 {
		return ""
	}
	labeled := make([]string, len(chunks))
	for i, chunk := range chunks {
		filename := chunk.Filename
		if filename == "" {
			filename = "document"
		}
		labeled[i] = fmt.Sprintf("[From %s]:\n%s", filename, chunk.Text)
	}
	return "\n\nRelevant context from uploaded documents:\n" + strings.Join(labeled, "\n\n")
}

// loadImages resolves the image attachments of the current turn to inline
// image payloads. Unreadable attachments are logged and skipped.
func (a *Assembler) loadImages(userMsg core.Message) []model.Image {
	if a.files == nil {
		return nil
	}
	var images []model.Image
	for _, att := range userMsg.Attachments {
		if att.Kind != core.AttachmentImage {
			continue
		}
		data, err := a.files.Get(userMsg.SessionID, att.ID)
		if err != nil {
			a.logger.Warn("Skipping unreadable image attachment", "attachment_id", att.ID, "error", err)
			continue
		}
		images = append(images, model.Image{MediaType: att.MediaType, Data: data})
	}
	return images
}
