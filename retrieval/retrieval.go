// Package retrieval provides per-session document indexing and lookup used to
// ground answers in uploaded files. The in-memory implementation chunks
// extracted text by paragraph and ranks chunks by token overlap with the
// query; heavier vector backends can replace it behind the Service interface.
package retrieval

import (
	"sort"
	"strings"
	"sync"
	"unicode"
)

// DefaultTopK is the number of chunks injected into a turn's context.
const DefaultTopK = 5

// maxChunkLen splits oversized paragraphs so single chunks stay prompt-sized.
const maxChunkLen = 1500

// Chunk is one scored piece of an indexed document.
type Chunk struct {
	Filename string  `json:"filename"`
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
}

// Service is the lookup surface the engine depends on.
type Service interface {
	// IndexDocument chunks and indexes extracted document text for a session.
	IndexDocument(sessionID, filename, text string) error

	// HasIndex reports whether the session has any indexed content.
	HasIndex(sessionID string) bool

	// Search returns the topK highest scoring chunks for the query.
	// Chunks with zero overlap are never returned.
	Search(sessionID, query string, topK int) ([]Chunk, error)
}

// MemoryIndex is an in-memory token-overlap Service implementation.
// Safe for concurrent use.
type MemoryIndex struct {
	mu       sync.RWMutex
	sessions map[string][]indexedChunk
}

type indexedChunk struct {
	filename string
	text     string
	tokens   map[string]struct{}
}

// NewMemoryIndex constructs an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{sessions: make(map[string][]indexedChunk)}
}

// IndexDocument implements Service.
func (m *MemoryIndex) IndexDocument(sessionID, filename, text string) error {
	chunks := splitChunks(text)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, chunk := range chunks {
		m.sessions[sessionID] = append(m.sessions[sessionID], indexedChunk{
			filename: filename,
			text:     chunk,
			tokens:   tokenize(chunk),
		})
	}
	return nil
}

// HasIndex implements Service.
func (m *MemoryIndex) HasIndex(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions[sessionID]) > 0
}

// Search implements Service.
func (m *MemoryIndex) Search(sessionID, query string, topK int) ([]Chunk, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	m.mu.RLock()
	indexed := m.sessions[sessionID]
	m.mu.RUnlock()

	scored := make([]Chunk, 0, len(indexed))
	for _, chunk := range indexed {
		overlap := 0
		for token := range queryTokens {
			if _, ok := chunk.tokens[token]; ok {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		scored = append(scored, Chunk{
			Filename: chunk.filename,
			Text:     chunk.text,
			Score:    float64(overlap) / float64(len(queryTokens)),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// splitChunks breaks text into paragraph chunks, further splitting any
// paragraph beyond maxChunkLen at sentence-ish boundaries.
func splitChunks(text string) []string {
	var chunks []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) <= maxChunkLen {
			chunks = append(chunks, para)
			continue
		}
		var current strings.Builder
		for _, sentence := range strings.SplitAfter(para, ". ") {
			if current.Len()+len(sentence) > maxChunkLen && current.Len() > 0 {
				chunks = append(chunks, strings.TrimSpace(current.String()))
				current.Reset()
			}
			current.WriteString(sentence)
		}
		if rest := strings.TrimSpace(current.String()); rest != "" {
			chunks = append(chunks, rest)
		}
	}
	return chunks
}

// tokenize lowercases and splits on non-alphanumeric runes, dropping
// single-character tokens.
func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, field := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		if len(field) < 2 {
			continue
		}
		tokens[field] = struct{}{}
	}
	return tokens
}
