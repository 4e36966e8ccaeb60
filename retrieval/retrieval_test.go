package retrieval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIndex_IndexAndSearch(t *testing.T) {
	idx := NewMemoryIndex()
	assert.False(t, idx.HasIndex("s1"))

	require.NoError(t, idx.IndexDocument("s1", "handbook.pdf",
		"Vacation policy grants twenty days per year.\n\nRemote work is allowed on Fridays."))
	assert.True(t, idx.HasIndex("s1"))
	assert.False(t, idx.HasIndex("s2"))

	chunks, err := idx.Search("s1", "how many vacation days do I get", 5)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "handbook.pdf", chunks[0].Filename)
	assert.Contains(t, chunks[0].Text, "Vacation policy")
}

func TestMemoryIndex_SearchRanking(t *testing.T) {
	idx := NewMemoryIndex()
	require.NoError(t, idx.IndexDocument("s1", "a.txt", "The billing system charges monthly."))
	require.NoError(t, idx.IndexDocument("s1", "b.txt", "Billing invoices are sent by the billing system every monthly cycle."))

	chunks, err := idx.Search("s1", "billing system monthly", 5)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	// Both contain every query token; order is stable.
	assert.True(t, chunks[0].Score >= chunks[1].Score)
}

func TestMemoryIndex_SearchTopK(t *testing.T) {
	idx := NewMemoryIndex()
	var paras []string
	for i := 0; i < 10; i++ {
		paras = append(paras, "Kubernetes cluster configuration notes.")
	}
	require.NoError(t, idx.IndexDocument("s1", "notes.txt", strings.Join(paras, "\n\n")))

	chunks, err := idx.Search("s1", "kubernetes cluster", 5)
	require.NoError(t, err)
	assert.Len(t, chunks, 5)
}

func TestMemoryIndex_SearchNoOverlap(t *testing.T) {
	idx := NewMemoryIndex()
	require.NoError(t, idx.IndexDocument("s1", "a.txt", "Entirely unrelated content."))

	chunks, err := idx.Search("s1", "quantum chromodynamics", 5)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestMemoryIndex_SessionIsolation(t *testing.T) {
	idx := NewMemoryIndex()
	require.NoError(t, idx.IndexDocument("s1", "a.txt", "alpha beta gamma"))

	chunks, err := idx.Search("s2", "alpha beta", 5)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplitChunks(t *testing.T) {
	chunks := splitChunks("first para\n\n\n\nsecond para\n\n")
	assert.Equal(t, []string{"first para", "second para"}, chunks)

	long := strings.Repeat("This is a fairly long sentence used to force splitting. ", 80)
	chunks = splitChunks(long)
	assert.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), maxChunkLen+100)
	}
}

func TestTokenize(t *testing.T) {
	tokens := tokenize("Hello, World! Go 2 x")
	assert.Contains(t, tokens, "hello")
	assert.Contains(t, tokens, "world")
	assert.Contains(t, tokens, "go")
	assert.NotContains(t, tokens, "2")
	assert.NotContains(t, tokens, "x")
}

func TestExtractText_Plain(t *testing.T) {
	text, err := ExtractText("text/plain", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}

func TestExtractText_Unsupported(t *testing.T) {
	_, err := ExtractText("application/zip", []byte{0x50, 0x4b})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported document type")
}

func TestExtractText_BadPDF(t *testing.T) {
	_, err := ExtractText("application/pdf", []byte("not a pdf"))
	require.Error(t, err)
}
