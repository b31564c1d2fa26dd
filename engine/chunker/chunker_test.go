package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engmodels "github.com/docrag-dev/docrag/engine/models"
)

func TestSplitEmptyInput(t *testing.T) {
	assert.Nil(t, Split("", 100))
}

func TestSplitSmallDocumentSingleChunk(t *testing.T) {
	doc := "Hello world.\n\nSecond paragraph."
	got := Split(doc, 1000)
	require.Len(t, got, 1)
	assert.Equal(t, doc, got[0].Content)
	assert.Equal(t, engmodels.BreakParagraph, got[0].BreakType)
}

func TestSplitSmallDocumentNoParagraphBreakForces(t *testing.T) {
	doc := "just one short line no blank separators"
	got := Split(doc, 1000)
	require.Len(t, got, 1)
	assert.Equal(t, engmodels.BreakForce, got[0].BreakType)
}

func TestSplitPrefersMarkdownHeaderBreak(t *testing.T) {
	doc := "intro text here\n\n## Section Two\nmore content follows after the header line"
	got := Split(doc, len("intro text here\n\n## Section Two")+5)
	require.GreaterOrEqual(t, len(got), 2)
	assert.Equal(t, engmodels.BreakMarkdownHeader, got[0].BreakType)
	assert.True(t, strings.HasPrefix(got[1].Content, "## Section Two"))
}

func TestSplitFallsBackToParagraphBreak(t *testing.T) {
	doc := "first paragraph of reasonable length here\n\nsecond paragraph follows after a blank line gap"
	got := Split(doc, len("first paragraph of reasonable length here")+10)
	require.GreaterOrEqual(t, len(got), 2)
	assert.Equal(t, engmodels.BreakParagraph, got[0].BreakType)
}

func TestSplitFallsBackToSentenceBreak(t *testing.T) {
	doc := "Sentence one is here. Sentence two follows immediately without blank lines at all here."
	got := Split(doc, len("Sentence one is here. Sentence two")+2)
	require.GreaterOrEqual(t, len(got), 2)
	assert.Equal(t, engmodels.BreakSentence, got[0].BreakType)
}

func TestSplitOffsetsAreContiguousAndHalfOpen(t *testing.T) {
	doc := strings.Repeat("word ", 500)
	got := Split(doc, 50)
	require.NotEmpty(t, got)
	assert.Equal(t, 0, got[0].Start)
	for i := 1; i < len(got); i++ {
		assert.Equal(t, got[i-1].End, got[i].Start, "chunk %d should start where previous ended", i)
	}
	last := got[len(got)-1]
	assert.Equal(t, len(doc), last.End)
}

func TestSplitNeverExceedsChunkSize(t *testing.T) {
	doc := strings.Repeat("abcdefghij", 200)
	size := 37
	got := Split(doc, size)
	for _, c := range got {
		assert.LessOrEqual(t, c.End-c.Start, size)
	}
}
