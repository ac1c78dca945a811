package processor_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/pkg/processor"
)

func newProcessor(t *testing.T, size, overlap int) *processor.Processor {
	t.Helper()
	p, err := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    size,
		ChunkOverlap: overlap,
	})
	require.NoError(t, err)
	return p
}

func TestProcessor_Defaults(t *testing.T) {
	p, err := processor.NewWithConfig(processor.ProcessorConfig{})
	require.NoError(t, err)

	assert.Equal(t, 1000, p.Config().ChunkSize)
	assert.Equal(t, 250, p.Config().ChunkOverlap)
	assert.Equal(t, processor.DefaultSeparators, p.Config().Separators)
}

func TestProcessor_InvalidConfig(t *testing.T) {
	_, err := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 100, ChunkOverlap: 100})
	assert.Error(t, err)

	_, err = processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: -5, ChunkOverlap: 1})
	assert.Error(t, err)
}

func TestProcessor_EmptyText(t *testing.T) {
	p := newProcessor(t, 1000, 250)

	for _, text := range []string{"", "   ", "\n\n\t"} {
		chunks, err := p.Process(text)
		require.NoError(t, err)
		assert.Empty(t, chunks)
	}
}

func TestProcessor_ShortText(t *testing.T) {
	p := newProcessor(t, 1000, 250)

	chunks, err := p.Process("A short note.")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, models.Chunk{Index: 0, Content: "A short note."}, chunks[0])
}

func TestProcessor_ThreeThousandCharacters(t *testing.T) {
	p := newProcessor(t, 1000, 250)
	text := strings.Repeat("abcd ", 600)
	require.Len(t, text, 3000)

	chunks, err := p.Process(text)
	require.NoError(t, err)
	require.Len(t, chunks, 4)

	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Content), 1000)
	}
	assert.Len(t, chunks[0].Content, 999)
	assert.Len(t, chunks[3].Content, 749)
}

func TestProcessor_Deterministic(t *testing.T) {
	p := newProcessor(t, 120, 30)
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40) +
		"\n\n" + strings.Repeat("Pack my box with five dozen liquor jugs.\n", 12)

	first, err := p.Process(text)
	require.NoError(t, err)
	second, err := p.Process(text)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestProcessor_OverlapReconstructsText(t *testing.T) {
	p := newProcessor(t, 100, 25)
	words := make([]string, 0, 300)
	for i := 0; i < 300; i++ {
		words = append(words, []string{"alpha", "beta", "gamma", "delta", "epsilon"}[i%5]+string(rune('a'+i%26)))
	}
	text := strings.Join(words, " ")

	chunks, err := p.Process(text)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	rebuilt := strings.Fields(chunks[0].Content)
	for i := 1; i < len(chunks); i++ {
		prev := strings.Fields(chunks[i-1].Content)
		next := strings.Fields(chunks[i].Content)
		overlap := sharedWords(prev, next)
		rebuilt = append(rebuilt, next[overlap:]...)
	}

	assert.Equal(t, words, rebuilt)
}

func TestProcessor_PrefersParagraphBoundaries(t *testing.T) {
	p := newProcessor(t, 60, 10)
	first := "Paragraph one talks about apples and pears."
	second := "Paragraph two talks about rivers and lakes."
	text := first + "\n\n" + second

	chunks, err := p.Process(text)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, first, chunks[0].Content)
	assert.Equal(t, second, chunks[1].Content)
}

// sharedWords returns the length of the longest suffix of prev that is a
// prefix of next.
func sharedWords(prev, next []string) int {
	for n := min(len(prev), len(next)); n > 0; n-- {
		if equalWords(prev[len(prev)-n:], next[:n]) {
			return n
		}
	}
	return 0
}

func equalWords(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
