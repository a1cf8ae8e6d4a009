package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverline/coverline/pkg/identity"
)

func TestMarkdownSimple_Identity(t *testing.T) {
	c := NewMarkdownSimple()
	assert.Equal(t, "markdown-simple", c.Name())
	assert.Equal(t, "1", c.Version())
}

func TestMarkdownSimple_EmptyInput(t *testing.T) {
	c := NewMarkdownSimple()

	assert.Nil(t, c.Split(""))
	assert.Nil(t, c.Split("\n\n\n"))
	assert.Nil(t, c.Split("   \n \t \n"))
}

func TestMarkdownSimple_SingleChunk(t *testing.T) {
	c := NewMarkdownSimple()

	chunks := c.Split("# Title\n\nBody.\n")
	require.Len(t, chunks, 1)

	assert.Equal(t, 0, chunks[0].Ordinal)
	assert.Equal(t, "# Title\n\nBody.", chunks[0].Content)
	assert.Equal(t, identity.SHA256Hex([]byte(chunks[0].Content)), chunks[0].ContentSHA256)
}

func TestMarkdownSimple_HeadingsStartNewChunks(t *testing.T) {
	c := NewMarkdownSimple()

	md := "# One\n\nfirst body\n\n# Two\n\nsecond body\n"
	chunks := c.Split(md)
	require.Len(t, chunks, 2)

	assert.Equal(t, "# One\n\nfirst body", chunks[0].Content)
	assert.Equal(t, "# Two\n\nsecond body", chunks[1].Content)
}

func TestMarkdownSimple_MaxCharsRespected(t *testing.T) {
	c := &MarkdownSimple{MaxChars: 40}

	md := strings.Repeat("para one words here\n\n", 5)
	chunks := c.Split(md)
	require.NotEmpty(t, chunks)

	for _, ch := range chunks {
		assert.LessOrEqual(t, len(ch.Content), 40)
	}
}

func TestMarkdownSimple_OversizedParagraphHardSplit(t *testing.T) {
	c := &MarkdownSimple{MaxChars: 10}

	chunks := c.Split(strings.Repeat("a", 25))
	require.Len(t, chunks, 3)
	assert.Equal(t, strings.Repeat("a", 10), chunks[0].Content)
	assert.Equal(t, strings.Repeat("a", 10), chunks[1].Content)
	assert.Equal(t, strings.Repeat("a", 5), chunks[2].Content)
}

func TestMarkdownSimple_FencedBlockStaysWhole(t *testing.T) {
	c := &MarkdownSimple{MaxChars: 20}

	fence := "```go\n" + strings.Repeat("x := 1\n", 10) + "```"
	chunks := c.Split("intro\n\n" + fence + "\n\nafter\n")

	var found bool
	for _, ch := range chunks {
		if strings.Contains(ch.Content, "```go") {
			found = true
			assert.Equal(t, fence, ch.Content)
		}
	}
	assert.True(t, found, "fenced block should survive intact")
}

func TestMarkdownSimple_Deterministic(t *testing.T) {
	c := NewMarkdownSimple()

	md := "# Policy\n\nCoverage details.\n\n## Exclusions\n\n- flood\n- war\n"
	first := c.Split(md)
	second := c.Split(md)
	require.Equal(t, first, second)
}

func TestMarkdownSimple_OrdinalsContiguous(t *testing.T) {
	c := &MarkdownSimple{MaxChars: 30}

	md := "# A\n\n" + strings.Repeat("some words in a paragraph\n\n", 6)
	chunks := c.Split(md)
	require.NotEmpty(t, chunks)

	for i, ch := range chunks {
		assert.Equal(t, i, ch.Ordinal)
		assert.NotEmpty(t, ch.Content)
		assert.Len(t, ch.ContentSHA256, 64)
	}
}
