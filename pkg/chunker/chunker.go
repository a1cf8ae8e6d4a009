// Package chunker splits normalized markdown into ordered, deterministic
// chunks. Chunk identity flows from (chunker name, version, ordinal,
// content hash), so any change to the splitting algorithm must bump the
// version.
package chunker

import (
	"strings"

	"github.com/coverline/coverline/pkg/identity"
)

// Chunk is one contiguous piece of a document in reading order.
type Chunk struct {
	Ordinal       int
	Content       string
	ContentSHA256 string
}

// Chunker produces an ordered, gap-free chunk list from normalized markdown.
// Implementations must be deterministic: same input, same output, always.
type Chunker interface {
	Name() string
	Version() string
	Split(text string) []Chunk
}

const (
	markdownSimpleName    = "markdown-simple"
	markdownSimpleVersion = "1"

	// DefaultMaxChars bounds chunk size in bytes of UTF-8 content.
	DefaultMaxChars = 2000
)

// MarkdownSimple groups markdown blocks into chunks of at most MaxChars.
// Headings start a new chunk, fenced code blocks are never split, and
// there is no overlap between chunks.
type MarkdownSimple struct {
	MaxChars int
}

// NewMarkdownSimple returns the default markdown chunker.
func NewMarkdownSimple() *MarkdownSimple {
	return &MarkdownSimple{MaxChars: DefaultMaxChars}
}

func (c *MarkdownSimple) Name() string    { return markdownSimpleName }
func (c *MarkdownSimple) Version() string { return markdownSimpleVersion }

// Split produces the ordered chunk list. Empty and whitespace-only input
// yields no chunks.
func (c *MarkdownSimple) Split(text string) []Chunk {
	maxChars := c.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	blocks := splitBlocks(text)
	if len(blocks) == 0 {
		return nil
	}

	var contents []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			contents = append(contents, current.String())
			current.Reset()
		}
	}

	for _, b := range blocks {
		startsNew := b.heading && current.Len() > 0
		overflows := current.Len() > 0 && current.Len()+2+len(b.text) > maxChars
		if startsNew || overflows {
			flush()
		}

		if len(b.text) > maxChars && !b.fenced {
			// Oversized plain block: hard split. Fenced blocks stay whole.
			flush()
			for _, part := range hardSplit(b.text, maxChars) {
				contents = append(contents, part)
			}
			continue
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(b.text)
	}
	flush()

	chunks := make([]Chunk, len(contents))
	for i, content := range contents {
		chunks[i] = Chunk{
			Ordinal:       i,
			Content:       content,
			ContentSHA256: identity.SHA256Hex([]byte(content)),
		}
	}
	return chunks
}

type block struct {
	text    string
	heading bool
	fenced  bool
}

// splitBlocks separates markdown into blocks: fenced code runs, headings,
// and paragraphs delimited by blank lines.
func splitBlocks(text string) []block {
	lines := strings.Split(text, "\n")

	var blocks []block
	var buf []string
	inFence := false

	flush := func() {
		if len(buf) == 0 {
			return
		}
		joined := strings.Join(buf, "\n")
		if strings.TrimSpace(joined) != "" {
			blocks = append(blocks, block{
				text:    joined,
				heading: strings.HasPrefix(joined, "#"),
				fenced:  strings.HasPrefix(joined, "```"),
			})
		}
		buf = nil
	}

	for _, line := range lines {
		if inFence {
			buf = append(buf, line)
			if strings.HasPrefix(strings.TrimLeft(line, " "), "```") {
				inFence = false
				flush()
			}
			continue
		}

		if strings.HasPrefix(strings.TrimLeft(line, " "), "```") {
			flush()
			buf = append(buf, line)
			inFence = true
			continue
		}

		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}

		if strings.HasPrefix(line, "#") {
			flush()
			buf = append(buf, line)
			flush()
			continue
		}

		buf = append(buf, line)
	}
	flush()

	return blocks
}

// hardSplit cuts text into pieces of at most maxChars bytes, breaking on
// rune boundaries.
func hardSplit(text string, maxChars int) []string {
	var parts []string
	runes := []rune(text)

	var piece strings.Builder
	for _, r := range runes {
		if piece.Len()+len(string(r)) > maxChars && piece.Len() > 0 {
			parts = append(parts, piece.String())
			piece.Reset()
		}
		piece.WriteRune(r)
	}
	if piece.Len() > 0 {
		parts = append(parts, piece.String())
	}
	return parts
}
