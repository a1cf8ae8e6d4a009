package identity

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonical(t *testing.T) {
	tests := []struct {
		name  string
		parts []string
		want  string
	}{
		{
			name:  "lowercases parts",
			parts: []string{"Document", "OWNER-1", "ABCdef"},
			want:  "document\x1fowner-1\x1fabcdef",
		},
		{
			name:  "single part",
			parts: []string{"chunk"},
			want:  "chunk",
		},
		{
			name:  "empty parts preserved",
			parts: []string{"a", "", "b"},
			want:  "a\x1f\x1fb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Canonical(tt.parts...))
		})
	}
}

func TestDeriveID_Deterministic(t *testing.T) {
	a := DeriveID(Namespace, "document\x1fo1\x1faaaa")
	b := DeriveID(Namespace, "document\x1fo1\x1faaaa")
	c := DeriveID(Namespace, "document\x1fo1\x1fbbbb")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, uuid.Version(5), a.Version())
}

func TestDocumentID_StableAndCaseInsensitive(t *testing.T) {
	sha := "aa11bb22cc33dd44ee55ff66aa11bb22cc33dd44ee55ff66aa11bb22cc33dd44"

	first := DocumentID("owner-1", sha)
	second := DocumentID("owner-1", sha)
	assert.Equal(t, first, second)

	// Hex digests compare case-insensitively through canonicalization.
	upper := DocumentID("owner-1", "AA11BB22CC33DD44EE55FF66AA11BB22CC33DD44EE55FF66AA11BB22CC33DD44")
	assert.Equal(t, first, upper)

	other := DocumentID("owner-2", sha)
	assert.NotEqual(t, first, other)
}

func TestChunkID_InputsSeparateIdentity(t *testing.T) {
	docID := DocumentID("owner-1", "aa11")
	base := ChunkID(docID, "markdown-simple", "1", 0, "c0ffee")

	assert.Equal(t, base, ChunkID(docID, "markdown-simple", "1", 0, "c0ffee"))
	assert.NotEqual(t, base, ChunkID(docID, "markdown-simple", "1", 1, "c0ffee"))
	assert.NotEqual(t, base, ChunkID(docID, "markdown-simple", "2", 0, "c0ffee"))
	assert.NotEqual(t, base, ChunkID(docID, "other-chunker", "1", 0, "c0ffee"))
	assert.NotEqual(t, base, ChunkID(docID, "markdown-simple", "1", 0, "deadbeef"))
}

func TestSHA256Hex(t *testing.T) {
	// Known vector.
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		SHA256Hex(nil),
	)
	assert.Equal(t,
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		SHA256Hex([]byte("hello")),
	)
}

func TestNormalizeMarkdown(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "empty",
			in:   "",
			want: "",
		},
		{
			name: "crlf to lf",
			in:   "a\r\nb\r\n",
			want: "a\nb\n",
		},
		{
			name: "trailing whitespace trimmed",
			in:   "line one   \nline two\t\n",
			want: "line one\nline two\n",
		},
		{
			name: "blank runs collapse to two",
			in:   "a\n\n\n\n\nb\n",
			want: "a\n\n\nb\n",
		},
		{
			name: "bullets standardized",
			in:   "* one\n+ two\n- three\n",
			want: "- one\n- two\n- three\n",
		},
		{
			name: "heading spacing standardized",
			in:   "#Title\n##   Sub\n",
			want: "# Title\n## Sub\n",
		},
		{
			name: "setext headings promoted",
			in:   "Title\n=====\n\nSub\n---\n",
			want: "# Title\n\n## Sub\n",
		},
		{
			name: "fence contents verbatim",
			in:   "```go\ncode   \n\n\n\n* not a bullet\n```\n",
			want: "```go\ncode   \n\n\n\n* not a bullet\n```\n",
		},
		{
			name: "tilde fences standardized",
			in:   "~~~python\nx = 1\n~~~\n",
			want: "```python\nx = 1\n```\n",
		},
		{
			name: "leading and trailing blanks stripped",
			in:   "\n\nbody\n\n\n",
			want: "body\n",
		},
		{
			name: "horizontal rule after blank kept",
			in:   "para\n\n---\n\nnext\n",
			want: "para\n\n---\n\nnext\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeMarkdown(tt.in)
			assert.Equal(t, tt.want, got)

			// Normalization is a fixed point.
			assert.Equal(t, got, NormalizeMarkdown(got))
		})
	}
}

func TestNormalizeMarkdown_HashStable(t *testing.T) {
	md := "# Policy\r\n\r\nCoverage   \r\n\r\n\r\n\r\n* liability\r\n"
	first := SHA256Hex([]byte(NormalizeMarkdown(md)))
	second := SHA256Hex([]byte(NormalizeMarkdown(NormalizeMarkdown(md))))
	require.Equal(t, first, second)
}
