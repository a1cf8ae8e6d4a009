// Package identity provides deterministic ID derivation, content hashing,
// and markdown canonicalization for the ingestion pipeline. All functions
// are pure and byte-stable: two workers given the same inputs must derive
// the same identifiers, on any host, in any release.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Namespace is the fixed UUIDv5 namespace for all derived identifiers.
// Changing it is a breaking schema change: every document and chunk ID
// in existing databases depends on it.
var Namespace = uuid.MustParse("9f2c41d6-7a8e-5b30-8c19-d4e6f0a2b571")

// sep separates canonical parts. A control character so that hex digests,
// UUIDs, and names can never collide across part boundaries.
const sep = "\x1f"

// Canonical joins ordered parts into the stable input string used for
// deterministic IDs. Parts are lowercased.
func Canonical(parts ...string) string {
	lowered := make([]string, len(parts))
	for i, p := range parts {
		lowered[i] = strings.ToLower(p)
	}
	return strings.Join(lowered, sep)
}

// DeriveID derives a version-5 UUID from the canonical string.
func DeriveID(ns uuid.UUID, canonical string) uuid.UUID {
	return uuid.NewSHA1(ns, []byte(canonical))
}

// DocumentID derives the identifier for a document owned by ownerID with
// raw content hash fileSHA256 (lowercase hex).
func DocumentID(ownerID, fileSHA256 string) uuid.UUID {
	return DeriveID(Namespace, Canonical("document", ownerID, fileSHA256))
}

// ChunkID derives the identifier for a chunk. The chunker name and version
// are part of the identity so a chunker upgrade produces new chunk rows
// instead of silently mutating existing ones.
func ChunkID(documentID uuid.UUID, chunkerName, chunkerVersion string, ordinal int, contentSHA256 string) uuid.UUID {
	return DeriveID(Namespace, Canonical(
		"chunk",
		documentID.String(),
		chunkerName,
		chunkerVersion,
		strconv.Itoa(ordinal),
		contentSHA256,
	))
}

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NormalizeMarkdown produces canonical markdown:
//   - line endings become \n
//   - trailing whitespace is trimmed from each line
//   - runs of 3+ blank lines collapse to 2
//   - bullets (*, +) become -
//   - ~~~ fences become ```
//   - setext headings become ATX (#) headings
//   - fenced code block contents are preserved verbatim
//
// The result ends with exactly one \n (empty input stays empty). The
// function is idempotent: NormalizeMarkdown(NormalizeMarkdown(x)) ==
// NormalizeMarkdown(x). parsed_sha256 is always computed over this form.
func NormalizeMarkdown(text string) string {
	if text == "" {
		return ""
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")

	out := make([]string, 0, len(lines))
	inFence := false
	blanks := 0

	for i := 0; i < len(lines); i++ {
		line := lines[i]

		if inFence {
			if isFenceLine(line) {
				inFence = false
				out = append(out, normalizeFence(line))
			} else {
				out = append(out, line)
			}
			blanks = 0
			continue
		}

		line = strings.TrimRight(line, " \t")

		if isFenceLine(line) {
			inFence = true
			out = append(out, normalizeFence(line))
			blanks = 0
			continue
		}

		if line == "" {
			blanks++
			if blanks <= 2 {
				out = append(out, "")
			}
			continue
		}
		blanks = 0

		// Setext heading: promote the previous line and drop the underline.
		if len(out) > 0 && isSetextUnderline(line) {
			prev := out[len(out)-1]
			if isSetextCandidate(prev) {
				if strings.HasPrefix(line, "=") {
					out[len(out)-1] = "# " + prev
				} else {
					out[len(out)-1] = "## " + prev
				}
				continue
			}
		}

		out = append(out, normalizeLine(line))
	}

	// Strip leading and trailing blank lines, end with one newline.
	start := 0
	for start < len(out) && out[start] == "" {
		start++
	}
	end := len(out)
	for end > start && out[end-1] == "" {
		end--
	}
	if start == end {
		return ""
	}
	return strings.Join(out[start:end], "\n") + "\n"
}

// normalizeLine standardizes bullet and heading markers outside fences.
func normalizeLine(line string) string {
	indent := len(line) - len(strings.TrimLeft(line, " "))
	body := line[indent:]

	// * item / + item → - item
	if len(body) >= 2 && (body[0] == '*' || body[0] == '+') && (body[1] == ' ' || body[1] == '\t') {
		return line[:indent] + "-" + body[1:]
	}

	// ATX heading: exactly one space after the hashes.
	if body[0] == '#' {
		level := 0
		for level < len(body) && body[level] == '#' {
			level++
		}
		if level <= 6 {
			rest := strings.TrimLeft(body[level:], " \t")
			if rest != "" {
				return line[:indent] + body[:level] + " " + rest
			}
		}
	}

	return line
}

func isFenceLine(line string) bool {
	trimmed := strings.TrimLeft(line, " ")
	return strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~")
}

func normalizeFence(line string) string {
	indent := len(line) - len(strings.TrimLeft(line, " "))
	body := strings.TrimRight(line[indent:], " \t")
	if strings.HasPrefix(body, "~~~") {
		body = "```" + strings.TrimLeft(body, "~")
	}
	return line[:indent] + body
}

// isSetextUnderline reports whether line is a setext heading underline
// (all = or all -, at least two characters).
func isSetextUnderline(line string) bool {
	if len(line) < 2 {
		return false
	}
	c := line[0]
	if c != '=' && c != '-' {
		return false
	}
	for i := 1; i < len(line); i++ {
		if line[i] != c {
			return false
		}
	}
	return true
}

// isSetextCandidate reports whether prev can be promoted to a heading.
// Blank lines, existing headings, and list items cannot.
func isSetextCandidate(prev string) bool {
	if prev == "" {
		return false
	}
	trimmed := strings.TrimLeft(prev, " ")
	if trimmed == "" || trimmed[0] == '#' {
		return false
	}
	if len(trimmed) >= 2 && trimmed[0] == '-' && (trimmed[1] == ' ' || trimmed[1] == '\t') {
		return false
	}
	return true
}
