// Package canonical converts raw document text (Markdown, mixed case,
// with potential secrets) into a normalized deterministic form used for
// embedding generation and change detection.
//
// Pipeline: extract per kind, strip Markdown, redact secrets, collapse
// whitespace, lowercase, then SHA-256 for the content hash.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/Aman-CERP/mailidx/internal/document"
)

// Policy controls what preprocessing is applied before embedding.
type Policy string

const (
	// PolicyFull embeds the full extracted text with secrets redacted.
	PolicyFull Policy = "full"
	// PolicyRedactSecrets is PolicyFull with the same redaction pass;
	// kept as a distinct knob so callers can force it explicitly.
	PolicyRedactSecrets Policy = "redact_secrets"
	// PolicyTitleOnly embeds only the title field, for lightweight models.
	PolicyTitleOnly Policy = "title_only"
)

// ParsePolicy validates a policy string from configuration.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyFull, PolicyRedactSecrets, PolicyTitleOnly:
		return p, nil
	case "":
		return PolicyFull, nil
	default:
		return "", fmt.Errorf("unknown canonicalization policy %q", s)
	}
}

const redactionPlaceholder = "[REDACTED]"

// Secret-detection patterns. Kept in sync with the archive scrub pass but
// self-contained so this package has no dependency on it.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ghp_[A-Za-z0-9]{36,}`),
	regexp.MustCompile(`(?i)github_pat_[A-Za-z0-9_]{20,}`),
	regexp.MustCompile(`(?i)xox[baprs]-[A-Za-z0-9\-]{10,}`),
	regexp.MustCompile(`(?i)sk-ant-[A-Za-z0-9\-]{20,}`),
	regexp.MustCompile(`(?i)sk-[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-.]{16,}`),
	regexp.MustCompile(`eyJ[0-9A-Za-z_-]+\.[0-9A-Za-z_-]+\.[0-9A-Za-z_-]+`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`-----BEGIN[A-Z ]* PRIVATE KEY-----`),
	regexp.MustCompile(`glpat-[A-Za-z0-9\-_]{20,}`),
	regexp.MustCompile(`(?i)(?:AGENT_MAIL_TOKEN|API_KEY|SECRET_KEY|PASSWORD)\s*=\s*\S+`),
}

var (
	reCodeFence         = regexp.MustCompile("(?ms)^```[^\n]*\n.*?^```")
	reInlineCode        = regexp.MustCompile("`[^`]+`")
	reImage             = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	reLink              = regexp.MustCompile(`\[([^\]]*)\]\([^)]+\)`)
	reHeader            = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	reBoldItalic        = regexp.MustCompile(`\*{1,3}([^*]+)\*{1,3}`)
	reUnderscoreEmph    = regexp.MustCompile(`_{1,3}([^_]+)_{1,3}`)
	reStrikethrough     = regexp.MustCompile(`~~([^~]+)~~`)
	reBlockquote        = regexp.MustCompile(`(?m)^>\s*`)
	reHorizontalRule    = regexp.MustCompile(`(?m)^[-*_]{3,}\s*$`)
	reListMarker        = regexp.MustCompile(`(?m)^(\s*)[-*+]\s+`)
	reOrderedListMarker = regexp.MustCompile(`(?m)^(\s*)\d+\.\s+`)
	reHTMLTag           = regexp.MustCompile(`<[^>]+>`)
	reTableSeparator    = regexp.MustCompile(`(?m)^\|?[\s-]+\|[\s\-|]+$`)
)

// StripMarkdown flattens GFM Markdown to plain text: headers, emphasis,
// links, images, code fences, inline code, blockquotes, horizontal rules,
// list markers, tables, and HTML tags.
func StripMarkdown(input string) string {
	text := input

	// Fenced blocks go first so nothing matches inside them.
	text = reCodeFence.ReplaceAllString(text, "")
	text = reInlineCode.ReplaceAllStringFunc(text, func(m string) string {
		return m[1 : len(m)-1]
	})
	text = reImage.ReplaceAllString(text, "$1")
	text = reLink.ReplaceAllString(text, "$1")
	text = reHeader.ReplaceAllString(text, "")
	text = reBoldItalic.ReplaceAllString(text, "$1")
	text = reUnderscoreEmph.ReplaceAllString(text, "$1")
	text = reStrikethrough.ReplaceAllString(text, "$1")
	text = reBlockquote.ReplaceAllString(text, "")
	text = reHorizontalRule.ReplaceAllString(text, "")
	text = reListMarker.ReplaceAllString(text, "$1")
	text = reOrderedListMarker.ReplaceAllString(text, "$1")
	text = reHTMLTag.ReplaceAllString(text, "")
	text = reTableSeparator.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "|", " ")

	return text
}

// RedactSecrets replaces token-shaped substrings with a placeholder.
func RedactSecrets(input string) string {
	result := input
	for _, pattern := range secretPatterns {
		result = pattern.ReplaceAllString(result, redactionPlaceholder)
	}
	return result
}

// NormalizeText collapses Unicode whitespace runs to single ASCII spaces
// and trims the result.
func NormalizeText(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	prevWS := false
	for _, r := range input {
		if unicode.IsSpace(r) {
			if !prevWS {
				b.WriteByte(' ')
			}
			prevWS = true
			continue
		}
		b.WriteRune(r)
		prevWS = false
	}
	return strings.TrimSpace(b.String())
}

// ExtractText joins title and body into the embedding-ready raw text for
// the given document kind. Messages and threads separate subject from
// body with a blank line; agents and projects use a single newline.
func ExtractText(kind document.DocKind, title, body string) string {
	sep := "\n\n"
	if kind == document.KindAgent || kind == document.KindProject {
		sep = "\n"
	}
	switch {
	case title == "":
		return body
	case body == "":
		return title
	default:
		return title + sep + body
	}
}

// Canonicalize produces the canonical text for a document.
func Canonicalize(kind document.DocKind, title, body string, policy Policy) string {
	var raw string
	if policy == PolicyTitleOnly {
		raw = title
	} else {
		raw = ExtractText(kind, title, body)
	}

	text := StripMarkdown(raw)
	if policy != PolicyTitleOnly {
		text = RedactSecrets(text)
	}
	return strings.ToLower(NormalizeText(text))
}

// ContentHash returns the hex-encoded SHA-256 of the canonical text.
// Identical content yields identical hashes, so it doubles as a
// change-detection key and a deduplication key.
func ContentHash(canonicalText string) string {
	sum := sha256.Sum256([]byte(canonicalText))
	return hex.EncodeToString(sum[:])
}

// CanonicalizeAndHash combines Canonicalize and ContentHash.
func CanonicalizeAndHash(kind document.DocKind, title, body string, policy Policy) (string, string) {
	text := Canonicalize(kind, title, body, policy)
	return text, ContentHash(text)
}
