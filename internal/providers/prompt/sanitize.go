package prompt

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// DefaultSeparator marks the end of the usable prompt in model output.
const DefaultSeparator = "---"

// SanitizeOptions control how raw model output becomes a provider prompt.
type SanitizeOptions struct {
	Separator string
	MaxRunes  int
	// Ellipsis is appended when the prompt is truncated.
	Ellipsis string
}

// Sanitize cuts the text at the first separator, strips code fences and
// surrounding space, normalizes to NFC and truncates on a rune boundary.
func Sanitize(raw string, opts SanitizeOptions) string {
	text := raw
	if opts.Separator != "" {
		if idx := strings.Index(text, opts.Separator); idx >= 0 {
			text = text[:idx]
		}
	}
	text = trimCodeFence(text)
	text = norm.NFC.String(strings.TrimSpace(text))
	if opts.MaxRunes > 0 && utf8.RuneCountInString(text) > opts.MaxRunes {
		text = truncateRunes(text, opts.MaxRunes) + opts.Ellipsis
	}
	return text
}

// truncateRunes keeps the first n runes, then backs off while the cut would
// separate a base letter from the combining marks that follow it.
func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			for i > 0 && norm.NFC.FirstBoundaryInString(s[i:]) != 0 {
				_, size := utf8.DecodeLastRuneInString(s[:i])
				i -= size
			}
			return strings.TrimRightFunc(s[:i], isSpace)
		}
		count++
	}
	return s
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```text")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
