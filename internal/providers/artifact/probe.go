package artifact

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"dailystory/internal/domain"
)

// maxBodyBytes caps status and submit responses. Base64 images from the
// synchronous backends fit comfortably.
const maxBodyBytes = 64 << 20

// ReadBody reads a response body up to the package limit.
func ReadBody(resp *http.Response) ([]byte, error) {
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}

// DecodeObject parses a JSON body into a generic value for probing.
func DecodeObject(raw []byte) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Lookup walks a dotted path such as "data.output.images.0.url". Numeric
// segments index into arrays.
func Lookup(v any, path string) (any, bool) {
	cur := v
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, cur != nil
}

// ProbeString returns the first non-empty string found at any of paths.
// Numbers are formatted so numeric ids are usable as job ids.
func ProbeString(v any, paths ...string) string {
	for _, p := range paths {
		val, ok := Lookup(v, p)
		if !ok {
			continue
		}
		switch s := val.(type) {
		case string:
			if t := strings.TrimSpace(s); t != "" {
				return t
			}
		case float64:
			return strconv.FormatFloat(s, 'f', -1, 64)
		}
	}
	return ""
}

// ProbeFailureReason is ProbeString with the generic fallback reason.
func ProbeFailureReason(v any, paths ...string) string {
	if reason := ProbeString(v, paths...); reason != "" {
		return reason
	}
	return domain.UnknownFailureReason
}

const maxSnippetBytes = 512

// SnippetError formats a non-success HTTP answer for error messages.
func SnippetError(status int, body []byte) error {
	return fmt.Errorf("status %d: %s", status, Snippet(body))
}

// Snippet returns at most maxSnippetBytes of body as valid UTF-8, cut on a
// rune boundary.
func Snippet(body []byte) string {
	msg := strings.ToValidUTF8(strings.TrimSpace(string(body)), "\uFFFD")
	if len(msg) <= maxSnippetBytes {
		return msg
	}
	cut := maxSnippetBytes
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
