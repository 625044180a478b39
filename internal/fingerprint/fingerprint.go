// Package fingerprint derives a stable grouping key, title, culprit, and
// metadata from an event's decoded fields. It is pure and stateless: no I/O,
// no clock reads.
package fingerprint

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Ap3pp3rs94/issuewatch/internal/model"
	"github.com/Ap3pp3rs94/issuewatch/pkg/idempotency"
)

const (
	defaultExceptionType = "Error"
	maxNormalizedLen     = 500
	maxTitleValueLen     = 97
	maxTitleMessageLen   = 125
	maxMetadataValueLen  = 200
)

var (
	uuidRE      = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	hexRunRE    = regexp.MustCompile(`(?i)\b[0-9a-f]{24,}\b`)
	decimalRE   = regexp.MustCompile(`\b[0-9]{6,}\b`)
	timestampRE = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:?\d{2})?\b`)
	ipv4RE      = regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`)
	emailRE     = regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)
	wsRE        = regexp.MustCompile(`\s+`)
)

// NormalizeMessage replaces volatile substrings (IDs, numbers, timestamps,
// IPs, emails) with stable placeholders so that otherwise-identical messages
// fingerprint the same way.
func NormalizeMessage(msg string) string {
	s := msg
	s = uuidRE.ReplaceAllString(s, "<uuid>")
	s = hexRunRE.ReplaceAllString(s, "<id>")
	s = decimalRE.ReplaceAllString(s, "<num>")
	s = timestampRE.ReplaceAllString(s, "<timestamp>")
	s = ipv4RE.ReplaceAllString(s, "<ip>")
	s = emailRE.ReplaceAllString(s, "<email>")
	s = wsRE.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	if len(s) > maxNormalizedLen {
		s = s[:maxNormalizedLen]
	}
	return s
}

// Frame is a normalized stack frame.
type Frame struct {
	Filename string
	Function string
	Lineno   int64
	HasLine  bool
	InApp    bool
}

// Format renders a frame as "filename:function:lineno", omitting absent
// components.
func (f Frame) Format() string {
	filename := stripQueryFragment(f.Filename)
	parts := make([]string, 0, 3)
	if filename != "" {
		parts = append(parts, filename)
	}
	if f.Function != "" {
		parts = append(parts, f.Function)
	}
	if f.HasLine {
		parts = append(parts, strconv.FormatInt(f.Lineno, 10))
	}
	return strings.Join(parts, ":")
}

func stripQueryFragment(s string) string {
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	return s
}

// Result is the full set of derivations for one event.
type Result struct {
	Fingerprint string
	Title       string
	Culprit     *string
	Metadata    model.Metadata
}

// Compute derives the fingerprint, title, culprit, and metadata for fields,
// the decoded JSON body of an event (as produced by internal/envelope).
func Compute(fields map[string]any) (Result, error) {
	excType, excValue, frames, hasException := extractException(fields)
	message := extractMessage(fields)
	eventID, _ := fields["event_id"].(string)
	level, _ := fields["level"].(string)

	fp, err := computeFingerprint(fields, hasException, excType, excValue, frames, message, level, eventID)
	if err != nil {
		return Result{}, err
	}

	title := computeTitle(hasException, excType, excValue, message)
	culprit := computeCulprit(fields, frames)
	metadata := computeMetadata(hasException, excType, excValue, frames)

	return Result{Fingerprint: fp, Title: title, Culprit: culprit, Metadata: metadata}, nil
}

func computeFingerprint(fields map[string]any, hasException bool, excType, excValue string, frames []Frame, message, level, eventID string) (string, error) {
	// 1. Explicit fingerprint tokens.
	if tokens := explicitTokens(fields); len(tokens) > 0 {
		h, err := idempotency.DeterministicHash(strings.Join(tokens, "||"))
		if err != nil {
			return "", err
		}
		return shortHex(h), nil
	}

	// 2. Exception tuple.
	if hasException {
		top := topFrames(frames, 3)
		formatted := make([]string, len(top))
		for i, f := range top {
			formatted[i] = f.Format()
		}
		tuple := []string{excType, NormalizeMessage(excValue)}
		tuple = append(tuple, formatted...)
		h, err := idempotency.DeterministicHash(tuple)
		if err != nil {
			return "", err
		}
		return shortHex(h), nil
	}

	// 3. Message tuple.
	if message != "" {
		if level == "" {
			level = "error"
		}
		h, err := idempotency.DeterministicHash([]string{level, NormalizeMessage(message)})
		if err != nil {
			return "", err
		}
		return shortHex(h), nil
	}

	// 4. Fallback: event_id, effectively no grouping.
	h, err := idempotency.DeterministicHash([]string{eventID})
	if err != nil {
		return "", err
	}
	return shortHex(h), nil
}

func shortHex(h string) string {
	if len(h) < 8 {
		return h
	}
	return h[:16]
}

func explicitTokens(fields map[string]any) []string {
	raw, ok := fields["fingerprint"].([]any)
	if !ok {
		return nil
	}
	tokens := make([]string, 0, len(raw))
	hasNonDefault := false
	for _, v := range raw {
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		tokens = append(tokens, s)
		if s != "{{ default }}" {
			hasNonDefault = true
		}
	}
	if !hasNonDefault {
		return nil
	}
	return tokens
}

func extractException(fields map[string]any) (excType, excValue string, frames []Frame, ok bool) {
	exc, _ := fields["exception"].(map[string]any)
	if exc == nil {
		return "", "", nil, false
	}
	values, _ := exc["values"].([]any)
	if len(values) == 0 {
		return "", "", nil, false
	}
	last, _ := values[len(values)-1].(map[string]any)
	if last == nil {
		return "", "", nil, false
	}

	excType, _ = last["type"].(string)
	if excType == "" {
		excType = defaultExceptionType
	}
	excValue, _ = last["value"].(string)

	frames = extractFrames(last)
	return excType, excValue, frames, true
}

func extractFrames(excValue map[string]any) []Frame {
	st, _ := excValue["stacktrace"].(map[string]any)
	if st == nil {
		return nil
	}
	raw, _ := st["frames"].([]any)
	frames := make([]Frame, 0, len(raw))
	for _, v := range raw {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		f := Frame{}
		f.Filename, _ = m["filename"].(string)
		f.Function, _ = m["function"].(string)
		if ln, ok := m["lineno"]; ok {
			if n, ok := toInt64(ln); ok {
				f.Lineno = n
				f.HasLine = true
			}
		}
		if inApp, ok := m["in_app"].(bool); ok {
			f.InApp = inApp
		}
		frames = append(frames, f)
	}
	// SDKs emit frames oldest-first; reverse so index 0 is the innermost frame.
	reversed := make([]Frame, len(frames))
	for i, f := range frames {
		reversed[len(frames)-1-i] = f
	}
	return reversed
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case float64:
		return int64(x), true
	case int:
		return int64(x), true
	case int64:
		return x, true
	default:
		return 0, false
	}
}

// topFrames returns up to n in-app frames, falling back to the top n frames
// of any kind if none are marked in-app.
func topFrames(frames []Frame, n int) []Frame {
	inApp := make([]Frame, 0, n)
	for _, f := range frames {
		if f.InApp {
			inApp = append(inApp, f)
			if len(inApp) == n {
				break
			}
		}
	}
	if len(inApp) > 0 {
		return inApp
	}
	if len(frames) > n {
		return frames[:n]
	}
	return frames
}

func extractMessage(fields map[string]any) string {
	if s, ok := fields["message"].(string); ok && s != "" {
		return s
	}
	if m, ok := fields["message"].(map[string]any); ok {
		if s, ok := m["formatted"].(string); ok && s != "" {
			return s
		}
		if s, ok := m["message"].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func computeTitle(hasException bool, excType, excValue, message string) string {
	if hasException {
		v := excValue
		if len(v) > maxTitleValueLen {
			v = v[:maxTitleValueLen] + "..."
		}
		return fmt.Sprintf("%s: %s", excType, v)
	}
	if message != "" {
		m := message
		if len(m) > maxTitleMessageLen {
			m = m[:maxTitleMessageLen] + "..."
		}
		return m
	}
	return "Unknown Error"
}

func computeCulprit(fields map[string]any, frames []Frame) *string {
	if tx, ok := fields["transaction"].(string); ok && tx != "" {
		return &tx
	}
	if len(frames) == 0 {
		return nil
	}
	top := frames[0]
	parts := make([]string, 0, 2)
	if top.Filename != "" {
		parts = append(parts, fmt.Sprintf("%s", stripQueryFragment(top.Filename)))
	}
	if top.Function != "" {
		s := "in " + top.Function
		if top.HasLine {
			s += fmt.Sprintf(" at line %d", top.Lineno)
		}
		parts = append(parts, s)
	}
	if len(parts) == 0 {
		return nil
	}
	s := strings.Join(parts, " ")
	return &s
}

func computeMetadata(hasException bool, excType, excValue string, frames []Frame) model.Metadata {
	md := model.Metadata{}
	if hasException {
		md.Type = excType
		v := excValue
		if len(v) > maxMetadataValueLen {
			v = v[:maxMetadataValueLen]
		}
		md.Value = v
	}
	if len(frames) > 0 {
		md.Filename = stripQueryFragment(frames[0].Filename)
		md.Function = frames[0].Function
	}
	return md
}
