package extractors

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// A label anchor is "<label>:" where the label either opens a line (ignoring leading
// whitespace and markdown markers, any case) or appears verbatim after a non-word byte.
// A verbatim match that is the tail of a capitalized phrase ("Expected Description:",
// "Test Case Steps:") belongs to that longer label and is skipped. An optional
// parenthetical such as "Critical Issues (if any):" is allowed before the colon.

// Section returns the text following "<label>:" up to the next anchor of any label in
// labels, trimmed. It returns "" when the label is absent.
func Section(text, label string, labels []string) string {
	_, contentStart, ok := findAnchor(text, label, 0)
	if !ok {
		return ""
	}
	end := nextAnchor(text, contentStart, labels)
	return cleanContent(text[contentStart:end])
}

// FirstSection tries each label in priority order and returns the first non-empty section.
func FirstSection(text string, labels []string, alternates ...string) string {
	for _, label := range alternates {
		if s := Section(text, label, labels); s != "" {
			return s
		}
	}
	return ""
}

// IsYes reports whether the trimmed text starts with YES, ignoring case.
func IsYes(s string) bool {
	s = strings.TrimLeft(strings.TrimSpace(s), "*_\"'")
	return len(s) >= 3 && strings.EqualFold(s[:3], "yes")
}

// NullableYes is nil when the text is empty or marked not applicable, and IsYes otherwise.
func NullableYes(s string) *bool {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}
	upper := strings.ToUpper(trimmed)
	if strings.Contains(upper, "N/A") || strings.Contains(upper, "NOT APPLICABLE") {
		return nil
	}
	v := IsYes(trimmed)
	return &v
}

// NumberedBlock returns the content of the block opened by "<prefix> n:" and closed by
// "<prefix> n+1:" or any terminal label. Ordinals outside [1, max] are never scanned.
func NumberedBlock(text, prefix string, n, max int, terminals []string) (string, bool) {
	if n < 1 || n > max {
		return "", false
	}
	_, contentStart, ok := findAnchor(text, ordinal(prefix, n), 0)
	if !ok {
		return "", false
	}
	stops := make([]string, 0, len(terminals)+1)
	stops = append(stops, ordinal(prefix, n+1))
	stops = append(stops, terminals...)
	end := nextAnchor(text, contentStart, stops)
	return strings.TrimSpace(text[contentStart:end]), true
}

// List splits a section into items, dropping bullets, numbering, separators and
// placeholder entries.
func List(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(strings.TrimRight(s, "."), "none") {
		return nil
	}
	var items []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isSeparator(line) {
			continue
		}
		line = stripListMarker(line)
		if strings.EqualFold(strings.TrimRight(line, "."), "none") {
			continue
		}
		if utf8.RuneCountInString(line) <= 5 {
			continue
		}
		items = append(items, line)
	}
	return items
}

// FirstLine splits s into its first line and the trimmed remainder.
func FirstLine(s string) (string, string) {
	s = strings.TrimSpace(s)
	head, rest, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(head), strings.TrimSpace(rest)
}

func ordinal(prefix string, n int) string {
	return prefix + " " + strconv.Itoa(n)
}

func nextAnchor(text string, from int, labels []string) int {
	end := len(text)
	for _, label := range labels {
		if start, _, ok := findAnchor(text, label, from); ok && start < end {
			end = start
		}
	}
	return end
}

// findAnchor locates the first anchor of label at or after from. It returns the anchor's
// start offset and the offset just past its colon.
func findAnchor(text, label string, from int) (int, int, bool) {
	if label == "" || from >= len(text) {
		return 0, 0, false
	}
	lower := asciiLower(text)
	needle := asciiLower(label)
	for i := from; i < len(lower); {
		j := strings.Index(lower[i:], needle)
		if j < 0 {
			return 0, 0, false
		}
		pos := i + j
		accepted := atLineStart(text, pos) ||
			(atWordBoundary(text, pos) && text[pos:pos+len(label)] == label && !endsTitledPhrase(text, pos))
		if accepted {
			if contentStart, ok := labelColon(text, pos+len(needle)); ok {
				return pos, contentStart, true
			}
		}
		i = pos + 1
	}
	return 0, 0, false
}

func labelColon(s string, i int) (int, bool) {
	i = skipDecoration(s, i)
	if i < len(s) && s[i] == '(' {
		closing := strings.IndexAny(s[i:], ")\n")
		if closing < 0 || s[i+closing] != ')' {
			return 0, false
		}
		i = skipDecoration(s, i+closing+1)
	}
	if i < len(s) && s[i] == ':' {
		i++
		// "**Label:**" closes the emphasis after the colon.
		for i < len(s) && s[i] == '*' {
			i++
		}
		return i, true
	}
	return 0, false
}

func skipDecoration(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '*') {
		i++
	}
	return i
}

func atLineStart(s string, pos int) bool {
	for k := pos - 1; k >= 0; k-- {
		switch s[k] {
		case '\n':
			return true
		case ' ', '\t', '\r', '*', '#', '-', '>', '_':
			continue
		default:
			return false
		}
	}
	return true
}

func atWordBoundary(s string, pos int) bool {
	return pos == 0 || !isWordByte(s[pos-1])
}

// endsTitledPhrase reports whether the text before pos on the same line is a capitalized
// word separated from pos only by blanks.
func endsTitledPhrase(s string, pos int) bool {
	k := pos
	for k > 0 && (s[k-1] == ' ' || s[k-1] == '\t') {
		k--
	}
	if k == pos || k == 0 || !isWordByte(s[k-1]) {
		return false
	}
	start := k
	for start > 0 && isWordByte(s[start-1]) {
		start--
	}
	return s[start] >= 'A' && s[start] <= 'Z'
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_'
}

// asciiLower lowers ASCII letters only so byte offsets stay aligned with the input.
func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func cleanContent(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "*"))
}

func isSeparator(line string) bool {
	lower := strings.ToLower(line)
	if strings.Contains(lower, "critical issues") || strings.Contains(lower, "minor issues") {
		return true
	}
	return strings.Contains(line, "---") || strings.Contains(line, "===")
}

func stripListMarker(line string) string {
	line = strings.TrimLeft(line, "-•* \t")
	digits := 0
	for digits < len(line) && line[digits] >= '0' && line[digits] <= '9' {
		digits++
	}
	if digits > 0 && digits < len(line) && (line[digits] == '.' || line[digits] == ')') {
		line = line[digits+1:]
	}
	return strings.TrimSpace(line)
}
