package helpers

import (
	"regexp"
	"strconv"
	"strings"
)

// markerGroupPattern matches inline reference groups such as "[#1]",
// "[#1, #3]" or "[#2;#4]".
var (
	markerGroupPattern = regexp.MustCompile(`\[\s*#\d+(?:\s*[,;]\s*#?\d+)*\s*\]`)
	markerNumPattern   = regexp.MustCompile(`\d+`)
)

// Marker returns the citation marker for the n-th source ("#1", "#2", ...).
func Marker(n int) string { return "#" + strconv.Itoa(n) }

// MarkerRef renders the inline reference form of a marker ("[#1]").
func MarkerRef(marker string) string { return "[" + NormalizeMarker(marker) + "]" }

// NormalizeMarker accepts "#3", "[#3]" or "3" and returns "#3". It returns ""
// for anything that is not a positive marker number.
func NormalizeMarker(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	s = strings.TrimPrefix(s, "#")
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return ""
	}
	return Marker(n)
}

// ExtractMarkers lists the distinct markers referenced inline in text, in
// order of first appearance. Every number of a group is reported, including
// ones that are not valid markers such as "#0", so callers can reject them.
func ExtractMarkers(text string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, group := range markerGroupPattern.FindAllString(text, -1) {
		for _, num := range markerNumPattern.FindAllString(group, -1) {
			marker := NormalizeMarker(num)
			if marker == "" {
				marker = "#" + num
			}
			if _, ok := seen[marker]; ok {
				continue
			}
			seen[marker] = struct{}{}
			out = append(out, marker)
		}
	}
	return out
}

// SourceLine is the minimal shape needed to render a sources entry.
type SourceLine struct {
	Marker string
	Title  string
	URL    string
	Date   string
}

// FormatSourceLine renders one line of a sources section:
// [#1] [Title](URL) - Date
func FormatSourceLine(s SourceLine) string {
	title := strings.TrimSpace(s.Title)
	if title == "" {
		title = "Untitled"
	}
	var b strings.Builder
	b.WriteString(MarkerRef(s.Marker))
	b.WriteByte(' ')
	if link := strings.TrimSpace(s.URL); link != "" {
		b.WriteString("[" + title + "](" + link + ")")
	} else {
		b.WriteString(title)
	}
	if date := strings.TrimSpace(s.Date); date != "" {
		b.WriteString(" - " + date)
	}
	return b.String()
}

// Truncate shortens s to at most n runes, collapsing whitespace and marking
// the cut with an ellipsis.
func Truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "…"
}
