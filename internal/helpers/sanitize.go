package helpers

import (
	"html"
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy

	blockBoundary = regexp.MustCompile(`(?i)</?(p|div|br|li|h[1-6]|tr|section|article|blockquote|pre)[^>]*>`)
	dropElements  = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	blankLines    = regexp.MustCompile(`\n{3,}`)
)

// StrictHTMLPolicy returns a shared bluemonday policy that strips every HTML
// element and attribute.
func StrictHTMLPolicy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// SanitizeHTMLStrict removes every HTML tag from s and returns trimmed plain
// text with entities decoded.
func SanitizeHTMLStrict(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(StrictHTMLPolicy().Sanitize(s)))
}

// HTMLToText reduces an HTML document to readable text, keeping paragraph
// breaks so the result chunks well.
func HTMLToText(doc string) string {
	doc = dropElements.ReplaceAllString(doc, "")
	doc = blockBoundary.ReplaceAllString(doc, "\n")
	text := html.UnescapeString(StrictHTMLPolicy().Sanitize(doc))
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	text = strings.Join(lines, "\n")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
