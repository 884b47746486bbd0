package duckduckgo

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mohammad-safakhou/research-assistant/internal/helpers"
	"github.com/mohammad-safakhou/research-assistant/tools/web_search/models"
	"golang.org/x/net/html"
)

const defaultEndpoint = "https://lite.duckduckgo.com/lite/"

// Search scrapes the DuckDuckGo lite page. It needs no API key and is the
// fallback backend.
type Search struct {
	Endpoint string
	client   *helpers.HTTPClient
}

func New(client *helpers.HTTPClient) *Search {
	return &Search{Endpoint: defaultEndpoint, client: client}
}

func (s *Search) Discover(ctx context.Context, q string, k int, sites []string, recency int) ([]models.Result, error) {
	if len(sites) > 0 {
		parts := make([]string, len(sites))
		for i, site := range sites {
			parts[i] = "site:" + site
		}
		q += " (" + strings.Join(parts, " OR ") + ")"
	}
	form := url.Values{}
	form.Set("q", q)
	if recency > 0 {
		if recency <= 7 {
			form.Set("df", "w")
		} else {
			form.Set("df", "m")
		}
	}
	headers := map[string]string{"Content-Type": "application/x-www-form-urlencoded"}
	body, err := s.client.Do(ctx, http.MethodPost, s.Endpoint, headers, []byte(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: %w", err)
	}
	results, err := parseLite(body)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: %w", err)
	}
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// parseLite walks the lite results table: each hit is an a.result-link
// followed by a td.result-snippet.
func parseLite(page []byte) ([]models.Result, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, err
	}
	var out []models.Result
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "a" && hasClass(n, "result-link"):
				out = append(out, models.Result{
					Title: strings.TrimSpace(textOf(n)),
					URL:   resolveRedirect(attr(n, "href")),
				})
			case n.Data == "td" && hasClass(n, "result-snippet"):
				if len(out) > 0 && out[len(out)-1].Snippet == "" {
					out[len(out)-1].Snippet = strings.Join(strings.Fields(textOf(n)), " ")
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	filtered := out[:0]
	for _, r := range out {
		if strings.HasPrefix(r.URL, "http") {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

// resolveRedirect unwraps //duckduckgo.com/l/?uddg=<target> links.
func resolveRedirect(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if strings.HasSuffix(u.Hostname(), "duckduckgo.com") && strings.HasPrefix(u.Path, "/l/") {
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
	}
	return href
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
