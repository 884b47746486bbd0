package helpers

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// ExtractLinks returns the distinct absolute http(s) links of an HTML
// document, resolved against base and in document order.
func ExtractLinks(doc, base string) []string {
	baseURL, _ := url.Parse(base)
	z := html.NewTokenizer(strings.NewReader(doc))
	seen := map[string]struct{}{}
	var out []string
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return out
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		name, hasAttr := z.TagName()
		if string(name) != "a" || !hasAttr {
			continue
		}
		for {
			key, val, more := z.TagAttr()
			if string(key) == "href" {
				if link := resolveLink(baseURL, string(val)); link != "" {
					if _, dup := seen[link]; !dup {
						seen[link] = struct{}{}
						out = append(out, link)
					}
				}
			}
			if !more {
				break
			}
		}
	}
}

func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	u.Fragment = ""
	return u.String()
}
