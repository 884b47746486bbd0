package duckduckgo

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mohammad-safakhou/research-assistant/internal/helpers"
)

const litePage = `<html><body><table>
<tr><td>1.</td><td><a rel="nofollow" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fdocs.docker.com%2Fget-started%2F&amp;rut=abc" class="result-link">Docker <b>overview</b></a></td></tr>
<tr><td></td><td class="result-snippet">Docker is an open platform for
 developing, shipping, and running applications.</td></tr>
<tr><td>2.</td><td><a rel="nofollow" href="https://www.redhat.com/en/topics/containers" class="result-link">What are containers?</a></td></tr>
<tr><td></td><td class="result-snippet">Containers package code.</td></tr>
<tr><td>3.</td><td><a href="/lite/?q=next" class="result-link">Next page</a></td></tr>
</table></body></html>`

func TestParseLite(t *testing.T) {
	got, err := parseLite([]byte(litePage))
	if err != nil {
		t.Fatalf("parseLite() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d: %+v", len(got), got)
	}
	if got[0].URL != "https://docs.docker.com/get-started/" || got[0].Title != "Docker overview" {
		t.Fatalf("unexpected first result: %+v", got[0])
	}
	if got[0].Snippet != "Docker is an open platform for developing, shipping, and running applications." {
		t.Fatalf("unexpected snippet: %q", got[0].Snippet)
	}
}

func TestDiscoverPostsForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if r.Method != http.MethodPost || r.PostForm.Get("q") != "docker (site:docker.com)" {
			t.Errorf("unexpected request: %s %v", r.Method, r.PostForm)
		}
		_, _ = io.WriteString(w, litePage)
	}))
	defer srv.Close()

	s := New(helpers.NewHTTPClient(time.Second, 0, 0))
	s.Endpoint = srv.URL
	got, err := s.Discover(context.Background(), "docker", 1, []string{"docker.com"}, 0)
	if err != nil {
		t.Fatalf("Discover() error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected k to cap results, got %d", len(got))
	}
}
