package brave

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mohammad-safakhou/research-assistant/internal/helpers"
)

func TestDiscover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Subscription-Token") != "key" {
			t.Errorf("missing subscription token")
		}
		if got := r.URL.Query().Get("freshness"); got != "pm" {
			t.Errorf("freshness = %q", got)
		}
		if got := r.URL.Query().Get("count"); got != "3" {
			t.Errorf("count = %q", got)
		}
		fmt.Fprint(w, `{"web":{"results":[{"title":"Kubernetes","url":"https://kubernetes.io/docs/","description":"Production-grade orchestration","page_age":"2024-06-01T00:00:00"}]}}`)
	}))
	defer srv.Close()

	s := New("key", helpers.NewHTTPClient(time.Second, 0, 0))
	s.Endpoint = srv.URL
	got, err := s.Discover(context.Background(), "kubernetes", 3, nil, 30)
	if err != nil {
		t.Fatalf("Discover() error: %v", err)
	}
	if len(got) != 1 || got[0].Snippet != "Production-grade orchestration" || got[0].Date != "2024-06-01T00:00:00" {
		t.Fatalf("unexpected results: %+v", got)
	}
}
