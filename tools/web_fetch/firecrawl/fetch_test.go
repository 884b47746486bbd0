package firecrawl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mohammad-safakhou/research-assistant/internal/helpers"
)

func TestExec(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/scrape" || r.Header.Get("Authorization") != "Bearer fc-key" {
			t.Errorf("unexpected request %s %s", r.URL.Path, r.Header.Get("Authorization"))
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["url"] != "https://docs.docker.com/get-started/" {
			t.Errorf("unexpected url %v", body["url"])
		}
		fmt.Fprint(w, `{"success":true,"data":{"markdown":"# Docker\n\nDocker is an open platform.","links":["https://docs.docker.com/engine/"],"metadata":{"title":"Get started","sourceURL":"https://docs.docker.com/get-started/","statusCode":200}}}`)
	}))
	defer srv.Close()

	f := New(srv.URL, "fc-key", 10, helpers.NewHTTPClient(time.Second, 0, 0))
	res, err := f.Exec(context.Background(), "https://docs.docker.com/get-started/")
	if err != nil {
		t.Fatalf("Exec() error: %v", err)
	}
	if res.Title != "Get started" || res.Text != "# Docker\n\n" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Links) != 1 {
		t.Fatalf("expected links, got %v", res.Links)
	}
}

func TestExecFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"error":"blocked"}`)
	}))
	defer srv.Close()

	f := New(srv.URL, "", 0, helpers.NewHTTPClient(time.Second, 0, 0))
	if _, err := f.Exec(context.Background(), "https://example.com"); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := f.Exec(context.Background(), " "); err == nil {
		t.Fatalf("expected invalid url error")
	}
}
