package helpers

import (
	"reflect"
	"testing"
)

func TestCanonicalURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "defaults https and cleans path",
			in:   "Example.com/news/../tech/latest",
			want: "https://example.com/tech/latest",
		},
		{
			name: "removes default port and tracking params",
			in:   "http://news.example.com:80/article?id=123&utm_source=rss#section",
			want: "http://news.example.com/article?id=123",
		},
		{
			name: "sorts query parameters and preserves trailing slash",
			in:   "https://example.com/path/?b=2&a=1&fbclid=xyz",
			want: "https://example.com/path/?a=1&b=2",
		},
		{
			name: "handles schemeless url with double slash",
			in:   "//blog.example.com/post/42?utm_medium=email",
			want: "https://blog.example.com/post/42",
		},
		{
			name: "keeps non default port",
			in:   "https://example.com:8443/a",
			want: "https://example.com:8443/a",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := CanonicalURL(tt.in)
			if err != nil {
				t.Fatalf("CanonicalURL(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("CanonicalURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCanonicalURLErrors(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"", "   "} {
		if _, err := CanonicalURL(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestURLFingerprintStable(t *testing.T) {
	t.Parallel()
	a, err := URLFingerprint("https://Example.com/a?utm_source=x")
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	b, err := URLFingerprint("https://example.com/a")
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if a != b {
		t.Fatalf("expected equal fingerprints, got %s and %s", a, b)
	}
}

func TestExtractURLs(t *testing.T) {
	t.Parallel()
	text := "Compare https://docs.docker.com/get-started/ and (https://kubernetes.io/docs). Also https://docs.docker.com/get-started/?utm_source=x."
	got := ExtractURLs(text)
	want := []string{"https://docs.docker.com/get-started/", "https://kubernetes.io/docs"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ExtractURLs() = %#v, want %#v", got, want)
	}
}
