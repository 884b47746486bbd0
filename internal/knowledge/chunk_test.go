package knowledge

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitTextShortDocument(t *testing.T) {
	got := SplitText("  a short note  ", 100, 10)
	if len(got) != 1 || got[0] != "a short note" {
		t.Fatalf("SplitText() = %#v", got)
	}
	if SplitText("   ", 100, 10) != nil {
		t.Fatalf("expected nil for blank text")
	}
}

func TestSplitTextPrefersParagraphs(t *testing.T) {
	text := strings.Repeat("alpha ", 10) + "\n\n" + strings.Repeat("beta ", 10) + "\n\n" + strings.Repeat("gamma ", 10)
	got := SplitText(text, 70, 0)
	if len(got) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %#v", len(got), got)
	}
	for i, prefix := range []string{"alpha", "beta", "gamma"} {
		if !strings.HasPrefix(got[i], prefix) {
			t.Fatalf("chunk %d = %q, want prefix %q", i, got[i], prefix)
		}
	}
}

func TestSplitTextRespectsSizeAndOverlap(t *testing.T) {
	var words []string
	for i := 0; i < 200; i++ {
		words = append(words, fmt.Sprintf("w%03d", i))
	}
	got := SplitText(strings.Join(words, " "), 50, 10)
	if len(got) < 2 {
		t.Fatalf("expected several chunks, got %d", len(got))
	}
	for i, c := range got {
		if n := utf8.RuneCountInString(c); n > 50 {
			t.Fatalf("chunk %d has %d runes", i, n)
		}
	}
	if !strings.HasSuffix(got[0], "w009") {
		t.Fatalf("first chunk = %q", got[0])
	}
	if !strings.HasPrefix(got[1], "w008 w009 w010") {
		t.Fatalf("second chunk does not carry overlap: %q", got[1])
	}
}

func TestSplitTextHardCut(t *testing.T) {
	got := SplitText("abcdefghij", 4, 2)
	if len(got) != 3 || got[0] != "abcd" || got[2] != "ij" {
		t.Fatalf("SplitText() = %#v", got)
	}
}

func TestContentHashIgnoresWhitespace(t *testing.T) {
	if contentHash("a  b\nc") != contentHash("a b c") {
		t.Fatalf("expected whitespace-insensitive hash")
	}
}
