package knowledge

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"unicode/utf8"
)

// separators are tried in order; a piece that is still too long is split
// again with the next one, and finally cut by length.
var separators = []string{"\n\n", "\n", ". ", " "}

// SplitText cuts text into chunks of at most size runes, carrying up to
// overlap runes of trailing context into the next chunk.
func SplitText(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if size <= 0 || utf8.RuneCountInString(text) <= size {
		return []string{text}
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}
	return mergePieces(splitPieces(text, size, 0), size, overlap)
}

func splitPieces(text string, size, level int) []string {
	if utf8.RuneCountInString(text) <= size {
		return []string{text}
	}
	if level >= len(separators) {
		r := []rune(text)
		var out []string
		for i := 0; i < len(r); i += size {
			end := i + size
			if end > len(r) {
				end = len(r)
			}
			out = append(out, string(r[i:end]))
		}
		return out
	}
	parts := strings.SplitAfter(text, separators[level])
	if len(parts) == 1 {
		return splitPieces(text, size, level+1)
	}
	var out []string
	for _, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, splitPieces(p, size, level+1)...)
	}
	return out
}

func mergePieces(pieces []string, size, overlap int) []string {
	var (
		chunks []string
		cur    []string
		curLen int
	)
	flush := func() {
		if s := strings.TrimSpace(strings.Join(cur, "")); s != "" {
			chunks = append(chunks, s)
		}
	}
	for _, p := range pieces {
		pl := utf8.RuneCountInString(p)
		if curLen+pl > size && len(cur) > 0 {
			flush()
			var keep []string
			keepLen := 0
			for i := len(cur) - 1; i >= 0; i-- {
				l := utf8.RuneCountInString(cur[i])
				if keepLen+l > overlap {
					break
				}
				keep = append([]string{cur[i]}, keep...)
				keepLen += l
			}
			cur, curLen = keep, keepLen
			for curLen+pl > size && len(cur) > 0 {
				curLen -= utf8.RuneCountInString(cur[0])
				cur = cur[1:]
			}
		}
		cur = append(cur, p)
		curLen += pl
	}
	if len(cur) > 0 {
		flush()
	}
	return chunks
}

func sha1Hex(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}

// contentHash normalises whitespace so reformatted copies dedupe.
func contentHash(text string) string {
	return sha1Hex(strings.Join(strings.Fields(text), " "))
}
