package helpers

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSONObject is returned when no JSON object can be located in a reply.
var ErrNoJSONObject = errors.New("no JSON object found")

// UnwrapJSONObject locates the first complete JSON object in an LLM reply.
// Models often wrap the object in a ```json fence or surround it with prose;
// both are tolerated. The returned bytes are the object exactly as written.
func UnwrapJSONObject(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "\uFEFF")
	if inner, ok := stripFence(s); ok {
		s = inner
	}
	for i := strings.IndexByte(s, '{'); i >= 0; {
		dec := json.NewDecoder(strings.NewReader(s[i:]))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err == nil && len(raw) > 0 && raw[0] == '{' {
			return bytes.TrimSpace(raw), nil
		}
		next := strings.IndexByte(s[i+1:], '{')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return nil, ErrNoJSONObject
}

func stripFence(s string) (string, bool) {
	for _, fence := range []string{"```", "~~~"} {
		start := strings.Index(s, fence)
		if start < 0 {
			continue
		}
		rest := s[start+len(fence):]
		nl := strings.IndexByte(rest, '\n')
		if nl < 0 {
			continue
		}
		rest = rest[nl+1:]
		end := strings.Index(rest, fence)
		if end < 0 {
			continue
		}
		return strings.TrimSpace(rest[:end]), true
	}
	return "", false
}
