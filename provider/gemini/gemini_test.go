package gemini_provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/research-assistant/config"
	"github.com/mohammad-safakhou/research-assistant/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresKey(t *testing.T) {
	_, err := New(context.Background(), config.LLMProvider{}, config.LLMModel{Name: "gemini-2.0-flash"})
	require.Error(t, err)
}

func TestInvokeGenerateContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.Contains(r.URL.Path, "gemini-test:generateContent"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"containers"}]}}],"usageMetadata":{"promptTokenCount":4,"candidatesTokenCount":1}}`)
	}))
	defer srv.Close()

	c, err := New(context.Background(), config.LLMProvider{APIKey: "k", BaseURL: srv.URL}, config.LLMModel{Name: "gemini-test"})
	require.NoError(t, err)
	resp, err := c.Invoke(context.Background(), provider.Request{Prompt: "what is docker"}, nil)
	require.NoError(t, err)
	require.Equal(t, "containers", resp.Content)
	require.Equal(t, provider.Usage{InputTokens: 4, OutputTokens: 1}, resp.Usage)
	require.Equal(t, "gemini:gemini-test", c.Name())
}
