package gemini_provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/research-assistant/config"
	"github.com/mohammad-safakhou/research-assistant/provider"
	"google.golang.org/genai"
)

const providerName = "gemini"

// Client generates content with the Gemini API through the genai SDK.
type Client struct {
	api         *genai.Client
	model       string
	temperature float32
	maxTokens   int32
}

func newAPI(ctx context.Context, cfg config.LLMProvider) (*genai.Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeout},
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return client, nil
}

func New(ctx context.Context, cfg config.LLMProvider, model config.LLMModel) (*Client, error) {
	api, err := newAPI(ctx, cfg)
	if err != nil {
		return nil, err
	}
	name := model.APIName
	if name == "" {
		name = model.Name
	}
	return &Client{
		api:         api,
		model:       name,
		temperature: float32(model.Temperature),
		maxTokens:   int32(model.MaxTokens),
	}, nil
}

func (c *Client) Name() string { return providerName + ":" + c.model }

func (c *Client) generateConfig(req provider.Request) *genai.GenerateContentConfig {
	gc := &genai.GenerateContentConfig{Temperature: genai.Ptr(c.temperature)}
	if req.System != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(req.MaxTokens)
	} else if c.maxTokens > 0 {
		gc.MaxOutputTokens = c.maxTokens
	}
	if req.JSON {
		gc.ResponseMIMEType = "application/json"
	}
	return gc
}

// Invoke implements provider.Gateway.
func (c *Client) Invoke(ctx context.Context, req provider.Request, onToken provider.TokenFunc) (provider.Response, error) {
	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
	cfg := c.generateConfig(req)

	if onToken == nil {
		resp, err := c.api.Models.GenerateContent(ctx, c.model, contents, cfg)
		if err != nil {
			return provider.Response{}, c.wrap(err)
		}
		text := resp.Text()
		if strings.TrimSpace(text) == "" {
			return provider.Response{}, c.wrap(provider.ErrEmptyResponse)
		}
		return provider.Response{Content: text, Provider: providerName, Model: c.model, Usage: usageOf(resp)}, nil
	}

	var (
		b     strings.Builder
		usage provider.Usage
	)
	for chunk, err := range c.api.Models.GenerateContentStream(ctx, c.model, contents, cfg) {
		if err != nil {
			return provider.Response{}, c.wrap(err)
		}
		if u := usageOf(chunk); u.InputTokens > 0 || u.OutputTokens > 0 {
			usage = u
		}
		if text := chunk.Text(); text != "" {
			b.WriteString(text)
			onToken(text)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return provider.Response{}, c.wrap(provider.ErrEmptyResponse)
	}
	return provider.Response{Content: b.String(), Provider: providerName, Model: c.model, Usage: usage}, nil
}

func usageOf(resp *genai.GenerateContentResponse) provider.Usage {
	if resp == nil || resp.UsageMetadata == nil {
		return provider.Usage{}
	}
	return provider.Usage{
		InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
		OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
	}
}

func (c *Client) wrap(err error) error {
	status := 0
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		status = apiErr.Code
	}
	return provider.Wrap(providerName, c.model, status, err)
}

// Embedder produces retrieval embeddings with a Gemini embedding model.
type Embedder struct {
	api   *genai.Client
	model string
}

func NewEmbedder(ctx context.Context, cfg config.LLMProvider, model config.LLMModel) (*Embedder, error) {
	api, err := newAPI(ctx, cfg)
	if err != nil {
		return nil, err
	}
	name := model.APIName
	if name == "" {
		name = model.Name
	}
	if name == "" {
		name = "gemini-embedding-001"
	}
	return &Embedder{api: api, model: name}, nil
}

func (e *Embedder) Name() string { return providerName + ":" + e.model }

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}
	result, err := e.api.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType: "RETRIEVAL_DOCUMENT",
	})
	if err != nil {
		return nil, provider.Wrap(providerName, e.model, 0, err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, provider.Wrap(providerName, e.model, 0, fmt.Errorf("got %d embeddings for %d inputs", len(result.Embeddings), len(texts)))
	}
	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}
