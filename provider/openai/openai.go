package openai_provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/research-assistant/config"
	"github.com/mohammad-safakhou/research-assistant/provider"
	"github.com/sashabaranov/go-openai"
)

const providerName = "openai"

// Client talks to the OpenAI chat completions API (or any compatible server
// reachable through base_url).
type Client struct {
	api         *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

func newAPI(cfg config.LLMProvider) *openai.Client {
	conf := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		conf.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	conf.HTTPClient = &http.Client{Timeout: timeout}
	return openai.NewClientWithConfig(conf)
}

// New binds a client to one configured model.
func New(cfg config.LLMProvider, model config.LLMModel) *Client {
	name := model.APIName
	if name == "" {
		name = model.Name
	}
	return &Client{
		api:         newAPI(cfg),
		model:       name,
		temperature: float32(model.Temperature),
		maxTokens:   model.MaxTokens,
	}
}

func (c *Client) Name() string { return providerName + ":" + c.model }

func (c *Client) request(req provider.Request) openai.ChatCompletionRequest {
	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	out := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}
	if req.JSON {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	return out
}

// Invoke implements provider.Gateway.
func (c *Client) Invoke(ctx context.Context, req provider.Request, onToken provider.TokenFunc) (provider.Response, error) {
	if onToken != nil {
		return c.stream(ctx, req, onToken)
	}
	resp, err := c.api.CreateChatCompletion(ctx, c.request(req))
	if err != nil {
		return provider.Response{}, c.wrap(err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return provider.Response{}, c.wrap(provider.ErrEmptyResponse)
	}
	return provider.Response{
		Content:  resp.Choices[0].Message.Content,
		Provider: providerName,
		Model:    c.model,
		Usage: provider.Usage{
			InputTokens:  int64(resp.Usage.PromptTokens),
			OutputTokens: int64(resp.Usage.CompletionTokens),
		},
	}, nil
}

func (c *Client) stream(ctx context.Context, req provider.Request, onToken provider.TokenFunc) (provider.Response, error) {
	creq := c.request(req)
	creq.Stream = true
	creq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := c.api.CreateChatCompletionStream(ctx, creq)
	if err != nil {
		return provider.Response{}, c.wrap(err)
	}
	defer stream.Close()

	var (
		b     strings.Builder
		usage provider.Usage
	)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return provider.Response{}, c.wrap(err)
		}
		if chunk.Usage != nil {
			usage.InputTokens = int64(chunk.Usage.PromptTokens)
			usage.OutputTokens = int64(chunk.Usage.CompletionTokens)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			b.WriteString(delta)
			onToken(delta)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return provider.Response{}, c.wrap(provider.ErrEmptyResponse)
	}
	return provider.Response{Content: b.String(), Provider: providerName, Model: c.model, Usage: usage}, nil
}

func (c *Client) wrap(err error) error {
	status := 0
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		status = apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		status = reqErr.HTTPStatusCode
	}
	return provider.Wrap(providerName, c.model, status, err)
}

// Embedder produces embeddings through the OpenAI embeddings endpoint.
type Embedder struct {
	api   *openai.Client
	model string
}

func NewEmbedder(cfg config.LLMProvider, model config.LLMModel) *Embedder {
	name := model.APIName
	if name == "" {
		name = model.Name
	}
	return &Embedder{api: newAPI(cfg), model: name}
}

func (e *Embedder) Name() string { return providerName + ":" + e.model }

// Embed returns one vector per input text, in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		var apiErr *openai.APIError
		status := 0
		if errors.As(err, &apiErr) {
			status = apiErr.HTTPStatusCode
		}
		return nil, provider.Wrap(providerName, e.model, status, err)
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	return out, nil
}
