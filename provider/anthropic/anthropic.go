package anthropic_provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/research-assistant/config"
	"github.com/mohammad-safakhou/research-assistant/internal/helpers"
	"github.com/mohammad-safakhou/research-assistant/provider"
)

const (
	providerName   = "anthropic"
	defaultBaseURL = "https://api.anthropic.com/v1"
	apiVersion     = "2023-06-01"
)

// Client calls the Anthropic Messages API.
type Client struct {
	http        *helpers.HTTPClient
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
}

func New(cfg config.LLMProvider, model config.LLMModel) *Client {
	name := model.APIName
	if name == "" {
		name = model.Name
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	maxTokens := model.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{
		http:        helpers.NewHTTPClient(timeout, cfg.MaxRetries, 0),
		apiKey:      cfg.APIKey,
		baseURL:     base,
		model:       name,
		maxTokens:   maxTokens,
		temperature: model.Temperature,
	}
}

func (c *Client) Name() string { return providerName + ":" + c.model }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream,omitempty"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

func (c *Client) body(req provider.Request, stream bool) messagesRequest {
	system := req.System
	if req.JSON {
		system = strings.TrimSpace(system + "\nRespond with a single JSON object and nothing else.")
	}
	mt := c.maxTokens
	if req.MaxTokens > 0 {
		mt = req.MaxTokens
	}
	return messagesRequest{
		Model:       c.model,
		MaxTokens:   mt,
		System:      system,
		Messages:    []message{{Role: "user", Content: req.Prompt}},
		Temperature: c.temperature,
		Stream:      stream,
	}
}

func (c *Client) headers() map[string]string {
	return map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": apiVersion,
		"Content-Type":      "application/json",
	}
}

// Invoke implements provider.Gateway.
func (c *Client) Invoke(ctx context.Context, req provider.Request, onToken provider.TokenFunc) (provider.Response, error) {
	if c.apiKey == "" {
		return provider.Response{}, c.wrap(0, errors.New("api key not configured"))
	}
	if onToken != nil {
		return c.stream(ctx, req, onToken)
	}

	var out messagesResponse
	if err := c.http.DoJSON(ctx, http.MethodPost, c.baseURL+"/messages", c.headers(), c.body(req, false), &out); err != nil {
		return provider.Response{}, c.wrap(statusOf(err), err)
	}
	var b strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return provider.Response{}, c.wrap(0, provider.ErrEmptyResponse)
	}
	return provider.Response{
		Content:  b.String(),
		Provider: providerName,
		Model:    c.model,
		Usage:    provider.Usage{InputTokens: out.Usage.InputTokens, OutputTokens: out.Usage.OutputTokens},
	}, nil
}

type streamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Usage struct {
			InputTokens int64 `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message,omitempty"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"delta,omitempty"`
	Usage *struct {
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) stream(ctx context.Context, req provider.Request, onToken provider.TokenFunc) (provider.Response, error) {
	payload, err := json.Marshal(c.body(req, true))
	if err != nil {
		return provider.Response{}, c.wrap(0, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return provider.Response{}, c.wrap(0, err)
	}
	for k, v := range c.headers() {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Client().Do(httpReq)
	if err != nil {
		return provider.Response{}, c.wrap(0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return provider.Response{}, c.wrap(resp.StatusCode, fmt.Errorf("%s", bytes.TrimSpace(body)))
	}

	var (
		b     strings.Builder
		usage provider.Usage
	)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}
		var evt streamEvent
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			continue
		}
		switch evt.Type {
		case "error":
			msg := "stream error"
			if evt.Error != nil {
				msg = evt.Error.Message
			}
			return provider.Response{}, c.wrap(0, errors.New(msg))
		case "message_start":
			if evt.Message != nil {
				usage.InputTokens = evt.Message.Usage.InputTokens
			}
		case "content_block_delta":
			if evt.Delta != nil && evt.Delta.Text != "" {
				b.WriteString(evt.Delta.Text)
				onToken(evt.Delta.Text)
			}
		case "message_delta":
			if evt.Usage != nil {
				usage.OutputTokens = evt.Usage.OutputTokens
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return provider.Response{}, c.wrap(0, ctx.Err())
		}
		return provider.Response{}, c.wrap(0, err)
	}
	if strings.TrimSpace(b.String()) == "" {
		return provider.Response{}, c.wrap(0, provider.ErrEmptyResponse)
	}
	return provider.Response{Content: b.String(), Provider: providerName, Model: c.model, Usage: usage}, nil
}

func (c *Client) wrap(status int, err error) error {
	return provider.Wrap(providerName, c.model, status, err)
}

func statusOf(err error) int {
	var se *helpers.StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}
