package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Role identifies which pipeline stage is talking to the model.
type Role string

const (
	RoleOrchestrator Role = "orchestrator"
	RoleResearcher   Role = "researcher"
	RoleCritic       Role = "critic"
	RoleSynthesizer  Role = "synthesizer"
)

// Roles lists every stage role in pipeline order.
func Roles() []Role {
	return []Role{RoleOrchestrator, RoleResearcher, RoleCritic, RoleSynthesizer}
}

// Request is a single prompt sent to a model.
type Request struct {
	Role   Role
	System string
	Prompt string
	// JSON asks the backend to constrain the reply to a JSON object when it
	// supports doing so.
	JSON bool
	// MaxTokens overrides the configured model limit when positive.
	MaxTokens int
}

// Usage is the token accounting reported by a backend.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Response is the complete reply for a Request.
type Response struct {
	Content  string        `json:"content"`
	Provider string        `json:"provider"`
	Model    string        `json:"model"`
	Usage    Usage         `json:"usage"`
	Latency  time.Duration `json:"latency"`
}

// TokenFunc receives incremental output while a reply is streamed.
type TokenFunc func(chunk string)

// Gateway turns a role-tagged prompt into a reply. A nil TokenFunc requests a
// non-streamed completion; otherwise every increment is delivered to it in
// order before Invoke returns.
type Gateway interface {
	Invoke(ctx context.Context, req Request, onToken TokenFunc) (Response, error)
}

// Client is one concrete backend bound to a single model.
type Client interface {
	Gateway
	Name() string
}

// Embedder produces dense vectors for retrieval.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}

// ErrEmptyResponse is returned when a backend answers without any content.
var ErrEmptyResponse = errors.New("empty response")

// GatewayError wraps any transport, provider or decode failure from a backend.
type GatewayError struct {
	Provider string
	Model    string
	Status   int
	Err      error
}

func (e *GatewayError) Error() string {
	label := e.Provider
	if e.Model != "" {
		label += "/" + e.Model
	}
	if e.Status > 0 {
		return fmt.Sprintf("gateway %s: status %d: %v", label, e.Status, e.Err)
	}
	return fmt.Sprintf("gateway %s: %v", label, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Wrap converts err into a *GatewayError unless it already is one.
func Wrap(providerName, model string, status int, err error) error {
	if err == nil {
		return nil
	}
	var ge *GatewayError
	if errors.As(err, &ge) {
		return err
	}
	return &GatewayError{Provider: providerName, Model: model, Status: status, Err: err}
}
