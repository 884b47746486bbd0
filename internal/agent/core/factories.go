package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/research-assistant/config"
	"github.com/mohammad-safakhou/research-assistant/internal/knowledge"
	"github.com/mohammad-safakhou/research-assistant/provider"
	anthropic_provider "github.com/mohammad-safakhou/research-assistant/provider/anthropic"
	gemini_provider "github.com/mohammad-safakhou/research-assistant/provider/gemini"
	openai_provider "github.com/mohammad-safakhou/research-assistant/provider/openai"
	"github.com/mohammad-safakhou/research-assistant/tools"
	"github.com/mohammad-safakhou/research-assistant/tools/retriever"
	"github.com/mohammad-safakhou/research-assistant/tools/web_fetch"
	"github.com/mohammad-safakhou/research-assistant/tools/web_search"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewLLMClient builds the client for one declared model key.
func NewLLMClient(ctx context.Context, cfg config.LLMConfig, modelKey string) (provider.Client, error) {
	name, p, ok := cfg.Lookup(modelKey)
	if !ok {
		return nil, fmt.Errorf("model %q is not declared by any provider", modelKey)
	}
	model := p.Models[modelKey]
	if model.Name == "" {
		model.Name = modelKey
	}
	switch strings.ToLower(p.Type) {
	case "openai":
		return openai_provider.New(p, model), nil
	case "anthropic":
		return anthropic_provider.New(p, model), nil
	case "gemini":
		c, err := gemini_provider.New(ctx, p, model)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("provider %s has unsupported type %q", name, p.Type)
	}
}

// NewGateway builds the role router from llm.routing. Clients are shared
// between roles routed to the same model.
func NewGateway(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*provider.Router, error) {
	clients := map[string]provider.Client{}
	get := func(key string) (provider.Client, error) {
		if key == "" {
			return nil, nil
		}
		if c, ok := clients[key]; ok {
			return c, nil
		}
		c, err := NewLLMClient(ctx, cfg, key)
		if err != nil {
			return nil, err
		}
		clients[key] = c
		return c, nil
	}

	routing := map[provider.Role]string{
		provider.RoleOrchestrator: cfg.Routing.Orchestrator,
		provider.RoleResearcher:   cfg.Routing.Researcher,
		provider.RoleCritic:       cfg.Routing.Critic,
		provider.RoleSynthesizer:  cfg.Routing.Synthesizer,
	}
	routes := make(map[provider.Role]provider.Client, len(routing))
	for role, key := range routing {
		c, err := get(key)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", role, err)
		}
		if c != nil {
			routes[role] = c
		}
	}
	fallback, err := get(cfg.Routing.Fallback)
	if err != nil {
		return nil, fmt.Errorf("route fallback: %w", err)
	}
	return provider.NewRouter(routes, fallback, logger.Named("llm"))
}

// NewEmbedder returns nil when no embedding model is routed.
func NewEmbedder(ctx context.Context, cfg config.LLMConfig) (provider.Embedder, error) {
	key := cfg.Routing.Embedding
	if key == "" {
		return nil, nil
	}
	name, p, ok := cfg.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("embedding model %q is not declared by any provider", key)
	}
	model := p.Models[key]
	if model.Name == "" {
		model.Name = key
	}
	switch strings.ToLower(p.Type) {
	case "openai":
		return openai_provider.NewEmbedder(p, model), nil
	case "gemini":
		e, err := gemini_provider.NewEmbedder(ctx, p, model)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("provider %s (%s) does not offer embeddings", name, p.Type)
	}
}

// NewKnowledgeBase opens the knowledge base on its configured backend.
func NewKnowledgeBase(ctx context.Context, cfg config.KnowledgeConfig, rdb *redis.Client, embedder provider.Embedder, logger *zap.Logger) (*knowledge.Base, error) {
	store, err := knowledge.NewStore(cfg, rdb)
	if err != nil {
		return nil, err
	}
	kb, err := knowledge.New(cfg, store, embedder, logger)
	if err != nil {
		return nil, err
	}
	if err := kb.Open(ctx); err != nil {
		return nil, err
	}
	return kb, nil
}

// NewToolRegistry registers web_search always, retriever when a knowledge
// base is given and the scrape tool when a fetcher is configured.
func NewToolRegistry(cfg config.ToolsConfig, pipeline config.PipelineConfig, kb retriever.Searcher, logger *zap.Logger) (*tools.Registry, error) {
	pipeline = pipeline.Normalize()
	reg := tools.NewRegistry()

	searcher, err := web_search.NewWebSearcher(cfg.WebSearch)
	if err != nil {
		return nil, fmt.Errorf("web search: %w", err)
	}
	maxResults := cfg.WebSearch.MaxResults
	if maxResults <= 0 {
		maxResults = pipeline.TopK
	}
	reg.Register(web_search.NewTool(searcher, maxResults, cfg.Domains))

	if kb != nil {
		reg.Register(retriever.NewTool(kb, pipeline.TopK))
	}

	fetcher, err := web_fetch.NewWebFetcher(cfg)
	switch {
	case errors.Is(err, web_fetch.ErrFetcherDisabled):
		logger.Debug("scrape tool disabled")
	case err != nil:
		return nil, fmt.Errorf("web fetch: %w", err)
	default:
		reg.Register(web_fetch.NewTool(fetcher, pipeline.ScrapeLimit))
	}
	return reg, nil
}
