package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/research-assistant/internal/agent/core"
	"github.com/mohammad-safakhou/research-assistant/internal/knowledge"
	"github.com/mohammad-safakhou/research-assistant/tools"
	"go.uber.org/zap"
)

// Pipeline runs a research request.
type Pipeline interface {
	Run(ctx context.Context, req core.Request, sinks ...core.Sink) (*core.Result, error)
}

// KnowledgeBase is the subset of the knowledge base exposed as tools.
type KnowledgeBase interface {
	Ingest(ctx context.Context, docs []knowledge.Document) (knowledge.IngestReport, error)
	Stats(ctx context.Context) (knowledge.Stats, error)
}

// Deps are the components published as tools. Nil members are skipped.
type Deps struct {
	Tools     *tools.Registry
	Pipeline  Pipeline
	Knowledge KnowledgeBase
	// RunSinks returns extra sinks for each research.ask run.
	RunSinks func(core.Request) []core.Sink
	// FastMode is the default for research.ask calls that leave it unset.
	FastMode bool
}

// Options name the server and bound each call.
type Options struct {
	Name        string
	Version     string
	CallTimeout time.Duration
}

const searchSchema = `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "minLength": 1},
    "k": {"type": "integer", "minimum": 1, "maximum": 25},
    "allow_domains": {"type": "array", "items": {"type": "string"}},
    "block_domains": {"type": "array", "items": {"type": "string"}},
    "require_recent": {"type": "boolean"}
  },
  "required": ["query"],
  "additionalProperties": false
}`

const scrapeSchema = `{
  "type": "object",
  "properties": {
    "urls": {"type": "array", "items": {"type": "string", "minLength": 1}, "minItems": 1, "maxItems": 10}
  },
  "required": ["urls"],
  "additionalProperties": false
}`

const askSchema = `{
  "type": "object",
  "properties": {
    "question": {"type": "string", "minLength": 1},
    "context": {"type": "string"},
    "fast_mode": {"type": "boolean"},
    "max_sources": {"type": "integer", "minimum": 0}
  },
  "required": ["question"],
  "additionalProperties": false
}`

const ingestSchema = `{
  "type": "object",
  "properties": {
    "documents": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "properties": {
          "source": {"type": "string"},
          "title": {"type": "string"},
          "url": {"type": "string"},
          "text": {"type": "string", "minLength": 1},
          "published_at": {"type": "string"}
        },
        "required": ["text"]
      }
    }
  },
  "required": ["documents"],
  "additionalProperties": false
}`

const emptySchema = `{"type": "object", "additionalProperties": false}`

var toolDescriptions = map[tools.ToolName]string{
	tools.WebSearch: "Search the web. Returns titles, URLs, snippets and dates.",
	tools.Retriever: "Search the local knowledge base. Returns the best matching chunks.",
	tools.Firecrawl: "Fetch web pages and return their readable text and links.",
}

// New registers a tool for every evidence tool in deps.Tools plus
// research.ask, knowledge.ingest and knowledge.stats when their components
// are present.
func New(deps Deps, opts Options, logger *zap.Logger) (*Server, error) {
	if opts.Name == "" {
		opts.Name = "research-assistant"
	}
	s := newServer(opts.Name, opts.Version, opts.CallTimeout, logger)

	if deps.Tools != nil {
		for _, name := range deps.Tools.Names() {
			t, _ := deps.Tools.Get(name)
			schema := searchSchema
			if t.Variant() == tools.VariantScrape {
				schema = scrapeSchema
			}
			if err := s.register(string(name), toolDescriptions[name], schema, evidenceHandler(t)); err != nil {
				return nil, err
			}
		}
	}
	if deps.Pipeline != nil {
		if err := s.register("research.ask", "Research a question with the full multi-agent pipeline and return a cited answer.", askSchema, askHandler(deps)); err != nil {
			return nil, err
		}
	}
	if deps.Knowledge != nil {
		kb := deps.Knowledge
		if err := s.register("knowledge.ingest", "Add documents to the knowledge base.", ingestSchema, ingestHandler(kb)); err != nil {
			return nil, err
		}
		if err := s.register("knowledge.stats", "Describe the knowledge base contents.", emptySchema, func(ctx context.Context, _ json.RawMessage) (any, error) {
			return kb.Stats(ctx)
		}); err != nil {
			return nil, err
		}
	}
	if len(s.order) == 0 {
		return nil, errors.New("mcp: nothing to serve")
	}
	return s, nil
}

type searchArgs struct {
	Query         string   `json:"query"`
	K             int      `json:"k"`
	AllowDomains  []string `json:"allow_domains"`
	BlockDomains  []string `json:"block_domains"`
	RequireRecent bool     `json:"require_recent"`
	URLs          []string `json:"urls"`
}

func evidenceHandler(t tools.Tool) handlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var a searchArgs
		if err := decodeArgs(raw, &a); err != nil {
			return nil, err
		}
		ev, err := t.Invoke(ctx, tools.Query{
			Text:          a.Query,
			URLs:          a.URLs,
			TopK:          a.K,
			AllowDomains:  a.AllowDomains,
			BlockDomains:  a.BlockDomains,
			RequireRecent: a.RequireRecent,
		})
		if err != nil {
			return nil, err
		}
		return ev, nil
	}
}

type askArgs struct {
	Question   string `json:"question"`
	Context    string `json:"context"`
	FastMode   *bool  `json:"fast_mode"`
	MaxSources int    `json:"max_sources"`
}

// AskResult is the research.ask reply.
type AskResult struct {
	RunID        string          `json:"run_id"`
	Answer       string          `json:"answer"`
	Citations    []core.Citation `json:"citations"`
	Confidence   float64         `json:"confidence"`
	Unanswerable bool            `json:"unanswerable,omitempty"`
}

func askHandler(deps Deps) handlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var a askArgs
		if err := decodeArgs(raw, &a); err != nil {
			return nil, err
		}
		req := core.Request{Question: a.Question, Context: a.Context, FastMode: deps.FastMode, MaxSources: a.MaxSources}
		if a.FastMode != nil {
			req.FastMode = *a.FastMode
		}
		var sinks []core.Sink
		if deps.RunSinks != nil {
			sinks = deps.RunSinks(req)
		}
		res, err := deps.Pipeline.Run(ctx, req, sinks...)
		if err != nil {
			return nil, err
		}
		return AskResult{RunID: res.RunID, Answer: res.Answer, Citations: res.Citations, Confidence: res.Confidence, Unanswerable: res.Unanswerable}, nil
	}
}

type ingestArgs struct {
	Documents []struct {
		Source      string `json:"source"`
		Title       string `json:"title"`
		URL         string `json:"url"`
		Text        string `json:"text"`
		PublishedAt string `json:"published_at"`
	} `json:"documents"`
}

func ingestHandler(kb KnowledgeBase) handlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var a ingestArgs
		if err := decodeArgs(raw, &a); err != nil {
			return nil, err
		}
		docs := make([]knowledge.Document, 0, len(a.Documents))
		for i, d := range a.Documents {
			src := d.Source
			if src == "" {
				src = d.URL
			}
			if src == "" {
				src = fmt.Sprintf("mcp-document-%d", i+1)
			}
			docs = append(docs, knowledge.Document{Source: src, Title: d.Title, URL: d.URL, Text: d.Text, PublishedAt: d.PublishedAt})
		}
		return kb.Ingest(ctx, docs)
	}
}
