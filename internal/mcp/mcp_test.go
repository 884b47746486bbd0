package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/research-assistant/internal/agent/core"
	"github.com/mohammad-safakhou/research-assistant/internal/knowledge"
	"github.com/mohammad-safakhou/research-assistant/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct {
	name    tools.ToolName
	variant tools.Variant
	err     error
	last    tools.Query
}

func (s *stubTool) Name() tools.ToolName   { return s.name }
func (s *stubTool) Variant() tools.Variant { return s.variant }
func (s *stubTool) Invoke(_ context.Context, q tools.Query) (tools.Evidence, error) {
	s.last = q
	if s.err != nil {
		return tools.Evidence{}, tools.Fail(s.name, s.err)
	}
	return tools.Evidence{Tool: s.name, Items: []tools.Item{{Title: "Docker overview", URL: "https://docs.docker.com/"}}}, nil
}

type stubPipeline struct{ req core.Request }

func (p *stubPipeline) Run(_ context.Context, req core.Request, _ ...core.Sink) (*core.Result, error) {
	p.req = req
	return &core.Result{RunID: "run-7", Answer: "Docker packages apps [#1].", Confidence: 0.8,
		Citations: []core.Citation{{Marker: "#1", Title: "Docker overview", URL: "https://docs.docker.com/"}}}, nil
}

type stubKB struct{ docs []knowledge.Document }

func (k *stubKB) Ingest(_ context.Context, docs []knowledge.Document) (knowledge.IngestReport, error) {
	k.docs = append(k.docs, docs...)
	return knowledge.IngestReport{Documents: len(docs), Created: len(docs), Ingested: len(docs)}, nil
}

func (k *stubKB) Stats(context.Context) (knowledge.Stats, error) {
	return knowledge.Stats{Backend: "memory", Documents: len(k.docs)}, nil
}

type fixture struct {
	search   *stubTool
	scrape   *stubTool
	pipeline *stubPipeline
	kb       *stubKB
	server   *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		search:   &stubTool{name: tools.WebSearch, variant: tools.VariantWebSearch},
		scrape:   &stubTool{name: tools.Firecrawl, variant: tools.VariantScrape},
		pipeline: &stubPipeline{},
		kb:       &stubKB{},
	}
	srv, err := New(Deps{
		Tools:     tools.NewRegistry(f.search, f.scrape),
		Pipeline:  f.pipeline,
		Knowledge: f.kb,
		FastMode:  true,
	}, Options{Version: "test"}, nil)
	require.NoError(t, err)
	f.server = srv
	return f
}

type reply struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (f *fixture) exchange(t *testing.T, lines ...string) []reply {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, f.server.Serve(context.Background(), strings.NewReader(strings.Join(lines, "\n")), &out))
	var replies []reply
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		var r reply
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		replies = append(replies, r)
	}
	return replies
}

func callResult(t *testing.T, r reply) CallResult {
	t.Helper()
	require.Nil(t, r.Error)
	var cr CallResult
	require.NoError(t, json.Unmarshal(r.Result, &cr))
	return cr
}

func TestInitializeAndList(t *testing.T) {
	f := newFixture(t)
	replies := f.exchange(t,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
	)
	require.Len(t, replies, 2, "notifications get no reply")
	assert.Contains(t, string(replies[0].Result), protocolVersion)

	var list struct {
		Tools []ToolDesc `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(replies[1].Result, &list))
	var names []string
	for _, d := range list.Tools {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"web_search", "firecrawl", "research.ask", "knowledge.ingest", "knowledge.stats"}, names)
}

func TestCallEvidenceTools(t *testing.T) {
	f := newFixture(t)
	replies := f.exchange(t,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"web_search","arguments":{"query":"docker","k":3,"block_domains":["pinterest.com"]}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"firecrawl","arguments":{"urls":["https://docs.docker.com/"]}}}`,
	)
	require.Len(t, replies, 2)
	cr := callResult(t, replies[0])
	assert.False(t, cr.IsError)
	assert.Contains(t, cr.Content[0].Text, "Docker overview")
	assert.Equal(t, tools.Query{Text: "docker", TopK: 3, BlockDomains: []string{"pinterest.com"}}, f.search.last)
	assert.Equal(t, []string{"https://docs.docker.com/"}, f.scrape.last.URLs)
}

func TestCallValidatesArguments(t *testing.T) {
	f := newFixture(t)
	replies := f.exchange(t,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"web_search","arguments":{"k":3}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"research.ask","arguments":{"question":"q","extra":1}}}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"nope"}}`,
		`{"jsonrpc":"2.0","id":4,"method":"resources/list"}`,
		`not json`,
	)
	require.Len(t, replies, 5)
	for _, r := range replies[:3] {
		require.NotNil(t, r.Error)
		assert.Equal(t, codeInvalidParams, r.Error.Code)
	}
	assert.Equal(t, codeMethodNotFound, replies[3].Error.Code)
	assert.Equal(t, codeParse, replies[4].Error.Code)
	assert.Equal(t, "null", string(replies[4].ID))
}

func TestToolFailureIsReportedInBand(t *testing.T) {
	f := newFixture(t)
	f.search.err = errors.New("rate limited")
	replies := f.exchange(t, `{"jsonrpc":"2.0","id":"a","method":"tools/call","params":{"name":"web_search","arguments":{"query":"docker"}}}`)
	cr := callResult(t, replies[0])
	assert.True(t, cr.IsError)
	assert.Contains(t, cr.Content[0].Text, "rate limited")
	assert.Equal(t, `"a"`, string(replies[0].ID))
}

func TestAskAndKnowledge(t *testing.T) {
	f := newFixture(t)
	replies := f.exchange(t,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"research.ask","arguments":{"question":"What is Docker?"}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"knowledge.ingest","arguments":{"documents":[{"text":"Containers share a kernel.","url":"https://example.com/c"},{"text":"Images are layered."}]}}}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"knowledge.stats","arguments":{}}}`,
	)
	require.Len(t, replies, 3)

	var ask AskResult
	require.NoError(t, json.Unmarshal([]byte(callResult(t, replies[0]).Content[0].Text), &ask))
	assert.Equal(t, "run-7", ask.RunID)
	assert.True(t, f.pipeline.req.FastMode, "fast mode defaults from deps")

	require.Len(t, f.kb.docs, 2)
	assert.Equal(t, "https://example.com/c", f.kb.docs[0].Source)
	assert.Equal(t, "mcp-document-2", f.kb.docs[1].Source)
	assert.Contains(t, callResult(t, replies[2]).Content[0].Text, `"documents":2`)
}

func TestNewRequiresSomething(t *testing.T) {
	_, err := New(Deps{}, Options{}, nil)
	require.Error(t, err)
}
