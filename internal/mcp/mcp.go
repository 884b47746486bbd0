// Package mcp serves the research tools to Model Context Protocol clients
// over newline-delimited JSON-RPC on stdio.
package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
)

const protocolVersion = "2024-11-05"

// JSON-RPC error codes.
const (
	codeParse          = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ToolDesc is one entry of tools/list.
type ToolDesc struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type handlerFunc func(ctx context.Context, args json.RawMessage) (any, error)

type tool struct {
	desc    ToolDesc
	schema  *jsonschema.Schema
	handler handlerFunc
}

// Content is one block of a tools/call result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallResult is the tools/call reply. Tool failures are reported in-band
// with IsError so the client model can see them.
type CallResult struct {
	Content           []Content `json:"content"`
	StructuredContent any       `json:"structuredContent,omitempty"`
	IsError           bool      `json:"isError,omitempty"`
}

// Server holds the registered tools. Calls are handled one at a time.
type Server struct {
	name, version string
	timeout       time.Duration
	logger        *zap.Logger

	order []string
	tools map[string]*tool

	mu sync.Mutex
}

func newServer(name, version string, timeout time.Duration, logger *zap.Logger) *Server {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{name: name, version: version, timeout: timeout, logger: logger.Named("mcp"), tools: map[string]*tool{}}
}

// register compiles schema and adds the tool.
func (s *Server) register(name, description, schema string, h handlerFunc) error {
	compiler := jsonschema.NewCompiler()
	res := name + ".json"
	if err := compiler.AddResource(res, bytes.NewReader([]byte(schema))); err != nil {
		return fmt.Errorf("tool %s schema: %w", name, err)
	}
	compiled, err := compiler.Compile(res)
	if err != nil {
		return fmt.Errorf("tool %s schema: %w", name, err)
	}
	if _, dup := s.tools[name]; !dup {
		s.order = append(s.order, name)
	}
	s.tools[name] = &tool{
		desc:    ToolDesc{Name: name, Description: description, InputSchema: json.RawMessage(schema)},
		schema:  compiled,
		handler: h,
	}
	return nil
}

// Tools lists the registered tools in registration order.
func (s *Server) Tools() []ToolDesc {
	out := make([]ToolDesc, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, s.tools[n].desc)
	}
	return out
}

// Serve reads one request per line from in and writes responses to out
// until in is exhausted or ctx is cancelled. Notifications get no reply.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	enc := json.NewEncoder(out)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		resp, ok := s.handle(ctx, line)
		if !ok {
			continue
		}
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return ctx.Err()
}

// handle answers one raw request. It returns false for notifications.
func (s *Server) handle(ctx context.Context, raw []byte) (rpcResponse, bool) {
	var req rpcRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(json.RawMessage("null"), codeParse, "parse error: "+err.Error()), true
	}
	if len(req.ID) == 0 {
		s.logger.Debug("notification", zap.String("method", req.Method))
		return rpcResponse{}, false
	}

	switch req.Method {
	case "initialize":
		return result(req.ID, map[string]any{
			"protocolVersion": protocolVersion,
			"serverInfo":      map[string]string{"name": s.name, "version": s.version},
			"capabilities":    map[string]any{"tools": map[string]any{}},
		}), true
	case "ping":
		return result(req.ID, map[string]any{}), true
	case "tools/list":
		return result(req.ID, map[string]any{"tools": s.Tools()}), true
	case "tools/call":
		var p struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return errorResponse(req.ID, codeInvalidParams, "invalid params: "+err.Error()), true
		}
		t, ok := s.tools[p.Name]
		if !ok {
			return errorResponse(req.ID, codeInvalidParams, "unknown tool: "+p.Name), true
		}
		if err := validate(t.schema, p.Arguments); err != nil {
			return errorResponse(req.ID, codeInvalidParams, fmt.Sprintf("tool %s: %v", p.Name, err)), true
		}
		return result(req.ID, s.call(ctx, t, p.Arguments)), true
	default:
		return errorResponse(req.ID, codeMethodNotFound, "unknown method: "+req.Method), true
	}
}

func (s *Server) call(ctx context.Context, t *tool, args json.RawMessage) CallResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	out, err := t.handler(ctx, args)
	if err != nil {
		s.logger.Info("tool failed", zap.String("tool", t.desc.Name), zap.Duration("took", time.Since(start)), zap.Error(err))
		return CallResult{Content: []Content{{Type: "text", Text: err.Error()}}, IsError: true}
	}
	s.logger.Debug("tool done", zap.String("tool", t.desc.Name), zap.Duration("took", time.Since(start)))
	text, err := json.Marshal(out)
	if err != nil {
		return CallResult{Content: []Content{{Type: "text", Text: "encode result: " + err.Error()}}, IsError: true}
	}
	return CallResult{Content: []Content{{Type: "text", Text: string(text)}}, StructuredContent: out}
}

func validate(schema *jsonschema.Schema, args json.RawMessage) error {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	var v any
	if err := json.Unmarshal(args, &v); err != nil {
		return err
	}
	return schema.Validate(v)
}

func decodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return errors.New("arguments: " + err.Error())
	}
	return nil
}

func result(id json.RawMessage, v any) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: id, Result: v}
}

func errorResponse(id json.RawMessage, code int, msg string) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: msg}}
}
