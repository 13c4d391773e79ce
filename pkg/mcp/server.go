// Package mcp exposes the response cache, and optionally a chat model, as
// Model Context Protocol tools over a line-delimited JSON-RPC stream.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/artkit-ai/artkit/pkg/cache/sqlite"
	"github.com/artkit-ai/artkit/pkg/llm"
	"github.com/artkit-ai/artkit/pkg/models"
)

const maxLineSize = 1 << 20

// CacheAdmin is the part of the store the cache tools use.
type CacheAdmin interface {
	Stats(ctx context.Context) ([]models.CacheStats, error)
	Clear(ctx context.Context, f sqlite.ClearFilter) (int64, error)
}

// Server answers MCP requests.
type Server struct {
	cache   CacheAdmin
	chat    llm.ChatModel
	version string
	logger  *zap.Logger
	tools   []tool
}

// Option configures a Server.
type Option func(*Server)

// WithChat adds a chat tool backed by model.
func WithChat(model llm.ChatModel) Option {
	return func(s *Server) { s.chat = model }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New returns a server exposing cache. cache may be nil, in which case the
// cache tools report that no cache is configured.
func New(cache CacheAdmin, version string, opts ...Option) *Server {
	s := &Server{cache: cache, version: version, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.tools = cacheTools
	if s.chat != nil {
		s.tools = append(append([]tool(nil), cacheTools...), chatTool)
	}
	return s
}

// Run reads requests from r, one per line, and writes responses to w. It
// returns when r is exhausted or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.write(w, Response{JSONRPC: "2.0", Error: &RPCError{Code: CodeParseError, Message: "parse error"}})
			continue
		}
		if resp := s.dispatch(ctx, &req); resp != nil {
			s.write(w, *resp)
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return reply(req, InitializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      ServerInfo{Name: "artkit", Version: s.version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
		})
	case "notifications/initialized":
		return nil
	case "tools/list":
		defs := make([]Tool, len(s.tools))
		for i, t := range s.tools {
			defs[i] = t.Tool
		}
		return reply(req, ToolsListResult{Tools: defs})
	case "tools/call":
		var params ToolCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return &Response{JSONRPC: "2.0", ID: req.ID, Error: &RPCError{Code: CodeInvalidParams, Message: "invalid params"}}
		}
		return reply(req, s.call(ctx, params))
	}
	if len(req.ID) == 0 {
		return nil
	}
	return &Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Error:   &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("unknown method: %s", req.Method)},
	}
}

func (s *Server) call(ctx context.Context, params ToolCallParams) ToolCallResult {
	for _, t := range s.tools {
		if t.Name == params.Name {
			s.logger.Debug("tool call", zap.String("tool", t.Name))
			return t.handle(ctx, s, params.Arguments)
		}
	}
	return errorResult(fmt.Sprintf("unknown tool: %s", params.Name))
}

func reply(req *Request, result any) *Response {
	return &Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func (s *Server) write(w io.Writer, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response", zap.Error(err))
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		s.logger.Error("write response", zap.Error(err))
	}
}
