// Package mcp exposes the document and query operations as Model Context
// Protocol tools over the official go-sdk. Handlers translate tool inputs
// into core calls and core errors into structured tool results; no core
// component ever calls back into this layer.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nguyenngocdue/RAG-MCP/internal/batch"
	"github.com/nguyenngocdue/RAG-MCP/internal/config"
	"github.com/nguyenngocdue/RAG-MCP/internal/extract"
	"github.com/nguyenngocdue/RAG-MCP/internal/model"
	"github.com/nguyenngocdue/RAG-MCP/internal/query"
	"github.com/nguyenngocdue/RAG-MCP/internal/registry"
)

const (
	serverName    = "rag-mcp"
	serverVersion = "1.0.0"
)

// Server wires the orchestration core to the MCP tool surface.
type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	registry  *registry.Registry
	extractor *extract.Dispatcher
	processor *batch.Processor
	queries   *query.Dispatcher
	engine    model.Engine

	mcpServer *mcp.Server
}

// Deps are the collaborators the tool surface needs; all owned by the
// caller and torn down at shutdown.
type Deps struct {
	Config    *config.Config
	Logger    *slog.Logger
	Registry  *registry.Registry
	Extractor *extract.Dispatcher
	Processor *batch.Processor
	Queries   *query.Dispatcher
	Engine    model.Engine
}

func NewServer(deps Deps) (*Server, error) {
	if deps.Config == nil || deps.Registry == nil || deps.Processor == nil || deps.Queries == nil {
		return nil, fmt.Errorf("mcp server: missing dependencies")
	}

	s := &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		registry:  deps.Registry,
		extractor: deps.Extractor,
		processor: deps.Processor,
		queries:   deps.Queries,
		engine:    deps.Engine,
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    serverName,
			Version: serverVersion,
		}, nil),
	}
	s.registerTools()
	return s, nil
}

// Run blocks serving the MCP protocol on the given transport until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	s.logger.Info("mcp server starting", "name", serverName, "version", serverVersion)
	return s.mcpServer.Run(ctx, transport)
}

// jsonResult renders a success payload as pretty-printed JSON text content,
// mirroring what MCP clients expect from this server.
func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(model.WrapError(model.KindEngine, err, "encode tool result"))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}

// errorResult renders any core error as a structured failure with a stable
// kind string; callers never see a raw unhandled fault.
func errorResult(err error) *mcp.CallToolResult {
	kind := model.ErrKind(err)
	if kind == "" {
		kind = "INTERNAL"
	}
	payload := map[string]any{
		"success": false,
		"error": map[string]any{
			"kind":    kind,
			"message": err.Error(),
		},
	}
	data, _ := json.MarshalIndent(payload, "", "  ")
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		IsError: true,
	}
}
