// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes the source registry and aggregated views for operator tooling
// via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Derkades/metrics/internal/schema"
	"github.com/Derkades/metrics/internal/store"
	"github.com/Derkades/metrics/internal/view"
)

// Server wraps the MCP server with metrics tools.
type Server struct {
	mcp      *server.MCPServer
	registry *schema.Registry
	db       *store.DB
	views    *view.Engine
}

// New creates a new MCP server with all tools registered.
func New(registry *schema.Registry, db *store.DB) *Server {
	s := &Server{
		registry: registry,
		db:       db,
		views:    view.NewEngine(registry, db),
	}

	s.mcp = server.NewMCPServer(
		"Metrics",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_sources",
		mcp.WithDescription("List configured sources with their current client counts."),
	), s.listSources)

	s.mcp.AddTool(mcp.NewTool("show_metrics",
		mcp.WithDescription("Render the aggregated metrics view for a source as JSON: "+
			"client count plus the configured breakdowns and summaries."),
		mcp.WithString("source", mcp.Required(), mcp.Description("Source name")),
	), s.showMetrics)

	s.mcp.AddTool(mcp.NewTool("client_count",
		mcp.WithDescription("Number of clients currently reporting for a source."),
		mcp.WithString("source", mcp.Required(), mcp.Description("Source name")),
	), s.clientCount)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) listSources(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	names := s.registry.Names()
	if len(names) == 0 {
		return mcp.NewToolResultText("no sources configured"), nil
	}

	var b strings.Builder
	for _, name := range names {
		count, err := s.db.CountClients(name)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		fmt.Fprintf(&b, "%s: %d clients\n", name, count)
	}
	return mcp.NewToolResultText(strings.TrimSuffix(b.String(), "\n")), nil
}

func (s *Server) showMetrics(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := req.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.views.Render(source)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) clientCount(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := req.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, ok := s.registry.Get(source); !ok {
		return mcp.NewToolResultError("invalid source"), nil
	}

	count, err := s.db.CountClients(source)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%d", count)), nil
}
