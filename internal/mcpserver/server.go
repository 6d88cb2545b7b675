// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes the vault's reflective-query tools for LLM integration via stdio
// transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/ansuz/internal/query"
	"github.com/starford/ansuz/internal/syncer"
	"github.com/starford/ansuz/internal/transport"
	"github.com/starford/ansuz/internal/vault"
)

// Server wraps the MCP server with Ansuz tools.
type Server struct {
	mcp    *server.MCPServer
	store  vault.Provider
	sync   *syncer.Service
	orch   *query.Orchestrator
	client *transport.Client
}

// New creates a new MCP server with all Ansuz tools registered.
func New(store vault.Provider, sync *syncer.Service, orch *query.Orchestrator, client *transport.Client) *Server {
	s := &Server{store: store, sync: sync, orch: orch, client: client}

	s.mcp = server.NewMCPServer(
		"Ansuz",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	s.mcp.AddTool(mcp.NewTool("related_understandings",
		mcp.WithDescription("Run a semantic query for a question note: returns related "+
			"understanding notes with similarity scores plus generated comparison questions."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Vault-relative path of the question note (e.g. Questions/why.md)")),
	), s.relatedUnderstandings)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read a vault note: role, frontmatter, and body."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Vault-relative path of the note")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("resync_understandings",
		mcp.WithDescription("Push every understanding note to the remote semantic index. "+
			"Returns the indexed count and per-note errors."),
	), s.resync)

	s.mcp.AddTool(mcp.NewTool("vault_status",
		mcp.WithDescription("Report remote index health and local sync state."),
	), s.vaultStatus)

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

func (s *Server) relatedUnderstandings(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.orch.Run(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(res, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	note, err := vault.ReadNote(s.store, path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	out, _ := json.MarshalIndent(map[string]any{
		"path":        note.Path,
		"role":        note.Role.Label(),
		"frontmatter": note.Frontmatter,
		"body":        note.Body,
	}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) resync(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := s.sync.Resync(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(report, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) vaultStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := map[string]any{
		"pending":  s.sync.Status().Pending,
		"draining": s.sync.Status().Draining,
	}
	if health, err := s.client.Health(ctx); err == nil {
		status["index_connected"] = health.IndexConnected
		status["indexed_count"] = health.IndexedInsights
	} else {
		status["index_connected"] = false
		status["error"] = err.Error()
	}
	out, _ := json.MarshalIndent(status, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}
