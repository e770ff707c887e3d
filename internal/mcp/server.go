package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"nexus/internal/datasource"
	"nexus/internal/domain"
	"nexus/internal/filterctx"
	"nexus/internal/service"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server is the MCP server for nexus. It exposes tools, resources and
// prompts so agents can compose pages through the mutation engine and
// inspect how they render.
type Server struct {
	mcp   *server.MCPServer
	pages *service.PageService

	fetcher  datasource.Fetcher
	viewer   domain.Viewer
	sessions func(sessionID string) filterctx.SessionStorage

	// Active page context (set by set_active_page and create_page)
	mu           sync.Mutex
	activePageID string
}

// Deps holds the dependencies passed from the app layer to the MCP server.
type Deps struct {
	Pages   *service.PageService
	Fetcher datasource.Fetcher
	// Viewer is the identity used by render_page.
	Viewer domain.Viewer
	// Sessions resolves filter context storage for render_page; nil keeps
	// each render's filter context in memory.
	Sessions func(sessionID string) filterctx.SessionStorage
}

// New creates and configures a new MCP server with all tools and resources.
func New(deps Deps) *Server {
	s := &Server{
		pages:    deps.Pages,
		fetcher:  deps.Fetcher,
		viewer:   deps.Viewer,
		sessions: deps.Sessions,
	}

	s.mcp = server.NewMCPServer(
		"nexus-mcp",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
		server.WithPromptCapabilities(true),
	)

	s.registerPageTools()
	s.registerLayoutTools()
	s.registerRenderTools()
	s.registerResources()
	s.registerPrompts()

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	log.Println("[MCP] Starting stdio server...")
	return server.ServeStdio(s.mcp)
}

// MCP returns the underlying server, for transports other than stdio.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// Emit forwards service events to connected clients as notifications.
func (s *Server) Emit(ctx context.Context, event string, data any) {
	payload := map[string]any{"event": event, "data": data}
	s.mcp.SendNotificationToAllClients("notifications/nexus", payload)
}

// ── Helpers ────────────────────────────────────────────────

// textResult creates a simple text tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

// jsonResult serializes v to JSON and wraps it in a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return textResult(string(data)), nil
}

// resolvePageID returns the pageID from tool args or falls back to activePageID.
func (s *Server) resolvePageID(args map[string]any) (string, error) {
	if pid, ok := args["pageId"].(string); ok && pid != "" {
		return pid, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activePageID != "" {
		return s.activePageID, nil
	}
	return "", fmt.Errorf("no pageId provided and no active page set (use set_active_page first)")
}

func (s *Server) setActive(pageID string) {
	s.mu.Lock()
	s.activePageID = pageID
	s.mu.Unlock()
}
