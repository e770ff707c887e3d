package mcpserver

import (
	"context"
	"fmt"

	"nexus/internal/render"
	"nexus/internal/service"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerRenderTools() {
	// ── render_page ────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("render_page",
		mcp.WithDescription("Mount a page, resolve its data widgets once and return the rendered tree (json) or a text preview (text)"),
		mcp.WithString("pageId", mcp.Description("Page ID (optional, defaults to active page)")),
		mcp.WithString("format", mcp.Description("json or text (default json)")),
		mcp.WithNumber("width", mcp.Description("Preview width in columns for text format (default 100)")),
		mcp.WithString("sessionId", mcp.Description("Session whose filter context is used (optional)")),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleRenderPage)

	// ── submit_input ───────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("submit_input",
		mcp.WithDescription("Post a value through an input widget's submit URL and return the submission state (status, accepted, response)"),
		mcp.WithString("pageId", mcp.Description("Page ID (optional, defaults to active page)")),
		mcp.WithString("widgetId", mcp.Description("Input widget ID"), mcp.Required()),
		mcp.WithString("value", mcp.Description("Submitted value"), mcp.Required()),
		mcp.WithString("sessionId", mcp.Description("Session whose filter context is sent (optional)")),
	), s.handleSubmitInput)
}

// openView mounts the requested page once, without polling.
func (s *Server) openView(ctx context.Context, req mcp.CallToolRequest) (*service.PageView, error) {
	pageID, err := s.resolvePageID(req.GetArguments())
	if err != nil {
		return nil, err
	}
	page, err := s.pages.Get(ctx, pageID)
	if err != nil {
		return nil, err
	}

	opts := service.ViewOptions{
		Fetcher:   s.fetcher,
		Viewer:    s.viewer,
		NoPolling: true,
	}
	if sid := req.GetString("sessionId", ""); sid != "" && s.sessions != nil {
		opts.Session = s.sessions(sid)
		opts.Viewer.SessionID = sid
	}
	view, err := service.OpenView(ctx, page, opts)
	if err != nil {
		return nil, fmt.Errorf("open view: %w", err)
	}
	return view, nil
}

func (s *Server) handleRenderPage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format := req.GetString("format", "json")
	if format != "json" && format != "text" {
		return nil, fmt.Errorf("format must be json or text, got %q", format)
	}

	view, err := s.openView(ctx, req)
	if err != nil {
		return nil, err
	}
	defer view.Close()
	view.Wait()

	tree := view.Render()
	if format == "text" {
		return textResult(render.Terminal(tree, req.GetInt("width", 100))), nil
	}
	return jsonResult(tree)
}

func (s *Server) handleSubmitInput(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	widgetID := req.GetString("widgetId", "")
	if widgetID == "" {
		return nil, fmt.Errorf("widgetId is required")
	}
	view, err := s.openView(ctx, req)
	if err != nil {
		return nil, err
	}
	defer view.Close()

	return jsonResult(view.SubmitInput(ctx, widgetID, req.GetString("value", "")))
}
