package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPageTools() {
	// ── list_pages ─────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("list_pages",
		mcp.WithDescription("List pages, optionally for one tenant"),
		mcp.WithString("tenantId", mcp.Description("Tenant ID (optional)")),
	), s.handleListPages)

	// ── create_page ────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("create_page",
		mcp.WithDescription("Create a new empty page and make it the active page"),
		mcp.WithString("title", mcp.Description("Page title"), mcp.Required()),
		mcp.WithString("slug", mcp.Description("URL slug (optional)")),
		mcp.WithString("tenantId", mcp.Description("Tenant ID (optional)")),
	), s.handleCreatePage)

	// ── get_page ───────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("get_page",
		mcp.WithDescription("Get a page with its full document tree (sections, columns, widgets and their IDs)"),
		mcp.WithString("pageId", mcp.Description("Page ID (optional, defaults to active page)")),
	), s.handleGetPage)

	// ── set_active_page ────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("set_active_page",
		mcp.WithDescription("Set the active page for subsequent tool calls. Tools that accept pageId will default to this."),
		mcp.WithString("pageId", mcp.Description("ID of the page to make active"), mcp.Required()),
	), s.handleSetActivePage)

	// ── undo / redo ────────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("undo",
		mcp.WithDescription("Undo the last document change"),
		mcp.WithString("pageId", mcp.Description("Page ID (optional, defaults to active page)")),
	), s.handleUndo)
	s.mcp.AddTool(mcp.NewTool("redo",
		mcp.WithDescription("Redo the last undone document change"),
		mcp.WithString("pageId", mcp.Description("Page ID (optional, defaults to active page)")),
	), s.handleRedo)

	// ── publish_page ───────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("publish_page",
		mcp.WithDescription("Publish the draft. The previously stored document is archived as a version."),
		mcp.WithString("pageId", mcp.Description("Page ID (optional, defaults to active page)")),
		mcp.WithString("label", mcp.Description("Version label (optional)")),
	), s.handlePublishPage)

	// ── list_versions ──────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("list_versions",
		mcp.WithDescription("List archived versions of a page, newest first"),
		mcp.WithString("pageId", mcp.Description("Page ID (optional, defaults to active page)")),
	), s.handleListVersions)

	// ── restore_version ────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("restore_version",
		mcp.WithDescription("Replace the draft with an archived version. Undo reverts it."),
		mcp.WithString("pageId", mcp.Description("Page ID (optional, defaults to active page)")),
		mcp.WithNumber("number", mcp.Description("Version number"), mcp.Required()),
	), s.handleRestoreVersion)

	// ── import_document ────────────────────────────────
	s.mcp.AddTool(mcp.NewTool("import_document",
		mcp.WithDescription("Replace a page's document with JSON ({\"sections\":[...]}, a bare section array, or a page object). Creates the page if missing."),
		mcp.WithString("pageId", mcp.Description("Page ID"), mcp.Required()),
		mcp.WithString("document", mcp.Description("Document JSON"), mcp.Required()),
	), s.handleImportDocument)
}

func (s *Server) handleListPages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pages, err := s.pages.List(ctx, req.GetString("tenantId", ""))
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}

	type pageSummary struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Slug     string `json:"slug,omitempty"`
		Sections int    `json:"sections"`
		Version  int    `json:"version"`
	}
	summaries := make([]pageSummary, len(pages))
	for i, p := range pages {
		summaries[i] = pageSummary{ID: p.ID, Title: p.Title, Slug: p.Slug, Sections: len(p.Document.Sections), Version: p.Version}
	}
	return jsonResult(summaries)
}

func (s *Server) handleCreatePage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title := req.GetString("title", "")
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}
	page, err := s.pages.Create(ctx, title, req.GetString("slug", ""), req.GetString("tenantId", ""))
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	// Auto-set as active page
	s.setActive(page.ID)
	return jsonResult(page)
}

func (s *Server) handleGetPage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pageID, err := s.resolvePageID(req.GetArguments())
	if err != nil {
		return nil, err
	}
	page, err := s.pages.Get(ctx, pageID)
	if err != nil {
		return nil, err
	}
	return jsonResult(page)
}

func (s *Server) handleSetActivePage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pageID := req.GetString("pageId", "")
	if pageID == "" {
		return nil, fmt.Errorf("pageId is required")
	}
	if _, err := s.pages.Get(ctx, pageID); err != nil {
		return nil, err
	}
	s.setActive(pageID)
	return textResult(fmt.Sprintf("Active page set to %s", pageID)), nil
}

func (s *Server) handleUndo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pageID, err := s.resolvePageID(req.GetArguments())
	if err != nil {
		return nil, err
	}
	page, err := s.pages.Undo(ctx, pageID)
	if err != nil {
		return nil, err
	}
	return jsonResult(page.Document)
}

func (s *Server) handleRedo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pageID, err := s.resolvePageID(req.GetArguments())
	if err != nil {
		return nil, err
	}
	page, err := s.pages.Redo(ctx, pageID)
	if err != nil {
		return nil, err
	}
	return jsonResult(page.Document)
}

func (s *Server) handlePublishPage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pageID, err := s.resolvePageID(req.GetArguments())
	if err != nil {
		return nil, err
	}
	v, err := s.pages.Publish(ctx, pageID, req.GetString("label", ""))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return textResult(fmt.Sprintf("Published %s (first publish, nothing archived)", pageID)), nil
	}
	return textResult(fmt.Sprintf("Published %s; previous document archived as version %d", pageID, v.Number)), nil
}

func (s *Server) handleListVersions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pageID, err := s.resolvePageID(req.GetArguments())
	if err != nil {
		return nil, err
	}
	versions, err := s.pages.Versions(ctx, pageID)
	if err != nil {
		return nil, err
	}

	type versionSummary struct {
		Number    int    `json:"number"`
		Label     string `json:"label,omitempty"`
		Sections  int    `json:"sections"`
		CreatedAt string `json:"createdAt"`
	}
	out := make([]versionSummary, len(versions))
	for i, v := range versions {
		out[i] = versionSummary{Number: v.Number, Label: v.Label, Sections: len(v.Document.Sections), CreatedAt: v.CreatedAt.Format("2006-01-02 15:04:05")}
	}
	return jsonResult(out)
}

func (s *Server) handleRestoreVersion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pageID, err := s.resolvePageID(req.GetArguments())
	if err != nil {
		return nil, err
	}
	number := req.GetInt("number", 0)
	if number <= 0 {
		return nil, fmt.Errorf("number is required")
	}
	page, err := s.pages.Restore(ctx, pageID, number)
	if err != nil {
		return nil, err
	}
	return jsonResult(page.Document)
}

func (s *Server) handleImportDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pageID := req.GetString("pageId", "")
	doc := req.GetString("document", "")
	if pageID == "" || doc == "" {
		return nil, fmt.Errorf("pageId and document are required")
	}
	page, err := s.pages.Import(ctx, pageID, []byte(doc))
	if err != nil {
		return nil, err
	}
	s.setActive(page.ID)
	return textResult(fmt.Sprintf("Imported %d sections into %s", len(page.Document.Sections), page.ID)), nil
}
