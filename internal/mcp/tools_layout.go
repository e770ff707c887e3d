package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"nexus/internal/domain"
	"nexus/internal/editor"

	"github.com/mark3labs/mcp-go/mcp"
)

// Address parameters shared by the layout tools.
func addressParams(widget bool) []mcp.ToolOption {
	opts := []mcp.ToolOption{
		mcp.WithString("pageId", mcp.Description("Page ID (optional, defaults to active page)")),
		mcp.WithString("sectionId", mcp.Description("Section ID"), mcp.Required()),
		mcp.WithString("columnId", mcp.Description("Column ID")),
	}
	if widget {
		opts = append(opts,
			mcp.WithString("widgetId", mcp.Description("Widget ID, or the hosting subsection when innerColumnId is set")),
			mcp.WithString("innerColumnId", mcp.Description("Column inside a subsection widget (optional)")),
			mcp.WithString("innerWidgetId", mcp.Description("Widget inside the subsection column (optional)")),
		)
	}
	return opts
}

func tool(name, desc string, opts ...mcp.ToolOption) mcp.Tool {
	return mcp.NewTool(name, append([]mcp.ToolOption{mcp.WithDescription(desc)}, opts...)...)
}

func (s *Server) registerLayoutTools() {
	types := make([]string, len(domain.WidgetTypes))
	for i, t := range domain.WidgetTypes {
		types[i] = string(t)
	}

	// ── structure ──────────────────────────────────────
	s.mcp.AddTool(tool("add_section", "Append a section with one column per width (1-12 grid weights)",
		mcp.WithString("pageId", mcp.Description("Page ID (optional, defaults to active page)")),
		mcp.WithString("widths", mcp.Description("Comma-separated column widths, e.g. \"4,8\" (default \"12\")")),
	), s.handleAddSection)

	s.mcp.AddTool(tool("add_column", "Append a column to a section, or to a subsection when widgetId names one",
		append(addressParams(false),
			mcp.WithString("widgetId", mcp.Description("Subsection widget ID (optional)")),
			mcp.WithNumber("width", mcp.Description("Column width 1-12 (default 12)")),
		)...,
	), s.handleAddColumn)

	s.mcp.AddTool(tool("add_widget", "Append a widget with default settings to a column",
		append(addressParams(true),
			mcp.WithString("widgetType", mcp.Description("One of: "+strings.Join(types, ", ")), mcp.Required()),
		)...,
	), s.handleAddWidget)

	s.mcp.AddTool(tool("list_widget_types", "List widget types with their default settings"), s.handleListWidgetTypes)

	// ── settings ───────────────────────────────────────
	settingsParam := mcp.WithString("settings", mcp.Description("JSON object merged into the current settings"), mcp.Required())
	s.mcp.AddTool(tool("update_section_settings", "Merge settings (layout, gap, padding) into a section",
		append(addressParams(false), settingsParam)...), s.handleUpdateSection)
	s.mcp.AddTool(tool("update_column_settings", "Merge settings (width, verticalAlign, padding, flow, fullHeight) into a column",
		append(addressParams(true), settingsParam)...), s.handleUpdateColumn)
	s.mcp.AddTool(tool("update_widget_settings", "Merge settings into a widget; unknown keys are kept",
		append(addressParams(true), settingsParam)...), s.handleUpdateWidget)

	// ── deletion ───────────────────────────────────────
	destructive := mcp.WithDestructiveHintAnnotation(true)
	s.mcp.AddTool(tool("delete_section", "Delete a section and everything in it. Undo reverts it.",
		append(addressParams(false), destructive)...), s.handleDeleteSection)
	s.mcp.AddTool(tool("delete_column", "Delete a column and its widgets. Undo reverts it.",
		append(addressParams(true), destructive)...), s.handleDeleteColumn)
	s.mcp.AddTool(tool("delete_widget", "Delete a widget. Undo reverts it.",
		append(addressParams(true), destructive)...), s.handleDeleteWidget)

	// ── ordering ───────────────────────────────────────
	dirParam := mcp.WithString("direction", mcp.Description("up or down"), mcp.Required())
	s.mcp.AddTool(tool("move_section", "Swap a section with its neighbour",
		append(addressParams(false), dirParam)...), s.handleMoveSection)
	s.mcp.AddTool(tool("move_column", "Swap a column with its neighbour",
		append(addressParams(true), dirParam)...), s.handleMoveColumn)
	s.mcp.AddTool(tool("move_widget", "Swap a widget with its neighbour",
		append(addressParams(true), dirParam)...), s.handleMoveWidget)
	s.mcp.AddTool(tool("duplicate_widget", "Insert a deep copy of a widget right after it, with fresh IDs",
		addressParams(true)...), s.handleDuplicateWidget)
}

// mutationResult reports the document after a change.
func mutationResult(page *domain.Page) (*mcp.CallToolResult, error) {
	return jsonResult(page.Document)
}

func (s *Server) handleAddSection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pageID, err := s.resolvePageID(req.GetArguments())
	if err != nil {
		return nil, err
	}
	widths, err := widthsFrom(req.GetString("widths", ""))
	if err != nil {
		return nil, err
	}
	page, err := s.pages.AddSection(ctx, pageID, widths...)
	if err != nil {
		return nil, err
	}
	return mutationResult(page)
}

func (s *Server) handleAddColumn(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	pageID, err := s.resolvePageID(args)
	if err != nil {
		return nil, err
	}
	page, err := s.pages.AddColumn(ctx, pageID, addressFrom(args), req.GetInt("width", domain.MaxColumnWidth))
	if err != nil {
		return nil, err
	}
	return mutationResult(page)
}

func (s *Server) handleAddWidget(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	pageID, err := s.resolvePageID(args)
	if err != nil {
		return nil, err
	}
	t := domain.WidgetType(req.GetString("widgetType", ""))
	page, err := s.pages.AddWidget(ctx, pageID, addressFrom(args), t)
	if err != nil {
		return nil, err
	}
	return mutationResult(page)
}

func (s *Server) handleListWidgetTypes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out := make(map[string]domain.Settings, len(domain.WidgetTypes))
	for _, t := range domain.WidgetTypes {
		out[string(t)] = domain.DefaultSettings(t)
	}
	return jsonResult(out)
}

type settingsOp func(ctx context.Context, pageID string, addr domain.Address, patch map[string]any) (*domain.Page, error)

func (s *Server) updateSettings(ctx context.Context, req mcp.CallToolRequest, op settingsOp) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	pageID, err := s.resolvePageID(args)
	if err != nil {
		return nil, err
	}
	patch, err := patchFrom(args)
	if err != nil {
		return nil, err
	}
	page, err := op(ctx, pageID, addressFrom(args), patch)
	if err != nil {
		return nil, err
	}
	return mutationResult(page)
}

func (s *Server) handleUpdateSection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.updateSettings(ctx, req, s.pages.UpdateSectionSettings)
}

func (s *Server) handleUpdateColumn(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.updateSettings(ctx, req, s.pages.UpdateColumnSettings)
}

func (s *Server) handleUpdateWidget(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.updateSettings(ctx, req, s.pages.UpdateWidgetSettings)
}

type addressOp func(ctx context.Context, pageID string, addr domain.Address) (*domain.Page, error)

func (s *Server) atAddress(ctx context.Context, req mcp.CallToolRequest, op addressOp) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	pageID, err := s.resolvePageID(args)
	if err != nil {
		return nil, err
	}
	addr := addressFrom(args)
	if addr.SectionID == "" {
		return nil, fmt.Errorf("sectionId is required")
	}
	page, err := op(ctx, pageID, addr)
	if err != nil {
		return nil, err
	}
	return mutationResult(page)
}

func (s *Server) handleDeleteSection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.atAddress(ctx, req, s.pages.DeleteSection)
}

func (s *Server) handleDeleteColumn(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.atAddress(ctx, req, s.pages.DeleteColumn)
}

func (s *Server) handleDeleteWidget(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.atAddress(ctx, req, s.pages.DeleteWidget)
}

func (s *Server) handleDuplicateWidget(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.atAddress(ctx, req, s.pages.DuplicateWidget)
}

type moveOp func(ctx context.Context, pageID string, addr domain.Address, dir editor.Direction) (*domain.Page, error)

func (s *Server) move(ctx context.Context, req mcp.CallToolRequest, op moveOp) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	dir, err := directionFrom(args)
	if err != nil {
		return nil, err
	}
	return s.atAddress(ctx, req, func(ctx context.Context, pageID string, addr domain.Address) (*domain.Page, error) {
		return op(ctx, pageID, addr, dir)
	})
}

func (s *Server) handleMoveSection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.move(ctx, req, func(ctx context.Context, pageID string, addr domain.Address, dir editor.Direction) (*domain.Page, error) {
		return s.pages.MoveSection(ctx, pageID, addr.SectionID, dir)
	})
}

func (s *Server) handleMoveColumn(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.move(ctx, req, s.pages.MoveColumn)
}

func (s *Server) handleMoveWidget(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.move(ctx, req, s.pages.MoveWidget)
}
