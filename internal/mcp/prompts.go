package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(mcp.NewPrompt("create_dashboard",
		mcp.WithPromptDescription("Guide through composing a dashboard page with filters, KPIs and a chart"),
		mcp.WithArgument("topic",
			mcp.ArgumentDescription("Topic or title for the dashboard"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("dataUrl",
			mcp.ArgumentDescription("Endpoint the data widgets read from (may use {{filter}} placeholders)"),
		),
	), s.handleDashboardPrompt)

	s.mcp.AddPrompt(mcp.NewPrompt("embed_content",
		mcp.WithPromptDescription("Add an html or iframe widget that reacts to the page theme and filters"),
		mcp.WithArgument("source",
			mcp.ArgumentDescription("URL or description of the content to embed"),
			mcp.RequiredArgument(),
		),
	), s.handleEmbedPrompt)
}

func (s *Server) handleDashboardPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	topic := req.Params.Arguments["topic"]
	dataURL := req.Params.Arguments["dataUrl"]
	if dataURL == "" {
		dataURL = "https://api.example.com/sales?period={{period}}"
	}
	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Create a dashboard for: %s", topic),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Compose a dashboard about "%s". Follow these steps:

1. create_page with the title "%s", then add_section with widths "12" and add_widget of type "heading" there
2. add_section with widths "12" and add a "filters_header" widget; use update_widget_settings to declare its fields
3. add_section with widths "4,4,4" and put one "kpi" widget in each column, each with dataUrl "%s" and a valueField
4. add_section with widths "12" and add a "chart" widget with the same dataUrl, a labelField and a valueField
5. Call render_page with format "text" to check the layout, fix anything that looks wrong, then publish_page

Placeholders like {{period}} in a dataUrl are filled from the filters header. Use get_page to find section, column and widget IDs.`, topic, topic, dataURL),
				},
			},
		},
	}, nil
}

func (s *Server) handleEmbedPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	source := req.Params.Arguments["source"]
	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Embed %s", source),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Embed "%s" on the active page. Follow these steps:

1. Pick "iframe" for a URL and "html" for inline markup
2. add_section with widths "12" and add_widget of that type
3. update_widget_settings with url (iframe) or html (html); set autoHeight to true so the frame reports its own height
4. Only set allowScripts when the content needs JavaScript
5. Check the result with render_page`, source),
				},
			},
		},
	}, nil
}
