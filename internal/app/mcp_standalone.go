package app

import (
	"context"
	"log"

	"nexus/internal/filterctx"
	mcpserver "nexus/internal/mcp"
)

// ServeMCP runs the MCP server on stdin/stdout until the client disconnects.
// When watchDir is set, edited page files are imported alongside.
func (a *App) ServeMCP(ctx context.Context, watchDir string) error {
	srv := mcpserver.New(mcpserver.Deps{
		Pages:   a.Pages,
		Fetcher: a.Fetcher,
		Viewer:  a.Viewer(""),
		Sessions: func(sessionID string) filterctx.SessionStorage {
			return a.sessions.For(sessionID)
		},
	})
	a.Emitter.Add(srv)

	if watchDir != "" {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := a.Watch(ctx, watchDir); err != nil {
				log.Printf("[WATCH] %v", err)
			}
		}()
	}

	log.Println("[MCP] Starting standalone stdio server...")
	return srv.ServeStdio()
}
