// Package commands holds the CLI actions of the nexus binary.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"nexus/internal/app"
	"nexus/internal/config"
	"nexus/internal/render"
	"nexus/internal/service"
)

// Flags shared by every command.
var Flags = []cli.Flag{
	&cli.StringFlag{Name: "config", Usage: "config file (default $NEXUS_CONFIG or ~/.config/nexus/config.yaml)"},
	&cli.StringFlag{Name: "data-dir", Usage: "override the data directory"},
}

// Commands is the command tree.
var Commands = []*cli.Command{
	{
		Name:   "serve-mcp",
		Usage:  "run the MCP server on stdin/stdout",
		Flags:  []cli.Flag{&cli.StringFlag{Name: "watch", Usage: "also import <pageId>.json files edited in this directory"}},
		Action: ServeMCPAction,
	},
	{
		Name:      "render",
		Usage:     "render a page",
		ArgsUsage: "<pageId>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "preview", Usage: "print a text preview instead of the JSON tree"},
			&cli.IntFlag{Name: "width", Value: 100, Usage: "preview width"},
			&cli.StringFlag{Name: "session", Usage: "session whose filter context is used"},
		},
		Action: RenderAction,
	},
	{
		Name:      "import",
		Usage:     "replace a page's document with a JSON file",
		ArgsUsage: "<file>",
		Flags:     []cli.Flag{&cli.StringFlag{Name: "page", Usage: "page ID (default: file name without .json)"}},
		Action:    ImportAction,
	},
	{
		Name:      "export",
		Usage:     "print a page's document as JSON",
		ArgsUsage: "<pageId>",
		Action:    ExportAction,
	},
	{
		Name:      "watch",
		Usage:     "import <pageId>.json files as they are edited",
		ArgsUsage: "[dir]",
		Action:    WatchAction,
	},
	{
		Name:      "publish",
		Usage:     "publish a page's draft",
		ArgsUsage: "<pageId>",
		Flags:     []cli.Flag{&cli.StringFlag{Name: "label", Usage: "version label"}},
		Action:    PublishAction,
	},
	{
		Name:      "versions",
		Usage:     "list a page's archived versions",
		ArgsUsage: "<pageId>",
		Action:    VersionsAction,
	},
	{
		Name:   "pages",
		Usage:  "list pages",
		Flags:  []cli.Flag{&cli.StringFlag{Name: "tenant", Usage: "only this tenant's pages"}},
		Action: PagesAction,
	},
}

// open loads config and builds the app for one command.
func open(c *cli.Context) (*app.App, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if dir := c.String("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	return app.New(c.Context, cfg)
}

func requireArg(c *cli.Context, name string) (string, error) {
	v := strings.TrimSpace(c.Args().First())
	if v == "" {
		return "", fmt.Errorf("missing %s argument", name)
	}
	return v, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func interruptible(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func ServeMCPAction(c *cli.Context) error {
	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx, cancel := interruptible(c.Context)
	defer cancel()
	return a.ServeMCP(ctx, c.String("watch"))
}

func RenderAction(c *cli.Context) error {
	pageID, err := requireArg(c, "pageId")
	if err != nil {
		return err
	}
	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	view, err := a.OpenView(c.Context, pageID, c.String("session"), service.ViewOptions{
		NoPolling: true,
		Emitter:   &service.FanoutEmitter{},
	})
	if err != nil {
		return err
	}
	defer view.Close()
	view.Wait()

	tree := view.Render()
	if c.Bool("preview") {
		fmt.Println(render.Terminal(tree, c.Int("width")))
		return nil
	}
	return printJSON(tree)
}

func ImportAction(c *cli.Context) error {
	path, err := requireArg(c, "file")
	if err != nil {
		return err
	}
	pageID := c.String("page")
	if pageID == "" {
		pageID = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	page, err := a.ImportFile(c.Context, pageID, path)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d sections into %s\n", len(page.Document.Sections), page.ID)
	return nil
}

func ExportAction(c *cli.Context) error {
	pageID, err := requireArg(c, "pageId")
	if err != nil {
		return err
	}
	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	data, err := a.Export(c.Context, pageID)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func WatchAction(c *cli.Context) error {
	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx, cancel := interruptible(c.Context)
	defer cancel()
	return a.Watch(ctx, c.Args().First())
}

func PublishAction(c *cli.Context) error {
	pageID, err := requireArg(c, "pageId")
	if err != nil {
		return err
	}
	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	v, err := a.Pages.Publish(c.Context, pageID, c.String("label"))
	if err != nil {
		return err
	}
	if v == nil {
		fmt.Printf("Published %s (nothing archived)\n", pageID)
		return nil
	}
	fmt.Printf("Published %s; previous document archived as version %d\n", pageID, v.Number)
	return nil
}

func VersionsAction(c *cli.Context) error {
	pageID, err := requireArg(c, "pageId")
	if err != nil {
		return err
	}
	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	versions, err := a.Pages.Versions(c.Context, pageID)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		fmt.Println("No versions found")
		return nil
	}
	fmt.Printf("%-8s %-20s %-10s %s\n", "Number", "Label", "Sections", "Archived")
	fmt.Println(strings.Repeat("-", 60))
	for _, v := range versions {
		fmt.Printf("%-8d %-20s %-10d %s\n", v.Number, v.Label, len(v.Document.Sections), humanize.Time(v.CreatedAt))
	}
	return nil
}

func PagesAction(c *cli.Context) error {
	a, err := open(c)
	if err != nil {
		return err
	}
	defer a.Close()

	pages, err := a.Pages.List(c.Context, c.String("tenant"))
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		fmt.Println("No pages found")
		return nil
	}
	fmt.Printf("%-38s %-30s %-8s %s\n", "ID", "Title", "Version", "Updated")
	fmt.Println(strings.Repeat("-", 100))
	for _, p := range pages {
		fmt.Printf("%-38s %-30s %-8d %s\n", p.ID, p.Title, p.Version, humanize.Time(p.UpdatedAt))
	}
	return nil
}
