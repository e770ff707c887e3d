package commands_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/urfave/cli/v2"

	"nexus/internal/app"
	"nexus/internal/commands"
	"nexus/internal/config"
)

func run(t *testing.T, dir string, args ...string) error {
	t.Helper()
	a := &cli.App{Name: "nexus", Flags: commands.Flags, Commands: commands.Commands}
	base := []string{"nexus", "--config", filepath.Join(dir, "missing.yaml"), "--data-dir", dir}
	return a.Run(append(base, args...))
}

func TestImportPublishRender(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "landing.json")
	doc := `{"title":"Landing","document":{"sections":[{"id":"s1","columns":[{"id":"c1","settings":{"width":12},"widgets":[{"id":"w1","widgetType":"text","settings":{"content":"hello"}}]}]}]}}`
	if err := os.WriteFile(file, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, args := range [][]string{
		{"import", file},
		{"publish", "--label", "first", "landing"},
		{"publish", "landing"},
		{"versions", "landing"},
		{"render", "--preview", "landing"},
		{"render", "landing"},
		{"export", "landing"},
		{"pages"},
	} {
		if err := run(t, dir, args...); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
	}

	cfg := config.Default()
	cfg.DataDir = dir
	a, err := app.New(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	page, err := a.Pages.Get(context.Background(), "landing")
	if err != nil {
		t.Fatal(err)
	}
	if page.Title != "Landing" || page.PublishedAt == nil {
		t.Errorf("page = %+v", page)
	}
	versions, err := a.Pages.Versions(context.Background(), "landing")
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 2 {
		t.Errorf("versions = %d, want 2", len(versions))
	}
}

func TestMissingArguments(t *testing.T) {
	dir := t.TempDir()
	for _, cmd := range []string{"render", "import", "export", "publish", "versions"} {
		if err := run(t, dir, cmd); err == nil {
			t.Errorf("%s without an argument should fail", cmd)
		}
	}
	if err := run(t, dir, "render", "nope"); err == nil {
		t.Error("rendering a missing page should fail")
	}
}
