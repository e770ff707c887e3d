package app_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"nexus/internal/app"
	"nexus/internal/config"
	"nexus/internal/domain"
	"nexus/internal/service"
)

func newApp(t *testing.T) (*app.App, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Viewer.TenantID = "acme"
	cfg.Sessions.TTL = time.Hour
	a, err := app.New(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { a.Close() })
	return a, cfg
}

func TestImportExportRoundTrip(t *testing.T) {
	ctx := context.Background()
	a, cfg := newApp(t)

	path := filepath.Join(cfg.DataDir, "home.json")
	doc := `{"sections":[{"id":"s1","columns":[{"id":"c1","settings":{"width":12},"widgets":[{"id":"w1","widgetType":"heading","settings":{"text":"Hi"}}]}]}]}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	page, err := a.ImportFile(ctx, "home", path)
	if err != nil {
		t.Fatal(err)
	}
	if page.ID != "home" || len(page.Document.Sections) != 1 {
		t.Fatalf("page = %+v", page)
	}

	out, err := a.Export(ctx, "home")
	if err != nil {
		t.Fatal(err)
	}
	var got domain.Document
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatal(err)
	}
	if got.Sections[0].Columns[0].Widgets[0].Settings.String("text") != "Hi" {
		t.Errorf("export = %s", out)
	}
}

func TestOpenViewRendersStaticWidgets(t *testing.T) {
	ctx := context.Background()
	a, _ := newApp(t)

	p, err := a.Pages.Create(ctx, "Home", "home", "acme")
	if err != nil {
		t.Fatal(err)
	}
	p, err = a.Pages.AddSection(ctx, p.ID, 12)
	if err != nil {
		t.Fatal(err)
	}
	sec := p.Document.Sections[0]
	if _, err := a.Pages.AddWidget(ctx, p.ID, domain.Address{SectionID: sec.ID, ColumnID: sec.Columns[0].ID}, domain.WidgetHeading); err != nil {
		t.Fatal(err)
	}

	view, err := a.OpenView(ctx, p.ID, "sess-1", service.ViewOptions{NoPolling: true})
	if err != nil {
		t.Fatal(err)
	}
	defer view.Close()
	view.Wait()

	root := view.Render()
	if len(root.Children) != 1 || root.Children[0].Children[0].Children[0].Type != "heading" {
		t.Errorf("tree = %+v", root)
	}
}

func TestViewerFromConfig(t *testing.T) {
	a, _ := newApp(t)
	v := a.Viewer("s")
	if v.Tenant == nil || v.Tenant.ID != "acme" || v.User != nil || v.SessionID != "s" || v.Locale != "en-US" {
		t.Errorf("viewer = %+v", v)
	}
}

func TestWatchImportsExistingFiles(t *testing.T) {
	a, cfg := newApp(t)
	dir := filepath.Join(cfg.DataDir, "pages")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ops.json"), []byte(`[]`), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Watch(ctx, dir) }()

	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, err := a.Pages.Get(context.Background(), "ops"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("page was not imported")
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}
