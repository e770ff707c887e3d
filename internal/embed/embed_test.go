package embed_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"nexus/internal/embed"
	"nexus/internal/filterctx"
)

func TestEncodeDecode(t *testing.T) {
	data, err := embed.Encode(embed.HeightMessage{WidgetID: "w1", Height: 320})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"type":"nexus-iframe-height"`) {
		t.Errorf("wire form = %s", data)
	}
	m, err := embed.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	h, ok := m.(embed.HeightMessage)
	if !ok || h.WidgetID != "w1" || h.Height != 320 {
		t.Errorf("decoded = %#v", m)
	}

	if _, err := embed.Decode([]byte(`{"type":"something-else"}`)); !errors.Is(err, embed.ErrUnknownMessage) {
		t.Errorf("got %v", err)
	}
}

func TestBridgeAppliesFilterResults(t *testing.T) {
	store := filterctx.New(nil)
	b := embed.NewBridge(store)
	host, frame := embed.Pipe()
	defer host.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- b.Serve(ctx, host) }()

	heights := make(chan int, 1)
	b.OnHeight(func(id string, h int) { heights <- h })

	_ = frame.Send(ctx, embed.FilterResultsMessage{
		Items:   []filterctx.Item{{Label: "total", Value: 7.0}},
		Filters: map[string]any{"city": "SP"},
	})
	_ = frame.Send(ctx, embed.HeightMessage{WidgetID: "w1", Height: 99999})

	select {
	case h := <-heights:
		if h != embed.MaxHeight {
			t.Errorf("height = %d", h)
		}
	case <-ctx.Done():
		t.Fatal("no height reported")
	}
	if v, _ := store.Result("total"); v != 7.0 {
		t.Errorf("total = %v", v)
	}
	if v, _ := store.Filter("city"); v != "SP" {
		t.Errorf("city = %v", v)
	}

	_ = frame.Close()
	if err := <-done; err != nil {
		t.Errorf("serve: %v", err)
	}
}

func TestSendTheme(t *testing.T) {
	host, frame := embed.Pipe()
	defer host.Close()
	ctx := context.Background()
	b := embed.NewBridge(nil)
	theme := embed.Theme{Name: "dark", Vars: map[string]string{"--bg": "#000"}}
	if err := b.SendTheme(ctx, host, theme); err != nil {
		t.Fatal(err)
	}
	m, err := frame.Receive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if tm, ok := m.(embed.ThemeMessage); !ok || tm.Theme != "dark" || tm.Vars["--bg"] != "#000" {
		t.Errorf("received %#v", m)
	}
}

func TestPrepareHTMLStripsScripts(t *testing.T) {
	in := `<div onclick="steal()"><a href="javascript:alert(1)">x</a><script>alert(1)</script><p>ok</p></div>`
	out, err := embed.PrepareHTML(in, embed.HTMLOptions{WidgetID: "w1"})
	if err != nil {
		t.Fatal(err)
	}
	for _, bad := range []string{"<script", "onclick", "javascript:"} {
		if strings.Contains(out, bad) {
			t.Errorf("output still contains %q: %s", bad, out)
		}
	}
	if !strings.Contains(out, "<p>ok</p>") {
		t.Errorf("content lost: %s", out)
	}
}

func TestPrepareHTMLScriptsOptIn(t *testing.T) {
	in := `<p>hi</p><script>window.x=1</script>`
	out, err := embed.PrepareHTML(in, embed.HTMLOptions{
		WidgetID:     "w1",
		AllowScripts: true,
		AutoHeight:   true,
		Theme:        &embed.Theme{Vars: map[string]string{"primary": "red;}"}, FontFamily: "Inter"},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"window.x=1", "--primary:red", "font-family:Inter", "nexus-iframe-height", `"w1"`} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %s", want, out)
		}
	}
}
