package render_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nexus/internal/datasource"
	"nexus/internal/domain"
	"nexus/internal/editor"
	"nexus/internal/render"
)

func intp(n int) *int { return &n }

func TestFormatValue(t *testing.T) {
	cases := []struct {
		v    any
		o    render.FormatOptions
		want string
	}{
		{25.0, render.FormatOptions{Format: domain.FormatNumber}, "25"},
		{1234567.891, render.FormatOptions{Format: domain.FormatNumber}, "1,234,567.89"},
		{1234.5, render.FormatOptions{Format: domain.FormatNumber, Locale: "de-DE"}, "1.234,5"},
		{12.5, render.FormatOptions{Format: domain.FormatPercent}, "12.5%"},
		{3.0, render.FormatOptions{Format: domain.FormatNumber, Decimals: intp(2)}, "3.00"},
		{1500000.0, render.FormatOptions{Format: domain.FormatCompact}, "1.5M"},
		{999.0, render.FormatOptions{Format: domain.FormatCompact}, "999"},
		{"n/a", render.FormatOptions{Format: domain.FormatNumber}, "n/a"},
		{nil, render.FormatOptions{}, render.Placeholder},
		{7.0, render.FormatOptions{Prefix: "~", Suffix: " un"}, "~7 un"},
	}
	for _, c := range cases {
		if got := render.FormatValue(c.v, c.o); got != c.want {
			t.Errorf("FormatValue(%v, %+v) = %q, want %q", c.v, c.o, got, c.want)
		}
	}
}

func TestFormatCurrency(t *testing.T) {
	got := render.FormatValue(25.0, render.FormatOptions{Format: domain.FormatCurrency, Currency: "USD"})
	if !strings.Contains(got, "$") || !strings.Contains(got, "25") {
		t.Errorf("currency = %q", got)
	}
}

// KPI end to end: section → column → kpi bound to a data URL summing amount.
func TestKPIEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agg" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`[{"amount":10},{"amount":15}]`))
	}))
	defer srv.Close()

	doc := domain.Document{}
	doc = editor.AddSection(doc, 12)
	sec := doc.Sections[0]
	col := sec.Columns[0]
	if col.Settings.Width != 12 {
		t.Fatalf("width = %d", col.Settings.Width)
	}
	doc = editor.AddWidget(doc, domain.Address{SectionID: sec.ID, ColumnID: col.ID}, domain.WidgetKPI)
	kpi := doc.Sections[0].Columns[0].Widgets[0]
	doc = editor.UpdateWidgetSettings(doc, domain.Address{SectionID: sec.ID, ColumnID: col.ID, WidgetID: kpi.ID}, domain.Settings{
		"dataUrl":     srv.URL + "/agg",
		"aggregation": "sum",
		"valueField":  "amount",
		"format":      "number",
	})
	kpi, _ = editor.Find(doc, domain.Address{SectionID: sec.ID, ColumnID: col.ID, WidgetID: kpi.ID})

	resolver := datasource.NewResolver(datasource.NewHTTPFetcher(time.Second, nil), nil)
	res := datasource.NewResource(kpi.ID, func(ctx context.Context) (*datasource.Result, error) {
		return resolver.Resolve(ctx, kpi, domain.PageRef{ID: "p"}, domain.Viewer{})
	}, nil)
	res.Load(context.Background())

	r := render.New(render.Env{Data: func(id string) (datasource.State, bool) {
		if id == res.ID() {
			return res.State(), true
		}
		return datasource.State{}, false
	}})
	tree := r.Document(doc)

	node := tree.Children[0].Children[0].Children[0]
	if node.Type != "kpi" || node.Props["status"] != "ready" {
		t.Fatalf("node = %+v", node)
	}
	if node.Props["value"] != "25" {
		t.Errorf("value = %v, want 25", node.Props["value"])
	}
}

func TestDataWidgetTriState(t *testing.T) {
	w := domain.NewWidget(domain.WidgetTable)
	states := map[string]datasource.State{}
	r := render.New(render.Env{Data: func(id string) (datasource.State, bool) {
		s, ok := states[id]
		return s, ok
	}})

	if n := r.Widget(w); n.Props["status"] != "loading" {
		t.Errorf("missing state should render loading: %+v", n.Props)
	}
	states[w.ID] = datasource.State{Status: datasource.StatusError, Error: "http 500"}
	if n := r.Widget(w); n.Props["status"] != "error" || n.Props["error"] != "http 500" {
		t.Errorf("error state: %+v", n.Props)
	}
}

func TestTableColumnsAndCap(t *testing.T) {
	rows := make([]datasource.Row, 150)
	for i := range rows {
		rows[i] = datasource.Row{"b": float64(i), "a": "x"}
	}
	w := domain.NewWidget(domain.WidgetTable)
	r := render.New(render.Env{Data: func(string) (datasource.State, bool) {
		return datasource.State{Status: datasource.StatusReady, Result: &datasource.Result{Rows: rows}}, true
	}})
	n := r.Widget(w)
	cols := n.Props["columns"].([]string)
	if len(cols) != 2 || cols[0] != "a" || cols[1] != "b" {
		t.Errorf("columns = %v", cols)
	}
	if got := len(n.Props["rows"].([][]string)); got != render.MaxTableRows {
		t.Errorf("rows = %d", got)
	}
	if n.Props["truncated"] != true {
		t.Error("truncated flag")
	}

	w.Settings["columns"] = []any{"b"}
	n = r.Widget(w)
	if cols := n.Props["columns"].([]string); len(cols) != 1 || cols[0] != "b" {
		t.Errorf("configured columns = %v", cols)
	}
}

func TestChartCapAndMetrics(t *testing.T) {
	rows := make([]datasource.Row, 80)
	for i := range rows {
		rows[i] = datasource.Row{"label": "m", "value": float64(i)}
	}
	res := &datasource.Result{Rows: rows, LabelValue: true}
	w := domain.NewWidget(domain.WidgetChart)
	w.Settings["labelField"] = "ignored"
	r := render.New(render.Env{Data: func(string) (datasource.State, bool) {
		return datasource.State{Status: datasource.StatusReady, Result: res}, true
	}})
	n := r.Widget(w)
	points := n.Props["points"]
	out := render.Terminal(&render.Node{Type: "page", Children: []*render.Node{{
		Type: "section", Children: []*render.Node{{Type: "column", Props: map[string]any{"width": 12}, Children: []*render.Node{n}}},
	}}}, 80)
	if out == "" {
		t.Error("empty preview")
	}
	if n.Props["truncated"] != true {
		t.Errorf("chart should be capped, props = %v", points)
	}
}

func TestKPIMetricSelection(t *testing.T) {
	res := &datasource.Result{
		Rows:       []datasource.Row{{"label": "revenue", "value": 900.0}, {"label": "orders", "value": 4.0}},
		LabelValue: true,
	}
	got := render.KPIValue(res, domain.KPISettings{Metric: "orders", Aggregation: domain.AggSum})
	if got != 4.0 {
		t.Errorf("metric = %v", got)
	}
}

func TestSubsectionAndUnknown(t *testing.T) {
	sub := domain.NewWidget(domain.WidgetSubsection)
	sub.Columns[0].Widgets = append(sub.Columns[0].Widgets, domain.NewWidget(domain.WidgetHeading))
	r := render.New(render.Env{})
	n := r.Widget(sub)
	if len(n.Children) != 2 || n.Children[0].Type != "column" || len(n.Children[0].Children) != 1 {
		t.Errorf("subsection = %+v", n)
	}
	if u := r.Widget(domain.Widget{ID: "x", Type: "carousel"}); u.Type != "unsupported" {
		t.Errorf("unknown = %+v", u)
	}
}

func TestHTMLWidgetIsolated(t *testing.T) {
	w := domain.NewWidget(domain.WidgetHTML)
	w.Settings["html"] = `<b onclick="x()">hi</b><script>bad()</script>`
	n := render.New(render.Env{}).Widget(w)
	doc := n.Props["srcdoc"].(string)
	if strings.Contains(doc, "bad()") || strings.Contains(doc, "onclick") {
		t.Errorf("srcdoc = %s", doc)
	}
	if n.Props["sandbox"] != "" {
		t.Errorf("sandbox = %v", n.Props["sandbox"])
	}
}
