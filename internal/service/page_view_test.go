package service_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"nexus/internal/datasource"
	"nexus/internal/domain"
	"nexus/internal/editor"
	"nexus/internal/filterctx"
	"nexus/internal/render"
	"nexus/internal/service"
)

// pageWith builds a one-section page holding one widget per settings entry.
func pageWith(t *testing.T, widgets ...domain.Widget) *domain.Page {
	t.Helper()
	doc := editor.AddSection(domain.Document{}, 12)
	addr := domain.Address{SectionID: doc.Sections[0].ID, ColumnID: doc.Sections[0].Columns[0].ID}
	for _, w := range widgets {
		doc = editor.InsertWidget(doc, addr, w)
	}
	return &domain.Page{ID: "p1", Title: "Sales", Document: doc}
}

func widget(t domain.WidgetType, settings domain.Settings) domain.Widget {
	w := domain.NewWidget(t)
	for k, v := range settings {
		w.Settings[k] = v
	}
	return w
}

// widgetNode finds the rendered node of the first widget of type typ.
func widgetNode(root *render.Node, typ string) *render.Node {
	var found *render.Node
	var walk func(n *render.Node)
	walk = func(n *render.Node) {
		if found != nil {
			return
		}
		if n.Type == typ {
			found = n
			return
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	return found
}

func TestPageView_FilterChangeRefetchesPlaceholderURLs(t *testing.T) {
	var salesCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/sales":
			salesCalls.Add(1)
			if r.URL.Query().Get("city") == "SP" {
				_, _ = w.Write([]byte(`[{"amount":10},{"amount":15}]`))
				return
			}
			_, _ = w.Write([]byte(`[{"amount":1}]`))
		case "/apply":
			_, _ = w.Write([]byte(`{"kpis":[]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	header := widget(domain.WidgetFiltersHeader, domain.Settings{
		"endpoint":  srv.URL + "/apply",
		"autoApply": false,
		"fields":    []any{map[string]any{"key": "city", "type": "text"}},
	})
	kpi := widget(domain.WidgetKPI, domain.Settings{
		"dataUrl":     srv.URL + "/sales?city={{city}}",
		"aggregation": "sum",
		"valueField":  "amount",
	})
	page := pageWith(t, header, kpi)
	em := &service.MockEmitter{}

	view, err := service.OpenView(context.Background(), page, service.ViewOptions{
		Fetcher:   datasource.NewHTTPFetcher(time.Second, nil),
		Emitter:   em,
		NoPolling: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer view.Close()

	kpiID := page.Document.Sections[0].Columns[0].Widgets[1].ID
	if n := widgetNode(view.Render(), "kpi"); n.Props["value"] != "1" {
		t.Fatalf("initial kpi = %+v", n.Props)
	}

	headerID := page.Document.Sections[0].Columns[0].Widgets[0].ID
	m, ok := view.Filters(headerID)
	if !ok {
		t.Fatal("filters header not mounted")
	}
	if err := m.SetValue("city", "SP"); err != nil {
		t.Fatal(err)
	}
	if err := m.Apply(); err != nil {
		t.Fatal(err)
	}
	view.Wait()

	if salesCalls.Load() != 2 {
		t.Errorf("sales calls = %d, want 2", salesCalls.Load())
	}
	if s, _ := view.State(kpiID); s.Status != datasource.StatusReady {
		t.Errorf("kpi state = %+v", s)
	}
	if n := widgetNode(view.Render(), "kpi"); n.Props["value"] != "25" {
		t.Errorf("kpi after filter = %v", n.Props["value"])
	}
	if len(em.Named(service.EventWidgetState)) < 2 {
		t.Errorf("widget events = %d", len(em.Named(service.EventWidgetState)))
	}
	if len(em.Named(service.EventFiltersState)) == 0 {
		t.Error("expected filters state events")
	}
}

func TestPageView_ErrorBecomesWidgetState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"boom"}`))
	}))
	defer srv.Close()

	page := pageWith(t, widget(domain.WidgetTable, domain.Settings{"dataUrl": srv.URL}))
	view, err := service.OpenView(context.Background(), page, service.ViewOptions{
		Fetcher:   datasource.NewHTTPFetcher(time.Second, nil),
		NoPolling: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer view.Close()

	n := widgetNode(view.Render(), "table")
	if n.Props["status"] != "error" {
		t.Errorf("table = %+v", n.Props)
	}
}

func TestPageView_ManualRefreshSkippedWhileRunning(t *testing.T) {
	entered := make(chan struct{}, 4)
	release := make(chan struct{})
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) > 1 {
			entered <- struct{}{}
			<-release
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	page := pageWith(t, widget(domain.WidgetList, domain.Settings{"dataUrl": srv.URL}))
	id := page.Document.Sections[0].Columns[0].Widgets[0].ID
	view, err := service.OpenView(context.Background(), page, service.ViewOptions{
		Fetcher:   datasource.NewHTTPFetcher(5*time.Second, nil),
		NoPolling: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan bool)
	go func() { done <- view.Refresh(id) }()
	<-entered

	if view.Refresh(id) {
		t.Error("second refresh should be skipped while the first is running")
	}
	close(release)
	if !<-done {
		t.Error("first refresh should have run")
	}
	if view.Refresh("unknown") {
		t.Error("unknown widget refresh should report false")
	}
	view.Close()
	if view.Refresh(id) {
		t.Error("refresh after close should report false")
	}
}

func TestPageView_SharedResultsAndSession(t *testing.T) {
	session := filterctx.NewMemorySession()
	seed := filterctx.New(session)
	seed.SetFilterResults([]filterctx.Item{{Label: "north", Value: 3.0}})

	list := widget(domain.WidgetList, domain.Settings{"useFilterResult": true})
	page := pageWith(t, list)
	id := page.Document.Sections[0].Columns[0].Widgets[0].ID

	view, err := service.OpenView(context.Background(), page, service.ViewOptions{Session: session, NoPolling: true})
	if err != nil {
		t.Fatal(err)
	}
	defer view.Close()

	s, _ := view.State(id)
	if s.Status != datasource.StatusReady || len(s.Result.Rows) != 1 {
		t.Fatalf("hydrated state = %+v", s)
	}

	view.FilterContext().SetFilterResults([]filterctx.Item{{Label: "north", Value: 3.0}, {Label: "south", Value: 4.0}})
	view.Wait()

	s, _ = view.State(id)
	if len(s.Result.Rows) != 2 {
		t.Errorf("rows after results change = %d", len(s.Result.Rows))
	}
}

func TestPageView_SubmitInput(t *testing.T) {
	var got struct {
		Field string `json:"field"`
		Value any    `json:"value"`
		Page  struct {
			ID string `json:"id"`
		} `json:"page"`
	}
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Error(err)
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer ok.Close()
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"invalid code"}`))
	}))
	defer failing.Close()

	page := pageWith(t,
		widget(domain.WidgetInput, domain.Settings{"fieldName": "code", "submitUrl": ok.URL}),
		widget(domain.WidgetInput, domain.Settings{"fieldName": "code", "submitUrl": failing.URL}),
		widget(domain.WidgetInput, domain.Settings{"fieldName": "code"}),
	)
	ws := page.Document.Sections[0].Columns[0].Widgets
	em := &service.MockEmitter{}
	view, err := service.OpenView(context.Background(), page, service.ViewOptions{
		Fetcher:   datasource.NewHTTPFetcher(time.Second, nil),
		Emitter:   em,
		NoPolling: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer view.Close()

	sub := view.SubmitInput(context.Background(), ws[0].ID, "ABC")
	if sub.Status != datasource.StatusReady || !sub.Accepted {
		t.Errorf("accepted submission = %+v", sub)
	}
	if got.Field != "code" || got.Value != "ABC" || got.Page.ID != "p1" {
		t.Errorf("posted body = %+v", got)
	}

	sub = view.SubmitInput(context.Background(), ws[1].ID, "ABC")
	if sub.Status != datasource.StatusError || sub.Error == "" {
		t.Errorf("non-2xx submission = %+v", sub)
	}
	if s, _ := view.Submission(ws[1].ID); s.Status != datasource.StatusError {
		t.Errorf("recorded state = %+v", s)
	}

	sub = view.SubmitInput(context.Background(), ws[2].ID, "ABC")
	if sub.Status != datasource.StatusError {
		t.Errorf("missing submit URL = %+v", sub)
	}
	if sub := view.SubmitInput(context.Background(), "nope", 1); sub.Status != datasource.StatusError {
		t.Errorf("unknown widget = %+v", sub)
	}

	n := widgetNode(view.Render(), "input")
	if n.Props["submitStatus"] != "ready" || n.Props["accepted"] != true {
		t.Errorf("input props = %+v", n.Props)
	}
	if len(em.Named(service.EventInputState)) != 3 {
		t.Errorf("input events = %d, want 3", len(em.Named(service.EventInputState)))
	}
}
