package filters_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"nexus/internal/datasource"
	"nexus/internal/domain"
	"nexus/internal/filterctx"
	"nexus/internal/filters"
)

// recorder is an httptest server that records query strings per path.
type recorder struct {
	mu      sync.Mutex
	queries map[string][]url.Values
	srv     *httptest.Server
}

func newRecorder(t *testing.T, respond func(path string, q url.Values) string) *recorder {
	t.Helper()
	r := &recorder{queries: map[string][]url.Values{}}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		r.queries[req.URL.Path] = append(r.queries[req.URL.Path], req.URL.Query())
		r.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(respond(req.URL.Path, req.URL.Query())))
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *recorder) calls(path string) []url.Values {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]url.Values(nil), r.queries[path]...)
}

func decodeJSON(r *http.Request, out any) error {
	return json.NewDecoder(r.Body).Decode(out)
}

func fixedNow() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) }

func parse(t *testing.T, s domain.Settings) filters.Config {
	t.Helper()
	cfg, err := filters.ParseConfig(s)
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestParseConfigDefaults(t *testing.T) {
	cfg := parse(t, domain.Settings{
		"endpoint": "http://x",
		"fields": []any{
			map[string]any{"key": "a"}, map[string]any{"key": "b"}, map[string]any{"key": "c"},
			map[string]any{"key": "d"}, map[string]any{"key": "e"},
		},
	})
	if cfg.DebounceMs != 350 || cfg.OptionsFallback != filters.FallbackField || cfg.KPIsKey != "kpis" {
		t.Errorf("defaults: %+v", cfg)
	}
	if len(cfg.Fields) != filters.MaxFields {
		t.Errorf("fields = %d", len(cfg.Fields))
	}
	if cfg.Fields[0].Type != filters.FieldText || cfg.Fields[0].Label != "a" {
		t.Errorf("field defaults: %+v", cfg.Fields[0])
	}
}

func TestConfigProblems(t *testing.T) {
	cfg := parse(t, domain.Settings{
		"fields": []any{map[string]any{"key": "a", "dependsOn": "zz"}},
	})
	if err := cfg.Problems(); err == nil {
		t.Error("missing endpoint and unknown dependency should be reported")
	}
}

func TestParseOptionsShapes(t *testing.T) {
	got := filters.ParseOptions([]any{"SP", 42.0, map[string]any{"label": "Rio", "value": "RJ"}, nil})
	want := []filters.Option{
		{Label: "SP", Value: "SP"},
		{Label: "42", Value: "42"},
		{Label: "Rio", Value: "RJ"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("option %d = %v, want %v", i, got[i], want[i])
		}
	}
	wrapped := filters.ParseOptions(map[string]any{"options": []any{"a"}})
	if len(wrapped) != 1 {
		t.Errorf("wrapped = %v", wrapped)
	}
}

func TestResolvePeriod(t *testing.T) {
	now := fixedNow()
	cases := []struct {
		preset   filters.Preset
		from, to string
	}{
		{filters.PresetToday, "2026-03-15", "2026-03-15"},
		{filters.PresetYesterday, "2026-03-14", "2026-03-14"},
		{filters.PresetLast7, "2026-03-09", "2026-03-15"},
		{filters.PresetLast30, "2026-02-14", "2026-03-15"},
	}
	for _, c := range cases {
		p, err := filters.ResolvePeriod(c.preset, now, time.UTC, "", "")
		if err != nil || p.From != c.from || p.To != c.to {
			t.Errorf("%s: %+v %v", c.preset, p, err)
		}
	}
	p, err := filters.ResolvePeriod(filters.PresetCustom, now, time.UTC, "03/01/2026", "2026-03-10")
	if err != nil || p.From != "2026-03-01" || p.To != "2026-03-10" {
		t.Errorf("custom: %+v %v", p, err)
	}
	if _, err := filters.ResolvePeriod(filters.PresetCustom, now, time.UTC, "2026-03-10", "2026-03-01"); !errors.Is(err, filters.ErrPeriod) {
		t.Errorf("reversed range: %v", err)
	}
}

func TestDebouncerTrailingEdge(t *testing.T) {
	var fired atomic.Int32
	d := filters.NewDebouncer(40*time.Millisecond, func() { fired.Add(1) })
	for i := 0; i < 5; i++ {
		d.Trigger()
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	if fired.Load() != 1 {
		t.Errorf("fired %d times, want 1", fired.Load())
	}

	d.Trigger()
	d.Cancel()
	time.Sleep(80 * time.Millisecond)
	if fired.Load() != 1 {
		t.Error("cancelled fire ran")
	}
}

func TestFreeTextFallbackAndManualApply(t *testing.T) {
	rec := newRecorder(t, func(string, url.Values) string {
		return `{"kpis":[{"label":"revenue","value":1500}]}`
	})
	store := filterctx.New(nil)
	cfg := parse(t, domain.Settings{
		"endpoint":        rec.srv.URL + "/apply",
		"autoApply":       false,
		"optionsFallback": "field",
		"fields":          []any{map[string]any{"key": "city", "type": "list"}},
	})
	m := filters.New(cfg, filters.Env{
		Fetcher: datasource.NewHTTPFetcher(time.Second, nil),
		Store:   store,
		Now:     fixedNow,
	})
	defer m.Close()
	m.Start()

	view, _ := m.Field("city")
	if view.Input != filters.InputText {
		t.Fatalf("city should degrade to free text, got %s", view.Input)
	}

	if err := m.SetValue("city", "SP"); err != nil {
		t.Fatal(err)
	}
	m.Wait()
	if len(rec.calls("/apply")) != 0 {
		t.Fatal("manual mode must not apply on change")
	}

	if err := m.Apply(); err != nil {
		t.Fatal(err)
	}
	m.Wait()

	calls := rec.calls("/apply")
	if len(calls) != 1 {
		t.Fatalf("apply calls = %d", len(calls))
	}
	q := calls[0]
	if q.Get("city") != "SP" || q.Get("preset") != "today" || q.Get("from") != "2026-03-15" {
		t.Errorf("query = %v", q)
	}
	if m.Snapshot().Phase != filters.PhaseSuccess {
		t.Errorf("phase = %s", m.Snapshot().Phase)
	}
	if v, _ := store.Filter("city"); v != "SP" {
		t.Errorf("published city = %v", v)
	}
	if v, _ := store.Result("revenue"); v != 1500.0 {
		t.Errorf("published revenue = %v", v)
	}
}

func TestManualApplyRequiresListValues(t *testing.T) {
	cfg := parse(t, domain.Settings{
		"endpoint": "http://unused",
		"fields":   []any{map[string]any{"key": "city", "type": "list"}},
	})
	m := filters.New(cfg, filters.Env{Fetcher: datasource.NewHTTPFetcher(time.Second, nil)})
	defer m.Close()

	err := m.Apply()
	if !errors.Is(err, filters.ErrValidation) {
		t.Fatalf("got %v", err)
	}
	if s := m.Snapshot(); s.Phase != filters.PhaseError || s.Error == "" {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestDependentFieldGating(t *testing.T) {
	rec := newRecorder(t, func(path string, q url.Values) string {
		if path == "/cities" {
			return `[{"label":"City of ` + q.Get("uf") + `","value":"c-` + q.Get("uf") + `"}]`
		}
		return `["SP","RJ"]`
	})
	cfg := parse(t, domain.Settings{
		"endpoint": rec.srv.URL + "/apply",
		"fields": []any{
			map[string]any{"key": "state", "type": "list", "optionsEndpoint": rec.srv.URL + "/states"},
			map[string]any{"key": "city", "type": "list", "dependsOn": "state", "dependsParam": "uf", "optionsEndpoint": rec.srv.URL + "/cities"},
		},
	})
	m := filters.New(cfg, filters.Env{Fetcher: datasource.NewHTTPFetcher(time.Second, nil), Now: fixedNow})
	defer m.Close()
	m.Start()
	m.Wait()

	if n := len(rec.calls("/cities")); n != 0 {
		t.Fatalf("dependent fetched %d times with empty parent", n)
	}
	if v, _ := m.Field("city"); !v.Disabled {
		t.Error("dependent should be disabled while its parent is empty")
	}

	_ = m.SetValue("state", "SP")
	m.Wait()
	_ = m.SetValue("state", "SP")
	m.Wait()
	if calls := rec.calls("/cities"); len(calls) != 1 || calls[0].Get("uf") != "SP" {
		t.Fatalf("after SP: %v", calls)
	}
	v, _ := m.Field("city")
	if v.Input != filters.InputSelect || len(v.Options) != 1 || v.Options[0].Value != "c-SP" {
		t.Errorf("city view = %+v", v)
	}

	_ = m.SetValue("city", "c-SP")
	_ = m.SetValue("state", "RJ")
	m.Wait()
	if n := len(rec.calls("/cities")); n != 2 {
		t.Errorf("cities calls = %d, want 2", n)
	}
	if v, _ := m.Field("city"); v.Value != "" {
		t.Errorf("parent change should clear the dependent, got %q", v.Value)
	}

	_ = m.SetValue("state", "")
	m.Wait()
	if n := len(rec.calls("/cities")); n != 2 {
		t.Errorf("empty parent must not fetch, calls = %d", n)
	}
}

func TestBlockOptionsAndBlockFallback(t *testing.T) {
	rec := newRecorder(t, func(string, url.Values) string {
		return `{"options":{"city":["SP","RJ"]}}`
	})
	cfg := parse(t, domain.Settings{
		"endpoint":        rec.srv.URL + "/apply",
		"optionsFallback": "block",
		"fields": []any{
			map[string]any{"key": "city", "type": "list"},
			map[string]any{"key": "store", "type": "list"},
		},
	})
	m := filters.New(cfg, filters.Env{Fetcher: datasource.NewHTTPFetcher(time.Second, nil), Now: fixedNow})
	defer m.Close()

	for _, f := range m.Snapshot().Fields {
		if f.Input != filters.InputText {
			t.Errorf("%s should be free text before any options", f.Key)
		}
	}

	_ = m.SetValue("city", "X")
	_ = m.SetValue("store", "Y")
	if err := m.Apply(); err != nil {
		t.Fatal(err)
	}
	m.Wait()

	city, _ := m.Field("city")
	store, _ := m.Field("store")
	if city.Input != filters.InputSelect || len(city.Options) != 2 {
		t.Errorf("city = %+v", city)
	}
	if store.Input != filters.InputSelect {
		t.Errorf("store should stop being free text once the block has options: %+v", store)
	}
}

func TestAutoApplyDebouncedAndRequireAll(t *testing.T) {
	rec := newRecorder(t, func(string, url.Values) string { return `[]` })
	cfg := parse(t, domain.Settings{
		"endpoint":            rec.srv.URL + "/apply",
		"autoApply":           true,
		"autoApplyRequireAll": true,
		"debounceMs":          30.0,
		"fields": []any{
			map[string]any{"key": "q", "type": "text"},
			map[string]any{"key": "min", "type": "number"},
		},
	})
	m := filters.New(cfg, filters.Env{Fetcher: datasource.NewHTTPFetcher(time.Second, nil), Now: fixedNow})
	defer m.Close()

	_ = m.SetValue("q", "a")
	_ = m.SetValue("q", "ab")
	m.Wait()
	if n := len(rec.calls("/apply")); n != 0 {
		t.Fatalf("incomplete form applied %d times", n)
	}

	_ = m.SetValue("min", "5")
	_ = m.SetValue("q", "abc")
	m.Wait()
	calls := rec.calls("/apply")
	if len(calls) != 1 {
		t.Fatalf("apply calls = %d, want 1", len(calls))
	}
	if calls[0].Get("q") != "abc" || calls[0].Get("min") != "5" {
		t.Errorf("query = %v", calls[0])
	}
}

func TestPrefillDoesNotClobberAndLocks(t *testing.T) {
	rec := newRecorder(t, func(string, url.Values) string {
		return `{"customer":{"name":"Ana","doc":"123"}}`
	})
	cfg := parse(t, domain.Settings{
		"endpoint": rec.srv.URL + "/apply",
		"prefill":  map[string]any{"name": "customer.name", "doc": "customer.doc"},
		"fields": []any{
			map[string]any{"key": "name", "type": "text", "lockOnAutoFill": true},
			map[string]any{"key": "doc", "type": "text"},
		},
	})
	m := filters.New(cfg, filters.Env{Fetcher: datasource.NewHTTPFetcher(time.Second, nil), Now: fixedNow})
	defer m.Close()

	_ = m.SetValue("doc", "999")
	_ = m.Apply()
	m.Wait()

	name, _ := m.Field("name")
	doc, _ := m.Field("doc")
	if name.Value != "Ana" || !name.Locked {
		t.Errorf("name = %+v", name)
	}
	if doc.Value != "999" {
		t.Errorf("user input clobbered: %q", doc.Value)
	}
	if err := m.SetValue("name", "Bob"); !errors.Is(err, filters.ErrLocked) {
		t.Errorf("locked field accepted input: %v", err)
	}
}

func TestApplyErrorBecomesState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"message":"upstream down"}`))
	}))
	defer srv.Close()

	cfg := parse(t, domain.Settings{"endpoint": srv.URL})
	m := filters.New(cfg, filters.Env{Fetcher: datasource.NewHTTPFetcher(time.Second, nil), Now: fixedNow})
	defer m.Close()
	_ = m.Apply()
	m.Wait()

	s := m.Snapshot()
	if s.Phase != filters.PhaseError || s.Error == "" {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestCloseDropsLateResults(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{"kpis":[{"label":"x","value":1}]}`))
	}))
	defer srv.Close()
	defer close(release)

	store := filterctx.New(nil)
	cfg := parse(t, domain.Settings{"endpoint": srv.URL})
	m := filters.New(cfg, filters.Env{Fetcher: datasource.NewHTTPFetcher(5*time.Second, nil), Store: store, Now: fixedNow})
	_ = m.Apply()
	m.Close()
	m.Wait()

	if _, ok := store.Result("x"); ok {
		t.Error("closed machine published a late result")
	}
}

func TestApplyPublishesSentValues(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		_, _ = w.Write([]byte(`{"kpis":[{"label":"revenue","value":10}]}`))
	}))
	defer srv.Close()

	store := filterctx.New(nil)
	cfg := parse(t, domain.Settings{
		"endpoint":  srv.URL,
		"autoApply": false,
		"fields":    []any{map[string]any{"key": "city", "type": "text"}},
	})
	m := filters.New(cfg, filters.Env{Fetcher: datasource.NewHTTPFetcher(5*time.Second, nil), Store: store, Now: fixedNow})
	defer m.Close()

	if err := m.SetValue("city", "SP"); err != nil {
		t.Fatal(err)
	}
	if err := m.Apply(); err != nil {
		t.Fatal(err)
	}
	<-entered
	if err := m.SetValue("city", "RJ"); err != nil {
		t.Fatal(err)
	}
	close(release)
	m.Wait()

	if v, _ := store.Filter("city"); v != "SP" {
		t.Errorf("published city = %v, want the value that was queried", v)
	}
	if v, _ := m.Field("city"); v.Value != "RJ" {
		t.Errorf("form value = %q, the edit should be kept", v.Value)
	}
}

func TestMissingPaymentEndpointDoesNotBlockApply(t *testing.T) {
	rec := newRecorder(t, func(string, url.Values) string {
		return `{"order":{"total":"80.00"},"kpis":[{"label":"due","value":80}]}`
	})
	store := filterctx.New(nil)
	cfg := parse(t, domain.Settings{
		"endpoint": rec.srv.URL + "/apply",
		"prefill":  map[string]any{"total": "order.total"},
		"fields":   []any{map[string]any{"key": "total", "type": "number"}},
		"payment":  map[string]any{"totalField": "total"},
	})
	if err := cfg.Problems(); err != nil {
		t.Fatalf("payment misconfiguration should not be a form problem: %v", err)
	}
	if !errors.Is(cfg.PaymentProblem(), filters.ErrSubmitEndpoint) {
		t.Fatalf("payment problem = %v", cfg.PaymentProblem())
	}

	m := filters.New(cfg, filters.Env{Fetcher: datasource.NewHTTPFetcher(time.Second, nil), Store: store, Now: fixedNow})
	defer m.Close()
	if err := m.Apply(); err != nil {
		t.Fatal(err)
	}
	m.Wait()

	s := m.Snapshot()
	if s.Phase != filters.PhaseSuccess || s.ConfigError != "" || s.PaymentError == "" {
		t.Errorf("snapshot = %+v", s)
	}
	if v, _ := store.Result("due"); v != 80.0 {
		t.Errorf("published due = %v", v)
	}

	p := m.Payment()
	if p == nil {
		t.Fatal("payment dialog should still open")
	}
	i, _ := p.AddTender(filters.MethodCash)
	_, _ = p.SetAmount(i, "80")
	if p.CanSubmit() {
		t.Error("payment without a submit endpoint must not be submittable")
	}
	if _, err := p.Submit(context.Background()); !errors.Is(err, filters.ErrSubmitEndpoint) {
		t.Errorf("submit = %v", err)
	}
	if p.Snapshot().Error == "" {
		t.Error("payment snapshot should carry the configuration error")
	}
}

// ── Payment ───────────────────────────────────────────────

func TestPaymentInvariant(t *testing.T) {
	p := filters.NewPayment(decimal.RequireFromString("100.00"), filters.PaymentConfig{SubmitEndpoint: "http://unused"}, nil, nil, nil)

	first, err := p.AddTender(filters.MethodCash)
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := p.SetAmount(first, "60.00"); !got.Equal(decimal.RequireFromString("60")) {
		t.Fatalf("first = %s", got)
	}
	second, err := p.AddTender(filters.MethodCash)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := p.SetAmount(second, "50.00")
	if !got.Equal(decimal.RequireFromString("40")) {
		t.Errorf("second amount should clamp to 40, got %s", got)
	}
	snap := p.Snapshot()
	if !snap.Paid.Equal(snap.Total) || !snap.CanSubmit {
		t.Errorf("snapshot = %+v", snap)
	}
	if _, err := p.AddTender(filters.MethodCash); !errors.Is(err, filters.ErrTenderLocked) {
		t.Errorf("no balance remains, got %v", err)
	}

	_, _ = p.SetAmount(second, "30")
	if p.CanSubmit() {
		t.Error("underpaid payment must not be submittable")
	}
}

func TestPaymentAddGatedOnValidRows(t *testing.T) {
	p := filters.NewPayment(decimal.NewFromInt(100), filters.PaymentConfig{}, nil, nil, nil)
	i, _ := p.AddTender(filters.MethodPix)
	_, _ = p.SetAmount(i, "10")
	if _, err := p.AddTender(filters.MethodCash); !errors.Is(err, filters.ErrTenderLocked) {
		t.Fatalf("pix without key should block: %v", err)
	}
	_ = p.SetPix(i, "key@pix", fixedNow())
	if _, err := p.AddTender(filters.MethodCash); err != nil {
		t.Errorf("valid pix row should allow another: %v", err)
	}
}

func TestTicketValidationAndSubmit(t *testing.T) {
	var submitted map[string]any
	var mu sync.Mutex
	rec := newRecorder(t, func(path string, q url.Values) string {
		if path == "/ticket" {
			if q.Get("ticket") == "12345678901234" {
				return `{"valid":true,"amount":"25.50"}`
			}
			return `{"valid":false}`
		}
		return `{"ok":true}`
	})
	submitSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		var body map[string]any
		_ = decodeJSON(r, &body)
		submitted = body
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer submitSrv.Close()

	cfg := filters.PaymentConfig{TicketEndpoint: rec.srv.URL + "/ticket", SubmitEndpoint: submitSrv.URL}
	p := filters.NewPayment(decimal.RequireFromString("25.50"), cfg, datasource.NewHTTPFetcher(time.Second, nil),
		map[string]any{"city": "SP"}, map[string]string{"pageId": "p1"})

	i, _ := p.AddTender(filters.MethodCard)
	_, _ = p.SetAmount(i, "1")
	_ = p.SetTicket(i, "1234")
	if err := p.ValidateTicket(context.Background(), i); !errors.Is(err, filters.ErrTicketFormat) {
		t.Fatalf("short ticket: %v", err)
	}
	_ = p.SetTicket(i, "1234 5678 9012 34")
	if err := p.ValidateTicket(context.Background(), i); err != nil {
		t.Fatal(err)
	}
	snap := p.Snapshot()
	if !snap.Tenders[0].TicketValid || !snap.Tenders[0].Amount.Equal(decimal.RequireFromString("25.50")) {
		t.Fatalf("tender = %+v", snap.Tenders[0])
	}

	if _, err := p.Submit(context.Background()); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if submitted["total"] != 25.5 {
		t.Errorf("total = %v", submitted["total"])
	}
	payments, _ := submitted["payments"].([]any)
	if len(payments) != 1 {
		t.Fatalf("payments = %v", submitted["payments"])
	}
	row := payments[0].(map[string]any)
	if row["method"] != "card" || row["ticket"] != "12345678901234" {
		t.Errorf("row = %v", row)
	}
	if ctx, _ := submitted["context"].(map[string]any); ctx["pageId"] != "p1" {
		t.Errorf("context = %v", submitted["context"])
	}
}

func TestApplyOpensPayment(t *testing.T) {
	rec := newRecorder(t, func(string, url.Values) string { return `{"order":{"total":"80.00"}}` })
	cfg := parse(t, domain.Settings{
		"endpoint": rec.srv.URL + "/apply",
		"prefill":  map[string]any{"total": "order.total"},
		"fields":   []any{map[string]any{"key": "total", "type": "number"}},
		"payment":  map[string]any{"totalField": "total", "submitEndpoint": rec.srv.URL + "/pay"},
	})
	m := filters.New(cfg, filters.Env{Fetcher: datasource.NewHTTPFetcher(time.Second, nil), Now: fixedNow})
	defer m.Close()
	_ = m.Apply()
	m.Wait()

	p := m.Payment()
	if p == nil || !p.Total().Equal(decimal.NewFromInt(80)) {
		t.Fatalf("payment = %+v", p)
	}
}
