package render

import (
	"log"
	"math"
	"sort"

	"nexus/internal/datasource"
	"nexus/internal/domain"
	"nexus/internal/embed"
	"nexus/internal/filters"
)

// Row caps keep large responses cheap to render.
const (
	MaxChartPoints = 50
	MaxTableRows   = 100
	MaxListItems   = 50
)

// Node is the presentation tree produced for a page.
type Node struct {
	Type     string         `json:"type"`
	ID       string         `json:"id,omitempty"`
	Props    map[string]any `json:"props,omitempty"`
	Children []*Node        `json:"children,omitempty"`
}

// Env supplies per-page-view state to the renderer. Every field is optional.
type Env struct {
	// Data returns a data widget's current state.
	Data func(widgetID string) (datasource.State, bool)
	// Filters returns a filters header's current state.
	Filters func(widgetID string) (filters.Snapshot, bool)
	// Input returns an input widget's last submission.
	Input func(widgetID string) (datasource.Submission, bool)
	// Height returns the last height an embedded frame reported.
	Height func(widgetID string) (int, bool)
	Theme  *embed.Theme
	Locale string
}

// Renderer maps a document to a Node tree. It is pure over its Env.
type Renderer struct {
	env Env
}

func New(env Env) *Renderer {
	return &Renderer{env: env}
}

// Document renders the whole page.
func (r *Renderer) Document(doc domain.Document) *Node {
	root := &Node{Type: "page"}
	for _, s := range doc.Sections {
		root.Children = append(root.Children, r.Section(s))
	}
	return root
}

func (r *Renderer) Section(s domain.Section) *Node {
	n := &Node{
		Type: "section",
		ID:   s.ID,
		Props: map[string]any{
			"layout":  string(s.Settings.Layout),
			"gap":     string(s.Settings.Gap),
			"padding": string(s.Settings.Padding),
		},
	}
	for _, c := range s.Columns {
		n.Children = append(n.Children, r.Column(c))
	}
	return n
}

func (r *Renderer) Column(c domain.Column) *Node {
	n := &Node{
		Type: "column",
		ID:   c.ID,
		Props: map[string]any{
			"width":         domain.ClampWidth(c.Settings.Width),
			"verticalAlign": string(c.Settings.VerticalAlign),
			"padding":       string(c.Settings.Padding),
			"flow":          string(c.Settings.Flow),
			"fullHeight":    c.Settings.FullHeight,
		},
	}
	for _, w := range c.Widgets {
		n.Children = append(n.Children, r.Widget(w))
	}
	return n
}

// Widget dispatches on the widget type. Unknown types render as an
// "unsupported" node rather than failing the page.
func (r *Renderer) Widget(w domain.Widget) *Node {
	var props map[string]any
	var children []*Node
	var err error

	switch w.Type {
	case domain.WidgetHeading:
		props, err = r.heading(w)
	case domain.WidgetText:
		props, err = r.text(w)
	case domain.WidgetImage:
		props, err = r.image(w)
	case domain.WidgetButton:
		props, err = r.button(w)
	case domain.WidgetDivider:
		props = map[string]any{}
	case domain.WidgetSpacer:
		props, err = r.spacer(w)
	case domain.WidgetTable:
		props, err = r.table(w)
	case domain.WidgetKPI:
		props, err = r.kpi(w)
	case domain.WidgetChart:
		props, err = r.chart(w)
	case domain.WidgetList:
		props, err = r.list(w)
	case domain.WidgetFiltersHeader:
		props, err = r.filtersHeader(w)
	case domain.WidgetInput:
		props, err = r.input(w)
	case domain.WidgetHTML:
		props, err = r.html(w)
	case domain.WidgetIframe:
		props, err = r.iframe(w)
	case domain.WidgetSubsection:
		props, children = r.subsection(w)
	default:
		return &Node{Type: "unsupported", ID: w.ID, Props: map[string]any{"widgetType": string(w.Type)}}
	}
	if err != nil {
		log.Printf("[render] widget %s (%s): %v", w.ID, w.Type, err)
		props = map[string]any{"status": string(datasource.StatusError), "error": err.Error()}
	}
	return &Node{Type: string(w.Type), ID: w.ID, Props: props, Children: children}
}

// ── Static variants ────────────────────────────────────────

func (r *Renderer) heading(w domain.Widget) (map[string]any, error) {
	var s domain.HeadingSettings
	if err := domain.DecodeSettings(w.Settings, &s); err != nil {
		return nil, err
	}
	level := s.Level
	if level < 1 || level > 6 {
		level = 2
	}
	return map[string]any{"text": s.Text, "level": level, "align": s.Align}, nil
}

func (r *Renderer) text(w domain.Widget) (map[string]any, error) {
	var s domain.TextSettings
	if err := domain.DecodeSettings(w.Settings, &s); err != nil {
		return nil, err
	}
	return map[string]any{"content": s.Content, "align": s.Align}, nil
}

func (r *Renderer) image(w domain.Widget) (map[string]any, error) {
	var s domain.ImageSettings
	if err := domain.DecodeSettings(w.Settings, &s); err != nil {
		return nil, err
	}
	return map[string]any{"src": s.Src, "alt": s.Alt, "fit": s.Fit}, nil
}

func (r *Renderer) button(w domain.Widget) (map[string]any, error) {
	var s domain.ButtonSettings
	if err := domain.DecodeSettings(w.Settings, &s); err != nil {
		return nil, err
	}
	return map[string]any{"label": s.Label, "href": s.Href, "variant": s.Variant, "newTab": s.NewTab}, nil
}

func (r *Renderer) spacer(w domain.Widget) (map[string]any, error) {
	var s domain.SpacerSettings
	if err := domain.DecodeSettings(w.Settings, &s); err != nil {
		return nil, err
	}
	return map[string]any{"size": string(s.Size)}, nil
}

func (r *Renderer) input(w domain.Widget) (map[string]any, error) {
	var s domain.InputSettings
	if err := domain.DecodeSettings(w.Settings, &s); err != nil {
		return nil, err
	}
	props := map[string]any{
		"label":       s.Label,
		"fieldName":   s.FieldName,
		"inputType":   s.InputType,
		"placeholder": s.Placeholder,
		"submitLabel": s.SubmitLabel,
		"canSubmit":   s.SubmitURL != "",
	}
	if s.SubmitURL == "" {
		props["configError"] = datasource.ErrSubmitURL.Error()
	}
	if r.env.Input != nil {
		if sub, ok := r.env.Input(w.ID); ok {
			props["submitStatus"] = string(sub.Status)
			if sub.Status == datasource.StatusReady {
				props["accepted"] = sub.Accepted
			}
			if sub.Error != "" {
				props["submitError"] = sub.Error
			}
		}
	}
	return props, nil
}

func (r *Renderer) subsection(w domain.Widget) (map[string]any, []*Node) {
	var s domain.SubsectionSettings
	_ = domain.DecodeSettings(w.Settings, &s)
	var children []*Node
	for _, c := range w.Columns {
		children = append(children, r.Column(c))
	}
	return map[string]any{"title": s.Title, "gap": string(s.Gap)}, children
}

// ── Data variants ──────────────────────────────────────────

// dataProps starts a data widget's props from its tri-state and returns the
// rows when ready.
func (r *Renderer) dataProps(w domain.Widget, title string) (map[string]any, *datasource.Result) {
	props := map[string]any{"title": title}
	st := datasource.State{Status: datasource.StatusLoading}
	if r.env.Data != nil {
		if s, ok := r.env.Data(w.ID); ok {
			st = s
		}
	}
	props["status"] = string(st.Status)
	if st.Status == datasource.StatusError {
		props["error"] = st.Error
	}
	if st.Result == nil {
		return props, nil
	}
	props["origin"] = string(st.Result.Origin)
	if st.Result.LabelValue {
		props["metrics"] = st.Result.Metrics
	}
	return props, st.Result
}

func (r *Renderer) table(w domain.Widget) (map[string]any, error) {
	var s domain.TableSettings
	if err := domain.DecodeSettings(w.Settings, &s); err != nil {
		return nil, err
	}
	props, res := r.dataProps(w, s.Title)
	if res == nil {
		return props, nil
	}
	columns := s.Columns
	if len(columns) == 0 {
		columns = datasource.Fields(res.Rows)
	}
	limit := MaxTableRows
	if s.MaxRows > 0 && s.MaxRows < limit {
		limit = s.MaxRows
	}
	rows := res.Rows
	if len(rows) > limit {
		rows = rows[:limit]
	}
	cells := make([][]string, 0, len(rows))
	for _, row := range rows {
		line := make([]string, len(columns))
		for i, c := range columns {
			v, _ := datasource.Lookup(map[string]any(row), c)
			line[i] = datasource.ScalarString(v)
		}
		cells = append(cells, line)
	}
	props["columns"] = columns
	props["rows"] = cells
	props["total"] = len(res.Rows)
	props["truncated"] = len(res.Rows) > limit
	return props, nil
}

func (r *Renderer) kpi(w domain.Widget) (map[string]any, error) {
	var s domain.KPISettings
	if err := domain.DecodeSettings(w.Settings, &s); err != nil {
		return nil, err
	}
	props, res := r.dataProps(w, s.Title)
	if res == nil {
		return props, nil
	}
	value := KPIValue(res, s)
	locale := s.Locale
	if locale == "" {
		locale = r.env.Locale
	}
	props["raw"] = value
	props["value"] = FormatValue(value, FormatOptions{
		Format:   s.Format,
		Locale:   locale,
		Currency: s.Currency,
		Decimals: s.Decimals,
		Prefix:   s.Prefix,
		Suffix:   s.Suffix,
	})
	return props, nil
}

// KPIValue picks a KPI's value: a named metric of a label/value collection,
// otherwise the configured aggregation over valueField.
func KPIValue(res *datasource.Result, s domain.KPISettings) any {
	if res.LabelValue {
		metric := s.Metric
		if metric == "" {
			metric = s.ValueField
		}
		if metric != "" {
			if v, ok := datasource.MetricValue(res.Rows, metric); ok {
				return v
			}
		}
	}
	if len(res.Rows) == 1 && s.Aggregation == "" {
		v, _ := datasource.Lookup(map[string]any(res.Rows[0]), valueField(s.ValueField))
		return v
	}
	return datasource.Aggregate(res.Rows, valueField(s.ValueField), s.Aggregation)
}

func valueField(f string) string {
	if f == "" {
		return "value"
	}
	return f
}

type point struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

func (r *Renderer) chart(w domain.Widget) (map[string]any, error) {
	var s domain.ChartSettings
	if err := domain.DecodeSettings(w.Settings, &s); err != nil {
		return nil, err
	}
	props, res := r.dataProps(w, s.Title)
	props["chartType"] = s.ChartType
	if res == nil {
		return props, nil
	}
	limit := MaxChartPoints
	if s.MaxPoints > 0 && s.MaxPoints < limit {
		limit = s.MaxPoints
	}
	labelKey, valueKey := s.LabelField, s.ValueField
	if res.LabelValue || labelKey == "" {
		labelKey = "label"
	}
	if res.LabelValue || valueKey == "" {
		valueKey = "value"
	}
	points := make([]point, 0, min(len(res.Rows), limit))
	for _, row := range res.Rows {
		if len(points) == limit {
			break
		}
		lv, _ := datasource.Lookup(map[string]any(row), labelKey)
		vv, _ := datasource.Lookup(map[string]any(row), valueKey)
		n := datasource.ToNumber(vv)
		if math.IsNaN(n) {
			n = 0
		}
		points = append(points, point{Label: datasource.ScalarString(lv), Value: n})
	}
	props["points"] = points
	props["truncated"] = len(res.Rows) > limit
	return props, nil
}

func (r *Renderer) list(w domain.Widget) (map[string]any, error) {
	var s domain.ListSettings
	if err := domain.DecodeSettings(w.Settings, &s); err != nil {
		return nil, err
	}
	props, res := r.dataProps(w, s.Title)
	if res == nil {
		return props, nil
	}
	limit := MaxListItems
	if s.MaxItems > 0 && s.MaxItems < limit {
		limit = s.MaxItems
	}
	labelKey, valueKey := s.LabelField, s.ValueField
	if labelKey == "" {
		labelKey = "label"
	}
	if valueKey == "" {
		valueKey = "value"
	}
	items := make([]map[string]string, 0, min(len(res.Rows), limit))
	for _, row := range res.Rows {
		if len(items) == limit {
			break
		}
		lv, _ := datasource.Lookup(map[string]any(row), labelKey)
		vv, _ := datasource.Lookup(map[string]any(row), valueKey)
		items = append(items, map[string]string{
			"label": datasource.ScalarString(lv),
			"value": datasource.ScalarString(vv),
		})
	}
	props["items"] = items
	return props, nil
}

func (r *Renderer) filtersHeader(w domain.Widget) (map[string]any, error) {
	if r.env.Filters != nil {
		if snap, ok := r.env.Filters(w.ID); ok {
			return map[string]any{"state": snap}, nil
		}
	}
	cfg, err := filters.ParseConfig(w.Settings)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(cfg.Fields))
	for _, f := range cfg.Fields {
		keys = append(keys, f.Key)
	}
	sort.Strings(keys)
	props := map[string]any{"fields": keys, "showPeriod": cfg.ShowPeriod, "autoApply": cfg.AutoApply}
	if err := cfg.Problems(); err != nil {
		props["configError"] = err.Error()
	}
	if err := cfg.PaymentProblem(); err != nil {
		props["paymentError"] = err.Error()
	}
	return props, nil
}

// ── Embedded content ───────────────────────────────────────

func (r *Renderer) html(w domain.Widget) (map[string]any, error) {
	var s domain.HTMLSettings
	if err := domain.DecodeSettings(w.Settings, &s); err != nil {
		return nil, err
	}
	opts := embed.HTMLOptions{WidgetID: w.ID, AllowScripts: s.AllowScripts, AutoHeight: s.AutoHeight}
	if s.InjectTheme {
		opts.Theme = r.env.Theme
	}
	doc, err := embed.PrepareHTML(s.HTML, opts)
	if err != nil {
		return nil, err
	}
	props := map[string]any{
		"srcdoc":  doc,
		"sandbox": sandbox(s.AllowScripts, ""),
		"height":  r.height(w.ID, s.Height, s.AutoHeight),
	}
	return props, nil
}

func (r *Renderer) iframe(w domain.Widget) (map[string]any, error) {
	var s domain.IframeSettings
	if err := domain.DecodeSettings(w.Settings, &s); err != nil {
		return nil, err
	}
	props := map[string]any{
		"src":     s.URL,
		"sandbox": sandbox(true, s.Sandbox),
		"height":  r.height(w.ID, s.Height, s.AutoHeight),
	}
	if s.URL == "" {
		props["configError"] = "url is required"
	}
	if s.InjectTheme && r.env.Theme != nil {
		props["theme"] = r.env.Theme.Message()
	}
	return props, nil
}

func sandbox(scripts bool, custom string) string {
	if custom != "" {
		return custom
	}
	if scripts {
		return "allow-scripts allow-popups allow-forms"
	}
	return ""
}

func (r *Renderer) height(id string, configured int, auto bool) int {
	if auto && r.env.Height != nil {
		if h, ok := r.env.Height(id); ok && h > 0 {
			return h
		}
	}
	if configured > 0 {
		return configured
	}
	return 400
}
