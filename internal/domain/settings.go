package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type WidgetType string

const (
	WidgetHeading       WidgetType = "heading"
	WidgetText          WidgetType = "text"
	WidgetImage         WidgetType = "image"
	WidgetButton        WidgetType = "button"
	WidgetDivider       WidgetType = "divider"
	WidgetSpacer        WidgetType = "spacer"
	WidgetTable         WidgetType = "table"
	WidgetKPI           WidgetType = "kpi"
	WidgetChart         WidgetType = "chart"
	WidgetList          WidgetType = "list"
	WidgetFiltersHeader WidgetType = "filters_header"
	WidgetInput         WidgetType = "input"
	WidgetHTML          WidgetType = "html"
	WidgetIframe        WidgetType = "iframe"
	WidgetSubsection    WidgetType = "subsection"
)

// WidgetTypes is the closed variant set in palette order.
var WidgetTypes = []WidgetType{
	WidgetHeading, WidgetText, WidgetImage, WidgetButton, WidgetDivider, WidgetSpacer,
	WidgetTable, WidgetKPI, WidgetChart, WidgetList, WidgetFiltersHeader, WidgetInput,
	WidgetHTML, WidgetIframe, WidgetSubsection,
}

func (t WidgetType) Valid() bool {
	for _, k := range WidgetTypes {
		if k == t {
			return true
		}
	}
	return false
}

// UsesData reports whether the variant resolves a collection through the data layer.
func (t WidgetType) UsesData() bool {
	switch t {
	case WidgetTable, WidgetKPI, WidgetChart, WidgetList:
		return true
	}
	return false
}

// Settings is the variant-specific record of a widget. Unknown keys are kept
// so documents written by newer editors survive a round trip.
type Settings map[string]any

func (s Settings) Clone() Settings {
	if s == nil {
		return nil
	}
	out := make(Settings, len(s))
	for k, v := range s {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies JSON-shaped values (maps, slices, scalars).
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, x := range t {
			m[k] = CloneValue(x)
		}
		return m
	case Settings:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = CloneValue(x)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

func (s Settings) String(key string) string {
	switch v := s[key].(type) {
	case string:
		return v
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func (s Settings) Int(key string, def int) int {
	switch v := s[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func (s Settings) Bool(key string) bool {
	switch v := s[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1"
	case float64:
		return v != 0
	}
	return false
}

// DecodeSettings decodes the settings map into a typed variant record.
// Extra keys are ignored.
func DecodeSettings(s Settings, out any) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	return nil
}

// ── Typed variant settings ─────────────────────────────────

type HeadingSettings struct {
	Text  string `json:"text"`
	Level int    `json:"level"`
	Align string `json:"align"`
}

type TextSettings struct {
	Content string `json:"content"`
	Align   string `json:"align"`
}

type ImageSettings struct {
	Src string `json:"src"`
	Alt string `json:"alt"`
	Fit string `json:"fit"`
}

type ButtonSettings struct {
	Label   string `json:"label"`
	Href    string `json:"href"`
	Variant string `json:"variant"`
	NewTab  bool   `json:"newTab"`
}

type SpacerSettings struct {
	Size Spacing `json:"size"`
}

// DataSettings is shared by every variant that resolves data.
type DataSettings struct {
	DataURL           string `json:"dataUrl"`
	DataMethod        string `json:"dataMethod"`
	RefreshInterval   int    `json:"refreshInterval"`
	UseFilterResult   bool   `json:"useFilterResult"`
	FilterResultLabel string `json:"filterResultLabel"`
	Data              any    `json:"data"`
}

type TableSettings struct {
	DataSettings
	Title   string   `json:"title"`
	Columns []string `json:"columns"`
	MaxRows int      `json:"maxRows"`
}

type Aggregation string

const (
	AggCount Aggregation = "count"
	AggSum   Aggregation = "sum"
	AggAvg   Aggregation = "avg"
	AggMin   Aggregation = "min"
	AggMax   Aggregation = "max"
	AggFirst Aggregation = "first"
)

type ValueFormat string

const (
	FormatNumber   ValueFormat = "number"
	FormatCurrency ValueFormat = "currency"
	FormatPercent  ValueFormat = "percent"
	FormatCompact  ValueFormat = "compact"
)

type KPISettings struct {
	DataSettings
	Title       string      `json:"title"`
	ValueField  string      `json:"valueField"`
	Metric      string      `json:"metric"`
	Aggregation Aggregation `json:"aggregation"`
	Format      ValueFormat `json:"format"`
	Currency    string      `json:"currency"`
	Locale      string      `json:"locale"`
	Decimals    *int        `json:"decimals"`
	Prefix      string      `json:"prefix"`
	Suffix      string      `json:"suffix"`
}

type ChartSettings struct {
	DataSettings
	Title      string `json:"title"`
	ChartType  string `json:"chartType"`
	LabelField string `json:"labelField"`
	ValueField string `json:"valueField"`
	MaxPoints  int    `json:"maxPoints"`
}

type ListSettings struct {
	DataSettings
	Title      string `json:"title"`
	LabelField string `json:"labelField"`
	ValueField string `json:"valueField"`
	MaxItems   int    `json:"maxItems"`
}

// InputSettings describes a single-value input that posts its value with the
// standard context payload.
type InputSettings struct {
	Label       string `json:"label"`
	FieldName   string `json:"fieldName"`
	InputType   string `json:"inputType"`
	Placeholder string `json:"placeholder"`
	SubmitURL   string `json:"submitUrl"`
	SubmitLabel string `json:"submitLabel"`
}

type HTMLSettings struct {
	HTML         string `json:"html"`
	AllowScripts bool   `json:"allowScripts"`
	InjectTheme  bool   `json:"injectTheme"`
	Height       int    `json:"height"`
	AutoHeight   bool   `json:"autoHeight"`
}

type IframeSettings struct {
	URL         string `json:"url"`
	Height      int    `json:"height"`
	AutoHeight  bool   `json:"autoHeight"`
	InjectTheme bool   `json:"injectTheme"`
	Sandbox     string `json:"sandbox"`
}

type SubsectionSettings struct {
	Title string  `json:"title"`
	Gap   Spacing `json:"gap"`
}
