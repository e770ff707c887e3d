package datasource

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"nexus/internal/domain"
)

// ResultSource is the read side of the page's filter context.
type ResultSource interface {
	Filters() map[string]any
	Result(label string) (any, bool)
	ResultList() []map[string]any
}

// Origin records which branch of the resolution order produced a result.
type Origin string

const (
	OriginRemote Origin = "remote"
	OriginFilter Origin = "filter"
	OriginInline Origin = "inline"
)

// Result is a resolved widget collection.
type Result struct {
	Rows       []Row    `json:"rows"`
	Raw        any      `json:"-"`
	Origin     Origin   `json:"origin"`
	LabelValue bool     `json:"labelValue"`
	Metrics    []string `json:"metrics,omitempty"`
}

func newResult(raw any, origin Origin) *Result {
	rows := Normalize(raw)
	res := &Result{Rows: rows, Raw: raw, Origin: origin}
	if IsLabelValue(rows) {
		res.LabelValue = true
		res.Metrics = MetricNames(rows)
	}
	return res
}

// Resolver resolves widget data in order: data URL, shared filter result,
// inline static data.
type Resolver struct {
	fetcher Fetcher
	results ResultSource
	now     func() time.Time
}

// NewResolver creates a resolver. results may be nil when the page has no
// filter context.
func NewResolver(fetcher Fetcher, results ResultSource) *Resolver {
	return &Resolver{fetcher: fetcher, results: results, now: time.Now}
}

// Resolve returns the widget's collection for the given page and viewer.
func (r *Resolver) Resolve(ctx context.Context, w domain.Widget, page domain.PageRef, viewer domain.Viewer) (*Result, error) {
	var ds domain.DataSettings
	if err := domain.DecodeSettings(w.Settings, &ds); err != nil {
		return nil, err
	}

	if ds.DataURL != "" {
		if r.fetcher == nil {
			return nil, fmt.Errorf("no fetcher configured")
		}
		var filters map[string]any
		if r.results != nil {
			filters = r.results.Filters()
		}
		payload := NewRequestContext(w, page, viewer, r.now())
		payload.Filters = filters
		method := strings.ToUpper(ds.DataMethod)
		if method == "" {
			method = http.MethodPost
		}
		raw, err := r.fetcher.FetchJSON(ctx, method, ResolveURL(ds.DataURL, filters), payload)
		if err != nil {
			return nil, err
		}
		return newResult(raw, OriginRemote), nil
	}

	if ds.UseFilterResult && r.results != nil {
		if ds.FilterResultLabel == "" {
			list := r.results.ResultList()
			raw := make([]any, len(list))
			for i, item := range list {
				raw[i] = item
			}
			return newResult(raw, OriginFilter), nil
		}
		v, ok := r.results.Result(ds.FilterResultLabel)
		if !ok {
			return &Result{Origin: OriginFilter}, nil
		}
		switch v.(type) {
		case []any, map[string]any:
			return newResult(v, OriginFilter), nil
		default:
			return newResult([]any{map[string]any{"label": ds.FilterResultLabel, "value": v}}, OriginFilter), nil
		}
	}

	return newResult(ds.Data, OriginInline), nil
}

// NeedsRemote reports whether the widget fetches from an external endpoint.
func NeedsRemote(w domain.Widget) bool {
	return w.Settings.String("dataUrl") != ""
}
