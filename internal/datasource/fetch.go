package datasource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"nexus/internal/domain"
)

// ── Fetch contract ─────────────────────────────────────────
// fetchJson(url, method, body?) -> json | error, consumed by every widget
// that talks to an external endpoint.

// Fetcher performs a JSON request and returns the decoded body.
type Fetcher interface {
	FetchJSON(ctx context.Context, method, rawURL string, body any) (any, error)
}

// ErrDecode marks a response body that is not valid JSON.
var ErrDecode = errors.New("decode json")

// HTTPError is a non-2xx response. Message carries the body's message/error
// field when present, otherwise a truncated body.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

// HTTPFetcher is the net/http implementation of Fetcher.
type HTTPFetcher struct {
	client   *http.Client
	headers  map[string]string
	maxBytes int64
}

// NewHTTPFetcher creates a fetcher. A zero timeout defaults to 30s.
func NewHTTPFetcher(timeout time.Duration, headers map[string]string) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{
		client:   &http.Client{Timeout: timeout},
		headers:  headers,
		maxBytes: 5 * 1024 * 1024,
	}
}

func (f *HTTPFetcher) FetchJSON(ctx context.Context, method, rawURL string, body any) (any, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("url is required")
	}
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if body != nil && method != http.MethodGet {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range f.headers {
		if k != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Status: resp.StatusCode, Message: errorMessage(data)}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return raw, nil
}

// errorMessage pulls a user-visible message from an error body.
func errorMessage(data []byte) string {
	var obj map[string]any
	if json.Unmarshal(data, &obj) == nil {
		for _, k := range []string{"message", "error", "detail"} {
			if s, ok := obj[k].(string); ok && s != "" {
				return s
			}
		}
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// ── Context payload ────────────────────────────────────────

type WidgetRef struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
}

type Meta struct {
	Timestamp string `json:"timestamp"`
	Timezone  string `json:"timezone"`
	Locale    string `json:"locale"`
}

// RequestContext is sent with data-URL requests so one generic endpoint can
// serve many widgets and pages.
type RequestContext struct {
	Widget  WidgetRef         `json:"widget"`
	Page    domain.PageRef    `json:"page"`
	User    *domain.UserRef   `json:"user,omitempty"`
	Tenant  *domain.TenantRef `json:"tenant,omitempty"`
	Meta    Meta              `json:"meta"`
	Filters map[string]any    `json:"filters,omitempty"`
}

// NewRequestContext assembles the payload for a widget on a page.
func NewRequestContext(w domain.Widget, page domain.PageRef, viewer domain.Viewer, now time.Time) RequestContext {
	tz := viewer.Timezone
	if tz == "" {
		tz = "UTC"
	}
	locale := viewer.Locale
	if locale == "" {
		locale = "en-US"
	}
	return RequestContext{
		Widget: WidgetRef{ID: w.ID, Type: string(w.Type), Title: w.Settings.String("title")},
		Page:   page,
		User:   viewer.User,
		Tenant: viewer.Tenant,
		Meta:   Meta{Timestamp: now.UTC().Format(time.RFC3339), Timezone: tz, Locale: locale},
	}
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// ResolveURL substitutes {{key}} placeholders with URL-escaped filter values.
// Unknown keys resolve to an empty string.
func ResolveURL(template string, filters map[string]any) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		key := placeholderRe.FindStringSubmatch(m)[1]
		v, ok := filters[key]
		if !ok || v == nil {
			return ""
		}
		return url.QueryEscape(scalarString(v))
	})
}

// HasPlaceholders reports whether a URL template depends on filter values.
func HasPlaceholders(template string) bool {
	return placeholderRe.MatchString(template)
}

// WithQuery appends query parameters to rawURL, keeping any existing ones.
func WithQuery(rawURL string, params url.Values) string {
	if len(params) == 0 {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		return rawURL + sep + params.Encode()
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
