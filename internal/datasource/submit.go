package datasource

import (
	"context"
	"errors"
	"net/http"

	"nexus/internal/domain"
)

// ErrSubmitURL marks an input widget without a submit URL.
var ErrSubmitURL = errors.New("submit URL is required")

// InputPayload is the body posted by an input widget: the standard context
// plus the submitted field.
type InputPayload struct {
	RequestContext
	Field string `json:"field"`
	Value any    `json:"value"`
}

// Submission is the tri-state of an input widget's last submit. Accepted is
// the endpoint's verdict read through Truthy; it is only meaningful when
// Status is ready.
type Submission struct {
	Status   Status `json:"status"`
	Accepted bool   `json:"accepted"`
	Response any    `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Submit posts value for input widget w. It never returns an error:
// configuration, transport and HTTP failures become an error Submission.
func (r *Resolver) Submit(ctx context.Context, w domain.Widget, page domain.PageRef, viewer domain.Viewer, value any) Submission {
	var s domain.InputSettings
	if err := domain.DecodeSettings(w.Settings, &s); err != nil {
		return Submission{Status: StatusError, Error: err.Error()}
	}
	if s.SubmitURL == "" {
		return Submission{Status: StatusError, Error: ErrSubmitURL.Error()}
	}
	if r.fetcher == nil {
		return Submission{Status: StatusError, Error: "no fetcher configured"}
	}

	payload := InputPayload{
		RequestContext: NewRequestContext(w, page, viewer, r.now()),
		Field:          s.FieldName,
		Value:          value,
	}
	var filters map[string]any
	if r.results != nil {
		filters = r.results.Filters()
	}
	payload.Filters = filters

	resp, err := r.fetcher.FetchJSON(ctx, http.MethodPost, ResolveURL(s.SubmitURL, filters), payload)
	if err != nil {
		return Submission{Status: StatusError, Error: err.Error()}
	}
	return Submission{Status: StatusReady, Accepted: Truthy(resp), Response: resp}
}
