package filters

import (
	"errors"
	"fmt"
	"strings"

	"nexus/internal/datasource"
	"nexus/internal/domain"
)

// MaxFields is the number of fields a filters header accepts.
const MaxFields = 4

// DefaultDebounceMs is the auto-apply debounce window.
const DefaultDebounceMs = 350

type FieldType string

const (
	FieldText    FieldType = "text"
	FieldNumber  FieldType = "number"
	FieldList    FieldType = "list"
	FieldBoolean FieldType = "boolean"
)

// FallbackPolicy decides when list fields degrade to free-text inputs.
type FallbackPolicy string

const (
	// FallbackField degrades only the list fields that resolved no options.
	FallbackField FallbackPolicy = "field"
	// FallbackBlock degrades the whole form when no list field got options.
	FallbackBlock FallbackPolicy = "block"
	// FallbackNone never degrades.
	FallbackNone FallbackPolicy = "none"
)

type Field struct {
	Key             string    `json:"key"`
	Label           string    `json:"label"`
	Type            FieldType `json:"type"`
	DependsOn       string    `json:"dependsOn"`
	DependsParam    string    `json:"dependsParam"`
	OptionsEndpoint string    `json:"optionsEndpoint"`
	LockOnAutoFill  bool      `json:"lockOnAutoFill"`
	Placeholder     string    `json:"placeholder"`
	Options         []any     `json:"options"`
}

// DependencyParam is the query parameter carrying the parent value.
func (f Field) DependencyParam() string {
	if f.DependsParam != "" {
		return f.DependsParam
	}
	return f.DependsOn
}

type PaymentConfig struct {
	TotalField     string `json:"totalField"`
	SubmitEndpoint string `json:"submitEndpoint"`
	TicketEndpoint string `json:"ticketEndpoint"`
	AmountPath     string `json:"amountPath"`
}

// Config is the filters_header widget settings.
type Config struct {
	Endpoint            string            `json:"endpoint"`
	Fields              []Field           `json:"fields"`
	ShowPeriod          bool              `json:"showPeriod"`
	DefaultPreset       Preset            `json:"defaultPreset"`
	AutoApply           bool              `json:"autoApply"`
	AutoApplyRequireAll bool              `json:"autoApplyRequireAll"`
	DebounceMs          int               `json:"debounceMs"`
	OptionsFallback     FallbackPolicy    `json:"optionsFallback"`
	Prefill             map[string]string `json:"prefill"`
	KPIsKey             string            `json:"kpisKey"`
	SendContext         bool              `json:"sendContext"`
	Payment             *PaymentConfig    `json:"payment"`
}

// ParseConfig decodes and defaults the widget settings.
func ParseConfig(s domain.Settings) (Config, error) {
	var c Config
	if err := domain.DecodeSettings(s, &c); err != nil {
		return c, fmt.Errorf("filters config: %w", err)
	}
	if c.DebounceMs <= 0 {
		c.DebounceMs = DefaultDebounceMs
	}
	switch c.OptionsFallback {
	case FallbackField, FallbackBlock, FallbackNone:
	default:
		c.OptionsFallback = FallbackField
	}
	if c.KPIsKey == "" {
		c.KPIsKey = "kpis"
	}
	if c.DefaultPreset == "" {
		c.DefaultPreset = PresetToday
	}
	if len(c.Fields) > MaxFields {
		c.Fields = c.Fields[:MaxFields]
	}
	for i := range c.Fields {
		if c.Fields[i].Type == "" {
			c.Fields[i].Type = FieldText
		}
		if c.Fields[i].Label == "" {
			c.Fields[i].Label = c.Fields[i].Key
		}
	}
	return c, nil
}

// Problems returns configuration errors. They are reported next to the
// widget and block applying, but never fail the page.
func (c Config) Problems() error {
	var errs []error
	if strings.TrimSpace(c.Endpoint) == "" {
		errs = append(errs, errors.New("endpoint is required"))
	}
	seen := map[string]bool{}
	for _, f := range c.Fields {
		if f.Key == "" {
			errs = append(errs, errors.New("field key is required"))
			continue
		}
		if seen[f.Key] {
			errs = append(errs, fmt.Errorf("duplicate field %q", f.Key))
		}
		seen[f.Key] = true
		switch f.Type {
		case FieldText, FieldNumber, FieldList, FieldBoolean:
		default:
			errs = append(errs, fmt.Errorf("field %q: unknown type %q", f.Key, f.Type))
		}
	}
	for _, f := range c.Fields {
		if f.DependsOn == "" {
			continue
		}
		if f.DependsOn == f.Key || !seen[f.DependsOn] {
			errs = append(errs, fmt.Errorf("field %q depends on unknown field %q", f.Key, f.DependsOn))
		}
	}
	return errors.Join(errs...)
}

// PaymentProblem reports a payment misconfiguration. It only concerns the
// payment dialog; the form still applies.
func (c Config) PaymentProblem() error {
	if c.paymentEnabled() && strings.TrimSpace(c.Payment.SubmitEndpoint) == "" {
		return ErrSubmitEndpoint
	}
	return nil
}

func (c Config) field(key string) (Field, bool) {
	for _, f := range c.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// dependents returns the fields whose parent is key.
func (c Config) dependents(key string) []Field {
	var out []Field
	for _, f := range c.Fields {
		if f.DependsOn == key {
			out = append(out, f)
		}
	}
	return out
}

func (c Config) paymentEnabled() bool {
	return c.Payment != nil && c.Payment.TotalField != ""
}

// ── Options ────────────────────────────────────────────────

// Option is one selectable value of a list field.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// ParseOptions accepts strings, numbers and {label,value} objects, either as
// a bare array or wrapped in options/data/items/results.
func ParseOptions(raw any) []Option {
	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case map[string]any:
		for _, k := range []string{"options", "data", "items", "results"} {
			if arr, ok := v[k].([]any); ok {
				items = arr
				break
			}
		}
	}
	out := make([]Option, 0, len(items))
	for _, item := range items {
		switch t := item.(type) {
		case map[string]any:
			value := datasource.ScalarString(t["value"])
			label := datasource.ScalarString(t["label"])
			if value == "" {
				value = label
			}
			if label == "" {
				label = value
			}
			if value != "" {
				out = append(out, Option{Label: label, Value: value})
			}
		case nil:
		default:
			s := datasource.ScalarString(t)
			if s != "" {
				out = append(out, Option{Label: s, Value: s})
			}
		}
	}
	return out
}

// parseBlockOptions reads the `options` map of an apply response.
func parseBlockOptions(resp any) map[string][]Option {
	obj, ok := resp.(map[string]any)
	if !ok {
		return nil
	}
	m, ok := obj["options"].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string][]Option, len(m))
	for k, v := range m {
		out[k] = ParseOptions(v)
	}
	return out
}
