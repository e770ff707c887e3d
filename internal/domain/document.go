package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ── Layout tree ────────────────────────────────────────────
// Document → Section → Column → Widget. The subsection widget hosts
// its own ordered Column list, which makes the tree recursive one level deep.

type SectionLayout string

const (
	LayoutBoxed SectionLayout = "boxed"
	LayoutFull  SectionLayout = "full"
)

// Spacing is used for section gap/padding and column padding.
type Spacing string

const (
	SpacingNone Spacing = "none"
	SpacingSm   Spacing = "sm"
	SpacingMd   Spacing = "md"
	SpacingLg   Spacing = "lg"
)

type VerticalAlign string

const (
	AlignStart  VerticalAlign = "start"
	AlignCenter VerticalAlign = "center"
	AlignEnd    VerticalAlign = "end"
)

type Flow string

const (
	FlowStack Flow = "stack"
	FlowRow   Flow = "row"
)

const (
	MinColumnWidth = 1
	MaxColumnWidth = 12
)

// Document is the full layout tree of one page. It is persisted and replaced
// wholesale; there is no partial persistence.
type Document struct {
	Sections []Section `json:"sections"`
}

// UnmarshalJSON accepts both {"sections":[...]} and a bare array of sections.
func (d *Document) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var sections []Section
		if err := json.Unmarshal(trimmed, &sections); err != nil {
			return fmt.Errorf("decode sections: %w", err)
		}
		d.Sections = sections
		return nil
	}
	type plain Document
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return err
	}
	*d = Document(p)
	return nil
}

type SectionSettings struct {
	Layout  SectionLayout `json:"layout"`
	Gap     Spacing       `json:"gap"`
	Padding Spacing       `json:"padding"`
}

type Section struct {
	ID       string          `json:"id"`
	Settings SectionSettings `json:"settings"`
	Columns  []Column        `json:"columns"`
}

// ColumnSettings.Width is a flex weight, not a percentage; widths of sibling
// columns are independent.
type ColumnSettings struct {
	Width         int           `json:"width"`
	VerticalAlign VerticalAlign `json:"verticalAlign"`
	Padding       Spacing       `json:"padding"`
	Flow          Flow          `json:"flow"`
	FullHeight    bool          `json:"fullHeight"`
}

type Column struct {
	ID       string         `json:"id"`
	Settings ColumnSettings `json:"settings"`
	Widgets  []Widget       `json:"widgets"`
}

// Widget is one node of the closed variant set. Columns is only populated for
// subsection widgets and is serialized as settings.subsectionColumns.
type Widget struct {
	ID       string
	Type     WidgetType
	Settings Settings
	Columns  []Column
}

type widgetJSON struct {
	ID       string     `json:"id"`
	Type     WidgetType `json:"widgetType"`
	Settings Settings   `json:"settings"`
}

const subsectionColumnsKey = "subsectionColumns"

func (w Widget) MarshalJSON() ([]byte, error) {
	settings := w.Settings.Clone()
	if settings == nil {
		settings = Settings{}
	}
	if w.Type == WidgetSubsection {
		cols := w.Columns
		if cols == nil {
			cols = []Column{}
		}
		settings[subsectionColumnsKey] = cols
	}
	return json.Marshal(widgetJSON{ID: w.ID, Type: w.Type, Settings: settings})
}

func (w *Widget) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID       string                     `json:"id"`
		Type     WidgetType                 `json:"widgetType"`
		Settings map[string]json.RawMessage `json:"settings"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	w.ID = raw.ID
	w.Type = raw.Type
	w.Settings = Settings{}
	w.Columns = nil
	for k, v := range raw.Settings {
		if k == subsectionColumnsKey {
			if raw.Type != WidgetSubsection {
				continue
			}
			if err := json.Unmarshal(v, &w.Columns); err != nil {
				return fmt.Errorf("decode subsection columns of %s: %w", raw.ID, err)
			}
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("decode setting %q of %s: %w", k, raw.ID, err)
		}
		w.Settings[k] = val
	}
	return nil
}

// Address identifies a node for selection and mutation. It is computed per
// editor session and never persisted. When InnerColumnID is set, WidgetID names
// the hosting subsection and InnerWidgetID names a widget in that inner column.
type Address struct {
	SectionID     string `json:"sectionId"`
	ColumnID      string `json:"columnId,omitempty"`
	WidgetID      string `json:"widgetId,omitempty"`
	InnerColumnID string `json:"innerColumnId,omitempty"`
	InnerWidgetID string `json:"innerWidgetId,omitempty"`
}

// Clone returns a deep copy that shares no maps or slices with d.
func (d Document) Clone() Document {
	out := Document{Sections: make([]Section, len(d.Sections))}
	for i, s := range d.Sections {
		out.Sections[i] = s.Clone()
	}
	return out
}

func (s Section) Clone() Section {
	out := s
	out.Columns = cloneColumns(s.Columns)
	return out
}

func (c Column) Clone() Column {
	out := c
	if c.Widgets != nil {
		out.Widgets = make([]Widget, len(c.Widgets))
		for i, w := range c.Widgets {
			out.Widgets[i] = w.Clone()
		}
	}
	return out
}

func (w Widget) Clone() Widget {
	out := w
	out.Settings = w.Settings.Clone()
	out.Columns = cloneColumns(w.Columns)
	return out
}

func cloneColumns(cols []Column) []Column {
	if cols == nil {
		return nil
	}
	out := make([]Column, len(cols))
	for i, c := range cols {
		out[i] = c.Clone()
	}
	return out
}

// Walk visits every widget in document order, including widgets nested in
// subsection columns. depth is 0 for top-level widgets.
func (d Document) Walk(fn func(w Widget, depth int)) {
	for _, s := range d.Sections {
		walkColumns(s.Columns, 0, fn)
	}
}

func walkColumns(cols []Column, depth int, fn func(Widget, int)) {
	for _, c := range cols {
		for _, w := range c.Widgets {
			fn(w, depth)
			if w.Type == WidgetSubsection {
				walkColumns(w.Columns, depth+1, fn)
			}
		}
	}
}

// IDs returns every node id in the document (sections, columns, widgets).
func (d Document) IDs() []string {
	var ids []string
	var cols func([]Column)
	cols = func(cs []Column) {
		for _, c := range cs {
			ids = append(ids, c.ID)
			for _, w := range c.Widgets {
				ids = append(ids, w.ID)
				cols(w.Columns)
			}
		}
	}
	for _, s := range d.Sections {
		ids = append(ids, s.ID)
		cols(s.Columns)
	}
	return ids
}
