package editor

import (
	"encoding/json"

	"nexus/internal/domain"
)

// ── Tree Mutation Engine ───────────────────────────────────
// Every operation takes a Document value and returns a new one. The input is
// never modified: each call deep-clones first and mutates the clone. When an
// address does not resolve, the input is returned unchanged.

// AddSection appends a section with one column per width.
func AddSection(doc domain.Document, widths ...int) domain.Document {
	out := doc.Clone()
	out.Sections = append(out.Sections, domain.NewSection(widths...))
	return out
}

// AddColumn appends a column to a section, or to a subsection when
// addr.WidgetID names one.
func AddColumn(doc domain.Document, addr domain.Address, width int) domain.Document {
	out := doc.Clone()
	cols := columnList(&out, addr)
	if cols == nil {
		return doc
	}
	*cols = append(*cols, domain.NewColumn(width))
	return out
}

// AddWidget appends a new widget of type t to the addressed column. A
// subsection cannot be added inside another subsection.
func AddWidget(doc domain.Document, addr domain.Address, t domain.WidgetType) domain.Document {
	if !t.Valid() {
		return doc
	}
	if addr.InnerColumnID != "" && t == domain.WidgetSubsection {
		return doc
	}
	out := doc.Clone()
	col := column(&out, addr)
	if col == nil {
		return doc
	}
	col.Widgets = append(col.Widgets, domain.NewWidget(t))
	return out
}

// InsertWidget appends an existing widget (e.g. from a template) to the
// addressed column, regenerating its ids.
func InsertWidget(doc domain.Document, addr domain.Address, w domain.Widget) domain.Document {
	if addr.InnerColumnID != "" && w.Type == domain.WidgetSubsection {
		return doc
	}
	out := doc.Clone()
	col := column(&out, addr)
	if col == nil {
		return doc
	}
	col.Widgets = append(col.Widgets, regenerate(w.Clone()))
	return out
}

// UpdateSectionSettings shallow-merges patch into the section settings.
func UpdateSectionSettings(doc domain.Document, addr domain.Address, patch map[string]any) domain.Document {
	out := doc.Clone()
	si := sectionIndex(&out, addr.SectionID)
	if si < 0 {
		return doc
	}
	var next domain.SectionSettings
	if err := mergeStruct(out.Sections[si].Settings, patch, &next); err != nil {
		return doc
	}
	out.Sections[si].Settings = next
	return out
}

// UpdateColumnSettings shallow-merges patch into the column settings. The
// resulting width is clamped into [1,12].
func UpdateColumnSettings(doc domain.Document, addr domain.Address, patch map[string]any) domain.Document {
	out := doc.Clone()
	col := column(&out, addr)
	if col == nil {
		return doc
	}
	var next domain.ColumnSettings
	if err := mergeStruct(col.Settings, patch, &next); err != nil {
		return doc
	}
	next.Width = domain.ClampWidth(next.Width)
	col.Settings = next
	return out
}

// UpdateWidgetSettings shallow-merges patch into the widget settings. The
// widget type and nested subsection columns are never touched.
func UpdateWidgetSettings(doc domain.Document, addr domain.Address, patch map[string]any) domain.Document {
	out := doc.Clone()
	slot, i := widgetSlot(&out, addr)
	if slot == nil {
		return doc
	}
	w := &(*slot)[i]
	if w.Settings == nil {
		w.Settings = domain.Settings{}
	}
	for k, v := range patch {
		switch k {
		case "subsectionColumns", "widgetType":
			continue
		}
		w.Settings[k] = domain.CloneValue(v)
	}
	return out
}

// DeleteSection removes a section and everything under it.
func DeleteSection(doc domain.Document, addr domain.Address) domain.Document {
	out := doc.Clone()
	si := sectionIndex(&out, addr.SectionID)
	if si < 0 {
		return doc
	}
	out.Sections = append(out.Sections[:si], out.Sections[si+1:]...)
	return out
}

// DeleteColumn removes a column (section column, or inner column when
// addr.InnerColumnID is set) and its widgets.
func DeleteColumn(doc domain.Document, addr domain.Address) domain.Document {
	out := doc.Clone()
	cols, id := columnsFor(&out, addr)
	if cols == nil {
		return doc
	}
	ci := columnIndex(*cols, id)
	if ci < 0 {
		return doc
	}
	*cols = append((*cols)[:ci], (*cols)[ci+1:]...)
	return out
}

// DeleteWidget removes a widget and, for subsections, all nested nodes.
func DeleteWidget(doc domain.Document, addr domain.Address) domain.Document {
	out := doc.Clone()
	slot, i := widgetSlot(&out, addr)
	if slot == nil {
		return doc
	}
	*slot = append((*slot)[:i], (*slot)[i+1:]...)
	return out
}

// MoveSection swaps a section with its neighbour. No-op at the boundary.
func MoveSection(doc domain.Document, sectionID string, dir Direction) domain.Document {
	out := doc.Clone()
	si := sectionIndex(&out, sectionID)
	if si < 0 {
		return doc
	}
	if !swap(len(out.Sections), si, dir, func(a, b int) {
		out.Sections[a], out.Sections[b] = out.Sections[b], out.Sections[a]
	}) {
		return doc
	}
	return out
}

// MoveColumn swaps a column with its neighbour.
func MoveColumn(doc domain.Document, addr domain.Address, dir Direction) domain.Document {
	out := doc.Clone()
	cols, id := columnsFor(&out, addr)
	if cols == nil {
		return doc
	}
	ci := columnIndex(*cols, id)
	if ci < 0 {
		return doc
	}
	c := *cols
	if !swap(len(c), ci, dir, func(a, b int) { c[a], c[b] = c[b], c[a] }) {
		return doc
	}
	return out
}

// MoveWidget swaps a widget with its neighbour inside the same column.
func MoveWidget(doc domain.Document, addr domain.Address, dir Direction) domain.Document {
	out := doc.Clone()
	slot, i := widgetSlot(&out, addr)
	if slot == nil {
		return doc
	}
	ws := *slot
	if !swap(len(ws), i, dir, func(a, b int) { ws[a], ws[b] = ws[b], ws[a] }) {
		return doc
	}
	return out
}

// DuplicateWidget deep-clones the addressed widget with fresh ids for the
// whole subtree and inserts the copy right after the original.
func DuplicateWidget(doc domain.Document, addr domain.Address) domain.Document {
	out := doc.Clone()
	slot, i := widgetSlot(&out, addr)
	if slot == nil {
		return doc
	}
	dup := regenerate((*slot)[i].Clone())
	ws := append([]domain.Widget{}, (*slot)[:i+1]...)
	ws = append(ws, dup)
	ws = append(ws, (*slot)[i+1:]...)
	*slot = ws
	return out
}

// ── helpers ────────────────────────────────────────────────

func swap(n, i int, dir Direction, do func(a, b int)) bool {
	j := i - 1
	if dir == Down {
		j = i + 1
	}
	if j < 0 || j >= n {
		return false
	}
	do(i, j)
	return true
}

// columnsFor returns the sibling list and id for a column address.
func columnsFor(doc *domain.Document, addr domain.Address) (*[]domain.Column, string) {
	if addr.InnerColumnID != "" {
		host := subsection(doc, addr)
		if host == nil {
			return nil, ""
		}
		return &host.Columns, addr.InnerColumnID
	}
	si := sectionIndex(doc, addr.SectionID)
	if si < 0 {
		return nil, ""
	}
	return &doc.Sections[si].Columns, addr.ColumnID
}

// regenerate assigns fresh ids to w and every nested column/widget.
func regenerate(w domain.Widget) domain.Widget {
	w.ID = domain.NewID()
	for ci := range w.Columns {
		w.Columns[ci].ID = domain.NewID()
		for wi := range w.Columns[ci].Widgets {
			w.Columns[ci].Widgets[wi] = regenerate(w.Columns[ci].Widgets[wi])
		}
	}
	return w
}

// mergeStruct overlays patch onto the JSON form of cur and decodes into out.
func mergeStruct(cur any, patch map[string]any, out any) error {
	data, err := json.Marshal(cur)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	for k, v := range patch {
		m[k] = v
	}
	data, err = json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
