package editor

import "nexus/internal/domain"

// Direction moves a node towards the start (Up) or end (Down) of its siblings.
type Direction int

const (
	Up Direction = iota
	Down
)

func ParseDirection(s string) (Direction, bool) {
	switch s {
	case "up", "left", "previous":
		return Up, true
	case "down", "right", "next":
		return Down, true
	}
	return Up, false
}

// ── Locators ───────────────────────────────────────────────
// Locators operate on a document the caller already owns (a clone), and
// return pointers into it so mutations stay local to that copy.

func sectionIndex(doc *domain.Document, id string) int {
	for i := range doc.Sections {
		if doc.Sections[i].ID == id {
			return i
		}
	}
	return -1
}

func columnIndex(cols []domain.Column, id string) int {
	for i := range cols {
		if cols[i].ID == id {
			return i
		}
	}
	return -1
}

func widgetIndex(ws []domain.Widget, id string) int {
	for i := range ws {
		if ws[i].ID == id {
			return i
		}
	}
	return -1
}

// columnList returns the sibling column slice an address points into:
// the section's columns, or a subsection's inner columns when the address
// names a subsection widget.
func columnList(doc *domain.Document, addr domain.Address) *[]domain.Column {
	si := sectionIndex(doc, addr.SectionID)
	if si < 0 {
		return nil
	}
	if addr.WidgetID == "" {
		return &doc.Sections[si].Columns
	}
	host := subsection(doc, addr)
	if host == nil {
		return nil
	}
	return &host.Columns
}

// subsection resolves addr.SectionID/ColumnID/WidgetID to a subsection widget.
func subsection(doc *domain.Document, addr domain.Address) *domain.Widget {
	si := sectionIndex(doc, addr.SectionID)
	if si < 0 {
		return nil
	}
	cols := doc.Sections[si].Columns
	ci := columnIndex(cols, addr.ColumnID)
	if ci < 0 {
		return nil
	}
	wi := widgetIndex(cols[ci].Widgets, addr.WidgetID)
	if wi < 0 || cols[ci].Widgets[wi].Type != domain.WidgetSubsection {
		return nil
	}
	return &cols[ci].Widgets[wi]
}

// column resolves the column an address points at. With InnerColumnID the
// column lives inside the subsection named by WidgetID.
func column(doc *domain.Document, addr domain.Address) *domain.Column {
	if addr.InnerColumnID != "" {
		host := subsection(doc, addr)
		if host == nil {
			return nil
		}
		ci := columnIndex(host.Columns, addr.InnerColumnID)
		if ci < 0 {
			return nil
		}
		return &host.Columns[ci]
	}
	si := sectionIndex(doc, addr.SectionID)
	if si < 0 {
		return nil
	}
	ci := columnIndex(doc.Sections[si].Columns, addr.ColumnID)
	if ci < 0 {
		return nil
	}
	return &doc.Sections[si].Columns[ci]
}

// widgetSlot resolves the widget slice holding the addressed widget and its index.
func widgetSlot(doc *domain.Document, addr domain.Address) (*[]domain.Widget, int) {
	col := column(doc, addr)
	if col == nil {
		return nil, -1
	}
	id := addr.WidgetID
	if addr.InnerColumnID != "" {
		id = addr.InnerWidgetID
	}
	i := widgetIndex(col.Widgets, id)
	if i < 0 {
		return nil, -1
	}
	return &col.Widgets, i
}

// Find returns a copy of the addressed widget.
func Find(doc domain.Document, addr domain.Address) (domain.Widget, bool) {
	slot, i := widgetSlot(&doc, addr)
	if slot == nil {
		return domain.Widget{}, false
	}
	return (*slot)[i].Clone(), true
}

// Locate finds a widget by id anywhere in the document and returns its address.
func Locate(doc domain.Document, widgetID string) (domain.Address, bool) {
	for _, s := range doc.Sections {
		for _, c := range s.Columns {
			for _, w := range c.Widgets {
				if w.ID == widgetID {
					return domain.Address{SectionID: s.ID, ColumnID: c.ID, WidgetID: w.ID}, true
				}
				for _, ic := range w.Columns {
					for _, iw := range ic.Widgets {
						if iw.ID == widgetID {
							return domain.Address{
								SectionID: s.ID, ColumnID: c.ID, WidgetID: w.ID,
								InnerColumnID: ic.ID, InnerWidgetID: iw.ID,
							}, true
						}
					}
				}
			}
		}
	}
	return domain.Address{}, false
}
