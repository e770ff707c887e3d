package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicateID   = errors.New("duplicate id")
	ErrInvalidWidth  = errors.New("column width out of range")
	ErrUnknownWidget = errors.New("unknown widget type")
	ErrNestingDepth  = errors.New("subsection nested too deep")
)

// MaxSubsectionDepth caps nesting: a subsection may not host another subsection.
const MaxSubsectionDepth = 1

// Validate checks the document invariants and returns every violation joined.
func Validate(doc Document) error {
	var errs []error
	seen := make(map[string]bool)
	check := func(kind, id string) {
		if id == "" {
			errs = append(errs, fmt.Errorf("%s with empty id", kind))
			return
		}
		if seen[id] {
			errs = append(errs, fmt.Errorf("%w: %s %s", ErrDuplicateID, kind, id))
		}
		seen[id] = true
	}

	var columns func(cols []Column, depth int)
	columns = func(cols []Column, depth int) {
		for _, c := range cols {
			check("column", c.ID)
			if c.Settings.Width < MinColumnWidth || c.Settings.Width > MaxColumnWidth {
				errs = append(errs, fmt.Errorf("%w: column %s width %d", ErrInvalidWidth, c.ID, c.Settings.Width))
			}
			for _, w := range c.Widgets {
				check("widget", w.ID)
				if !w.Type.Valid() {
					errs = append(errs, fmt.Errorf("%w: %q (widget %s)", ErrUnknownWidget, w.Type, w.ID))
				}
				if w.Type == WidgetSubsection {
					if depth+1 > MaxSubsectionDepth {
						errs = append(errs, fmt.Errorf("%w: widget %s", ErrNestingDepth, w.ID))
					}
					columns(w.Columns, depth+1)
				}
			}
		}
	}

	for _, s := range doc.Sections {
		check("section", s.ID)
		columns(s.Columns, 0)
	}
	return errors.Join(errs...)
}
