package domain_test

import (
	"encoding/json"
	"errors"
	"testing"

	"nexus/internal/domain"
)

func TestNewColumn_ClampsWidth(t *testing.T) {
	for _, tc := range []struct{ in, want int }{{0, 1}, {-3, 1}, {7, 7}, {12, 12}, {40, 12}} {
		c := domain.NewColumn(tc.in)
		if c.Settings.Width != tc.want {
			t.Errorf("NewColumn(%d) width = %d, want %d", tc.in, c.Settings.Width, tc.want)
		}
	}
}

func TestNewSection_DefaultsAreValid(t *testing.T) {
	doc := domain.Document{Sections: []domain.Section{
		domain.NewSection(4, 8),
		domain.NewSection(),
	}}
	for _, wt := range domain.WidgetTypes {
		doc.Sections[0].Columns[0].Widgets = append(doc.Sections[0].Columns[0].Widgets, domain.NewWidget(wt))
	}
	if err := domain.Validate(doc); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}
	if len(doc.Sections[1].Columns) != 1 || doc.Sections[1].Columns[0].Settings.Width != 12 {
		t.Errorf("expected one full-width column, got %+v", doc.Sections[1].Columns)
	}
}

func TestValidate_Violations(t *testing.T) {
	sec := domain.NewSection(6)
	sec.Columns[0].Settings.Width = 13
	dup := sec.Columns[0].ID
	sec.Columns = append(sec.Columns, domain.Column{ID: dup, Settings: domain.ColumnSettings{Width: 3}})

	inner := domain.NewWidget(domain.WidgetSubsection)
	outer := domain.NewWidget(domain.WidgetSubsection)
	outer.Columns[0].Widgets = append(outer.Columns[0].Widgets, inner)
	sec.Columns[0].Widgets = append(sec.Columns[0].Widgets, outer, domain.Widget{ID: "w-x", Type: "bogus"})

	err := domain.Validate(domain.Document{Sections: []domain.Section{sec}})
	for _, want := range []error{domain.ErrInvalidWidth, domain.ErrDuplicateID, domain.ErrNestingDepth, domain.ErrUnknownWidget} {
		if !errors.Is(err, want) {
			t.Errorf("expected %v in %v", want, err)
		}
	}
}

func TestWidgetJSON_SubsectionColumnsLiveInSettings(t *testing.T) {
	w := domain.NewWidget(domain.WidgetSubsection)
	w.Columns[0].Widgets = append(w.Columns[0].Widgets, domain.NewWidget(domain.WidgetHeading))

	data, err := json.Marshal(w)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	settings := raw["settings"].(map[string]any)
	if _, ok := settings["subsectionColumns"]; !ok {
		t.Fatalf("subsectionColumns missing from settings: %s", data)
	}
	if raw["widgetType"] != "subsection" {
		t.Errorf("widgetType = %v", raw["widgetType"])
	}

	var back domain.Widget
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if len(back.Columns) != 2 || len(back.Columns[0].Widgets) != 1 {
		t.Fatalf("columns not restored: %+v", back.Columns)
	}
	if _, leaked := back.Settings["subsectionColumns"]; leaked {
		t.Error("subsectionColumns should not remain in the settings map")
	}
}

func TestWidgetJSON_KeepsUnknownSettings(t *testing.T) {
	src := `{"id":"w1","widgetType":"kpi","settings":{"title":"Sales","futureKey":{"a":1}}}`
	var w domain.Widget
	if err := json.Unmarshal([]byte(src), &w); err != nil {
		t.Fatal(err)
	}
	if _, ok := w.Settings["futureKey"]; !ok {
		t.Error("unknown key dropped")
	}
	var kpi domain.KPISettings
	if err := domain.DecodeSettings(w.Settings, &kpi); err != nil {
		t.Fatal(err)
	}
	if kpi.Title != "Sales" {
		t.Errorf("title = %q", kpi.Title)
	}
}

func TestDocumentJSON_AcceptsBareArray(t *testing.T) {
	src := `[{"id":"s1","settings":{"layout":"full"},"columns":[{"id":"c1","settings":{"width":12},"widgets":[]}]}]`
	var doc domain.Document
	if err := json.Unmarshal([]byte(src), &doc); err != nil {
		t.Fatal(err)
	}
	if len(doc.Sections) != 1 || doc.Sections[0].Settings.Layout != domain.LayoutFull {
		t.Fatalf("unexpected document %+v", doc)
	}
}

func TestClone_IsDeep(t *testing.T) {
	sec := domain.NewSection(12)
	w := domain.NewWidget(domain.WidgetTable)
	w.Settings["columns"] = []any{"a", "b"}
	sec.Columns[0].Widgets = append(sec.Columns[0].Widgets, w)
	doc := domain.Document{Sections: []domain.Section{sec}}

	cp := doc.Clone()
	cp.Sections[0].Columns[0].Widgets[0].Settings["columns"].([]any)[0] = "z"
	cp.Sections[0].Columns[0].Settings.Width = 3

	orig := doc.Sections[0].Columns[0]
	if orig.Widgets[0].Settings["columns"].([]any)[0] != "a" || orig.Settings.Width != 12 {
		t.Error("clone shares state with original")
	}
}
