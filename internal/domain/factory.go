package domain

import "github.com/google/uuid"

// NewID returns a fresh node id.
func NewID() string {
	return uuid.New().String()
}

// NewSection creates a section with one column per width. With no widths the
// section starts with a single full-width column.
func NewSection(widths ...int) Section {
	if len(widths) == 0 {
		widths = []int{MaxColumnWidth}
	}
	s := Section{
		ID: NewID(),
		Settings: SectionSettings{
			Layout:  LayoutBoxed,
			Gap:     SpacingMd,
			Padding: SpacingMd,
		},
		Columns: make([]Column, 0, len(widths)),
	}
	for _, w := range widths {
		s.Columns = append(s.Columns, NewColumn(w))
	}
	return s
}

// NewColumn creates an empty column. The width is clamped into [1,12].
func NewColumn(width int) Column {
	return Column{
		ID: NewID(),
		Settings: ColumnSettings{
			Width:         ClampWidth(width),
			VerticalAlign: AlignStart,
			Padding:       SpacingNone,
			Flow:          FlowStack,
		},
		Widgets: []Widget{},
	}
}

func ClampWidth(width int) int {
	if width < MinColumnWidth {
		return MinColumnWidth
	}
	if width > MaxColumnWidth {
		return MaxColumnWidth
	}
	return width
}

// NewWidget creates a widget of the given variant with its default settings.
func NewWidget(t WidgetType) Widget {
	w := Widget{ID: NewID(), Type: t, Settings: DefaultSettings(t)}
	if t == WidgetSubsection {
		w.Columns = []Column{NewColumn(6), NewColumn(6)}
	}
	return w
}

// DefaultSettings returns the palette defaults for a variant.
func DefaultSettings(t WidgetType) Settings {
	switch t {
	case WidgetHeading:
		return Settings{"text": "Heading", "level": 2.0, "align": "left"}
	case WidgetText:
		return Settings{"content": "", "align": "left"}
	case WidgetImage:
		return Settings{"src": "", "alt": "", "fit": "cover"}
	case WidgetButton:
		return Settings{"label": "Button", "href": "", "variant": "primary"}
	case WidgetDivider:
		return Settings{}
	case WidgetSpacer:
		return Settings{"size": string(SpacingMd)}
	case WidgetTable:
		return Settings{"title": "", "dataUrl": "", "refreshInterval": 0.0, "columns": []any{}, "data": []any{}}
	case WidgetKPI:
		return Settings{
			"title": "KPI", "dataUrl": "", "refreshInterval": 0.0,
			"valueField": "", "aggregation": string(AggCount), "format": string(FormatNumber),
		}
	case WidgetChart:
		return Settings{
			"title": "", "dataUrl": "", "refreshInterval": 0.0,
			"chartType": "bar", "labelField": "label", "valueField": "value",
		}
	case WidgetList:
		return Settings{"title": "", "dataUrl": "", "labelField": "label", "valueField": "value"}
	case WidgetFiltersHeader:
		return Settings{
			"endpoint": "", "fields": []any{}, "showPeriod": true, "defaultPreset": "today",
			"autoApply": false, "debounceMs": 350.0, "optionsFallback": "field",
		}
	case WidgetInput:
		return Settings{"label": "", "fieldName": "value", "inputType": "text", "submitUrl": "", "submitLabel": "Send"}
	case WidgetHTML:
		return Settings{"html": "", "allowScripts": false, "injectTheme": true, "autoHeight": true}
	case WidgetIframe:
		return Settings{"url": "", "height": 400.0, "autoHeight": false, "injectTheme": false}
	case WidgetSubsection:
		return Settings{"title": "", "gap": string(SpacingMd)}
	}
	return Settings{}
}
