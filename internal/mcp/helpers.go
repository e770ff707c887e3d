package mcpserver

import (
	"encoding/json"
	"fmt"
	"strings"

	"nexus/internal/domain"
	"nexus/internal/editor"
)

// parseJSON parses a JSON string into the target type.
func parseJSON(data string, target any) error {
	return json.Unmarshal([]byte(data), target)
}

// addressFrom reads a node address from tool args.
func addressFrom(args map[string]any) domain.Address {
	str := func(k string) string {
		v, _ := args[k].(string)
		return strings.TrimSpace(v)
	}
	return domain.Address{
		SectionID:     str("sectionId"),
		ColumnID:      str("columnId"),
		WidgetID:      str("widgetId"),
		InnerColumnID: str("innerColumnId"),
		InnerWidgetID: str("innerWidgetId"),
	}
}

// patchFrom decodes the "settings" argument: a JSON object string or an
// object already decoded by the transport.
func patchFrom(args map[string]any) (map[string]any, error) {
	switch v := args["settings"].(type) {
	case map[string]any:
		return v, nil
	case string:
		var patch map[string]any
		if err := parseJSON(v, &patch); err != nil {
			return nil, fmt.Errorf("settings must be a JSON object: %w", err)
		}
		return patch, nil
	case nil:
		return nil, fmt.Errorf("settings is required")
	}
	return nil, fmt.Errorf("settings must be a JSON object")
}

// widthsFrom parses "6,6" or "4, 8" into column widths. Empty means one full column.
func widthsFrom(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []int{domain.MaxColumnWidth}, nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		var w int
		if _, err := fmt.Sscanf(strings.TrimSpace(part), "%d", &w); err != nil {
			return nil, fmt.Errorf("invalid width %q", part)
		}
		out = append(out, w)
	}
	return out, nil
}

func directionFrom(args map[string]any) (editor.Direction, error) {
	s, _ := args["direction"].(string)
	dir, ok := editor.ParseDirection(strings.ToLower(s))
	if !ok {
		return dir, fmt.Errorf("direction must be up or down, got %q", s)
	}
	return dir, nil
}
