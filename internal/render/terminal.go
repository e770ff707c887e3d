package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	sectionStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	columnStyle  = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
	titleStyle   = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	valueStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
)

// Terminal renders a static text preview of a page node tree. Columns are
// laid out side by side with widths proportional to their 12-grid weight.
func Terminal(root *Node, width int) string {
	if width <= 0 {
		width = 100
	}
	var parts []string
	for _, s := range root.Children {
		parts = append(parts, terminalSection(s, width))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func terminalSection(s *Node, width int) string {
	inner := width - 4
	total := 0
	for _, c := range s.Children {
		total += intProp(c, "width", 12)
	}
	if total == 0 {
		return sectionStyle.Width(inner).Render(mutedStyle.Render("(empty section)"))
	}
	var cols []string
	for _, c := range s.Children {
		w := inner * intProp(c, "width", 12) / total
		cols = append(cols, terminalColumn(c, w))
	}
	return sectionStyle.Render(lipgloss.JoinHorizontal(lipgloss.Top, cols...))
}

func terminalColumn(c *Node, width int) string {
	inner := width - 4
	if inner < 8 {
		inner = 8
	}
	var lines []string
	for _, w := range c.Children {
		lines = append(lines, terminalWidget(w, inner))
	}
	if len(lines) == 0 {
		lines = append(lines, mutedStyle.Render("(empty)"))
	}
	return columnStyle.Width(inner).Render(strings.Join(lines, "\n"))
}

func terminalWidget(n *Node, width int) string {
	p := n.Props
	if status, _ := p["status"].(string); status == "loading" {
		return header(p) + mutedStyle.Render("loading…")
	} else if status == "error" {
		return header(p) + errorStyle.Render("error: "+fmt.Sprint(p["error"]))
	}

	switch n.Type {
	case "heading":
		return titleStyle.Render(fmt.Sprint(p["text"]))
	case "text":
		return fmt.Sprint(p["content"])
	case "divider":
		return strings.Repeat("─", width)
	case "spacer":
		return ""
	case "button":
		return "[ " + fmt.Sprint(p["label"]) + " ]"
	case "image":
		return mutedStyle.Render("🖼 " + fmt.Sprint(p["alt"]))
	case "kpi":
		return header(p) + valueStyle.Render(fmt.Sprint(p["value"]))
	case "table":
		return header(p) + terminalTable(p)
	case "chart":
		return header(p) + terminalChart(p, width)
	case "list":
		var b strings.Builder
		b.WriteString(header(p))
		if items, ok := p["items"].([]map[string]string); ok {
			for _, it := range items {
				fmt.Fprintf(&b, "• %s  %s\n", it["label"], mutedStyle.Render(it["value"]))
			}
		}
		return strings.TrimRight(b.String(), "\n")
	case "filters_header":
		return mutedStyle.Render("[filters]")
	case "input":
		return fmt.Sprintf("%s: ____ [%v]", p["label"], p["submitLabel"])
	case "html", "iframe":
		return mutedStyle.Render(fmt.Sprintf("[%s %vpx]", n.Type, p["height"]))
	case "subsection":
		var cols []string
		for _, c := range n.Children {
			cols = append(cols, terminalColumn(c, width/max(len(n.Children), 1)))
		}
		return lipgloss.JoinHorizontal(lipgloss.Top, cols...)
	}
	return mutedStyle.Render("[" + n.Type + "]")
}

func header(p map[string]any) string {
	if t, _ := p["title"].(string); t != "" {
		return titleStyle.Render(t) + "\n"
	}
	return ""
}

func terminalTable(p map[string]any) string {
	cols, _ := p["columns"].([]string)
	rows, _ := p["rows"].([][]string)
	if len(cols) == 0 {
		return mutedStyle.Render("(no data)")
	}
	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = lipgloss.Width(c)
	}
	for _, r := range rows {
		for i, cell := range r {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	pad := func(cells []string) string {
		out := make([]string, len(cells))
		for i, c := range cells {
			out[i] = c + strings.Repeat(" ", widths[i]-lipgloss.Width(c))
		}
		return strings.Join(out, " │ ")
	}
	lines := []string{titleStyle.Render(pad(cols))}
	for _, r := range rows {
		lines = append(lines, pad(r))
	}
	return strings.Join(lines, "\n")
}

func terminalChart(p map[string]any, width int) string {
	points, _ := p["points"].([]point)
	if len(points) == 0 {
		return mutedStyle.Render("(no data)")
	}
	maxV := 0.0
	labelW := 0
	for _, pt := range points {
		if pt.Value > maxV {
			maxV = pt.Value
		}
		labelW = max(labelW, lipgloss.Width(pt.Label))
	}
	barW := width - labelW - 12
	if barW < 4 {
		barW = 4
	}
	var lines []string
	for _, pt := range points {
		n := 0
		if maxV > 0 && pt.Value > 0 {
			n = int(pt.Value / maxV * float64(barW))
		}
		lines = append(lines, fmt.Sprintf("%-*s %s %g", labelW, pt.Label, valueStyle.Render(strings.Repeat("█", n)), pt.Value))
	}
	return strings.Join(lines, "\n")
}

func intProp(n *Node, key string, def int) int {
	switch v := n.Props[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}
