package embed

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTMLOptions controls how user markup is prepared for its frame.
type HTMLOptions struct {
	WidgetID     string
	AllowScripts bool
	AutoHeight   bool
	Theme        *Theme
}

// PrepareHTML turns user-authored markup into a standalone document for a
// sandboxed frame. Unless scripts are allowed, <script> elements, inline
// on* handlers and javascript: URLs are removed. The theme is applied as CSS
// variables; with scripts allowed, a theme listener and a height reporter are
// injected as well.
func PrepareHTML(markup string, opts HTMLOptions) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	if !opts.AllowScripts {
		doc.Find("script").Remove()
		doc.Find("*").Each(func(_ int, s *goquery.Selection) {
			node := s.Get(0)
			var drop []string
			for _, a := range node.Attr {
				name := strings.ToLower(a.Key)
				if strings.HasPrefix(name, "on") {
					drop = append(drop, a.Key)
					continue
				}
				if (name == "href" || name == "src" || name == "action") &&
					strings.HasPrefix(strings.ToLower(strings.TrimSpace(a.Val)), "javascript:") {
					drop = append(drop, a.Key)
				}
			}
			for _, k := range drop {
				s.RemoveAttr(k)
			}
		})
	}

	head := doc.Find("head")
	if opts.Theme != nil {
		head.AppendHtml(themeStyle(*opts.Theme))
	}
	if opts.AllowScripts {
		head.AppendHtml(themeListener)
		if opts.AutoHeight && opts.WidgetID != "" {
			id, _ := json.Marshal(opts.WidgetID)
			doc.Find("body").AppendHtml(fmt.Sprintf(heightReporter, id, TypeHeight))
		}
	}

	out, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return out, nil
}

var cssUnsafe = strings.NewReplacer("<", "", ">", "", "{", "", "}", "", ";", "", "\n", " ")

func themeStyle(t Theme) string {
	keys := make([]string, 0, len(t.Vars))
	for k := range t.Vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(`<style data-nexus-theme>:root{`)
	for _, k := range keys {
		name := cssUnsafe.Replace(strings.TrimSpace(k))
		if name == "" {
			continue
		}
		if !strings.HasPrefix(name, "--") {
			name = "--" + name
		}
		fmt.Fprintf(&b, "%s:%s;", name, cssUnsafe.Replace(t.Vars[k]))
	}
	if t.FontFamily != "" {
		fmt.Fprintf(&b, "font-family:%s;", cssUnsafe.Replace(t.FontFamily))
	}
	b.WriteString(`}</style>`)
	return b.String()
}

const themeListener = `<script data-nexus-theme>window.addEventListener("message",function(e){var d=e.data;if(!d||d.type!=="nexus-theme")return;var r=document.documentElement;if(d.theme)r.setAttribute("data-theme",d.theme);var v=d.vars||{};for(var k in v){r.style.setProperty(k.indexOf("--")===0?k:"--"+k,v[k]);}if(d.fontFamily)r.style.fontFamily=d.fontFamily;});</script>`

const heightReporter = `<script data-nexus-height>(function(){var id=%s;function send(){parent.postMessage({type:%q,widgetId:id,height:document.documentElement.scrollHeight},"*");}if(window.ResizeObserver){new ResizeObserver(send).observe(document.body);}window.addEventListener("load",send);send();})();</script>`
