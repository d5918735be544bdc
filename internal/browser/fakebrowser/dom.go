package fakebrowser

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

func isElement(n *html.Node, tag string) bool {
	return n.Type == html.ElementNode && n.Data == tag
}

func isFormControl(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.Input, atom.Textarea, atom.Select:
		return true
	}
	return false
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, name string) bool {
	for _, a := range n.Attr {
		if a.Key == name {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, name, value string) {
	for i, a := range n.Attr {
		if a.Key == name {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

func findAll(root *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		// Template contents are inert and never part of the rendered tree.
		if isElement(n, "template") {
			return
		}
		if match(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func hidden(n *html.Node) bool {
	for ; n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		if hasAttr(n, "hidden") || attr(n, "type") == "hidden" {
			return true
		}
		style := strings.ReplaceAll(attr(n, "style"), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return true
		}
	}
	return false
}

// actionable mirrors the visible, enabled and editable checks run before a fill.
func actionable(n *html.Node) bool {
	if hidden(n) || hasAttr(n, "disabled") {
		return false
	}
	if isFormControl(n) && hasAttr(n, "readonly") {
		return false
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if isElement(p, "fieldset") && hasAttr(p, "disabled") {
			return false
		}
	}
	return true
}

// byLabel finds controls whose label text or aria-label equals text exactly.
func byLabel(doc *html.Node, text string) []*html.Node {
	var out []*html.Node
	seen := make(map[*html.Node]bool)
	add := func(n *html.Node) {
		if n != nil && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	for _, label := range findAll(doc, func(n *html.Node) bool { return isElement(n, "label") }) {
		if textContent(label) != text {
			continue
		}
		if id := attr(label, "for"); id != "" {
			matches := findAll(doc, func(n *html.Node) bool { return isFormControl(n) && attr(n, "id") == id })
			if len(matches) > 0 {
				add(matches[0])
			}
			continue
		}
		if nested := findAll(label, isFormControl); len(nested) > 0 {
			add(nested[0])
		}
	}
	for _, n := range findAll(doc, isFormControl) {
		if strings.TrimSpace(attr(n, "aria-label")) == text {
			add(n)
		}
	}
	return out
}

// implicitRole covers the handful of roles the harness addresses.
func implicitRole(n *html.Node) string {
	switch n.DataAtom {
	case atom.Button:
		return "button"
	case atom.Form:
		return "form"
	case atom.Textarea:
		return "textbox"
	case atom.A:
		if hasAttr(n, "href") {
			return "link"
		}
	case atom.Input:
		switch strings.ToLower(attr(n, "type")) {
		case "", "text", "email", "tel", "url", "search":
			return "textbox"
		case "submit", "button", "reset":
			return "button"
		case "checkbox":
			return "checkbox"
		}
	}
	return ""
}

func hasRole(n *html.Node, role string) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if explicit := attr(n, "role"); explicit != "" {
		return explicit == role
	}
	return implicitRole(n) == role
}

func accessibleName(doc *html.Node, n *html.Node) string {
	if v := strings.TrimSpace(attr(n, "aria-label")); v != "" {
		return v
	}
	if isFormControl(n) {
		if id := attr(n, "id"); id != "" {
			labels := findAll(doc, func(l *html.Node) bool { return isElement(l, "label") && attr(l, "for") == id })
			if len(labels) > 0 {
				return textContent(labels[0])
			}
		}
		if n.DataAtom == atom.Input {
			return strings.TrimSpace(attr(n, "value"))
		}
	}
	return textContent(n)
}
