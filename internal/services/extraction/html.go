package extraction

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// document is a parsed HTML body with its rows pre-flattened to cell text.
type document struct {
	rows [][]string
	text string
}

func parseHTML(body string) *document {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	root, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil
	}
	d := &document{}
	var sb strings.Builder
	d.walk(root, &sb)
	d.text = collapseLines(sb.String())
	return d
}

func (d *document) walk(n *html.Node, sb *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Head, atom.Title:
			return
		case atom.Tr:
			d.rows = append(d.rows, rowCells(n))
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		d.walk(c, sb)
	}
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Td, atom.Th:
			sb.WriteByte(' ')
		case atom.Br, atom.P, atom.Div, atom.Tr, atom.Li, atom.Table,
			atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
			sb.WriteByte('\n')
		}
	}
}

func rowCells(tr *html.Node) []string {
	var cells []string
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.DataAtom == atom.Td || c.DataAtom == atom.Th) {
			cells = append(cells, cleanValue(nodeText(c)))
		}
	}
	return cells
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// lookupLabel finds the value cell that follows a label cell in any table
// row. Separator cells holding only ":" are skipped. A single cell of the
// form "Label: value" also matches.
func (d *document) lookupLabel(label string) string {
	if d == nil || label == "" {
		return ""
	}
	want := normalizeLabel(label)
	for _, cells := range d.rows {
		for i, cell := range cells {
			if normalizeLabel(cell) == want {
				for _, next := range cells[i+1:] {
					if v := strings.TrimSpace(strings.Trim(next, ":")); v != "" {
						return v
					}
				}
				continue
			}
			if v := labelLine(cell, label); v != "" {
				return v
			}
		}
	}
	return ""
}

func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSpace(strings.TrimRight(s, ": "))
	return strings.Join(strings.Fields(s), " ")
}

// labelLine returns the value of the first "Label: value" line in text.
func labelLine(text, label string) string {
	re := labelLineRegexp(label)
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return cleanValue(m[1])
}

func labelLineRegexp(label string) *regexp.Regexp {
	words := strings.Fields(regexp.QuoteMeta(label))
	return regexp.MustCompile(`(?im)^[ \t]*` + strings.Join(words, `\s+`) + `[ \t]*:[ \t:]*(\S.*?)[ \t]*$`)
}

var (
	tagRe   = regexp.MustCompile(`<[^>]*>`)
	spaceRe = regexp.MustCompile(`[ \t\f\v\x{00A0}]+`)
)

// cleanValue strips markup and entities and collapses whitespace.
func cleanValue(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

func collapseLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.TrimSpace(spaceRe.ReplaceAllString(l, " "))
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
