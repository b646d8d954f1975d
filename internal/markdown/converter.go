// Package markdown converts wiki storage HTML into deterministic Markdown.
// The converter handles the structural subset the chunker consumes: headings,
// paragraphs, inline formatting, links, ordered and unordered lists, tables,
// and fenced code blocks. Wiki macros are stripped or reduced to readable
// substitutes before structural conversion.
package markdown

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Convert renders HTML as Markdown. Unknown elements contribute their text
// content; nothing is ever an error — malformed input degrades to plain text.
func Convert(rawHTML string) string {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return strings.TrimSpace(rawHTML)
	}

	c := &converter{}
	c.walk(doc)
	return normalizeBlankLines(c.out.String())
}

type converter struct {
	out       strings.Builder
	listStack []listState
}

type listState struct {
	ordered bool
	counter int
}

func (c *converter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		c.writeText(n.Data)
		return
	case html.ElementNode:
		if c.element(n) {
			return
		}
	case html.CommentNode, html.DoctypeNode:
		return
	case html.DocumentNode, html.ErrorNode, html.RawNode:
		// Fall through to children.
	}

	c.walkChildren(n)
}

func (c *converter) walkChildren(n *html.Node) {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.walk(child)
	}
}

// element handles one HTML element, returning true when the node (and its
// children) have been fully consumed.
func (c *converter) element(n *html.Node) bool {
	// Confluence macro namespace: code macros become fences, structural
	// macros contribute their plain text, layout macros vanish.
	if strings.HasPrefix(n.Data, "ac:") || strings.HasPrefix(n.Data, "ri:") {
		c.macro(n)
		return true
	}

	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Head, atom.Iframe, atom.Noscript:
		return true

	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		level := int(n.Data[1] - '0')
		c.blockBreak()
		c.out.WriteString(strings.Repeat("#", level) + " " + collapseSpace(textContent(n)) + "\n\n")
		return true

	case atom.P, atom.Div, atom.Section, atom.Article, atom.Blockquote:
		c.blockBreak()
		c.walkChildren(n)
		c.out.WriteString("\n\n")
		return true

	case atom.Br:
		c.out.WriteString("\n")
		return true

	case atom.Hr:
		c.blockBreak()
		c.out.WriteString("---\n\n")
		return true

	case atom.Strong, atom.B:
		c.inlineWrap(n, "**")
		return true

	case atom.Em, atom.I:
		c.inlineWrap(n, "*")
		return true

	case atom.Code:
		// Inline only; code under <pre> is handled by the pre case.
		if n.Parent == nil || n.Parent.DataAtom != atom.Pre {
			c.out.WriteString("`" + textContent(n) + "`")
			return true
		}
		return false

	case atom.Pre:
		c.codeBlock(textContent(n), codeLanguage(n))
		return true

	case atom.A:
		c.anchor(n)
		return true

	case atom.Ul:
		c.list(n, false)
		return true

	case atom.Ol:
		c.list(n, true)
		return true

	case atom.Table:
		c.table(n)
		return true
	}

	return false
}

// macro reduces a wiki macro element to a readable substitute.
func (c *converter) macro(n *html.Node) {
	name := attr(n, "ac:name")
	switch name {
	case "code", "noformat":
		lang := macroParameter(n, "language")
		c.codeBlock(strings.TrimSpace(textContent(n)), lang)
	case "toc", "children", "include", "excerpt-include", "pagetree", "recently-updated":
		// Navigation macros carry no content worth indexing.
	default:
		if text := strings.TrimSpace(textContent(n)); text != "" {
			c.blockBreak()
			c.out.WriteString(text + "\n\n")
		}
	}
}

func (c *converter) codeBlock(code, lang string) {
	c.blockBreak()
	code = strings.Trim(code, "\n")
	c.out.WriteString("```" + lang + "\n" + code + "\n```\n\n")
}

func (c *converter) anchor(n *html.Node) {
	href := attr(n, "href")
	text := collapseSpace(textContent(n))
	switch {
	case text == "" && href == "":
	case href == "" || href == text:
		c.out.WriteString(text)
	case text == "":
		c.out.WriteString("<" + href + ">")
	default:
		c.out.WriteString("[" + text + "](" + href + ")")
	}
}

func (c *converter) inlineWrap(n *html.Node, marker string) {
	text := collapseSpace(textContent(n))
	if text == "" {
		return
	}
	c.out.WriteString(marker + text + marker)
}

func (c *converter) list(n *html.Node, ordered bool) {
	if len(c.listStack) == 0 {
		c.blockBreak()
	}
	c.listStack = append(c.listStack, listState{ordered: ordered})

	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.ElementNode && child.DataAtom == atom.Li {
			c.listItem(child)
		}
	}

	c.listStack = c.listStack[:len(c.listStack)-1]
	if len(c.listStack) == 0 {
		c.out.WriteString("\n")
	}
}

func (c *converter) listItem(li *html.Node) {
	depth := len(c.listStack) - 1
	state := &c.listStack[depth]
	state.counter++

	indent := strings.Repeat("  ", depth)
	prefix := "- "
	if state.ordered {
		prefix = fmt.Sprintf("%d. ", state.counter)
	}

	// Render the item's own inline content; nested lists recurse after.
	var inline strings.Builder
	var nested []*html.Node
	for child := li.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.ElementNode && (child.DataAtom == atom.Ul || child.DataAtom == atom.Ol) {
			nested = append(nested, child)
			continue
		}
		inline.WriteString(textContent(child))
	}

	c.out.WriteString(indent + prefix + collapseSpace(inline.String()) + "\n")
	for _, sub := range nested {
		c.list(sub, sub.DataAtom == atom.Ol)
	}
}

func (c *converter) table(n *html.Node) {
	var rows [][]string
	var headerCells int

	var collectRows func(*html.Node)
	collectRows = func(node *html.Node) {
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			if child.Type != html.ElementNode {
				continue
			}
			switch child.DataAtom {
			case atom.Tr:
				row, isHeader := tableRow(child)
				if len(row) == 0 {
					continue
				}
				if isHeader && len(rows) == 0 {
					headerCells = len(row)
				}
				rows = append(rows, row)
			case atom.Thead, atom.Tbody, atom.Tfoot:
				collectRows(child)
			}
		}
	}
	collectRows(n)

	if len(rows) == 0 {
		return
	}

	c.blockBreak()
	for i, row := range rows {
		c.out.WriteString("| " + strings.Join(row, " | ") + " |\n")
		if i == 0 {
			width := len(row)
			if headerCells > 0 {
				width = headerCells
			}
			seps := make([]string, width)
			for j := range seps {
				seps[j] = "---"
			}
			c.out.WriteString("| " + strings.Join(seps, " | ") + " |\n")
		}
	}
	c.out.WriteString("\n")
}

func tableRow(tr *html.Node) (cells []string, isHeader bool) {
	for child := tr.FirstChild; child != nil; child = child.NextSibling {
		if child.Type != html.ElementNode {
			continue
		}
		switch child.DataAtom {
		case atom.Th:
			isHeader = true
			cells = append(cells, collapseSpace(textContent(child)))
		case atom.Td:
			cells = append(cells, collapseSpace(textContent(child)))
		}
	}
	return cells, isHeader
}

func (c *converter) writeText(text string) {
	trimmed := collapseSpace(text)
	if trimmed == "" {
		return
	}
	// Space-separate from preceding inline content.
	if s := c.out.String(); s != "" && !strings.HasSuffix(s, "\n") && !strings.HasSuffix(s, " ") {
		c.out.WriteString(" ")
	}
	c.out.WriteString(trimmed)
}

// blockBreak ensures block elements start on their own line.
func (c *converter) blockBreak() {
	s := c.out.String()
	if s == "" || strings.HasSuffix(s, "\n\n") {
		return
	}
	if strings.HasSuffix(s, "\n") {
		c.out.WriteString("\n")
		return
	}
	c.out.WriteString("\n\n")
}

// textContent flattens all descendant text, preserving newlines so code
// blocks keep their shape.
func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
			return
		}
		if node.Type == html.ElementNode {
			switch node.DataAtom {
			case atom.Script, atom.Style:
				return
			case atom.Br:
				sb.WriteString("\n")
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return sb.String()
}

func codeLanguage(pre *html.Node) string {
	for child := pre.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.ElementNode && child.DataAtom == atom.Code {
			for _, class := range strings.Fields(attr(child, "class")) {
				if lang, ok := strings.CutPrefix(class, "language-"); ok {
					return lang
				}
			}
		}
	}
	return ""
}

func macroParameter(n *html.Node, name string) string {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.ElementNode && child.Data == "ac:parameter" && attr(child, "ac:name") == name {
			return strings.TrimSpace(textContent(child))
		}
	}
	return ""
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// normalizeBlankLines collapses runs of blank lines so output is stable
// regardless of how the source nested its containers.
func normalizeBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			blank++
			if blank > 1 {
				continue
			}
			out = append(out, "")
			continue
		}
		blank = 0
		out = append(out, strings.TrimRight(line, " \t"))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
