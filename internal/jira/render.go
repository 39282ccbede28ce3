package jira

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// EmptyDescription replaces descriptions that render to nothing.
const EmptyDescription = "(No description provided)"

var blankRuns = regexp.MustCompile(`\n{3,}`)

// PlainText renders the description for a prompt or comment.
// ADF documents and Markdown text produce the same block shapes: "# "
// headings, "- " bullets, "1. " ordered items, fenced code blocks. Plain
// text keeps its inline content and line breaks as written.
func (d Description) PlainText() string {
	var out string
	switch {
	case d.Doc != nil:
		out = RenderADF(d.Doc)
	case d.Text != "":
		out = RenderMarkdown(d.Text)
	}
	if strings.TrimSpace(out) == "" {
		return EmptyDescription
	}
	return out
}

// RenderADF converts an Atlassian Document Format tree to plain text.
// Node types without a dedicated case render their children.
func RenderADF(doc *Node) string {
	if doc == nil {
		return ""
	}
	var b strings.Builder
	adfBlock(&b, *doc)
	return tidy(b.String())
}

func tidy(s string) string {
	return strings.TrimSpace(blankRuns.ReplaceAllString(s, "\n\n"))
}

func adfBlock(b *strings.Builder, n Node) {
	switch n.Type {
	case "paragraph":
		b.WriteString(adfInline(n))
		b.WriteString("\n\n")
	case "heading":
		level := intAttr(n.Attrs, "level", 1)
		b.WriteString(strings.Repeat("#", clamp(level, 1, 6)) + " " + strings.TrimSpace(adfInline(n)))
		b.WriteString("\n\n")
	case "bulletList":
		adfList(b, n, false, 0)
		b.WriteString("\n")
	case "orderedList":
		adfList(b, n, true, 0)
		b.WriteString("\n")
	case "codeBlock":
		lang, _ := n.Attrs["language"].(string)
		b.WriteString("```" + lang + "\n")
		b.WriteString(strings.TrimRight(adfInline(n), "\n"))
		b.WriteString("\n```\n\n")
	case "blockquote":
		var inner strings.Builder
		for _, c := range n.Content {
			adfBlock(&inner, c)
		}
		for _, line := range strings.Split(tidy(inner.String()), "\n") {
			b.WriteString("> " + line + "\n")
		}
		b.WriteString("\n")
	case "rule":
		b.WriteString("---\n\n")
	case "hardBreak":
		b.WriteString("\n")
	case "text", "mention", "emoji", "inlineCard", "date", "status":
		b.WriteString(adfInline(n))
	default:
		for _, c := range n.Content {
			adfBlock(b, c)
		}
	}
}

func adfList(b *strings.Builder, n Node, ordered bool, depth int) {
	indent := strings.Repeat("  ", depth)
	num := intAttr(n.Attrs, "order", 1)
	for _, item := range n.Content {
		marker := "- "
		if ordered {
			marker = fmt.Sprintf("%d. ", num)
			num++
		}
		wrote := false
		for _, child := range item.Content {
			switch child.Type {
			case "bulletList":
				adfList(b, child, false, depth+1)
			case "orderedList":
				adfList(b, child, true, depth+1)
			default:
				var inner strings.Builder
				adfBlock(&inner, child)
				for _, line := range strings.Split(tidy(inner.String()), "\n") {
					if !wrote {
						b.WriteString(indent + marker + line + "\n")
						wrote = true
					} else {
						b.WriteString(indent + strings.Repeat(" ", len(marker)) + line + "\n")
					}
				}
			}
		}
		if !wrote && len(item.Content) == 0 {
			b.WriteString(indent + strings.TrimSpace(marker) + "\n")
		}
	}
}

func adfInline(n Node) string {
	switch n.Type {
	case "text":
		return n.Text
	case "hardBreak":
		return "\n"
	case "mention":
		if s, ok := n.Attrs["text"].(string); ok {
			return s
		}
		return "@user"
	case "emoji":
		if s, ok := n.Attrs["text"].(string); ok {
			return s
		}
		s, _ := n.Attrs["shortName"].(string)
		return s
	case "inlineCard":
		s, _ := n.Attrs["url"].(string)
		return s
	case "date":
		s, _ := n.Attrs["timestamp"].(string)
		return s
	case "status":
		s, _ := n.Attrs["text"].(string)
		return s
	}
	var b strings.Builder
	for _, c := range n.Content {
		b.WriteString(adfInline(c))
	}
	return b.String()
}

func intAttr(attrs map[string]any, key string, def int) int {
	switch v := attrs[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var markdown = goldmark.New()

// RenderMarkdown normalizes the block structure of Markdown-flavored text
// into the shapes RenderADF produces: "# " headings, "- " bullets, numbered
// items and fenced code. Text inside a block is kept byte for byte, line
// breaks included, so code-like content such as Map<String> or 2*3*4
// reaches the agent unchanged.
func RenderMarkdown(src string) string {
	source := []byte(strings.ReplaceAll(src, "\r\n", "\n"))
	doc := markdown.Parser().Parse(text.NewReader(source))
	var b strings.Builder
	mdBlock(&b, doc, source)
	return tidy(b.String())
}

func mdBlock(b *strings.Builder, n ast.Node, source []byte) {
	switch node := n.(type) {
	case *ast.Heading:
		b.WriteString(strings.Repeat("#", node.Level) + " " + mdText(node, source) + "\n\n")
	case *ast.Paragraph, *ast.TextBlock:
		b.WriteString(mdText(node, source) + "\n\n")
	case *ast.List:
		mdList(b, node, source, 0)
		b.WriteString("\n")
	case *ast.FencedCodeBlock:
		b.WriteString("```" + string(node.Language(source)) + "\n" + mdLines(node, source) + "```\n\n")
	case *ast.CodeBlock:
		b.WriteString("```\n" + mdLines(node, source) + "```\n\n")
	case *ast.Blockquote:
		var inner strings.Builder
		for c := node.FirstChild(); c != nil; c = c.NextSibling() {
			mdBlock(&inner, c, source)
		}
		for _, line := range strings.Split(tidy(inner.String()), "\n") {
			b.WriteString("> " + line + "\n")
		}
		b.WriteString("\n")
	case *ast.ThematicBreak:
		b.WriteString("---\n\n")
	case *ast.HTMLBlock:
		b.WriteString(mdLines(node, source))
		if node.HasClosure() {
			b.Write(node.ClosureLine.Value(source))
		}
		b.WriteString("\n")
	default:
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			mdBlock(b, c, source)
		}
	}
}

func mdList(b *strings.Builder, list *ast.List, source []byte, depth int) {
	indent := strings.Repeat("  ", depth)
	num := list.Start
	if num == 0 {
		num = 1
	}
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		marker := "- "
		if list.IsOrdered() {
			marker = fmt.Sprintf("%d. ", num)
			num++
		}
		wrote := false
		for child := item.FirstChild(); child != nil; child = child.NextSibling() {
			if nested, ok := child.(*ast.List); ok {
				mdList(b, nested, source, depth+1)
				continue
			}
			var inner strings.Builder
			mdBlock(&inner, child, source)
			for _, line := range strings.Split(tidy(inner.String()), "\n") {
				if !wrote {
					b.WriteString(indent + marker + line + "\n")
					wrote = true
				} else {
					b.WriteString(indent + strings.Repeat(" ", len(marker)) + line + "\n")
				}
			}
		}
	}
}

func mdLines(n ast.Node, source []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(source))
	}
	return b.String()
}

// mdText returns the source text of a leaf block, one output line per
// source line, with trailing whitespace removed.
func mdText(n ast.Node, source []byte) string {
	lines := n.Lines()
	out := make([]string, 0, lines.Len())
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		out = append(out, strings.TrimRight(string(seg.Value(source)), " \t\n"))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
