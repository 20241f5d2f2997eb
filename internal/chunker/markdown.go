package chunker

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

// MarkdownSplitter splits markdown documents at H1/H2 boundaries so chunks
// follow the author's section structure. Each section carries its header
// hierarchy ("# Title > ## Section") for retrieval context, and sections
// longer than the text splitter's chunk size are size-split further.
type MarkdownSplitter struct {
	parser goldmark.Markdown
	text   *Splitter
}

// NewMarkdownSplitter creates a markdown splitter that falls back to the
// given text splitter for headerless documents and oversized sections.
func NewMarkdownSplitter(text *Splitter) *MarkdownSplitter {
	md := goldmark.New(
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)
	return &MarkdownSplitter{parser: md, text: text}
}

// section is a contiguous span of the document under one H1/H2 header.
type section struct {
	headerPath string
	id         string
}

// Chunk splits markdown text into ordered chunks. Documents without headers
// are chunked as plain text.
func (m *MarkdownSplitter) Chunk(input string) ([]string, error) {
	if strings.TrimSpace(input) == "" {
		return nil, ErrEmptyInput
	}

	source := []byte(input)
	doc := m.parser.Parser().Parse(text.NewReader(source))

	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),
		toc.MaxDepth(2),
		toc.Compact(true),
	)
	if err != nil {
		return nil, fmt.Errorf("inspect headers: %w", err)
	}
	if len(tree.Items) == 0 {
		return m.text.Chunk(input)
	}

	sections := flattenSections(tree.Items, nil)
	headings := headingsByID(doc)

	// Section boundaries are the source offsets of successive headings; the
	// last section runs to EOF.
	var chunks []string
	for i, sec := range sections {
		node, ok := headings[sec.id]
		if !ok || node.Lines().Len() == 0 {
			continue
		}
		start := node.Lines().At(0).Start
		stop := len(source)
		for j := i + 1; j < len(sections); j++ {
			if next, ok := headings[sections[j].id]; ok && next.Lines().Len() > 0 {
				stop = next.Lines().At(0).Start
				break
			}
		}

		body := strings.TrimSpace(string(source[start:stop]))
		if body == "" {
			continue
		}
		content := fmt.Sprintf("%s\n\n%s", sec.headerPath, body)
		if len([]rune(content)) <= m.text.Size() {
			chunks = append(chunks, content)
			continue
		}
		// Oversized section: size-split the body, keeping the header path
		// on each piece.
		parts, err := m.text.Chunk(body)
		if err != nil {
			return nil, err
		}
		for _, part := range parts {
			chunks = append(chunks, fmt.Sprintf("%s\n\n%s", sec.headerPath, part))
		}
	}

	if len(chunks) == 0 {
		return m.text.Chunk(input)
	}
	return chunks, nil
}

// flattenSections walks the TOC tree depth-first, building the header
// hierarchy string for each item.
func flattenSections(items toc.Items, ancestors []string) []section {
	var out []section
	for _, item := range items {
		path := append(ancestors, string(item.Title))
		out = append(out, section{
			headerPath: formatHeaderPath(path),
			id:         string(item.ID),
		})
		if len(item.Items) > 0 {
			out = append(out, flattenSections(item.Items, path)...)
		}
	}
	return out
}

// formatHeaderPath renders ["Install", "Steps"] as "# Install > ## Steps".
func formatHeaderPath(path []string) string {
	parts := make([]string, len(path))
	for i, title := range path {
		parts[i] = fmt.Sprintf("%s %s", strings.Repeat("#", i+1), title)
	}
	return strings.Join(parts, " > ")
}

// headingsByID indexes every heading node by its auto-generated ID.
func headingsByID(doc ast.Node) map[string]ast.Node {
	found := make(map[string]ast.Node)
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering && n.Kind() == ast.KindHeading {
			if id, ok := n.AttributeString("id"); ok {
				found[string(id.([]byte))] = n
			}
		}
		return ast.WalkContinue, nil
	})
	return found
}
