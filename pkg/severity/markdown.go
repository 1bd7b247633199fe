package severity

import (
	"regexp"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	governance "github.com/jingkaihe/skillgate/pkg/types/governance"
)

// codeBlockSpan is an inclusive 1-based line range covered by one code
// block, with the fence's declared language if any.
type codeBlockSpan struct {
	start    int
	end      int
	language string
}

// Classifier parses a markdown document once and classifies individual
// lines by the context they sit in. Scanner callers build one per file
// and classify each flagged line against it.
type Classifier struct {
	spans       []codeBlockSpan
	lineOffsets []int
}

var orderedListPrefix = regexp.MustCompile(`^\d+\.`)

// NewClassifier parses source and indexes its code block spans.
func NewClassifier(source []byte) *Classifier {
	c := &Classifier{lineOffsets: lineOffsets(source)}

	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(source))

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch block := n.(type) {
		case *ast.FencedCodeBlock:
			if span, ok := c.segmentsToSpan(block.Lines()); ok {
				span.language = string(block.Language(source))
				// Widen by one line each way to cover the fences themselves.
				span.start--
				span.end++
				c.spans = append(c.spans, span)
			}
		case *ast.CodeBlock:
			if span, ok := c.segmentsToSpan(block.Lines()); ok {
				c.spans = append(c.spans, span)
			}
		}

		return ast.WalkContinue, nil
	})

	return c
}

// CodeBlockCount returns the number of code blocks found in the document.
func (c *Classifier) CodeBlockCount() int {
	return len(c.spans)
}

// Classify returns the context of a 1-based line. The line content is
// needed to distinguish prose shapes (headings, list items, blockquotes)
// that goldmark block spans do not cover per line.
func (c *Classifier) Classify(lineNumber int, lineContent string) Context {
	for _, span := range c.spans {
		if lineNumber >= span.start && lineNumber <= span.end {
			return Context{Type: governance.ContextCodeBlock, CodeBlockLanguage: span.language}
		}
	}

	stripped := strings.TrimSpace(lineContent)
	switch {
	case strings.HasPrefix(stripped, "`") && strings.HasSuffix(stripped, "`") && len(stripped) > 1:
		return Context{Type: governance.ContextInlineCode}
	case strings.HasPrefix(stripped, "#"):
		return Context{Type: governance.ContextHeading}
	case strings.HasPrefix(stripped, ">"):
		return Context{Type: governance.ContextBlockquote}
	case strings.HasPrefix(stripped, "- "), strings.HasPrefix(stripped, "* "),
		strings.HasPrefix(stripped, "+ "), orderedListPrefix.MatchString(stripped):
		return Context{Type: governance.ContextListItem}
	default:
		return Context{Type: governance.ContextProse}
	}
}

// segmentsToSpan converts a block's text segments into an inclusive
// 1-based line range.
func (c *Classifier) segmentsToSpan(lines *text.Segments) (codeBlockSpan, bool) {
	if lines == nil || lines.Len() == 0 {
		return codeBlockSpan{}, false
	}

	first := lines.At(0)
	last := lines.At(lines.Len() - 1)

	return codeBlockSpan{
		start: c.lineAt(first.Start),
		end:   c.lineAt(last.Stop - 1),
	}, true
}

// lineAt maps a byte offset to a 1-based line number.
func (c *Classifier) lineAt(offset int) int {
	return sort.Search(len(c.lineOffsets), func(i int) bool {
		return c.lineOffsets[i] > offset
	})
}

// lineOffsets records the byte offset at which each line starts.
func lineOffsets(source []byte) []int {
	offsets := []int{0}
	for i, b := range source {
		if b == '\n' {
			offsets = append(offsets, i+1)
		}
	}
	return offsets
}
