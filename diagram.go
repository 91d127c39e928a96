package main

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// diagramLanguages are fenced-block info strings rendered client-side
var diagramLanguages = map[string]bool{
	"mermaid": true,
}

// KindDiagramBlock is the node kind of a fenced diagram block
var KindDiagramBlock = ast.NewNodeKind("DiagramBlock")

// diagramBlock replaces a fenced code block tagged with a diagram language.
// It keeps the fence's lines so the body is emitted untouched.
type diagramBlock struct {
	ast.BaseBlock
}

func (n *diagramBlock) Kind() ast.NodeKind { return KindDiagramBlock }

func (n *diagramBlock) IsRaw() bool { return true }

func (n *diagramBlock) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, nil, nil)
}

// diagramExtension swaps diagram fences out of the AST before the
// highlighter sees them
type diagramExtension struct{}

func (diagramExtension) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(parser.WithASTTransformers(
		util.Prioritized(diagramTransformer{}, 100),
	))
	m.Renderer().AddOptions(renderer.WithNodeRenderers(
		util.Prioritized(diagramRenderer{}, 100),
	))
}

type diagramTransformer struct{}

func (diagramTransformer) Transform(doc *ast.Document, reader text.Reader, pc parser.Context) {
	source := reader.Source()
	var fences []*ast.FencedCodeBlock
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		fcb, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		if diagramLanguages[strings.ToLower(string(fcb.Language(source)))] {
			fences = append(fences, fcb)
		}
		return ast.WalkSkipChildren, nil
	})

	for _, fcb := range fences {
		block := &diagramBlock{}
		block.SetLines(fcb.Lines())
		parent := fcb.Parent()
		parent.ReplaceChild(parent, fcb, block)
	}
}

type diagramRenderer struct{}

func (r diagramRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindDiagramBlock, r.render)
}

// render writes the body inside a container picked up by the client-side
// diagram library. Only '&' and '<' are escaped so the text content the
// library reads is the original source.
func (diagramRenderer) render(w util.BufWriter, source []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	_, _ = w.WriteString(`<div class="mermaid">`)
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		_, _ = w.WriteString(diagramEscaper.Replace(string(seg.Value(source))))
	}
	_, _ = w.WriteString("</div>\n")
	return ast.WalkSkipChildren, nil
}

var diagramEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;")
