// Package render lays out a parsed HTML document as PDF.
package render

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-pdf/fpdf"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/digitorus/htmlpdfsign/htmldoc"
)

// Renderer turns a document into PDF bytes written to w.
type Renderer interface {
	Render(ctx context.Context, doc *htmldoc.Document, w io.Writer) error
}

var pageSizes = map[string]string{
	"a3":     "A3",
	"a4":     "A4",
	"a5":     "A5",
	"letter": "Letter",
	"legal":  "Legal",
}

// ValidPageSize reports whether FPDF supports the named page size.
func ValidPageSize(name string) bool {
	_, ok := pageSizes[strings.ToLower(name)]
	return ok || name == ""
}

// FPDF renders the text flow of a document (headings, paragraphs, lists,
// preformatted blocks, rules and line breaks) with the standard PDF fonts.
// Images and styling from CSS are not rendered.
type FPDF struct {
	// PageSize is A4 when empty.
	PageSize string

	// FontSize of body text in points, 11 when zero.
	FontSize float64

	Author  string
	Creator string

	// NoCompression leaves content streams uncompressed.
	NoCompression bool
}

var _ Renderer = FPDF{}

var headingSizes = map[atom.Atom]float64{
	atom.H1: 2.0,
	atom.H2: 1.6,
	atom.H3: 1.35,
	atom.H4: 1.15,
	atom.H5: 1.0,
	atom.H6: 0.9,
}

func (r FPDF) Render(ctx context.Context, doc *htmldoc.Document, w io.Writer) error {
	size := "A4"
	if r.PageSize != "" {
		var ok bool
		if size, ok = pageSizes[strings.ToLower(r.PageSize)]; !ok {
			return fmt.Errorf("unsupported page size %q", r.PageSize)
		}
	}
	fontSize := r.FontSize
	if fontSize <= 0 {
		fontSize = 11
	}

	pdf := fpdf.New("P", "mm", size, "")
	pdf.SetCompression(!r.NoCompression)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	if doc.Title != "" {
		pdf.SetTitle(doc.Title, true)
	}
	if r.Author != "" {
		pdf.SetAuthor(r.Author, true)
	}
	creator := r.Creator
	if creator == "" {
		creator = "htmlpdfsign"
	}
	pdf.SetCreator(creator, true)
	pdf.AddPage()

	l := &layout{
		ctx:  ctx,
		pdf:  pdf,
		tr:   pdf.UnicodeTranslatorFromDescriptor(""),
		base: fontSize,

		lineStart: true,
	}
	l.style = textStyle{size: fontSize}
	l.apply()
	l.walk(doc.Root)

	if l.err != nil {
		return l.err
	}
	if pdf.Err() {
		return fmt.Errorf("render pdf: %w", pdf.Error())
	}
	return pdf.Output(w)
}

type textStyle struct {
	bold, italic, mono bool
	size               float64
}

type list struct {
	ordered bool
	n       int
}

type layout struct {
	ctx  context.Context
	pdf  *fpdf.Fpdf
	tr   func(string) string
	base float64

	style  textStyle
	lists  []list
	indent float64

	// lineStart is set while nothing was written on the current line.
	lineStart    bool
	pendingSpace bool
	err          error
}

// lineHeight in mm for the current font size.
func (l *layout) lineHeight() float64 {
	return l.style.size * 0.3528 * 1.4
}

func (l *layout) apply() {
	family := "Helvetica"
	if l.style.mono {
		family = "Courier"
	}
	var st string
	if l.style.bold {
		st += "B"
	}
	if l.style.italic {
		st += "I"
	}
	l.pdf.SetFont(family, st, l.style.size)
}

func (l *layout) walk(n *html.Node) {
	if l.err != nil {
		return
	}

	switch n.Type {
	case html.DocumentNode:
		l.children(n)
		return
	case html.TextNode:
		l.text(n.Data)
		return
	case html.ElementNode:
	default:
		return
	}

	switch n.DataAtom {
	case atom.Head, atom.Script, atom.Style, atom.Noscript, atom.Template:
		return
	case atom.Br:
		l.pdf.Ln(l.lineHeight())
		l.lineStart = true
		return
	case atom.Hr:
		l.rule()
		return
	case atom.Img:
		if alt, ok := htmldoc.Attr(n, "alt"); ok && strings.TrimSpace(alt) != "" {
			l.text("[" + alt + "]")
		}
		return
	case atom.Pre:
		l.pre(n)
		return
	}

	block := isBlock(n.DataAtom)
	if block {
		if err := l.ctx.Err(); err != nil {
			l.err = err
			return
		}
		l.breakLine()
	}

	saved, savedIndent := l.style, l.indent
	switch n.DataAtom {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		l.style.bold = true
		l.style.size = l.base * headingSizes[n.DataAtom]
		l.pdf.Ln(l.lineHeight() * 0.3)
	case atom.B, atom.Strong, atom.Th:
		l.style.bold = true
	case atom.I, atom.Em, atom.Cite, atom.Var:
		l.style.italic = true
	case atom.Code, atom.Kbd, atom.Samp, atom.Tt:
		l.style.mono = true
	case atom.Blockquote:
		l.style.italic = true
		l.setIndent(l.indent + 8)
	case atom.Ul, atom.Ol:
		l.lists = append(l.lists, list{ordered: n.DataAtom == atom.Ol})
		l.setIndent(l.indent + 6)
		defer func() { l.lists = l.lists[:len(l.lists)-1] }()
	case atom.Td:
		if !l.lineStart {
			l.text(" | ")
		}
	}
	l.apply()

	if n.DataAtom == atom.Li {
		l.listMarker()
	}

	l.children(n)

	if block {
		l.breakLine()
		if n.DataAtom == atom.P || headingSizes[n.DataAtom] != 0 {
			l.pdf.Ln(l.lineHeight() * 0.5)
		}
	}

	l.style = saved
	l.apply()
	if l.indent != savedIndent {
		l.setIndent(savedIndent)
	}
}

func (l *layout) children(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		l.walk(c)
	}
}

func (l *layout) text(raw string) {
	s := strings.Join(strings.Fields(raw), " ")
	if s == "" {
		if raw != "" && !l.lineStart {
			l.pendingSpace = true
		}
		return
	}
	if !l.lineStart && (l.pendingSpace || isSpace(raw[0])) {
		s = " " + s
	}
	l.pendingSpace = isSpace(raw[len(raw)-1])

	l.pdf.Write(l.lineHeight(), l.tr(s))
	l.lineStart = false
}

// breakLine moves to a new line unless the current one is empty.
func (l *layout) breakLine() {
	if !l.lineStart {
		l.pdf.Ln(l.lineHeight())
	}
	l.lineStart = true
	l.pendingSpace = false
}

func (l *layout) setIndent(indent float64) {
	left, _, _, _ := l.pdf.GetMargins()
	left += indent - l.indent
	l.pdf.SetLeftMargin(left)
	l.pdf.SetX(left)
	l.indent = indent
}

func (l *layout) listMarker() {
	marker := "• "
	if len(l.lists) > 0 {
		current := &l.lists[len(l.lists)-1]
		current.n++
		if current.ordered {
			marker = strconv.Itoa(current.n) + ". "
		}
	}
	l.pdf.Write(l.lineHeight(), l.tr(marker))
	l.lineStart = true
}

func (l *layout) rule() {
	l.breakLine()
	left, _, right, _ := l.pdf.GetMargins()
	width, _ := l.pdf.GetPageSize()
	y := l.pdf.GetY() + l.lineHeight()*0.5
	l.pdf.SetLineWidth(0.2)
	l.pdf.Line(left, y, width-right, y)
	l.pdf.Ln(l.lineHeight())
}

func (l *layout) pre(n *html.Node) {
	l.breakLine()

	saved := l.style
	l.style.mono = true
	l.style.size = l.base * 0.9
	l.apply()

	text := strings.TrimSuffix(strings.TrimPrefix(htmldoc.Text(n), "\n"), "\n")
	l.pdf.MultiCell(0, l.lineHeight(), l.tr(text), "", "L", false)

	l.style = saved
	l.apply()
	l.pdf.Ln(l.lineHeight() * 0.5)
	l.lineStart = true
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.Address, atom.Article, atom.Aside, atom.Blockquote, atom.Body,
		atom.Dd, atom.Div, atom.Dl, atom.Dt, atom.Fieldset, atom.Figcaption,
		atom.Figure, atom.Footer, atom.Form, atom.H1, atom.H2, atom.H3, atom.H4,
		atom.H5, atom.H6, atom.Header, atom.Li, atom.Main, atom.Nav, atom.Ol,
		atom.P, atom.Section, atom.Table, atom.Tr, atom.Ul:
		return true
	}
	return false
}
