// Package render produces paginated fill-in-the-blank worksheets as
// PDF (primary) and RTF (secondary) byte streams. The student variant
// replaces each target word with a run of blanks and appends a
// two-column word list; the teacher variant shows the answers in color
// and appends an answer key.
package render

import (
	"bytes"
	"fmt"
	"image/color"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/pdf"

	"github.com/tclam/worksheet/internal/fonts"
	"github.com/tclam/worksheet/internal/layout"
	"github.com/tclam/worksheet/internal/markup"
	"github.com/tclam/worksheet/internal/model"
)

// Variant selects the worksheet flavor.
type Variant int

const (
	// Student renders blanks and a word list.
	Student Variant = iota
	// Teacher renders colored answers and an answer key.
	Teacher
)

// Page geometry and type sizes, all in millimetres (A4).
const (
	pageWidth  = 210.0
	pageHeight = 297.0
	margin     = 20.0

	titleSize    = 6.5
	bodySize     = 4.6
	lineHeight   = 8.0
	paragraphGap = 3.0

	underlineWidth  = 0.35
	underlineOffset = 0.8

	mmToPt = 72.0 / 25.4
)

var answerColor = canvas.Hex("#c0392b")

// Renderer renders worksheet documents with a single loaded font
// family. It is safe for sequential use; each render owns its buffer
// and cursor.
type Renderer struct {
	family   *canvas.FontFamily
	degraded bool
}

// New loads the resolved font into a canvas font family. A degraded
// (builtin fallback) font is accepted with a warning since rendering
// must not be blocked by a missing font file.
func New(font fonts.Result) (*Renderer, error) {
	family := canvas.NewFontFamily("worksheet")
	if err := family.LoadFont(font.Data, 0, canvas.FontRegular); err != nil {
		return nil, fmt.Errorf("load font %s: %w", font.Source, err)
	}
	if font.Degraded {
		slog.Warn("no worksheet font found, falling back to builtin glyphs", "source", font.Source)
	}
	return &Renderer{family: family, degraded: font.Degraded}, nil
}

// Degraded reports whether the renderer is using the builtin fallback
// font instead of a configured one.
func (r *Renderer) Degraded() bool { return r.degraded }

func (r *Renderer) face(sizeMm float64, col color.Color) *canvas.FontFace {
	return r.family.Face(sizeMm*mmToPt, col, canvas.FontRegular, canvas.FontNormal)
}

func frame() layout.Frame {
	return layout.Frame{
		Width:        pageWidth,
		Height:       pageHeight,
		Top:          margin,
		Bottom:       margin,
		Left:         margin,
		Right:        margin,
		LineHeight:   lineHeight,
		ParagraphGap: paragraphGap,
	}
}

// pager threads one canvas per page through the PDF writer and redraws
// the running header on continuation pages.
type pager struct {
	writer *pdf.PDF
	frame  layout.Frame
	cur    layout.Cursor
	c      *canvas.Canvas
	ctx    *canvas.Context
	header string
	face   *canvas.FontFace
}

func newPager(buf *bytes.Buffer, f layout.Frame, header string, face *canvas.FontFace) *pager {
	p := &pager{
		writer: pdf.New(buf, f.Width, f.Height, nil),
		frame:  f,
		cur:    layout.NewCursor(f),
		header: header,
		face:   face,
	}
	p.openPage()
	return p
}

func (p *pager) openPage() {
	p.c = canvas.New(p.frame.Width, p.frame.Height)
	p.ctx = canvas.NewContext(p.c)
	p.ctx.SetCoordSystem(canvas.CartesianIV)
}

// breakPage flushes the current canvas and starts a fresh page with
// the continuation header.
func (p *pager) breakPage() {
	p.c.RenderTo(p.writer)
	p.writer.NewPage(p.frame.Width, p.frame.Height)
	p.openPage()
	// Continuation marker sits inside the top margin, clear of the body.
	hdr := canvas.NewTextLine(p.face, p.header+"（續）", canvas.Right)
	p.ctx.DrawText(p.frame.Width-p.frame.Right, p.frame.Top/2, hdr)
}

// ensure opens a new page when a block of the given height would cross
// the bottom margin.
func (p *pager) ensure(height float64) {
	if p.cur.EnsureRoom(p.frame, height) {
		p.breakPage()
	}
}

// forceBreak unconditionally starts a new page.
func (p *pager) forceBreak() {
	p.cur.Page++
	p.cur.Y = p.frame.Top
	p.cur.X = p.frame.Left
	p.breakPage()
}

func (p *pager) close() error {
	p.c.RenderTo(p.writer)
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("write PDF: %w", err)
	}
	return nil
}

// resolveTokens tokenizes a question and substitutes the blank target
// for the requested variant, so measurement and drawing agree on the
// final text of every run.
func resolveTokens(q model.Question, v Variant) []markup.Token {
	tokens := markup.Tokenize(q.Content)
	out := make([]markup.Token, 0, len(tokens))
	for _, t := range tokens {
		if t.Kind == markup.KindBlank && v == Student {
			t.Text = markup.Blank(t.Text)
		}
		out = append(out, t)
	}
	return out
}

// Title builds the worksheet heading for a batch, optionally
// personalized for one student.
func Title(school, level, studentName string) string {
	if studentName != "" {
		return fmt.Sprintf("%s (%s) - %s - 校本填充工作紙", school, level, studentName)
	}
	return fmt.Sprintf("%s (%s) - 校本填充工作紙", school, level)
}

// worksheetDate is the date printed on the sheet: the next day, so a
// worksheet generated in the evening carries tomorrow's practice date.
func worksheetDate(now time.Time) string {
	return now.AddDate(0, 0, 1).Format("2006-01-02")
}

var unsafeName = regexp.MustCompile(`[^\p{L}\p{N}_-]+`)

// SafeName strips filesystem-hostile characters from a name fragment.
func SafeName(s string) string {
	s = unsafeName.ReplaceAllString(strings.TrimSpace(s), "_")
	if s == "" {
		return "worksheet"
	}
	return s
}

// Filename encodes school/level (or student name) and date into the
// download filename.
func Filename(school, level, studentName, ext string, now time.Time) string {
	date := now.Format("2006-01-02")
	if studentName != "" {
		return fmt.Sprintf("%s_%s_%s.%s", SafeName(studentName), SafeName(level), date, ext)
	}
	return fmt.Sprintf("%s_%s_%s.%s", SafeName(school), SafeName(level), date, ext)
}

// listCell is the grid slot of a word-list entry: entries alternate
// between two columns, advancing a row every second entry.
type listCell struct {
	Row, Col int
}

func listLayout(n int) []listCell {
	cells := make([]listCell, n)
	for i := range cells {
		cells[i] = listCell{Row: i / 2, Col: i % 2}
	}
	return cells
}

// PDF renders the batch as a paginated PDF. An empty question list
// yields a document with just the heading.
func (r *Renderer) PDF(b model.Batch, studentName string, v Variant) ([]byte, error) {
	f := frame()
	buf := &bytes.Buffer{}

	black := canvas.Black
	titleFace := r.face(titleSize, black)
	bodyFace := r.face(bodySize, black)
	answerFace := r.face(bodySize, answerColor)
	headerFace := r.face(bodySize*0.85, black)

	title := Title(b.School, b.Level, studentName)
	p := newPager(buf, f, title, headerFace)
	p.writer.SetInfo(title, "校本填充工作紙", "", "", "worksheet")

	// Heading: centered title, then the practice date.
	titleLine := canvas.NewTextLine(titleFace, title, canvas.Center)
	p.ctx.DrawText(f.Width/2, p.cur.Y+titleFace.Metrics().Ascent, titleLine)
	p.cur.Y += lineHeight * 1.5

	dateLine := canvas.NewTextLine(bodyFace, "日期: "+worksheetDate(time.Now()), canvas.Left)
	p.ctx.DrawText(f.Left, p.cur.Y+bodyFace.Metrics().Ascent, dateLine)
	p.cur.Y += lineHeight + paragraphGap

	measure := func(t markup.Token) float64 {
		return bodyFace.TextWidth(t.Text)
	}

	for i, q := range b.Questions {
		prefix := fmt.Sprintf("%d. ", i+1)
		prefixWidth := bodyFace.TextWidth(prefix)
		tokens := resolveTokens(q, v)
		lines := layout.Wrap(tokens, f.ContentWidth()-prefixWidth, measure)

		p.ensure(lineHeight)
		num := canvas.NewTextLine(bodyFace, prefix, canvas.Left)
		p.ctx.DrawText(f.Left, p.cur.Y+bodyFace.Metrics().Ascent, num)

		for li, line := range lines {
			if li > 0 {
				p.ensure(lineHeight)
			}
			// Hanging indent: every content line starts past the number.
			x := f.Left + prefixWidth
			for _, tok := range line.Tokens {
				w := measure(tok)
				r.drawToken(p, tok, v, x, p.cur.Y, w, bodyFace, answerFace)
				x += w
			}
			p.cur.AdvanceLine(f)
		}
		if len(lines) == 0 {
			p.cur.AdvanceLine(f)
		}
		p.cur.EndParagraph(f)
	}

	r.drawAppendix(p, b, v, bodyFace, answerFace, titleFace)

	if err := p.close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *Renderer) drawToken(p *pager, tok markup.Token, v Variant, x, y, w float64, body, answer *canvas.FontFace) {
	face := body
	if tok.Kind == markup.KindBlank && v == Teacher {
		face = answer
	}
	tl := canvas.NewTextLine(face, tok.Text, canvas.Left)
	baseline := y + face.Metrics().Ascent
	p.ctx.DrawText(x, baseline, tl)

	if tok.Kind == markup.KindProper {
		p.ctx.SetStrokeColor(canvas.Black)
		p.ctx.SetStrokeWidth(underlineWidth)
		line := &canvas.Path{}
		line.MoveTo(0, 0)
		line.LineTo(w, 0)
		p.ctx.DrawPath(x, baseline+underlineOffset, line)
	}
}

// drawAppendix renders the word list (student) or answer key (teacher)
// as a two-column grid on a fresh page.
func (r *Renderer) drawAppendix(p *pager, b model.Batch, v Variant, body, answer, title *canvas.FontFace) {
	words := make([]string, 0, len(b.Questions))
	for _, q := range b.Questions {
		if w := markup.Target(markup.Tokenize(q.Content)); w != "" {
			words = append(words, w)
		} else {
			words = append(words, q.Word)
		}
	}
	if len(words) == 0 {
		return
	}

	p.forceBreak()

	heading := "詞語表"
	entryFace := body
	if v == Teacher {
		heading = "答案"
		entryFace = answer
	}
	tl := canvas.NewTextLine(title, heading, canvas.Center)
	p.ctx.DrawText(p.frame.Width/2, p.cur.Y+title.Metrics().Ascent, tl)
	p.cur.Y += lineHeight * 1.5

	colWidth := p.frame.ContentWidth() / 2
	for i, cell := range listLayout(len(words)) {
		if cell.Col == 0 && i > 0 {
			p.cur.AdvanceLine(p.frame)
			p.ensure(lineHeight)
		}
		x := p.frame.Left + float64(cell.Col)*colWidth
		entry := fmt.Sprintf("%d. %s", i+1, words[i])
		el := canvas.NewTextLine(entryFace, entry, canvas.Left)
		p.ctx.DrawText(x, p.cur.Y+entryFace.Metrics().Ascent, el)
	}
}
