// Package layout packs styled tokens into lines and tracks the page
// cursor for paginated rendering. Widths and positions are millimetres
// with a top-left origin: y grows downward and resets to the top
// margin when a page boundary is crossed.
package layout

import "github.com/tclam/worksheet/internal/markup"

// Measure returns the rendered width of a token's text in millimetres.
type Measure func(markup.Token) float64

// Line is one laid-out row of tokens.
type Line struct {
	Tokens []markup.Token
	Width  float64
}

// Wrap packs tokens greedily into lines no wider than limit. A token
// that would overflow the current line starts a new one; a single
// token wider than the limit is placed alone on its own line, so the
// result always makes progress. Tagged runs are measured atomically
// and never split.
func Wrap(tokens []markup.Token, limit float64, measure Measure) []Line {
	var lines []Line
	var cur Line

	flush := func() {
		if len(cur.Tokens) == 0 {
			return
		}
		lines = append(lines, cur)
		cur = Line{}
	}

	for _, tok := range tokens {
		w := measure(tok)
		if len(cur.Tokens) > 0 && cur.Width+w > limit {
			flush()
		}
		cur.Tokens = append(cur.Tokens, tok)
		cur.Width += w
	}
	flush()
	return lines
}

// Frame describes the page geometry for a rendering pass.
type Frame struct {
	Width        float64 // page width
	Height       float64 // page height
	Top          float64 // top margin
	Bottom       float64 // bottom margin
	Left         float64 // left margin
	Right        float64 // right margin
	LineHeight   float64 // vertical advance per line
	ParagraphGap float64 // extra advance after a whole paragraph
}

// ContentWidth is the horizontal space available for text.
func (f Frame) ContentWidth() float64 {
	return f.Width - f.Left - f.Right
}

// MaxY is the lowest y a line's top may occupy without crossing the
// bottom margin.
func (f Frame) MaxY() float64 {
	return f.Height - f.Bottom - f.LineHeight
}

// Cursor tracks the pen position during a single rendering pass. It is
// threaded through sequential paragraphs; the invariant is that y
// never crosses the bottom margin without Page advancing and y
// resetting to the top margin first.
type Cursor struct {
	X    float64
	Y    float64
	Page int
}

// NewCursor starts at the top-left corner of the content area of the
// first page.
func NewCursor(f Frame) Cursor {
	return Cursor{X: f.Left, Y: f.Top, Page: 1}
}

// EnsureRoom starts a new page if a block of the given height would
// cross the bottom margin. It reports whether the page advanced.
func (c *Cursor) EnsureRoom(f Frame, height float64) bool {
	if c.Y+height <= f.Height-f.Bottom {
		return false
	}
	c.Page++
	c.Y = f.Top
	c.X = f.Left
	return true
}

// AdvanceLine moves the cursor down one line.
func (c *Cursor) AdvanceLine(f Frame) {
	c.Y += f.LineHeight
}

// EndParagraph applies the paragraph spacing after a wrapped paragraph.
func (c *Cursor) EndParagraph(f Frame) {
	c.Y += f.ParagraphGap
}
