// Package screen implements the terminal grid: two row-vectors
// (primary and alternate), the cursor, scroll region, tab stops,
// per-row dirty flags and the selection geometry. All positions are
// row-first. Operations clamp their inputs to valid ranges; after any
// cell mutation the containing row is marked dirty and a Refresh is
// published on the bus.
package screen

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kestrelterm/kestrel/pkg/codec"
	"github.com/kestrelterm/kestrel/pkg/event"
)

var log = logrus.WithField("comp", "screen")

// Screen owns the grid and everything anchored to it. It is not safe
// for concurrent use; the reactor serializes all access.
type Screen struct {
	bus *event.Bus

	lines    [][]Glyph // active screen
	altLines [][]Glyph // inactive screen
	alt      bool      // true while the alternate buffer is active

	dirty []bool
	tabs  []bool

	rows, cols int
	top, bot   int // scroll limits, inclusive

	cursor Cursor
	stored [2]Cursor // one per screen
	style  CursorStyle

	sel Selection

	tabSpaces  int
	delimiters string
}

// New returns an empty screen; callers follow up with Resize.
func New(bus *event.Bus, tabSpaces int) *Screen {
	if tabSpaces <= 0 {
		tabSpaces = 8
	}
	s := &Screen{bus: bus, tabSpaces: tabSpaces}
	s.sel.Ob.Col = -1
	return s
}

// SetWordDelimiters configures the delimiters used by word snapping.
// When empty, word snap extends to whole lines.
func (s *Screen) SetWordDelimiters(d string) { s.delimiters = d }

func (s *Screen) isDelim(u rune) bool {
	return u != 0 && codec.Contains(s.delimiters, u)
}

func (s *Screen) Rows() int { return s.rows }
func (s *Screen) Cols() int { return s.cols }
func (s *Screen) Top() int  { return s.top }
func (s *Screen) Bot() int  { return s.bot }

// Cursor returns the live cursor for the engine to read and mutate.
func (s *Screen) Cursor() *Cursor { return &s.cursor }

// Sel returns the live selection state.
func (s *Screen) Sel() *Selection { return &s.sel }

// OnAlt reports whether the alternate buffer is active.
func (s *Screen) OnAlt() bool { return s.alt }

func (s *Screen) CursorStyle() CursorStyle     { return s.style }
func (s *Screen) SetCursorStyle(cs CursorStyle) { s.style = cs }

// Line exposes one row for direct engine access.
func (s *Screen) Line(row int) []Glyph { return s.lines[row] }

// Glyph reads the cell.
func (s *Screen) Glyph(c Cell) Glyph { return s.lines[c.Row][c.Col] }

// SetGlyph writes the cell and dirties its row.
func (s *Screen) SetGlyph(c Cell, g Glyph) {
	s.lines[c.Row][c.Col] = g
	s.dirty[c.Row] = true
	event.Publish(s.bus, event.Refresh{})
}

// Resize grows or shrinks the grid to cols x rows. When the cursor
// would fall below the new last row, rows are removed from the top of
// both buffers so recent content (and the cursor's cell) slides up
// with it. The scroll region resets to the full screen.
func (s *Screen) Resize(cols, rows int) {
	if cols < 1 || rows < 1 {
		log.Errorf("attempted resize to %dx%d", cols, rows)
		return
	}

	minrow := min(rows, s.rows)
	mincol := min(cols, s.cols)

	// slide screen to keep the cursor where we expect it
	if s.cursor.Row-rows >= 0 {
		drop := s.cursor.Row - rows + 1
		s.lines = append([][]Glyph(nil), s.lines[drop:]...)
		s.altLines = append([][]Glyph(nil), s.altLines[drop:]...)
		s.cursor.Row -= drop
		for i := range s.stored {
			s.stored[i].Row = limit(s.stored[i].Row-drop, 0, rows-1)
		}
	}

	s.lines = resizeRows(s.lines, cols, rows)
	s.altLines = resizeRows(s.altLines, cols, rows)

	s.dirty = make([]bool, rows)

	oldCols := s.cols
	newTabs := make([]bool, cols)
	copy(newTabs, s.tabs)
	s.tabs = newTabs
	if cols > oldCols {
		// continue the tab stops from the last existing one
		i := oldCols - 1
		for i > 0 && !s.tabs[i] {
			i--
		}
		if i < 0 {
			i = 0
		}
		for i += s.tabSpaces; i < cols; i += s.tabSpaces {
			s.tabs[i] = true
		}
	}

	s.cols = cols
	s.rows = rows

	s.SetScroll(0, rows-1)
	s.MoveTo(Cell{Row: s.cursor.Row, Col: s.cursor.Col})

	// clear the cells outside the surviving region on both screens
	saved := s.cursor
	for i := 0; i < 2; i++ {
		if mincol < cols && minrow > 0 {
			s.clearRegion(mincol, 0, cols-1, minrow-1)
		}
		if minrow < rows {
			s.clearRegion(0, minrow, cols-1, rows-1)
		}
		s.SwapScreen()
		s.LoadCursor()
	}
	s.cursor = saved
}

func resizeRows(rows [][]Glyph, cols, n int) [][]Glyph {
	if len(rows) > n {
		rows = rows[:n]
	}
	for len(rows) < n {
		rows = append(rows, nil)
	}
	for i := range rows {
		if len(rows[i]) > cols {
			rows[i] = rows[i][:cols]
			continue
		}
		for len(rows[i]) < cols {
			rows[i] = append(rows[i], Glyph{U: EmptyChar})
		}
	}
	return rows
}

// SwapScreen exchanges the primary and alternate buffers and dirties
// every row.
func (s *Screen) SwapScreen() {
	s.lines, s.altLines = s.altLines, s.lines
	s.alt = !s.alt
	s.SetDirty()
}

// SaveCursor stores the cursor for the active screen.
func (s *Screen) SaveCursor() {
	s.stored[s.storedIdx()] = s.cursor
}

// LoadCursor restores the cursor stored for the active screen.
func (s *Screen) LoadCursor() {
	s.cursor = s.stored[s.storedIdx()]
	s.MoveTo(Cell{Row: s.cursor.Row, Col: s.cursor.Col})
}

func (s *Screen) storedIdx() int {
	if s.alt {
		return 1
	}
	return 0
}

// Clear erases the whole screen with cursor colors.
func (s *Screen) Clear() {
	s.ClearRegion(Cell{0, 0}, Cell{s.rows - 1, s.cols - 1})
}

// ClearRegion erases the inclusive range after normalizing and
// clamping it. Erased cells keep the cursor's colors; an overlapping
// selection is cleared.
func (s *Screen) ClearRegion(begin, end Cell) {
	s.clearRegion(begin.Col, begin.Row, end.Col, end.Row)
}

func (s *Screen) clearRegion(col1, row1, col2, row2 int) {
	if col1 > col2 {
		col1, col2 = col2, col1
	}
	if row1 > row2 {
		row1, row2 = row2, row1
	}

	col1 = limit(col1, 0, s.cols-1)
	col2 = limit(col2, 0, s.cols-1)
	row1 = limit(row1, 0, s.rows-1)
	row2 = limit(row2, 0, s.rows-1)

	for row := row1; row <= row2; row++ {
		s.dirty[row] = true
		for col := col1; col <= col2; col++ {
			if s.sel.Hit(col, row) {
				s.SelClear()
			}
			g := &s.lines[row][col]
			g.FG = s.cursor.Attr.FG
			g.BG = s.cursor.Attr.BG
			g.Attr = 0
			g.U = EmptyChar
		}
	}

	event.Publish(s.bus, event.Refresh{})
}

// Newline advances the cursor a row, scrolling when it sits on the
// bottom of the scroll region.
func (s *Screen) Newline(firstCol bool) {
	row := s.cursor.Row

	if row == s.bot {
		s.ScrollUp(s.top, 1)
	} else {
		row++
	}

	col := s.cursor.Col
	if firstCol {
		col = 0
	}
	s.MoveTo(Cell{Row: row, Col: col})
}

// DeleteLine removes n lines at the cursor when it is inside the
// scroll region.
func (s *Screen) DeleteLine(n int) {
	if s.top <= s.cursor.Row && s.cursor.Row <= s.bot {
		s.ScrollUp(s.cursor.Row, n)
	}
}

// InsertBlankLine opens n blank lines at the cursor when it is inside
// the scroll region.
func (s *Screen) InsertBlankLine(n int) {
	if s.top <= s.cursor.Row && s.cursor.Row <= s.bot {
		s.ScrollDown(s.cursor.Row, n)
	}
}

// DeleteChar slides the remainder of the cursor row left over n cells.
func (s *Screen) DeleteChar(n int) {
	n = limit(n, 0, s.cols-s.cursor.Col)
	if n == 0 {
		return
	}

	dst := s.cursor.Col
	src := s.cursor.Col + n
	line := s.lines[s.cursor.Row]

	copy(line[dst:], line[src:])
	s.clearRegion(s.cols-n, s.cursor.Row, s.cols-1, s.cursor.Row)
}

// InsertBlank opens n blank cells at the cursor, sliding the rest of
// the row right.
func (s *Screen) InsertBlank(n int) {
	n = limit(n, 0, s.cols-s.cursor.Col)
	if n == 0 {
		return
	}

	line := s.lines[s.cursor.Row]
	copy(line[s.cursor.Col+n:], line[s.cursor.Col:s.cols-n])
	s.clearRegion(s.cursor.Col, s.cursor.Row, s.cursor.Col+n-1, s.cursor.Row)
}

// SetScroll clamps and sorts the scroll limits.
func (s *Screen) SetScroll(t, b int) {
	t = limit(t, 0, s.rows-1)
	b = limit(b, 0, s.rows-1)
	if t > b {
		t, b = b, t
	}
	s.top = t
	s.bot = b
}

// ScrollUp rotates rows [orig, bot] up by n, clearing the vacated
// bottom rows.
func (s *Screen) ScrollUp(orig, n int) {
	n = limit(n, 0, s.bot-orig+1)
	if n == 0 {
		return
	}

	s.clearRegion(0, orig, s.cols-1, orig+n-1)
	s.SetDirtyRange(orig+n, s.bot)

	for i := orig; i <= s.bot-n; i++ {
		s.lines[i], s.lines[i+n] = s.lines[i+n], s.lines[i]
	}

	s.SelScroll(orig, -n)
}

// ScrollDown rotates rows [orig, bot] down by n, clearing the vacated
// top rows.
func (s *Screen) ScrollDown(orig, n int) {
	n = limit(n, 0, s.bot-orig+1)
	if n == 0 {
		return
	}

	s.SetDirtyRange(orig, s.bot-n)
	s.clearRegion(0, s.bot-n+1, s.cols-1, s.bot)

	for i := s.bot; i >= orig+n; i-- {
		s.lines[i], s.lines[i-n] = s.lines[i-n], s.lines[i]
	}

	s.SelScroll(orig, n)
}

// MoveTo places the cursor, clamping the row to the scroll region when
// the origin bit is set. Clears the pending wrap.
func (s *Screen) MoveTo(c Cell) {
	minrow, maxrow := 0, s.rows-1
	if s.cursor.State&CursorOrigin != 0 {
		minrow, maxrow = s.top, s.bot
	}

	s.cursor.State &^= CursorWrapNext
	s.cursor.Col = limit(c.Col, 0, s.cols-1)
	s.cursor.Row = limit(c.Row, minrow, maxrow)

	event.Publish(s.bus, event.Refresh{})
}

// MoveATo performs an absolute move, offset by the scroll region when
// the origin bit is set.
func (s *Screen) MoveATo(c Cell) {
	row := c.Row
	if s.cursor.State&CursorOrigin != 0 {
		row += s.top
	}
	s.MoveTo(Cell{Row: row, Col: c.Col})
}

// PutTab moves the cursor forward (n > 0) or back (n < 0) by n tab
// stops.
func (s *Screen) PutTab(n int) {
	col := s.cursor.Col

	if n > 0 {
		for col < s.cols && n > 0 {
			n--
			for col++; col < s.cols && !s.tabs[col]; col++ {
			}
		}
	} else if n < 0 {
		for col > 0 && n < 0 {
			n++
			for col--; col > 0 && !s.tabs[col]; col-- {
			}
		}
	}

	s.cursor.Col = limit(col, 0, s.cols-1)
}

// SetTabStop marks a tab stop at the cursor column.
func (s *Screen) SetTabStop() { s.tabs[s.cursor.Col] = true }

// ClearTabStop removes the tab stop at the cursor column.
func (s *Screen) ClearTabStop() { s.tabs[s.cursor.Col] = false }

// ClearAllTabStops removes every tab stop.
func (s *Screen) ClearAllTabStops() {
	for i := range s.tabs {
		s.tabs[i] = false
	}
}

// ResetTabStops restores the regular tab grid.
func (s *Screen) ResetTabStops() {
	for i := range s.tabs {
		s.tabs[i] = i != 0 && i%s.tabSpaces == 0
	}
}

// LineLen returns the index one past the last non-empty cell, or the
// full width for wrapped lines.
func (s *Screen) LineLen(row int) int {
	i := s.cols

	if s.lines[row][i-1].Attr.Has(AttrWrap) {
		return i
	}

	for i > 0 && s.lines[row][i-1].U == EmptyChar {
		i--
	}

	return i
}

// IsDirty reports the row's dirty flag.
func (s *Screen) IsDirty(row int) bool { return s.dirty[row] }

// SetDirty marks every row dirty.
func (s *Screen) SetDirty() { s.SetDirtyRange(0, s.rows-1) }

// SetDirtyRange marks rows [top, bot] dirty and publishes a Refresh.
func (s *Screen) SetDirtyRange(top, bot int) {
	top = limit(top, 0, s.rows-1)
	bot = limit(bot, 0, s.rows-1)

	for i := top; i <= bot; i++ {
		s.dirty[i] = true
	}

	event.Publish(s.bus, event.Refresh{})
}

// ClearDirty resets the row's dirty flag after a draw.
func (s *Screen) ClearDirty(row int) { s.dirty[row] = false }

// SelClear drops any selection and dirties its rows.
func (s *Screen) SelClear() {
	if s.sel.IsEmpty() {
		return
	}
	s.sel.Mode = SelIdle
	s.sel.Ob.Col = -1
	s.SetDirtyRange(s.sel.Nb.Row, s.sel.Ne.Row)
}

// SelScroll shifts the selection anchors with scrolled content,
// clearing the selection when it leaves the scroll region.
func (s *Screen) SelScroll(orig, n int) {
	if s.sel.IsEmpty() {
		return
	}

	if !(orig <= s.sel.Ob.Row && s.sel.Ob.Row <= s.bot) &&
		!(orig <= s.sel.Oe.Row && s.sel.Oe.Row <= s.bot) {
		return
	}

	s.sel.Ob.Row += n
	s.sel.Oe.Row += n
	if s.sel.Ob.Row > s.bot || s.sel.Oe.Row < s.top {
		s.SelClear()
		return
	}

	if s.sel.Type == SelRectangular {
		if s.sel.Ob.Row < s.top {
			s.sel.Ob.Row = s.top
		}
		if s.sel.Oe.Row > s.bot {
			s.sel.Oe.Row = s.bot
		}
	} else {
		if s.sel.Ob.Row < s.top {
			s.sel.Ob.Row = s.top
			s.sel.Ob.Col = 0
		}
		if s.sel.Oe.Row > s.bot {
			s.sel.Oe.Row = s.bot
			s.sel.Oe.Col = s.cols
		}
	}
	s.SelNormalize()
}

// SelNormalize recomputes the normalized endpoints from the originals.
// It is idempotent: the anchors are never mutated.
func (s *Screen) SelNormalize() {
	if s.sel.Type == SelRegular && s.sel.Ob.Row != s.sel.Oe.Row {
		if s.sel.Ob.Row < s.sel.Oe.Row {
			s.sel.Nb.Col = s.sel.Ob.Col
			s.sel.Ne.Col = s.sel.Oe.Col
		} else {
			s.sel.Nb.Col = s.sel.Oe.Col
			s.sel.Ne.Col = s.sel.Ob.Col
		}
	} else {
		s.sel.Nb.Col = min(s.sel.Ob.Col, s.sel.Oe.Col)
		s.sel.Ne.Col = max(s.sel.Ob.Col, s.sel.Oe.Col)
	}
	s.sel.Nb.Row = min(s.sel.Ob.Row, s.sel.Oe.Row)
	s.sel.Ne.Row = max(s.sel.Ob.Row, s.sel.Oe.Row)

	s.SelSnap(&s.sel.Nb, -1)
	s.SelSnap(&s.sel.Ne, +1)

	// expand selection over line breaks
	if s.sel.Type == SelRectangular {
		return
	}
	i := s.LineLen(s.sel.Nb.Row)
	if i < s.sel.Nb.Col {
		s.sel.Nb.Col = i
	}
	if s.LineLen(s.sel.Ne.Row) <= s.sel.Ne.Col {
		s.sel.Ne.Col = s.cols - 1
	}
}

// SelSnap extends c in direction until it hits a word or line
// boundary, depending on the selection's snap mode.
func (s *Screen) SelSnap(c *Cell, direction int) {
	switch s.sel.Snap {
	case SnapWord:
		// Walk across wrapped row joins; stop on a delimiter change.
		prevg := s.lines[c.Row][c.Col]
		prevDelim := s.isDelim(prevg.U)
		for {
			newcol := c.Col + direction
			newrow := c.Row
			if newcol < 0 || newcol > s.cols-1 {
				newrow += direction
				newcol = ((newcol % s.cols) + s.cols) % s.cols
				if newrow < 0 || newrow > s.rows-1 {
					break
				}

				var rowt, colt int
				if direction > 0 {
					rowt, colt = c.Row, c.Col
				} else {
					rowt, colt = newrow, newcol
				}
				if !s.lines[rowt][colt].Attr.Has(AttrWrap) {
					break
				}
			}

			if newcol >= s.LineLen(newrow) {
				break
			}

			g := s.lines[newrow][newcol]
			delim := s.isDelim(g.U)
			if !g.Attr.Has(AttrWdummy) &&
				(delim != prevDelim || (delim && g.U != prevg.U)) {
				break
			}

			c.Col = newcol
			c.Row = newrow
			prevg = g
			prevDelim = delim
		}

	case SnapLine:
		// Extend across rows joined by a trailing wrap flag.
		if direction < 0 {
			c.Col = 0
			for ; c.Row > 0; c.Row += direction {
				if !s.lines[c.Row-1][s.cols-1].Attr.Has(AttrWrap) {
					break
				}
			}
		} else if direction > 0 {
			c.Col = s.cols - 1
			for ; c.Row < s.rows-1; c.Row += direction {
				if !s.lines[c.Row][s.cols-1].Attr.Has(AttrWrap) {
					break
				}
			}
		}
	}
}

// Selected reports whether the cell is inside the current selection.
func (s *Screen) Selected(col, row int) bool { return s.sel.Hit(col, row) }

// ExtractSel returns the selected text with \n line endings, skipping
// wide-character placeholder cells.
func (s *Screen) ExtractSel() string {
	if s.sel.IsEmpty() {
		return ""
	}

	var b strings.Builder
	var enc []byte

	for row := s.sel.Nb.Row; row <= s.sel.Ne.Row; row++ {
		llen := s.LineLen(row)
		if llen == 0 {
			b.WriteByte('\n')
			continue
		}

		var first, lastcol int
		if s.sel.Type == SelRectangular {
			first = s.sel.Nb.Col
			lastcol = s.sel.Ne.Col
		} else {
			if s.sel.Nb.Row == row {
				first = s.sel.Nb.Col
			}
			lastcol = s.cols - 1
			if s.sel.Ne.Row == row {
				lastcol = s.sel.Ne.Col
			}
		}

		last := min(lastcol, llen-1)
		for last >= first && s.lines[row][last].U == EmptyChar {
			last--
		}

		for col := first; col <= last; col++ {
			g := s.lines[row][col]
			if g.Attr.Has(AttrWdummy) {
				continue
			}
			enc = codec.Encode(enc[:0], g.U)
			b.Write(enc)
		}

		// use \n for line endings in extracted data
		if (row < s.sel.Ne.Row || lastcol >= llen) &&
			(last < first || !s.lines[row][last].Attr.Has(AttrWrap)) {
			b.WriteByte('\n')
		}
	}

	return b.String()
}
