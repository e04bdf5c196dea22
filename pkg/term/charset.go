package term

import (
	"github.com/kestrelterm/kestrel/pkg/screen"
)

// vt100Graphics maps 0x41-0x7E to the DEC special graphics set. The
// table is proudly stolen from st, where it was stolen from rxvt.
var vt100Graphics = [62]rune{
	'↑', '↓', '→', '←', '█', '▚', '☃', // A - G
	0, 0, 0, 0, 0, 0, 0, 0, // H - O
	0, 0, 0, 0, 0, 0, 0, 0, // P - W
	0, 0, 0, 0, 0, 0, 0, ' ', // X - _
	'◆', '▒', '␉', '␌', '␍', '␊', '°', '±', // ` - g
	'␤', '␋', '┘', '┐', '┌', '└', '┼', '⎺', // h - o
	'⎻', '─', '⎼', '⎽', '├', '┤', '┴', '┬', // p - w
	'│', '≤', '≥', 'π', '≠', '£', '·', // x - ~
}

// setChar writes u at (col, row) with the given attributes, applying
// the active charset translation and fixing up any wide pair the write
// lands on.
func (t *Term) setChar(u rune, attr *screen.Glyph, col, row int) {
	if t.trantbl[t.charset] == csGraphic0 && 0x41 <= u && u <= 0x7E &&
		vt100Graphics[u-0x41] != 0 {
		u = vt100Graphics[u-0x41]
	}

	line := t.scr.Line(row)
	if line[col].Attr.Has(screen.AttrWide) {
		if col+1 < t.scr.Cols() {
			line[col+1].U = screen.EmptyChar
			line[col+1].Attr &^= screen.AttrWdummy
		}
	} else if line[col].Attr.Has(screen.AttrWdummy) {
		line[col-1].U = screen.EmptyChar
		line[col-1].Attr &^= screen.AttrWide
	}

	g := *attr
	g.U = u
	t.scr.SetGlyph(screen.Cell{Row: row, Col: col}, g)

	if attr.Attr.Has(screen.AttrBlink) {
		t.startBlink()
	}
}

// defTran applies a charset designation after ESC ( et al.
func (t *Term) defTran(b byte) {
	switch b {
	case '0':
		t.trantbl[t.icharset] = csGraphic0
	case 'B':
		t.trantbl[t.icharset] = csUSA
	default:
		log.Errorf("esc unhandled charset: ESC ( %c", b)
	}
}

// decTest handles ESC # sequences; only the DEC screen alignment test
// is implemented.
func (t *Term) decTest(b byte) {
	if b != '8' {
		return
	}
	cur := t.scr.Cursor()
	for col := 0; col < t.scr.Cols(); col++ {
		for row := 0; row < t.scr.Rows(); row++ {
			t.setChar('E', &cur.Attr, col, row)
		}
	}
}
