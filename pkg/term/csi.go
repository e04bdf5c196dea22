package term

import (
	"fmt"
	"strconv"

	"github.com/kestrelterm/kestrel/pkg/event"
	"github.com/kestrelterm/kestrel/pkg/screen"
)

// csiEscape holds one CSI sequence: ESC '[' [?] args ';'-separated,
// then a final byte with an optional intermediate before it.
type csiEscape struct {
	buf  []byte
	priv bool
	args []int
	mode [2]byte
}

func (t *Term) csiReset() {
	t.csiesc = csiEscape{buf: t.csiesc.buf[:0], args: t.csiesc.args[:0]}
}

// csiParse splits the buffered sequence into its private flag,
// numeric arguments and final byte(s). Unparsable or overflowing
// arguments become -1 and are clamped by the handlers.
func (t *Term) csiParse() {
	e := &t.csiesc
	e.priv = false
	e.args = e.args[:0]
	e.mode[0], e.mode[1] = 0, 0

	p := e.buf
	if len(p) == 0 {
		return
	}

	if p[0] == '?' {
		e.priv = true
		p = p[1:]
	}

	for len(p) > 0 {
		i := 0
		for i < len(p) && '0' <= p[i] && p[i] <= '9' {
			i++
		}

		v := 0
		if i > 0 {
			parsed, err := strconv.ParseInt(string(p[:i]), 10, 32)
			if err != nil {
				v = -1
			} else {
				v = int(parsed)
			}
		}
		e.args = append(e.args, v)

		p = p[i:]
		if len(p) == 0 || p[0] != ';' || len(e.args) == escArgSize {
			break
		}
		p = p[1:]
	}

	if len(p) > 0 {
		e.mode[0] = p[0]
		if len(p) > 1 {
			e.mode[1] = p[1]
		}
	}
}

// arg returns argument i with def substituted for missing or zero
// values.
func (e *csiEscape) arg(i, def int) int {
	if i >= len(e.args) || e.args[i] <= 0 {
		return def
	}
	return e.args[i]
}

func (t *Term) csiHandle() {
	e := &t.csiesc
	scr := t.scr
	cur := scr.Cursor()

	switch e.mode[0] {
	case '@': // ICH -- insert n blanks
		scr.InsertBlank(e.arg(0, 1))
	case 'A': // CUU
		scr.MoveTo(screen.Cell{Row: cur.Row - e.arg(0, 1), Col: cur.Col})
	case 'B', 'e': // CUD, VPR
		scr.MoveTo(screen.Cell{Row: cur.Row + e.arg(0, 1), Col: cur.Col})
	case 'i': // MC -- media copy
		switch e.arg(0, 0) {
		case 4:
			t.mode &^= ModePrint
			event.Publish(t.bus, event.SetPrintMode{Enable: false})
		case 5:
			t.mode |= ModePrint
			event.Publish(t.bus, event.SetPrintMode{Enable: true})
		}
	case 'c': // DA
		if e.arg(0, 0) == 0 {
			t.Send([]byte(t.cfg.TermID))
		}
	case 'C', 'a': // CUF, HPR
		scr.MoveTo(screen.Cell{Row: cur.Row, Col: cur.Col + e.arg(0, 1)})
	case 'D': // CUB
		scr.MoveTo(screen.Cell{Row: cur.Row, Col: cur.Col - e.arg(0, 1)})
	case 'E': // CNL
		scr.MoveTo(screen.Cell{Row: cur.Row + e.arg(0, 1), Col: 0})
	case 'F': // CPL
		scr.MoveTo(screen.Cell{Row: cur.Row - e.arg(0, 1), Col: 0})
	case 'g': // TBC
		switch e.arg(0, 0) {
		case 0:
			scr.ClearTabStop()
		case 3:
			scr.ClearAllTabStops()
		default:
			t.csiUnknown()
		}
	case 'G', '`': // CHA, HPA
		scr.MoveTo(screen.Cell{Row: cur.Row, Col: e.arg(0, 1) - 1})
	case 'H', 'f': // CUP, HVP
		scr.MoveATo(screen.Cell{Row: e.arg(0, 1) - 1, Col: e.arg(1, 1) - 1})
	case 'I': // CHT
		scr.PutTab(e.arg(0, 1))
	case 'J': // ED
		scr.SelClear()
		switch e.arg(0, 0) {
		case 0: // below
			scr.ClearRegion(screen.Cell{Row: cur.Row, Col: cur.Col},
				screen.Cell{Row: cur.Row, Col: scr.Cols() - 1})
			if cur.Row < scr.Rows()-1 {
				scr.ClearRegion(screen.Cell{Row: cur.Row + 1},
					screen.Cell{Row: scr.Rows() - 1, Col: scr.Cols() - 1})
			}
		case 1: // above
			if cur.Row > 0 {
				scr.ClearRegion(screen.Cell{},
					screen.Cell{Row: cur.Row - 1, Col: scr.Cols() - 1})
			}
			scr.ClearRegion(screen.Cell{Row: cur.Row},
				screen.Cell{Row: cur.Row, Col: cur.Col})
		case 2: // all
			scr.ClearRegion(screen.Cell{},
				screen.Cell{Row: scr.Rows() - 1, Col: scr.Cols() - 1})
		default:
			t.csiUnknown()
		}
	case 'K': // EL
		switch e.arg(0, 0) {
		case 0: // right
			scr.ClearRegion(screen.Cell{Row: cur.Row, Col: cur.Col},
				screen.Cell{Row: cur.Row, Col: scr.Cols() - 1})
		case 1: // left
			scr.ClearRegion(screen.Cell{Row: cur.Row},
				screen.Cell{Row: cur.Row, Col: cur.Col})
		case 2: // whole line
			scr.ClearRegion(screen.Cell{Row: cur.Row},
				screen.Cell{Row: cur.Row, Col: scr.Cols() - 1})
		}
	case 'S': // SU
		scr.ScrollUp(scr.Top(), e.arg(0, 1))
	case 'T': // SD
		scr.ScrollDown(scr.Top(), e.arg(0, 1))
	case 'L': // IL
		scr.InsertBlankLine(e.arg(0, 1))
	case 'l': // RM
		t.setMode(e.priv, false, e.args)
	case 'M': // DL
		scr.DeleteLine(e.arg(0, 1))
	case 'X': // ECH
		scr.ClearRegion(screen.Cell{Row: cur.Row, Col: cur.Col},
			screen.Cell{Row: cur.Row, Col: cur.Col + e.arg(0, 1) - 1})
	case 'P': // DCH
		scr.DeleteChar(e.arg(0, 1))
	case 'Z': // CBT
		scr.PutTab(-e.arg(0, 1))
	case 'd': // VPA
		scr.MoveATo(screen.Cell{Row: e.arg(0, 1) - 1, Col: cur.Col})
	case 'h': // SM
		t.setMode(e.priv, true, e.args)
	case 'm': // SGR
		t.setAttr(e.args)
	case 'n': // DSR
		if e.arg(0, 0) == 6 {
			t.Send([]byte(fmt.Sprintf("\033[%d;%dR", cur.Row+1, cur.Col+1)))
		}
	case 'r': // DECSTBM
		if e.priv {
			t.csiUnknown()
		} else {
			scr.SetScroll(e.arg(0, 1)-1, e.arg(1, scr.Rows())-1)
			scr.MoveATo(screen.Cell{})
		}
	case 's': // DECSC
		scr.SaveCursor()
	case 'u': // DECRC
		scr.LoadCursor()
	case ' ':
		if e.mode[1] == 'q' { // DECSCUSR
			t.setCursorStyle(e.arg(0, 1))
		} else {
			t.csiUnknown()
		}
	default:
		t.csiUnknown()
	}
}

func (t *Term) setCursorStyle(style int) {
	switch style {
	case 2:
		t.scr.SetCursorStyle(screen.CursorSteadyBlock)
	case 3:
		t.scr.SetCursorStyle(screen.CursorBlinkUnder)
		t.startBlink()
	case 4:
		t.scr.SetCursorStyle(screen.CursorSteadyUnder)
	case 5:
		t.scr.SetCursorStyle(screen.CursorBlinkBar)
		t.startBlink()
	case 6:
		t.scr.SetCursorStyle(screen.CursorSteadyBar)
	case 0, 1:
		t.scr.SetCursorStyle(screen.CursorBlinkBlock)
		t.startBlink()
	default:
		t.scr.SetCursorStyle(screen.CursorBlinkBlock)
		t.startBlink()
		log.Errorf("unknown cursor style %d", style)
	}
}

func (t *Term) csiUnknown() {
	log.Errorf("unknown csi %c: %s", t.csiesc.mode[0], t.csiDump())
}

func (t *Term) csiDump() string {
	out := []byte("ESC[")
	for _, c := range t.csiesc.buf {
		switch {
		case 0x20 <= c && c < 0x7F:
			out = append(out, c)
		case c == '\n':
			out = append(out, `(\n)`...)
		case c == '\r':
			out = append(out, `(\r)`...)
		case c == 0x1B:
			out = append(out, `(\e)`...)
		default:
			out = append(out, fmt.Sprintf("(0x%02X)", c)...)
		}
	}
	return string(out)
}

// parseColor consumes an extended-color spec (38/48;5;idx or
// 38/48;2;r;g;b) starting at *i and returns the resulting color, or
// false on a malformed spec.
func (t *Term) parseColor(args []int, i *int) (screen.Color, bool) {
	if *i+1 >= len(args) {
		log.Errorf("erresc: incomplete extended color: %s", t.csiDump())
		return 0, false
	}
	*i++
	switch args[*i] {
	case 2: // direct color
		if *i+3 >= len(args) {
			log.Errorf("erresc: incomplete rgb color: %s", t.csiDump())
			return 0, false
		}
		r, g, b := args[*i+1], args[*i+2], args[*i+3]
		*i += 3
		if r < 0 || r > 255 || g < 0 || g > 255 || b < 0 || b > 255 {
			log.Errorf("erresc: bad rgb color (%d,%d,%d)", r, g, b)
			return 0, false
		}
		return screen.FromRGB(uint8(r), uint8(g), uint8(b)), true
	case 5: // indexed color
		if *i+1 >= len(args) {
			log.Errorf("erresc: incomplete indexed color: %s", t.csiDump())
			return 0, false
		}
		*i++
		idx := args[*i]
		if idx < 0 || idx > 255 {
			log.Errorf("erresc: bad color index %d", idx)
			return 0, false
		}
		return screen.Color(idx), true
	default:
		log.Errorf("erresc: unknown color kind %d: %s", args[*i], t.csiDump())
		return 0, false
	}
}

const styleAttrs = screen.AttrBold | screen.AttrFaint | screen.AttrItalic |
	screen.AttrUnderline | screen.AttrBlink | screen.AttrReverse |
	screen.AttrInvisible | screen.AttrStruck

// setAttr applies SGR parameters to the cursor attributes.
func (t *Term) setAttr(args []int) {
	if len(args) == 0 {
		args = []int{0}
	}

	attr := &t.scr.Cursor().Attr
	for i := 0; i < len(args); i++ {
		switch a := args[i]; a {
		case 0:
			attr.Attr &^= styleAttrs
			attr.FG = t.deffg
			attr.BG = t.defbg
		case 1:
			attr.Attr |= screen.AttrBold
		case 2:
			attr.Attr |= screen.AttrFaint
		case 3:
			attr.Attr |= screen.AttrItalic
		case 4:
			attr.Attr |= screen.AttrUnderline
		case 5, 6: // slow and rapid blink
			attr.Attr |= screen.AttrBlink
		case 7:
			attr.Attr |= screen.AttrReverse
		case 8:
			attr.Attr |= screen.AttrInvisible
		case 9:
			attr.Attr |= screen.AttrStruck
		case 22:
			attr.Attr &^= screen.AttrBold | screen.AttrFaint
		case 23:
			attr.Attr &^= screen.AttrItalic
		case 24:
			attr.Attr &^= screen.AttrUnderline
		case 25:
			attr.Attr &^= screen.AttrBlink
		case 27:
			attr.Attr &^= screen.AttrReverse
		case 28:
			attr.Attr &^= screen.AttrInvisible
		case 29:
			attr.Attr &^= screen.AttrStruck
		case 38:
			if fg, ok := t.parseColor(args, &i); ok {
				attr.FG = fg
			}
		case 39:
			attr.FG = t.deffg
		case 48:
			if bg, ok := t.parseColor(args, &i); ok {
				attr.BG = bg
			}
		case 49:
			attr.BG = t.defbg
		default:
			switch {
			case 30 <= a && a <= 37:
				attr.FG = screen.Color(a - 30)
			case 40 <= a && a <= 47:
				attr.BG = screen.Color(a - 40)
			case 90 <= a && a <= 97:
				attr.FG = screen.Color(a - 90 + 8)
			case 100 <= a && a <= 107:
				attr.BG = screen.Color(a - 100 + 8)
			default:
				log.Errorf("erresc(default): gfx attr %d unknown, %s", a, t.csiDump())
			}
		}
	}
}

// setMode handles SM and RM for both private and ANSI modes.
func (t *Term) setMode(priv, set bool, args []int) {
	for _, a := range args {
		if priv {
			t.setPrivMode(a, set)
		} else {
			t.setANSIMode(a, set)
		}
	}
}

func (t *Term) setBit(m Mode, set bool) {
	if set {
		t.mode |= m
	} else {
		t.mode &^= m
	}
}

func (t *Term) setPrivMode(a int, set bool) {
	cur := t.scr.Cursor()

	switch a {
	case 1: // DECCKM -- application cursor keys
		t.setBit(ModeAppCursor, set)
	case 5: // DECSCNM -- reverse video
		old := t.mode
		t.setBit(ModeReverse, set)
		if old != t.mode {
			event.Publish(t.bus, event.Refresh{})
		}
	case 6: // DECOM -- origin
		if set {
			cur.State |= screen.CursorOrigin
		} else {
			cur.State &^= screen.CursorOrigin
		}
		t.scr.MoveATo(screen.Cell{})
	case 7: // DECAWM -- auto wrap
		t.setBit(ModeWrap, set)
	case 0, 2, 3, 4, 8, 18, 19, 42, 12:
		// unsupported DEC modes are ignored
	case 25: // DECTCEM -- cursor visibility, inverted
		t.setBit(ModeHide, !set)
	case 9: // X10 mouse compatibility
		t.mode &^= mouseModes
		t.setBit(ModeMouseX10, set)
	case 1000: // report button press and release
		t.mode &^= mouseModes
		t.setBit(ModeMouseBtn, set)
	case 1002: // report motion on button press
		t.mode &^= mouseModes
		t.setBit(ModeMouseMotion, set)
	case 1003: // report all motion
		t.mode &^= mouseModes
		t.setBit(ModeMouseMany, set)
	case 1004: // focus events
		t.setBit(ModeFocus, set)
	case 1006: // SGR extended reporting
		t.setBit(ModeMouseSGR, set)
	case 1034:
		t.setBit(Mode8Bit, set)
	case 1049: // alternate screen with cursor save/restore
		if !t.allowAltScreen() {
			break
		}
		t.cursorSaveLoad(set)
		t.altScreenToggle(set)
		t.cursorSaveLoad(set)
	case 47, 1047: // alternate screen
		if !t.allowAltScreen() {
			break
		}
		t.altScreenToggle(set)
	case 1048:
		t.cursorSaveLoad(set)
	case 2004: // bracketed paste
		t.setBit(ModeBrcktPaste, set)
	case 1001, 1005, 1015:
		log.Warnf("unsupported mouse mode requested %d", a)
	default:
		log.Errorf("erresc: unknown private set/reset mode %d", a)
	}
}

func (t *Term) setANSIMode(a int, set bool) {
	switch a {
	case 0: // error, ignored
	case 2: // KAM -- keyboard action
		t.setBit(ModeKbdLock, set)
	case 4: // IRM -- insertion-replacement
		t.setBit(ModeInsert, set)
	case 12: // SRM -- send/receive, inverted
		t.setBit(ModeEcho, !set)
	case 20: // LNM -- linefeed/newline
		t.setBit(ModeCRLF, set)
	default:
		log.Errorf("erresc: unknown set/reset mode %d", a)
	}
}

func (t *Term) cursorSaveLoad(save bool) {
	if save {
		t.scr.SaveCursor()
	} else {
		t.scr.LoadCursor()
	}
}

// altScreenToggle switches between the primary and alternate screen,
// clearing the alternate on the way out.
func (t *Term) altScreenToggle(set bool) {
	alt := t.mode.Has(ModeAltScreen)
	if alt {
		t.scr.ClearRegion(screen.Cell{},
			screen.Cell{Row: t.scr.Rows() - 1, Col: t.scr.Cols() - 1})
	}
	if set != alt {
		t.swapScreen()
	}
}
