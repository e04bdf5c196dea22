// Package term implements the terminal engine: the escape-sequence
// state machine, mode bookkeeping, and the translation of the child's
// byte stream into screen mutations and outbound reports.
package term

import (
	"io"

	"github.com/mattn/go-runewidth"
	"github.com/sirupsen/logrus"

	"github.com/kestrelterm/kestrel/pkg/codec"
	"github.com/kestrelterm/kestrel/pkg/config"
	"github.com/kestrelterm/kestrel/pkg/event"
	"github.com/kestrelterm/kestrel/pkg/screen"
	"github.com/kestrelterm/kestrel/pkg/window"
)

var log = logrus.WithField("comp", "term")

// escape buffers cap out at 128*MaxBytes bytes; overflow is dropped
// silently, matching xterm tolerance.
const (
	escBufSize = 128 * codec.MaxBytes
	escArgSize = 16
)

// TimerCtrl is the slice of the reactor the engine drives: the cursor
// and cell blink timer.
type TimerCtrl interface {
	StartBlink()
	StopBlink()
}

// nopTimers is used until a reactor is attached.
type nopTimers struct{}

func (nopTimers) StartBlink() {}
func (nopTimers) StopBlink()  {}

// Term is the protocol interpreter. It owns the Screen and is not
// reentrant; the reactor serializes all calls.
type Term struct {
	cfg *config.Config
	bus *event.Bus
	scr *screen.Screen
	win window.Window

	timers TimerCtrl
	out    io.Writer // pty write side
	prn    io.Writer // I/O tee, nil unless print mode is wired

	mode Mode
	esc  escFlags

	csiesc csiEscape
	stresc strEscape

	charset  int // current translation slot
	icharset int // slot being designated by an ESC ( sequence
	trantbl  [4]charset

	numlock bool
	focused bool

	deffg, defbg, defcs, defrcs screen.Color

	forceSelMods Mod

	// last reported mouse state
	oldButton int
	oCol, oRow int
}

// New builds a terminal with its screen at the given geometry.
func New(cfg *config.Config, bus *event.Bus, win window.Window, cols, rows int) *Term {
	t := &Term{
		cfg:     cfg,
		bus:     bus,
		scr:     screen.New(bus, cfg.TabSpaces),
		win:     win,
		timers:  nopTimers{},
		numlock: true,
		forceSelMods: parseMods(cfg.ForceSelMods),
		oldButton:    mouseRelease,
	}
	t.scr.SetWordDelimiters(cfg.WordDelimiters)
	t.scr.Sel().Clear()

	t.Resize(cols, rows)
	t.Reset()
	return t
}

// AttachOutput wires the pty write side for reports and echoes.
func (t *Term) AttachOutput(w io.Writer) { t.out = w }

// AttachPrinter wires the I/O tee target used in print mode.
func (t *Term) AttachPrinter(w io.Writer) { t.prn = w }

// AttachTimers wires the reactor's blink timer.
func (t *Term) AttachTimers(tc TimerCtrl) { t.timers = tc }

// Screen exposes the grid for the renderer and tests.
func (t *Term) Screen() *screen.Screen { return t.scr }

// Mode returns the current mode bitset.
func (t *Term) Mode() Mode { return t.mode }

func (t *Term) Rows() int { return t.scr.Rows() }
func (t *Term) Cols() int { return t.scr.Cols() }

// Default colors, for the renderer.
func (t *Term) DefFg() screen.Color  { return t.deffg }
func (t *Term) DefBg() screen.Color  { return t.defbg }
func (t *Term) DefCs() screen.Color  { return t.defcs }
func (t *Term) DefRcs() screen.Color { return t.defrcs }

// Focused reports input focus.
func (t *Term) Focused() bool { return t.focused }

// Reset returns the terminal to its initial state, clearing both
// screens. Print mode survives, as it is wired to the -o option.
func (t *Term) Reset() {
	t.deffg = screen.Color(t.cfg.DefaultFg)
	t.defbg = screen.Color(t.cfg.DefaultBg)
	t.defcs = screen.Color(t.cfg.DefaultCs)
	t.defrcs = screen.Color(t.cfg.DefaultRcs)

	cur := t.scr.Cursor()
	*cur = screen.Cursor{}
	cur.Attr.U = screen.EmptyChar
	cur.Attr.FG = t.deffg
	cur.Attr.BG = t.defbg

	t.scr.ResetTabStops()
	t.scr.SetCursorStyle(screen.ParseCursorStyle(t.cfg.CursorType))
	t.scr.SetScroll(0, t.scr.Rows()-1)

	printing := t.mode.Has(ModePrint)
	t.mode = ModeWrap | ModeUTF8
	if printing {
		t.mode |= ModePrint
	}

	t.esc = 0
	for i := range t.trantbl {
		t.trantbl[i] = csUSA
	}
	t.charset = 0
	t.icharset = 0

	for i := 0; i < 2; i++ {
		t.scr.MoveTo(screen.Cell{})
		t.scr.SaveCursor()
		t.scr.ClearRegion(screen.Cell{}, screen.Cell{Row: t.scr.Rows() - 1, Col: t.scr.Cols() - 1})
		t.swapScreen()
	}

	if t.scr.CursorStyle().Blinks() {
		t.startBlink()
	}
}

// Resize changes the grid geometry.
func (t *Term) Resize(cols, rows int) {
	t.scr.Resize(cols, rows)
}

// SetPrint enables print mode (the -o tee).
func (t *Term) SetPrint() { t.mode |= ModePrint }

func (t *Term) swapScreen() {
	t.scr.SwapScreen()
	t.mode ^= ModeAltScreen
}

func (t *Term) allowAltScreen() bool { return t.cfg.AltScreenAllowed() }

// Send writes a report to the child through the pty.
func (t *Term) Send(data []byte) {
	if t.out == nil {
		return
	}
	if _, err := t.out.Write(data); err != nil {
		log.Errorf("report write failed: %v", err)
	}
}

// Paste delivers pasted text to the child, wrapped in bracketed-paste
// markers when the child opted in.
func (t *Term) Paste(text string) {
	if t.mode.Has(ModeBrcktPaste) {
		t.Send([]byte("\033[200~"))
	}
	t.Send([]byte(text))
	if t.mode.Has(ModeBrcktPaste) {
		t.Send([]byte("\033[201~"))
	}
}

// SetFocused tracks window focus and reports it to the child when
// focus reporting is on.
func (t *Term) SetFocused(focused bool) {
	t.focused = focused

	if t.mode.Has(ModeFocus) {
		if focused {
			t.Send([]byte("\033[I"))
		} else {
			t.Send([]byte("\033[O"))
		}
	}

	event.Publish(t.bus, event.Refresh{})
}

// Blink flips the blink phase while any blinking cell or cursor
// remains, and stops the timer otherwise.
func (t *Term) Blink() {
	needBlink := t.scr.CursorStyle().Blinks()

	for row := 0; row < t.scr.Rows(); row++ {
		for _, g := range t.scr.Line(row) {
			if g.Attr.Has(screen.AttrBlink) {
				needBlink = true
				t.scr.SetDirtyRange(row, row)
				break
			}
		}
	}

	if needBlink {
		t.mode ^= ModeBlink
	} else {
		t.mode &^= ModeBlink
		t.timers.StopBlink()
	}

	event.Publish(t.bus, event.Refresh{})
}

// startBlink resets the phase so the cursor shows while the screen is
// being updated, then arms the timer.
func (t *Term) startBlink() {
	t.mode &^= ModeBlink
	t.timers.StartBlink()
}

func isControlC0(u rune) bool { return u <= 0x1F || u == 0x7F }
func isControlC1(u rune) bool { return 0x80 <= u && u <= 0x9F }
func isControl(u rune) bool   { return isControlC0(u) || isControlC1(u) }

// Put feeds one decoded codepoint to the escape state machine.
func (t *Term) Put(u rune) {
	var buf [codec.MaxBytes]byte
	var enc []byte
	width := 1

	control := isControl(u)

	if !t.mode.Has(ModeUTF8) && !t.mode.Has(ModeSixel) {
		enc = append(buf[:0], byte(u))
	} else {
		enc = codec.Encode(buf[:0], u)
		if !control {
			if width = runewidth.RuneWidth(u); width < 1 {
				width = 1
			}
		}
	}

	if t.mode.Has(ModePrint) && t.prn != nil {
		t.prn.Write(enc)
	}

	// A string sequence swallows every following character until it
	// sees BEL, CAN, SUB, ESC or any C1 control.
	if t.esc&escStr != 0 {
		if u == '\a' || u == 0x18 || u == 0x1A || u == 0x1B || isControlC1(u) {
			t.esc &^= escStart | escStr | escDCS
			if t.mode.Has(ModeSixel) {
				// swallowed sixel payload ends here
				t.mode &^= ModeSixel
				return
			}
			t.esc |= escStrEnd
			// fall through to the control dispatch below
		} else {
			if t.mode.Has(ModeSixel) {
				// swallow the payload
				return
			}
			if t.esc&escDCS != 0 && len(t.stresc.buf) == 0 && u == 'q' {
				t.mode |= ModeSixel
			}

			if len(t.stresc.buf)+len(enc) >= escBufSize {
				// Without a terminator we would stop responding; drop
				// the excess instead of failing the whole stream.
				return
			}
			t.stresc.buf = append(t.stresc.buf, enc...)
			return
		}
	}

	// Control codes act immediately, even inside a sequence; they are
	// never shown.
	if control {
		t.controlCode(u)
		return
	}

	if t.esc&escStart != 0 {
		switch {
		case t.esc&escCSI != 0:
			t.csiesc.buf = append(t.csiesc.buf, byte(u))
			if (0x40 <= u && u <= 0x7E) || len(t.csiesc.buf) >= escBufSize-1 {
				t.esc = 0
				t.csiParse()
				t.csiHandle()
			}
			return
		case t.esc&escUTF8 != 0:
			t.defUTF8(byte(u))
		case t.esc&escAltCharset != 0:
			t.defTran(byte(u))
		case t.esc&escTest != 0:
			t.decTest(byte(u))
		default:
			if !t.escHandle(byte(u)) {
				// sequence needs more characters
				return
			}
		}
		t.esc = 0
		return
	}

	sel := t.scr.Sel()
	cur := t.scr.Cursor()
	if sel.Ob.Col != -1 && sel.Ob.Row <= cur.Row && cur.Row <= sel.Oe.Row {
		t.scr.SelClear()
	}

	if t.mode.Has(ModeWrap) && cur.State&screen.CursorWrapNext != 0 {
		line := t.scr.Line(cur.Row)
		line[cur.Col].Attr |= screen.AttrWrap
		t.scr.Newline(true)
	}

	if t.mode.Has(ModeInsert) && cur.Col+width < t.scr.Cols() {
		line := t.scr.Line(cur.Row)
		copy(line[cur.Col+width:], line[cur.Col:t.scr.Cols()-width])
		t.scr.SetDirtyRange(cur.Row, cur.Row)
	}

	if cur.Col+width > t.scr.Cols() {
		t.scr.Newline(true)
	}

	t.setChar(u, &cur.Attr, cur.Col, cur.Row)

	if width == 2 {
		line := t.scr.Line(cur.Row)
		line[cur.Col].Attr |= screen.AttrWide
		if cur.Col+1 < t.scr.Cols() {
			line[cur.Col+1].U = 0
			line[cur.Col+1].Attr = screen.AttrWdummy
		}
	}

	if cur.Col+width < t.scr.Cols() {
		t.scr.MoveTo(screen.Cell{Row: cur.Row, Col: cur.Col + width})
	} else {
		cur.State |= screen.CursorWrapNext
	}
}

// controlCode dispatches C0 and C1 controls.
func (t *Term) controlCode(u rune) {
	switch u {
	case '\t': // HT
		t.scr.PutTab(1)
		return
	case '\b': // BS
		t.scr.MoveTo(screen.Cell{Row: t.scr.Cursor().Row, Col: t.scr.Cursor().Col - 1})
		return
	case '\r': // CR
		t.scr.MoveTo(screen.Cell{Row: t.scr.Cursor().Row, Col: 0})
		return
	case '\f', '\v', '\n': // FF, VT, LF
		t.scr.Newline(t.mode.Has(ModeCRLF))
		return
	case '\a': // BEL
		if t.esc&escStrEnd != 0 {
			// backwards compatibility to xterm
			t.strHandle()
		} else {
			if !t.focused {
				t.win.SetUrgent(true)
			}
			vol := limitInt(t.cfg.BellVolume, -100, 100)
			if vol != 0 {
				t.win.Bell(vol)
			}
		}
	case 0x1B: // ESC
		t.csiReset()
		t.esc &^= escCSI | escAltCharset | escTest
		t.esc |= escStart
		return
	case 0x0E, 0x0F: // SO, SI
		t.charset = 1 - int(u-0x0E)
		return
	case 0x1A: // SUB
		cur := t.scr.Cursor()
		t.setChar('?', &cur.Attr, cur.Col, cur.Row)
		t.csiReset()
	case 0x18: // CAN
		t.csiReset()
	case 0x05, 0x00, 0x11, 0x13, 0x7F:
		// ENQ, NUL, XON, XOFF, DEL are ignored
		return
	case 0x85: // NEL
		t.scr.Newline(true)
	case 0x88: // HTS
		t.scr.SetTabStop()
	case 0x9A: // DECID
		t.Send([]byte(t.cfg.TermID))
	case 0x90, 0x9D, 0x9E, 0x9F: // DCS, OSC, PM, APC
		t.strSequence(byte(u))
		return
	default:
		if 0x80 <= u && u <= 0x99 {
			// remaining C1 controls are ignored
			break
		}
		if u == 0x9B || u == 0x9C {
			break
		}
		return
	}

	// only CAN, SUB, BEL and C1 controls interrupt a string sequence
	t.esc &^= escStrEnd | escStr
}

// escHandle processes the byte after ESC. It reports true when the
// sequence is complete.
func (t *Term) escHandle(b byte) bool {
	switch b {
	case '[':
		t.esc |= escCSI
		return false
	case '#':
		t.esc |= escTest
		return false
	case '%':
		t.esc |= escUTF8
		return false
	case 'P', '_', '^', ']', 'k': // DCS, APC, PM, OSC, old title
		t.strSequence(b)
		return false
	case 'n', 'o': // LS2, LS3
		t.charset = 2 + int(b-'n')
	case '(', ')', '*', '+': // G0-G3 charset designators
		t.icharset = int(b - '(')
		t.esc |= escAltCharset
		return false
	case 'D': // IND
		if t.scr.Cursor().Row == t.scr.Bot() {
			t.scr.ScrollUp(t.scr.Top(), 1)
		} else {
			t.scr.MoveTo(screen.Cell{Row: t.scr.Cursor().Row + 1, Col: t.scr.Cursor().Col})
		}
	case 'E': // NEL
		t.scr.Newline(true)
	case 'H': // HTS
		t.scr.SetTabStop()
	case 'M': // RI
		if t.scr.Cursor().Row == t.scr.Top() {
			t.scr.ScrollDown(t.scr.Top(), 1)
		} else {
			t.scr.MoveTo(screen.Cell{Row: t.scr.Cursor().Row - 1, Col: t.scr.Cursor().Col})
		}
	case 'Z': // DECID
		t.Send([]byte(t.cfg.TermID))
	case 'c': // RIS
		t.Reset()
		t.win.SetTitle(t.cfg.Title)
	case '=': // DECPAM
		t.mode |= ModeAppKeypad
	case '>': // DECPNM
		t.mode &^= ModeAppKeypad
	case '7': // DECSC
		t.scr.SaveCursor()
	case '8': // DECRC
		t.scr.LoadCursor()
	case '\\': // ST
		if t.esc&escStrEnd != 0 {
			t.strHandle()
		}
	default:
		log.Errorf("unknown sequence ESC %#02x %q", b, printable(b))
	}
	return true
}

// defUTF8 handles ESC % -- UTF-8 select/deselect.
func (t *Term) defUTF8(b byte) {
	switch b {
	case 'G':
		t.mode |= ModeUTF8
	case '@':
		t.mode &^= ModeUTF8
	}
}

func printable(b byte) byte {
	if 0x20 <= b && b < 0x7F {
		return b
	}
	return '.'
}

func limitInt(x, a, b int) int {
	if x < a {
		return a
	}
	if x > b {
		return b
	}
	return x
}
