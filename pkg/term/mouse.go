package term

import (
	"fmt"
	"strings"
	"time"

	"github.com/kestrelterm/kestrel/pkg/screen"
)

// Button bit encoding, shared by all report flavors:
// the low two bits carry buttons 1-3 (wheel buttons add bit 6),
// 3 means release in the legacy flavors, bits 2-4 carry modifiers,
// bit 5 marks motion.
const (
	mouseButton1 = 0
	mouseButton2 = 1
	mouseButton3 = 2
	mouseRelease = 3
	mouseShift   = 4
	mouseLogo    = 8
	mouseCtrl    = 16
	mouseMotion  = 32
	mouseButton4 = 64
	mouseButton5 = 65
)

var buttonMap = [5]int{
	mouseButton1, mouseButton2, mouseButton3, mouseButton4, mouseButton5,
}

// parseMods reads a config modifier spec like "shift" or
// "shift+ctrl".
func parseMods(spec string) Mod {
	var m Mod
	for len(spec) > 0 {
		var part string
		if i := strings.IndexByte(spec, '+'); i >= 0 {
			part, spec = spec[:i], spec[i+1:]
		} else {
			part, spec = spec, ""
		}
		switch part {
		case "shift":
			m |= ModShift
		case "ctrl":
			m |= ModCtrl
		case "alt":
			m |= ModAlt
		case "logo":
			m |= ModLogo
		case "":
		default:
			log.Errorf("unknown modifier %q in force_sel_mods", part)
		}
	}
	return m
}

// MouseReport translates a pointer event at the given cell into either
// a report to the child or a local selection gesture.
func (t *Term) MouseReport(c screen.Cell, evt MouseEvent, button int, mod Mod) {
	if evt == MousePress || evt == MouseRelease {
		if button < 1 || button > 5 {
			log.Errorf("button event %d for unexpected button %d", evt, button)
			return
		}
	}

	// holding the force-selection modifiers bypasses reporting
	forceSel := t.forceSelMods != 0 && mod.Has(t.forceSelMods)

	if t.mode.Any(mouseModes) && !forceSel {
		t.reportMouse(c, evt, button, mod)
		return
	}

	t.selectionGesture(c, evt, button, mod)
}

func (t *Term) reportMouse(c screen.Cell, evt MouseEvent, button int, mod Mod) {
	var cb int

	switch evt {
	case MouseMotion:
		if c.Col == t.oCol && c.Row == t.oRow {
			return
		}
		// motion is only reported in the motion flavors
		if !t.mode.Any(ModeMouseMotion | ModeMouseMany) {
			return
		}
		// button-motion mode reports only while a button is down
		if t.mode.Has(ModeMouseMotion) && t.oldButton == mouseRelease {
			return
		}

		cb = t.oldButton | mouseMotion
		t.oCol = c.Col
		t.oRow = c.Row

	default:
		if !t.mode.Has(ModeMouseSGR) && evt == MouseRelease {
			cb = mouseRelease
		} else {
			cb = buttonMap[button-1]
		}

		if evt == MousePress {
			t.oldButton = cb
			t.oCol = c.Col
			t.oRow = c.Row
		} else if evt == MouseRelease {
			t.oldButton = mouseRelease

			// X10 has no release reports, wheel buttons never do
			if t.mode.Has(ModeMouseX10) {
				return
			}
			if button == 4 || button == 5 {
				return
			}
		}
	}

	if !t.mode.Has(ModeMouseX10) {
		if mod.Has(ModShift) {
			cb |= mouseShift
		}
		if mod.Has(ModLogo) {
			cb |= mouseLogo
		}
		if mod.Has(ModCtrl) {
			cb |= mouseCtrl
		}
	}

	switch {
	case t.mode.Has(ModeMouseSGR):
		final := byte('M')
		if evt == MouseRelease {
			final = 'm'
		}
		t.Send([]byte(fmt.Sprintf("\033[<%d;%d;%d%c", cb, c.Col+1, c.Row+1, final)))
	case c.Col < 223 && c.Row < 223:
		t.Send([]byte{0x1B, '[', 'M',
			byte(32 + cb), byte(32 + c.Col + 1), byte(32 + c.Row + 1)})
	default:
		// out of range for the legacy encoding; drop the report
	}
}

// selectionGesture handles presses that drive the local selection
// instead of being reported.
func (t *Term) selectionGesture(c screen.Cell, evt MouseEvent, button int, mod Mod) {
	sel := t.scr.Sel()

	switch evt {
	case MousePress:
		if button != 1 {
			return
		}

		now := time.Now()

		// clear previous selection, logically and visually
		t.scr.SelClear()
		sel.Mode = screen.SelEmpty
		sel.Type = screen.SelRegular
		sel.Ob = c
		sel.Oe = c

		// click timing exposes snapping behavior
		switch {
		case now.Sub(sel.TClick2) <= t.tclickTimeout():
			sel.Snap = screen.SnapLine
		case now.Sub(sel.TClick1) <= t.dclickTimeout():
			sel.Snap = screen.SnapWord
		default:
			sel.Snap = screen.SnapNone
		}

		t.scr.SelNormalize()

		if sel.Snap != screen.SnapNone {
			sel.Mode = screen.SelReady
		}
		t.scr.SetDirtyRange(sel.Nb.Row, sel.Ne.Row)
		sel.TClick2 = sel.TClick1
		sel.TClick1 = now

	case MouseRelease:
		switch button {
		case 2:
			t.win.SelPaste()
		case 1:
			if sel.Mode == screen.SelReady {
				t.extendSelection(c, mod)
				text := t.scr.ExtractSel()
				sel.Primary = text
				t.win.SetSelection(text)
			} else {
				t.scr.SelClear()
			}
			sel.Mode = screen.SelIdle
			t.scr.SetDirtyRange(sel.Nb.Row, sel.Ne.Row)
		}

	case MouseMotion:
		if sel.Mode == screen.SelIdle {
			return
		}

		sel.Mode = screen.SelReady
		oldOe := sel.Oe
		oldNb, oldNe := sel.Nb.Row, sel.Ne.Row
		t.extendSelection(c, mod)

		if oldOe != sel.Oe {
			t.scr.SetDirtyRange(min(sel.Nb.Row, oldNb), max(sel.Ne.Row, oldNe))
		}
	}
}

// extendSelection moves the live end of the selection to c and
// renormalizes. Holding alt switches to a rectangular selection.
func (t *Term) extendSelection(c screen.Cell, mod Mod) {
	sel := t.scr.Sel()

	sel.Alt = t.mode.Has(ModeAltScreen)
	sel.Oe = c

	if mod.Has(ModAlt) {
		sel.Type = screen.SelRectangular
	} else {
		sel.Type = screen.SelRegular
	}

	t.scr.SelNormalize()
}

// ClipCopy publishes the current selection as the clipboard.
func (t *Term) ClipCopy() {
	text := t.scr.ExtractSel()
	t.scr.Sel().Clipboard = text
	t.win.SetClipboard(text)
}

// SelClear drops the selection.
func (t *Term) SelClear() { t.scr.SelClear() }

func (t *Term) dclickTimeout() time.Duration {
	return time.Duration(t.cfg.DClickTimeoutMs) * time.Millisecond
}

func (t *Term) tclickTimeout() time.Duration {
	return time.Duration(t.cfg.TClickTimeoutMs) * time.Millisecond
}
