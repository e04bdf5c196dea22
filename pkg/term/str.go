package term

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/kestrelterm/kestrel/pkg/config"
	"github.com/kestrelterm/kestrel/pkg/screen"
)

// strEscape holds one OSC/DCS/APC/PM string sequence.
type strEscape struct {
	typ  byte
	buf  []byte
	args []string
}

func (t *Term) strReset() {
	t.stresc = strEscape{buf: t.stresc.buf[:0]}
}

// strSequence starts collecting a string sequence introduced by the
// given C1 control or its 7-bit alias.
func (t *Term) strSequence(c byte) {
	t.strReset()

	switch c {
	case 0x90: // DCS
		c = 'P'
		t.esc |= escDCS
	case 0x9F: // APC
		c = '_'
	case 0x9E: // PM
		c = '^'
	case 0x9D: // OSC
		c = ']'
	}

	t.stresc.typ = c
	t.esc |= escStr
}

func (t *Term) strParse() {
	t.stresc.args = nil
	if len(t.stresc.buf) == 0 {
		return
	}
	t.stresc.args = strings.SplitN(string(t.stresc.buf), ";", escArgSize)
}

// strHandle dispatches a terminated string sequence.
func (t *Term) strHandle() {
	t.esc &^= escStrEnd | escStr
	t.strParse()

	args := t.stresc.args
	par := 0
	if len(args) > 0 {
		par, _ = strconv.Atoi(args[0])
	}

	switch t.stresc.typ {
	case ']': // OSC
		switch par {
		case 0, 1, 2:
			if len(args) > 1 {
				t.win.SetTitle(args[1])
			}
			return
		case 4: // set palette entry
			if len(args) < 3 {
				break
			}
			t.oscColor(args[1], args[2])
			return
		case 104: // reset palette entry, or everything
			idx := -1
			if len(args) > 1 {
				idx, _ = strconv.Atoi(args[1])
			}
			t.cfg.Palette().Reset(idx)
			t.scr.SetDirty()
			return
		case 11: // default background
			if len(args) > 1 {
				rgb, err := config.ParseHexColor(args[1])
				if err != nil {
					log.Errorf("erresc: %v", err)
					return
				}
				t.defbg = screen.FromPacked(rgb)
				t.scr.SetDirty()
			}
			return
		case 52: // clipboard access
			t.oscClipboard(args)
			return
		}

	case 'k': // old title set compatibility
		if len(args) > 0 {
			t.win.SetTitle(args[0])
		}
		return

	case 'P': // DCS
		t.esc |= escDCS
		return
	case '_', '^': // APC, PM
		return
	}

	log.Errorf("unknown stresc: %s", t.strDump())
}

func (t *Term) oscColor(idxArg, spec string) {
	idx, err := strconv.Atoi(idxArg)
	if err != nil || idx < 0 || idx > 255 {
		log.Errorf("erresc: bad color index %q", idxArg)
		return
	}
	rgb, err := config.ParseHexColor(spec)
	if err != nil {
		// keep the old color
		log.Errorf("erresc: %v", err)
		return
	}
	t.cfg.Palette().Set(idx, rgb)
	t.scr.SetDirty()
}

// oscClipboard implements OSC 52 reads and writes. A payload of "?"
// asks for the current clipboard contents.
func (t *Term) oscClipboard(args []string) {
	if len(args) < 3 {
		return
	}

	payload := args[2]
	if payload == "?" {
		enc := base64.StdEncoding.EncodeToString([]byte(t.scr.Sel().Clipboard))
		t.Send([]byte(fmt.Sprintf("\033]52;%s;%s\a", args[1], enc)))
		return
	}

	dec, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		log.Errorf("erresc: invalid base64 in OSC 52")
		return
	}
	t.scr.Sel().Clipboard = string(dec)
	t.win.SetClipboard(string(dec))
}

func (t *Term) strDump() string {
	out := []byte{'E', 'S', 'C', t.stresc.typ}
	for _, c := range t.stresc.buf {
		switch {
		case c == 0:
			return string(out)
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
