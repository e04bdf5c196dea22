package term

import (
	"testing"

	"github.com/kestrelterm/kestrel/pkg/screen"
)

func TestMouseLegacyEncoding(t *testing.T) {
	f := newFixture(t, 80, 24)
	f.feed(t, "\x1b[?1000h")

	f.trm.MouseReport(screen.Cell{Row: 0, Col: 0}, MousePress, 1, 0)

	want := []byte{0x1B, '[', 'M', 32, 33, 33}
	if got := f.out.Bytes(); string(got) != string(want) {
		t.Errorf("legacy press = %v, want %v", got, want)
	}

	f.out.Reset()
	f.trm.MouseReport(screen.Cell{Row: 0, Col: 0}, MouseRelease, 1, 0)
	want = []byte{0x1B, '[', 'M', 32 + 3, 33, 33}
	if got := f.out.Bytes(); string(got) != string(want) {
		t.Errorf("legacy release = %v, want %v", got, want)
	}
}

func TestMouseSGREncoding(t *testing.T) {
	f := newFixture(t, 80, 24)
	f.feed(t, "\x1b[?1000h\x1b[?1006h")

	f.trm.MouseReport(screen.Cell{Row: 0, Col: 0}, MousePress, 1, 0)
	if got := f.out.String(); got != "\x1b[<0;1;1M" {
		t.Errorf("sgr press = %q", got)
	}

	f.out.Reset()
	f.trm.MouseReport(screen.Cell{Row: 0, Col: 0}, MouseRelease, 1, 0)
	if got := f.out.String(); got != "\x1b[<0;1;1m" {
		t.Errorf("sgr release = %q", got)
	}
}

func TestMouseSGRWinsOverX10(t *testing.T) {
	f := newFixture(t, 80, 24)
	f.feed(t, "\x1b[?9h\x1b[?1006h")

	f.trm.MouseReport(screen.Cell{Row: 2, Col: 5}, MousePress, 1, 0)
	if got := f.out.String(); got != "\x1b[<0;6;3M" {
		t.Errorf("sgr-over-x10 press = %q", got)
	}
}

func TestMouseModifierBits(t *testing.T) {
	f := newFixture(t, 80, 24)
	f.feed(t, "\x1b[?1000h\x1b[?1006h")

	f.trm.MouseReport(screen.Cell{Row: 0, Col: 0}, MousePress, 1, ModCtrl|ModLogo)
	if got := f.out.String(); got != "\x1b[<24;1;1M" {
		t.Errorf("modified press = %q", got)
	}
}

func TestMouseX10NoModifiersNoRelease(t *testing.T) {
	f := newFixture(t, 80, 24)
	f.feed(t, "\x1b[?9h")

	f.trm.MouseReport(screen.Cell{Row: 0, Col: 0}, MousePress, 1, ModCtrl)
	want := []byte{0x1B, '[', 'M', 32, 33, 33}
	if got := f.out.Bytes(); string(got) != string(want) {
		t.Errorf("x10 press = %v, want %v (no modifier bits)", got, want)
	}

	f.out.Reset()
	f.trm.MouseReport(screen.Cell{Row: 0, Col: 0}, MouseRelease, 1, 0)
	if f.out.Len() != 0 {
		t.Errorf("x10 release should not report, got %v", f.out.Bytes())
	}
}

func TestMouseWheel(t *testing.T) {
	f := newFixture(t, 80, 24)
	f.feed(t, "\x1b[?1000h")

	f.trm.MouseReport(screen.Cell{Row: 0, Col: 0}, MousePress, 4, 0)
	want := []byte{0x1B, '[', 'M', 32 + 64, 33, 33}
	if got := f.out.Bytes(); string(got) != string(want) {
		t.Errorf("wheel up = %v, want %v", got, want)
	}

	// wheel release is never reported
	f.out.Reset()
	f.trm.MouseReport(screen.Cell{Row: 0, Col: 0}, MouseRelease, 4, 0)
	if f.out.Len() != 0 {
		t.Errorf("wheel release reported: %v", f.out.Bytes())
	}
}

func TestMouseOutOfRangeDropped(t *testing.T) {
	f := newFixture(t, 80, 24)
	f.feed(t, "\x1b[?1000h")

	f.trm.MouseReport(screen.Cell{Row: 0, Col: 230}, MousePress, 1, 0)
	if f.out.Len() != 0 {
		t.Errorf("legacy report for col >= 223: %v", f.out.Bytes())
	}

	// SGR has no such limit
	f.feed(t, "\x1b[?1006h")
	f.trm.MouseReport(screen.Cell{Row: 0, Col: 230}, MousePress, 1, 0)
	if got := f.out.String(); got != "\x1b[<0;231;1M" {
		t.Errorf("sgr wide report = %q", got)
	}
}

func TestMouseMotionOnlyWhilePressed(t *testing.T) {
	f := newFixture(t, 80, 24)
	f.feed(t, "\x1b[?1002h\x1b[?1006h")

	// no button down: motion is not reported
	f.trm.MouseReport(screen.Cell{Row: 1, Col: 1}, MouseMotion, 0, 0)
	if f.out.Len() != 0 {
		t.Errorf("motion without button reported: %q", f.out.String())
	}

	f.trm.MouseReport(screen.Cell{Row: 1, Col: 1}, MousePress, 1, 0)
	f.out.Reset()
	f.trm.MouseReport(screen.Cell{Row: 1, Col: 2}, MouseMotion, 0, 0)
	if got := f.out.String(); got != "\x1b[<32;3;2M" {
		t.Errorf("motion report = %q", got)
	}

	// unmoved pointer reports nothing
	f.out.Reset()
	f.trm.MouseReport(screen.Cell{Row: 1, Col: 2}, MouseMotion, 0, 0)
	if f.out.Len() != 0 {
		t.Errorf("unmoved motion reported: %q", f.out.String())
	}
}

func TestForceSelectionBypassesReporting(t *testing.T) {
	f := newFixture(t, 80, 24)
	f.feed(t, "hello world")
	f.feed(t, "\x1b[?1000h")

	// shift-click must start a selection instead of reporting
	f.trm.MouseReport(screen.Cell{Row: 0, Col: 0}, MousePress, 1, ModShift)
	if f.out.Len() != 0 {
		t.Errorf("forced selection still reported: %v", f.out.Bytes())
	}
	f.trm.MouseReport(screen.Cell{Row: 0, Col: 4}, MouseMotion, 0, ModShift)
	f.trm.MouseReport(screen.Cell{Row: 0, Col: 4}, MouseRelease, 1, ModShift)

	if got := f.win.Selection(); got != "hello" {
		t.Errorf("selection %q, want hello", got)
	}
}

func TestSelectionGesture(t *testing.T) {
	f := newFixture(t, 80, 24)
	f.feed(t, "grab this text")

	f.trm.MouseReport(screen.Cell{Row: 0, Col: 5}, MousePress, 1, 0)
	f.trm.MouseReport(screen.Cell{Row: 0, Col: 8}, MouseMotion, 0, 0)
	f.trm.MouseReport(screen.Cell{Row: 0, Col: 8}, MouseRelease, 1, 0)

	if got := f.win.Selection(); got != "this" {
		t.Errorf("selection %q, want this", got)
	}
	if got := f.trm.Screen().Sel().Primary; got != "this" {
		t.Errorf("primary %q", got)
	}
}

func TestDoubleClickWordSnap(t *testing.T) {
	f := newFixture(t, 80, 24)
	f.feed(t, "alpha beta gamma")

	// two quick presses on "beta"
	cell := screen.Cell{Row: 0, Col: 7}
	f.trm.MouseReport(cell, MousePress, 1, 0)
	f.trm.MouseReport(cell, MouseRelease, 1, 0)
	f.trm.MouseReport(cell, MousePress, 1, 0)

	if got := f.trm.Screen().Sel().Snap; got != screen.SnapWord {
		t.Errorf("snap = %v, want word", got)
	}

	f.trm.MouseReport(cell, MouseRelease, 1, 0)
	if got := f.win.Selection(); got != "beta" {
		t.Errorf("double-click selection %q, want beta", got)
	}
}

func TestMiddleClickPastes(t *testing.T) {
	f := newFixture(t, 80, 24)
	f.feed(t, "word")

	var pasted string
	f.win.OnPaste = func(s string) { pasted = s }
	f.win.SetSelection("stored")

	f.trm.MouseReport(screen.Cell{Row: 0, Col: 0}, MouseRelease, 2, 0)
	if pasted != "stored" {
		t.Errorf("pasted %q, want stored", pasted)
	}
}

func TestParseMods(t *testing.T) {
	tests := []struct {
		in   string
		want Mod
	}{
		{"shift", ModShift},
		{"shift+ctrl", ModShift | ModCtrl},
		{"alt+logo", ModAlt | ModLogo},
		{"", 0},
		{"bogus", 0},
	}
	for _, tc := range tests {
		if got := parseMods(tc.in); got != tc.want {
			t.Errorf("parseMods(%q) = %#x, want %#x", tc.in, got, tc.want)
		}
	}
}
