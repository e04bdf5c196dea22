package window

import "testing"

func TestHeadlessTitle(t *testing.T) {
	w := NewHeadless()
	w.SetTitle("hello")
	if got := w.Title(); got != "hello" {
		t.Errorf("title %q", got)
	}
}

func TestHeadlessPrimarySelection(t *testing.T) {
	w := NewHeadless()

	var pasted string
	w.OnPaste = func(s string) { pasted = s }

	w.SetSelection("picked text")
	if got := w.Selection(); got != "picked text" {
		t.Errorf("selection %q", got)
	}

	w.SelPaste()
	if pasted != "picked text" {
		t.Errorf("pasted %q", pasted)
	}
}

func TestHeadlessEmptyPasteDoesNothing(t *testing.T) {
	w := NewHeadless()

	called := false
	w.OnPaste = func(string) { called = true }

	w.SelPaste()
	if called {
		t.Error("empty primary selection should not paste")
	}
}

func TestHeadlessFd(t *testing.T) {
	w := NewHeadless()
	if w.Fd() != -1 {
		t.Errorf("headless fd = %d, want -1", w.Fd())
	}
}
