package app

import (
	"testing"

	"github.com/kestrelterm/kestrel/pkg/config"
)

func newApp(t *testing.T) *App {
	t.Helper()
	a, err := New(config.Default(), Options{Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.rct.Close)
	return a
}

func TestResizePropagates(t *testing.T) {
	a := newApp(t)

	a.Resize(800, 600, 100, 30)

	if a.Term().Cols() != 100 || a.Term().Rows() != 30 {
		t.Errorf("terminal %dx%d, want 100x30", a.Term().Cols(), a.Term().Rows())
	}
}

func TestResizeRejectsDegenerate(t *testing.T) {
	a := newApp(t)
	a.Resize(0, 0, 0, 0)
	if a.Term().Cols() != 80 || a.Term().Rows() != 24 {
		t.Error("degenerate resize applied")
	}
}

func TestRefreshCoalesces(t *testing.T) {
	a := newApp(t)
	a.refreshQueued = false

	scr := a.Term().Screen()
	scr.SetDirty()
	if !a.refreshQueued {
		t.Fatal("dirty marks did not queue a refresh")
	}

	// further dirty marks ride the same pending frame
	scr.SetDirty()
	scr.SetDirtyRange(0, 3)

	a.refreshQueued = false
	a.draw()
	for row := 0; row < scr.Rows(); row++ {
		if scr.IsDirty(row) {
			t.Fatalf("row %d still dirty after draw", row)
		}
	}
}
