// Package window names the narrow contract the terminal core consumes
// from the graphical collaborator, and provides a headless
// implementation for tests and line-mode use.
package window

import (
	"github.com/atotto/clipboard"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("comp", "window")

// Window is what the core calls into. The real renderer implements
// this against X11/Wayland; Headless stands in everywhere else.
type Window interface {
	// SetTitle updates the window title.
	SetTitle(title string)
	// SetUrgent flags the window for attention.
	SetUrgent(urgent bool)
	// Bell rings the bell at volume in [-100, 100].
	Bell(volume int)

	// SetSelection publishes text as the primary selection.
	SetSelection(text string)
	// SelPaste requests a paste of the primary selection.
	SelPaste()
	// SetClipboard publishes text as the clipboard selection.
	SetClipboard(text string)
	// ClipPaste requests a paste of the clipboard selection.
	ClipPaste()

	// Fd returns the window-system descriptor for the reactor, or -1
	// when there is none.
	Fd() int
}

// Headless implements Window without a display server. Clipboard
// traffic goes through the system clipboard when one is reachable;
// pasted text is delivered through the OnPaste callback.
type Headless struct {
	// OnPaste receives requested paste content.
	OnPaste func(text string)

	title   string
	primary string
}

func NewHeadless() *Headless { return &Headless{} }

func (h *Headless) SetTitle(title string) {
	h.title = title
	log.Debugf("title: %s", title)
}

// Title returns the last title set.
func (h *Headless) Title() string { return h.title }

func (h *Headless) SetUrgent(urgent bool) {}

func (h *Headless) Bell(volume int) {}

func (h *Headless) SetSelection(text string) {
	h.primary = text
}

// Selection returns the current primary selection text.
func (h *Headless) Selection() string { return h.primary }

func (h *Headless) SelPaste() {
	if h.OnPaste != nil && h.primary != "" {
		h.OnPaste(h.primary)
	}
}

func (h *Headless) SetClipboard(text string) {
	if err := clipboard.WriteAll(text); err != nil {
		log.Debugf("clipboard write unavailable: %v", err)
	}
}

func (h *Headless) ClipPaste() {
	text, err := clipboard.ReadAll()
	if err != nil {
		// no clipboard owner; paste empty
		text = ""
	}
	if h.OnPaste != nil {
		h.OnPaste(text)
	}
}

func (h *Headless) Fd() int { return -1 }
