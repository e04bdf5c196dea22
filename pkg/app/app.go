// Package app assembles the core: the reactor-driven loop owns the
// terminal, the pty pump, the bus and the window collaborator, and
// dispatches the typed event stream between them.
package app

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kestrelterm/kestrel/pkg/config"
	"github.com/kestrelterm/kestrel/pkg/event"
	"github.com/kestrelterm/kestrel/pkg/protocol"
	"github.com/kestrelterm/kestrel/pkg/reactor"
	"github.com/kestrelterm/kestrel/pkg/term"
	"github.com/kestrelterm/kestrel/pkg/tty"
	"github.com/kestrelterm/kestrel/pkg/window"
)

var log = logrus.WithField("comp", "app")

// refresh coalescing delay; dirty marks within one frame draw once
const refreshDelay = time.Second / 60

// Options is the command-line surface the app honors.
type Options struct {
	Tty        tty.Options
	RecordPath string
	Cols, Rows int
}

// App owns every core component and runs the loop.
type App struct {
	cfg  *config.Config
	bus  *event.Bus
	rct  *reactor.Reactor
	trm  *term.Term
	pump *tty.Tty
	win  *window.Headless
	rec  *protocol.Recorder

	refreshQueued bool
	childDone     bool
	exitCode      int
}

// blinkCtrl adapts the reactor to the engine's timer interface with
// the configured blink rate.
type blinkCtrl struct {
	rct  *reactor.Reactor
	rate time.Duration
}

func (b blinkCtrl) StartBlink() { b.rct.StartBlink(b.rate) }
func (b blinkCtrl) StopBlink()  { b.rct.StopBlink() }

// New wires the components together. The resize subscription order
// matters: the terminal reshapes its grid before the pty applies
// TIOCSWINSZ, so the child observes the new geometry against a
// consistent screen.
func New(cfg *config.Config, opts Options) (*App, error) {
	rct, err := reactor.New()
	if err != nil {
		return nil, err
	}

	bus := event.NewBus()
	win := window.NewHeadless()
	win.SetTitle(cfg.Title)

	trm := term.New(cfg, bus, win, opts.Cols, opts.Rows)
	win.OnPaste = trm.Paste

	blinkRate := time.Duration(cfg.BlinkRate * float64(time.Second))
	if blinkRate <= 0 {
		blinkRate = 600 * time.Millisecond
	}
	trm.AttachTimers(blinkCtrl{rct: rct, rate: blinkRate})

	a := &App{
		cfg: cfg,
		bus: bus,
		rct: rct,
		trm: trm,
		win: win,
	}

	// terminal resize first, pty winsize second
	event.Reg(bus, func(e event.Resize) { trm.Resize(e.Cols, e.Rows) })

	a.pump = tty.New(cfg, bus, trm, rct, opts.Tty)

	if opts.RecordPath != "" {
		rec, err := protocol.NewRecorder(opts.RecordPath, cfg.Title, opts.Cols, opts.Rows)
		if err != nil {
			rct.Close()
			return nil, err
		}
		a.rec = rec
		a.pump.SetRecorder(rec)
		trm.SetPrint()
	}

	// coalesce bus refreshes into reactor frames
	event.Reg(bus, func(event.Refresh) {
		if !a.refreshQueued {
			a.refreshQueued = true
			rct.QueueRefresh(refreshDelay)
		}
	})

	return a, nil
}

// Resize propagates a new window geometry through the bus.
func (a *App) Resize(width, height uint32, cols, rows int) {
	if cols < 1 || rows < 1 {
		return
	}
	event.Publish(a.bus, event.Resize{
		Width: width, Height: height, Cols: cols, Rows: rows,
	})
}

// Term exposes the engine, for the window collaborator's input path.
func (a *App) Term() *term.Term { return a.trm }

// Run opens the pty and dispatches events until the child exits or a
// stop is delivered. The return value is the process exit code.
func (a *App) Run() int {
	if err := a.pump.Open(); err != nil {
		log.Fatalf("%v", err)
	}
	defer a.pump.Close()
	defer a.rct.Close()
	if a.rec != nil {
		defer a.rec.Close()
	}

	if err := a.rct.SetTtyFd(a.pump.Fd()); err != nil {
		log.Fatalf("%v", err)
	}
	if fd := a.win.Fd(); fd >= 0 {
		if err := a.rct.SetWindowFd(fd); err != nil {
			log.Fatalf("%v", err)
		}
	}

	for {
		switch evt := a.rct.Wait(); evt {
		case reactor.TtyRead:
			if err := a.pump.ReadReady(); err != nil {
				if err != tty.ErrChildDone {
					log.Errorf("%v", err)
				}
				// stop watching; SIGCHLD finishes the story
				a.rct.SetEvents(a.pump.Fd(), false, false)
			}

		case reactor.TtyWrite:
			a.pump.WriteReady()

		case reactor.Window:
			// the window collaborator drains its own queue

		case reactor.Refresh:
			a.refreshQueued = false
			a.draw()

		case reactor.RepeatKey:
			// key repeat belongs to the window collaborator

		case reactor.Blink:
			a.trm.Blink()

		case reactor.ChildEnd:
			a.exitCode = a.pump.Wait()
			a.childDone = true
			log.Debugf("child exited with status %d", a.exitCode)
			return a.exitCode

		case reactor.Stop:
			log.Debugf("stop requested")
			if !a.childDone {
				a.pump.Hangup()
			}
			return a.exitCode
		}
	}
}

// draw flushes dirty rows to the renderer. Headless operation just
// acknowledges them so dirty tracking stays truthful.
func (a *App) draw() {
	scr := a.trm.Screen()
	for row := 0; row < scr.Rows(); row++ {
		if scr.IsDirty(row) {
			scr.ClearDirty(row)
		}
	}
}
