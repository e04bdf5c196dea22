// Package tty owns the pseudoterminal: spawning the child shell,
// pumping its output into the terminal engine, and buffering writes so
// the loop never blocks on a slow reader.
package tty

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strings"
	"syscall"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/kestrelterm/kestrel/pkg/codec"
	"github.com/kestrelterm/kestrel/pkg/config"
	"github.com/kestrelterm/kestrel/pkg/event"
	"github.com/kestrelterm/kestrel/pkg/protocol"
	"github.com/kestrelterm/kestrel/pkg/term"
)

var log = logrus.WithField("comp", "tty")

// the most we write to the pty in one syscall
const maxWrite = 255

const readBufSize = 8192

// ErrChildDone reports that the pty read side saw the child go away.
var ErrChildDone = errors.New("tty: child closed the pty")

// Controller is the slice of the reactor the pump drives: readiness
// interest for its descriptor.
type Controller interface {
	SetEvents(fd int, read, write bool)
}

// Options carries the command-line surface the pump honors.
type Options struct {
	// Cmd replaces the login shell when non-empty.
	Cmd []string
	// Out tees all terminal I/O to this path; "-" means stdout.
	Out string
	// Line uses an existing tty device instead of a new pty.
	Line string
}

// Tty pumps bytes between the pty and the terminal engine.
type Tty struct {
	cfg  *config.Config
	bus  *event.Bus
	trm  *term.Term
	ctrl Controller
	opts Options

	f   *os.File // pty parent end, or the line device
	fd  int      // f's descriptor, captured once at open
	cmd *exec.Cmd

	rbuf [readBufSize]byte
	rlen int // trailing incomplete utf-8 prefix length

	wbuf []byte

	iof *os.File // I/O tee
	rec *protocol.Recorder
}

// New wires a pump to the terminal and reactor. The resize bus
// subscription applies TIOCSWINSZ as soon as the geometry changes.
func New(cfg *config.Config, bus *event.Bus, trm *term.Term, ctrl Controller, opts Options) *Tty {
	t := &Tty{cfg: cfg, bus: bus, trm: trm, ctrl: ctrl, opts: opts}

	if opts.Out != "" {
		trm.SetPrint()
		if opts.Out == "-" {
			t.iof = os.Stdout
		} else {
			f, err := os.OpenFile(opts.Out, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o666)
			if err != nil {
				log.Errorf("error opening %s: %v", opts.Out, err)
			} else {
				t.iof = f
			}
		}
	}

	event.Reg(bus, t.onResize)
	trm.AttachOutput(t)
	trm.AttachPrinter(printerFunc(t.Print))

	return t
}

type printerFunc func(p []byte)

func (f printerFunc) Write(p []byte) (int, error) {
	f(p)
	return len(p), nil
}

// SetRecorder attaches a session recorder fed from the output stream.
func (t *Tty) SetRecorder(rec *protocol.Recorder) { t.rec = rec }

// Fd returns the pumped descriptor for reactor registration.
func (t *Tty) Fd() int { return t.fd }

// Pid returns the child process id, or 0 in line mode.
func (t *Tty) Pid() int {
	if t.cmd == nil || t.cmd.Process == nil {
		return 0
	}
	return t.cmd.Process.Pid
}

// Open attaches the pump: to the configured line device, or to a fresh
// pseudoterminal with the shell spawned on the child end.
func (t *Tty) Open() error {
	if t.opts.Line != "" {
		return t.openLine()
	}
	return t.openPty()
}

func (t *Tty) openLine() error {
	log.Debugf("using line %s", t.opts.Line)

	f, err := os.OpenFile(t.opts.Line, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open line %s: %w", t.opts.Line, err)
	}
	t.f = f
	t.fd = int(f.Fd())

	if err := unix.SetNonblock(t.fd, true); err != nil {
		log.Errorf("set nonblocking on %s: %v", t.opts.Line, err)
	}

	// put the line into a sane raw state
	stty := exec.Command("sh", "-c", t.cfg.SttyArgs)
	stty.Stdin = f
	if err := stty.Run(); err != nil {
		return fmt.Errorf("stty failed: %w", err)
	}
	return nil
}

func (t *Tty) openPty() error {
	ptmx, tts, err := pty.Open()
	if err != nil {
		return fmt.Errorf("openpty failed: %w", err)
	}

	if err := pty.Setsize(ptmx, &pty.Winsize{
		Rows: uint16(t.trm.Rows()),
		Cols: uint16(t.trm.Cols()),
	}); err != nil {
		log.Errorf("could not set initial window size: %v", err)
	}

	argv := t.shellArgv()
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = tts
	cmd.Stdout = tts
	cmd.Stderr = tts
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true, // TIOCSCTTY on the child's stdin
	}
	cmd.Env = t.childEnv(argv[0])

	if err := cmd.Start(); err != nil {
		ptmx.Close()
		tts.Close()
		return fmt.Errorf("spawning %s: %w", argv[0], err)
	}
	tts.Close()

	log.Debugf("child %s started, pid %d", argv[0], cmd.Process.Pid)

	t.f = ptmx
	t.fd = int(ptmx.Fd())
	t.cmd = cmd

	if err := unix.SetNonblock(t.fd, true); err != nil {
		log.Errorf("set nonblocking on pty: %v", err)
	}
	return nil
}

// shellArgv resolves the child command: -e argv, then $SHELL, then the
// user's passwd shell, then the configured default.
func (t *Tty) shellArgv() []string {
	if len(t.opts.Cmd) > 0 {
		return t.opts.Cmd
	}
	if sh := os.Getenv("SHELL"); sh != "" {
		return []string{sh}
	}
	if sh := passwdShell(); sh != "" {
		return []string{sh}
	}
	return []string{t.cfg.DefaultShell}
}

// passwdShell digs the login shell out of /etc/passwd.
func passwdShell() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}
	data, err := os.ReadFile("/etc/passwd")
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Split(line, ":")
		if len(fields) >= 7 && fields[0] == u.Username {
			return fields[6]
		}
	}
	return ""
}

// childEnv builds the child environment: identity and TERM are pinned,
// COLUMNS, LINES and TERMCAP are cleared.
func (t *Tty) childEnv(shell string) []string {
	drop := map[string]bool{
		"COLUMNS": true, "LINES": true, "TERMCAP": true,
		"LOGNAME": true, "USER": true, "SHELL": true,
		"HOME": true, "TERM": true,
	}

	var env []string
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 && drop[kv[:i]] {
			continue
		}
		env = append(env, kv)
	}

	if u, err := user.Current(); err == nil {
		env = append(env,
			"LOGNAME="+u.Username,
			"USER="+u.Username,
			"HOME="+u.HomeDir)
	}
	env = append(env,
		"SHELL="+shell,
		"TERM="+t.cfg.TermName)
	return env
}

// ReadReady pulls bytes off the pty and feeds the engine one codepoint
// at a time, keeping any incomplete trailing UTF-8 prefix for the next
// read. Returns ErrChildDone when the child side is gone.
func (t *Tty) ReadReady() error {
	n, err := unix.Read(t.fd, t.rbuf[t.rlen:])
	if err != nil {
		switch err {
		case unix.EINTR, unix.EAGAIN:
			return nil
		case unix.EIO:
			// child exiting
			return ErrChildDone
		default:
			return fmt.Errorf("could not read from shell: %w", err)
		}
	}
	if n == 0 {
		return ErrChildDone
	}

	buf := t.rbuf[:t.rlen+n]
	for len(buf) > 0 {
		if t.trm.Mode().Has(term.ModeUTF8) && !t.trm.Mode().Has(term.ModeSixel) {
			sz, cp := codec.Decode(buf)
			if sz == 0 {
				break // incomplete char, wait for more
			}
			t.trm.Put(cp)
			buf = buf[sz:]
		} else {
			t.trm.Put(rune(buf[0]))
			buf = buf[1:]
		}
	}

	// keep the unconsumed prefix for the next call
	t.rlen = copy(t.rbuf[:], buf)
	return nil
}

// Write queues data toward the child, writing immediately when nothing
// is pending. Writes are bounded to maxWrite bytes per syscall; any
// remainder waits for write readiness.
func (t *Tty) Write(data []byte) (int, error) {
	total := len(data)

	if len(t.wbuf) == 0 {
		n := len(data)
		if n > maxWrite {
			n = maxWrite
		}
		written, err := unix.Write(t.fd, data[:n])
		if err != nil && err != unix.EAGAIN && err != unix.EINTR {
			return 0, fmt.Errorf("pty write: %w", err)
		}
		if written < 0 {
			written = 0
		}
		if written > 0 {
			t.logWrite(true, data[:written])
		}
		if written == total {
			return total, nil
		}
		data = data[written:]
	}

	t.wbuf = append(t.wbuf, data...)
	t.ctrl.SetEvents(t.Fd(), true, true)
	return total, nil
}

// WriteReady drains the pending queue in bounded chunks, dropping
// write interest once it empties or errors out.
func (t *Tty) WriteReady() {
	if len(t.wbuf) == 0 {
		t.ctrl.SetEvents(t.Fd(), true, false)
		return
	}

	n := len(t.wbuf)
	if n > maxWrite {
		n = maxWrite
	}
	written, err := unix.Write(t.fd, t.wbuf[:n])
	if written > 0 {
		t.logWrite(false, t.wbuf[:written])
		t.wbuf = t.wbuf[written:]
		if len(t.wbuf) == 0 {
			t.ctrl.SetEvents(t.Fd(), true, false)
		}
		return
	}
	if err == unix.EAGAIN || err == unix.EINTR {
		return
	}

	log.Errorf("pty write failed, dropping %d pending bytes: %v", len(t.wbuf), err)
	t.wbuf = t.wbuf[:0]
	t.ctrl.SetEvents(t.Fd(), true, false)
}

// Print copies engine-observed output to the tee file and recorder.
func (t *Tty) Print(data []byte) {
	if t.rec != nil {
		if err := t.rec.WriteOutput(data); err != nil {
			log.Errorf("recorder: %v", err)
		}
	}

	if t.iof == nil || len(data) == 0 {
		return
	}
	for len(data) > 0 {
		n, err := t.iof.Write(data)
		if err != nil {
			log.Errorf("error writing in %s: %v", t.opts.Out, err)
			if t.iof != os.Stdout {
				t.iof.Close()
			}
			t.iof = nil
			return
		}
		data = data[n:]
	}
}

// Hangup delivers SIGHUP to the child.
func (t *Tty) Hangup() {
	if pid := t.Pid(); pid > 0 {
		syscall.Kill(pid, syscall.SIGHUP)
	}
}

// Wait reaps the child and returns its exit code.
func (t *Tty) Wait() int {
	if t.cmd == nil {
		return 0
	}
	if err := t.cmd.Wait(); err != nil {
		var exit *exec.ExitError
		if errors.As(err, &exit) {
			return exit.ExitCode()
		}
		log.Errorf("wait: %v", err)
		return 1
	}
	return 0
}

// Close releases the descriptor and tee.
func (t *Tty) Close() {
	if t.f != nil {
		t.f.Close()
	}
	if t.iof != nil && t.iof != os.Stdout {
		t.iof.Close()
	}
}

func (t *Tty) onResize(evt event.Resize) {
	log.Infof("resize to %dx%d", evt.Cols, evt.Rows)

	if t.f != nil {
		if err := pty.Setsize(t.f, &pty.Winsize{
			Rows: uint16(evt.Rows),
			Cols: uint16(evt.Cols),
		}); err != nil {
			log.Errorf("could not set window size: %v", err)
		}
	}

	if t.rec != nil {
		t.rec.WriteResize(uint32(evt.Cols), uint32(evt.Rows))
	}
}

// logWrite traces outbound bytes at trace level.
func (t *Tty) logWrite(initial bool, data []byte) {
	if !log.Logger.IsLevelEnabled(logrus.TraceLevel) {
		return
	}

	var msg strings.Builder
	for _, ch := range data {
		switch {
		case ch == 0x1B:
			msg.WriteString("ESC")
		case 0x20 <= ch && ch < 0x7F:
			msg.WriteByte(ch)
		default:
			fmt.Fprintf(&msg, "<%02x>", ch)
		}
	}
	log.Tracef("wrote %q (%d, %v)", msg.String(), len(data), initial)
}
