package tty

import (
	"os"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/kestrelterm/kestrel/pkg/config"
	"github.com/kestrelterm/kestrel/pkg/event"
	"github.com/kestrelterm/kestrel/pkg/screen"
	"github.com/kestrelterm/kestrel/pkg/term"
	"github.com/kestrelterm/kestrel/pkg/window"
)

type fakeCtrl struct {
	read, write bool
	calls       int
}

func (c *fakeCtrl) SetEvents(fd int, read, write bool) {
	c.read, c.write = read, write
	c.calls++
}

// socketPair returns a connected, nonblocking local end and its peer.
func socketPair(t *testing.T) (*os.File, *os.File) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		t.Fatal(err)
	}
	local := os.NewFile(uintptr(fds[0]), "local")
	peer := os.NewFile(uintptr(fds[1]), "peer")
	t.Cleanup(func() {
		local.Close()
		peer.Close()
	})
	return local, peer
}

func newTestTty(t *testing.T) (*Tty, *term.Term, *fakeCtrl, *os.File) {
	t.Helper()
	cfg := config.Default()
	bus := event.NewBus()
	trm := term.New(cfg, bus, window.NewHeadless(), 80, 24)
	ctrl := &fakeCtrl{}
	pump := New(cfg, bus, trm, ctrl, Options{})

	local, peer := socketPair(t)
	pump.f = local
	pump.fd = int(local.Fd())
	if err := unix.SetNonblock(pump.fd, true); err != nil {
		t.Fatal(err)
	}
	return pump, trm, ctrl, peer
}

func TestWriteChunking(t *testing.T) {
	pump, _, ctrl, peer := newTestTty(t)

	data := make([]byte, 600)
	for i := range data {
		data[i] = byte('a' + i%26)
	}

	n, err := pump.Write(data)
	if err != nil || n != len(data) {
		t.Fatalf("Write = (%d, %v)", n, err)
	}

	// at most one bounded chunk goes out synchronously
	if got := len(pump.wbuf); got != 600-maxWrite {
		t.Errorf("pending %d bytes, want %d", got, 600-maxWrite)
	}
	if !ctrl.write {
		t.Error("write interest not requested")
	}

	// readiness drains the queue in bounded chunks
	pump.WriteReady()
	if got := len(pump.wbuf); got != 600-2*maxWrite {
		t.Errorf("pending %d bytes after one drain, want %d", got, 600-2*maxWrite)
	}
	pump.WriteReady()
	if len(pump.wbuf) != 0 {
		t.Errorf("pending %d bytes after drain, want 0", len(pump.wbuf))
	}
	if ctrl.write {
		t.Error("write interest not dropped after drain")
	}

	got := make([]byte, 1024)
	total := 0
	for total < 600 {
		n, err := peer.Read(got[total:])
		if err != nil {
			t.Fatalf("peer read: %v", err)
		}
		total += n
	}
	if string(got[:600]) != string(data) {
		t.Error("peer received corrupted data")
	}
}

func TestWriteSmallGoesStraightThrough(t *testing.T) {
	pump, _, ctrl, peer := newTestTty(t)

	if _, err := pump.Write([]byte("ls\r")); err != nil {
		t.Fatal(err)
	}
	if len(pump.wbuf) != 0 {
		t.Errorf("small write queued %d bytes", len(pump.wbuf))
	}
	if ctrl.calls != 0 {
		t.Error("small write should not touch readiness interest")
	}

	buf := make([]byte, 16)
	n, _ := peer.Read(buf)
	if string(buf[:n]) != "ls\r" {
		t.Errorf("peer got %q", buf[:n])
	}
}

func TestReadFeedsTerminal(t *testing.T) {
	pump, trm, _, peer := newTestTty(t)

	peer.Write([]byte("hi"))
	if err := pump.ReadReady(); err != nil {
		t.Fatalf("ReadReady: %v", err)
	}

	if g := trm.Screen().Glyph(screen.Cell{Row: 0, Col: 0}); g.U != 'h' {
		t.Errorf("(0,0) = %q", g.U)
	}
	if g := trm.Screen().Glyph(screen.Cell{Row: 0, Col: 1}); g.U != 'i' {
		t.Errorf("(0,1) = %q", g.U)
	}
}

func TestReadKeepsPartialUTF8(t *testing.T) {
	pump, trm, _, peer := newTestTty(t)

	// 世 is e4 b8 96; split it across two reads
	peer.Write([]byte{'a', 0xE4, 0xB8})
	if err := pump.ReadReady(); err != nil {
		t.Fatal(err)
	}
	if pump.rlen != 2 {
		t.Errorf("kept %d bytes, want 2", pump.rlen)
	}
	cur := trm.Screen().Cursor()
	if cur.Col != 1 {
		t.Errorf("cursor col %d, want 1 (only 'a' so far)", cur.Col)
	}

	peer.Write([]byte{0x96, 'b'})
	if err := pump.ReadReady(); err != nil {
		t.Fatal(err)
	}
	if pump.rlen != 0 {
		t.Errorf("leftover %d bytes, want 0", pump.rlen)
	}

	g := trm.Screen().Glyph(screen.Cell{Row: 0, Col: 1})
	if g.U != '世' || !g.Attr.Has(screen.AttrWide) {
		t.Errorf("(0,1) = %+v, want wide 世", g)
	}
	if g := trm.Screen().Glyph(screen.Cell{Row: 0, Col: 3}); g.U != 'b' {
		t.Errorf("(0,3) = %q, want b", g.U)
	}
}

func TestReadChildGone(t *testing.T) {
	pump, _, _, peer := newTestTty(t)

	peer.Close()
	if err := pump.ReadReady(); err != ErrChildDone {
		t.Errorf("ReadReady = %v, want ErrChildDone", err)
	}
}

func TestReadNotReady(t *testing.T) {
	pump, _, _, _ := newTestTty(t)
	// nothing written; nonblocking read must not error out
	if err := pump.ReadReady(); err != nil {
		t.Errorf("ReadReady on empty = %v", err)
	}
}

func TestChildEnv(t *testing.T) {
	cfg := config.Default()
	bus := event.NewBus()
	trm := term.New(cfg, bus, window.NewHeadless(), 80, 24)
	pump := New(cfg, bus, trm, &fakeCtrl{}, Options{})

	t.Setenv("TERMCAP", "junk")
	t.Setenv("COLUMNS", "80")
	t.Setenv("LINES", "24")

	env := pump.childEnv("/bin/zsh")

	var sawTerm, sawShell bool
	for _, kv := range env {
		switch kv {
		case "TERM=" + cfg.TermName:
			sawTerm = true
		case "SHELL=/bin/zsh":
			sawShell = true
		}
		for _, banned := range []string{"COLUMNS=", "LINES=", "TERMCAP="} {
			if len(kv) >= len(banned) && kv[:len(banned)] == banned {
				t.Errorf("%s leaked into child env", kv)
			}
		}
	}
	if !sawTerm {
		t.Error("TERM not pinned")
	}
	if !sawShell {
		t.Error("SHELL not pinned")
	}
}

func TestPrintTee(t *testing.T) {
	pump, trm, _, peer := newTestTty(t)

	out, err := os.CreateTemp(t.TempDir(), "tee")
	if err != nil {
		t.Fatal(err)
	}
	pump.iof = out
	trm.SetPrint()

	peer.Write([]byte("teed"))
	if err := pump.ReadReady(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(out.Name())
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "teed" {
		t.Errorf("tee captured %q", data)
	}
}
