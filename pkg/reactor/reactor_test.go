package reactor

import (
	"os"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func newReactor(t *testing.T) *Reactor {
	t.Helper()
	r, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

func TestQueueDrainsBeforeEpoll(t *testing.T) {
	r := newReactor(t)

	r.Enqueue(Blink)
	r.Enqueue(RepeatKey)
	r.StopLoop()

	for i, want := range []Event{Blink, RepeatKey, Stop} {
		if got := r.Wait(); got != want {
			t.Fatalf("event %d = %v, want %v", i, got, want)
		}
	}
}

func TestRefreshTimer(t *testing.T) {
	r := newReactor(t)

	start := time.Now()
	r.QueueRefresh(10 * time.Millisecond)

	if got := r.Wait(); got != Refresh {
		t.Fatalf("got %v, want Refresh", got)
	}
	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Errorf("refresh fired after %v, suspiciously early", elapsed)
	}
}

func TestRepeatTimerInterval(t *testing.T) {
	r := newReactor(t)

	r.StartRepeat(5 * time.Millisecond)
	for i := 0; i < 3; i++ {
		if got := r.Wait(); got != RepeatKey {
			t.Fatalf("tick %d = %v, want RepeatKey", i, got)
		}
	}
	r.StopRepeat()
}

func TestBlinkTimer(t *testing.T) {
	r := newReactor(t)

	r.StartBlink(5 * time.Millisecond)
	if got := r.Wait(); got != Blink {
		t.Fatalf("got %v, want Blink", got)
	}
	r.StopBlink()

	// a stopped timer can be restarted
	r.StartBlink(5 * time.Millisecond)
	if got := r.Wait(); got != Blink {
		t.Fatalf("restart: got %v, want Blink", got)
	}
}

func TestSignalChildEnd(t *testing.T) {
	r := newReactor(t)

	if err := syscall.Kill(os.Getpid(), syscall.SIGCHLD); err != nil {
		t.Fatal(err)
	}

	if got := r.Wait(); got != ChildEnd {
		t.Fatalf("got %v, want ChildEnd", got)
	}
}

func TestTtyReadWriteSplit(t *testing.T) {
	r := newReactor(t)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	if err := r.SetTtyFd(fds[0]); err != nil {
		t.Fatal(err)
	}

	// make the fd readable as well as writable
	if _, err := unix.Write(fds[1], []byte("x")); err != nil {
		t.Fatal(err)
	}

	// a read+write-ready pty yields TtyWrite now, TtyRead queued
	if got := r.Wait(); got != TtyWrite {
		t.Fatalf("first event %v, want TtyWrite", got)
	}
	if got := r.Wait(); got != TtyRead {
		t.Fatalf("second event %v, want TtyRead", got)
	}
}

func TestSetEventsReadOnly(t *testing.T) {
	r := newReactor(t)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	if err := r.SetTtyFd(fds[0]); err != nil {
		t.Fatal(err)
	}
	r.SetEvents(fds[0], true, false)

	if _, err := unix.Write(fds[1], []byte("x")); err != nil {
		t.Fatal(err)
	}

	// without write interest only TtyRead arrives
	if got := r.Wait(); got != TtyRead {
		t.Fatalf("got %v, want TtyRead", got)
	}
}
