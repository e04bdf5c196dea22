// Package reactor is the single-threaded event loop at the heart of
// the process. It multiplexes the pty, the window-system descriptor,
// three timers and a signal eventfd through one epoll instance and
// hands the caller a typed event stream. Wait is the only suspension
// point; nothing else in the core blocks.
package reactor

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

var log = logrus.WithField("comp", "reactor")

// Event identifies what woke the loop.
type Event int

const (
	// TtyRead means the pty has bytes for us.
	TtyRead Event = iota
	// TtyWrite means the pty accepts queued output.
	TtyWrite
	// Window means the window-system descriptor is readable.
	Window
	// Refresh fires when the one-shot refresh timer expires.
	Refresh
	// RepeatKey fires on the key-repeat interval.
	RepeatKey
	// Blink fires on the cursor/cell blink interval.
	Blink
	// ChildEnd reports SIGCHLD.
	ChildEnd
	// Stop asks the loop to finish; delivered for SIGTERM, SIGINT,
	// SIGHUP or an explicit Stop call.
	Stop
)

func (e Event) String() string {
	switch e {
	case TtyRead:
		return "TtyRead"
	case TtyWrite:
		return "TtyWrite"
	case Window:
		return "Window"
	case Refresh:
		return "Refresh"
	case RepeatKey:
		return "RepeatKey"
	case Blink:
		return "Blink"
	case ChildEnd:
		return "ChildEnd"
	case Stop:
		return "Stop"
	}
	return "Unknown"
}

// Reactor owns the epoll instance and every descriptor registered with
// it. Each timerfd is created lazily on first use and stays open once
// created.
type Reactor struct {
	epfd int

	refreshfd int
	repeatfd  int
	blinkfd   int
	ttyfd     int
	windowfd  int

	sigfd   int
	pending atomic.Uint64
	sigch   chan os.Signal

	queue []Event
}

// New builds the reactor and hooks SIGCHLD, SIGTERM, SIGINT and
// SIGHUP. The runtime delivers signals on a channel; a forwarder
// goroutine flips the pending mask and pokes the eventfd, which is the
// only state it touches — the mask is consumed on the loop thread.
func New() (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	sigfd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}

	r := &Reactor{
		epfd:      epfd,
		refreshfd: -1,
		repeatfd:  -1,
		blinkfd:   -1,
		ttyfd:     -1,
		windowfd:  -1,
		sigfd:     sigfd,
		sigch:     make(chan os.Signal, 8),
	}

	if err := r.regFd(sigfd, true, false); err != nil {
		r.Close()
		return nil, err
	}

	signal.Notify(r.sigch,
		syscall.SIGCHLD, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	go r.forwardSignals()

	return r, nil
}

func (r *Reactor) forwardSignals() {
	one := []byte{1, 0, 0, 0, 0, 0, 0, 0}
	for sig := range r.sigch {
		s, ok := sig.(syscall.Signal)
		if !ok {
			continue
		}
		bit := uint64(1) << uint(s)
		for {
			old := r.pending.Load()
			if r.pending.CompareAndSwap(old, old|bit) {
				break
			}
		}
		// nothing to do on failure but go around again
		unix.Write(r.sigfd, one)
	}
}

// Close releases every descriptor the reactor owns.
func (r *Reactor) Close() {
	signal.Stop(r.sigch)
	close(r.sigch)

	for _, fd := range []int{r.epfd, r.sigfd, r.refreshfd, r.repeatfd, r.blinkfd} {
		if fd != -1 {
			unix.Close(fd)
		}
	}
	r.epfd = -1
}

func (r *Reactor) regFd(fd int, read, write bool) error {
	var events uint32
	if read {
		events |= unix.EPOLLIN
	}
	if write {
		events |= unix.EPOLLOUT
	}
	err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: events,
		Fd:     int32(fd),
	})
	if err != nil {
		return fmt.Errorf("epoll_ctl add fd %d: %w", fd, err)
	}
	return nil
}

// SetTtyFd registers the pty descriptor for read and write readiness.
func (r *Reactor) SetTtyFd(fd int) error {
	if err := r.regFd(fd, true, true); err != nil {
		return err
	}
	r.ttyfd = fd
	return nil
}

// SetWindowFd registers the window-system descriptor.
func (r *Reactor) SetWindowFd(fd int) error {
	if err := r.regFd(fd, true, false); err != nil {
		return err
	}
	r.windowfd = fd
	return nil
}

// SetEvents changes the readiness interest for a registered fd.
func (r *Reactor) SetEvents(fd int, read, write bool) {
	var events uint32
	if read {
		events |= unix.EPOLLIN
	}
	if write {
		events |= unix.EPOLLOUT
	}
	err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: events,
		Fd:     int32(fd),
	})
	if err != nil {
		log.Errorf("epoll_ctl mod fd %d: %v", fd, err)
	}
}

func toItimerspec(d time.Duration, interval bool) unix.ItimerSpec {
	ts := unix.NsecToTimespec(d.Nanoseconds())
	its := unix.ItimerSpec{Value: ts}
	if interval {
		its.Interval = ts
	}
	return its
}

func (r *Reactor) ensureTimer(fd *int) error {
	if *fd != -1 {
		return nil
	}
	tfd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC)
	if err != nil {
		return fmt.Errorf("timerfd_create: %w", err)
	}
	if err := r.regFd(tfd, true, false); err != nil {
		unix.Close(tfd)
		return err
	}
	*fd = tfd
	return nil
}

// QueueRefresh arms the one-shot refresh timer.
func (r *Reactor) QueueRefresh(d time.Duration) {
	if err := r.ensureTimer(&r.refreshfd); err != nil {
		log.Errorf("refresh timer: %v", err)
		return
	}
	its := toItimerspec(d, false)
	if err := unix.TimerfdSettime(r.refreshfd, 0, &its, nil); err != nil {
		log.Errorf("timerfd_settime: %v", err)
	}
}

// StartRepeat arms the key-repeat interval timer.
func (r *Reactor) StartRepeat(d time.Duration) {
	if err := r.ensureTimer(&r.repeatfd); err != nil {
		log.Errorf("repeat timer: %v", err)
		return
	}
	its := toItimerspec(d, true)
	if err := unix.TimerfdSettime(r.repeatfd, 0, &its, nil); err != nil {
		log.Errorf("timerfd_settime: %v", err)
	}
}

// StopRepeat disarms the key-repeat timer, leaving the fd open.
func (r *Reactor) StopRepeat() { r.disarm(r.repeatfd) }

// StartBlink arms the blink interval timer.
func (r *Reactor) StartBlink(d time.Duration) {
	if err := r.ensureTimer(&r.blinkfd); err != nil {
		log.Errorf("blink timer: %v", err)
		return
	}
	its := toItimerspec(d, true)
	if err := unix.TimerfdSettime(r.blinkfd, 0, &its, nil); err != nil {
		log.Errorf("timerfd_settime: %v", err)
	}
}

// StopBlink disarms the blink timer, leaving the fd open.
func (r *Reactor) StopBlink() { r.disarm(r.blinkfd) }

func (r *Reactor) disarm(fd int) {
	if fd == -1 {
		return
	}
	var its unix.ItimerSpec
	if err := unix.TimerfdSettime(fd, 0, &its, nil); err != nil {
		log.Errorf("timerfd_settime: %v", err)
	}
}

// Enqueue appends an event behind anything already pending.
func (r *Reactor) Enqueue(evt Event) { r.queue = append(r.queue, evt) }

// StopLoop enqueues a Stop; events queued before it still drain.
func (r *Reactor) StopLoop() { r.Enqueue(Stop) }

// readTimer drains a timerfd and returns the missed expiration count.
func readTimer(fd int) uint64 {
	var buf [8]byte
	n, err := unix.Read(fd, buf[:])
	if err != nil || n != 8 {
		return 0
	}
	var exp uint64
	for i := 7; i >= 0; i-- {
		exp = exp<<8 | uint64(buf[i])
	}
	return exp
}

// Wait blocks until the next event. The internal queue is drained
// before epoll is consulted; a simultaneously readable and writable
// pty returns TtyWrite with a TtyRead queued behind it.
func (r *Reactor) Wait() Event {
	if len(r.queue) > 0 {
		evt := r.queue[0]
		r.queue = r.queue[1:]
		return evt
	}

	var events [5]unix.EpollEvent
	for {
		n, err := unix.EpollWait(r.epfd, events[:], -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			log.Errorf("epoll_wait: %v", err)
			return Stop
		}

		for i := 0; i < n; i++ {
			ev := &events[i]
			fd := int(ev.Fd)

			switch {
			case fd == r.ttyfd:
				readable := ev.Events&unix.EPOLLIN != 0
				writable := ev.Events&unix.EPOLLOUT != 0
				switch {
				case readable && writable:
					r.Enqueue(TtyRead)
					return TtyWrite
				case readable:
					return TtyRead
				case writable:
					return TtyWrite
				}

			case fd == r.windowfd:
				return Window

			case fd == r.sigfd:
				if evt, ok := r.drainSignals(); ok {
					return evt
				}

			case fd == r.refreshfd:
				readTimer(fd)
				return Refresh

			case fd == r.repeatfd:
				// preserve the expiration count if the loop fell behind
				for exp := readTimer(fd); exp > 1; exp-- {
					r.Enqueue(RepeatKey)
				}
				return RepeatKey

			case fd == r.blinkfd:
				readTimer(fd)
				return Blink

			default:
				log.Debugf("event on unexpected fd %d", fd)
			}
		}
	}
}

// drainSignals swaps the pending mask to zero and decomposes it into
// events; the first is returned, the rest are queued.
func (r *Reactor) drainSignals() (Event, bool) {
	var buf [8]byte
	if _, err := unix.Read(r.sigfd, buf[:]); err != nil {
		if err != unix.EINTR && err != unix.EAGAIN {
			log.Errorf("signal eventfd read: %v", err)
			return Stop, true
		}
	}

	mask := r.pending.Swap(0)
	first := false
	var firstEvt Event

	for mask != 0 {
		bit := mask & (-mask)
		mask ^= bit

		evt := Stop
		if bit == 1<<uint(syscall.SIGCHLD) {
			evt = ChildEnd
		}

		if !first {
			first = true
			firstEvt = evt
		} else {
			r.Enqueue(evt)
		}
	}

	return firstEvt, first
}
