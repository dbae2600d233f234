// Package watcher observes filesystem events on registered paths and
// delivers them to a sink from a dedicated monitor goroutine. It sits
// directly on the Linux inotify facility; the library targets embedded
// Linux and makes no attempt at portability here.
//
// The monitor blocks in poll(2) over the inotify descriptor and an
// internal wake pipe; Stop writes one byte to the pipe and joins the
// goroutine. The sink runs on the monitor goroutine and must not call
// Stop on the same watcher.
package watcher

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/kanakamedala-rajesh/SecureStorage/logging"
	"github.com/kanakamedala-rajesh/SecureStorage/secerr"
)

// Mask is the inotify event bitset.
type Mask uint32

const (
	Modify     Mask = unix.IN_MODIFY
	CloseWrite Mask = unix.IN_CLOSE_WRITE
	Attrib     Mask = unix.IN_ATTRIB
	Create     Mask = unix.IN_CREATE
	Delete     Mask = unix.IN_DELETE
	MovedFrom  Mask = unix.IN_MOVED_FROM
	MovedTo    Mask = unix.IN_MOVED_TO
	DeleteSelf Mask = unix.IN_DELETE_SELF
	MoveSelf   Mask = unix.IN_MOVE_SELF

	// Synthesized by the kernel, never part of a registration.
	Overflow Mask = unix.IN_Q_OVERFLOW
	Ignored  Mask = unix.IN_IGNORED
)

// watchMask is the fixed registration mask for AddWatch.
const watchMask = uint32(Modify | CloseWrite | Attrib | Create | Delete |
	MovedFrom | MovedTo | DeleteSelf | MoveSelf)

var maskNames = []struct {
	bit  Mask
	name string
}{
	{Modify, "MODIFY"},
	{CloseWrite, "CLOSE_WRITE"},
	{Attrib, "ATTRIB"},
	{Create, "CREATE"},
	{Delete, "DELETE"},
	{MovedFrom, "MOVED_FROM"},
	{MovedTo, "MOVED_TO"},
	{DeleteSelf, "DELETE_SELF"},
	{MoveSelf, "MOVE_SELF"},
	{Overflow, "Q_OVERFLOW"},
	{Ignored, "IGNORED"},
}

func (m Mask) String() string {
	var parts []string
	for _, mn := range maskNames {
		if m&mn.bit != 0 {
			parts = append(parts, mn.name)
		}
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, "|")
}

// Has reports whether every bit of want is set.
func (m Mask) Has(want Mask) bool { return m&want == want }

// Event describes one filesystem change. Path is the registered watch
// path; Name is the affected child for directory watches and empty for
// file watches.
type Event struct {
	Path  string
	Name  string
	Mask  Mask
	IsDir bool
}

// Sink receives events on the monitor goroutine. It must not panic, must
// not block indefinitely, and must not call Stop on the delivering
// watcher.
type Sink func(Event)

type Watcher struct {
	log  *slog.Logger
	sink Sink

	mu      sync.Mutex
	fd      int
	wakeR   int
	wakeW   int
	watches map[string]int // path -> wd
	paths   map[int]string // wd -> path
	started bool
	stopped bool
	done    chan struct{}
}

type Option func(*Watcher)

func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

func WithSink(s Sink) Option {
	return func(w *Watcher) { w.sink = s }
}

func New(opts ...Option) *Watcher {
	w := &Watcher{log: logging.Nop(), fd: -1, wakeR: -1, wakeW: -1}
	for _, fn := range opts {
		fn(w)
	}
	return w
}

// Start initializes the inotify descriptor and wake pipe and spawns the
// monitor goroutine. Starting twice is a no-op; starting after Stop has
// completed fails, callers create a new instance instead.
func (w *Watcher) Start() error {
	const op = "watcher.Start"

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return secerr.Ef(secerr.KindWatcherStartFailed, op, "watcher already stopped")
	}
	if w.started {
		return nil
	}

	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return secerr.E(secerr.KindWatcherStartFailed, op, err)
	}

	var pipe [2]int
	if err := unix.Pipe2(pipe[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		unix.Close(fd)
		return secerr.E(secerr.KindWatcherStartFailed, op, err)
	}

	w.fd = fd
	w.wakeR, w.wakeW = pipe[0], pipe[1]
	w.watches = make(map[string]int)
	w.paths = make(map[int]string)
	w.done = make(chan struct{})
	w.started = true

	go w.monitor()

	w.log.Debug("watcher started")
	return nil
}

// AddWatch registers path with the fixed event mask. Adding the same path
// twice is a no-op.
func (w *Watcher) AddWatch(path string) error {
	const op = "watcher.AddWatch"

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started || w.stopped {
		return secerr.E(secerr.KindNotInitialized, op, nil)
	}
	if _, ok := w.watches[path]; ok {
		return nil
	}

	wd, err := unix.InotifyAddWatch(w.fd, path, watchMask)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return secerr.E(secerr.KindPathNotFound, op, err)
		}
		return secerr.E(secerr.KindWatcherStartFailed, op, err)
	}

	w.watches[path] = wd
	w.paths[wd] = path
	w.log.Debug("watch added", "path", path, "wd", wd)
	return nil
}

// RemoveWatch unregisters path. An unknown path is not an error.
func (w *Watcher) RemoveWatch(path string) error {
	const op = "watcher.RemoveWatch"

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started || w.stopped {
		return nil
	}
	wd, ok := w.watches[path]
	if !ok {
		return nil
	}
	delete(w.watches, path)
	delete(w.paths, wd)

	if _, err := unix.InotifyRmWatch(w.fd, uint32(wd)); err != nil {
		// The kernel may already have dropped the watch (deleted path).
		if errors.Is(err, unix.EINVAL) {
			return nil
		}
		return secerr.E(secerr.KindOperationFailed, op, err)
	}
	return nil
}

// Stop signals the monitor goroutine, joins it, closes all descriptors and
// latches the terminal state. Safe to call multiple times and before Start.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	if !w.started {
		w.stopped = true
		w.mu.Unlock()
		return nil
	}
	done := w.done
	w.wake()
	w.mu.Unlock()

	<-done

	w.mu.Lock()
	defer w.mu.Unlock()
	unix.Close(w.fd)
	unix.Close(w.wakeR)
	unix.Close(w.wakeW)
	w.fd, w.wakeR, w.wakeW = -1, -1, -1
	w.watches = nil
	w.paths = nil
	w.started = false
	w.stopped = true
	w.log.Debug("watcher stopped")
	return nil
}

func (w *Watcher) wake() {
	var one = [1]byte{0x01}
	for {
		_, err := unix.Write(w.wakeW, one[:])
		if err == nil || !errors.Is(err, unix.EINTR) {
			return
		}
	}
}

func (w *Watcher) monitor() {
	defer close(w.done)

	buf := make([]byte, 64*1024)
	fds := []unix.PollFd{
		{Fd: int32(w.fd), Events: unix.POLLIN},
		{Fd: int32(w.wakeR), Events: unix.POLLIN},
	}

	for {
		fds[0].Revents = 0
		fds[1].Revents = 0

		n, err := unix.Poll(fds, -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			w.log.Error("watcher poll failed", "err", err)
			return
		}
		if n == 0 {
			continue
		}

		if fds[1].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			w.drainWake()
			return
		}
		if fds[0].Revents&unix.POLLIN == 0 {
			continue
		}

		if !w.readEvents(buf) {
			return
		}
	}
}

func (w *Watcher) drainWake() {
	var scratch [16]byte
	for {
		n, err := unix.Read(w.wakeR, scratch[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// readEvents drains the inotify descriptor once. It returns false only on
// unrecoverable read errors.
func (w *Watcher) readEvents(buf []byte) bool {
	for {
		n, err := unix.Read(w.fd, buf)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			// Readiness without data: nothing to do this round.
			if errors.Is(err, unix.EAGAIN) {
				return true
			}
			w.log.Error("inotify read failed", "err",
				secerr.E(secerr.KindWatcherReadFailed, "watcher.readEvents", err))
			return false
		}
		if n <= 0 {
			return true
		}
		w.dispatch(buf[:n])
		return true
	}
}

func (w *Watcher) dispatch(data []byte) {
	offset := 0
	for offset+unix.SizeofInotifyEvent <= len(data) {
		raw := (*unix.InotifyEvent)(unsafe.Pointer(&data[offset]))
		mask := raw.Mask
		nameLen := int(raw.Len)

		name := ""
		if nameLen > 0 {
			nb := data[offset+unix.SizeofInotifyEvent : offset+unix.SizeofInotifyEvent+nameLen]
			name = string(bytes.TrimRight(nb, "\x00"))
		}
		offset += unix.SizeofInotifyEvent + nameLen

		if mask&unix.IN_Q_OVERFLOW != 0 {
			w.emit(Event{Mask: Overflow})
			continue
		}

		w.mu.Lock()
		path := w.paths[int(raw.Wd)]
		if mask&unix.IN_IGNORED != 0 {
			// Kernel-side removal (path deleted or unmounted).
			delete(w.watches, path)
			delete(w.paths, int(raw.Wd))
		}
		w.mu.Unlock()

		ev := Event{
			Path:  path,
			Name:  name,
			Mask:  Mask(mask) &^ Mask(unix.IN_ISDIR),
			IsDir: mask&unix.IN_ISDIR != 0,
		}
		w.emit(ev)
	}
}

func (w *Watcher) emit(ev Event) {
	w.log.Info("fs event", "path", ev.Path, "name", ev.Name, "mask", ev.Mask.String(), "dir", ev.IsDir)
	if w.sink != nil {
		w.sink(ev)
	}
}
