//go:build linux

// Package poller turns GPIO sysfs edge interrupts into callbacks.
// The kernel signals an edge on a pin's value file as an EPOLLPRI
// condition, which stays pending until the file is read again from
// offset 0.
package poller

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Watcher owns one epoll instance and the goroutine that waits on it.
type Watcher struct {
	epfd   int
	wakefd int
	logger *log.Logger

	mu      sync.Mutex
	regs    map[int32]*Registration
	closing bool
	closed  bool // epoll and eventfd descriptors released

	done chan struct{}
}

// Registration is a watched value file.
type Registration struct {
	w    *Watcher
	file *os.File
	fd   int32
	read func() (bool, error)
	fn   func(bool)

	// held while the callback runs so Remove cannot return mid-delivery
	mu      sync.Mutex
	removed bool
}

// New starts a watcher. A nil logger discards log output.
func New(logger *log.Logger) (*Watcher, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll add eventfd: %w", err)
	}

	w := &Watcher{
		epfd:   epfd,
		wakefd: wakefd,
		logger: logger,
		regs:   make(map[int32]*Registration),
		done:   make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Watch opens the value file at path and calls fn with the new level on
// every edge interrupt. The pending condition is drained before the file
// is registered so the first wakeup is a real edge.
func (w *Watcher) Watch(path string, fn func(bool)) (*Registration, error) {
	file, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	var buf [1]byte
	read := func() (bool, error) { return readLevel(file, buf[:]) }
	if _, err := read(); err != nil {
		file.Close()
		return nil, fmt.Errorf("clear interrupt %s: %w", path, err)
	}
	return w.watchFile(file, unix.EPOLLPRI|unix.EPOLLERR|unix.EPOLLET, read, fn)
}

// watchFile registers file for events. On each wakeup read acknowledges
// the condition and its level goes to fn. The registration owns file and
// closes it on failure.
func (w *Watcher) watchFile(file *os.File, events uint32, read func() (bool, error), fn func(bool)) (*Registration, error) {
	r := &Registration{w: w, file: file, fd: int32(file.Fd()), read: read, fn: fn}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closing {
		file.Close()
		return nil, errors.New("poller: watcher closed")
	}

	ev := unix.EpollEvent{Events: events, Fd: r.fd}
	if err := unix.EpollCtl(w.epfd, unix.EPOLL_CTL_ADD, int(r.fd), &ev); err != nil {
		file.Close()
		return nil, fmt.Errorf("epoll add %s: %w", file.Name(), err)
	}
	w.regs[r.fd] = r
	return r, nil
}

// Remove unregisters the value file from epoll and then closes it.
// No callback runs after Remove returns.
func (r *Registration) Remove() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removed {
		return nil
	}
	r.removed = true

	r.w.mu.Lock()
	delete(r.w.regs, r.fd)
	var errs []error
	if !r.w.closed {
		if err := unix.EpollCtl(r.w.epfd, unix.EPOLL_CTL_DEL, int(r.fd), nil); err != nil {
			errs = append(errs, fmt.Errorf("epoll del %s: %w", r.file.Name(), err))
		}
	}
	r.w.mu.Unlock()

	if err := r.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", r.file.Name(), err))
	}
	return errors.Join(errs...)
}

// Close stops the watcher and removes every registration.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closing {
		w.mu.Unlock()
		return nil
	}
	w.closing = true
	var one [8]byte
	binary.LittleEndian.PutUint64(one[:], 1)
	if _, err := unix.Write(w.wakefd, one[:]); err != nil {
		w.logger.Printf("poller: wake: %v", err)
	}
	regs := make([]*Registration, 0, len(w.regs))
	for _, r := range w.regs {
		regs = append(regs, r)
	}
	w.mu.Unlock()

	<-w.done

	var errs []error
	for _, r := range regs {
		if err := r.Remove(); err != nil {
			errs = append(errs, err)
		}
	}

	w.mu.Lock()
	w.closed = true
	unix.Close(w.wakefd)
	unix.Close(w.epfd)
	w.mu.Unlock()
	return errors.Join(errs...)
}

func (w *Watcher) run() {
	defer close(w.done)

	events := make([]unix.EpollEvent, 16)
	for {
		n, err := unix.EpollWait(w.epfd, events, -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			w.logger.Printf("poller: epoll wait: %v", err)
			return
		}
		for i := 0; i < n; i++ {
			fd := events[i].Fd
			if fd == int32(w.wakefd) {
				return
			}
			w.mu.Lock()
			r := w.regs[fd]
			w.mu.Unlock()
			if r != nil {
				r.fire()
			}
		}
	}
}

// fire clears the interrupt and reports the level. Read failures are
// logged and dropped; the pin stays registered.
func (r *Registration) fire() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removed {
		return
	}
	value, err := r.read()
	if err != nil {
		r.w.logger.Printf("poller: read %s: %v", r.file.Name(), err)
		return
	}
	r.fn(value)
}

// readLevel re-reads one byte at offset 0, which acknowledges the
// interrupt.
func readLevel(file *os.File, buf []byte) (bool, error) {
	n, err := file.ReadAt(buf[:1], 0)
	if n == 1 {
		return buf[0] == '1', nil
	}
	if err == io.EOF {
		return false, nil
	}
	return false, err
}
