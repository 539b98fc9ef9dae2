//go:build linux

package poller

import (
	"bytes"
	"errors"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestNewClose(t *testing.T) {
	w, err := New(nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
	// second close is a no-op
	if err := w.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestWatchMissingFile(t *testing.T) {
	w, err := New(nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer w.Close()

	_, err = w.Watch(filepath.Join(t.TempDir(), "gpio4", "value"), func(bool) {})
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestWatchRegularFileRejected(t *testing.T) {
	// epoll refuses regular files with EPERM; only sysfs attributes and
	// other pollable files can be registered.
	path := filepath.Join(t.TempDir(), "value")
	if err := os.WriteFile(path, []byte("0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w, err := New(nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer w.Close()

	if _, err := w.Watch(path, func(bool) {}); err == nil {
		t.Error("expected error registering a regular file")
	}
	if len(w.regs) != 0 {
		t.Errorf("expected no registrations, got %d", len(w.regs))
	}
}

func TestWatchAfterClose(t *testing.T) {
	w, err := New(nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	w.Close()

	path := filepath.Join(t.TempDir(), "value")
	if err := os.WriteFile(path, []byte("1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Watch(path, func(bool) {}); err == nil {
		t.Error("expected error after close")
	}
}

func TestReadLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "value")
	tests := []struct {
		content string
		want    bool
	}{
		{"1\n", true},
		{"0\n", false},
		{"", false},
	}

	for _, tt := range tests {
		if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
			t.Fatal(err)
		}
		f, err := os.Open(path)
		if err != nil {
			t.Fatal(err)
		}
		got, err := readLevel(f, make([]byte, 1))
		f.Close()
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tt.content, err)
		}
		if got != tt.want {
			t.Errorf("%q: got %v, want %v", tt.content, got, tt.want)
		}
	}
}

// pipeSource stands in for a value file: each byte written to the pipe
// wakes the watcher and read consumes it.
type pipeSource struct {
	r, w *os.File
	buf  [1]byte
}

func newPipeSource(t *testing.T) *pipeSource {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		w.Close()
		r.Close()
	})
	return &pipeSource{r: r, w: w}
}

func (p *pipeSource) read() (bool, error) {
	if _, err := p.r.Read(p.buf[:]); err != nil {
		return false, err
	}
	return p.buf[0] == '1', nil
}

func (p *pipeSource) set(t *testing.T, level string) {
	t.Helper()
	if _, err := p.w.WriteString(level); err != nil {
		t.Fatalf("write %q: %v", level, err)
	}
}

func (p *pipeSource) watch(t *testing.T, w *Watcher, read func() (bool, error), fn func(bool)) *Registration {
	t.Helper()
	reg, err := w.watchFile(p.r, unix.EPOLLIN|unix.EPOLLET, read, fn)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	return reg
}

func expectLevel(t *testing.T, levels <-chan bool, want bool) {
	t.Helper()
	select {
	case got := <-levels:
		if got != want {
			t.Errorf("got level %v, want %v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatalf("no callback for level %v", want)
	}
}

func TestDispatch(t *testing.T) {
	w, err := New(nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer w.Close()

	src := newPipeSource(t)
	levels := make(chan bool, 4)
	src.watch(t, w, src.read, func(v bool) { levels <- v })

	for _, level := range []string{"1", "0", "1"} {
		src.set(t, level)
		expectLevel(t, levels, level == "1")
	}
}

func TestDispatchReadErrorKeepsWatching(t *testing.T) {
	var logs bytes.Buffer
	w, err := New(log.New(&logs, "", 0))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	src := newPipeSource(t)
	reads := make(chan struct{}, 4)
	calls := 0
	read := func() (bool, error) {
		defer func() { reads <- struct{}{} }()
		calls++
		v, err := src.read()
		if calls == 1 {
			return false, errors.New("value file gone")
		}
		return v, err
	}
	levels := make(chan bool, 4)
	src.watch(t, w, read, func(v bool) { levels <- v })

	src.set(t, "1")
	select {
	case <-reads:
	case <-time.After(time.Second):
		t.Fatal("no wakeup for first edge")
	}
	src.set(t, "0")
	expectLevel(t, levels, false)

	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case v := <-levels:
		t.Errorf("failed read was delivered as %v", v)
	default:
	}
	if !strings.Contains(logs.String(), "value file gone") {
		t.Errorf("read error not logged: %q", logs.String())
	}
}

func TestRemoveWaitsForCallback(t *testing.T) {
	w, err := New(nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer w.Close()

	src := newPipeSource(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	calls := make(chan bool, 4)
	reg := src.watch(t, w, src.read, func(v bool) {
		calls <- v
		entered <- struct{}{}
		<-release
	})

	src.set(t, "1")
	<-entered

	removed := make(chan error, 1)
	go func() { removed <- reg.Remove() }()
	select {
	case <-removed:
		t.Fatal("Remove returned while a callback was running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	select {
	case err := <-removed:
		if err != nil {
			t.Fatalf("remove: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Remove did not return")
	}

	w.mu.Lock()
	n := len(w.regs)
	w.mu.Unlock()
	if n != 0 {
		t.Errorf("expected no registrations, got %d", n)
	}
	// the read end is closed, so nothing can wake the callback again
	if _, err := src.w.WriteString("0"); !errors.Is(err, unix.EPIPE) {
		t.Errorf("expected EPIPE writing to a removed source, got %v", err)
	}
	if len(calls) != 1 {
		t.Errorf("expected 1 callback, got %d", len(calls))
	}
	if err := reg.Remove(); err != nil {
		t.Errorf("second remove: %v", err)
	}
}

func TestCloseRemovesRegistrations(t *testing.T) {
	w, err := New(nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	srcs := []*pipeSource{newPipeSource(t), newPipeSource(t)}
	regs := make([]*Registration, len(srcs))
	for i, src := range srcs {
		regs[i] = src.watch(t, w, src.read, func(bool) {})
	}

	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if len(w.regs) != 0 {
		t.Errorf("expected no registrations, got %d", len(w.regs))
	}
	for i, src := range srcs {
		if _, err := src.w.WriteString("1"); !errors.Is(err, unix.EPIPE) {
			t.Errorf("source %d: expected EPIPE after close, got %v", i, err)
		}
		if err := regs[i].Remove(); err != nil {
			t.Errorf("source %d: remove after close: %v", i, err)
		}
	}
}
