package gpio

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sweeney/rpi-gpio/internal/sysfs"
)

// Op is one operation recorded by the fakes.
type Op struct {
	Name string // e.g. "export", "set edge", "poller remove"
	ID   string // physical id, or value-file path for watcher ops
	Arg  string
}

func (o Op) String() string {
	if o.Arg == "" {
		return o.Name + " " + o.ID
	}
	return o.Name + " " + o.ID + " " + o.Arg
}

// Journal records operations from a FakeSysfs and FakeWatcher in the
// order they happened, so tests can assert on cross-component ordering.
type Journal struct {
	mu  sync.Mutex
	ops []Op
}

func (j *Journal) record(op Op) {
	if j == nil {
		return
	}
	j.mu.Lock()
	j.ops = append(j.ops, op)
	j.mu.Unlock()
}

// Ops returns a copy of the recorded operations.
func (j *Journal) Ops() []Op {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Op(nil), j.ops...)
}

// Strings returns the recorded operations formatted with Op.String.
func (j *Journal) Strings() []string {
	ops := j.Ops()
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.String()
	}
	return out
}

// Reset clears the recorded operations.
func (j *Journal) Reset() {
	j.mu.Lock()
	j.ops = nil
	j.mu.Unlock()
}

// FakeSysfs is an in-memory Sysfs that behaves like the kernel interface:
// control files only exist for exported pins.
type FakeSysfs struct {
	Journal *Journal

	// EdgeFailures and DirectionFailures make that many SetEdge or
	// SetDirection calls fail before they start succeeding, like the
	// kernel does right after export.
	EdgeFailures      int
	DirectionFailures int

	// If set, returned by the matching operation.
	ExportError   error
	UnexportError error
	ReadError     error
	WriteError    error

	mu       sync.Mutex
	exported map[string]bool
	values   map[string]string
	dirs     map[string]string
	edges    map[string]string
}

// NewFakeSysfs creates a FakeSysfs recording into j (which may be nil).
func NewFakeSysfs(j *Journal) *FakeSysfs {
	return &FakeSysfs{
		Journal:  j,
		exported: make(map[string]bool),
		values:   make(map[string]string),
		dirs:     make(map[string]string),
		edges:    make(map[string]string),
	}
}

func (f *FakeSysfs) missing(op, id, file string) error {
	return &sysfs.IOError{Op: op, Path: filepath.Join(sysfs.DefaultRoot, "gpio"+id, file), Err: fs.ErrNotExist}
}

// Export marks id exported.
func (f *FakeSysfs) Export(id string) error {
	f.Journal.record(Op{Name: "export", ID: id})
	if f.ExportError != nil {
		return f.ExportError
	}
	f.mu.Lock()
	f.exported[id] = true
	f.mu.Unlock()
	return nil
}

// Unexport marks id unexported and forgets its control files.
func (f *FakeSysfs) Unexport(id string) error {
	f.Journal.record(Op{Name: "unexport", ID: id})
	if f.UnexportError != nil {
		return f.UnexportError
	}
	f.mu.Lock()
	delete(f.exported, id)
	delete(f.dirs, id)
	delete(f.edges, id)
	f.mu.Unlock()
	return nil
}

// SetDirection records the direction of an exported pin.
func (f *FakeSysfs) SetDirection(id, direction string) error {
	f.Journal.record(Op{Name: "set direction", ID: id, Arg: direction})
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DirectionFailures > 0 {
		f.DirectionFailures--
		return f.missing("set direction", id, "direction")
	}
	if !f.exported[id] {
		return f.missing("set direction", id, "direction")
	}
	f.dirs[id] = direction
	switch direction {
	case "low":
		f.values[id] = "0"
	case "high":
		f.values[id] = "1"
	}
	return nil
}

// SetEdge records the edge of an exported pin.
func (f *FakeSysfs) SetEdge(id, edge string) error {
	f.Journal.record(Op{Name: "set edge", ID: id, Arg: edge})
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EdgeFailures > 0 {
		f.EdgeFailures--
		return f.missing("set edge", id, "edge")
	}
	if !f.exported[id] {
		return f.missing("set edge", id, "edge")
	}
	f.edges[id] = edge
	return nil
}

// IsExported reports whether id is exported.
func (f *FakeSysfs) IsExported(id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exported[id], nil
}

// ReadValue returns the stubbed value-file content parsed like the kernel's.
func (f *FakeSysfs) ReadValue(id string) (bool, error) {
	f.Journal.record(Op{Name: "read value", ID: id})
	if f.ReadError != nil {
		return false, f.ReadError
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.exported[id] {
		return false, f.missing("read value", id, "value")
	}
	return sysfs.ParseValue([]byte(f.values[id])), nil
}

// WriteValue stores "1" or "0" as the value-file content.
func (f *FakeSysfs) WriteValue(id string, value bool) error {
	payload := sysfs.FormatValue(value)
	f.Journal.record(Op{Name: "write value", ID: id, Arg: payload})
	if f.WriteError != nil {
		return f.WriteError
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.exported[id] {
		return f.missing("write value", id, "value")
	}
	f.values[id] = payload
	return nil
}

// ValuePath returns the kernel path of id's value file.
func (f *FakeSysfs) ValuePath(id string) string {
	return filepath.Join(sysfs.DefaultRoot, "gpio"+id, "value")
}

// SetContent stubs the raw value-file content for id.
func (f *FakeSysfs) SetContent(id, content string) {
	f.mu.Lock()
	f.values[id] = content
	f.mu.Unlock()
}

// Content returns the raw value-file content for id.
func (f *FakeSysfs) Content(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[id]
}

// Direction returns the last direction written for id.
func (f *FakeSysfs) Direction(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirs[id]
}

// Edge returns the last edge written for id.
func (f *FakeSysfs) Edge(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.edges[id]
}

// Exported reports whether id is currently exported.
func (f *FakeSysfs) Exported(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exported[id]
}

// FakeWatcher lets tests trigger interrupt wakeups by hand.
type FakeWatcher struct {
	Journal *Journal

	// WatchError, if set, is returned by Watch.
	WatchError error

	mu      sync.Mutex
	watches map[string]*fakeRegistration
	closed  bool
}

type fakeRegistration struct {
	w    *FakeWatcher
	path string
	fn   func(bool)
}

// NewFakeWatcher creates a FakeWatcher recording into j (which may be nil).
func NewFakeWatcher(j *Journal) *FakeWatcher {
	return &FakeWatcher{Journal: j, watches: make(map[string]*fakeRegistration)}
}

// Watch registers fn for path. Only one watch per path may be live.
func (w *FakeWatcher) Watch(path string, fn func(bool)) (Registration, error) {
	w.Journal.record(Op{Name: "poller add", ID: path})
	if w.WatchError != nil {
		return nil, w.WatchError
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, errors.New("fake watcher closed")
	}
	if _, ok := w.watches[path]; ok {
		return nil, fmt.Errorf("%s already watched", path)
	}
	r := &fakeRegistration{w: w, path: path, fn: fn}
	w.watches[path] = r
	return r, nil
}

func (r *fakeRegistration) Remove() error {
	r.w.Journal.record(Op{Name: "poller remove", ID: r.path})
	r.w.Journal.record(Op{Name: "poller close", ID: r.path})
	r.w.mu.Lock()
	if r.w.watches[r.path] == r {
		delete(r.w.watches, r.path)
	}
	r.w.mu.Unlock()
	return nil
}

// Fire simulates an interrupt on path whose value file now holds content.
// It reports false if nothing watches path.
func (w *FakeWatcher) Fire(path, content string) bool {
	w.mu.Lock()
	r, ok := w.watches[path]
	w.mu.Unlock()
	if !ok {
		return false
	}
	r.fn(strings.HasPrefix(content, "1"))
	return true
}

// Watching reports whether path has a live watch.
func (w *FakeWatcher) Watching(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.watches[path]
	return ok
}

// Len returns the number of live watches.
func (w *FakeWatcher) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watches)
}

// Close drops all watches.
func (w *FakeWatcher) Close() error {
	w.mu.Lock()
	w.closed = true
	w.watches = make(map[string]*fakeRegistration)
	w.mu.Unlock()
	return nil
}
