package gpio

import (
	"log"
	"time"

	"github.com/sweeney/rpi-gpio/internal/pintable"
	"github.com/sweeney/rpi-gpio/internal/poller"
	"github.com/sweeney/rpi-gpio/internal/retry"
	"github.com/sweeney/rpi-gpio/internal/sysfs"
)

// Option configures a Controller.
type Option func(*Controller)

// WithSysfs replaces the kernel control-file backend.
func WithSysfs(s Sysfs) Option {
	return func(c *Controller) { c.sysfs = s }
}

// WithSysfsRoot uses the kernel backend rooted at dir instead of
// /sys/class/gpio.
func WithSysfsRoot(dir string) Option {
	return func(c *Controller) { c.sysfs = sysfs.New(dir) }
}

// WithWatcher replaces the epoll interrupt watcher.
func WithWatcher(w Watcher) Option {
	return func(c *Controller) {
		c.newWatcher = func() (Watcher, error) { return w, nil }
	}
}

// WithRevision fixes the board revision and skips detection.
func WithRevision(rev Revision) Option {
	return func(c *Controller) {
		c.detect = func() (Revision, error) { return rev, nil }
	}
}

// WithRevisionDetector replaces board revision detection.
func WithRevisionDetector(fn func() (Revision, error)) Option {
	return func(c *Controller) { c.detect = fn }
}

// WithCPUInfo reads the board revision from path instead of /proc/cpuinfo.
func WithCPUInfo(path string) Option {
	return func(c *Controller) {
		c.detect = func() (Revision, error) { return pintable.DetectRevision(path) }
	}
}

// WithRetry sets how often edge and direction writes are retried after
// export, and the delay between attempts.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *Controller) {
		c.retry = retry.Policy{Attempts: attempts, Delay: delay}
	}
}

// WithLogger sets the debug logger. Output is discarded by default.
func WithLogger(l *log.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithMode sets the initial pin numbering mode.
func WithMode(m Mode) Option {
	return func(c *Controller) { c.mode = m }
}

// epollWatcher adapts poller.Watcher to the Watcher interface.
type epollWatcher struct {
	w *poller.Watcher
}

func newEpollWatcher(logger *log.Logger) (Watcher, error) {
	w, err := poller.New(logger)
	if err != nil {
		return nil, err
	}
	return &epollWatcher{w: w}, nil
}

func (e *epollWatcher) Watch(path string, fn func(bool)) (Registration, error) {
	r, err := e.w.Watch(path, fn)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (e *epollWatcher) Close() error {
	return e.w.Close()
}
