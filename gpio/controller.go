package gpio

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"

	"github.com/sweeney/rpi-gpio/internal/pintable"
	"github.com/sweeney/rpi-gpio/internal/retry"
	"github.com/sweeney/rpi-gpio/internal/sysfs"
)

// Controller owns the pins it exports. It is safe for concurrent use;
// setups of different pins run in parallel, work on the same pin is
// serialised.
type Controller struct {
	sysfs      Sysfs
	newWatcher func() (Watcher, error)
	detect     func() (Revision, error)
	retry      retry.Policy
	logger     *log.Logger

	mu       sync.Mutex
	mode     Mode
	revision Revision // zero until detected
	watcher  Watcher
	inputs   map[string]bool
	outputs  map[string]bool
	pins     map[string]*PinInfo
	pollers  map[string]Registration
	idLocks  map[string]*sync.Mutex
	closed   bool

	events *hub
}

// New returns a Controller using /sys/class/gpio, /proc/cpuinfo and an
// epoll watcher unless options say otherwise.
func New(opts ...Option) *Controller {
	c := &Controller{
		sysfs:  sysfs.New(""),
		detect: func() (Revision, error) { return pintable.DetectRevision(pintable.CPUInfoPath) },
		retry:  retry.Default,
		mode:   ModeRPI,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.New(io.Discard, "", 0)
	}
	if c.newWatcher == nil {
		logger := c.logger
		c.newWatcher = func() (Watcher, error) { return newEpollWatcher(logger) }
	}
	c.clearState()
	c.events = newHub(c.logger, maxQueuedChanges)
	return c
}

func (c *Controller) clearState() {
	c.inputs = make(map[string]bool)
	c.outputs = make(map[string]bool)
	c.pins = make(map[string]*PinInfo)
	c.pollers = make(map[string]Registration)
	if c.idLocks == nil {
		c.idLocks = make(map[string]*sync.Mutex)
	}
}

// SetMode changes how channels passed to later calls are resolved. Pins
// already exported keep the GPIO they were set up on.
func (c *Controller) SetMode(m Mode) error {
	if m != ModeRPI && m != ModeBCM {
		return fmt.Errorf("cannot set mode %q: %w", m, ErrInvalidArgument)
	}
	c.mu.Lock()
	c.mode = m
	c.mu.Unlock()
	c.logger.Printf("gpio: mode set to %s", m)
	return nil
}

// Mode returns the current numbering mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// OnChange registers fn for every change on every watched pin. Handlers
// run on one goroutine in subscription order and must not call Close.
// The returned func unsubscribes.
func (c *Controller) OnChange(fn func(Change)) (unsubscribe func()) {
	return c.events.subscribe(fn)
}

// Subscribe returns a channel receiving every change. Delivery blocks
// until the receiver is ready, unsubscribes or the controller is closed,
// so keep up with it: while it blocks, changes queue up and past 1024
// the oldest are dropped for every subscriber.
func (c *Controller) Subscribe(buffer int) (<-chan Change, func()) {
	ch := make(chan Change, buffer)
	quit := make(chan struct{})
	stop := c.events.stop
	unsub := c.events.subscribe(func(ev Change) {
		select {
		case ch <- ev:
		case <-quit:
		case <-stop:
		}
	})
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			close(quit)
			unsub()
		})
	}
}

// Pins returns the pins the controller knows about, ordered by id.
func (c *Controller) Pins() []PinInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PinInfo, 0, len(c.pins))
	for _, p := range c.pins {
		info := *p
		_, info.Watched = c.pollers[p.ID]
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].ID) != len(out[j].ID) {
			return len(out[i].ID) < len(out[j].ID)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Reset forgets every exported pin and watcher, drops all change
// subscribers and returns to ModeRPI. Kernel export state is left alone.
func (c *Controller) Reset() {
	c.mu.Lock()
	pollers := c.pollers
	c.clearState()
	c.mode = ModeRPI
	c.revision = 0
	c.mu.Unlock()

	for id, reg := range pollers {
		if err := reg.Remove(); err != nil {
			c.logger.Printf("gpio: reset: remove watcher gpio%s: %v", id, err)
		}
	}
	c.events.removeAll()
}

// Close stops change delivery and the interrupt watcher. It does not
// unexport pins; call Destroy first for that.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	w := c.watcher
	c.watcher = nil
	c.pollers = make(map[string]Registration)
	c.mu.Unlock()

	c.events.close()
	if w != nil {
		return w.Close()
	}
	return nil
}

// Revision returns the board revision, detecting it on first use.
func (c *Controller) Revision() (Revision, error) {
	return c.ensureRevision()
}

func (c *Controller) ensureRevision() (Revision, error) {
	c.mu.Lock()
	rev := c.revision
	c.mu.Unlock()
	if rev != 0 {
		return rev, nil
	}

	rev, err := c.detect()
	if err != nil {
		if !errors.Is(err, ErrRevisionDetection) {
			err = fmt.Errorf("%w: %w", ErrRevisionDetection, err)
		}
		return 0, err
	}
	c.logger.Printf("gpio: board revision %s", rev)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.revision == 0 {
		c.revision = rev
	}
	return c.revision, nil
}

// lookup resolves a channel against the current mode without I/O. It
// fails when no revision has been detected yet, since then nothing can
// have been exported.
func (c *Controller) lookup(channel int) (string, bool) {
	c.mu.Lock()
	mode, rev := c.mode, c.revision
	c.mu.Unlock()
	if rev == 0 {
		return "", false
	}
	id, err := pintable.Resolve(channel, mode, rev)
	return id, err == nil
}

// lockID serialises work on one physical id.
func (c *Controller) lockID(id string) func() {
	c.mu.Lock()
	l, ok := c.idLocks[id]
	if !ok {
		l = &sync.Mutex{}
		c.idLocks[id] = l
	}
	c.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (c *Controller) getWatcher() (Watcher, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.watcher == nil {
		w, err := c.newWatcher()
		if err != nil {
			return nil, fmt.Errorf("start interrupt watcher: %w", err)
		}
		c.watcher = w
	}
	return c.watcher, nil
}

func (c *Controller) setState(p *PinInfo, s State) {
	c.mu.Lock()
	p.State = s
	c.mu.Unlock()
	c.logger.Printf("gpio: channel %d (gpio%s) %s", p.Channel, p.ID, s)
}

// register records id in the input or output set, never both.
func (c *Controller) register(id string, dir Direction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dir == DirIn {
		delete(c.outputs, id)
		c.inputs[id] = true
	} else {
		delete(c.inputs, id)
		c.outputs[id] = true
	}
}

func (c *Controller) unregister(id string) {
	c.mu.Lock()
	delete(c.inputs, id)
	delete(c.outputs, id)
	c.mu.Unlock()
}

func (c *Controller) isRegistered(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputs[id] || c.outputs[id]
}

// removePoller unregisters and closes the watch on id, if any.
func (c *Controller) removePoller(id string) {
	c.mu.Lock()
	reg, ok := c.pollers[id]
	delete(c.pollers, id)
	c.mu.Unlock()
	if !ok {
		return
	}
	c.logger.Printf("gpio: remove watcher for gpio%s", id)
	if err := reg.Remove(); err != nil {
		c.logger.Printf("gpio: remove watcher gpio%s: %v", id, err)
	}
}

func (c *Controller) exportedIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.inputs)+len(c.outputs))
	for id := range c.outputs {
		ids = append(ids, id)
	}
	for id := range c.inputs {
		ids = append(ids, id)
	}
	return ids
}
