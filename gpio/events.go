package gpio

import (
	"log"
	"sync"
)

// hub delivers changes to subscribers from a single goroutine, in the
// order they were emitted and to handlers in the order they subscribed.
// Emit never blocks, so a slow handler cannot stall the interrupt watcher.
// Once limit changes are waiting the oldest is dropped.
type hub struct {
	logger *log.Logger
	limit  int

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Change
	dropped int
	subs    []*subscriber
	nextID  int
	closed  bool

	stop chan struct{} // closed when close starts
	done chan struct{} // closed when run returns
}

type subscriber struct {
	id int
	fn func(Change)
}

// maxQueuedChanges bounds the changes waiting for delivery.
const maxQueuedChanges = 1024

func newHub(logger *log.Logger, limit int) *hub {
	h := &hub{
		logger: logger,
		limit:  limit,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	h.cond = sync.NewCond(&h.mu)
	go h.run()
	return h
}

func (h *hub) emit(c Change) {
	h.mu.Lock()
	if !h.closed {
		if len(h.queue) >= h.limit {
			old := h.queue[0]
			h.queue[0] = Change{}
			h.queue = h.queue[1:]
			h.dropped++
			h.logger.Printf("gpio: change queue full, dropped change on channel %d (%d dropped)", old.Channel, h.dropped)
		}
		h.queue = append(h.queue, c)
		h.cond.Signal()
	}
	h.mu.Unlock()
}

func (h *hub) subscribe(fn func(Change)) func() {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs = append(h.subs, &subscriber{id: id, fn: fn})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { h.unsubscribe(id) })
	}
}

func (h *hub) unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range h.subs {
		if s.id == id {
			// copy so a delivery in progress keeps its own slice
			subs := make([]*subscriber, 0, len(h.subs)-1)
			subs = append(subs, h.subs[:i]...)
			h.subs = append(subs, h.subs[i+1:]...)
			return
		}
	}
}

func (h *hub) removeAll() {
	h.mu.Lock()
	h.subs = nil
	h.mu.Unlock()
}

func (h *hub) close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.stop)
	h.cond.Signal()
	h.mu.Unlock()
	<-h.done
}

func (h *hub) run() {
	defer close(h.done)
	for {
		h.mu.Lock()
		for len(h.queue) == 0 && !h.closed {
			h.cond.Wait()
		}
		if h.closed {
			h.mu.Unlock()
			return
		}
		c := h.queue[0]
		h.queue[0] = Change{}
		h.queue = h.queue[1:]
		subs := h.subs
		h.mu.Unlock()

		for _, s := range subs {
			s.fn(c)
		}
	}
}
