package gpio

import (
	"context"
	"fmt"
	"time"

	"github.com/sweeney/rpi-gpio/internal/pintable"
	"github.com/sweeney/rpi-gpio/internal/retry"
)

// Setup exports channel and configures it. An empty direction means
// DirOut and an empty edge means EdgeNone.
//
// The sequence is strictly ordered: a stale export left by an earlier run
// is removed, the pin is exported, the edge and then the direction are
// written (retrying while the kernel creates the control files), and the
// value file is watched for interrupts. Output pins are watched too, so
// their level can be read back.
//
// If a step after export fails the pin is unexported again and the error
// of the failing step is returned.
func (c *Controller) Setup(ctx context.Context, channel int, dir Direction, edge Edge) error {
	if dir == "" {
		dir = DirOut
	}
	if edge == "" {
		edge = EdgeNone
	}
	if channel < 0 {
		return fmt.Errorf("channel %d must not be negative: %w", channel, ErrInvalidArgument)
	}
	if !dir.valid() {
		return fmt.Errorf("cannot set direction %q: %w", dir, ErrInvalidArgument)
	}
	if !edge.valid() {
		return fmt.Errorf("cannot set edge %q: %w", edge, ErrInvalidArgument)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	rev, err := c.ensureRevision()
	if err != nil {
		return err
	}
	c.mu.Lock()
	mode, closed := c.mode, c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	id, err := pintable.Resolve(channel, mode, rev)
	if err != nil {
		return err
	}

	unlock := c.lockID(id)
	defer unlock()

	p := &PinInfo{Channel: channel, ID: id, Direction: dir, Edge: edge}
	c.mu.Lock()
	c.pins[id] = p
	c.mu.Unlock()
	c.setState(p, StatePinResolved)

	// An id never has two live watches: drop ours before touching the kernel.
	c.removePoller(id)
	c.unregister(id)

	exported, err := c.sysfs.IsExported(id)
	if err != nil {
		return c.fail(p, fmt.Errorf("setup channel %d: %w", channel, err))
	}
	if exported {
		if err := c.sysfs.Unexport(id); err != nil {
			return c.fail(p, fmt.Errorf("setup channel %d: unexport stale gpio%s: %w", channel, id, err))
		}
		c.setState(p, StateUnexported)
	}

	if err := c.sysfs.Export(id); err != nil {
		return c.fail(p, fmt.Errorf("setup channel %d: export gpio%s: %w", channel, id, err))
	}
	c.setState(p, StateExported)

	err = retry.Do(ctx, c.retry, func() error {
		return c.sysfs.SetEdge(id, string(edge))
	})
	if err != nil {
		return c.rollback(p, fmt.Errorf("setup channel %d: set edge %s: %w", channel, edge, err))
	}
	c.setState(p, StateEdgeSet)

	// Registered before the direction write so a concurrent read or write
	// sees the intended direction.
	c.register(id, dir)

	err = retry.Do(ctx, c.retry, func() error {
		return c.sysfs.SetDirection(id, string(dir))
	})
	if err != nil {
		return c.rollback(p, fmt.Errorf("setup channel %d: set direction %s: %w", channel, dir, err))
	}
	c.setState(p, StateDirectionSet)

	if err := c.listen(channel, id); err != nil {
		return c.rollback(p, fmt.Errorf("setup channel %d: %w", channel, err))
	}
	c.setState(p, StateWatching)

	c.setState(p, StateReady)
	return nil
}

// listen watches id's value file and turns each interrupt into a Change.
func (c *Controller) listen(channel int, id string) error {
	if !c.isRegistered(id) {
		return fmt.Errorf("listen channel %d: %w", channel, ErrNotExported)
	}
	w, err := c.getWatcher()
	if err != nil {
		return err
	}

	c.logger.Printf("gpio: listen for gpio%s", id)
	reg, err := w.Watch(c.sysfs.ValuePath(id), func(value bool) {
		c.logger.Printf("gpio: change on channel %d with value %v", channel, value)
		c.events.emit(Change{Channel: channel, ID: id, Value: value, Time: time.Now()})
	})
	if err != nil {
		return fmt.Errorf("watch gpio%s: %w", id, err)
	}

	c.mu.Lock()
	c.pollers[id] = reg
	c.mu.Unlock()
	return nil
}

func (c *Controller) fail(p *PinInfo, err error) error {
	c.setState(p, StateFailed)
	c.logger.Printf("gpio: %v", err)
	return err
}

// rollback undoes a partial setup after export succeeded.
func (c *Controller) rollback(p *PinInfo, err error) error {
	c.removePoller(p.ID)
	c.unregister(p.ID)
	if uerr := c.sysfs.Unexport(p.ID); uerr != nil {
		c.logger.Printf("gpio: rollback unexport gpio%s: %v", p.ID, uerr)
	}
	return c.fail(p, err)
}
