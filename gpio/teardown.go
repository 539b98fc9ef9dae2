package gpio

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Unexport stops watching one channel and releases it to the kernel.
func (c *Controller) Unexport(ctx context.Context, channel int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, ok := c.lookup(channel)
	if !ok || !c.isRegistered(id) {
		return fmt.Errorf("unexport channel %d: %w", channel, ErrNotExported)
	}
	return c.teardown(id)
}

// Destroy unexports every pin set up by this controller. All pins are
// attempted concurrently even if some fail; the first failure is returned
// and the failed pins stay registered so Destroy can be retried.
func (c *Controller) Destroy(ctx context.Context) error {
	var g errgroup.Group
	for _, id := range c.exportedIDs() {
		id := id
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return c.teardown(id)
		})
	}
	err := g.Wait()

	c.mu.Lock()
	for id, p := range c.pins {
		if p.State == StateFailed {
			delete(c.pins, id)
		}
	}
	c.mu.Unlock()
	return err
}

// teardown removes the watch (unregister, then close) before unexporting.
func (c *Controller) teardown(id string) error {
	unlock := c.lockID(id)
	defer unlock()

	c.removePoller(id)
	c.logger.Printf("gpio: unexport gpio%s", id)
	if err := c.sysfs.Unexport(id); err != nil {
		return fmt.Errorf("unexport gpio%s: %w", id, err)
	}

	c.mu.Lock()
	delete(c.inputs, id)
	delete(c.outputs, id)
	delete(c.pins, id)
	c.mu.Unlock()
	return nil
}
