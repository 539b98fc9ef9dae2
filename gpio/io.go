package gpio

import (
	"context"
	"fmt"
)

// Write drives an output channel high (true) or low (false).
func (c *Controller) Write(ctx context.Context, channel int, value bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, ok := c.lookup(channel)
	if !ok {
		return fmt.Errorf("write channel %d: %w", channel, ErrNotExportedForWrite)
	}

	c.mu.Lock()
	isOut, isIn := c.outputs[id], c.inputs[id]
	c.mu.Unlock()
	if !isOut {
		if isIn {
			return fmt.Errorf("write channel %d: gpio%s is exported for input: %w", channel, id, ErrNotExportedForWrite)
		}
		return fmt.Errorf("write channel %d: %w", channel, ErrNotExportedForWrite)
	}

	c.logger.Printf("gpio: writing gpio%s with value %v", id, value)
	return c.sysfs.WriteValue(id, value)
}

// Output is an alias for Write.
func (c *Controller) Output(ctx context.Context, channel int, value bool) error {
	return c.Write(ctx, channel, value)
}

// Read returns the level of a channel set up for input or output.
func (c *Controller) Read(ctx context.Context, channel int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	id, ok := c.lookup(channel)
	if !ok || !c.isRegistered(id) {
		return false, fmt.Errorf("read channel %d: %w", channel, ErrNotExported)
	}

	value, err := c.sysfs.ReadValue(id)
	if err != nil {
		return false, err
	}
	c.logger.Printf("gpio: read gpio%s with value %v", id, value)
	return value, nil
}

// Input is an alias for Read.
func (c *Controller) Input(ctx context.Context, channel int) (bool, error) {
	return c.Read(ctx, channel)
}
