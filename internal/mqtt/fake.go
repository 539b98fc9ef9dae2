package mqtt

import (
	"sync"

	"github.com/sweeney/rpi-gpio/gpio"
)

// FakePublisher records published events for test assertions.
// Change events arrive on the controller's dispatch goroutine, so the
// recorded slices are guarded; use the accessor methods from tests that
// publish concurrently.
type FakePublisher struct {
	mu sync.Mutex

	// Changes contains all pin changes that were published.
	Changes []gpio.Change

	// Payloads contains the JSON payloads that were published.
	Payloads [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool

	onCommand CommandHandler
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// Publish records the pin change.
func (f *FakePublisher) Publish(change gpio.Change) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}

	payload, err := FormatPayload(change)
	if err != nil {
		return err
	}
	f.Changes = append(f.Changes, change)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// OnCommand stores fn so tests can deliver commands with Deliver.
func (f *FakePublisher) OnCommand(fn CommandHandler) error {
	f.mu.Lock()
	f.onCommand = fn
	f.mu.Unlock()
	return nil
}

// Deliver simulates a message arriving on a command topic. It reports
// false if the topic or payload is rejected or no handler is set.
func (f *FakePublisher) Deliver(topics Topics, topic string, payload []byte) bool {
	cmd, err := ParseCommand(topics, topic, payload)
	if err != nil {
		return false
	}
	f.mu.Lock()
	fn := f.onCommand
	f.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(cmd)
	return true
}

// ChangeCount returns the number of recorded pin changes.
func (f *FakePublisher) ChangeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Changes)
}

// RecordedChanges returns a copy of the recorded pin changes.
func (f *FakePublisher) RecordedChanges() []gpio.Change {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gpio.Change(nil), f.Changes...)
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Reset clears recorded events.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Changes = nil
	f.Payloads = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Connected = false
}
