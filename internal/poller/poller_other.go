//go:build !linux

package poller

import (
	"errors"
	"log"
)

var errUnsupported = errors.New("poller: not supported on this platform (requires Linux)")

// Watcher is not available on non-Linux platforms.
type Watcher struct{}

// Registration is not available on non-Linux platforms.
type Registration struct{}

// New returns an error on non-Linux platforms.
func New(logger *log.Logger) (*Watcher, error) {
	return nil, errUnsupported
}

// Watch is not implemented on non-Linux platforms.
func (w *Watcher) Watch(path string, fn func(bool)) (*Registration, error) {
	return nil, errUnsupported
}

// Close is not implemented on non-Linux platforms.
func (w *Watcher) Close() error {
	return nil
}

// Remove is not implemented on non-Linux platforms.
func (r *Registration) Remove() error {
	return nil
}
