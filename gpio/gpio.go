// Package gpio drives Raspberry Pi pins through the kernel sysfs GPIO
// interface. A Controller exports pins, configures their direction and
// interrupt edge, reads and writes their level, and reports level changes
// on watched pins to subscribers.
package gpio

import (
	"errors"
	"time"

	"github.com/sweeney/rpi-gpio/internal/pintable"
)

// Mode selects how channel numbers are interpreted.
type Mode = pintable.Mode

const (
	// ModeRPI numbers channels by physical header position (default).
	ModeRPI = pintable.ModeRPI
	// ModeBCM numbers channels by BCM GPIO number.
	ModeBCM = pintable.ModeBCM
)

// Revision is the board pinout generation.
type Revision = pintable.Revision

const (
	RevisionV1 = pintable.RevisionV1
	RevisionV2 = pintable.RevisionV2
)

// Direction is the value written to a pin's direction file.
type Direction string

const (
	DirIn   Direction = "in"
	DirOut  Direction = "out"
	DirLow  Direction = "low"  // output, initially low
	DirHigh Direction = "high" // output, initially high
)

func (d Direction) valid() bool {
	switch d {
	case DirIn, DirOut, DirLow, DirHigh:
		return true
	}
	return false
}

// IsOutput reports whether the direction allows writes.
func (d Direction) IsOutput() bool {
	return d == DirOut || d == DirLow || d == DirHigh
}

// Edge selects which transitions raise an interrupt.
type Edge string

const (
	EdgeNone    Edge = "none"
	EdgeRising  Edge = "rising"
	EdgeFalling Edge = "falling"
	EdgeBoth    Edge = "both"
)

func (e Edge) valid() bool {
	switch e {
	case EdgeNone, EdgeRising, EdgeFalling, EdgeBoth:
		return true
	}
	return false
}

var (
	// ErrInvalidArgument reports a bad channel, direction, edge or mode.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrChannelNotMapped reports a channel with no GPIO in the active mode.
	ErrChannelNotMapped = pintable.ErrChannelNotMapped
	// ErrNotExported reports a read or unexport on a pin that was never set up.
	ErrNotExported = errors.New("pin has not been exported")
	// ErrNotExportedForWrite reports a write on a pin not set up as an output.
	ErrNotExportedForWrite = errors.New("pin has not been exported for write")
	// ErrRevisionDetection reports that the board revision could not be read.
	ErrRevisionDetection = pintable.ErrRevisionDetection
	// ErrClosed reports use of a closed Controller.
	ErrClosed = errors.New("controller closed")
)

// Change is emitted when a watched pin's level changes.
type Change struct {
	Channel int
	ID      string // BCM number used in sysfs paths
	Value   bool
	Time    time.Time
}

// Sysfs is the set of kernel control-file operations a Controller needs.
// *sysfs.FS from internal/sysfs is the production implementation.
type Sysfs interface {
	Export(id string) error
	Unexport(id string) error
	SetDirection(id, direction string) error
	SetEdge(id, edge string) error
	IsExported(id string) (bool, error)
	ReadValue(id string) (bool, error)
	WriteValue(id string, value bool) error
	ValuePath(id string) string
}

// Watcher delivers the level of a value file after each edge interrupt.
type Watcher interface {
	Watch(path string, fn func(value bool)) (Registration, error)
	Close() error
}

// Registration is a live watch. Remove unregisters it from the readiness
// mechanism and then closes the file descriptor.
type Registration interface {
	Remove() error
}

// PinInfo describes a pin known to a Controller.
type PinInfo struct {
	Channel   int
	ID        string
	Direction Direction
	Edge      Edge
	State     State
	Watched   bool
}
