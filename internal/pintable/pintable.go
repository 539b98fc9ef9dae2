// Package pintable maps Raspberry Pi header channels to BCM GPIO numbers.
// It is pure: once the board revision is known no I/O is needed.
package pintable

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/warthog618/go-gpiocdev/device/rpi"
)

// ErrChannelNotMapped is returned when a channel has no GPIO in the active
// mode and revision.
var ErrChannelNotMapped = errors.New("channel does not map to a GPIO pin")

// Mode selects how channel numbers are interpreted.
type Mode string

const (
	// ModeRPI treats channels as physical header positions.
	ModeRPI Mode = "mode_rpi"
	// ModeBCM treats channels as BCM GPIO numbers.
	ModeBCM Mode = "mode_bcm"
)

// Revision is the board pinout generation.
type Revision int

const (
	RevisionV1 Revision = 1
	RevisionV2 Revision = 2
)

func (r Revision) String() string {
	switch r {
	case RevisionV1:
		return "v1"
	case RevisionV2:
		return "v2"
	}
	return "unknown"
}

// Header positions absent from a table are power, ground or ID EEPROM pins.
var tables = map[Revision]map[int]int{
	RevisionV1: {
		// device/rpi has no names for the rev 1 I2C0 lines
		3:  0,
		5:  1,
		7:  rpi.GPIO4,
		8:  rpi.GPIO14,
		10: rpi.GPIO15,
		11: rpi.GPIO17,
		12: rpi.GPIO18,
		13: rpi.GPIO21,
		15: rpi.GPIO22,
		16: rpi.GPIO23,
		18: rpi.GPIO24,
		19: rpi.GPIO10,
		21: rpi.GPIO9,
		22: rpi.GPIO25,
		23: rpi.GPIO11,
		24: rpi.GPIO8,
		26: rpi.GPIO7,
	},
	RevisionV2: {
		3:  rpi.J8p3,
		5:  rpi.J8p5,
		7:  rpi.J8p7,
		8:  rpi.J8p8,
		10: rpi.J8p10,
		11: rpi.J8p11,
		12: rpi.J8p12,
		13: rpi.J8p13,
		15: rpi.J8p15,
		16: rpi.J8p16,
		18: rpi.J8p18,
		19: rpi.J8p19,
		21: rpi.J8p21,
		22: rpi.J8p22,
		23: rpi.J8p23,
		24: rpi.J8p24,
		26: rpi.J8p26,

		// Model B+ header extension
		29: rpi.J8p29,
		31: rpi.J8p31,
		32: rpi.J8p32,
		33: rpi.J8p33,
		35: rpi.J8p35,
		36: rpi.J8p36,
		37: rpi.J8p37,
		38: rpi.J8p38,
		40: rpi.J8p40,
	},
}

// validBCM is the whitelist of assignable BCM numbers per revision, derived
// from the header tables.
var validBCM = func() map[Revision]map[int]bool {
	out := make(map[Revision]map[int]bool, len(tables))
	for rev, table := range tables {
		set := make(map[int]bool, len(table))
		for _, bcm := range table {
			set[bcm] = true
		}
		out[rev] = set
	}
	return out
}()

// Resolve returns the physical id (BCM number as a decimal string) for the
// channel in the given mode and revision.
func Resolve(channel int, mode Mode, rev Revision) (string, error) {
	switch mode {
	case ModeRPI:
		bcm, ok := tables[rev][channel]
		if !ok {
			return "", fmt.Errorf("channel %d (%s, %s): %w", channel, mode, rev, ErrChannelNotMapped)
		}
		return strconv.Itoa(bcm), nil
	case ModeBCM:
		if !validBCM[rev][channel] {
			return "", fmt.Errorf("channel %d (%s, %s): %w", channel, mode, rev, ErrChannelNotMapped)
		}
		return strconv.Itoa(channel), nil
	}
	return "", fmt.Errorf("unknown pin mode %q", mode)
}

// ValidBCM returns the assignable BCM numbers for a revision in ascending order.
func ValidBCM(rev Revision) []int {
	out := make([]int, 0, len(validBCM[rev]))
	for bcm := range validBCM[rev] {
		out = append(out, bcm)
	}
	sort.Ints(out)
	return out
}

// Channels returns the header positions that carry a GPIO for a revision.
func Channels(rev Revision) []int {
	out := make([]int, 0, len(tables[rev]))
	for ch := range tables[rev] {
		out = append(out, ch)
	}
	sort.Ints(out)
	return out
}
