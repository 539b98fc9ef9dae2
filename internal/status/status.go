// Package status provides a thread-safe status tracker for the gpio-bridge
// daemon. It is read by the HTTP handlers and the MQTT lifecycle events.
package status

import (
	"sort"
	"sync"
	"time"

	"github.com/sweeney/rpi-gpio/gpio"
)

// Config contains daemon configuration for display.
type Config struct {
	Mode     string
	Revision string
	Broker   string
	Topic    string
	HTTPAddr string
	Influx   string
}

// Pin is the tracked view of one configured channel.
type Pin struct {
	Channel    int
	ID         string
	Direction  gpio.Direction
	Edge       gpio.Edge
	State      gpio.State
	Value      bool
	Known      bool // Value has been observed at least once
	Changes    int
	LastChange time.Time
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Pins          []Pin
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Ready reports whether every tracked pin finished setup.
func (s Snapshot) Ready() bool {
	if len(s.Pins) == 0 {
		return false
	}
	for _, p := range s.Pins {
		if p.State != gpio.StateReady {
			return false
		}
	}
	return true
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu            sync.RWMutex
	startTime     time.Time
	cfg           Config
	mqttConnected bool
	pins          map[int]*Pin
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		startTime: startTime,
		cfg:       cfg,
		pins:      make(map[int]*Pin),
	}
}

// SetPins replaces the setup information of every tracked pin, keeping
// observed values and change counts for channels that are still present.
func (t *Tracker) SetPins(infos []gpio.PinInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := make(map[int]*Pin, len(infos))
	for _, info := range infos {
		p, ok := t.pins[info.Channel]
		if !ok {
			p = &Pin{Channel: info.Channel}
		}
		p.ID = info.ID
		p.Direction = info.Direction
		p.Edge = info.Edge
		p.State = info.State
		next[info.Channel] = p
	}
	t.pins = next
}

// RecordChange stores a change event for its channel.
func (t *Tracker) RecordChange(c gpio.Change) {
	t.mu.Lock()
	p := t.pin(c.Channel, c.ID)
	p.Value = c.Value
	p.Known = true
	p.Changes++
	p.LastChange = c.Time
	t.mu.Unlock()
}

// SetValue stores a level that was read or written without an interrupt.
func (t *Tracker) SetValue(channel int, id string, value bool) {
	t.mu.Lock()
	p := t.pin(channel, id)
	p.Value = value
	p.Known = true
	t.mu.Unlock()
}

func (t *Tracker) pin(channel int, id string) *Pin {
	p, ok := t.pins[channel]
	if !ok {
		p = &Pin{Channel: channel, ID: id}
		t.pins[channel] = p
	}
	return p
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.mqttConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state with pins
// ordered by channel. The Now field is set to the time of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := Snapshot{
		Pins:          make([]Pin, 0, len(t.pins)),
		StartTime:     t.startTime,
		MQTTConnected: t.mqttConnected,
		Config:        t.cfg,
	}
	for _, p := range t.pins {
		s.Pins = append(s.Pins, *p)
	}
	t.mu.RUnlock()

	sort.Slice(s.Pins, func(i, j int) bool { return s.Pins[i].Channel < s.Pins[j].Channel })
	s.Now = time.Now()
	return s
}
