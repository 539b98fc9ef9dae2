// Package mqtt publishes pin changes to a broker and accepts write commands
// from it, with an abstraction for testing.
package mqtt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/rpi-gpio/gpio"
	"github.com/sweeney/rpi-gpio/internal/sysfs"
)

// DefaultPrefix is the topic prefix used when none is configured.
const DefaultPrefix = "gpio"

// Topics derives the topic layout from a prefix:
//
//	<prefix>/<channel>      pin changes
//	<prefix>/<channel>/set  write commands
//	<prefix>/system         lifecycle events
type Topics struct {
	Prefix string
}

// Change returns the topic a channel's changes are published on.
func (t Topics) Change(channel int) string {
	return fmt.Sprintf("%s/%d", t.prefix(), channel)
}

// Command returns the wildcard topic write commands arrive on.
func (t Topics) Command() string {
	return t.prefix() + "/+/set"
}

// System returns the topic for lifecycle events.
func (t Topics) System() string {
	return t.prefix() + "/system"
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultPrefix
	}
	return strings.TrimSuffix(t.Prefix, "/")
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a pin change to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(change gpio.Change) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Command asks for an output channel to be driven to Value.
type Command struct {
	Channel int
	Value   bool
}

// CommandHandler is called for every valid write command received.
type CommandHandler func(Command)

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "RECONNECTED"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool
}

// Payload represents the MQTT message payload for a pin change.
type Payload struct {
	GPIO ChangePayload `json:"gpio"`
}

// ChangePayload contains the change details.
type ChangePayload struct {
	Timestamp string `json:"timestamp"`
	Channel   int    `json:"channel"`
	Pin       string `json:"pin"`
	Value     bool   `json:"value"`
	State     string `json:"state"`
}

// FormatPayload creates the JSON payload for a pin change.
func FormatPayload(change gpio.Change) ([]byte, error) {
	state := "LOW"
	if change.Value {
		state = "HIGH"
	}
	payload := Payload{
		GPIO: ChangePayload{
			Timestamp: change.Time.UTC().Format(time.RFC3339Nano),
			Channel:   change.Channel,
			Pin:       change.ID,
			Value:     change.Value,
			State:     state,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// ParseCommand decodes a write command from a topic of the form
// <prefix>/<channel>/set. The payload is truthy when it is "1", "true",
// "on" or "high" (case-insensitive), or a nonzero number.
func ParseCommand(topics Topics, topic string, payload []byte) (Command, error) {
	rest, ok := strings.CutPrefix(topic, topics.prefix()+"/")
	if !ok {
		return Command{}, fmt.Errorf("topic %q outside prefix %q", topic, topics.prefix())
	}
	chStr, ok := strings.CutSuffix(rest, "/set")
	if !ok || chStr == "" || strings.Contains(chStr, "/") {
		return Command{}, fmt.Errorf("topic %q is not a command topic", topic)
	}
	channel, err := strconv.Atoi(chStr)
	if err != nil || channel <= 0 {
		return Command{}, fmt.Errorf("topic %q: bad channel %q", topic, chStr)
	}
	return Command{Channel: channel, Value: parseLevel(payload)}, nil
}

func parseLevel(payload []byte) bool {
	s := strings.ToLower(strings.TrimSpace(string(payload)))
	switch s {
	case "true", "on", "high":
		return true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return sysfs.Truthy(f)
	}
	return sysfs.Truthy(s)
}
