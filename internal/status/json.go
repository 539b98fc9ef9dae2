package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string     `json:"event,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Ready         bool       `json:"ready"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	MQTT          MQTTStatus `json:"mqtt"`
	Pins          []PinJSON  `json:"pins"`
	Config        ConfigJSON `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// PinJSON is the JSON representation of one tracked pin.
type PinJSON struct {
	Channel    int    `json:"channel"`
	GPIO       string `json:"gpio"`
	Direction  string `json:"direction"`
	Edge       string `json:"edge"`
	State      string `json:"state"`
	Value      *bool  `json:"value"`
	Changes    int    `json:"changes"`
	LastChange string `json:"last_change,omitempty"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Mode     string `json:"mode"`
	Revision string `json:"revision,omitempty"`
	Broker   string `json:"broker"`
	Topic    string `json:"topic"`
	HTTPAddr string `json:"http_addr"`
	Influx   string `json:"influx,omitempty"`
}

// PinsJSON converts tracked pins to their JSON form. A pin whose level has
// never been observed has a null value.
func PinsJSON(pins []Pin) []PinJSON {
	out := make([]PinJSON, 0, len(pins))
	for _, p := range pins {
		pj := PinJSON{
			Channel:   p.Channel,
			GPIO:      p.ID,
			Direction: string(p.Direction),
			Edge:      string(p.Edge),
			State:     p.State.String(),
			Changes:   p.Changes,
		}
		if p.Known {
			v := p.Value
			pj.Value = &v
		}
		if !p.LastChange.IsZero() {
			pj.LastChange = p.LastChange.UTC().Format(time.RFC3339Nano)
		}
		out = append(out, pj)
	}
	return out
}

func buildInner(snap Snapshot) StatusInner {
	return StatusInner{
		Ready:         snap.Ready(),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Pins:          PinsJSON(snap.Pins),
		Config: ConfigJSON{
			Mode:     snap.Config.Mode,
			Revision: snap.Config.Revision,
			Broker:   snap.Config.Broker,
			Topic:    snap.Config.Topic,
			HTTPAddr: snap.Config.HTTPAddr,
			Influx:   snap.Config.Influx,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
