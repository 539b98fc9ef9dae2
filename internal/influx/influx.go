// Package influx records pin changes in InfluxDB.
package influx

import (
	"context"
	"strconv"
	"sync"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/pkg/errors"
	"github.com/sweeney/rpi-gpio/gpio"
)

// DefaultMeasurement is used when Config.Measurement is empty.
const DefaultMeasurement = "gpio"

// Config holds the InfluxDB v2 connection settings.
type Config struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

// Validate reports the first missing setting.
func (c Config) Validate() error {
	switch {
	case c.URL == "":
		return errors.New("influx url not set")
	case c.Org == "":
		return errors.New("influx org not set")
	case c.Bucket == "":
		return errors.New("influx bucket not set")
	}
	return nil
}

// Writer stores pin changes.
type Writer interface {
	WriteChange(ctx context.Context, c gpio.Change) error
	Close()
}

// NewPoint builds the point for one change: tagged by channel and gpio,
// with the level as an integer field so it can be aggregated.
func NewPoint(measurement string, c gpio.Change) *write.Point {
	if measurement == "" {
		measurement = DefaultMeasurement
	}
	level := 0
	if c.Value {
		level = 1
	}
	return influxdb2.NewPoint(measurement,
		map[string]string{
			"channel": strconv.Itoa(c.Channel),
			"gpio":    c.ID,
		},
		map[string]interface{}{
			"value": level,
		},
		c.Time)
}

// RealWriter writes to an InfluxDB v2 server with blocking writes.
type RealWriter struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPIBlocking
	measurement string
	bucket      string
}

// NewRealWriter creates a writer for cfg. No connection is made until the
// first write.
func NewRealWriter(cfg Config) (*RealWriter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "failed to create influx writer")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &RealWriter{
		client:      client,
		writeAPI:    client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: cfg.Measurement,
		bucket:      cfg.Bucket,
	}, nil
}

// WriteChange stores one change.
func (w *RealWriter) WriteChange(ctx context.Context, c gpio.Change) error {
	err := w.writeAPI.WritePoint(ctx, NewPoint(w.measurement, c))
	return errors.Wrapf(err, "failed to write gpio%s change to bucket %s", c.ID, w.bucket)
}

// Close releases the client's resources.
func (w *RealWriter) Close() {
	w.client.Close()
}

// FakeWriter records changes for test assertions.
type FakeWriter struct {
	mu      sync.Mutex
	changes []gpio.Change

	// WriteError, if set, is returned by WriteChange.
	WriteError error

	closed bool
}

// NewFakeWriter creates a FakeWriter for testing.
func NewFakeWriter() *FakeWriter {
	return &FakeWriter{}
}

// WriteChange records c unless WriteError is set.
func (f *FakeWriter) WriteChange(ctx context.Context, c gpio.Change) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WriteError != nil {
		return errors.Wrapf(f.WriteError, "failed to write gpio%s change", c.ID)
	}
	f.changes = append(f.changes, c)
	return nil
}

// Changes returns a copy of the recorded changes.
func (f *FakeWriter) Changes() []gpio.Change {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gpio.Change(nil), f.changes...)
}

// Close marks the writer closed.
func (f *FakeWriter) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

// Closed reports whether Close was called.
func (f *FakeWriter) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
