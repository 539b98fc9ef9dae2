package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/rpi-gpio/gpio"
	"github.com/sweeney/rpi-gpio/internal/status"
)

type fixture struct {
	ts      *httptest.Server
	tracker *status.Tracker
	sysfs   *gpio.FakeSysfs
}

// newTestServer sets up channel 7 (gpio4) as an output and channel 11
// (gpio17) as an input on a revision 2 board.
func newTestServer(t *testing.T) *fixture {
	t.Helper()
	fs := gpio.NewFakeSysfs(nil)
	ctrl := gpio.New(
		gpio.WithSysfs(fs),
		gpio.WithWatcher(gpio.NewFakeWatcher(nil)),
		gpio.WithRevision(gpio.RevisionV2),
		gpio.WithRetry(1, time.Millisecond),
	)
	t.Cleanup(func() { ctrl.Close() })

	ctx := context.Background()
	if err := ctrl.Setup(ctx, 7, gpio.DirOut, gpio.EdgeNone); err != nil {
		t.Fatalf("setup 7: %v", err)
	}
	if err := ctrl.Setup(ctx, 11, gpio.DirIn, gpio.EdgeBoth); err != nil {
		t.Fatalf("setup 11: %v", err)
	}

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := status.NewTracker(start, status.Config{
		Mode:     "rpi",
		Broker:   "tcp://192.168.1.200:1883",
		Topic:    "gpio",
		HTTPAddr: ":8080",
	})
	tr.SetPins(ctrl.Pins())

	srv := New(":0", tr, ctrl)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return &fixture{ts: ts, tracker: tr, sysfs: fs}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, f.ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, string(data)
}

func TestJSONEndpoint(t *testing.T) {
	f := newTestServer(t)
	f.tracker.SetMQTTConnected(true)

	resp, body := f.do(t, http.MethodGet, "/index.json", "")
	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	var sj status.StatusJSON
	if err := json.Unmarshal([]byte(body), &sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if !sj.Status.Ready {
		t.Error("expected Ready=true")
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if len(sj.Status.Pins) != 2 || sj.Status.Pins[0].GPIO != "4" || sj.Status.Pins[1].GPIO != "17" {
		t.Errorf("unexpected pins: %+v", sj.Status.Pins)
	}
}

func TestHTMLEndpoints(t *testing.T) {
	f := newTestServer(t)

	for _, path := range []string{"/", "/index.html"} {
		resp, body := f.do(t, http.MethodGet, path, "")
		if resp.StatusCode != 200 {
			t.Errorf("%s status: got %d, want 200", path, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
			t.Errorf("%s Content-Type: got %q, want text/html", path, ct)
		}
		if !strings.Contains(body, "gpio17") {
			t.Errorf("%s: pin table missing gpio17", path)
		}
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	f := newTestServer(t)

	resp, _ := f.do(t, http.MethodGet, "/nonexistent", "")
	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestReadPin(t *testing.T) {
	f := newTestServer(t)
	f.sysfs.SetContent("17", "1\n")

	resp, body := f.do(t, http.MethodGet, "/pins/11", "")
	if resp.StatusCode != 200 {
		t.Fatalf("status: got %d, want 200 (%s)", resp.StatusCode, body)
	}
	var v ValueJSON
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Channel != 11 || !v.Value {
		t.Errorf("got %+v, want channel 11 high", v)
	}

	snap := f.tracker.Snapshot()
	if !snap.Pins[1].Known || !snap.Pins[1].Value {
		t.Error("read value not recorded in tracker")
	}
}

func TestWritePin(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{"1", "1"},
		{"0", "0"},
		{"true", "1"},
		{"off", "0"},
		{`{"value": true}`, "1"},
		{`{"value": false}`, "0"},
	}

	for _, tt := range tests {
		f := newTestServer(t)
		resp, body := f.do(t, http.MethodPut, "/pins/7", tt.body)
		if resp.StatusCode != 200 {
			t.Errorf("body %q: status %d (%s)", tt.body, resp.StatusCode, body)
			continue
		}
		if got := f.sysfs.Content("4"); got != tt.want {
			t.Errorf("body %q: value file %q, want %q", tt.body, got, tt.want)
		}
	}
}

func TestWritePinErrors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"input pin", "/pins/11", "1", http.StatusConflict},
		{"not set up", "/pins/12", "1", http.StatusConflict},
		{"bad channel", "/pins/abc", "1", http.StatusBadRequest},
		{"zero channel", "/pins/0", "1", http.StatusBadRequest},
		{"bad value", "/pins/7", "maybe", http.StatusBadRequest},
		{"missing value", "/pins/7", `{"level": 1}`, http.StatusBadRequest},
		{"bad json", "/pins/7", `{"value":`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestServer(t)
			resp, body := f.do(t, http.MethodPut, tt.path, tt.body)
			if resp.StatusCode != tt.status {
				t.Errorf("status: got %d, want %d (%s)", resp.StatusCode, tt.status, body)
			}
		})
	}
}

func TestReadUnexportedPin(t *testing.T) {
	f := newTestServer(t)

	resp, _ := f.do(t, http.MethodGet, "/pins/12", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestPinsList(t *testing.T) {
	f := newTestServer(t)
	f.tracker.RecordChange(gpio.Change{Channel: 11, ID: "17", Value: true, Time: time.Now()})

	resp, body := f.do(t, http.MethodGet, "/pins", "")
	if resp.StatusCode != 200 {
		t.Fatalf("status: got %d", resp.StatusCode)
	}
	var pins []status.PinJSON
	if err := json.Unmarshal([]byte(body), &pins); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(pins) != 2 {
		t.Fatalf("expected 2 pins, got %d", len(pins))
	}
	if pins[1].Changes != 1 || pins[1].Value == nil || !*pins[1].Value {
		t.Errorf("unexpected pin 11: %+v", pins[1])
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{gpio.ErrNotExportedForWrite, http.StatusConflict},
		{gpio.ErrNotExported, http.StatusNotFound},
		{gpio.ErrChannelNotMapped, http.StatusNotFound},
		{gpio.ErrInvalidArgument, http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := httpStatus(tt.err); got != tt.want {
			t.Errorf("httpStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
