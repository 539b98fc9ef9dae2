// Command gpio-bridge exports Raspberry Pi header pins through sysfs,
// publishes their changes to MQTT and InfluxDB, and accepts writes to
// output pins over MQTT and HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sweeney/rpi-gpio/gpio"
	"github.com/sweeney/rpi-gpio/internal/influx"
	"github.com/sweeney/rpi-gpio/internal/mqtt"
	"github.com/sweeney/rpi-gpio/internal/pintable"
	"github.com/sweeney/rpi-gpio/internal/status"
	"github.com/sweeney/rpi-gpio/internal/web"
)

const destroyTimeout = 10 * time.Second

type config struct {
	mode       string
	inputs     string
	outputs    string
	edge       string
	outInit    string
	revision   string
	sysfsRoot  string
	cpuinfo    string
	broker     string
	topic      string
	httpAddr   string
	influx     influx.Config
	printState bool
	debug      bool
}

func main() {
	var cfg config
	flag.StringVar(&cfg.mode, "mode", "rpi", "Channel numbering: rpi (header pins) or bcm (SoC lines)")
	flag.StringVar(&cfg.inputs, "in", "", "Comma-separated channels to set up as inputs")
	flag.StringVar(&cfg.outputs, "out", "", "Comma-separated channels to set up as outputs")
	flag.StringVar(&cfg.edge, "edge", "both", "Interrupt edge for inputs: none, rising, falling, both")
	flag.StringVar(&cfg.outInit, "out-init", "", "Initial output level: low or high (empty leaves it unchanged)")
	flag.StringVar(&cfg.revision, "revision", "", "Board revision 1 or 2 (empty detects from -cpuinfo)")
	flag.StringVar(&cfg.sysfsRoot, "sysfs", "/sys/class/gpio", "sysfs GPIO root")
	flag.StringVar(&cfg.cpuinfo, "cpuinfo", pintable.CPUInfoPath, "cpuinfo file used for revision detection")
	flag.StringVar(&cfg.broker, "broker", "tcp://localhost:1883", "MQTT broker address (empty to disable)")
	flag.StringVar(&cfg.topic, "topic", mqtt.DefaultPrefix, "MQTT topic prefix")
	flag.StringVar(&cfg.httpAddr, "http", ":8080", "HTTP status address (empty to disable)")
	flag.StringVar(&cfg.influx.URL, "influx-url", "", "InfluxDB URL (empty to disable)")
	flag.StringVar(&cfg.influx.Token, "influx-token", os.Getenv("INFLUX_TOKEN"), "InfluxDB token (default $INFLUX_TOKEN)")
	flag.StringVar(&cfg.influx.Org, "influx-org", "", "InfluxDB organization")
	flag.StringVar(&cfg.influx.Bucket, "influx-bucket", "gpio", "InfluxDB bucket")
	flag.StringVar(&cfg.influx.Measurement, "influx-measurement", influx.DefaultMeasurement, "InfluxDB measurement")
	flag.BoolVar(&cfg.printState, "print-state", false, "Print the level of every configured pin and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Log every sysfs operation")

	flag.Parse()

	if err := run(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// pinSpec is one channel to set up.
type pinSpec struct {
	channel int
	dir     gpio.Direction
	edge    gpio.Edge
}

func buildPinSpecs(cfg config) ([]pinSpec, error) {
	ins, err := parseChannels(cfg.inputs)
	if err != nil {
		return nil, fmt.Errorf("-in: %w", err)
	}
	outs, err := parseChannels(cfg.outputs)
	if err != nil {
		return nil, fmt.Errorf("-out: %w", err)
	}
	edge := gpio.Edge(cfg.edge)
	outDir, err := parseOutInit(cfg.outInit)
	if err != nil {
		return nil, err
	}

	seen := make(map[int]bool)
	var specs []pinSpec
	for _, ch := range ins {
		seen[ch] = true
		specs = append(specs, pinSpec{channel: ch, dir: gpio.DirIn, edge: edge})
	}
	for _, ch := range outs {
		if seen[ch] {
			return nil, fmt.Errorf("channel %d is both an input and an output", ch)
		}
		specs = append(specs, pinSpec{channel: ch, dir: outDir, edge: gpio.EdgeNone})
	}
	if len(specs) == 0 {
		return nil, errors.New("no pins configured, use -in and/or -out")
	}
	return specs, nil
}

func controllerOptions(cfg config) ([]gpio.Option, error) {
	mode, err := parseMode(cfg.mode)
	if err != nil {
		return nil, err
	}
	opts := []gpio.Option{
		gpio.WithMode(mode),
		gpio.WithSysfsRoot(cfg.sysfsRoot),
		gpio.WithCPUInfo(cfg.cpuinfo),
	}
	if cfg.revision != "" {
		rev, err := parseRevision(cfg.revision)
		if err != nil {
			return nil, err
		}
		opts = append(opts, gpio.WithRevision(rev))
	}
	if cfg.debug {
		opts = append(opts, gpio.WithLogger(log.Default()))
	}
	return opts, nil
}

func run(cfg config) error {
	specs, err := buildPinSpecs(cfg)
	if err != nil {
		return err
	}
	opts, err := controllerOptions(cfg)
	if err != nil {
		return err
	}

	ctrl := gpio.New(opts...)
	defer ctrl.Close()

	ctx := context.Background()
	if cfg.printState {
		if err := setupPins(ctx, ctrl, specs); err != nil {
			return err
		}
		err := printState(ctx, ctrl, specs, os.Stdout)
		if derr := destroy(ctrl); derr != nil && err == nil {
			err = derr
		}
		return err
	}

	changes, unsubscribe, err := startPins(ctx, ctrl, specs)
	if err != nil {
		return err
	}
	defer unsubscribe()

	rev, _ := ctrl.Revision()
	tracker := status.NewTracker(time.Now(), status.Config{
		Mode:     cfg.mode,
		Revision: rev.String(),
		Broker:   cfg.broker,
		Topic:    cfg.topic,
		HTTPAddr: cfg.httpAddr,
		Influx:   cfg.influx.URL,
	})
	tracker.SetPins(ctrl.Pins())

	b := &bridge{pins: ctrl, tracker: tracker, now: time.Now}
	commands := make(chan mqtt.Command, 16)

	if cfg.broker != "" {
		publisher, err := mqtt.NewRealPublisher(mqtt.Config{
			Broker: cfg.broker,
			Topics: mqtt.Topics{Prefix: cfg.topic},
		})
		if err != nil {
			destroy(ctrl)
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer publisher.Close()
		b.publisher = publisher
		b.mqttStatus = publisher

		err = publisher.OnCommand(func(c mqtt.Command) {
			select {
			case commands <- c:
			default:
				log.Printf("mqtt: command queue full, dropping write to channel %d", c.Channel)
			}
		})
		if err != nil {
			log.Printf("mqtt: %v", err)
		}
	}

	if cfg.influx.URL != "" {
		writer, err := influx.NewRealWriter(cfg.influx)
		if err != nil {
			destroy(ctrl)
			return fmt.Errorf("init influx: %w", err)
		}
		defer writer.Close()
		b.history = writer
	}

	b.publishSystem("STARTUP", "")

	if cfg.httpAddr != "" {
		srv := web.New(cfg.httpAddr, tracker, ctrl)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.httpAddr)
	}

	log.Printf("started: mode=%s revision=%s pins=%d broker=%s", cfg.mode, rev, len(specs), cfg.broker)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return b.runLoop(changes, commands, sigCh)
}

// setupPins sets up every requested pin in order. On failure the pins already
// set up are released again.
func setupPins(ctx context.Context, ctrl *gpio.Controller, specs []pinSpec) error {
	for _, s := range specs {
		if err := ctrl.Setup(ctx, s.channel, s.dir, s.edge); err != nil {
			if derr := destroy(ctrl); derr != nil {
				log.Printf("cleanup after failed setup: %v", derr)
			}
			return fmt.Errorf("setup channel %d: %w", s.channel, err)
		}
	}
	return nil
}

// startPins subscribes to changes and then sets up every pin, so edges
// seen while later pins are still being set up reach the subscription.
func startPins(ctx context.Context, ctrl *gpio.Controller, specs []pinSpec) (<-chan gpio.Change, func(), error) {
	changes, unsubscribe := ctrl.Subscribe(64)
	if err := setupPins(ctx, ctrl, specs); err != nil {
		unsubscribe()
		return nil, nil, err
	}
	return changes, unsubscribe, nil
}

func printState(ctx context.Context, ctrl *gpio.Controller, specs []pinSpec, w io.Writer) error {
	ids := make(map[int]string)
	for _, p := range ctrl.Pins() {
		ids[p.Channel] = p.ID
	}
	for _, s := range specs {
		v, err := ctrl.Read(ctx, s.channel)
		if err != nil {
			return fmt.Errorf("read channel %d: %w", s.channel, err)
		}
		fmt.Fprintf(w, "%d (gpio%s, %s): %s\n", s.channel, ids[s.channel], s.dir, levelString(v))
	}
	return nil
}

func destroy(ctrl pinController) error {
	ctx, cancel := context.WithTimeout(context.Background(), destroyTimeout)
	defer cancel()
	return ctrl.Destroy(ctx)
}

// pinController is the part of *gpio.Controller the run loop drives.
type pinController interface {
	Write(ctx context.Context, channel int, value bool) error
	Destroy(ctx context.Context) error
	Pins() []gpio.PinInfo
}

// bridge fans controller changes out to the publisher, tracker and
// history writer, and applies write commands. publisher, mqttStatus and
// history may be nil.
type bridge struct {
	pins       pinController
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	history    influx.Writer
	now        func() time.Time
}

func (b *bridge) runLoop(changes <-chan gpio.Change, commands <-chan mqtt.Command, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			b.publishSystem("SHUTDOWN", signalName)

			if err := destroy(b.pins); err != nil {
				return fmt.Errorf("release pins: %w", err)
			}
			log.Printf("released all pins")
			return nil

		case c, ok := <-changes:
			if !ok {
				return errors.New("change stream closed")
			}
			b.handleChange(c)

		case cmd := <-commands:
			b.handleCommand(cmd)
		}
	}
}

func (b *bridge) handleChange(c gpio.Change) {
	log.Printf("change: channel %d (gpio%s) %s", c.Channel, c.ID, levelString(c.Value))
	b.tracker.RecordChange(c)
	b.refreshMQTT()

	if b.publisher != nil {
		if err := b.publisher.Publish(c); err != nil {
			log.Printf("publish error: %v", err)
		}
	}
	if b.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := b.history.WriteChange(ctx, c)
		cancel()
		if err != nil {
			log.Printf("influx: %v", err)
		}
	}
}

func (b *bridge) handleCommand(cmd mqtt.Command) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.pins.Write(ctx, cmd.Channel, cmd.Value); err != nil {
		log.Printf("command: write channel %d: %v", cmd.Channel, err)
		return
	}
	log.Printf("command: channel %d set %s", cmd.Channel, levelString(cmd.Value))
	for _, p := range b.pins.Pins() {
		if p.Channel == cmd.Channel {
			b.tracker.SetValue(cmd.Channel, p.ID, cmd.Value)
			break
		}
	}
}

func (b *bridge) refreshMQTT() {
	if b.mqttStatus != nil {
		b.tracker.SetMQTTConnected(b.mqttStatus.IsConnected())
	}
}

func (b *bridge) publishSystem(event, reason string) {
	if b.publisher == nil {
		return
	}
	b.refreshMQTT()
	b.tracker.SetPins(b.pins.Pins())
	snap := b.tracker.Snapshot()
	err := b.publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  b.now(),
		Event:      event,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	})
	if err != nil {
		log.Printf("failed to publish %s event: %v", strings.ToLower(event), err)
		return
	}
	log.Printf("published %s event", strings.ToLower(event))
}

// parseChannels parses a comma-separated channel list. Duplicates are
// rejected; the result is sorted.
func parseChannels(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	seen := make(map[int]bool)
	var out []int
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		ch, err := strconv.Atoi(field)
		if err != nil || ch <= 0 {
			return nil, fmt.Errorf("invalid channel %q", field)
		}
		if seen[ch] {
			return nil, fmt.Errorf("channel %d listed twice", ch)
		}
		seen[ch] = true
		out = append(out, ch)
	}
	sort.Ints(out)
	return out, nil
}

func parseMode(s string) (gpio.Mode, error) {
	switch strings.ToLower(s) {
	case "rpi", string(gpio.ModeRPI):
		return gpio.ModeRPI, nil
	case "bcm", string(gpio.ModeBCM):
		return gpio.ModeBCM, nil
	}
	return "", fmt.Errorf("invalid mode %q, want rpi or bcm", s)
}

func parseRevision(s string) (gpio.Revision, error) {
	switch strings.TrimPrefix(strings.ToLower(s), "v") {
	case "1":
		return gpio.RevisionV1, nil
	case "2":
		return gpio.RevisionV2, nil
	}
	return 0, fmt.Errorf("invalid revision %q, want 1 or 2", s)
}

func parseOutInit(s string) (gpio.Direction, error) {
	switch strings.ToLower(s) {
	case "":
		return gpio.DirOut, nil
	case "low":
		return gpio.DirLow, nil
	case "high":
		return gpio.DirHigh, nil
	}
	return "", fmt.Errorf("invalid -out-init %q, want low or high", s)
}

func levelString(v bool) string {
	if v {
		return "HIGH"
	}
	return "LOW"
}
