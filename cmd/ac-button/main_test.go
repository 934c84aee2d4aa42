package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/ac-button/internal/button"
	"github.com/sweeney/ac-button/internal/config"
	"github.com/sweeney/ac-button/internal/gpio"
	"github.com/sweeney/ac-button/internal/logic"
	"github.com/sweeney/ac-button/internal/mqtt"
	"github.com/sweeney/ac-button/internal/node"
	"github.com/sweeney/ac-button/internal/status"
	"github.com/zoobzio/clockz"
)

// --- runLoop tests ---

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Only called from runLoop's goroutine.
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

func newTestTracker() *status.Tracker {
	return status.NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), status.Config{
		Strategy: "poll",
		Broker:   "tcp://192.168.1.200:1883",
	}, nil)
}

// runRunLoop drives runLoop with nRefresh refresh ticks and nHeartbeat
// heartbeat ticks, then delivers signal.
func runRunLoop(t *testing.T, pub *mqtt.FakePublisher, tracker *status.Tracker, nRefresh, nHeartbeat int, signal os.Signal) error {
	t.Helper()
	refresh := make(chan time.Time)
	heartbeat := make(chan time.Time)
	sig := make(chan os.Signal, 1)
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Minute)

	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(pub, pub, tracker, clock, refresh, heartbeat, sig)
	}()

	for i := 0; i < nRefresh; i++ {
		refresh <- time.Time{}
	}
	for i := 0; i < nHeartbeat; i++ {
		heartbeat <- time.Time{}
	}
	sig <- signal

	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("runLoop did not return after signal")
		return nil
	}
}

func TestRunLoopShutdown(t *testing.T) {
	tests := []struct {
		signal os.Signal
		want   string
	}{
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGHUP, "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			pub := mqtt.NewFakePublisher()
			if err := runRunLoop(t, pub, newTestTracker(), 0, 0, tt.signal); err != nil {
				t.Fatalf("runLoop returned error: %v", err)
			}

			events := pub.RecordedSystemEvents()
			if len(events) != 1 {
				t.Fatalf("expected 1 system event, got %d", len(events))
			}
			ev := events[0]
			if ev.Event != "SHUTDOWN" || ev.Reason != tt.want || !ev.Retained {
				t.Errorf("got %+v", ev)
			}

			var sj status.StatusJSON
			if err := json.Unmarshal(ev.RawPayload, &sj); err != nil {
				t.Fatalf("shutdown payload: %v", err)
			}
			if sj.Status.Event != "SHUTDOWN" || sj.Status.Reason != tt.want {
				t.Errorf("payload: event %q reason %q", sj.Status.Event, sj.Status.Reason)
			}
		})
	}
}

func TestRunLoopShutdownPublishError(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.PublishSystemError = errors.New("broker gone")

	if err := runRunLoop(t, pub, newTestTracker(), 0, 0, syscall.SIGTERM); err != nil {
		t.Fatalf("publish failure must not fail shutdown: %v", err)
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	tracker := newTestTracker()
	tracker.Notify(logic.Event{Pin: 17, Type: logic.EventPressed})

	if err := runRunLoop(t, pub, tracker, 0, 2, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	events := pub.RecordedSystemEvents()
	if len(events) != 3 {
		t.Fatalf("expected 2 heartbeats and a shutdown, got %d events", len(events))
	}
	for _, ev := range events[:2] {
		if ev.Event != "HEARTBEAT" || ev.Retained {
			t.Errorf("got %+v", ev)
		}
		var sj status.StatusJSON
		if err := json.Unmarshal(ev.RawPayload, &sj); err != nil {
			t.Fatalf("heartbeat payload: %v", err)
		}
		if sj.Status.Counts.Pressed != 1 {
			t.Errorf("heartbeat pressed count: got %d, want 1", sj.Status.Counts.Pressed)
		}
	}
	if events[2].Event != "SHUTDOWN" {
		t.Errorf("last event: got %q", events[2].Event)
	}
}

func TestRunLoopRefreshUpdatesConnection(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.SetConnected(true)
	tracker := newTestTracker()

	if err := runRunLoop(t, pub, tracker, 1, 0, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if !tracker.Snapshot().MQTTConnected {
		t.Error("expected tracker to report MQTT connected")
	}
	// A refresh publishes nothing
	if got := len(pub.RecordedSystemEvents()); got != 1 {
		t.Errorf("system events: got %d, want 1", got)
	}
}

// --- flag and helper tests ---

func TestApplyFlags(t *testing.T) {
	cfg := config.Default()
	cfg.HTTP.Addr = ":9000"

	if err := applyFlags(cfg, "", "", ""); err != nil {
		t.Fatalf("applyFlags: %v", err)
	}
	if cfg.HTTP.Addr != ":9000" || cfg.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("empty flags changed config: %+v %+v", cfg.HTTP, cfg.MQTT)
	}

	if err := applyFlags(cfg, "tcp://broker:1883", "off", "poll"); err != nil {
		t.Fatalf("applyFlags: %v", err)
	}
	if cfg.MQTT.Broker != "tcp://broker:1883" {
		t.Errorf("broker: got %q", cfg.MQTT.Broker)
	}
	if cfg.HTTP.Addr != "" {
		t.Errorf("http off: got %q", cfg.HTTP.Addr)
	}
}

func TestApplyFlagsValidates(t *testing.T) {
	if err := applyFlags(config.Default(), "", "", "sometimes"); err == nil {
		t.Error("expected error for unknown strategy")
	}
	// zerocrossing needs a detector pin
	if err := applyFlags(config.Default(), "", "", "zerocrossing"); err == nil {
		t.Error("expected error for zerocrossing without zc_pin")
	}
}

func TestParsePins(t *testing.T) {
	pins, err := parsePins([]string{"17", "0x1b"})
	if err != nil {
		t.Fatalf("parsePins: %v", err)
	}
	if len(pins) != 2 || pins[0] != 17 || pins[1] != 27 {
		t.Errorf("got %v", pins)
	}

	if _, err := parsePins([]string{"17", "x"}); !errors.Is(err, button.ErrInvalidPin) {
		t.Errorf("expected ErrInvalidPin, got %v", err)
	}
}

func TestSettleTime(t *testing.T) {
	cfg := config.Default()
	if got := settleTime(cfg); got != 100*time.Millisecond {
		t.Errorf("poll: got %v", got)
	}
	cfg.Source.Strategy = "zerocrossing"
	if got := settleTime(cfg); got != 100*time.Millisecond {
		t.Errorf("zerocrossing: got %v", got)
	}
	cfg.Source.Strategy = "poll"
	cfg.Source.PollInterval = 200 * time.Millisecond
	if got := settleTime(cfg); got != 400*time.Millisecond {
		t.Errorf("slow poll: got %v", got)
	}
}

type mapReader map[int]bool

func (m mapReader) Read(pin int) (bool, error) {
	v, ok := m[pin]
	if !ok {
		return false, button.ErrNotActive
	}
	return v, nil
}

func TestPrintStates(t *testing.T) {
	var buf bytes.Buffer
	err := printStates(&buf, mapReader{17: true, 27: false}, []int{17, 27})
	if err != nil {
		t.Fatalf("printStates: %v", err)
	}
	want := "button17: ON\nbutton27: OFF\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestPrintStatesReportsFailures(t *testing.T) {
	var buf bytes.Buffer
	err := printStates(&buf, mapReader{17: true}, []int{4, 17})
	if !errors.Is(err, button.ErrNotActive) {
		t.Errorf("expected ErrNotActive, got %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "button4: ") || !strings.Contains(out, "button17: ON") {
		t.Errorf("got %q", out)
	}
}

// --- daemon wiring tests ---

func newTestDaemon(t *testing.T, cfg *config.Config) (*daemon, *gpio.FakeChip, *mqtt.FakePublisher, string) {
	t.Helper()
	chip := gpio.NewFakeChip(32)
	pub := mqtt.NewFakePublisher()
	root := t.TempDir()
	d, err := newDaemon(cfg, chip, pub, root, button.WithClock(clockz.NewFakeClock()))
	if err != nil {
		t.Fatalf("newDaemon: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d, chip, pub, root
}

func TestDaemonPollPipeline(t *testing.T) {
	d, chip, pub, root := newTestDaemon(t, config.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.forwarder.Run(ctx)
		close(done)
	}()

	if n := d.exportPins([]int{17, 27, 99}); n != 2 {
		t.Fatalf("exported %d pins, want 2", n)
	}
	if _, err := os.Stat(node.ValuePath(root, 17)); err != nil {
		t.Errorf("value file: %v", err)
	}

	chip.Line(17).Fire(true)
	d.source.(*button.Poller).Tick()

	cancel()
	<-done

	events := pub.RecordedEvents()
	if len(events) != 1 || events[0].Pin != 17 || events[0].Type != logic.EventPressed {
		t.Fatalf("published: got %+v", events)
	}

	snap := d.tracker.Snapshot()
	if snap.Counts.Pressed != 1 || len(snap.Buttons) != 2 || !snap.Buttons[0].Pressed {
		t.Errorf("snapshot: got %+v", snap)
	}

	data, err := os.ReadFile(node.ValuePath(root, 17))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "1\n" {
		t.Errorf("value file: got %q", data)
	}
}

func TestDaemonZeroCrossing(t *testing.T) {
	cfg := config.Default()
	cfg.Source.Strategy = "zerocrossing"
	cfg.Source.ZCPin = 4

	d, chip, _, root := newTestDaemon(t, cfg)

	if !chip.Owned(4) {
		t.Fatal("expected detector pin to be reserved")
	}
	if err := d.mgr.Export(4); !errors.Is(err, button.ErrPinUnavailable) {
		t.Errorf("export detector pin: got %v, want ErrPinUnavailable", err)
	}
	if err := d.mgr.Export(17); err != nil {
		t.Fatalf("export: %v", err)
	}

	// Contact closed: line reads low when the waveform leaves a crossing
	chip.Line(17).SetLevel(0)
	chip.Line(4).Fire(true)

	pressed, err := d.mgr.Read(17)
	if err != nil || !pressed {
		t.Errorf("Read: got %v, %v", pressed, err)
	}
	if d.tracker.Snapshot().Counts.Pressed != 1 {
		t.Error("expected tracker to count the press")
	}
	if _, err := os.Stat(filepath.Join(root, "button17")); err != nil {
		t.Errorf("node dir: %v", err)
	}

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if chip.Owned(4) || chip.Owned(17) {
		t.Error("expected all lines released after Close")
	}
}

func TestDaemonZeroCrossingPinBusy(t *testing.T) {
	cfg := config.Default()
	cfg.Source.Strategy = "zerocrossing"
	cfg.Source.ZCPin = 4

	chip := gpio.NewFakeChip(32)
	if _, err := chip.Request(4); err != nil {
		t.Fatal(err)
	}
	if _, err := newDaemon(cfg, chip, mqtt.NewFakePublisher(), t.TempDir()); err == nil {
		t.Fatal("expected error when detector pin is busy")
	}
}

func TestDaemonCloseReleasesButtons(t *testing.T) {
	d, chip, _, root := newTestDaemon(t, config.Default())
	d.exportPins([]int{5, 6})

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for _, pin := range []int{5, 6} {
		if chip.Owned(pin) {
			t.Errorf("pin %d still owned", pin)
		}
		if _, err := os.Stat(node.NodeDir(root, pin)); !os.IsNotExist(err) {
			t.Errorf("button%d node still present: %v", pin, err)
		}
	}
	if err := d.mgr.Export(5); !errors.Is(err, button.ErrClosed) {
		t.Errorf("export after close: got %v", err)
	}
}

func TestDaemonStartsOverStaleTree(t *testing.T) {
	root := t.TempDir()

	// An earlier run died with button17 still exported
	if _, err := node.NewRegistry(root).Register(17); err != nil {
		t.Fatal(err)
	}

	d, err := newDaemon(config.Default(), gpio.NewFakeChip(32), mqtt.NewFakePublisher(), root, button.WithClock(clockz.NewFakeClock()))
	if err != nil {
		t.Fatalf("newDaemon: %v", err)
	}
	defer d.Close()

	if _, err := os.Stat(node.NodeDir(root, 17)); !os.IsNotExist(err) {
		t.Errorf("stale node survived startup: %v", err)
	}
	if n := d.exportPins([]int{17}); n != 1 {
		t.Fatalf("exported %d pins, want 1", n)
	}
	data, err := os.ReadFile(node.ValuePath(root, 17))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "0\n" {
		t.Errorf("value: got %q", data)
	}
}

func TestDaemonReportsDroppedEvents(t *testing.T) {
	cfg := config.Default()
	cfg.MQTT.Buffer = 1
	d, chip, _, _ := newTestDaemon(t, cfg)
	d.exportPins([]int{17})

	// Nothing drains the forwarder: the press fills the queue, the release
	// is dropped
	poller := d.source.(*button.Poller)
	chip.Line(17).Fire(true)
	poller.Tick()
	poller.Tick()

	if got := d.tracker.Snapshot().MQTTDropped; got != 1 {
		t.Errorf("MQTTDropped: got %d, want 1", got)
	}
}

func TestDaemonExportLogsOnce(t *testing.T) {
	d, _, _, _ := newTestDaemon(t, config.Default())

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	d.exportPins([]int{17, 99})

	if n := strings.Count(buf.String(), "exported button17"); n != 1 {
		t.Errorf("export of button17 logged %d times:\n%s", n, buf.String())
	}
	if !strings.Contains(buf.String(), "export button99") {
		t.Errorf("failed export not logged:\n%s", buf.String())
	}
}
