// Command ac-button debounces AC-mains push buttons wired to GPIO inputs,
// exposes each exported button as a value file and publishes state changes
// to MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sweeney/ac-button/internal/button"
	"github.com/sweeney/ac-button/internal/config"
	"github.com/sweeney/ac-button/internal/gpio"
	"github.com/sweeney/ac-button/internal/logic"
	"github.com/sweeney/ac-button/internal/mqtt"
	"github.com/sweeney/ac-button/internal/node"
	"github.com/sweeney/ac-button/internal/status"
	"github.com/sweeney/ac-button/internal/web"
)

// statusRefresh is how often the tracker's MQTT connection flag is updated.
const statusRefresh = time.Second

func main() {
	configPath := flag.String("config", config.DefaultPath, "YAML configuration file")
	broker := flag.String("broker", "", "MQTT broker address (overrides config)")
	httpAddr := flag.String("http", "", `HTTP status address (overrides config, "off" disables)`)
	strategy := flag.String("strategy", "", "Debounce strategy: poll or zerocrossing (overrides config)")
	printState := flag.Bool("print-state", false, "Print the state of the given (or configured) buttons and exit")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	if err := applyFlags(cfg, *broker, *httpAddr, *strategy); err != nil {
		log.Fatalf("fatal: %v", err)
	}

	if *printState {
		pins := cfg.Export
		if flag.NArg() > 0 {
			if pins, err = parsePins(flag.Args()); err != nil {
				log.Fatalf("fatal: %v", err)
			}
		}
		if err := runPrintState(cfg, pins); err != nil {
			log.Fatalf("fatal: %v", err)
		}
		return
	}

	if err := run(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// applyFlags overlays non-empty command line values on cfg.
func applyFlags(cfg *config.Config, broker, httpAddr, strategy string) error {
	if broker != "" {
		cfg.MQTT.Broker = broker
	}
	switch httpAddr {
	case "":
	case "off":
		cfg.HTTP.Addr = ""
	default:
		cfg.HTTP.Addr = httpAddr
	}
	if strategy != "" {
		cfg.Source.Strategy = strategy
	}
	return cfg.Validate()
}

func parsePins(args []string) ([]int, error) {
	pins := make([]int, 0, len(args))
	for _, a := range args {
		pin, err := button.ParsePin(a)
		if err != nil {
			return nil, err
		}
		pins = append(pins, pin)
	}
	return pins, nil
}

func run(cfg *config.Config) error {
	chip, err := gpio.NewRealChip(cfg.GPIO.Chip)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer chip.Close()

	publisher := mqtt.NewRealPublisher(mqtt.Options{
		Broker:     cfg.MQTT.Broker,
		ClientID:   cfg.MQTT.ClientID,
		BufferSize: cfg.MQTT.Buffer,
	})
	defer publisher.Close()

	d, err := newDaemon(cfg, chip, publisher, cfg.Nodes.Root)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.Close(); err != nil {
			log.Printf("teardown: %v", err)
		}
	}()

	control, err := node.NewControl(cfg.Nodes.Root, d.mgr)
	if err != nil {
		return fmt.Errorf("init control files: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	wg.Add(2)
	go func() {
		defer wg.Done()
		d.forwarder.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := control.Run(ctx); err != nil {
			log.Printf("control files: %v", err)
		}
	}()

	d.exportPins(cfg.Export)

	// Publish startup event with full status snapshot
	snap := d.tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, d.tracker, d.mgr)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTP.Addr)
	}

	log.Printf("started: strategy=%s chip=%s nodes=%s broker=%s heartbeat=%v",
		cfg.Source.Strategy, cfg.GPIO.Chip, cfg.Nodes.Root, cfg.MQTT.Broker, cfg.MQTT.Heartbeat)

	refresh := time.NewTicker(statusRefresh)
	defer refresh.Stop()

	var heartbeat <-chan time.Time
	if cfg.MQTT.Heartbeat > 0 {
		hb := time.NewTicker(cfg.MQTT.Heartbeat)
		defer hb.Stop()
		heartbeat = hb.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(publisher, publisher, d.tracker, time.Now, refresh.C, heartbeat, sigCh)
}

// runLoop publishes heartbeats until a signal arrives, then publishes the
// shutdown event. Button events do not pass through here; the forwarder
// publishes them as they are committed.
func runLoop(publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, now func() time.Time, refresh, heartbeat <-chan time.Time, sig <-chan os.Signal) error {
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
			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if tracker != nil {
				if mqttStatus != nil {
					tracker.SetMQTTConnected(mqttStatus.IsConnected())
				}
				snap := tracker.Snapshot()
				event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", signalName)
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return nil

		case <-refresh:
			if tracker != nil && mqttStatus != nil {
				tracker.SetMQTTConnected(mqttStatus.IsConnected())
			}

		case <-heartbeat:
			hbEvent := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "HEARTBEAT",
			}
			if tracker != nil {
				if mqttStatus != nil {
					tracker.SetMQTTConnected(mqttStatus.IsConnected())
				}
				snap := tracker.Snapshot()
				log.Printf("heartbeat: uptime=%v buttons=%d pressed=%d released=%d",
					snap.Uptime().Truncate(time.Second), len(snap.Buttons), snap.Counts.Pressed, snap.Counts.Released)
				hbEvent.RawPayload = status.FormatStatusEvent(snap, "HEARTBEAT", "")
			}
			if err := publisher.PublishSystem(hbEvent); err != nil {
				log.Printf("heartbeat publish error: %v", err)
			}
		}
	}
}

// runPrintState exports pins, lets the source sample them for a while and
// prints each committed value. Nodes go to a scratch directory so a running
// daemon's tree is untouched.
func runPrintState(cfg *config.Config, pins []int) error {
	chip, err := gpio.NewRealChip(cfg.GPIO.Chip)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer chip.Close()

	root, err := os.MkdirTemp("", "ac-button-")
	if err != nil {
		return fmt.Errorf("create scratch node root: %w", err)
	}
	defer os.RemoveAll(root)

	d, err := newDaemon(cfg, chip, mqtt.NewFakePublisher(), root)
	if err != nil {
		return err
	}
	defer d.Close()

	d.exportPins(pins)
	time.Sleep(settleTime(cfg))
	return printStates(os.Stdout, d.mgr, pins)
}

// settleTime is how long to sample before reporting. A poll source needs a
// full tick after the first edge; a zero-crossing source needs a few
// half-cycles for a release to be confirmed.
func settleTime(cfg *config.Config) time.Duration {
	if cfg.Source.Strategy == string(logic.StrategyZeroCrossing) {
		return 100 * time.Millisecond
	}
	return 2 * cfg.Source.PollInterval
}

type reader interface {
	Read(pin int) (bool, error)
}

func printStates(w io.Writer, r reader, pins []int) error {
	var firstErr error
	for _, pin := range pins {
		pressed, err := r.Read(pin)
		if err != nil {
			fmt.Fprintf(w, "button%d: %v\n", pin, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		fmt.Fprintf(w, "button%d: %s\n", pin, mqtt.StateString(pressed))
	}
	return firstErr
}
