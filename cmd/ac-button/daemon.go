package main

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sweeney/ac-button/internal/button"
	"github.com/sweeney/ac-button/internal/config"
	"github.com/sweeney/ac-button/internal/gpio"
	"github.com/sweeney/ac-button/internal/logic"
	"github.com/sweeney/ac-button/internal/mqtt"
	"github.com/sweeney/ac-button/internal/node"
	"github.com/sweeney/ac-button/internal/status"
	"github.com/sweeney/ac-button/internal/zc"
)

// daemon is everything between the GPIO chip and the outside world.
type daemon struct {
	cfg       *config.Config
	bc        *zc.Broadcaster
	source    button.Source
	mgr       *button.Manager
	tracker   *status.Tracker
	forwarder *mqtt.Forwarder
}

// newDaemon wires a source and a lifecycle manager over chip. Committed
// transitions go to the status tracker and, through the forwarder, to pub.
// Node files are created under nodeRoot after clearing any left by an
// earlier run.
func newDaemon(cfg *config.Config, chip gpio.Chip, pub mqtt.Publisher, nodeRoot string, opts ...button.PollerOption) (*daemon, error) {
	registry := node.NewRegistry(nodeRoot)
	if err := registry.Reset(); err != nil {
		return nil, fmt.Errorf("clear node root: %w", err)
	}

	d := &daemon{cfg: cfg}
	d.tracker = status.NewTracker(time.Now(), status.Config{
		Strategy:    cfg.Source.Strategy,
		PollMs:      cfg.Source.PollInterval.Milliseconds(),
		Chip:        cfg.GPIO.Chip,
		NodeRoot:    nodeRoot,
		HeartbeatMs: cfg.MQTT.Heartbeat.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPPort:    cfg.HTTP.Addr,
	}, nil)
	d.forwarder = mqtt.NewForwarder(pub, cfg.MQTT.Buffer)

	bias := gpio.Bias(cfg.GPIO.Bias)
	table := button.NewTable(chip.Lines())
	notify := button.Notifiers{d.tracker, d.forwarder}

	switch cfg.Source.Strategy {
	case string(logic.StrategyZeroCrossing):
		bc, err := zc.New(chip, cfg.Source.ZCPin, bias)
		if err != nil {
			return nil, fmt.Errorf("init zero-crossing detector: %w", err)
		}
		src, err := button.NewZeroCrossing(table, bc, notify)
		if err != nil {
			bc.Close()
			return nil, fmt.Errorf("init zero-crossing source: %w", err)
		}
		d.bc, d.source = bc, src
	default:
		opts = append([]button.PollerOption{button.WithPeriod(cfg.Source.PollInterval)}, opts...)
		d.source = button.NewPoller(table, notify, opts...)
	}

	d.mgr = button.NewManager(table, chip, d.source, registry, button.WithBias(bias))
	d.tracker.SetLister(d.mgr)
	d.tracker.SetDropCounter(d.forwarder)
	return d, nil
}

// exportPins exports each pin, logging failures. It returns how many
// succeeded.
func (d *daemon) exportPins(pins []int) int {
	n := 0
	for _, pin := range pins {
		if err := d.mgr.Export(pin); err != nil {
			log.Printf("export button%d: %v", pin, err)
			continue
		}
		n++
	}
	return n
}

// Close unexports every button, then releases the zero-crossing detector.
func (d *daemon) Close() error {
	var errs []error
	if err := d.mgr.Close(); err != nil {
		errs = append(errs, err)
	}
	if d.bc != nil {
		if err := d.bc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close zero-crossing detector: %w", err))
		}
	}
	return errors.Join(errs...)
}
