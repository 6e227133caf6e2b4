package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pterm/pterm"

	"github.com/mgriffin/goecu/internal/actuator"
	"github.com/mgriffin/goecu/internal/core"
	"github.com/mgriffin/goecu/internal/crank"
	"github.com/mgriffin/goecu/internal/fuel"
	"github.com/mgriffin/goecu/internal/hal"
	"github.com/mgriffin/goecu/internal/hal/serialrig"
	"github.com/mgriffin/goecu/internal/hal/sim"
	"github.com/mgriffin/goecu/internal/ignition"
	"github.com/mgriffin/goecu/internal/sensor"
	"github.com/mgriffin/goecu/internal/table"
	"github.com/mgriffin/goecu/internal/telemetry"
)

// hardware bundles the hal capabilities main needs to construct the
// controller, satisfied by both *sim.Rig and *serialrig.Bridge.
type hardware interface {
	hal.ADC
	hal.DigitalWriter
	hal.DigitalReader
	hal.Clock
	hal.CrankSource
	hal.Scheduler
	hal.InterruptGuard
}

// connectable is satisfied by the one provider that needs a connect step;
// hal/sim's Rig is always already "connected".
type connectable interface {
	Connect() error
}

func main() {
	configPath := flag.String("config", "./goecu.yaml", "path to config file")
	listenAddr := flag.String("listen", "", "override listen address (e.g. :8090)")
	provider := flag.String("provider", "", "override hardware provider (sim|serial)")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	pterm.DefaultSection.Println("goecu")
	pterm.Info.Println("starting engine control loop")

	cfg := telemetry.LoadConfig(*configPath)
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	if *provider != "" {
		cfg.Hardware.Provider = *provider
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	var rig hardware
	switch cfg.Hardware.Provider {
	case "serial":
		bridge := serialrig.New(serialrig.Config{PortPath: cfg.Hardware.PortPath, BaudRate: cfg.Hardware.BaudRate})
		go connectWithRetry(ctx, "serialrig", bridge, 10)
		rig = bridge
	default:
		simRig := sim.NewRig()
		simRig.Drive(cfg.Engine.CrankTeeth, cfg.Engine.CrankMissing)
		rig = simRig
	}

	pipeline := sensor.NewPipeline(rig, rig, rig, cfg.Sensors.Channels, cfg.Sensors.Reference(), cfg.Sensors.FilterAlpha)
	tracker := crank.New(cfg.Engine.CrankTeeth, cfg.Engine.CrankMissing)
	if err := tracker.Attach(rig); err != nil {
		log.Fatalf("[main] attach crank source: %v", err)
	}

	fuelCalc := fuel.NewCalculator(table.DefaultVETable(), table.DefaultAFRTable())
	ignCalc := ignition.NewCalculator(table.DefaultIgnitionTable())
	dispatcher := actuator.NewDispatcher(rig, rig, cfg.Hardware.InjectorPins, cfg.Hardware.CoilPins)

	ctrl := core.New(rig, rig, cfg.Hardware.VoltageChannel, pipeline, tracker, fuelCalc, ignCalc, dispatcher, cfg.Engine.Cylinders)
	ctrl.SetFuelConfig(cfg.Fuel)
	ctrl.SetIgnitionConfig(cfg.Ignition)

	logger := telemetry.NewLogger(cfg.Logging)
	defer logger.Close()

	srv := telemetry.NewServer(cfg, ctrl, logger)

	pterm.DefaultSection.Println("Startup summary")
	pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
		{"setting", "value"},
		{"provider", cfg.Hardware.Provider},
		{"cylinders", strconv.Itoa(cfg.Engine.Cylinders)},
		{"crank wheel", strconv.Itoa(cfg.Engine.CrankTeeth) + "-" + strconv.Itoa(cfg.Engine.CrankMissing)},
		{"fuel algorithm", string(cfg.Fuel.Algorithm)},
		{"listen addr", cfg.Server.ListenAddr},
	}).Render()

	if err := srv.Run(ctx); err != nil {
		log.Printf("[main] server exited: %v", err)
	}
}

// connectWithRetry attempts to connect with exponential backoff, starting
// at 1s and doubling up to a 60s ceiling, retrying indefinitely — the
// dashboard/telemetry server starts regardless of hardware connect state.
func connectWithRetry(ctx context.Context, name string, c connectable, maxAttempts int) {
	delay := 1 * time.Second
	maxDelay := 60 * time.Second
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.Connect(); err != nil {
			attempt++
			if attempt <= maxAttempts {
				log.Printf("[%s] connect attempt %d/%d failed: %v (retry in %v)", name, attempt, maxAttempts, err, delay)
			} else {
				log.Printf("[%s] connect attempt %d failed: %v (retry in %v)", name, attempt, err, delay)
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		} else {
			log.Printf("[%s] connected successfully (attempt %d)", name, attempt+1)
			return
		}
	}
}
