package core

import (
	"sync"

	"github.com/mgriffin/goecu/internal/actuator"
	"github.com/mgriffin/goecu/internal/crank"
	"github.com/mgriffin/goecu/internal/fuel"
	"github.com/mgriffin/goecu/internal/hal"
	"github.com/mgriffin/goecu/internal/ignition"
	"github.com/mgriffin/goecu/internal/safety"
	"github.com/mgriffin/goecu/internal/sensor"
	"github.com/mgriffin/goecu/internal/table"
)

// Controller owns every component and drives one control cycle per Tick
// call. Within a cycle the phases run strictly in order — sensors, crank
// update, safety, fuel, ignition, dispatch — and no phase is re-entered,
// no matter what.
type Controller struct {
	clock         hal.Clock
	voltageADC    hal.ADC
	voltageChan   int
	pipeline      *sensor.Pipeline
	tracker       *crank.Tracker
	monitor       *safety.Monitor
	fuelCalc      *fuel.Calculator
	ignCalc       *ignition.Calculator
	dispatcher    *actuator.Dispatcher
	cylinders     int

	mu        sync.Mutex // guards telemetry for the cross-goroutine Snapshot read
	fuelCfg   fuel.Config
	ignCfg    ignition.Config
	telemetry Telemetry

	wasRunning bool // tracks whether the engine was recently running, for crank-fault expectation
}

// New builds a Controller. voltageADC/voltageChan supply the
// over-voltage divider capability the safety monitor requires.
func New(
	clock hal.Clock,
	voltageADC hal.ADC,
	voltageChan int,
	pipeline *sensor.Pipeline,
	tracker *crank.Tracker,
	fuelCalc *fuel.Calculator,
	ignCalc *ignition.Calculator,
	dispatcher *actuator.Dispatcher,
	cylinders int,
) *Controller {
	return &Controller{
		clock:       clock,
		voltageADC:  voltageADC,
		voltageChan: voltageChan,
		pipeline:    pipeline,
		tracker:     tracker,
		monitor:     safety.NewMonitor(),
		fuelCalc:    fuelCalc,
		ignCalc:     ignCalc,
		dispatcher:  dispatcher,
		cylinders:   cylinders,
		fuelCfg:     fuel.DefaultConfig(cylinders),
		ignCfg:      ignition.DefaultConfig(cylinders),
	}
}

// SetFuelConfig / SetIgnitionConfig / SetVETable / SetIgnTable /
// SetAFRTable implement the controller's exposed mutation capabilities.
// The tuning interface may only update configs between cycles; callers
// are expected not to call these concurrently with Tick.
func (c *Controller) SetFuelConfig(cfg fuel.Config)         { c.fuelCfg = cfg }
func (c *Controller) SetIgnitionConfig(cfg ignition.Config) { c.ignCfg = cfg }
func (c *Controller) SetVETable(t *table.Table2D)           { c.fuelCalc.SetVETable(t) }
func (c *Controller) SetIgnTable(t *table.Table2D)          { c.ignCalc.SetIgnTable(t) }
func (c *Controller) SetAFRTable(t *table.Table2D)          { c.fuelCalc.SetAFRTable(t) }

// ResetFaults clears sticky safety-monitor state (the running gate).
func (c *Controller) ResetFaults() { c.monitor.ResetFaults() }

// Tick runs one control cycle.
func (c *Controller) Tick() {
	now := c.clock.NowMicros()

	// 1. Sensors.
	snap := c.pipeline.Sample()

	// 2. Crank update.
	rpm, synced, _ := c.tracker.Update(now)
	crankExpectedRunning := c.wasRunning
	if rpm > 0 {
		c.wasRunning = true
	} else if c.tracker.Stale(now) {
		c.wasRunning = false
	}

	// 3. Safety.
	voltage := c.readSystemVoltage()
	status := c.monitor.Update(snap, rpm, voltage, crankExpectedRunning)
	if !synced {
		status.CrankFault = status.CrankFault || crankExpectedRunning
		status.SafeMode = status.SafeMode || status.CrankFault
	}

	// 4 & 5. Fuel and ignition are computed every cycle regardless of
	// safe mode; only dispatch is gated.
	pw := c.fuelCalc.ComputePulseWidth(snap, rpm, c.fuelCfg, 0, false)
	status.FuelCalcFault = c.fuelCalc.TableFault()
	advance := c.ignCalc.ComputeAdvance(snap, rpm, c.ignCfg)
	dwell := ignition.Dwell(c.ignCfg)

	// 6. Dispatch.
	missesBefore := c.dispatcher.Misses()
	if status.SafeMode {
		c.dispatcher.ZeroAll()
	} else {
		c.dispatcher.DispatchInjectors(pw, rpm, c.ignCfg.FiringOrder, c.fuelCfg, now, now, false)
		for _, cyl := range c.ignCfg.FiringOrder {
			fireAt := now + uint64(ignition.DegreesToMicroseconds(advance, rpm))
			c.dispatcher.FireCoil(actuator.CoilEvent{Cylinder: cyl, DwellMs: dwell, FireAtUs: fireAt, AdvanceDeg: advance}, c.ignCfg, rpm, now, false)
		}
	}
	status.SchedulingFault = c.dispatcher.Misses() > missesBefore

	c.publish(snap, EngineState{
		RPM:              rpm,
		Load:             loadFor(c.fuelCfg, snap),
		TimingAdvanceDeg: advance,
		PulseWidthMs:     pw,
		DwellMs:          dwell,
		Running:          rpm > 0,
		Cranking:         rpm > 0 && rpm < 400,
		MicrosSinceCrank: now,
	}, status)
}

func (c *Controller) readSystemVoltage() float64 {
	if c.voltageADC == nil {
		return 0
	}
	frac, err := c.voltageADC.ReadChannel(c.voltageChan)
	if err != nil {
		return 0
	}
	// 4:1 divider onto a 5V reference, matching the original firmware's
	// system-voltage sense circuit.
	return frac * 5.0 * 4.0
}

func (c *Controller) publish(snap sensor.Snapshot, state EngineState, status safety.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.telemetry = Telemetry{Sensor: snap, Engine: state, Safety: status}
}

// Snapshot returns the most recently published telemetry frame.
func (c *Controller) Snapshot() Telemetry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.telemetry
}

func loadFor(cfg fuel.Config, snap sensor.Snapshot) float64 {
	if cfg.Algorithm == fuel.AlgorithmSpeedDensity {
		return snap.ManifoldPresKPa
	}
	return snap.ThrottlePct
}
