package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mgriffin/goecu/internal/actuator"
	"github.com/mgriffin/goecu/internal/crank"
	"github.com/mgriffin/goecu/internal/fuel"
	"github.com/mgriffin/goecu/internal/hal/sim"
	"github.com/mgriffin/goecu/internal/ignition"
	"github.com/mgriffin/goecu/internal/sensor"
	"github.com/mgriffin/goecu/internal/table"
)

const (
	testVoltageChan = 10
	testTeeth       = 60
	testMissing     = 2
)

func testChannelMap() sensor.ChannelMap {
	return sensor.ChannelMap{
		TPS1: 0, TPS2: 1,
		MAP: 2, IAT: 3, CLT: 4,
		Baro: 5, FuelPressure: 6, FuelLevel: 7,
		WBO2: 8, FlexFuel: 9,
		BrakePedal: 20, ClutchPedal: 21,
	}
}

func newTestController(rig *sim.Rig) *Controller {
	chans := testChannelMap()
	pipeline := sensor.NewPipeline(rig, rig, rig, chans, sensor.DefaultReference(), 0.1)
	tracker := crank.New(testTeeth, testMissing)
	if err := tracker.Attach(rig); err != nil {
		panic(err) // only fails on double-attach, which never happens here
	}

	veTable := table.DefaultVETable()
	afrTable := table.DefaultAFRTable()
	fuelCalc := fuel.NewCalculator(veTable, afrTable)

	ignTable := table.DefaultIgnitionTable()
	ignCalc := ignition.NewCalculator(ignTable)

	dispatcher := actuator.NewDispatcher(rig, rig, []int{9, 10, 11, 12}, []int{22, 23, 24, 25})

	return New(rig, rig, testVoltageChan, pipeline, tracker, fuelCalc, ignCalc, dispatcher, 4)
}

func setHealthySensors(rig *sim.Rig) {
	chans := testChannelMap()
	rig.SetChannel(chans.TPS1, 0.5)
	rig.SetChannel(chans.TPS2, 0.5)
	rig.SetChannel(chans.MAP, 0.3)
	rig.SetChannel(chans.IAT, 0.5)
	rig.SetChannel(chans.CLT, 0.6)
	rig.SetChannel(chans.Baro, 0.33)
	rig.SetChannel(chans.FuelPressure, 0.5)
	rig.SetChannel(chans.FuelLevel, 0.7)
	rig.SetChannel(chans.WBO2, 0.5)
	rig.SetChannel(chans.FlexFuel, 0.0)
	rig.SetChannel(testVoltageChan, 13.8/20.0)
}

// feedSteadyRPM fires one full revolution of crank edges (present teeth at
// periodUs spacing, then the missing-tooth gap), sleeping in real time so
// the tracker's staleness check (which compares against the real clock) sees
// a recent last-edge timestamp.
func feedSteadyRPM(rig *sim.Rig, periodUs time.Duration) {
	present := testTeeth - testMissing
	for i := 0; i < present; i++ {
		time.Sleep(periodUs)
		rig.FireEdge(rig.NowMicros())
	}
	time.Sleep(periodUs * time.Duration(testMissing+1))
	rig.FireEdge(rig.NowMicros())
}

func TestControllerHealthyCycleProducesRunningTelemetry(t *testing.T) {
	rig := sim.NewRig()
	ctrl := newTestController(rig)
	setHealthySensors(rig)

	feedSteadyRPM(rig, 200*time.Microsecond)
	ctrl.Tick()

	tel := ctrl.Snapshot()
	assert.False(t, tel.Safety.SafeMode)
	assert.Greater(t, tel.Engine.RPM, 0.0)
	assert.True(t, tel.Engine.Running)
}

func TestControllerZeroesOutputsInSafeMode(t *testing.T) {
	rig := sim.NewRig()
	ctrl := newTestController(rig)
	setHealthySensors(rig)

	chans := testChannelMap()
	rig.SetChannel(chans.FuelPressure, 0.0) // forces FuelPressureFault -> safe mode

	feedSteadyRPM(rig, 200*time.Microsecond)
	rig.WriteDigital(9, true) // pretend an injector was left on

	ctrl.Tick()

	tel := ctrl.Snapshot()
	assert.True(t, tel.Safety.SafeMode)
	assert.False(t, rig.DigitalState(9), "safe mode must zero outputs")
}

func TestControllerStoppedEngineReportsZeroRPMAndPulseWidth(t *testing.T) {
	rig := sim.NewRig()
	ctrl := newTestController(rig)
	setHealthySensors(rig)

	// No crank edges at all: engine is stopped, so RPM and the fuel pulse
	// width must both be zero.
	ctrl.Tick()

	tel := ctrl.Snapshot()
	assert.Equal(t, 0.0, tel.Engine.RPM)
	assert.Equal(t, 0.0, tel.Engine.PulseWidthMs)
}

func TestControllerResetFaultsClearsRunningGate(t *testing.T) {
	rig := sim.NewRig()
	ctrl := newTestController(rig)
	setHealthySensors(rig)

	// Run above the 500 rpm gate; the pipeline reports 0 kPa oil pressure,
	// so the armed gate raises OilPressureFault on this cycle.
	feedSteadyRPM(rig, 200*time.Microsecond)
	ctrl.Tick()

	ctrl.ResetFaults()
	// Let the crank signal go stale so the next cycle sees rpm 0 and cannot
	// re-arm the gate; only the reset can clear the fault now.
	time.Sleep(150 * time.Millisecond)
	ctrl.Tick()

	tel := ctrl.Snapshot()
	assert.False(t, tel.Safety.OilPressureFault)
}
