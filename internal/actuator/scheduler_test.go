package actuator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mgriffin/goecu/internal/fuel"
	"github.com/mgriffin/goecu/internal/hal/sim"
	"github.com/mgriffin/goecu/internal/ignition"
)

func TestFireInjectorTogglesPinHighThenLow(t *testing.T) {
	rig := sim.NewRig()
	d := NewDispatcher(rig, rig, []int{9, 10, 11, 12}, []int{22, 23, 24, 25})
	cfg := fuel.DefaultConfig(4)

	now := rig.NowMicros()
	d.FireInjector(InjectorEvent{Cylinder: 1, PulseWidthMs: 2.0, FireAtUs: now}, cfg, now, false)

	time.Sleep(10 * time.Millisecond)
	assert.False(t, rig.DigitalState(9), "pulse should have ended by now")
}

func TestFireInjectorSuppressedInSafeMode(t *testing.T) {
	rig := sim.NewRig()
	d := NewDispatcher(rig, rig, []int{9}, []int{22})
	cfg := fuel.DefaultConfig(1)

	now := rig.NowMicros()
	d.FireInjector(InjectorEvent{Cylinder: 1, PulseWidthMs: 2.0, FireAtUs: now}, cfg, now, true)
	time.Sleep(5 * time.Millisecond)
	assert.False(t, rig.DigitalState(9))
}

func TestFireInjectorAppliesPerCylinderTrim(t *testing.T) {
	rig := sim.NewRig()
	d := NewDispatcher(rig, rig, []int{9}, []int{22})
	cfg := fuel.DefaultConfig(1)
	cfg.PerCylinderTrim[0] = 0.5 // +50%

	now := rig.NowMicros()
	done := make(chan struct{})
	go func() {
		d.FireInjector(InjectorEvent{Cylinder: 1, PulseWidthMs: 1.0, FireAtUs: now}, cfg, now, false)
		close(done)
	}()
	<-done
	time.Sleep(1 * time.Millisecond)
	assert.True(t, rig.DigitalState(9), "pulse (1.5ms effective) should still be high")
}

func TestMissedDeadlineIncrementsMissCounter(t *testing.T) {
	rig := sim.NewRig()
	d := NewDispatcher(rig, rig, []int{9}, []int{22})
	cfg := fuel.DefaultConfig(1)

	now := rig.NowMicros() + 1000 // 1 ms past the FireAtUs=0 deadline
	d.FireInjector(InjectorEvent{Cylinder: 1, PulseWidthMs: 2.0, FireAtUs: 0}, cfg, now, false)
	assert.Equal(t, uint64(1), d.Misses())
}

func TestZeroAllClearsEveryOutput(t *testing.T) {
	rig := sim.NewRig()
	d := NewDispatcher(rig, rig, []int{9, 10}, []int{22, 23})
	rig.WriteDigital(9, true)
	rig.WriteDigital(23, true)

	d.ZeroAll()

	assert.False(t, rig.DigitalState(9))
	assert.False(t, rig.DigitalState(10))
	assert.False(t, rig.DigitalState(22))
	assert.False(t, rig.DigitalState(23))
}

func TestDispatchInjectorsBatchFiresAllCylindersAtOnce(t *testing.T) {
	rig := sim.NewRig()
	pins := []int{9, 10, 11, 12}
	d := NewDispatcher(rig, rig, pins, []int{22, 23, 24, 25})
	cfg := fuel.DefaultConfig(4)
	cfg.InjectionMode = fuel.InjectionBatch

	now := rig.NowMicros()
	d.DispatchInjectors(2.0, 3000, []int{1, 2, 3, 4}, cfg, now, now, false)
	time.Sleep(1 * time.Millisecond)
	for _, pin := range pins {
		assert.True(t, rig.DigitalState(pin))
	}
}

func TestDwellClampAffectsCoilArmTiming(t *testing.T) {
	rig := sim.NewRig()
	d := NewDispatcher(rig, rig, []int{9}, []int{22})
	cfg := ignition.DefaultConfig(1)
	cfg.DwellMs = 8.0 // clamped to MaxDwellMs (5 ms)

	// Clamped, the coil arms 5 ms before the fire time, at now+1 ms. The
	// unclamped 8 ms dwell would put the arm time in the past and drop it.
	now := rig.NowMicros()
	d.FireCoil(CoilEvent{Cylinder: 1, FireAtUs: now + 6000}, cfg, 3000, now, false)
	time.Sleep(2 * time.Millisecond)
	assert.True(t, rig.DigitalState(22), "coil should be charging during dwell window")
}

func TestFireCoilAppliesPerCylinderTrim(t *testing.T) {
	rig := sim.NewRig()
	d := NewDispatcher(rig, rig, []int{9}, []int{22})
	cfg := ignition.DefaultConfig(1)
	cfg.DwellMs = 1.0
	cfg.PerCylinderTrim[0] = 50.0 // large trim, so its shift dominates the schedule
	rpm := 300.0

	now := rig.NowMicros()
	d.FireCoil(CoilEvent{Cylinder: 1, FireAtUs: now + 5000, AdvanceDeg: 20.0}, cfg, rpm, now, false)

	// Untrimmed, arm/fire would both have happened well within 10ms. With the
	// trim applied the whole pair is pushed roughly 28ms further out, so the
	// coil pin must still be idle here.
	time.Sleep(10 * time.Millisecond)
	assert.False(t, rig.DigitalState(22), "trim should have delayed the arm/fire pair past this point")

	time.Sleep(30 * time.Millisecond)
	assert.False(t, rig.DigitalState(22), "coil should have fired and returned low by the trim-shifted fire time")
}
