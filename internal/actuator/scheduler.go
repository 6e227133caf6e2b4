// Package actuator implements the output dispatcher: per-cylinder trim
// application at fire time, batch vs. sequential dispatch, scheduling-
// miss accounting, and safe-mode output zeroing. The original firmware
// fires injectors and coils with a blocking delayMicroseconds call
// directly from the fuel/ignition modules — a correctness bug at high
// RPM, so dispatch goes entirely through the
// non-blocking hal.Scheduler capability instead.
package actuator

import (
	"log"

	"github.com/mgriffin/goecu/internal/fuel"
	"github.com/mgriffin/goecu/internal/hal"
	"github.com/mgriffin/goecu/internal/ignition"
)

// InjectorEvent is one cylinder's commanded injector pulse.
type InjectorEvent struct {
	Cylinder     int
	PulseWidthMs float64
	FireAtUs     uint64
}

// CoilEvent is one cylinder's commanded coil dwell/fire pair.
type CoilEvent struct {
	Cylinder   int
	DwellMs    float64
	FireAtUs   uint64
	AdvanceDeg float64
}

// Dispatcher owns the injector/coil output pins and arms them through a
// hal.Scheduler. It never blocks: every pulse is a pair of scheduled
// callbacks (pin high, then pin low) rather than a sleep.
type Dispatcher struct {
	sched        hal.Scheduler
	writer       hal.DigitalWriter
	injectorPins []int // index 0 = cylinder 1
	coilPins     []int

	misses uint64
}

// NewDispatcher builds a Dispatcher for the given per-cylinder pin maps.
func NewDispatcher(sched hal.Scheduler, writer hal.DigitalWriter, injectorPins, coilPins []int) *Dispatcher {
	return &Dispatcher{sched: sched, writer: writer, injectorPins: injectorPins, coilPins: coilPins}
}

// Misses returns the count of dropped scheduling events, feeding the
// scheduler-miss fault counter.
func (d *Dispatcher) Misses() uint64 { return d.misses }

// FireInjector arms one injector pulse, with the configured per-cylinder
// trim applied at dispatch time, unless safeMode
// suppresses all outputs.
func (d *Dispatcher) FireInjector(ev InjectorEvent, cfg fuel.Config, nowUs uint64, safeMode bool) {
	if safeMode {
		return
	}
	if ev.Cylinder < 1 || ev.Cylinder > len(d.injectorPins) {
		log.Printf("[actuator] injector event for unknown cylinder %d dropped", ev.Cylinder)
		return
	}
	if ev.FireAtUs < nowUs {
		d.misses++
		log.Printf("[actuator] missed injector deadline for cylinder %d", ev.Cylinder)
		return
	}

	trim := 0.0
	if ev.Cylinder-1 < len(cfg.PerCylinderTrim) {
		trim = cfg.PerCylinderTrim[ev.Cylinder-1]
	}
	pulseMs := ev.PulseWidthMs * (1.0 + trim)
	pin := d.injectorPins[ev.Cylinder-1]

	d.sched.Schedule(ev.FireAtUs, func() {
		_ = d.writer.WriteDigital(pin, true)
		offAtUs := ev.FireAtUs + uint64(pulseMs*1000.0)
		d.sched.Schedule(offAtUs, func() {
			_ = d.writer.WriteDigital(pin, false)
		})
	})
}

// FireCoil arms one coil dwell-then-fire pair, with per-cylinder trim
// added to the advance angle at dispatch time: ev.FireAtUs is shifted by
// cfg.PerCylinderTrim[cyl-1] degrees (converted via rpm), matching the
// trim already applied to the injector pulse in FireInjector.
func (d *Dispatcher) FireCoil(ev CoilEvent, cfg ignition.Config, rpm float64, nowUs uint64, safeMode bool) {
	if safeMode {
		return
	}
	if ev.Cylinder < 1 || ev.Cylinder > len(d.coilPins) {
		log.Printf("[actuator] coil event for unknown cylinder %d dropped", ev.Cylinder)
		return
	}

	trim := 0.0
	if ev.Cylinder-1 < len(cfg.PerCylinderTrim) {
		trim = cfg.PerCylinderTrim[ev.Cylinder-1]
	}
	fireAtUs := ev.FireAtUs
	if trim != 0 {
		offsetUs := int64(ignition.DegreesToMicroseconds(trim, rpm))
		fireAtUs = uint64(int64(fireAtUs) + offsetUs)
	}

	dwellUs := uint64(ignition.Dwell(cfg) * 1000.0)
	if fireAtUs < dwellUs {
		d.misses++
		return
	}
	armAtUs := fireAtUs - dwellUs
	if armAtUs < nowUs {
		d.misses++
		log.Printf("[actuator] missed dwell arm deadline for cylinder %d", ev.Cylinder)
		return
	}

	pin := d.coilPins[ev.Cylinder-1]
	d.sched.Schedule(armAtUs, func() {
		_ = d.writer.WriteDigital(pin, true) // begin charging
		d.sched.Schedule(fireAtUs, func() {
			_ = d.writer.WriteDigital(pin, false) // fire
		})
	})
}

// DispatchInjectors arms one injector event per cylinder for the current
// cycle, honoring cfg.InjectionMode: batch fires every cylinder at the
// same absolute time (wasted-spark/batch fuel, the no-cam default),
// sequential spreads them across one 720-degree cycle in firingOrder,
// one event per 360/N*2 degrees.
func (d *Dispatcher) DispatchInjectors(pulseMs float64, rpm float64, firingOrder []int, cfg fuel.Config, baseFireAtUs, nowUs uint64, safeMode bool) {
	if pulseMs <= 0 {
		return
	}
	cylinders := len(firingOrder)
	if cylinders == 0 {
		cylinders = len(d.injectorPins)
	}

	if cfg.InjectionMode != fuel.InjectionSequential || rpm <= 0 {
		for cyl := 1; cyl <= cylinders; cyl++ {
			d.FireInjector(InjectorEvent{Cylinder: cyl, PulseWidthMs: pulseMs, FireAtUs: baseFireAtUs}, cfg, nowUs, safeMode)
		}
		return
	}

	degreesPerSlot := 720.0 / float64(cylinders)
	for i, cyl := range firingOrder {
		offsetUs := ignition.DegreesToMicroseconds(degreesPerSlot*float64(i), rpm)
		d.FireInjector(InjectorEvent{Cylinder: cyl, PulseWidthMs: pulseMs, FireAtUs: baseFireAtUs + uint64(offsetUs)}, cfg, nowUs, safeMode)
	}
}

// ZeroAll immediately commands every injector and coil output low. The
// controller calls this every cycle safety reports safe mode, so no
// injector or coil fires while a fault is active.
func (d *Dispatcher) ZeroAll() {
	for _, pin := range d.injectorPins {
		_ = d.writer.WriteDigital(pin, false)
	}
	for _, pin := range d.coilPins {
		_ = d.writer.WriteDigital(pin, false)
	}
}
