// Package safety implements the fault monitor: per-cycle range checks,
// the rising-edge oil-pressure running gate, RPM-limit/over-voltage/
// over-temperature checks, and the aggregate safeMode flag.
package safety

import "github.com/mgriffin/goecu/internal/sensor"

const (
	tpsMin, tpsMax     = 0.0, 100.0
	mapMin, mapMax     = 0.0, 300.0
	iatMin, iatMax     = -40.0, 200.0
	cltMin, cltMax     = -40.0, 200.0
	afrMin, afrMax     = 10.0, 20.0
	maxCLTC            = 120.0
	maxIATC            = 80.0
	minOilPressureKPa  = 50.0
	minFuelPressureKPa = 200.0
	maxRPMLimit        = 7500.0
	overvoltageThresh  = 16.0
	runningRPMGate     = 500.0
)

// Status is one boolean per fault kind plus the derived safeMode.
// Faults are recomputed every cycle — none are sticky across
// Update calls except oilPressureFault's running-gate (see Monitor).
type Status struct {
	TPSFault          bool
	MAPFault          bool
	IATFault          bool
	CLTFault          bool
	CrankFault        bool
	CamFault          bool
	WBO2Fault         bool
	FuelPressureFault bool
	OilPressureFault  bool
	OverVoltage       bool
	OverTemperature   bool
	RPMLimitReached   bool
	FuelCalcFault     bool // internal table-health flag, surfaced here
	SchedulingFault   bool // actuator scheduler miss, surfaced here

	SafeMode bool
}

// Monitor evaluates Status each cycle. hasRunRecently tracks the
// rising-edge "engine has been running" gate that the oil-pressure check
// needs: the original firmware used a static local variable seeded to 0
// and never refreshed, which would permanently disable the check after
// the first engine start. Here the gate is explicit state owned by the
// monitor and updated from the real RPM each cycle.
type Monitor struct {
	hasRunRecently bool
}

// NewMonitor constructs a fresh, fault-free Monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// Update runs every range check for one cycle and returns the resulting
// Status. rpm/systemVoltage/crankFaultExpected are inputs the monitor
// cannot derive from SensorSnapshot alone.
func (m *Monitor) Update(snap sensor.Snapshot, rpm float64, systemVoltage float64, crankFaultExpected bool) Status {
	var s Status

	s.TPSFault = snap.TPSFault || !inRange(snap.ThrottlePct, tpsMin, tpsMax)
	s.MAPFault = !inRange(snap.ManifoldPresKPa, mapMin, mapMax)
	s.IATFault = !inRange(snap.IntakeAirTempC, iatMin, iatMax)
	s.CLTFault = !inRange(snap.CoolantTempC, cltMin, cltMax) || snap.CoolantTempC > maxCLTC
	s.CrankFault = rpm == 0 && crankFaultExpected
	s.WBO2Fault = !inRange(snap.MeasuredAFR, afrMin, afrMax)
	s.FuelPressureFault = snap.FuelPresKPa < minFuelPressureKPa

	// Rising-edge running gate: the check only activates once the engine
	// has actually been observed running above the threshold, replacing
	// the original's always-zero static local.
	if rpm > runningRPMGate {
		m.hasRunRecently = true
	}
	s.OilPressureFault = m.hasRunRecently && snap.OilPresKPa < minOilPressureKPa

	s.RPMLimitReached = rpm > maxRPMLimit
	s.OverVoltage = systemVoltage > overvoltageThresh
	s.OverTemperature = snap.CoolantTempC > maxCLTC || snap.IntakeAirTempC > maxIATC

	s.SafeMode = s.TPSFault || s.MAPFault || s.CLTFault || s.CrankFault ||
		s.FuelPressureFault || s.RPMLimitReached || s.OverVoltage || s.OverTemperature

	return s
}

// ResetFaults clears the running-gate memory so the next cycle
// recomputes cleanly. Fault
// flags themselves need no reset since Update recomputes them from
// scratch every cycle; only the rising-edge gate carries state forward.
func (m *Monitor) ResetFaults() {
	m.hasRunRecently = false
}

func inRange(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}
