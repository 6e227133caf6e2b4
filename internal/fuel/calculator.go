// Package fuel implements the fuel pulse-width calculator: three load
// algorithms, the multiplicative correction chain, closed-loop AFR PID,
// injector deadtime, small-pulse correction, and the deceleration and
// minimum-pulse cutoffs.
package fuel

import (
	"math"

	"github.com/mgriffin/goecu/internal/sensor"
	"github.com/mgriffin/goecu/internal/table"
)

const (
	minRPM              = 100
	minInjectorPulseUs  = 500 // 0.5 ms
	afrMin, afrMax      = 10.0, 20.0
	pidDtSeconds        = 0.01
	stoichiometricRatio = 14.7

	// flowConstant is the original firmware's unexplained full-scale
	// pulse-width constant (12.0 ms-equivalent). This flags the
	// alpha-N/MAF/speed-density base constants as unspecified and
	// requiring re-derivation from an injector flow datasheet and engine
	// displacement for a real engine; absent a concrete injector, this
	// module keeps the original's numeric constant rather than inventing
	// a different one.
	flowConstant = 12.0
)

// Calculator computes injector pulse width from a sensor snapshot, a
// crank RPM, and a Config, against a VE table and an AFR target table.
type Calculator struct {
	veTable  *table.Table2D
	afrTable *table.Table2D
	pid      *pidState

	tableFault bool // set when VE lookup is non-finite; surfaced to safety
}

// NewCalculator builds a Calculator around the given VE and AFR-target
// tables.
func NewCalculator(veTable, afrTable *table.Table2D) *Calculator {
	return &Calculator{veTable: veTable, afrTable: afrTable, pid: newPID()}
}

// SetVETable / SetAFRTable let the external tuning surface replace a
// table between cycles.
func (c *Calculator) SetVETable(t *table.Table2D)  { c.veTable = t }
func (c *Calculator) SetAFRTable(t *table.Table2D) { c.afrTable = t }

// TableFault reports whether the most recent lookup produced a
// non-finite VE value.
func (c *Calculator) TableFault() bool { return c.tableFault }

// ComputePulseWidth is the load-to-pulse-width entry point. airMassFlow is
// the abstract MAF signal as a fraction of full-scale; pass hasMAF=false
// when no such sensor is wired, which falls the MAF algorithm back to
// TPS.
func (c *Calculator) ComputePulseWidth(snap sensor.Snapshot, rpm float64, cfg Config, airMassFlow float64, hasMAF bool) float64 {
	if rpm < minRPM {
		return 0
	}

	base, ok := c.baseForAlgorithm(snap, rpm, cfg, airMassFlow, hasMAF)
	if !ok {
		c.tableFault = true
		return 0
	}
	c.tableFault = false

	base *= coolantCorrection(snap.CoolantTempC, cfg)
	base *= iatCorrection(snap.IntakeAirTempC, cfg)
	base *= cfg.TPSMultiplier

	if cfg.FlexFuelEnabled {
		base *= flexFuelCorrection(snap.EthanolPct)
	}

	if snap.MeasuredAFR > afrMin && snap.MeasuredAFR < afrMax {
		target := cfg.TargetAFR
		if c.afrTable != nil {
			target = c.afrTable.Lookup(rpm, loadFor(cfg, snap))
		}
		correction := c.pid.update(target, snap.MeasuredAFR, pidDtSeconds)
		base *= 1.0 + correction
	} else {
		c.pid.reset()
	}

	preDeadtime := base
	base += cfg.InjectorDeadtimeUs / 1000.0 // us -> ms

	if preDeadtime < 2.0 {
		base *= cfg.SmallPulseCorrection
	}

	if cfg.DecelFuelCut && snap.ThrottlePct < 5.0 && rpm > 2000 {
		return 0
	}

	if base < minInjectorPulseUs/1000.0 {
		return 0
	}

	return base
}

// baseForAlgorithm dispatches to the selected load model and returns
// (pulseWidthMs, ok). ok is false when the VE lookup came back
// non-finite.
func (c *Calculator) baseForAlgorithm(snap sensor.Snapshot, rpm float64, cfg Config, airMassFlow float64, hasMAF bool) (float64, bool) {
	switch cfg.Algorithm {
	case AlgorithmAlphaN:
		ve := c.veTable.Lookup(rpm, snap.ThrottlePct)
		if !finite(ve) {
			return 0, false
		}
		return alphaN(snap.ThrottlePct, rpm, ve), true

	case AlgorithmMAF:
		flow := airMassFlow
		if !hasMAF {
			flow = snap.ThrottlePct / 100.0 * 5.0 // original's TPS-voltage fallback shape
		}
		return maf(flow, rpm), true

	default: // AlgorithmSpeedDensity
		ve := c.veTable.Lookup(rpm, snap.ManifoldPresKPa)
		if !finite(ve) {
			return 0, false
		}
		return speedDensity(snap.ManifoldPresKPa, snap.IntakeAirTempC, rpm, ve), true
	}
}

// loadFor returns the load axis value (MAP or TPS) matching the
// configured algorithm, used to look up the AFR target table on the same
// axis the VE table uses.
func loadFor(cfg Config, snap sensor.Snapshot) float64 {
	if cfg.Algorithm == AlgorithmSpeedDensity {
		return snap.ManifoldPresKPa
	}
	return snap.ThrottlePct
}

// speedDensity computes base pulse width from MAP/IAT/rpm/VE, following
// the original's simplified air-density and mass-flow-to-pulsewidth
// chain: rho = (MAP*100)/(287.05*(IAT+273.15)), stoichiometric fuel mass
// = air mass / 14.7, scaled by flowConstant and rpm.
func speedDensity(mapKPa, iatC, rpm, ve float64) float64 {
	iatKelvin := iatC + 273.15
	airDensity := (mapKPa * 100.0) / (287.05 * iatKelvin)
	airMassPerRev := (ve / 100.0) * airDensity * 0.001
	fuelMassPerRev := airMassPerRev / stoichiometricRatio
	return (fuelMassPerRev * rpm * flowConstant) / 6000.0
}

// alphaN computes base pulse width from throttle angle, rpm, and VE.
func alphaN(tps, rpm, ve float64) float64 {
	return (tps / 100.0) * (rpm / 6000.0) * (ve / 100.0) * flowConstant
}

// maf computes base pulse width from an abstract air-mass-flow fraction.
func maf(airFlowFraction, rpm float64) float64 {
	airFlow := airFlowFraction * 100.0
	fuelFlow := airFlow / stoichiometricRatio
	return (fuelFlow * rpm * flowConstant) / 6000.0
}

// coolantCorrection implements the cold-enrichment formula below 70C,
// otherwise the tuned static multiplier.
func coolantCorrection(cltC float64, cfg Config) float64 {
	if cltC < 70.0 {
		return 1.0 + ((70.0-cltC)/70.0)*0.5
	}
	return cfg.CoolantMultiplier
}

// iatCorrection implements the hot-air density reduction above 25C,
// otherwise the tuned static multiplier.
func iatCorrection(iatC float64, cfg Config) float64 {
	if iatC > 25.0 {
		return 1.0 - ((iatC-25.0)/100.0)*0.1
	}
	return cfg.IATMultiplier
}

// flexFuelCorrection scales fuel for ethanol content: 0% ethanol is a
// no-op, 100% scales by ~1.6 (14.7/9.0 stoichiometric ratio shift).
func flexFuelCorrection(ethanolPct float64) float64 {
	return 1.0 + (ethanolPct/100.0)*0.6
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
