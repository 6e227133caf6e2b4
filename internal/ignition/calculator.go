// Package ignition implements the ignition-advance and dwell calculator:
// fixed or table-driven base timing, coolant/IAT corrections, the
// [-10,+45] degree clamp, dwell clamping, and degree<->microsecond
// conversion for scheduling the coil.
package ignition

import (
	"github.com/mgriffin/goecu/internal/sensor"
	"github.com/mgriffin/goecu/internal/table"
)

const (
	minRPM                   = 100
	advanceMinDeg            = -10.0
	advanceMaxDeg            = 45.0
	knockMarginIATThresholdC = 40.0
)

// Calculator computes timing advance against an ignition table.
type Calculator struct {
	ignTable *table.Table2D
}

// NewCalculator builds a Calculator around the given ignition table.
func NewCalculator(ignTable *table.Table2D) *Calculator {
	return &Calculator{ignTable: ignTable}
}

// SetIgnTable replaces the ignition table.
func (c *Calculator) SetIgnTable(t *table.Table2D) { c.ignTable = t }

// ComputeAdvance is the base-timing-plus-corrections entry point: base timing from
// fixed or dynamic mode, plus coolant and IAT-adder corrections, clamped
// to [-10, +45] degrees BTDC.
func (c *Calculator) ComputeAdvance(snap sensor.Snapshot, rpm float64, cfg Config) float64 {
	if rpm < minRPM {
		return 0
	}

	var base float64
	if cfg.Mode == ModeDynamic {
		load := snap.ManifoldPresKPa
		base = c.ignTable.Lookup(rpm, load)
	} else {
		base = 10.0
	}

	base += cfg.CoolantCorrection
	base += iatAdder(snap.IntakeAirTempC, cfg)

	return clamp(base, advanceMinDeg, advanceMaxDeg)
}

// iatAdder returns cfg.IATAdder reduced, above 40C intake air, by a
// knock-margin term of (IAT-40)*0.1 degrees.
func iatAdder(iatC float64, cfg Config) float64 {
	adder := cfg.IATAdder
	if iatC > knockMarginIATThresholdC {
		adder -= (iatC - knockMarginIATThresholdC) * 0.1
	}
	return adder
}

// Dwell clamps the configured dwell time to [MinDwellMs, MaxDwellMs].
func Dwell(cfg Config) float64 {
	return clamp(cfg.DwellMs, MinDwellMs, MaxDwellMs)
}

// DegreesToMicroseconds converts a crank angle to a time delay at the
// given RPM: delay_us = degrees * 60e6 / (rpm * 360).
func DegreesToMicroseconds(degrees, rpm float64) float64 {
	if rpm <= 0 {
		return 0
	}
	return degrees * 60_000_000.0 / (rpm * 360.0)
}

// MicrosecondsToCrankDegrees is the exact inverse of
// DegreesToMicroseconds, satisfying the round-trip invariant
// DegreesToMicroseconds(MicrosecondsToCrankDegrees(us, rpm), rpm) == us.
func MicrosecondsToCrankDegrees(us, rpm float64) float64 {
	if rpm <= 0 {
		return 0
	}
	return us * rpm * 360.0 / 60_000_000.0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
