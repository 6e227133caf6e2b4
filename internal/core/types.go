// Package core wires the sensor, crank, safety, fuel, ignition and
// actuator components into a single per-cycle controller loop: sample
// sensors -> update crank -> run safety -> compute fuel and ignition ->
// hand both to the actuator scheduler, gated on safe mode.
package core

import (
	"github.com/mgriffin/goecu/internal/safety"
	"github.com/mgriffin/goecu/internal/sensor"
)

// EngineState is the per-cycle derived engine state:
// filtered RPM, chosen load, latest advance/pulse-width/dwell, and the
// running/cranking flags the controller maintains. Controller.Tick does
// not set FiringCylinder; it stays 0.
type EngineState struct {
	RPM              float64
	Load             float64 // MAP kPa or TPS %, per the active fuel algorithm
	TimingAdvanceDeg float64
	PulseWidthMs     float64
	DwellMs          float64
	Running          bool
	Cranking         bool
	FiringCylinder   int
	MicrosSinceCrank uint64
}

// Telemetry is the read-only snapshot exposed to external consumers via
// Controller.Snapshot.
type Telemetry struct {
	Sensor sensor.Snapshot
	Engine EngineState
	Safety safety.Status
}
