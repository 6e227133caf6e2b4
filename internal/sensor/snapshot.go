// Package sensor implements the sensor-acquisition pipeline: it samples
// the abstract ADC capability, converts each channel to engineering
// units, filters it, checks redundant channels against each other, and
// publishes one atomic SensorSnapshot per controller cycle.
package sensor

// Snapshot is the per-cycle, immutable sensor publication every other
// component reads. Consumers never see a mix of pre- and post-sample
// values: Pipeline.Sample builds one by value and hands it out whole.
type Snapshot struct {
	ThrottlePct     float64 // TPS, 0-100
	ManifoldPresKPa float64 // MAP, 0-300
	IntakeAirTempC  float64 // IAT, -40-200
	CoolantTempC    float64 // CLT, -40-200
	BaroKPa         float64
	FuelPresKPa     float64
	FuelLevelPct    float64
	OilPresKPa      float64
	MeasuredAFR     float64 // 10-20
	EthanolPct      float64 // 0-100
	VehicleSpeedKPH float64
	BrakeOn         bool
	ClutchOn        bool

	// TPSFault is raised when the dual TPS channels disagree beyond the
	// configured threshold; it does not invalidate the rest of the
	// snapshot, but the safety monitor reads it directly.
	TPSFault bool
}
