package safety

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mgriffin/goecu/internal/sensor"
)

func healthySnapshot() sensor.Snapshot {
	return sensor.Snapshot{
		ThrottlePct:     20,
		ManifoldPresKPa: 60,
		IntakeAirTempC:  25,
		CoolantTempC:    85,
		FuelPresKPa:     300,
		OilPresKPa:      250,
		MeasuredAFR:     14.7,
	}
}

func TestHealthyCycleIsSafeModeFalse(t *testing.T) {
	m := NewMonitor()
	s := m.Update(healthySnapshot(), 3000, 13.8, false)
	assert.False(t, s.SafeMode)
}

func TestScenarioOverRevSetsRPMLimitAndSafeMode(t *testing.T) {
	m := NewMonitor()
	s := m.Update(healthySnapshot(), 7600, 13.8, false)
	assert.True(t, s.RPMLimitReached)
	assert.True(t, s.SafeMode)
}

func TestScenarioTPSDisagreementSetsSafeMode(t *testing.T) {
	m := NewMonitor()
	snap := healthySnapshot()
	snap.TPSFault = true
	s := m.Update(snap, 3000, 13.8, false)
	assert.True(t, s.TPSFault)
	assert.True(t, s.SafeMode)
}

func TestSafeModeMatchesCriticalSetExactly(t *testing.T) {
	m := NewMonitor()
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		snap := sensor.Snapshot{
			ThrottlePct:     rng.Float64() * 120,
			ManifoldPresKPa: rng.Float64() * 320,
			IntakeAirTempC:  rng.Float64()*260 - 50,
			CoolantTempC:    rng.Float64()*260 - 50,
			FuelPresKPa:     rng.Float64() * 400,
			OilPresKPa:      rng.Float64() * 300,
			MeasuredAFR:     rng.Float64()*14 + 6,
			TPSFault:        rng.Intn(2) == 0,
		}
		rpm := rng.Float64() * 9000
		voltage := rng.Float64() * 20
		s := m.Update(snap, rpm, voltage, false)

		expected := s.TPSFault || s.MAPFault || s.CLTFault || s.CrankFault ||
			s.FuelPressureFault || s.RPMLimitReached || s.OverVoltage || s.OverTemperature
		assert.Equal(t, expected, s.SafeMode)
	}
}

func TestSafeModeExcludesNonCriticalFaults(t *testing.T) {
	m := NewMonitor()
	snap := healthySnapshot()
	snap.MeasuredAFR = 25 // triggers WBO2Fault only
	snap.OilPresKPa = 0   // would trigger oil pressure fault once running

	s := m.Update(snap, 3000, 13.8, false) // first cycle establishes running gate
	s = m.Update(snap, 3000, 13.8, false)  // second cycle: gate now armed

	assert.True(t, s.WBO2Fault)
	assert.True(t, s.OilPressureFault)
	assert.False(t, s.SafeMode, "WBO2 and oil pressure are not in the critical set")
}

func TestOilPressureFaultGatedOnPriorRunning(t *testing.T) {
	m := NewMonitor()
	snap := healthySnapshot()
	snap.OilPresKPa = 0

	// Engine never ran above the gate threshold: fault must stay clear.
	s := m.Update(snap, 100, 13.8, false)
	assert.False(t, s.OilPressureFault)

	// Once RPM exceeds the gate, the fault can now latch on low pressure.
	m.Update(snap, 600, 13.8, false)
	s = m.Update(snap, 600, 13.8, false)
	assert.True(t, s.OilPressureFault)
}

func TestResetFaultsClearsRunningGate(t *testing.T) {
	m := NewMonitor()
	snap := healthySnapshot()
	snap.OilPresKPa = 0
	m.Update(snap, 600, 13.8, false) // arm the gate

	m.ResetFaults()

	s := m.Update(snap, 600, 13.8, false)
	// Gate was cleared, but this very call observes rpm=600 > 500 so it
	// re-arms within the same call before the oil-pressure check runs.
	assert.True(t, s.OilPressureFault)
}

func TestScenarioCrankSignalLossAfterPriorRunning(t *testing.T) {
	m := NewMonitor()
	snap := healthySnapshot()
	m.Update(snap, 800, 13.8, false) // engine running

	s := m.Update(snap, 0, 13.8, true) // signal lost, expected to be running
	assert.Equal(t, true, s.CrankFault)
	assert.True(t, s.SafeMode)
}
