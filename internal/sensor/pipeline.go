package sensor

import (
	"log"
	"time"

	"github.com/mgriffin/goecu/internal/hal"
	"github.com/mgriffin/goecu/internal/util"
)

// ChannelMap assigns logical ADC/digital channel numbers to each sensor
// input. Board wiring is a deployment detail external to the core, so it
// is supplied here rather than hard-coded.
type ChannelMap struct {
	TPS1, TPS2                    int
	MAP, IAT, CLT                 int
	Baro, FuelPressure, FuelLevel int
	WBO2, FlexFuel                int
	BrakePedal, ClutchPedal       int
}

// Reference holds the per-channel analog reference voltage and, for the
// NTC channels, the pullup resistor value — the constants the original
// firmware hard-codes per sensor type.
type Reference struct {
	Vref           float64 // ADC full-scale reference, volts
	TPSMinV        float64
	TPSMaxV        float64
	NTCPullupOhm   float64
	TPSDisagreePct float64 // dual-TPS fault threshold, percentage points
}

// DefaultReference matches the original firmware's sensor wiring
// (5V reference, 0.5-4.5V TPS swing, 10k NTC pullup, 10pp disagreement).
func DefaultReference() Reference {
	return Reference{
		Vref:           5.0,
		TPSMinV:        0.5,
		TPSMaxV:        4.5,
		NTCPullupOhm:   10000,
		TPSDisagreePct: 10,
	}
}

// Pipeline acquires, converts, filters and publishes SensorSnapshots.
type Pipeline struct {
	adc     hal.ADC
	digital hal.DigitalReader
	clock   hal.Clock
	chans   ChannelMap
	ref     Reference

	filterTPS  *util.LowPassFilter
	filterMAP  *util.LowPassFilter
	filterIAT  *util.LowPassFilter
	filterCLT  *util.LowPassFilter
	filterAFR  *util.LowPassFilter
	filterFlex *util.LowPassFilter

	lastGoodTPS    float64
	lastBaro       float64
	lastBaroReadAt uint64
}

// NewPipeline constructs a pipeline reading through the given ADC and
// digital-input capabilities, with the given channel wiring and
// reference constants. alpha is the IIR filter constant for every
// continuous channel (default 0.1).
func NewPipeline(adc hal.ADC, digital hal.DigitalReader, clock hal.Clock, chans ChannelMap, ref Reference, alpha float64) *Pipeline {
	return &Pipeline{
		adc:        adc,
		digital:    digital,
		clock:      clock,
		chans:      chans,
		ref:        ref,
		filterTPS:  util.NewLowPassFilter(alpha),
		filterMAP:  util.NewLowPassFilter(alpha),
		filterIAT:  util.NewLowPassFilter(alpha),
		filterCLT:  util.NewLowPassFilter(alpha),
		filterAFR:  util.NewLowPassFilter(alpha),
		filterFlex: util.NewLowPassFilter(alpha),
	}
}

// Sample reads every channel, converts, filters and returns one atomic
// Snapshot. It never blocks: every capability call is expected to be
// non-blocking.
func (p *Pipeline) Sample() Snapshot {
	var snap Snapshot

	tps1v := p.readVoltage(p.chans.TPS1)
	tps2v := p.readVoltage(p.chans.TPS2)
	tps1 := analogPercentage(tps1v, p.ref.TPSMinV, p.ref.TPSMaxV)
	tps2 := analogPercentage(tps2v, p.ref.TPSMinV, p.ref.TPSMaxV)

	if diff := tps1 - tps2; diff > p.ref.TPSDisagreePct || -diff > p.ref.TPSDisagreePct {
		snap.TPSFault = true
		log.Printf("[sensor] dual TPS disagreement: ch1=%.1f ch2=%.1f", tps1, tps2)
		snap.ThrottlePct = p.filterTPS.Apply(p.lastGoodTPS)
	} else {
		tpsRaw := (tps1 + tps2) / 2.0
		p.lastGoodTPS = tpsRaw
		snap.ThrottlePct = p.filterTPS.Apply(tpsRaw)
	}

	mapRaw := pressureKPa(p.readVoltage(p.chans.MAP), p.ref.Vref, 0, 300)
	snap.ManifoldPresKPa = p.filterMAP.Apply(mapRaw)

	iatRaw := ntcTemperatureC(p.readVoltage(p.chans.IAT), p.ref.Vref, p.ref.NTCPullupOhm)
	snap.IntakeAirTempC = p.filterIAT.Apply(iatRaw)

	cltRaw := ntcTemperatureC(p.readVoltage(p.chans.CLT), p.ref.Vref, p.ref.NTCPullupOhm)
	snap.CoolantTempC = p.filterCLT.Apply(cltRaw)

	snap.BaroKPa = p.sampleBaro()

	snap.FuelPresKPa = pressureKPa(p.readVoltage(p.chans.FuelPressure), p.ref.Vref, 0, 600)
	snap.FuelLevelPct = analogPercentage(p.readVoltage(p.chans.FuelLevel), 0.5, 4.5)

	afrRaw := widebandAFR(p.readVoltage(p.chans.WBO2), p.ref.Vref)
	snap.MeasuredAFR = p.filterAFR.Apply(afrRaw)

	flexRaw := flexFuelPct(p.readVoltage(p.chans.FlexFuel), p.ref.Vref)
	snap.EthanolPct = p.filterFlex.Apply(flexRaw)

	if p.digital != nil {
		snap.BrakeOn, _ = p.digital.ReadDigital(p.chans.BrakePedal)
		snap.ClutchOn, _ = p.digital.ReadDigital(p.chans.ClutchPedal)
	}

	return snap
}

// sampleBaro resamples barometric pressure at most once per second, per
// unlike the other analog channels it is not refreshed
// every cycle.
func (p *Pipeline) sampleBaro() float64 {
	now := p.clock.NowMicros()
	if p.lastBaroReadAt != 0 && now-p.lastBaroReadAt < uint64(time.Second/time.Microsecond) {
		return p.lastBaro
	}
	p.lastBaro = pressureKPa(p.readVoltage(p.chans.Baro), p.ref.Vref, 0, 150)
	p.lastBaroReadAt = now
	return p.lastBaro
}

// readVoltage reads a normalized ADC fraction and scales it to volts
// against the reference. An ADC read error retains 0V (clamped downstream
// by each conversion), logged but not propagated; sensor errors are
// recovered locally rather than surfaced to the caller.
func (p *Pipeline) readVoltage(channel int) float64 {
	frac, err := p.adc.ReadChannel(channel)
	if err != nil {
		log.Printf("[sensor] channel %d read error: %v", channel, err)
		return 0
	}
	return frac * p.ref.Vref
}
