// Package sim provides an in-process implementation of the hal
// capabilities for development and testing without hardware, grounded on
// a sine-wave engine simulation.
package sim

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/mgriffin/goecu/internal/hal"
)

// Rig is an in-process, goroutine-safe implementation of hal.ADC,
// hal.DigitalWriter, hal.Clock, hal.CrankSource, hal.Scheduler and
// hal.InterruptGuard. Channel values are set directly by test code or by
// the built-in sine-wave generator (Drive).
type Rig struct {
	mu        sync.Mutex
	channels  map[int]float64
	digital   map[int]bool
	digitalIn map[int]bool
	start     time.Time
	handler   func(hal.CrankEdge)

	stopDrive chan struct{}
}

// NewRig constructs an idle simulated rig. All ADC channels read 0 until
// set with SetChannel or driven by Drive.
func NewRig() *Rig {
	return &Rig{
		channels:  make(map[int]float64),
		digital:   make(map[int]bool),
		digitalIn: make(map[int]bool),
		start:     time.Now(),
	}
}

// SetChannel sets a logical ADC channel's normalized reading directly,
// clamped to [0, 1]. Used by tests to inject specific sensor conditions.
func (r *Rig) SetChannel(channel int, fraction float64) {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[channel] = fraction
}

// ReadChannel implements hal.ADC.
func (r *Rig) ReadChannel(channel int) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.channels[channel]
	if !ok {
		return 0, fmt.Errorf("goecu: sim: channel %d not configured", channel)
	}
	return v, nil
}

// WriteDigital implements hal.DigitalWriter, recording the commanded level
// for later inspection (e.g. by a test asserting an injector fired).
func (r *Rig) WriteDigital(pin int, level bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.digital[pin] = level
	return nil
}

// DigitalState returns the last commanded level for a pin, for assertions.
func (r *Rig) DigitalState(pin int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.digital[pin]
}

// SetDigitalInput sets a simulated digital input reading (e.g. a pedal
// switch), distinct from the digital outputs WriteDigital records.
func (r *Rig) SetDigitalInput(pin int, level bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.digitalIn[pin] = level
}

// ReadDigital implements hal.DigitalReader.
func (r *Rig) ReadDigital(pin int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.digitalIn[pin], nil
}

// NowMicros implements hal.Clock using the process monotonic clock,
// relative to rig construction.
func (r *Rig) NowMicros() uint64 {
	return uint64(time.Since(r.start).Microseconds())
}

// AttachISR implements hal.CrankSource. Only one handler may be attached;
// FireEdge below delivers edges to it synchronously, matching the
// single-hardware-interrupt execution model of the real crank sensor.
func (r *Rig) AttachISR(handler func(hal.CrankEdge)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handler != nil {
		return fmt.Errorf("goecu: sim: crank ISR already attached")
	}
	r.handler = handler
	return nil
}

// FireEdge synthesizes one crank edge at the given timestamp, delivered
// to the attached handler as if from the ISR context. Test code and the
// sine-wave driver both use this to simulate the crank sensor.
func (r *Rig) FireEdge(timestampUs uint64) {
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	if h != nil {
		h(hal.CrankEdge{TimestampUs: timestampUs})
	}
}

// Schedule implements hal.Scheduler with time.AfterFunc, the same
// one-goroutine-per-timer shape used elsewhere for polling tickers.
func (r *Rig) Schedule(atUs uint64, fn func()) (cancel func()) {
	delay := time.Duration(atUs)*time.Microsecond - time.Since(r.start)
	if delay < 0 {
		delay = 0
	}
	timer := time.AfterFunc(delay, fn)
	return func() { timer.Stop() }
}

// Disable implements hal.InterruptGuard with a mutex standing in for a
// scoped interrupt-disable: the caller holds it only long enough to read
// the three shared crank scalars a real ISR would guard.
func (r *Rig) Disable() (restore func()) {
	r.mu.Lock()
	return r.mu.Unlock
}

// Drive starts a background goroutine that fires synthetic crank edges
// and updates ADC channels 20 times a second, cycling RPM in a sine wave
// between 850 and 4850 rpm.
// Intended for the simulator binary, not for unit tests (which drive the
// rig deterministically via SetChannel/FireEdge instead).
func (r *Rig) Drive(teeth int, missing int) {
	r.mu.Lock()
	if r.stopDrive != nil {
		r.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	r.stopDrive = stop
	r.mu.Unlock()

	go func() {
		var t float64
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				t += 0.05
				rpm := 850.0 + 4000.0*math.Sin(t*0.3)*math.Sin(t*0.3)
				tps := (rpm - 850) / (8000 - 850) * 100
				if tps < 0 {
					tps = 0
				}
				r.SetChannel(chanTPS1, tps/100)
				r.SetChannel(chanTPS2, tps/100)
				r.SetChannel(chanMAP, (30+tps/100*170)/300)
				r.SetChannel(chanCLT, 0.6)
				r.SetChannel(chanIAT, 0.4)
				r.SetChannel(chanAFR, 0.47)

				if rpm > 50 {
					periodUs := 60_000_000.0 / (rpm * float64(teeth))
					r.emitRevolution(periodUs, teeth, missing)
				}
			}
		}
	}()
}

// StopDrive halts the background waveform goroutine started by Drive.
func (r *Rig) StopDrive() {
	r.mu.Lock()
	stop := r.stopDrive
	r.stopDrive = nil
	r.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

func (r *Rig) emitRevolution(toothPeriodUs float64, teeth, missing int) {
	now := r.NowMicros()
	present := teeth - missing
	for i := 0; i < present; i++ {
		now += uint64(toothPeriodUs)
		r.FireEdge(now)
	}
	now += uint64(toothPeriodUs) * uint64(missing+1)
	r.FireEdge(now)
}

// Logical ADC channel numbers used by the simulator driver; the serial
// bridge implementation uses its own board-specific numbering.
const (
	chanTPS1 = 0
	chanTPS2 = 1
	chanMAP  = 2
	chanCLT  = 3
	chanIAT  = 4
	chanAFR  = 5
)
