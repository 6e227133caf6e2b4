// Package hal defines the abstract hardware capabilities the control core
// is parametric over. The core never talks to a pin, a register, or a
// serial port directly; it is handed implementations of these interfaces
// at construction time, so it stays testable off-target with an
// in-process simulator (hal/sim) and portable to real hardware over a
// bridge board (hal/serialrig).
package hal

import "time"

// ADC samples a logical analog channel and returns a normalized fraction
// of full-scale in [0.0, 1.0]. Implementations must be non-blocking.
type ADC interface {
	ReadChannel(channel int) (float64, error)
}

// DigitalWriter drives a logical digital output (injector driver, coil
// driver, or status line) high or low.
type DigitalWriter interface {
	WriteDigital(pin int, level bool) error
}

// DigitalReader samples a logical digital input (brake pedal, clutch
// pedal switch). The sensor pipeline needs a boolean read for the two
// pedal flags in SensorSnapshot; modeled the same way as ADC to keep the
// capability surface uniform.
type DigitalReader interface {
	ReadDigital(pin int) (bool, error)
}

// Clock reports elapsed microseconds on a monotonic clock.
type Clock interface {
	NowMicros() uint64
}

// CrankEdge is one timestamped rising edge from the crank sensor.
type CrankEdge struct {
	TimestampUs uint64
}

// CrankSource delivers crank edges to a registered handler. AttachISR
// takes an explicit handler closure rather than exposing any global
// dispatch state — the static-singleton ISR pattern in the original
// firmware (one process-wide pointer set by a constructor) has no
// counterpart here; ownership of the handler lives entirely with whoever
// calls AttachISR.
type CrankSource interface {
	AttachISR(handler func(CrankEdge)) error
}

// Scheduler arms a one-shot callback at an absolute microsecond
// timestamp. A real target implements this with a hardware compare
// timer; hal/sim implements it with time.AfterFunc.
type Scheduler interface {
	Schedule(atUs uint64, fn func()) (cancel func())
}

// InterruptGuard exposes the scoped "read the shared crank scalars
// consistently" primitive: Disable returns a
// restore function that MUST be called exactly once. On a real target
// this maps to disable_interrupts()/restore_interrupts(); in-process it
// is backed by a mutex. Callers must keep the guarded section as short as
// a handful of scalar reads — it is not a general-purpose lock.
type InterruptGuard interface {
	Disable() (restore func())
}

// Now is a convenience helper mirroring now_us() in wall-clock terms, used
// by callers that want a time.Duration rather than a raw microsecond count.
func Now(c Clock) time.Duration {
	return time.Duration(c.NowMicros()) * time.Microsecond
}
