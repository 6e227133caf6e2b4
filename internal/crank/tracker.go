// Package crank implements the rotational-position tracker: it consumes
// timestamped crank edges, debounces them, detects the missing-tooth
// gap, and derives RPM and crank phase. The crank ISR is modeled with an
// explicit handler closure (no global singleton, unlike the original
// firmware's static instance pointer); the three shared scalars an edge
// write touches are guarded by the hal.InterruptGuard the edge source
// provides, standing in for disable_interrupts()/restore_interrupts() on
// a real target.
package crank

import (
	"github.com/mgriffin/goecu/internal/hal"
	"github.com/mgriffin/goecu/internal/util"
)

// source is what Attach needs from a crank-edge provider: the edge feed
// itself, plus the scoped guard protecting the scalars onEdge writes.
type source interface {
	hal.CrankSource
	hal.InterruptGuard
}

// noopGuard is the Tracker's guard before Attach is called: reads of a
// never-written scalar triple need no guarding.
type noopGuard struct{}

func (noopGuard) Disable() (restore func()) { return func() {} }

const (
	debounceMinUs = 100
	debounceMaxUs = 100_000 // 100 ms
	gapThreshold  = 1.5     // gap interval must exceed 1.5x the running median
	maxRPM        = 8000
	staleAfterUs  = 100_000 // 100 ms with no edge => engine stopped
)

// Tracker decodes a missing-tooth wheel into RPM and absolute crank
// phase. Teeth is the total tooth count (T) and Missing is the number of
// omitted teeth (M) — e.g. T=60, M=2 for a "60-2" wheel.
type Tracker struct {
	teeth   int
	missing int

	guard        hal.InterruptGuard // replaced by Attach; noopGuard until then
	lastEdgeUs   uint64
	periodUs     uint64 // most recent valid inter-edge interval
	edgeCount    uint64
	haveLastEdge bool

	intervals *util.RingBuffer // recent inter-edge intervals, for the gap median
	toothIdx  int              // 0..teeth-1, reset at the detected gap
	synced    bool             // true once the gap has been seen at least once

	rpmFilter *util.LowPassFilter
	wasRPM    float64
}

// New constructs a tracker for a T-tooth, M-missing wheel.
func New(teeth, missing int) *Tracker {
	return &Tracker{
		teeth:     teeth,
		missing:   missing,
		guard:     noopGuard{},
		intervals: util.NewRingBuffer(teeth - missing),
		rpmFilter: util.NewLowPassFilter(0.1),
	}
}

// Attach registers this tracker's edge handler with a crank-edge source,
// the free-function-forwarding pattern used in place of
// a process-wide static pointer. src also supplies the InterruptGuard
// onEdge/read/phase use to guard the shared scalars.
func (t *Tracker) Attach(src source) error {
	t.guard = src
	return src.AttachISR(t.onEdge)
}

// onEdge runs in the ISR context: it debounces the interval and writes
// the three shared scalars (last-edge-time, period, edge-count) under
// the guard. This is the only place those scalars are written.
func (t *Tracker) onEdge(e hal.CrankEdge) {
	restore := t.guard.Disable()
	defer restore()

	if !t.haveLastEdge {
		t.lastEdgeUs = e.TimestampUs
		t.haveLastEdge = true
		return
	}

	elapsed := e.TimestampUs - t.lastEdgeUs
	t.lastEdgeUs = e.TimestampUs
	if elapsed < debounceMinUs || elapsed > debounceMaxUs {
		return // discard; tracker remains in its previous state
	}

	median := t.intervals.Median()
	// A stable median needs a reasonable sample of prior intervals, but
	// the ring buffer does not need to be completely full: one revolution
	// only ever supplies teeth-missing-1 regular intervals before the gap
	// interval itself arrives, so requiring a full buffer would make the
	// very first gap of a run undetectable.
	haveStableMedian := t.intervals.Len() >= (t.teeth-t.missing)/2
	if haveStableMedian && median > 0 && float64(elapsed) > gapThreshold*median {
		// Top of the missing-tooth gap: normalize it to an effective
		// single-tooth period so the RPM formula below sees a consistent
		// p, then realign the tooth counter to the known reference.
		t.periodUs = elapsed / uint64(t.missing+1)
		t.toothIdx = 0
		t.synced = true
	} else {
		t.periodUs = elapsed
		t.intervals.Add(float64(elapsed))
		t.toothIdx = (t.toothIdx + 1) % t.teeth
	}
	t.edgeCount++
}

// Reading is the task-side view of the shared crank state, read under the
// guard as a single consistent (time, period, count) triple.
type Reading struct {
	LastEdgeUs uint64
	PeriodUs   uint64
	EdgeCount  uint64
}

// read takes a brief, scoped copy of the three shared scalars.
func (t *Tracker) read() Reading {
	restore := t.guard.Disable()
	defer restore()
	return Reading{LastEdgeUs: t.lastEdgeUs, PeriodUs: t.periodUs, EdgeCount: t.edgeCount}
}

// Update is called once per controller cycle (the "crank update" phase).
// nowUs is the current time, used to detect signal loss; it returns the
// filtered RPM and whether the tracker currently holds phase sync.
func (t *Tracker) Update(nowUs uint64) (rpm float64, synced bool, phaseDeg float64) {
	r := t.read()

	if r.LastEdgeUs == 0 || nowUs-r.LastEdgeUs > staleAfterUs {
		t.wasRPM = 0
		t.rpmFilter.Reset()
		return 0, false, 0
	}

	if r.PeriodUs == 0 {
		return t.wasRPM, t.synced, t.phase()
	}

	raw := 60.0 * 1_000_000.0 / (float64(r.PeriodUs) * float64(t.teeth))
	raw = clampf(raw, 0, maxRPM)
	filtered := t.rpmFilter.Apply(raw)
	t.wasRPM = filtered
	return filtered, t.synced, t.phase()
}

// phase returns the current crank angle in degrees, resolution
// 360/teeth, valid once the tracker has synced to the gap.
func (t *Tracker) phase() float64 {
	restore := t.guard.Disable()
	defer restore()
	if !t.synced {
		return 0
	}
	return float64(t.toothIdx) * (360.0 / float64(t.teeth))
}

// Stale reports whether the tracker has not seen an edge recently enough
// to consider the engine running, for the safety monitor's crank-fault
// check.
func (t *Tracker) Stale(nowUs uint64) bool {
	r := t.read()
	return r.LastEdgeUs == 0 || nowUs-r.LastEdgeUs > staleAfterUs
}

func clampf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
