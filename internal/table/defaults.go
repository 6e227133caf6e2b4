package table

// DefaultRPMAxis returns the 16-point RPM bin axis (500..8000 rpm) the
// original firmware seeds its VE and ignition tables with, used here so a
// freshly built controller has usable tables before an external tuning
// surface populates real data.
func DefaultRPMAxis() []float64 {
	return linspace(500, 8000, 16)
}

// DefaultLoadAxis returns the 16-point load bin axis (0..100%), shared by
// MAP-kPa-scaled and TPS-percent-scaled load tables alike.
func DefaultLoadAxis() []float64 {
	return linspace(0, 100, 16)
}

// DefaultVETable builds a 16x16 VE table flat at 80%, the original's
// default volumetric-efficiency seed.
func DefaultVETable() *Table2D {
	t, err := NewTable2D(DefaultRPMAxis(), DefaultLoadAxis(), flat(16*16, 80))
	if err != nil {
		panic(err) // constructed from known-good axes; a failure here is a bug
	}
	return t
}

// DefaultIgnitionTable builds a 16x16 ignition-advance table flat at 15
// degrees BTDC, the original's default seed.
func DefaultIgnitionTable() *Table2D {
	t, err := NewTable2D(DefaultRPMAxis(), DefaultLoadAxis(), flat(16*16, 15))
	if err != nil {
		panic(err)
	}
	return t
}

// DefaultAFRTable builds a 16x16 AFR-target table flat at 14.7 (gasoline
// stoichiometric), superseding the original's hard-coded lookupAFR stub:
// here the table is real data the PID target is pulled from, not a
// constant baked into the lookup function.
func DefaultAFRTable() *Table2D {
	t, err := NewTable2D(DefaultRPMAxis(), DefaultLoadAxis(), flat(16*16, 14.7))
	if err != nil {
		panic(err)
	}
	return t
}

func linspace(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := 0; i < n; i++ {
		out[i] = lo + step*float64(i)
	}
	return out
}

func flat(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
