// Package table implements the bilinear table-lookup primitives used by
// the fuel and ignition calculators: a 1-D linear table and a 2-D
// row-major bilinear table, both over strictly increasing bin axes.
package table

import (
	"fmt"
	"math"
)

// Table1D holds a single-axis lookup table: axis[i] maps to cells[i].
type Table1D struct {
	axis  []float64
	cells []float64
}

// NewTable1D validates and constructs a 1-D table. The axis must be
// strictly increasing and the same length as cells; every cell must be
// finite. A malformed table is a configuration error, not a runtime
// condition the lookup needs to tolerate, so this fails fast at
// construction rather than at lookup time.
func NewTable1D(axis, cells []float64) (*Table1D, error) {
	if len(axis) != len(cells) {
		return nil, fmt.Errorf("goecu: table: axis length %d != cells length %d", len(axis), len(cells))
	}
	if len(axis) == 0 {
		return nil, fmt.Errorf("goecu: table: empty axis")
	}
	for i := 1; i < len(axis); i++ {
		if axis[i] <= axis[i-1] {
			return nil, fmt.Errorf("goecu: table: axis not strictly increasing at index %d", i)
		}
	}
	for i, c := range cells {
		if !isFinite(c) {
			return nil, fmt.Errorf("goecu: table: non-finite cell at index %d", i)
		}
	}
	return &Table1D{axis: append([]float64{}, axis...), cells: append([]float64{}, cells...)}, nil
}

// Lookup performs the clamp-then-bracket-then-interpolate 1-D lookup
// described for the fuel/ignition tables: x at or below the first axis
// point returns the first cell, x at or above the last returns the last
// cell, otherwise the result is linearly interpolated between the
// bracketing cells. An empty table (should not occur past construction,
// but the lookup stays total per the table-engine contract) returns 0.
func (t *Table1D) Lookup(x float64) float64 {
	n := len(t.axis)
	if n == 0 {
		return 0
	}
	if x <= t.axis[0] {
		return t.cells[0]
	}
	if x >= t.axis[n-1] {
		return t.cells[n-1]
	}
	i := t.bracket(x)
	x0, x1 := t.axis[i], t.axis[i+1]
	y0, y1 := t.cells[i], t.cells[i+1]
	r := (x - x0) / (x1 - x0)
	return y0 + r*(y1-y0)
}

func (t *Table1D) bracket(x float64) int {
	for i := 0; i < len(t.axis)-1; i++ {
		if x <= t.axis[i+1] {
			return i
		}
	}
	return len(t.axis) - 2
}

// SetCell overwrites a single cell, used by the external tuning surface.
func (t *Table1D) SetCell(i int, v float64) error {
	if i < 0 || i >= len(t.cells) {
		return fmt.Errorf("goecu: table: cell index %d out of range", i)
	}
	if !isFinite(v) {
		return fmt.Errorf("goecu: table: non-finite cell value")
	}
	t.cells[i] = v
	return nil
}

// Table2D holds a two-axis bilinear lookup table with Rx*Ry cells stored
// row-major: cells[i*Ry+j] corresponds to (xAxis[i], yAxis[j]).
type Table2D struct {
	xAxis []float64
	yAxis []float64
	cells []float64
}

// NewTable2D validates and constructs a 2-D table.
func NewTable2D(xAxis, yAxis, cells []float64) (*Table2D, error) {
	rx, ry := len(xAxis), len(yAxis)
	if rx == 0 || ry == 0 {
		return nil, fmt.Errorf("goecu: table: empty axis")
	}
	if len(cells) != rx*ry {
		return nil, fmt.Errorf("goecu: table: cells length %d != Rx*Ry (%d*%d)", len(cells), rx, ry)
	}
	for i := 1; i < rx; i++ {
		if xAxis[i] <= xAxis[i-1] {
			return nil, fmt.Errorf("goecu: table: x-axis not strictly increasing at index %d", i)
		}
	}
	for j := 1; j < ry; j++ {
		if yAxis[j] <= yAxis[j-1] {
			return nil, fmt.Errorf("goecu: table: y-axis not strictly increasing at index %d", j)
		}
	}
	for i, c := range cells {
		if !isFinite(c) {
			return nil, fmt.Errorf("goecu: table: non-finite cell at index %d", i)
		}
	}
	return &Table2D{
		xAxis: append([]float64{}, xAxis...),
		yAxis: append([]float64{}, yAxis...),
		cells: append([]float64{}, cells...),
	}, nil
}

// Lookup performs the 2-D bilinear lookup: x and y are clamped to their
// axis ranges, the bracketing indices (i, j) are located, and the four
// surrounding corners are bilinearly blended. The function is total and
// deterministic and allocates nothing.
func (t *Table2D) Lookup(x, y float64) float64 {
	rx, ry := len(t.xAxis), len(t.yAxis)
	if rx == 0 || ry == 0 {
		return 0
	}

	i, rxFrac := t.bracketX(x)
	j, ryFrac := t.bracketY(y)

	c00 := t.cell(i, j)
	c10 := t.cell(minInt(i+1, rx-1), j)
	c01 := t.cell(i, minInt(j+1, ry-1))
	c11 := t.cell(minInt(i+1, rx-1), minInt(j+1, ry-1))

	top := c00 + rxFrac*(c10-c00)
	bottom := c01 + rxFrac*(c11-c01)
	return top + ryFrac*(bottom-top)
}

func (t *Table2D) cell(i, j int) float64 {
	return t.cells[i*len(t.yAxis)+j]
}

// bracketX clamps x into range and returns the lower bracket index plus
// the fractional position between it and the next index (0 at the exact
// grid point, so an exact-grid-point lookup returns the stored cell with
// no interpolation drift).
func (t *Table2D) bracketX(x float64) (int, float64) {
	n := len(t.xAxis)
	if x <= t.xAxis[0] {
		return 0, 0
	}
	if x >= t.xAxis[n-1] {
		return n - 1, 0
	}
	for i := 0; i < n-1; i++ {
		if x <= t.xAxis[i+1] {
			r := (x - t.xAxis[i]) / (t.xAxis[i+1] - t.xAxis[i])
			return i, r
		}
	}
	return n - 2, 1
}

func (t *Table2D) bracketY(y float64) (int, float64) {
	n := len(t.yAxis)
	if y <= t.yAxis[0] {
		return 0, 0
	}
	if y >= t.yAxis[n-1] {
		return n - 1, 0
	}
	for j := 0; j < n-1; j++ {
		if y <= t.yAxis[j+1] {
			r := (y - t.yAxis[j]) / (t.yAxis[j+1] - t.yAxis[j])
			return j, r
		}
	}
	return n - 2, 1
}

// SetCell overwrites a single cell addressed by (x-index, y-index).
func (t *Table2D) SetCell(i, j int, v float64) error {
	if i < 0 || i >= len(t.xAxis) || j < 0 || j >= len(t.yAxis) {
		return fmt.Errorf("goecu: table: cell index (%d,%d) out of range", i, j)
	}
	if !isFinite(v) {
		return fmt.Errorf("goecu: table: non-finite cell value")
	}
	t.cells[i*len(t.yAxis)+j] = v
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
