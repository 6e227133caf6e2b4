package table

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable1DClampsBelowAndAboveAxis(t *testing.T) {
	tb, err := NewTable1D([]float64{0, 10, 20}, []float64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 1.0, tb.Lookup(-100))
	assert.Equal(t, 3.0, tb.Lookup(100))
}

func TestTable1DInterpolatesLinearly(t *testing.T) {
	tb, err := NewTable1D([]float64{0, 10}, []float64{0, 100})
	require.NoError(t, err)
	assert.InDelta(t, 50.0, tb.Lookup(5), 1e-9)
}

func TestTable1DRejectsNonIncreasingAxis(t *testing.T) {
	_, err := NewTable1D([]float64{0, 0, 10}, []float64{1, 2, 3})
	assert.Error(t, err)
}

func TestTable1DRejectsNonFiniteCell(t *testing.T) {
	_, err := NewTable1D([]float64{0, 10}, []float64{1, math.NaN()})
	assert.Error(t, err)
}

func TestTable2DExactGridPointHasNoDrift(t *testing.T) {
	tb, err := NewTable2D(
		[]float64{0, 1000, 2000},
		[]float64{0, 50, 100},
		[]float64{
			1, 2, 3,
			4, 5, 6,
			7, 8, 9,
		},
	)
	require.NoError(t, err)
	assert.Equal(t, 5.0, tb.Lookup(1000, 50))
	assert.Equal(t, 9.0, tb.Lookup(2000, 100))
	assert.Equal(t, 1.0, tb.Lookup(0, 0))
}

func TestTable2DBilinearInterpolation(t *testing.T) {
	tb, err := NewTable2D(
		[]float64{0, 10},
		[]float64{0, 10},
		[]float64{
			0, 10,
			10, 20,
		},
	)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, tb.Lookup(5, 5), 1e-9)
}

func TestTable2DClampsOutsideAxisRanges(t *testing.T) {
	tb, err := NewTable2D([]float64{0, 10}, []float64{0, 10}, []float64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, tb.Lookup(0, 0), tb.Lookup(-50, -50))
	assert.Equal(t, tb.Lookup(10, 10), tb.Lookup(500, 500))
}

func TestTable2DMonotonePreserving(t *testing.T) {
	tb, err := NewTable2D(
		DefaultRPMAxis(),
		DefaultLoadAxis(),
		func() []float64 {
			cells := make([]float64, 16*16)
			for i := 0; i < 16; i++ {
				for j := 0; j < 16; j++ {
					cells[i*16+j] = float64(i + j) // monotone increasing in both axes
				}
			}
			return cells
		}(),
	)
	require.NoError(t, err)

	prev := tb.Lookup(500, 50)
	for _, rpm := range []float64{1000, 2000, 4000, 8000} {
		cur := tb.Lookup(rpm, 50)
		assert.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestTable2DEmptyAxisReturnsZero(t *testing.T) {
	tb := &Table2D{}
	assert.Equal(t, 0.0, tb.Lookup(1, 1))
}

func TestDefaultTablesAreUsable(t *testing.T) {
	ve := DefaultVETable()
	assert.Equal(t, 80.0, ve.Lookup(3000, 50))

	ign := DefaultIgnitionTable()
	assert.Equal(t, 15.0, ign.Lookup(3000, 50))

	afr := DefaultAFRTable()
	assert.Equal(t, 14.7, afr.Lookup(3000, 50))
}
