package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingBufferMedianOddCount(t *testing.T) {
	rb := NewRingBuffer(5)
	for _, v := range []float64{3, 1, 2} {
		rb.Add(v)
	}
	assert.Equal(t, 2.0, rb.Median())
}

func TestRingBufferMedianEvenCount(t *testing.T) {
	rb := NewRingBuffer(4)
	for _, v := range []float64{1, 2, 3, 4} {
		rb.Add(v)
	}
	assert.Equal(t, 2.5, rb.Median())
}

func TestRingBufferOverwritesOldest(t *testing.T) {
	rb := NewRingBuffer(3)
	rb.Add(1000)
	rb.Add(1000)
	rb.Add(1000)
	assert.True(t, rb.Full())
	rb.Add(4000) // displaces the first 1000
	assert.Equal(t, 1000.0, rb.Median())
	assert.Equal(t, 3, rb.Len())
}

func TestRingBufferEmptyMedianIsZero(t *testing.T) {
	rb := NewRingBuffer(5)
	assert.Equal(t, 0.0, rb.Median())
	assert.Equal(t, 0, rb.Len())
}
