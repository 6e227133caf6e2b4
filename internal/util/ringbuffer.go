package util

import "sort"

// RingBuffer is a fixed-capacity circular buffer of float64 samples.
// The backing slice is allocated once at construction and never grows,
// matching the "no dynamic allocation after init" rule the crank tracker
// and sensor pipeline both rely on.
type RingBuffer struct {
	data    []float64
	scratch []float64
	head    int
	count   int
}

// NewRingBuffer allocates a buffer holding up to capacity samples.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{
		data:    make([]float64, capacity),
		scratch: make([]float64, capacity),
	}
}

// Add pushes a new sample, overwriting the oldest once the buffer is full.
func (r *RingBuffer) Add(v float64) {
	r.data[r.head] = v
	r.head = (r.head + 1) % len(r.data)
	if r.count < len(r.data) {
		r.count++
	}
}

// Len returns the number of samples currently held (<= capacity).
func (r *RingBuffer) Len() int {
	return r.count
}

// Full reports whether the buffer has reached capacity.
func (r *RingBuffer) Full() bool {
	return r.count == len(r.data)
}

// Median returns the median of the samples currently held. It uses the
// pre-allocated scratch slice for sorting, so it does not allocate.
// Returns 0 if the buffer is empty.
func (r *RingBuffer) Median() float64 {
	if r.count == 0 {
		return 0
	}
	scratch := r.scratch[:r.count]
	// data is laid out starting at (head-count) mod capacity when full or
	// partially full; for a median we don't care about order, only values.
	start := r.head - r.count
	if start < 0 {
		start += len(r.data)
	}
	for i := 0; i < r.count; i++ {
		scratch[i] = r.data[(start+i)%len(r.data)]
	}
	sort.Float64s(scratch)
	mid := r.count / 2
	if r.count%2 == 1 {
		return scratch[mid]
	}
	return (scratch[mid-1] + scratch[mid]) / 2
}

// Reset empties the buffer without releasing its backing storage.
func (r *RingBuffer) Reset() {
	r.head = 0
	r.count = 0
}
