package serialrig

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapThenReadEnvelopeRoundTrips(t *testing.T) {
	payload := []byte{'A', 3}
	framed := wrapEnvelope(payload)

	got, err := readEnvelope(bytes.NewReader(framed))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReadEnvelopeRejectsCorruptedCRC(t *testing.T) {
	framed := wrapEnvelope([]byte{'W', 9, 1})
	framed[len(framed)-1] ^= 0xFF // flip a CRC bit

	_, err := readEnvelope(bytes.NewReader(framed))
	assert.Error(t, err)
}

func TestReadEnvelopeRejectsOversizedPayload(t *testing.T) {
	// size header claims 60000 bytes, far past the 4096 sanity limit.
	buf := []byte{0xEA, 0x60}
	_, err := readEnvelope(bytes.NewReader(buf))
	assert.Error(t, err)
}

func TestReadEnvelopeErrorsOnTruncatedStream(t *testing.T) {
	framed := wrapEnvelope([]byte{'D', 5})
	_, err := readEnvelope(bytes.NewReader(framed[:len(framed)-2]))
	assert.Error(t, err)
}
