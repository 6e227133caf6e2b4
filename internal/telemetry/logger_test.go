package telemetry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgriffin/goecu/internal/core"
)

func sampleTelemetry() core.Telemetry {
	return core.Telemetry{
		Engine: core.EngineState{RPM: 3200, PulseWidthMs: 2.1, TimingAdvanceDeg: 18},
	}
}

func TestLoggerDisabledByDefaultWritesNothing(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger(LoggingConfig{Enabled: false, Path: dir, IntervalMs: 1})
	l.Record(sampleTelemetry())
	l.Close()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLoggerWritesHeaderAndRowWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger(LoggingConfig{Enabled: true, Path: dir, IntervalMs: 1})
	l.Record(sampleTelemetry())
	l.Close()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "timestamp,rpm,load")
	assert.Contains(t, string(data), "3200")
}

func TestLoggerSkipsWriteWithinInterval(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger(LoggingConfig{Enabled: true, Path: dir, IntervalMs: 60000})
	l.Record(sampleTelemetry())
	l.Record(sampleTelemetry()) // within interval, should be a no-op
	l.Close()

	entries, _ := os.ReadDir(dir)
	require.Len(t, entries, 1)
	data, _ := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	// header + exactly one data row
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	assert.Equal(t, 2, lines)
}

func TestSetEnabledFalseClosesFile(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger(LoggingConfig{Enabled: true, Path: dir, IntervalMs: 1})
	l.Record(sampleTelemetry())
	l.SetEnabled(false)
	assert.Nil(t, l.writer)
}
