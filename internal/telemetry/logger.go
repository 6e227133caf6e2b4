package telemetry

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mgriffin/goecu/internal/core"
)

// Logger records Controller telemetry to CSV files with automatic rotation,
// using the ECU's own fields (RPM, load, pulse width, advance, dwell,
// safety flags) rather than vehicle-dashboard/GPS columns.
type Logger struct {
	mu       sync.Mutex
	dir      string
	interval time.Duration
	enabled  bool

	file   *os.File
	writer *csv.Writer
	lastTs time.Time
	rows   int
}

const maxRowsPerFile = 100_000

var csvHeader = []string{
	"timestamp", "rpm", "load", "throttle_pct", "map_kpa",
	"coolant_c", "iat_c", "measured_afr",
	"advance_deg", "pulse_width_ms", "dwell_ms",
	"running", "cranking",
	"safe_mode", "tps_fault", "map_fault", "crank_fault",
	"fuel_pressure_fault", "oil_pressure_fault", "rpm_limit_reached",
	"over_voltage", "over_temperature",
}

// NewLogger builds a Logger from a LoggingConfig. Disabled loggers never
// open a file.
func NewLogger(cfg LoggingConfig) *Logger {
	dir := cfg.Path
	if dir == "" {
		dir = "."
	}
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval < 50*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	return &Logger{dir: dir, interval: interval, enabled: cfg.Enabled}
}

// SetEnabled toggles logging at runtime, closing the current file when
// disabled.
func (l *Logger) SetEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = on
	if !on {
		l.closeFile()
	}
}

// Record writes one row if logging is enabled and the configured interval
// has elapsed since the last write.
func (l *Logger) Record(tel core.Telemetry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	now := time.Now()
	if !l.lastTs.IsZero() && now.Sub(l.lastTs) < l.interval {
		return
	}
	l.lastTs = now

	if l.writer == nil || l.rows >= maxRowsPerFile {
		if err := l.rotateFile(now); err != nil {
			log.Printf("[telemetry] log rotate failed: %v", err)
			return
		}
	}

	if err := l.writer.Write(buildRow(now, tel)); err != nil {
		log.Printf("[telemetry] log write failed: %v", err)
		return
	}
	l.writer.Flush()
	l.rows++
}

// Close flushes and closes the current log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
}

func (l *Logger) rotateFile(now time.Time) error {
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("goecu: telemetry: mkdir %s: %w", l.dir, err)
	}

	filename := fmt.Sprintf("goecu_%s.csv", now.Format("2006-01-02_150405"))
	path := filepath.Join(l.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("goecu: telemetry: create %s: %w", path, err)
	}

	l.file = f
	l.writer = csv.NewWriter(f)
	l.rows = 0

	if err := l.writer.Write(csvHeader); err != nil {
		return err
	}
	l.writer.Flush()

	log.Printf("[telemetry] opened log %s", path)
	return nil
}

func (l *Logger) closeFile() {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

func buildRow(ts time.Time, tel core.Telemetry) []string {
	s, e, sf := tel.Sensor, tel.Engine, tel.Safety
	return []string{
		ts.Format(time.RFC3339Nano),
		fmt.Sprintf("%.0f", e.RPM),
		fmt.Sprintf("%.1f", e.Load),
		fmt.Sprintf("%.1f", s.ThrottlePct),
		fmt.Sprintf("%.1f", s.ManifoldPresKPa),
		fmt.Sprintf("%.1f", s.CoolantTempC),
		fmt.Sprintf("%.1f", s.IntakeAirTempC),
		fmt.Sprintf("%.2f", s.MeasuredAFR),
		fmt.Sprintf("%.1f", e.TimingAdvanceDeg),
		fmt.Sprintf("%.3f", e.PulseWidthMs),
		fmt.Sprintf("%.2f", e.DwellMs),
		boolStr(e.Running),
		boolStr(e.Cranking),
		boolStr(sf.SafeMode),
		boolStr(sf.TPSFault),
		boolStr(sf.MAPFault),
		boolStr(sf.CrankFault),
		boolStr(sf.FuelPressureFault),
		boolStr(sf.OilPressureFault),
		boolStr(sf.RPMLimitReached),
		boolStr(sf.OverVoltage),
		boolStr(sf.OverTemperature),
	}
}

func boolStr(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
