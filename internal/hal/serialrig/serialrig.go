// Package serialrig bridges the hal capabilities to a physical ADC/GPIO
// board over a serial link, using the same length-prefixed, CRC32-checked
// envelope framing as a Speeduino-style msEnvelope protocol
// (wrapMsEnvelope/readMsEnvelopeResponse), repurposed here for a simple
// request/response ADC-and-GPIO board instead of a full ECU register
// block.
package serialrig

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/mgriffin/goecu/internal/hal"
)

// serialPort is the narrow slice of serial.Port's interface this package
// actually uses; declaring it locally (rather than holding a serial.Port
// directly) lets tests substitute an in-memory fake without depending on
// go.bug.st/serial's full surface.
type serialPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Wire commands, single leading byte per envelope payload.
const (
	cmdReadChannel  byte = 'A'
	cmdWriteDigital byte = 'W'
	cmdReadDigital  byte = 'D'
	cmdCrankEdges   byte = 'C' // polled: board returns any edges queued since the last poll
)

// Config configures the serial connection.
type Config struct {
	PortPath string
	BaudRate int
}

// Bridge implements hal.ADC, hal.DigitalWriter, hal.DigitalReader, hal.Clock,
// hal.CrankSource, hal.Scheduler and hal.InterruptGuard over a serial link.
// Scheduling and the interrupt guard are host-side concerns even against
// real hardware, so those two capabilities are implemented identically to
// hal/sim's Rig rather than round-tripped over the wire.
type Bridge struct {
	portPath string
	baudRate int

	mu   sync.Mutex
	port serialPort

	start    time.Time
	handler  func(hal.CrankEdge)
	pollStop chan struct{}
}

// New constructs an unconnected Bridge. Call Connect before use.
func New(cfg Config) *Bridge {
	return &Bridge{portPath: cfg.PortPath, baudRate: cfg.BaudRate, start: time.Now()}
}

// newWithPort builds a Bridge already wired to an open port, bypassing
// Connect — used by tests to inject a fake serialPort.
func newWithPort(port serialPort) *Bridge {
	return &Bridge{port: port, start: time.Now()}
}

// Connect opens the serial port. Callers that need retry-with-backoff
// against hardware that may not yet be plugged in should wrap this call
// (see cmd/goecu-sim's connectWithRetry).
func (b *Bridge) Connect() error {
	mode := &serial.Mode{
		BaudRate: b.baudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(b.portPath, mode)
	if err != nil {
		return fmt.Errorf("goecu: serialrig: open %s: %w", b.portPath, err)
	}
	if err := port.SetReadTimeout(2 * time.Second); err != nil {
		return fmt.Errorf("goecu: serialrig: set read timeout: %w", err)
	}

	b.mu.Lock()
	b.port = port
	b.mu.Unlock()
	return nil
}

// Close closes the underlying serial port and stops crank-edge polling.
func (b *Bridge) Close() error {
	b.stopPolling()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.port == nil {
		return nil
	}
	err := b.port.Close()
	b.port = nil
	return err
}

// ReadChannel implements hal.ADC: requests one channel's normalized [0,1]
// reading, encoded on the wire as a big-endian uint16 over 65535.
func (b *Bridge) ReadChannel(channel int) (float64, error) {
	resp, err := b.request([]byte{cmdReadChannel, byte(channel)})
	if err != nil {
		return 0, err
	}
	if len(resp) < 2 {
		return 0, fmt.Errorf("goecu: serialrig: short channel response (%d bytes)", len(resp))
	}
	raw := binary.BigEndian.Uint16(resp)
	return float64(raw) / 65535.0, nil
}

// WriteDigital implements hal.DigitalWriter.
func (b *Bridge) WriteDigital(pin int, level bool) error {
	var lvl byte
	if level {
		lvl = 1
	}
	_, err := b.request([]byte{cmdWriteDigital, byte(pin), lvl})
	return err
}

// ReadDigital implements hal.DigitalReader.
func (b *Bridge) ReadDigital(pin int) (bool, error) {
	resp, err := b.request([]byte{cmdReadDigital, byte(pin)})
	if err != nil {
		return false, err
	}
	if len(resp) < 1 {
		return false, fmt.Errorf("goecu: serialrig: short digital response")
	}
	return resp[0] != 0, nil
}

// NowMicros implements hal.Clock using the host's own monotonic clock; the
// board is not trusted as a time source.
func (b *Bridge) NowMicros() uint64 {
	return uint64(time.Since(b.start).Microseconds())
}

// AttachISR implements hal.CrankSource by starting a background poller that
// requests queued crank-edge timestamps from the board and delivers each to
// the handler in arrival order. Real hardware interrupt latency is bounded
// by the poll period, unlike a true ISR — acceptable for a serial-bridged
// board, unlike production ECU firmware.
func (b *Bridge) AttachISR(handler func(hal.CrankEdge)) error {
	b.mu.Lock()
	if b.handler != nil {
		b.mu.Unlock()
		return fmt.Errorf("goecu: serialrig: crank ISR already attached")
	}
	b.handler = handler
	b.mu.Unlock()

	b.startPolling()
	return nil
}

func (b *Bridge) startPolling() {
	b.mu.Lock()
	if b.pollStop != nil {
		b.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	b.pollStop = stop
	b.mu.Unlock()

	go func() {
		ticker := time.NewTicker(500 * time.Microsecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				b.pollCrankEdges()
			}
		}
	}()
}

func (b *Bridge) stopPolling() {
	b.mu.Lock()
	stop := b.pollStop
	b.pollStop = nil
	b.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

func (b *Bridge) pollCrankEdges() {
	resp, err := b.request([]byte{cmdCrankEdges})
	if err != nil || len(resp) < 1 {
		return
	}
	count := int(resp[0])
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	if h == nil {
		return
	}
	for i := 0; i < count && 1+(i+1)*8 <= len(resp); i++ {
		ts := binary.BigEndian.Uint64(resp[1+i*8 : 1+(i+1)*8])
		h(hal.CrankEdge{TimestampUs: ts})
	}
}

// Schedule implements hal.Scheduler with time.AfterFunc, matching hal/sim's
// Rig — dispatch timing is a host-side concern regardless of transport.
func (b *Bridge) Schedule(atUs uint64, fn func()) (cancel func()) {
	delay := time.Duration(atUs)*time.Microsecond - time.Since(b.start)
	if delay < 0 {
		delay = 0
	}
	timer := time.AfterFunc(delay, fn)
	return func() { timer.Stop() }
}

// Disable implements hal.InterruptGuard by holding the Bridge's mutex (the
// one guarding the port and crank handler fields) rather than a real
// hardware interrupt line. A serial round trip already in flight is not
// held off: request takes the mutex only to read the port.
func (b *Bridge) Disable() (restore func()) {
	b.mu.Lock()
	return b.mu.Unlock
}

// request sends one envelope-framed command and returns its validated
// payload, following the same wrapMsEnvelope / readMsEnvelopeResponse
// shape: <size_hi><size_lo><payload...><crc32_4bytes_BE>.
func (b *Bridge) request(payload []byte) ([]byte, error) {
	b.mu.Lock()
	port := b.port
	b.mu.Unlock()
	if port == nil {
		return nil, fmt.Errorf("goecu: serialrig: not connected")
	}

	if _, err := port.Write(wrapEnvelope(payload)); err != nil {
		return nil, fmt.Errorf("goecu: serialrig: write: %w", err)
	}
	return readEnvelope(port)
}
