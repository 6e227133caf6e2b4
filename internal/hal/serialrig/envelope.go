package serialrig

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

// wrapEnvelope and readEnvelope implement the same length-prefixed,
// CRC32-checked framing as a Speeduino-style wrapMsEnvelope /
// readMsEnvelopeResponse: <size_hi><size_lo><payload...><crc32_4bytes_BE>.
// They operate on io.Writer/io.Reader rather than serial.Port directly so
// they can be exercised without a real or fake serial port.

func wrapEnvelope(payload []byte) []byte {
	size := uint16(len(payload))
	out := make([]byte, 0, 2+len(payload)+4)
	out = append(out, byte(size>>8), byte(size&0xFF))
	out = append(out, payload...)
	crcBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(crcBytes, crc32.ChecksumIEEE(payload))
	return append(out, crcBytes...)
}

func readEnvelope(r io.Reader) ([]byte, error) {
	header := make([]byte, 2)
	if err := readExact(r, header); err != nil {
		return nil, fmt.Errorf("goecu: serialrig: size header: %w", err)
	}
	size := int(binary.BigEndian.Uint16(header))
	if size == 0 || size > 4096 {
		return nil, fmt.Errorf("goecu: serialrig: invalid payload size %d", size)
	}

	rest := make([]byte, size+4)
	if err := readExact(r, rest); err != nil {
		return nil, fmt.Errorf("goecu: serialrig: payload+crc: %w", err)
	}

	payload := rest[:size]
	gotCRC := binary.BigEndian.Uint32(rest[size:])
	wantCRC := crc32.ChecksumIEEE(payload)
	if gotCRC != wantCRC {
		return nil, fmt.Errorf("goecu: serialrig: crc mismatch: got 0x%08X want 0x%08X", gotCRC, wantCRC)
	}
	return payload, nil
}

func readExact(r io.Reader, buf []byte) error {
	got := 0
	for got < len(buf) {
		n, err := r.Read(buf[got:])
		if err != nil && n == 0 {
			return fmt.Errorf("read error after %d/%d bytes: %w", got, len(buf), err)
		}
		if n == 0 {
			return fmt.Errorf("timed out after %d/%d bytes", got, len(buf))
		}
		got += n
	}
	return nil
}
