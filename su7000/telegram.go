package su7000

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/snksoft/crc"
)

const (
	// telStart is the start of telegram byte
	telStart = 0x02

	// telEnd is the end of telegram byte, used as the comm terminator
	telEnd = 0x03

	// escapeChar marks a shifted special character
	escapeChar = 0x5E

	// escapeShift is the amount special characters are shifted up by;
	// they max out at 0x5E so this can never overflow a byte
	escapeShift = 0x40
)

var (
	// dataOrder is the byte order of multi-byte payload values
	dataOrder = binary.LittleEndian

	// specialChars must not appear raw inside a telegram body
	specialChars = []byte{telStart, telEnd, escapeChar}

	crcTable = crc.NewTable(crc.XMODEM)

	// ErrNoStart is generated when a response does not begin with the
	// start of telegram byte
	ErrNoStart = errors.New("su7000: telegram start byte not found")

	// ErrTooShort is generated when a response is too short to hold a
	// command echo and CRC
	ErrTooShort = errors.New("su7000: telegram too short")

	// ErrCRCMismatch is generated when the CRC check fails; data was
	// lost in transmission and the instrument state is unknown
	ErrCRCMismatch = errors.New("su7000: CRC mismatch, instrument state unknown")
)

// crcHelper computes the two-byte CRC-CCITT (XMODEM) value in one line
func crcHelper(buf []byte) []byte {
	c := crcTable.InitCrc()
	c = crcTable.UpdateCrc(c, buf)
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, crcTable.CRC16(c))
	return out
}

func sanitize(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for _, b := range data {
		if bytes.IndexByte(specialChars, b) >= 0 {
			out = append(out, escapeChar, b+escapeShift)
		} else {
			out = append(out, b)
		}
	}
	return out
}

func reverseSanitize(data []byte) []byte {
	out := make([]byte, 0, len(data))
	subNext := false
	for _, b := range data {
		if b == escapeChar && !subNext {
			subNext = true
			continue
		}
		if subNext {
			b -= escapeShift
			subNext = false
		}
		out = append(out, b)
	}
	return out
}

// telegrams are encoded as [SOT][BODY][CRC][EOT], where BODY is
// [CMD][0..N data bytes] on the way out and [CMD][STATUS][0..N data bytes]
// on the way back.  The CRC is CRC-CCITT XMODEM over the raw body; body and
// CRC are scanned for special characters, which are escaped with 0x5E and a
// +0x40 shift.

// MakeTelegram frames a command and payload, without the trailing EOT
// (the comm layer appends it as the Tx terminator).
func MakeTelegram(cmd byte, data []byte) []byte {
	body := append([]byte{cmd}, data...)
	out := []byte{telStart}
	out = append(out, sanitize(body)...)
	out = append(out, sanitize(crcHelper(body))...)
	return out
}

// DecodeTelegram unframes a response (EOT already stripped by the comm
// layer) and returns the echoed command, status byte, and payload.
func DecodeTelegram(tele []byte) (cmd byte, status byte, data []byte, err error) {
	iStart := bytes.IndexByte(tele, telStart)
	if iStart < 0 {
		return 0, 0, nil, ErrNoStart
	}
	body := reverseSanitize(tele[iStart+1:])
	if len(body) < 4 {
		return 0, 0, nil, ErrTooShort
	}
	fidx := len(body) - 2
	crcRecv := body[fidx:]
	body = body[:fidx]
	if !bytes.Equal(crcRecv, crcHelper(body)) {
		return 0, 0, nil, ErrCRCMismatch
	}
	return body[0], body[1], body[2:], nil
}

// packFloats encodes float64 values into a little-endian payload.
func packFloats(vs ...float64) []byte {
	out := make([]byte, 0, 8*len(vs))
	buf := make([]byte, 8)
	for _, v := range vs {
		dataOrder.PutUint64(buf, math.Float64bits(v))
		out = append(out, buf...)
	}
	return out
}

// unpackFloats decodes n little-endian float64 values from a payload.
func unpackFloats(data []byte, n int) ([]float64, error) {
	if len(data) < 8*n {
		return nil, fmt.Errorf("su7000: payload too short, want %d bytes got %d", 8*n, len(data))
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float64frombits(dataOrder.Uint64(data[8*i:]))
	}
	return out, nil
}
