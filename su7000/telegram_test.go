package su7000

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestTelegramRoundTrip(t *testing.T) {
	// a response body is [CMD][STATUS][payload]; payload deliberately
	// contains every special character
	payload := []byte{0x41, telStart, telEnd, escapeChar, 0x42}
	tele := MakeTelegram(cmdStagePosition, append([]byte{0}, payload...))
	cmd, status, data, err := DecodeTelegram(tele)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if cmd != cmdStagePosition {
		t.Errorf("expected command %#x, got %#x", cmdStagePosition, cmd)
	}
	if status != 0 {
		t.Errorf("expected status 0, got %d", status)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("expected payload % x, got % x", payload, data)
	}
}

func TestTelegramEscapesSpecialChars(t *testing.T) {
	tele := MakeTelegram(cmdStageMove, []byte{telStart, telEnd, escapeChar})
	// the only raw start byte is the framing one
	for _, b := range tele[1:] {
		if b == telStart || b == telEnd {
			t.Errorf("raw framing byte %#x inside telegram % x", b, tele)
		}
	}
}

func TestTelegramCorruptionDetected(t *testing.T) {
	tele := MakeTelegram(cmdStagePosition, []byte{0, 0x41, 0x42})
	tele[1] ^= 0x01 // flip a bit in the command echo
	_, _, _, err := DecodeTelegram(tele)
	if !errors.Is(err, ErrCRCMismatch) {
		t.Errorf("expected CRC mismatch, got %v", err)
	}
}

func TestTelegramMissingStart(t *testing.T) {
	_, _, _, err := DecodeTelegram([]byte{0x10, 0x00, 0x41})
	if !errors.Is(err, ErrNoStart) {
		t.Errorf("expected missing start error, got %v", err)
	}
}

func TestTelegramTooShort(t *testing.T) {
	_, _, _, err := DecodeTelegram([]byte{telStart, 0x10})
	if !errors.Is(err, ErrTooShort) {
		t.Errorf("expected too short error, got %v", err)
	}
}

func TestSanitizeReversible(t *testing.T) {
	in := []byte{0x00, telStart, 0x41, telEnd, escapeChar, 0xFF}
	got := reverseSanitize(sanitize(in))
	if !bytes.Equal(got, in) {
		t.Errorf("expected % x, got % x", in, got)
	}
}

func TestPackUnpackFloats(t *testing.T) {
	want := []float64{0, -1.5, 123456.789}
	got, err := unpackFloats(packFloats(want...), len(want))
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("value %d: expected %f, got %f", i, got[i], want[i])
		}
	}
	if _, err := unpackFloats([]byte{1, 2, 3}, 1); err == nil {
		t.Error("expected an error for a short payload")
	}
}

func TestStatusError(t *testing.T) {
	err := StatusError(5)
	if !strings.Contains(err.Error(), "HIGH VOLTAGE OFF") {
		t.Errorf("unexpected message %q", err.Error())
	}
}
