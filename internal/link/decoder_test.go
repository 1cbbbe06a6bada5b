package link

import (
	"bytes"
	"testing"

	"rfbridge/internal/radio"
)

func TestDecodeForwardsPayloadAndTelemetry(t *testing.T) {
	l, fr, pipe := newTestLink()
	l.state = StateListening

	fr.fifo = []byte{5, 'o', 'k', '\n', 0x2A, 0x80}
	if res := l.handlePacket(); res != Forwarded {
		t.Fatalf("expected Forwarded, got %v", res)
	}

	if l.state != StateIdle {
		t.Fatalf("reception must clear listening, got %s", l.state)
	}
	if l.rfRxLen != 0 {
		t.Fatalf("receive frame must be reset, got length %d", l.rfRxLen)
	}

	drainEvents(l)
	want := []byte("ok\n42 128\n")
	if !bytes.Equal(pipe.Sent(), want) {
		t.Fatalf("serial output mismatch: got %q want %q", pipe.Sent(), want)
	}
	if l.txLen != 0 || l.drainerActive {
		t.Fatalf("drainer must park on an empty buffer, len=%d active=%v", l.txLen, l.drainerActive)
	}
}

func TestDecodeRejectsCRCFailure(t *testing.T) {
	l, fr, pipe := newTestLink()
	l.state = StateListening

	fr.fifo = []byte{4, 'o', 'k', '\n', 0x00}
	if res := l.handlePacket(); res != Rejected {
		t.Fatalf("expected Rejected, got %v", res)
	}

	if l.txLen != 0 {
		t.Fatalf("rejected packet must not touch the transmit buffer")
	}
	if l.rfRxLen != 0 {
		t.Fatalf("receive frame must be reset, got length %d", l.rfRxLen)
	}
	if !l.errFlag {
		t.Fatalf("crc failure must raise the link error flag")
	}
	drainEvents(l)
	if len(pipe.Sent()) != 0 {
		t.Fatalf("nothing must reach the serial peer")
	}
}

func TestDecodeRejectsShortPacket(t *testing.T) {
	l, fr, _ := newTestLink()
	l.state = StateListening

	fr.fifo = []byte{2, '\n', 0x2A, 0x80}
	if res := l.handlePacket(); res != Rejected {
		t.Fatalf("expected Rejected for a short packet, got %v", res)
	}
	if l.txLen != 0 {
		t.Fatalf("short packet must not touch the transmit buffer")
	}
	if !l.errFlag {
		t.Fatalf("short packet must raise the link error flag")
	}
	if l.rfRxLen != 0 {
		t.Fatalf("receive frame must be reset, got length %d", l.rfRxLen)
	}
}

func TestDecodeRejectsRadioStateMismatch(t *testing.T) {
	l, fr, _ := newTestLink()
	l.state = StateListening

	fr.status = radio.MakeStatus(radio.StateReceiving, 0)
	fr.fifo = []byte{5, 'o', 'k', '\n', 0x2A, 0x80}
	if res := l.handlePacket(); res != Rejected {
		t.Fatalf("expected Rejected for a non-idle radio, got %v", res)
	}
	if !l.errFlag {
		t.Fatalf("state mismatch must raise the link error flag")
	}
}

func TestDecodeRejectsWhenTransmitBufferFull(t *testing.T) {
	l, fr, _ := newTestLink()
	l.state = StateListening
	l.txLen = serialBufCap - 1 // payload of 2 cannot fit

	fr.fifo = []byte{5, 'o', 'k', '\n', 0x2A, 0x80}
	if res := l.handlePacket(); res != Rejected {
		t.Fatalf("expected Rejected on transmit buffer overflow, got %v", res)
	}
	if l.txLen != serialBufCap-1 {
		t.Fatalf("overflow rejection must leave the buffer untouched, got %d", l.txLen)
	}
	if l.errFlag {
		t.Fatalf("a serial-side overflow is absorbed locally, not a radio error")
	}
}

func TestDecodeTruncatesTelemetryWhenNearlyFull(t *testing.T) {
	l, fr, _ := newTestLink()
	l.state = StateListening

	// Leave exactly payload + 3 spare bytes: the RSSI renders, the
	// separator lands, and the rest of the telemetry is dropped.
	payload := 3 // "ok\n"
	l.txLen = serialBufCap - payload - 3
	start := l.txLen

	fr.fifo = []byte{5, 'o', 'k', '\n', 0x2A, 0x80}
	if res := l.handlePacket(); res != Forwarded {
		t.Fatalf("expected Forwarded, got %v", res)
	}

	got := l.txBuf[start:l.txLen]
	want := []byte("ok\n42 ")
	if !bytes.Equal(got, want) {
		t.Fatalf("truncated telemetry mismatch: got %q want %q", got, want)
	}
}

func TestDecodeAppendsWhileDrainerMidStream(t *testing.T) {
	l, fr, pipe := newTestLink()
	l.state = StateListening

	fr.fifo = []byte{5, 'o', 'k', '\n', 0x2A, 0x80}
	if res := l.handlePacket(); res != Forwarded {
		t.Fatalf("expected Forwarded, got %v", res)
	}

	// Only the kick-off byte has gone out; a second packet arrives while
	// the drainer is mid-stream.
	l.state = StateListening
	fr.status = radio.MakeStatus(radio.StateIdle, 0)
	fr.fifo = []byte{4, 'y', 'o', '\n', 0x30, 0x81}
	if res := l.handlePacket(); res != Forwarded {
		t.Fatalf("expected Forwarded for the second packet, got %v", res)
	}

	drainEvents(l)
	want := []byte("ok\n42 128\nyo\n48 129\n")
	if !bytes.Equal(pipe.Sent(), want) {
		t.Fatalf("serial output mismatch: got %q want %q", pipe.Sent(), want)
	}
}
