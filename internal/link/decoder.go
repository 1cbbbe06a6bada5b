package link

import (
	"encoding/hex"
	"strings"
	"time"

	"rfbridge/internal/events"
	"rfbridge/internal/format"
	"rfbridge/internal/radio"
)

// DecodeResult reports the outcome of one packet reception.
type DecodeResult int

const (
	// Rejected means the packet failed validation or could not be
	// forwarded; nothing was appended to the transmit buffer.
	Rejected DecodeResult = iota
	// Forwarded means the payload plus telemetry were queued for the
	// serial peer.
	Forwarded
)

// telemetrySeparator sits between the decimal RSSI and quality values on
// the serial output; telemetryPlaceholder substitutes a failed conversion.
const (
	telemetrySeparator   = ' '
	telemetryPlaceholder = 'X'
)

// handlePacket is the inbound packet decoder, invoked on the loop goroutine
// for every packet-boundary notification while listening. Reception stops
// the radio regardless of outcome (the chip auto-returns to idle), so
// listening is always cleared here and the receive frame always ends empty.
func (l *Link) handlePacket() DecodeResult {
	l.setState(StateIdle)
	defer func() { l.rfRxLen = 0 }()

	// Gate 1: the chip must be idle after a completed reception.
	status, err := l.radio.Strobe(radio.StrobeNop)
	if err != nil || status.State() != radio.StateIdle {
		if err != nil {
			l.logger.Error("status read failed", "error", err)
		}
		l.errFlag = true
		l.reportError(events.ErrRadioStateMismatch)
		return Rejected
	}

	// Gate 2: enough bytes for length, delimiter-terminated payload and
	// the two telemetry bytes.
	count, err := l.radio.ReadRegister(radio.RegRXBytes)
	if err != nil {
		l.radioFailure("fifo count read failed", err)
		l.reportError(events.ErrRadioStateMismatch)
		return Rejected
	}
	l.rfRxLen = int(count)
	if l.rfRxLen < minPacketLen {
		l.errFlag = true
		l.reportError(events.ErrShortPacket)
		return Rejected
	}
	if l.rfRxLen > radioFIFOCap {
		l.errFlag = true
		l.reportError(events.ErrRadioStateMismatch)
		return Rejected
	}

	if err := l.radio.ReadFIFO(l.rfRxFrame[:l.rfRxLen], l.rfRxLen); err != nil {
		l.radioFailure("fifo read failed", err)
		l.reportError(events.ErrRadioStateMismatch)
		return Rejected
	}

	// Gate 3: the hardware CRC check must have passed.
	quality := l.rfRxFrame[l.rfRxLen-1]
	if quality&radio.CRCOKBit == 0 {
		l.errFlag = true
		l.reportError(events.ErrCRCFailure)
		return Rejected
	}

	// Forward length strips the leading length byte and the two trailing
	// telemetry bytes. Partial forwarding is never done: either the whole
	// payload fits the transmit buffer or the packet is dropped.
	fwd := l.rfRxLen - 3
	if l.txLen+fwd > serialBufCap {
		l.reportError(events.ErrTransmitBufferOverflow)
		return Rejected
	}

	copy(l.txBuf[l.txLen:], l.rfRxFrame[1:1+fwd])
	l.txLen += fwd

	rssi := l.rfRxFrame[l.rfRxLen-2]
	l.appendTelemetryValue(int(rssi))
	l.appendTelemetryByte(telemetrySeparator)
	l.appendTelemetryValue(int(quality))
	l.appendTelemetryByte(delimiter)

	l.bus.Publish(events.TopicFrameIn, events.Frame{
		Hex: strings.ToUpper(hex.EncodeToString(l.rfRxFrame[:l.rfRxLen])),
		Len: l.rfRxLen,
	})
	l.bus.Publish(events.TopicLinkQuality, events.LinkQuality{
		RSSI:       rssi,
		LQI:        quality,
		PayloadLen: fwd,
		At:         time.Now(),
	})

	l.startDrainer()
	return Forwarded
}

// appendTelemetryValue renders value as decimal ASCII directly into the
// transmit buffer tail. A conversion that does not fit leaves a single
// placeholder character instead; telemetry is best-effort and never fails
// the whole packet.
func (l *Link) appendTelemetryValue(value int) {
	n := format.Itoa(value, l.txBuf[l.txLen:])
	if n == 0 {
		l.appendTelemetryByte(telemetryPlaceholder)
		return
	}
	l.txLen += n
}

func (l *Link) appendTelemetryByte(b byte) {
	if l.txLen >= serialBufCap {
		return
	}
	l.txBuf[l.txLen] = b
	l.txLen++
}
