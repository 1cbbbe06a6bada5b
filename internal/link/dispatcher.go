package link

import (
	"encoding/hex"
	"strings"

	"rfbridge/internal/events"
	"rfbridge/internal/radio"
)

// DispatchResult reports the outcome of one dispatch attempt.
type DispatchResult int

const (
	// DispatchEmpty means there was nothing pending to send.
	DispatchEmpty DispatchResult = iota
	// DispatchInvalid means the pending data held no complete frame (or
	// an over-long one); the receive buffer was defensively reset.
	DispatchInvalid
	// Dispatched means one frame was handed to the radio and the link is
	// now transmitting.
	Dispatched
)

// trySendNext extracts one complete frame from the receive buffer, compacts
// the remainder and hands the frame to the radio. Runs on the loop
// goroutine, so the framer cannot interleave.
func (l *Link) trySendNext() DispatchResult {
	if l.pending == 0 {
		return DispatchEmpty
	}

	frameLen := -1
	if l.timeoutFlush {
		// Timeout flush forwards the whole buffer as-is; searching for
		// a delimiter here would be wrong, there isn't one.
		frameLen = l.rxLen
		l.timeoutFlush = false
	} else {
		limit := l.pending
		if limit > l.rxLen {
			limit = l.rxLen
		}
		for i := 0; i < limit; i++ {
			if l.rxBuf[i] == delimiter {
				frameLen = i + 1
				break
			}
		}
	}

	// Malformed pending state is not retried: reset and start over. An
	// over-long frame could never fit one radio packet, so it takes the
	// same path.
	if frameLen <= 0 || frameLen > MaxPayload {
		if frameLen > 0 {
			l.logger.Warn("frame exceeds radio payload, dropped", "len", frameLen)
		}
		l.reportError(events.ErrMalformedFrame)
		l.pending = 0
		l.rxLen = 0
		return DispatchInvalid
	}

	// Radio wire format: the first byte is the payload length, payload
	// follows verbatim, trailing delimiter included.
	l.rfTxFrame[0] = byte(frameLen)
	copy(l.rfTxFrame[1:], l.rxBuf[:frameLen])

	// Compact: surviving bytes move to the front in order.
	if frameLen != l.rxLen {
		copy(l.rxBuf[:], l.rxBuf[frameLen:l.rxLen])
		l.rxLen -= frameLen
		l.pending = l.rxLen
	} else {
		l.rxLen = 0
		l.pending = 0
	}

	if l.state == StateListening {
		l.receiveOff()
		l.setState(StateIdle)
	}

	frame := l.rfTxFrame[:frameLen+1]
	if err := l.radio.WriteFIFO(frame); err != nil {
		l.radioFailure("transmit fifo write failed", err)
		return DispatchInvalid
	}
	l.setState(StateTransmitting)
	l.indicator.Transmit(true)
	if _, err := l.radio.Strobe(radio.StrobeTX); err != nil {
		l.radioFailure("transmit strobe failed", err)
		l.setState(StateIdle)
		l.indicator.Transmit(false)
		return DispatchInvalid
	}

	l.bus.Publish(events.TopicFrameOut, events.Frame{
		Hex: strings.ToUpper(hex.EncodeToString(frame)),
		Len: len(frame),
	})

	return Dispatched
}
