package link

import (
	"time"

	"rfbridge/internal/events"
)

// frameSignal tells the caller whether a complete frame is now pending.
type frameSignal int

const (
	signalNone frameSignal = iota
	signalFrameReady
)

// handleSerialByte is the serial receive framer: it accumulates bytes into
// the receive buffer and detects frame completion by delimiter. Silence is
// covered by the flush timer, re-armed on every accepted byte.
func (l *Link) handleSerialByte(b byte) frameSignal {
	l.disarmFlushTimer()

	// A full buffer silently discards the byte; the serial link has no
	// backpressure to offer the peer.
	if l.rxLen == serialBufCap {
		l.reportError(events.ErrReceiveBufferOverflow)
		return signalNone
	}

	l.rxBuf[l.rxLen] = b
	l.rxLen++

	if b == delimiter {
		l.pending = l.rxLen
		return signalFrameReady
	}

	l.armFlushTimer()
	return signalNone
}

// handleFlushTimeout forwards whatever has accumulated when the peer goes
// quiet mid-frame. A timer firing against an already empty buffer is a
// tolerated race, not an error.
func (l *Link) handleFlushTimeout() frameSignal {
	if l.rxLen == 0 {
		return signalNone
	}
	l.pending = l.rxLen
	l.timeoutFlush = true
	return signalFrameReady
}

func (l *Link) armFlushTimer() {
	l.timerGen++
	gen := l.timerGen
	if l.flushTimer != nil {
		l.flushTimer.Stop()
	}
	l.flushTimer = time.AfterFunc(flushTimeout, func() {
		l.enqueue(event{kind: evTimerFired, gen: gen})
	})
}

// disarmFlushTimer stops the timer and invalidates any firing already in
// flight via the generation counter.
func (l *Link) disarmFlushTimer() {
	l.timerGen++
	if l.flushTimer != nil {
		l.flushTimer.Stop()
		l.flushTimer = nil
	}
}
