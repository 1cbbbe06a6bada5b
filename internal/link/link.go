// Package link implements the bridge core between a byte-stream serial
// link and a packet radio: the serial receive framer, the outbound
// dispatcher, the radio link state machine, the inbound packet decoder and
// the serial transmit drainer.
//
// All logic runs on a single event-loop goroutine. Driver notifications
// (serial bytes, serial transmit completions, radio packet boundaries, the
// flush timer) enqueue tagged events; the loop consumes them one at a time.
// This serializes the dispatcher's read-modify-compact sequence against the
// framer's appends, and the decoder's transmit-buffer writes against the
// drainer's reads, without further locking.
package link

import (
	"context"
	"log/slog"
	"time"

	"rfbridge/internal/bus"
	"rfbridge/internal/events"
	"rfbridge/internal/radio"
)

const (
	// MaxPayload is the largest radio payload; one serial frame must fit.
	MaxPayload = 32
	// serialBufCap sizes both serial-side buffers at 3x the max payload.
	serialBufCap = 3 * MaxPayload
	// radioFIFOCap is the transceiver FIFO size and bounds any reception.
	radioFIFOCap = 64

	// delimiter terminates one serial frame and rides along in the radio
	// payload.
	delimiter = '\n'

	// flushTimeout is the silence interval after which an undelimited
	// buffer is forwarded anyway.
	flushTimeout = 4 * time.Millisecond

	// minPacketLen is the smallest well-formed reception: length byte,
	// two payload bytes (delimiter included), RSSI and quality bytes.
	minPacketLen = 5

	// idlePollInterval and idlePollMax bound the busy-wait for the radio
	// to report idle before re-entering receive mode.
	idlePollInterval = time.Millisecond
	idlePollMax      = 500

	eventQueueCap = 512
)

// State is the radio link arbitration state.
type State int

const (
	StateIdle State = iota
	StateListening
	StateTransmitting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateTransmitting:
		return "transmitting"
	default:
		return "unknown"
	}
}

type eventKind int

const (
	evByteReceived eventKind = iota
	evByteTransmitted
	evPacketBoundary
	evTimerFired
)

type event struct {
	kind eventKind
	b    byte
	gen  uint64 // flush-timer generation, evTimerFired only
}

// SerialDriver is the subset of the serial driver the link needs.
type SerialDriver interface {
	SendByte(b byte) error
}

// Link owns every buffer of the bridge and coordinates the five core
// components. Create with New, attach as handler to both drivers, then Run.
type Link struct {
	logger    *slog.Logger
	bus       bus.MessageBus
	serial    SerialDriver
	radio     radio.Driver
	indicator Indicator

	events chan event

	// Everything below is owned by the Run goroutine.
	state   State
	errFlag bool

	rxBuf        [serialBufCap]byte
	rxLen        int
	pending      int // pending-send marker: 0 none, else byte count
	timeoutFlush bool

	txBuf         [serialBufCap]byte
	txRead        int
	txLen         int
	drainerActive bool

	rfTxFrame [1 + MaxPayload]byte
	rfRxFrame [radioFIFOCap]byte
	rfRxLen   int

	flushTimer *time.Timer
	timerGen   uint64
}

// Option configures optional Link collaborators.
type Option func(*Link)

// WithIndicator attaches a status indicator driven by the main loop.
func WithIndicator(ind Indicator) Option {
	return func(l *Link) {
		if ind != nil {
			l.indicator = ind
		}
	}
}

func New(logger *slog.Logger, b bus.MessageBus, sd SerialDriver, rd radio.Driver, opts ...Option) *Link {
	l := &Link{
		logger:    logger,
		bus:       b,
		serial:    sd,
		radio:     rd,
		indicator: noopIndicator{},
		events:    make(chan event, eventQueueCap),
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ByteReceived implements the serial driver notification. Safe to call from
// any goroutine; the byte is handed to the framer on the loop goroutine.
func (l *Link) ByteReceived(b byte) {
	l.enqueue(event{kind: evByteReceived, b: b})
}

// ByteTransmitted implements the serial driver notification.
func (l *Link) ByteTransmitted() {
	l.enqueue(event{kind: evByteTransmitted})
}

// PacketBoundary implements the radio driver notification, fired at the end
// of a transmission or a reception.
func (l *Link) PacketBoundary() {
	l.enqueue(event{kind: evPacketBoundary})
}

// enqueue never blocks: a notification that cannot be queued is dropped,
// consistent with the best-effort delivery posture of the bridge.
func (l *Link) enqueue(ev event) {
	select {
	case l.events <- ev:
	default:
		l.logger.Warn("event queue full, notification dropped", "kind", ev.kind)
	}
}

// Run executes the main loop until ctx is cancelled. Transport and radio
// errors are never fatal: they raise the link error flag and the next idle
// transition reinitializes the radio subsystem.
func (l *Link) Run(ctx context.Context) error {
	for {
		l.indicator.Heartbeat()

		if l.state != StateListening && l.state != StateTransmitting {
			if err := l.enterListening(ctx); err != nil {
				return err
			}
			if l.state != StateListening {
				// Recovery did not complete; enterListening already
				// slept, so retry from the top.
				continue
			}
		}

		select {
		case <-ctx.Done():
			l.disarmFlushTimer()
			return ctx.Err()
		case ev := <-l.events:
			l.handleEvent(ev)
		}

		if l.state != StateTransmitting && l.pending > 0 {
			l.trySendNext()
		}
	}
}

func (l *Link) handleEvent(ev event) {
	switch ev.kind {
	case evByteReceived:
		l.handleSerialByte(ev.b)
	case evByteTransmitted:
		l.handleByteTransmitted()
	case evTimerFired:
		if ev.gen == l.timerGen {
			l.handleFlushTimeout()
		}
	case evPacketBoundary:
		switch l.state {
		case StateListening:
			l.handlePacket()
		case StateTransmitting:
			// End of our transmission.
			l.setState(StateIdle)
			l.indicator.Transmit(false)
		default:
			// Boundary racing a state change; the FIFO is flushed on
			// the next listen transition.
		}
	}
}

// enterListening drives Idle -> Listening: stop any receive, recover from a
// flagged error by reinitializing the radio, wait (bounded) for the chip to
// report idle, then enable receive mode.
func (l *Link) enterListening(ctx context.Context) error {
	l.receiveOff()

	if l.errFlag {
		if err := l.radio.Reset(); err != nil {
			l.logger.Error("radio reset failed", "error", err)
			return sleepWithContext(ctx, idlePollInterval)
		}
		l.errFlag = false
		l.logger.Info("radio reinitialized after link error")
	}

	for i := 0; ; i++ {
		status, err := l.radio.Strobe(radio.StrobeNop)
		if err != nil {
			l.radioFailure("status poll failed", err)
			return sleepWithContext(ctx, idlePollInterval)
		}
		if status.State() == radio.StateIdle {
			break
		}
		if i >= idlePollMax {
			l.logger.Warn("radio never reported idle, forcing recovery")
			l.errFlag = true
			return sleepWithContext(ctx, idlePollInterval)
		}
		if err := sleepWithContext(ctx, idlePollInterval); err != nil {
			return err
		}
	}

	l.receiveOn()
	l.setState(StateListening)
	return nil
}

func (l *Link) receiveOn() {
	if _, err := l.radio.Strobe(radio.StrobeRX); err != nil {
		l.radioFailure("enter receive mode failed", err)
	}
}

// receiveOff idles the chip and flushes the receive FIFO, so a partially
// received packet cannot linger into the next receive window.
func (l *Link) receiveOff() {
	if _, err := l.radio.Strobe(radio.StrobeIdle); err != nil {
		l.radioFailure("leave receive mode failed", err)
		return
	}
	if _, err := l.radio.Strobe(radio.StrobeFlushRX); err != nil {
		l.radioFailure("receive fifo flush failed", err)
	}
}

func (l *Link) radioFailure(msg string, err error) {
	l.logger.Error(msg, "error", err)
	l.errFlag = true
}

func (l *Link) setState(s State) {
	if l.state == s {
		return
	}
	l.state = s
	l.bus.Publish(events.TopicLinkState, events.LinkStateChange{
		State:     s.String(),
		ErrorFlag: l.errFlag,
		At:        time.Now(),
	})
}

func (l *Link) reportError(kind events.ErrorKind) {
	l.bus.Publish(events.TopicLinkError, events.LinkError{Kind: kind, At: time.Now()})
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
