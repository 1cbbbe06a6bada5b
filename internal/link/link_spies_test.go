package link

import (
	"errors"
	"io"
	"log/slog"

	"rfbridge/internal/bus"
	"rfbridge/internal/radio"
	"rfbridge/internal/serial"
)

// fakeRadio records the link's driver calls and serves canned status and
// FIFO content, for driving the core logic without a medium.
type fakeRadio struct {
	status  radio.Status
	fifo    []byte
	pending []byte
	sent    [][]byte
	strobes []radio.StrobeCmd
	resets  int
	handler radio.Handler
}

func newFakeRadio() *fakeRadio {
	return &fakeRadio{status: radio.MakeStatus(radio.StateIdle, 0)}
}

func (f *fakeRadio) Strobe(cmd radio.StrobeCmd) (radio.Status, error) {
	f.strobes = append(f.strobes, cmd)
	switch cmd {
	case radio.StrobeTX:
		frame := make([]byte, len(f.pending))
		copy(frame, f.pending)
		f.sent = append(f.sent, frame)
		f.pending = nil
	case radio.StrobeFlushRX:
		f.fifo = nil
	case radio.StrobeFlushTX:
		f.pending = nil
	}
	return f.status, nil
}

func (f *fakeRadio) ReadRegister(addr byte) (byte, error) {
	if addr != radio.RegRXBytes {
		return 0, errors.New("unexpected register")
	}
	return byte(len(f.fifo)), nil
}

func (f *fakeRadio) WriteFIFO(data []byte) error {
	f.pending = append(f.pending, data...)
	return nil
}

func (f *fakeRadio) ReadFIFO(buf []byte, count int) error {
	if count > len(f.fifo) {
		return errors.New("fifo underrun")
	}
	copy(buf, f.fifo[:count])
	f.fifo = f.fifo[count:]
	return nil
}

func (f *fakeRadio) Reset() error {
	f.resets++
	f.fifo = nil
	f.pending = nil
	f.status = radio.MakeStatus(radio.StateIdle, 0)
	return nil
}

func (f *fakeRadio) SetHandler(h radio.Handler) { f.handler = h }

func (f *fakeRadio) lastSent() []byte {
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestLink builds an unstarted link over a fake radio and an in-memory
// serial pipe; tests drive the core logic directly on the calling
// goroutine.
func newTestLink() (*Link, *fakeRadio, *serial.Pipe) {
	logger := testLogger()
	fr := newFakeRadio()
	pipe := serial.NewPipe()
	l := New(logger, bus.New(logger), pipe, fr)
	pipe.SetHandler(l)
	fr.SetHandler(l)
	return l, fr, pipe
}

// drainEvents processes every queued event synchronously, the way the run
// loop would.
func drainEvents(l *Link) {
	for {
		select {
		case ev := <-l.events:
			l.handleEvent(ev)
		default:
			return
		}
	}
}

// feed pushes bytes through the framer directly.
func feed(l *Link, data []byte) frameSignal {
	sig := signalNone
	for _, b := range data {
		if s := l.handleSerialByte(b); s == signalFrameReady {
			sig = signalFrameReady
		}
	}
	return sig
}
