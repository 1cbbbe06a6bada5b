package serial

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	readTimeout   = 300 * time.Millisecond
	writeQueueCap = 256
)

// Port is a Driver over a physical serial port. The link is fixed at
// 8 data bits, no parity, one stop bit; only the device path and baud rate
// vary per deployment.
type Port struct {
	portName string
	baudRate int

	mu      sync.Mutex
	port    serial.Port
	handler Handler

	writes chan byte
}

func NewPort(portName string, baudRate int) *Port {
	return &Port{
		portName: portName,
		baudRate: baudRate,
		writes:   make(chan byte, writeQueueCap),
	}
}

func (p *Port) SetHandler(h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

func (p *Port) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.port != nil
}

func (p *Port) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.port != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.portName == "" {
		return errors.New("serial port is empty")
	}
	if p.baudRate <= 0 {
		return fmt.Errorf("invalid serial baud rate: %d", p.baudRate)
	}

	mode := &serial.Mode{
		BaudRate: p.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(p.portName, mode)
	if err != nil {
		return fmt.Errorf("open serial port %q: %w", p.portName, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()
		return fmt.Errorf("set serial read timeout: %w", err)
	}
	p.port = port

	return nil
}

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	return err
}

// SendByte queues one byte for the writer goroutine. It fails only when the
// queue is full, which means the peer has stopped draining faster than the
// link produces.
func (p *Port) SendByte(b byte) error {
	select {
	case p.writes <- b:
		return nil
	default:
		return errors.New("serial write queue full")
	}
}

// Run pumps the port until ctx is cancelled or the port errors out: a
// reader loop dispatching bytes one at a time, and a writer loop draining
// SendByte's queue. The first failure from either side is returned.
func (p *Port) Run(ctx context.Context) error {
	port, handler, err := p.current()
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		errCh <- p.runReader(readCtx, port, handler)
	}()
	go func() {
		errCh <- p.runWriter(readCtx, port, handler)
	}()

	err = <-errCh
	cancel()
	<-errCh
	return err
}

func (p *Port) runReader(ctx context.Context, port serial.Port, handler Handler) error {
	buf := make([]byte, 64)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := port.Read(buf)
		if err != nil {
			return fmt.Errorf("serial read: %w", err)
		}
		for _, b := range buf[:n] {
			handler.ByteReceived(b)
		}
	}
}

func (p *Port) runWriter(ctx context.Context, port serial.Port, handler Handler) error {
	single := make([]byte, 1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b := <-p.writes:
			single[0] = b
			if err := writeFull(port, single); err != nil {
				return fmt.Errorf("serial write: %w", err)
			}
			handler.ByteTransmitted()
		}
	}
}

func (p *Port) current() (serial.Port, Handler, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.port == nil {
		return nil, nil, errors.New("serial port is not connected")
	}
	if p.handler == nil {
		return nil, nil, errors.New("serial handler is not set")
	}
	return p.port, p.handler, nil
}

func writeFull(port serial.Port, buf []byte) error {
	written := 0
	for written < len(buf) {
		n, err := port.Write(buf[written:])
		if err != nil {
			return err
		}
		written += n
	}
	return nil
}
