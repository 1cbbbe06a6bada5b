package serial

import (
	"sync"
)

// Pipe is an in-memory Driver: bytes sent through it accumulate in a log
// and complete immediately, and the test side injects received bytes
// directly. Drives the link core in tests and in cmd/debug.
type Pipe struct {
	mu      sync.Mutex
	handler Handler
	sent    []byte
}

func NewPipe() *Pipe {
	return &Pipe{}
}

func (p *Pipe) SetHandler(h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

func (p *Pipe) SendByte(b byte) error {
	p.mu.Lock()
	p.sent = append(p.sent, b)
	h := p.handler
	p.mu.Unlock()

	if h != nil {
		h.ByteTransmitted()
	}
	return nil
}

// Inject delivers bytes to the handler as if they arrived on the wire.
func (p *Pipe) Inject(data []byte) {
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	if h == nil {
		return
	}
	for _, b := range data {
		h.ByteReceived(b)
	}
}

// Sent returns a copy of everything written so far.
func (p *Pipe) Sent() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]byte, len(p.sent))
	copy(out, p.sent)
	return out
}

// Reset clears the sent log.
func (p *Pipe) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = nil
}
