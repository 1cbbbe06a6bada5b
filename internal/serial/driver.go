// Package serial defines the byte-oriented serial driver contract the link
// core depends on, and its implementations: a real port backed by
// go.bug.st/serial and an in-memory pipe for tests and tooling.
//
// The contract is deliberately a UART's: one byte per send, one notification
// per completed byte, one notification per received byte. Framing lives
// entirely in the link core.
package serial

// Handler receives driver notifications. Implementations must not block;
// they run on the driver's I/O goroutines.
type Handler interface {
	// ByteReceived fires once per byte read from the peer.
	ByteReceived(b byte)
	// ByteTransmitted fires after a byte handed to SendByte has been
	// written out.
	ByteTransmitted()
}

// Driver is the transmit half of the contract. SendByte queues a single
// byte for transmission and returns without waiting for completion;
// completion is reported through Handler.ByteTransmitted.
type Driver interface {
	SendByte(b byte) error
	SetHandler(h Handler)
}
