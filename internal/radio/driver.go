// Package radio defines the contract between the link core and a CC1101
// class sub-GHz transceiver: strobe commands, the chip status word, single
// register reads and bulk FIFO access. Packet boundaries (end of a
// transmission or a reception) are reported through a handler callback.
package radio

// Strobe commands accepted by the transceiver command interface.
type StrobeCmd byte

const (
	StrobeNop       StrobeCmd = 0x3D // no operation, returns the status word
	StrobeRX        StrobeCmd = 0x34 // enter receive mode
	StrobeTX        StrobeCmd = 0x35 // start transmitting the TX FIFO
	StrobeIdle      StrobeCmd = 0x36 // exit RX/TX, go idle
	StrobeFlushRX   StrobeCmd = 0x3A // flush the receive FIFO
	StrobeFlushTX   StrobeCmd = 0x3B // flush the transmit FIFO
	StrobeResetChip StrobeCmd = 0x30 // reset the radio core
)

// RegRXBytes is the register holding the number of bytes waiting in the
// receive FIFO.
const RegRXBytes = 0x3B

// State is the machine-state field of the chip status word.
type State byte

const (
	StateIdle              State = 0x00
	StateReceiving         State = 0x10
	StateTransmitting      State = 0x20
	StateReceiveOverflow   State = 0x60
	StateTransmitUnderflow State = 0x70
)

const (
	stateMask     = 0x70
	fifoCountMask = 0x0F
)

// Status is the chip status word returned by every strobe: a state field
// plus a saturating FIFO byte count field.
type Status byte

func (s Status) State() State {
	return State(byte(s) & stateMask)
}

func (s Status) FIFOBytes() int {
	return int(byte(s) & fifoCountMask)
}

// MakeStatus builds a status word from a state and a FIFO count. Counts
// beyond the field width saturate, as on hardware.
func MakeStatus(state State, fifoBytes int) Status {
	if fifoBytes > fifoCountMask {
		fifoBytes = fifoCountMask
	}
	if fifoBytes < 0 {
		fifoBytes = 0
	}
	return Status(byte(state) | byte(fifoBytes))
}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReceiving:
		return "receiving"
	case StateTransmitting:
		return "transmitting"
	case StateReceiveOverflow:
		return "rx-overflow"
	case StateTransmitUnderflow:
		return "tx-underflow"
	default:
		return "unknown"
	}
}

// Handler receives packet-boundary notifications from the driver. The
// callback fires at the end of a transmission and at the end of a reception;
// the link disambiguates by its own state. Implementations must not block.
type Handler interface {
	PacketBoundary()
}

// Driver is the transceiver access contract. Peripheral bring-up (register
// tables, output power programming) happens behind Reset; the link core only
// strobes, moves FIFO bytes and reads status.
type Driver interface {
	// Strobe issues a command strobe and returns the chip status word.
	Strobe(cmd StrobeCmd) (Status, error)
	// ReadRegister reads a single status or configuration register.
	ReadRegister(addr byte) (byte, error)
	// WriteFIFO writes the outgoing packet into the transmit FIFO.
	WriteFIFO(data []byte) error
	// ReadFIFO moves count received bytes from the receive FIFO into buf.
	ReadFIFO(buf []byte, count int) error
	// Reset performs a full radio reinitialization, leaving the chip idle
	// with empty FIFOs.
	Reset() error
	// SetHandler registers the packet-boundary callback.
	SetHandler(h Handler)
}
