package radio

import (
	"errors"
	"sync"

	"github.com/sigurn/crc16"
)

// CRCOKBit is the CRC-check flag in the quality byte appended to every
// received packet.
const CRCOKBit = 0x80

// crcTable matches the CRC-16 the transceiver hardware computes over the
// air frame.
var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// Air is a simulated radio medium. Endpoints created from the same Air hear
// each other's transmissions; the medium appends the signal-strength and
// quality bytes the way the transceiver hardware does on reception.
type Air struct {
	mu        sync.Mutex
	endpoints []*SimDriver
	rssi      byte
	lqi       byte
	corrupt   bool
}

func NewAir() *Air {
	return &Air{rssi: 42, lqi: 0}
}

// SetSignal fixes the RSSI and LQI values stamped onto delivered packets.
// The LQI value is the low seven bits; the CRC flag is owned by the medium.
func (a *Air) SetSignal(rssi, lqi byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rssi = rssi
	a.lqi = lqi &^ CRCOKBit
}

// CorruptNext flips a payload bit of the next transmitted packet, so its
// hardware CRC check fails on reception.
func (a *Air) CorruptNext() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.corrupt = true
}

// NewEndpoint attaches a new transceiver to the medium.
func (a *Air) NewEndpoint() *SimDriver {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := &SimDriver{air: a, state: StateIdle}
	a.endpoints = append(a.endpoints, d)
	return d
}

// transmit delivers frame to every listening endpoint other than the sender.
// It returns the handlers to notify so callers can fire them without holding
// the medium lock.
func (a *Air) transmit(from *SimDriver, frame []byte) []Handler {
	a.mu.Lock()

	sum := crc16.Checksum(frame, crcTable)
	delivered := make([]byte, len(frame), len(frame)+2)
	copy(delivered, frame)
	if a.corrupt && len(delivered) > 1 {
		delivered[1] ^= 0x01
		a.corrupt = false
	}
	quality := a.lqi
	if crc16.Checksum(delivered, crcTable) == sum {
		quality |= CRCOKBit
	}
	delivered = append(delivered, a.rssi, quality)

	var notify []Handler
	for _, ep := range a.endpoints {
		if ep == from {
			continue
		}
		if h := ep.receive(delivered); h != nil {
			notify = append(notify, h)
		}
	}
	a.mu.Unlock()

	return notify
}

// SimDriver implements Driver on top of an Air medium.
type SimDriver struct {
	air *Air

	mu      sync.Mutex
	handler Handler
	state   State
	txFIFO  []byte
	rxFIFO  []byte
}

var (
	errShortFIFO  = errors.New("radio: not enough bytes in receive fifo")
	errBadAddress = errors.New("radio: unknown register address")
)

func (d *SimDriver) SetHandler(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = h
}

func (d *SimDriver) Strobe(cmd StrobeCmd) (Status, error) {
	d.mu.Lock()

	switch cmd {
	case StrobeNop:
	case StrobeRX:
		d.state = StateReceiving
	case StrobeIdle:
		d.state = StateIdle
	case StrobeFlushRX:
		d.rxFIFO = nil
	case StrobeFlushTX:
		d.txFIFO = nil
	case StrobeResetChip:
		d.state = StateIdle
		d.rxFIFO = nil
		d.txFIFO = nil
	case StrobeTX:
		frame := d.txFIFO
		d.txFIFO = nil
		d.state = StateTransmitting
		own := d.handler
		d.mu.Unlock()

		notify := d.air.transmit(d, frame)

		d.mu.Lock()
		// The chip returns to idle once the last byte is on the air.
		d.state = StateIdle
		status := MakeStatus(d.state, len(d.rxFIFO))
		d.mu.Unlock()

		for _, h := range notify {
			h.PacketBoundary()
		}
		if own != nil {
			own.PacketBoundary()
		}
		return status, nil
	}

	status := MakeStatus(d.state, len(d.rxFIFO))
	d.mu.Unlock()
	return status, nil
}

func (d *SimDriver) ReadRegister(addr byte) (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if addr != RegRXBytes {
		return 0, errBadAddress
	}
	return byte(len(d.rxFIFO)), nil
}

func (d *SimDriver) WriteFIFO(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.txFIFO = append(d.txFIFO, data...)
	return nil
}

func (d *SimDriver) ReadFIFO(buf []byte, count int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if count > len(d.rxFIFO) || count > len(buf) {
		return errShortFIFO
	}
	copy(buf, d.rxFIFO[:count])
	d.rxFIFO = d.rxFIFO[count:]
	return nil
}

func (d *SimDriver) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = StateIdle
	d.rxFIFO = nil
	d.txFIFO = nil
	return nil
}

// receive loads a delivered packet into the receive FIFO if the endpoint is
// listening. The returned handler, if any, must be notified by the caller.
// Caller holds the Air lock; receive only takes the endpoint lock.
func (d *SimDriver) receive(packet []byte) Handler {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateReceiving {
		return nil
	}
	d.rxFIFO = append([]byte(nil), packet...)
	// Reception returns the chip to idle automatically.
	d.state = StateIdle
	return d.handler
}

// InjectPacket places raw bytes straight into the receive FIFO and reports a
// packet boundary, bypassing the medium. Test hook for malformed packets.
func (d *SimDriver) InjectPacket(raw []byte) {
	d.mu.Lock()
	d.rxFIFO = append([]byte(nil), raw...)
	d.state = StateIdle
	h := d.handler
	d.mu.Unlock()
	if h != nil {
		h.PacketBoundary()
	}
}
