package radio

import (
	"context"
	"log/slog"
	"time"
)

// EchoStation is a minimal second station on a simulated Air: it listens,
// strips the reception telemetry from every valid packet and transmits the
// frame back after a short delay. Used by cmd/rfbridged and cmd/debug to
// exercise a full round trip without hardware.
type EchoStation struct {
	logger  *slog.Logger
	driver  *SimDriver
	delay   time.Duration
	packets chan []byte
}

func NewEchoStation(logger *slog.Logger, driver *SimDriver, delay time.Duration) *EchoStation {
	s := &EchoStation{
		logger:  logger,
		driver:  driver,
		delay:   delay,
		packets: make(chan []byte, 16),
	}
	driver.SetHandler(s)
	return s
}

// PacketBoundary drains the receive FIFO and queues the packet for the echo
// loop. Implements Handler; must not block.
func (s *EchoStation) PacketBoundary() {
	count, err := s.driver.ReadRegister(RegRXBytes)
	if err != nil || count == 0 {
		return
	}
	buf := make([]byte, count)
	if err := s.driver.ReadFIFO(buf, int(count)); err != nil {
		s.logger.Warn("echo station fifo read failed", "error", err)
		return
	}
	select {
	case s.packets <- buf:
	default:
		s.logger.Warn("echo station queue full, packet dropped")
	}
}

func (s *EchoStation) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *EchoStation) run(ctx context.Context) {
	if _, err := s.driver.Strobe(StrobeRX); err != nil {
		s.logger.Error("echo station listen failed", "error", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case packet := <-s.packets:
			// [len][payload...][rssi][quality]: keep only the frame.
			if len(packet) < 3 {
				continue
			}
			frame := packet[:len(packet)-2]

			// Give the bridge time to return to listening.
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.delay):
			}

			if err := s.driver.WriteFIFO(frame); err != nil {
				s.logger.Warn("echo station fifo write failed", "error", err)
				continue
			}
			if _, err := s.driver.Strobe(StrobeTX); err != nil {
				s.logger.Warn("echo station transmit failed", "error", err)
			}
			if _, err := s.driver.Strobe(StrobeRX); err != nil {
				s.logger.Warn("echo station relisten failed", "error", err)
			}
		}
	}
}
