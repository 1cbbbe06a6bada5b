package serial

import (
	"context"
	"log/slog"
	"time"

	"rfbridge/internal/bus"
	"rfbridge/internal/events"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 15 * time.Second
)

// Session keeps a serial port connected, reopening it with exponential
// backoff after failures and publishing state transitions on the bus.
type Session struct {
	logger *slog.Logger
	bus    bus.MessageBus
	port   *Port
}

func NewSession(logger *slog.Logger, b bus.MessageBus, port *Port) *Session {
	return &Session{
		logger: logger,
		bus:    b,
		port:   port,
	}
}

// Run supervises the port until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	backoff := initialBackoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.publishStatus(events.SerialConnecting, nil)
		if err := s.port.Connect(ctx); err != nil {
			s.publishStatus(events.SerialReconnecting, err)
			s.logger.Error("serial connect failed", "port", s.port.portName, "error", err)
			if !sleepWithContext(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}

		backoff = initialBackoff
		s.publishStatus(events.SerialConnected, nil)
		s.logger.Info("serial port connected", "port", s.port.portName)

		err := s.port.Run(ctx)
		_ = s.port.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.publishStatus(events.SerialReconnecting, err)
		s.logger.Error("serial session ended", "port", s.port.portName, "error", err)

		if !sleepWithContext(ctx, backoff) {
			return ctx.Err()
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

func (s *Session) publishStatus(state events.SerialState, err error) {
	status := events.SerialStatus{
		State: state,
		Port:  s.port.portName,
		At:    time.Now(),
	}
	if err != nil {
		status.Err = err.Error()
	}
	s.bus.Publish(events.TopicSerialStatus, status)
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
