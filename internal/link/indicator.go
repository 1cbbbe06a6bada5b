package link

// Indicator is a status output driven by the main loop: Heartbeat toggles
// once per loop iteration, Transmit tracks whether a radio transmission is
// in flight. Implementations must not block.
type Indicator interface {
	Heartbeat()
	Transmit(active bool)
}

type noopIndicator struct{}

func (noopIndicator) Heartbeat()      {}
func (noopIndicator) Transmit(b bool) {}
