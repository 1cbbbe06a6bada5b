package link

// The serial transmit drainer is a self-sustaining byte pump: startDrainer
// pushes the first buffered byte, and every transmit-complete notification
// pushes the next until the buffer empties.

// startDrainer kicks off draining if it is not already running. Called by
// the decoder after appending a packet.
func (l *Link) startDrainer() {
	if l.drainerActive || l.txLen == 0 {
		return
	}
	l.drainerActive = true
	l.sendCurrentByte()
}

// handleByteTransmitted advances the read cursor; reaching the write length
// resets the buffer to empty and parks the drainer.
func (l *Link) handleByteTransmitted() {
	if l.txLen == 0 {
		// Spurious completion; nothing queued.
		return
	}

	l.txRead++
	if l.txRead == l.txLen {
		l.txRead = 0
		l.txLen = 0
		l.drainerActive = false
		return
	}

	l.sendCurrentByte()
}

func (l *Link) sendCurrentByte() {
	if err := l.serial.SendByte(l.txBuf[l.txRead]); err != nil {
		// A wedged serial writer cannot be signalled upstream; drop the
		// whole queued output and park, mirroring the overflow policy.
		l.logger.Warn("serial send failed, transmit buffer dropped", "error", err)
		l.txRead = 0
		l.txLen = 0
		l.drainerActive = false
	}
}
