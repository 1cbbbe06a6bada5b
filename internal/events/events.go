// Package events declares the bus topics and payload types published by the
// link core for observers: the daemon log, the debug tool and the telemetry
// recorder.
package events

import "time"

const (
	TopicLinkState    = "link.state"
	TopicLinkError    = "link.error"
	TopicLinkQuality  = "link.quality"
	TopicFrameOut     = "frame.out"
	TopicFrameIn      = "frame.in"
	TopicSerialStatus = "serial.status"
)

// SerialState describes the serial session lifecycle.
type SerialState string

const (
	SerialConnecting   SerialState = "connecting"
	SerialConnected    SerialState = "connected"
	SerialReconnecting SerialState = "reconnecting"
)

// ErrorKind classifies a link error event. All radio-side kinds funnel into
// the same coarse recovery; the kind is published for diagnostics only.
type ErrorKind string

const (
	ErrReceiveBufferOverflow  ErrorKind = "receive_buffer_overflow"
	ErrTransmitBufferOverflow ErrorKind = "transmit_buffer_overflow"
	ErrMalformedFrame         ErrorKind = "malformed_frame"
	ErrRadioStateMismatch     ErrorKind = "radio_state_mismatch"
	ErrShortPacket            ErrorKind = "short_packet"
	ErrCRCFailure             ErrorKind = "crc_failure"
)

// LinkStateChange is a snapshot of the link state machine after a transition.
type LinkStateChange struct {
	State     string
	ErrorFlag bool
	At        time.Time
}

// LinkError reports a single validation or overflow failure.
type LinkError struct {
	Kind ErrorKind
	At   time.Time
}

// LinkQuality is the per-packet reception telemetry from the radio.
type LinkQuality struct {
	RSSI       byte
	LQI        byte
	PayloadLen int
	At         time.Time
}

// Frame carries frame diagnostics for debug and log views.
type Frame struct {
	Hex string
	Len int
}

// SerialStatus reports a serial session state transition.
type SerialStatus struct {
	State SerialState
	Port  string
	Err   string
	At    time.Time
}
