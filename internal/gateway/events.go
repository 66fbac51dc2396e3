package gateway

import (
	"time"

	"github.com/MrWong99/babelcall/pkg/audio"
)

// Event is published by the [Gateway] through [Config.OnEvent]. The set of
// implementations is closed: [ConnectEvent], [HandshakeEvent], [FrameEvent],
// [DisconnectEvent] and [ErrorEvent].
//
// Events for one connection are delivered in order on that connection's
// read goroutine.
type Event interface {
	gatewayEvent()
}

// ConnectEvent fires when a transport connection is accepted.
type ConnectEvent struct {
	ConnectionID string
	Transport    Transport
	RemoteAddr   string
	At           time.Time
}

// HandshakeEvent fires once the connection's identity is known. For the
// framed transport this follows the identity unit; for the message
// transport it follows the connect immediately.
type HandshakeEvent struct {
	ConnectionID string
	Transport    Transport
	Identity     string
}

// FrameEvent carries one complete fixed-size frame.
type FrameEvent struct {
	Frame audio.Frame
}

// DisconnectEvent fires after a connection has been removed from the
// registry. Stats holds the final counters.
type DisconnectEvent struct {
	ConnectionID string
	Transport    Transport
	Identity     string
	Reason       string
	Duration     time.Duration
	AvgFPS       float64
	Stats        ConnectionStats
}

// ErrorEvent reports a protocol or transport error on one connection.
type ErrorEvent struct {
	ConnectionID string
	Transport    Transport
	Err          error
}

func (ConnectEvent) gatewayEvent()    {}
func (HandshakeEvent) gatewayEvent()  {}
func (FrameEvent) gatewayEvent()      {}
func (DisconnectEvent) gatewayEvent() {}
func (ErrorEvent) gatewayEvent()      {}
