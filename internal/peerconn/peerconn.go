// Package peerconn wraps a pion/webrtc peer connection and its two data
// channels behind the small facade the rest of the relay depends on:
// receive, send-reliable, send-unreliable, and await-state-change.
package peerconn

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Reliable and unreliable data channel labels, required by every admitted
// peer.
const (
	LabelReliable   = "ro"
	LabelUnreliable = "uu"
)

// ErrAbort is returned by Recv when the process-wide shutdown signal fires
// before any channel data arrives.
var ErrAbort = errors.New("peerconn: aborted by shutdown signal")

// TransportError wraps a channel- or connection-level failure.
type TransportError struct{ Err error }

func (e *TransportError) Error() string { return fmt.Sprintf("peerconn: transport: %v", e.Err) }
func (e *TransportError) Unwrap() error  { return e.Err }

// PeerConnection is the facade handed to exactly one Session Supervisor,
// which consumes it for the lifetime of the session.
type PeerConnection struct {
	pc         *webrtc.PeerConnection
	reliable   *webrtc.DataChannel
	unreliable *webrtc.DataChannel

	inbound     chan []byte
	inboundErr  chan error
	stateChange chan webrtc.PeerConnectionState
	shutdown    <-chan struct{}
}

// New wraps an already-connected peer and its two ready data channels. The
// caller (admission) is responsible for waiting until both channels are
// open before constructing the facade.
func New(pc *webrtc.PeerConnection, reliable, unreliable *webrtc.DataChannel, shutdown <-chan struct{}) *PeerConnection {
	c := &PeerConnection{
		pc:          pc,
		reliable:    reliable,
		unreliable:  unreliable,
		inbound:     make(chan []byte, 16),
		inboundErr:  make(chan error, 1),
		stateChange: make(chan webrtc.PeerConnectionState, 4),
		shutdown:    shutdown,
	}

	onMsg := func(msg webrtc.DataChannelMessage) {
		select {
		case c.inbound <- msg.Data:
		default:
			// Back-pressure: the supervisor isn't draining fast enough.
			// Dropping here (rather than blocking pion's callback thread)
			// keeps the connection's event loop responsive; the session
			// will eventually see a broadcast-lag teardown if it's truly
			// stuck.
		}
	}
	reliable.OnMessage(onMsg)
	unreliable.OnMessage(onMsg)
	reliable.OnError(func(err error) { c.reportErr(err) })
	unreliable.OnError(func(err error) { c.reportErr(err) })

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		select {
		case c.stateChange <- s:
		default:
		}
	})

	return c
}

func (c *PeerConnection) reportErr(err error) {
	select {
	case c.inboundErr <- err:
	default:
	}
}

// Recv awaits a frame from either data channel, whichever arrives first,
// racing the process-wide shutdown signal.
func (c *PeerConnection) Recv() ([]byte, error) {
	select {
	case b := <-c.inbound:
		return b, nil
	case err := <-c.inboundErr:
		return nil, &TransportError{Err: err}
	case <-c.shutdown:
		return nil, ErrAbort
	}
}

// Send writes to the reliable ("ro") channel.
func (c *PeerConnection) Send(b []byte) (int, error) {
	if err := c.reliable.Send(b); err != nil {
		return 0, &TransportError{Err: err}
	}
	return len(b), nil
}

// SendUnreliable writes to the unreliable ("uu") channel.
func (c *PeerConnection) SendUnreliable(b []byte) (int, error) {
	if err := c.unreliable.Send(b); err != nil {
		return 0, &TransportError{Err: err}
	}
	return len(b), nil
}

// AwaitStateChange blocks until the peer reports a new connection state.
func (c *PeerConnection) AwaitStateChange() (webrtc.PeerConnectionState, error) {
	select {
	case s := <-c.stateChange:
		return s, nil
	case <-c.shutdown:
		return webrtc.PeerConnectionStateClosed, ErrAbort
	}
}

// StateChangeChan exposes the raw state-change channel so a supervisor can
// multiplex it directly in a select alongside recv/broadcast/directed.
func (c *PeerConnection) StateChangeChan() <-chan webrtc.PeerConnectionState { return c.stateChange }

// InboundChan and InboundErrChan expose the raw receive channels for the
// same reason; ShutdownChan exposes the shutdown signal.
func (c *PeerConnection) InboundChan() <-chan []byte        { return c.inbound }
func (c *PeerConnection) InboundErrChan() <-chan error       { return c.inboundErr }
func (c *PeerConnection) ShutdownChan() <-chan struct{}      { return c.shutdown }

// Close tears down the underlying peer connection.
func (c *PeerConnection) Close() error {
	return c.pc.Close()
}
