package supervisor

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

// fakeConn is an in-memory stand-in for *peerconn.PeerConnection, driven
// by pushing raw frames onto inbound and recording everything sent.
type fakeConn struct {
	inbound     chan []byte
	inboundErr  chan error
	shutdown    chan struct{}
	stateChange chan webrtc.PeerConnectionState

	mu   sync.Mutex
	sent [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound:     make(chan []byte, 16),
		inboundErr:  make(chan error, 1),
		shutdown:    make(chan struct{}),
		stateChange: make(chan webrtc.PeerConnectionState, 4),
	}
}

func (f *fakeConn) push(frame []byte) { f.inbound <- frame }

func (f *fakeConn) Recv() ([]byte, error) {
	select {
	case b := <-f.inbound:
		return b, nil
	case err := <-f.inboundErr:
		return nil, err
	case <-f.shutdown:
		return nil, errors.New("abort")
	}
}

func (f *fakeConn) Send(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), b...)
	f.sent = append(f.sent, cp)
	return len(b), nil
}

func (f *fakeConn) SendUnreliable(b []byte) (int, error) { return f.Send(b) }
func (f *fakeConn) Close() error                         { return nil }

func (f *fakeConn) InboundChan() <-chan []byte                        { return f.inbound }
func (f *fakeConn) InboundErrChan() <-chan error                      { return f.inboundErr }
func (f *fakeConn) ShutdownChan() <-chan struct{}                     { return f.shutdown }
func (f *fakeConn) StateChangeChan() <-chan webrtc.PeerConnectionState { return f.stateChange }

func (f *fakeConn) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}
