// Package signalling implements admission: turning a remote WebRTC offer
// into a local answer, then waiting in the background for the peer to
// connect and present both required data channels before handing off to
// the Session Supervisor.
package signalling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"lanrelay/internal/peerconn"
)

// RemoteConnectionTimeout bounds how long admission waits for the peer to
// reach Connected and present both data channels.
const RemoteConnectionTimeout = 10 * time.Second

// ErrMalformed is returned for any offer the local WebRTC stack rejects.
var ErrMalformed = errors.New("signalling: malformed offer")

// Answer is the synchronous result of CreateAnswer, serialized verbatim
// as the HTTP front door's JSON response body.
type Answer struct {
	Description webrtc.SessionDescription  `json:"description"`
	Candidates  []webrtc.ICECandidateInit `json:"candidates"`
}

// SupervisorFunc is invoked once a ClientConnection is fully admitted:
// both data channels are open and labeled correctly. callerTag is an
// operator-facing correlation string carried through for logging only
// it has no protocol effect.
type SupervisorFunc func(conn *peerconn.PeerConnection, callerTag string)

// Admission builds answers and drives the background admission wait.
type Admission struct {
	iceServers []webrtc.ICEServer
	logger     *slog.Logger
	shutdown   <-chan struct{}
	onAdmitted SupervisorFunc
}

// New constructs an Admission. shutdown is the process-wide shutdown
// signal, closed once on SIGINT; onAdmitted is called exactly once per
// successfully admitted connection, on its own goroutine.
func New(iceServers []webrtc.ICEServer, shutdown <-chan struct{}, logger *slog.Logger, onAdmitted SupervisorFunc) *Admission {
	if logger == nil {
		logger = slog.Default()
	}
	return &Admission{iceServers: iceServers, logger: logger, shutdown: shutdown, onAdmitted: onAdmitted}
}

// CreateAnswer builds a local answer for the given remote offer and
// returns it synchronously. In the background it waits for the peer to
// connect and present both required data channels, then calls onAdmitted.
// On any failure during that wait the peer is dropped silently: the
// caller of CreateAnswer has already returned its HTTP response by then,
// so there is nothing left to signal back to.
func (a *Admission) CreateAnswer(ctx context.Context, offerSDP string, callerTag string) (*Answer, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: a.iceServers})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var (
		mu         sync.Mutex
		reliable   *webrtc.DataChannel
		unreliable *webrtc.DataChannel
	)
	ready := make(chan struct{})
	var readyOnce sync.Once
	// failed is declared here (rather than further down with the
	// connection-state handler) because the unexpected-label case below
	// needs to signal on it too; both producers share the same
	// non-blocking, fire-at-most-once send.
	failed := make(chan struct{}, 1)

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnOpen(func() {
			mu.Lock()
			switch dc.Label() {
			case peerconn.LabelReliable:
				reliable = dc
			case peerconn.LabelUnreliable:
				unreliable = dc
			default:
				mu.Unlock()
				a.logger.Warn("admission: unexpected data channel label, aborting", "caller_tag", callerTag, "label", dc.Label())
				select {
				case failed <- struct{}{}:
				default:
				}
				return
			}
			gotBoth := reliable != nil && unreliable != nil
			mu.Unlock()
			if gotBoth {
				readyOnce.Do(func() { close(ready) })
			}
		})
	})

	var candidates []webrtc.ICECandidateInit
	var candMu sync.Mutex
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		candMu.Lock()
		candidates = append(candidates, c.ToJSON())
		candMu.Unlock()
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	<-gatherComplete

	result := &Answer{Description: *pc.LocalDescription()}
	candMu.Lock()
	result.Candidates = append([]webrtc.ICECandidateInit(nil), candidates...)
	candMu.Unlock()

	connected := make(chan struct{}, 1)
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateConnected:
			select {
			case connected <- struct{}{}:
			default:
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			select {
			case failed <- struct{}{}:
			default:
			}
		}
	})

	go a.awaitAdmission(pc, connected, failed, ready, &mu, &reliable, &unreliable, callerTag)

	return result, nil
}

func (a *Admission) awaitAdmission(
	pc *webrtc.PeerConnection,
	connected, failed, ready chan struct{},
	mu *sync.Mutex,
	reliable, unreliable **webrtc.DataChannel,
	callerTag string,
) {
	timer := time.NewTimer(RemoteConnectionTimeout)
	defer timer.Stop()

	select {
	case <-connected:
	case <-failed:
		a.logger.Warn("admission: peer failed before connecting", "caller_tag", callerTag)
		pc.Close()
		return
	case <-timer.C:
		a.logger.Warn("admission: timed out waiting for connection", "caller_tag", callerTag)
		pc.Close()
		return
	case <-a.shutdown:
		pc.Close()
		return
	}

	select {
	case <-ready:
	case <-failed:
		a.logger.Warn("admission: peer failed before data channels opened", "caller_tag", callerTag)
		pc.Close()
		return
	case <-timer.C:
		a.logger.Warn("admission: timed out waiting for data channels", "caller_tag", callerTag)
		pc.Close()
		return
	case <-a.shutdown:
		pc.Close()
		return
	}

	mu.Lock()
	r, u := *reliable, *unreliable
	mu.Unlock()

	conn := peerconn.New(pc, r, u, a.shutdown)
	a.logger.Info("admission: session admitted", "caller_tag", callerTag)
	a.onAdmitted(conn, callerTag)
}
