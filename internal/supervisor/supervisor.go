// Package supervisor drives the per-session protocol: the Hello
// handshake, lobby membership, and the event loop that multiplexes the
// peer connection against the lobby's broadcast and directed queues
// until a terminal condition.
package supervisor

import (
	"fmt"
	"log/slog"

	"github.com/pion/webrtc/v4"

	"lanrelay/internal/codec"
	"lanrelay/internal/idgen"
	"lanrelay/internal/lobby"
	"lanrelay/internal/session"
)

// Conn is the capability surface the event loop needs from a peer
// connection facade. *peerconn.PeerConnection satisfies this;
// tests substitute a fake so the event loop can be exercised without a
// real WebRTC connection.
type Conn interface {
	Recv() ([]byte, error)
	Send([]byte) (int, error)
	SendUnreliable([]byte) (int, error)
	Close() error
	InboundChan() <-chan []byte
	InboundErrChan() <-chan error
	ShutdownChan() <-chan struct{}
	StateChangeChan() <-chan webrtc.PeerConnectionState
}

// Run performs the entry protocol for one admitted connection and then
// its event loop, returning once the session has fully exited. The
// caller (admission) does not need to wait on this beyond spawning it.
func Run(conn Conn, gen *idgen.Generator, lob *lobby.Lobby, logger *slog.Logger, callerTag string) {
	if logger == nil {
		logger = slog.Default()
	}
	defer conn.Close()

	frame, err := conn.Recv()
	if err != nil {
		logger.Debug("supervisor: connection closed before hello", "caller_tag", callerTag, "err", err)
		return
	}
	msg, err := codec.Decode(frame)
	if err != nil {
		logger.Debug("supervisor: malformed hello", "caller_tag", callerTag)
		return
	}
	if _, ok := msg.(codec.Hello); !ok {
		logger.Debug("supervisor: first frame was not hello", "caller_tag", callerTag)
		return
	}

	id := session.ID(gen.Next())
	user := session.New(id)

	reply := codec.EncodeHelloReply(uint64(id), user.Username())
	if _, err := conn.Send(reply); err != nil {
		logger.Debug("supervisor: hello reply failed", "session", id.String(), "err", err)
		return
	}

	handle := lob.Join(user)
	defer lob.ScheduleRemove(handle.ID)

	logger.Info("supervisor: session joined", "session", id.String(), "username", user.Username(), "caller_tag", callerTag)

	runEventLoop(conn, lob, user, handle, logger)

	logger.Info("supervisor: session exited", "session", id.String())
}

// runEventLoop is the single-threaded cooperative multiplexer:
// exactly one branch completes per iteration, and the rest are cancelled
// without side effects because Go's select never consumes an unselected
// channel's value.
func runEventLoop(conn Conn, lob *lobby.Lobby, user *session.UserSession, handle *lobby.Handle, logger *slog.Logger) {
	for {
		select {
		case frame, ok := <-conn.InboundChan():
			if !ok {
				return
			}
			if !handleIncoming(frame, conn, lob, user, logger) {
				return
			}

		case err := <-conn.InboundErrChan():
			logger.Warn("supervisor: transport error", "session", user.ID().String(), "err", err)
			return

		case <-conn.ShutdownChan():
			return

		case msg, ok := <-handle.Broadcast:
			if !ok {
				logger.Warn("supervisor: broadcast lagged or closed", "session", user.ID().String())
				return
			}
			if !handleOutgoing(msg, conn, logger) {
				return
			}

		case msg, ok := <-handle.Directed:
			if !ok {
				logger.Warn("supervisor: directed queue closed", "session", user.ID().String())
				return
			}
			if !handleOutgoing(msg, conn, logger) {
				return
			}

		case state, ok := <-conn.StateChangeChan():
			if !ok {
				return
			}
			if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
				return
			}
			logger.Debug("supervisor: connection state change", "session", user.ID().String(), "state", state.String())
		}
	}
}

// handleIncoming dispatches one decoded client->server frame. It returns
// false when the event loop must exit.
func handleIncoming(frame []byte, conn Conn, lob *lobby.Lobby, user *session.UserSession, logger *slog.Logger) bool {
	msg, err := codec.Decode(frame)
	if err != nil {
		logger.Warn("supervisor: malformed frame, dropping session", "session", user.ID().String())
		return false
	}

	switch m := msg.(type) {
	case codec.SendMsg:
		text := fmt.Sprintf("%s) %s", user.Username(), m.Text)
		lob.SendMessage(session.ChatMsg{Kind: session.ChatUser, Text: text})
		return true

	case codec.SetName:
		if _, err := conn.Send(codec.EncodeSetNameReply(m.Name)); err != nil {
			logger.Warn("supervisor: set-name reply failed", "session", user.ID().String(), "err", err)
			return false
		}
		old := user.Username()
		if old != m.Name {
			lob.Announce(fmt.Sprintf(">>> %s is now %s", old, m.Name))
			user.SetUsername(m.Name)
		}
		return true

	case codec.Buttons:
		user.SetRaisedHand(m.RaisedHand)
		lob.UpdateParticipants()
		return true

	case codec.Goodbye:
		return false

	default:
		logger.Warn("supervisor: unexpected message kind", "session", user.ID().String())
		return false
	}
}

// handleOutgoing encodes and sends one item pulled from either the
// broadcast or directed queue. It returns false when the send failed and
// the session must terminate.
func handleOutgoing(msg session.ParticipantMsg, conn Conn, logger *slog.Logger) bool {
	var frame []byte
	if msg.Message != nil {
		frame = codec.EncodeReceiveMsg(msg.Message.Text)
	} else {
		frame = msg.RawPacket
	}
	if _, err := conn.Send(frame); err != nil {
		logger.Warn("supervisor: outgoing send failed", "err", err)
		return false
	}
	return true
}
