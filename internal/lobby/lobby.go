// Package lobby implements the process-wide singleton that owns lobby
// membership and message fan-out: the single room every admitted session
// joins.
package lobby

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"lanrelay/internal/codec"
	"lanrelay/internal/session"
)

// Bounded queue capacities. A broadcast subscriber that cannot keep up
// within this many buffered messages is torn down rather than allowed to
// grow unbounded.
const (
	broadcastCapacity = 64
	directedCapacity  = 64
)

// subscriber is one member's broadcast fan-out destination. Publish is
// non-blocking: a full channel means the subscriber has fallen behind by
// more than broadcastCapacity messages, and is closed so its reader
// observes a closed channel on its next receive (the Go stand-in for the
// Lagged/Closed disposition, both of which are fatal to the session).
type subscriber struct {
	ch        chan session.ParticipantMsg
	closeOnce sync.Once
}

func newSubscriber() *subscriber {
	return &subscriber{ch: make(chan session.ParticipantMsg, broadcastCapacity)}
}

func (s *subscriber) publish(msg session.ParticipantMsg) {
	select {
	case s.ch <- msg:
	default:
		s.closeOnce.Do(func() { close(s.ch) })
	}
}

// member is the Lobby's private record for one joined session.
type member struct {
	broadcast *subscriber
	directed  chan session.ParticipantMsg
	view      *session.UserSession
}

// Handle is returned by Join. The caller must arrange for ScheduleRemove
// to run when the session ends, exactly once.
type Handle struct {
	ID        session.ID
	Broadcast <-chan session.ParticipantMsg
	Directed  <-chan session.ParticipantMsg
}

// Lobby is the process-wide singleton registry. Construct one with New
// and inject it into every admitted session; do not use a package-level
// global, so tests can run isolated instances concurrently.
type Lobby struct {
	mu      sync.RWMutex
	log     []session.ChatMsg
	members map[session.ID]*member

	logger *slog.Logger

	removeQueue chan session.ID

	broadcastCount atomic.Uint64
	bytesRelayed   atomic.Uint64
}

// New constructs an empty Lobby and starts its background removal
// worker. Close should be called once the Lobby is no longer needed (test
// teardown; a running server keeps it for the process lifetime).
func New(logger *slog.Logger) *Lobby {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Lobby{
		members:     make(map[session.ID]*member),
		logger:      logger,
		removeQueue: make(chan session.ID, 256),
	}
	go l.removeWorker()
	return l
}

func (l *Lobby) removeWorker() {
	for id := range l.removeQueue {
		l.Remove(id)
	}
}

// Close stops the background removal worker. Call at most once.
func (l *Lobby) Close() { close(l.removeQueue) }

// ScheduleRemove decouples Remove from the caller's own goroutine: this is
// the Go stand-in for destructor-triggered cleanup. A supervisor defers
// this call so that even an early or panicking exit still schedules the
// removal, independent of whatever unwound the supervisor's own stack.
func (l *Lobby) ScheduleRemove(id session.ID) {
	l.removeQueue <- id
}

// publishAll fans msg out to every current member's broadcast subscriber.
// It takes no lock itself: callers must hold l.mu (read or write) while it
// iterates the member table.
func (l *Lobby) publishAll(msg session.ParticipantMsg) {
	for _, m := range l.members {
		m.broadcast.publish(msg)
	}
	l.broadcastCount.Add(1)
}

// Announce broadcasts a server (not-logged) announcement, used for
// join/leave/rename lines.
func (l *Lobby) Announce(text string) {
	msg := session.NewChatParticipantMsg(session.ChatMsg{Kind: session.ChatServer, Text: text})
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.publishAll(msg)
}

// Join admits a session into the lobby: announces the join, subscribes
// the session to broadcast, seeds its directed queue with a welcome
// message, inserts the membership record, and rebroadcasts the roster.
func (l *Lobby) Join(u *session.UserSession) *Handle {
	l.Announce(fmt.Sprintf(">>> %s has joined", u.Username()))

	sub := newSubscriber()
	directed := make(chan session.ParticipantMsg, directedCapacity)
	welcome := session.ChatMsg{Kind: session.ChatServer, Text: fmt.Sprintf(">>> Welcome, %s.", u.Username())}
	directed <- session.NewChatParticipantMsg(welcome)

	l.mu.Lock()
	l.members[u.ID()] = &member{broadcast: sub, directed: directed, view: u}
	l.mu.Unlock()

	l.UpdateParticipants()

	return &Handle{ID: u.ID(), Broadcast: sub.ch, Directed: directed}
}

// Remove tears down a membership entry. A missing id is logged and
// ignored: the background removal worker may race a supervisor that
// already removed itself explicitly.
func (l *Lobby) Remove(id session.ID) {
	l.mu.Lock()
	m, ok := l.members[id]
	if ok {
		delete(l.members, id)
	}
	l.mu.Unlock()

	if !ok {
		l.logger.Warn("lobby: remove of absent member", "session", id.String())
		return
	}

	l.Announce(fmt.Sprintf(">>> %s has left.", m.view.Username()))
	l.UpdateParticipants()
}

// SendMessage broadcasts a user chat message and appends it to the log in
// the same critical section, so concurrent senders cannot observe the log
// and the broadcast order disagree.
func (l *Lobby) SendMessage(msg session.ChatMsg) {
	pm := session.NewChatParticipantMsg(msg)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.publishAll(pm)
	l.log = append(l.log, msg)
	l.bytesRelayed.Add(uint64(len(msg.Text)))
}

// UpdateParticipants snapshots current usernames under the read lock,
// encodes a roster frame, and broadcasts it pre-encoded.
func (l *Lobby) UpdateParticipants() {
	l.mu.RLock()
	names := make([]string, 0, len(l.members))
	for _, m := range l.members {
		names = append(names, m.view.Username())
	}
	l.mu.RUnlock()

	sort.Strings(names)
	frame := codec.EncodeLobbyInfo(names)

	l.mu.RLock()
	defer l.mu.RUnlock()
	l.publishAll(session.NewRawParticipantMsg(frame))
}

// MemberCount returns the current membership size.
func (l *Lobby) MemberCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.members)
}

// LogLen returns the number of chat entries appended so far (test/metrics
// use only; not part of the wire protocol).
func (l *Lobby) LogLen() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.log)
}

// BroadcastCount and BytesRelayed back the periodic metrics ticker and the
// HTTP /metrics endpoint.
func (l *Lobby) BroadcastCount() uint64 { return l.broadcastCount.Load() }
func (l *Lobby) BytesRelayed() uint64   { return l.bytesRelayed.Load() }
