package lobby

import (
	"testing"
	"time"

	"lanrelay/internal/codec"
	"lanrelay/internal/session"
)

func drainOne(t *testing.T, ch <-chan session.ParticipantMsg) session.ParticipantMsg {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatal("channel closed while expecting a message")
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return session.ParticipantMsg{}
}

func TestJoinInsertsMember(t *testing.T) {
	l := New(nil)
	defer l.Close()

	u := session.New(session.ID(1))
	h := l.Join(u)
	if l.MemberCount() != 1 {
		t.Fatalf("MemberCount() = %d, want 1", l.MemberCount())
	}
	if h.ID != u.ID() {
		t.Fatalf("handle id = %v, want %v", h.ID, u.ID())
	}
}

func TestJoinWelcomeBeforeFirstBroadcast(t *testing.T) {
	l := New(nil)
	defer l.Close()

	a := session.New(session.ID(1))
	ha := l.Join(a)

	// The roster rebroadcast from Join itself lands on the broadcast
	// channel; the welcome message is only ever on the directed channel.
	welcome := drainOne(t, ha.Directed)
	if welcome.Message == nil || welcome.Message.Kind != session.ChatServer {
		t.Fatalf("got %#v, want a server welcome message", welcome)
	}

	select {
	case <-ha.Directed:
		t.Fatal("directed queue should contain exactly one welcome message")
	default:
	}
}

func TestRemoveDecrementsMembership(t *testing.T) {
	l := New(nil)
	defer l.Close()

	u := session.New(session.ID(1))
	h := l.Join(u)
	l.Remove(h.ID)
	if l.MemberCount() != 0 {
		t.Fatalf("MemberCount() = %d, want 0 after remove", l.MemberCount())
	}
}

func TestRemoveAbsentIsSafe(t *testing.T) {
	l := New(nil)
	defer l.Close()
	l.Remove(session.ID(999)) // must not panic
}

func TestSendMessageDeliveredToAllMembersExactlyOnce(t *testing.T) {
	l := New(nil)
	defer l.Close()

	a := session.New(session.ID(1))
	b := session.New(session.ID(2))
	ha := l.Join(a)
	hb := l.Join(b)

	// Drain each member's directed welcome and everything Join broadcast
	// (roster frames, and for A the announcement of B's join) so only the
	// chat message remains to observe.
	drainOne(t, ha.Directed)
	drainOne(t, hb.Directed)
	drainPending(t, ha.Broadcast)
	drainPending(t, hb.Broadcast)

	l.SendMessage(session.ChatMsg{Kind: session.ChatUser, Text: "Abiu042) hi"})

	for _, ch := range []<-chan session.ParticipantMsg{ha.Broadcast, hb.Broadcast} {
		msg := drainOne(t, ch)
		if msg.Message == nil || msg.Message.Text != "Abiu042) hi" {
			t.Fatalf("got %#v, want chat message", msg)
		}
	}
	if l.LogLen() != 1 {
		t.Fatalf("LogLen() = %d, want 1", l.LogLen())
	}
}

// drainPending discards every frame already queued on ch (roster frames
// and announcements alike), returning once the channel has stayed empty
// for 50ms or has been closed.
func drainPending(t *testing.T, ch <-chan session.ParticipantMsg) {
	t.Helper()
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-time.After(50 * time.Millisecond):
			return
		}
	}
}

func TestRosterReflectsCurrentMembersAfterJoinAndRemove(t *testing.T) {
	l := New(nil)
	defer l.Close()

	a := session.New(session.ID(1))
	ha := l.Join(a)
	drainOne(t, ha.Directed)

	b := session.New(session.ID(2))
	hb := l.Join(b)
	drainOne(t, hb.Directed)

	// A should see a roster broadcast for B's join containing both names.
	var lastRoster []string
	for {
		select {
		case msg := <-ha.Broadcast:
			if msg.RawPacket != nil {
				_, _, _, names, err := codec.DecodeServerMessage(msg.RawPacket)
				if err != nil {
					t.Fatalf("decode roster: %v", err)
				}
				lastRoster = names
			}
		case <-time.After(50 * time.Millisecond):
			goto checkJoin
		}
	}
checkJoin:
	if len(lastRoster) != 2 {
		t.Fatalf("roster after join = %v, want 2 entries", lastRoster)
	}

	l.Remove(hb.ID)
	lastRoster = nil
	for {
		select {
		case msg := <-ha.Broadcast:
			if msg.RawPacket != nil {
				_, _, _, names, err := codec.DecodeServerMessage(msg.RawPacket)
				if err != nil {
					t.Fatalf("decode roster: %v", err)
				}
				lastRoster = names
			}
		case <-time.After(50 * time.Millisecond):
			goto checkRemove
		}
	}
checkRemove:
	if len(lastRoster) != 1 {
		t.Fatalf("roster after remove = %v, want 1 entry", lastRoster)
	}
}
