// Package codec implements the binary wire framing exchanged over the
// relay's two WebRTC data channels: a one-byte kind tag followed by a
// tag-specific payload, all integers little-endian.
package codec

import (
	"encoding/binary"
	"errors"
	"unicode/utf8"
)

// ErrMalformed is returned by Decode for any frame that cannot be parsed:
// an empty buffer, an unknown kind tag, a truncated required field, or
// non-UTF-8 bytes where a length-prefixed string is expected.
var ErrMalformed = errors.New("codec: malformed frame")

// Client->server kind tags.
const (
	TagHello   byte = 0
	TagSendMsg byte = 1
	TagSetName byte = 2
	TagButtons byte = 3
	TagGoodbye byte = 4
)

// Server->client kind tags.
const (
	TagHelloReply   byte = 0
	TagReceiveMsg   byte = 1
	TagSetNameReply byte = 2
	TagLobbyInfo    byte = 3
)

// ClientMessage is any decoded client->server frame.
type ClientMessage interface{ clientMessage() }

// Hello is sent once at connection start. SessionID is accepted
// syntactically (present iff at least 8 bytes remain after the tag) but
// carries no session-recovery semantics in this implementation.
type Hello struct {
	HasSessionID bool
	SessionID    uint64
}

// SendMsg carries free text to relay to the lobby as a chat message.
type SendMsg struct{ Text string }

// SetName requests a username change.
type SetName struct{ Name string }

// Buttons carries transient UI flags; bit 0 is the raised-hand flag.
type Buttons struct{ RaisedHand bool }

// Goodbye requests a clean session exit.
type Goodbye struct{}

func (Hello) clientMessage()   {}
func (SendMsg) clientMessage() {}
func (SetName) clientMessage() {}
func (Buttons) clientMessage() {}
func (Goodbye) clientMessage() {}

// decoder walks a frame buffer left to right. All read methods report
// ok=false on underflow instead of panicking; the caller maps that to
// ErrMalformed.
type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) remaining() []byte { return d.buf[d.pos:] }

func (d *decoder) u8() (byte, bool) {
	if d.pos >= len(d.buf) {
		return 0, false
	}
	b := d.buf[d.pos]
	d.pos++
	return b, true
}

// uvarint decodes 1-4 bytes, 7 payload bits per byte, MSB as the
// continuation flag. It stops at the first byte with MSB clear or after
// exactly 4 bytes, whichever comes first; a fourth byte with MSB still
// set is accepted as-is rather than treated as an error.
func (d *decoder) uvarint() (uint32, bool) {
	var result uint32
	for i := 0; i < 4; i++ {
		b, ok := d.u8()
		if !ok {
			return 0, false
		}
		result |= uint32(b&0x7f) << uint(7*i)
		if b&0x80 == 0 {
			break
		}
	}
	return result, true
}

func (d *decoder) str() (string, bool) {
	n, ok := d.uvarint()
	if !ok {
		return "", false
	}
	if uint64(d.pos)+uint64(n) > uint64(len(d.buf)) {
		return "", false
	}
	b := d.buf[d.pos : d.pos+int(n)]
	if !utf8.Valid(b) {
		return "", false
	}
	d.pos += int(n)
	return string(b), true
}

// exhaustiveStr consumes everything left in the frame. It is infallible:
// non-UTF-8 bytes fall back to an empty string rather than an error.
func (d *decoder) exhaustiveStr() string {
	b := d.remaining()
	d.pos = len(d.buf)
	if !utf8.Valid(b) {
		return ""
	}
	return string(b)
}

func (d *decoder) sessionID() (uint64, bool) {
	if len(d.remaining()) < 8 {
		return 0, false
	}
	v := binary.LittleEndian.Uint64(d.buf[d.pos : d.pos+8])
	d.pos += 8
	return v, true
}

// Decode parses one client->server frame.
func Decode(frame []byte) (ClientMessage, error) {
	d := &decoder{buf: frame}
	tag, ok := d.u8()
	if !ok {
		return nil, ErrMalformed
	}
	switch tag {
	case TagHello:
		h := Hello{}
		if len(d.remaining()) >= 8 {
			sid, ok := d.sessionID()
			if !ok {
				return nil, ErrMalformed
			}
			h.HasSessionID = true
			h.SessionID = sid
		}
		return h, nil
	case TagSendMsg:
		return SendMsg{Text: d.exhaustiveStr()}, nil
	case TagSetName:
		return SetName{Name: d.exhaustiveStr()}, nil
	case TagButtons:
		b, ok := d.u8()
		if !ok {
			return nil, ErrMalformed
		}
		return Buttons{RaisedHand: b&0x01 != 0}, nil
	case TagGoodbye:
		return Goodbye{}, nil
	default:
		return nil, ErrMalformed
	}
}

// encoder appends wire bytes. Every append is infallible by construction.
type encoder struct{ buf []byte }

func (e *encoder) u8(b byte) *encoder {
	e.buf = append(e.buf, b)
	return e
}

// uvarint emits the minimum number of 7-bit groups for values in
// [0, 2^28), matching the width the decoder accepts.
func (e *encoder) uvarint(v uint32) *encoder {
	v &= 0x0FFFFFFF
	for i := 0; i < 4; i++ {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			e.buf = append(e.buf, b)
			return e
		}
		e.buf = append(e.buf, b|0x80)
	}
	return e
}

func (e *encoder) str(s string) *encoder {
	e.uvarint(uint32(len(s)))
	e.buf = append(e.buf, s...)
	return e
}

func (e *encoder) exhaustiveStr(s string) *encoder {
	e.buf = append(e.buf, s...)
	return e
}

func (e *encoder) sessionID(id uint64) *encoder {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], id)
	e.buf = append(e.buf, b[:]...)
	return e
}

// EncodeHelloReply builds the server's handshake reply: the assigned
// session id followed by the assigned username.
func EncodeHelloReply(sessionID uint64, username string) []byte {
	e := &encoder{}
	e.u8(TagHelloReply).sessionID(sessionID).exhaustiveStr(username)
	return e.buf
}

// EncodeReceiveMsg wraps chat text (either a user message or a server
// announcement, already formatted by the caller) for delivery to a client.
func EncodeReceiveMsg(text string) []byte {
	e := &encoder{}
	e.u8(TagReceiveMsg).str(text)
	return e.buf
}

// EncodeSetNameReply acknowledges a rename with the approved name.
func EncodeSetNameReply(name string) []byte {
	e := &encoder{}
	e.u8(TagSetNameReply).str(name)
	return e.buf
}

// EncodeLobbyInfo builds a roster frame from the current member usernames.
func EncodeLobbyInfo(usernames []string) []byte {
	e := &encoder{}
	e.u8(TagLobbyInfo).uvarint(uint32(len(usernames)))
	for _, u := range usernames {
		e.str(u)
	}
	return e.buf
}

// DecodeUvarint and DecodeStr are exported test/client-side helpers used to
// verify round-trips against the encoder without re-implementing the codec.
func DecodeUvarint(b []byte) (uint32, int, bool) {
	d := &decoder{buf: b}
	v, ok := d.uvarint()
	return v, d.pos, ok
}

func DecodeStr(b []byte) (string, int, bool) {
	d := &decoder{buf: b}
	s, ok := d.str()
	return s, d.pos, ok
}

// DecodeServerMessage parses a server->client frame, used by tests that
// exercise the codec from the client's point of view.
func DecodeServerMessage(frame []byte) (tag byte, sessionID uint64, text string, usernames []string, err error) {
	d := &decoder{buf: frame}
	t, ok := d.u8()
	if !ok {
		return 0, 0, "", nil, ErrMalformed
	}
	switch t {
	case TagHelloReply:
		sid, ok := d.sessionID()
		if !ok {
			return 0, 0, "", nil, ErrMalformed
		}
		return t, sid, d.exhaustiveStr(), nil, nil
	case TagReceiveMsg:
		s, ok := d.str()
		if !ok {
			return 0, 0, "", nil, ErrMalformed
		}
		return t, 0, s, nil, nil
	case TagSetNameReply:
		s, ok := d.str()
		if !ok {
			return 0, 0, "", nil, ErrMalformed
		}
		return t, 0, s, nil, nil
	case TagLobbyInfo:
		n, ok := d.uvarint()
		if !ok {
			return 0, 0, "", nil, ErrMalformed
		}
		names := make([]string, 0, n)
		for i := uint32(0); i < n; i++ {
			s, ok := d.str()
			if !ok {
				return 0, 0, "", nil, ErrMalformed
			}
			names = append(names, s)
		}
		return t, 0, "", names, nil
	default:
		return 0, 0, "", nil, ErrMalformed
	}
}
