package codec

import (
	"strings"
	"testing"
)

func TestUvarintRoundTrip(t *testing.T) {
	values := []uint32{0, 1, 127, 128, 16383, 16384, 1 << 20, (1 << 28) - 1}
	for _, v := range values {
		e := &encoder{}
		e.uvarint(v)
		got, n, ok := DecodeUvarint(e.buf)
		if !ok {
			t.Fatalf("decode failed for %d", v)
		}
		if got != v {
			t.Errorf("uvarint(%d): round-trip got %d", v, got)
		}
		if n != len(e.buf) {
			t.Errorf("uvarint(%d): decoder consumed %d of %d bytes", v, n, len(e.buf))
		}
	}
}

func TestUvarintMinimalWidth(t *testing.T) {
	cases := map[uint32]int{
		0:      1,
		127:    1,
		128:    2,
		16383:  2,
		16384:  3,
		1 << 20: 3,
		1<<21 - 1: 3,
		1 << 21: 4,
	}
	for v, wantLen := range cases {
		e := &encoder{}
		e.uvarint(v)
		if len(e.buf) != wantLen {
			t.Errorf("uvarint(%d): encoded length %d, want %d", v, len(e.buf), wantLen)
		}
	}
}

func TestStrRoundTrip(t *testing.T) {
	strs := []string{"", "hello", strings.Repeat("x", 300), "unicode: é中"}
	for _, s := range strs {
		e := &encoder{}
		e.str(s)
		got, n, ok := DecodeStr(e.buf)
		if !ok {
			t.Fatalf("decode failed for %q", s)
		}
		if got != s {
			t.Errorf("str round-trip: got %q want %q", got, s)
		}
		if n != len(e.buf) {
			t.Errorf("str round-trip: consumed %d of %d bytes", n, len(e.buf))
		}
	}
}

func TestDecodeEmptyBufferMalformed(t *testing.T) {
	if _, err := Decode(nil); err != ErrMalformed {
		t.Fatalf("empty buffer: got %v, want ErrMalformed", err)
	}
}

func TestDecodeUnknownTagMalformed(t *testing.T) {
	if _, err := Decode([]byte{0xFF}); err != ErrMalformed {
		t.Fatalf("unknown tag: got %v, want ErrMalformed", err)
	}
}

func TestDecodeTruncatedStrMalformed(t *testing.T) {
	// SetNameReply-shaped frame isn't a client message, but SendMsg/SetName
	// use exhaustive_str (infallible); truncation only bites length-prefixed
	// str, which only appears server-side. Exercise it via DecodeStr directly.
	frame := []byte{10} // length prefix says 10 bytes follow, none do
	if _, _, ok := DecodeStr(frame); ok {
		t.Fatal("truncated str decoded successfully, want failure")
	}
}

func TestDecodeHelloNoSessionID(t *testing.T) {
	msg, err := Decode([]byte{TagHello})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h, ok := msg.(Hello)
	if !ok || h.HasSessionID {
		t.Fatalf("got %#v, want Hello{HasSessionID: false}", msg)
	}
}

func TestDecodeHelloWithSessionID(t *testing.T) {
	frame := []byte{TagHello, 1, 0, 0, 0, 0, 0, 0, 0}
	msg, err := Decode(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h, ok := msg.(Hello)
	if !ok || !h.HasSessionID || h.SessionID != 1 {
		t.Fatalf("got %#v, want Hello{HasSessionID: true, SessionID: 1}", msg)
	}
}

func TestDecodeSendMsg(t *testing.T) {
	frame := append([]byte{TagSendMsg}, []byte("Hello")...)
	msg, err := Decode(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sm, ok := msg.(SendMsg); !ok || sm.Text != "Hello" {
		t.Fatalf("got %#v, want SendMsg{Text: \"Hello\"}", msg)
	}
}

func TestDecodeButtonsRaisedHand(t *testing.T) {
	msg, err := Decode([]byte{TagButtons, 0x01})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b, ok := msg.(Buttons); !ok || !b.RaisedHand {
		t.Fatalf("got %#v, want Buttons{RaisedHand: true}", msg)
	}
}

func TestDecodeButtonsTruncated(t *testing.T) {
	if _, err := Decode([]byte{TagButtons}); err != ErrMalformed {
		t.Fatalf("truncated buttons: got %v, want ErrMalformed", err)
	}
}

func TestDecodeGoodbye(t *testing.T) {
	msg, err := Decode([]byte{TagGoodbye})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := msg.(Goodbye); !ok {
		t.Fatalf("got %#v, want Goodbye{}", msg)
	}
}

func TestEncodeHelloReplyRoundTrip(t *testing.T) {
	frame := EncodeHelloReply(0x1122334455667788, "Banana042")
	tag, sid, text, _, err := DecodeServerMessage(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tag != TagHelloReply || sid != 0x1122334455667788 || text != "Banana042" {
		t.Fatalf("got tag=%d sid=%x text=%q", tag, sid, text)
	}
}

func TestEncodeReceiveMsgRoundTrip(t *testing.T) {
	frame := EncodeReceiveMsg("Abiu042) hi")
	tag, _, text, _, err := DecodeServerMessage(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tag != TagReceiveMsg || text != "Abiu042) hi" {
		t.Fatalf("got tag=%d text=%q", tag, text)
	}
}

func TestEncodeLobbyInfoRoundTrip(t *testing.T) {
	names := []string{"Abiu042", "Banana013", "Cherry999"}
	frame := EncodeLobbyInfo(names)
	tag, _, _, got, err := DecodeServerMessage(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tag != TagLobbyInfo || len(got) != len(names) {
		t.Fatalf("got tag=%d names=%v", tag, got)
	}
	for i, n := range names {
		if got[i] != n {
			t.Errorf("name[%d] = %q, want %q", i, got[i], n)
		}
	}
}

func TestEncodeDeterministic(t *testing.T) {
	a := EncodeLobbyInfo([]string{"Abiu042"})
	b := EncodeLobbyInfo([]string{"Abiu042"})
	if string(a) != string(b) {
		t.Fatal("encoder is not deterministic for identical input")
	}
}
