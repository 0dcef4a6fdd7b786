// Package session defines the per-connection user profile and the chat
// message types that travel through the lobby's broadcast and directed
// queues.
package session

import "fmt"

// ID is a process-wide session identifier. It is never reused within a
// process and prints as lowercase hex.
type ID uint64

func (id ID) String() string { return fmt.Sprintf("%x", uint64(id)) }

// fruitNames is the fixed vocabulary used to derive a default username from
// a session id. Order matters: it determines which word a given id range
// maps to.
var fruitNames = []string{
	"Abiu", "Akebi", "Ackee", "African", "American", "Apple", "Apricot", "Aratiles", "Araza", "Avocado",
	"Banana", "Bilberry", "Blackberry", "Blackcurrant", "Blueberry", "Boysenberry", "Breadfruit", "Cactus", "Canistel", "Catmon",
	"Cempedak", "Cherimoya", "Cherry", "Chico", "Citron", "Cloudberry", "Coco", "Coconut", "Crab", "Cranberry",
	"Currant", "Damson", "Date", "Dragonfruit", "Durian", "Elderberry", "Feijoa", "Fig", "Finger", "Gac",
	"Goji", "Gooseberry", "Grape", "Raisin", "Grapefruit", "Grewia", "Guava", "Hala", "Haws,", "Honeyberry",
	"Huckleberry", "Jabuticaba", "Jackfruit", "Jambul", "Japanese", "Jostaberry", "Jujube", "Juniper", "Kaffir", "Kiwano",
	"Kiwifruit", "Kumquat", "Lanzones", "Lemon", "Lime", "Loganberry", "Longan", "Loquat", "Lulo", "Lychee",
	"Magellan", "Macopa", "Mamey", "Mamey", "Mango", "Mangosteen", "Marionberry", "Medlar", "Melon", "Cantaloupe",
	"Galia", "Honeydew", "Mouse", "Muskmelon", "Watermelon", "Miracle", "Momordica", "Monstera", "Mulberry", "Nance",
	"Nectarine", "Orange", "Blood", "Clementine", "Mandarine", "Tangerine", "Papaya", "Passionfruit", "Pawpaw", "Peach",
	"Pear", "Persimmon", "Plantain", "Plum", "Prune", "Pineapple", "Pineberry", "Plumcot", "Pomegranate", "Pomelo",
	"Quince", "Raspberry", "Salmonberry", "Rambutan", "Redcurrant", "Rose", "Salal", "Salak", "Santol", "Sapodilla",
	"Sapote", "Sarguelas", "Satsuma", "Sloe", "Soursop", "Star", "Strawberry", "Sugar", "Suriname", "Tamarillo",
	"Tamarind", "Tangelo", "Tayberry", "Thimbleberry", "Ugli", "White", "Ximenia", "Yuzu",
}

// DefaultUsername derives a deterministic default username from a session
// id: the word at (id/1000) mod len(fruitNames), followed by the
// zero-padded bottom three decimal digits of id.
func DefaultUsername(id ID) string {
	idx := (uint64(id) / 1000) % uint64(len(fruitNames))
	digits := uint64(id) % 1000
	return fmt.Sprintf("%s%03d", fruitNames[idx], digits)
}

// ChatKind distinguishes a user-authored chat line from a server
// announcement (join/leave/rename).
type ChatKind int

const (
	ChatUser ChatKind = iota
	ChatServer
)

// ChatMsg is one line of chat, either user-authored or a server
// announcement. Only User-kind messages are appended to the lobby log.
type ChatMsg struct {
	Kind ChatKind
	Text string
}

// ParticipantMsg is what travels through the lobby's broadcast and
// directed queues: either a ChatMsg still awaiting wire encoding, or an
// already-encoded frame (used for pre-built roster frames).
type ParticipantMsg struct {
	Message   *ChatMsg
	RawPacket []byte
}

// NewChatParticipantMsg wraps a chat message for queueing.
func NewChatParticipantMsg(m ChatMsg) ParticipantMsg { return ParticipantMsg{Message: &m} }

// NewRawParticipantMsg wraps an already-encoded frame for queueing.
func NewRawParticipantMsg(b []byte) ParticipantMsg { return ParticipantMsg{RawPacket: b} }
