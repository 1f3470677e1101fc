package models

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// TempIDPrefix namespaces client-generated provisional message ids. Server
// ids are bare ULIDs, so a prefixed id can never collide with one.
const TempIDPrefix = "tmp-"

// Message represents a chat message in a room's log.
// Author display fields are denormalized at write time by the backend.
type Message struct {
	ID           string `json:"id"` // ULID, or tmp-<ULID> while provisional
	RoomID       string `json:"room_id"`
	AuthorID     string `json:"from"`
	Body         string `json:"body"`
	Attachment   string `json:"attachment,omitempty"`
	AuthorName   string `json:"author_name,omitempty"`
	AuthorAvatar string `json:"author_avatar,omitempty"`
	Timestamp    int64  `json:"ts"` // Unix ms
}

// NewTempID generates a provisional message id.
func NewTempID() string {
	return TempIDPrefix + ulid.Make().String()
}

// Provisional reports whether the message is a not-yet-confirmed local send.
func (m *Message) Provisional() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// Before reports whether m sorts strictly before other in the room log.
// Ordering is (timestamp, id) ascending; the id tie-break keeps
// same-millisecond inserts strictly ordered.
func (m *Message) Before(other *Message) bool {
	if m.Timestamp != other.Timestamp {
		return m.Timestamp < other.Timestamp
	}
	return m.ID < other.ID
}

// Cursor bounds a history query: fetch messages strictly older than the
// (timestamp, id) pair of the oldest message already held.
type Cursor struct {
	Timestamp int64
	ID        string
}
