package models

import "time"

// MembershipRecord ties a user to a room. Unique per (room, user); must exist
// before the user may receive or send within the room.
type MembershipRecord struct {
	RoomID     string    `json:"room_id"`
	UserID     string    `json:"user_id"`
	JoinedAt   time.Time `json:"joined_at"`
	LastReadID string    `json:"last_read_id,omitempty"`
}
