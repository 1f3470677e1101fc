package models

// RoomSnapshot is a consistent view of a room's loaded log: confirmed messages
// in (timestamp, id) order followed by the provisional tail in send order.
// The revision counter increments once per applied mutation batch so the UI
// can detect changes without diffing.
type RoomSnapshot struct {
	RoomID       string    `json:"room_id"`
	Messages     []Message `json:"messages"`
	CanLoadOlder bool      `json:"can_load_older"`
	Revision     uint64    `json:"revision"`
}
