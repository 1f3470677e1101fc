package models

// EventType identifies a change-feed record operation.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// ChangeEvent is one record change delivered on a room's realtime feed.
// Message is set for inserts and updates, MessageID for deletes.
type ChangeEvent struct {
	Type      EventType `json:"event_type"`
	RoomID    string    `json:"room_id"`
	Message   *Message  `json:"record,omitempty"`
	MessageID string    `json:"record_id,omitempty"`
}
