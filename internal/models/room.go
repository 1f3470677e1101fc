package models

import (
	"time"

	"github.com/google/uuid"
)

// Room represents a province chat channel. Rooms are created and mutated by
// the backend; the sync engine treats them as read-only.
type Room struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	ProvinceID *uuid.UUID `json:"province_id,omitempty"` // parent grouping
	CreatedAt  time.Time  `json:"created_at"`
}
