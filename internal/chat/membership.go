package chat

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/provinceapp/provchat/internal/models"
)

// MembershipService handles join/leave/read-cursor bookkeeping for users
// within rooms.
type MembershipService struct {
	backend Backend
	logger  zerolog.Logger
}

// NewMembershipService creates the service.
func NewMembershipService(backend Backend, logger zerolog.Logger) *MembershipService {
	return &MembershipService{
		backend: backend,
		logger:  logger.With().Str("component", "membership").Logger(),
	}
}

// Join upserts the membership row. Already-a-member is success, not an error;
// NotFound and Permission kinds pass through so the caller can distinguish a
// terminal "room unavailable" state from a retryable one.
func (m *MembershipService) Join(ctx context.Context, roomID, userID string) (*models.MembershipRecord, error) {
	rec, err := m.backend.UpsertMembership(ctx, roomID, userID)
	if err != nil {
		if KindOf(err) == KindConflict {
			// Duplicate join reported by a backend that cannot upsert
			// natively. Absorbed.
			return rec, nil
		}
		return nil, err
	}
	return rec, nil
}

// Leave removes the membership row. Closing a room view does not call this;
// only an explicit user action removes membership.
func (m *MembershipService) Leave(ctx context.Context, roomID, userID string) error {
	return m.backend.DeleteMembership(ctx, roomID, userID)
}

// MarkRead advances the user's read cursor. Best-effort: read-cursor accuracy
// is not worth surfacing a failure for, so errors are logged and swallowed.
func (m *MembershipService) MarkRead(ctx context.Context, roomID, userID, lastMessageID string) {
	if err := m.backend.UpdateReadCursor(ctx, roomID, userID, lastMessageID); err != nil {
		m.logger.Warn().Err(err).Str("room", roomID).Str("user", userID).Msg("read cursor update failed")
	}
}
