package store

import (
	"sort"

	"github.com/provinceapp/provchat/internal/models"
)

// pageFrom turns a raw score-range fetch into a history page: newest-first on
// (timestamp, id), strictly older than the cursor, at most limit entries.
// Redis orders equal-score members by raw payload bytes, so both the ordering
// among same-millisecond messages and the cut at either page boundary have to
// be redone by id here.
func pageFrom(msgs []models.Message, before *models.Cursor, limit int) []models.Message {
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[j].Before(&msgs[i])
	})
	return clampPage(msgs, before, limit)
}

// clampPage filters a newest-first page down to messages strictly older than
// the (timestamp, id) cursor and trims it to limit.
func clampPage(msgs []models.Message, before *models.Cursor, limit int) []models.Message {
	var bound *models.Message
	if before != nil {
		bound = &models.Message{Timestamp: before.Timestamp, ID: before.ID}
	}

	out := make([]models.Message, 0, limit)
	for i := range msgs {
		if bound != nil && !msgs[i].Before(bound) {
			continue
		}
		out = append(out, msgs[i])
		if len(out) == limit {
			break
		}
	}
	return out
}
