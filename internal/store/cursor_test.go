package store

import (
	"testing"

	"github.com/provinceapp/provchat/internal/models"
)

func msg(id string, ts int64) models.Message {
	return models.Message{ID: id, Timestamp: ts}
}

func TestPageFromReordersRawFetch(t *testing.T) {
	// Raw fetch order follows payload bytes at equal scores, not ids.
	page := []models.Message{msg("b", 200), msg("a", 100), msg("c", 300)}
	out := pageFrom(page, nil, 10)
	if len(out) != 3 || out[0].ID != "c" || out[1].ID != "b" || out[2].ID != "a" {
		t.Fatalf("expected [c b a], got %v", out)
	}
}

func TestPageFromSameMillisecondTruncation(t *testing.T) {
	// All three share one millisecond and arrive in payload order. The trim
	// to limit must keep the two largest ids, whatever the fetch order was.
	page := []models.Message{msg("a", 100), msg("c", 100), msg("b", 100)}
	out := pageFrom(page, nil, 2)
	if len(out) != 2 || out[0].ID != "c" || out[1].ID != "b" {
		t.Fatalf("expected [c b], got %v", out)
	}
}

func TestPageFromCursorBoundUnordered(t *testing.T) {
	page := []models.Message{msg("b", 100), msg("d", 100), msg("a", 100), msg("c", 100)}
	before := &models.Cursor{Timestamp: 100, ID: "c"}
	out := pageFrom(page, before, 10)
	if len(out) != 2 || out[0].ID != "b" || out[1].ID != "a" {
		t.Fatalf("expected [b a], got %v", out)
	}
}

func TestClampPageNoCursor(t *testing.T) {
	page := []models.Message{msg("c", 300), msg("b", 200), msg("a", 100)}
	out := clampPage(page, nil, 2)
	if len(out) != 2 || out[0].ID != "c" || out[1].ID != "b" {
		t.Fatalf("expected newest two, got %v", out)
	}
}

func TestClampPageCutsAtCursor(t *testing.T) {
	page := []models.Message{msg("d", 400), msg("c", 300), msg("b", 200), msg("a", 100)}
	before := &models.Cursor{Timestamp: 300, ID: "c"}
	out := clampPage(page, before, 10)
	if len(out) != 2 || out[0].ID != "b" || out[1].ID != "a" {
		t.Fatalf("expected strictly-older messages, got %v", out)
	}
}

func TestClampPageSameMillisecondNeighbors(t *testing.T) {
	// Three messages share one millisecond. The score-level fetch returns all
	// of them; only the ones with a smaller id than the cursor may pass.
	page := []models.Message{msg("c", 100), msg("b", 100), msg("a", 100)}
	before := &models.Cursor{Timestamp: 100, ID: "b"}
	out := clampPage(page, before, 10)
	if len(out) != 1 || out[0].ID != "a" {
		t.Fatalf("expected only id a, got %v", out)
	}
}

func TestClampPageCursorItselfExcluded(t *testing.T) {
	page := []models.Message{msg("b", 100), msg("a", 100)}
	before := &models.Cursor{Timestamp: 100, ID: "a"}
	out := clampPage(page, before, 10)
	if len(out) != 0 {
		t.Fatalf("the cursor message itself must be excluded, got %v", out)
	}
}

func TestClampPageTrimsToLimit(t *testing.T) {
	page := []models.Message{msg("e", 500), msg("d", 400), msg("c", 300), msg("b", 200), msg("a", 100)}
	before := &models.Cursor{Timestamp: 500, ID: "e"}
	out := clampPage(page, before, 3)
	if len(out) != 3 || out[0].ID != "d" || out[2].ID != "b" {
		t.Fatalf("expected [d c b], got %v", out)
	}
}
