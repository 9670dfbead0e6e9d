package repositories

import (
	"context"

	"chat-engine/internal/models"
)

// HistoryIterator walks a room's history newest first, one page per Next call.
// It can be resumed from any cursor with NewHistoryIterator.
type HistoryIterator struct {
	repo     MessageRepository
	roomID   int64
	pageSize int
	cursor   int64
	done     bool
}

// NewHistoryIterator starts below beforeID; zero starts at the newest message.
func NewHistoryIterator(repo MessageRepository, roomID, beforeID int64, pageSize int) *HistoryIterator {
	return &HistoryIterator{
		repo:     repo,
		roomID:   roomID,
		pageSize: clampLimit(pageSize, MaxPageSize),
		cursor:   beforeID,
	}
}

// Next returns the next page. An empty page with a nil error means the history is exhausted.
func (it *HistoryIterator) Next(ctx context.Context) ([]models.Message, error) {
	if it.done {
		return nil, nil
	}
	page, err := it.repo.List(ctx, it.roomID, it.cursor, it.pageSize)
	if err != nil {
		return nil, err
	}
	if len(page) < it.pageSize {
		it.done = true
	}
	if len(page) > 0 {
		it.cursor = page[len(page)-1].ID
	}
	return page, nil
}

// Cursor is the id to resume from.
func (it *HistoryIterator) Cursor() int64 {
	return it.cursor
}
