package coordinator

import (
	"context"
	"log"
	"time"

	"chat-engine/internal/models"
	"chat-engine/internal/observability"
)

// DefaultSweepInterval is how often due scheduled messages and expired messages are processed.
const DefaultSweepInterval = 30 * time.Second

// RunSweeper calls Sweep every interval until ctx is done.
func (c *Coordinator) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			promoted, expired, err := c.Sweep(ctx, c.now())
			if err != nil {
				log.Printf("sweep failed promoted=%d expired=%d err=%v", promoted, expired, err)
			}
		}
	}
}

// Sweep publishes scheduled messages that are due and soft-deletes messages past their
// auto-delete time, broadcasting both like user actions.
func (c *Coordinator) Sweep(ctx context.Context, now time.Time) (promoted, expired int, err error) {
	due, err := c.messages.PromoteDue(ctx, now)
	if err != nil {
		return 0, 0, err
	}
	for _, msg := range due {
		c.sweepBroadcast(ctx, msg.RoomID, models.Event{Type: models.EventNewMessage, Data: msg})
	}
	observability.AddSweep("promoted", len(due))

	gone, err := c.messages.ExpireDue(ctx, now)
	if err != nil {
		return len(due), 0, err
	}
	for _, msg := range gone {
		payload := models.MessageDeletedPayload{RoomID: msg.RoomID, MessageID: msg.ID, DeletedAt: now}
		if msg.DeletedAt != nil {
			payload.DeletedAt = *msg.DeletedAt
		}
		c.sweepBroadcast(ctx, msg.RoomID, models.Event{Type: models.EventMessageDeleted, Data: payload})
	}
	observability.AddSweep("expired", len(gone))
	return len(due), len(gone), nil
}

func (c *Coordinator) sweepBroadcast(ctx context.Context, roomID int64, ev models.Event) {
	if err := c.registry.SendToRoom(ctx, roomID, ev, 0); err != nil {
		log.Printf("sweep fan-out failed room_id=%d event=%s err=%v", roomID, ev.Type, err)
	}
}
