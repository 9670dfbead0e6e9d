package coordinator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"chat-engine/internal/chaterr"
	"chat-engine/internal/models"
	"chat-engine/internal/repositories"
)

// RoomSummary is one entry of a user's room list.
type RoomSummary struct {
	models.Room
	LastMessage  *models.Message `json:"last_message,omitempty"`
	UnreadCount  int             `json:"unread_count"`
	LastActivity time.Time       `json:"last_activity"`
}

// Rooms lists the rooms userID is an active member of, most recently active first.
func (c *Coordinator) Rooms(ctx context.Context, userID int64) ([]RoomSummary, error) {
	rooms, err := c.members.RoomsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		summary := RoomSummary{Room: room, LastActivity: room.CreatedAt}
		last, err := c.messages.List(ctx, room.ID, 0, 1)
		if err != nil {
			return nil, err
		}
		if len(last) > 0 {
			m := last[0].Redacted()
			summary.LastMessage = &m
			summary.LastActivity = m.CreatedAt
		}
		if summary.UnreadCount, err = c.messages.UnreadCount(ctx, room.ID, userID); err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// RoomDetails is a room as seen by one of its members.
type RoomDetails struct {
	Room       models.Room         `json:"room"`
	Membership models.Membership   `json:"membership"`
	Members    []models.Membership `json:"members"`
}

// Room returns the room with its active members.
func (c *Coordinator) Room(ctx context.Context, userID, roomID int64) (RoomDetails, error) {
	room, m, err := c.requireActive(ctx, roomID, userID)
	if err != nil {
		return RoomDetails{}, err
	}
	members, err := c.members.ActiveMembers(ctx, roomID)
	if err != nil {
		return RoomDetails{}, err
	}
	return RoomDetails{Room: room, Membership: m, Members: members}, nil
}

// Messages pages through a room's history, newest first.
func (c *Coordinator) Messages(ctx context.Context, userID, roomID, beforeID int64, limit int) ([]models.Message, error) {
	if _, _, err := c.requireActive(ctx, roomID, userID); err != nil {
		return nil, err
	}
	page, err := c.messages.List(ctx, roomID, beforeID, limit)
	if err != nil {
		return nil, err
	}
	for i := range page {
		page[i] = page[i].Redacted()
	}
	return page, nil
}

// Search runs p over the rooms userID belongs to. p.RoomIDs, when set, narrows that set.
func (c *Coordinator) Search(ctx context.Context, userID int64, p repositories.SearchParams) ([]models.Message, error) {
	rooms, err := c.members.RoomsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	allowed := make(map[int64]bool, len(rooms))
	for _, r := range rooms {
		allowed[r.ID] = true
	}

	var scope []int64
	if len(p.RoomIDs) == 0 {
		for _, r := range rooms {
			scope = append(scope, r.ID)
		}
	} else {
		for _, id := range p.RoomIDs {
			if !allowed[id] {
				return nil, fmt.Errorf("%w: user %d is not an active member of room %d", chaterr.ErrForbidden, userID, id)
			}
			scope = append(scope, id)
		}
	}
	if len(scope) == 0 {
		return []models.Message{}, nil
	}
	p.RoomIDs = scope
	return c.messages.Search(ctx, p)
}

// EditHistory returns the previous versions of a message. Deleted messages have none.
func (c *Coordinator) EditHistory(ctx context.Context, userID, messageID int64) ([]models.MessageEditHistory, error) {
	msg, _, err := c.visibleMessage(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	if msg.Deleted() {
		return []models.MessageEditHistory{}, nil
	}
	return c.messages.EditHistory(ctx, messageID)
}

// Reactions lists the reactions on a message.
func (c *Coordinator) Reactions(ctx context.Context, userID, messageID int64) ([]models.Reaction, error) {
	if _, _, err := c.visibleMessage(ctx, messageID, userID); err != nil {
		return nil, err
	}
	return c.messages.Reactions(ctx, messageID)
}

// Receipts lists who has read a message.
func (c *Coordinator) Receipts(ctx context.Context, userID, messageID int64) ([]models.ReadReceipt, error) {
	if _, _, err := c.visibleMessage(ctx, messageID, userID); err != nil {
		return nil, err
	}
	return c.messages.ReadReceipts(ctx, messageID)
}

// Pinned lists a room's pinned messages.
func (c *Coordinator) Pinned(ctx context.Context, userID, roomID int64) ([]models.PinnedMessage, error) {
	if _, _, err := c.requireActive(ctx, roomID, userID); err != nil {
		return nil, err
	}
	return c.messages.Pinned(ctx, roomID)
}

// Presence returns targetID's presence. Only users sharing a room with the target may look.
func (c *Coordinator) Presence(ctx context.Context, userID, targetID int64) (models.Presence, error) {
	if userID != targetID {
		shared, err := c.shareRoom(ctx, userID, targetID)
		if err != nil {
			return models.Presence{}, err
		}
		if !shared {
			return models.Presence{}, fmt.Errorf("%w: no room shared with user %d", chaterr.ErrForbidden, targetID)
		}
	}
	return c.presence.Get(ctx, targetID), nil
}

func (c *Coordinator) shareRoom(ctx context.Context, a, b int64) (bool, error) {
	rooms, err := c.members.RoomsForUser(ctx, a)
	if err != nil {
		return false, err
	}
	for _, r := range rooms {
		m, err := c.members.GetMembership(ctx, r.ID, b)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return false, err
		}
		if m.Active() {
			return true, nil
		}
	}
	return false, nil
}
