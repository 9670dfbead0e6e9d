package coordinator

import (
	"context"
	"fmt"
	"time"

	"chat-engine/internal/chaterr"
	"chat-engine/internal/models"
	"chat-engine/internal/repositories"
)

const (
	DefaultAnalyticsDays = 7
	MaxAnalyticsDays     = 90
)

// DailyAnalytics is one UTC day of room activity.
type DailyAnalytics struct {
	Date           string `json:"date"`
	TotalMessages  int    `json:"total_messages"`
	TextMessages   int    `json:"text_messages"`
	MediaMessages  int    `json:"media_messages"`
	FileMessages   int    `json:"file_messages"`
	ActiveUsers    int    `json:"active_users"`
	NewMembers     int    `json:"new_members"`
	TotalReactions int    `json:"total_reactions"`
	TotalReplies   int    `json:"total_replies"`
}

// Analytics summarizes the last days of a room, newest day first. Only owners and admins may
// look. Deleted messages are not counted.
func (c *Coordinator) Analytics(ctx context.Context, userID, roomID int64, days int) ([]DailyAnalytics, error) {
	if days <= 0 {
		days = DefaultAnalyticsDays
	}
	if days > MaxAnalyticsDays {
		return nil, fmt.Errorf("%w: at most %d days", chaterr.ErrInvalidAction, MaxAnalyticsDays)
	}
	_, m, err := c.requireActive(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if m.Role != models.RoleOwner && m.Role != models.RoleAdmin {
		return nil, fmt.Errorf("%w: analytics are for owners and admins", chaterr.ErrForbidden)
	}

	now := c.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	since := today.AddDate(0, 0, -(days - 1))

	out := make([]DailyAnalytics, days)
	index := make(map[string]int, days)
	for i := range out {
		date := today.AddDate(0, 0, -i).Format(time.DateOnly)
		out[i].Date = date
		index[date] = i
	}
	day := func(t time.Time) (*DailyAnalytics, bool) {
		i, ok := index[t.UTC().Format(time.DateOnly)]
		if !ok {
			return nil, false
		}
		return &out[i], true
	}

	active := make([]map[int64]struct{}, days)
	it := repositories.NewHistoryIterator(c.messages, roomID, 0, repositories.MaxPageSize)
walk:
	for {
		page, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		for _, msg := range page {
			if msg.CreatedAt.Before(since) {
				break walk
			}
			d, ok := day(msg.CreatedAt)
			if !ok || msg.Deleted() {
				continue
			}
			d.TotalMessages++
			switch msg.Content.Type {
			case models.ContentText:
				d.TextMessages++
			case models.ContentImage, models.ContentAudio, models.ContentVideo:
				d.MediaMessages++
			case models.ContentFile:
				d.FileMessages++
			}
			if msg.ReplyToID != nil {
				d.TotalReplies++
			}
			i := index[d.Date]
			if active[i] == nil {
				active[i] = make(map[int64]struct{})
			}
			active[i][msg.SenderID] = struct{}{}
		}
	}
	for i := range out {
		out[i].ActiveUsers = len(active[i])
	}

	members, err := c.members.ActiveMembers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	for _, member := range members {
		if d, ok := day(member.JoinedAt); ok {
			d.NewMembers++
		}
	}
	reactions, err := c.messages.RoomReactions(ctx, roomID)
	if err != nil {
		return nil, err
	}
	for _, r := range reactions {
		if d, ok := day(r.CreatedAt); ok {
			d.TotalReactions++
		}
	}
	return out, nil
}
