package coordinator

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"chat-engine/internal/chaterr"
	"chat-engine/internal/models"
)

// MaxStatusLength bounds a status message, in characters.
const MaxStatusLength = 140

// SetStatus replaces the user's status message and tells everyone sharing a room with them.
func (c *Coordinator) SetStatus(ctx context.Context, userID int64, status string) (models.Presence, error) {
	out := c.operation(ctx, "set_status", userID, 0)
	status = strings.TrimSpace(status)
	if utf8.RuneCountInString(status) > MaxStatusLength {
		err := fmt.Errorf("%w: status exceeds %d characters", chaterr.ErrInvalidAction, MaxStatusLength)
		c.finish(ctx, out, err)
		return models.Presence{}, err
	}
	p := c.presence.SetStatus(ctx, userID, status)
	out.Stage = StageApplied
	c.registry.AnnouncePresence(ctx, p)
	out.Stage = StageBroadcast
	c.finish(ctx, out, nil)
	return p, nil
}
