package coordinator

import (
	"context"
	"log"

	"chat-engine/internal/models"
	"chat-engine/internal/repositories"
)

// CreateRoom creates a room with p.Creator as its owner and tells every initial member.
func (c *Coordinator) CreateRoom(ctx context.Context, p repositories.CreateRoomParams) (models.Room, []models.Membership, error) {
	out := c.operation(ctx, "create_room", p.Creator.UserID, 0)
	room, members, err := c.members.CreateRoom(ctx, p)
	if err != nil {
		c.finish(ctx, out, err)
		return models.Room{}, nil, err
	}
	out.RoomID = room.ID
	out.Stage = StageApplied
	c.announce(ctx, out, room.ID, models.RoomCreated, p.Creator.UserID, nil)
	c.finish(ctx, out, nil)
	return room, members, nil
}

// DeleteRoom removes the room, its memberships and its message log. Members are told before
// the membership snapshot disappears.
func (c *Coordinator) DeleteRoom(ctx context.Context, actorID, roomID int64) error {
	out := c.operation(ctx, "delete_room", actorID, roomID)
	members, err := c.members.ActiveMembers(ctx, roomID)
	if err != nil {
		c.finish(ctx, out, err)
		return err
	}
	if err := c.members.DeleteRoom(ctx, roomID, actorID); err != nil {
		c.finish(ctx, out, err)
		return err
	}
	out.Stage = StageApplied
	if err := c.messages.PurgeRoom(ctx, roomID); err != nil {
		log.Printf("purge room failed room_id=%d err=%v", roomID, err)
	}

	ev := changedEvent(roomID, models.RoomDeleted, actorID, nil)
	for _, m := range members {
		c.presence.ClearTyping(m.UserID, roomID)
		_ = c.registry.SendToUser(ctx, m.UserID, ev)
	}
	out.Stage = StageBroadcast
	c.finish(ctx, out, nil)
	return nil
}

// AddMember adds or re-activates member.
func (c *Coordinator) AddMember(ctx context.Context, actorID, roomID int64, member models.Identity) (models.Membership, error) {
	out := c.operation(ctx, "add_member", actorID, roomID)
	m, err := c.members.AddMember(ctx, roomID, actorID, member)
	if err != nil {
		c.finish(ctx, out, err)
		return models.Membership{}, err
	}
	out.Stage = StageApplied
	c.announce(ctx, out, roomID, models.MemberAdded, actorID, &m)
	c.finish(ctx, out, nil)
	return m, nil
}

// RemoveMember removes userID from the room. Removing oneself is leaving; block keeps the user
// from being re-added implicitly. The removed user is told as well.
func (c *Coordinator) RemoveMember(ctx context.Context, actorID, roomID, userID int64, block bool) (models.Membership, error) {
	name := "remove_member"
	change := models.MemberRemoved
	switch {
	case block:
		name, change = "block_member", models.MemberBlocked
	case actorID == userID:
		name, change = "leave", models.MemberLeft
	}

	out := c.operation(ctx, name, actorID, roomID)
	m, err := c.members.RemoveMember(ctx, roomID, actorID, userID, block)
	if err != nil {
		c.finish(ctx, out, err)
		return models.Membership{}, err
	}
	out.Stage = StageApplied

	if c.presence.ClearTyping(userID, roomID) {
		c.broadcastTyping(ctx, roomID, userID, false)
	}
	c.announce(ctx, out, roomID, change, actorID, &m)
	_ = c.registry.SendToUser(ctx, userID, changedEvent(roomID, change, actorID, &m))
	c.finish(ctx, out, nil)
	return m, nil
}

// UpdateRole changes the role of userID.
func (c *Coordinator) UpdateRole(ctx context.Context, actorID, roomID, userID int64, role models.Role) (models.Membership, error) {
	out := c.operation(ctx, "update_role", actorID, roomID)
	m, err := c.members.UpdateRole(ctx, roomID, actorID, userID, role)
	if err != nil {
		c.finish(ctx, out, err)
		return models.Membership{}, err
	}
	out.Stage = StageApplied
	c.announce(ctx, out, roomID, models.MemberRoleChanged, actorID, &m)
	c.finish(ctx, out, nil)
	return m, nil
}

// UpdatePermissions replaces the capability set of userID.
func (c *Coordinator) UpdatePermissions(ctx context.Context, actorID, roomID, userID int64, perms models.PermissionSet) (models.Membership, error) {
	out := c.operation(ctx, "update_permissions", actorID, roomID)
	m, err := c.members.UpdatePermissions(ctx, roomID, actorID, userID, perms)
	if err != nil {
		c.finish(ctx, out, err)
		return models.Membership{}, err
	}
	out.Stage = StageApplied
	c.announce(ctx, out, roomID, models.MemberPermsChanged, actorID, &m)
	c.finish(ctx, out, nil)
	return m, nil
}

// UpdateRoom changes the room's name or settings and tells every member.
func (c *Coordinator) UpdateRoom(ctx context.Context, actorID, roomID int64, p repositories.RoomUpdate) (models.Room, error) {
	out := c.operation(ctx, "update_room", actorID, roomID)
	room, err := c.members.UpdateRoom(ctx, roomID, actorID, p)
	if err != nil {
		c.finish(ctx, out, err)
		return models.Room{}, err
	}
	out.Stage = StageApplied
	ev := models.Event{Type: models.EventRoomUpdated, Data: models.RoomUpdatedPayload{Room: room, UpdatedBy: actorID}}
	if err := c.registry.SendToRoom(ctx, roomID, ev, 0); err != nil {
		log.Printf("room update fan-out failed room_id=%d err=%v", roomID, err)
	} else {
		out.Stage = StageBroadcast
	}
	c.finish(ctx, out, nil)
	return room, nil
}

// SetMuted silences offline notifications from the room for userID. Muting is private, so only
// the user's own live connections hear about it.
func (c *Coordinator) SetMuted(ctx context.Context, userID, roomID int64, muted bool) (models.Membership, error) {
	name, change := "mute_room", models.MemberMuted
	if !muted {
		name, change = "unmute_room", models.MemberUnmuted
	}
	out := c.operation(ctx, name, userID, roomID)
	m, err := c.members.SetMuted(ctx, roomID, userID, muted)
	if err != nil {
		c.finish(ctx, out, err)
		return models.Membership{}, err
	}
	out.Stage = StageApplied
	if len(c.registry.Connections(userID)) > 0 {
		if err := c.registry.SendToUser(ctx, userID, changedEvent(roomID, change, userID, &m)); err == nil {
			out.Stage = StageBroadcast
		}
	}
	c.finish(ctx, out, nil)
	return m, nil
}

func (c *Coordinator) announce(ctx context.Context, out *Outcome, roomID int64, change models.MembershipChange, actorID int64, m *models.Membership) {
	if err := c.registry.SendToRoom(ctx, roomID, changedEvent(roomID, change, actorID, m), 0); err != nil {
		log.Printf("membership fan-out failed room_id=%d change=%s err=%v", roomID, change, err)
		return
	}
	out.Stage = StageBroadcast
}

func changedEvent(roomID int64, change models.MembershipChange, actorID int64, m *models.Membership) models.Event {
	return models.Event{Type: models.EventMembershipChanged, Data: models.MembershipChangedPayload{
		RoomID:     roomID,
		Change:     change,
		ActorID:    actorID,
		Membership: m,
	}}
}
