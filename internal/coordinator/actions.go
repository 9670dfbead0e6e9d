package coordinator

import (
	"context"
	"fmt"
	"log"
	"strings"

	"chat-engine/internal/chaterr"
	"chat-engine/internal/models"
	"chat-engine/internal/repositories"
	"chat-engine/internal/ws"
)

// action carries one inbound action through its stages.
type action struct {
	c    *Coordinator
	sess ws.Session
	act  models.Action
	out  Outcome
	// result is the action's direct answer, handed back to callers without a connection.
	result any
}

func (r *action) dispatch(ctx context.Context) error {
	switch r.act.Type {
	case models.ActionJoinRoom:
		return r.joinRoom(ctx)
	case models.ActionLeaveRoom:
		return r.leaveRoom(ctx)
	case models.ActionTyping:
		return r.typing(ctx)
	case models.ActionPing:
		return r.reply(ctx, models.EventPong, nil)
	case models.ActionSendMessage:
		return r.sendMessage(ctx)
	case models.ActionEditMessage:
		return r.editMessage(ctx)
	case models.ActionDeleteMessage:
		return r.deleteMessage(ctx)
	case models.ActionReact:
		return r.react(ctx)
	case models.ActionMarkRead:
		return r.markRead(ctx)
	case models.ActionForwardMessage:
		return r.forwardMessage(ctx)
	case models.ActionPinMessage:
		return r.pinMessage(ctx)
	default:
		return fmt.Errorf("%w: unknown action type %q", chaterr.ErrInvalidAction, r.act.Type)
	}
}

// reply answers on the originating connection only.
func (r *action) reply(ctx context.Context, typ models.EventType, data any) error {
	if r.sess.ConnID == "" {
		r.out.Stage = StageAcknowledged
		return nil
	}
	ev := models.Event{Type: typ, ID: r.act.ID, Data: data}
	if err := r.c.registry.SendToConnection(ctx, r.sess.ConnID, ev); err != nil {
		return err
	}
	r.out.Stage = StageAcknowledged
	return nil
}

// acknowledge confirms a broadcast action when the client asked for correlation.
func (r *action) acknowledge(ctx context.Context, messageID int64) error {
	if r.act.ID == "" {
		return nil
	}
	return r.reply(ctx, models.EventAck, models.AckPayload{Action: r.act.Type, MessageID: messageID})
}

func (r *action) broadcast(ctx context.Context, roomID int64, ev models.Event, exclude int64) {
	if err := r.c.registry.SendToRoom(ctx, roomID, ev, exclude); err != nil {
		log.Printf("room fan-out failed room_id=%d event=%s err=%v", roomID, ev.Type, err)
		return
	}
	r.out.Stage = StageBroadcast
}

func (r *action) throttle(ctx context.Context) error {
	if r.c.limiter == nil {
		return nil
	}
	ok, err := r.c.limiter.Allow(ctx, r.sess.UserID, string(r.act.Type))
	if err != nil {
		log.Printf("rate limiter unavailable user_id=%d action=%s err=%v", r.sess.UserID, r.act.Type, err)
		return nil
	}
	if !ok {
		return fmt.Errorf("%w: too many %s actions", chaterr.ErrRateLimited, r.act.Type)
	}
	return nil
}

// message resolves the target message and records it on the outcome.
func (r *action) message(ctx context.Context, messageID int64) (models.Message, models.Membership, error) {
	r.out.MessageID = messageID
	msg, m, err := r.c.visibleMessage(ctx, messageID, r.sess.UserID)
	if err != nil {
		return models.Message{}, models.Membership{}, err
	}
	r.out.RoomID = msg.RoomID
	return msg, m, nil
}

func (r *action) joinRoom(ctx context.Context) error {
	d, err := decode[models.RoomRef](r.act)
	if err != nil {
		return err
	}
	r.out.RoomID = d.RoomID
	room, m, err := r.c.requireActive(ctx, d.RoomID, r.sess.UserID)
	if err != nil {
		return err
	}
	r.out.Stage = StageAuthorized

	pins, err := r.c.messages.Pinned(ctx, room.ID)
	if err != nil {
		return err
	}
	unread, err := r.c.messages.UnreadCount(ctx, room.ID, r.sess.UserID)
	if err != nil {
		return err
	}
	r.out.Stage = StageApplied
	r.announceView(ctx, room.ID, models.EventUserJoinedRoom)
	joined := models.RoomJoinedPayload{
		Room:        room,
		Membership:  m,
		Pinned:      pins,
		UnreadCount: unread,
	}
	r.result = joined
	return r.reply(ctx, models.EventRoomJoined, joined)
}

func (r *action) leaveRoom(ctx context.Context) error {
	d, err := decode[models.RoomRef](r.act)
	if err != nil {
		return err
	}
	r.out.RoomID = d.RoomID
	if _, _, err := r.c.requireActive(ctx, d.RoomID, r.sess.UserID); err != nil {
		return err
	}
	r.out.Stage = StageAuthorized
	if r.c.presence.ClearTyping(r.sess.UserID, d.RoomID) {
		r.c.broadcastTyping(ctx, d.RoomID, r.sess.UserID, false)
	}
	r.out.Stage = StageApplied
	r.announceView(ctx, d.RoomID, models.EventUserLeftRoom)
	return r.reply(ctx, models.EventAck, models.AckPayload{Action: r.act.Type})
}

// announceView tells the rest of the room that the user opened or closed it.
func (r *action) announceView(ctx context.Context, roomID int64, typ models.EventType) {
	r.broadcast(ctx, roomID, models.Event{Type: typ, Data: models.RoomPresencePayload{
		RoomID: roomID,
		UserID: r.sess.UserID,
		At:     r.c.now(),
	}}, r.sess.UserID)
}

func (r *action) typing(ctx context.Context) error {
	d, err := decode[models.TypingData](r.act)
	if err != nil {
		return err
	}
	r.out.RoomID = d.RoomID
	if _, _, err := r.c.requireActive(ctx, d.RoomID, r.sess.UserID); err != nil {
		return err
	}
	r.out.Stage = StageAuthorized

	if !d.IsTyping {
		if r.c.presence.ClearTyping(r.sess.UserID, d.RoomID) {
			r.out.Stage = StageApplied
			r.c.broadcastTyping(ctx, d.RoomID, r.sess.UserID, false)
			r.out.Stage = StageBroadcast
		}
		return nil
	}

	prev := r.c.presence.SetTyping(r.sess.UserID, d.RoomID)
	r.out.Stage = StageApplied
	if prev != 0 && prev != d.RoomID {
		r.c.broadcastTyping(ctx, prev, r.sess.UserID, false)
	}
	r.c.broadcastTyping(ctx, d.RoomID, r.sess.UserID, true)
	r.out.Stage = StageBroadcast
	return nil
}

func (r *action) sendMessage(ctx context.Context) error {
	d, err := decode[models.SendMessageData](r.act)
	if err != nil {
		return err
	}
	r.out.RoomID = d.RoomID
	if !d.Content.Type.Valid() {
		return fmt.Errorf("%w: unsupported content type %q", chaterr.ErrInvalidAction, d.Content.Type)
	}
	if err := repositories.CheckSchedule(r.c.now(), d.ScheduledAt, d.AutoDeleteAt); err != nil {
		return err
	}
	room, m, err := r.c.requireActive(ctx, d.RoomID, r.sess.UserID)
	if err != nil {
		return err
	}
	if err := requireCapability(m, models.CapSendMessage); err != nil {
		return err
	}
	if err := r.throttle(ctx); err != nil {
		return err
	}
	r.out.Stage = StageAuthorized

	autoDelete := d.AutoDeleteAt
	if autoDelete == nil && room.Settings.AutoDeleteAfter() > 0 {
		base := r.c.now()
		if d.ScheduledAt != nil && d.ScheduledAt.After(base) {
			base = *d.ScheduledAt
		}
		at := base.Add(room.Settings.AutoDeleteAfter())
		autoDelete = &at
	}

	msg, err := r.c.messages.Append(ctx, repositories.AppendParams{
		RoomID:       d.RoomID,
		SenderID:     r.sess.UserID,
		Content:      d.Content,
		ReplyToID:    d.ReplyToID,
		ScheduledAt:  d.ScheduledAt,
		AutoDeleteAt: autoDelete,
	})
	if err != nil {
		return err
	}
	r.out.MessageID = msg.ID
	r.out.Stage = StageApplied
	r.result = msg

	if msg.Pending {
		return r.reply(ctx, models.EventAck, models.AckPayload{Action: r.act.Type, MessageID: msg.ID, Message: &msg})
	}

	if r.c.presence.ClearTyping(r.sess.UserID, d.RoomID) {
		r.c.broadcastTyping(ctx, d.RoomID, r.sess.UserID, false)
	}
	r.broadcast(ctx, d.RoomID, models.Event{Type: models.EventNewMessage, Data: msg}, 0)
	return r.acknowledge(ctx, msg.ID)
}

func (r *action) editMessage(ctx context.Context) error {
	d, err := decode[models.EditMessageData](r.act)
	if err != nil {
		return err
	}
	if !d.Content.Type.Valid() {
		return fmt.Errorf("%w: unsupported content type %q", chaterr.ErrInvalidAction, d.Content.Type)
	}
	msg, _, err := r.message(ctx, d.MessageID)
	if err != nil {
		return err
	}
	if msg.SenderID != r.sess.UserID {
		return fmt.Errorf("%w: only the sender may edit message %d", chaterr.ErrForbidden, msg.ID)
	}
	if msg.Deleted() {
		return fmt.Errorf("%w: message %d", chaterr.ErrAlreadyDeleted, msg.ID)
	}
	if w := r.c.cfg.EditWindow; w > 0 && r.c.now().Sub(msg.CreatedAt) > w {
		return fmt.Errorf("%w: message %d can no longer be edited", chaterr.ErrForbidden, msg.ID)
	}
	if err := r.throttle(ctx); err != nil {
		return err
	}
	r.out.Stage = StageAuthorized

	updated, err := r.c.messages.Edit(ctx, msg.ID, r.sess.UserID, d.Content)
	if err != nil {
		return err
	}
	r.out.Stage = StageApplied
	r.result = updated

	if updated.Pending {
		return r.reply(ctx, models.EventAck, models.AckPayload{Action: r.act.Type, MessageID: updated.ID, Message: &updated})
	}
	r.broadcast(ctx, updated.RoomID, models.Event{Type: models.EventMessageEdited, Data: updated}, 0)
	return r.acknowledge(ctx, updated.ID)
}

func (r *action) deleteMessage(ctx context.Context) error {
	d, err := decode[models.MessageRef](r.act)
	if err != nil {
		return err
	}
	msg, m, err := r.message(ctx, d.MessageID)
	if err != nil {
		return err
	}
	if msg.SenderID != r.sess.UserID {
		if err := requireCapability(m, models.CapDeleteAnyMessage); err != nil {
			return err
		}
	}
	r.out.Stage = StageAuthorized

	deleted, changed, err := r.c.messages.SoftDelete(ctx, msg.ID, r.sess.UserID)
	if err != nil {
		return err
	}
	r.out.Stage = StageApplied
	r.result = deleted.Redacted()
	if !changed || msg.Pending {
		return r.reply(ctx, models.EventAck, models.AckPayload{Action: r.act.Type, MessageID: msg.ID})
	}

	payload := models.MessageDeletedPayload{RoomID: deleted.RoomID, MessageID: deleted.ID, DeletedBy: r.sess.UserID}
	if deleted.DeletedAt != nil {
		payload.DeletedAt = *deleted.DeletedAt
	}
	r.broadcast(ctx, deleted.RoomID, models.Event{Type: models.EventMessageDeleted, Data: payload}, 0)
	return r.acknowledge(ctx, deleted.ID)
}

func (r *action) react(ctx context.Context) error {
	d, err := decode[models.ReactData](r.act)
	if err != nil {
		return err
	}
	emoji := strings.TrimSpace(d.Emoji)
	if emoji == "" {
		return fmt.Errorf("%w: react needs an emoji", chaterr.ErrInvalidAction)
	}
	msg, _, err := r.message(ctx, d.MessageID)
	if err != nil {
		return err
	}
	if err := r.throttle(ctx); err != nil {
		return err
	}
	r.out.Stage = StageAuthorized

	_, added, err := r.c.messages.ToggleReaction(ctx, msg.ID, r.sess.UserID, emoji)
	if err != nil {
		return err
	}
	r.out.Stage = StageApplied
	changed := models.ReactionChangedPayload{
		RoomID:    msg.RoomID,
		MessageID: msg.ID,
		UserID:    r.sess.UserID,
		Emoji:     emoji,
		Added:     added,
	}
	r.result = changed
	r.broadcast(ctx, msg.RoomID, models.Event{Type: models.EventReactionChanged, Data: changed}, 0)
	return r.acknowledge(ctx, msg.ID)
}

func (r *action) markRead(ctx context.Context) error {
	d, err := decode[models.MessageRef](r.act)
	if err != nil {
		return err
	}
	msg, _, err := r.message(ctx, d.MessageID)
	if err != nil {
		return err
	}
	r.out.Stage = StageAuthorized

	receipt, changed, err := r.c.messages.MarkRead(ctx, msg.ID, r.sess.UserID, r.c.now())
	if err != nil {
		return err
	}
	r.out.Stage = StageApplied
	r.result = receipt
	if !changed {
		return r.reply(ctx, models.EventAck, models.AckPayload{Action: r.act.Type, MessageID: msg.ID})
	}
	r.broadcast(ctx, msg.RoomID, models.Event{Type: models.EventReadReceipt, Data: models.ReadReceiptPayload{
		RoomID:    msg.RoomID,
		MessageID: msg.ID,
		UserID:    r.sess.UserID,
		ReadAt:    receipt.ReadAt,
	}}, 0)
	return r.acknowledge(ctx, msg.ID)
}

func (r *action) forwardMessage(ctx context.Context) error {
	d, err := decode[models.ForwardMessageData](r.act)
	if err != nil {
		return err
	}
	src, _, err := r.message(ctx, d.MessageID)
	if err != nil {
		return err
	}
	r.out.RoomID = d.ToRoomID
	_, target, err := r.c.requireActive(ctx, d.ToRoomID, r.sess.UserID)
	if err != nil {
		return err
	}
	if err := requireCapability(target, models.CapSendMessage); err != nil {
		return err
	}
	if err := r.throttle(ctx); err != nil {
		return err
	}
	r.out.Stage = StageAuthorized

	fwd, err := r.c.messages.Forward(ctx, src.ID, r.sess.UserID, d.ToRoomID)
	if err != nil {
		return err
	}
	r.out.MessageID = fwd.ID
	r.out.Stage = StageApplied
	r.result = fwd
	r.broadcast(ctx, fwd.RoomID, models.Event{Type: models.EventNewMessage, Data: fwd}, 0)
	return r.acknowledge(ctx, fwd.ID)
}

func (r *action) pinMessage(ctx context.Context) error {
	d, err := decode[models.PinMessageData](r.act)
	if err != nil {
		return err
	}
	msg, m, err := r.message(ctx, d.MessageID)
	if err != nil {
		return err
	}
	if err := requireCapability(m, models.CapPinMessage); err != nil {
		return err
	}
	r.out.Stage = StageAuthorized
	pinned := models.MessagePinnedPayload{RoomID: msg.RoomID, MessageID: msg.ID, Pinned: d.Pinned, By: r.sess.UserID}
	r.result = pinned

	if d.Pinned {
		if _, err := r.c.messages.Pin(ctx, msg.ID, r.sess.UserID); err != nil {
			return err
		}
	} else {
		changed, err := r.c.messages.Unpin(ctx, msg.ID, r.sess.UserID)
		if err != nil {
			return err
		}
		if !changed {
			r.out.Stage = StageApplied
			return r.reply(ctx, models.EventAck, models.AckPayload{Action: r.act.Type, MessageID: msg.ID})
		}
	}
	r.out.Stage = StageApplied
	r.broadcast(ctx, msg.RoomID, models.Event{Type: models.EventMessagePinned, Data: pinned}, 0)
	return r.acknowledge(ctx, msg.ID)
}
