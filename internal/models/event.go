package models

import (
	"encoding/json"
	"time"
)

// ActionType names an inbound client action.
type ActionType string

const (
	ActionJoinRoom       ActionType = "join_room"
	ActionLeaveRoom      ActionType = "leave_room"
	ActionTyping         ActionType = "typing"
	ActionPing           ActionType = "ping"
	ActionSendMessage    ActionType = "send_message"
	ActionEditMessage    ActionType = "edit_message"
	ActionDeleteMessage  ActionType = "delete_message"
	ActionReact          ActionType = "react"
	ActionMarkRead       ActionType = "mark_read"
	ActionForwardMessage ActionType = "forward_message"
	ActionPinMessage     ActionType = "pin_message"
)

// Action is the inbound envelope. ID is an optional client correlation id echoed on replies.
type Action struct {
	Type ActionType      `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// EventType names an outbound event.
type EventType string

const (
	EventNewMessage            EventType = "new_message"
	EventMessageEdited         EventType = "message_edited"
	EventMessageDeleted        EventType = "message_deleted"
	EventReactionChanged       EventType = "reaction_changed"
	EventTypingIndicator       EventType = "typing_indicator"
	EventPresenceUpdate        EventType = "presence_update"
	EventReadReceipt           EventType = "read_receipt"
	EventMembershipChanged     EventType = "membership_changed"
	EventError                 EventType = "error"
	EventConnectionEstablished EventType = "connection_established"
	EventRoomJoined            EventType = "room_joined"
	EventMessagePinned         EventType = "message_pinned"
	EventAck                   EventType = "ack"
	EventPong                  EventType = "pong"
	EventRoomUpdated           EventType = "room_updated"
	EventUserJoinedRoom        EventType = "user_joined_room"
	EventUserLeftRoom          EventType = "user_left_room"
)

// Ephemeral reports whether the event only matters to a live connection.
// Ephemeral events are never handed to the offline notifier.
func (t EventType) Ephemeral() bool {
	switch t {
	case EventTypingIndicator, EventPresenceUpdate, EventUserJoinedRoom, EventUserLeftRoom:
		return true
	}
	return false
}

// Event is the outbound envelope.
type Event struct {
	Type EventType `json:"type"`
	ID   string    `json:"id,omitempty"`
	Data any       `json:"data"`
}

// Inbound payloads.

type RoomRef struct {
	RoomID int64 `json:"room_id"`
}

type TypingData struct {
	RoomID   int64 `json:"room_id"`
	IsTyping bool  `json:"is_typing"`
}

type SendMessageData struct {
	RoomID       int64      `json:"room_id"`
	Content      Content    `json:"content"`
	ReplyToID    *int64     `json:"reply_to_id,omitempty"`
	ScheduledAt  *time.Time `json:"scheduled_send_at,omitempty"`
	AutoDeleteAt *time.Time `json:"auto_delete_at,omitempty"`
}

type EditMessageData struct {
	MessageID int64   `json:"message_id"`
	Content   Content `json:"content"`
}

type MessageRef struct {
	MessageID int64 `json:"message_id"`
}

type ReactData struct {
	MessageID int64  `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type ForwardMessageData struct {
	MessageID int64 `json:"message_id"`
	ToRoomID  int64 `json:"to_room_id"`
}

type PinMessageData struct {
	MessageID int64 `json:"message_id"`
	Pinned    bool  `json:"pinned"`
}

// Outbound payloads.

type MessageDeletedPayload struct {
	RoomID    int64     `json:"room_id"`
	MessageID int64     `json:"message_id"`
	DeletedBy int64     `json:"deleted_by,omitempty"`
	DeletedAt time.Time `json:"deleted_at"`
}

type ReactionChangedPayload struct {
	RoomID    int64  `json:"room_id"`
	MessageID int64  `json:"message_id"`
	UserID    int64  `json:"user_id"`
	Emoji     string `json:"emoji"`
	Added     bool   `json:"added"`
}

type TypingPayload struct {
	RoomID   int64 `json:"room_id"`
	UserID   int64 `json:"user_id"`
	IsTyping bool  `json:"is_typing"`
}

type PresencePayload struct {
	UserID        int64      `json:"user_id"`
	Online        bool       `json:"online"`
	LastSeen      *time.Time `json:"last_seen,omitempty"`
	StatusMessage string     `json:"status_message,omitempty"`
}

// RoomPresencePayload announces a user opening or closing a room view.
type RoomPresencePayload struct {
	RoomID int64     `json:"room_id"`
	UserID int64     `json:"user_id"`
	At     time.Time `json:"timestamp"`
}

type RoomUpdatedPayload struct {
	Room      Room  `json:"room"`
	UpdatedBy int64 `json:"updated_by"`
}

type ReadReceiptPayload struct {
	RoomID    int64     `json:"room_id"`
	MessageID int64     `json:"message_id"`
	UserID    int64     `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

// MembershipChange names what happened to a membership.
type MembershipChange string

const (
	MemberAdded        MembershipChange = "added"
	MemberRemoved      MembershipChange = "removed"
	MemberLeft         MembershipChange = "left"
	MemberBlocked      MembershipChange = "blocked"
	MemberRoleChanged  MembershipChange = "role_changed"
	MemberPermsChanged MembershipChange = "permissions_changed"
	MemberMuted        MembershipChange = "muted"
	MemberUnmuted      MembershipChange = "unmuted"
	RoomCreated        MembershipChange = "room_created"
	RoomDeleted        MembershipChange = "room_deleted"
)

type MembershipChangedPayload struct {
	RoomID     int64            `json:"room_id"`
	Change     MembershipChange `json:"change"`
	ActorID    int64            `json:"actor_id"`
	Membership *Membership      `json:"membership,omitempty"`
}

type MessagePinnedPayload struct {
	RoomID    int64 `json:"room_id"`
	MessageID int64 `json:"message_id"`
	Pinned    bool  `json:"pinned"`
	By        int64 `json:"by"`
}

type RoomJoinedPayload struct {
	Room        Room            `json:"room"`
	Membership  Membership      `json:"membership"`
	Pinned      []PinnedMessage `json:"pinned"`
	UnreadCount int             `json:"unread_count"`
}

type ConnectionEstablishedPayload struct {
	ConnectionID string `json:"connection_id"`
	UserID       int64  `json:"user_id"`
}

type ErrorPayload struct {
	Kind   string     `json:"kind"`
	Reason string     `json:"reason"`
	Action ActionType `json:"action,omitempty"`
}

type AckPayload struct {
	Action    ActionType `json:"action"`
	MessageID int64      `json:"message_id,omitempty"`
	Message   *Message   `json:"message,omitempty"`
}

// NotificationSummary is handed to the notification collaborator for offline recipients.
type NotificationSummary struct {
	UserID    int64     `json:"user_id"`
	EventType EventType `json:"event_type"`
	RoomID    int64     `json:"room_id,omitempty"`
	MessageID int64     `json:"message_id,omitempty"`
	SenderID  int64     `json:"sender_id,omitempty"`
	Preview   string    `json:"preview,omitempty"`
}

const previewLimit = 80

// Summarize reduces ev to what a push notification needs for userID.
func Summarize(userID int64, ev Event) NotificationSummary {
	summary := NotificationSummary{UserID: userID, EventType: ev.Type}
	switch data := ev.Data.(type) {
	case Message:
		summary.RoomID = data.RoomID
		summary.MessageID = data.ID
		summary.SenderID = data.SenderID
		summary.Preview = preview(data.Content)
	case MessageDeletedPayload:
		summary.RoomID = data.RoomID
		summary.MessageID = data.MessageID
	case ReactionChangedPayload:
		summary.RoomID = data.RoomID
		summary.MessageID = data.MessageID
		summary.SenderID = data.UserID
	case ReadReceiptPayload:
		summary.RoomID = data.RoomID
		summary.MessageID = data.MessageID
	case TypingPayload:
		summary.RoomID = data.RoomID
		summary.SenderID = data.UserID
	case MembershipChangedPayload:
		summary.RoomID = data.RoomID
		summary.SenderID = data.ActorID
	case MessagePinnedPayload:
		summary.RoomID = data.RoomID
		summary.MessageID = data.MessageID
	case RoomUpdatedPayload:
		summary.RoomID = data.Room.ID
		summary.SenderID = data.UpdatedBy
	}
	return summary
}

func preview(c Content) string {
	if c.Type != ContentText {
		if c.Type == "" {
			return ""
		}
		return "[" + string(c.Type) + "]"
	}
	runes := []rune(c.Body)
	if len(runes) > previewLimit {
		return string(runes[:previewLimit]) + "…"
	}
	return c.Body
}
