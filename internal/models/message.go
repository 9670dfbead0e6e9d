package models

import "time"

// ContentType tags the opaque message payload.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentAudio ContentType = "audio"
	ContentVideo ContentType = "video"
	ContentFile  ContentType = "file"
)

// Valid reports whether t is a known content type.
func (t ContentType) Valid() bool {
	switch t {
	case ContentText, ContentImage, ContentAudio, ContentVideo, ContentFile:
		return true
	}
	return false
}

// Content is a message payload. For media types Body is a stored reference.
type Content struct {
	Type ContentType `db:"content_type" json:"type"`
	Body string      `db:"content_body" json:"body"`
}

// Message is one entry of a room's log.
type Message struct {
	ID              int64      `db:"id" json:"id"`
	RoomID          int64      `db:"room_id" json:"room_id"`
	SenderID        int64      `db:"sender_id" json:"sender_id"`
	Content         Content    `db:"-" json:"content"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	EditedAt        *time.Time `db:"edited_at" json:"edited_at,omitempty"`
	DeletedAt       *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
	ReplyToID       *int64     `db:"reply_to_id" json:"reply_to_id,omitempty"`
	ForwardedFromID *int64     `db:"forwarded_from_id" json:"forwarded_from_id,omitempty"`
	ForwardCount    int        `db:"forward_count" json:"forward_count"`
	ScheduledAt     *time.Time `db:"scheduled_send_at" json:"scheduled_send_at,omitempty"`
	// Pending is true while a scheduled message waits for the sweep.
	Pending      bool       `db:"pending" json:"-"`
	AutoDeleteAt *time.Time `db:"auto_delete_at" json:"auto_delete_at,omitempty"`
}

// Deleted reports whether the message was soft-deleted.
func (m Message) Deleted() bool {
	return m.DeletedAt != nil
}

// MessageEditHistory stores the content a message had before one edit.
type MessageEditHistory struct {
	MessageID       int64     `db:"message_id" json:"message_id"`
	PreviousContent Content   `db:"-" json:"previous_content"`
	EditedAt        time.Time `db:"edited_at" json:"edited_at"`
}

// Reaction is one user's emoji on a message.
type Reaction struct {
	MessageID int64     `db:"message_id" json:"message_id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Emoji     string    `db:"emoji" json:"emoji"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ReadReceipt records the latest time a user read a message.
type ReadReceipt struct {
	MessageID int64     `db:"message_id" json:"message_id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	ReadAt    time.Time `db:"read_at" json:"read_at"`
}

// PinnedMessage marks a message pinned in its room.
type PinnedMessage struct {
	RoomID    int64     `db:"room_id" json:"room_id"`
	MessageID int64     `db:"message_id" json:"message_id"`
	PinnedBy  int64     `db:"pinned_by" json:"pinned_by"`
	PinnedAt  time.Time `db:"pinned_at" json:"pinned_at"`
}

// Presence is a user's connection-derived status.
type Presence struct {
	UserID        int64      `json:"user_id"`
	Online        bool       `json:"online"`
	LastSeen      *time.Time `json:"last_seen,omitempty"`
	StatusMessage string     `json:"status_message,omitempty"`
	TypingInRoom  *int64     `json:"typing_in_room,omitempty"`
}

// Now returns the current UTC time rounded to milliseconds.
func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

// Redacted returns m with its content cleared when it is deleted.
func (m Message) Redacted() Message {
	if m.Deleted() {
		m.Content = Content{}
	}
	return m
}
