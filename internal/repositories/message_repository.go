package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chat-engine/internal/chaterr"
	"chat-engine/internal/models"
)

// AppendParams describes a new message.
type AppendParams struct {
	RoomID          int64
	SenderID        int64
	Content         models.Content
	ReplyToID       *int64
	ForwardedFromID *int64
	ScheduledAt     *time.Time
	AutoDeleteAt    *time.Time
}

// SearchParams scopes a message search. RoomIDs must be non-empty.
type SearchParams struct {
	RoomIDs  []int64
	Query    string
	SenderID *int64
	Type     models.ContentType
	From     *time.Time
	To       *time.Time
	Limit    int
}

// MessageRepository is the per-room message log.
type MessageRepository interface {
	Append(ctx context.Context, p AppendParams) (models.Message, error)
	Get(ctx context.Context, messageID int64) (models.Message, error)
	Edit(ctx context.Context, messageID, actorID int64, content models.Content) (models.Message, error)
	// SoftDelete reports changed=false when the message was already deleted.
	SoftDelete(ctx context.Context, messageID, actorID int64) (models.Message, bool, error)
	Forward(ctx context.Context, messageID, actorID, toRoomID int64) (models.Message, error)
	// List returns up to limit visible messages older than beforeID (0 = newest), id descending.
	List(ctx context.Context, roomID, beforeID int64, limit int) ([]models.Message, error)
	Search(ctx context.Context, p SearchParams) ([]models.Message, error)
	EditHistory(ctx context.Context, messageID int64) ([]models.MessageEditHistory, error)

	ToggleReaction(ctx context.Context, messageID, userID int64, emoji string) (models.Reaction, bool, error)
	Reactions(ctx context.Context, messageID int64) ([]models.Reaction, error)
	RoomReactions(ctx context.Context, roomID int64) ([]models.Reaction, error)

	MarkRead(ctx context.Context, messageID, userID int64, at time.Time) (models.ReadReceipt, bool, error)
	ReadReceipts(ctx context.Context, messageID int64) ([]models.ReadReceipt, error)
	UnreadCount(ctx context.Context, roomID, userID int64) (int, error)

	Pin(ctx context.Context, messageID, actorID int64) (models.PinnedMessage, error)
	Unpin(ctx context.Context, messageID, actorID int64) (bool, error)
	Pinned(ctx context.Context, roomID int64) ([]models.PinnedMessage, error)

	PromoteDue(ctx context.Context, now time.Time) ([]models.Message, error)
	ExpireDue(ctx context.Context, now time.Time) ([]models.Message, error)
	PurgeRoom(ctx context.Context, roomID int64) error
}

const messageColumns = `id, room_id, sender_id, content_type, content_body, created_at, edited_at, deleted_at,
    reply_to_id, forwarded_from_id, forward_count, scheduled_send_at, pending, auto_delete_at`

// searchCandidates bounds the rows ranked in process for a single search.
const searchCandidates = 1000

type messageRow struct {
	models.Message
	models.Content
}

func (r messageRow) toModel() models.Message {
	m := r.Message
	m.Content = r.Content
	return m
}

func toMessages(rows []messageRow) []models.Message {
	out := make([]models.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out
}

type historyRow struct {
	MessageID    int64     `db:"message_id"`
	PreviousType string    `db:"previous_type"`
	PreviousBody string    `db:"previous_body"`
	EditedAt     time.Time `db:"edited_at"`
}

// MessageRepo is a sqlx implementation of MessageRepository. Appends lock the room row so ids
// within a room are assigned in commit order.
type MessageRepo struct {
	db   *sqlx.DB
	auth Authorizer
}

// NewMessageRepo constructs a MessageRepo that consults auth for capabilities.
func NewMessageRepo(db *sqlx.DB, auth Authorizer) *MessageRepo {
	return &MessageRepo{db: db, auth: auth}
}

func (r *MessageRepo) Append(ctx context.Context, p AppendParams) (models.Message, error) {
	if err := checkContent(p.Content); err != nil {
		return models.Message{}, err
	}
	if err := CheckSchedule(models.Now(), p.ScheduledAt, p.AutoDeleteAt); err != nil {
		return models.Message{}, err
	}
	if err := requireCapability(ctx, r.auth, p.RoomID, p.SenderID, models.CapSendMessage); err != nil {
		return models.Message{}, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer tx.Rollback()

	if _, err := lockRoom(ctx, tx, p.RoomID); err != nil {
		return models.Message{}, err
	}
	if p.ReplyToID != nil {
		var live bool
		err := tx.QueryRowxContext(ctx, `SELECT deleted_at IS NULL AND NOT pending FROM messages WHERE id=$1 AND room_id=$2`,
			*p.ReplyToID, p.RoomID).Scan(&live)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && !live) {
			return models.Message{}, fmt.Errorf("%w: reply target %d is not a live message of room %d", chaterr.ErrInvalidReference, *p.ReplyToID, p.RoomID)
		}
		if err != nil {
			return models.Message{}, err
		}
	}

	now := models.Now()
	pending := p.ScheduledAt != nil && p.ScheduledAt.After(now)
	var row messageRow
	err = tx.GetContext(ctx, &row, `INSERT INTO messages (room_id, sender_id, content_type, content_body, created_at,
            reply_to_id, forwarded_from_id, scheduled_send_at, pending, auto_delete_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING `+messageColumns,
		p.RoomID, p.SenderID, p.Content.Type, p.Content.Body, now,
		p.ReplyToID, p.ForwardedFromID, p.ScheduledAt, pending, p.AutoDeleteAt)
	if err != nil {
		return models.Message{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return row.toModel(), nil
}

func (r *MessageRepo) Get(ctx context.Context, messageID int64) (models.Message, error) {
	return getMessage(ctx, r.db, messageID, false)
}

func (r *MessageRepo) Edit(ctx context.Context, messageID, actorID int64, content models.Content) (models.Message, error) {
	if err := checkContent(content); err != nil {
		return models.Message{}, err
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer tx.Rollback()

	current, err := getMessage(ctx, tx, messageID, true)
	if err != nil {
		return models.Message{}, err
	}
	if current.SenderID != actorID {
		return models.Message{}, fmt.Errorf("%w: only the sender may edit message %d", chaterr.ErrForbidden, messageID)
	}
	if current.Deleted() {
		return models.Message{}, fmt.Errorf("%w: message %d", chaterr.ErrAlreadyDeleted, messageID)
	}

	now := models.Now()
	if _, err := tx.ExecContext(ctx, `INSERT INTO message_edit_history (message_id, previous_type, previous_body, edited_at)
        VALUES ($1, $2, $3, $4)`, messageID, current.Content.Type, current.Content.Body, now); err != nil {
		return models.Message{}, err
	}
	var row messageRow
	if err := tx.GetContext(ctx, &row, `UPDATE messages SET content_type=$2, content_body=$3, edited_at=$4
        WHERE id=$1 RETURNING `+messageColumns, messageID, content.Type, content.Body, now); err != nil {
		return models.Message{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return row.toModel(), nil
}

func (r *MessageRepo) SoftDelete(ctx context.Context, messageID, actorID int64) (models.Message, bool, error) {
	current, err := r.Get(ctx, messageID)
	if err != nil {
		return models.Message{}, false, err
	}
	if current.SenderID != actorID {
		if err := requireCapability(ctx, r.auth, current.RoomID, actorID, models.CapDeleteAnyMessage); err != nil {
			return models.Message{}, false, err
		}
	}

	var rows []messageRow
	err = r.db.SelectContext(ctx, &rows, `WITH deleted AS (
            UPDATE messages SET deleted_at=$2, content_type='', content_body=''
            WHERE id=$1 AND deleted_at IS NULL RETURNING `+messageColumns+`
        ), unpinned AS (
            DELETE FROM pinned_messages WHERE message_id IN (SELECT id FROM deleted)
        )
        SELECT `+messageColumns+` FROM deleted`, messageID, models.Now())
	if err != nil {
		return models.Message{}, false, err
	}
	if len(rows) == 0 {
		m, err := r.Get(ctx, messageID)
		return m, false, err
	}
	return rows[0].toModel(), true, nil
}

func (r *MessageRepo) Forward(ctx context.Context, messageID, actorID, toRoomID int64) (models.Message, error) {
	src, err := r.Get(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if src.Deleted() || src.Pending {
		return models.Message{}, fmt.Errorf("%w: message %d cannot be forwarded", chaterr.ErrInvalidReference, messageID)
	}
	fwd, err := r.Append(ctx, AppendParams{
		RoomID:          toRoomID,
		SenderID:        actorID,
		Content:         src.Content,
		ForwardedFromID: &src.ID,
	})
	if err != nil {
		return models.Message{}, err
	}
	if _, err := r.db.ExecContext(ctx, `UPDATE messages SET forward_count = forward_count + 1 WHERE id=$1`, messageID); err != nil {
		return models.Message{}, err
	}
	return fwd, nil
}

func (r *MessageRepo) List(ctx context.Context, roomID, beforeID int64, limit int) ([]models.Message, error) {
	limit = clampLimit(limit, MaxPageSize)
	var rows []messageRow
	err := r.db.SelectContext(ctx, &rows, `SELECT `+messageColumns+` FROM messages
        WHERE room_id=$1 AND NOT pending AND ($2 = 0 OR id < $2)
        ORDER BY id DESC LIMIT $3`, roomID, beforeID, limit)
	if err != nil {
		return nil, err
	}
	return toMessages(rows), nil
}

// Search narrows candidates with ILIKE and ranks them with the same scoring as the memory store.
func (r *MessageRepo) Search(ctx context.Context, p SearchParams) ([]models.Message, error) {
	query, tokens := searchTokens(p.Query)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: empty search query", chaterr.ErrInvalidAction)
	}
	if len(p.RoomIDs) == 0 {
		return []models.Message{}, nil
	}
	patterns := make([]string, 0, len(tokens))
	for _, t := range tokens {
		patterns = append(patterns, "%"+escapeLike(t)+"%")
	}

	var rows []messageRow
	err := r.db.SelectContext(ctx, &rows, `SELECT `+messageColumns+` FROM messages
        WHERE room_id = ANY($1) AND deleted_at IS NULL AND NOT pending
          AND content_body ILIKE ANY($2)
          AND ($3::BIGINT IS NULL OR sender_id = $3)
          AND ($4 = '' OR content_type = $4)
          AND ($5::TIMESTAMPTZ IS NULL OR created_at >= $5)
          AND ($6::TIMESTAMPTZ IS NULL OR created_at <= $6)
        ORDER BY id DESC LIMIT $7`,
		pq.Array(p.RoomIDs), pq.Array(patterns), p.SenderID, string(p.Type), p.From, p.To, searchCandidates)
	if err != nil {
		return nil, err
	}

	results := make([]scored, 0, len(rows))
	for _, row := range rows {
		m := row.toModel()
		if score := relevance(m.Content.Body, query, tokens); score > 0 {
			results = append(results, scored{msg: m, score: score})
		}
	}
	return rankResults(results, clampLimit(p.Limit, MaxSearchLimit)), nil
}

func (r *MessageRepo) EditHistory(ctx context.Context, messageID int64) ([]models.MessageEditHistory, error) {
	if _, err := r.Get(ctx, messageID); err != nil {
		return nil, err
	}
	var rows []historyRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT message_id, previous_type, previous_body, edited_at
        FROM message_edit_history WHERE message_id=$1 ORDER BY id`, messageID); err != nil {
		return nil, err
	}
	out := make([]models.MessageEditHistory, 0, len(rows))
	for _, h := range rows {
		out = append(out, models.MessageEditHistory{
			MessageID:       h.MessageID,
			PreviousContent: models.Content{Type: models.ContentType(h.PreviousType), Body: h.PreviousBody},
			EditedAt:        h.EditedAt,
		})
	}
	return out, nil
}

func (r *MessageRepo) ToggleReaction(ctx context.Context, messageID, userID int64, emoji string) (models.Reaction, bool, error) {
	if err := checkEmoji(emoji); err != nil {
		return models.Reaction{}, false, err
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Reaction{}, false, err
	}
	defer tx.Rollback()

	m, err := getMessage(ctx, tx, messageID, true)
	if err != nil {
		return models.Reaction{}, false, err
	}
	if m.Pending {
		return models.Reaction{}, false, messageNotFound(messageID)
	}
	if m.Deleted() {
		return models.Reaction{}, false, fmt.Errorf("%w: message %d", chaterr.ErrAlreadyDeleted, messageID)
	}

	var reaction models.Reaction
	added := false
	err = tx.GetContext(ctx, &reaction, `DELETE FROM message_reactions WHERE message_id=$1 AND user_id=$2 AND emoji=$3
        RETURNING message_id, user_id, emoji, created_at`, messageID, userID, emoji)
	if errors.Is(err, sql.ErrNoRows) {
		added = true
		err = tx.GetContext(ctx, &reaction, `INSERT INTO message_reactions (message_id, user_id, emoji, created_at)
            VALUES ($1, $2, $3, $4) RETURNING message_id, user_id, emoji, created_at`, messageID, userID, emoji, models.Now())
	}
	if err != nil {
		return models.Reaction{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return models.Reaction{}, false, err
	}
	return reaction, added, nil
}

func (r *MessageRepo) Reactions(ctx context.Context, messageID int64) ([]models.Reaction, error) {
	if _, err := r.Get(ctx, messageID); err != nil {
		return nil, err
	}
	reactions := []models.Reaction{}
	err := r.db.SelectContext(ctx, &reactions, `SELECT message_id, user_id, emoji, created_at FROM message_reactions
        WHERE message_id=$1 ORDER BY created_at, user_id, emoji`, messageID)
	return reactions, err
}

func (r *MessageRepo) RoomReactions(ctx context.Context, roomID int64) ([]models.Reaction, error) {
	reactions := []models.Reaction{}
	err := r.db.SelectContext(ctx, &reactions, `SELECT mr.message_id, mr.user_id, mr.emoji, mr.created_at
        FROM message_reactions mr INNER JOIN messages m ON m.id = mr.message_id
        WHERE m.room_id=$1 ORDER BY mr.message_id, mr.created_at`, roomID)
	return reactions, err
}

func (r *MessageRepo) MarkRead(ctx context.Context, messageID, userID int64, at time.Time) (models.ReadReceipt, bool, error) {
	m, err := r.Get(ctx, messageID)
	if err != nil {
		return models.ReadReceipt{}, false, err
	}
	if m.Pending {
		return models.ReadReceipt{}, false, messageNotFound(messageID)
	}

	var receipt models.ReadReceipt
	err = r.db.GetContext(ctx, &receipt, `INSERT INTO read_receipts (message_id, user_id, read_at) VALUES ($1, $2, $3)
        ON CONFLICT (message_id, user_id) DO UPDATE SET read_at = EXCLUDED.read_at
        WHERE read_receipts.read_at < EXCLUDED.read_at
        RETURNING message_id, user_id, read_at`, messageID, userID, at)
	if errors.Is(err, sql.ErrNoRows) {
		err = r.db.GetContext(ctx, &receipt, `SELECT message_id, user_id, read_at FROM read_receipts
            WHERE message_id=$1 AND user_id=$2`, messageID, userID)
		return receipt, false, err
	}
	if err != nil {
		return models.ReadReceipt{}, false, err
	}
	return receipt, true, nil
}

func (r *MessageRepo) ReadReceipts(ctx context.Context, messageID int64) ([]models.ReadReceipt, error) {
	if _, err := r.Get(ctx, messageID); err != nil {
		return nil, err
	}
	receipts := []models.ReadReceipt{}
	err := r.db.SelectContext(ctx, &receipts, `SELECT message_id, user_id, read_at FROM read_receipts
        WHERE message_id=$1 ORDER BY user_id`, messageID)
	return receipts, err
}

func (r *MessageRepo) UnreadCount(ctx context.Context, roomID, userID int64) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages
        WHERE room_id=$1 AND sender_id<>$2 AND NOT pending AND deleted_at IS NULL
          AND id > COALESCE((SELECT MAX(rr.message_id) FROM read_receipts rr
              INNER JOIN messages m ON m.id = rr.message_id
              WHERE m.room_id=$1 AND rr.user_id=$2), 0)`, roomID, userID)
	return count, err
}

func (r *MessageRepo) Pin(ctx context.Context, messageID, actorID int64) (models.PinnedMessage, error) {
	m, err := r.Get(ctx, messageID)
	if err != nil {
		return models.PinnedMessage{}, err
	}
	if err := requireCapability(ctx, r.auth, m.RoomID, actorID, models.CapPinMessage); err != nil {
		return models.PinnedMessage{}, err
	}
	if m.Deleted() || m.Pending {
		return models.PinnedMessage{}, fmt.Errorf("%w: message %d cannot be pinned", chaterr.ErrInvalidReference, messageID)
	}

	var pin models.PinnedMessage
	err = r.db.GetContext(ctx, &pin, `INSERT INTO pinned_messages (room_id, message_id, pinned_by, pinned_at)
        VALUES ($1, $2, $3, $4) ON CONFLICT (room_id, message_id) DO NOTHING
        RETURNING room_id, message_id, pinned_by, pinned_at`, m.RoomID, messageID, actorID, models.Now())
	if errors.Is(err, sql.ErrNoRows) {
		err = r.db.GetContext(ctx, &pin, `SELECT room_id, message_id, pinned_by, pinned_at FROM pinned_messages
            WHERE room_id=$1 AND message_id=$2`, m.RoomID, messageID)
	}
	return pin, err
}

func (r *MessageRepo) Unpin(ctx context.Context, messageID, actorID int64) (bool, error) {
	m, err := r.Get(ctx, messageID)
	if err != nil {
		return false, err
	}
	if err := requireCapability(ctx, r.auth, m.RoomID, actorID, models.CapPinMessage); err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM pinned_messages WHERE room_id=$1 AND message_id=$2`, m.RoomID, messageID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *MessageRepo) Pinned(ctx context.Context, roomID int64) ([]models.PinnedMessage, error) {
	pins := []models.PinnedMessage{}
	err := r.db.SelectContext(ctx, &pins, `SELECT room_id, message_id, pinned_by, pinned_at FROM pinned_messages
        WHERE room_id=$1 ORDER BY pinned_at, message_id`, roomID)
	return pins, err
}

func (r *MessageRepo) PromoteDue(ctx context.Context, now time.Time) ([]models.Message, error) {
	var rows []messageRow
	err := r.db.SelectContext(ctx, &rows, `WITH promoted AS (
            UPDATE messages SET pending = FALSE
            WHERE pending AND deleted_at IS NULL AND scheduled_send_at <= $1 RETURNING `+messageColumns+`
        )
        SELECT `+messageColumns+` FROM promoted ORDER BY id`, now)
	if err != nil {
		return nil, err
	}
	return toMessages(rows), nil
}

func (r *MessageRepo) ExpireDue(ctx context.Context, now time.Time) ([]models.Message, error) {
	var rows []messageRow
	err := r.db.SelectContext(ctx, &rows, `WITH expired AS (
            UPDATE messages SET deleted_at=$1, content_type='', content_body=''
            WHERE deleted_at IS NULL AND NOT pending AND auto_delete_at <= $1 RETURNING `+messageColumns+`
        ), unpinned AS (
            DELETE FROM pinned_messages WHERE message_id IN (SELECT id FROM expired)
        )
        SELECT `+messageColumns+` FROM expired ORDER BY id`, now)
	if err != nil {
		return nil, err
	}
	return toMessages(rows), nil
}

func (r *MessageRepo) PurgeRoom(ctx context.Context, roomID int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM pinned_messages WHERE room_id=$1`, roomID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE room_id=$1`, roomID); err != nil {
		return err
	}
	return tx.Commit()
}

func getMessage(ctx context.Context, q sqlx.QueryerContext, messageID int64, forUpdate bool) (models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var row messageRow
	err := sqlx.GetContext(ctx, q, &row, query, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, messageNotFound(messageID)
	}
	if err != nil {
		return models.Message{}, err
	}
	return row.toModel(), nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

var _ MessageRepository = (*MessageRepo)(nil)
