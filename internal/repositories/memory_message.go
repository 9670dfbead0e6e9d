package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"chat-engine/internal/chaterr"
	"chat-engine/internal/models"
)

// MemoryMessageStore is an in-process MessageRepository. Appends are serialized per room;
// rooms never block each other.
type MemoryMessageStore struct {
	auth Authorizer
	now  func() time.Time
	seq  atomic.Int64

	mu    sync.RWMutex
	rooms map[int64]*roomLog
	// index maps message id to room id.
	index sync.Map
}

type roomLog struct {
	mu        sync.RWMutex
	roomID    int64
	messages  []*models.Message
	byID      map[int64]*models.Message
	history   map[int64][]models.MessageEditHistory
	reactions map[int64][]models.Reaction
	receipts  map[int64]map[int64]models.ReadReceipt
	pins      map[int64]models.PinnedMessage
	purged    bool
}

func newRoomLog(roomID int64) *roomLog {
	return &roomLog{
		roomID:    roomID,
		byID:      make(map[int64]*models.Message),
		history:   make(map[int64][]models.MessageEditHistory),
		reactions: make(map[int64][]models.Reaction),
		receipts:  make(map[int64]map[int64]models.ReadReceipt),
		pins:      make(map[int64]models.PinnedMessage),
	}
}

// NewMemoryMessageStore constructs an empty store that consults auth for capabilities.
func NewMemoryMessageStore(auth Authorizer) *MemoryMessageStore {
	return &MemoryMessageStore{
		auth:  auth,
		now:   models.Now,
		rooms: make(map[int64]*roomLog),
	}
}

// Append stores a message. Scheduled messages stay pending until PromoteDue.
func (s *MemoryMessageStore) Append(ctx context.Context, p AppendParams) (models.Message, error) {
	if err := checkContent(p.Content); err != nil {
		return models.Message{}, err
	}
	now := s.now()
	if err := CheckSchedule(now, p.ScheduledAt, p.AutoDeleteAt); err != nil {
		return models.Message{}, err
	}
	if err := requireCapability(ctx, s.auth, p.RoomID, p.SenderID, models.CapSendMessage); err != nil {
		return models.Message{}, err
	}

	log := s.roomLog(p.RoomID, true)
	log.mu.Lock()
	defer log.mu.Unlock()
	if log.purged {
		return models.Message{}, roomNotFound(p.RoomID)
	}

	if p.ReplyToID != nil {
		target, ok := log.byID[*p.ReplyToID]
		if !ok || target.Deleted() || target.Pending {
			return models.Message{}, fmt.Errorf("%w: reply target %d is not a live message of room %d", chaterr.ErrInvalidReference, *p.ReplyToID, p.RoomID)
		}
	}

	msg := &models.Message{
		ID:              s.seq.Add(1),
		RoomID:          p.RoomID,
		SenderID:        p.SenderID,
		Content:         p.Content,
		CreatedAt:       now,
		ReplyToID:       p.ReplyToID,
		ForwardedFromID: p.ForwardedFromID,
		ScheduledAt:     p.ScheduledAt,
		Pending:         p.ScheduledAt != nil && p.ScheduledAt.After(now),
		AutoDeleteAt:    p.AutoDeleteAt,
	}
	log.messages = append(log.messages, msg)
	log.byID[msg.ID] = msg
	s.index.Store(msg.ID, p.RoomID)
	return *msg, nil
}

// Get returns a message, pending or not.
func (s *MemoryMessageStore) Get(ctx context.Context, messageID int64) (models.Message, error) {
	log, err := s.logFor(messageID)
	if err != nil {
		return models.Message{}, err
	}
	log.mu.RLock()
	defer log.mu.RUnlock()
	m, ok := log.byID[messageID]
	if !ok {
		return models.Message{}, messageNotFound(messageID)
	}
	return *m, nil
}

// Edit replaces the content of the sender's own message, recording the previous content first.
func (s *MemoryMessageStore) Edit(ctx context.Context, messageID, actorID int64, content models.Content) (models.Message, error) {
	if err := checkContent(content); err != nil {
		return models.Message{}, err
	}
	log, err := s.logFor(messageID)
	if err != nil {
		return models.Message{}, err
	}
	log.mu.Lock()
	defer log.mu.Unlock()

	m, ok := log.byID[messageID]
	if !ok {
		return models.Message{}, messageNotFound(messageID)
	}
	if m.SenderID != actorID {
		return models.Message{}, fmt.Errorf("%w: only the sender may edit message %d", chaterr.ErrForbidden, messageID)
	}
	if m.Deleted() {
		return models.Message{}, fmt.Errorf("%w: message %d", chaterr.ErrAlreadyDeleted, messageID)
	}

	now := s.now()
	log.history[messageID] = append(log.history[messageID], models.MessageEditHistory{
		MessageID:       messageID,
		PreviousContent: m.Content,
		EditedAt:        now,
	})
	m.Content = content
	m.EditedAt = &now
	return *m, nil
}

// SoftDelete scrubs the message content. Deleting twice is a no-op.
func (s *MemoryMessageStore) SoftDelete(ctx context.Context, messageID, actorID int64) (models.Message, bool, error) {
	current, err := s.Get(ctx, messageID)
	if err != nil {
		return models.Message{}, false, err
	}
	if current.SenderID != actorID {
		if err := requireCapability(ctx, s.auth, current.RoomID, actorID, models.CapDeleteAnyMessage); err != nil {
			return models.Message{}, false, err
		}
	}

	log, err := s.logFor(messageID)
	if err != nil {
		return models.Message{}, false, err
	}
	log.mu.Lock()
	defer log.mu.Unlock()
	m, ok := log.byID[messageID]
	if !ok {
		return models.Message{}, false, messageNotFound(messageID)
	}
	changed := log.markDeleted(m, s.now())
	return *m, changed, nil
}

// markDeleted is the single soft-delete transition shared with the sweep. Caller holds l.mu.
func (l *roomLog) markDeleted(m *models.Message, at time.Time) bool {
	if m.Deleted() {
		return false
	}
	m.DeletedAt = &at
	m.Content = models.Content{}
	delete(l.pins, m.ID)
	return true
}

// Forward copies a live message into another room.
func (s *MemoryMessageStore) Forward(ctx context.Context, messageID, actorID, toRoomID int64) (models.Message, error) {
	src, err := s.Get(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if src.Deleted() || src.Pending {
		return models.Message{}, fmt.Errorf("%w: message %d cannot be forwarded", chaterr.ErrInvalidReference, messageID)
	}

	fwd, err := s.Append(ctx, AppendParams{
		RoomID:          toRoomID,
		SenderID:        actorID,
		Content:         src.Content,
		ForwardedFromID: &src.ID,
	})
	if err != nil {
		return models.Message{}, err
	}

	if log, err := s.logFor(messageID); err == nil {
		log.mu.Lock()
		if m, ok := log.byID[messageID]; ok {
			m.ForwardCount++
		}
		log.mu.Unlock()
	}
	return fwd, nil
}

// List pages backwards through the room. Deleted messages are included with scrubbed content.
func (s *MemoryMessageStore) List(ctx context.Context, roomID, beforeID int64, limit int) ([]models.Message, error) {
	limit = clampLimit(limit, MaxPageSize)
	log := s.roomLog(roomID, false)
	if log == nil {
		return []models.Message{}, nil
	}
	log.mu.RLock()
	defer log.mu.RUnlock()

	out := make([]models.Message, 0, limit)
	for i := len(log.messages) - 1; i >= 0 && len(out) < limit; i-- {
		m := log.messages[i]
		if m.Pending {
			continue
		}
		if beforeID > 0 && m.ID >= beforeID {
			continue
		}
		out = append(out, *m)
	}
	return out, nil
}

// Search matches query tokens against live message bodies in the given rooms.
func (s *MemoryMessageStore) Search(ctx context.Context, p SearchParams) ([]models.Message, error) {
	query, tokens := searchTokens(p.Query)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: empty search query", chaterr.ErrInvalidAction)
	}
	limit := clampLimit(p.Limit, MaxSearchLimit)

	var results []scored
	for _, roomID := range p.RoomIDs {
		log := s.roomLog(roomID, false)
		if log == nil {
			continue
		}
		log.mu.RLock()
		for _, m := range log.messages {
			if !matchesFilters(*m, p) {
				continue
			}
			if score := relevance(m.Content.Body, query, tokens); score > 0 {
				results = append(results, scored{msg: *m, score: score})
			}
		}
		log.mu.RUnlock()
	}
	return rankResults(results, limit), nil
}

// EditHistory returns edits oldest first.
func (s *MemoryMessageStore) EditHistory(ctx context.Context, messageID int64) ([]models.MessageEditHistory, error) {
	log, err := s.logFor(messageID)
	if err != nil {
		return nil, err
	}
	log.mu.RLock()
	defer log.mu.RUnlock()
	return append([]models.MessageEditHistory{}, log.history[messageID]...), nil
}

// ToggleReaction adds the reaction, or removes it when the same user already reacted with emoji.
func (s *MemoryMessageStore) ToggleReaction(ctx context.Context, messageID, userID int64, emoji string) (models.Reaction, bool, error) {
	if err := checkEmoji(emoji); err != nil {
		return models.Reaction{}, false, err
	}
	log, err := s.logFor(messageID)
	if err != nil {
		return models.Reaction{}, false, err
	}
	log.mu.Lock()
	defer log.mu.Unlock()

	m, ok := log.byID[messageID]
	if !ok || m.Pending {
		return models.Reaction{}, false, messageNotFound(messageID)
	}
	if m.Deleted() {
		return models.Reaction{}, false, fmt.Errorf("%w: message %d", chaterr.ErrAlreadyDeleted, messageID)
	}

	reactions := log.reactions[messageID]
	for i, r := range reactions {
		if r.UserID == userID && r.Emoji == emoji {
			log.reactions[messageID] = append(reactions[:i:i], reactions[i+1:]...)
			return r, false, nil
		}
	}
	r := models.Reaction{MessageID: messageID, UserID: userID, Emoji: emoji, CreatedAt: s.now()}
	log.reactions[messageID] = append(reactions, r)
	return r, true, nil
}

// Reactions lists a message's reactions in the order they were added.
func (s *MemoryMessageStore) Reactions(ctx context.Context, messageID int64) ([]models.Reaction, error) {
	log, err := s.logFor(messageID)
	if err != nil {
		return nil, err
	}
	log.mu.RLock()
	defer log.mu.RUnlock()
	return append([]models.Reaction{}, log.reactions[messageID]...), nil
}

// RoomReactions lists every reaction in the room ordered by message id.
func (s *MemoryMessageStore) RoomReactions(ctx context.Context, roomID int64) ([]models.Reaction, error) {
	log := s.roomLog(roomID, false)
	if log == nil {
		return []models.Reaction{}, nil
	}
	log.mu.RLock()
	defer log.mu.RUnlock()
	out := []models.Reaction{}
	for _, m := range log.messages {
		out = append(out, log.reactions[m.ID]...)
	}
	return out, nil
}

// MarkRead records a read receipt. An earlier read_at never replaces a later one.
func (s *MemoryMessageStore) MarkRead(ctx context.Context, messageID, userID int64, at time.Time) (models.ReadReceipt, bool, error) {
	log, err := s.logFor(messageID)
	if err != nil {
		return models.ReadReceipt{}, false, err
	}
	log.mu.Lock()
	defer log.mu.Unlock()

	m, ok := log.byID[messageID]
	if !ok || m.Pending {
		return models.ReadReceipt{}, false, messageNotFound(messageID)
	}
	receipts := log.receipts[messageID]
	if receipts == nil {
		receipts = make(map[int64]models.ReadReceipt)
		log.receipts[messageID] = receipts
	}
	if existing, ok := receipts[userID]; ok && !at.After(existing.ReadAt) {
		return existing, false, nil
	}
	r := models.ReadReceipt{MessageID: messageID, UserID: userID, ReadAt: at}
	receipts[userID] = r
	return r, true, nil
}

// ReadReceipts lists receipts for a message ordered by user id.
func (s *MemoryMessageStore) ReadReceipts(ctx context.Context, messageID int64) ([]models.ReadReceipt, error) {
	log, err := s.logFor(messageID)
	if err != nil {
		return nil, err
	}
	log.mu.RLock()
	out := make([]models.ReadReceipt, 0, len(log.receipts[messageID]))
	for _, r := range log.receipts[messageID] {
		out = append(out, r)
	}
	log.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// UnreadCount counts live messages from others newer than the user's latest receipt.
func (s *MemoryMessageStore) UnreadCount(ctx context.Context, roomID, userID int64) (int, error) {
	log := s.roomLog(roomID, false)
	if log == nil {
		return 0, nil
	}
	log.mu.RLock()
	defer log.mu.RUnlock()

	var lastRead int64
	for messageID, receipts := range log.receipts {
		if _, ok := receipts[userID]; ok && messageID > lastRead {
			lastRead = messageID
		}
	}
	count := 0
	for i := len(log.messages) - 1; i >= 0; i-- {
		m := log.messages[i]
		if m.ID <= lastRead {
			break
		}
		if !m.Pending && !m.Deleted() && m.SenderID != userID {
			count++
		}
	}
	return count, nil
}

// Pin pins a live message in its room. Pinning an already pinned message returns the existing pin.
func (s *MemoryMessageStore) Pin(ctx context.Context, messageID, actorID int64) (models.PinnedMessage, error) {
	current, err := s.Get(ctx, messageID)
	if err != nil {
		return models.PinnedMessage{}, err
	}
	if err := requireCapability(ctx, s.auth, current.RoomID, actorID, models.CapPinMessage); err != nil {
		return models.PinnedMessage{}, err
	}

	log, err := s.logFor(messageID)
	if err != nil {
		return models.PinnedMessage{}, err
	}
	log.mu.Lock()
	defer log.mu.Unlock()
	m, ok := log.byID[messageID]
	if !ok || m.Deleted() || m.Pending {
		return models.PinnedMessage{}, fmt.Errorf("%w: message %d cannot be pinned", chaterr.ErrInvalidReference, messageID)
	}
	if pin, ok := log.pins[messageID]; ok {
		return pin, nil
	}
	pin := models.PinnedMessage{RoomID: m.RoomID, MessageID: messageID, PinnedBy: actorID, PinnedAt: s.now()}
	log.pins[messageID] = pin
	return pin, nil
}

// Unpin removes a pin and reports whether one existed.
func (s *MemoryMessageStore) Unpin(ctx context.Context, messageID, actorID int64) (bool, error) {
	current, err := s.Get(ctx, messageID)
	if err != nil {
		return false, err
	}
	if err := requireCapability(ctx, s.auth, current.RoomID, actorID, models.CapPinMessage); err != nil {
		return false, err
	}
	log, err := s.logFor(messageID)
	if err != nil {
		return false, err
	}
	log.mu.Lock()
	defer log.mu.Unlock()
	if _, ok := log.pins[messageID]; !ok {
		return false, nil
	}
	delete(log.pins, messageID)
	return true, nil
}

// Pinned lists the room's pins, oldest first.
func (s *MemoryMessageStore) Pinned(ctx context.Context, roomID int64) ([]models.PinnedMessage, error) {
	log := s.roomLog(roomID, false)
	if log == nil {
		return []models.PinnedMessage{}, nil
	}
	log.mu.RLock()
	out := make([]models.PinnedMessage, 0, len(log.pins))
	for _, p := range log.pins {
		out = append(out, p)
	}
	log.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PinnedAt.Equal(out[j].PinnedAt) {
			return out[i].PinnedAt.Before(out[j].PinnedAt)
		}
		return out[i].MessageID < out[j].MessageID
	})
	return out, nil
}

// PromoteDue makes scheduled messages due at or before now visible.
func (s *MemoryMessageStore) PromoteDue(ctx context.Context, now time.Time) ([]models.Message, error) {
	var promoted []models.Message
	for _, log := range s.logs() {
		log.mu.Lock()
		for _, m := range log.messages {
			if m.Pending && !m.Deleted() && m.ScheduledAt != nil && !m.ScheduledAt.After(now) {
				m.Pending = false
				promoted = append(promoted, *m)
			}
		}
		log.mu.Unlock()
	}
	sort.Slice(promoted, func(i, j int) bool { return promoted[i].ID < promoted[j].ID })
	return promoted, nil
}

// ExpireDue soft-deletes messages whose auto_delete_at has passed.
func (s *MemoryMessageStore) ExpireDue(ctx context.Context, now time.Time) ([]models.Message, error) {
	var expired []models.Message
	for _, log := range s.logs() {
		log.mu.Lock()
		for _, m := range log.messages {
			// A pending message is expired only once it has been promoted.
			if m.Pending || m.AutoDeleteAt == nil || m.AutoDeleteAt.After(now) {
				continue
			}
			if log.markDeleted(m, now) {
				expired = append(expired, *m)
			}
		}
		log.mu.Unlock()
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })
	return expired, nil
}

// PurgeRoom drops every message, reaction, receipt and pin of the room.
func (s *MemoryMessageStore) PurgeRoom(ctx context.Context, roomID int64) error {
	s.mu.Lock()
	log, ok := s.rooms[roomID]
	delete(s.rooms, roomID)
	s.mu.Unlock()
	if !ok {
		return nil
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	for _, m := range log.messages {
		s.index.Delete(m.ID)
	}
	log.purged = true
	log.messages = nil
	log.byID = make(map[int64]*models.Message)
	log.history = make(map[int64][]models.MessageEditHistory)
	log.reactions = make(map[int64][]models.Reaction)
	log.receipts = make(map[int64]map[int64]models.ReadReceipt)
	log.pins = make(map[int64]models.PinnedMessage)
	return nil
}

func (s *MemoryMessageStore) roomLog(roomID int64, create bool) *roomLog {
	s.mu.RLock()
	log, ok := s.rooms[roomID]
	s.mu.RUnlock()
	if ok || !create {
		return log
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if log, ok = s.rooms[roomID]; !ok {
		log = newRoomLog(roomID)
		s.rooms[roomID] = log
	}
	return log
}

func (s *MemoryMessageStore) logFor(messageID int64) (*roomLog, error) {
	roomID, ok := s.index.Load(messageID)
	if !ok {
		return nil, messageNotFound(messageID)
	}
	log := s.roomLog(roomID.(int64), false)
	if log == nil {
		return nil, messageNotFound(messageID)
	}
	return log, nil
}

func (s *MemoryMessageStore) logs() []*roomLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*roomLog, 0, len(s.rooms))
	for _, log := range s.rooms {
		out = append(out, log)
	}
	return out
}

var _ MessageRepository = (*MemoryMessageStore)(nil)
