// Package presence derives online status and typing state from live connections.
package presence

import (
	"context"
	"log"
	"sync"
	"time"

	"chat-engine/internal/models"
)

// DefaultTypingTTL is how long a typing indicator stays active without a refresh.
const DefaultTypingTTL = 5 * time.Second

// Store mirrors online status and last_seen outside the process.
type Store interface {
	Save(ctx context.Context, p models.Presence) error
	Load(ctx context.Context, userID int64) (models.Presence, bool, error)
}

// Tracker keeps per-user connection sets. Each user has its own lock, and a user's entry is
// dropped once nothing live is left for them.
type Tracker struct {
	typingTTL time.Duration
	store     Store
	now       func() time.Time

	users sync.Map // int64 -> *userState
	seen  sync.Map // int64 -> models.Presence, offline records when no store is configured
}

type userState struct {
	mu          sync.Mutex
	conns       map[string]struct{}
	lastSeen    *time.Time
	status      string
	typingRoom  int64
	typingUntil time.Time
	// restored is set once the offline record has been folded in.
	restored bool
	// dead states have left the map; holders must retry with a fresh one.
	dead bool
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithStore mirrors transitions into s.
func WithStore(s Store) Option {
	return func(t *Tracker) { t.store = s }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker builds a Tracker. A non-positive typingTTL uses DefaultTypingTTL.
func NewTracker(typingTTL time.Duration, opts ...Option) *Tracker {
	if typingTTL <= 0 {
		typingTTL = DefaultTypingTTL
	}
	t := &Tracker{typingTTL: typingTTL, now: models.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// acquire returns the user's live state with its lock held.
func (t *Tracker) acquire(ctx context.Context, userID int64) *userState {
	for {
		v, _ := t.users.LoadOrStore(userID, &userState{conns: make(map[string]struct{})})
		s := v.(*userState)
		s.mu.Lock()
		if s.dead {
			s.mu.Unlock()
			continue
		}
		if !s.restored {
			s.restored = true
			if p, ok := t.offline(ctx, userID); ok {
				s.lastSeen = p.LastSeen
				s.status = p.StatusMessage
			}
		}
		return s
	}
}

// release unlocks s, first retiring it when the user has no connection and no live typing.
func (t *Tracker) release(userID int64, s *userState) {
	if len(s.conns) == 0 && !s.typingActive(t.now()) {
		s.dead = true
		t.users.CompareAndDelete(userID, s)
		if t.store == nil && (s.lastSeen != nil || s.status != "") {
			t.seen.Store(userID, models.Presence{UserID: userID, LastSeen: s.lastSeen, StatusMessage: s.status})
		}
	}
	s.mu.Unlock()
}

// live returns the user's state locked, or nil when the user has none.
func (t *Tracker) live(userID int64) *userState {
	v, ok := t.users.Load(userID)
	if !ok {
		return nil
	}
	s := v.(*userState)
	s.mu.Lock()
	if s.dead {
		s.mu.Unlock()
		return nil
	}
	return s
}

// MarkConnected records a live connection and reports whether the user just came online.
func (t *Tracker) MarkConnected(ctx context.Context, userID int64, connID string) bool {
	s := t.acquire(ctx, userID)
	defer t.release(userID, s)
	cameOnline := len(s.conns) == 0
	s.conns[connID] = struct{}{}
	if cameOnline {
		t.mirror(ctx, s.snapshotLocked(userID, t.now()))
	}
	return cameOnline
}

// MarkDisconnected drops a connection. When it was the last one the user goes offline,
// typing is cleared and last_seen is stamped.
func (t *Tracker) MarkDisconnected(ctx context.Context, userID int64, connID string) (bool, time.Time) {
	s := t.live(userID)
	if s == nil {
		return false, time.Time{}
	}
	defer t.release(userID, s)
	if _, ok := s.conns[connID]; !ok {
		return false, time.Time{}
	}
	delete(s.conns, connID)
	if len(s.conns) > 0 {
		return false, time.Time{}
	}
	now := t.now()
	s.lastSeen = &now
	s.typingRoom = 0
	t.mirror(ctx, s.snapshotLocked(userID, now))
	return true, now
}

// Online reports whether the user has at least one live connection.
func (t *Tracker) Online(userID int64) bool {
	s := t.live(userID)
	if s == nil {
		return false
	}
	defer s.mu.Unlock()
	return len(s.conns) > 0
}

// SetTyping marks the user typing in roomID. A user types in at most one room; the room it
// replaces is returned, or 0.
func (t *Tracker) SetTyping(userID, roomID int64) int64 {
	s := t.acquire(context.Background(), userID)
	defer t.release(userID, s)
	now := t.now()
	var superseded int64
	if s.typingRoom != 0 && s.typingRoom != roomID && now.Before(s.typingUntil) {
		superseded = s.typingRoom
	}
	s.typingRoom = roomID
	s.typingUntil = now.Add(t.typingTTL)
	return superseded
}

// ClearTyping stops typing in roomID and reports whether an active indicator was removed.
func (t *Tracker) ClearTyping(userID, roomID int64) bool {
	s := t.live(userID)
	if s == nil {
		return false
	}
	defer t.release(userID, s)
	if s.typingRoom != roomID {
		return false
	}
	active := s.typingActive(t.now())
	s.typingRoom = 0
	return active
}

// SetStatus replaces the user's free-text status and returns the resulting presence.
func (t *Tracker) SetStatus(ctx context.Context, userID int64, status string) models.Presence {
	s := t.acquire(ctx, userID)
	defer t.release(userID, s)
	s.status = status
	p := s.snapshotLocked(userID, t.now())
	t.mirror(ctx, p)
	return p
}

// Get returns the user's presence. Users with nothing live fall back to their offline record.
func (t *Tracker) Get(ctx context.Context, userID int64) models.Presence {
	if s := t.live(userID); s != nil {
		defer s.mu.Unlock()
		return s.snapshotLocked(userID, t.now())
	}
	if p, ok := t.offline(ctx, userID); ok {
		// typing is never shared across processes
		p.TypingInRoom = nil
		return p
	}
	return models.Presence{UserID: userID}
}

func (t *Tracker) offline(ctx context.Context, userID int64) (models.Presence, bool) {
	if t.store == nil {
		v, ok := t.seen.Load(userID)
		if !ok {
			return models.Presence{}, false
		}
		return v.(models.Presence), true
	}
	p, ok, err := t.store.Load(ctx, userID)
	if err != nil {
		log.Printf("presence load failed user_id=%d err=%v", userID, err)
	}
	return p, ok
}

func (s *userState) typingActive(now time.Time) bool {
	return s.typingRoom != 0 && now.Before(s.typingUntil)
}

// snapshotLocked applies typing expiry lazily. Caller holds s.mu.
func (s *userState) snapshotLocked(userID int64, now time.Time) models.Presence {
	p := models.Presence{UserID: userID, Online: len(s.conns) > 0, StatusMessage: s.status}
	if s.lastSeen != nil {
		seen := *s.lastSeen
		p.LastSeen = &seen
	}
	if s.typingActive(now) {
		room := s.typingRoom
		p.TypingInRoom = &room
	}
	return p
}

// mirror writes p to the store. Callers hold the user's lock so writes land in transition order.
func (t *Tracker) mirror(ctx context.Context, p models.Presence) {
	if t.store == nil {
		return
	}
	if err := t.store.Save(context.WithoutCancel(ctx), p); err != nil {
		log.Printf("presence mirror failed user_id=%d online=%t err=%v", p.UserID, p.Online, err)
	}
}
