package ws

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chat-engine/internal/chaterr"
	"chat-engine/internal/models"
	"chat-engine/internal/notify"
	"chat-engine/internal/observability"
	"chat-engine/internal/presence"
)

// Conn is one live transport a user is reachable on.
type Conn interface {
	// Send must not block. A connection that cannot accept the event returns ErrTransportFailure.
	Send(ev models.Event) error
	Close() error
}

// MemberLister is the part of the membership store the registry routes with.
type MemberLister interface {
	ActiveMembers(ctx context.Context, roomID int64) ([]models.Membership, error)
	RoomsForUser(ctx context.Context, userID int64) ([]models.Room, error)
}

// Registry maps users to their live connections. Locks are per user; no lock is held
// while writing to a connection.
type Registry struct {
	members  MemberLister
	presence *presence.Tracker
	notifier notify.Notifier

	users sync.Map // int64 -> *userConns
	conns sync.Map // connection id -> *registered
}

type userConns struct {
	mu    sync.Mutex
	conns map[string]Conn
	// dead is set once the entry is dropped from users; Register must then start a new one.
	dead bool
}

type registered struct {
	info ConnInfo
	conn Conn
}

// NewRegistry builds a Registry. A nil notifier drops offline events.
func NewRegistry(members MemberLister, tracker *presence.Tracker, notifier notify.Notifier) *Registry {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Registry{members: members, presence: tracker, notifier: notifier}
}

// Register adds conn for info.UserID and returns its connection id. The first connection of a
// user announces them online to everyone sharing a room.
func (r *Registry) Register(ctx context.Context, info ConnInfo, conn Conn) string {
	if info.ConnID == "" {
		info.ConnID = uuid.NewString()
	}
	if info.ConnectedAt.IsZero() {
		info.ConnectedAt = time.Now()
	}

	for {
		v, _ := r.users.LoadOrStore(info.UserID, &userConns{conns: make(map[string]Conn)})
		uc := v.(*userConns)
		uc.mu.Lock()
		if uc.dead {
			uc.mu.Unlock()
			continue
		}
		uc.conns[info.ConnID] = conn
		uc.mu.Unlock()
		break
	}
	r.conns.Store(info.ConnID, &registered{info: info, conn: conn})
	observability.IncWSActive()

	if r.presence.MarkConnected(ctx, info.UserID, info.ConnID) {
		r.AnnouncePresence(ctx, r.presence.Get(ctx, info.UserID))
	}
	return info.ConnID
}

// Unregister removes the connection and closes it. It reports false when the id was unknown,
// which makes repeated calls harmless.
func (r *Registry) Unregister(ctx context.Context, connID string) bool {
	v, ok := r.conns.LoadAndDelete(connID)
	if !ok {
		return false
	}
	reg := v.(*registered)

	if v, ok := r.users.Load(reg.info.UserID); ok {
		uc := v.(*userConns)
		uc.mu.Lock()
		delete(uc.conns, connID)
		if len(uc.conns) == 0 {
			uc.dead = true
			r.users.CompareAndDelete(reg.info.UserID, uc)
		}
		uc.mu.Unlock()
	}
	_ = reg.conn.Close()
	observability.DecWSActive()

	if offline, lastSeen := r.presence.MarkDisconnected(ctx, reg.info.UserID, connID); offline {
		p := r.presence.Get(ctx, reg.info.UserID)
		r.AnnouncePresence(ctx, models.Presence{UserID: p.UserID, LastSeen: &lastSeen, StatusMessage: p.StatusMessage})
	}
	return true
}

// Info returns the metadata recorded at registration.
func (r *Registry) Info(connID string) (ConnInfo, bool) {
	v, ok := r.conns.Load(connID)
	if !ok {
		return ConnInfo{}, false
	}
	return v.(*registered).info, true
}

// Connections lists the user's connection ids.
func (r *Registry) Connections(userID int64) []string {
	v, ok := r.users.Load(userID)
	if !ok {
		return nil
	}
	uc := v.(*userConns)
	uc.mu.Lock()
	defer uc.mu.Unlock()
	ids := make([]string, 0, len(uc.conns))
	for id := range uc.conns {
		ids = append(ids, id)
	}
	return ids
}

// Describe reports the user's live connections, oldest first.
func (r *Registry) Describe(userID int64) []ConnStatus {
	targets := r.snapshot(userID)
	out := make([]ConnStatus, 0, len(targets))
	for id, conn := range targets {
		info, ok := r.Info(id)
		if !ok {
			continue
		}
		st := ConnStatus{ConnID: id, DeviceID: info.DeviceID, IP: info.IP, ConnectedAt: info.ConnectedAt}
		if a, ok := conn.(interface{ LastActive() time.Time }); ok {
			at := a.LastActive()
			st.LastActive = &at
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

// SendToUser delivers ev to every connection of the user. A connection that fails is
// unregistered; the others still receive the event. With no live connection a non-ephemeral
// event is summarized for the notifier instead.
func (r *Registry) SendToUser(ctx context.Context, userID int64, ev models.Event) error {
	return r.deliver(ctx, userID, ev, !ev.Type.Ephemeral())
}

func (r *Registry) deliver(ctx context.Context, userID int64, ev models.Event, notify bool) error {
	targets := r.snapshot(userID)
	if len(targets) == 0 {
		if notify {
			go r.notifyOffline(context.WithoutCancel(ctx), userID, ev)
		}
		return nil
	}

	failed := 0
	for id, conn := range targets {
		if err := conn.Send(ev); err != nil {
			failed++
			r.dropFailed(ctx, id, err)
			continue
		}
		observability.IncFanout("ok")
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d connections of user %d", chaterr.ErrTransportFailure, failed, len(targets), userID)
	}
	return nil
}

// SendToRoom delivers ev to every active member except excludeUserID (0 excludes nobody).
// Per-recipient transport failures do not fail the broadcast. Members who muted the room
// are never notified while offline.
func (r *Registry) SendToRoom(ctx context.Context, roomID int64, ev models.Event, excludeUserID int64) error {
	members, err := r.members.ActiveMembers(ctx, roomID)
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.UserID == excludeUserID {
			continue
		}
		_ = r.deliver(ctx, m.UserID, ev, !m.Muted && !ev.Type.Ephemeral())
	}
	return nil
}

// SendToConnection replies on a single connection.
func (r *Registry) SendToConnection(ctx context.Context, connID string, ev models.Event) error {
	v, ok := r.conns.Load(connID)
	if !ok {
		return fmt.Errorf("%w: connection %s is gone", chaterr.ErrTransportFailure, connID)
	}
	if err := v.(*registered).conn.Send(ev); err != nil {
		r.dropFailed(ctx, connID, err)
		return err
	}
	observability.IncFanout("ok")
	return nil
}

func (r *Registry) snapshot(userID int64) map[string]Conn {
	v, ok := r.users.Load(userID)
	if !ok {
		return nil
	}
	uc := v.(*userConns)
	uc.mu.Lock()
	defer uc.mu.Unlock()
	out := make(map[string]Conn, len(uc.conns))
	for id, c := range uc.conns {
		out[id] = c
	}
	return out
}

func (r *Registry) dropFailed(ctx context.Context, connID string, err error) {
	observability.IncFanout("failed")
	if info, ok := r.Info(connID); ok {
		log.Printf("ws send failed conn_id=%s user_id=%d err=%v", connID, info.UserID, err)
		publishLifecycle(ctx, info, "ws_error", err.Error())
	}
	r.Unregister(ctx, connID)
}

func (r *Registry) notifyOffline(ctx context.Context, userID int64, ev models.Event) {
	if err := r.notifier.Notify(ctx, models.Summarize(userID, ev)); err != nil {
		observability.IncNotification("failed")
		return
	}
	observability.IncNotification("ok")
}

// AnnouncePresence tells each user sharing a room with p.UserID exactly once.
func (r *Registry) AnnouncePresence(ctx context.Context, p models.Presence) {
	rooms, err := r.members.RoomsForUser(ctx, p.UserID)
	if err != nil {
		log.Printf("presence fan-out failed user_id=%d err=%v", p.UserID, err)
		return
	}

	recipients := make(map[int64]struct{})
	for _, room := range rooms {
		members, err := r.members.ActiveMembers(ctx, room.ID)
		if err != nil {
			log.Printf("presence fan-out failed user_id=%d room_id=%d err=%v", p.UserID, room.ID, err)
			continue
		}
		for _, m := range members {
			if m.UserID != p.UserID {
				recipients[m.UserID] = struct{}{}
			}
		}
	}

	payload := models.PresencePayload{UserID: p.UserID, Online: p.Online, StatusMessage: p.StatusMessage}
	if !p.Online {
		payload.LastSeen = p.LastSeen
	}
	ev := models.Event{Type: models.EventPresenceUpdate, Data: payload}
	for id := range recipients {
		_ = r.SendToUser(ctx, id, ev)
	}
}
