package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"chat-engine/internal/models"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func TestMultiDeviceTransitions(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	tr := NewTracker(0, WithClock(clock.now))

	require.True(t, tr.MarkConnected(ctx, 7, "phone"))
	require.False(t, tr.MarkConnected(ctx, 7, "laptop"))
	require.True(t, tr.Online(7))

	clock.advance(time.Minute)
	offline, _ := tr.MarkDisconnected(ctx, 7, "phone")
	require.False(t, offline)
	require.Nil(t, tr.Get(ctx, 7).LastSeen)

	offline, at := tr.MarkDisconnected(ctx, 7, "laptop")
	require.True(t, offline)
	require.Equal(t, clock.t, at)

	p := tr.Get(ctx, 7)
	require.False(t, p.Online)
	require.Equal(t, clock.t, *p.LastSeen)

	offline, _ = tr.MarkDisconnected(ctx, 7, "laptop")
	require.False(t, offline)
}

func TestTypingExpiresLazily(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	tr := NewTracker(5*time.Second, WithClock(clock.now))
	tr.MarkConnected(ctx, 1, "c1")

	require.Zero(t, tr.SetTyping(1, 10))
	require.Equal(t, int64(10), *tr.Get(ctx, 1).TypingInRoom)

	clock.advance(6 * time.Second)
	require.Nil(t, tr.Get(ctx, 1).TypingInRoom)
	require.False(t, tr.ClearTyping(1, 10))
}

func TestTypingSupersedesOtherRoom(t *testing.T) {
	clock := newClock()
	tr := NewTracker(time.Second, WithClock(clock.now))

	tr.SetTyping(1, 10)
	require.Equal(t, int64(10), tr.SetTyping(1, 20))
	require.Zero(t, tr.SetTyping(1, 20))
	require.False(t, tr.ClearTyping(1, 10))
	require.True(t, tr.ClearTyping(1, 20))
}

func TestDisconnectClearsTyping(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(time.Minute)
	tr.MarkConnected(ctx, 1, "c1")
	tr.SetTyping(1, 10)
	tr.MarkDisconnected(ctx, 1, "c1")
	require.Nil(t, tr.Get(ctx, 1).TypingInRoom)
}

func TestRedisStoreMirrorsTransitions(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clock := newClock()
	store := NewRedisStore(rdb, time.Hour)
	tr := NewTracker(0, WithClock(clock.now), WithStore(store))

	tr.MarkConnected(ctx, 3, "c1")
	p, ok, err := store.Load(ctx, 3)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, p.Online)

	clock.advance(time.Minute)
	tr.MarkDisconnected(ctx, 3, "c1")
	p, ok, err = store.Load(ctx, 3)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, p.Online)
	require.Equal(t, clock.t, *p.LastSeen)
	require.True(t, mr.TTL("presence:3") > 0)

	// a fresh process only knows what the store remembers
	restarted := NewTracker(0, WithStore(store))
	got := restarted.Get(ctx, 3)
	require.False(t, got.Online)
	require.Equal(t, clock.t, *got.LastSeen)

	_, ok, err = store.Load(ctx, 99)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOfflineUserLeavesNoLiveState(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	tr := NewTracker(0, WithClock(clock.now))

	tr.MarkConnected(ctx, 7, "c1")
	clock.advance(time.Minute)
	tr.MarkDisconnected(ctx, 7, "c1")

	_, ok := tr.users.Load(int64(7))
	require.False(t, ok)
	require.Equal(t, clock.t, *tr.Get(ctx, 7).LastSeen)

	seenAt := clock.t
	clock.advance(time.Minute)
	require.True(t, tr.MarkConnected(ctx, 7, "c2"))
	p := tr.Get(ctx, 7)
	require.True(t, p.Online)
	require.Equal(t, seenAt, *p.LastSeen)
}

func TestStatusSurvivesReconnect(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(0)

	p := tr.SetStatus(ctx, 4, "in a meeting")
	require.Equal(t, "in a meeting", p.StatusMessage)
	require.False(t, p.Online)
	_, ok := tr.users.Load(int64(4))
	require.False(t, ok)

	tr.MarkConnected(ctx, 4, "c1")
	require.Equal(t, "in a meeting", tr.Get(ctx, 4).StatusMessage)
}

// gatedStore parks offline writes until the gate opens.
type gatedStore struct {
	mu      sync.Mutex
	saves   []models.Presence
	entered chan struct{}
	gate    chan struct{}
}

func (g *gatedStore) Save(ctx context.Context, p models.Presence) error {
	if !p.Online {
		g.entered <- struct{}{}
		<-g.gate
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.saves = append(g.saves, p)
	return nil
}

func (g *gatedStore) Load(ctx context.Context, userID int64) (models.Presence, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.saves) == 0 {
		return models.Presence{}, false, nil
	}
	return g.saves[len(g.saves)-1], true, nil
}

func TestMirrorWritesFollowTransitionOrder(t *testing.T) {
	ctx := context.Background()
	store := &gatedStore{entered: make(chan struct{}), gate: make(chan struct{})}
	tr := NewTracker(0, WithStore(store))
	tr.MarkConnected(ctx, 1, "a")

	disconnected := make(chan struct{})
	go func() {
		tr.MarkDisconnected(ctx, 1, "a")
		close(disconnected)
	}()
	<-store.entered

	reconnected := make(chan bool)
	go func() { reconnected <- tr.MarkConnected(ctx, 1, "b") }()
	select {
	case <-reconnected:
		t.Fatal("reconnect finished while the offline write was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(store.gate)
	<-disconnected
	require.True(t, <-reconnected)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.saves, 3)
	require.False(t, store.saves[1].Online)
	require.True(t, store.saves[2].Online)
}

func TestRedisStoreKeepsStatus(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := NewRedisStore(rdb, 0)
	tr := NewTracker(0, WithStore(store))
	tr.SetStatus(ctx, 5, "on call")

	p, ok, err := store.Load(ctx, 5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "on call", p.StatusMessage)
	require.Equal(t, "on call", NewTracker(0, WithStore(store)).Get(ctx, 5).StatusMessage)
}
