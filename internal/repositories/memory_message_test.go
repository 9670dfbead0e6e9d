package repositories

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-engine/internal/chaterr"
	"chat-engine/internal/models"
)

type fixture struct {
	members  *MemoryMembershipStore
	messages *MemoryMessageStore
	room     models.Room
	clock    time.Time
}

// newFixture builds a group room owned by user 1 with member 2.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		members: NewMemoryMembershipStore(),
		clock:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.messages = NewMemoryMessageStore(f.members)
	f.messages.now = func() time.Time { return f.clock }
	f.room = newGroup(t, f.members, 1, 2)
	return f
}

func (f *fixture) send(t *testing.T, sender int64, body string) models.Message {
	t.Helper()
	m, err := f.messages.Append(context.Background(), AppendParams{
		RoomID:   f.room.ID,
		SenderID: sender,
		Content:  models.Content{Type: models.ContentText, Body: body},
	})
	require.NoError(t, err)
	return m
}

func text(body string) models.Content {
	return models.Content{Type: models.ContentText, Body: body}
}

func TestAppendRequiresSendPermission(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.messages.Append(ctx, AppendParams{RoomID: f.room.ID, SenderID: 42, Content: text("hi")})
	require.ErrorIs(t, err, chaterr.ErrForbidden)

	_, err = f.members.UpdatePermissions(ctx, f.room.ID, 1, 2, models.NewPermissionSet())
	require.NoError(t, err)
	_, err = f.messages.Append(ctx, AppendParams{RoomID: f.room.ID, SenderID: 2, Content: text("hi")})
	require.ErrorIs(t, err, chaterr.ErrForbidden)

	_, err = f.messages.Append(ctx, AppendParams{RoomID: f.room.ID, SenderID: 1, Content: models.Content{Type: "sticker", Body: "x"}})
	require.ErrorIs(t, err, chaterr.ErrInvalidAction)
}

func TestListNewestFirstIncludesDeleted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.send(t, 1, "a")
	b := f.send(t, 2, "b")
	c := f.send(t, 1, "c")

	_, changed, err := f.messages.SoftDelete(ctx, b.ID, 2)
	require.NoError(t, err)
	require.True(t, changed)

	page, err := f.messages.List(ctx, f.room.ID, 0, 10)
	require.NoError(t, err)
	require.Equal(t, []int64{c.ID, b.ID, a.ID}, messageIDs(page))
	require.True(t, page[1].Deleted())
	require.Empty(t, page[1].Content.Body)

	older, err := f.messages.List(ctx, f.room.ID, b.ID, 10)
	require.NoError(t, err)
	require.Equal(t, []int64{a.ID}, messageIDs(older))
}

func TestReplyMustTargetLiveMessageInSameRoom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	other := newGroup(t, f.members, 1)
	foreign, err := f.messages.Append(ctx, AppendParams{RoomID: other.ID, SenderID: 1, Content: text("elsewhere")})
	require.NoError(t, err)

	_, err = f.messages.Append(ctx, AppendParams{RoomID: f.room.ID, SenderID: 1, Content: text("re"), ReplyToID: &foreign.ID})
	require.ErrorIs(t, err, chaterr.ErrInvalidReference)

	target := f.send(t, 2, "question")
	reply, err := f.messages.Append(ctx, AppendParams{RoomID: f.room.ID, SenderID: 1, Content: text("answer"), ReplyToID: &target.ID})
	require.NoError(t, err)
	require.Equal(t, target.ID, *reply.ReplyToID)

	_, _, err = f.messages.SoftDelete(ctx, target.ID, 2)
	require.NoError(t, err)
	_, err = f.messages.Append(ctx, AppendParams{RoomID: f.room.ID, SenderID: 1, Content: text("late"), ReplyToID: &target.ID})
	require.ErrorIs(t, err, chaterr.ErrInvalidReference)
}

func TestEditHistoryReplaysToOriginal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.send(t, 1, "v1")

	_, err := f.messages.Edit(ctx, m.ID, 2, text("hijack"))
	require.ErrorIs(t, err, chaterr.ErrForbidden)

	for _, body := range []string{"v2", "v3"} {
		f.clock = f.clock.Add(time.Second)
		_, err := f.messages.Edit(ctx, m.ID, 1, text(body))
		require.NoError(t, err)
	}

	current, err := f.messages.Get(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, "v3", current.Content.Body)
	require.NotNil(t, current.EditedAt)

	history, err := f.messages.EditHistory(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "v1", history[0].PreviousContent.Body)
	require.Equal(t, "v2", history[1].PreviousContent.Body)
	require.True(t, history[0].EditedAt.Before(history[1].EditedAt))
}

func TestEditDeletedMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.send(t, 1, "gone soon")
	_, _, err := f.messages.SoftDelete(ctx, m.ID, 1)
	require.NoError(t, err)

	_, err = f.messages.Edit(ctx, m.ID, 1, text("again"))
	require.ErrorIs(t, err, chaterr.ErrAlreadyDeleted)
}

func TestSoftDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.send(t, 2, "oops")

	_, _, err := f.messages.SoftDelete(ctx, m.ID, 3)
	require.ErrorIs(t, err, chaterr.ErrForbidden)

	// owners may delete anyone's message
	deleted, changed, err := f.messages.SoftDelete(ctx, m.ID, 1)
	require.NoError(t, err)
	require.True(t, changed)
	require.NotNil(t, deleted.DeletedAt)

	again, changed, err := f.messages.SoftDelete(ctx, m.ID, 1)
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, *deleted.DeletedAt, *again.DeletedAt)
}

func TestToggleReaction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.send(t, 1, "nice")

	_, added, err := f.messages.ToggleReaction(ctx, m.ID, 2, "👍")
	require.NoError(t, err)
	require.True(t, added)

	_, added, err = f.messages.ToggleReaction(ctx, m.ID, 2, "👍")
	require.NoError(t, err)
	require.False(t, added)

	_, added, err = f.messages.ToggleReaction(ctx, m.ID, 2, "👍")
	require.NoError(t, err)
	require.True(t, added)

	_, _, err = f.messages.ToggleReaction(ctx, m.ID, 1, "🎉")
	require.NoError(t, err)

	reactions, err := f.messages.Reactions(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, reactions, 2)

	_, _, err = f.messages.SoftDelete(ctx, m.ID, 1)
	require.NoError(t, err)
	_, _, err = f.messages.ToggleReaction(ctx, m.ID, 2, "👍")
	require.ErrorIs(t, err, chaterr.ErrAlreadyDeleted)
}

func TestReadReceiptsAreMonotonic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.send(t, 1, "read me")
	t0 := f.clock

	r, changed, err := f.messages.MarkRead(ctx, m.ID, 2, t0.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, changed)

	kept, changed, err := f.messages.MarkRead(ctx, m.ID, 2, t0)
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, r.ReadAt, kept.ReadAt)

	_, changed, err = f.messages.MarkRead(ctx, m.ID, 2, t0.Add(2*time.Minute))
	require.NoError(t, err)
	require.True(t, changed)

	receipts, err := f.messages.ReadReceipts(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	require.Equal(t, t0.Add(2*time.Minute), receipts[0].ReadAt)
}

func TestUnreadCount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.send(t, 1, "one")
	f.send(t, 2, "mine")
	f.send(t, 1, "two")
	f.send(t, 1, "three")

	n, err := f.messages.UnreadCount(ctx, f.room.ID, 2)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	_, _, err = f.messages.MarkRead(ctx, first.ID, 2, f.clock)
	require.NoError(t, err)
	n, err = f.messages.UnreadCount(ctx, f.room.ID, 2)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestPinRequiresCapability(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.send(t, 2, "important")

	_, err := f.messages.Pin(ctx, m.ID, 2)
	require.ErrorIs(t, err, chaterr.ErrForbidden)

	pin, err := f.messages.Pin(ctx, m.ID, 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), pin.PinnedBy)

	again, err := f.messages.Pin(ctx, m.ID, 1)
	require.NoError(t, err)
	require.Equal(t, pin, again)

	pins, err := f.messages.Pinned(ctx, f.room.ID)
	require.NoError(t, err)
	require.Len(t, pins, 1)

	_, _, err = f.messages.SoftDelete(ctx, m.ID, 2)
	require.NoError(t, err)
	pins, err = f.messages.Pinned(ctx, f.room.ID)
	require.NoError(t, err)
	require.Empty(t, pins)

	removed, err := f.messages.Unpin(ctx, m.ID, 1)
	require.NoError(t, err)
	require.False(t, removed)
}

func TestForwardCopiesContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	target := newGroup(t, f.members, 2)
	src := f.send(t, 1, "pass it on")

	_, err := f.messages.Forward(ctx, src.ID, 1, target.ID)
	require.ErrorIs(t, err, chaterr.ErrForbidden)

	fwd, err := f.messages.Forward(ctx, src.ID, 2, target.ID)
	require.NoError(t, err)
	require.Equal(t, target.ID, fwd.RoomID)
	require.Equal(t, src.Content, fwd.Content)
	require.Equal(t, src.ID, *fwd.ForwardedFromID)

	updated, err := f.messages.Get(ctx, src.ID)
	require.NoError(t, err)
	require.Equal(t, 1, updated.ForwardCount)
}

func TestScheduledMessageHiddenUntilPromoted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	at := f.clock.Add(time.Hour)

	scheduled, err := f.messages.Append(ctx, AppendParams{RoomID: f.room.ID, SenderID: 1, Content: text("later"), ScheduledAt: &at})
	require.NoError(t, err)
	require.True(t, scheduled.Pending)

	page, err := f.messages.List(ctx, f.room.ID, 0, 10)
	require.NoError(t, err)
	require.Empty(t, page)

	promoted, err := f.messages.PromoteDue(ctx, f.clock.Add(time.Minute))
	require.NoError(t, err)
	require.Empty(t, promoted)

	promoted, err = f.messages.PromoteDue(ctx, at)
	require.NoError(t, err)
	require.Len(t, promoted, 1)
	require.False(t, promoted[0].Pending)

	page, err = f.messages.List(ctx, f.room.ID, 0, 10)
	require.NoError(t, err)
	require.Equal(t, []int64{scheduled.ID}, messageIDs(page))
}

func TestExpireDueSoftDeletes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	at := f.clock.Add(time.Minute)

	m, err := f.messages.Append(ctx, AppendParams{RoomID: f.room.ID, SenderID: 1, Content: text("ephemeral"), AutoDeleteAt: &at})
	require.NoError(t, err)
	f.send(t, 1, "durable")

	expired, err := f.messages.ExpireDue(ctx, at)
	require.NoError(t, err)
	require.Equal(t, []int64{m.ID}, messageIDs(expired))
	require.True(t, expired[0].Deleted())

	expired, err = f.messages.ExpireDue(ctx, at.Add(time.Hour))
	require.NoError(t, err)
	require.Empty(t, expired)
}

func TestAutoDeleteMustFollowScheduledSend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sendAt := f.clock.Add(60 * time.Second)
	deleteAt := f.clock.Add(10 * time.Second)

	_, err := f.messages.Append(ctx, AppendParams{RoomID: f.room.ID, SenderID: 1, Content: text("x"), ScheduledAt: &sendAt, AutoDeleteAt: &deleteAt})
	require.ErrorIs(t, err, chaterr.ErrInvalidAction)

	past := f.clock.Add(-time.Second)
	_, err = f.messages.Append(ctx, AppendParams{RoomID: f.room.ID, SenderID: 1, Content: text("x"), AutoDeleteAt: &past})
	require.ErrorIs(t, err, chaterr.ErrInvalidAction)

	_, err = f.messages.Append(ctx, AppendParams{RoomID: f.room.ID, SenderID: 1, Content: text("x"), ScheduledAt: &sendAt, AutoDeleteAt: &sendAt})
	require.ErrorIs(t, err, chaterr.ErrInvalidAction)
}

func TestExpireDueSkipsPendingMessages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sendAt := f.clock.Add(time.Minute)
	deleteAt := f.clock.Add(2 * time.Minute)

	m, err := f.messages.Append(ctx, AppendParams{RoomID: f.room.ID, SenderID: 1, Content: text("x"), ScheduledAt: &sendAt, AutoDeleteAt: &deleteAt})
	require.NoError(t, err)

	// Not yet promoted, so it must not be deleted even though both times passed.
	expired, err := f.messages.ExpireDue(ctx, deleteAt)
	require.NoError(t, err)
	require.Empty(t, expired)

	promoted, err := f.messages.PromoteDue(ctx, deleteAt)
	require.NoError(t, err)
	require.Equal(t, []int64{m.ID}, messageIDs(promoted))

	expired, err = f.messages.ExpireDue(ctx, deleteAt)
	require.NoError(t, err)
	require.Equal(t, []int64{m.ID}, messageIDs(expired))
}

func TestPromoteDueSkipsDeletedMessages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sendAt := f.clock.Add(time.Minute)

	m, err := f.messages.Append(ctx, AppendParams{RoomID: f.room.ID, SenderID: 1, Content: text("x"), ScheduledAt: &sendAt})
	require.NoError(t, err)
	_, changed, err := f.messages.SoftDelete(ctx, m.ID, 1)
	require.NoError(t, err)
	require.True(t, changed)

	promoted, err := f.messages.PromoteDue(ctx, sendAt)
	require.NoError(t, err)
	require.Empty(t, promoted)
}

func TestSearchRanksByRelevance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	exact := f.send(t, 1, "deploy the release today")
	partial := f.send(t, 2, "the release is out")
	f.send(t, 1, "unrelated chatter")
	newest := f.send(t, 2, "release notes")
	gone := f.send(t, 1, "deploy the release again")
	_, _, err := f.messages.SoftDelete(ctx, gone.ID, 1)
	require.NoError(t, err)

	results, err := f.messages.Search(ctx, SearchParams{RoomIDs: []int64{f.room.ID}, Query: "deploy the release"})
	require.NoError(t, err)
	require.Equal(t, []int64{exact.ID, partial.ID, newest.ID}, messageIDs(results))

	sender := int64(2)
	results, err = f.messages.Search(ctx, SearchParams{RoomIDs: []int64{f.room.ID}, Query: "release", SenderID: &sender})
	require.NoError(t, err)
	require.Equal(t, []int64{newest.ID, partial.ID}, messageIDs(results))

	_, err = f.messages.Search(ctx, SearchParams{RoomIDs: []int64{f.room.ID}, Query: "   "})
	require.ErrorIs(t, err, chaterr.ErrInvalidAction)
}

func TestPurgeRoomDropsEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.send(t, 1, "bye")

	require.NoError(t, f.messages.PurgeRoom(ctx, f.room.ID))
	_, err := f.messages.Get(ctx, m.ID)
	require.ErrorIs(t, err, chaterr.ErrNotFound)

	page, err := f.messages.List(ctx, f.room.ID, 0, 10)
	require.NoError(t, err)
	require.Empty(t, page)
}

func TestConcurrentAppendsKeepRoomOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.messages.Append(ctx, AppendParams{RoomID: f.room.ID, SenderID: int64(1 + i%2), Content: text(fmt.Sprintf("m%d", i))})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	page, err := f.messages.List(ctx, f.room.ID, 0, MaxPageSize)
	require.NoError(t, err)
	require.Len(t, page, 50)
	for i := 1; i < len(page); i++ {
		require.Greater(t, page[i-1].ID, page[i].ID)
	}
}

func TestHistoryIteratorWalksAllPages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i := 0; i < 7; i++ {
		f.send(t, 1, fmt.Sprintf("m%d", i))
	}

	it := NewHistoryIterator(f.messages, f.room.ID, 0, 3)
	var seen []int64
	for {
		page, err := it.Next(ctx)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		seen = append(seen, messageIDs(page)...)
	}
	require.Len(t, seen, 7)
	require.Equal(t, seen[6], it.Cursor())
}

func messageIDs(msgs []models.Message) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}
