package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/real-rm/meetupchat/internal/chat"
	"github.com/real-rm/meetupchat/internal/testutil"
)

func openTestBadger(t *testing.T) *BadgerBackend {
	t.Helper()
	backend, err := OpenBadgerBackend(t.TempDir(), testutil.CreateTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

func TestBadger_CreateRoomIsIdempotent(t *testing.T) {
	b := openTestBadger(t)
	ctx := context.Background()

	room, created, err := b.CreateRoom(ctx, 100)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, chat.GroupID(100), room.GroupID)
	assert.Positive(t, int64(room.ID))

	again, created, err := b.CreateRoom(ctx, 100)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, room.ID, again.ID)

	other, _, err := b.CreateRoom(ctx, 101)
	require.NoError(t, err)
	assert.NotEqual(t, room.ID, other.ID)
}

func TestBadger_ConcurrentCreateRoomYieldsOneRoom(t *testing.T) {
	b := openTestBadger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]chat.RoomID, 10)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room, _, err := b.CreateRoom(ctx, 7)
			assert.NoError(t, err)
			if room != nil {
				ids[i] = room.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestBadger_FindRoom(t *testing.T) {
	b := openTestBadger(t)
	ctx := context.Background()

	room, _, err := b.CreateRoom(ctx, 5)
	require.NoError(t, err)

	byID, err := b.FindRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, room.GroupID, byID.GroupID)
	assert.True(t, room.CreatedAt.Equal(byID.CreatedAt))

	byGroup, err := b.FindRoomByGroup(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, room.ID, byGroup.ID)

	_, err = b.FindRoom(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = b.FindRoomByGroup(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadger_Memberships(t *testing.T) {
	b := openTestBadger(t)
	ctx := context.Background()

	first, err := b.AddMember(ctx, 1, 42)
	require.NoError(t, err)
	assert.Equal(t, chat.MemberID(42), first.MemberID)

	second, err := b.AddMember(ctx, 1, 42)
	require.NoError(t, err)
	assert.True(t, first.JoinedAt.Equal(second.JoinedAt), "joining twice returns the existing membership")

	found, err := b.FindMembership(ctx, 1, 42)
	require.NoError(t, err)
	assert.Equal(t, chat.RoomID(1), found.RoomID)

	require.NoError(t, b.RemoveMember(ctx, 1, 42))
	assert.ErrorIs(t, b.RemoveMember(ctx, 1, 42), ErrNotFound)
	_, err = b.FindMembership(ctx, 1, 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadger_MessagesOrderedAndIsolatedByRoom(t *testing.T) {
	b := openTestBadger(t)
	ctx := context.Background()

	var lastID chat.MessageID
	for i := 0; i < 6; i++ {
		room := chat.RoomID(i%2 + 1)
		msg := &chat.ChatMessage{RoomID: room, SenderID: 1, Content: "m"}
		require.NoError(t, b.InsertMessage(ctx, msg))
		assert.Greater(t, msg.ID, lastID, "ids must strictly increase")
		lastID = msg.ID
	}

	room1, err := b.FindMessages(ctx, 1, nil, 10)
	require.NoError(t, err)
	require.Len(t, room1, 3)
	for i := 1; i < len(room1); i++ {
		assert.Greater(t, room1[i-1].ID, room1[i].ID)
	}
	for _, m := range room1 {
		assert.Equal(t, chat.RoomID(1), m.RoomID)
	}
}

func TestBadger_FindMessagesCursorIsInclusive(t *testing.T) {
	b := openTestBadger(t)
	ctx := context.Background()

	var ids []chat.MessageID
	for i := 0; i < 5; i++ {
		msg := &chat.ChatMessage{RoomID: 3, SenderID: 1, Content: "m"}
		require.NoError(t, b.InsertMessage(ctx, msg))
		ids = append(ids, msg.ID)
	}

	cursor := ids[2]
	rows, err := b.FindMessages(ctx, 3, &cursor, 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, ids[2], rows[0].ID)
	assert.Equal(t, ids[0], rows[2].ID)
}

func TestBadger_SoftDelete(t *testing.T) {
	b := openTestBadger(t)
	ctx := context.Background()

	keep := &chat.ChatMessage{RoomID: 1, SenderID: 1, Content: "keep"}
	drop := &chat.ChatMessage{RoomID: 1, SenderID: 1, Content: "drop"}
	require.NoError(t, b.InsertMessage(ctx, keep))
	require.NoError(t, b.InsertMessage(ctx, drop))

	require.NoError(t, b.SoftDeleteMessage(ctx, 1, drop.ID, drop.CreatedAt))
	assert.ErrorIs(t, b.SoftDeleteMessage(ctx, 1, drop.ID, drop.CreatedAt), ErrNotFound)
	assert.ErrorIs(t, b.SoftDeleteMessage(ctx, 2, keep.ID, keep.CreatedAt), ErrNotFound)

	rows, err := b.FindMessages(ctx, 1, nil, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, keep.ID, rows[0].ID)
}

func TestBadger_IDsKeepIncreasingAfterReopen(t *testing.T) {
	dir := t.TempDir()
	logger := testutil.CreateTestLogger(t)
	ctx := context.Background()

	b, err := OpenBadgerBackend(dir, logger)
	require.NoError(t, err)
	first := &chat.ChatMessage{RoomID: 1, SenderID: 1, Content: "before"}
	require.NoError(t, b.InsertMessage(ctx, first))
	require.NoError(t, b.Close())

	b, err = OpenBadgerBackend(dir, logger)
	require.NoError(t, err)
	defer b.Close()
	second := &chat.ChatMessage{RoomID: 1, SenderID: 1, Content: "after"}
	require.NoError(t, b.InsertMessage(ctx, second))

	assert.Greater(t, second.ID, first.ID)

	rows, err := b.FindMessages(ctx, 1, nil, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "after", rows[0].Content)
}

func TestBadger_PingAndClose(t *testing.T) {
	b, err := OpenBadgerBackend(t.TempDir(), testutil.CreateTestLogger(t))
	require.NoError(t, err)

	assert.NoError(t, b.Ping(context.Background()))
	assert.Equal(t, "badger", b.Name())
	require.NoError(t, b.Close())
	assert.Error(t, b.Ping(context.Background()))
}
