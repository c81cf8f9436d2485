package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/real-rm/meetupchat/internal/chat"
	"github.com/real-rm/meetupchat/internal/constants"
	"github.com/real-rm/meetupchat/internal/testutil"
)

func newTestStore(t *testing.T) *MessageStore {
	t.Helper()
	return NewMessageStore(openTestBadger(t), testutil.CreateTestLogger(t))
}

func ids(messages []*chat.ChatMessage) []chat.MessageID {
	out := make([]chat.MessageID, len(messages))
	for i, m := range messages {
		out[i] = m.ID
	}
	return out
}

func cursorOf(id chat.MessageID) *chat.MessageID {
	return &id
}

// seedTenToSix leaves room 2 holding exactly ids 6..10
func seedTenToSix(t *testing.T, s *MessageStore) {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= 10; i++ {
		room := chat.RoomID(1)
		if i > 5 {
			room = 2
		}
		msg, err := s.Append(ctx, room, 1, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
		require.Equal(t, chat.MessageID(i), msg.ID)
	}
}

func TestGetMessages_InclusiveCursorWalk(t *testing.T) {
	s := newTestStore(t)
	seedTenToSix(t, s)
	ctx := context.Background()

	page, err := s.GetMessages(ctx, 2, nil, 2)
	require.NoError(t, err)
	assert.Equal(t, []chat.MessageID{10, 9}, ids(page.Messages))
	assert.True(t, page.HasNext)
	require.NotNil(t, page.NextCursor)
	assert.Equal(t, chat.MessageID(9), *page.NextCursor)

	// The cursor row is returned again at the top of the next page.
	page, err = s.GetMessages(ctx, 2, page.NextCursor, 2)
	require.NoError(t, err)
	assert.Equal(t, []chat.MessageID{9, 8}, ids(page.Messages))
	assert.True(t, page.HasNext)
	assert.Equal(t, chat.MessageID(8), *page.NextCursor)

	page, err = s.GetMessages(ctx, 2, cursorOf(7), 2)
	require.NoError(t, err)
	assert.Equal(t, []chat.MessageID{7, 6}, ids(page.Messages))
	assert.False(t, page.HasNext)
	assert.Equal(t, chat.MessageID(6), *page.NextCursor)

	page, err = s.GetMessages(ctx, 2, cursorOf(6), 2)
	require.NoError(t, err)
	assert.Equal(t, []chat.MessageID{6}, ids(page.Messages))
	assert.False(t, page.HasNext)
}

func TestGetMessages_TooSmallPageSizeStillAdvances(t *testing.T) {
	s := newTestStore(t)
	seedTenToSix(t, s)
	ctx := context.Background()

	for _, size := range []int{1, -3} {
		page, err := s.GetMessages(ctx, 2, nil, size)
		require.NoError(t, err)
		assert.Equal(t, []chat.MessageID{10, 9}, ids(page.Messages))
		assert.True(t, page.HasNext)

		pages := 1
		for page.HasNext {
			require.Less(t, pages, 10, "cursor walk must terminate")
			prev := *page.NextCursor
			page, err = s.GetMessages(ctx, 2, page.NextCursor, size)
			require.NoError(t, err)
			require.NotNil(t, page.NextCursor)
			assert.Less(t, *page.NextCursor, prev)
			pages++
		}
		assert.Equal(t, chat.MessageID(6), *page.NextCursor)
	}
}

func TestGetMessages_PageSizePlusOneBoundary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Append(ctx, 1, 1, "m")
		require.NoError(t, err)
	}

	page, err := s.GetMessages(ctx, 1, nil, 3)
	require.NoError(t, err)
	assert.Len(t, page.Messages, 3)
	assert.False(t, page.HasNext, "exactly pageSize rows means no next page")

	_, err = s.Append(ctx, 1, 1, "m")
	require.NoError(t, err)

	page, err = s.GetMessages(ctx, 1, nil, 3)
	require.NoError(t, err)
	assert.Len(t, page.Messages, 3)
	assert.True(t, page.HasNext, "pageSize+1 rows means a next page")
}

func TestGetMessages_EmptyRoom(t *testing.T) {
	s := newTestStore(t)

	page, err := s.GetMessages(context.Background(), 1, nil, 20)
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
	assert.Nil(t, page.NextCursor)
	assert.False(t, page.HasNext)

	page, err = s.GetMessages(context.Background(), 1, cursorOf(50), 20)
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
	assert.Nil(t, page.NextCursor)
}

func TestAppend_ThenFirstPageStartsWithIt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTenToSix(t, s)

	msg, err := s.Append(ctx, 2, 77, "latest")
	require.NoError(t, err)
	assert.Equal(t, chat.MessageID(11), msg.ID)
	assert.False(t, msg.CreatedAt.IsZero())

	page, err := s.GetMessages(ctx, 2, nil, constants.DefaultPageSize)
	require.NoError(t, err)
	require.NotEmpty(t, page.Messages)
	assert.Equal(t, msg.ID, page.Messages[0].ID)
	assert.Equal(t, "latest", page.Messages[0].Content)
	assert.Equal(t, chat.MemberID(77), page.Messages[0].SenderID)
}

func TestAppend_Validation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, 0, 1, "x")
	assert.ErrorIs(t, err, ErrInvalidID)
	_, err = s.Append(ctx, 1, 0, "x")
	assert.ErrorIs(t, err, ErrInvalidID)
	_, err = s.Append(ctx, 1, 1, "  ")
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestSoftDelete_ExcludedButIDReserved(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.Append(ctx, 1, 1, "a")
	require.NoError(t, err)
	b, err := s.Append(ctx, 1, 1, "b")
	require.NoError(t, err)

	require.NoError(t, s.SoftDelete(ctx, 1, b.ID))
	assert.ErrorIs(t, s.SoftDelete(ctx, 1, b.ID), ErrNotFound)

	page, err := s.GetMessages(ctx, 1, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, []chat.MessageID{a.ID}, ids(page.Messages))

	c, err := s.Append(ctx, 1, 1, "c")
	require.NoError(t, err)
	assert.Greater(t, c.ID, b.ID, "deleted ids are never reused")
}

func TestNormalizePageSize(t *testing.T) {
	assert.Equal(t, constants.DefaultPageSize, normalizePageSize(0))
	assert.Equal(t, constants.MinPageSize, normalizePageSize(-4))
	assert.Equal(t, constants.MinPageSize, normalizePageSize(1))
	assert.Equal(t, constants.MaxPageSize, normalizePageSize(constants.MaxPageSize+50))
	assert.Equal(t, 7, normalizePageSize(7))
}
