package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the behavior every Store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	save := func(t *testing.T, s Store, in SaveInput) string {
		t.Helper()
		id, err := s.SaveNotification(context.Background(), in)
		require.NoError(t, err)
		require.NotEmpty(t, id)
		return id
	}

	t.Run("save and list newest first", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first := save(t, s, SaveInput{UserID: "u1", TaskID: "t1", Kind: KindTaskAssigned, Title: "a", Message: "m1",
			Data: map[string]any{"taskId": "t1", "deadline": nil}, Now: base})
		second := save(t, s, SaveInput{UserID: "u1", TaskID: "t1", Kind: KindTaskStatusChanged, Title: "b", Message: "m2",
			Now: base.Add(time.Minute)})
		save(t, s, SaveInput{UserID: "u2", TaskID: "t1", Kind: KindTaskCompleted, Title: "c", Now: base})

		recs, err := s.ListForUser(ctx, ListQuery{UserID: "u1"})
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, second, recs[0].ID)
		assert.Equal(t, first, recs[1].ID)

		assert.Equal(t, "u1", recs[1].UserID)
		assert.Equal(t, "t1", recs[1].TaskID)
		assert.Equal(t, KindTaskAssigned, recs[1].Kind)
		assert.Equal(t, "a", recs[1].Title)
		assert.Equal(t, "m1", recs[1].Message)
		assert.False(t, recs[1].Read)
		assert.True(t, base.Equal(recs[1].CreatedAt), "created_at %v", recs[1].CreatedAt)
		assert.Equal(t, "t1", recs[1].Data["taskId"])
		v, ok := recs[1].Data["deadline"]
		assert.True(t, ok)
		assert.Nil(t, v)

		assert.NotNil(t, recs[0].Data)
		assert.Empty(t, recs[0].Data)
	})

	t.Run("equal timestamps keep insertion order reversed", func(t *testing.T) {
		s := newStore(t)
		a := save(t, s, SaveInput{UserID: "u1", Kind: KindTeamInvitation, Title: "a", Now: base})
		b := save(t, s, SaveInput{UserID: "u1", Kind: KindTeamInvitation, Title: "b", Now: base})

		recs, err := s.ListForUser(context.Background(), ListQuery{UserID: "u1"})
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, b, recs[0].ID)
		assert.Equal(t, a, recs[1].ID)
		assert.Empty(t, recs[0].TaskID)
	})

	t.Run("paging and unread filter", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		var ids []string
		for i := 0; i < 5; i++ {
			ids = append(ids, save(t, s, SaveInput{UserID: "u1", Kind: KindTaskAssigned, Title: "x",
				Now: base.Add(time.Duration(i) * time.Second)}))
		}

		page, err := s.ListForUser(ctx, ListQuery{UserID: "u1", Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, ids[3], page[0].ID)
		assert.Equal(t, ids[2], page[1].ID)

		require.NoError(t, s.MarkRead(ctx, ids[4]))
		unread, err := s.ListForUser(ctx, ListQuery{UserID: "u1", UnreadOnly: true})
		require.NoError(t, err)
		require.Len(t, unread, 4)
		assert.Equal(t, ids[3], unread[0].ID)

		past, err := s.ListForUser(ctx, ListQuery{UserID: "u1", Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, past)
	})

	t.Run("read state", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a := save(t, s, SaveInput{UserID: "u1", Kind: KindTaskAssigned, Title: "a", Now: base})
		save(t, s, SaveInput{UserID: "u1", Kind: KindTaskAssigned, Title: "b", Now: base})
		save(t, s, SaveInput{UserID: "u2", Kind: KindTaskAssigned, Title: "c", Now: base})

		n, err := s.CountUnread(ctx, "u1")
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		require.NoError(t, s.MarkRead(ctx, a))
		require.NoError(t, s.MarkRead(ctx, a))
		n, err = s.CountUnread(ctx, "u1")
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		changed, err := s.MarkAllRead(ctx, "u1")
		require.NoError(t, err)
		assert.EqualValues(t, 1, changed)

		n, err = s.CountUnread(ctx, "u1")
		require.NoError(t, err)
		assert.Zero(t, n)

		n, err = s.CountUnread(ctx, "u2")
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		require.ErrorIs(t, s.MarkRead(ctx, "00000000-0000-0000-0000-000000000000"), ErrNotFound)
		require.ErrorIs(t, s.MarkRead(ctx, "not-a-uuid"), ErrNotFound)
	})

	t.Run("list for task", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		save(t, s, SaveInput{UserID: "u1", TaskID: "t1", Kind: KindTaskAssigned, Title: "a", Now: base})
		save(t, s, SaveInput{UserID: "u2", TaskID: "t1", Kind: KindTaskCompleted, Title: "b", Now: base.Add(time.Second)})
		save(t, s, SaveInput{UserID: "u1", TaskID: "t2", Kind: KindTaskAssigned, Title: "c", Now: base})

		recs, err := s.ListForTask(ctx, "t1")
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "u2", recs[0].UserID)
		assert.Equal(t, "u1", recs[1].UserID)

		_, err = s.ListForTask(ctx, "")
		require.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.SaveNotification(ctx, SaveInput{Kind: KindTaskAssigned, Title: "x"})
		require.ErrorIs(t, err, ErrInvalidInput)
		_, err = s.SaveNotification(ctx, SaveInput{UserID: "u1", Kind: "BOGUS", Title: "x"})
		require.ErrorIs(t, err, ErrInvalidInput)
		_, err = s.SaveNotification(ctx, SaveInput{UserID: "u1", Kind: KindTaskAssigned})
		require.ErrorIs(t, err, ErrInvalidInput)
		_, err = s.ListForUser(ctx, ListQuery{})
		require.ErrorIs(t, err, ErrInvalidInput)
	})
}
