package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/chatcore/internal/apierrors"
	"github.com/hrygo/chatcore/internal/model"
	"github.com/hrygo/chatcore/internal/store"
)

func newThread(t *testing.T, s *Store, userID, id string) *model.Thread {
	t.Helper()
	th := &model.Thread{ID: id, UserID: userID, Title: "untitled"}
	_, err := s.Create(context.Background(), th)
	require.NoError(t, err)
	got, err := s.Get(context.Background(), userID, id)
	require.NoError(t, err)
	return got
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	s := New()
	th := newThread(t, s, "u1", "t1")

	assert.Equal(t, "t1", th.ID)
	assert.NotEmpty(t, th.ETag)
	assert.EqualValues(t, 1, th.Version)
}

func TestGetCrossUserIsForbidden(t *testing.T) {
	s := New()
	newThread(t, s, "u1", "t1")

	_, err := s.Get(context.Background(), "u2", "t1")
	require.Error(t, err)
	assert.Equal(t, apierrors.Forbidden, apierrors.KindOf(err))
}

func TestGetMissingReturnsNilNil(t *testing.T) {
	s := New()
	th, err := s.Get(context.Background(), "u1", "missing")
	require.NoError(t, err)
	assert.Nil(t, th)
}

func TestUpdateStaleETagConflicts(t *testing.T) {
	s := New()
	th := newThread(t, s, "u1", "t1")
	staleETag := th.ETag

	_, _, err := s.Update(context.Background(), "u1", "t1", store.Mutation[*model.Thread]{
		Apply: func(t *model.Thread) *model.Thread { t.Title = "first edit"; return t },
	})
	require.NoError(t, err)

	_, _, err = s.Update(context.Background(), "u1", "t1", store.Mutation[*model.Thread]{
		IfMatch: staleETag,
		Apply:   func(t *model.Thread) *model.Thread { t.Title = "second edit"; return t },
	})
	require.Error(t, err)
	assert.Equal(t, apierrors.Conflict, apierrors.KindOf(err))

	current, err := s.Get(context.Background(), "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, "first edit", current.Title)
}

func TestUpdateRetryOnceRecoversFromConflict(t *testing.T) {
	s := New()
	th := newThread(t, s, "u1", "t1")
	staleETag := th.ETag

	_, _, err := s.Update(context.Background(), "u1", "t1", store.Mutation[*model.Thread]{
		Apply: func(t *model.Thread) *model.Thread { t.Title = "concurrent writer"; return t },
	})
	require.NoError(t, err)

	updated, _, err := s.Update(context.Background(), "u1", "t1", store.Mutation[*model.Thread]{
		IfMatch:   staleETag,
		RetryOnce: true,
		Apply:     func(t *model.Thread) *model.Thread { t.IsBookmarked = true; return t },
	})
	require.NoError(t, err)
	assert.True(t, updated.IsBookmarked)
	assert.Equal(t, "concurrent writer", updated.Title)
}

func TestSoftDeleteHidesFromGetAndListByDefault(t *testing.T) {
	s := New()
	newThread(t, s, "u1", "t1")

	_, err := s.SoftDelete(context.Background(), "u1", "t1", "")
	require.NoError(t, err)

	got, err := s.Get(context.Background(), "u1", "t1")
	require.NoError(t, err)
	assert.Nil(t, got)

	page, err := s.List(context.Background(), "u1", store.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	pageAll, err := s.List(context.Background(), "u1", store.ListOptions{IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, pageAll.Items, 1)
	assert.True(t, pageAll.Items[0].IsDeleted)
}

func TestRestoreMakesThreadVisibleAgain(t *testing.T) {
	s := New()
	newThread(t, s, "u1", "t1")
	_, err := s.SoftDelete(context.Background(), "u1", "t1", "")
	require.NoError(t, err)

	_, err = s.Restore(context.Background(), "u1", "t1")
	require.NoError(t, err)

	got, err := s.Get(context.Background(), "u1", "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.IsDeleted)
}

func TestListPaginationVisitsEveryThreadExactlyOnce(t *testing.T) {
	s := New()
	const total = 7
	for i := 0; i < total; i++ {
		newThread(t, s, "u1", string(rune('a'+i)))
	}

	seen := make(map[string]bool)
	token := ""
	for {
		page, err := s.List(context.Background(), "u1", store.ListOptions{Limit: 2, ContinuationToken: token})
		require.NoError(t, err)
		for _, th := range page.Items {
			assert.False(t, seen[th.ID], "thread %s seen twice", th.ID)
			seen[th.ID] = true
		}
		if !page.HasMore {
			break
		}
		token = page.ContinuationToken
	}
	assert.Len(t, seen, total)
}

func TestMessageUpsertInsertThenUpdate(t *testing.T) {
	s := New()
	newThread(t, s, "u1", "t1")

	msg := &model.Message{ID: "m1", ThreadID: "t1", UserID: "u1", Role: model.RoleUser, Content: "hello"}
	saved, _, err := s.Upsert(context.Background(), msg, "")
	require.NoError(t, err)
	assert.EqualValues(t, 1, saved.Version)

	saved.Content = "hello world"
	saved, _, err = s.Upsert(context.Background(), saved, saved.ETag)
	require.NoError(t, err)
	assert.Equal(t, "hello world", saved.Content)
	assert.EqualValues(t, 2, saved.Version)
}

func TestMessageUpsertStaleETagConflicts(t *testing.T) {
	s := New()
	newThread(t, s, "u1", "t1")
	msg := &model.Message{ID: "m1", ThreadID: "t1", UserID: "u1", Role: model.RoleUser, Content: "hello"}
	saved, _, err := s.Upsert(context.Background(), msg, "")
	require.NoError(t, err)

	_, _, err = s.Upsert(context.Background(), &model.Message{ID: "m1", ThreadID: "t1", UserID: "u1", Content: "race"}, "not-the-real-etag")
	require.Error(t, err)
	assert.Equal(t, apierrors.Conflict, apierrors.KindOf(err))

	_ = saved
}

func TestGetMessageCrossUserIsForbidden(t *testing.T) {
	s := New()
	newThread(t, s, "u1", "t1")
	_, _, err := s.Upsert(context.Background(), &model.Message{ID: "m1", ThreadID: "t1", UserID: "u1", Content: "hi"}, "")
	require.NoError(t, err)

	_, err = s.GetMessage(context.Background(), "u2", "t1", "m1")
	require.Error(t, err)
	assert.Equal(t, apierrors.Forbidden, apierrors.KindOf(err))
}

func TestListMessagesPaginationVisitsEveryMessageExactlyOnce(t *testing.T) {
	s := New()
	newThread(t, s, "u1", "t1")
	const total = 5
	for i := 0; i < total; i++ {
		_, _, err := s.Upsert(context.Background(), &model.Message{
			ID: string(rune('a' + i)), ThreadID: "t1", UserID: "u1", Content: "msg",
		}, "")
		require.NoError(t, err)
	}

	seen := make(map[string]bool)
	token := ""
	for {
		page, err := s.ListMessages(context.Background(), "u1", "t1", store.ListOptions{Limit: 2, ContinuationToken: token})
		require.NoError(t, err)
		for _, m := range page.Items {
			assert.False(t, seen[m.ID], "message %s seen twice", m.ID)
			seen[m.ID] = true
		}
		if !page.HasMore {
			break
		}
		token = page.ContinuationToken
	}
	assert.Len(t, seen, total)
}

func TestUpdateMessageStaleETagConflicts(t *testing.T) {
	s := New()
	newThread(t, s, "u1", "t1")
	msg, _, err := s.Upsert(context.Background(), &model.Message{ID: "m1", ThreadID: "t1", UserID: "u1", Content: "hello"}, "")
	require.NoError(t, err)
	staleETag := msg.ETag

	_, _, err = s.UpdateMessage(context.Background(), "u1", "t1", "m1", store.Mutation[*model.Message]{
		Apply: func(m *model.Message) *model.Message { m.Content = "first edit"; return m },
	})
	require.NoError(t, err)

	_, _, err = s.UpdateMessage(context.Background(), "u1", "t1", "m1", store.Mutation[*model.Message]{
		IfMatch: staleETag,
		Apply:   func(m *model.Message) *model.Message { m.Content = "second edit"; return m },
	})
	require.Error(t, err)
	assert.Equal(t, apierrors.Conflict, apierrors.KindOf(err))
}

func TestSoftDeleteMessageHidesFromGetAndCount(t *testing.T) {
	s := New()
	newThread(t, s, "u1", "t1")
	_, _, err := s.Upsert(context.Background(), &model.Message{ID: "m1", ThreadID: "t1", UserID: "u1", Content: "hi"}, "")
	require.NoError(t, err)

	_, err = s.SoftDeleteMessage(context.Background(), "u1", "t1", "m1", "")
	require.NoError(t, err)

	got, err := s.GetMessage(context.Background(), "u1", "t1", "m1")
	require.NoError(t, err)
	assert.Nil(t, got)

	count, err := s.Count(context.Background(), "u1", "t1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestHardDeleteMessageRemovesIt(t *testing.T) {
	s := New()
	newThread(t, s, "u1", "t1")
	_, _, err := s.Upsert(context.Background(), &model.Message{ID: "m1", ThreadID: "t1", UserID: "u1", Content: "hi"}, "")
	require.NoError(t, err)

	require.NoError(t, s.HardDeleteMessage(context.Background(), "u1", "t1", "m1"))

	got, err := s.GetMessage(context.Background(), "u1", "t1", "m1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBulkDeleteRemovesMultipleMessages(t *testing.T) {
	s := New()
	newThread(t, s, "u1", "t1")
	for _, id := range []string{"m1", "m2", "m3"} {
		_, _, err := s.Upsert(context.Background(), &model.Message{ID: id, ThreadID: "t1", UserID: "u1", Content: "hi"}, "")
		require.NoError(t, err)
	}

	require.NoError(t, s.BulkDelete(context.Background(), "u1", "t1", []string{"m1", "m2"}))

	count, err := s.Count(context.Background(), "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestGetLastReturnsMostRecentMessage(t *testing.T) {
	s := New()
	newThread(t, s, "u1", "t1")
	for i, content := range []string{"first", "second", "third"} {
		_, _, err := s.Upsert(context.Background(), &model.Message{
			ID: string(rune('a' + i)), ThreadID: "t1", UserID: "u1", Content: content,
		}, "")
		require.NoError(t, err)
	}

	last, err := s.GetLast(context.Background(), "u1", "t1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "third", last.Content)
}

func TestHardDeleteThreadCascadesMessages(t *testing.T) {
	s := New()
	newThread(t, s, "u1", "t1")
	_, _, err := s.Upsert(context.Background(), &model.Message{ID: "m1", ThreadID: "t1", UserID: "u1", Content: "hi"}, "")
	require.NoError(t, err)

	require.NoError(t, s.HardDelete(context.Background(), "u1", "t1"))

	_, err = s.Get(context.Background(), "u1", "t1")
	require.NoError(t, err)

	count, err := s.Count(context.Background(), "u1", "t1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

var _ store.Repository = (*Store)(nil)
