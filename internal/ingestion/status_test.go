package ingestion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func TestMemoryStatusStore_Lifecycle(t *testing.T) {
	s := NewMemoryStatusStore()
	ctx := context.Background()

	require.NoError(t, s.MarkUploading(ctx, "acme", "d1", "report.pdf"))
	st, err := s.Get(ctx, "acme", "d1")
	require.NoError(t, err)
	assert.Equal(t, StatusUploading, st.Status)
	assert.Equal(t, "report.pdf", st.Source)
	assert.False(t, st.Status.Terminal())

	first, err := s.Begin(ctx, "acme", "d1")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Attempt)
	assert.Equal(t, StatusProcessing, first.Status)

	// Uploading never downgrades a running attempt.
	require.NoError(t, s.MarkUploading(ctx, "acme", "d1", "other.pdf"))
	st, _ = s.Get(ctx, "acme", "d1")
	assert.Equal(t, StatusProcessing, st.Status)

	second, err := s.Begin(ctx, "acme", "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, second.Attempt)

	err = s.Complete(ctx, "acme", "d1", first.Attempt, 3, "p")
	assert.ErrorIs(t, err, ErrStaleAttempt)

	require.NoError(t, s.Complete(ctx, "acme", "d1", second.Attempt, 3, "preview"))
	st, _ = s.Get(ctx, "acme", "d1")
	assert.Equal(t, StatusCompleted, st.Status)
	assert.True(t, st.Status.Terminal())
	assert.Equal(t, 3, st.ChunkCount)
	require.NotNil(t, st.ProcessedAt)

	assert.ErrorIs(t, s.Fail(ctx, "acme", "d1", second.Attempt, "late"), ErrStaleAttempt)
}

func TestMemoryStatusStore_FailAndDelete(t *testing.T) {
	s := NewMemoryStatusStore()
	ctx := context.Background()

	st, err := s.Begin(ctx, "acme", "d1")
	require.NoError(t, err)
	require.NoError(t, s.Fail(ctx, "acme", "d1", st.Attempt, "empty content"))
	got, _ := s.Get(ctx, "acme", "d1")
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "empty content", got.Error)

	_, err = s.Begin(ctx, "acme", "d2")
	require.NoError(t, err)
	_, err = s.Begin(ctx, "globex", "d1")
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "acme", "d1"))
	_, err = s.Get(ctx, "acme", "d1")
	assert.True(t, IsNotFound(err))

	n, err := s.DeleteTenant(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Get(ctx, "globex", "d1")
	assert.NoError(t, err)
}

func TestMemoryStatusStore_List(t *testing.T) {
	s := NewMemoryStatusStore()
	ctx := context.Background()

	list, err := s.List(ctx, "acme")
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	defer func(orig func() time.Time) { timeNow = orig }(timeNow)
	timeNow = func() time.Time { return clock }

	require.NoError(t, s.MarkUploading(ctx, "acme", "old", "old.txt"))
	_, err = s.Begin(ctx, "globex", "other")
	require.NoError(t, err)
	clock = clock.Add(time.Minute)
	_, err = s.Begin(ctx, "acme", "b")
	require.NoError(t, err)
	_, err = s.Begin(ctx, "acme", "a")
	require.NoError(t, err)

	list, err = s.List(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "a", list[0].DocumentID, "ties break on document id")
	assert.Equal(t, "b", list[1].DocumentID)
	assert.Equal(t, "old", list[2].DocumentID)
	assert.Equal(t, StatusUploading, list[2].Status)
	for _, d := range list {
		assert.Equal(t, "acme", d.TenantID)
	}
}

const statusNS = "ragd.documents"

func statusDoc(t *testing.T, st DocumentStatus) bson.D {
	t.Helper()
	raw, err := bson.Marshal(st)
	require.NoError(t, err)
	var d bson.D
	require.NoError(t, bson.Unmarshal(raw, &d))
	return d
}

func TestMongoStatusStore(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mt.Run("begin returns updated record", func(mt *mtest.T) {
		s := NewMongoStatusStore(mt.DB, nil)
		want := DocumentStatus{
			ID: "acme/d1", TenantID: "acme", DocumentID: "d1",
			Status: StatusProcessing, Attempt: 2, CreatedAt: ts, UpdatedAt: ts,
		}
		mt.AddMockResponses(bson.D{
			{Key: "ok", Value: 1},
			{Key: "value", Value: statusDoc(t, want)},
		})

		got, err := s.Begin(ctx, "acme", "d1")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	mt.Run("complete current attempt", func(mt *mtest.T) {
		s := NewMongoStatusStore(mt.DB, nil)
		mt.AddMockResponses(bson.D{{Key: "ok", Value: 1}, {Key: "n", Value: 1}, {Key: "nModified", Value: 1}})

		require.NoError(t, s.Complete(ctx, "acme", "d1", 2, 4, "preview"))
	})

	mt.Run("stale attempt", func(mt *mtest.T) {
		s := NewMongoStatusStore(mt.DB, nil)
		mt.AddMockResponses(bson.D{{Key: "ok", Value: 1}, {Key: "n", Value: 0}, {Key: "nModified", Value: 0}})

		err := s.Fail(ctx, "acme", "d1", 1, "boom")
		assert.ErrorIs(t, err, ErrStaleAttempt)
	})

	mt.Run("mark uploading while processing", func(mt *mtest.T) {
		s := NewMongoStatusStore(mt.DB, nil)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "duplicate key"}))

		assert.NoError(t, s.MarkUploading(ctx, "acme", "d1", "a.txt"))
	})

	mt.Run("get missing", func(mt *mtest.T) {
		s := NewMongoStatusStore(mt.DB, nil)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, statusNS, mtest.FirstBatch))

		_, err := s.Get(ctx, "acme", "nope")
		assert.True(t, IsNotFound(err))
	})

	mt.Run("get found", func(mt *mtest.T) {
		s := NewMongoStatusStore(mt.DB, nil)
		done := ts.Add(time.Minute)
		want := DocumentStatus{
			ID: "acme/d1", TenantID: "acme", DocumentID: "d1", Source: "a.txt",
			Status: StatusCompleted, Attempt: 1, ChunkCount: 4, Preview: "hello",
			CreatedAt: ts, UpdatedAt: done, ProcessedAt: &done,
		}
		mt.AddMockResponses(mtest.CreateCursorResponse(0, statusNS, mtest.FirstBatch, statusDoc(t, want)))

		got, err := s.Get(ctx, "acme", "d1")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	mt.Run("list tenant", func(mt *mtest.T) {
		s := NewMongoStatusStore(mt.DB, nil)
		first := DocumentStatus{
			ID: "acme/d2", TenantID: "acme", DocumentID: "d2",
			Status: StatusProcessing, Attempt: 1, CreatedAt: ts, UpdatedAt: ts.Add(time.Minute),
		}
		second := DocumentStatus{
			ID: "acme/d1", TenantID: "acme", DocumentID: "d1",
			Status: StatusFailed, Attempt: 1, Error: "empty content", CreatedAt: ts, UpdatedAt: ts,
		}
		mt.AddMockResponses(mtest.CreateCursorResponse(0, statusNS, mtest.FirstBatch,
			statusDoc(t, first), statusDoc(t, second)))

		got, err := s.List(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, []DocumentStatus{first, second}, got)
	})

	mt.Run("list empty", func(mt *mtest.T) {
		s := NewMongoStatusStore(mt.DB, nil)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, statusNS, mtest.FirstBatch))

		got, err := s.List(ctx, "acme")
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	mt.Run("delete tenant", func(mt *mtest.T) {
		s := NewMongoStatusStore(mt.DB, nil)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 5}))

		n, err := s.DeleteTenant(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, 5, n)
	})
}
