package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidexp/retrieval-engine/models"
	"github.com/tidexp/retrieval-engine/repositories"
	"go.uber.org/zap"
)

func chunksFor(sourceID string, contents ...string) []*models.Chunk {
	out := make([]*models.Chunk, len(contents))
	for i, content := range contents {
		out[i] = models.NewChunk(sourceID, i, models.ChunkInput{
			Content:   content,
			Embedding: []float64{float64(i), 0.5},
		})
	}
	return out
}

func contentsOf(chunks []*models.Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Content
	}
	return out
}

func TestStore_InsertAndRead(t *testing.T) {
	store := NewStore(zap.NewNop())
	ctx := context.Background()

	b := chunksFor("b", "b0", "b1")
	a := chunksFor("a", "a0", "a1")
	require.NoError(t, store.Chunks().InsertBatch(ctx, []*models.Chunk{b[1], a[1], a[0], b[0]}))

	got, err := store.Chunks().GetBySourceID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a0", "a1"}, contentsOf(got))

	all, err := store.Chunks().GetBySourceIDs(ctx, []string{"b", "a", "b", "zzz"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a0", "a1", "b0", "b1"}, contentsOf(all))

	none, err := store.Chunks().GetBySourceIDs(ctx, nil)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestStore_ReturnsCopies(t *testing.T) {
	store := NewStore(zap.NewNop())
	ctx := context.Background()

	in := chunksFor("doc", "x")
	require.NoError(t, store.Chunks().InsertBatch(ctx, in))
	in[0].Embedding[0] = 42

	got, err := store.Chunks().GetBySourceID(ctx, "doc")
	require.NoError(t, err)
	got[0].Embedding[1] = 99

	again, err := store.Chunks().GetBySourceID(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.5}, again[0].Embedding)
}

func TestStore_DuplicateIndexRejectsWholeBatch(t *testing.T) {
	store := NewStore(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, store.Chunks().InsertBatch(ctx, chunksFor("doc", "x")))

	batch := append(chunksFor("other", "fine"), chunksFor("doc", "dup")...)
	err := store.Chunks().InsertBatch(ctx, batch)
	require.Error(t, err)
	assert.True(t, errors.Is(err, repositories.ErrDuplicateChunk))

	other, err := store.Chunks().GetBySourceID(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	store := NewStore(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, store.Chunks().InsertBatch(ctx, chunksFor("doc", "x", "y")))

	deleted, err := store.Chunks().DeleteBySourceID(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	deleted, err = store.Chunks().DeleteBySourceID(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)
}

func TestTransaction_StagedUntilCommit(t *testing.T) {
	store := NewStore(zap.NewNop())
	ctx := context.Background()
	require.NoError(t, store.Chunks().InsertBatch(ctx, chunksFor("doc", "old")))

	tx, err := store.TransactionManager().Begin(ctx)
	require.NoError(t, err)

	repo := store.Chunks().WithTx(tx)
	require.NoError(t, repo.LockSource(ctx, "doc"))
	deleted, err := repo.DeleteBySourceID(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	require.NoError(t, repo.InsertBatch(ctx, chunksFor("doc", "new0", "new1")))

	inside, err := repo.GetBySourceID(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, []string{"new0", "new1"}, contentsOf(inside))

	outside, err := store.Chunks().GetBySourceID(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, contentsOf(outside), "readers see the committed set only")

	require.NoError(t, tx.Commit())

	after, err := store.Chunks().GetBySourceID(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, []string{"new0", "new1"}, contentsOf(after))

	assert.ErrorIs(t, tx.Commit(), ErrTxDone)
	assert.NoError(t, tx.Rollback())
}

func TestTransaction_RollbackDiscards(t *testing.T) {
	store := NewStore(zap.NewNop())
	ctx := context.Background()
	require.NoError(t, store.Chunks().InsertBatch(ctx, chunksFor("doc", "old")))

	failure := errors.New("batch 2 failed")
	err := store.TransactionManager().InTransaction(ctx, func(ctx context.Context, tx repositories.Transaction) error {
		repo := store.Chunks()
		require.NoError(t, repo.LockSource(ctx, "doc"))
		_, err := repo.DeleteBySourceID(ctx, "doc")
		require.NoError(t, err)
		require.NoError(t, repo.InsertBatch(ctx, chunksFor("doc", "partial")))
		return failure
	})
	assert.ErrorIs(t, err, failure)

	got, err := store.Chunks().GetBySourceID(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, contentsOf(got))

	// The lock is released by the rollback
	lockCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	tx, err := store.TransactionManager().Begin(lockCtx)
	require.NoError(t, err)
	assert.NoError(t, store.Chunks().WithTx(tx).LockSource(lockCtx, "doc"))
	assert.NoError(t, tx.Rollback())
}

func TestTransaction_SourceLockSerializesWriters(t *testing.T) {
	store := NewStore(zap.NewNop())
	ctx := context.Background()

	first, err := store.TransactionManager().Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Chunks().WithTx(first).LockSource(ctx, "doc"))

	second, err := store.TransactionManager().Begin(ctx)
	require.NoError(t, err)

	acquired := make(chan error, 1)
	go func() {
		acquired <- store.Chunks().WithTx(second).LockSource(ctx, "doc")
	}()

	select {
	case <-acquired:
		t.Fatal("second writer acquired the lock while the first held it")
	case <-time.After(50 * time.Millisecond):
	}

	// A different source is not blocked
	require.NoError(t, store.Chunks().WithTx(second).LockSource(ctx, "other"))

	require.NoError(t, first.Commit())

	select {
	case err := <-acquired:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second writer never acquired the lock")
	}
	require.NoError(t, second.Rollback())
}

func TestTransaction_LockHonorsCancellation(t *testing.T) {
	store := NewStore(zap.NewNop())

	holder, err := store.TransactionManager().Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, store.Chunks().WithTx(holder).LockSource(context.Background(), "doc"))
	defer holder.Rollback()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	waiter, err := store.TransactionManager().Begin(context.Background())
	require.NoError(t, err)

	err = store.Chunks().WithTx(waiter).LockSource(ctx, "doc")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NoError(t, waiter.Rollback())
}

func TestStore_HealthCheck(t *testing.T) {
	store := NewStore(zap.NewNop())
	assert.NoError(t, store.HealthCheck(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, store.HealthCheck(ctx))
	assert.NoError(t, store.Close())
}
