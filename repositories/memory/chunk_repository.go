package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/tidexp/retrieval-engine/models"
	"github.com/tidexp/retrieval-engine/repositories"
)

type chunkRepository struct {
	store *Store
	tx    *transaction
}

var _ repositories.ChunkRepository = (*chunkRepository)(nil)

func (r *chunkRepository) txFor(ctx context.Context) *transaction {
	if r.tx != nil {
		return r.tx
	}
	if tx, ok := transactionFromContext(ctx); ok {
		return tx
	}
	return nil
}

// LockSource holds the per-source lock until the transaction finishes
func (r *chunkRepository) LockSource(ctx context.Context, sourceID string) error {
	tx := r.txFor(ctx)
	if tx == nil {
		return ctx.Err()
	}
	return tx.lock(ctx, sourceID)
}

// InsertBatch adds chunks; a (source, index) pair that already exists fails the whole batch
func (r *chunkRepository) InsertBatch(ctx context.Context, chunks []*models.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	order, groups := groupBySource(chunks)

	if tx := r.txFor(ctx); tx != nil {
		for _, sourceID := range order {
			add := groups[sourceID]
			if err := tx.stage(sourceID, func(rows []*models.Chunk) ([]*models.Chunk, error) {
				return insertRows(rows, add)
			}); err != nil {
				return fmt.Errorf("inserting chunks: %w", err)
			}
		}
		return nil
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	changes := make(map[string][]*models.Chunk, len(order))
	for _, sourceID := range order {
		rows, err := insertRows(r.store.sources[sourceID], groups[sourceID])
		if err != nil {
			return fmt.Errorf("inserting chunks: %w", err)
		}
		changes[sourceID] = rows
	}
	for sourceID, rows := range changes {
		r.store.sources[sourceID] = rows
	}
	return nil
}

// GetBySourceID retrieves all chunks of a source ordered by chunk index
func (r *chunkRepository) GetBySourceID(ctx context.Context, sourceID string) ([]*models.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := r.rows(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	return cloneAll(rows), nil
}

// GetBySourceIDs retrieves the chunks of several sources ordered by source id, then chunk index
func (r *chunkRepository) GetBySourceIDs(ctx context.Context, sourceIDs []string) ([]*models.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(sourceIDs))
	seen := make(map[string]bool, len(sourceIDs))
	for _, id := range sourceIDs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := []*models.Chunk{}
	for _, id := range ids {
		rows, err := r.rows(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, cloneAll(rows)...)
	}
	return out, nil
}

// DeleteBySourceID removes every chunk of a source
func (r *chunkRepository) DeleteBySourceID(ctx context.Context, sourceID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if tx := r.txFor(ctx); tx != nil {
		var deleted int64
		err := tx.stage(sourceID, func(rows []*models.Chunk) ([]*models.Chunk, error) {
			deleted = int64(len(rows))
			return []*models.Chunk{}, nil
		})
		return deleted, err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	deleted := int64(len(r.store.sources[sourceID]))
	delete(r.store.sources, sourceID)
	return deleted, nil
}

// WithTx returns a new repository instance bound to the transaction
func (r *chunkRepository) WithTx(tx repositories.Transaction) repositories.ChunkRepository {
	memTx, ok := tx.(*transaction)
	if !ok || memTx == nil {
		return r
	}
	return &chunkRepository{store: r.store, tx: memTx}
}

func (r *chunkRepository) rows(ctx context.Context, sourceID string) ([]*models.Chunk, error) {
	if tx := r.txFor(ctx); tx != nil {
		return tx.read(sourceID)
	}
	return r.store.committed(sourceID), nil
}

// groupBySource splits chunks by source, keeping first-appearance order
func groupBySource(chunks []*models.Chunk) ([]string, map[string][]*models.Chunk) {
	var order []string
	groups := make(map[string][]*models.Chunk)
	for _, c := range chunks {
		if _, ok := groups[c.SourceID]; !ok {
			order = append(order, c.SourceID)
		}
		groups[c.SourceID] = append(groups[c.SourceID], c)
	}
	return order, groups
}

// insertRows returns a new slice holding rows plus copies of add, ordered by chunk index
func insertRows(rows, add []*models.Chunk) ([]*models.Chunk, error) {
	taken := make(map[int]bool, len(rows)+len(add))
	for _, c := range rows {
		taken[c.ChunkIndex] = true
	}

	out := make([]*models.Chunk, len(rows), len(rows)+len(add))
	copy(out, rows)
	for _, c := range add {
		if c.Content == "" {
			return nil, fmt.Errorf("chunk %s/%d has empty content", c.SourceID, c.ChunkIndex)
		}
		if c.ChunkIndex < 0 {
			return nil, fmt.Errorf("chunk %s has negative index %d", c.SourceID, c.ChunkIndex)
		}
		if taken[c.ChunkIndex] {
			return nil, repositories.ErrDuplicateChunk
		}
		taken[c.ChunkIndex] = true
		out = append(out, c.Clone())
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ChunkIndex < out[j].ChunkIndex
	})
	return out, nil
}

func cloneAll(rows []*models.Chunk) []*models.Chunk {
	out := make([]*models.Chunk, len(rows))
	for i, c := range rows {
		out[i] = c.Clone()
	}
	return out
}
