package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"claridoc/internal/model"
)

type ChunkRepository struct {
	db        *gorm.DB
	batchSize int
}

// NewChunkRepository creates a chunk repository. batchSize bounds how many
// rows go into one insert statement; the store-side limit is what matters,
// each batch commits independently of the others.
func NewChunkRepository(db *gorm.DB, batchSize int) *ChunkRepository {
	if batchSize <= 0 {
		batchSize = 400
	}
	return &ChunkRepository{db: db, batchSize: batchSize}
}

// CreateBatch inserts chunks in bounded batches. Earlier batches stay
// committed if a later one fails; chunk rows are deterministic per document,
// so re-running ingestion re-derives the same rows.
func (r *ChunkRepository) CreateBatch(ctx context.Context, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(&chunks, r.batchSize).Error; err != nil {
		return fmt.Errorf("create chunks batch failed: %w", err)
	}
	return nil
}

// ListByDocumentID returns the document's chunks in canonical order.
func (r *ChunkRepository) ListByDocumentID(ctx context.Context, documentID uint) ([]model.Chunk, error) {
	var chunks []model.Chunk
	if err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("chunk_index ASC").
		Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("list chunks by document failed: %w", err)
	}
	return chunks, nil
}

// UpdateEmbedding backfills a freshly computed vector onto its chunk row.
func (r *ChunkRepository) UpdateEmbedding(ctx context.Context, chunkID uint, embedding string) error {
	if err := r.db.WithContext(ctx).
		Model(&model.Chunk{}).
		Where("id = ?", chunkID).
		Update("embedding", embedding).Error; err != nil {
		return fmt.Errorf("update chunk embedding failed: %w", err)
	}
	return nil
}

func (r *ChunkRepository) DeleteByDocumentID(ctx context.Context, documentID uint) error {
	if err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Delete(&model.Chunk{}).Error; err != nil {
		return fmt.Errorf("delete chunks by document failed: %w", err)
	}
	return nil
}
