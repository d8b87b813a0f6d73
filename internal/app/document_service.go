package app

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"claridoc/internal/config"
	"claridoc/internal/model"
	"claridoc/internal/pkg/extract"
	"claridoc/internal/retrieval"
)

// DocumentStore is the persistence surface the services need from the
// document repository.
type DocumentStore interface {
	Create(ctx context.Context, doc *model.Document) error
	GetByID(ctx context.Context, id uint) (*model.Document, error)
	GetByIDAndUserID(ctx context.Context, id, userID uint) (*model.Document, error)
	ListByUserID(ctx context.Context, userID uint) ([]model.Document, error)
	SetExtracted(ctx context.Context, id uint, text string) error
	SetFailed(ctx context.Context, id uint, reason string) error
	DeleteByIDAndUserID(ctx context.Context, id, userID uint) error
}

// ChunkStore is the chunk write surface used at ingest and delete time.
type ChunkStore interface {
	CreateBatch(ctx context.Context, chunks []model.Chunk) error
	DeleteByDocumentID(ctx context.Context, documentID uint) error
}

// ObjectStore holds uploaded originals.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Remove(ctx context.Context, key string) error
}

// JobPublisher hands work to a queue.
type JobPublisher interface {
	Publish(ctx context.Context, payload interface{}) error
}

// IngestJob asks the ingest worker to process an uploaded document.
type IngestJob struct {
	DocumentID uint `json:"document_id"`
}

// DocumentService owns the document lifecycle: upload, async ingestion
// (extract, chunk, embed, persist), listing, deletion.
type DocumentService struct {
	docs     DocumentStore
	chunks   ChunkStore
	store    ObjectStore
	jobs     JobPublisher
	embedder retrieval.Embedder
	cfg      config.RetrievalConfig
	logger   *zap.Logger
}

func NewDocumentService(
	docs DocumentStore,
	chunks ChunkStore,
	store ObjectStore,
	jobs JobPublisher,
	embedder retrieval.Embedder,
	cfg config.RetrievalConfig,
	logger *zap.Logger,
) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentService{
		docs:     docs,
		chunks:   chunks,
		store:    store,
		jobs:     jobs,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger,
	}
}

type UploadInput struct {
	UserID      uint
	Filename    string
	Size        int64
	ContentType string
	Reader      io.Reader
}

// Upload stores the original, creates the document in "processing" state and
// queues ingestion. Unsupported extensions are rejected before anything is
// written.
func (s *DocumentService) Upload(ctx context.Context, input UploadInput) (*model.Document, error) {
	if input.UserID == 0 || strings.TrimSpace(input.Filename) == "" || input.Reader == nil {
		return nil, ErrInvalidInput
	}
	if !extract.Supported(input.Filename) {
		return nil, ErrUnsupportedFile
	}

	key := "uploads/" + uuid.NewString() + strings.ToLower(filepath.Ext(input.Filename))
	if err := s.store.Put(ctx, key, input.Reader, input.Size, input.ContentType); err != nil {
		return nil, fmt.Errorf("store upload failed: %w", err)
	}

	doc := &model.Document{
		UserID:    input.UserID,
		Filename:  input.Filename,
		ObjectKey: key,
		Status:    model.DocumentStatusProcessing,
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		return nil, err
	}

	if err := s.jobs.Publish(ctx, IngestJob{DocumentID: doc.ID}); err != nil {
		s.logger.Error("queue ingest job failed",
			zap.Uint("document_id", doc.ID), zap.Error(err))
		_ = s.docs.SetFailed(ctx, doc.ID, "failed to queue ingestion")
		return nil, fmt.Errorf("queue ingest job failed: %w", err)
	}

	return doc, nil
}

// Ingest downloads the original, extracts text, chunks it, embeds the chunks
// in bounded batches and persists everything. Extraction failures mark the
// document failed and consume the job. Embedding failures do not fail the
// document: chunks are stored without vectors and backfilled at retrieval
// time.
func (s *DocumentService) Ingest(ctx context.Context, documentID uint) error {
	doc, err := s.docs.GetByID(ctx, documentID)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrDocumentNotFound
	}

	obj, err := s.store.Get(ctx, doc.ObjectKey)
	if err != nil {
		_ = s.docs.SetFailed(ctx, doc.ID, "original file unavailable")
		return fmt.Errorf("fetch original failed: %w", err)
	}
	defer obj.Close()

	text, err := extract.Text(doc.Filename, obj)
	if err != nil {
		s.logger.Warn("text extraction failed",
			zap.Uint("document_id", doc.ID),
			zap.String("filename", doc.Filename),
			zap.Error(err))
		_ = s.docs.SetFailed(ctx, doc.ID, "text extraction failed: "+err.Error())
		return nil
	}
	if strings.TrimSpace(text) == "" {
		_ = s.docs.SetFailed(ctx, doc.ID, "document contains no extractable text")
		return nil
	}

	pieces := retrieval.Chunk(text, s.cfg.ChunkTargetWords, s.cfg.ChunkOverlapWords)
	vectors := s.embedPieces(ctx, doc.ID, pieces)

	rows := make([]model.Chunk, len(pieces))
	for i := range pieces {
		rows[i] = model.Chunk{
			DocumentID: doc.ID,
			Index:      i,
			Text:       pieces[i],
		}
		if vectors[i] != nil {
			rows[i].SetEmbedding(vectors[i])
		}
	}
	if err := s.chunks.CreateBatch(ctx, rows); err != nil {
		_ = s.docs.SetFailed(ctx, doc.ID, "storing chunks failed")
		return err
	}

	if err := s.docs.SetExtracted(ctx, doc.ID, text); err != nil {
		return err
	}

	s.logger.Info("document ingested",
		zap.Uint("document_id", doc.ID),
		zap.Int("chunks", len(rows)))
	return nil
}

// embedPieces returns one vector per piece, nil where embedding failed.
// Batches are bounded and independent: one failed batch leaves a gap, it
// does not stop the rest.
func (s *DocumentService) embedPieces(ctx context.Context, documentID uint, pieces []string) [][]float32 {
	vectors := make([][]float32, len(pieces))
	batchSize := s.cfg.EmbeddingBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	for start := 0; start < len(pieces); start += batchSize {
		end := start + batchSize
		if end > len(pieces) {
			end = len(pieces)
		}
		batch, err := s.embedder.EmbedBatch(ctx, pieces[start:end], retrieval.IntentDocument)
		if err != nil || len(batch) != end-start {
			s.logger.Warn("ingest embedding batch failed",
				zap.Uint("document_id", documentID),
				zap.Int("batch_size", end-start),
				zap.Error(err))
			continue
		}
		copy(vectors[start:end], batch)
	}
	return vectors
}

func (s *DocumentService) Get(ctx context.Context, userID, documentID uint) (*model.Document, error) {
	if userID == 0 || documentID == 0 {
		return nil, ErrInvalidInput
	}
	doc, err := s.docs.GetByIDAndUserID(ctx, documentID, userID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

func (s *DocumentService) List(ctx context.Context, userID uint) ([]model.Document, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return s.docs.ListByUserID(ctx, userID)
}

// Delete removes a document the caller owns, together with its chunks and
// stored original. The object removal is best-effort: an orphaned object is
// harmless, a dangling document row is not.
func (s *DocumentService) Delete(ctx context.Context, userID, documentID uint) error {
	if userID == 0 || documentID == 0 {
		return ErrInvalidInput
	}
	doc, err := s.docs.GetByIDAndUserID(ctx, documentID, userID)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrDocumentNotFound
	}

	if err := s.chunks.DeleteByDocumentID(ctx, doc.ID); err != nil {
		return err
	}
	if err := s.store.Remove(ctx, doc.ObjectKey); err != nil {
		s.logger.Warn("remove stored original failed",
			zap.Uint("document_id", doc.ID), zap.Error(err))
	}
	return s.docs.DeleteByIDAndUserID(ctx, doc.ID, userID)
}
