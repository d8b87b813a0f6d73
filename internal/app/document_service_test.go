package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claridoc/internal/config"
	"claridoc/internal/model"
	"claridoc/internal/retrieval"
)

type fakeChunkStore struct {
	created   []model.Chunk
	deleted   []uint
	createErr error
}

func (s *fakeChunkStore) CreateBatch(_ context.Context, chunks []model.Chunk) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, chunks...)
	return nil
}

func (s *fakeChunkStore) DeleteByDocumentID(_ context.Context, documentID uint) error {
	s.deleted = append(s.deleted, documentID)
	return nil
}

type fakeObjectStore struct {
	objects   map[string][]byte
	removed   []string
	removeErr error
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func (s *fakeObjectStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.objects[key] = data
	return nil
}

func (s *fakeObjectStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeObjectStore) Remove(_ context.Context, key string) error {
	if s.removeErr != nil {
		return s.removeErr
	}
	s.removed = append(s.removed, key)
	delete(s.objects, key)
	return nil
}

type fakeIngestEmbedder struct {
	dims       int
	err        error
	batchSizes []int
}

func (e *fakeIngestEmbedder) EmbedBatch(_ context.Context, texts []string, _ retrieval.Intent) ([][]float32, error) {
	e.batchSizes = append(e.batchSizes, len(texts))
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, e.dims)
		vec[0] = float32(len(texts[i]))
		out[i] = vec
	}
	return out, nil
}

func ingestConfig() config.RetrievalConfig {
	return config.RetrievalConfig{
		ChunkTargetWords:   5,
		ChunkOverlapWords:  2,
		EmbeddingBatchSize: 2,
	}
}

func newDocService(docs *fakeDocStore, chunks *fakeChunkStore, store *fakeObjectStore,
	jobs *fakePublisher, embedder retrieval.Embedder) *DocumentService {
	return NewDocumentService(docs, chunks, store, jobs, embedder, ingestConfig(), nil)
}

func TestUploadStoresAndQueues(t *testing.T) {
	docs := newFakeDocStore()
	store := newFakeObjectStore()
	jobs := &fakePublisher{}
	svc := newDocService(docs, &fakeChunkStore{}, store, jobs, &fakeIngestEmbedder{dims: 3})

	doc, err := svc.Upload(context.Background(), UploadInput{
		UserID:   7,
		Filename: "Contract.TXT",
		Reader:   strings.NewReader("hello world"),
	})
	require.NoError(t, err)
	require.NotNil(t, doc)

	assert.Equal(t, model.DocumentStatusProcessing, doc.Status)
	assert.True(t, strings.HasPrefix(doc.ObjectKey, "uploads/"))
	assert.True(t, strings.HasSuffix(doc.ObjectKey, ".txt"))
	assert.Equal(t, []byte("hello world"), store.objects[doc.ObjectKey])

	require.Len(t, jobs.published, 1)
	assert.Equal(t, IngestJob{DocumentID: doc.ID}, jobs.published[0])
}

func TestUploadRejectsUnsupportedExtension(t *testing.T) {
	store := newFakeObjectStore()
	svc := newDocService(newFakeDocStore(), &fakeChunkStore{}, store, &fakePublisher{}, &fakeIngestEmbedder{dims: 3})

	_, err := svc.Upload(context.Background(), UploadInput{
		UserID:   7,
		Filename: "photo.png",
		Reader:   strings.NewReader("binary"),
	})
	assert.ErrorIs(t, err, ErrUnsupportedFile)
	assert.Empty(t, store.objects)
}

func TestUploadPublishFailureMarksFailed(t *testing.T) {
	docs := newFakeDocStore()
	svc := newDocService(docs, &fakeChunkStore{}, newFakeObjectStore(),
		&fakePublisher{err: errors.New("broker down")}, &fakeIngestEmbedder{dims: 3})

	_, err := svc.Upload(context.Background(), UploadInput{
		UserID:   7,
		Filename: "a.txt",
		Reader:   strings.NewReader("text"),
	})
	require.Error(t, err)
	require.Len(t, docs.failedMsg, 1)
}

func TestIngestChunksEmbedsAndPersists(t *testing.T) {
	doc := &model.Document{ID: 1, UserID: 7, Filename: "a.txt", ObjectKey: "uploads/a.txt", Status: model.DocumentStatusProcessing}
	docs := newFakeDocStore(doc)
	chunks := &fakeChunkStore{}
	store := newFakeObjectStore()
	store.objects["uploads/a.txt"] = []byte("w1 w2 w3 w4 w5 w6 w7 w8 w9 w10")
	embedder := &fakeIngestEmbedder{dims: 3}
	svc := newDocService(docs, chunks, store, &fakePublisher{}, embedder)

	require.NoError(t, svc.Ingest(context.Background(), 1))

	// 10 words, window 5, overlap 2, step 3: spans [0:5] [3:8] [6:10].
	require.Len(t, chunks.created, 3)
	assert.Equal(t, "w1 w2 w3 w4 w5", chunks.created[0].Text)
	assert.Equal(t, "w4 w5 w6 w7 w8", chunks.created[1].Text)
	assert.Equal(t, "w7 w8 w9 w10", chunks.created[2].Text)
	for i, c := range chunks.created {
		assert.Equal(t, uint(1), c.DocumentID)
		assert.Equal(t, i, c.Index)
		assert.Len(t, c.EmbeddingVector(), 3)
	}

	// Embedding ran in bounded batches.
	assert.Equal(t, []int{2, 1}, embedder.batchSizes)

	assert.Equal(t, model.DocumentStatusReady, doc.Status)
	assert.Contains(t, docs.extracted[1], "w1 w2")
}

func TestIngestEmbeddingFailureStoresChunksUnembedded(t *testing.T) {
	doc := &model.Document{ID: 1, UserID: 7, Filename: "a.txt", ObjectKey: "uploads/a.txt"}
	docs := newFakeDocStore(doc)
	chunks := &fakeChunkStore{}
	store := newFakeObjectStore()
	store.objects["uploads/a.txt"] = []byte("w1 w2 w3 w4 w5 w6 w7 w8 w9 w10")
	svc := newDocService(docs, chunks, store, &fakePublisher{}, &fakeIngestEmbedder{dims: 3, err: errors.New("provider down")})

	require.NoError(t, svc.Ingest(context.Background(), 1))

	require.Len(t, chunks.created, 3)
	for _, c := range chunks.created {
		assert.Empty(t, c.Embedding)
	}
	assert.Equal(t, model.DocumentStatusReady, doc.Status)
}

func TestIngestEmptyDocumentFails(t *testing.T) {
	doc := &model.Document{ID: 1, UserID: 7, Filename: "a.txt", ObjectKey: "uploads/a.txt"}
	docs := newFakeDocStore(doc)
	chunks := &fakeChunkStore{}
	store := newFakeObjectStore()
	store.objects["uploads/a.txt"] = []byte("   \n  ")
	svc := newDocService(docs, chunks, store, &fakePublisher{}, &fakeIngestEmbedder{dims: 3})

	require.NoError(t, svc.Ingest(context.Background(), 1))

	assert.Empty(t, chunks.created)
	assert.Equal(t, model.DocumentStatusFailed, doc.Status)
	assert.Contains(t, docs.failedMsg[1], "no extractable text")
}

func TestIngestMissingObjectFails(t *testing.T) {
	doc := &model.Document{ID: 1, UserID: 7, Filename: "a.txt", ObjectKey: "uploads/gone.txt"}
	docs := newFakeDocStore(doc)
	svc := newDocService(docs, &fakeChunkStore{}, newFakeObjectStore(), &fakePublisher{}, &fakeIngestEmbedder{dims: 3})

	err := svc.Ingest(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, model.DocumentStatusFailed, doc.Status)
}

func TestIngestUnknownDocument(t *testing.T) {
	svc := newDocService(newFakeDocStore(), &fakeChunkStore{}, newFakeObjectStore(), &fakePublisher{}, &fakeIngestEmbedder{dims: 3})
	assert.ErrorIs(t, svc.Ingest(context.Background(), 42), ErrDocumentNotFound)
}

func TestDeleteRemovesChunksObjectAndRow(t *testing.T) {
	doc := &model.Document{ID: 1, UserID: 7, ObjectKey: "uploads/a.txt"}
	docs := newFakeDocStore(doc)
	chunks := &fakeChunkStore{}
	store := newFakeObjectStore()
	store.objects["uploads/a.txt"] = []byte("text")
	svc := newDocService(docs, chunks, store, &fakePublisher{}, &fakeIngestEmbedder{dims: 3})

	require.NoError(t, svc.Delete(context.Background(), 7, 1))

	assert.Equal(t, []uint{1}, chunks.deleted)
	assert.Equal(t, []string{"uploads/a.txt"}, store.removed)
	assert.Nil(t, docs.docs[1])
}

func TestDeleteForeignDocument(t *testing.T) {
	docs := newFakeDocStore(&model.Document{ID: 1, UserID: 7})
	svc := newDocService(docs, &fakeChunkStore{}, newFakeObjectStore(), &fakePublisher{}, &fakeIngestEmbedder{dims: 3})

	err := svc.Delete(context.Background(), 8, 1)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	assert.NotNil(t, docs.docs[1])
}

func TestDeleteObjectRemovalFailureStillDeletesRow(t *testing.T) {
	docs := newFakeDocStore(&model.Document{ID: 1, UserID: 7, ObjectKey: "uploads/a.txt"})
	store := newFakeObjectStore()
	store.removeErr = errors.New("minio down")
	svc := newDocService(docs, &fakeChunkStore{}, store, &fakePublisher{}, &fakeIngestEmbedder{dims: 3})

	require.NoError(t, svc.Delete(context.Background(), 7, 1))
	assert.Nil(t, docs.docs[1])
}
