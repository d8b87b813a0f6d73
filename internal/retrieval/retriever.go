package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"claridoc/internal/model"
)

// ErrDocumentNotReady is returned when a document has neither stored chunks
// nor extracted text to chunk on the fly. It is the only hard failure of the
// retrieval pipeline; everything past chunk loading degrades instead.
var ErrDocumentNotReady = errors.New("document has no extractable text yet")

// Intent tags an embedding request by what the vector will be compared
// against. Document and query vectors may be biased differently by the
// provider; mixing the tags degrades ranking silently, so the retriever
// always tags chunk text as document and the question as query.
type Intent string

const (
	IntentDocument Intent = "search_document"
	IntentQuery    Intent = "search_query"
)

// Embedder produces one vector per input text, order-preserving.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string, intent Intent) ([][]float32, error)
}

// ChunkSource loads a document's chunk rows ordered by index and persists
// backfilled embeddings. UpdateEmbedding is best-effort from the retriever's
// point of view: failures are logged and never abort a retrieval.
type ChunkSource interface {
	ListByDocumentID(ctx context.Context, documentID uint) ([]model.Chunk, error)
	UpdateEmbedding(ctx context.Context, chunkID uint, embedding string) error
}

// QueryVectorCache caches question embeddings between requests. Both methods
// are best-effort; a miss or a silently failed set just costs one API call.
type QueryVectorCache interface {
	Get(ctx context.Context, question string) ([]float32, bool)
	Set(ctx context.Context, question string, vec []float32)
}

// Config carries the retrieval tunables; zero values fall back to the
// package defaults.
type Config struct {
	Dimensions        int
	PrefilterCap      int
	EmbedBatchSize    int
	ChunkTargetWords  int
	ChunkOverlapWords int
}

const (
	defaultDimensions     = 768
	defaultPrefilterCap   = 60
	defaultEmbedBatchSize = 100
)

// Evidence is one selected chunk: a citation-stable identifier plus its full
// text and similarity score.
type Evidence struct {
	ChunkID string  `json:"chunk_id"`
	Index   int     `json:"index"`
	Text    string  `json:"text"`
	Score   float32 `json:"score"`
}

// Diagnostics describes how a retrieval went, for logging and the search
// endpoint. Degraded means at least one embedding call failed and affected
// chunks scored 0.
type Diagnostics struct {
	CandidateCount int           `json:"candidate_count"`
	PrefilterKept  int           `json:"prefilter_kept"`
	VectorsReused  int           `json:"vectors_reused"`
	VectorsFetched int           `json:"vectors_fetched"`
	MaxScore       float32       `json:"max_score"`
	K              int           `json:"k"`
	Fallback       bool          `json:"fallback"`
	Degraded       bool          `json:"degraded"`
	Elapsed        time.Duration `json:"elapsed"`
}

type Result struct {
	Evidence    []Evidence  `json:"evidence"`
	Diagnostics Diagnostics `json:"diagnostics"`
}

// Retriever runs the retrieval pipeline: load chunks, prefilter, resolve
// embeddings, rank by cosine similarity, select a dynamic top-K.
type Retriever struct {
	chunks     ChunkSource
	embedder   Embedder
	queryCache QueryVectorCache
	cfg        Config
	logger     *zap.Logger
}

func NewRetriever(chunks ChunkSource, embedder Embedder, queryCache QueryVectorCache, cfg Config, logger *zap.Logger) *Retriever {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = defaultDimensions
	}
	if cfg.PrefilterCap <= 0 {
		cfg.PrefilterCap = defaultPrefilterCap
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = defaultEmbedBatchSize
	}
	if cfg.ChunkTargetWords <= 0 {
		cfg.ChunkTargetWords = DefaultTargetWords
	}
	if cfg.ChunkOverlapWords < 0 {
		cfg.ChunkOverlapWords = DefaultOverlapWords
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		chunks:     chunks,
		embedder:   embedder,
		queryCache: queryCache,
		cfg:        cfg,
		logger:     logger,
	}
}

// candidate is one chunk under consideration. Persistent candidates map to a
// chunk row and get their freshly computed vectors backfilled; fallback
// candidates are synthesized from raw text and never written back.
type candidate struct {
	id         string
	rowID      uint
	index      int
	text       string
	vector     []float32
	persistent bool
	fetched    bool
}

// Retrieve runs the pipeline with the configured prefilter cap.
func (r *Retriever) Retrieve(ctx context.Context, doc *model.Document, question string) (*Result, error) {
	return r.RetrieveCapped(ctx, doc, question, r.cfg.PrefilterCap)
}

// RetrieveCapped is Retrieve with an explicit prefilter cap, used by the
// standalone search endpoint which allows a wider candidate set.
func (r *Retriever) RetrieveCapped(ctx context.Context, doc *model.Document, question string, prefilterCap int) (*Result, error) {
	started := time.Now()
	if prefilterCap <= 0 {
		prefilterCap = r.cfg.PrefilterCap
	}

	diag := Diagnostics{}

	candidates, err := r.loadCandidates(ctx, doc, &diag)
	if err != nil {
		return nil, err
	}
	diag.CandidateCount = len(candidates)

	// Lexical prefilter caps the set before any embedding call.
	texts := make([]string, len(candidates))
	for i := range candidates {
		texts[i] = candidates[i].text
	}
	kept := Prefilter(question, texts, prefilterCap)
	diag.PrefilterKept = len(kept)

	selected := make([]*candidate, len(kept))
	for i, idx := range kept {
		selected[i] = &candidates[idx]
	}

	r.resolveVectors(ctx, selected, &diag)

	queryVec := r.queryVector(ctx, question, &diag)

	r.backfill(ctx, doc.ID, selected)

	scores := make([]float32, len(selected))
	var maxScore float32
	for i, c := range selected {
		scores[i] = CosineSimilarity(queryVec, c.vector)
		if scores[i] > maxScore {
			maxScore = scores[i]
		}
	}
	diag.MaxScore = maxScore

	order := make([]int, len(selected))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	k := SelectK(maxScore, len(selected))
	diag.K = k

	evidence := make([]Evidence, 0, k)
	for _, idx := range order[:k] {
		c := selected[idx]
		evidence = append(evidence, Evidence{
			ChunkID: c.id,
			Index:   c.index,
			Text:    c.text,
			Score:   scores[idx],
		})
	}

	diag.Elapsed = time.Since(started)
	r.logger.Info("retrieval completed",
		zap.Uint("document_id", doc.ID),
		zap.Int("candidates", diag.CandidateCount),
		zap.Int("kept", diag.PrefilterKept),
		zap.Int("k", diag.K),
		zap.Float32("max_score", diag.MaxScore),
		zap.Bool("fallback", diag.Fallback),
		zap.Bool("degraded", diag.Degraded),
		zap.Duration("elapsed", diag.Elapsed),
	)

	return &Result{Evidence: evidence, Diagnostics: diag}, nil
}

// loadCandidates prefers stored chunk rows; with none it chunks the raw
// extracted text on the fly into ephemeral fallback candidates. A document
// with no rows and no text is the one hard failure.
func (r *Retriever) loadCandidates(ctx context.Context, doc *model.Document, diag *Diagnostics) ([]candidate, error) {
	rows, err := r.chunks.ListByDocumentID(ctx, doc.ID)
	if err != nil {
		r.logger.Warn("chunk load failed, falling back to raw text",
			zap.Uint("document_id", doc.ID), zap.Error(err))
		rows = nil
	}

	if len(rows) > 0 {
		candidates := make([]candidate, len(rows))
		for i := range rows {
			candidates[i] = candidate{
				id:         strconv.FormatUint(uint64(rows[i].ID), 10),
				rowID:      rows[i].ID,
				index:      rows[i].Index,
				text:       rows[i].Text,
				vector:     rows[i].EmbeddingVector(),
				persistent: true,
			}
		}
		return candidates, nil
	}

	pieces := Chunk(doc.ExtractedText, r.cfg.ChunkTargetWords, r.cfg.ChunkOverlapWords)
	if len(pieces) == 0 {
		return nil, ErrDocumentNotReady
	}
	diag.Fallback = true

	candidates := make([]candidate, len(pieces))
	for i, text := range pieces {
		candidates[i] = candidate{
			id:    fmt.Sprintf("fallback_%d", i),
			index: i,
			text:  text,
		}
	}
	return candidates, nil
}

// resolveVectors reuses stored vectors of the configured dimensionality and
// fetches the rest in bounded batches. A failed batch leaves its candidates
// without vectors (similarity 0) and marks the retrieval degraded; later
// batches still run.
func (r *Retriever) resolveVectors(ctx context.Context, selected []*candidate, diag *Diagnostics) {
	var missing []*candidate
	for _, c := range selected {
		if len(c.vector) == r.cfg.Dimensions {
			diag.VectorsReused++
			continue
		}
		c.vector = nil
		missing = append(missing, c)
	}

	for start := 0; start < len(missing); start += r.cfg.EmbedBatchSize {
		end := start + r.cfg.EmbedBatchSize
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.text
		}

		vectors, err := r.embedder.EmbedBatch(ctx, texts, IntentDocument)
		if err != nil || len(vectors) != len(batch) {
			diag.Degraded = true
			r.logger.Warn("chunk embedding batch failed",
				zap.Int("batch_size", len(batch)), zap.Error(err))
			continue
		}
		for i, c := range batch {
			c.vector = vectors[i]
			c.fetched = true
			diag.VectorsFetched++
		}
	}
}

// queryVector returns the question embedding, cache-assisted. A failure
// yields nil: every similarity becomes 0 and the caller still gets a
// best-effort evidence set in document order.
func (r *Retriever) queryVector(ctx context.Context, question string, diag *Diagnostics) []float32 {
	if r.queryCache != nil {
		if vec, ok := r.queryCache.Get(ctx, question); ok && len(vec) == r.cfg.Dimensions {
			return vec
		}
	}

	vectors, err := r.embedder.EmbedBatch(ctx, []string{question}, IntentQuery)
	if err != nil || len(vectors) == 0 {
		diag.Degraded = true
		r.logger.Warn("query embedding failed", zap.Error(err))
		return nil
	}

	vec := vectors[0]
	if r.queryCache != nil && len(vec) == r.cfg.Dimensions {
		r.queryCache.Set(ctx, question, vec)
	}
	return vec
}

// backfill persists freshly fetched vectors onto their chunk rows so the
// next retrieval on the same document skips re-embedding. Failures are
// logged and swallowed; the evidence set never depends on backfill success.
func (r *Retriever) backfill(ctx context.Context, documentID uint, selected []*candidate) {
	for _, c := range selected {
		if !c.persistent || !c.fetched || len(c.vector) == 0 {
			continue
		}
		row := model.Chunk{}
		row.SetEmbedding(c.vector)
		if err := r.chunks.UpdateEmbedding(ctx, c.rowID, row.Embedding); err != nil {
			r.logger.Warn("embedding backfill failed",
				zap.Uint("document_id", documentID),
				zap.Uint("chunk_id", c.rowID),
				zap.Error(err))
		}
	}
}
