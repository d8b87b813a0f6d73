package model

import (
	"encoding/json"
	"time"
)

// Chunk is a bounded word-span of a document, the unit of retrieval and
// citation. Index is the zero-based position in the document's chunk
// sequence; it is the canonical ordering and part of the citation identity.
// Embedding is stored as a JSON array of float32 for portability. A chunk is
// immutable once written except for embedding backfill.
type Chunk struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	DocumentID uint      `gorm:"not null;uniqueIndex:idx_doc_chunk" json:"document_id"`
	Index      int       `gorm:"column:chunk_index;not null;uniqueIndex:idx_doc_chunk" json:"index"`
	Text       string    `gorm:"type:text;not null" json:"text"`
	Embedding  string    `gorm:"type:text" json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// EmbeddingVector returns the parsed embedding slice; nil if absent or
// unparseable. A vector of the wrong dimensionality is the caller's problem
// to detect (it is treated as missing, not as an error).
func (c *Chunk) EmbeddingVector() []float32 {
	if c.Embedding == "" {
		return nil
	}
	var v []float32
	_ = json.Unmarshal([]byte(c.Embedding), &v)
	return v
}

// SetEmbedding stores the embedding as JSON.
func (c *Chunk) SetEmbedding(vec []float32) {
	if len(vec) == 0 {
		c.Embedding = "[]"
		return
	}
	b, _ := json.Marshal(vec)
	c.Embedding = string(b)
}
