package models

import (
	"fmt"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Chunk is a slice of indexed text stored with its embedding.
type Chunk struct {
	ID        surrealmodels.RecordID `json:"id"`
	Content   string                 `json:"content"`
	Source    string                 `json:"source"`   // filename or "raw_text"
	Position  int                    `json:"position"` // order within the source document
	Embedding []float32              `json:"embedding"`
	CreatedAt time.Time              `json:"created_at"`
}

// Key returns the string id of the chunk record.
func (c Chunk) Key() (string, error) {
	s, ok := c.ID.ID.(string)
	if !ok {
		return "", fmt.Errorf("unexpected chunk id type %T", c.ID.ID)
	}
	return s, nil
}

// ChunkInput is the input structure for storing chunks.
type ChunkInput struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Source    string    `json:"source"`
	Position  int       `json:"position"`
	Embedding []float32 `json:"embedding"`
}

// ChunkMatch is a chunk returned by vector search.
type ChunkMatch struct {
	ID       string  `json:"id"`
	Content  string  `json:"content"`
	Source   string  `json:"source"`
	Position int     `json:"position"`
	Score    float64 `json:"score"`
}

// ChunkingConfig defines parameters for splitting documents before indexing.
type ChunkingConfig struct {
	// TargetSize is the target chunk size in characters.
	TargetSize int

	// MinSize is the minimum chunk size. Smaller trailing chunks are
	// merged into their predecessor.
	MinSize int

	// MaxSize is the maximum chunk size. Larger paragraphs are split at
	// sentence boundaries.
	MaxSize int

	// Overlap is the character overlap between adjacent chunks.
	Overlap int
}

// DefaultChunkingConfig returns the default chunking configuration.
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		TargetSize: 1200,
		MinSize:    200,
		MaxSize:    1600,
		Overlap:    100,
	}
}
