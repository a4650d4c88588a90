package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"

	"github.com/raphaelgruber/kgtutor/internal/metrics"
	"github.com/raphaelgruber/kgtutor/internal/models"
)

var chunkNamespace = uuid.MustParse("6f1d3c2a-8a4e-4b7e-9c51-2d0f4e6a7b90")

// ChunkID derives a stable chunk id from its content so re-indexing the same
// text overwrites instead of duplicating.
func ChunkID(content string) string {
	return uuid.NewSHA1(chunkNamespace, []byte(content)).String()
}

// UpsertChunks writes chunks with their embeddings. Missing ids are derived
// from the content. Returns the ids in input order.
func (c *Client) UpsertChunks(ctx context.Context, chunks []models.ChunkInput) (ids []string, err error) {
	start := time.Now()
	defer func() { c.metrics.Since(metrics.OpChunkStore, start, err) }()

	sql := `
		UPSERT type::record("chunk", $id) SET
			content = $content,
			source = $source,
			position = $position,
			embedding = $embedding
	`

	ids = make([]string, 0, len(chunks))
	for _, ch := range chunks {
		if err := ctx.Err(); err != nil {
			return ids, err
		}
		id := ch.ID
		if id == "" {
			id = ChunkID(ch.Content)
		}
		err := retryConflict(ctx, func() error {
			_, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{
				"id":        id,
				"content":   ch.Content,
				"source":    ch.Source,
				"position":  ch.Position,
				"embedding": ch.Embedding,
			})
			return wrapQueryError(err)
		})
		if err != nil {
			return ids, fmt.Errorf("upsert chunk %s: %w", id, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// SearchChunks returns the limit chunks nearest to embedding by cosine similarity.
func (c *Client) SearchChunks(ctx context.Context, embedding []float32, limit int) (matches []models.ChunkMatch, err error) {
	start := time.Now()
	defer func() { c.metrics.Since(metrics.OpChunkSearch, start, err) }()

	if limit <= 0 {
		limit = 5
	}
	// KNN operator arguments must be literals; ef=40 for recall.
	sql := fmt.Sprintf(`
		SELECT record::id(id) AS id, content, source, position,
			vector::similarity::cosine(embedding, $emb) AS score
		FROM chunk
		WHERE embedding <|%d,40|> $emb
		ORDER BY score DESC
	`, limit)

	results, err := surrealdb.Query[[]models.ChunkMatch](ctx, c.db, sql, map[string]any{"emb": embedding})
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return []models.ChunkMatch{}, nil
	}
	return (*results)[0].Result, nil
}

// GetChunk fetches a single chunk by id.
func (c *Client) GetChunk(ctx context.Context, id string) (*models.Chunk, error) {
	sql := `SELECT * FROM type::record("chunk", $id)`
	results, err := surrealdb.Query[[]models.Chunk](ctx, c.db, sql, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get chunk: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &(*results)[0].Result[0], nil
}

// CountChunks returns the number of stored chunks.
func (c *Client) CountChunks(ctx context.Context) (int, error) {
	results, err := surrealdb.Query[[]struct {
		Count int `json:"count"`
	}](ctx, c.db, `SELECT count() AS count FROM chunk GROUP ALL`, nil)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0].Count, nil
}
