package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/kgtutor/internal/db"
	"github.com/raphaelgruber/kgtutor/internal/llm"
	"github.com/raphaelgruber/kgtutor/internal/metrics"
	"github.com/raphaelgruber/kgtutor/internal/models"
	"github.com/raphaelgruber/kgtutor/internal/parser"
)

// ErrEmptyText is returned by Insert when text has no indexable content.
var ErrEmptyText = errors.New("text is empty")

// knownEntityHint bounds the entity names offered to the extractor as context.
const knownEntityHint = 50

// ChunkStore stores chunk embeddings for vector search.
type ChunkStore interface {
	UpsertChunks(ctx context.Context, chunks []models.ChunkInput) ([]string, error)
	SearchChunks(ctx context.Context, embedding []float32, limit int) ([]models.ChunkMatch, error)
}

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Completer answers prompts.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, error)
}

// Options tunes a GraphIndex.
type Options struct {
	Chunking           models.ChunkingConfig
	ExtractConcurrency int
}

// GraphIndex is the Index of one db_name: chunks in SurrealDB, entities
// and relations in Neo4j.
type GraphIndex struct {
	name      string
	chunks    ChunkStore
	graph     GraphStore
	embedder  Embedder
	completer Completer
	opts      Options
	metrics   *metrics.Collector
	logger    *slog.Logger

	// graph merges of one index are serialised to avoid MERGE races on
	// the (workspace, name) constraint.
	writeMu sync.Mutex
	closers []func(context.Context) error
}

// NewGraphIndex assembles an index from its stores. closers run on Close in order.
func NewGraphIndex(name string, chunks ChunkStore, graph GraphStore, embedder Embedder, completer Completer,
	opts Options, collector *metrics.Collector, logger *slog.Logger, closers ...func(context.Context) error) *GraphIndex {
	if opts.Chunking.TargetSize == 0 {
		opts.Chunking = models.DefaultChunkingConfig()
	}
	if opts.ExtractConcurrency <= 0 {
		opts.ExtractConcurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphIndex{
		name:      name,
		chunks:    chunks,
		graph:     graph,
		embedder:  embedder,
		completer: completer,
		opts:      opts,
		metrics:   collector,
		logger:    logger.With("component", "rag", "db_name", name),
		closers:   closers,
	}
}

// Name returns the db_name served by the index.
func (x *GraphIndex) Name() string { return x.name }

// Insert indexes text. Progress units are: one for embedding, one for the
// chunk write, one per chunk extraction and one for the graph write.
func (x *GraphIndex) Insert(ctx context.Context, text, source string, progress ProgressFunc) (res InsertResult, err error) {
	start := time.Now()
	defer func() { x.metrics.Since(metrics.OpIndexInsert, start, err) }()

	if progress == nil {
		progress = func(int, int) {}
	}
	if source == "" {
		source = "raw_text"
	}

	pieces := parser.ChunkText(text, x.opts.Chunking)
	if len(pieces) == 0 {
		return res, ErrEmptyText
	}
	total := len(pieces) + 3
	done := 0
	step := func() {
		done++
		progress(done, total)
	}
	progress(0, total)

	contents := make([]string, len(pieces))
	for i, p := range pieces {
		contents[i] = p.Content
	}
	vectors, err := x.embedder.Embed(ctx, contents)
	if err != nil {
		return res, fmt.Errorf("embed chunks: %w", err)
	}
	step()

	if err := ctx.Err(); err != nil {
		return res, err
	}
	inputs := make([]models.ChunkInput, len(pieces))
	for i, p := range pieces {
		inputs[i] = models.ChunkInput{
			ID:        db.ChunkID(p.Content),
			Content:   p.Content,
			Source:    source,
			Position:  p.Position,
			Embedding: vectors[i],
		}
	}
	ids, err := x.chunks.UpsertChunks(ctx, inputs)
	if err != nil {
		return res, fmt.Errorf("store chunks: %w", err)
	}
	res.Chunks = len(ids)
	step()

	known, err := x.graph.EntityNames(ctx, knownEntityHint)
	if err != nil {
		x.logger.Warn("failed to list entities for extraction context", "error", err)
	}

	var (
		mu        sync.Mutex
		entities  []Entity
		relations []Relation
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.opts.ExtractConcurrency)
	for i, in := range inputs {
		g.Go(func() error {
			out, err := x.completer.Complete(gctx, llm.CompletionRequest{
				System: extractionSystemPrompt,
				Prompt: extractionPrompt(in.Content, known),
			})
			if err != nil {
				return fmt.Errorf("extract chunk %d: %w", i, err)
			}
			ents, rels := parseExtraction(out, in.ID)

			mu.Lock()
			entities = append(entities, ents...)
			relations = append(relations, rels...)
			step()
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}
	entities = mergeEntities(entities)
	relations = mergeRelations(relations)

	x.writeMu.Lock()
	defer x.writeMu.Unlock()
	if res.Entities, err = x.graph.MergeEntities(ctx, entities); err != nil {
		return res, fmt.Errorf("write entities: %w", err)
	}
	if res.Relations, err = x.graph.MergeRelations(ctx, relations); err != nil {
		return res, fmt.Errorf("write relations: %w", err)
	}
	step()

	x.logger.Info("text indexed",
		"source", source,
		"chunks", res.Chunks,
		"entities", res.Entities,
		"relations", res.Relations,
		"duration_ms", time.Since(start).Milliseconds())
	return res, nil
}

const answerSystemPrompt = `You answer questions about course material using only the context provided.
Answer in the language of the question. If the context does not contain the answer, say so briefly.`

// Query retrieves context for question and asks the completer for an answer.
func (x *GraphIndex) Query(ctx context.Context, question string, mode Mode, topK int) (QueryResult, error) {
	res := QueryResult{Chunks: []models.ChunkMatch{}, Entities: []Entity{}, Relations: []Relation{}}
	question = strings.TrimSpace(question)
	if question == "" {
		return res, ErrEmptyText
	}
	if mode == "" {
		mode = ModeGlobal
	}
	if topK <= 0 {
		topK = 5
	}

	vec, err := x.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return res, fmt.Errorf("embed question: %w", err)
	}
	if res.Chunks, err = x.chunks.SearchChunks(ctx, vec, topK); err != nil {
		return res, fmt.Errorf("search chunks: %w", err)
	}

	if mode != ModeNaive && len(res.Chunks) > 0 {
		ids := make([]string, len(res.Chunks))
		for i, c := range res.Chunks {
			ids[i] = c.ID
		}
		if res.Entities, err = x.graph.EntitiesForChunks(ctx, ids, topK*4); err != nil {
			return res, err
		}
	}
	if mode == ModeGlobal && len(res.Entities) > 0 {
		names := make([]string, len(res.Entities))
		for i, e := range res.Entities {
			names[i] = e.Name
		}
		if res.Relations, err = x.graph.RelationsAmong(ctx, names, topK*4); err != nil {
			return res, err
		}
	}

	res.Answer, err = x.completer.Complete(ctx, llm.CompletionRequest{
		System: answerSystemPrompt,
		Prompt: fmt.Sprintf("Context:\n%s\n\nQuestion: %s", renderContext(res), question),
	})
	if err != nil {
		return res, err
	}
	return res, nil
}

func renderContext(res QueryResult) string {
	var b strings.Builder
	if len(res.Entities) > 0 {
		b.WriteString("-- Entities --\n")
		for _, e := range res.Entities {
			fmt.Fprintf(&b, "%s (%s): %s\n", e.Name, e.Type, strings.ReplaceAll(e.Description, descriptionSep, "; "))
		}
	}
	if len(res.Relations) > 0 {
		b.WriteString("-- Relations --\n")
		for _, r := range res.Relations {
			fmt.Fprintf(&b, "%s -[%s]-> %s: %s\n", r.Source, r.Type, r.Target, strings.ReplaceAll(r.Description, descriptionSep, "; "))
		}
	}
	if len(res.Chunks) > 0 {
		b.WriteString("-- Sources --\n")
		for _, c := range res.Chunks {
			fmt.Fprintf(&b, "[%s #%d]\n%s\n\n", c.Source, c.Position, c.Content)
		}
	}
	return b.String()
}

// Close releases the stores owned by the index.
func (x *GraphIndex) Close(ctx context.Context) error {
	var errs []error
	for _, c := range x.closers {
		if err := c(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
