package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/kgtutor/internal/llm"
	"github.com/raphaelgruber/kgtutor/internal/models"
)

type fakeChunks struct {
	mu     sync.Mutex
	stored []models.ChunkInput
}

func (f *fakeChunks) UpsertChunks(_ context.Context, chunks []models.ChunkInput) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		f.stored = append(f.stored, c)
		ids[i] = c.ID
	}
	return ids, nil
}

func (f *fakeChunks) SearchChunks(_ context.Context, _ []float32, limit int) ([]models.ChunkMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ChunkMatch
	for _, c := range f.stored {
		if len(out) == limit {
			break
		}
		out = append(out, models.ChunkMatch{ID: c.ID, Content: c.Content, Source: c.Source, Position: c.Position, Score: 1})
	}
	return out, nil
}

type fakeGraph struct {
	mu        sync.Mutex
	entities  []Entity
	relations []Relation
}

func (f *fakeGraph) MergeEntities(_ context.Context, entities []Entity) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entities = mergeEntities(append(f.entities, entities...))
	return len(entities), nil
}

func (f *fakeGraph) MergeRelations(_ context.Context, relations []Relation) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relations = mergeRelations(append(f.relations, relations...))
	return len(relations), nil
}

func (f *fakeGraph) EntitiesForChunks(_ context.Context, chunkIDs []string, _ int) ([]Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Entity
	for _, e := range f.entities {
		for _, c := range e.SourceChunks {
			if contains(chunkIDs, c) {
				out = append(out, e)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeGraph) RelationsAmong(_ context.Context, names []string, _ int) ([]Relation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Relation
	for _, r := range f.relations {
		if contains(names, r.Source) || contains(names, r.Target) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeGraph) EntityNames(context.Context, int) ([]string, error) {
	return nil, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}

// scriptedCompleter extracts a fixed graph and echoes the question as answer.
type scriptedCompleter struct {
	err     error
	prompts []string
	mu      sync.Mutex
}

func (s *scriptedCompleter) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, req.Prompt)
	s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	if req.System == extractionSystemPrompt {
		return "ENTITY|栈|concept|后进先出\nRELATION|栈|队列|contrasts_with|顺序相反|5", nil
	}
	return "answer", nil
}

func newTestIndex(c Completer) (*GraphIndex, *fakeChunks, *fakeGraph) {
	chunks, graph := &fakeChunks{}, &fakeGraph{}
	idx := NewGraphIndex("course", chunks, graph, fakeEmbedder{}, c,
		Options{Chunking: models.ChunkingConfig{TargetSize: 40, MinSize: 5, MaxSize: 60, Overlap: 0}}, nil, nil)
	return idx, chunks, graph
}

func TestGraphIndexInsert(t *testing.T) {
	idx, chunks, graph := newTestIndex(&scriptedCompleter{})
	var b strings.Builder
	for i := range 12 {
		fmt.Fprintf(&b, "第%d条：栈是一种后进先出的线性表。", i)
	}
	text := b.String()

	var (
		calls    [][2]int
		progress sync.Mutex
	)
	res, err := idx.Insert(context.Background(), text, "ds.md", func(done, total int) {
		progress.Lock()
		calls = append(calls, [2]int{done, total})
		progress.Unlock()
	})
	require.NoError(t, err)

	assert.Greater(t, res.Chunks, 1)
	assert.Len(t, chunks.stored, res.Chunks)
	assert.Equal(t, "ds.md", chunks.stored[0].Source)
	assert.Equal(t, 2, res.Entities)
	assert.Equal(t, 1, res.Relations)

	require.Len(t, graph.entities, 2)
	assert.Len(t, graph.entities[0].SourceChunks, res.Chunks)

	last := calls[len(calls)-1]
	assert.Equal(t, last[1], last[0], "final progress reports completion")
	assert.Equal(t, res.Chunks+3, last[1])
}

func TestGraphIndexInsertEmpty(t *testing.T) {
	idx, _, _ := newTestIndex(&scriptedCompleter{})
	_, err := idx.Insert(context.Background(), "   \n\n ", "", nil)
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestGraphIndexInsertProviderError(t *testing.T) {
	boom := errors.New("provider down")
	idx, _, graph := newTestIndex(&scriptedCompleter{err: boom})

	_, err := idx.Insert(context.Background(), "栈是一种后进先出的线性表。", "", nil)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, graph.entities, "nothing reaches the graph when extraction fails")
}

func TestGraphIndexInsertCancelled(t *testing.T) {
	idx, _, graph := newTestIndex(&scriptedCompleter{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := idx.Insert(ctx, "栈是一种后进先出的线性表。", "", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, graph.entities)
}

func TestGraphIndexQueryModes(t *testing.T) {
	completer := &scriptedCompleter{}
	idx, _, _ := newTestIndex(completer)
	ctx := context.Background()
	_, err := idx.Insert(ctx, "栈是一种后进先出的线性表。", "", nil)
	require.NoError(t, err)

	naive, err := idx.Query(ctx, "什么是栈", ModeNaive, 3)
	require.NoError(t, err)
	assert.Len(t, naive.Chunks, 1)
	assert.Empty(t, naive.Entities)
	assert.Equal(t, "answer", naive.Answer)

	local, err := idx.Query(ctx, "什么是栈", ModeLocal, 3)
	require.NoError(t, err)
	assert.Len(t, local.Entities, 2)
	assert.Empty(t, local.Relations)

	global, err := idx.Query(ctx, "什么是栈", ModeGlobal, 3)
	require.NoError(t, err)
	require.Len(t, global.Relations, 1)
	assert.Contains(t, completer.prompts[len(completer.prompts)-1], "栈 -[contrasts_with]-> 队列")

	_, err = idx.Query(ctx, " ", ModeGlobal, 3)
	assert.ErrorIs(t, err, ErrEmptyText)
}
