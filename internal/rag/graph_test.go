package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/kgtutor/internal/graphstore/graphstoretest"
)

func TestNeo4jGraphMerge(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	client, cleanup, err := graphstoretest.Start(ctx)
	require.NoError(t, err)
	t.Cleanup(cleanup)
	client.EnsureSchema(ctx, "")

	course := NewNeo4jGraph(client, "", "course")
	other := NewNeo4jGraph(client, "", "other")

	_, err = course.MergeEntities(ctx, []Entity{
		{Name: "栈", Type: "unknown", SourceChunks: []string{"c1"}},
		{Name: "队列", Type: "concept", Description: "先进先出", SourceChunks: []string{"c1"}},
	})
	require.NoError(t, err)
	_, err = course.MergeEntities(ctx, []Entity{
		{Name: "栈", Type: "concept", Description: "后进先出", SourceChunks: []string{"c2"}},
	})
	require.NoError(t, err)
	_, err = other.MergeEntities(ctx, []Entity{{Name: "栈", Type: "tool", SourceChunks: []string{"c9"}}})
	require.NoError(t, err)

	n, err := course.MergeRelations(ctx, []Relation{{Source: "栈", Target: "队列", Type: "contrasts_with", Weight: 2}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = course.MergeRelations(ctx, []Relation{{Source: "栈", Target: "队列", Type: "contrasts_with", Weight: 3}})
	require.NoError(t, err)

	entities, err := course.EntitiesForChunks(ctx, []string{"c2"}, 10)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "concept", entities[0].Type)
	assert.Equal(t, "后进先出", entities[0].Description)
	assert.ElementsMatch(t, []string{"c1", "c2"}, entities[0].SourceChunks)

	relations, err := course.RelationsAmong(ctx, []string{"栈"}, 10)
	require.NoError(t, err)
	require.Len(t, relations, 1)
	assert.Equal(t, 5.0, relations[0].Weight)

	names, err := other.EntityNames(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"栈"}, names, "workspaces are isolated")
}
