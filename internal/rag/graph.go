package rag

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/raphaelgruber/kgtutor/internal/graphstore"
)

const (
	mergeEntitiesCypher = `
UNWIND $entities AS e
MERGE (n:Entity {workspace: $workspace, name: e.name})
ON CREATE SET n.type = e.type,
              n.description = e.description,
              n.source_chunks = e.source_chunks,
              n.created_at = datetime()
ON MATCH SET n.type = CASE WHEN coalesce(n.type, 'unknown') = 'unknown' THEN e.type ELSE n.type END,
             n.description = CASE
               WHEN e.description = '' OR coalesce(n.description, '') CONTAINS e.description THEN n.description
               WHEN coalesce(n.description, '') = '' THEN e.description
               ELSE n.description + $sep + e.description END,
             n.source_chunks = coalesce(n.source_chunks, []) +
               [c IN e.source_chunks WHERE NOT c IN coalesce(n.source_chunks, [])]
RETURN count(n) AS n`

	mergeRelationsCypher = `
UNWIND $relations AS r
MATCH (a:Entity {workspace: $workspace, name: r.source})
MATCH (b:Entity {workspace: $workspace, name: r.target})
MERGE (a)-[x:RELATED {type: r.type}]->(b)
ON CREATE SET x.description = r.description, x.weight = r.weight
ON MATCH SET x.weight = coalesce(x.weight, 0) + r.weight,
             x.description = CASE
               WHEN r.description = '' OR coalesce(x.description, '') CONTAINS r.description THEN x.description
               WHEN coalesce(x.description, '') = '' THEN r.description
               ELSE x.description + $sep + r.description END
RETURN count(x) AS n`

	entitiesForChunksCypher = `
MATCH (n:Entity {workspace: $workspace})
WHERE any(c IN n.source_chunks WHERE c IN $chunks)
RETURN n.name AS name, n.type AS type, n.description AS description, n.source_chunks AS chunks
ORDER BY size(n.source_chunks) DESC, name
LIMIT $limit`

	relationsAmongCypher = `
MATCH (a:Entity {workspace: $workspace})-[x:RELATED]->(b:Entity {workspace: $workspace})
WHERE a.name IN $names OR b.name IN $names
RETURN a.name AS source, b.name AS target, x.type AS type, x.description AS description, x.weight AS weight
ORDER BY weight DESC, source, target
LIMIT $limit`

	entityNamesCypher = `
MATCH (n:Entity {workspace: $workspace})
RETURN n.name AS name
ORDER BY size(coalesce(n.source_chunks, [])) DESC, name
LIMIT $limit`
)

// GraphStore persists extracted entities and relations.
type GraphStore interface {
	MergeEntities(ctx context.Context, entities []Entity) (int, error)
	MergeRelations(ctx context.Context, relations []Relation) (int, error)
	EntitiesForChunks(ctx context.Context, chunkIDs []string, limit int) ([]Entity, error)
	RelationsAmong(ctx context.Context, names []string, limit int) ([]Relation, error)
	EntityNames(ctx context.Context, limit int) ([]string, error)
}

// Neo4jGraph stores the entities of one workspace in a Neo4j database.
type Neo4jGraph struct {
	client    *graphstore.Client
	database  string
	workspace string
}

// NewNeo4jGraph binds a graph to workspace inside database ("" = client default).
func NewNeo4jGraph(client *graphstore.Client, database, workspace string) *Neo4jGraph {
	return &Neo4jGraph{client: client, database: database, workspace: workspace}
}

func (g *Neo4jGraph) MergeEntities(ctx context.Context, entities []Entity) (int, error) {
	if len(entities) == 0 {
		return 0, nil
	}
	rows := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		chunks := e.SourceChunks
		if chunks == nil {
			chunks = []string{}
		}
		rows = append(rows, map[string]any{
			"name":          e.Name,
			"type":          e.Type,
			"description":   e.Description,
			"source_chunks": chunks,
		})
	}
	return g.writeCount(ctx, mergeEntitiesCypher, map[string]any{"entities": rows})
}

func (g *Neo4jGraph) MergeRelations(ctx context.Context, relations []Relation) (int, error) {
	if len(relations) == 0 {
		return 0, nil
	}
	rows := make([]map[string]any, 0, len(relations))
	for _, r := range relations {
		rows = append(rows, map[string]any{
			"source":      r.Source,
			"target":      r.Target,
			"type":        r.Type,
			"description": r.Description,
			"weight":      r.Weight,
		})
	}
	return g.writeCount(ctx, mergeRelationsCypher, map[string]any{"relations": rows})
}

func (g *Neo4jGraph) writeCount(ctx context.Context, cypher string, params map[string]any) (int, error) {
	params["workspace"] = g.workspace
	params["sep"] = descriptionSep
	out, err := g.client.Write(ctx, g.database, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := graphstore.Collect(ctx, tx, cypher, params)
		if err != nil {
			return 0, err
		}
		if len(records) == 0 {
			return 0, nil
		}
		return int(graphstore.IntValue(records[0], "n")), nil
	})
	if err != nil {
		return 0, fmt.Errorf("graph write: %w", err)
	}
	return out.(int), nil
}

func (g *Neo4jGraph) EntitiesForChunks(ctx context.Context, chunkIDs []string, limit int) ([]Entity, error) {
	if len(chunkIDs) == 0 {
		return []Entity{}, nil
	}
	out, err := g.client.Read(ctx, g.database, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := graphstore.Collect(ctx, tx, entitiesForChunksCypher, map[string]any{
			"workspace": g.workspace,
			"chunks":    chunkIDs,
			"limit":     int64(limit),
		})
		if err != nil {
			return nil, err
		}
		entities := make([]Entity, 0, len(records))
		for _, rec := range records {
			entities = append(entities, Entity{
				Name:         graphstore.StringValue(rec, "name"),
				Type:         graphstore.StringValue(rec, "type"),
				Description:  graphstore.StringValue(rec, "description"),
				SourceChunks: graphstore.StringsValue(rec, "chunks"),
			})
		}
		return entities, nil
	})
	if err != nil {
		return nil, fmt.Errorf("entities for chunks: %w", err)
	}
	return out.([]Entity), nil
}

func (g *Neo4jGraph) RelationsAmong(ctx context.Context, names []string, limit int) ([]Relation, error) {
	if len(names) == 0 {
		return []Relation{}, nil
	}
	out, err := g.client.Read(ctx, g.database, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := graphstore.Collect(ctx, tx, relationsAmongCypher, map[string]any{
			"workspace": g.workspace,
			"names":     names,
			"limit":     int64(limit),
		})
		if err != nil {
			return nil, err
		}
		relations := make([]Relation, 0, len(records))
		for _, rec := range records {
			w, _ := rec.Get("weight")
			weight, _ := w.(float64)
			relations = append(relations, Relation{
				Source:      graphstore.StringValue(rec, "source"),
				Target:      graphstore.StringValue(rec, "target"),
				Type:        graphstore.StringValue(rec, "type"),
				Description: graphstore.StringValue(rec, "description"),
				Weight:      weight,
			})
		}
		return relations, nil
	})
	if err != nil {
		return nil, fmt.Errorf("relations among entities: %w", err)
	}
	return out.([]Relation), nil
}

func (g *Neo4jGraph) EntityNames(ctx context.Context, limit int) ([]string, error) {
	out, err := g.client.Read(ctx, g.database, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := graphstore.Collect(ctx, tx, entityNamesCypher, map[string]any{
			"workspace": g.workspace,
			"limit":     int64(limit),
		})
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(records))
		for _, rec := range records {
			if n := graphstore.StringValue(rec, "name"); n != "" {
				names = append(names, n)
			}
		}
		return names, nil
	})
	if err != nil {
		return nil, fmt.Errorf("entity names: %w", err)
	}
	return out.([]string), nil
}
