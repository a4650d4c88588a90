package competency

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/raphaelgruber/kgtutor/internal/graphstore"
	"github.com/raphaelgruber/kgtutor/internal/models"
)

const candidatesCypher = `
MATCH (n)
WHERE (n:Competency OR n:Dimension OR n:Module)
  AND n.name IS NOT NULL
  AND size(toString(n.name)) > 1
  AND $question CONTAINS toString(n.name)
RETURN elementId(n) AS id, toString(n.name) AS name, labels(n) AS labels,
       toString(coalesce(n.level, '')) AS level
ORDER BY size(toString(n.name)) DESC, name
LIMIT $limit`

// Variable-length bounds cannot be parameters, so maxHops is formatted in.
const rootPathsCypher = `
MATCH (n) WHERE elementId(n) = $id
MATCH p = (root)-[:INCLUDES|HAS_DIMENSION|DEVELOPED_BY*0..%d]->(n)
WHERE toString(root.level) = $rootLevel
RETURN [x IN nodes(p) | toString(coalesce(x.name, x.title, ''))] AS names
ORDER BY length(p)
LIMIT 10`

// Neo4jStore reads the competency hierarchy from Neo4j.
type Neo4jStore struct {
	client   *graphstore.Client
	database string
}

// NewNeo4jStore creates a store reading from database ("" = client default).
func NewNeo4jStore(client *graphstore.Client, database string) *Neo4jStore {
	return &Neo4jStore{client: client, database: database}
}

func (s *Neo4jStore) Candidates(ctx context.Context, question string, limit int) ([]models.ConceptNode, error) {
	out, err := s.client.Read(ctx, s.database, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := graphstore.Collect(ctx, tx, candidatesCypher, map[string]any{
			"question": question,
			"limit":    int64(limit),
		})
		if err != nil {
			return nil, err
		}
		nodes := make([]models.ConceptNode, 0, len(records))
		for _, rec := range records {
			nodes = append(nodes, models.ConceptNode{
				ID:     graphstore.StringValue(rec, "id"),
				Name:   graphstore.StringValue(rec, "name"),
				Level:  graphstore.StringValue(rec, "level"),
				Labels: graphstore.StringsValue(rec, "labels"),
			})
		}
		return nodes, nil
	})
	if err != nil {
		return nil, fmt.Errorf("competency candidates: %w", err)
	}
	return out.([]models.ConceptNode), nil
}

func (s *Neo4jStore) RootPaths(ctx context.Context, nodeID string, maxHops int, rootLevel string) ([][]string, error) {
	cypher := fmt.Sprintf(rootPathsCypher, maxHops)
	out, err := s.client.Read(ctx, s.database, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := graphstore.Collect(ctx, tx, cypher, map[string]any{
			"id":        nodeID,
			"rootLevel": rootLevel,
		})
		if err != nil {
			return nil, err
		}
		paths := make([][]string, 0, len(records))
		for _, rec := range records {
			paths = append(paths, graphstore.StringsValue(rec, "names"))
		}
		return paths, nil
	})
	if err != nil {
		return nil, fmt.Errorf("competency root paths: %w", err)
	}
	return out.([][]string), nil
}
