package mastery

import (
	"context"
	"strconv"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/raphaelgruber/kgtutor/internal/graphstore"
	"github.com/raphaelgruber/kgtutor/internal/models"
)

const (
	setMasteredCypher = `
MATCH (n) WHERE elementId(n) = $id
SET n.status = 2
RETURN elementId(n) AS id`

	// Touching each dependent takes its write lock before prerequisite
	// statuses are read, so two concurrent masteries of sibling
	// prerequisites cannot both miss the unlock.
	dependentsCypher = `
MATCH (n)-[:PREREQUISITE]->(d) WHERE elementId(n) = $id
WITH DISTINCT d
SET d._lock = true
REMOVE d._lock
WITH d
MATCH (p)-[:PREREQUISITE]->(d)
RETURN elementId(d) AS id, coalesce(d.status, 0) AS status, collect(coalesce(p.status, 0)) AS prereqs`

	// Status comparison matches toStatus: numeric strings count, anything
	// unparseable is locked. The unlocked status is written as an integer.
	unlockCypher = `
UNWIND $ids AS id
MATCH (d) WHERE elementId(d) = id AND coalesce(toInteger(d.status), 0) = 0
SET d.status = 1
RETURN elementId(d) AS id`

	moduleProgressCypher = `
MATCH (m:ContentModule)
OPTIONAL MATCH (m)-[:TESTS]-(q:Question)
RETURN elementId(m) AS id, toString(coalesce(m.name, m.title, '')) AS name,
       m.created_at AS createdAt,
       count(q) AS total,
       count(CASE WHEN q.user_result = 'true' THEN 1 END) AS mastered
ORDER BY createdAt DESC`

	recordAnswerCypher = `
MATCH (q:Question) WHERE elementId(q) = $id
SET q.user_result = $result, q.answered_at = datetime()
RETURN elementId(q) AS id`
)

// Neo4jStore persists mastery state on Neo4j nodes.
type Neo4jStore struct {
	client   *graphstore.Client
	database string
}

// NewNeo4jStore creates a store writing to database ("" = client default).
func NewNeo4jStore(client *graphstore.Client, database string) *Neo4jStore {
	return &Neo4jStore{client: client, database: database}
}

func (s *Neo4jStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	_, err := s.client.Write(ctx, s.database, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(neo4jTx{tx: tx})
	})
	return err
}

func (s *Neo4jStore) ModuleProgress(ctx context.Context) ([]models.ModuleProgress, error) {
	out, err := s.client.Read(ctx, s.database, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := graphstore.Collect(ctx, tx, moduleProgressCypher, nil)
		if err != nil {
			return nil, err
		}
		progress := make([]models.ModuleProgress, 0, len(records))
		for _, rec := range records {
			progress = append(progress, models.ModuleProgress{
				ID:       graphstore.StringValue(rec, "id"),
				Name:     graphstore.StringValue(rec, "name"),
				Total:    int(graphstore.IntValue(rec, "total")),
				Mastered: int(graphstore.IntValue(rec, "mastered")),
			})
		}
		return progress, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]models.ModuleProgress), nil
}

func (s *Neo4jStore) RecordAnswer(ctx context.Context, questionID string, correct bool) error {
	_, err := s.client.Write(ctx, s.database, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := graphstore.Collect(ctx, tx, recordAnswerCypher, map[string]any{
			"id":     questionID,
			"result": strconv.FormatBool(correct),
		})
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, ErrNodeNotFound
		}
		return nil, nil
	})
	return err
}

type neo4jTx struct {
	tx neo4j.ManagedTransaction
}

func (t neo4jTx) SetMastered(ctx context.Context, nodeID string) error {
	records, err := graphstore.Collect(ctx, t.tx, setMasteredCypher, map[string]any{"id": nodeID})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return ErrNodeNotFound
	}
	return nil
}

func (t neo4jTx) Dependents(ctx context.Context, nodeID string) ([]Dependent, error) {
	records, err := graphstore.Collect(ctx, t.tx, dependentsCypher, map[string]any{"id": nodeID})
	if err != nil {
		return nil, err
	}
	deps := make([]Dependent, 0, len(records))
	for _, rec := range records {
		raw, _ := rec.Get("prereqs")
		list, _ := raw.([]any)
		statuses := make([]models.MasteryStatus, 0, len(list))
		for _, v := range list {
			statuses = append(statuses, toStatus(v))
		}
		deps = append(deps, Dependent{
			ID:             graphstore.StringValue(rec, "id"),
			Status:         toStatus(mustGet(rec, "status")),
			PrereqStatuses: statuses,
		})
	}
	return deps, nil
}

func (t neo4jTx) Unlock(ctx context.Context, ids []string) ([]string, error) {
	records, err := graphstore.Collect(ctx, t.tx, unlockCypher, map[string]any{"ids": ids})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(records))
	for _, rec := range records {
		out = append(out, graphstore.StringValue(rec, "id"))
	}
	return out, nil
}

func mustGet(rec *neo4j.Record, key string) any {
	v, _ := rec.Get(key)
	return v
}

// toStatus accepts integer or numeric-string statuses written by other tools.
func toStatus(v any) models.MasteryStatus {
	switch n := v.(type) {
	case int64:
		return models.MasteryStatus(n)
	case float64:
		return models.MasteryStatus(int64(n))
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return models.MasteryStatus(i)
		}
	}
	return models.StatusLocked
}
