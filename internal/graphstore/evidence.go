package graphstore

import (
	"context"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/raphaelgruber/kgtutor/internal/models"
)

const evidenceCypher = `
MATCH (n)
WHERE any(prop IN [n.name, n.title, n.id] WHERE toLower(toString(coalesce(prop, ''))) CONTAINS $q)
WITH n LIMIT $limit
OPTIONAL MATCH (n)--(c:Concept)
OPTIONAL MATCH (n)--(s:Skill)
OPTIONAL MATCH (n)--(t:Task)
OPTIONAL MATCH (n)--(p:Competency)
RETURN toString(coalesce(n.name, n.title, n.id, '')) AS focus,
       [x IN collect(DISTINCT c)[0..5] | toString(coalesce(x.name, x.title, x.id, ''))] AS concepts,
       [x IN collect(DISTINCT s)[0..5] | toString(coalesce(x.name, x.title, x.id, ''))] AS skills,
       [x IN collect(DISTINCT t)[0..5] | toString(coalesce(x.name, x.title, x.id, ''))] AS tasks,
       [x IN collect(DISTINCT p)[0..5] | toString(coalesce(x.name, x.title, x.id, ''))] AS competencies`

// Evidence gathers graph context for a question: up to limit focus nodes
// whose name, title or id contains the question, with their Concept, Skill,
// Task and Competency neighbours. database "" reads the default database.
func (c *Client) Evidence(ctx context.Context, database, question string, limit int) ([]models.Evidence, error) {
	q := strings.ToLower(strings.TrimSpace(question))
	if q == "" {
		return nil, nil
	}

	out, err := c.Read(ctx, database, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := Collect(ctx, tx, evidenceCypher, map[string]any{"q": q, "limit": int64(limit)})
		if err != nil {
			return nil, err
		}
		evidence := make([]models.Evidence, 0, len(records))
		for _, rec := range records {
			evidence = append(evidence, models.Evidence{
				Focus:        StringValue(rec, "focus"),
				Concepts:     StringsValue(rec, "concepts"),
				Skills:       StringsValue(rec, "skills"),
				Tasks:        StringsValue(rec, "tasks"),
				Competencies: StringsValue(rec, "competencies"),
			})
		}
		return evidence, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]models.Evidence), nil
}
