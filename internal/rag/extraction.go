package rag

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

const extractionSystemPrompt = `You are a knowledge graph specialist for course material. Extract entities and relations from the given text.

Entity types: concept, skill, competency, task, person, method, tool, document

Output format (one per line, no other text):
ENTITY|name|type|description
RELATION|source|target|relation_type|description|weight

Guidelines:
- Keep entity names in the language of the text, exactly as written
- Descriptions are one short sentence grounded in the text
- Relation types: prerequisite_of, part_of, applies_to, example_of, contrasts_with, relates_to
- weight is a number from 1 to 10 for how strongly the text supports the relation`

func extractionPrompt(text string, known []string) string {
	var b strings.Builder
	b.WriteString("Text:\n")
	b.WriteString(text)
	b.WriteString("\n")
	if len(known) > 0 {
		fmt.Fprintf(&b, "\nEntities already in the graph that may be referenced:\n%s\n", strings.Join(known, ", "))
	}
	b.WriteString("\nExtracted entities and relations:")
	return b.String()
}

// parseExtraction reads ENTITY and RELATION lines. Malformed lines are
// skipped. Relation endpoints missing from the entity lines are added
// as entities of type "unknown".
func parseExtraction(output, chunkID string) ([]Entity, []Relation) {
	var (
		entities  []Entity
		relations []Relation
		seen      = map[string]bool{}
	)

	for _, line := range strings.Split(output, "\n") {
		line = strings.Trim(strings.TrimSpace(line), "-*` ")
		parts := strings.Split(line, "|")
		for i := range parts {
			parts[i] = cleanField(parts[i])
		}

		switch {
		case len(parts) >= 4 && strings.EqualFold(parts[0], "ENTITY"):
			name := parts[1]
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			entities = append(entities, Entity{
				Name:         name,
				Type:         strings.ToLower(cmp.Or(parts[2], "unknown")),
				Description:  parts[3],
				SourceChunks: []string{chunkID},
			})

		case len(parts) >= 5 && strings.EqualFold(parts[0], "RELATION"):
			src, tgt := parts[1], parts[2]
			if src == "" || tgt == "" || src == tgt {
				continue
			}
			weight := 1.0
			if len(parts) >= 6 {
				if w, err := strconv.ParseFloat(parts[5], 64); err == nil && w > 0 {
					weight = w
				}
			}
			relations = append(relations, Relation{
				Source:      src,
				Target:      tgt,
				Type:        strings.ToLower(cmp.Or(parts[3], "relates_to")),
				Description: parts[4],
				Weight:      weight,
			})
		}
	}

	for _, r := range relations {
		for _, name := range []string{r.Source, r.Target} {
			if !seen[name] {
				seen[name] = true
				entities = append(entities, Entity{Name: name, Type: "unknown", SourceChunks: []string{chunkID}})
			}
		}
	}
	return entities, relations
}

func cleanField(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"'“”「」<>()（）`)
}

const descriptionSep = "<SEP>"

// mergeEntities folds duplicates by name: descriptions are joined with
// descriptionSep, source chunks unioned, and the first concrete type wins.
func mergeEntities(in []Entity) []Entity {
	index := map[string]int{}
	var out []Entity
	for _, e := range in {
		i, ok := index[e.Name]
		if !ok {
			index[e.Name] = len(out)
			e.SourceChunks = append([]string(nil), e.SourceChunks...)
			out = append(out, e)
			continue
		}
		cur := &out[i]
		if cur.Type == "unknown" && e.Type != "unknown" {
			cur.Type = e.Type
		}
		cur.Description = joinDescription(cur.Description, e.Description)
		for _, c := range e.SourceChunks {
			if !slices.Contains(cur.SourceChunks, c) {
				cur.SourceChunks = append(cur.SourceChunks, c)
			}
		}
	}
	return out
}

// mergeRelations folds duplicates by (source, target, type), summing weights.
func mergeRelations(in []Relation) []Relation {
	type key struct{ src, tgt, typ string }
	index := map[key]int{}
	var out []Relation
	for _, r := range in {
		k := key{r.Source, r.Target, r.Type}
		i, ok := index[k]
		if !ok {
			index[k] = len(out)
			out = append(out, r)
			continue
		}
		out[i].Weight += r.Weight
		out[i].Description = joinDescription(out[i].Description, r.Description)
	}
	return out
}

func joinDescription(a, b string) string {
	switch {
	case b == "" || strings.Contains(a, b):
		return a
	case a == "":
		return b
	default:
		return a + descriptionSep + b
	}
}
