// Package rag indexes documents into a per-database knowledge graph and
// answers questions over it.
package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/kgtutor/internal/models"
)

// Mode selects how much graph context a query pulls in.
type Mode string

const (
	// ModeNaive uses vector search over chunks only.
	ModeNaive Mode = "naive"
	// ModeLocal adds entities extracted from the matched chunks.
	ModeLocal Mode = "local"
	// ModeGlobal adds relations touching those entities.
	ModeGlobal Mode = "global"
)

// ParseMode parses a query mode. Empty input selects ModeGlobal.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeGlobal, nil
	case ModeNaive, ModeLocal, ModeGlobal:
		return m, nil
	default:
		return "", fmt.Errorf("unknown query mode %q", s)
	}
}

// Entity is a named node extracted from text.
type Entity struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Description  string   `json:"description"`
	SourceChunks []string `json:"source_chunks,omitempty"`
}

// Relation is a directed, typed edge between two entities.
type Relation struct {
	Source      string  `json:"source"`
	Target      string  `json:"target"`
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Weight      float64 `json:"weight"`
}

// ProgressFunc receives insert progress as completed and total work units.
type ProgressFunc func(done, total int)

// InsertResult summarises one Insert call.
type InsertResult struct {
	Chunks    int `json:"chunks"`
	Entities  int `json:"entities"`
	Relations int `json:"relations"`
}

// QueryResult is the context retrieved for a question plus the generated answer.
type QueryResult struct {
	Answer    string              `json:"answer"`
	Chunks    []models.ChunkMatch `json:"chunks"`
	Entities  []Entity            `json:"entities"`
	Relations []Relation          `json:"relations"`
}

// Index is the retrieval index of one db_name.
type Index interface {
	// Insert chunks, embeds and graph-extracts text. source names the
	// originating document ("raw_text" for pasted text).
	Insert(ctx context.Context, text, source string, progress ProgressFunc) (InsertResult, error)
	Query(ctx context.Context, question string, mode Mode, topK int) (QueryResult, error)
	Close(ctx context.Context) error
}
