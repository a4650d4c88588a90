// Package competency resolves questions to paths in the competency hierarchy.
package competency

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/raphaelgruber/kgtutor/internal/models"
)

// PathSeparator joins node names in a rendered path.
const PathSeparator = " -> "

// Store is the graph access the resolver needs.
type Store interface {
	// Candidates returns hierarchy nodes whose name (longer than one
	// character) occurs literally in question, at most limit of them.
	Candidates(ctx context.Context, question string, limit int) ([]models.ConceptNode, error)
	// RootPaths returns root-to-node name sequences reaching nodeID within
	// maxHops hierarchy edges from a node whose level equals rootLevel.
	RootPaths(ctx context.Context, nodeID string, maxHops int, rootLevel string) ([][]string, error)
}

// Options bounds the work done per question.
type Options struct {
	RootLevel      string
	CandidateLimit int
	MaxHops        int
	ResultLimit    int
}

// DefaultOptions returns the limits used by the tutoring frontend.
func DefaultOptions() Options {
	return Options{RootLevel: "1", CandidateLimit: 3, MaxHops: 4, ResultLimit: 3}
}

// Resolver maps a question to competency paths.
type Resolver struct {
	store  Store
	opts   Options
	logger *slog.Logger
}

// NewResolver creates a Resolver. Zero option fields take their defaults.
func NewResolver(store Store, opts Options, logger *slog.Logger) *Resolver {
	def := DefaultOptions()
	opts.RootLevel = cmp.Or(opts.RootLevel, def.RootLevel)
	opts.CandidateLimit = cmp.Or(opts.CandidateLimit, def.CandidateLimit)
	opts.MaxHops = cmp.Or(opts.MaxHops, def.MaxHops)
	opts.ResultLimit = cmp.Or(opts.ResultLimit, def.ResultLimit)
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, opts: opts, logger: logger.With("component", "competency")}
}

// Resolve returns up to ResultLimit distinct paths such as "计算思维 -> 数据结构",
// shortest first. Store failures are logged and yield an empty result.
func (r *Resolver) Resolve(ctx context.Context, question string) []string {
	question = strings.TrimSpace(question)
	if question == "" {
		return []string{}
	}

	candidates, err := r.store.Candidates(ctx, question, r.opts.CandidateLimit)
	if err != nil {
		r.logger.Warn("candidate lookup failed", "error", err)
		return []string{}
	}
	if len(candidates) > r.opts.CandidateLimit {
		candidates = candidates[:r.opts.CandidateLimit]
	}

	var paths [][]string
	for _, c := range candidates {
		found, err := r.store.RootPaths(ctx, c.ID, r.opts.MaxHops, r.opts.RootLevel)
		if err != nil {
			r.logger.Warn("path lookup failed", "node", c.Name, "error", err)
			return []string{}
		}
		paths = append(paths, found...)
	}

	return rank(paths, r.opts.ResultLimit)
}

// rank orders paths by length then text, renders them and keeps the first
// limit distinct ones.
func rank(paths [][]string, limit int) []string {
	type rendered struct {
		hops int
		text string
	}

	items := make([]rendered, 0, len(paths))
	for _, p := range paths {
		names := slices.DeleteFunc(slices.Clone(p), func(s string) bool { return strings.TrimSpace(s) == "" })
		if len(names) == 0 {
			continue
		}
		items = append(items, rendered{hops: len(names), text: strings.Join(names, PathSeparator)})
	}
	slices.SortFunc(items, func(a, b rendered) int {
		return cmp.Or(cmp.Compare(a.hops, b.hops), strings.Compare(a.text, b.text))
	})

	out := make([]string, 0, limit)
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if seen[it.text] {
			continue
		}
		seen[it.text] = true
		out = append(out, it.text)
		if len(out) == limit {
			break
		}
	}
	return out
}
