// Package mastery tracks learner progress on concept nodes and unlocks
// dependents whose prerequisites are all mastered.
package mastery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/raphaelgruber/kgtutor/internal/models"
)

var (
	// ErrNodeNotFound means no node has the given id.
	ErrNodeNotFound = errors.New("node not found")
	// ErrInvalidID means the node id is empty.
	ErrInvalidID = errors.New("node id is required")
)

// Dependent is a direct PREREQUISITE successor of a node together with the
// current status of every one of its prerequisites.
type Dependent struct {
	ID             string
	Status         models.MasteryStatus
	PrereqStatuses []models.MasteryStatus
}

// Ready reports whether d has at least one prerequisite and all are mastered.
func (d Dependent) Ready() bool {
	if len(d.PrereqStatuses) == 0 {
		return false
	}
	for _, s := range d.PrereqStatuses {
		if s != models.StatusMastered {
			return false
		}
	}
	return true
}

// Tx is the set of graph mutations performed atomically by MarkMastered.
type Tx interface {
	SetMastered(ctx context.Context, nodeID string) error
	// Dependents locks and returns the direct dependents of nodeID.
	Dependents(ctx context.Context, nodeID string) ([]Dependent, error)
	// Unlock moves locked nodes among ids to unlocked and returns the ids it changed.
	Unlock(ctx context.Context, ids []string) ([]string, error)
}

// Store runs transactions and answers progress queries.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	ModuleProgress(ctx context.Context) ([]models.ModuleProgress, error)
	RecordAnswer(ctx context.Context, questionID string, correct bool) error
}

// Engine applies mastery events to the graph.
type Engine struct {
	store  Store
	logger *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(store Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, logger: logger.With("component", "mastery")}
}

// MarkMastered sets nodeID to mastered and unlocks each direct dependent
// whose prerequisites are now all mastered. It returns only the ids that
// changed state in this call. Dependents further down are not cascaded.
func (e *Engine) MarkMastered(ctx context.Context, nodeID string) ([]string, error) {
	nodeID = strings.TrimSpace(nodeID)
	if nodeID == "" {
		return nil, ErrInvalidID
	}

	var unlocked []string
	err := e.store.InTx(ctx, func(tx Tx) error {
		unlocked = nil
		if err := tx.SetMastered(ctx, nodeID); err != nil {
			return err
		}

		dependents, err := tx.Dependents(ctx, nodeID)
		if err != nil {
			return fmt.Errorf("load dependents: %w", err)
		}

		var ready []string
		for _, d := range dependents {
			if d.Status == models.StatusLocked && d.Ready() {
				ready = append(ready, d.ID)
			}
		}
		if len(ready) == 0 {
			return nil
		}

		unlocked, err = tx.Unlock(ctx, ready)
		if err != nil {
			return fmt.Errorf("unlock dependents: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mark mastered %s: %w", nodeID, err)
	}

	if unlocked == nil {
		unlocked = []string{}
	}
	e.logger.Info("node mastered", "node_id", nodeID, "unlocked", len(unlocked))
	return unlocked, nil
}

// ModuleProgress lists quiz progress per content module.
func (e *Engine) ModuleProgress(ctx context.Context) ([]models.ModuleProgress, error) {
	progress, err := e.store.ModuleProgress(ctx)
	if err != nil {
		return nil, fmt.Errorf("module progress: %w", err)
	}
	return progress, nil
}

// RecordAnswer stores the learner's latest result for a question.
func (e *Engine) RecordAnswer(ctx context.Context, questionID string, correct bool) error {
	questionID = strings.TrimSpace(questionID)
	if questionID == "" {
		return ErrInvalidID
	}
	if err := e.store.RecordAnswer(ctx, questionID, correct); err != nil {
		return fmt.Errorf("record answer %s: %w", questionID, err)
	}
	e.logger.Debug("answer recorded", "question_id", questionID, "correct", correct)
	return nil
}
