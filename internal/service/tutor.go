package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/raphaelgruber/kgtutor/internal/llm"
	"github.com/raphaelgruber/kgtutor/internal/models"
)

const (
	tutorSystemPrompt = "你是一名基于知识图谱的导师。仅根据提供的证据回答，不要臆造。输出简洁并包含建议。当证据为空时，给出常识解释。"
	tutorUserPrompt   = "问题：%s\n\n证据：\n%s"

	evidenceFocusLimit = 3
)

// EvidenceSource looks up graph context for a question.
type EvidenceSource interface {
	Evidence(ctx context.Context, database, question string, limit int) ([]models.Evidence, error)
}

// PathResolver maps a question to competency paths.
type PathResolver interface {
	Resolve(ctx context.Context, question string) []string
}

// Completer answers a prompt.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, error)
}

// AskRequest is a learner question. Evidence may be supplied by the
// caller; otherwise it is gathered from the graph.
type AskRequest struct {
	Question string
	Evidence []models.Evidence
	// Database selects the graph database for evidence lookup ("" = default).
	Database string
}

// Answer is the tutor's reply with the context it was based on.
type Answer struct {
	Answer   string            `json:"answer"`
	Paths    []string          `json:"paths"`
	Evidence []models.Evidence `json:"evidence"`
}

// Tutor answers questions from graph evidence and competency paths.
type Tutor struct {
	evidence EvidenceSource
	paths    PathResolver
	model    Completer
	logger   *slog.Logger
}

// NewTutor creates a Tutor. evidence may be nil, in which case only
// caller-supplied evidence is used.
func NewTutor(evidence EvidenceSource, paths PathResolver, model Completer, logger *slog.Logger) *Tutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tutor{evidence: evidence, paths: paths, model: model, logger: logger.With("component", "tutor")}
}

// Answer builds the evidence text and asks the model.
func (t *Tutor) Answer(ctx context.Context, req AskRequest) (Answer, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Answer{}, fmt.Errorf("%w: question is empty", ErrInvalidInput)
	}

	evidence := req.Evidence
	if len(evidence) == 0 && t.evidence != nil {
		found, err := t.evidence.Evidence(ctx, req.Database, question, evidenceFocusLimit)
		if err != nil {
			t.logger.Warn("evidence lookup failed", "error", err)
		}
		evidence = found
	}
	if evidence == nil {
		evidence = []models.Evidence{}
	}

	paths := []string{}
	if t.paths != nil {
		paths = t.paths.Resolve(ctx, question)
	}

	text := FormatEvidence(evidence, paths)
	answer, err := t.model.Complete(ctx, llm.CompletionRequest{
		System: tutorSystemPrompt,
		Prompt: fmt.Sprintf(tutorUserPrompt, question, text),
	})
	if err != nil {
		return Answer{}, err
	}

	t.logger.Debug("question answered", "evidence", len(evidence), "paths", len(paths))
	return Answer{Answer: strings.TrimSpace(answer), Paths: paths, Evidence: evidence}, nil
}

// FormatEvidence renders evidence blocks separated by blank lines, then
// one "能力路径:" line per competency path.
func FormatEvidence(evidence []models.Evidence, paths []string) string {
	var blocks []string
	for _, e := range evidence {
		if e.Empty() {
			continue
		}
		var lines []string
		if focus := strings.TrimSpace(e.Focus); focus != "" {
			lines = append(lines, "主题: "+focus)
		}
		for _, s := range []struct {
			label string
			items []string
		}{
			{"相关知识", e.Concepts},
			{"关联能力", e.Skills},
			{"训练任务", e.Tasks},
			{"涉及素养", e.Competencies},
		} {
			if items := nonBlank(s.items); len(items) > 0 {
				lines = append(lines, s.label+": "+strings.Join(items, ", "))
			}
		}
		if len(lines) > 0 {
			blocks = append(blocks, strings.Join(lines, "\n"))
		}
	}

	text := strings.Join(blocks, "\n\n")
	if len(paths) > 0 {
		var b strings.Builder
		for _, p := range paths {
			b.WriteString("能力路径: ")
			b.WriteString(p)
			b.WriteString("\n")
		}
		if text != "" {
			text += "\n\n"
		}
		text += strings.TrimRight(b.String(), "\n")
	}
	return text
}

func nonBlank(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
