package api

import (
	"cmp"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/raphaelgruber/kgtutor/internal/models"
	"github.com/raphaelgruber/kgtutor/internal/rag"
	"github.com/raphaelgruber/kgtutor/internal/service"
)

const defaultTopK = 10

type uploadRequest struct {
	FileBase64 string `json:"file_base64"`
	Text       string `json:"text"`
	Filename   string `json:"filename"`
	DBName     string `json:"db_name"`
}

type taskRequest struct {
	TaskID string `json:"task_id"`
}

type nodeRequest struct {
	NodeID string `json:"node_id"`
}

// answerRequest accepts the frontend's is_correct as well as correct.
type answerRequest struct {
	QuestionID string `json:"question_id"`
	IsCorrect  *bool  `json:"is_correct"`
	Correct    *bool  `json:"correct"`
}

type askRequest struct {
	Question string            `json:"question"`
	Evidence []models.Evidence `json:"evidence"`
	DBName   string            `json:"db_name"`
}

type queryRequest struct {
	Question string `json:"question"`
	Mode     string `json:"mode"`
	DBName   string `json:"db_name"`
	TopK     int    `json:"top_k"`
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_json", err)
		return false
	}
	return true
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", service.ErrInvalidInput, fmt.Sprintf(format, args...))
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Metrics.Snapshot())
}

func (h *Handler) uploadDoc(c *gin.Context) {
	var req uploadRequest
	if !bindJSON(c, &req) {
		return
	}

	submit := service.SubmitRequest{Filename: req.Filename, DBName: req.DBName}
	switch {
	case req.FileBase64 != "":
		submit.Content, submit.Kind = req.FileBase64, models.ContentBinary
	case req.Text != "":
		submit.Content, submit.Kind = req.Text, models.ContentText
	default:
		respondErr(c, invalid("file_base64 or text is required"))
		return
	}

	id, err := h.deps.Tasks.Submit(submit)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "task_id": id})
}

func (h *Handler) taskStatus(c *gin.Context) {
	id := strings.TrimSpace(c.Query("task_id"))
	if id == "" {
		respondErr(c, invalid("task_id is required"))
		return
	}
	snap, ok := h.deps.Tasks.Status(id)
	if !ok {
		respondErr(c, fmt.Errorf("%w: %s", service.ErrTaskNotFound, id))
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) cancelTask(c *gin.Context) {
	var req taskRequest
	if !bindJSON(c, &req) {
		return
	}
	if strings.TrimSpace(req.TaskID) == "" {
		respondErr(c, invalid("task_id is required"))
		return
	}
	if !h.deps.Tasks.Cancel(req.TaskID) {
		if _, ok := h.deps.Tasks.Status(req.TaskID); !ok {
			respondErr(c, fmt.Errorf("%w: %s", service.ErrTaskNotFound, req.TaskID))
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": false, "message": "task is not cancellable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) listTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.deps.Tasks.List()})
}

func (h *Handler) competencyPaths(c *gin.Context) {
	question := c.Query("question")
	if c.Request.Method == http.MethodPost {
		var req struct {
			Question string `json:"question"`
		}
		if !bindJSON(c, &req) {
			return
		}
		question = req.Question
	}
	paths := h.deps.Paths.Resolve(c.Request.Context(), question)
	if paths == nil {
		paths = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"paths": paths})
}

func (h *Handler) zpdUpdate(c *gin.Context) {
	var req nodeRequest
	if !bindJSON(c, &req) {
		return
	}
	unlocked, err := h.deps.Mastery.MarkMastered(c.Request.Context(), req.NodeID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "unlocked": unlocked})
}

func (h *Handler) modules(c *gin.Context) {
	modules, err := h.deps.Mastery.ModuleProgress(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	if modules == nil {
		modules = []models.ModuleProgress{}
	}
	c.JSON(http.StatusOK, gin.H{"modules": modules})
}

func (h *Handler) submitAnswer(c *gin.Context) {
	var req answerRequest
	if !bindJSON(c, &req) {
		return
	}
	correct := req.IsCorrect
	if correct == nil {
		correct = req.Correct
	}
	if strings.TrimSpace(req.QuestionID) == "" || correct == nil {
		respondErr(c, invalid("question_id and is_correct are required"))
		return
	}
	if err := h.deps.Mastery.RecordAnswer(c.Request.Context(), req.QuestionID, *correct); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) ask(c *gin.Context) {
	var req askRequest
	if !bindJSON(c, &req) {
		return
	}
	database := ""
	if req.DBName != "" && h.deps.GraphDatabase != nil {
		database = h.deps.GraphDatabase(req.DBName)
	}
	answer, err := h.deps.Tutor.Answer(c.Request.Context(), service.AskRequest{
		Question: req.Question,
		Evidence: req.Evidence,
		Database: database,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, answer)
}

func (h *Handler) query(c *gin.Context) {
	var req queryRequest
	if !bindJSON(c, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		respondErr(c, invalid("question is required"))
		return
	}
	mode, err := rag.ParseMode(req.Mode)
	if err != nil {
		respondErr(c, errors.Join(service.ErrInvalidInput, err))
		return
	}
	dbName, err := h.dbName(req.DBName)
	if err != nil {
		respondErr(c, err)
		return
	}

	index, err := h.deps.Indexes.Get(c.Request.Context(), dbName)
	if err != nil {
		respondErr(c, err)
		return
	}
	result, err := index.Query(c.Request.Context(), req.Question, mode, cmp.Or(req.TopK, defaultTopK))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// dbName resolves a request's db_name the way uploads do: blank falls back
// to the configured default.
func (h *Handler) dbName(raw string) (string, error) {
	return service.ValidateDBName(cmp.Or(strings.TrimSpace(raw), h.deps.DefaultDBName, service.DefaultDBName))
}
