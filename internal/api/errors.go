package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/raphaelgruber/kgtutor/internal/graphstore"
	"github.com/raphaelgruber/kgtutor/internal/llm"
	"github.com/raphaelgruber/kgtutor/internal/mastery"
	"github.com/raphaelgruber/kgtutor/internal/rag"
	"github.com/raphaelgruber/kgtutor/internal/service"
)

// APIError is the body of a failed response.
type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ErrorEnvelope wraps APIError. OK is always false so clients checking
// "ok" keep working.
type ErrorEnvelope struct {
	OK    bool     `json:"ok"`
	Error APIError `json:"error"`
}

func respondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, ErrorEnvelope{Error: APIError{Message: msg, Code: code}})
}

// respondErr maps domain errors onto HTTP statuses.
func respondErr(c *gin.Context, err error) {
	var buildErr *rag.BuildError
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, mastery.ErrInvalidID), errors.Is(err, rag.ErrEmptyText):
		respondError(c, http.StatusBadRequest, "invalid_input", err)
	case errors.Is(err, service.ErrTaskNotFound):
		respondError(c, http.StatusNotFound, "task_not_found", err)
	case errors.Is(err, mastery.ErrNodeNotFound):
		respondError(c, http.StatusNotFound, "node_not_found", err)
	case errors.Is(err, service.ErrClosed), errors.Is(err, rag.ErrClosed):
		respondError(c, http.StatusServiceUnavailable, "shutting_down", err)
	case errors.As(err, &buildErr):
		respondError(c, http.StatusBadGateway, "index_unavailable", err)
	case errors.Is(err, llm.ErrFatalAPI), errors.Is(err, llm.ErrProvider):
		respondError(c, http.StatusBadGateway, "provider_error", err)
	case errors.Is(err, graphstore.ErrUnavailable), errors.Is(err, graphstore.ErrQuery):
		respondError(c, http.StatusBadGateway, "graph_store_error", err)
	case errors.Is(err, context.DeadlineExceeded):
		respondError(c, http.StatusGatewayTimeout, "timeout", err)
	default:
		respondError(c, http.StatusInternalServerError, "internal", err)
	}
}
