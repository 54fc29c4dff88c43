package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/poiesic/grundgraph"
	"github.com/poiesic/grundgraph/core"
	"github.com/poiesic/grundgraph/ingestion"
	"github.com/poiesic/grundgraph/search"
	"github.com/poiesic/grundgraph/storage"
)

// AppError is an error with the HTTP status it is reported with.
type AppError struct {
	Code    int
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError.
func NewAppError(code int, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// mapError picks the status for err. Unknown errors become 500 with a
// generic message.
func mapError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, ingestion.ErrJobNotFound), errors.Is(err, storage.ErrNotFound):
		return NewAppError(http.StatusNotFound, err.Error(), err)
	case errors.Is(err, ingestion.ErrJobNotResumable),
		errors.Is(err, ingestion.ErrJobActive),
		errors.Is(err, ingestion.ErrJobTerminal),
		errors.Is(err, storage.ErrInvalidTransition):
		return NewAppError(http.StatusConflict, err.Error(), err)
	case errors.Is(err, core.ErrInvalidOptions),
		errors.Is(err, core.ErrEmptyFilePath),
		errors.Is(err, search.ErrEmptyQuery),
		errors.Is(err, search.ErrUnknownStrategy),
		errors.Is(err, storage.ErrInvalidQuery),
		errors.Is(err, storage.ErrDimensionMismatch),
		errors.Is(err, grundgraph.ErrDocumentIDRequired):
		return NewAppError(http.StatusBadRequest, err.Error(), err)
	case errors.Is(err, ingestion.ErrPipelineClosed), errors.Is(err, storage.ErrStorageClosed):
		return NewAppError(http.StatusServiceUnavailable, err.Error(), err)
	}
	return NewAppError(http.StatusInternalServerError, "internal error", err)
}

func (s *Server) handleError(c *gin.Context, err error) {
	appErr := mapError(err)
	if appErr.Code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "err", err)
	}
	c.JSON(appErr.Code, gin.H{"error": appErr.Message})
}
