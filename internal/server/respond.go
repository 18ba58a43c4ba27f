package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lepinkainen/librarian/internal/catalog"
	apperrors "github.com/lepinkainen/librarian/internal/errors"
	"github.com/lepinkainen/librarian/internal/fileutil"
	"github.com/lepinkainen/librarian/internal/lending"
	"github.com/lepinkainen/librarian/internal/metadata"
)

type code string

const (
	codeInvalidArgument code = "INVALID_ARGUMENT"
	codeNotFound        code = "NOT_FOUND"
	codeDuplicate       code = "DUPLICATE"
	codeConflict        code = "CONFLICT"
	codeUnauthorized    code = "UNAUTHORIZED"
	codeForbidden       code = "FORBIDDEN"
	codeTooLarge        code = "TOO_LARGE"
	codeUpstream        code = "UPSTREAM_UNAVAILABLE"
	codeUnavailable     code = "UNAVAILABLE"
	codeInternal        code = "INTERNAL"
)

// envelope is the body of every API response.
type envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Code      code   `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func success(data any, message string) envelope {
	return envelope{Success: true, Data: data, Message: message}
}

func failure(c code, msg string) envelope {
	return envelope{Success: false, Code: c, Error: msg}
}

// classify maps a domain error onto an HTTP status and error code.
func classify(err error) (int, code) {
	switch {
	case errors.Is(err, catalog.ErrDuplicate):
		return http.StatusConflict, codeDuplicate
	case errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, lending.ErrConflict), errors.Is(err, catalog.ErrEmailTaken):
		return http.StatusConflict, codeConflict
	case errors.Is(err, catalog.ErrInvalid),
		errors.Is(err, lending.ErrInvalid),
		errors.Is(err, fileutil.ErrUnsupportedImage),
		errors.Is(err, metadata.ErrInvalidISBN),
		errors.Is(err, metadata.ErrEmptyQuery):
		return http.StatusBadRequest, codeInvalidArgument
	case errors.Is(err, fileutil.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, codeTooLarge
	case apperrors.IsExternalServiceError(err):
		return http.StatusBadGateway, codeUpstream
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func respondError(c *gin.Context, err error) {
	status, errCode := classify(err)
	body := failure(errCode, err.Error())
	if errCode == codeUpstream {
		body.Retryable = true
	}
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "path", c.Request.URL.Path, "error", err)
		body.Error = "internal server error"
	}
	c.AbortWithStatusJSON(status, body)
}

func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, failure(codeInvalidArgument, "invalid "+name))
		return 0, false
	}
	return id, true
}

func parseIntDefault(s string, d int) int {
	if s == "" {
		return d
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return v
}
