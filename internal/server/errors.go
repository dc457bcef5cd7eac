package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// FieldError rejects one query parameter.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

func newValidationError(field, code, message string) error {
	return &FieldError{Field: field, Code: code, Message: message}
}

type apiError struct {
	Type    string       `json:"type"`
	Message string       `json:"message"`
	Errors  []FieldError `json:"errors,omitempty"`
}

type errorRule struct {
	status  int
	typ     string
	message string
	match   func(error) bool
}

// errorRules is checked in order. Anything unmatched is a 500 whose
// message never echoes the cause.
var errorRules = []errorRule{
	{http.StatusNotFound, "not_found", "not found", func(err error) bool {
		return errors.Is(err, gorm.ErrRecordNotFound)
	}},
	{http.StatusServiceUnavailable, "service_unavailable", "store did not answer in time", func(err error) bool {
		return errors.Is(err, context.DeadlineExceeded)
	}},
}

// renderErrors writes the last handler error as JSON unless the handler
// already wrote a body.
func renderErrors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}
		status, body := mapError(last.Err)
		c.AbortWithStatusJSON(status, gin.H{"error": body})
	}
}

func abort(c *gin.Context, err error) {
	if err != nil {
		_ = c.Error(err)
		c.Abort()
	}
}

func mapError(err error) (int, apiError) {
	var fe *FieldError
	if errors.As(err, &fe) {
		return http.StatusBadRequest, apiError{Type: "validation_error", Message: "invalid query", Errors: []FieldError{*fe}}
	}
	for _, r := range errorRules {
		if r.match(err) {
			return r.status, apiError{Type: r.typ, Message: r.message}
		}
	}
	return http.StatusInternalServerError, apiError{Type: "internal_error", Message: "internal server error"}
}

// logErrorClass gives the request log the response type and, for
// validation failures, the field code.
func logErrorClass(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	_, body := mapError(err)
	if len(body.Errors) > 0 {
		return body.Type, body.Errors[0].Code
	}
	return body.Type, body.Type
}
