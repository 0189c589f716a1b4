package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/roadfuel/internal/gateway"
	"github.com/smallbiznis/roadfuel/internal/offline"
	"github.com/smallbiznis/roadfuel/internal/session"
	"github.com/smallbiznis/roadfuel/internal/syncer"
	"github.com/smallbiznis/roadfuel/internal/validation"
)

type errorPayload struct {
	Type    string             `json:"type"`
	Message string             `json:"message"`
	Errors  []validation.Error `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return validation.New(field, code, message)
}

func isUnauthorized(err error) bool {
	return errors.Is(err, syncer.ErrNotReady) || gateway.IsUnauthorized(err)
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr, ok := validation.As(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	switch {
	case isUnauthorized(err):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "no active session",
		}
	case errors.Is(err, session.ErrJourneyActive):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "a journey is already active",
		}
	case errors.Is(err, offline.ErrDeadLetterNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, offline.ErrUnknownEntity):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "no queue accepts this entity",
		}
	case errors.Is(err, offline.ErrQueueWrite):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "local store unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	if status >= http.StatusInternalServerError {
		return "server_error", code
	}
	return "client_error", code
}
