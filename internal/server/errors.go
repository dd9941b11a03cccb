package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	clientdomain "github.com/smallbiznis/possync/internal/client/domain"
	contingencydomain "github.com/smallbiznis/possync/internal/contingency/domain"
	"github.com/smallbiznis/possync/internal/pullsync"
	refdomain "github.com/smallbiznis/possync/internal/reference/domain"
	salesdomain "github.com/smallbiznis/possync/internal/sales/domain"
	syncdomain "github.com/smallbiznis/possync/internal/syncevent/domain"
	"github.com/smallbiznis/possync/internal/transfer"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrConflict           = errors.New("conflict")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

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
	return &ValidationErrors{
		Errors: []ValidationError{{Field: field, Code: code, Message: message}},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	// Business rule rejections carry the message shown to the operator.
	var ruleErr *salesdomain.ValidationError
	if errors.As(err, &ruleErr) {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "validation_error",
			Message: ruleErr.Message,
			Errors:  []ValidationError{{Field: ruleErr.Field, Code: "rejected", Message: ruleErr.Message}},
		}
	}

	var openErr *contingencydomain.AlreadyOpenError
	if errors.As(err, &openErr) {
		return http.StatusConflict, errorPayload{Type: "conflict", Message: openErr.Error()}
	}

	if isValidationError(err) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  []ValidationError{{Code: err.Error(), Message: err.Error()}},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{Type: "unauthorized", Message: "unauthorized"}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{Type: "conflict", Message: err.Error()}
	case isPreconditionError(err):
		return http.StatusPreconditionFailed, errorPayload{Type: "precondition_failed", Message: err.Error()}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: "not found"}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{Type: "rate_limited", Message: "too many requests"}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, refdomain.ErrLocationNotConfigured),
		errors.Is(err, refdomain.ErrServerAddressNotConfigured):
		return http.StatusServiceUnavailable, errorPayload{Type: "service_unavailable", Message: err.Error()}
	default:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	}
}

// classifyErrorForLog returns the error type and code attached to request logs.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if payload.Type != "internal_error" {
		code = err.Error()
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, clientdomain.ErrInvalidRUT),
		errors.Is(err, contingencydomain.ErrInvalidUser),
		errors.Is(err, refdomain.ErrInvalidLocation),
		errors.Is(err, syncdomain.ErrInvalidType),
		errors.Is(err, transfer.ErrUnknownKind),
		errors.Is(err, transfer.ErrHeaderMismatch):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, syncdomain.ErrSyncInProgress),
		errors.Is(err, syncdomain.ErrAlreadyTerminal),
		errors.Is(err, syncdomain.ErrNotPending),
		errors.Is(err, pullsync.ErrPushInProgress),
		errors.Is(err, contingencydomain.ErrNoOpenContingency):
		return true
	default:
		return false
	}
}

func isPreconditionError(err error) bool {
	return errors.Is(err, contingencydomain.ErrNoReferenceSync) ||
		errors.Is(err, contingencydomain.ErrSyncTooOld)
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, clientdomain.ErrNotFound),
		errors.Is(err, contingencydomain.ErrNotFound),
		errors.Is(err, refdomain.ErrNotFound),
		errors.Is(err, salesdomain.ErrQuoteNotFound),
		errors.Is(err, salesdomain.ErrSaleNotFound),
		errors.Is(err, syncdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}
