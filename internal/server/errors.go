package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/digitraceslab/koota/internal/adapter"
	apikeydomain "github.com/digitraceslab/koota/internal/apikey/domain"
	"github.com/digitraceslab/koota/internal/authorization"
	"github.com/digitraceslab/koota/internal/converter"
	devicedomain "github.com/digitraceslab/koota/internal/device/domain"
	groupdomain "github.com/digitraceslab/koota/internal/group/domain"
	rawdomain "github.com/digitraceslab/koota/internal/rawdata/domain"
	"github.com/gin-gonic/gin"
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
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("not_found")
	ErrInvalidRequest   = errors.New("invalid_request")
	ErrUnknownConverter = errors.New("unknown_converter")
	ErrUnknownType      = errors.New("unknown_device_type")
	ErrInvalidTime      = errors.New("invalid_time")
)

// ErrorHandlingMiddleware renders the last handler error of /api routes.
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

		if errors.Is(lastErr.Err, adapter.ErrLoginRequired) {
			// Renders the redirect to the login page.
			adapter.AbortWithError(c, lastErr.Err, "")
			return
		}

		status, payload := mapError(lastErr.Err)
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
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := err.Error()
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: "invalid value",
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, apikeydomain.ErrInvalidKey):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, adapter.ErrNoDevicePermission),
		errors.Is(err, adapter.ErrNoGroupPermission):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog names the error kind for the request log. Device
// facing errors are classified by the status the adapters answer with.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	code := errorCode(err)
	if status, _ := adapter.StatusOf(err); status != http.StatusInternalServerError {
		switch {
		case status == http.StatusTooManyRequests:
			return "rate_limited", code
		case status == http.StatusTemporaryRedirect:
			return "unauthorized", code
		case status == http.StatusForbidden:
			return "forbidden", code
		case status == http.StatusNotFound:
			return "not_found", code
		default:
			return "client_error", code
		}
	}
	_, payload := mapError(err)
	return payload.Type, code
}

func errorCode(err error) string {
	var protocol *adapter.ProtocolError
	if errors.As(err, &protocol) {
		return "protocol_error"
	}
	msg := err.Error()
	if i := strings.IndexAny(msg, " :"); i > 0 {
		msg = msg[:i]
	}
	return msg
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
		errors.Is(err, ErrUnknownType),
		errors.Is(err, ErrInvalidTime),
		errors.Is(err, converter.ErrUnknownFormat),
		errors.Is(err, rawdomain.ErrInvalidOrder),
		errors.Is(err, devicedomain.ErrInvalidType),
		errors.Is(err, devicedomain.ErrInvalidOwner),
		errors.Is(err, devicedomain.ErrInvalidDeviceID),
		errors.Is(err, groupdomain.ErrInvalidName),
		errors.Is(err, groupdomain.ErrInvalidInvite),
		errors.Is(err, apikeydomain.ErrInvalidOwner),
		errors.Is(err, apikeydomain.ErrInvalidName),
		errors.Is(err, apikeydomain.ErrInvalidKeyID),
		errors.Is(err, authorization.ErrInvalidActor),
		errors.Is(err, authorization.ErrInvalidGroup),
		errors.Is(err, authorization.ErrInvalidRole),
		errors.Is(err, authorization.ErrInvalidObject),
		errors.Is(err, authorization.ErrInvalidAction):
		return true
	default:
		var protocol *adapter.ProtocolError
		return errors.As(err, &protocol)
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, groupdomain.ErrAlreadyMember),
		errors.Is(err, groupdomain.ErrSlugTaken),
		errors.Is(err, groupdomain.ErrLocked),
		errors.Is(err, devicedomain.ErrTypeLocked),
		errors.Is(err, devicedomain.ErrAmbiguous),
		errors.Is(err, devicedomain.ErrIDTaken):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrUnknownConverter),
		errors.Is(err, devicedomain.ErrNotFound),
		errors.Is(err, groupdomain.ErrNotFound),
		errors.Is(err, groupdomain.ErrNotMember),
		errors.Is(err, apikeydomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorField(code string) string {
	switch code {
	case ErrInvalidRequest.Error():
		return "request"
	case ErrUnknownType.Error(), devicedomain.ErrInvalidType.Error():
		return "type"
	case converter.ErrUnknownFormat.Error():
		return "format"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}
