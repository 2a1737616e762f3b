package adapter

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	devicedomain "github.com/digitraceslab/koota/internal/device/domain"
	ingestdomain "github.com/digitraceslab/koota/internal/ingest/domain"
	"github.com/gin-gonic/gin"
)

// ErrorBody is the machine readable failure reply of device facing routes.
type ErrorBody struct {
	OK       bool   `json:"ok"`
	Error    string `json:"error"`
	DeviceID string `json:"device_id,omitempty"`
}

// StatusOf maps a device facing error to its HTTP status and message.
func StatusOf(err error) (int, string) {
	var protocol *ProtocolError
	var limited *ingestdomain.RateLimitedError
	var store *ingestdomain.StoreError
	switch {
	case errors.Is(err, ErrLoginRequired):
		return http.StatusTemporaryRedirect, "Login required"
	case errors.Is(err, ErrNoDevicePermission):
		return http.StatusForbidden, "No permission for this device"
	case errors.Is(err, ErrNoGroupPermission):
		return http.StatusForbidden, "No permission for this group"
	case errors.As(err, &protocol):
		status := protocol.Status
		if status == 0 {
			status = http.StatusBadRequest
		}
		return status, protocol.Reason
	case errors.Is(err, ingestdomain.ErrInvalidDeviceID),
		errors.Is(err, devicedomain.ErrInvalidDeviceID):
		return http.StatusBadRequest, "Invalid device_id checkdigits"
	case errors.Is(err, ingestdomain.ErrMissingDeviceID):
		return http.StatusBadRequest, "No device_id given"
	case errors.Is(err, ingestdomain.ErrDigestMismatch):
		return http.StatusBadRequest, "data_sha256 mismatch"
	case errors.Is(err, ingestdomain.ErrInvalidTable):
		return http.StatusBadRequest, "Invalid table name"
	case errors.Is(err, ingestdomain.ErrUnknownDevice),
		errors.Is(err, devicedomain.ErrNotFound):
		return http.StatusNotFound, "Unknown device_id"
	case errors.As(err, &limited):
		return http.StatusTooManyRequests, "Too many uploads"
	case errors.As(err, &store):
		return http.StatusInternalServerError, "Internal error"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}

// AbortWithError writes the failure reply for err and stops the chain.
// deviceID is echoed only when the caller already proved knowledge of it.
func AbortWithError(c *gin.Context, err error, deviceID string) {
	if errors.Is(err, ErrLoginRequired) {
		_ = c.Error(err)
		c.Redirect(http.StatusTemporaryRedirect, loginURL(c)+"?next="+url.QueryEscape(c.Request.URL.RequestURI()))
		c.Abort()
		return
	}
	status, msg := StatusOf(err)
	var limited *ingestdomain.RateLimitedError
	if errors.As(err, &limited) {
		secs := int(limited.RetryAfter.Seconds() + 0.999)
		c.Header("Retry-After", strconv.Itoa(max(secs, 1)))
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, ErrorBody{OK: false, Error: msg, DeviceID: deviceID})
}
