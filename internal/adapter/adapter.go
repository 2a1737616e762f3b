// Package adapter defines the contract of a device class and the registry
// that maps device type names to implementations.
package adapter

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/digitraceslab/koota/internal/converter"
	devicedomain "github.com/digitraceslab/koota/internal/device/domain"
	"github.com/gin-gonic/gin"
)

// Storage model variants.
const (
	ModelDevice = "device"
	ModelOAuth  = "oauth"
)

// Adapter is a device class. Optional behavior is expressed by also
// implementing the interfaces below.
type Adapter interface {
	Converters() []converter.Descriptor
}

// IngestRequest is what the ingestion path knows before the adapter hook.
type IngestRequest struct {
	HTTP     *http.Request
	Body     []byte
	DeviceID string
}

// Response is a canned HTTP reply.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// PreIngestResult lets a hook replace the payload, supply the device id or
// answer with its own response once the packet is stored.
type PreIngestResult struct {
	Payload  []byte
	DeviceID string
	Response *Response
	DataAt   *time.Time
}

type PreIngester interface {
	PreIngest(ctx context.Context, req IngestRequest) (*PreIngestResult, error)
}

// PostProcessor rewrites a payload before storage, e.g. for redaction.
type PostProcessor interface {
	PostProcess(ctx context.Context, d *devicedomain.Device, payload []byte) ([]byte, error)
}

// ConfigRenderer produces the device-facing configuration document.
type ConfigRenderer interface {
	RenderConfig(ctx context.Context, d *devicedomain.Device, now time.Time) (any, error)
}

// CreateHooker initializes adapter state when a device is created.
type CreateHooker interface {
	CreateHook(ctx context.Context, req *devicedomain.CreateRequest) error
}

// RouteProvider mounts adapter specific routes.
type RouteProvider interface {
	Routes(r gin.IRouter)
}

// ScanOrderer declares which packet time converters read in order.
type ScanOrderer interface {
	ScanOrder() string
}

// ProtocolError is a request the adapter rejected.
type ProtocolError struct {
	Reason string
	Status int
}

func (e *ProtocolError) Error() string { return e.Reason }

func NewProtocolError(format string, args ...any) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...), Status: http.StatusBadRequest}
}
