package server

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/digitraceslab/koota/internal/adapter"
	"github.com/digitraceslab/koota/internal/checkdigit"
	ingestdomain "github.com/digitraceslab/koota/internal/ingest/domain"
	obsmiddleware "github.com/digitraceslab/koota/internal/observability/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	maxIngestBody   = 64 << 20
	maxIngestMemory = 8 << 20

	HeaderDeviceID = "Device-ID"
	HeaderSHA256   = "X-SHA256"
	HeaderNonce    = "X-Nonce"
	HeaderRowID    = "X-Rowid"
)

var errUnreadableBody = adapter.NewProtocolError("Unreadable body")

// Ingest stores a payload for the device named by the request, using the
// adapter of the device's type.
func (s *Server) Ingest(c *gin.Context) {
	s.handleIngest(c, "")
}

// IngestAs stores a payload through the named adapter regardless of the
// device's type.
func (s *Server) IngestAs(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.handleIngest(c, name)
	}
}

func (s *Server) handleIngest(c *gin.Context, override string) {
	ctx := c.Request.Context()

	body, err := readPayload(c)
	if err != nil {
		adapter.AbortWithError(c, errUnreadableBody, "")
		return
	}
	deviceID := requestDeviceID(c)

	entry, err := s.ingestAdapter(ctx, override, deviceID)
	if err != nil {
		adapter.AbortWithError(c, err, "")
		return
	}
	c.Set(obsmiddleware.KeyAdapter, entry.Name)

	req := ingestdomain.Request{
		DeviceID: deviceID,
		Adapter:  entry.Name,
		Payload:  body,
		SHA256:   strings.TrimSpace(c.GetHeader(HeaderSHA256)),
		Nonce:    strings.TrimSpace(c.GetHeader(HeaderNonce)),
		RowID:    strings.TrimSpace(c.GetHeader(HeaderRowID)),
		IP:       c.ClientIP(),
	}

	var canned *adapter.Response
	if pre, ok := entry.Adapter.(adapter.PreIngester); ok {
		res, err := pre.PreIngest(ctx, adapter.IngestRequest{HTTP: c.Request, Body: body, DeviceID: deviceID})
		if err != nil {
			adapter.AbortWithError(c, err, "")
			return
		}
		if res != nil {
			if res.Payload != nil {
				req.Payload = res.Payload
			}
			if res.DeviceID != "" {
				req.DeviceID = res.DeviceID
			}
			req.DataAt = res.DataAt
			canned = res.Response
		}
	}

	receipt, err := s.ingest.Ingest(ctx, req)
	if err != nil {
		s.log.Debug("ingest rejected", zap.String("adapter", entry.Name), zap.Error(err))
		adapter.AbortWithError(c, err, "")
		return
	}
	c.Set(obsmiddleware.KeyDevice, checkdigit.PublicID(strings.ToLower(req.DeviceID)))

	if canned != nil {
		status := canned.Status
		if status == 0 {
			status = http.StatusOK
		}
		c.Data(status, canned.ContentType, canned.Body)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

// ingestAdapter resolves the adapter handling an upload. Without an override
// it follows the stored type of the device; an unknown or malformed id falls
// back to the generic adapter and is rejected by the ingest service.
func (s *Server) ingestAdapter(ctx context.Context, override, deviceID string) (adapter.Entry, error) {
	if override != "" {
		entry, ok := s.registry.Get(override)
		if !ok {
			return adapter.Entry{}, ErrUnknownType
		}
		return entry, nil
	}
	if deviceID == "" {
		entry, _ := s.registry.Lookup(adapter.GenericName)
		return entry, nil
	}
	d, err := s.devices.Get(ctx, deviceID)
	if err != nil {
		entry, _ := s.registry.Lookup(adapter.GenericName)
		return entry, nil
	}
	entry, _ := s.registry.Lookup(d.Type)
	return entry, nil
}

// readPayload returns the raw body, or the data field of a form post. Form
// bodies are parsed into the request so adapter hooks can read other fields.
func readPayload(c *gin.Context) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxIngestBody)
	switch c.ContentType() {
	case "multipart/form-data":
		if err := c.Request.ParseMultipartForm(maxIngestMemory); err != nil {
			return nil, err
		}
		return []byte(c.Request.PostForm.Get("data")), nil
	case "application/x-www-form-urlencoded":
		if err := c.Request.ParseForm(); err != nil {
			return nil, err
		}
		return []byte(c.Request.PostForm.Get("data")), nil
	default:
		return io.ReadAll(c.Request.Body)
	}
}

// requestDeviceID picks the device id from the path, the Device-ID header,
// the query string and finally the form, in that order.
func requestDeviceID(c *gin.Context) string {
	candidates := []string{
		c.Param("id"),
		c.GetHeader(HeaderDeviceID),
		c.Query("device_id"),
		c.Request.PostForm.Get("device_id"),
	}
	for _, v := range candidates {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
