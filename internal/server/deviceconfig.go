package server

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"image/png"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/digitraceslab/koota/internal/adapter"
	devicedomain "github.com/digitraceslab/koota/internal/device/domain"
	obsmiddleware "github.com/digitraceslab/koota/internal/observability/logger"
	"github.com/gin-gonic/gin"
)

const (
	qrSize    = 300
	qrScheme  = "koota:?"
	configURI = "/config"
)

// certificate is a server certificate clients may pin.
type certificate struct {
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
	Body   string `json:"body"`
}

type deviceConfigResponse struct {
	PostURL   string        `json:"post"`
	ConfigURL string        `json:"config"`
	DeviceID  string        `json:"device_id,omitempty"`
	Type      string        `json:"type,omitempty"`
	Certs     []certificate `json:"certs"`
	Device    any           `json:"device_config,omitempty"`
}

// endpointer is implemented by adapters whose clients post somewhere other
// than the generic ingest route.
type endpointer interface {
	EndpointURL(secretID string) string
}

func loadCertificates(paths []string) ([]certificate, error) {
	out := make([]certificate, 0, len(paths))
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read certificate %s: %w", path, err)
		}
		out = append(out, certificate{
			Name:   filepath.Base(path),
			SHA256: fingerprint(raw),
			Body:   base64.StdEncoding.EncodeToString(raw),
		})
	}
	return out, nil
}

// fingerprint hashes the DER bytes of the first PEM certificate block, or
// the whole file when it is not PEM encoded.
func fingerprint(raw []byte) string {
	der := raw
	rest := raw
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			der = block.Bytes
			break
		}
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}

// DeviceConfig answers with the process wide client configuration. With a
// device_id it also carries the device's rendered configuration.
func (s *Server) DeviceConfig(c *gin.Context) {
	resp := deviceConfigResponse{
		PostURL:   s.cfg.PublicURL + "/post",
		ConfigURL: s.cfg.PublicURL + configURI,
		Certs:     s.certs,
	}

	if id := strings.TrimSpace(c.Query("device_id")); id != "" {
		d, err := s.devices.Get(c.Request.Context(), id)
		if err != nil {
			adapter.AbortWithError(c, err, "")
			return
		}
		c.Set(obsmiddleware.KeyDevice, d.PublicID)
		entry, _ := s.registry.Lookup(d.Type)
		resp.DeviceID = d.ID
		resp.Type = entry.Name
		resp.PostURL = s.postURL(entry, d)
		if r, ok := entry.Adapter.(adapter.ConfigRenderer); ok {
			doc, err := r.RenderConfig(c.Request.Context(), d, s.clock.Now())
			if err != nil {
				adapter.AbortWithError(c, err, "")
				return
			}
			resp.Device = doc
		}
	}

	c.JSON(http.StatusOK, resp)
}

// DeviceQRCode renders the enrollment URI of a device as a PNG. The URI
// carries the secret id, so only the owner may fetch it.
func (s *Server) DeviceQRCode(c *gin.Context) {
	d, err := s.devices.GetByPublicID(c.Request.Context(), c.Param("public_id"))
	if err != nil {
		adapter.AbortWithError(c, err, "")
		return
	}
	if err := adapter.RequireOwner(c, d); err != nil {
		adapter.AbortWithError(c, err, "")
		return
	}
	c.Set(obsmiddleware.KeyDevice, d.PublicID)

	code, err := qr.Encode(s.enrollmentURI(d), qr.M, qr.Auto)
	if err == nil {
		code, err = barcode.Scale(code, qrSize, qrSize)
	}
	if err != nil {
		adapter.AbortWithError(c, err, "")
		return
	}
	c.Header("Content-Type", "image/png")
	c.Header("Cache-Control", "no-store")
	c.Status(http.StatusOK)
	if err := png.Encode(c.Writer, code); err != nil {
		_ = c.Error(err)
	}
}

func (s *Server) enrollmentURI(d *devicedomain.Device) string {
	entry, _ := s.registry.Lookup(d.Type)
	v := url.Values{}
	v.Set("post", s.postURL(entry, d))
	v.Set("config", s.cfg.PublicURL+configURI+"?device_id="+d.ID)
	v.Set("device_id", d.ID)
	v.Set("type", entry.Name)
	for _, cert := range s.certs {
		v.Add("cert_sha256", cert.SHA256)
	}
	return qrScheme + v.Encode()
}

func (s *Server) postURL(entry adapter.Entry, d *devicedomain.Device) string {
	if e, ok := entry.Adapter.(endpointer); ok {
		return e.EndpointURL(d.ID)
	}
	if _, ok := entry.Adapter.(adapter.PreIngester); ok {
		return s.cfg.PublicURL + "/post/" + entry.Name + "/" + d.ID
	}
	return s.cfg.PublicURL + "/post/" + d.ID
}
