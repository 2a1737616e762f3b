// Package bedsensor accepts XML pushes from ballistocardiography bed sensors.
package bedsensor

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"strings"

	"github.com/digitraceslab/koota/internal/adapter"
	ingestdomain "github.com/digitraceslab/koota/internal/ingest/domain"
	rawdomain "github.com/digitraceslab/koota/internal/rawdata/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const Name = "bedsensor"

const maxBody = 16 << 20

var Registration = adapter.Registration{
	Name:        Name,
	Aliases:     []string{"MurataBSN", "koota.devices.murata.MurataBSN"},
	Description: "Bed sensor (XML push)",
	Model:       adapter.ModelDevice,
}

// Document is the pushed XML. The device id is an attribute of the root.
type Document struct {
	XMLName  xml.Name `xml:"data"`
	DeviceID string   `xml:"device_id,attr"`
	Serial   string   `xml:"serial,attr"`
	Samples  []Sample `xml:"sample"`
}

type Sample struct {
	TS        float64 `xml:"ts,attr"`
	HeartRate *int    `xml:"hr,attr"`
	RespRate  *int    `xml:"rr,attr"`
	Stroke    *int    `xml:"sv,attr"`
	Activity  *int    `xml:"act,attr"`
	Status    string  `xml:"status,attr"`
}

// ParseDocument decodes a push body.
func ParseDocument(body []byte) (*Document, error) {
	var doc Document
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

type Params struct {
	fx.In

	Log    *zap.Logger
	Ingest ingestdomain.Service
}

type Adapter struct {
	log    *zap.Logger
	ingest ingestdomain.Service
}

func New(p Params) *Adapter {
	return &Adapter{log: p.Log.Named("adapter.bedsensor"), ingest: p.Ingest}
}

// PreIngest takes the device id from the XML root unless the URL named one.
func (a *Adapter) PreIngest(ctx context.Context, req adapter.IngestRequest) (*adapter.PreIngestResult, error) {
	doc, err := ParseDocument(req.Body)
	if err != nil {
		return nil, adapter.NewProtocolError("Invalid XML")
	}
	id := req.DeviceID
	if id == "" {
		id = strings.TrimSpace(doc.DeviceID)
	}
	if id == "" {
		id = strings.TrimSpace(doc.Serial)
	}
	return &adapter.PreIngestResult{
		Payload:  req.Body,
		DeviceID: id,
		Response: &adapter.Response{Status: http.StatusOK, ContentType: "text/plain; charset=utf-8", Body: []byte("OK")},
	}, nil
}

func (a *Adapter) Routes(r gin.IRouter) {
	r.POST("/data/push/", a.push)
}

func (a *Adapter) push(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBody))
	if err != nil {
		adapter.AbortWithError(c, adapter.NewProtocolError("Unreadable body"), "")
		return
	}
	body = bytes.TrimSpace(body)
	res, err := a.PreIngest(c.Request.Context(), adapter.IngestRequest{HTTP: c.Request, Body: body})
	if err != nil {
		adapter.AbortWithError(c, err, "")
		return
	}
	if _, err := a.ingest.Ingest(c.Request.Context(), ingestdomain.Request{
		DeviceID: res.DeviceID,
		Adapter:  Name,
		Payload:  res.Payload,
		IP:       c.ClientIP(),
	}); err != nil {
		a.log.Debug("push rejected", zap.Error(err))
		adapter.AbortWithError(c, err, "")
		return
	}
	c.Data(res.Response.Status, res.Response.ContentType, res.Response.Body)
}

func (a *Adapter) ScanOrder() string { return rawdomain.OrderReceived }
