package aware

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/digitraceslab/koota/internal/adapter"
	ingestdomain "github.com/digitraceslab/koota/internal/ingest/domain"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const maxBody = 64 << 20

func (a *Adapter) Routes(r gin.IRouter) {
	g := r.Group("/aware/v1/:secret")
	g.POST("", a.register)
	g.POST("/:table/insert", a.insert)
	g.POST("/:table/latest", a.latest)
	g.GET("/:table/latest", a.latest)
	g.POST("/:table/create_table", a.noop)
	g.POST("/:table/clear_table", a.noop)
}

// register answers the client's study join with its configuration. The
// client sends its own generated id as device_id.
func (a *Adapter) register(c *gin.Context) {
	ctx := c.Request.Context()
	d, err := a.devices.Get(ctx, c.Param("secret"))
	if err != nil {
		adapter.AbortWithError(c, err, "")
		return
	}

	doc, err := a.RenderConfig(ctx, d, a.clock.Now())
	if err != nil {
		a.log.Error("render config", zap.String("device", d.PublicID), zap.Error(err))
		adapter.AbortWithError(c, err, "")
		return
	}

	clientID := strings.TrimSpace(c.PostForm("device_id"))
	if clientID == "" {
		c.JSON(http.StatusOK, gin.H{"error": "No device_id given", "config": doc})
		return
	}
	if err := a.store.AttrSet(ctx, d.ID, AttrDeviceUUID, clientID); err != nil {
		a.log.Warn("store client id", zap.String("device", d.PublicID), zap.Error(err))
	}
	c.JSON(http.StatusOK, doc)
}

type insertReply struct {
	Timestamp  float64 `json:"timestamp"`
	Table      string  `json:"table"`
	Rows       int     `json:"rows"`
	DataSHA256 string  `json:"data_sha256"`
}

func (a *Adapter) insert(c *gin.Context) {
	table := c.Param("table")
	secret := c.Param("secret")

	body, rows, err := readRows(c)
	if err != nil {
		adapter.AbortWithError(c, adapter.NewProtocolError("%s", err.Error()), "")
		return
	}

	receipt, err := a.ingest.IngestTable(c.Request.Context(), ingestdomain.TableRequest{
		DeviceID:     secret,
		Adapter:      Name,
		Table:        table,
		Body:         body,
		Rows:         rows,
		TimestampKey: TimestampKey,
		IP:           c.ClientIP(),
	})
	if err != nil {
		adapter.AbortWithError(c, err, "")
		return
	}

	c.JSON(http.StatusOK, []insertReply{{
		Timestamp:  receipt.LastTS,
		Table:      table,
		Rows:       receipt.Rows,
		DataSHA256: receipt.DataSHA256,
	}})
}

// latest reports the greatest stored timestamp so the client can skip rows
// the server already holds.
func (a *Adapter) latest(c *gin.Context) {
	ctx := c.Request.Context()
	d, err := a.devices.Get(ctx, c.Param("secret"))
	if err != nil {
		adapter.AbortWithError(c, err, "")
		return
	}
	ts, ok, err := a.ingest.LastTS(ctx, d.ID, c.Param("table"))
	if err != nil {
		adapter.AbortWithError(c, &ingestdomain.StoreError{Err: err}, "")
		return
	}
	if !ok {
		c.JSON(http.StatusOK, []gin.H{})
		return
	}
	c.JSON(http.StatusOK, []gin.H{{"timestamp": ts, "double_end_timestamp": ts}})
}

// noop acknowledges table management calls; storage is schemaless.
func (a *Adapter) noop(c *gin.Context) {
	if _, err := a.devices.Get(c.Request.Context(), c.Param("secret")); err != nil {
		adapter.AbortWithError(c, err, "")
		return
	}
	c.Status(http.StatusOK)
}

// readRows accepts the rows either as the form field data or as a raw JSON
// array body. The digest covers the rows as sent.
func readRows(c *gin.Context) ([]byte, []map[string]any, error) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBody))
	if err != nil {
		return nil, nil, err
	}
	body := bytes.TrimSpace(raw)
	if ct := c.ContentType(); ct == "application/x-www-form-urlencoded" || ct == "multipart/form-data" {
		c.Request.Body = io.NopCloser(bytes.NewReader(raw))
		body = []byte(strings.TrimSpace(c.PostForm("data")))
	}
	if len(body) == 0 {
		return body, nil, nil
	}
	var rows []map[string]any
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, nil, errInvalidRows
	}
	return body, rows, nil
}
