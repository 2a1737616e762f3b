package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/digitraceslab/koota/internal/adapter"
	"github.com/digitraceslab/koota/internal/converter"
	obsmiddleware "github.com/digitraceslab/koota/internal/observability/logger"
	rawdomain "github.com/digitraceslab/koota/internal/rawdata/domain"
	"github.com/digitraceslab/koota/internal/safehash"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HeaderConverterErrors is the CSV trailer carrying the number of packets
// a converter skipped.
const HeaderConverterErrors = "X-Converter-Errors"

// Query parameters consumed by the export handler; all others are passed
// to the converter as options.
var exportParams = map[string]bool{
	"start": true, "end": true, "format": true, "reverse": true,
	"group": true, "time": true, "tz": true,
}

// cursorSource feeds stored packets to a converter, stamped with the time
// column the scan is ordered by.
type cursorSource struct {
	ctx   context.Context
	cur   rawdomain.Cursor
	order string
	pkt   converter.Packet
}

func (s *cursorSource) Next() bool {
	if !s.cur.Next(s.ctx) {
		return false
	}
	rec := s.cur.Record()
	ts := rec.ReceivedAt
	if s.order == rawdomain.OrderData {
		ts = rec.DataAt
	}
	s.pkt = converter.Packet{TS: ts, Data: rec.Payload}
	return true
}

func (s *cursorSource) Packet() converter.Packet { return s.pkt }

func (s *cursorSource) Err() error { return s.cur.Err() }

// ExportData streams the output of one converter over a device's packets.
// A packet the converter cannot decode is skipped and reported at the end of
// the document, or in the X-Converter-Errors trailer for CSV.
func (s *Server) ExportData(c *gin.Context) {
	ctx := c.Request.Context()

	d, err := s.devices.GetByPublicID(ctx, c.Param("public_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set(obsmiddleware.KeyDevice, d.PublicID)

	groupSlug := strings.TrimSpace(c.Query("group"))
	if err := s.authz.CanReadDevice(ctx, currentUser(c), d, groupSlug); err != nil {
		AbortWithError(c, err)
		return
	}

	entry, _ := s.registry.Lookup(d.Type)
	c.Set(obsmiddleware.KeyAdapter, entry.Name)
	desc, ok := converter.Find(entry.Adapter.Converters(), c.Param("converter"))
	if !ok {
		AbortWithError(c, ErrUnknownConverter)
		return
	}

	hasher := s.secrets.Hasher()
	if groupSlug != "" {
		g, err := s.groups.Get(ctx, groupSlug)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		hasher = safehash.NewHasher(g.Salt)
	}

	loc := s.cfg.Location()
	if tz := strings.TrimSpace(c.Query("tz")); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			AbortWithError(c, ErrInvalidTime)
			return
		}
	}
	rng, err := parseTimeRange(c.Query("start"), c.Query("end"), loc)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	reverse, err := parseOptionalBool(c.Query("reverse"))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	params := converter.Params{
		Hasher:   hasher,
		Location: loc,
		Now:      s.clock.Now(),
		Options:  exportOptions(c),
	}
	if c.Query("time") == "iso" {
		params.TimeFn = converter.FormattedTime(loc, time.RFC3339)
	}
	conv := desc.Build(params)
	if rf, ok := conv.(converter.RangeFilter); ok {
		rng = rf.QueryFilter(rng)
	}

	format := strings.ToLower(c.DefaultQuery("format", converter.FormatCSV))
	w, err := converter.NewWriter(format, c.Writer)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	order := rawdomain.OrderReceived
	if so, ok := entry.Adapter.(adapter.ScanOrderer); ok {
		order = so.ScanOrder()
	}
	src := &cursorSource{
		ctx: ctx,
		cur: s.store.Scan(ctx, d.ID, rawdomain.ScanOptions{
			Range:   rawdomain.TimeRange{Start: rng.Start, End: rng.End},
			Reverse: reverse,
			OrderBy: order,
		}),
		order: order,
	}

	csv := format == converter.FormatCSV || format == ""
	c.Header("Content-Type", w.ContentType())
	if csv {
		c.Header("Trailer", HeaderConverterErrors)
	}
	c.Status(http.StatusOK)

	if err := w.WriteHeader(conv.Header()); err != nil {
		_ = c.Error(err)
		return
	}
	rows := 0
	errs, runErr := s.runner.Run(ctx, desc.Name, conv, src, func(row converter.Row) error {
		rows++
		return w.WriteRow(row)
	})
	s.metrics.ConverterRows(desc.Name, rows)
	if runErr != nil {
		// Headers are sent; the truncated body is all the client gets.
		s.log.Warn("export aborted",
			zap.String("device", d.PublicID),
			zap.String("converter", desc.Name),
			zap.Int("rows", rows),
			zap.Error(runErr),
		)
		_ = c.Error(runErr)
		return
	}
	if csv {
		c.Writer.Header().Set(HeaderConverterErrors, strconv.Itoa(errs.Total))
	}
	if err := w.Close(errs); err != nil {
		_ = c.Error(err)
	}
}

func exportOptions(c *gin.Context) map[string]string {
	out := map[string]string{}
	for key, values := range c.Request.URL.Query() {
		if exportParams[key] || len(values) == 0 {
			continue
		}
		out[key] = values[0]
	}
	return out
}
