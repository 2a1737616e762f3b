package oauthsvc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	devicedomain "github.com/digitraceslab/koota/internal/device/domain"
	"github.com/digitraceslab/koota/internal/observability/metrics"
	rawdomain "github.com/digitraceslab/koota/internal/rawdata/domain"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Page is the stored form of one fetched page.
type Page struct {
	Endpoint  string            `json:"endpoint"`
	SinceID   string            `json:"since_id,omitempty"`
	FetchedAt int64             `json:"fetched_at"`
	Items     []json.RawMessage `json:"items"`
}

type item struct {
	ID    json.RawMessage `json:"id"`
	IDStr string          `json:"id_str"`
}

// Scrape fetches new items of every endpoint for o and stores one packet per
// page. It returns the number of pages stored. The cursor of an endpoint only
// advances together with the page it was taken from.
func (a *Adapter) Scrape(ctx context.Context, o *devicedomain.OAuthDevice) (int, error) {
	log := a.log.With(zap.String("device_id", o.DeviceID))
	now := a.clock.Now().UTC()

	if o.NeedsRefresh(now, RefreshWindow) {
		if err := a.renew(ctx, o, now); err != nil {
			a.record(ctx, o, err)
			a.metrics.ScraperRun(a.name, metrics.ResultAuthExpired)
			return 0, err
		}
	}

	stored := 0
	var runErr error
	for _, endpoint := range a.provider.Endpoints {
		n, err := a.scrapeEndpoint(ctx, o, endpoint)
		stored += n
		if err != nil {
			runErr = err
			break
		}
	}

	if IsKind(runErr, KindAuthExpired) {
		o.State = devicedomain.StateExpired
	}
	a.record(ctx, o, runErr)

	switch {
	case runErr == nil:
		a.metrics.ScraperRun(a.name, metrics.ResultOK)
	case IsKind(runErr, KindRateLimited):
		a.metrics.ScraperRun(a.name, metrics.ResultRateLimited)
	case IsKind(runErr, KindAuthExpired):
		a.metrics.ScraperRun(a.name, metrics.ResultAuthExpired)
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		// cancelled at a page boundary, nothing to report
	default:
		a.metrics.ScraperRun(a.name, metrics.ResultError)
	}
	if runErr != nil && ctx.Err() == nil {
		log.Warn("scrape failed", zap.Int("pages", stored), zap.Error(runErr))
	} else {
		log.Debug("scrape finished", zap.Int("pages", stored))
	}
	return stored, runErr
}

func (a *Adapter) scrapeEndpoint(ctx context.Context, o *devicedomain.OAuthDevice, endpoint string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	attr := AttrCursor(endpoint)
	cursor, _, err := a.store.AttrGet(ctx, o.DeviceID, attr)
	if err != nil {
		return 0, err
	}

	stored := 0
	for stored < a.maxPages() {
		if err := ctx.Err(); err != nil {
			return stored, err
		}
		raw, err := a.client.page(ctx, o.ResourceKey, endpoint, cursor)
		if err != nil {
			return stored, err
		}
		items, err := decodeItems(raw)
		if err != nil {
			return stored, &FetchError{Kind: KindTransient, Err: err}
		}
		if len(items) == 0 {
			return stored, nil
		}

		next := newestID(items, cursor)
		now := a.clock.Now().UTC()
		payload, err := json.Marshal(Page{Endpoint: endpoint, SinceID: cursor, FetchedAt: now.Unix(), Items: items})
		if err != nil {
			return stored, err
		}
		err = a.store.Transaction(ctx, func(w rawdomain.Writer) error {
			if _, err := w.Append(ctx, rawdomain.AppendRequest{
				DeviceID:   o.DeviceID,
				Payload:    payload,
				ReceivedAt: now,
			}); err != nil {
				return err
			}
			return w.AttrSet(ctx, o.DeviceID, attr, next)
		})
		if err != nil {
			return stored, err
		}
		if err := a.devices.MarkData(ctx, o.DeviceID, now); err != nil {
			a.log.Warn("mark first data failed", zap.String("device_id", o.DeviceID), zap.Error(err))
		}
		stored++
		a.metrics.ScraperPage(a.name)

		if next == cursor {
			// the service ignores since_id, further pages would repeat this one
			return stored, nil
		}
		cursor = next
	}
	return stored, nil
}

func (a *Adapter) renew(ctx context.Context, o *devicedomain.OAuthDevice, now time.Time) error {
	if o.RefreshToken == "" {
		o.State = devicedomain.StateExpired
		return &FetchError{Kind: KindAuthExpired, Err: errors.New("token expired and no refresh token")}
	}
	tok, err := a.client.refresh(ctx, o.RefreshToken)
	if err != nil {
		o.State = devicedomain.StateExpired
		return err
	}
	a.applyToken(o, tok, now)
	return nil
}

// record stores the outcome of a run on o.
func (a *Adapter) record(ctx context.Context, o *devicedomain.OAuthDevice, err error) {
	now := a.clock.Now().UTC()
	o.TsLastFetch = &now
	o.Error = ""
	if err != nil {
		o.Error = err.Error()
	}
	// a cancelled run still records its progress
	if serr := a.devices.SaveOAuth(context.WithoutCancel(ctx), o); serr != nil {
		a.log.Error("save oauth state failed", zap.String("device_id", o.DeviceID), zap.Error(serr))
	}
}

// decodeItems accepts a bare JSON array or an object with a data array.
func decodeItems(raw []byte) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil {
		return items, nil
	}
	var wrapped struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}
	return wrapped.Data, nil
}

// newestID returns the largest item id of the page, or cursor when no item
// carries one. Numeric ids compare numerically.
func newestID(items []json.RawMessage, cursor string) string {
	best := cursor
	for _, raw := range items {
		var it item
		if err := json.Unmarshal(raw, &it); err != nil {
			continue
		}
		id := it.IDStr
		if id == "" {
			id = strings.Trim(string(it.ID), `"`)
		}
		if id != "" && id != "null" && idLess(best, id) {
			best = id
		}
	}
	return best
}

func idLess(a, b string) bool {
	if a == "" {
		return true
	}
	x, okx := new(big.Int).SetString(a, 10)
	y, oky := new(big.Int).SetString(b, 10)
	if okx && oky {
		return x.Cmp(y) < 0
	}
	return a < b
}
