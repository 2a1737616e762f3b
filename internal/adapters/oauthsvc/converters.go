package oauthsvc

import (
	"context"
	"fmt"
	"strings"

	"github.com/digitraceslab/koota/internal/converter"
	"github.com/goccy/go-json"
)

func (a *Adapter) Converters() []converter.Descriptor {
	return []converter.Descriptor{
		converter.RawDescriptor,
		converter.PacketSizeDescriptor,
		{Name: "pages", Description: "One row per fetched page.", New: newPages},
		{Name: "items", Description: "One row per fetched item.", New: newItems},
	}
}

type pages struct {
	timeFn converter.TimeFunc
}

func newPages(p converter.Params) converter.Converter { return &pages{timeFn: p.TimeFn} }

func (c *pages) Header() []string {
	return []string{"time", "endpoint", "since_id", "items"}
}

func (c *pages) Transform(ctx context.Context, in converter.Source, emit func(converter.Row) error) error {
	for in.Next() {
		var pg Page
		if err := json.Unmarshal(in.Packet().Data, &pg); err != nil {
			return fmt.Errorf("invalid page: %w", err)
		}
		if err := emit(converter.Row{c.timeFn(float64(pg.FetchedAt)), pg.Endpoint, pg.SinceID, len(pg.Items)}); err != nil {
			return err
		}
	}
	return nil
}

type items struct {
	timeFn converter.TimeFunc
}

func newItems(p converter.Params) converter.Converter { return &items{timeFn: p.TimeFn} }

func (c *items) Header() []string {
	return []string{"time", "endpoint", "id", "item"}
}

func (c *items) Transform(ctx context.Context, in converter.Source, emit func(converter.Row) error) error {
	for in.Next() {
		var pg Page
		if err := json.Unmarshal(in.Packet().Data, &pg); err != nil {
			return fmt.Errorf("invalid page: %w", err)
		}
		for _, raw := range pg.Items {
			var it item
			_ = json.Unmarshal(raw, &it)
			id := it.IDStr
			if id == "" {
				id = strings.Trim(string(it.ID), `"`)
			}
			row := converter.Row{c.timeFn(float64(pg.FetchedAt)), pg.Endpoint, id, string(raw)}
			if err := emit(row); err != nil {
				return err
			}
		}
	}
	return nil
}
