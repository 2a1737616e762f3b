package bedsensor

import (
	"context"
	"fmt"

	"github.com/digitraceslab/koota/internal/converter"
)

func (a *Adapter) Converters() []converter.Descriptor {
	return []converter.Descriptor{
		converter.RawDescriptor,
		converter.PacketSizeDescriptor,
		{Name: "samples", Description: "One row per sample.", New: newSamples},
	}
}

type samples struct {
	timeFn converter.TimeFunc
}

func newSamples(p converter.Params) converter.Converter {
	return &samples{timeFn: p.TimeFn}
}

func (c *samples) Header() []string {
	return []string{"time", "heart_rate", "respiration_rate", "stroke_volume", "activity", "status"}
}

func (c *samples) Transform(ctx context.Context, in converter.Source, emit func(converter.Row) error) error {
	for in.Next() {
		doc, err := ParseDocument(in.Packet().Data)
		if err != nil {
			return fmt.Errorf("invalid xml: %w", err)
		}
		for _, s := range doc.Samples {
			row := converter.Row{c.timeFn(s.TS), opt(s.HeartRate), opt(s.RespRate), opt(s.Stroke), opt(s.Activity), s.Status}
			if err := emit(row); err != nil {
				return err
			}
		}
	}
	return nil
}

func opt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
