package converter

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-json"
)

// Raw emits every packet unchanged.
type Raw struct {
	TimeFn TimeFunc
}

func NewRaw(p Params) Converter { return &Raw{TimeFn: p.TimeFn} }

func (c *Raw) Header() []string { return []string{"time", "data"} }

func (c *Raw) Transform(ctx context.Context, in Source, emit func(Row) error) error {
	for in.Next() {
		p := in.Packet()
		if err := emit(Row{c.TimeFn(p.Unix()), string(p.Data)}); err != nil {
			return err
		}
	}
	return nil
}

// PacketSize emits the payload length of every packet.
type PacketSize struct {
	TimeFn TimeFunc
}

func NewPacketSize(p Params) Converter { return &PacketSize{TimeFn: p.TimeFn} }

func (c *PacketSize) Header() []string { return []string{"time", "bytes"} }

func (c *PacketSize) Transform(ctx context.Context, in Source, emit func(Row) error) error {
	for in.Next() {
		p := in.Packet()
		if err := emit(Row{c.TimeFn(p.Unix()), len(p.Data)}); err != nil {
			return err
		}
	}
	return nil
}

// JSONPretty re-indents JSON payloads.
type JSONPretty struct {
	TimeFn TimeFunc
}

func NewJSONPretty(p Params) Converter { return &JSONPretty{TimeFn: p.TimeFn} }

func (c *JSONPretty) Header() []string { return []string{"time", "data"} }

func (c *JSONPretty) Transform(ctx context.Context, in Source, emit func(Row) error) error {
	for in.Next() {
		p := in.Packet()
		var buf bytes.Buffer
		if err := json.Indent(&buf, p.Data, "", "  "); err != nil {
			return fmt.Errorf("invalid json: %w", err)
		}
		if err := emit(Row{c.TimeFn(p.Unix()), buf.String()}); err != nil {
			return err
		}
	}
	return nil
}

// Basic converters every adapter exposes.
var (
	RawDescriptor = Descriptor{
		Name:        "raw",
		Description: "Raw payloads as received.",
		New:         NewRaw,
	}
	PacketSizeDescriptor = Descriptor{
		Name:        "packet_size",
		Description: "Payload size of each packet.",
		New:         NewPacketSize,
	}
	JSONPrettyDescriptor = Descriptor{
		Name:        "json_pretty",
		Description: "Payloads re-indented as JSON.",
		New:         NewJSONPretty,
	}
)
