// Package configmerge builds device configuration documents from layered
// overlays.
package configmerge

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Layer is one named overlay. Later layers win.
type Layer struct {
	Name   string
	Values map[string]any
}

// Merge overlays src onto dst and returns dst. Maps merge key by key; any
// other value, including slices, replaces what was there.
func Merge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		sv, srcIsMap := v.(map[string]any)
		dv, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			dst[k] = Merge(dv, sv)
			continue
		}
		dst[k] = clone(v)
	}
	return dst
}

// MergeLayers merges layers in order onto an empty document. Inputs are not
// modified.
func MergeLayers(layers ...Layer) map[string]any {
	out := map[string]any{}
	for _, l := range layers {
		out = Merge(out, l.Values)
	}
	return out
}

func clone(v any) any {
	switch x := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, vv := range x {
			m[k] = clone(vv)
		}
		return m
	case []any:
		s := make([]any, len(x))
		for i, vv := range x {
			s[i] = clone(vv)
		}
		return s
	default:
		return v
	}
}

// Decode turns a stored JSON overlay into a map. Empty input is an empty
// overlay.
func Decode(raw []byte) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode overlay: %w", err)
	}
	return out, nil
}
