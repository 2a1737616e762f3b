package configmerge

import (
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

const pluginsKey = "plugins"

// Setting is one {setting, value} pair of the sensors or plugin lists.
type Setting struct {
	Setting string `json:"setting"`
	Value   string `json:"value"`
}

// Plugin is one entry of the plugins section.
type Plugin struct {
	Plugin   string    `json:"plugin"`
	Settings []Setting `json:"settings"`
}

// Sections renders values and schedules as the ordered section list
// [{sensors}, {plugins}, {schedulers}]. All setting values are strings.
func Sections(values map[string]any, schedules []Schedule) []map[string]any {
	sensors := make([]Setting, 0, len(values))
	for _, k := range sortedKeys(values) {
		if k == pluginsKey || strings.HasPrefix(k, schedulePrefix) {
			continue
		}
		sensors = append(sensors, Setting{Setting: k, Value: Stringify(values[k])})
	}

	plugins := []Plugin{}
	if raw, ok := values[pluginsKey].(map[string]any); ok {
		for _, name := range sortedKeys(raw) {
			settings, _ := raw[name].(map[string]any)
			p := Plugin{Plugin: name, Settings: make([]Setting, 0, len(settings))}
			for _, k := range sortedKeys(settings) {
				p.Settings = append(p.Settings, Setting{Setting: k, Value: Stringify(settings[k])})
			}
			plugins = append(plugins, p)
		}
	}

	schedulers := make([]map[string]any, 0, len(schedules))
	for _, s := range schedules {
		schedulers = append(schedulers, s.Document())
	}

	return []map[string]any{
		{"sensors": sensors},
		{"plugins": plugins},
		{"schedulers": schedulers},
	}
}

// Stringify renders a scalar the way devices read settings. Integral floats
// lose their fraction and composite values are JSON encoded.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		raw, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
