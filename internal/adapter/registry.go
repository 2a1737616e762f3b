package adapter

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/digitraceslab/koota/internal/converter"
)

// GenericName is the type every unknown name resolves to.
const GenericName = "generic"

var ErrInvalidRegistration = errors.New("invalid_adapter_registration")

// Registration describes an adapter to the registry.
type Registration struct {
	Name        string
	Aliases     []string
	Description string
	// Default adapters appear in the end-user device creation menu.
	Default bool
	Model   string
}

// Entry is a resolved registry record.
type Entry struct {
	Registration
	Adapter Adapter
}

// Choice is a menu item for device creation.
type Choice struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Registry maps type names to adapters. It is filled at startup and read
// concurrently afterwards.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	aliases map[string]string
	order   []string
}

// NewRegistry returns a registry holding the generic adapter.
func NewRegistry() *Registry {
	r := &Registry{
		entries: map[string]*Entry{},
		aliases: map[string]string{},
	}
	_ = r.Register(Generic{}, Registration{
		Name:        GenericName,
		Aliases:     []string{"Generic", "BaseDevice"},
		Description: "Generic device, data stored as received",
		Model:       ModelDevice,
	})
	return r
}

// Register adds a, replacing any adapter registered under the same name.
func (r *Registry) Register(a Adapter, reg Registration) error {
	reg.Name = strings.TrimSpace(reg.Name)
	if reg.Name == "" || a == nil {
		return ErrInvalidRegistration
	}
	if reg.Model == "" {
		reg.Model = ModelDevice
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.entries[reg.Name]; ok {
		for _, alias := range old.Aliases {
			if r.aliases[alias] == reg.Name {
				delete(r.aliases, alias)
			}
		}
	} else {
		r.order = append(r.order, reg.Name)
	}
	r.entries[reg.Name] = &Entry{Registration: reg, Adapter: a}
	for _, alias := range reg.Aliases {
		if alias != "" && alias != reg.Name {
			r.aliases[alias] = reg.Name
		}
	}
	return nil
}

// Lookup resolves name by canonical name, then alias, then the last segment
// of a dotted qualified name, and finally falls back to the generic adapter.
// The boolean reports whether name matched a registration.
func (r *Registry) Lookup(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e := r.resolve(name); e != nil {
		return *e, true
	}
	if i := strings.LastIndex(name, "."); i >= 0 && i < len(name)-1 {
		if e := r.resolve(name[i+1:]); e != nil {
			return *e, true
		}
	}
	return *r.entries[GenericName], false
}

func (r *Registry) resolve(name string) *Entry {
	if e, ok := r.entries[name]; ok {
		return e
	}
	if canonical, ok := r.aliases[name]; ok {
		return r.entries[canonical]
	}
	return nil
}

// Get returns the entry registered exactly under name.
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

func (r *Registry) DefaultChoices() []Choice {
	return r.choices(true)
}

func (r *Registry) AllChoices() []Choice {
	return r.choices(false)
}

func (r *Registry) choices(onlyDefault bool) []Choice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Choice, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		if onlyDefault && !e.Default {
			continue
		}
		out = append(out, Choice{Name: e.Name, Description: e.Description})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Description < out[j].Description })
	return out
}

// Entries returns every registration in registration order.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.entries[name])
	}
	return out
}

// NamesByModel lists canonical names using the given storage model.
func (r *Registry) NamesByModel(model string) []string {
	var out []string
	for _, e := range r.Entries() {
		if e.Model == model {
			out = append(out, e.Name)
		}
	}
	return out
}

// Generic stores payloads opaquely and exposes only the raw and packet size
// converters.
type Generic struct{}

func (Generic) Converters() []converter.Descriptor {
	return []converter.Descriptor{converter.RawDescriptor, converter.PacketSizeDescriptor}
}
