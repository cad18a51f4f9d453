package dialect

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

var ErrUnknownDialect = errors.New("unknown dialect")

// Registry maps dialect names to dialects. Each application builds its own.
type Registry struct {
	mu       sync.RWMutex
	dialects map[string]Dialect
}

func NewRegistry(dialects ...Dialect) *Registry {
	r := &Registry{dialects: make(map[string]Dialect)}
	for _, d := range dialects {
		r.dialects[strings.ToLower(d.Name())] = d
	}
	return r
}

// Register adds d. A name can only be registered once.
func (r *Registry) Register(d Dialect) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToLower(d.Name())
	if _, ok := r.dialects[key]; ok {
		return fmt.Errorf("dialect %q is already registered", d.Name())
	}
	r.dialects[key] = d
	return nil
}

func (r *Registry) Lookup(name string) (Dialect, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.dialects[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDialect, name)
	}
	return d, nil
}

// Names returns the registered dialect names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.dialects))
	for _, d := range r.dialects {
		names = append(names, d.Name())
	}
	slices.Sort(names)
	return names
}
