package mapping

import (
	"reflect"
	"sort"
	"sync"
)

// Registry caches entity layouts by type. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	entities map[reflect.Type]*Entity
	bySet    map[string]*Entity
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		entities: make(map[reflect.Type]*Entity),
		bySet:    make(map[string]*Entity),
	}
}

// Register reads and caches the layout of v's type.
// v may be a struct, a pointer to one, or a reflect.Type.
func (r *Registry) Register(v any) (*Entity, error) {
	t, ok := v.(reflect.Type)
	if !ok {
		t = reflect.TypeOf(v)
	}
	return r.Lookup(t)
}

// Lookup returns the layout for t, registering it on first use.
func (r *Registry) Lookup(t reflect.Type) (*Entity, error) {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	r.mu.RLock()
	e, ok := r.entities[t]
	r.mu.RUnlock()
	if ok {
		return e, nil
	}

	e, err := NewEntity(t)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entities[t]; ok {
		return existing, nil
	}
	r.entities[t] = e
	r.bySet[e.Set()] = e
	return e, nil
}

// ForSet returns the entity registered for a set name, or nil.
func (r *Registry) ForSet(set string) *Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bySet[set]
}

// Entities returns all registered layouts ordered by set name.
func (r *Registry) Entities() []*Entity {
	r.mu.RLock()
	out := make([]*Entity, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Set() < out[j].Set() })
	return out
}

// Len returns the number of registered types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}
