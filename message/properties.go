package message

import (
	"sort"
	"sync"
)

// PropertySource resolves a property by key. The bus implements it so message
// lookups can fall back to bus-wide properties.
type PropertySource interface {
	Get(key string) (any, bool)
}

// properties is the string-keyed bag shared by Message and Exchange. The zero
// value is ready to use.
type properties struct {
	mu     sync.RWMutex
	values map[string]any
}

// Get returns the value stored under key.
func (p *properties) Get(key string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[key]
	return v, ok
}

// Put stores value under key, replacing any previous value.
func (p *properties) Put(key string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.values == nil {
		p.values = make(map[string]any)
	}
	p.values[key] = value
}

// Remove deletes key.
func (p *properties) Remove(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.values, key)
}

// Keys returns the stored keys in sorted order.
func (p *properties) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetString returns the value under key when it is a string.
func (p *properties) GetString(key string) string {
	v, _ := p.Get(key)
	s, _ := v.(string)
	return s
}

// GetBool returns the value under key when it is a bool.
func (p *properties) GetBool(key string) bool {
	v, _ := p.Get(key)
	b, _ := v.(bool)
	return b
}
