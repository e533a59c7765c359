// Package pool holds the name table shared by unit registries.
package pool

import (
	"errors"
	"slices"
	"sync"

	"github.com/ZenLiuCN/fn"
)

// Pool is a concurrency-safe table of values keyed by name, each name is stored at most once.
type Pool[T any] struct {
	Modules map[string]T
	Loaded  []string //names in registration order
	sync.RWMutex
}

var (
	ErrAlreadyLoad = errors.New("module already loaded")
	ErrNotLoad     = errors.New("module not loaded")
)

// NewPool create new pool
func NewPool[T any]() *Pool[T] {
	return &Pool[T]{Modules: make(map[string]T)}
}

// Store registers v under name. It fails with ErrAlreadyLoad when name is taken and leaves the pool unchanged.
func (p *Pool[T]) Store(name string, v T) error {
	p.Lock()
	defer p.Unlock()
	if _, ok := p.Modules[name]; ok {
		return ErrAlreadyLoad
	}
	p.Modules[name] = v
	p.Loaded = append(p.Loaded, name)
	return nil
}

// Require fetch the value registered under name
func (p *Pool[T]) Require(name string) (v T, err error) {
	p.RLock()
	defer p.RUnlock()
	var ok bool
	if v, ok = p.Modules[name]; !ok {
		err = ErrNotLoad
	}
	return
}

// Has reports whether name is registered.
func (p *Pool[T]) Has(name string) bool {
	p.RLock()
	defer p.RUnlock()
	_, ok := p.Modules[name]
	return ok
}

// Names dump registered names, sorted.
func (p *Pool[T]) Names() []string {
	p.RLock()
	defer p.RUnlock()
	v := fn.MapKeys(p.Modules)
	slices.Sort(v)
	return v
}

// Order dump registered names in registration order.
func (p *Pool[T]) Order() []string {
	p.RLock()
	defer p.RUnlock()
	return slices.Clone(p.Loaded)
}

// Len of registered names.
func (p *Pool[T]) Len() int {
	p.RLock()
	defer p.RUnlock()
	return len(p.Modules)
}
