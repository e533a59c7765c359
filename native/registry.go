// Package native hosts units of Go code linked at runtime by [goloader].
//
// A unit is a serialized goloader linker (see [Pack]), entry points are exported package level
// functions of type func() string. Instances are code modules linked against a copy of the host symbols.
//
// # Notes
//
//  1. The Go SDK must be prepared for goloader, see the xlass native prepare command.
//  2. Symbols of one instance are not visible to others.
//
// [goloader]: https://github.com/pkujhd/goloader
package native

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"os"
	"sync"

	"github.com/ZenLiuCN/xlass"
	"github.com/ZenLiuCN/xlass/pool"
	"github.com/charmbracelet/log"
	"github.com/pkujhd/goloader"
)

type (
	// Registry is a xlass.UnitRegistry of serialized goloader linkers.
	Registry struct {
		units   *pool.Pool[*Unit]
		mu      sync.RWMutex
		symbols map[string]uintptr
		logger  *log.Logger
	}
	// Option configures a Registry.
	Option func(*Registry)
	// Unit is a validated linker image.
	Unit struct {
		name     string
		code     []byte
		packages []string
		reg      *Registry
	}
	// Instance is a linked code module.
	Instance struct {
		mu     sync.Mutex
		pkg    string
		module *goloader.CodeModule
	}
)

// WithLogger replaces the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry creates a Registry linking against the host executable's symbols.
func NewRegistry(opts ...Option) (r *Registry, err error) {
	r = &Registry{units: pool.NewPool[*Unit]()}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = xlass.NewLogger("native", false)
	}
	if r.symbols, err = NewSymbols(); err != nil {
		return nil, fmt.Errorf("register host symbols: %w", err)
	}
	return
}

// RegisterTypes makes types of the host visible to units, such as interfaces units return.
func (r *Registry) RegisterTypes(types ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger.Debug("register types", "types", types)
	goloader.RegTypes(r.symbols, types...)
}

// RegisterSo adds the symbols of a shared object.
func (r *Registry) RegisterSo(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return goloader.RegSymbolWithSo(r.symbols, path)
}

// RegisterExecute adds the symbols of an executable.
func (r *Registry) RegisterExecute(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return goloader.RegSymbolWithPath(r.symbols, path)
}

func (r *Registry) clone() map[string]uintptr {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.symbols)
}

// Define validates code as a serialized linker and registers it under name.
func (r *Registry) Define(name string, code []byte) (xlass.Unit, error) {
	if r.units.Has(name) {
		return nil, fmt.Errorf("%w: %s", xlass.ErrDuplicateUnit, name)
	}
	linker, err := unserialize(code)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", xlass.ErrMalformedUnit, name, err)
	}
	u := &Unit{name: name, code: code, reg: r}
	for _, pkg := range linker.Packages {
		u.packages = append(u.packages, pkg.PkgPath)
	}
	if err = r.units.Store(name, u); err != nil {
		return nil, fmt.Errorf("%w: %s", xlass.ErrDuplicateUnit, name)
	}
	r.logger.Debug("defined native unit", "name", name, "packages", u.packages)
	return u, nil
}

// Defined reports whether name is registered.
func (r *Registry) Defined(name string) bool {
	return r.units.Has(name)
}

// Units lists registered names in registration order.
func (r *Registry) Units() []string {
	return r.units.Order()
}

// unserialize reads a linker, gob panics on hostile input become errors.
func unserialize(code []byte) (l *goloader.Linker, err error) {
	defer func() {
		if v := recover(); v != nil {
			l, err = nil, fmt.Errorf("%v", v)
		}
	}()
	return goloader.UnSerialize(bytes.NewReader(code))
}

func (u *Unit) Name() string {
	return u.name
}

// Packages of the unit's linker.
func (u *Unit) Packages() []string {
	return u.packages
}

// Linker reads a fresh linker of the unit.
func (u *Unit) Linker() (*goloader.Linker, error) {
	return unserialize(u.code)
}

// MissingSymbols dump the symbols the host can't provide.
func (u *Unit) MissingSymbols() ([]string, error) {
	l, err := u.Linker()
	if err != nil {
		return nil, err
	}
	return goloader.UnresolvedSymbols(l, u.reg.clone()), nil
}

// New links the unit into a new code module.
func (u *Unit) New(ctx context.Context) (xlass.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", xlass.ErrInstantiation, u.name, err)
	}
	l, err := u.Linker()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", xlass.ErrInstantiation, u.name, err)
	}
	sym := u.reg.clone()
	if missing := goloader.UnresolvedSymbols(l, sym); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s: missing symbols %v", xlass.ErrInstantiation, u.name, missing)
	}
	module, err := goloader.Load(l, sym)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", xlass.ErrInstantiation, u.name, err)
	}
	inst := &Instance{module: module}
	if len(u.packages) > 0 {
		inst.pkg = u.packages[0]
	}
	u.reg.logger.Debug("linked native unit", "name", u.name, "symbols", len(module.Syms))
	return inst, nil
}

// Fetch a symbol of the code module.
func (i *Instance) Fetch(sym string) (Sym, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.module == nil {
		return 0, false
	}
	p, ok := i.module.Syms[sym]
	return Sym(p), ok
}

// Invoke calls the func() string entry point, package defaults to the unit's first package.
func (i *Instance) Invoke(ctx context.Context, entry string) (v any, err error) {
	if err = ctx.Err(); err != nil {
		return nil, xlass.Failed(entry, err)
	}
	var p Sym
	var ok bool
	for _, sym := range qualify(i.pkg, entry) {
		if p, ok = i.Fetch(sym); ok {
			break
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", xlass.ErrEntryPointNotFound, entry)
	}
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, xlass.Failed(entry, r)
		}
	}()
	return As[func() string](p)(), nil
}

// Close unloads the code module.
func (i *Instance) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.module != nil {
		_ = os.Stdout.Sync()
		i.module.Unload()
		i.module = nil
	}
	return nil
}
