// Package luavm hosts units written in Lua.
//
// A unit is a Lua chunk returning its module table:
//
//	local M = {}
//	function M.hello() print("Hello, classLoader!") return "ok" end
//	return M
//
// When the table carries a function named new, it is the default constructor and its result is the instance.
package luavm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/ZenLiuCN/xlass"
	"github.com/ZenLiuCN/xlass/pool"
	"github.com/charmbracelet/log"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// Constructor is the optional default constructor field of a module table.
const Constructor = "new"

type (
	// Registry is a xlass.UnitRegistry compiling Lua chunks.
	Registry struct {
		units  *pool.Pool[*Unit]
		stdout io.Writer
		logger *log.Logger
	}
	// Option configures a Registry.
	Option func(*Registry)
	// Unit is a compiled Lua chunk, shareable between instances.
	Unit struct {
		name   string
		proto  *lua.FunctionProto
		stdout io.Writer
		logger *log.Logger
	}
	// Instance owns one Lua state and the instance table.
	Instance struct {
		mu    sync.Mutex
		state *lua.LState
		self  *lua.LTable
	}
)

// WithStdout redirects the print function of instances, default is os.Stdout.
func WithStdout(w io.Writer) Option {
	return func(r *Registry) { r.stdout = w }
}

// WithLogger replaces the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{units: pool.NewPool[*Unit](), stdout: os.Stdout}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = xlass.NewLogger("luavm", false)
	}
	return r
}

// Define compiles code and registers it under name.
func (r *Registry) Define(name string, code []byte) (xlass.Unit, error) {
	if r.units.Has(name) {
		return nil, fmt.Errorf("%w: %s", xlass.ErrDuplicateUnit, name)
	}
	chunk, err := parse.Parse(bytes.NewReader(code), name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", xlass.ErrMalformedUnit, name, err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", xlass.ErrMalformedUnit, name, err)
	}
	u := &Unit{name: name, proto: proto, stdout: r.stdout, logger: r.logger}
	if err = r.units.Store(name, u); err != nil {
		return nil, fmt.Errorf("%w: %s", xlass.ErrDuplicateUnit, name)
	}
	r.logger.Debug("defined lua unit", "name", name)
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

func (u *Unit) Name() string {
	return u.name
}

// New runs the chunk in a fresh state and constructs the instance table.
func (u *Unit) New(ctx context.Context) (xlass.Instance, error) {
	L := lua.NewState()
	L.SetContext(ctx)
	defer L.RemoveContext()
	L.SetGlobal("print", L.NewFunction(u.print))
	L.Push(L.NewFunctionFromProto(u.proto))
	if err := L.PCall(0, 1, nil); err != nil {
		L.Close()
		return nil, fmt.Errorf("%w: %s: %w", xlass.ErrInstantiation, u.name, err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	module, ok := ret.(*lua.LTable)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("%w: %s: chunk returned %s, want table", xlass.ErrInstantiation, u.name, ret.Type())
	}
	self := module
	if ctor, ok := module.RawGetString(Constructor).(*lua.LFunction); ok {
		if err := L.CallByParam(lua.P{Fn: ctor, NRet: 1, Protect: true}, module); err != nil {
			L.Close()
			return nil, fmt.Errorf("%w: %s: %w", xlass.ErrInstantiation, u.name, err)
		}
		ret = L.Get(-1)
		L.Pop(1)
		if self, ok = ret.(*lua.LTable); !ok {
			L.Close()
			return nil, fmt.Errorf("%w: %s: constructor returned %s, want table", xlass.ErrInstantiation, u.name, ret.Type())
		}
	}
	u.logger.Debug("instantiated lua unit", "name", u.name)
	return &Instance{state: L, self: self}, nil
}

func (u *Unit) print(L *lua.LState) int {
	n := L.GetTop()
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	_, _ = fmt.Fprintln(u.stdout, strings.Join(parts, "\t"))
	return 0
}

// Invoke calls the function field entry with the instance table as self.
func (i *Instance) Invoke(ctx context.Context, entry string) (any, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state == nil {
		return nil, fmt.Errorf("%w: %s: instance closed", xlass.ErrEntryPointNotFound, entry)
	}
	i.state.SetContext(ctx)
	defer i.state.RemoveContext()
	f, err := i.lookup(entry)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", xlass.ErrEntryPointNotFound, entry, err)
	}
	if f == nil {
		return nil, fmt.Errorf("%w: %s", xlass.ErrEntryPointNotFound, entry)
	}
	if err := i.state.CallByParam(lua.P{Fn: f, NRet: 1, Protect: true}, i.self); err != nil {
		return nil, xlass.Failed(entry, err)
	}
	ret := i.state.Get(-1)
	i.state.Pop(1)
	return value(ret, make(map[*lua.LTable]map[string]any)), nil
}

// lookup the function field entry, following __index. Errors raised by metamethods are returned.
func (i *Instance) lookup(entry string) (*lua.LFunction, error) {
	get := i.state.NewFunction(func(L *lua.LState) int {
		L.Push(L.GetField(L.CheckTable(1), L.CheckString(2)))
		return 1
	})
	if err := i.state.CallByParam(lua.P{Fn: get, NRet: 1, Protect: true}, i.self, lua.LString(entry)); err != nil {
		return nil, err
	}
	ret := i.state.Get(-1)
	i.state.Pop(1)
	f, _ := ret.(*lua.LFunction)
	return f, nil
}

// Close the Lua state.
func (i *Instance) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != nil {
		i.state.Close()
		i.state = nil
	}
	return nil
}

// value converts v to Go, tables become maps and a table met again yields the map already built.
func value(v lua.LValue, seen map[*lua.LTable]map[string]any) any {
	switch x := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(x)
	case lua.LNumber:
		return float64(x)
	case lua.LString:
		return string(x)
	case *lua.LTable:
		if m, ok := seen[x]; ok {
			return m
		}
		m := make(map[string]any)
		seen[x] = m
		x.ForEach(func(k, v lua.LValue) {
			m[k.String()] = value(v, seen)
		})
		return m
	default:
		return v
	}
}
