// Package jsvm hosts units written in JavaScript.
//
// A unit is a script filling module.exports (or exports). When module.exports is a function,
// it is constructed with new to produce the instance, otherwise the exports object is the instance.
package jsvm

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/ZenLiuCN/xlass"
	"github.com/ZenLiuCN/xlass/pool"
	"github.com/charmbracelet/log"
	"github.com/dop251/goja"
)

type (
	// Registry is a xlass.UnitRegistry compiling JavaScript programs.
	Registry struct {
		units  *pool.Pool[*Unit]
		stdout io.Writer
		logger *log.Logger
	}
	// Option configures a Registry.
	Option func(*Registry)
	// Unit is a compiled program, shareable between runtimes.
	Unit struct {
		name    string
		program *goja.Program
		stdout  io.Writer
		logger  *log.Logger
	}
	// Instance owns one runtime and the instance object.
	Instance struct {
		mu   sync.Mutex
		vm   *goja.Runtime
		self *goja.Object
	}
)

// WithStdout redirects console.log of instances, default is os.Stdout.
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
		r.logger = xlass.NewLogger("jsvm", false)
	}
	return r
}

// Define compiles code and registers it under name.
func (r *Registry) Define(name string, code []byte) (xlass.Unit, error) {
	if r.units.Has(name) {
		return nil, fmt.Errorf("%w: %s", xlass.ErrDuplicateUnit, name)
	}
	program, err := goja.Compile(name, string(code), false)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", xlass.ErrMalformedUnit, name, err)
	}
	u := &Unit{name: name, program: program, stdout: r.stdout, logger: r.logger}
	if err = r.units.Store(name, u); err != nil {
		return nil, fmt.Errorf("%w: %s", xlass.ErrDuplicateUnit, name)
	}
	r.logger.Debug("defined js unit", "name", name)
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

// New runs the program in a fresh runtime and constructs the instance.
func (u *Unit) New(ctx context.Context) (xlass.Instance, error) {
	vm := goja.New()
	defer interruptOn(ctx, vm)()
	module := vm.NewObject()
	exports := vm.NewObject()
	console := vm.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", xlass.ErrInstantiation, u.name, err)
	}
	if err := console.Set("log", u.log); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", xlass.ErrInstantiation, u.name, err)
	}
	for k, v := range map[string]any{"module": module, "exports": exports, "console": console} {
		if err := vm.Set(k, v); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", xlass.ErrInstantiation, u.name, err)
		}
	}
	if _, err := vm.RunProgram(u.program); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", xlass.ErrInstantiation, u.name, err)
	}
	ev := module.Get("exports")
	if ev == nil || goja.IsUndefined(ev) || goja.IsNull(ev) {
		return nil, fmt.Errorf("%w: %s: module.exports is empty", xlass.ErrInstantiation, u.name)
	}
	var self *goja.Object
	if _, ok := goja.AssertConstructor(ev); ok {
		var err error
		if self, err = vm.New(ev); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", xlass.ErrInstantiation, u.name, err)
		}
	} else if obj, ok := ev.(*goja.Object); ok {
		self = obj
	} else {
		return nil, fmt.Errorf("%w: %s: module.exports is %s, want object", xlass.ErrInstantiation, u.name, ev.ExportType())
	}
	u.logger.Debug("instantiated js unit", "name", u.name)
	return &Instance{vm: vm, self: self}, nil
}

func (u *Unit) log(call goja.FunctionCall) goja.Value {
	parts := make([]string, 0, len(call.Arguments))
	for _, a := range call.Arguments {
		parts = append(parts, a.String())
	}
	_, _ = fmt.Fprintln(u.stdout, strings.Join(parts, " "))
	return goja.Undefined()
}

// Invoke calls the function property entry with this bound to the instance.
func (i *Instance) Invoke(ctx context.Context, entry string) (any, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	f, ok := goja.AssertFunction(i.self.Get(entry))
	if !ok {
		return nil, fmt.Errorf("%w: %s", xlass.ErrEntryPointNotFound, entry)
	}
	defer interruptOn(ctx, i.vm)()
	v, err := f(i.self)
	if err != nil {
		return nil, xlass.Failed(entry, err)
	}
	return v.Export(), nil
}

// interruptOn interrupts vm when ctx is done, the returned func detaches and clears any pending interrupt.
func interruptOn(ctx context.Context, vm *goja.Runtime) func() {
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(done)
		vm.Interrupt(ctx.Err())
	})
	return func() {
		if !stop() {
			<-done
		}
		vm.ClearInterrupt()
	}
}
