package xlass

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"

	"github.com/ZenLiuCN/fn"
	"github.com/charmbracelet/log"
)

const (
	// DefaultPrefix is prepended to a module name to build its resource path.
	DefaultPrefix = "classes/"
	// DefaultSuffix is appended to a module name to build its resource path.
	DefaultSuffix = ".xlass"
)

type (
	// Loader resolves module names to encoded resources, decodes them and registers them into its UnitRegistry.
	//
	// Use Steps:
	//
	//	1. NewLoader with a Namespace and a UnitRegistry.
	//	2. [Loader.Load] a module by name, at most once per name.
	//	3. [Loader.Instantiate] the returned Handle.
	//	4. [Loader.Invoke] entry points on the Object.
	//
	// A Loader is safe for concurrent use.
	Loader struct {
		prefix  string
		suffix  string
		ns      Namespace
		units   UnitRegistry
		handles sync.Map
		logger  *log.Logger
		debug   bool
	}
	// Option configures a Loader.
	Option func(*Loader)
	// Handle references a loaded unit.
	Handle struct {
		unit Unit
	}
	// Object is an instance of a loaded unit.
	Object struct {
		name string
		inst Instance
	}
)

// WithPrefix replaces DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(l *Loader) { l.prefix = prefix }
}

// WithSuffix replaces DefaultSuffix.
func WithSuffix(suffix string) Option {
	return func(l *Loader) { l.suffix = suffix }
}

// WithLogger replaces the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// WithDebug enables debug logging.
func WithDebug(debug bool) Option {
	return func(l *Loader) { l.debug = debug }
}

// NewLogger creates the logger used by loaders and registries when none is supplied.
func NewLogger(prefix string, debug bool) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		Prefix: prefix,
		Level:  log.WarnLevel,
	})
	if debug {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}

// NewLoader creates a Loader reading from ns and registering into units.
func NewLoader(ns Namespace, units UnitRegistry, opts ...Option) *Loader {
	l := &Loader{
		prefix: DefaultPrefix,
		suffix: DefaultSuffix,
		ns:     ns,
		units:  units,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = NewLogger("xlass", l.debug)
	} else if l.debug {
		l.logger.SetLevel(log.DebugLevel)
	}
	return l
}

// Resolve builds the resource path of a module name.
func (l *Loader) Resolve(name string) string {
	return l.prefix + name + l.suffix
}

// ReadEncoded reads the whole resource at path. The stream is closed on every path.
func (l *Loader) ReadEncoded(ctx context.Context, path string) (b []byte, err error) {
	if err = ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrResourceRead, path, err)
	}
	var r io.ReadCloser
	if r, err = l.ns.Open(ctx, path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, path)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrResourceRead, path, err)
	}
	defer fn.IgnoreClose(r)
	buf := new(bytes.Buffer)
	if _, err = io.Copy(buf, &contextReader{ctx: ctx, r: r}); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrResourceRead, path, err)
	}
	return buf.Bytes(), nil
}

// Load reads, decodes and registers the module called name.
//
// A name loads at most once: loading it again fails with ErrDuplicateUnit, use [Loader.Lookup] for the existing Handle.
// Failures leave the registry as it was.
func (l *Loader) Load(ctx context.Context, name string) (h *Handle, err error) {
	if l.units.Defined(name) {
		return nil, &ModuleLoadError{Name: name, Err: fmt.Errorf("%w: %s", ErrDuplicateUnit, name)}
	}
	path := l.Resolve(name)
	var encoded []byte
	if encoded, err = l.ReadEncoded(ctx, path); err != nil {
		return nil, &ModuleLoadError{Name: name, Err: err}
	}
	l.logger.Debug("read module", "name", name, "path", path, "size", len(encoded))
	var u Unit
	if u, err = l.units.Define(name, DecodeAll(encoded)); err != nil {
		return nil, &ModuleLoadError{Name: name, Err: err}
	}
	h = &Handle{unit: u}
	l.handles.Store(name, h)
	l.logger.Debug("defined module", "name", name)
	return
}

// Lookup returns the Handle of a module loaded by this Loader.
func (l *Loader) Lookup(name string) (*Handle, bool) {
	v, ok := l.handles.Load(name)
	if !ok {
		return nil, false
	}
	return v.(*Handle), true
}

// Instantiate constructs a default instance of a loaded unit.
func (l *Loader) Instantiate(ctx context.Context, h *Handle) (o *Object, err error) {
	if h == nil || h.unit == nil {
		return nil, &InvocationError{Err: fmt.Errorf("%w: nil handle", ErrInstantiation)}
	}
	name := h.unit.Name()
	var inst Instance
	if inst, err = h.unit.New(ctx); err != nil {
		return nil, &InvocationError{Name: name, Err: err}
	}
	l.logger.Debug("instantiated module", "name", name)
	return &Object{name: name, inst: inst}, nil
}

// Invoke calls the zero argument entry point of o. Panics escaping the host become an *EntryPointFailure.
func (l *Loader) Invoke(ctx context.Context, o *Object, entry string) (v any, err error) {
	if o == nil || o.inst == nil {
		return nil, &InvocationError{Entry: entry, Err: fmt.Errorf("%w: nil instance", ErrEntryPointNotFound)}
	}
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, &InvocationError{Name: o.name, Entry: entry, Err: Failed(entry, r)}
		}
	}()
	if v, err = o.inst.Invoke(ctx, entry); err != nil {
		return nil, &InvocationError{Name: o.name, Entry: entry, Err: err}
	}
	l.logger.Debug("invoked entry point", "name", o.name, "entry", entry)
	return
}

// Run loads a module, instantiates it and invokes one entry point, closing the instance afterward.
func (l *Loader) Run(ctx context.Context, name, entry string) (v any, err error) {
	var h *Handle
	if h, err = l.Load(ctx, name); err != nil {
		return
	}
	var o *Object
	if o, err = l.Instantiate(ctx, h); err != nil {
		return
	}
	defer fn.IgnoreClose(o)
	return l.Invoke(ctx, o, entry)
}

// Call invokes an entry point and asserts its result as T. A nil result yields the zero T.
func Call[T any](ctx context.Context, l *Loader, o *Object, entry string) (t T, err error) {
	var v any
	if v, err = l.Invoke(ctx, o, entry); err != nil || v == nil {
		return
	}
	var ok bool
	if t, ok = v.(T); !ok {
		err = &InvocationError{Name: o.name, Entry: entry, Err: Failed(entry, fmt.Errorf("result %T is not %T", v, t))}
	}
	return
}

// Name of the loaded unit.
func (h *Handle) Name() string {
	return h.unit.Name()
}

// Unit returns the registry artifact behind the handle.
func (h *Handle) Unit() Unit {
	return h.unit
}

// Name of the unit this object was instantiated from.
func (o *Object) Name() string {
	return o.name
}

// Instance returns the host instance.
func (o *Object) Instance() Instance {
	return o.inst
}

// Close releases host resources held by the instance, if any.
func (o *Object) Close() error {
	if c, ok := o.inst.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
