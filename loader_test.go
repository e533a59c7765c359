package xlass_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"

	"github.com/ZenLiuCN/fn"
	"github.com/ZenLiuCN/xlass"
	"github.com/ZenLiuCN/xlass/jsvm"
	"github.com/ZenLiuCN/xlass/luavm"
	"github.com/ZenLiuCN/xlass/resource"
)

const hello = `return {hello = function() print("Hello, classLoader!") return "I got return value" end}`

func encoded(src string) *fstest.MapFile {
	return &fstest.MapFile{Data: xlass.EncodeAll([]byte(src))}
}

func newLoader(files fstest.MapFS, opts ...xlass.Option) (*xlass.Loader, *luavm.Registry, *bytes.Buffer) {
	out := new(bytes.Buffer)
	r := luavm.NewRegistry(luavm.WithStdout(out))
	return xlass.NewLoader(resource.NewFS(files), r, opts...), r, out
}

func TestResolve(t *testing.T) {
	l, _, _ := newLoader(nil)
	if got := l.Resolve("Hello"); got != "classes/Hello.xlass" {
		t.Fatalf("Resolve() = %q", got)
	}
	l, _, _ = newLoader(nil, xlass.WithPrefix("units/"), xlass.WithSuffix(".bin"))
	if got := l.Resolve("Hello"); got != "units/Hello.bin" {
		t.Fatalf("Resolve() = %q", got)
	}
}

func TestLoadMissing(t *testing.T) {
	l, r, _ := newLoader(fstest.MapFS{"classes/Hello.xlass": encoded(hello)})
	ctx := context.Background()
	_, err := l.Load(ctx, "DoesNotExist")
	var le *xlass.ModuleLoadError
	if !errors.As(err, &le) || le.Name != "DoesNotExist" || !errors.Is(err, xlass.ErrResourceNotFound) {
		t.Fatalf("Load() = %v", err)
	}
	if r.Defined("DoesNotExist") {
		t.Fatal("missing module registered")
	}
	fn.Panic1(l.Load(ctx, "Hello"))
	if _, err = l.Load(ctx, "DoesNotExist"); !errors.Is(err, xlass.ErrResourceNotFound) {
		t.Fatalf("Load() retry = %v", err)
	}
}

func TestLoadTwice(t *testing.T) {
	l, _, _ := newLoader(fstest.MapFS{"classes/Hello.xlass": encoded(hello)})
	ctx := context.Background()
	h := fn.Panic1(l.Load(ctx, "Hello"))
	if _, err := l.Load(ctx, "Hello"); !errors.Is(err, xlass.ErrDuplicateUnit) {
		t.Fatalf("Load() again = %v", err)
	}
	if got, ok := l.Lookup("Hello"); !ok || got != h {
		t.Fatalf("Lookup() = %v, %v", got, ok)
	}
	if _, ok := l.Lookup("World"); ok {
		t.Fatal("Lookup() of unloaded module")
	}
}

func TestConcurrentLoad(t *testing.T) {
	l, r, _ := newLoader(fstest.MapFS{"classes/Hello.xlass": encoded(hello)})
	const n = 32
	var w sync.WaitGroup
	var ok, dup atomic.Int32
	for i := 0; i < n; i++ {
		w.Add(1)
		go func() {
			defer w.Done()
			_, err := l.Load(context.Background(), "Hello")
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, xlass.ErrDuplicateUnit):
				dup.Add(1)
			default:
				t.Error(err)
			}
		}()
	}
	w.Wait()
	if ok.Load() != 1 || dup.Load() != n-1 {
		t.Fatalf("ok = %d, duplicate = %d", ok.Load(), dup.Load())
	}
	if units := r.Units(); len(units) != 1 {
		t.Fatalf("Units() = %v", units)
	}
}

func TestLoadMalformed(t *testing.T) {
	files := fstest.MapFS{"classes/Hello.xlass": encoded("return {")}
	l, r, _ := newLoader(files)
	ctx := context.Background()
	if _, err := l.Load(ctx, "Hello"); !errors.Is(err, xlass.ErrMalformedUnit) {
		t.Fatalf("Load() = %v", err)
	}
	if r.Defined("Hello") {
		t.Fatal("malformed module registered")
	}
	files["classes/Hello.xlass"] = encoded(hello)
	fn.Panic1(l.Load(ctx, "Hello"))
}

type brokenNamespace struct {
	open   error
	closed atomic.Bool
}

type brokenReader struct {
	ns   *brokenNamespace
	sent bool
}

func (b *brokenReader) Read(p []byte) (int, error) {
	if !b.sent {
		b.sent = true
		return copy(p, "partial"), nil
	}
	return 0, errors.New("disk on fire")
}

func (b *brokenReader) Close() error {
	b.ns.closed.Store(true)
	return nil
}

func (b *brokenNamespace) Open(context.Context, string) (io.ReadCloser, error) {
	if b.open != nil {
		return nil, b.open
	}
	return &brokenReader{ns: b}, nil
}

func TestReadError(t *testing.T) {
	ns := new(brokenNamespace)
	l := xlass.NewLoader(ns, luavm.NewRegistry())
	ctx := context.Background()
	if _, err := l.Load(ctx, "Hello"); !errors.Is(err, xlass.ErrResourceRead) {
		t.Fatalf("Load() = %v", err)
	}
	if !ns.closed.Load() {
		t.Fatal("stream not closed after read error")
	}
	ns.open = errors.New("permission denied")
	if _, err := l.ReadEncoded(ctx, "classes/Hello.xlass"); !errors.Is(err, xlass.ErrResourceRead) {
		t.Fatalf("ReadEncoded() = %v", err)
	}
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	ns.open = nil
	if _, err := l.ReadEncoded(cancelled, "classes/Hello.xlass"); !errors.Is(err, context.Canceled) || !errors.Is(err, xlass.ErrResourceRead) {
		t.Fatalf("ReadEncoded() cancelled = %v", err)
	}
}

func TestInvoke(t *testing.T) {
	l, _, out := newLoader(fstest.MapFS{
		"classes/Hello.xlass": encoded(hello),
		"classes/Boom.xlass":  encoded(`return {boom = function() error("boom") end}`),
	})
	ctx := context.Background()
	o := fn.Panic1(l.Instantiate(ctx, fn.Panic1(l.Load(ctx, "Hello"))))
	defer fn.IgnoreClose(o)
	if v := fn.Panic1(xlass.Call[string](ctx, l, o, "hello")); v != "I got return value" {
		t.Fatalf("hello() = %q", v)
	}
	if strings.TrimSpace(out.String()) != "Hello, classLoader!" {
		t.Fatalf("stdout = %q", out.String())
	}
	var ie *xlass.InvocationError
	if _, err := xlass.Call[float64](ctx, l, o, "hello"); !errors.As(err, &ie) || !errors.Is(err, xlass.ErrEntryPointFailed) {
		t.Fatalf("Call[float64]() = %v", err)
	}
	if _, err := l.Invoke(ctx, o, "goodbye"); !errors.Is(err, xlass.ErrEntryPointNotFound) {
		t.Fatalf("Invoke() = %v", err)
	}
	_, err := l.Run(ctx, "Boom", "boom")
	if !errors.As(err, &ie) || ie.Name != "Boom" || ie.Entry != "boom" || !errors.Is(err, xlass.ErrEntryPointFailed) {
		t.Fatalf("Run() = %v", err)
	}
	if _, err = l.Instantiate(ctx, nil); !errors.Is(err, xlass.ErrInstantiation) {
		t.Fatalf("Instantiate(nil) = %v", err)
	}
}

func TestInstantiateError(t *testing.T) {
	l, _, _ := newLoader(fstest.MapFS{"classes/Number.xlass": encoded(`return 42`)})
	ctx := context.Background()
	h := fn.Panic1(l.Load(ctx, "Number"))
	_, err := l.Instantiate(ctx, h)
	var ie *xlass.InvocationError
	if !errors.As(err, &ie) || ie.Name != "Number" || !errors.Is(err, xlass.ErrInstantiation) {
		t.Fatalf("Instantiate() = %v", err)
	}
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	for _, tt := range []struct {
		dir, source string
		registry    func(out io.Writer) xlass.UnitRegistry
	}{
		{"testdata/lua", "Hello.lua", func(out io.Writer) xlass.UnitRegistry { return luavm.NewRegistry(luavm.WithStdout(out)) }},
		{"testdata/js", "Hello.js", func(out io.Writer) xlass.UnitRegistry { return jsvm.NewRegistry(jsvm.WithStdout(out)) }},
	} {
		t.Run(tt.dir, func(t *testing.T) {
			source := fn.Panic1(os.ReadFile(filepath.Join(tt.dir, tt.source)))
			stored := fn.Panic1(os.ReadFile(filepath.Join(tt.dir, "classes", "Hello.xlass")))
			if !bytes.Equal(xlass.DecodeAll(stored), source) {
				t.Fatal("stored unit does not decode to its source")
			}
			out := new(bytes.Buffer)
			l := xlass.NewLoader(resource.Dir(tt.dir), tt.registry(out), xlass.WithDebug(testing.Verbose()))
			v, err := l.Run(ctx, "Hello", "hello")
			if err != nil {
				t.Fatal(err)
			}
			if v != "I got return value" {
				t.Fatalf("hello() = %v", v)
			}
			if got := strings.TrimSpace(out.String()); got != "Hello, classLoader!" {
				t.Fatalf("stdout = %q", got)
			}
		})
	}
}

func TestSQLiteNamespace(t *testing.T) {
	ctx := context.Background()
	db := fn.Panic1(resource.OpenSQLite(filepath.Join(t.TempDir(), "units.db")))
	defer fn.IgnoreClose(db)
	out := new(bytes.Buffer)
	l := xlass.NewLoader(resource.Chain{db, resource.Dir("testdata/lua")}, luavm.NewRegistry(luavm.WithStdout(out)))
	fn.Panic(db.Put(ctx, l.Resolve("World"), xlass.EncodeAll([]byte(`return {hello = function() return "from sqlite" end}`))))
	if v := fn.Panic1(l.Run(ctx, "World", "hello")); v != "from sqlite" {
		t.Fatalf("World.hello() = %v", v)
	}
	if v := fn.Panic1(l.Run(ctx, "Hello", "hello")); v != "I got return value" {
		t.Fatalf("Hello.hello() = %v", v)
	}
}
