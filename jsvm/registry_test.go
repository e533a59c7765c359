package jsvm

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ZenLiuCN/fn"
	"github.com/ZenLiuCN/xlass"
)

const hello = `
exports.hello = function () {
	console.log("Hello,", "classLoader!");
	return "I got return value";
};
exports.boom = function () {
	throw new Error("boom");
};
`

const counter = `
function Counter() {
	this.count = 41;
}
Counter.prototype.next = function () {
	this.count += 1;
	return this.count;
};
module.exports = Counter;
`

func TestDefineAndInvoke(t *testing.T) {
	out := new(bytes.Buffer)
	r := NewRegistry(WithStdout(out))
	u := fn.Panic1(r.Define("Hello", []byte(hello)))
	inst := fn.Panic1(u.New(context.Background()))
	v, err := inst.Invoke(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if v != "I got return value" {
		t.Fatalf("hello() = %v", v)
	}
	if got := strings.TrimSpace(out.String()); got != "Hello, classLoader!" {
		t.Fatalf("stdout = %q", got)
	}
	if _, err = inst.Invoke(context.Background(), "missing"); !errors.Is(err, xlass.ErrEntryPointNotFound) {
		t.Fatalf("missing() = %v", err)
	}
	_, err = inst.Invoke(context.Background(), "boom")
	var failure *xlass.EntryPointFailure
	if !errors.As(err, &failure) || !errors.Is(err, xlass.ErrEntryPointFailed) {
		t.Fatalf("boom() = %v", err)
	}
	if !strings.Contains(failure.Cause.Error(), "boom") {
		t.Fatalf("cause = %v", failure.Cause)
	}
}

func TestConstructor(t *testing.T) {
	r := NewRegistry()
	u := fn.Panic1(r.Define("Counter", []byte(counter)))
	inst := fn.Panic1(u.New(context.Background()))
	for want := int64(42); want < 45; want++ {
		if v := fn.Panic1(inst.Invoke(context.Background(), "next")); v != want {
			t.Fatalf("next() = %v (%T), want %v", v, v, want)
		}
	}
}

func TestMalformed(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Define("Broken", []byte("exports.hello = function ( {")); !errors.Is(err, xlass.ErrMalformedUnit) {
		t.Fatalf("Define() = %v", err)
	}
	if r.Defined("Broken") {
		t.Fatal("malformed unit registered")
	}
	fn.Panic1(r.Define("Broken", []byte(hello)))
}

func TestInstantiation(t *testing.T) {
	r := NewRegistry()
	for name, code := range map[string]string{
		"Throws":     `throw new Error("no");`,
		"Empty":      `module.exports = undefined;`,
		"Primitive":  `module.exports = 7;`,
		"FailedCtor": `module.exports = function () { throw new Error("ctor"); };`,
	} {
		u := fn.Panic1(r.Define(name, []byte(code)))
		if _, err := u.New(context.Background()); !errors.Is(err, xlass.ErrInstantiation) {
			t.Errorf("%s New() = %v", name, err)
		}
	}
}

func TestDuplicateRace(t *testing.T) {
	r := NewRegistry()
	var w sync.WaitGroup
	var ok, dup atomic.Int32
	for i := 0; i < 16; i++ {
		w.Add(1)
		go func() {
			defer w.Done()
			_, err := r.Define("Hello", []byte(hello))
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
	if ok.Load() != 1 || dup.Load() != 15 {
		t.Fatalf("ok = %d, duplicate = %d", ok.Load(), dup.Load())
	}
}

func TestCancelledInvoke(t *testing.T) {
	r := NewRegistry()
	u := fn.Panic1(r.Define("Spin", []byte(`
exports.spin = function () { for (;;) {} };
exports.ok = function () { return "ok"; };
`)))
	inst := fn.Panic1(u.New(context.Background()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := inst.Invoke(ctx, "spin"); !errors.Is(err, xlass.ErrEntryPointFailed) {
		t.Fatalf("spin() = %v", err)
	}
	if v := fn.Panic1(inst.Invoke(context.Background(), "ok")); v != "ok" {
		t.Fatalf("ok() after interrupt = %v", v)
	}
}
