package native

import (
	"maps"
	"sync"
	"unicode"
	"unicode/utf8"
	"unsafe"

	"github.com/pkujhd/goloader"
)

// Sym is the address of a symbol inside a linked code module.
type Sym uintptr

var (
	host     map[string]uintptr
	hostOnce sync.Once
	hostErr  error
)

// NewSymbols create a copy of the symbols exported by the host executable.
func NewSymbols() (map[string]uintptr, error) {
	hostOnce.Do(func() {
		host = make(map[string]uintptr)
		hostErr = goloader.RegSymbol(host)
	})
	if hostErr != nil {
		return nil, hostErr
	}
	return maps.Clone(host), nil
}

// As convert a function symbol to its contract type T, T must be a func type matching the symbol.
func As[T any](ptr Sym) (x T) {
	container := uintptr(unsafe.Pointer(&ptr))
	px := (*T)(unsafe.Pointer(&container))
	x = *px
	return
}

// qualify returns the candidate symbol names for an entry point, the exact name first.
//
// Names without a package get pkg (or main) prepended, a lower case entry also tries its exported form.
func qualify(pkg, entry string) []string {
	if pkg == "" {
		pkg = "main"
	}
	for i := len(entry) - 1; i >= 0; i-- {
		if entry[i] == '.' {
			return []string{entry}
		}
	}
	v := []string{pkg + "." + entry}
	if r, n := utf8.DecodeRuneInString(entry); n > 0 && unicode.IsLower(r) {
		v = append(v, pkg+"."+string(unicode.ToUpper(r))+entry[n:])
	}
	return v
}
