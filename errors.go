package xlass

import (
	"errors"
	"fmt"
)

var (
	// ErrResourceNotFound occurs when the namespace holds nothing at a resolved path.
	ErrResourceNotFound = errors.New("resource not found")
	// ErrResourceRead occurs when a resource stream fails mid-read.
	ErrResourceRead = errors.New("resource read error")
	// ErrMalformedUnit occurs when decoded bytes are not accepted by the host registry.
	ErrMalformedUnit = errors.New("malformed unit")
	// ErrDuplicateUnit occurs when a name is already registered.
	ErrDuplicateUnit = errors.New("duplicate unit")
	// ErrInstantiation occurs when a unit has no usable default construction.
	ErrInstantiation = errors.New("instantiation error")
	// ErrEntryPointNotFound occurs when an instance has no entry point of the requested name.
	ErrEntryPointNotFound = errors.New("entry point not found")
	// ErrEntryPointFailed occurs when an entry point itself fails, see EntryPointFailure.
	ErrEntryPointFailed = errors.New("entry point failed")
)

// ModuleLoadError wraps every failure of [Loader.Load].
type ModuleLoadError struct {
	Name string
	Err  error
}

func (e *ModuleLoadError) Error() string {
	return fmt.Sprintf("load module %q: %v", e.Name, e.Err)
}

func (e *ModuleLoadError) Unwrap() error {
	return e.Err
}

// InvocationError wraps failures after a successful load. Entry is empty for instantiation failures.
type InvocationError struct {
	Name  string
	Entry string
	Err   error
}

func (e *InvocationError) Error() string {
	if e.Entry == "" {
		return fmt.Sprintf("instantiate module %q: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("invoke %s.%s: %v", e.Name, e.Entry, e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// EntryPointFailure carries the failure raised by an entry point. It matches ErrEntryPointFailed.
type EntryPointFailure struct {
	Entry string
	Cause error
}

func (e *EntryPointFailure) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrEntryPointFailed, e.Entry, e.Cause)
}

func (e *EntryPointFailure) Is(target error) bool {
	return target == ErrEntryPointFailed
}

func (e *EntryPointFailure) Unwrap() error {
	return e.Cause
}

// Failed builds an EntryPointFailure from a recovered panic value or an error.
func Failed(entry string, v any) error {
	switch x := v.(type) {
	case nil:
		return nil
	case error:
		return &EntryPointFailure{Entry: entry, Cause: x}
	default:
		return &EntryPointFailure{Entry: entry, Cause: fmt.Errorf("%v", x)}
	}
}
