package xlass

import (
	"context"
	"io"
)

type (
	// UnitRegistry is the host primitive that turns raw bytes into a callable unit under a name.
	//
	// Define must:
	//
	//	1. reject bytes the host format does not accept with an error wrapping ErrMalformedUnit.
	//	2. reject a name already registered with an error wrapping ErrDuplicateUnit.
	//	3. leave the registry untouched on any failure.
	//	4. be safe for concurrent use, concurrent Define of one name has exactly one winner.
	UnitRegistry interface {
		Define(name string, code []byte) (Unit, error)
		Defined(name string) bool //report whether name is registered
	}
	// Unit is a registered artifact owned by its registry.
	Unit interface {
		Name() string
		// New constructs a default instance, failures wrap ErrInstantiation.
		New(ctx context.Context) (Instance, error)
	}
	// Instance exposes named zero argument entry points.
	//
	// Invoke fails with ErrEntryPointNotFound or an *EntryPointFailure.
	Instance interface {
		Invoke(ctx context.Context, entry string) (any, error)
	}
	// Namespace is the read-only resource lookup backing module storage.
	//
	// Open reports absence with an error wrapping [io/fs.ErrNotExist].
	Namespace interface {
		Open(ctx context.Context, path string) (io.ReadCloser, error)
	}
)
