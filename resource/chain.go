package resource

import (
	"context"
	"errors"
	"io"
	"io/fs"

	"github.com/ZenLiuCN/xlass"
)

// Chain delegates to namespaces in order, the first one holding a path serves it.
type Chain []xlass.Namespace

// Open tries every namespace in order. Errors other than absence stop the search.
func (c Chain) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	for _, ns := range c {
		r, err := ns.Open(ctx, path)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
}
