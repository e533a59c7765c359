// Package resource provides Namespace implementations for module storage.
package resource

import (
	"context"
	"io"
	"io/fs"
	"os"
)

// FS serves resources from any [fs.FS], such as an embed.FS or a directory.
type FS struct {
	fsys fs.FS
}

// NewFS wraps fsys.
func NewFS(fsys fs.FS) *FS {
	return &FS{fsys: fsys}
}

// Dir serves resources from the directory root.
func Dir(root string) *FS {
	return NewFS(os.DirFS(root))
}

// Open opens path for reading. A missing resource wraps fs.ErrNotExist.
func (f *FS) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !fs.ValidPath(path) {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	file, err := f.fsys.Open(path)
	if err != nil {
		return nil, err
	}
	return file, nil
}
