package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tphakala/migration-assistant/internal/errors"
)

const copyBufferSize = 32 * 1024

// LocalStore writes objects below a directory. It is used for staging and
// for tests against a real filesystem.
type LocalStore struct {
	root string
}

// NewLocalStore creates a store rooted at root. The directory is created on
// first write, but Validate requires it to exist.
func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		return nil, errors.Newf("local store: path is required").
			Component("storage").
			Category(errors.CategoryConfiguration).
			Build()
	}
	abs, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return nil, errors.New(err).
			Component("storage").
			Category(errors.CategoryConfiguration).
			Context("path", root).
			Build()
	}
	return &LocalStore{root: abs}, nil
}

// Name returns the name of this store
func (s *LocalStore) Name() string { return "local" }

// Root returns the absolute directory the store writes into.
func (s *LocalStore) Root() string { return s.root }

// Put writes r to root/key through a temporary file and an atomic rename.
func (s *LocalStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	target, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if info, err := os.Stat(s.root); err != nil || !info.IsDir() {
		return unreachable(s.Name(), fmt.Errorf("local store root %s is not a directory", s.root))
	}

	if err := os.MkdirAll(filepath.Dir(target), PermDir); err != nil {
		return putError(s.Name(), key, err)
	}

	err = atomicWriteFile(target, ".upload-*", PermFile, func(f *os.File) error {
		buf := make([]byte, copyBufferSize)
		n, err := io.CopyBuffer(f, ctxReader{ctx: ctx, r: r}, buf)
		if err != nil {
			return err
		}
		if size >= 0 && n != size {
			return fmt.Errorf("short write: wrote %d of %d bytes", n, size)
		}
		return nil
	})
	if err != nil {
		return putError(s.Name(), key, err)
	}
	return nil
}

// Validate checks that the root exists, is a directory and is writable.
func (s *LocalStore) Validate(_ context.Context) error {
	info, err := os.Stat(s.root)
	switch {
	case err != nil:
		return unreachable(s.Name(), err)
	case !info.IsDir():
		return unreachable(s.Name(), fmt.Errorf("%s is not a directory", s.root))
	}

	probe, err := os.CreateTemp(s.root, ".write_test-*")
	if err != nil {
		return unreachable(s.Name(), err)
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return nil
}

// resolve maps a key to a path below root, rejecting keys that escape it.
func (s *LocalStore) resolve(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" || slices.Contains(strings.Split(key, "/"), "..") {
		return "", errors.Newf("invalid object key %q", key).
			Component("storage").
			Category(errors.CategoryValidation).
			Build()
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// atomicWriteFile writes data to a temporary file and then renames it to the target path
func atomicWriteFile(targetPath, tempPattern string, perm os.FileMode, write func(*os.File) error) error {
	tempFile, err := os.CreateTemp(filepath.Dir(targetPath), tempPattern)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			_ = tempFile.Close()
			_ = os.Remove(tempPath)
		}
	}()

	if err := tempFile.Chmod(perm); err != nil {
		return fmt.Errorf("failed to set file permissions: %w", err)
	}
	if err := write(tempFile); err != nil {
		return err
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Rename(tempPath, targetPath); err != nil {
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	success = true
	return nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
