// Package cache implements the flat write-once file stores behind tiles,
// icons and rendered images. Presence of a file is the only index.
package cache

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

type Dir struct {
	root string
}

func NewDir(root string) (Dir, error) {
	if root == "" {
		return Dir{}, errors.New("cache dir is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return Dir{}, fmt.Errorf("create cache dir: %w", err)
	}
	return Dir{root: root}, nil
}

func (d Dir) Root() string { return d.root }

func (d Dir) Path(name string) string {
	return filepath.Join(d.root, name)
}

func (d Dir) Exists(name string) bool {
	st, err := os.Stat(d.Path(name))
	return err == nil && st.Mode().IsRegular()
}

func (d Dir) Open(name string) (*os.File, error) {
	return os.Open(d.Path(name))
}

func (d Dir) Write(name string, data []byte) error {
	return d.WriteWith(name, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// WriteWith streams fn's output to a temp file next to name and renames it into
// place, so readers never observe a partial file.
func (d Dir) WriteWith(name string, fn func(io.Writer) error) error {
	tmp, err := os.CreateTemp(d.root, "."+name+".*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}

	bw := bufio.NewWriter(tmp)
	if err := fn(bw); err != nil {
		return fail(err)
	}
	if err := bw.Flush(); err != nil {
		return fail(fmt.Errorf("flush %s: %w", name, err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, d.Path(name)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

// Remove deletes name; a missing file is not an error.
func (d Dir) Remove(name string) error {
	if err := os.Remove(d.Path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Glob returns the base names in the directory matching pattern.
func (d Dir) Glob(pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(d.root, pattern))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, filepath.Base(m))
	}
	return out, nil
}
