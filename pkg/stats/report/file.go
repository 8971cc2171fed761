package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// File is a report file that only appears at its path once committed.
// Reports of failed runs are discarded instead of left half written.
type File struct {
	*os.File

	path string
}

// CreateFile returns a new File for path. Content is written to a temporary
// file in the same directory.
func CreateFile(path string) (*File, error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return nil, fmt.Errorf("failed to create report file: %w", err)
	}

	return &File{File: f, path: path}, nil
}

// Path returns the final path of the file.
func (f *File) Path() string {
	return f.path
}

// Commit moves the file to its path.
func (f *File) Commit() error {
	return CommitAll(f)
}

// CommitAll moves every file to its path once all of them were written out.
// When a file cannot be moved, files already moved are removed and the
// others are discarded.
func CommitAll(files ...*File) error {
	for _, f := range files {
		if err := f.Chmod(0o644); err != nil {
			return abortAll(err, files...)
		}

		if err := f.Close(); err != nil {
			return abortAll(err, files...)
		}
	}

	for i, f := range files {
		if err := os.Rename(f.Name(), f.path); err != nil {
			err = fmt.Errorf("failed to move report file to %s: %w", f.path, err)

			for _, done := range files[:i] {
				err = errors.Join(err, os.Remove(done.path))
			}

			return abortAll(err, files[i:]...)
		}
	}

	return nil
}

func abortAll(err error, files ...*File) error {
	for _, f := range files {
		err = errors.Join(err, f.Abort())
	}

	return err
}

// Abort discards the file. It is a no-op after Commit.
func (f *File) Abort() error {
	f.Close()

	if err := os.Remove(f.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return nil
}
