package dataset

import (
	"context"
	"fmt"
	"io"
	"os"
)

// File is a random-access handle on one data file.
type File interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// Fragment is one Parquet file of a dataset.
type Fragment interface {
	// Path identifies the fragment in errors and logs.
	Path() string
	Open(ctx context.Context) (File, error)
}

// LocalFragment is a Parquet file on the local filesystem.
type LocalFragment string

// Path returns the file path.
func (f LocalFragment) Path() string { return string(f) }

// Open opens the file for reading.
func (f LocalFragment) Open(ctx context.Context) (File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(string(f))
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	return &localFile{File: file, size: stat.Size()}, nil
}

type localFile struct {
	*os.File
	size int64
}

func (f *localFile) Size() int64 { return f.size }
