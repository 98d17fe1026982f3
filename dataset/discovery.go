package dataset

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// DefaultPattern selects NYC TLC yellow taxi trip files.
	DefaultPattern = "yellow_tripdata_*.parquet"

	// DefaultMaxFragments limits discovery to prevent resource exhaustion.
	DefaultMaxFragments = 1000
)

// S3Options configures access to an S3-compatible object store.
type S3Options struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Insecure  bool   `mapstructure:"insecure"`
}

// Source locates the fragments of a dataset.
//
// URI may be a local file, a directory searched recursively, a glob
// pattern, or s3://bucket/prefix. Pattern filters file base names when
// URI is a directory or an S3 prefix.
type Source struct {
	URI          string
	Pattern      string
	MaxFragments int
	S3           S3Options
}

// Open discovers the fragments of src and opens them as one dataset.
func Open(ctx context.Context, src Source, opts ...Option) (*FileDataset, error) {
	fragments, err := Discover(ctx, src)
	if err != nil {
		return nil, err
	}
	return NewFileDataset(ctx, fragments, opts...)
}

// Discover lists the fragments of src in lexical order.
func Discover(ctx context.Context, src Source) ([]Fragment, error) {
	if src.URI == "" {
		return nil, fmt.Errorf("%w: empty dataset uri", ErrNoFragments)
	}
	pattern := src.Pattern
	if pattern == "" {
		pattern = DefaultPattern
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	limit := src.MaxFragments
	if limit <= 0 {
		limit = DefaultMaxFragments
	}

	var (
		fragments []Fragment
		err       error
	)
	if strings.HasPrefix(src.URI, "s3://") {
		fragments, err = discoverS3(ctx, src.URI, pattern, src.S3)
	} else {
		fragments, err = discoverLocal(src.URI, pattern)
	}
	if err != nil {
		return nil, err
	}

	if len(fragments) == 0 {
		return nil, fmt.Errorf("%w: %s matching %s", ErrNoFragments, src.URI, pattern)
	}
	if len(fragments) > limit {
		return nil, fmt.Errorf("dataset matched too many files (%d), maximum is %d", len(fragments), limit)
	}
	sort.Slice(fragments, func(i, j int) bool { return fragments[i].Path() < fragments[j].Path() })
	return fragments, nil
}

func discoverLocal(uri, pattern string) ([]Fragment, error) {
	// Check if uri contains glob wildcards
	if strings.ContainsAny(uri, "*?[") {
		matches, err := filepath.Glob(uri)
		if err != nil {
			return nil, fmt.Errorf("invalid glob pattern: %w", err)
		}
		fragments := make([]Fragment, 0, len(matches))
		for _, m := range matches {
			if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
				fragments = append(fragments, LocalFragment(m))
			}
		}
		return fragments, nil
	}

	info, err := os.Stat(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", uri, err)
	}
	if !info.IsDir() {
		return []Fragment{LocalFragment(uri)}, nil
	}

	var fragments []Fragment
	err = filepath.WalkDir(uri, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ok, _ := path.Match(pattern, d.Name()); ok {
			fragments = append(fragments, LocalFragment(p))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", uri, err)
	}
	return fragments, nil
}
