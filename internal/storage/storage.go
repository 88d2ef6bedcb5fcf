// Package storage persists export runs. Each run gets its own directory (or
// S3 prefix) so two runs never write the same file.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/ledgerline/site/internal/config"
)

var (
	ErrNotFound  = errors.New("export file not found")
	ErrRunExists = errors.New("export run already exists")
	ErrBadName   = errors.New("invalid run or file name")
)

// Destination is where export runs are written and read back from.
type Destination interface {
	// Reserve claims the run. It fails with ErrRunExists if the run is taken.
	Reserve(ctx context.Context, run string) error
	Write(ctx context.Context, run, name string, data []byte) error
	Open(ctx context.Context, run, name string) (io.ReadCloser, error)
	// Location is a human-readable address of the file, for logs and manifests.
	Location(run, name string) string
	// Check reports whether the destination is reachable.
	Check(ctx context.Context) error
}

// New builds the destination selected by cfg.Type.
func New(ctx context.Context, cfg config.ExportConfig) (Destination, error) {
	switch cfg.Type {
	case "aws":
		s3Dest, err := NewS3(ctx, cfg.S3Bucket, cfg.S3Prefix, cfg.AWSRegion, cfg.GetAWSProfile())
		if err != nil {
			return nil, fmt.Errorf("initializing S3 export storage: %w", err)
		}
		return s3Dest, nil
	case "local", "":
		return NewLocal(cfg.LocalPath)
	default:
		return nil, fmt.Errorf("unknown export storage type %q", cfg.Type)
	}
}

// Local writes runs under a root directory on disk.
type Local struct {
	root string
}

// NewLocal creates root if needed.
func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating export directory: %w", err)
	}
	return &Local{root: root}, nil
}

// Root is the directory runs are created in.
func (l *Local) Root() string { return l.root }

// Reserve creates the run directory; os.Mkdir fails if it already exists.
func (l *Local) Reserve(_ context.Context, run string) error {
	if err := checkSegment(run); err != nil {
		return err
	}
	if err := os.Mkdir(filepath.Join(l.root, run), 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrRunExists, run)
		}
		return fmt.Errorf("creating run directory: %w", err)
	}
	return nil
}

// Write replaces the file atomically so a reader never sees a partial file.
func (l *Local) Write(_ context.Context, run, name string, data []byte) error {
	if err := checkSegment(run, name); err != nil {
		return err
	}
	return atomic.WriteFile(filepath.Join(l.root, run, name), bytes.NewReader(data))
}

func (l *Local) Open(_ context.Context, run, name string) (io.ReadCloser, error) {
	if err := checkSegment(run, name); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(l.root, run, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, run, name)
		}
		return nil, err
	}
	return f, nil
}

func (l *Local) Location(run, name string) string {
	return filepath.Join(l.root, run, name)
}

func (l *Local) Check(_ context.Context) error {
	info, err := os.Stat(l.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", l.root)
	}
	return nil
}

// ContentType infers a MIME type from the file extension.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

// checkSegment rejects anything that could escape the run directory.
func checkSegment(parts ...string) error {
	for _, p := range parts {
		if p == "" || p == "." || p == ".." || strings.ContainsAny(p, `/\`) {
			return fmt.Errorf("%w: %q", ErrBadName, p)
		}
	}
	return nil
}
