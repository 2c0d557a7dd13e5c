// Package model turns an opaque model location into a local ONNX file.
//
// A location is one of:
//
//	path/to/model.onnx       a local file
//	path/to/dir              a directory holding model.onnx (or a single *.onnx)
//	gs://bucket/object.onnx  a Cloud Storage object, cached locally
//	https://host/model.onnx  an HTTP(S) download, cached locally
package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// DefaultFilename is looked up when a location names a directory.
const DefaultFilename = "model.onnx"

var (
	ErrModelNotFound     = errors.New("model: no ONNX model at location")
	ErrUnsupportedScheme = errors.New("model: unsupported location scheme")
)

// Fetcher streams a remote object.
type Fetcher interface {
	Open(ctx context.Context, u *url.URL) (io.ReadCloser, error)
}

// Store resolves locations. Remote objects are downloaded once into
// CacheDir and reused while the cached copy matches its recorded checksum.
type Store struct {
	CacheDir string
	Fetchers map[string]Fetcher
	Stdout   io.Writer
	Logger   *slog.Logger
}

// NewStore returns a store with the gs, http and https fetchers registered.
func NewStore(cacheDir string) *Store {
	return &Store{
		CacheDir: cacheDir,
		Fetchers: map[string]Fetcher{
			"gs":    &GCSFetcher{},
			"http":  &HTTPFetcher{},
			"https": &HTTPFetcher{},
		},
	}
}

// Resolve returns the path of a local ONNX file for location.
func (s *Store) Resolve(ctx context.Context, location string) (string, error) {
	if location == "" {
		return "", fmt.Errorf("%w: empty location", ErrModelNotFound)
	}

	if scheme, ok := remoteScheme(location); ok {
		u, err := url.Parse(location)
		if err != nil {
			return "", fmt.Errorf("parse model location %q: %w", location, err)
		}

		f, ok := s.Fetchers[scheme]
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
		}

		return s.fetch(ctx, u, f)
	}

	return ResolveLocal(location)
}

// ResolveLocal maps a file or directory path to an ONNX file.
func ResolveLocal(location string) (string, error) {
	fi, err := os.Stat(location)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrModelNotFound, location)
		}
		return "", fmt.Errorf("stat model location: %w", err)
	}

	if !fi.IsDir() {
		return location, nil
	}

	candidate := filepath.Join(location, DefaultFilename)
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}

	matches, err := filepath.Glob(filepath.Join(location, "*.onnx"))
	if err != nil {
		return "", fmt.Errorf("scan model dir: %w", err)
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s has no .onnx file", ErrModelNotFound, location)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %s holds %d .onnx files and no %s", ErrModelNotFound, location, len(matches), DefaultFilename)
	}
}

// IsRemote reports whether location needs a fetch.
func IsRemote(location string) bool {
	_, ok := remoteScheme(location)
	return ok
}

func remoteScheme(location string) (string, bool) {
	i := strings.Index(location, "://")
	if i <= 0 {
		return "", false
	}

	return strings.ToLower(location[:i]), true
}

func (s *Store) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
