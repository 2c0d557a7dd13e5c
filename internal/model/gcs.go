package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
)

// GCSFetcher reads gs://bucket/object locations. A nil Client means a
// client is created per fetch with application default credentials.
type GCSFetcher struct {
	Client *storage.Client
}

func (f *GCSFetcher) Open(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	bucket := u.Host
	object := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || object == "" {
		return nil, fmt.Errorf("invalid GCS location %q: want gs://bucket/object", u)
	}

	client := f.Client
	owned := false
	if client == nil {
		c, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating GCS storage client: %w", err)
		}
		client, owned = c, true
	}

	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if owned {
			_ = client.Close()
		}
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrModelNotFound, u)
		}
		return nil, fmt.Errorf("opening object from GCS %q: %w", u, err)
	}

	if !owned {
		return r, nil
	}

	return &clientReader{Reader: r, client: client}, nil
}

// clientReader closes the client it was opened with.
type clientReader struct {
	*storage.Reader
	client *storage.Client
}

func (c *clientReader) Close() error {
	err := c.Reader.Close()
	if cerr := c.client.Close(); err == nil {
		err = cerr
	}
	return err
}
