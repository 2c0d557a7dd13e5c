package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

const (
	cacheManifestName = "cache-manifest.lock.json"
	cacheLockName     = ".cache.lock"
	lockRetryDelay    = 200 * time.Millisecond
)

type ErrAccessDenied struct {
	Location string
	Msg      string
}

func (e *ErrAccessDenied) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("access denied for %s", e.Location)
}

type lockManifest struct {
	Generated string                `json:"generated"`
	Files     map[string]lockRecord `json:"files"`
}

type lockRecord struct {
	Path    string `json:"path"`
	SHA256  string `json:"sha256"`
	Fetched string `json:"fetched"`
}

var shaHexPattern = regexp.MustCompile(`(?i)^[a-f0-9]{64}$`)

// fetch downloads u into the cache unless a verified copy is already there.
// The cache directory is guarded by a file lock so concurrent processes do
// not download the same object twice.
func (s *Store) fetch(ctx context.Context, u *url.URL, f Fetcher) (string, error) {
	if s.CacheDir == "" {
		return "", fmt.Errorf("cache dir is required to fetch %s", u)
	}

	stdout := s.Stdout
	if stdout == nil {
		stdout = io.Discard
	}

	if err := os.MkdirAll(s.CacheDir, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}

	lock := flock.New(filepath.Join(s.CacheDir, cacheLockName))
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return "", fmt.Errorf("acquire cache lock: %w", err)
	}
	if !locked {
		return "", fmt.Errorf("acquire cache lock: %s is busy", s.CacheDir)
	}
	defer func() { _ = lock.Unlock() }()

	location := u.String()
	manifestPath := filepath.Join(s.CacheDir, cacheManifestName)
	manifest := readLockManifest(manifestPath)

	localPath := filepath.Join(s.CacheDir, cacheFilename(u))

	if rec, ok := manifest.Files[location]; ok && isSHA256Hex(rec.SHA256) {
		if ok, err := existingMatches(localPath, rec.SHA256); err != nil {
			return "", err
		} else if ok {
			fmt.Fprintf(stdout, "skip %s (checksum match)\n", location)
			s.logger().Debug("model cache hit", "location", location, "path", localPath)

			return localPath, nil
		}
	}

	fmt.Fprintf(stdout, "download %s -> %s\n", location, localPath)
	s.logger().Info("downloading model", "location", location, "path", localPath)

	started := time.Now()
	sum, n, err := download(ctx, f, u, localPath, stdout)
	if err != nil {
		return "", err
	}

	s.logger().Info("downloaded model", "location", location, "bytes", n, "duration", time.Since(started))

	manifest.Generated = time.Now().UTC().Format(time.RFC3339)
	manifest.Files[location] = lockRecord{Path: localPath, SHA256: sum, Fetched: manifest.Generated}
	if err := writeLockManifest(manifestPath, manifest); err != nil {
		return "", err
	}

	return localPath, nil
}

// cacheFilename keeps the object's base name and prefixes a digest of the
// full location so different buckets cannot collide.
func cacheFilename(u *url.URL) string {
	h := sha256.Sum256([]byte(u.String()))

	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		base = DefaultFilename
	}

	return hex.EncodeToString(h[:6]) + "-" + base
}

func download(ctx context.Context, f Fetcher, u *url.URL, outPath string, stdout io.Writer) (string, int64, error) {
	body, err := f.Open(ctx, u)
	if err != nil {
		return "", 0, err
	}
	defer body.Close()

	tmp := outPath + ".tmp"
	fh, err := os.Create(tmp)
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}

	h := sha256.New()
	mw := io.MultiWriter(fh, h)

	var written int64
	buf := make([]byte, 64*1024)
	lastPrint := time.Now()
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			wn, writeErr := mw.Write(buf[:n])
			if writeErr != nil {
				_ = fh.Close()
				_ = os.Remove(tmp)
				return "", 0, fmt.Errorf("write temp file: %w", writeErr)
			}
			written += int64(wn)
			if time.Since(lastPrint) > 700*time.Millisecond {
				fmt.Fprintf(stdout, "  progress: %d bytes\n", written)
				lastPrint = time.Now()
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			_ = fh.Close()
			_ = os.Remove(tmp)
			return "", 0, fmt.Errorf("download read failed: %w", readErr)
		}
	}

	if err := fh.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", 0, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, outPath); err != nil {
		_ = os.Remove(tmp)
		return "", 0, fmt.Errorf("move temp file into place: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), written, nil
}

// HTTPFetcher downloads over HTTP(S). Token, when set, is sent as a bearer
// token.
type HTTPFetcher struct {
	Client *http.Client
	Token  string
}

func (f *HTTPFetcher) Open(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	setAuth(req, f.Token)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download request failed: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return nil, &ErrAccessDenied{
			Location: u.String(),
			Msg:      fmt.Sprintf("access denied for %s; check the download token", u),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("download failed for %s: %s", u, resp.Status)
	}

	return resp.Body, nil
}

func setAuth(req *http.Request, token string) {
	if token == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}

func existingMatches(path, expected string) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat existing file: %w", err)
	}
	if fi.IsDir() {
		return false, fmt.Errorf("expected file at %s, found directory", path)
	}
	actual, err := fileSHA256(path)
	if err != nil {
		return false, err
	}
	return actual == strings.ToLower(expected), nil
}

func isSHA256Hex(v string) bool {
	return shaHexPattern.MatchString(v)
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read file for checksum: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func readLockManifest(path string) lockManifest {
	out := lockManifest{Files: map[string]lockRecord{}}

	b, err := os.ReadFile(path)
	if err != nil {
		return out
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return lockManifest{Files: map[string]lockRecord{}}
	}
	if out.Files == nil {
		out.Files = map[string]lockRecord{}
	}
	return out
}

func writeLockManifest(path string, lock lockManifest) error {
	b, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return fmt.Errorf("encode lock manifest: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write lock manifest: %w", err)
	}
	return nil
}
