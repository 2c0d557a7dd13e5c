// Package imageio reads and writes image files as codec.Pixels.
package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/example/go-style-transfer/internal/codec"
	"github.com/example/go-style-transfer/internal/geometry"
)

// Format names an encoder.
type Format string

const (
	PNG  Format = "png"
	JPEG Format = "jpeg"
	BMP  Format = "bmp"
	TIFF Format = "tiff"
	GIF  Format = "gif"
)

var (
	ErrUnknownFormat = errors.New("imageio: unknown image format")
	ErrTooLarge      = errors.New("imageio: image dimensions too large")
)

// JPEGQuality is used for every JPEG encode.
const JPEGQuality = 92

// Decode reads any registered image format (png, jpeg, gif, bmp, tiff,
// webp) into a 4-channel buffer. The header is checked against
// geometry.MaxDimension before any pixel memory is allocated.
func Decode(r io.Reader) (codec.Pixels, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return codec.Pixels{}, "", fmt.Errorf("read image: %w", err)
	}
	return DecodeBytes(data)
}

// DecodeBytes is Decode over an in-memory buffer.
func DecodeBytes(data []byte) (codec.Pixels, string, error) {
	if len(data) == 0 {
		return codec.Pixels{}, "", errors.New("empty image input")
	}

	if _, err := DecodeConfig(data); err != nil {
		return codec.Pixels{}, "", err
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return codec.Pixels{}, "", fmt.Errorf("decode image: %w", err)
	}

	return codec.FromImage(img), format, nil
}

// DecodeConfig reads only the image header. It returns ErrTooLarge when
// either side exceeds geometry.MaxDimension.
func DecodeConfig(data []byte) (geometry.Size, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return geometry.Size{}, fmt.Errorf("decode image: %w", err)
	}

	size := geometry.Size{Width: cfg.Width, Height: cfg.Height}
	if size.Width > geometry.MaxDimension || size.Height > geometry.MaxDimension {
		return size, fmt.Errorf("%w: %s exceeds %dx%d", ErrTooLarge, size, geometry.MaxDimension, geometry.MaxDimension)
	}

	return size, nil
}

// LoadConfig reports the dimensions of the image file at path without
// decoding its pixels.
func LoadConfig(path string) (geometry.Size, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return geometry.Size{}, fmt.Errorf("open image: %w", err)
	}

	size, err := DecodeConfig(data)
	if err != nil {
		return size, fmt.Errorf("%s: %w", path, err)
	}

	return size, nil
}

// Load decodes the image file at path.
func Load(path string) (codec.Pixels, error) {
	f, err := os.Open(path)
	if err != nil {
		return codec.Pixels{}, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	p, _, err := Decode(f)
	if err != nil {
		return codec.Pixels{}, fmt.Errorf("%s: %w", path, err)
	}

	return p, nil
}

// FormatFromPath picks an encoder by file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return PNG, nil
	case ".jpg", ".jpeg":
		return JPEG, nil
	case ".bmp":
		return BMP, nil
	case ".tif", ".tiff":
		return TIFF, nil
	case ".gif":
		return GIF, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, filepath.Ext(path))
	}
}

// Encode writes p to w in the given format.
func Encode(w io.Writer, p codec.Pixels, format Format) error {
	img, err := codec.ToImage(p)
	if err != nil {
		return err
	}

	switch format {
	case PNG:
		err = png.Encode(w, img)
	case JPEG:
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: JPEGQuality})
	case BMP:
		err = bmp.Encode(w, img)
	case TIFF:
		err = tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	case GIF:
		err = gif.Encode(w, img, nil)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", format, err)
	}

	return nil
}

// EncodePNG returns p as PNG bytes.
func EncodePNG(p codec.Pixels) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, p, PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes p to path, choosing the format from the extension. Parent
// directories are created as needed.
func Save(path string, p codec.Pixels) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}

	if err := Encode(f, p, format); err != nil {
		_ = f.Close()
		return err
	}

	return f.Close()
}

// IsImagePath reports whether path has an extension Load can read.
func IsImagePath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff", ".webp":
		return true
	default:
		return false
	}
}
