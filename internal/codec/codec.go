// Package codec converts interleaved 8-bit pixel buffers into normalized
// NHWC float tensors and back.
package codec

import (
	"errors"
	"fmt"
	"math"

	"github.com/example/go-style-transfer/internal/geometry"
	"github.com/example/go-style-transfer/internal/onnx"
)

var (
	ErrUnsupportedPixelFormat = errors.New("codec: unsupported pixel format")
	ErrInvalidPixels          = errors.New("codec: invalid pixel buffer")
	ErrUnexpectedShape        = errors.New("codec: unexpected tensor shape")
)

// Pixels is an interleaved 8-bit image, row-major with no row padding.
type Pixels struct {
	Width    int
	Height   int
	Channels int
	Pix      []uint8
}

// NewPixels allocates a zeroed buffer.
func NewPixels(width, height, channels int) Pixels {
	return Pixels{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]uint8, width*height*channels),
	}
}

func (p Pixels) Size() geometry.Size {
	return geometry.Size{Width: p.Width, Height: p.Height}
}

// Validate checks channel count and buffer length.
func (p Pixels) Validate() error {
	if p.Channels != 3 && p.Channels != 4 {
		return fmt.Errorf("%w: %d channels (want 3 or 4)", ErrUnsupportedPixelFormat, p.Channels)
	}

	if !p.Size().Valid() {
		return fmt.Errorf("%w: %dx%d", ErrInvalidPixels, p.Width, p.Height)
	}

	if want := p.Width * p.Height * p.Channels; len(p.Pix) < want {
		return fmt.Errorf("%w: %dx%dx%d needs %d bytes, got %d", ErrInvalidPixels, p.Width, p.Height, p.Channels, want, len(p.Pix))
	}

	return nil
}

// ToTensor converts p into a [1, H, W, 3] tensor with values in [0, 1].
// Alpha is dropped from 4-channel input. When p's dimensions differ from dst
// the tensor is resized bicubically with corners aligned.
func ToTensor(p Pixels, dst geometry.Size) (*onnx.Tensor, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	if !dst.Valid() {
		return nil, fmt.Errorf("%w: %s", geometry.ErrInvalidSize, dst)
	}

	n := p.Width * p.Height
	data := make([]float32, n*3)
	for i := 0; i < n; i++ {
		src := p.Pix[i*p.Channels : i*p.Channels+3]
		data[i*3+0] = float32(src[0]) / 255
		data[i*3+1] = float32(src[1]) / 255
		data[i*3+2] = float32(src[2]) / 255
	}

	if p.Width != dst.Width || p.Height != dst.Height {
		data = ResizeBicubic(data, p.Size(), dst, 3)
	}

	return onnx.FromOwned(data, []int64{1, int64(dst.Height), int64(dst.Width), 3})
}

// FromTensor converts a [1, H, W, 3] tensor with values in [0, 1] into RGB
// pixels of size dst.
func FromTensor(t *onnx.Tensor, dst geometry.Size) (Pixels, error) {
	out := Pixels{Width: dst.Width, Height: dst.Height, Channels: 3}
	if err := FromTensorInto(t, &out); err != nil {
		return Pixels{}, err
	}

	return out, nil
}

// FromTensorInto writes t into dst, resizing to dst's dimensions when they
// differ from the tensor's. dst.Pix is reused when it is large enough.
func FromTensorInto(t *onnx.Tensor, dst *Pixels) error {
	h, w, c, err := t.ImageDims()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}

	if c != 3 {
		return fmt.Errorf("%w: %d channels", ErrUnexpectedShape, c)
	}

	target := geometry.Size{Width: dst.Width, Height: dst.Height}
	if !target.Valid() {
		return fmt.Errorf("%w: %s", geometry.ErrInvalidSize, target)
	}

	data := t.Data()
	if w != target.Width || h != target.Height {
		data = ResizeBicubic(data, geometry.Size{Width: w, Height: h}, target, 3)
	}

	need := target.Width * target.Height * 3
	if cap(dst.Pix) < need {
		dst.Pix = make([]uint8, need)
	}
	dst.Pix = dst.Pix[:need]
	dst.Channels = 3

	for i, v := range data {
		dst.Pix[i] = quantize(v)
	}

	return nil
}

// StripAlpha returns a 3-channel copy of a 4-channel buffer. 3-channel input
// is returned unchanged.
func StripAlpha(p Pixels) (Pixels, error) {
	if err := p.Validate(); err != nil {
		return Pixels{}, err
	}

	if p.Channels == 3 {
		return p, nil
	}

	out := NewPixels(p.Width, p.Height, 3)
	for i := 0; i < p.Width*p.Height; i++ {
		copy(out.Pix[i*3:i*3+3], p.Pix[i*4:i*4+3])
	}

	return out, nil
}

func quantize(v float32) uint8 {
	x := math.Round(float64(v) * 255)
	switch {
	case x <= 0:
		return 0
	case x >= 255:
		return 255
	default:
		return uint8(x)
	}
}
