package codec

import (
	"errors"
	"image"
	"image/color"
	"math"
	"reflect"
	"testing"

	"github.com/example/go-style-transfer/internal/geometry"
	"github.com/example/go-style-transfer/internal/onnx"
)

func gradientPixels(w, h, channels int) Pixels {
	p := NewPixels(w, h, channels)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * channels
			p.Pix[i+0] = uint8((x * 255) / max(w-1, 1))
			p.Pix[i+1] = uint8((y * 255) / max(h-1, 1))
			p.Pix[i+2] = uint8((x + y) % 256)
			if channels == 4 {
				p.Pix[i+3] = uint8(17 * (x % 15))
			}
		}
	}
	return p
}

func TestToTensorShapeAndRange(t *testing.T) {
	p := Pixels{Width: 2, Height: 1, Channels: 3, Pix: []uint8{0, 51, 255, 255, 102, 0}}

	tt, err := ToTensor(p, geometry.Size{Width: 2, Height: 1})
	if err != nil {
		t.Fatalf("ToTensor: %v", err)
	}

	if !reflect.DeepEqual(tt.Shape(), []int64{1, 1, 2, 3}) {
		t.Fatalf("shape = %v", tt.Shape())
	}

	want := []float32{0, 0.2, 1, 1, 0.4, 0}
	got := tt.Data()
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Fatalf("data[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestToTensorRGBAEqualsStrippedRGB(t *testing.T) {
	rgba := gradientPixels(13, 7, 4)
	rgb, err := StripAlpha(rgba)
	if err != nil {
		t.Fatalf("StripAlpha: %v", err)
	}

	for _, dst := range []geometry.Size{{Width: 13, Height: 7}, {Width: 32, Height: 32}} {
		a, err := ToTensor(rgba, dst)
		if err != nil {
			t.Fatalf("ToTensor rgba: %v", err)
		}
		b, err := ToTensor(rgb, dst)
		if err != nil {
			t.Fatalf("ToTensor rgb: %v", err)
		}

		if !reflect.DeepEqual(a.Data(), b.Data()) {
			t.Fatalf("rgba and rgb tensors differ at %v", dst)
		}
	}
}

func TestStripAlphaPreservesChannelOrder(t *testing.T) {
	p := Pixels{Width: 2, Height: 1, Channels: 4, Pix: []uint8{1, 2, 3, 4, 5, 6, 7, 8}}

	got, err := StripAlpha(p)
	if err != nil {
		t.Fatalf("StripAlpha: %v", err)
	}

	if !reflect.DeepEqual(got.Pix, []uint8{1, 2, 3, 5, 6, 7}) {
		t.Fatalf("pix = %v", got.Pix)
	}
}

func TestToTensorRejectsChannelCounts(t *testing.T) {
	for _, c := range []int{1, 2, 5} {
		p := NewPixels(4, 4, c)
		_, err := ToTensor(p, geometry.Size{Width: 4, Height: 4})
		if !errors.Is(err, ErrUnsupportedPixelFormat) {
			t.Errorf("channels=%d: error = %v, want ErrUnsupportedPixelFormat", c, err)
		}
	}
}

func TestToTensorRejectsShortBuffer(t *testing.T) {
	p := Pixels{Width: 4, Height: 4, Channels: 3, Pix: make([]uint8, 10)}

	_, err := ToTensor(p, geometry.Size{Width: 4, Height: 4})
	if !errors.Is(err, ErrInvalidPixels) {
		t.Fatalf("error = %v, want ErrInvalidPixels", err)
	}
}

func TestToTensorRejectsOversizePixels(t *testing.T) {
	tests := []struct {
		name string
		p    Pixels
		dst  geometry.Size
		want error
	}{
		{"width above max", Pixels{Width: geometry.MaxDimension + 1, Height: 1, Channels: 3, Pix: make([]uint8, 3)}, geometry.Size{Width: 32, Height: 32}, ErrInvalidPixels},
		{"overflowing product", Pixels{Width: math.MaxInt / 2, Height: 3, Channels: 3, Pix: make([]uint8, 3)}, geometry.Size{Width: 32, Height: 32}, ErrInvalidPixels},
		{"target above max", NewPixels(4, 4, 3), geometry.Size{Width: geometry.MaxDimension + 32, Height: 32}, geometry.ErrInvalidSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ToTensor(tt.p, tt.dst); !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRoundTripPreservesDimensions(t *testing.T) {
	tests := []struct {
		name  string
		src   geometry.Size
		model geometry.Size
	}{
		{"aligned", geometry.Size{Width: 64, Height: 32}, geometry.Size{Width: 64, Height: 32}},
		{"padded to model size", geometry.Size{Width: 50, Height: 30}, geometry.ModelSizeFor(geometry.Size{Width: 50, Height: 30})},
		{"style size", geometry.Size{Width: 40, Height: 90}, geometry.StyleSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := gradientPixels(tt.src.Width, tt.src.Height, 3)

			tensor, err := ToTensor(p, tt.model)
			if err != nil {
				t.Fatalf("ToTensor: %v", err)
			}

			back, err := FromTensor(tensor, p.Size())
			if err != nil {
				t.Fatalf("FromTensor: %v", err)
			}

			if back.Width != p.Width || back.Height != p.Height || back.Channels != 3 {
				t.Fatalf("round trip = %dx%dx%d, want %dx%dx3", back.Width, back.Height, back.Channels, p.Width, p.Height)
			}
		})
	}
}

func TestRoundTripSameSizeIsExact(t *testing.T) {
	p := gradientPixels(9, 5, 3)

	tensor, err := ToTensor(p, p.Size())
	if err != nil {
		t.Fatalf("ToTensor: %v", err)
	}

	back, err := FromTensor(tensor, p.Size())
	if err != nil {
		t.Fatalf("FromTensor: %v", err)
	}

	if !reflect.DeepEqual(back.Pix, p.Pix) {
		t.Fatal("same-size round trip changed pixel values")
	}
}

func TestFromTensorClampsOutOfRange(t *testing.T) {
	tensor, err := onnx.NewTensor([]float32{-0.5, 0.5, 1.5}, []int64{1, 1, 1, 3})
	if err != nil {
		t.Fatalf("NewTensor: %v", err)
	}

	got, err := FromTensor(tensor, geometry.Size{Width: 1, Height: 1})
	if err != nil {
		t.Fatalf("FromTensor: %v", err)
	}

	if !reflect.DeepEqual(got.Pix, []uint8{0, 128, 255}) {
		t.Fatalf("pix = %v", got.Pix)
	}
}

func TestFromTensorRejectsBadShape(t *testing.T) {
	tests := []struct {
		name  string
		shape []int64
	}{
		{"3D", []int64{2, 2, 3}},
		{"batch 2", []int64{2, 1, 1, 3}},
		{"one channel", []int64{1, 2, 3, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tensor, err := onnx.NewZeroTensor(tt.shape)
			if err != nil {
				t.Fatalf("NewZeroTensor: %v", err)
			}

			_, err = FromTensor(tensor, geometry.Size{Width: 2, Height: 2})
			if !errors.Is(err, ErrUnexpectedShape) {
				t.Fatalf("error = %v, want ErrUnexpectedShape", err)
			}
		})
	}
}

func TestFromTensorIntoReusesBuffer(t *testing.T) {
	tensor, _ := onnx.NewZeroTensor([]int64{1, 4, 4, 3})
	buf := make([]uint8, 0, 256)
	dst := Pixels{Width: 4, Height: 4, Pix: buf}

	if err := FromTensorInto(tensor, &dst); err != nil {
		t.Fatalf("FromTensorInto: %v", err)
	}

	if &dst.Pix[:1][0] != &buf[:1][0] {
		t.Fatal("expected the destination buffer to be reused")
	}
	if len(dst.Pix) != 48 {
		t.Fatalf("len = %d, want 48", len(dst.Pix))
	}
}

func TestFromImageAndToImage(t *testing.T) {
	src := image.NewRGBA(image.Rect(10, 10, 13, 12))
	src.Set(10, 10, color.RGBA{R: 200, G: 100, B: 50, A: 255})

	p := FromImage(src)
	if p.Width != 3 || p.Height != 2 || p.Channels != 4 {
		t.Fatalf("FromImage = %dx%dx%d", p.Width, p.Height, p.Channels)
	}
	if !reflect.DeepEqual(p.Pix[:4], []uint8{200, 100, 50, 255}) {
		t.Fatalf("first pixel = %v", p.Pix[:4])
	}

	rgb, _ := StripAlpha(p)
	img, err := ToImage(rgb)
	if err != nil {
		t.Fatalf("ToImage: %v", err)
	}
	if got := img.NRGBAAt(0, 0); got != (color.NRGBA{R: 200, G: 100, B: 50, A: 255}) {
		t.Fatalf("pixel = %v", got)
	}
}

func TestScale(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	got := Scale(src, 3, 5)
	if got.Bounds().Dx() != 3 || got.Bounds().Dy() != 5 {
		t.Fatalf("bounds = %v", got.Bounds())
	}
}
