package codec

import (
	"math"

	"github.com/example/go-style-transfer/internal/geometry"
)

// cubicA matches the coefficient TensorFlow's resize_bicubic uses.
const cubicA = -0.75

type axisTaps struct {
	idx [][4]int
	w   [][4]float32
}

// ResizeBicubic resamples an interleaved HWC float image from src to dst
// dimensions. Corners are aligned: output pixel 0 and the last output pixel
// sample exactly the first and last source pixels. Neighbour indices are
// clamped at the borders.
func ResizeBicubic(data []float32, src, dst geometry.Size, channels int) []float32 {
	if src == dst {
		return append([]float32(nil), data...)
	}

	xs := computeTaps(src.Width, dst.Width)
	ys := computeTaps(src.Height, dst.Height)

	// Horizontal pass: src.Height x dst.Width.
	tmp := make([]float32, src.Height*dst.Width*channels)
	for y := 0; y < src.Height; y++ {
		row := data[y*src.Width*channels:]
		out := tmp[y*dst.Width*channels:]
		for x := 0; x < dst.Width; x++ {
			idx, w := xs.idx[x], xs.w[x]
			for c := 0; c < channels; c++ {
				var acc float32
				for k := 0; k < 4; k++ {
					acc += w[k] * row[idx[k]*channels+c]
				}
				out[x*channels+c] = acc
			}
		}
	}

	// Vertical pass: dst.Height x dst.Width.
	stride := dst.Width * channels
	res := make([]float32, dst.Height*stride)
	for y := 0; y < dst.Height; y++ {
		idx, w := ys.idx[y], ys.w[y]
		out := res[y*stride : (y+1)*stride]
		for k := 0; k < 4; k++ {
			if w[k] == 0 {
				continue
			}
			in := tmp[idx[k]*stride : (idx[k]+1)*stride]
			for i := range out {
				out[i] += w[k] * in[i]
			}
		}
	}

	return res
}

func computeTaps(in, out int) axisTaps {
	taps := axisTaps{
		idx: make([][4]int, out),
		w:   make([][4]float32, out),
	}

	scale := 0.0
	if out > 1 {
		scale = float64(in-1) / float64(out-1)
	}

	for i := 0; i < out; i++ {
		pos := float64(i) * scale
		base := int(math.Floor(pos))
		t := pos - float64(base)

		taps.w[i] = [4]float32{
			float32(cubicWeight(1 + t)),
			float32(cubicWeight(t)),
			float32(cubicWeight(1 - t)),
			float32(cubicWeight(2 - t)),
		}
		for k := 0; k < 4; k++ {
			taps.idx[i][k] = clampIndex(base-1+k, in)
		}
	}

	return taps
}

func cubicWeight(x float64) float64 {
	x = math.Abs(x)
	switch {
	case x <= 1:
		return ((cubicA+2)*x-(cubicA+3))*x*x + 1
	case x < 2:
		return ((cubicA*x-5*cubicA)*x+8*cubicA)*x - 4*cubicA
	default:
		return 0
	}
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
