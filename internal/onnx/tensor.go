package onnx

import (
	"fmt"
	"math"
)

// Tensor is an immutable float32 buffer with shape metadata. Image tensors use
// NHWC layout: [batch, height, width, channels].
type Tensor struct {
	shape []int64
	data  []float32
}

// NewTensor copies data into a new tensor after validating it against shape.
func NewTensor(data []float32, shape []int64) (*Tensor, error) {
	if err := validateShapeAgainstData(shape, len(data)); err != nil {
		return nil, err
	}

	return &Tensor{
		shape: append([]int64(nil), shape...),
		data:  append([]float32(nil), data...),
	}, nil
}

// NewZeroTensor returns a zero-filled tensor of the given shape.
func NewZeroTensor(shape []int64) (*Tensor, error) {
	count, err := elementCount(shape)
	if err != nil {
		return nil, err
	}

	return &Tensor{
		shape: append([]int64(nil), shape...),
		data:  make([]float32, count),
	}, nil
}

// FromOwned builds a tensor that takes ownership of data without copying.
// The caller must not write to data afterwards.
func FromOwned(data []float32, shape []int64) (*Tensor, error) {
	if err := validateShapeAgainstData(shape, len(data)); err != nil {
		return nil, err
	}

	return &Tensor{shape: append([]int64(nil), shape...), data: data}, nil
}

func (t *Tensor) Shape() []int64 {
	return append([]int64(nil), t.shape...)
}

// Data returns a copy of the backing values.
func (t *Tensor) Data() []float32 {
	return append([]float32(nil), t.data...)
}

// Len is the number of elements.
func (t *Tensor) Len() int {
	return len(t.data)
}

// At returns the element at flat index i.
func (t *Tensor) At(i int) float32 {
	return t.data[i]
}

// ImageDims returns height, width and channels of a [1, H, W, C] tensor.
func (t *Tensor) ImageDims() (height, width, channels int, err error) {
	if len(t.shape) != 4 {
		return 0, 0, 0, fmt.Errorf("expected 4D image tensor, got shape %v", t.shape)
	}

	if t.shape[0] != 1 {
		return 0, 0, 0, fmt.Errorf("expected batch size 1, got shape %v", t.shape)
	}

	return int(t.shape[1]), int(t.shape[2]), int(t.shape[3]), nil
}

func validateShapeAgainstData(shape []int64, dataLen int) error {
	count, err := elementCount(shape)
	if err != nil {
		return err
	}
	if count != dataLen {
		return fmt.Errorf("shape %v expects %d elements, got %d", shape, count, dataLen)
	}
	return nil
}

func elementCount(shape []int64) (int, error) {
	if len(shape) == 0 {
		return 1, nil
	}
	count := int64(1)
	for i, dim := range shape {
		if dim < 1 {
			return 0, fmt.Errorf("shape[%d]=%d is not positive", i, dim)
		}
		if count > math.MaxInt64/dim {
			return 0, fmt.Errorf("shape %v overflows element count", shape)
		}
		count *= dim
	}
	if count > int64(math.MaxInt) {
		return 0, fmt.Errorf("shape %v exceeds platform int capacity", shape)
	}
	return int(count), nil
}
