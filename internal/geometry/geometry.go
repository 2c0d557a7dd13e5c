// Package geometry maps the caller's logical image size onto the input size a
// model requires and tracks size changes that must wait for an in-flight
// inference to finish.
package geometry

import (
	"errors"
	"fmt"
)

// Alignment is the multiple every model input dimension is rounded up to.
const Alignment = 32

// StyleSize is the fixed size style reference images are resized to.
var StyleSize = Size{Width: 256, Height: 256}

// MaxDimension bounds every width and height the engine accepts. Its
// rounded-up model size stays well inside int and tensor allocation limits.
const MaxDimension = 16384

var ErrInvalidSize = errors.New("geometry: size must be positive and at most 16384")

type Size struct {
	Width  int
	Height int
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Valid reports whether both dimensions are in [1, MaxDimension].
func (s Size) Valid() bool {
	return s.Width > 0 && s.Height > 0 && s.Width <= MaxDimension && s.Height <= MaxDimension
}

// RoundUp rounds n up to the nearest multiple of m. n and m must be positive.
func RoundUp(n, m int) int {
	return n + m - 1 - (n+m-1)%m
}

// ModelSizeFor returns logical with each dimension rounded up to Alignment.
func ModelSizeFor(logical Size) Size {
	return Size{
		Width:  RoundUp(logical.Width, Alignment),
		Height: RoundUp(logical.Height, Alignment),
	}
}

// Negotiator tracks the logical size, the derived model size and the size of
// the output buffer. It is not safe for concurrent use; the owner serializes
// access.
type Negotiator struct {
	logical Size
	model   Size
	output  Size
	pending bool
}

// NewNegotiator starts with logical, model and output geometry in agreement.
func NewNegotiator(width, height int) (*Negotiator, error) {
	logical := Size{Width: width, Height: height}
	if !logical.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSize, logical)
	}

	return &Negotiator{
		logical: logical,
		model:   ModelSizeFor(logical),
		output:  logical,
	}, nil
}

// Set updates the logical and model size. When inFlight is true the output
// geometry is left alone and the change is latched until Reconcile.
func (n *Negotiator) Set(width, height int, inFlight bool) error {
	logical := Size{Width: width, Height: height}
	if !logical.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidSize, logical)
	}

	n.logical = logical
	n.model = ModelSizeFor(logical)

	if inFlight {
		n.pending = n.output != logical
		return nil
	}

	n.output = logical
	n.pending = false

	return nil
}

// Reconcile is called at the completed-output boundary. It honors a latched
// size change and returns the geometry the next output must have.
func (n *Negotiator) Reconcile() (out Size, changed bool) {
	if n.pending || n.output != n.logical {
		changed = n.output != n.logical
		n.output = n.logical
		n.pending = false
	}

	return n.output, changed
}

func (n *Negotiator) Logical() Size { return n.logical }

func (n *Negotiator) Model() Size { return n.model }

// Output is the geometry of the most recently delivered output. It lags
// Logical while a size change is pending.
func (n *Negotiator) Output() Size { return n.output }

// Pending reports whether a size change is waiting for the next boundary.
func (n *Negotiator) Pending() bool { return n.pending }
