// Package engine schedules style-transfer inference over a single model.
//
// A producer stages content frames with SetInput and style references with
// SetStyle. Frames are consumed either on the caller's goroutine by
// RunBlocking or by one background worker started with StartWorker. Results
// are picked up with the non-blocking Poll. Staging is latest-wins: a frame
// that is overwritten before a cycle picks it up is dropped, never queued.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/go-style-transfer/internal/binding"
	"github.com/example/go-style-transfer/internal/codec"
	"github.com/example/go-style-transfer/internal/geometry"
	"github.com/example/go-style-transfer/internal/onnx"
)

// Capability is the model the engine drives. Configure is only called while
// resolving the binding; Infer runs one content/style pair through the graph.
type Capability interface {
	binding.Configurer
	Infer(ctx context.Context, content, style *onnx.Tensor) (*onnx.Tensor, error)
}

// State is derived from the staging cells, highest priority first:
// Running, OutputReady, InputStaged, Idle.
type State int

const (
	Idle State = iota
	InputStaged
	Running
	OutputReady
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case InputStaged:
		return "input-staged"
	case Running:
		return "running"
	case OutputReady:
		return "output-ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Output is one completed result. The caller owns Pixels until it hands the
// output back with Recycle.
type Output struct {
	ID       uuid.UUID
	Seq      uint64
	Pixels   codec.Pixels
	Duration time.Duration
}

// Stats are cumulative counters since construction.
type Stats struct {
	Cycles        uint64
	Failures      uint64
	InputDrops    uint64
	UnreadDrops   uint64
	Discarded     uint64
	LastInference time.Duration
	LastError     error
}

type Options struct {
	Width  int
	Height int

	// Inputs holds candidate (content, style) slot name pairs, Outputs the
	// candidate output names. Both are tried in order.
	Inputs  [][]string
	Outputs []string

	// OnReject observes every rejected binding attempt.
	OnReject func(binding.Attempt)
	Logger   *slog.Logger
}

type staged struct {
	tensor *onnx.Tensor
	seq    uint64
	// failed marks an input put back after a failed cycle. The worker does
	// not retry it on its own; RunBlocking or a fresh SetInput does.
	failed bool
}

// Engine is safe for one producer and one consumer. All exported methods
// may be called concurrently.
type Engine struct {
	model   Capability
	binding binding.Binding
	log     *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	size    *geometry.Negotiator
	input   *staged
	style   *onnx.Tensor
	pending *Output
	running bool
	closed  bool
	nextSeq uint64
	worker  *worker
	stats   Stats

	buffers sync.Pool
}

// New resolves the binding against model and returns an idle engine. The
// style starts as an all-black image until SetStyle is called.
func New(model Capability, opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	size, err := geometry.NewNegotiator(opts.Width, opts.Height)
	if err != nil {
		return nil, &SetupError{Stage: StageSize, Err: err}
	}

	resolver, err := binding.NewResolver(opts.Inputs, opts.Outputs)
	if err != nil {
		return nil, &SetupError{Stage: StageBinding, Err: err}
	}
	resolver.OnReject = opts.OnReject
	resolver.Logger = logger

	b, err := resolver.Resolve(model)
	if err != nil {
		return nil, &SetupError{Stage: StageBinding, Err: err}
	}

	style, err := onnx.NewZeroTensor([]int64{1, int64(geometry.StyleSize.Height), int64(geometry.StyleSize.Width), 3})
	if err != nil {
		return nil, &SetupError{Stage: StageSize, Err: err}
	}

	e := &Engine{
		model:   model,
		binding: b,
		log:     logger.With("component", "engine"),
		size:    size,
		style:   style,
	}
	e.cond = sync.NewCond(&e.mu)

	e.log.Info("engine ready",
		"binding", b.String(),
		"logical", size.Logical().String(),
		"model", size.Model().String(),
	)

	return e, nil
}

// Binding returns the slot names committed at construction.
func (e *Engine) Binding() binding.Binding {
	return e.binding
}

// SetInput converts p to the current model size and stages it, replacing
// any input that has not been consumed yet. On error the staged input is
// left unchanged.
func (e *Engine) SetInput(p codec.Pixels) error {
	e.mu.Lock()
	target := e.size.Model()
	e.mu.Unlock()

	for {
		t, err := codec.ToTensor(p, target)
		if err != nil {
			return fmt.Errorf("set input: %w", err)
		}

		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return ErrClosed
		}

		// The model size moved while converting; convert again.
		if current := e.size.Model(); current != target {
			target = current
			e.mu.Unlock()

			continue
		}

		if e.input != nil && !e.input.failed {
			e.stats.InputDrops++
		}

		e.nextSeq++
		e.input = &staged{tensor: t, seq: e.nextSeq}
		e.cond.Broadcast()
		e.mu.Unlock()

		return nil
	}
}

// SetStyle converts p to the fixed style size and stores it for every
// following cycle. It never starts a cycle.
func (e *Engine) SetStyle(p codec.Pixels) error {
	t, err := codec.ToTensor(p, geometry.StyleSize)
	if err != nil {
		return fmt.Errorf("set style: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}

	e.style = t

	return nil
}

// RunBlocking runs one cycle on the caller's goroutine using the staged
// input and style.
func (e *Engine) RunBlocking(ctx context.Context) error {
	e.mu.Lock()
	switch {
	case e.closed:
		e.mu.Unlock()
		return ErrClosed
	case e.worker != nil:
		e.mu.Unlock()
		return ErrWorkerRunning
	case e.running:
		e.mu.Unlock()
		return ErrBusy
	case e.input == nil:
		e.mu.Unlock()
		return ErrNoInput
	}

	job := e.beginLocked()
	e.mu.Unlock()

	return e.runCycle(ctx, job, nil)
}

// Poll hands over the latest unread output, if any. A second call without
// an intervening completed cycle returns false.
func (e *Engine) Poll() (*Output, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := e.pending
	e.pending = nil

	return out, out != nil
}

// Recycle returns an output's pixel buffer for reuse. The output must not
// be read afterwards.
func (e *Engine) Recycle(out *Output) {
	if out == nil || out.Pixels.Pix == nil {
		return
	}

	pix := out.Pixels.Pix[:0]
	out.Pixels.Pix = nil
	e.buffers.Put(&pix)
}

func (e *Engine) buffer() []uint8 {
	if p, ok := e.buffers.Get().(*[]uint8); ok {
		return *p
	}

	return nil
}

// SetSize changes the logical size. While a cycle is in flight the output
// geometry keeps its old value until that cycle completes.
func (e *Engine) SetSize(width, height int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.size.Set(width, height, e.running); err != nil {
		return err
	}

	e.log.Debug("size changed",
		"logical", e.size.Logical().String(),
		"model", e.size.Model().String(),
		"deferred", e.size.Pending(),
	)

	return nil
}

func (e *Engine) LogicalSize() geometry.Size {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.size.Logical()
}

func (e *Engine) ModelSize() geometry.Size {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.size.Model()
}

// OutputSize is the geometry of the next published output. It lags
// LogicalSize while a size change waits for an in-flight cycle.
func (e *Engine) OutputSize() geometry.Size {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.size.Output()
}

// State reports a single state when several hold at once, in the order
// Running, OutputReady, InputStaged. An unread output with a newer frame
// already staged reads as OutputReady.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.running:
		return Running
	case e.pending != nil:
		return OutputReady
	case e.input != nil:
		return InputStaged
	default:
		return Idle
	}
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.stats
}

// Close stops the worker and releases the model when it implements
// io.Closer. Safe to call multiple times.
func (e *Engine) Close() error {
	e.StopWorker()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}

	e.closed = true
	e.input = nil
	e.pending = nil
	e.cond.Broadcast()
	e.mu.Unlock()

	if c, ok := e.model.(io.Closer); ok {
		return c.Close()
	}

	return nil
}
