package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/example/go-style-transfer/internal/codec"
	"github.com/example/go-style-transfer/internal/onnx"
)

type job struct {
	input *staged
	style *onnx.Tensor
}

// beginLocked snapshots the staged input and style and marks the engine
// running. The slots only hold immutable tensors, so the producer can stage
// the next frame while this one is read.
func (e *Engine) beginLocked() job {
	j := job{input: e.input, style: e.style}
	e.input = nil
	e.running = true

	return j
}

// runCycle is shared by RunBlocking and the worker. w is nil on the
// blocking path.
func (e *Engine) runCycle(ctx context.Context, j job, w *worker) error {
	start := time.Now()
	result, err := e.model.Infer(ctx, j.input.tensor, j.style)
	elapsed := time.Since(start)

	if err != nil {
		return e.fail(j, err)
	}

	// The output buffer takes its new geometry here, before anything is
	// written to it and before the result is visible to Poll.
	e.mu.Lock()
	size, changed := e.size.Reconcile()
	e.mu.Unlock()

	if changed {
		e.log.Debug("output size reconciled", "output", size.String())
	}

	pix := codec.Pixels{Width: size.Width, Height: size.Height, Channels: 3, Pix: e.buffer()}
	if err := codec.FromTensorInto(result, &pix); err != nil {
		e.Recycle(&Output{Pixels: pix})
		return e.fail(j, err)
	}

	out := &Output{
		ID:       uuid.New(),
		Seq:      j.input.seq,
		Pixels:   pix,
		Duration: elapsed,
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.running = false
	e.stats.LastInference = elapsed
	e.cond.Broadcast()

	if e.closed || (w != nil && w.stopping) {
		e.stats.Discarded++
		e.Recycle(out)
		e.log.Debug("discarded result after stop", "seq", out.Seq)

		return nil
	}

	if e.pending != nil {
		e.stats.UnreadDrops++
		e.Recycle(e.pending)
	}

	e.pending = out
	e.stats.Cycles++

	return nil
}

// fail puts the consumed input back unless a newer one was staged in the
// meantime, so the engine reads as InputStaged again.
func (e *Engine) fail(j job, cause error) error {
	err := &InferenceError{Seq: j.input.seq, Err: cause}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.running = false
	e.stats.Failures++
	e.stats.LastError = err

	if e.input == nil && !e.closed {
		e.input = &staged{tensor: j.input.tensor, seq: j.input.seq, failed: true}
	}

	e.cond.Broadcast()

	return err
}
