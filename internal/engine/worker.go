package engine

import "context"

type worker struct {
	// stopping is guarded by Engine.mu.
	stopping bool
	done     chan struct{}
	release  func() bool
}

// StartWorker starts the background consumer. Cancelling ctx has the same
// effect as StopWorker, except that it does not wait for the worker to exit.
func (e *Engine) StartWorker(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.closed:
		return ErrClosed
	case e.worker != nil:
		return ErrWorkerRunning
	case e.running:
		return ErrBusy
	}

	w := &worker{done: make(chan struct{})}
	e.worker = w
	w.release = context.AfterFunc(ctx, func() { e.requestStop(w) })

	go e.workerLoop(context.WithoutCancel(ctx), w)

	e.log.Info("worker started")

	return nil
}

// StopWorker asks the worker to stop and waits for it to exit. A cycle in
// flight is allowed to finish but its result is discarded. Calling it with
// no worker running is a no-op.
func (e *Engine) StopWorker() {
	e.mu.Lock()
	w := e.worker
	e.mu.Unlock()

	if w == nil {
		return
	}

	e.requestStop(w)
	<-w.done
}

// Wait blocks until the worker has exited or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	w := e.worker
	e.mu.Unlock()

	if w == nil {
		return nil
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) requestStop(w *worker) {
	e.mu.Lock()
	defer e.mu.Unlock()

	w.stopping = true
	e.cond.Broadcast()
}

func (e *Engine) workerLoop(ctx context.Context, w *worker) {
	defer close(w.done)
	defer w.release()

	for {
		e.mu.Lock()
		for !w.stopping && !e.closed && (e.input == nil || e.input.failed || e.running) {
			e.cond.Wait()
		}

		if w.stopping || e.closed {
			if e.worker == w {
				e.worker = nil
			}
			e.mu.Unlock()
			e.log.Info("worker stopped")

			return
		}

		j := e.beginLocked()
		e.mu.Unlock()

		if err := e.runCycle(ctx, j, w); err != nil {
			e.log.Warn("inference failed", "error", err)
		}
	}
}
