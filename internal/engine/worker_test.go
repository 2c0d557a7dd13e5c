package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/go-style-transfer/internal/geometry"
)

func TestWorkerProcessesStagedInput(t *testing.T) {
	e := newTestEngine(t, newFakeModel(), 32, 32)

	if err := e.StartWorker(context.Background()); err != nil {
		t.Fatalf("StartWorker: %v", err)
	}
	defer e.StopWorker()

	if err := e.StartWorker(context.Background()); !errors.Is(err, ErrWorkerRunning) {
		t.Fatalf("second StartWorker = %v, want ErrWorkerRunning", err)
	}

	_ = e.SetInput(solid(32, 32, 3, 7))

	var out *Output
	waitFor(t, "output", func() bool {
		var ok bool
		out, ok = e.Poll()
		return ok
	})

	if out.Seq != 1 || out.Pixels.Width != 32 {
		t.Fatalf("output = seq %d, %dx%d", out.Seq, out.Pixels.Width, out.Pixels.Height)
	}

	if err := e.RunBlocking(context.Background()); !errors.Is(err, ErrWorkerRunning) {
		t.Fatalf("RunBlocking with worker = %v, want ErrWorkerRunning", err)
	}
}

func TestWorkerInputDuringFlightFeedsNextCycle(t *testing.T) {
	m := newFakeModel()
	m.hold()
	e := newTestEngine(t, m, 32, 32)

	if err := e.StartWorker(context.Background()); err != nil {
		t.Fatalf("StartWorker: %v", err)
	}
	defer func() {
		close(m.gate)
		e.StopWorker()
	}()

	_ = e.SetInput(solid(32, 32, 3, 0))
	<-m.started

	if got := e.State(); got != Running {
		t.Fatalf("State = %v, want running", got)
	}

	// Staged while the first cycle still reads its snapshot.
	_ = e.SetInput(solid(32, 32, 3, 255))

	m.gate <- struct{}{}
	<-m.started

	first := m.contents[0]
	if first.At(0) != 0 {
		t.Fatalf("in-flight snapshot changed to %v", first.At(0))
	}
	if got := m.lastContent().At(0); got != 1 {
		t.Fatalf("second cycle read %v, want 1", got)
	}

	m.gate <- struct{}{}

	waitFor(t, "second output", func() bool {
		return e.Stats().Cycles == 2
	})
}

func TestSizeChangeDuringFlight(t *testing.T) {
	m := newFakeModel()
	m.hold()
	e := newTestEngine(t, m, 640, 480)

	if err := e.StartWorker(context.Background()); err != nil {
		t.Fatalf("StartWorker: %v", err)
	}
	defer e.StopWorker()

	_ = e.SetInput(solid(640, 480, 3, 90))
	<-m.started

	if err := e.SetSize(320, 240); err != nil {
		t.Fatalf("SetSize: %v", err)
	}

	if got := e.OutputSize(); got != (geometry.Size{Width: 640, Height: 480}) {
		t.Fatalf("OutputSize during flight = %v, want 640x480", got)
	}
	if got := e.LogicalSize(); got != (geometry.Size{Width: 320, Height: 240}) {
		t.Fatalf("LogicalSize = %v, want 320x240", got)
	}
	if got := e.ModelSize(); got != (geometry.Size{Width: 320, Height: 256}) {
		t.Fatalf("ModelSize = %v, want 320x256", got)
	}
	if _, ok := e.Poll(); ok {
		t.Fatal("output visible before the cycle completed")
	}

	close(m.gate)

	var out *Output
	waitFor(t, "output", func() bool {
		var ok bool
		out, ok = e.Poll()
		return ok
	})

	if out.Pixels.Width != 320 || out.Pixels.Height != 240 {
		t.Fatalf("output = %dx%d, want 320x240", out.Pixels.Width, out.Pixels.Height)
	}
	if len(out.Pixels.Pix) != 320*240*3 {
		t.Fatalf("len(pix) = %d, want %d", len(out.Pixels.Pix), 320*240*3)
	}
	if got := e.OutputSize(); got != (geometry.Size{Width: 320, Height: 240}) {
		t.Fatalf("OutputSize after flight = %v", got)
	}
}

func TestStopWorkerWhileRunning(t *testing.T) {
	m := newFakeModel()
	m.hold()
	e := newTestEngine(t, m, 32, 32)

	if err := e.StartWorker(context.Background()); err != nil {
		t.Fatalf("StartWorker: %v", err)
	}

	_ = e.SetInput(solid(32, 32, 3, 1))
	<-m.started

	stopped := make(chan struct{})
	go func() {
		e.StopWorker()
		close(stopped)
	}()

	waitFor(t, "stop request", func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.worker != nil && e.worker.stopping
	})

	close(m.gate)

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("StopWorker did not return")
	}

	if _, ok := e.Poll(); ok {
		t.Fatal("output published after stop")
	}
	if got := e.State(); got == OutputReady || got == Running {
		t.Fatalf("State = %v after stop", got)
	}
	if got := e.Stats().Discarded; got != 1 {
		t.Fatalf("Discarded = %d, want 1", got)
	}

	e.StopWorker()

	// The worker can be started again after a stop.
	m.started, m.gate = nil, nil
	if err := e.StartWorker(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	e.StopWorker()
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	e := newTestEngine(t, newFakeModel(), 32, 32)

	ctx, cancel := context.WithCancel(context.Background())
	if err := e.StartWorker(ctx); err != nil {
		t.Fatalf("StartWorker: %v", err)
	}

	cancel()

	waitCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := e.Wait(waitCtx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	waitFor(t, "worker slot cleared", func() bool {
		return e.StartWorker(context.Background()) == nil
	})
	e.StopWorker()
}

func TestWorkerDoesNotSpinOnFailedInput(t *testing.T) {
	m := newFakeModel()
	m.failNext = errors.New("bad frame")
	e := newTestEngine(t, m, 32, 32)

	if err := e.StartWorker(context.Background()); err != nil {
		t.Fatalf("StartWorker: %v", err)
	}
	defer e.StopWorker()

	_ = e.SetInput(solid(32, 32, 3, 1))

	waitFor(t, "failure", func() bool { return e.Stats().Failures == 1 })
	time.Sleep(20 * time.Millisecond)

	if got := m.inferCalls(); got != 1 {
		t.Fatalf("Infer called %d times, want 1", got)
	}
	if got := e.State(); got != InputStaged {
		t.Fatalf("State = %v, want input-staged", got)
	}

	_ = e.SetInput(solid(32, 32, 3, 2))
	waitFor(t, "output after new input", func() bool {
		_, ok := e.Poll()
		return ok
	})
}
