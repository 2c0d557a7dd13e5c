package server_test

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/example/go-style-transfer/internal/server"
)

// capturingHandler captures all slog records during a test.
type capturingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (c *capturingHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }
func (c *capturingHandler) Handle(_ context.Context, r slog.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, r)
	return nil
}
func (c *capturingHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return c }
func (c *capturingHandler) WithGroup(name string) slog.Handler       { return c }

func (c *capturingHandler) find(msg string) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range c.records {
		if r.Message != msg {
			continue
		}
		m := make(map[string]any)
		r.Attrs(func(a slog.Attr) bool {
			m[a.Key] = a.Value.Any()
			return true
		})
		return m, true
	}
	return nil, false
}

func TestStyle_LogsDimensions(t *testing.T) {
	capture := &capturingHandler{}
	h := server.NewHandler(newTestEngine(t, 32, 32), server.WithLogger(slog.New(capture)))

	rec := serve(h, http.MethodPost, "/style", pngBody(t, 12, 7, 3))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("want 204, got %d", rec.Code)
	}

	attrs, ok := capture.find("style updated")
	if !ok {
		t.Fatal("want a 'style updated' record")
	}
	if attrs["width"] != int64(12) || attrs["height"] != int64(7) {
		t.Fatalf("attrs = %v", attrs)
	}
}

func TestSize_LogsRejection(t *testing.T) {
	capture := &capturingHandler{}
	h := server.NewHandler(newTestEngine(t, 32, 32), server.WithLogger(slog.New(capture)))

	serve(h, http.MethodPut, "/size", strings.NewReader(`{"width":-1,"height":5}`))

	attrs, ok := capture.find("set size failed")
	if !ok {
		t.Fatal("want a 'set size failed' record")
	}
	if !strings.Contains(attrs["error"].(string), "size must be positive") {
		t.Fatalf("error attr = %v", attrs["error"])
	}
}
