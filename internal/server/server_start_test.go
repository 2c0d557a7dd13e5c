package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/example/go-style-transfer/internal/config"
	"github.com/example/go-style-transfer/internal/engine"
	"github.com/example/go-style-transfer/internal/onnx"
)

type nopModel struct{}

func (nopModel) Configure(_, _, _ string) error { return nil }

func (nopModel) Infer(_ context.Context, content, _ *onnx.Tensor) (*onnx.Tensor, error) {
	return content, nil
}

func TestStart_LifecycleHealthAndShutdown(t *testing.T) {
	// Find an available port.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	addr := ln.Addr().String()
	ln.Close() // free it for the server

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	eng, err := engine.New(nopModel{}, engine.Options{
		Width: 32, Height: 32,
		Inputs:  [][]string{{"c", "s"}},
		Outputs: []string{"o"},
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	defer eng.Close()

	cfg := config.DefaultConfig().Server
	cfg.ListenAddr = addr

	s := New(cfg, eng, logger).WithShutdownTimeout(2 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)

	go func() {
		errCh <- s.Start(ctx)
	}()

	// Wait for the server to be ready.
	client := &http.Client{Timeout: 2 * time.Second}

	var resp *http.Response

	for range 50 {
		resp, err = client.Get(fmt.Sprintf("http://%s/health", addr))
		if err == nil {
			break
		}

		time.Sleep(20 * time.Millisecond)
	}

	if err != nil {
		t.Fatalf("server never became ready: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("health = %v", body)
	}

	if err := ProbeHTTP(addr); err != nil {
		t.Fatalf("ProbeHTTP: %v", err)
	}

	report, err := FetchStats(ctx, addr)
	if err != nil {
		t.Fatalf("FetchStats: %v", err)
	}
	if report.State != "idle" || report.Sizes.Logical != "32x32" {
		t.Fatalf("stats = %+v", report)
	}

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Start returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestStart_ListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	cfg := config.ServerConfig{ListenAddr: ln.Addr().String()}
	s := New(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected listen error on a busy port")
	}
}

func TestNew_ShutdownTimeoutFromConfig(t *testing.T) {
	s := New(config.ServerConfig{ShutdownTimeout: 7}, nil, nil)
	if s.shutdownTimeout != 7*time.Second {
		t.Fatalf("shutdownTimeout = %v", s.shutdownTimeout)
	}

	s = New(config.ServerConfig{}, nil, nil)
	if s.shutdownTimeout != 30*time.Second {
		t.Fatalf("default shutdownTimeout = %v", s.shutdownTimeout)
	}
}

func TestDialAddr(t *testing.T) {
	tests := map[string]string{
		":8080":          "127.0.0.1:8080",
		"localhost:9000": "localhost:9000",
		"10.0.0.2:80":    "10.0.0.2:80",
	}

	for in, want := range tests {
		if got := dialAddr(in); got != want {
			t.Errorf("dialAddr(%q) = %q, want %q", in, got, want)
		}
	}
}
