package main

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/example/go-style-transfer/internal/config"
	"github.com/example/go-style-transfer/internal/engine"
	"github.com/example/go-style-transfer/internal/server"
)

// startServer runs a real server around an echo engine and returns its address.
func startServer(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	eng, err := engine.New(&echoModel{}, engine.Options{
		Width: 32, Height: 32,
		Inputs:  [][]string{{"c", "s"}},
		Outputs: []string{"o"},
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.New(config.ServerConfig{ListenAddr: addr}, eng, nil).Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-errCh
	})

	for range 50 {
		if server.ProbeHTTP(addr) == nil {
			return addr
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("server never became ready")
	return ""
}

func TestHealthAndStatsCommands(t *testing.T) {
	addr := startServer(t)

	stdout, _, err := execute(t, "health", "--addr", addr)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if strings.TrimSpace(stdout) != "ok" {
		t.Errorf("health stdout = %q", stdout)
	}

	stdout, _, err = execute(t, "stats", "--addr", addr)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	for _, want := range []string{"state", "idle", "32x32", "cycles"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("stats output missing %q:\n%s", want, stdout)
		}
	}
}

func TestHealth_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	if _, _, err := execute(t, "health", "--addr", addr); err == nil {
		t.Fatal("expected error for a closed port")
	}
}

func TestRenderStats_LastError(t *testing.T) {
	var buf bytes.Buffer
	renderStats(&buf, server.StatsReport{State: "input-staged", Failures: 2, LastError: "graph exploded"})

	if !strings.Contains(buf.String(), "graph exploded") || !strings.Contains(buf.String(), "input-staged") {
		t.Errorf("table:\n%s", buf.String())
	}
}

func TestServe_RunsUntilCancelled(t *testing.T) {
	useModel(t, &echoModel{})

	orig := activeCfg
	t.Cleanup(func() { activeCfg = orig })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	root := NewRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{
		"--log-level", "error",
		"--paths-model-location", "fake.onnx",
		"--server-listen-addr", addr,
		"serve",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- root.ExecuteContext(ctx) }()

	ready := false
	for range 100 {
		if server.ProbeHTTP(addr) == nil {
			ready = true
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !ready {
		cancel()
		t.Fatalf("serve never became ready: %v", <-errCh)
	}

	report, err := server.FetchStats(ctx, addr)
	if err != nil {
		t.Fatalf("FetchStats: %v", err)
	}
	if report.Sizes.Logical != "640x480" {
		t.Errorf("logical size = %q", report.Sizes.Logical)
	}

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not shut down")
	}
}
