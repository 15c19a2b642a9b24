// agentkerneld is the standalone process for the micro-kernel described by
// spec 6: it binds the IPC boundary's framed TCP listener, runs the periodic
// cleanup loop, and exposes a small chi-routed debug HTTP surface
// (/healthz, /metrics) for operators.
//
// Usage:
//
//	go run ./cmd/agentkerneld                 # binds :7712, debug HTTP on :9712
//	go run ./cmd/agentkerneld -ipc :8080      # custom IPC address
//	go build -o agentkerneld ./cmd/agentkerneld && ./agentkerneld
//
// Exit codes (spec 6.5): 0 clean shutdown, 1 fatal configuration error,
// 2 bind/port failure, 3 unrecoverable internal error.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	busp "github.com/jeeves-cluster-organization/agentkernel/internal/bus"
	"github.com/jeeves-cluster-organization/agentkernel/internal/cleanup"
	"github.com/jeeves-cluster-organization/agentkernel/internal/config"
	"github.com/jeeves-cluster-organization/agentkernel/internal/envelope"
	"github.com/jeeves-cluster-organization/agentkernel/internal/ipc"
	"github.com/jeeves-cluster-organization/agentkernel/internal/kernel"
	"github.com/jeeves-cluster-organization/agentkernel/internal/klog"
	"github.com/jeeves-cluster-organization/agentkernel/internal/orchestrator"
)

const (
	exitOK = iota
	exitConfigError
	exitBindFailure
	exitInternalError
)

func main() {
	os.Exit(run())
}

func run() int {
	ipcAddr := flag.String("ipc", "", "IPC boundary bind address (default from config)")
	debugAddr := flag.String("debug-addr", ":9712", "debug HTTP bind address (/healthz, /metrics)")
	flag.Parse()

	log, err := klog.New()
	if err != nil {
		os.Stderr.WriteString("agentkerneld: failed to initialize logger: " + err.Error() + "\n")
		return exitConfigError
	}

	cfg := config.DefaultKernelConfig()
	if *ipcAddr != "" {
		cfg.IPC.Address = *ipcAddr
	}

	log.Info("agentkerneld_starting", "ipc_address", cfg.IPC.Address, "debug_address", *debugAddr)

	k := kernel.New(kernel.RateLimitWindowConfig{
		RPM:   int64(cfg.RateLimit.RPM),
		RPH:   int64(cfg.RateLimit.RPH),
		Burst: int64(cfg.RateLimit.Burst),
	})
	orch := orchestrator.New(k, log.Bind("component", "orchestrator"))
	envs := envelope.NewStore()
	bus := busp.New(5*time.Second, log.Bind("component", "bus"))
	bus.AddMiddleware(busp.NewLoggingMiddleware(log.Bind("component", "bus")))

	dispatcher := ipc.NewDispatcher(k, orch, envs, bus, log.Bind("component", "dispatcher"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cleanupLoop := cleanup.New(k, orch, cfg.Cleanup, log.Bind("component", "cleanup"))
	stopCleanup := cleanupLoop.Start(ctx)
	defer stopCleanup()

	ipcServer := ipc.NewServer(cfg.IPC, dispatcher, log.Bind("component", "ipc"))
	ipcErrCh := make(chan error, 1)
	go func() {
		ipcErrCh <- ipcServer.Start(ctx)
	}()

	debugServer := newDebugServer(*debugAddr, k)
	debugErrCh := make(chan error, 1)
	go func() {
		debugErrCh <- debugServer.ListenAndServe()
	}()

	log.Info("agentkerneld_ready", "ipc_address", cfg.IPC.Address, "debug_address", *debugAddr)

	select {
	case <-ctx.Done():
		log.Info("shutdown_signal_received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = debugServer.Shutdown(shutdownCtx)
		<-ipcErrCh
		log.Info("agentkerneld_stopped")
		return exitOK

	case err := <-ipcErrCh:
		if errors.Is(err, context.Canceled) {
			return exitOK
		}
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			log.Error("ipc_bind_failed", "error", err.Error())
			return exitBindFailure
		}
		log.Error("ipc_server_failed", "error", err.Error())
		return exitInternalError

	case err := <-debugErrCh:
		if errors.Is(err, http.ErrServerClosed) {
			return exitOK
		}
		log.Error("debug_server_failed", "error", err.Error())
		return exitBindFailure
	}
}

func newDebugServer(addr string, k *kernel.Kernel) *http.Server {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		status := k.GetSystemStatus()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(statusJSON(status)))
	})
	r.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func statusJSON(status kernel.SystemStatus) string {
	b, err := json.Marshal(status)
	if err != nil {
		return `{"error":"failed to marshal status"}`
	}
	return string(b)
}
