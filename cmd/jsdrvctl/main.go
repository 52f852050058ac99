// Command jsdrvctl exercises a Frontend from the command line: it
// attaches a mock device, probes liveness with the `@/!echo` topic,
// and logs dispatcher stats on an interval until interrupted. It does
// not provision any buffer.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jsdrv/jsdrv-go"
	"github.com/jsdrv/jsdrv-go/internal/logging"
	"github.com/jsdrv/jsdrv-go/internal/metrics"
)

func main() {
	var (
		prefix     = flag.String("prefix", "d0", "device prefix to attach under")
		model      = flag.String("model", "mock", "device model name to provision")
		verbose    = flag.Bool("v", false, "verbose logging")
		period     = flag.Duration("stats-interval", 2*time.Second, "how often to print dispatcher stats")
		metricAddr = flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090)")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	observer, err := setupObserver(*metricAddr, logger)
	if err != nil {
		log.Fatalf("metrics setup failed: %v", err)
	}

	front, err := jsdrv.Initialize(jsdrv.Options{Logger: logger, Observer: observer, Trace: *verbose})
	if err != nil {
		log.Fatalf("initialize failed: %v", err)
	}

	mock := jsdrv.NewMockDeviceWorker()
	front.RegisterDeviceModel(*model, func() jsdrv.DeviceWorker { return mock })
	if err := front.AddDevice(*prefix, *model); err != nil {
		logger.Error("failed to add device", "error", err)
		os.Exit(1)
	}
	logger.Info("device attached", "prefix", *prefix, "model", *model)

	if err := front.PublishSync("@/!echo", jsdrv.StrValue("jsdrvctl"), 0); err != nil {
		logger.Warn("echo probe failed", "error", err)
	} else {
		logger.Info("echo probe succeeded")
	}

	fmt.Printf("jsdrvctl running, device %s (%s) attached\n", *prefix, *model)
	fmt.Printf("Send SIGUSR1 (kill -USR1 %d) to dump goroutine stacks\n", os.Getpid())
	fmt.Printf("Press Ctrl+C to stop...\n")

	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== GOROUTINE STACK DUMP ===\n%s\n", buf[:n])
			pprof.Lookup("goroutine").WriteTo(os.Stderr, 2)
		}
	}()

	ticker := time.NewTicker(*period)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

loop:
	for {
		select {
		case <-sigCh:
			break loop
		case <-ticker.C:
			stats := front.Stats()
			logger.Info("dispatcher stats",
				"devices", stats.ActiveDevices,
				"buffers", stats.ActiveBuffers,
				"pending_timeouts", stats.PendingTimeouts,
				"iterations", stats.Iterations)
		}
	}

	logger.Info("received shutdown signal")
	done := make(chan struct{})
	go func() {
		_ = front.Finalize()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("finalized cleanly")
	case <-time.After(5 * time.Second):
		logger.Warn("finalize timed out, exiting anyway")
	}
}

// setupObserver wires a Prometheus-backed Observer and starts its
// /metrics endpoint when addr is non-empty; otherwise it returns a
// no-op Observer so running without -metrics-addr costs nothing.
func setupObserver(addr string, logger *logging.Logger) (jsdrv.Observer, error) {
	if addr == "" {
		return metrics.NoOpObserver{}, nil
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics()
	if err := m.Register(reg); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server exited", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return metrics.NewObserver(m), nil
}
