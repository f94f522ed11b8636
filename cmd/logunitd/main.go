// Command logunitd runs the log-unit storage engine as a standalone server:
// the engine itself, a Prometheus exporter, a health-check endpoint, and a
// line-oriented admin/diagnostic TCP surface for append/read/trim/tails.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/corfudb-go/logunit/pkg/adminserver"
	"github.com/corfudb-go/logunit/pkg/config"
	"github.com/corfudb-go/logunit/pkg/engine"
	"github.com/corfudb-go/logunit/pkg/metrics"
	"github.com/corfudb-go/logunit/util"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	fmt.Printf("🚀 Starting logunitd on admin port %d (log dir %s)\n", cfg.AdminPort, cfg.LogDir)
	fmt.Printf("📊 Exporter: %v | 🩺 Health port: %d\n", cfg.EnableExporter, cfg.HealthCheckPort)

	var rec metrics.Recorder
	if cfg.EnableExporter {
		rec, err = metrics.NewGoMetricsRecorder("logunit")
		if err != nil {
			log.Fatalf("❌ Failed to start metrics recorder: %v", err)
		}
		metrics.StartExporter(cfg.ExporterPort)
	} else {
		rec = metrics.Noop
	}

	e, err := engine.Open(cfg, rec)
	if err != nil {
		log.Fatalf("❌ Failed to open log unit at %s: %v", cfg.LogDir, err)
	}

	adminserver.StartHealthCheck(cfg.HealthCheckPort, e)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := adminserver.Run(cfg.AdminPort, e); err != nil {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		util.Info("received signal %v, shutting down", sig)
	case err := <-errCh:
		util.Error("admin server failed: %v", err)
	}

	if err := e.Close(); err != nil {
		log.Fatalf("❌ Failed to close log unit cleanly: %v", err)
	}
	fmt.Println("🛑 logunitd stopped")
}
