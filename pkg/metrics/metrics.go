// Package metrics adapts the teacher's Prometheus-exporter pattern
// (broker_messages_processed_total, a histogram per message, a gauge per
// queue) to the log unit's own signals: write throughput, quota usage,
// segment count, and trim mark, fed through a hashicorp/go-metrics sink so
// the instrumentation layer never talks to Prometheus directly.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	gometrics "github.com/hashicorp/go-metrics"
	gmprometheus "github.com/hashicorp/go-metrics/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the narrow surface pkg/engine depends on, so the engine never
// imports a concrete metrics backend.
type Recorder interface {
	RecordAppend(bytes int, elapsed time.Duration)
	RecordOverwrite(cause string)
	RecordQuotaUsage(used, limit int64)
	RecordSegmentCount(n int)
	RecordTrimMark(addr uint64)
}

type noopRecorder struct{}

func (noopRecorder) RecordAppend(int, time.Duration) {}
func (noopRecorder) RecordOverwrite(string)          {}
func (noopRecorder) RecordQuotaUsage(int64, int64)   {}
func (noopRecorder) RecordSegmentCount(int)          {}
func (noopRecorder) RecordTrimMark(uint64)           {}

// Noop is the do-nothing Recorder, used by tests and by callers that run
// with the exporter disabled.
var Noop Recorder = noopRecorder{}

// goMetricsRecorder reports every signal through the process-wide
// hashicorp/go-metrics sink installed by NewGoMetricsRecorder.
type goMetricsRecorder struct{}

// NewGoMetricsRecorder installs a global hashicorp/go-metrics sink backed by
// a Prometheus registry and returns a Recorder that feeds it. serviceName
// becomes the metric namespace prefix.
func NewGoMetricsRecorder(serviceName string) (Recorder, error) {
	sink, err := gmprometheus.NewPrometheusSink()
	if err != nil {
		return nil, fmt.Errorf("metrics: create prometheus sink: %w", err)
	}
	cfg := gometrics.DefaultConfig(serviceName)
	cfg.EnableHostname = false
	cfg.EnableRuntimeMetrics = false
	if _, err := gometrics.NewGlobal(cfg, sink); err != nil {
		return nil, fmt.Errorf("metrics: install global sink: %w", err)
	}
	return goMetricsRecorder{}, nil
}

func (goMetricsRecorder) RecordAppend(bytes int, elapsed time.Duration) {
	gometrics.IncrCounter([]string{"append", "total"}, 1)
	gometrics.IncrCounter([]string{"append", "bytes"}, float32(bytes))
	gometrics.AddSample([]string{"append", "latency_ms"}, float32(elapsed.Milliseconds()))
}

func (goMetricsRecorder) RecordOverwrite(cause string) {
	gometrics.IncrCounter([]string{"overwrite", cause}, 1)
}

func (goMetricsRecorder) RecordQuotaUsage(used, limit int64) {
	gometrics.SetGauge([]string{"quota", "used_bytes"}, float32(used))
	if limit > 0 {
		gometrics.SetGauge([]string{"quota", "limit_bytes"}, float32(limit))
	}
}

func (goMetricsRecorder) RecordSegmentCount(n int) {
	gometrics.SetGauge([]string{"segments", "open"}, float32(n))
}

func (goMetricsRecorder) RecordTrimMark(addr uint64) {
	gometrics.SetGauge([]string{"trim_mark"}, float32(addr))
}

// StartExporter serves the Prometheus /metrics endpoint on port, mirroring
// the teacher's StartMetricsServer.
func StartExporter(port int) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", port)
		fmt.Println("[METRICS] Prometheus exporter listening on", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			fmt.Printf("[METRICS] failed to start metrics server: %v\n", err)
		}
	}()
}
